package authorization

import "net/http"

const (
	PermissionRBACRead   = "rbac:read"
	PermissionRBACWrite  = "rbac:write"
	PermissionUsersWrite = "users:write"
	PermissionAuditRead  = "audit:read"
)

// routePolicies maps each protected route to the permission it requires.
// A route missing from this table is denied to everyone.
var routePolicies = [][]string{
	{PermissionRBACRead, "/admin/users/:id/permissions", http.MethodGet},
	{PermissionRBACWrite, "/admin/users/:id/roles", http.MethodPost},
	{PermissionRBACWrite, "/admin/users/:id/roles/:role", http.MethodDelete},
	{PermissionRBACWrite, "/admin/roles", http.MethodPost},
	{PermissionRBACWrite, "/admin/roles/:role/permissions", http.MethodPost},
	{PermissionRBACWrite, "/admin/roles/:role/permissions/:permission", http.MethodDelete},
	{PermissionUsersWrite, "/admin/users", http.MethodPost},
	{PermissionUsersWrite, "/admin/users/:id/deactivate", http.MethodPost},
	{PermissionAuditRead, "/admin/audit-logs", http.MethodGet},
}
