package authorization

import (
	"net/http"
	"testing"

	"github.com/smallbiznis/gatekeeper/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuthorizer(t *testing.T) *Authorizer {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)
	return NewAuthorizer(enforcer, zap.NewNop())
}

func TestAuthorizeMatchesRouteAndMethod(t *testing.T) {
	a := newTestAuthorizer(t)

	cases := []struct {
		name    string
		granted []string
		path    string
		method  string
		want    bool
	}{
		{"exact permission", []string{"rbac:read"}, "/admin/users/123/permissions", http.MethodGet, true},
		{"wrong method", []string{"rbac:read"}, "/admin/users/123/permissions", http.MethodPost, false},
		{"insufficient", []string{"rbac:read"}, "/admin/users/123/roles", http.MethodPost, false},
		{"resource wildcard", []string{"rbac:*"}, "/admin/roles/editor/permissions/docs:read", http.MethodDelete, true},
		{"global wildcard", []string{"*"}, "/admin/users/1/deactivate", http.MethodPost, true},
		{"any of several", []string{"docs:read", "users:write"}, "/admin/users", http.MethodPost, true},
		{"no permissions", nil, "/admin/users", http.MethodPost, false},
		{"unmapped route", []string{"*"}, "/admin/secrets", http.MethodGet, false},
		{"lowercase method", []string{"audit:read"}, "/admin/audit-logs", "get", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := a.Authorize(tc.granted, tc.path, tc.method)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestRequired(t *testing.T) {
	a := newTestAuthorizer(t)
	assert.Equal(t, []string{PermissionRBACWrite}, a.Required("/admin/users/9/roles", http.MethodPost))
	assert.Empty(t, a.Required("/admin/nothing", http.MethodGet))
}

func TestSeedIsIdempotent(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	first, err := NewEnforcer(conn)
	require.NoError(t, err)
	before, err := first.GetPolicy()
	require.NoError(t, err)

	second, err := NewEnforcer(conn)
	require.NoError(t, err)
	after, err := second.GetPolicy()
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.Len(t, after, len(routePolicies))
}
