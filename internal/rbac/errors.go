package rbac

import "errors"

var (
	ErrRoleNotFound       = errors.New("role_not_found")
	ErrPermissionNotFound = errors.New("permission_not_found")
	ErrInvalidName        = errors.New("invalid_name")
	ErrRoleExists         = errors.New("role_exists")
)
