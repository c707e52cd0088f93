package rbac

import (
	"strings"
	"time"
)

// Role codes provisioned by the catalog.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleViewer     = "viewer"
)

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64
	Code        string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability named module.action.
type Permission struct {
	ID          int64
	Code        string
	Description string
}

// Module returns the part before the first dot.
func (p Permission) Module() string {
	module, _ := splitCode(p.Code)
	return module
}

// Action returns the part after the first dot.
func (p Permission) Action() string {
	_, action := splitCode(p.Code)
	return action
}

// Assignment ties a permission to a role.
type Assignment struct {
	RoleCode       string
	PermissionCode string
}

// RoleWithPermissions is the read model served to clients.
type RoleWithPermissions struct {
	Role        Role
	Permissions []string
}

func splitCode(code string) (string, string) {
	module, action, found := strings.Cut(code, ".")
	if !found {
		return code, ""
	}
	return module, action
}
