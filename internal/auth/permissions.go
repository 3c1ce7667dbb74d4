package auth

import "slices"

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermUserRead   Permission = "user:read"
	PermUserManage Permission = "user:manage"
	PermRoleManage Permission = "role:manage"
	PermAuditRead  Permission = "audit:read"
)

// PermissionsForRole returns all permissions granted to a role.
// This is the single source of truth for the authorisation model.
func PermissionsForRole(role Role) []Permission {
	switch role {
	case RoleUnverified:
		return nil
	case RoleViewer:
		return []Permission{PermUserRead}
	case RoleAdmin:
		return []Permission{PermUserRead, PermUserManage, PermRoleManage, PermAuditRead}
	default:
		return nil
	}
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(PermissionsForRole(role), perm)
}
