package rbac

import (
	"slices"
	"strings"
)

// Role names with a fixed privilege priority.
const (
	RoleSuperAdmin  = "super_admin"
	RoleAdmin       = "admin"
	RoleTenantAdmin = "tenant_admin"
	RoleManager     = "manager"
	RoleSupervisor  = "supervisor"
	RoleEmployee    = "employee"
	RoleUser        = "user"
)

// PermissionImpersonateUsers allows starting an impersonation session.
const PermissionImpersonateUsers = "impersonate_users"

var priorities = map[string]int{
	RoleSuperAdmin:  100,
	RoleAdmin:       80,
	RoleTenantAdmin: 60,
	RoleManager:     40,
	RoleSupervisor:  30,
	RoleEmployee:    10,
	RoleUser:        5,
}

// NormalizeRole lowercases role and maps "-" and " " to "_", so "Super-Admin" and "super admin"
// resolve to RoleSuperAdmin.
func NormalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	return strings.NewReplacer("-", "_", " ", "_").Replace(r)
}

// Priority returns the priority of role. Unknown roles are 0.
func Priority(role string) int {
	return priorities[NormalizeRole(role)]
}

// HighestPriority returns the maximum priority across roles, or 0 when roles is empty.
func HighestPriority(roles []string) int {
	best := 0
	for _, r := range roles {
		if p := Priority(r); p > best {
			best = p
		}
	}
	return best
}

// HasRole reports whether roles contains role after normalization.
func HasRole(roles []string, role string) bool {
	want := NormalizeRole(role)
	return slices.ContainsFunc(roles, func(r string) bool { return NormalizeRole(r) == want })
}

// HasPermission reports whether perms contains perm (case-insensitive).
func HasPermission(perms []string, perm string) bool {
	return slices.ContainsFunc(perms, func(p string) bool { return strings.EqualFold(strings.TrimSpace(p), perm) })
}

// IsProtected reports whether roles include a role that can never be impersonated.
func IsProtected(roles []string) bool {
	return HasRole(roles, RoleSuperAdmin)
}
