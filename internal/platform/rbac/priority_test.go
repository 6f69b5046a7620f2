package rbac

import "testing"

func TestPriority(t *testing.T) {
	cases := map[string]int{
		"super_admin":  100,
		"Super-Admin":  100,
		"admin":        80,
		"tenant admin": 60,
		"manager":      40,
		"supervisor":   30,
		"employee":     10,
		"user":         5,
		"contractor":   0,
		"":             0,
	}
	for role, want := range cases {
		if got := Priority(role); got != want {
			t.Errorf("Priority(%q) = %d, want %d", role, got, want)
		}
	}
}

func TestHighestPriority(t *testing.T) {
	if got := HighestPriority([]string{"employee", "manager", "unknown"}); got != 40 {
		t.Errorf("HighestPriority = %d, want 40", got)
	}
	if got := HighestPriority(nil); got != 0 {
		t.Errorf("HighestPriority(nil) = %d, want 0", got)
	}
}

func TestHasRoleAndPermission(t *testing.T) {
	roles := []string{"Tenant-Admin"}
	if !HasRole(roles, RoleTenantAdmin) {
		t.Error("HasRole should normalize role names")
	}
	if HasRole(roles, RoleAdmin) {
		t.Error("HasRole matched a different role")
	}
	if !HasPermission([]string{"Impersonate_Users"}, PermissionImpersonateUsers) {
		t.Error("HasPermission should be case-insensitive")
	}
	if !IsProtected([]string{"user", "super_admin"}) {
		t.Error("super_admin must be protected")
	}
	if IsProtected([]string{"admin"}) {
		t.Error("admin must not be protected")
	}
}
