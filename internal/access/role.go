package access

import "gatehouse.org/internal/auth"

// Hierarchy maps role names to their rank. Higher ranks outrank lower ones.
type Hierarchy map[string]int

// DefaultHierarchy is used when no hierarchy is configured.
var DefaultHierarchy = Hierarchy{
	auth.RoleSuperAdmin: 100,
	"ADMIN":             80,
	"MANAGER":           60,
	"EDITOR":            40,
	"USER":              20,
	"GUEST":             10,
}

// Level returns the rank of role; unknown roles rank 0.
func (h Hierarchy) Level(role string) int {
	return h[role]
}

// IsSuperAdmin reports whether u holds the SUPER_ADMIN role.
func IsSuperAdmin(u *auth.User) bool {
	return u != nil && u.IsSuperAdmin()
}

// HasRole reports whether u's single role is one of roles.
func HasRole(u *auth.User, roles ...string) bool {
	if u == nil {
		return false
	}
	if u.IsSuperAdmin() {
		return true
	}
	name := u.RoleName()
	if name == "" {
		return false
	}
	for _, r := range roles {
		if r == name {
			return true
		}
	}
	return false
}

// HasRoleAtLeast reports whether u's role ranks at or above role in h.
func HasRoleAtLeast(u *auth.User, role string, h Hierarchy) bool {
	if u == nil {
		return false
	}
	if u.IsSuperAdmin() {
		return true
	}
	if u.RoleName() == "" {
		return false
	}
	return h.Level(u.RoleName()) >= h.Level(role)
}

// CanAssignRole reports whether assigner may grant target. Nobody can grant
// a role ranked above their own unless they are a super-admin.
func CanAssignRole(assigner *auth.User, target string, h Hierarchy) bool {
	if assigner == nil || target == "" {
		return false
	}
	if assigner.IsSuperAdmin() {
		return true
	}
	if assigner.RoleName() == "" {
		return false
	}
	if target == auth.RoleSuperAdmin {
		return false
	}
	return h.Level(assigner.RoleName()) >= h.Level(target)
}
