// Package access evaluates permission, role and attribute requirements
// against users and composes them into policies.
//
// Checks are pure functions of the user record. The Enforcer layers audit
// logging and error-returning semantics on top of them.
package access

import "gatehouse.org/internal/auth"

// HasPermission reports whether the user's role grants name. The wildcard
// permission and the SUPER_ADMIN role grant everything.
func HasPermission(u *auth.User, name string) bool {
	if u == nil {
		return false
	}
	if u.IsSuperAdmin() {
		return true
	}
	return u.Role.Grants(name)
}

// HasAllPermissions reports whether every name is granted. An empty list passes.
func HasAllPermissions(u *auth.User, names ...string) bool {
	if u == nil {
		return false
	}
	for _, name := range names {
		if !HasPermission(u, name) {
			return false
		}
	}
	return true
}

// HasAnyPermission reports whether at least one name is granted. An empty
// list passes only for super-admins.
func HasAnyPermission(u *auth.User, names ...string) bool {
	if u == nil {
		return false
	}
	if u.IsSuperAdmin() {
		return true
	}
	for _, name := range names {
		if HasPermission(u, name) {
			return true
		}
	}
	return false
}

// MissingPermissions returns the names from the list the user lacks.
func MissingPermissions(u *auth.User, names ...string) []string {
	var missing []string
	for _, name := range names {
		if !HasPermission(u, name) {
			missing = append(missing, name)
		}
	}
	return missing
}
