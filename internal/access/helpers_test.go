package access

import "gatehouse.org/internal/auth"

func ptr[T any](v T) *T { return &v }

type userOpt func(*auth.User)

func withLevel(l int) userOpt        { return func(u *auth.User) { u.Level = ptr(l) } }
func withDepartment(d string) userOpt { return func(u *auth.User) { u.Department = ptr(d) } }
func withRegion(r string) userOpt     { return func(u *auth.User) { u.Region = ptr(r) } }

func newUser(id, role string, perms []string, opts ...userOpt) *auth.User {
	u := &auth.User{ID: id, Email: id + "@example.com", Name: id}
	if role != "" {
		r := &auth.Role{ID: "role-" + role, Name: role}
		for _, p := range perms {
			r.Permissions = append(r.Permissions, auth.Permission{ID: "perm-" + p, Name: p})
		}
		u.Role = r
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func superAdmin() *auth.User {
	return newUser("root", auth.RoleSuperAdmin, nil)
}
