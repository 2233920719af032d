package auth

const (
	PermUsersRead   = "users.read"
	PermUsersWrite  = "users.write"
	PermRolesAssign = "roles.assign"
	PermAuditRead   = "audit.read"
	PermAuditWrite  = "audit.write"
)

// BuiltinPermissions lists the permissions the API checks, with the IDs the
// default seed assigns them.
var BuiltinPermissions = []Permission{
	{ID: "perm-users-read", Name: PermUsersRead},
	{ID: "perm-users-write", Name: PermUsersWrite},
	{ID: "perm-roles-assign", Name: PermRolesAssign},
	{ID: "perm-audit-read", Name: PermAuditRead},
	{ID: "perm-audit-write", Name: PermAuditWrite},
}

func builtinPermission(name string) Permission {
	if name == PermissionWildcard {
		return Permission{ID: "perm-all", Name: PermissionWildcard}
	}
	for _, p := range BuiltinPermissions {
		if p.Name == name {
			return p
		}
	}
	return Permission{Name: name}
}
