package access

// RequirePermissions requires every listed permission.
func RequirePermissions(perms ...string) Policy {
	return Policy{Permissions: perms, RequireAll: true}
}

// RequireAnyPermission requires at least one listed permission.
func RequireAnyPermission(perms ...string) Policy {
	return Policy{Permissions: perms}
}

// RequireRoles requires one of the listed roles.
func RequireRoles(roles ...string) Policy {
	return Policy{Roles: roles, RequireAll: true}
}

// RequireLevel requires a minimum level.
func RequireLevel(min int) Policy {
	return Policy{Attributes: Attributes{MinimumLevel: &min}, RequireAll: true}
}

// RequireDepartments requires membership in one of departments.
func RequireDepartments(departments ...string) Policy {
	return Policy{Attributes: Attributes{Departments: departments}, RequireAll: true}
}

// RequireRegions requires membership in one of regions.
func RequireRegions(regions ...string) Policy {
	return Policy{Attributes: Attributes{Regions: regions}, RequireAll: true}
}

// Named returns a copy of p carrying name.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// Combine merges the categories of policies into one policy. Lists are
// concatenated without duplicates; the highest minimum level wins.
func Combine(requireAll bool, policies ...Policy) Policy {
	out := Policy{RequireAll: requireAll}
	for _, p := range policies {
		out.Permissions = appendUnique(out.Permissions, p.Permissions...)
		out.Roles = appendUnique(out.Roles, p.Roles...)
		out.Departments = appendUnique(out.Departments, p.Departments...)
		out.Regions = appendUnique(out.Regions, p.Regions...)
		if p.MinimumLevel != nil && (out.MinimumLevel == nil || *p.MinimumLevel > *out.MinimumLevel) {
			lvl := *p.MinimumLevel
			out.MinimumLevel = &lvl
		}
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if !contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
