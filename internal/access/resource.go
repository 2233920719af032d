package access

import (
	"strconv"
	"strings"

	"gatehouse.org/internal/auth"
)

// Resource is something owned by a user that others may want to reach.
type Resource struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Owner         *auth.User `json:"owner,omitempty"`
	TeamMemberIDs []string   `json:"team_member_ids,omitempty"`
}

func (r Resource) ownerID() string {
	if r.Owner == nil {
		return ""
	}
	return r.Owner.ID
}

// ResourceOptions selects which criteria CheckResource applies.
type ResourceOptions struct {
	FallbackPermission string
	Ownership          bool
	Hierarchical       bool
	MinLevelDiff       int
	Regional           bool
	AllowCrossRegion   bool
	Team               bool
	RequireAll         bool
}

func (o ResourceOptions) anyEnabled() bool {
	return o.Ownership || o.Hierarchical || o.Regional || o.Team
}

// CanAccessOwned passes for the owner and super-admins, then falls back to
// the named permission.
func CanAccessOwned(u *auth.User, res Resource, fallbackPermission string) bool {
	if u == nil {
		return false
	}
	if u.IsSuperAdmin() {
		return true
	}
	if owner := res.ownerID(); owner != "" && owner == u.ID {
		return true
	}
	if fallbackPermission == "" {
		return false
	}
	return HasPermission(u, fallbackPermission)
}

// CanAccessHierarchical passes when u and owner share a department and u
// outranks owner by at least minLevelDiff levels.
func CanAccessHierarchical(u, owner *auth.User, minLevelDiff int) bool {
	if u == nil || owner == nil {
		return false
	}
	if u.Department == nil || owner.Department == nil || *u.Department != *owner.Department {
		return false
	}
	return u.LevelValue()-owner.LevelValue() >= minLevelDiff
}

// CanAccessRegional passes when u and owner share a region, or when
// cross-region access is allowed and u has a region at all.
func CanAccessRegional(u, owner *auth.User, allowCrossRegion bool) bool {
	if u == nil || u.Region == nil {
		return false
	}
	if allowCrossRegion {
		return true
	}
	return owner != nil && owner.Region != nil && *u.Region == *owner.Region
}

// CanAccessTeam passes when u is listed as a team member of res.
func CanAccessTeam(u *auth.User, res Resource) bool {
	if u == nil {
		return false
	}
	return contains(res.TeamMemberIDs, u.ID)
}

// CheckResource composes the enabled criteria. With none enabled only
// ownership (with its permission fallback) is checked.
func CheckResource(u *auth.User, res Resource, opts ResourceOptions) Result {
	if u == nil {
		return errored("", "no user to evaluate")
	}
	if u.IsSuperAdmin() {
		return granted("", "super admin")
	}
	if !opts.anyEnabled() {
		opts.Ownership = true
	}

	var passed, failed []string
	check := func(enabled bool, name string, ok bool, why string) {
		if !enabled {
			return
		}
		if ok {
			passed = append(passed, name)
		} else {
			failed = append(failed, why)
		}
	}
	check(opts.Ownership, "ownership", CanAccessOwned(u, res, opts.FallbackPermission),
		"not the owner of "+resourceLabel(res))
	check(opts.Hierarchical, "hierarchy", CanAccessHierarchical(u, res.Owner, opts.MinLevelDiff),
		"needs same department and "+strconv.Itoa(opts.MinLevelDiff)+" levels above owner")
	check(opts.Regional, "region", CanAccessRegional(u, res.Owner, opts.AllowCrossRegion),
		"outside the owner's region")
	check(opts.Team, "team", CanAccessTeam(u, res),
		"not a team member")

	if opts.RequireAll {
		if len(failed) == 0 {
			return granted("", "satisfied "+strings.Join(passed, ", "))
		}
		return denied("", strings.Join(failed, "; "))
	}
	if len(passed) > 0 {
		return granted("", "satisfied "+strings.Join(passed, ", "))
	}
	return denied("", strings.Join(failed, "; "))
}

// FilterAccessible returns the resources u may access, preserving order.
func FilterAccessible(u *auth.User, resources []Resource, opts ResourceOptions) []Resource {
	var out []Resource
	for _, res := range resources {
		if CheckResource(u, res, opts).Allowed() {
			out = append(out, res)
		}
	}
	return out
}

func resourceLabel(res Resource) string {
	switch {
	case res.Type != "" && res.ID != "":
		return res.Type + " " + res.ID
	case res.ID != "":
		return res.ID
	default:
		return "resource"
	}
}
