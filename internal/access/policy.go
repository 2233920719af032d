package access

import (
	"errors"
	"strings"

	"gatehouse.org/internal/auth"
)

// Decision is the tri-state outcome of an evaluation.
type Decision int

const (
	Denied Decision = iota
	Granted
	Error
)

func (d Decision) String() string {
	switch d {
	case Granted:
		return "GRANTED"
	case Denied:
		return "DENIED"
	default:
		return "ERROR"
	}
}

// MarshalText renders the decision as its upper-case name.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Result carries a decision and a human-readable reason.
type Result struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
	Policy   string   `json:"policy,omitempty"`
}

// Allowed reports whether access was granted.
func (r Result) Allowed() bool { return r.Decision == Granted }

func granted(policy, reason string) Result {
	return Result{Decision: Granted, Reason: reason, Policy: policy}
}

func denied(policy, reason string) Result {
	return Result{Decision: Denied, Reason: reason, Policy: policy}
}

func errored(policy, reason string) Result {
	return Result{Decision: Error, Reason: reason, Policy: policy}
}

// Policy bundles permission, role and attribute requirements. RequireAll
// selects AND across the categories present; otherwise any one suffices.
type Policy struct {
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Roles       []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Attributes  `yaml:",inline"`
	RequireAll  bool `json:"require_all" yaml:"require_all"`
}

func (p Policy) label() string {
	if p.Name != "" {
		return p.Name
	}
	return "anonymous"
}

// Evaluate checks u against p.
func Evaluate(u *auth.User, p Policy) Result {
	if u == nil {
		return errored(p.Name, "no user to evaluate")
	}
	if err := ValidatePolicy(p); err != nil {
		return errored(p.Name, err.Error())
	}
	if u.IsSuperAdmin() {
		return granted(p.Name, "super admin")
	}

	var passed, failed []string
	if len(p.Permissions) > 0 {
		var ok bool
		if p.RequireAll {
			ok = HasAllPermissions(u, p.Permissions...)
		} else {
			ok = HasAnyPermission(u, p.Permissions...)
		}
		if ok {
			passed = append(passed, "permissions")
		} else if p.RequireAll {
			failed = append(failed, "missing permissions ["+strings.Join(MissingPermissions(u, p.Permissions...), ", ")+"]")
		} else {
			failed = append(failed, "none of permissions ["+strings.Join(p.Permissions, ", ")+"]")
		}
	}
	if len(p.Roles) > 0 {
		if HasRole(u, p.Roles...) {
			passed = append(passed, "role")
		} else {
			role := u.RoleName()
			if role == "" {
				role = "none"
			}
			failed = append(failed, "role "+role+" not in ["+strings.Join(p.Roles, ", ")+"]")
		}
	}
	if !p.Attributes.Empty() {
		var ok bool
		if p.RequireAll {
			ok = CheckAllAttributes(u, p.Attributes)
		} else {
			ok = CheckAnyAttribute(u, p.Attributes)
		}
		if ok {
			passed = append(passed, "attributes")
		} else {
			failed = append(failed, DiagnoseAttributes(u, p.Attributes).Failures()...)
		}
	}

	if p.RequireAll {
		if len(failed) == 0 {
			return granted(p.Name, "all requirements satisfied")
		}
		return denied(p.Name, strings.Join(failed, "; "))
	}
	if len(passed) > 0 {
		return granted(p.Name, "satisfied "+strings.Join(passed, ", "))
	}
	return denied(p.Name, strings.Join(failed, "; "))
}

// EvaluateAll grants only if every policy grants. It stops at the first
// result that is not granted.
func EvaluateAll(u *auth.User, policies ...Policy) Result {
	if len(policies) == 0 {
		return errored("", "no policies to evaluate")
	}
	for _, p := range policies {
		res := Evaluate(u, p)
		if !res.Allowed() {
			res.Reason = p.label() + ": " + res.Reason
			return res
		}
	}
	return granted("", "all policies satisfied")
}

// EvaluateAny grants as soon as one policy grants. When none grants the
// reasons are joined; an error wins over a plain denial.
func EvaluateAny(u *auth.User, policies ...Policy) Result {
	if len(policies) == 0 {
		return errored("", "no policies to evaluate")
	}
	var (
		reasons []string
		sawErr  bool
	)
	for _, p := range policies {
		res := Evaluate(u, p)
		if res.Allowed() {
			return res
		}
		if res.Decision == Error {
			sawErr = true
		}
		reasons = append(reasons, p.label()+": "+res.Reason)
	}
	if sawErr {
		return errored("", strings.Join(reasons, " | "))
	}
	return denied("", strings.Join(reasons, " | "))
}

var errEmptyPolicy = errors.New("policy has no requirements")

// ValidatePolicy checks the structure of p.
func ValidatePolicy(p Policy) error {
	if len(p.Permissions) == 0 && len(p.Roles) == 0 && p.Attributes.Empty() {
		return &auth.ValidationError{Field: "policy", Message: errEmptyPolicy.Error()}
	}
	if emptyList(p.Permissions) || hasBlank(p.Permissions) {
		return auth.Invalid("permissions", "must list at least one non-empty permission")
	}
	if emptyList(p.Roles) || hasBlank(p.Roles) {
		return auth.Invalid("roles", "must list at least one non-empty role")
	}
	if p.MinimumLevel != nil && *p.MinimumLevel < 0 {
		return auth.Invalid("minimum_level", "must not be negative")
	}
	if emptyList(p.Departments) || hasBlank(p.Departments) {
		return auth.Invalid("departments", "must list at least one non-empty department")
	}
	if emptyList(p.Regions) || hasBlank(p.Regions) {
		return auth.Invalid("regions", "must list at least one non-empty region")
	}
	return nil
}

// emptyList reports a list that was given but holds nothing.
func emptyList(values []string) bool {
	return values != nil && len(values) == 0
}

func hasBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
