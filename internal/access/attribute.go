package access

import (
	"fmt"
	"strconv"
	"strings"

	"gatehouse.org/internal/auth"
)

// Attributes is the ABAC part of a requirement. Unset fields are not checked.
type Attributes struct {
	MinimumLevel *int     `json:"minimum_level,omitempty" yaml:"minimum_level,omitempty"`
	Departments  []string `json:"departments,omitempty" yaml:"departments,omitempty"`
	Regions      []string `json:"regions,omitempty" yaml:"regions,omitempty"`
}

// Empty reports whether no attribute is required.
func (a Attributes) Empty() bool {
	return a.MinimumLevel == nil && len(a.Departments) == 0 && len(a.Regions) == 0
}

// HasMinimumLevel reports whether u's level is at least min. A missing
// level counts as 0, so any min <= 0 passes.
func HasMinimumLevel(u *auth.User, min int) bool {
	if min <= 0 {
		return true
	}
	return u.LevelValue() >= min
}

// InDepartment reports whether u belongs to one of departments.
func InDepartment(u *auth.User, departments ...string) bool {
	if u == nil || u.Department == nil {
		return false
	}
	return contains(departments, *u.Department)
}

// InRegion reports whether u belongs to one of regions.
func InRegion(u *auth.User, regions ...string) bool {
	if u == nil || u.Region == nil {
		return false
	}
	return contains(regions, *u.Region)
}

// CheckAllAttributes requires every present attribute to pass.
func CheckAllAttributes(u *auth.User, a Attributes) bool {
	if u == nil {
		return false
	}
	for _, c := range DiagnoseAttributes(u, a).Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// CheckAnyAttribute requires at least one present attribute to pass. With no
// attributes present it passes.
func CheckAnyAttribute(u *auth.User, a Attributes) bool {
	if u == nil {
		return false
	}
	report := DiagnoseAttributes(u, a)
	if len(report.Checks) == 0 {
		return true
	}
	for _, c := range report.Checks {
		if c.Passed {
			return true
		}
	}
	return false
}

// AttributeCheck is the outcome of one attribute comparison.
type AttributeCheck struct {
	Name     string `json:"name"`
	Required string `json:"required"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
}

// AttributeReport lists the outcome of each present attribute.
type AttributeReport struct {
	Checks []AttributeCheck `json:"checks"`
}

// Passed reports whether every check passed.
func (r AttributeReport) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failures renders one message per failed check.
func (r AttributeReport) Failures() []string {
	var out []string
	for _, c := range r.Checks {
		if c.Passed {
			continue
		}
		out = append(out, fmt.Sprintf("%s %s does not satisfy %s", c.Name, c.Actual, c.Required))
	}
	return out
}

// DiagnoseAttributes evaluates each present attribute separately.
func DiagnoseAttributes(u *auth.User, a Attributes) AttributeReport {
	var report AttributeReport
	if a.MinimumLevel != nil {
		actual := "unset"
		if u != nil && u.Level != nil {
			actual = strconv.Itoa(*u.Level)
		}
		report.Checks = append(report.Checks, AttributeCheck{
			Name:     "level",
			Required: ">= " + strconv.Itoa(*a.MinimumLevel),
			Actual:   actual,
			Passed:   u != nil && HasMinimumLevel(u, *a.MinimumLevel),
		})
	}
	if len(a.Departments) > 0 {
		report.Checks = append(report.Checks, AttributeCheck{
			Name:     "department",
			Required: "one of [" + strings.Join(a.Departments, ", ") + "]",
			Actual:   derefOr(u, func(u *auth.User) *string { return u.Department }),
			Passed:   InDepartment(u, a.Departments...),
		})
	}
	if len(a.Regions) > 0 {
		report.Checks = append(report.Checks, AttributeCheck{
			Name:     "region",
			Required: "one of [" + strings.Join(a.Regions, ", ") + "]",
			Actual:   derefOr(u, func(u *auth.User) *string { return u.Region }),
			Passed:   InRegion(u, a.Regions...),
		})
	}
	return report
}

func derefOr(u *auth.User, get func(*auth.User) *string) string {
	if u == nil {
		return "unset"
	}
	if v := get(u); v != nil {
		return *v
	}
	return "unset"
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
