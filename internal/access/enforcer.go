package access

import (
	"context"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

// Enforcer turns decisions into errors and records every decision in an
// audit log.
type Enforcer struct {
	log       *audit.Log
	hierarchy Hierarchy
	now       func() time.Time
}

// EnforcerOption configures an Enforcer.
type EnforcerOption func(*Enforcer)

// WithHierarchy sets the role hierarchy used by role assignment checks.
func WithHierarchy(h Hierarchy) EnforcerOption {
	return func(e *Enforcer) {
		if len(h) > 0 {
			e.hierarchy = h
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) EnforcerOption {
	return func(e *Enforcer) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEnforcer returns an Enforcer appending to log. A nil log gets a fresh
// one with the default capacity.
func NewEnforcer(log *audit.Log, opts ...EnforcerOption) *Enforcer {
	if log == nil {
		log = audit.NewLog(audit.DefaultCapacity)
	}
	e := &Enforcer{log: log, hierarchy: DefaultHierarchy, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AuditLog exposes the decision log for queries.
func (e *Enforcer) AuditLog() *audit.Log { return e.log }

// Hierarchy returns the configured role hierarchy.
func (e *Enforcer) Hierarchy() Hierarchy { return e.hierarchy }

// CheckPermission evaluates a single permission without returning an error.
func (e *Enforcer) CheckPermission(ctx context.Context, u *auth.User, perm, checkCtx string) Result {
	res := decide(u, HasPermission(u, perm), "permission "+perm+" granted", "missing permission "+perm)
	e.record(ctx, u, "permission:"+perm, checkCtx, res, nil)
	return res
}

// CheckRole evaluates role membership without returning an error.
func (e *Enforcer) CheckRole(ctx context.Context, u *auth.User, checkCtx string, roles ...string) Result {
	res := decide(u, HasRole(u, roles...),
		"role "+u.RoleName()+" accepted",
		"role "+roleOrNone(u)+" not in ["+strings.Join(roles, ", ")+"]")
	e.record(ctx, u, "role:"+strings.Join(roles, "|"), checkCtx, res, nil)
	return res
}

// CheckPolicy evaluates a policy without returning an error.
func (e *Enforcer) CheckPolicy(ctx context.Context, u *auth.User, p Policy, checkCtx string) Result {
	res := Evaluate(u, p)
	e.record(ctx, u, "policy:"+p.label(), checkCtx, res, nil)
	return res
}

// CheckResource evaluates resource access without returning an error.
func (e *Enforcer) CheckResource(ctx context.Context, u *auth.User, res Resource, opts ResourceOptions, checkCtx string) Result {
	out := CheckResource(u, res, opts)
	e.record(ctx, u, "resource:"+res.Type, checkCtx, out, &res)
	return out
}

// RequirePermission fails with *AuthorizationError unless perm is granted.
func (e *Enforcer) RequirePermission(ctx context.Context, u *auth.User, perm, checkCtx string) error {
	res := decide(u, HasPermission(u, perm), "permission "+perm+" granted", "missing permission "+perm)
	return e.enforce(ctx, u, "permission:"+perm, checkCtx, res, nil)
}

// RequireAllPermissions fails unless every permission is granted.
func (e *Enforcer) RequireAllPermissions(ctx context.Context, u *auth.User, checkCtx string, perms ...string) error {
	res := decide(u, HasAllPermissions(u, perms...),
		"all permissions granted",
		"missing permissions ["+strings.Join(MissingPermissions(u, perms...), ", ")+"]")
	return e.enforce(ctx, u, "permissions:all:"+strings.Join(perms, ","), checkCtx, res, nil)
}

// RequireAnyPermission fails unless at least one permission is granted.
func (e *Enforcer) RequireAnyPermission(ctx context.Context, u *auth.User, checkCtx string, perms ...string) error {
	res := decide(u, HasAnyPermission(u, perms...),
		"permission granted",
		"none of permissions ["+strings.Join(perms, ", ")+"]")
	return e.enforce(ctx, u, "permissions:any:"+strings.Join(perms, ","), checkCtx, res, nil)
}

// RequireRole fails unless u holds one of roles.
func (e *Enforcer) RequireRole(ctx context.Context, u *auth.User, checkCtx string, roles ...string) error {
	res := decide(u, HasRole(u, roles...),
		"role "+u.RoleName()+" accepted",
		"role "+roleOrNone(u)+" not in ["+strings.Join(roles, ", ")+"]")
	return e.enforce(ctx, u, "role:"+strings.Join(roles, "|"), checkCtx, res, nil)
}

// RequirePolicy fails unless p grants.
func (e *Enforcer) RequirePolicy(ctx context.Context, u *auth.User, p Policy, checkCtx string) error {
	return e.enforce(ctx, u, "policy:"+p.label(), checkCtx, Evaluate(u, p), nil)
}

// RequireResource fails unless u may access res.
func (e *Enforcer) RequireResource(ctx context.Context, u *auth.User, res Resource, opts ResourceOptions, checkCtx string) error {
	return e.enforce(ctx, u, "resource:"+res.Type, checkCtx, CheckResource(u, res, opts), &res)
}

// RequireRoleAssignment fails unless assigner may grant target.
func (e *Enforcer) RequireRoleAssignment(ctx context.Context, assigner *auth.User, target string) error {
	res := decide(assigner, CanAssignRole(assigner, target, e.hierarchy),
		"role "+target+" assignable",
		"role "+roleOrNone(assigner)+" cannot assign "+target)
	return e.enforce(ctx, assigner, "assign-role:"+target, "role-assignment", res, nil)
}

func (e *Enforcer) enforce(ctx context.Context, u *auth.User, check, checkCtx string, res Result, resource *Resource) error {
	entry := e.record(ctx, u, check, checkCtx, res, resource)
	if res.Allowed() {
		return nil
	}
	return &AuthorizationError{Result: res, Entry: entry}
}

func (e *Enforcer) record(ctx context.Context, u *auth.User, check, checkCtx string, res Result, resource *Resource) audit.Entry {
	entry := audit.Entry{
		Check:     check,
		Granted:   res.Allowed(),
		Context:   checkCtx,
		Reason:    res.Reason,
		Timestamp: e.now().UTC(),
	}
	if u != nil {
		entry.UserID = u.ID
		entry.Email = u.Email
		entry.Role = u.RoleName()
	}
	if resource != nil {
		entry.ResourceID = resource.ID
		entry.ResourceType = resource.Type
	}
	entry = e.log.Append(entry)
	obs.ObserveDecision(checkKind(check), res.Decision.String())
	if !entry.Granted {
		_ = audit.LogEvent(ctx, "access.denied", map[string]any{
			"check":   entry.Check,
			"context": entry.Context,
			"reason":  entry.Reason,
			"user_id": entry.UserID,
		})
	}
	return entry
}

func decide(u *auth.User, ok bool, grantReason, denyReason string) Result {
	if u == nil {
		return errored("", "no user to evaluate")
	}
	if ok {
		return granted("", grantReason)
	}
	return denied("", denyReason)
}

func roleOrNone(u *auth.User) string {
	if name := u.RoleName(); name != "" {
		return name
	}
	return "none"
}

func checkKind(check string) string {
	if i := strings.IndexByte(check, ':'); i > 0 {
		return check[:i]
	}
	return check
}
