package access

import (
	"fmt"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
)

// AuthorizationError is returned by the Enforcer when a check is not granted.
// It carries the audit entry recorded for the decision.
type AuthorizationError struct {
	Result Result
	Entry  audit.Entry
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("access denied for %s: %s", e.Entry.Check, e.Result.Reason)
}

// Unwrap lets errors.Is match auth.ErrForbidden.
func (e *AuthorizationError) Unwrap() error { return auth.ErrForbidden }
