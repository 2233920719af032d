package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
)

const (
	authHeader      = "Authorization"
	bearer          = "Bearer "
	sessionIDHeader = "X-Session-ID"
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

// withAuth resolves the bearer token to a user, applies the per-user and
// per-IP request limits and, when X-Session-ID is sent, scores the session
// and rejects it once terminated.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatehouse"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		user, _, err := a.auth.Authenticate(r.Context(), raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatehouse", error="invalid_token"`)
			writeServiceError(w, r, err)
			return
		}

		ip := clientIP(r)
		security := a.auth.Security()
		if decision := security.CheckRequest(user.ID, ip); !decision.Allowed {
			setRetryAfter(w, decision.RetryAfter)
			writeError(w, r, http.StatusTooManyRequests, "too many requests")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), user)
		ctx = auth.ContextWithToken(ctx, raw)
		ctx = audit.WithActor(ctx, user.ID)

		if sid := strings.TrimSpace(r.Header.Get(sessionIDHeader)); sid != "" {
			sess, err := security.Manager().Get(ctx, sid)
			if err != nil || sess.UserID != user.ID {
				writeError(w, r, http.StatusUnauthorized, "unknown session")
				return
			}
			if !sess.Active(security.Manager().Now()) {
				writeError(w, r, http.StatusUnauthorized, "session expired")
				return
			}
			assessment, err := security.Enforce(ctx, sess, ip)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			if assessment.Terminated {
				writeError(w, r, http.StatusUnauthorized, "session terminated")
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentUser returns the authenticated user or writes 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return u, true
}

// requirePolicy applies the named policy to the current user. It writes the
// error response and returns false on denial.
func (a *API) requirePolicy(w http.ResponseWriter, r *http.Request, name, checkCtx string) (*auth.User, bool) {
	u, ok := currentUser(w, r)
	if !ok {
		return nil, false
	}
	if a.policies == nil || a.enforcer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "access control unavailable")
		return nil, false
	}
	p, found := a.policies.Policy(name)
	if !found {
		writeError(w, r, http.StatusInternalServerError, "policy "+name+" not configured")
		return nil, false
	}
	if err := a.enforcer.RequirePolicy(r.Context(), u, p, checkCtx); err != nil {
		var authzErr *access.AuthorizationError
		if errors.As(err, &authzErr) {
			writeError(w, r, http.StatusForbidden, authzErr.Error())
			return nil, false
		}
		writeServiceError(w, r, err)
		return nil, false
	}
	return u, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
