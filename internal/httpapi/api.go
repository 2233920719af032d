// Package httpapi exposes the login, session, role and audit endpoints of
// the admin dashboard backend.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

const serviceName = "gatehouse-api"

// ReadyProbe reports whether backing stores are reachable.
type ReadyProbe interface {
	Check(ctx context.Context) error
}

// PingProbe adapts a Ping method (the PostgreSQL store) to ReadyProbe. A nil
// function is always ready.
type PingProbe func(ctx context.Context) error

func (p PingProbe) Check(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p(ctx)
}

// PolicySource resolves the named policies guarding endpoints.
type PolicySource interface {
	Policy(name string) (access.Policy, bool)
}

// Deps are the services the API fronts.
type Deps struct {
	Auth     *auth.Service
	Admin    *admin.Service
	Enforcer *access.Enforcer
	Policies PolicySource
	Ready    ReadyProbe
	Version  string
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	auth     *auth.Service
	admin    *admin.Service
	enforcer *access.Enforcer
	policies PolicySource
	ready    ReadyProbe
	version  string

	ratePerSec  float64
	rateBurst   int
	corsOrigins []string
	maxBody     int64
}

// Option configures the API.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec = perSecond
			a.rateBurst = burst
		}
	}
}

// WithCORSOrigins allows the listed browser origins in addition to localhost.
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = append(a.corsOrigins, origins...) }
}

// New builds the API and registers its routes.
func New(deps Deps, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       deps.Auth,
		admin:      deps.Admin,
		enforcer:   deps.Enforcer,
		policies:   deps.Policies,
		ready:      deps.Ready,
		version:    deps.Version,
		ratePerSec: 50,
		rateBurst:  100,
		maxBody:    1 << 20,
	}
	if a.ready == nil {
		a.ready = PingProbe(nil)
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/sessions", a.handleSessions)
	a.mux.HandleFunc("/v1/sessions/{id}", a.handleSessionResource)

	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/users/{id}", a.handleUser)
	a.mux.HandleFunc("/v1/users/{id}/role", a.handleUserRole)

	a.mux.HandleFunc("/api/audit/session-logs", a.handleSessionLogs)
	a.mux.HandleFunc("/api/audit/access-logs", a.handleAccessLogs)
	a.mux.HandleFunc("/api/audit/access-stats", a.handleAccessStats)
	a.mux.HandleFunc("/api/audit/session-events/stream", a.handleSessionEventStream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = SecurityHeaders(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins...)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
