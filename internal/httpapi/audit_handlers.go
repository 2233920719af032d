package httpapi

import (
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/session"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
	maxEventType    = 64
)

type sessionLogRequest struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	Severity  session.Severity `json:"severity"`
	Details   map[string]any   `json:"details"`
}

type accessStatsResponse struct {
	Access   audit.Stats        `json:"access"`
	Sessions session.EventStats `json:"sessions"`
}

func (a *API) handleSessionLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listSessionLogs(w, r)
	case http.MethodPost:
		a.recordSessionLog(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// listSessionLogs returns security events, newest last. Users may read
// their own events; anything wider needs the audit-read policy.
func (a *API) listSessionLogs(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	if userID != u.ID {
		if _, ok := a.requirePolicy(w, r, config.PolicyAuditRead, "audit"); !ok {
			return
		}
	}
	limit, err := parseLimit(q.Get("limit"), defaultLogLimit, maxLogLimit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var since time.Time
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			writeServiceError(w, r, auth.Invalid("since", "must be an RFC3339 timestamp"))
			return
		}
	}
	eventType := strings.TrimSpace(q.Get("type"))

	events := a.auth.Security().Events().Since(since)
	out := make([]session.Event, 0, len(events))
	for _, e := range events {
		if userID != "" && e.UserID != userID {
			continue
		}
		if eventType != "" && e.Type != eventType {
			continue
		}
		out = append(out, e)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeData(w, http.StatusOK, out, "")
}

// recordSessionLog stores a client-reported security event against the
// caller.
func (a *API) recordSessionLog(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req sessionLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		writeServiceError(w, r, auth.Invalid("type", "is required"))
		return
	}
	if len(req.Type) > maxEventType {
		writeServiceError(w, r, auth.Invalid("type", "must be at most %d characters", maxEventType))
		return
	}
	if strings.ContainsAny(req.Type, "\r\n") {
		writeServiceError(w, r, auth.Invalid("type", "must be a single line"))
		return
	}
	switch req.Severity {
	case "", session.SeverityLow, session.SeverityMedium, session.SeverityHigh, session.SeverityCritical:
	default:
		writeServiceError(w, r, auth.Invalid("severity", "unknown severity %q", req.Severity))
		return
	}
	if req.SessionID != "" {
		sess, err := a.auth.Sessions().Get(r.Context(), req.SessionID)
		if err != nil || sess.UserID != u.ID {
			writeServiceError(w, r, auth.Invalid("session_id", "does not belong to the caller"))
			return
		}
	}
	e := a.auth.Security().Record(session.Event{
		Type:      req.Type,
		UserID:    u.ID,
		SessionID: req.SessionID,
		IPAddress: clientIP(r),
		Severity:  req.Severity,
		Details:   req.Details,
	})
	writeData(w, http.StatusCreated, e, "event recorded")
}

func (a *API) handleAccessLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listAccessLogs(w, r)
	case http.MethodDelete:
		if _, ok := a.requirePolicy(w, r, config.PolicyAuditWrite, "audit"); !ok {
			return
		}
		n := a.enforcer.AuditLog().Len()
		a.enforcer.AuditLog().Clear()
		_ = audit.LogEvent(r.Context(), "audit.cleared", map[string]any{"entries": n})
		writeData(w, http.StatusOK, map[string]int{"cleared": n}, "access log cleared")
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) listAccessLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePolicy(w, r, config.PolicyAuditRead, "audit"); !ok {
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), defaultLogLimit, maxLogLimit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	userID := strings.TrimSpace(q.Get("user_id"))
	checkCtx := strings.TrimSpace(q.Get("context"))
	deniedOnly := q.Get("denied") == "true"

	var out []audit.Entry
	for _, e := range a.enforcer.AuditLog().Recent(0) {
		if userID != "" && e.UserID != userID {
			continue
		}
		if checkCtx != "" && e.Context != checkCtx {
			continue
		}
		if deniedOnly && e.Granted {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	if out == nil {
		out = []audit.Entry{}
	}
	writeData(w, http.StatusOK, out, "")
}

func (a *API) handleAccessStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requirePolicy(w, r, config.PolicyAuditRead, "audit"); !ok {
		return
	}
	writeData(w, http.StatusOK, accessStatsResponse{
		Access:   a.enforcer.AuditLog().Stats(a.auth.Sessions().Now()),
		Sessions: a.auth.Security().Events().Stats(),
	}, "")
}
