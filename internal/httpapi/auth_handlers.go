package httpapi

import (
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/session"
	"gatehouse.org/internal/token"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
	All       bool   `json:"all"`
}

type tokensResponse struct {
	token.Pair
	ExpiresIn int64 `json:"expires_in"`
}

type meResponse struct {
	User           *auth.User        `json:"user"`
	TokenExpiresAt time.Time         `json:"token_expires_at"`
	Sessions       []session.Session `json:"sessions"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ip := clientIP(r)
	if decision := a.auth.Security().CheckRequest("", ip); !decision.Allowed {
		setRetryAfter(w, decision.RetryAfter)
		writeError(w, r, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), auth.Credentials{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		IPAddress:  ip,
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, resp, "login successful")
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeServiceError(w, r, auth.Invalid("refresh_token", "is required"))
		return
	}
	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	now := a.auth.Sessions().Now()
	writeData(w, http.StatusOK, tokensResponse{Pair: pair, ExpiresIn: pair.ExpiresIn(now)}, "token refreshed")
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	if req.SessionID == "" {
		req.SessionID = strings.TrimSpace(r.Header.Get(sessionIDHeader))
	}
	if req.SessionID == "" && !req.All {
		if raw, ok := auth.TokenFromContext(r.Context()); ok {
			if claims, err := token.Decode(raw); err == nil {
				req.SessionID = claims.SessionID
			}
		}
	}
	n, err := a.auth.Logout(r.Context(), u.ID, req.SessionID, req.All)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"ended": n}, "logged out")
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	resp := meResponse{User: u}
	if raw, ok := auth.TokenFromContext(r.Context()); ok {
		if exp, err := token.ExpiresAt(raw); err == nil {
			resp.TokenExpiresAt = exp
		}
	}
	sessions, err := a.auth.Sessions().ActiveSessions(r.Context(), u.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp.Sessions = sessions
	writeData(w, http.StatusOK, resp, "")
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	sessions, err := a.auth.Sessions().ActiveSessions(r.Context(), u.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sessions, "")
}

func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	if _, err := a.auth.Logout(r.Context(), u.ID, r.PathValue("id"), false); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"ended": 1}, "session ended")
}
