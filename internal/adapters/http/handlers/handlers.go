// Package handlers agrupa os handlers HTTP da API protegida.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jjsmithok/security-platform/internal/adapters/http/middleware"
	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

type Handlers struct {
	sessions ports.SessionManager
	logger   *zap.Logger
}

func New(sessions ports.SessionManager, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{sessions: sessions, logger: logger}
}

// Echo returns the request body along with the score the guard assigned it.
func (h *Handlers) Echo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	var data any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			writeError(w, http.StatusBadRequest, "request body must be valid JSON")
			return
		}
	}

	resp := map[string]any{
		"message": "Echo successful",
		"data":    data,
	}
	if verdict, ok := middleware.VerdictFromContext(r.Context()); ok && verdict.Risk != nil {
		resp["risk_score"] = verdict.Risk.Score
		resp["risk_level"] = verdict.Risk.Level
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "operational",
		"user":               session.UserID,
		"session_expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type sessionView struct {
	domain.Session
	Current bool `json:"current"`
	Expired bool `json:"expired"`
}

// ListSessions shows every stored session of the caller, expired ones
// included and flagged.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	current, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	sessions, err := h.sessions.UserSessions(r.Context(), current.UserID)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.String("user_id", current.UserID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "session service unavailable")
		return
	}

	now := time.Now()
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{Session: s, Current: s.ID == current.ID, Expired: !s.ActiveAt(now)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// Logout invalidates the session that authenticated this request.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	current, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if err := h.sessions.Invalidate(r.Context(), current.Token); err != nil {
		h.logger.Error("failed to invalidate session", zap.String("session_id", current.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "session service unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll invalidates every session of the caller.
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	current, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if err := h.sessions.InvalidateAll(r.Context(), current.UserID); err != nil {
		h.logger.Error("failed to invalidate sessions", zap.String("user_id", current.UserID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "session service unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
