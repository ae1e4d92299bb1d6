package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// NewSessionAuthMiddleware rejects requests without an active session with
// 401. When the session store cannot answer the request gets 503 instead, so
// clients can tell "log in again" from "try again".
func NewSessionAuthMiddleware(sessions ports.SessionManager, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			session, err := sessions.Verify(r.Context(), token)
			if err != nil {
				if domain.IsIndeterminate(err) {
					logger.Warn("session verification indeterminate", zap.Error(err))
					w.Header().Set("Retry-After", "1")
					writeError(w, http.StatusServiceUnavailable, "session service unavailable")
					return
				}
				logger.Error("session verification failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				return
			}
			if session == nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}
