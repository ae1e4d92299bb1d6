// Package router assembles the chi routes of the guarded API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jjsmithok/security-platform/internal/adapters/http/handlers"
	httpMiddleware "github.com/jjsmithok/security-platform/internal/adapters/http/middleware"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

type Deps struct {
	Guard        ports.Guard
	Sessions     ports.SessionManager
	Metrics      http.Handler
	Logger       *zap.Logger
	Clock        ports.Clock
	MaxBodyBytes int64
}

// New wires:
//
//	GET    /healthz
//	GET    /metrics
//	POST   /api/protected/echo      session + guard
//	GET    /api/protected/status    session + guard
//	GET    /api/sessions            session
//	DELETE /api/sessions/current    session
//	DELETE /api/sessions            session
func New(d Deps) http.Handler {
	h := handlers.New(d.Sessions, d.Logger)
	auth := httpMiddleware.NewSessionAuthMiddleware(d.Sessions, d.Logger)
	guard := httpMiddleware.NewGuardMiddleware(d.Guard, httpMiddleware.GuardOptions{
		MaxBodyBytes: d.MaxBodyBytes,
		Logger:       d.Logger,
		Clock:        d.Clock,
	})

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handlers.Healthz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api/protected", func(r chi.Router) {
		r.Use(auth, guard)
		r.Post("/echo", h.Echo)
		r.Get("/status", h.Status)
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Use(auth)
		r.Get("/", h.ListSessions)
		r.Delete("/", h.LogoutAll)
		r.Delete("/current", h.Logout)
	})

	return r
}
