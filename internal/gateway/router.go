// ABOUTME: chi router assembling health, frontend and admin API routes
// ABOUTME: Admin routes are mounted only when a JWT secret is configured

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bitsacco/sacco-gateway/internal/auth"
)

// Handler returns the gateway's HTTP routes.
//
//	GET    /health                          liveness
//	GET    /health/ready                    wallet reachable
//	GET    /ws                              web chat socket
//	POST   /api/channels/{channel}/inbound  signed webhook
//	GET    /api/sessions                    viewer
//	DELETE /api/sessions/{userID}           admin
//	GET    /api/audit                       viewer
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(g.logger))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	if g.webchat != nil {
		r.Get("/ws", g.webchat.ServeHTTP)
	}
	if len(g.webhooks) > 0 {
		r.Post("/api/channels/{channel}/inbound", g.handleWebhook)
	}

	if g.verifier != nil {
		r.Group(func(r chi.Router) {
			r.Use(auth.HTTPAuthMiddleware(g.verifier, g.logger))
			r.With(auth.RequireRole(auth.RoleViewer)).Get("/api/sessions", g.handleListSessions)
			r.With(auth.RequireRole(auth.RoleAdmin)).Delete("/api/sessions/{userID}", g.handleEndSession)
			r.With(auth.RequireRole(auth.RoleViewer)).Get("/api/audit", g.handleAudit)
		})
	}
	return r
}

// requestLogger logs each request at debug level, and 5xx responses as errors.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
