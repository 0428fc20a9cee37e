// ABOUTME: chi route table for the gateway HTTP API
// ABOUTME: Applies request logging, rate limiting, JWT auth and the admin gate

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/auth"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/metrics"
)

// routes builds the HTTP handler. Health and metrics are public; everything
// under /api needs a token, and changes need the admin role.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(middleware.Recoverer)
	if rl := g.config.RateLimit; rl.RPS > 0 {
		r.Use(newRateLimiter(rl.RPS, rl.Burst).middleware)
	}

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, metrics.Handler(g.registry))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(g.verifier, g.logger))

		r.Get("/tools", g.handleListTools)
		r.Get("/events", g.handleListEvents)
		r.Get("/events/stream", g.handleEventStream)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", g.handleListAgents)
			r.With(auth.RequireAdminHTTP()).Post("/", g.handleCreateAgent)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", g.handleGetAgent)
				r.Get("/events", g.handleListEvents)
				r.Get("/parsed", g.handleListParsed)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireAdminHTTP())
					r.Delete("/", g.handleDeleteAgent)
					r.Post("/start", g.handleStartAgent)
					r.Post("/stop", g.handleStopAgent)
					r.Post("/restart", g.handleRestartAgent)
					r.Put("/behaviors", g.handleSetBehaviors)
					r.Post("/auth/start", g.handleAuthStart)
					r.Post("/auth/submit", g.handleAuthSubmit)
					r.Post("/tools/{tool}", g.handleCallTool)
				})
			})
		})
	})

	return r
}

// requestLogger logs one line per request at debug, or warn for server errors.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelDebug
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		})
	}
}
