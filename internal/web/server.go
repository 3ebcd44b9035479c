// Package web provides the HTTP API for starting and following CSV imports.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
	mw "github.com/JonMunkholm/csvimport/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// sweepInterval is how often expired import jobs are dropped.
const sweepInterval = time.Minute

// Server is the HTTP server for the import API.
type Server struct {
	service  *core.Service
	cfg      *config.Config
	profiles *config.Profiles
	jobs     *jobRegistry
	router   *chi.Mux
	server   *http.Server

	limiters []*mw.RateLimiter
	stop     context.CancelFunc
}

// NewServer creates a Server for service. profiles may be nil.
func NewServer(service *core.Service, cfg *config.Config, profiles *config.Profiles) *Server {
	if profiles == nil {
		profiles = &config.Profiles{Profiles: map[string]config.Profile{}}
	}

	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		service:  service,
		cfg:      cfg,
		profiles: profiles,
		jobs:     newJobRegistry(cfg.Import.JobRetention),
		router:   chi.NewRouter(),
		stop:     stop,
	}
	s.setupMiddleware()
	s.setupRoutes()

	go s.jobs.sweepLoop(ctx, sweepInterval)
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))
		r.Use(s.rateLimit(s.cfg.Rate.RequestsPerMinute))

		// Event streams stay open for the life of an import.
		r.Get("/imports/{importID}/events", s.handleImportEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/tables", s.handleListTables)
			r.Get("/profiles", s.handleListProfiles)
			r.Get("/imports/{importID}", s.handleImportStatus)
			r.Post("/imports/{importID}/cancel", s.handleCancelImport)

			// Uploads are parsed, so they get the stricter limit.
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimit(s.cfg.Rate.ImportLimit))
				r.Post("/preview", s.handlePreview)
				r.Post("/imports", s.handleStartImport)
			})
		})
	})
}

// rateLimit returns a per-IP limiter middleware, or a pass-through when
// rate limiting is disabled.
func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := mw.NewRateLimiter(perMinute)
	s.limiters = append(s.limiters, rl)
	return rl.Handler
}

// Start begins listening for HTTP requests on the configured address.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.cfg.Server.Addr(),
		Handler:     s.router,
		ReadTimeout: s.cfg.Server.ReadTimeout,
		// Event streams outlive any fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops background sweeps and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	for _, rl := range s.limiters {
		rl.Close()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
