// Package web provides the JSON HTTP API for template row picking.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/TemplatePick/internal/config"
	"github.com/JonMunkholm/TemplatePick/internal/core"
	mw "github.com/JonMunkholm/TemplatePick/internal/web/middleware"
)

// Server is the HTTP server for the template picking API.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
	limiter *rateLimiter
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	// Security hardening
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.limiter = newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(s.limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))
		r.Use(mw.Identity)

		r.Get("/status", s.handleStatus)

		// Formats and template rows
		r.Get("/formats", s.handleListFormats)
		r.Route("/formats/{formatID}", func(r chi.Router) {
			r.Get("/", s.handleGetFormat)
			r.Put("/", s.handleSaveFormat)

			r.Get("/rows", s.handleListTemplateRows)
			r.Put("/rows", s.handleImportTemplate)
			r.Patch("/rows/{rowIndex}", s.handlePatchTemplateCell)

			// Reservations
			r.Post("/rows/{rowIndex}/pick", s.handlePick)
			r.Delete("/rows/{rowIndex}/pick", s.handleRelease)
			r.Put("/rows/{rowIndex}/holder", s.handleAssign)
			r.Get("/reservations", s.handleListReservations)
			r.Get("/reservations/mine", s.handleListMyRows)
		})

		// Created files
		r.Get("/files", s.handleListFiles)
		r.Post("/files", s.handleCreateFile)
		r.Get("/files/{fileID}", s.handleGetFile)
		r.Put("/files/{fileID}", s.handleUpdateFile)
		r.Delete("/files/{fileID}", s.handleDeleteFile)
		r.Patch("/files/{fileID}/cells", s.handlePatchCell)

		// Merge and ingestion
		r.Post("/merge", s.handleMerge)
		r.Post("/ingest", s.handleIngest)
		r.Get("/entities/{entityID}/attendance", s.handleAttendance)
	})
}

// Start begins listening for HTTP requests on the configured address.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its background cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
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
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// JSON only; nothing may be loaded or executed from responses
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "no-referrer")

		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
