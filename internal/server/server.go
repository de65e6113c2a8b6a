// Package server wires the HTTP surface: the versioned data API over
// exposed databases and the admin system API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/data2rest/data2rest/internal/adapter"
	"github.com/data2rest/data2rest/internal/bulk"
	"github.com/data2rest/data2rest/internal/cache"
	"github.com/data2rest/data2rest/internal/config"
	"github.com/data2rest/data2rest/internal/handler"
	"github.com/data2rest/data2rest/internal/ratelimit"
	"github.com/data2rest/data2rest/internal/server/middleware"
	"github.com/data2rest/data2rest/internal/service"
)

// Config holds the server's runtime configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	// Data-API behavior.
	RateLimit    int           // default requests per window when a key has no override
	RateWindow   time.Duration // default window length
	CacheTTL     time.Duration
	MaxBatchSize int

	// Admin login guard.
	LoginAttemptsPerMinute int
}

// DefaultConfig returns a sensible default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:                   "0.0.0.0",
		Port:                   8080,
		CORSOrigins:            []string{"*"},
		ShutdownTimeout:        10 * time.Second,
		RateLimit:              ratelimit.DefaultLimit,
		RateWindow:             ratelimit.DefaultWindow,
		CacheTTL:               cache.DefaultTTL,
		MaxBatchSize:           bulk.DefaultMaxBatchSize,
		LoginAttemptsPerMinute: 10,
	}
}

// Server is the data2rest HTTP server.
type Server struct {
	cfg     Config
	store   *config.Store
	manager *adapter.Manager
	logger  *slog.Logger
	router  chi.Router
	httpSrv *http.Server
}

// New creates a Server with all routes and middleware configured.
func New(cfg Config, store *config.Store, manager *adapter.Manager, authSvc *service.AuthService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		manager: manager,
		logger:  logger,
	}

	limiter := ratelimit.New(store.DB())
	responseCache := cache.New(store.DB())
	bulkMgr := bulk.NewManager(cfg.MaxBatchSize)

	records := handler.NewRecordHandler(manager, store, responseCache, bulkMgr, cfg.CacheTTL, logger)
	system := handler.NewSystemHandler(store, authSvc, manager, limiter, responseCache)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID", "If-None-Match"},
		ExposedHeaders:   []string{"X-Request-ID", "X-API-Version", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "ETag", "Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimiddleware.Compress(5))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// Admin system API. Login is guarded per IP; everything else requires
	// an admin JWT.
	r.Route("/api/v1/system", func(r chi.Router) {
		r.With(middleware.LoginRateLimit(cfg.LoginAttemptsPerMinute)).
			Post("/login", system.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(authSvc))
			r.Use(middleware.RequireAdmin)

			r.Route("/databases", func(r chi.Router) {
				r.Get("/", system.ListDatabases)
				r.Post("/", system.CreateDatabase)
				r.Post("/test", system.TestDatabase)
				r.Route("/{databaseID}", func(r chi.Router) {
					r.Get("/", system.GetDatabase)
					r.Put("/", system.UpdateDatabase)
					r.Delete("/", system.DeleteDatabase)
					r.Get("/size", system.DatabaseSize)
					r.Post("/optimize", system.OptimizeDatabase)
				})
			})

			r.Route("/keys", func(r chi.Router) {
				r.Get("/", system.ListAPIKeys)
				r.Post("/", system.CreateAPIKey)
				r.Route("/{keyID}", func(r chi.Router) {
					r.Delete("/", system.RevokeAPIKey)
					r.Get("/permissions", system.ListKeyPermissions)
					r.Put("/permissions", system.SetPermission)
					r.Get("/usage", system.KeyUsage)
				})
			})

			r.Delete("/permissions/{permissionID}", system.DeletePermission)

			r.Get("/cache/stats", system.CacheStats)
			r.Post("/cache/clear", system.ClearCache)
		})
	})

	// Versioned data API. The version segment is matched as a route
	// parameter so /api/v1/... and /api/v2/... share one tree; the version
	// middleware resolves unsupported tokens to the default.
	r.Route("/api/{apiVersion:v[0-9]+}/db/{databaseID}", func(r chi.Router) {
		r.Use(middleware.APIVersion)
		r.Use(middleware.Authenticate(authSvc))
		r.Use(middleware.Quota(limiter, cfg.RateLimit, cfg.RateWindow, logger))

		r.Route("/_tables", func(r chi.Router) {
			r.Get("/", records.ListTables)
			r.Post("/", records.CreateTable)
			r.Route("/{table}", func(r chi.Router) {
				r.Delete("/", records.DropTable)
				r.Post("/_columns", records.AddColumn)
				r.Delete("/_columns/{column}", records.DropColumn)
			})
		})

		r.Route("/{table}", func(r chi.Router) {
			r.Get("/", records.List)
			r.Post("/", records.Create)
			r.Post("/_bulk", records.Bulk)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", records.Get)
				r.Put("/", records.Update)
				r.Patch("/", records.Update)
				r.Delete("/", records.Delete)
			})
		})
	})

	s.router = r
	return s
}

// handleHealthz is a liveness probe: the process is up.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe: the control store answers queries.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.DB().PingContext(ctx); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// ListenAndServe starts the server and blocks until ctx is cancelled or a
// termination signal arrives, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.manager.ClearAllCaches()
	return nil
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
