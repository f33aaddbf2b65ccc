package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keygate/keygate/internal/app"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/handler"
	"github.com/keygate/keygate/internal/mcp"
	"github.com/keygate/keygate/internal/server/middleware"
)

// Server is the top-level HTTP server for keygate. It owns the Chi router
// and the wired application.
type Server struct {
	cfg        *config.Config
	app        *app.App
	version    string
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(a *app.App, version string) *Server {
	s := &Server{
		cfg:     a.Config,
		app:     a,
		version: version,
		logger:  a.Logger.With("component", "http"),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.app.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With",
			handler.HeaderLicenseKey, handler.HeaderProductID, handler.HeaderHWID,
		},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Probes, metrics and API description (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", s.app.Metrics.Handler())
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.version).ServeSpec)

	a := s.app
	authH := handler.NewAuthHandler(a.Authz, a.Catalog, a.Logger)
	accountH := handler.NewAccountHandler(a.Auth, a.Accounts, a.Catalog, a.Redeemer, a.Logger)
	adminH := handler.NewAdminHandler(a.Auth, a.Accounts, a.Catalog, a.Keys, a.Ring, a.Logger)

	authenticate := middleware.Authenticate(a.Auth)
	limit := s.rateLimit(func(limit int, window time.Duration) func(http.Handler) http.Handler {
		return middleware.RateLimit(limit, window)
	})
	limitByLicense := s.rateLimit(func(limit int, window time.Duration) func(http.Handler) http.Handler {
		return middleware.RateLimitByHeader(handler.HeaderLicenseKey, limit, window)
	})

	// --- MCP over Streamable HTTP (admin only) ---
	r.With(authenticate, middleware.RequireAdmin()).Handle("/mcp", mcp.NewMCPServer(a, s.version).Handler())

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {

		// Credential-based authorization
		r.With(authenticate, middleware.RequireUser()).Post("/auth", authH.Authorize)

		// License-key clients
		r.Route("/license", func(r chi.Router) {
			r.With(limit, limitByLicense).Post("/auth", authH.LicenseAuth)
			r.Get("/product", authH.LicenseProduct)
			r.Post("/sessions", authH.StartSession)
			r.Delete("/sessions/{sessionID}", authH.EndSession)
		})

		// End-user accounts
		r.Route("/account", func(r chi.Router) {
			r.With(limit).Post("/login", accountH.Login)

			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				r.Use(middleware.RequireUser())

				r.Post("/logout", accountH.Logout)
				r.Get("/me", accountH.Me)
				r.Get("/products", accountH.Products)
				r.Post("/redeem", accountH.Redeem)
			})
		})

		// Administration: staff may read, only admins may write.
		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticate)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireStaff())

				r.Get("/products", adminH.ListProducts)
				r.Get("/products/{productID}", adminH.GetProduct)
				r.Get("/products/{productID}/keys", adminH.ListKeys)

				r.Get("/licenses", adminH.ListLicenses)
				r.Get("/licenses/{licenseKey}", adminH.GetLicense)
				r.Get("/licenses/{licenseKey}/sessions", adminH.ListLicenseSessions)
				r.Get("/sessions", adminH.ListActiveSessions)
				r.Get("/logins", adminH.ListLogins)

				r.Get("/users", adminH.ListUsers)
				r.Get("/users/{userID}", adminH.GetUser)

				r.Get("/hwid-bans", adminH.ListBannedHWIDs)
				r.Get("/logs", adminH.GetLogs)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin())

				// Products
				r.Post("/products", adminH.CreateProduct)
				r.Delete("/products/{productID}", adminH.DeleteProduct)
				r.Post("/products/{productID}/freeze", adminH.FreezeProduct)
				r.Post("/products/{productID}/unfreeze", adminH.UnfreezeProduct)
				r.Post("/products/{productID}/compensate", adminH.CompensateProduct)

				// Redemption keys
				r.Post("/products/{productID}/keys", adminH.GenerateKeys)
				r.Delete("/keys/{key}", adminH.DeleteKey)

				// Licenses
				r.Post("/licenses", adminH.GenerateLicense)
				r.Delete("/licenses/{licenseKey}", adminH.DeleteLicense)
				r.Post("/licenses/{licenseKey}/products", adminH.AddLicenseProducts)
				r.Post("/licenses/{licenseKey}/remove-products", adminH.RemoveLicenseProducts)
				r.Post("/licenses/{licenseKey}/reset-hwid", adminH.ResetHWID)

				// Users
				r.Post("/users", adminH.CreateUser)
				r.Put("/users/{userID}/role", adminH.SetRole)
				r.Post("/users/{userID}/ban", adminH.BanUser)
				r.Delete("/users/{userID}/ban", adminH.UnbanUser)
				r.Post("/users/{userID}/revoke", adminH.RevokeUser)
				r.Delete("/users/{userID}/revoke", adminH.ClearRevocation)

				// Hardware bans
				r.Post("/hwid-bans", adminH.BanHWID)
				r.Delete("/hwid-bans/{hwid}", adminH.UnbanHWID)

				r.Delete("/logs", adminH.ClearLogs)
			})
		})
	})

	s.router = r
}

// rateLimit builds a limiter from the configured budget, or a pass-through
// when rate limiting is disabled.
func (s *Server) rateLimit(build func(int, time.Duration) func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	rl := s.cfg.RateLimit
	if !rl.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return build(rl.Limit, rl.Window)
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the database and the
// revocation store answer, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"database": "ok", "redis": "ok"}

	if err := s.app.Store.Ping(r.Context()); err != nil {
		checks["database"] = "error: " + err.Error()
		status = "degraded"
	}
	if err := s.app.Redis.Ping(r.Context()).Err(); err != nil {
		checks["redis"] = "error: " + err.Error()
		status = "degraded"
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the application.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	tls := s.cfg.Server.TLS

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "tls", tls.Enabled)
		var err error
		if tls.Enabled {
			err = s.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.app.Close(); err != nil {
		s.logger.Warn("close failed", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
