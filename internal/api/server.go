package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aegis-sec/aegis/internal/audit"
	"github.com/aegis-sec/aegis/internal/auth"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/intel"
	"github.com/aegis-sec/aegis/internal/notifications"
	"github.com/aegis-sec/aegis/internal/response"
	"github.com/aegis-sec/aegis/internal/sandbox"
	"github.com/aegis-sec/aegis/internal/scan"
	"github.com/aegis-sec/aegis/internal/scheduler"
	"github.com/aegis-sec/aegis/internal/signatures"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	http   *http.Server
	logger *slog.Logger

	store      *audit.PostgresStore
	sigEngine  *signatures.Engine
	scanner    *scan.Scanner
	intelStore intel.Store

	authService *auth.Service
	userStore   auth.UserStore

	notificationService *notifications.Service
	scheduler           *scheduler.Scheduler
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	st, err := audit.NewPostgresStore(audit.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing audit store: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		store:  st,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	s.userStore = auth.NewPostgresUserStore(st.DB())
	s.authService = auth.NewService(auth.Config{
		JWTSecret:         cfg.Auth.JWTSecret,
		AccessTokenExpiry: cfg.Auth.AccessTokenExpiry,
	}, s.userStore)

	s.sigEngine = signatures.NewEngine(signatures.NewPostgresStore(st.DB()), s.logger)
	s.sigEngine.Load(ctx)

	s.intelStore = s.buildIntelStore()
	s.notificationService = notifications.NewService(cfg.Notifications, s.logger)

	responder := response.NewEngine(st, s.notificationService, s.logger)

	s.scanner = scan.New(
		scan.Config{
			MaxArtifactSize:         cfg.Scanner.MaxArtifactSize,
			SignatureMatchThreshold: cfg.Scanner.SignatureMatchThreshold,
			QuantumEnabled:          cfg.Scanner.QuantumEnabled(),
			TriggerThreshold:        cfg.Response.TriggerThreshold,
			ElevatedLogThreshold:    cfg.Response.ElevatedLogThreshold,
		},
		s.sigEngine,
		sandbox.NewExecutor(s.buildSandboxRuntime(), cfg.Sandbox, s.logger),
		st,
		s.intelStore,
		responder,
		s.notificationService,
		s.logger,
	)

	if err := s.setupScheduler(); err != nil {
		return nil, fmt.Errorf("setting up scheduler: %w", err)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// buildSandboxRuntime prefers container isolation and degrades to the
// in-process emulation when no Docker daemon is reachable.
func (s *Server) buildSandboxRuntime() sandbox.Runtime {
	rt, err := sandbox.NewDockerRuntime()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if pingErr := rt.Ping(ctx); pingErr == nil {
			s.logger.Info("sandbox runtime ready", "runtime", "docker")
			return rt
		}
		err = fmt.Errorf("docker daemon unreachable")
	}
	s.logger.Warn("falling back to local sandbox emulation", "error", err)
	return sandbox.NewLocalRuntime()
}

func (s *Server) buildIntelStore() intel.Store {
	store, err := intel.NewRedisStore(intel.RedisConfig{
		Addr:     s.cfg.Redis.Addr(),
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	if err != nil {
		s.logger.Warn("redis unavailable, using in-memory threat intelligence", "error", err)
		return intel.NewMemoryStore()
	}
	s.logger.Info("threat intelligence store ready", "backend", "redis")
	return store
}

func (s *Server) setupScheduler() error {
	s.scheduler = scheduler.New(s.logger)

	if err := s.scheduler.Register(scheduler.Job{
		Name:     "signature_reload",
		Schedule: s.cfg.Scanner.SignatureReloadSchedule,
		Handler: func(ctx context.Context) error {
			s.sigEngine.Load(ctx)
			return nil
		},
	}); err != nil {
		return err
	}

	retentionDays := s.cfg.Retention.Days
	return s.scheduler.Register(scheduler.Job{
		Name:     "audit_cleanup",
		Schedule: s.cfg.Retention.CleanupSchedule,
		Handler: func(ctx context.Context) error {
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				return err
			}
			s.logger.Info("audit retention cleanup", "deleted_scans", deleted, "cutoff", cutoff)
			return nil
		},
	})
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(120 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.OptionalAuth)

			r.Post("/scan", s.submitScan)
			r.Get("/stats", s.getStats)
			r.Get("/history", s.getHistory)
			r.Get("/scans/{scanID}", s.getScan)
			r.Get("/signatures", s.listSignatures)
			r.Get("/signatures/{signatureID}", s.getSignature)
			r.Get("/responses", s.listResponses)
			r.Get("/responses/{responseID}", s.getResponse)
			r.Get("/responses/{responseID}/report", s.getResponseReport)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)
			r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleAnalyst))

			r.Post("/signatures", s.createSignature)
			r.Put("/signatures/{signatureID}", s.updateSignature)
			r.Delete("/signatures/{signatureID}", s.deleteSignature)
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	s.scheduler.Start()

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.scheduler.Stop()
		s.scanner.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total int `json:"total,omitempty"`
	Limit int `json:"limit,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

// respondErrorWithData carries both an error and a payload. Used when a
// scan computed a result but the audit write failed: the caller gets the
// result with persisted=false and a 5xx status to retry against.
func respondErrorWithData(w http.ResponseWriter, status int, code, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Data:    data,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
