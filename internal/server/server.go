// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/defiintel/internal/analysis"
	"github.com/mbd888/defiintel/internal/assessments"
	"github.com/mbd888/defiintel/internal/auth"
	"github.com/mbd888/defiintel/internal/config"
	"github.com/mbd888/defiintel/internal/health"
	"github.com/mbd888/defiintel/internal/idgen"
	"github.com/mbd888/defiintel/internal/logging"
	"github.com/mbd888/defiintel/internal/metrics"
	"github.com/mbd888/defiintel/internal/model"
	"github.com/mbd888/defiintel/internal/ratelimit"
	"github.com/mbd888/defiintel/internal/realtime"
	"github.com/mbd888/defiintel/internal/security"
	"github.com/mbd888/defiintel/internal/traces"
	"github.com/mbd888/defiintel/internal/validation"
	"github.com/mbd888/defiintel/internal/webhooks"
)

// Version is reported by the health and info endpoints. cmd/server
// overrides it with the linker-stamped build version.
var Version = "0.1.0"

// heavyRouteCost is the extra rate limit charge for batch analysis and
// training, on top of the one token every request pays.
const heavyRouteCost = 9

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	detector    *model.Detector
	store       assessments.Store
	analysis    *analysis.Service
	realtimeHub *realtime.Hub
	webhooks    *webhooks.Dispatcher
	hookStore   webhooks.Store
	authMgr     *auth.Manager
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	listener    net.Listener

	shutdownTraces func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	drainDelay     time.Duration
	startedAt      time.Time

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDetector injects a model detector instead of building one from config.
func WithDetector(d *model.Detector) Option {
	return func(s *Server) {
		s.detector = d
	}
}

// WithStore injects an assessment store instead of choosing one from config.
func WithStore(store assessments.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// routing traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// WithListener serves on l instead of listening on the configured port.
func WithListener(l net.Listener) Option {
	return func(s *Server) {
		s.listener = l
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
		startedAt:  time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, traces.Config{
		Endpoint:       cfg.OTLPEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
		ServiceName:    "defiintel",
		ServiceVersion: Version,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTraces = shutdown

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := openDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			s.db = db
			s.store = assessments.NewPostgresStore(db)
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = assessments.NewMemoryStore()
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}

	if s.detector == nil {
		s.detector = model.New(model.Config{
			Path:          cfg.ModelPath,
			Trees:         cfg.ModelTrees,
			MaxDepth:      cfg.ModelMaxDepth,
			Contamination: cfg.ModelContamination,
			TestFraction:  cfg.ModelTestFraction,
			Seed:          cfg.ModelSeed,
		}, model.WithLogger(s.logger), model.WithFallback(cfg.ModelFallback))
	}
	status := s.detector.Status()
	metrics.SetModelState(string(status.State))
	s.logger.Info("model loaded",
		"state", status.State,
		"model_type", status.ModelType,
		"fallback", status.Fallback,
	)

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger, realtime.WithAllowedOrigins(cfg.CORSOrigins))

	if s.db != nil {
		s.hookStore = webhooks.NewPostgresStore(s.db)
	} else {
		s.hookStore = webhooks.NewMemoryStore()
	}
	var keyStore auth.Store = auth.NewMemoryStore()
	if s.db != nil {
		keyStore = auth.NewPostgresStore(s.db)
	}
	s.authMgr = auth.NewManager(keyStore, auth.WithAdminKey(cfg.AdminAPIKey))

	s.webhooks = webhooks.NewDispatcher(s.hookStore,
		webhooks.WithLogger(s.logger),
		webhooks.WithURLValidator(s.endpointValidator()),
	)

	s.analysis = analysis.NewService(s.detector,
		analysis.WithStore(s.store),
		analysis.WithAlerter(analysis.Alerters(s.realtimeHub, s.webhooks)),
		analysis.WithAlertThreshold(cfg.AlertMinScore),
		analysis.WithMaxRecords(cfg.MaxRecords),
		analysis.WithLocation(cfg.Location()),
		analysis.WithLogger(s.logger),
	)

	s.health = health.NewRegistry()
	s.health.Register("model", s.analysis.HealthCheck)
	if s.db != nil {
		s.health.Register("database", health.PingChecker("database", s.db))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// endpointValidator vets webhook callback URLs. Private targets are only
// allowed when explicitly enabled for local development.
func (s *Server) endpointValidator() func(string) error {
	if s.cfg.WebhookAllowPrivate {
		return security.AllowAnyEndpoint
	}
	return security.ValidateEndpointURL
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})

	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = idgen.Request()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		if addr := c.Param("address"); addr != "" {
			ctx = logging.WithSubject(ctx, addr)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		// Probes and scrapes would drown everything else at info.
		if path == "/metrics" || path == "/health/live" || path == "/health/ready" {
			logger.Debug("request completed", "path", path, "status", status)
			return
		}

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time alerts
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1", s.rateLimiter.Middleware(), auth.Middleware(s.authMgr))
	auth.NewHandler(s.authMgr).RegisterRoutes(v1)
	if s.cfg.AuthRequired {
		v1.Use(auth.RequireAuth())
	}
	v1.GET("/stream/stats", s.streamStatsHandler)

	analysis.NewHandler(s.analysis).
		WithHeavyMiddleware(s.rateLimiter.Cost(heavyRouteCost)).
		RegisterRoutes(v1)
	webhooks.NewHandler(s.hookStore, s.endpointValidator()).RegisterRoutes(v1)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No route for " + c.Request.Method + " " + c.Request.URL.Path,
		})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	status := s.detector.Status()
	c.JSON(http.StatusOK, gin.H{
		"name":       "defiintel",
		"version":    Version,
		"uptime_s":   int64(time.Since(s.startedAt).Seconds()),
		"model":      status.State,
		"model_type": status.ModelType,
		"timezone":   s.cfg.Location().String(),
		"auth":       s.cfg.AuthRequired,
		"endpoints": gin.H{
			"wallet":      "POST /v1/wallets/:address/analyze",
			"token":       "POST /v1/tokens/:address/analyze",
			"combined":    "POST /v1/analyze",
			"detect":      "POST /v1/detect",
			"predict":     "POST /v1/predict",
			"history":     "GET /v1/assessments/:address",
			"assessment":  "GET /v1/assessment/:id",
			"samples":     "POST|GET|DELETE /v1/training/samples",
			"train":       "POST /v1/training/train",
			"model":       "GET /v1/model",
			"stream":      "GET /ws",
			"streamStats": "GET /v1/stream/stats",
			"webhooks":    "POST|GET /v1/webhooks, GET|DELETE /v1/webhooks/:id",
			"keys":        "POST|GET /v1/keys, DELETE /v1/keys/:id (admin key)",
		},
	})
}

func (s *Server) streamStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // training runs synchronously
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Info("starting server", "addr", s.listener.Addr().String())
			err = s.httpSrv.Serve(s.listener)
		} else {
			s.logger.Info("starting server", "port", s.cfg.Port)
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if err := s.webhooks.Drain(ctx); err != nil {
		s.logger.Warn("webhook deliveries still in flight at shutdown", "error", err)
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Analysis returns the scoring service.
func (s *Server) Analysis() *analysis.Service {
	return s.analysis
}
