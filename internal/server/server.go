// Package server wires the HTTP API together.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/jayasurya0007/prism-wallet/internal/agent"
	"github.com/jayasurya0007/prism-wallet/internal/automation"
	"github.com/jayasurya0007/prism-wallet/internal/config"
	"github.com/jayasurya0007/prism-wallet/internal/decision"
	"github.com/jayasurya0007/prism-wallet/internal/health"
	"github.com/jayasurya0007/prism-wallet/internal/indexer"
	"github.com/jayasurya0007/prism-wallet/internal/logging"
	"github.com/jayasurya0007/prism-wallet/internal/metrics"
	"github.com/jayasurya0007/prism-wallet/internal/pipeline"
	"github.com/jayasurya0007/prism-wallet/internal/policy"
	"github.com/jayasurya0007/prism-wallet/internal/ratelimit"
	"github.com/jayasurya0007/prism-wallet/internal/realtime"
	"github.com/jayasurya0007/prism-wallet/internal/risk"
	"github.com/jayasurya0007/prism-wallet/internal/security"
	"github.com/jayasurya0007/prism-wallet/internal/session"
	"github.com/jayasurya0007/prism-wallet/internal/settlement"
	"github.com/jayasurya0007/prism-wallet/internal/signer"
	"github.com/jayasurya0007/prism-wallet/internal/signing"
	"github.com/jayasurya0007/prism-wallet/internal/validation"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg *config.Config

	policies    *policy.Service
	sessions    *session.Manager
	rotator     *session.Rotator
	grants      *session.Grants
	controller  *automation.Controller
	signer      *signer.Signer
	settlements *settlement.Service
	runner      *agent.Runner
	hub         *realtime.Hub
	indexerCl   indexer.Client
	feedDetach  func()

	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	rdb          *redis.Client
	signingCl    signing.Client
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithSigningClient injects a signing backend (for testing).
func WithSigningClient(client signing.Client) Option {
	return func(s *Server) { s.signingCl = client }
}

// New builds the full service graph from cfg.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Outbound service endpoints must not point into private address
	// space when running in production.
	if cfg.IsProduction() {
		for name, u := range map[string]string{
			"signing service": cfg.SigningServiceURL,
			"indexer":         cfg.IndexerURL,
			"settlement":      cfg.SettlementURL,
		} {
			if u == "" {
				continue
			}
			if err := security.ValidateEndpointURL(u); err != nil {
				return nil, fmt.Errorf("%s URL: %w", name, err)
			}
		}
	}

	var (
		policyStore     policy.Store
		settlementStore settlement.Store
		eventStore      session.EventStore
		stateStore      automation.StateStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.db = db
		policyStore = policy.NewPostgresStore(db)
		settlementStore = settlement.NewPostgresStore(db)
		eventStore = session.NewPostgresEventStore(db)
		stateStore = automation.NewPostgresStateStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		policyStore = policy.NewMemoryStore()
		settlementStore = settlement.NewMemoryStore()
		eventStore = session.NewMemoryEventStore()
		stateStore = automation.NewMemoryStateStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Indexer reads, cached through Redis when configured.
	var idx indexer.Client = indexer.NewHTTPClient(cfg.IndexerURL)
	if cfg.RedisAddr != "" {
		s.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		idx = indexer.NewCachedClient(idx, s.rdb)
		s.logger.Info("indexer read caching enabled", "addr", cfg.RedisAddr)
	}
	s.indexerCl = idx

	if s.signingCl == nil {
		s.signingCl = signing.NewHTTPClient(cfg.SigningServiceURL)
	}

	s.policies = policy.NewService(policyStore)
	s.sessions = session.NewManager()
	s.grants = session.NewGrants(time.Now)
	s.rotator = session.NewRotator(s.sessions, s.grants, eventStore)

	s.controller = automation.NewController(automation.WithStore(stateStore))
	if err := s.controller.LoadState(ctx); err != nil {
		return nil, fmt.Errorf("restore automation state: %w", err)
	}

	sgn, err := signer.New(s.policies, s.sessions, s.signingCl, cfg.SigningScriptCID,
		signer.WithConsumeCooldownOnFailure(cfg.ConsumeCooldownOnFailure))
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	s.signer = sgn

	network := settlement.NewHTTPNetwork(cfg.SettlementURL)
	s.settlements = settlement.NewService(network, settlementStore,
		settlement.WithRequiredConfirmations(cfg.RequiredConfirmations),
		settlement.WithPollInterval(cfg.ConfirmPollInterval))

	pipe := pipeline.New(
		decision.NewEngine(idx),
		risk.NewAssessor(idx),
		s.policies,
		s.controller,
		s.signer,
		s.settlements,
		idx,
	)
	s.runner = agent.NewRunner(pipe, s.controller)

	s.hub = realtime.NewHub(s.logger)
	detachFeed := realtime.Attach(s.hub, s.settlements, s.controller)
	detachRuns := realtime.AttachRuns(s.hub, s.runner)
	detachApprovals := func() {}
	if cfg.ManualSettlementApproval {
		detachApprovals = realtime.AttachApprovals(s.hub, s.settlements)
		s.logger.Info("manual settlement approval enabled")
	}
	s.feedDetach = func() {
		detachFeed()
		detachRuns()
		detachApprovals()
	}

	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", health.PingChecker("database", func(ctx context.Context) error {
			return s.db.PingContext(ctx)
		}))
	}
	if s.rdb != nil {
		s.checks.Register("redis", health.PingChecker("redis", func(ctx context.Context) error {
			return s.rdb.Ping(ctx).Err()
		}))
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

// maskDSN hides the password in a connection string for logging.
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

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
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
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
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

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")

	policy.NewHandler(s.policies).RegisterRoutes(v1)
	automation.NewHandler(s.controller).RegisterRoutes(v1)
	session.NewHandler(s.sessions, s.rotator, s.grants).RegisterRoutes(v1)
	settlement.NewHandler(s.settlements).RegisterRoutes(v1)
	agent.NewHandler(s.runner, s.controller).RegisterRoutes(v1)
	indexer.NewHandler(s.indexerCl).RegisterRoutes(v1)

	v1.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})
}

type healthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthyAll, statuses := s.checks.CheckAll(ctx)
	status := "healthy"
	httpStatus := http.StatusOK
	if !healthyAll {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, healthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
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
	c.JSON(http.StatusOK, gin.H{
		"name":        "Prism Wallet",
		"description": "Policy-constrained autonomous signing for on-chain agents",
		"version":     "0.1.0",
	})
}

// Run starts the HTTP server with graceful shutdown. When an agent identity
// is configured, scheduled analysis starts automatically.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	if s.cfg.AgentIdentity != "" && s.cfg.AgentAddress != "" {
		err := s.runner.Start(runCtx, agent.Config{
			Identity:         s.cfg.AgentIdentity,
			Address:          s.cfg.AgentAddress,
			AnalysisInterval: s.cfg.AnalysisInterval,
		})
		if err != nil {
			s.logger.Error("agent not started", "error", err)
		}
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if err := s.runner.Stop(context.Background()); err != nil && !errors.Is(err, agent.ErrNotRunning) {
		s.logger.Error("agent stop error", "error", err)
	}

	// Cancel the context for background goroutines (hub, agent loop).
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic.
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.feedDetach != nil {
		s.feedDetach()
	}

	s.rotator.Close()
	s.logger.Info("rotation timers stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
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

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
