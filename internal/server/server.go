// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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

	"paylance/internal/config"
	"paylance/internal/escrow"
	"paylance/internal/gateway"
	"paylance/internal/idgen"
	"paylance/internal/ledger"
	"paylance/internal/logging"
	"paylance/internal/metrics"
	"paylance/internal/orders"
	"paylance/internal/wallet"
	"paylance/internal/withdrawal"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	orderSource orders.Source
	provider    gateway.Provider

	ledger      *ledger.Service
	wallets     *wallet.Service
	escrow      *escrow.Service
	escrowTimer *escrow.Timer
	checkout    *gateway.Service
	reconciler  *gateway.Reconciler
	withdrawals *withdrawal.Service

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// WithProvider sets a custom payment provider (for testing)
func WithProvider(p gateway.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// WithOrderSource sets the order source the payments pipeline resolves
// checkouts against. Defaults to an in-memory source with demo orders.
func WithOrderSource(src orders.Source) Option {
	return func(s *Server) {
		s.orderSource = src
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set provider/logger/order source)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		walletStore     wallet.Store
		ledgerStore     ledger.Store
		escrowStore     escrow.Store
		withdrawalStore withdrawal.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		ws := wallet.NewPostgresStore(db)
		if err := ws.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate wallet store", "error", err)
		}
		walletStore = ws

		ls := ledger.NewPostgresStore(db)
		if err := ls.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate ledger store", "error", err)
		}
		ledgerStore = ls

		es := escrow.NewPostgresStore(db)
		if err := es.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate escrow store", "error", err)
		}
		escrowStore = es

		wd := withdrawal.NewPostgresStore(db)
		if err := wd.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate withdrawal store", "error", err)
		}
		withdrawalStore = wd
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		walletStore = wallet.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		withdrawalStore = withdrawal.NewMemoryStore()
	}

	// Wire the money pipeline: ledger underneath, wallets on top of it,
	// escrow on top of both.
	s.ledger = ledger.New(ledgerStore)
	s.wallets = wallet.New(walletStore, s.ledger)
	s.escrow = escrow.NewService(escrowStore, s.wallets, &txLogAdapter{s.ledger}).
		WithHoldWindow(time.Duration(cfg.AutoReleaseDays) * 24 * time.Hour)
	s.escrowTimer = escrow.NewTimer(s.escrow, escrowStore,
		time.Duration(cfg.SweepIntervalSecs)*time.Second, s.logger)
	s.logger.Info("escrow enabled",
		"holdDays", cfg.AutoReleaseDays, "sweepSecs", cfg.SweepIntervalSecs)

	// Order source (the marketplace side of the house)
	if s.orderSource == nil {
		src := orders.NewMemorySource()
		if !cfg.IsProduction() {
			seedDemoOrders(src)
			s.logger.Info("seeded demo orders")
		}
		s.orderSource = src
	}

	// Payment gateway
	if s.provider == nil {
		p, err := newProvider(cfg)
		if err != nil {
			return nil, err
		}
		s.provider = p
	}
	s.checkout = gateway.NewService(s.provider, s.orderSource, s.escrow,
		gateway.BasisPointsPolicy(cfg.CommissionRateBps), cfg.CallbackURL, s.logger)
	s.reconciler = gateway.NewReconciler(s.provider, s.ledger, s.escrow, s.orderSource)
	s.logger.Info("payment gateway enabled",
		"provider", s.provider.Name(), "commissionBps", cfg.CommissionRateBps)

	// Withdrawals
	s.withdrawals = withdrawal.NewService(withdrawalStore, s.wallets, s.ledger, cfg.MinWithdrawalKobo)
	s.logger.Info("withdrawals enabled", "minimumKobo", cfg.MinWithdrawalKobo)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// newProvider builds the configured payment provider.
func newProvider(cfg *config.Config) (gateway.Provider, error) {
	switch cfg.Provider {
	case "paystack":
		return gateway.NewPaystack(cfg.PaystackSecretKey), nil
	case "flutterwave":
		return gateway.NewFlutterwave(cfg.FlutterwaveSecretKey), nil
	case "stripe":
		return gateway.NewStripe(cfg.StripeSecretKey), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// seedDemoOrders registers a few orders so checkout is exercisable without
// the marketplace service running alongside.
func seedDemoOrders(src *orders.MemorySource) {
	src.PutGig(&orders.GigOrder{
		ID:        "1001",
		ClientID:  "demo-client",
		SellerID:  "demo-freelancer",
		Title:     "Logo design",
		PriceKobo: 2500000, // ₦25,000
	})
	src.PutProject(&orders.ProjectOrder{
		ID:           "2001",
		ClientID:     "demo-client",
		FreelancerID: "demo-freelancer",
		Title:        "Company website build",
		BidKobo:      15000000, // ₦150,000
	})
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

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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

// adminAuthMiddleware guards operator endpoints with a shared secret header.
// Without a configured secret, admin routes stay open in development and are
// refused outright in production.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsProduction() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "admin_disabled",
					"message": "Admin endpoints require ADMIN_SECRET to be configured",
				})
				return
			}
			c.Next()
			return
		}

		if c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid X-Admin-Secret header required",
			})
			return
		}
		c.Next()
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

	// API info
	s.router.GET("/", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	wallet.NewHandler(s.wallets, s.logger).RegisterRoutes(v1)
	ledger.NewHandler(s.ledger, s.logger).RegisterRoutes(v1)

	escrowHandler := escrow.NewHandler(s.escrow, s.logger)
	escrowHandler.RegisterRoutes(v1)

	gateway.NewHandler(s.checkout, s.reconciler, s.logger).RegisterRoutes(v1)

	withdrawalHandler := withdrawal.NewHandler(s.withdrawals, s.logger)
	withdrawalHandler.RegisterRoutes(v1)

	// ADMIN ROUTES (operator decisions: refunds, dispute resolution, payouts)
	admin := v1.Group("/admin")
	admin.Use(s.adminAuthMiddleware())
	escrowHandler.RegisterAdminRoutes(admin)
	withdrawalHandler.RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "in-memory"
	}

	if s.escrowTimer.Running() {
		checks["escrow_timer"] = "healthy"
	} else {
		checks["escrow_timer"] = "stopped"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v == "unhealthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
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
	c.JSON(http.StatusOK, gin.H{
		"name":        "Paylance",
		"description": "Payments, escrow and withdrawals for the freelance marketplace",
		"version":     "0.1.0",
		"currency":    "NGN",
		"provider":    s.provider.Name(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
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

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"provider", s.provider.Name(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start escrow auto-release timer
	go s.escrowTimer.Start(runCtx)

	// Sample connection pool stats into Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (escrow timer, stats)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop escrow timer
	s.escrowTimer.Stop()
	s.logger.Info("escrow timer stopped")

	// Close database connection pool
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
