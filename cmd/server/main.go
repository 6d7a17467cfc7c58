package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	appreconciliation "github.com/erp/reconciliation/internal/application/reconciliation"
	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/cache"
	"github.com/erp/reconciliation/internal/infrastructure/config"
	"github.com/erp/reconciliation/internal/infrastructure/event"
	"github.com/erp/reconciliation/internal/infrastructure/ledger"
	"github.com/erp/reconciliation/internal/infrastructure/logger"
	"github.com/erp/reconciliation/internal/infrastructure/migration"
	"github.com/erp/reconciliation/internal/infrastructure/persistence"
	"github.com/erp/reconciliation/internal/infrastructure/scheduler"
	"github.com/erp/reconciliation/internal/infrastructure/strategy"
	"github.com/erp/reconciliation/internal/infrastructure/strategy/matching"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
	"github.com/erp/reconciliation/internal/interfaces/http/handler"
	"github.com/erp/reconciliation/internal/interfaces/http/middleware"
	"github.com/erp/reconciliation/internal/interfaces/http/router"
	"github.com/erp/reconciliation/migrations"
)

//	@title			Delivery Reconciliation API
//	@version		1.0
//	@description	Verifies supplier deliveries against per-store invoice ledgers and reconciles them in the background.

//	@host		localhost:8080
//	@BasePath	/api/v1

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	baseLog, err := logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync(baseLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry comes first so that the bridged logger is used everywhere
	providers, err := telemetry.NewProviders(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
		ExportLogs:        cfg.Telemetry.ExportLogs,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			baseLog.Error("Error shutting down telemetry", zap.Error(err))
		}
	}()
	log := providers.BridgeLogger(baseLog, cfg.Telemetry.ServiceName)

	log.Info("Starting reconciliation service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	metrics, err := telemetry.NewReconciliationMetrics(providers.Meter("reconciliation"))
	if err != nil {
		log.Fatal("Failed to register reconciliation metrics", zap.Error(err))
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Database.LogLevel), cfg.Database.SlowThreshold)
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:            cfg.Telemetry.Enabled && cfg.Telemetry.TraceDB,
		WithQueryVariables: cfg.App.Env == "development",
	}, log); err != nil {
		log.Fatal("Failed to enable database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully")

	if cfg.Database.AutoMigrate {
		if err := migrate(db, log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	// Repositories
	deliveryRepo := persistence.NewGormDeliveryRepository(db.DB)
	configRepo := persistence.NewGormStoreLedgerConfigRepository(db.DB)
	verificationRepo := persistence.NewGormVerificationRepository(db.DB)

	// Verification locks: Redis when configured, process-local otherwise
	locker, err := cache.NewLockerFactory(cfg.Redis, cache.WithLogger(log)).CreateLocker(ctx)
	if err != nil {
		log.Fatal("Failed to create verification locker", zap.Error(err))
	}
	defer func() {
		if err := locker.Close(); err != nil {
			log.Error("Error closing verification locker", zap.Error(err))
		}
	}()

	// Ledger client and matching chain
	ledgerClient := ledger.NewClient(ledger.Config{
		Timeout:          cfg.Ledger.Timeout,
		PageLimit:        cfg.Ledger.PageLimit,
		MaxResponseBytes: cfg.Ledger.MaxResponseBytes,
	}, ledger.WithLogger(log), ledger.WithMetrics(metrics))

	registry, err := strategy.NewMatchingRegistryWithDefaults(ledgerClient, matching.Options{
		AmountTolerance: decimal.NewFromFloat(cfg.Reconciliation.AmountTolerance),
		DateWindow:      cfg.Reconciliation.DateWindow,
	})
	if err != nil {
		log.Fatal("Failed to register matching strategies", zap.Error(err))
	}
	blStrategy, err := registry.ByMatchType(reconciliation.MatchTypeBLNumber)
	if err != nil {
		log.Fatal("BL number strategy missing", zap.Error(err))
	}
	log.Info("Matching strategies registered", zap.Strings("chain", registry.Names()))

	// Application services
	verificationService := appreconciliation.NewVerificationService(
		deliveryRepo,
		configRepo,
		verificationRepo,
		appreconciliation.NewMatcher(registry.Chain(), log),
		appreconciliation.WithLogger(log),
		appreconciliation.WithLocker(locker),
		appreconciliation.WithMetrics(metrics),
		appreconciliation.WithCacheTTL(cfg.Reconciliation.CacheTTL),
		appreconciliation.WithLockTTL(cfg.Reconciliation.LockTTL),
	)
	batchOrchestrator := appreconciliation.NewBatchOrchestrator(
		verificationService,
		cfg.Reconciliation.BatchSize,
		cfg.Reconciliation.BatchPause,
		log,
	)

	// Event bus: reconciled deliveries drop their cached verification
	eventBus := event.NewInMemoryEventBus(log)
	eventBus.Subscribe(appreconciliation.NewDeliveryReconciledHandler(verificationService, log))
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Scheduler
	executor := scheduler.NewReconciliationExecutor(
		deliveryRepo,
		configRepo,
		blStrategy,
		log,
		scheduler.WithPublisher(eventBus),
		scheduler.WithExecutorMetrics(metrics),
		scheduler.WithRunLimit(cfg.Reconciliation.RunLimit),
	)
	schedulerConfig := scheduler.DefaultReconciliationSchedulerConfig()
	schedulerConfig.Enabled = cfg.Reconciliation.Enabled
	schedulerConfig.Interval = cfg.Reconciliation.Interval
	schedulerConfig.HistorySize = cfg.Reconciliation.HistorySize
	schedulerConfig.CleanupInterval = cfg.Reconciliation.CleanupInterval

	reconciliationScheduler, err := scheduler.NewReconciliationScheduler(
		schedulerConfig,
		executor,
		log,
		scheduler.WithCleaner(verificationService),
		scheduler.WithSchedulerMetrics(metrics),
	)
	if err != nil {
		log.Fatal("Failed to create reconciliation scheduler", zap.Error(err))
	}
	if err := reconciliationScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start reconciliation scheduler", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := reconciliationScheduler.Stop(stopCtx); err != nil {
			log.Error("Error stopping reconciliation scheduler", zap.Error(err))
		}
	}()

	// HTTP engine
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.SpanEnricher())
	httpMetrics, err := middleware.HTTPMetrics(providers.Meter("http.server"))
	if err != nil {
		log.Fatal("Failed to register HTTP metrics", zap.Error(err))
	}
	engine.Use(httpMetrics)
	engine.Use(middleware.BodyLimit(middleware.DefaultBodyLimit))

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, map[string]handler.HealthCheck{
		"database": db.Ping,
		"locks":    locker.Ping,
	})
	engine.GET("/health", systemHandler.Health)

	// Ledger-bound endpoints share a per-client budget
	var ledgerGuard gin.HandlerFunc
	if cfg.HTTP.LedgerRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.HTTP.LedgerRateLimit, cfg.HTTP.LedgerRateWindow)
		go limiter.Run(ctx)
		ledgerGuard = middleware.RateLimit(limiter)
	}

	reconciliationHandler := handler.NewReconciliationHandler(
		verificationService,
		batchOrchestrator,
		reconciliationScheduler,
		cfg.HTTP.MaxBatchSize,
	)

	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	reconciliationRoutes := handler.ReconciliationRoutes(reconciliationHandler, ledgerGuard)
	router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(reconciliationRoutes).
		Register(systemRoutes).
		Setup()
	log.Info("Routes registered", zap.Strings("reconciliation", reconciliationRoutes.Routes()))

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serverErr:
		log.Error("Server failed", zap.Error(err))
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// migrate applies the embedded migrations
func migrate(db *persistence.Database, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.NewEmbedded(sqlDB, migrations.FS, log)
	if err != nil {
		return err
	}
	// Close would also close sqlDB, which the server keeps using
	return m.Up()
}
