package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pharma-chain.backend/internal/config"
	domainRepos "pharma-chain.backend/internal/domain/repositories"
	"pharma-chain.backend/internal/infrastructure/blockchain"
	pgconn "pharma-chain.backend/internal/infrastructure/datasources/postgres"
	"pharma-chain.backend/internal/infrastructure/jobs"
	"pharma-chain.backend/internal/infrastructure/metrics"
	"pharma-chain.backend/internal/infrastructure/models"
	"pharma-chain.backend/internal/infrastructure/repositories"
	"pharma-chain.backend/internal/interfaces/http/handlers"
	"pharma-chain.backend/internal/interfaces/http/middleware"
	"pharma-chain.backend/internal/usecases"
	"pharma-chain.backend/pkg/jwt"
	"pharma-chain.backend/pkg/logger"
	"pharma-chain.backend/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	openSQL    = pgconn.NewConnection
	openDB     = func(sqlDB *sql.DB) (*gorm.DB, error) {
		return gorm.Open(postgres.New(postgres.Config{
			Conn:                 sqlDB,
			PreferSimpleProtocol: true,
		}), &gorm.Config{
			PrepareStmt: false,
		})
	}
	migrateDB = func(db *gorm.DB) error {
		return db.AutoMigrate(&models.Batch{}, &models.LedgerEvent{})
	}
	dialLedger = func(rpcURL string) (ledgerClient, error) {
		return blockchain.NewEVMClient(rpcURL)
	}
	runServer = func(srv *http.Server) error { return srv.ListenAndServe() }
	// shutdownSignal is closed when the process should stop
	shutdownSignal = func() <-chan struct{} {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		done := make(chan struct{})
		go func() {
			<-quit
			close(done)
		}()
		return done
	}
)

// ledgerClient is the EVM surface the server wires into the ledger facade and watcher
type ledgerClient interface {
	blockchain.ViewCaller
	blockchain.LogSource
	Close()
}

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := loadCfg()

	initLog(cfg.Server.Env)
	ctx := context.Background()
	logger.Info(ctx, "Logger initialized", zap.String("env", cfg.Server.Env))

	if err := initRedis(cfg.Redis.URL, cfg.Redis.PASSWORD); err != nil {
		logger.Error(ctx, "Failed to initialize Redis", zap.Error(err))
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redis.Close()
	logger.Info(ctx, "Redis initialized")

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	sqlDB, err := openSQL(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer sqlDB.Close()

	db, err := openDB(sqlDB)
	if err != nil {
		return fmt.Errorf("failed to initialize gorm: %w", err)
	}
	if err := migrateDB(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info(ctx, "Connected to PostgreSQL")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reconcilerMetrics := metrics.NewReconcilerMetrics()
	reconcilerMetrics.Register(registry)

	// Ledger wiring is optional: without it verification skips the ledger
	// cross-check and the listener stays off.
	var (
		ledger domainRepos.LedgerReader
		source domainRepos.EventSource
	)
	if cfg.Ledger.Enabled() {
		client, err := dialLedger(cfg.Ledger.RPCURL)
		if err != nil {
			logger.Warn(ctx, "Ledger RPC unavailable, continuing without ledger", zap.Error(err))
		} else {
			defer client.Close()
			ledger = blockchain.NewPharmaLedger(client, cfg.Ledger.ContractAddress)
			source = blockchain.NewEventWatcher(
				client,
				cfg.Ledger.ContractAddress,
				blockchain.NewRedisCursorStore("ledger"),
				blockchain.WatcherOptions{
					StartBlock:       cfg.Ledger.StartBlock,
					PollInterval:     cfg.Ledger.PollInterval,
					Confirmations:    cfg.Ledger.Confirmations,
					MaxBlockRange:    cfg.Ledger.MaxBlockRange,
					MaxEventAttempts: cfg.Reconciler.EventMaxAttempts,
				},
				reconcilerMetrics,
			)
		}
	}

	// Repositories
	batchRepo := repositories.NewBatchRepository(db)
	eventRepo := repositories.NewLedgerEventRepository(db)
	uow := repositories.NewUnitOfWork(db)

	// Usecases
	batchUsecase := usecases.NewBatchUsecase(batchRepo, eventRepo, cfg.Reconciler.CoalesceWindow)
	verificationUsecase := usecases.NewVerificationUsecase(batchRepo, ledger, cfg.Reconciler.CallTimeout, reconcilerMetrics)
	reconciliationUsecase := usecases.NewReconciliationUsecase(batchRepo, eventRepo, uow, ledger, cfg.Reconciler, reconcilerMetrics)

	// Background listener
	listener := jobs.NewReconciliationService(reconciliationUsecase, source, cfg.Ledger, cfg.Reconciler)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ledger listener: %w", err)
	}
	defer listener.Stop()

	// Handlers
	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry)
	batchHandler := handlers.NewBatchHandler(batchUsecase)
	verifyHandler := handlers.NewVerifyHandler(verificationUsecase, batchUsecase)
	healthHandler := handlers.NewHealthHandler(sqlDB.PingContext, redis.Ping, listener)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())

	applyCORSMiddleware(r, cfg.Server.CORSOrigins)
	registerHealthRoute(r, healthHandler)
	registerMetricsRoute(r, registry)
	registerAPIV1Routes(r, routeDeps{
		batchHandler:   batchHandler,
		verifyHandler:  verifyHandler,
		authMiddleware: middleware.AuthMiddleware(jwtService),
	})

	for _, route := range r.Routes() {
		logger.Debug(ctx, "Route registered", zap.String("method", route.Method), zap.String("path", route.Path))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Pharma-Chain backend starting", zap.String("port", cfg.Server.Port))
		serverErr <- runServer(srv)
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-shutdownSignal():
		logger.Info(ctx, "Shutting down server")
	}

	listener.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
