// Package main is the entry point for the stockscan API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"stockscan/internal/config"
	"stockscan/internal/core/id"
	"stockscan/internal/domain/auth"
	"stockscan/internal/domain/scan"
	"stockscan/internal/infrastructure/cache"
	v1 "stockscan/internal/infrastructure/http/v1"
	"stockscan/internal/infrastructure/http/v1/handlers"
	"stockscan/internal/infrastructure/storage/postgres"
	"stockscan/internal/infrastructure/storage/postgres/auth_repo"
	"stockscan/internal/infrastructure/storage/postgres/record_repo"
	"stockscan/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Info("starting stockscan server")

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.PGMaxConns
	poolCfg.MinConns = cfg.PGMinConns
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txManager := postgres.NewTxManager(pool)

	// --- Record cache ---
	recordRepo := record_repo.NewRecordRepo(txManager)
	recordCache := cache.New(recordRepo)

	// --- JWT and auth ---
	jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtConfig.AccessTokenTTL = cfg.JWTTTL
	jwtService := auth.NewJWTService(jwtConfig)

	operatorRepo := auth_repo.NewOperatorRepo(txManager)
	authService := auth.NewService(operatorRepo, jwtService, auth.DefaultServiceConfig())

	// --- Scan sessions ---
	registry := scan.NewRegistry()

	var auditFactory handlers.AuditFactory
	if cfg.ScanAuditEnabled {
		auditFactory = func(sessionID id.ID) (scan.AuditSink, error) {
			return postgres.NewScanAudit(txManager, sessionID)
		}
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:         pool,
		Logger:       log,
		JWTValidator: jwtService,
		AuthService:  authService,
		Registry:     registry,
		RecordCache:  recordCache,
		AuditFactory: auditFactory,
	})

	// --- HTTP server ---
	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  cfg.AppIdleTimeout,
	}

	go func() {
		log.Infow("server starting", "addr", cfg.AppAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
