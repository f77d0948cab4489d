package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/embedder/internal/ai"
	"github.com/nidhogg/embedder/internal/api"
	"github.com/nidhogg/embedder/internal/cache"
	"github.com/nidhogg/embedder/internal/config"
	"github.com/nidhogg/embedder/internal/embedder"
	"github.com/nidhogg/embedder/internal/logging"
	"github.com/nidhogg/embedder/internal/store"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/embedder.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting embedder...", zap.String("config", cfgPath))

	// Model registry: any configuration error is fatal.
	modelCfg, err := ai.ConfigFromEnv()
	if err != nil {
		logger.Fatal("invalid model configuration", zap.Error(err))
	}
	models, err := ai.NewManager(modelCfg,
		ai.WithLogger(logger),
		ai.WithStatementTimeout(cfg.Provisioning.StatementTimeout.Std()),
		ai.WithRetry(cfg.Provisioning.MaxRetries, cfg.Provisioning.RetryInterval.Std()),
	)
	if err != nil {
		logger.Fatal("failed to build model manager", zap.Error(err))
	}
	logger.Info("Models configured",
		zap.Int("embedding", len(models.EmbeddingModels())),
		zap.Int("generation", len(models.GenerationModels())))

	// Initialize PostgreSQL store
	if cfg.Database.Postgres.DSN == "" {
		logger.Fatal("database.postgres.dsn is required")
	}
	ctx := context.Background()
	pgStore, err := store.New(ctx, cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("PostgreSQL unavailable", zap.Error(err))
	}
	if err := pgStore.Migrate(ctx); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Embedding cache is optional
	var embCache *cache.Cache
	if url := cfg.Database.Redis.URL; url != "" {
		c, cacheErr := cache.New(ctx, url, cfg.Cache.TTL.Std(), logger)
		if cacheErr != nil {
			logger.Warn("Redis unavailable, running without embedding cache", zap.Error(cacheErr))
		} else {
			embCache = c
		}
	}

	svc := embedder.New(models, pgStore, embCache, logger)

	// Provision in the background; /api/ready reports progress.
	provCtx, cancelProv := context.WithCancel(ctx)
	provDone := make(chan struct{})
	go func() {
		defer close(provDone)
		// Failures are logged by the service; failed tables stay not ready.
		_ = svc.Provision(provCtx, pgStore.Pool())
	}()

	handler := api.NewHandler(svc, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Embedder listening", zap.String("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down embedder...")
	cancelProv()
	<-provDone

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if err := embCache.Close(); err != nil {
		logger.Warn("redis close", zap.Error(err))
	}
	pgStore.Close()
}
