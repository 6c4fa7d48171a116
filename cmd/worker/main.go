package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wevoice/wesub-sub003/internal/cache"
	"github.com/wevoice/wesub-sub003/internal/config"
	"github.com/wevoice/wesub-sub003/internal/database"
	"github.com/wevoice/wesub-sub003/internal/jobs"
	"github.com/wevoice/wesub-sub003/internal/logging"
	"github.com/wevoice/wesub-sub003/internal/metrics"
	"github.com/wevoice/wesub-sub003/internal/provider"
	"github.com/wevoice/wesub-sub003/internal/storage"
	"github.com/wevoice/wesub-sub003/internal/subtitles"
	"github.com/wevoice/wesub-sub003/internal/tracing"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	// Initialize tracing
	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize tracing")
		} else {
			defer closer.Close()
		}
	}

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	versions := database.NewVersionRepository(db)
	videos := database.NewVideoRepository(db)

	// Initialize the Redis cache for job deduplication
	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	// Initialize export storage
	exports, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize export storage: %v", err)
	}

	// Initialize the provider sink
	providerSink := provider.NewHTTPSink(cfg.Provider, logger)

	// Initialize the job queue
	runner, err := jobs.NewAMQPRunner(cfg.Queue, redisCache)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer runner.Close()

	processor := jobs.NewProcessor(versions, videos, providerSink, exports, subtitles.DefaultRegistry(), logger)

	// Start metrics server
	metricsServer := metrics.NewServer(cfg.Metrics.Port, map[string]metrics.HealthCheck{
		"database": db.Health,
		"redis":    redisCache.Ping,
	})
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.WithError(err).Warn("Metrics server stopped")
		}
	}()
	defer metricsServer.Shutdown(context.Background())

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	// Start consuming jobs
	logger.Info("Worker started, waiting for jobs...")
	if err := runner.Consume(ctx, func(job *jobs.Job) error {
		return processor.Process(ctx, job)
	}); err != nil {
		logger.Fatalf("Failed to consume jobs: %v", err)
	}

	<-ctx.Done()
	logger.Info("Worker stopped")
}
