package pipeline

import (
	"fmt"

	"github.com/wevoice/wesub-sub003/internal/cache"
	"github.com/wevoice/wesub-sub003/internal/config"
	"github.com/wevoice/wesub-sub003/internal/database"
	"github.com/wevoice/wesub-sub003/internal/events"
	"github.com/wevoice/wesub-sub003/internal/jobs"
	"github.com/wevoice/wesub-sub003/internal/languages"
	"github.com/wevoice/wesub-sub003/internal/lock"
	"github.com/wevoice/wesub-sub003/internal/logging"
	"github.com/wevoice/wesub-sub003/internal/tasks"
	"github.com/wevoice/wesub-sub003/internal/workflow"
)

// NewFromConfig assembles a pipeline with its production collaborators:
// the pgx repositories, the Redis write lock and tip cache, and the
// AMQP event sink and job queue. The returned closer releases the
// connections the pipeline opened.
func NewFromConfig(cfg *config.Config, db *database.DB, logger *logging.Logger) (*Pipeline, func(), error) {
	versions := database.NewVersionRepository(db)
	langs := database.NewLanguageRepository(db)
	videos := database.NewVideoRepository(db)
	taskRepo := database.NewTaskRepository(db)
	workflows := database.NewWorkflowRepository(db)

	locks, err := lock.NewService(cfg.Redis, cfg.Locks.TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize write locks: %w", err)
	}

	tipCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		locks.Close()
		return nil, nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	sink, err := events.NewAMQPSink(cfg.Queue)
	if err != nil {
		locks.Close()
		tipCache.Close()
		return nil, nil, fmt.Errorf("failed to initialize event sink: %w", err)
	}

	runner, err := jobs.NewAMQPRunner(cfg.Queue, tipCache)
	if err != nil {
		locks.Close()
		tipCache.Close()
		sink.Close()
		return nil, nil, fmt.Errorf("failed to initialize job queue: %w", err)
	}

	policy := workflow.NewPolicy()
	registry := languages.NewRegistry(langs, versions, logger)
	engine := tasks.NewEngine(taskRepo, policy, logger)

	p := New(Config{
		Tx:            db,
		Versions:      versions,
		Videos:        videos,
		Workflows:     workflows,
		Registry:      registry,
		Engine:        engine,
		Policy:        policy,
		Locks:         locks,
		Events:        sink,
		Jobs:          runner,
		Cache:         tipCache,
		Logger:        logger,
		AppendRetries: cfg.Workflow.AppendRetries,
	})

	closer := func() {
		locks.Close()
		tipCache.Close()
		sink.Close()
		runner.Close()
	}
	return p, closer, nil
}
