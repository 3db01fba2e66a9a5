package bootstrap

import (
	"time"

	"videojobs/internal/app/service"
	"videojobs/internal/app/worker"
	"videojobs/internal/domain/repository"
	"videojobs/internal/platform/config"
	"videojobs/internal/platform/featuregate"
	"videojobs/internal/platform/queue"
	"videojobs/internal/platform/render"

	"github.com/jmoiron/sqlx"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Components is everything a process needs to serve executions.
type Components struct {
	Store        repository.ExecutionLogRepository
	Catalog      repository.ProductionCatalog
	Jobs         *queue.RedisJobQueue
	Gate         *featuregate.Gate
	Renderer     *render.Adapter
	Orchestrator *service.VideoJobOrchestrator
	Worker       *worker.RenderWorker
}

// Build wires the store, queue, gate and render adapter around an open
// database and Redis client.
func Build(cfg *config.Config, db *sqlx.DB, rdb *redis.Client) (*Components, error) {
	policy, err := render.LoadPolicy(cfg.CanaryPolicyPath)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load canary policy")
	}

	stable := &render.LocalEngine{EngineName: policy.StableEngine, Resolution: "1080p", BaseURL: cfg.RenderOutputBaseURL}
	var canary render.Engine
	if policy.CanaryEngine != "" {
		canary = &render.LocalEngine{EngineName: policy.CanaryEngine, Resolution: "1080p", BaseURL: cfg.RenderOutputBaseURL}
	}

	c := &Components{
		Store:    repository.NewSQLExecutionLogRepository(db),
		Catalog:  repository.NewSQLProductionCatalog(db),
		Jobs:     queue.NewRedisJobQueue(rdb, cfg.RenderQueueName),
		Gate:     featuregate.New(rdb, cfg.PipelineGateKey, cfg.PipelineEnabled),
		Renderer: render.NewAdapter(policy, stable, canary, rdb, cfg.CanaryUsagePrefix),
	}
	c.Orchestrator = service.NewVideoJobOrchestrator(c.Store, c.Jobs, c.Catalog, c.Renderer, c.Gate, JobOptions(cfg))

	lock := queue.NewSubjectLock(rdb, cfg.SubjectLockPrefix, time.Duration(cfg.SubjectLockTTLSeconds)*time.Second)
	c.Worker = worker.NewRenderWorker(c.Jobs, c.Store, c.Renderer, lock)
	return c, nil
}

// JobOptions maps the queue settings from configuration.
func JobOptions(cfg *config.Config) service.JobOptions {
	return service.JobOptions{
		JobName:  cfg.RenderJobName,
		Attempts: cfg.RenderJobAttempts,
		Backoff: queue.Backoff{
			Type:  cfg.RenderJobBackoffType,
			Delay: cfg.RenderJobBackoff,
		},
		Retention: queue.Retention{
			CompletedAge: cfg.CompletedJobTTL,
			FailedAge:    cfg.FailedJobTTL,
		},
		DefaultListLimit: cfg.DefaultListLimit,
	}
}
