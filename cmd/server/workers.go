package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deplai/api/internal/config"
	"github.com/deplai/api/internal/infra/jobs"
	"github.com/deplai/api/pkg/logger"
)

// sweepTimeout bounds a single maintenance sweep cycle.
const sweepTimeout = 5 * time.Minute

// Workers holds all background worker instances.
type Workers struct {
	JobWorker *jobs.Worker
	Sweeper   *cron.Cron
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config   *config.Config
	Log      *logger.Logger
	Services *Services
}

// NewWorkers initializes all background workers.
func NewWorkers(deps *WorkerDeps) (*Workers, error) {
	cfg := deps.Config
	log := deps.Log
	svc := deps.Services

	w := &Workers{}

	// The scan service launches queued runs; the worker drains the queue.
	jobWorker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Jobs.Concurrency,
	}, svc.Scan, log)
	if err != nil {
		return nil, err
	}
	w.JobWorker = jobWorker

	if cfg.Sweeper.Enabled {
		sweeper, err := newSweeper(cfg, svc, log)
		if err != nil {
			return nil, err
		}
		w.Sweeper = sweeper
		log.Info("sweeper initialized",
			"schedule", cfg.Sweeper.Schedule,
			"token_retention", cfg.Sweeper.TokenRetention,
			"stale_run_deadline", cfg.Sweeper.StaleRunDeadline,
		)
	}

	return w, nil
}

// newSweeper schedules the maintenance sweep: expired token deletion and
// stale run failure.
func newSweeper(cfg *config.Config, svc *Services, log *logger.Logger) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(cfg.Sweeper.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		if _, err := svc.Token.SweepExpired(ctx, cfg.Sweeper.TokenRetention); err != nil {
			log.Error("token sweep failed", "error", err)
		}

		if cfg.Sweeper.StaleRunDeadline > 0 {
			if _, err := svc.Scan.SweepStaleRunning(ctx, cfg.Sweeper.StaleRunDeadline); err != nil {
				log.Error("stale run sweep failed", "error", err)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Start starts all background workers.
func (w *Workers) Start(log *logger.Logger) error {
	go func() {
		if err := w.JobWorker.Start(); err != nil {
			log.Error("job worker error", "error", err)
		}
	}()

	if w.Sweeper != nil {
		w.Sweeper.Start()
	}

	return nil
}

// Stop stops all background workers gracefully.
func (w *Workers) Stop(log *logger.Logger) {
	log.Info("stopping job worker...")
	w.JobWorker.Stop()
	log.Info("job worker stopped")

	if w.Sweeper != nil {
		log.Info("stopping sweeper...")
		<-w.Sweeper.Stop().Done()
		log.Info("sweeper stopped")
	}
}
