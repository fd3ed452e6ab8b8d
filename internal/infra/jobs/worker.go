package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/deplai/api/pkg/logger"
)

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
}

// Worker processes background jobs.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *logger.Logger
}

// NewWorker creates a new background job worker.
func NewWorker(cfg WorkerConfig, launcher ScanLauncher, log *logger.Logger) (*Worker, error) {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				"default":     10,
				"scans":       8,
				"maintenance": 2,
			},
		},
	)

	mux := asynq.NewServeMux()

	scanHandler := NewScanTaskHandler(launcher, log)
	mux.HandleFunc(TypeScanLaunch, scanHandler.HandleScanLaunch)

	return &Worker{
		server: server,
		mux:    mux,
		logger: log,
	}, nil
}

// Start starts the worker.
func (w *Worker) Start() error {
	w.logger.Info("starting job worker")
	return w.server.Start(w.mux)
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() {
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
}

// Run runs the worker until shutdown.
func (w *Worker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Start(w.mux)
	}()

	select {
	case <-ctx.Done():
		w.Stop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
		return nil
	}
}
