package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/deplai/api/pkg/logger"
)

// Client manages enqueueing background jobs using Asynq.
type Client struct {
	client *asynq.Client
	logger *logger.Logger
}

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	client := asynq.NewClient(redisOpt)

	return &Client{
		client: client,
		logger: log.With("component", "job_client"),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueScanLaunch enqueues a launch task for a pending run.
func (c *Client) EnqueueScanLaunch(ctx context.Context, payload ScanLaunchPayload) error {
	task, err := NewScanLaunchTask(payload)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue scan launch",
			"run_id", payload.RunID,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("scan launch queued",
		"task_id", info.ID,
		"run_id", payload.RunID,
		"queue", info.Queue,
	)
	return nil
}
