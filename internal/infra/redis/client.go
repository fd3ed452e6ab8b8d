// Package redis provides the Redis client used for health checks and
// ad hoc key-value needs. The job queue connects to Redis on its own.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deplai/api/internal/config"
	"github.com/deplai/api/pkg/logger"
)

// ErrKeyNotFound is returned when a key does not exist.
var ErrKeyNotFound = errors.New("key not found")

const (
	connectRetries = 3
	retryBackoff   = 500 * time.Millisecond
)

// Client wraps redis.Client with additional functionality.
type Client struct {
	client *redis.Client
	logger *logger.Logger
}

// New creates a new Redis client.
func New(cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("redis config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Verify connection with retry
	var lastErr error
	for attempt := 0; attempt <= connectRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
		err := client.Ping(ctx).Err()
		cancel()

		if err == nil {
			log.Info("redis connected",
				"addr", cfg.Addr(),
				"pool_size", cfg.PoolSize,
			)
			return &Client{client: client, logger: log}, nil
		}

		lastErr = err
		if attempt < connectRetries {
			backoff := retryBackoff * time.Duration(1<<attempt)
			log.Warn("redis connection failed, retrying",
				"attempt", attempt+1,
				"backoff", backoff,
				"error", err,
			)
			time.Sleep(backoff)
		}
	}

	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", connectRetries+1, lastErr)
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	c.logger.Info("closing redis connection")
	return c.client.Close()
}

// Ping checks if Redis is available.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client returns the underlying redis.Client for advanced operations.
func (c *Client) Client() *redis.Client {
	return c.client
}

// Get retrieves a string value by key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.New("key is required")
	}

	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores a string value with optional TTL.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return errors.New("key is required")
	}

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
