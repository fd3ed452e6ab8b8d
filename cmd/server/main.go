package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/deplai/api/internal/config"
	"github.com/deplai/api/internal/infra/http"
	"github.com/deplai/api/internal/infra/http/routes"
	"github.com/deplai/api/internal/infra/postgres"
	"github.com/deplai/api/internal/infra/redis"
	"github.com/deplai/api/pkg/logger"
	"github.com/deplai/api/pkg/validator"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	log.Info("redis connected")

	// ==========================================================================
	// Job Queue
	// ==========================================================================
	jobClient, err := NewJobClient(cfg, log)
	if err != nil {
		log.Error("failed to initialize job client", "error", err)
		return 1
	}
	defer closeWithLog(jobClient, "job client", log)

	// ==========================================================================
	// Repositories & Services
	// ==========================================================================
	repos := NewRepositories(db)
	log.Info("repositories initialized")

	services, err := NewServices(&ServiceDeps{
		Config:    cfg,
		Log:       log,
		Repos:     repos,
		JobClient: jobClient,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	log.Info("services initialized")

	// ==========================================================================
	// Handlers & HTTP Server
	// ==========================================================================
	handlers := NewHandlers(&HandlerDeps{
		Config:      cfg,
		Log:         log,
		Validator:   validator.New(),
		DB:          db,
		RedisClient: redisClient,
		Services:    services,
	})

	server := http.NewServer(cfg, log)
	routes.Register(server.Router(), handlers, redis.NewSessionStore(redisClient), log)

	// ==========================================================================
	// Workers
	// ==========================================================================
	workers, err := NewWorkers(&WorkerDeps{
		Config:   cfg,
		Log:      log,
		Services: services,
	})
	if err != nil {
		log.Error("failed to initialize workers", "error", err)
		return 1
	}

	if err := workers.Start(log); err != nil {
		log.Error("failed to start workers", "error", err)
		return 1
	}

	// ==========================================================================
	// Start Server
	// ==========================================================================
	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop workers first so in-flight launches finish before the server
	// stops accepting callbacks.
	workers.Stop(log)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
