package main

import (
	"github.com/deplai/api/internal/config"
	"github.com/deplai/api/internal/infra/http/handler"
	"github.com/deplai/api/internal/infra/http/routes"
	"github.com/deplai/api/internal/infra/postgres"
	"github.com/deplai/api/internal/infra/redis"
	"github.com/deplai/api/pkg/logger"
	"github.com/deplai/api/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Config      *config.Config
	Log         *logger.Logger
	Validator   *validator.Validator
	DB          *postgres.DB
	RedisClient *redis.Client
	Services    *Services
}

// NewHandlers creates all HTTP handlers.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	cfg := deps.Config
	log := deps.Log
	v := deps.Validator
	svc := deps.Services

	return routes.Handlers{
		Health: handler.NewHealthHandler(
			handler.WithDatabase(deps.DB),
			handler.WithRedis(deps.RedisClient),
		),
		Webhook:    handler.NewWebhookHandler(svc.GitHubEvent, cfg.GitHub.WebhookSecret, log),
		Scan:       handler.NewScanHandler(svc.Scan, svc.Result, v, log),
		Repository: handler.NewRepositoryHandler(svc.Sync, log),
	}
}
