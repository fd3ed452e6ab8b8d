// Package routes registers all HTTP routes for the API.
// Routes are organized by concern for maintainability.
package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	infrahttp "github.com/deplai/api/internal/infra/http"
	"github.com/deplai/api/internal/infra/http/handler"
	"github.com/deplai/api/internal/infra/http/middleware"
	"github.com/deplai/api/pkg/logger"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health     *handler.HealthHandler
	Webhook    *handler.WebhookHandler
	Scan       *handler.ScanHandler
	Repository *handler.RepositoryHandler
}

// Register registers all application routes.
func Register(router Router, h Handlers, resolver middleware.UserResolver, log *logger.Logger) {
	registerHealthRoutes(router, h.Health)
	registerWebhookRoutes(router, h.Webhook)

	authMiddleware := middleware.Auth(resolver, log)
	registerScanRoutes(router, h.Scan, authMiddleware)
	registerRepositoryRoutes(router, h.Repository, authMiddleware)
}

// registerHealthRoutes registers health check and metrics endpoints.
func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
}

// registerWebhookRoutes registers the GitHub webhook receiver. The endpoint
// authenticates with the webhook signature, not a user session.
func registerWebhookRoutes(router Router, h *handler.WebhookHandler) {
	router.POST("/webhooks/github", h.ReceiveGitHub)
}

// registerScanRoutes registers scan trigger, lookup and result endpoints.
// The results callback authenticates with the run's callback token, so it
// stays outside the auth group.
func registerScanRoutes(router Router, h *handler.ScanHandler, authMiddleware Middleware) {
	router.POST("/api/v1/scans/results", h.Results)

	router.Group("/api/v1/scans", func(r Router) {
		r.POST("/", h.Trigger)
		r.GET("/{id}", h.Get)
		r.GET("/{id}/findings", h.Findings)
	}, authMiddleware)
}

// registerRepositoryRoutes registers repository sync endpoints.
func registerRepositoryRoutes(router Router, h *handler.RepositoryHandler, authMiddleware Middleware) {
	router.Group("/api/v1", func(r Router) {
		r.POST("/repositories/{owner}/{name}/refresh", h.Refresh)
		r.POST("/installations/{installationID}/sync", h.SyncInstallation)
	}, authMiddleware)
}
