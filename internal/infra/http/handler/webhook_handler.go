package handler

import (
	"io"
	"net/http"

	"github.com/deplai/api/internal/app"
	"github.com/deplai/api/internal/metrics"
	"github.com/deplai/api/pkg/apierror"
	"github.com/deplai/api/pkg/crypto"
	"github.com/deplai/api/pkg/logger"
)

// GitHub webhook headers.
const (
	headerSignature  = "X-Hub-Signature-256"
	headerEvent      = "X-GitHub-Event"
	headerDeliveryID = "X-GitHub-Delivery"
)

// WebhookHandler receives GitHub App webhook deliveries. Signature
// verification happens against the raw body, before any parsing.
type WebhookHandler struct {
	service *app.GitHubEventService
	secret  string
	logger  *logger.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(svc *app.GitHubEventService, webhookSecret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: svc,
		secret:  webhookSecret,
		logger:  log,
	}
}

// ReceiveGitHub handles POST /webhooks/github.
func (h *WebhookHandler) ReceiveGitHub(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get(headerSignature)
	event := r.Header.Get(headerEvent)
	if signature == "" || event == "" {
		apierror.BadRequest("Missing webhook headers").WriteJSON(w)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierror.BadRequest("Failed to read request body").WriteJSON(w)
		return
	}

	if !crypto.VerifySignature(h.secret, body, signature) {
		metrics.WebhookSignatureFailures.Inc()
		h.logger.Warn("webhook signature verification failed",
			"event", event,
			"delivery_id", r.Header.Get(headerDeliveryID),
		)
		apierror.Unauthorized("Invalid webhook signature").WriteJSON(w)
		return
	}

	if err := h.service.HandleEvent(r.Context(), event, body); err != nil {
		// The delivery is logged server-side; the provider only needs a
		// generic failure so it retries.
		h.logger.Error("webhook processing failed",
			"event", event,
			"delivery_id", r.Header.Get(headerDeliveryID),
			"error", err,
		)
		apierror.InternalServerError("").WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
