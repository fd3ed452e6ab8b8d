package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deplai/api/internal/app"
	"github.com/deplai/api/pkg/crypto"
	"github.com/deplai/api/pkg/logger"
)

const testWebhookSecret = "hook-secret"

func newWebhookHandler() *WebhookHandler {
	// An event the service ignores keeps the test focused on the handler's
	// verification pipeline.
	svc := app.NewGitHubEventService(nil, nil, nil, nil, nil, logger.NewNop())
	return NewWebhookHandler(svc, testWebhookSecret, logger.NewNop())
}

func deliver(h *WebhookHandler, event, signature string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	if event != "" {
		req.Header.Set(headerEvent, event)
	}
	if signature != "" {
		req.Header.Set(headerSignature, signature)
	}
	req.Header.Set(headerDeliveryID, "delivery-1")

	rec := httptest.NewRecorder()
	h.ReceiveGitHub(rec, req)
	return rec
}

func TestWebhookHandler_ReceiveGitHub(t *testing.T) {
	body := []byte(`{"action": "ping"}`)

	t.Run("valid signature is accepted", func(t *testing.T) {
		h := newWebhookHandler()
		signature := crypto.ComputeSignature(testWebhookSecret, body)

		rec := deliver(h, "ping", signature, body)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received": true}`, rec.Body.String())
	})

	t.Run("invalid signature is rejected before parsing", func(t *testing.T) {
		h := newWebhookHandler()
		signature := crypto.ComputeSignature("wrong-secret", body)

		rec := deliver(h, "ping", signature, body)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("tampered body fails verification", func(t *testing.T) {
		h := newWebhookHandler()
		signature := crypto.ComputeSignature(testWebhookSecret, body)

		rec := deliver(h, "ping", signature, []byte(`{"action": "tampered"}`))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing signature header", func(t *testing.T) {
		h := newWebhookHandler()

		rec := deliver(h, "ping", "", body)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing event header", func(t *testing.T) {
		h := newWebhookHandler()
		signature := crypto.ComputeSignature(testWebhookSecret, body)

		rec := deliver(h, "", signature, body)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
