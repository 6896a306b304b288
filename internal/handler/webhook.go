package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/sahuti/autoreply/internal/middleware"
	"github.com/sahuti/autoreply/internal/service"
	"github.com/sahuti/autoreply/internal/whatsapp"
	"github.com/sahuti/autoreply/pkg/logger"
)

const maxWebhookBody = 1 << 20

// WebhookHandler handles the WhatsApp Cloud API webhook.
type WebhookHandler struct {
	orchestrator *service.Orchestrator
	logger       *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(o *service.Orchestrator, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{orchestrator: o, logger: log.Named("webhook")}
}

// Verify handles GET /webhook/whatsapp
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := hubParam(r, "mode")
	token := hubParam(r, "verify_token")
	challenge := hubParam(r, "challenge")

	if !h.orchestrator.VerifyToken(r.Context(), mode, token) {
		h.logger.Warn("webhook verification failed", zap.String("mode", mode))
		writeText(w, http.StatusForbidden, "Forbidden")
		return
	}

	h.logger.Info("webhook verified")
	writeText(w, http.StatusOK, challenge)
}

// Receive handles POST /webhook/whatsapp
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var env whatsapp.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.logger.Warn("malformed webhook payload", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	signature := r.Header.Get(whatsapp.SignatureHeader)
	if !h.orchestrator.Authenticate(r.Context(), signature, body, env.PhoneNumberID()) {
		writeText(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	// Processing outlives a provider that hangs up early.
	ctx := context.WithoutCancel(r.Context())
	result := h.orchestrator.HandleEnvelope(ctx, &env)

	h.logger.Info("webhook processed",
		zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		zap.Int("messages", len(result.Messages)),
		zap.Int("replied", result.Count(service.OutcomeReplied)),
		zap.Int("skipped", result.Count(service.OutcomeSkipped)),
		zap.Int("failed", result.Count(service.OutcomeFailed)),
		zap.Int("statuses", result.Statuses))

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// hubParam reads hub.<name>, accepting the hub_<name> spelling some proxies rewrite it to.
func hubParam(r *http.Request, name string) string {
	q := r.URL.Query()
	if v := q.Get("hub." + name); v != "" {
		return v
	}
	return q.Get("hub_" + name)
}
