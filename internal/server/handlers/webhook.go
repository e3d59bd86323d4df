package handlers

import (
	"io"
	"net/http"

	"github.com/agentstation/livesync/internal/github"
	"github.com/agentstation/livesync/internal/server/response"
)

// maxWebhookBody bounds the size of a webhook delivery.
const maxWebhookBody = 25 << 20

// Webhook outcomes recorded by the metrics.
const (
	webhookProcessed = "processed"
	webhookDuplicate = "duplicate"
	webhookRejected  = "rejected"
	webhookFailed    = "failed"
)

// HandleWebhook handles POST /webhook deliveries from GitHub.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	event := r.Header.Get(github.HeaderEvent)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.Metrics.Webhook(event, webhookRejected)
		response.BadRequest(w, "Failed to read request body", err.Error())
		return
	}

	if err := github.VerifySignature(h.WebhookSecret, body, github.RequestSignature(r.Header)); err != nil {
		h.Logger.Error().Err(err).Str("event", event).Msg("Webhook signature verification failed")
		h.Metrics.Webhook(event, webhookRejected)
		response.ErrorFromType(w, err)
		return
	}

	delivery := r.Header.Get(github.HeaderDelivery)
	if delivery != "" && h.Deliveries != nil && !h.Deliveries.MarkSeen(delivery) {
		h.Logger.Debug().Str("delivery", delivery).Msg("Skipping redelivered webhook")
		h.Metrics.Webhook(event, webhookDuplicate)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.Receiver.Handle(r.Context(), event, body); err != nil {
		if delivery != "" && h.Deliveries != nil {
			h.Deliveries.Forget(delivery)
		}
		h.Logger.Error().Err(err).Str("event", event).Str("delivery", delivery).Msg("Failed to handle webhook")
		h.Metrics.Webhook(event, webhookFailed)
		response.ErrorFromType(w, err)
		return
	}

	h.Metrics.Webhook(event, webhookProcessed)
	w.WriteHeader(http.StatusNoContent)
}
