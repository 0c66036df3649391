package handlers

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sellaro/billing/internal/httpx"
	"github.com/sellaro/billing/internal/processor"
	"github.com/sellaro/billing/internal/services"
)

// maxWebhookBody matches the processor's own payload cap.
const maxWebhookBody = 65536

// WebhookVerifier is the slice of the processor client the receiver needs.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (processor.Envelope, error)
}

// WebhookHandler receives processor deliveries. Status codes drive the
// processor's retry behavior: 400 drops a delivery that can never verify,
// 500 makes it redeliver, 200 acknowledges (including duplicates).
type WebhookHandler struct {
	verifier   WebhookVerifier
	reconciler *services.Reconciler
	log        zerolog.Logger
}

func NewWebhookHandler(v WebhookVerifier, rec *services.Reconciler, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: v, reconciler: rec, log: log}
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "body_read_failed", nil)
		return
	}

	env, err := h.verifier.VerifyWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.log.Warn().Err(err).Msg("webhook signature rejected")
		httpx.JSONError(w, http.StatusBadRequest, "invalid_signature", nil)
		return
	}

	ev, err := processor.ParseEvent(env)
	if err != nil {
		// a known type with a malformed payload cannot be retried into validity
		h.log.Error().Err(err).Str("event", env.ID).Str("type", env.Type).Msg("webhook payload malformed")
		httpx.JSONError(w, http.StatusBadRequest, "malformed_payload", nil)
		return
	}

	if err := h.reconciler.ApplyExternalEvent(r.Context(), ev); err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "event_processing_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"received": true})
}
