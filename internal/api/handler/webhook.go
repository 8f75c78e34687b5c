package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/settlement"
)

// WebhookHandler receives callbacks from the payment processor.
type WebhookHandler struct {
	webhookSvc *settlement.WebhookService
}

func NewWebhookHandler(webhookSvc *settlement.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// HandlePaymentWebhook handles POST /webhooks/payment. The HMAC signature is
// verified before the payload is trusted.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "webhook/unreadable-body", "failed to read request body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")

	resp, err := h.webhookSvc.HandlePaymentWebhook(r.Context(), body, signature)
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrInvalidSignature):
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "invalid signature")
		case errors.Is(err, settlement.ErrPayloadMismatch):
			RespondError(w, r, http.StatusConflict, "webhook/payload-mismatch", "payload does not match the recorded order for this payment reference")
		case errors.Is(err, settlement.ErrUnknownToken):
			RespondError(w, r, http.StatusNotFound, "webhook/unknown-token", "token is not registered")
		default:
			zap.L().Warn("payment webhook rejected", zap.Error(err))
			RespondError(w, r, http.StatusBadRequest, "webhook/invalid-payload", err.Error())
		}
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}
