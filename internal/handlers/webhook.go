// internal/handlers/webhook.go
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/impactlink/escrow-backend/internal/i18n"
	"github.com/impactlink/escrow-backend/internal/services"
	"github.com/impactlink/escrow-backend/internal/utils"
)

// Stripe rejects webhook payloads above this size.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	webhookService *services.WebhookService
	log            logrus.FieldLogger
}

func NewWebhookHandler(webhookService *services.WebhookService, log logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		log:            log.WithField("handler", "webhooks"),
	}
}

// POST /webhooks/stripe
func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(payload) > maxWebhookBody {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "payload"), nil)
		return
	}

	log := h.log.WithFields(logrus.Fields{
		"payload_sha256": utils.HashBytes(payload),
		"request_id":     c.GetString("request_id"),
	})

	result, err := h.webhookService.HandleEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		var verr *services.ValidationError
		switch {
		case errors.Is(err, services.ErrSignatureInvalid):
			log.WithError(err).Warn("Rejected webhook with invalid signature")
			respondError(c, log, err, i18n.KeyNotFound)
		case errors.As(err, &verr):
			log.WithError(err).Warn("Rejected malformed webhook")
			respondError(c, log, err, i18n.KeyNotFound)
		default:
			// A 5xx makes the provider redeliver; processing is idempotent.
			log.WithError(err).Error("Webhook processing failed")
			utils.InternalErrorResponse(c)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"event_id":  result.EventID,
		"status":    result.Status,
		"duplicate": result.Duplicate,
	})
}
