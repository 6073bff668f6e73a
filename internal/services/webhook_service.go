// internal/services/webhook_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/impactlink/escrow-backend/internal/metrics"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/payments"
	"github.com/impactlink/escrow-backend/internal/repository"
)

// EventDeduper is a fast path in front of the webhook event log.
type EventDeduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

type WebhookResult struct {
	EventID   string                    `json:"event_id"`
	Type      string                    `json:"type"`
	Status    models.WebhookEventStatus `json:"status"`
	Duplicate bool                      `json:"duplicate"`
}

// WebhookService ingests signed payment provider events. Every handler is idempotent,
// so a redelivered event is safe.
type WebhookService struct {
	repo     repository.Repository
	provider payments.Provider
	payments *PaymentService
	ledger   *MilestoneService
	deduper  EventDeduper
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewWebhookService(repo repository.Repository, provider payments.Provider, paymentSvc *PaymentService, ledger *MilestoneService, deduper EventDeduper, log logrus.FieldLogger) *WebhookService {
	return &WebhookService{
		repo:     repo,
		provider: provider,
		payments: paymentSvc,
		ledger:   ledger,
		deduper:  deduper,
		log:      log.WithField("component", "webhooks"),
		now:      time.Now,
	}
}

// errUnmatched marks an event that refers to nothing this service knows about.
var errUnmatched = errors.New("event does not match a known record")

// HandleEvent verifies and applies one webhook delivery. A returned error other than
// ErrSignatureInvalid means the provider should redeliver.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ev, err := s.provider.ParseEvent(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrSignatureInvalid) {
			metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
			s.log.WithError(err).Warn("Webhook signature rejected")
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		s.log.WithError(err).Warn("Malformed webhook event")
		return nil, invalid(ErrValidation, "payload", err.Error())
	}

	log := s.log.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type})
	result := &WebhookResult{EventID: ev.ID, Type: ev.Type}

	if s.deduper != nil {
		seen, err := s.deduper.Seen(ctx, ev.ID)
		if err != nil {
			log.WithError(err).Warn("Event dedup cache unavailable, falling back to event log")
		} else if seen {
			result.Status = models.WebhookEventStatusProcessed
			result.Duplicate = true
			metrics.WebhookEvents.WithLabelValues(ev.Type, "duplicate").Inc()
			return result, nil
		}
	}

	stored, err := s.repo.RecordWebhookEvent(ctx, &models.WebhookEvent{
		EventID:   ev.ID,
		Type:      ev.Type,
		Payload:   datatypes.JSON(ev.Raw),
		Signature: signature,
		Status:    models.WebhookEventStatusReceived,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}
	if stored.Status == models.WebhookEventStatusProcessed || stored.Status == models.WebhookEventStatusIgnored {
		result.Status = stored.Status
		result.Duplicate = true
		metrics.WebhookEvents.WithLabelValues(ev.Type, "duplicate").Inc()
		log.WithField("try_count", stored.TryCount).Debug("Webhook event already handled")
		return result, nil
	}

	status, procErr := s.dispatch(ctx, ev, log)
	now := s.now()
	stored.Status = status
	stored.Error = ""
	stored.ProcessedAt = &now
	if procErr != nil {
		stored.Status = models.WebhookEventStatusFailed
		stored.Error = procErr.Error()
		stored.ProcessedAt = nil
	}
	if err := s.repo.UpdateWebhookEvent(ctx, stored); err != nil {
		log.WithError(err).Error("Failed to update webhook event status")
	}

	result.Status = stored.Status
	metrics.WebhookEvents.WithLabelValues(ev.Type, string(stored.Status)).Inc()
	if procErr != nil {
		log.WithError(procErr).WithField("try_count", stored.TryCount).Error("Webhook event processing failed")
		return result, procErr
	}

	if s.deduper != nil {
		if err := s.deduper.MarkProcessed(ctx, ev.ID); err != nil {
			log.WithError(err).Warn("Failed to cache processed event id")
		}
	}
	return result, nil
}

func (s *WebhookService) dispatch(ctx context.Context, ev *payments.Event, log logrus.FieldLogger) (models.WebhookEventStatus, error) {
	var err error
	switch ev.Type {
	case payments.EventChargeSucceeded:
		_, err = s.payments.MarkPaid(ctx, s.chargeOutcome(ev))
	case payments.EventChargeFailed:
		_, err = s.payments.MarkFailed(ctx, s.chargeOutcome(ev))
	case payments.EventTransferCreated:
		err = s.transferCreated(ctx, ev)
	default:
		log.Debug("Ignoring unhandled webhook event type")
		return models.WebhookEventStatusIgnored, nil
	}

	switch {
	case err == nil:
		return models.WebhookEventStatusProcessed, nil
	case errors.Is(err, errUnmatched), errors.Is(err, ErrNotFound):
		metrics.Alerts.WithLabelValues(metrics.AlertUnmatchedWebhook).Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"alert":     true,
			"object_id": ev.ObjectID,
		}).Warn("Webhook event matched no record, acknowledged")
		return models.WebhookEventStatusIgnored, nil
	default:
		return models.WebhookEventStatusFailed, err
	}
}

func (s *WebhookService) chargeOutcome(ev *payments.Event) ChargeOutcome {
	return ChargeOutcome{
		Reference:      ev.ObjectID,
		PaymentCaseID:  ev.Metadata[payments.MetaPaymentCaseID],
		Status:         ev.Status,
		FailureMessage: ev.FailureMessage,
	}
}

func (s *WebhookService) transferCreated(ctx context.Context, ev *payments.Event) error {
	caseID, err := uuid.Parse(ev.Metadata[payments.MetaPaymentCaseID])
	if err != nil {
		return fmt.Errorf("%w: transfer %s has no payment case metadata", errUnmatched, ev.ObjectID)
	}
	number, err := strconv.Atoi(ev.Metadata[payments.MetaMilestoneNumber])
	if err != nil || (number != models.MilestoneLegitimacy && number != models.MilestoneImpact) {
		return fmt.Errorf("%w: transfer %s has no milestone number metadata", errUnmatched, ev.ObjectID)
	}

	_, err = s.ledger.RecordTransferEvent(ctx, caseID, number, ev.ObjectID)
	return err
}
