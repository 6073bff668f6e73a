// internal/services/payment_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/impactlink/escrow-backend/internal/metrics"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/payments"
	"github.com/impactlink/escrow-backend/internal/repository"
	"github.com/impactlink/escrow-backend/pkg/workflows"
)

// PaymentService manages escrow charges and the payment case lifecycle.
type PaymentService struct {
	repo     repository.Repository
	provider payments.Provider
	fees     *FeeCalculator
	ledger   *MilestoneService
	fsm      *workflows.StateMachine
	log      logrus.FieldLogger
	now      func() time.Time
}

type CompanyIdentity struct {
	CompanyID *uuid.UUID `json:"company_id,omitempty"`
	Name      string     `json:"company_name" validate:"required,max=255"`
	Email     string     `json:"company_email" validate:"required,email,max=255"`
}

type CreateEscrowChargeRequest struct {
	ProjectID      uuid.UUID          `json:"project_id" validate:"required"`
	OrganizationID uuid.UUID          `json:"organization_id" validate:"required"`
	GrantAmount    int64              `json:"grant_amount" validate:"required,gt=0"`
	ServiceTier    models.ServiceTier `json:"service_tier" validate:"omitempty,max=20"`
	Company        CompanyIdentity    `json:"company"`
}

type EscrowChargeResponse struct {
	PaymentCaseID   uuid.UUID `json:"payment_case_id"`
	ChargeReference string    `json:"charge_reference"`
	ClientSecret    string    `json:"client_secret"`
	GrantAmount     int64     `json:"grant_amount"`
	ServiceFee      int64     `json:"service_fee"`
	TotalAmount     int64     `json:"total_amount"`
	Currency        string    `json:"currency"`
}

// ChargeOutcome is a charge result reported by the payment provider.
type ChargeOutcome struct {
	Reference      string
	PaymentCaseID  string
	Status         string
	FailureMessage string
}

func NewPaymentService(repo repository.Repository, provider payments.Provider, fees *FeeCalculator, ledger *MilestoneService, log logrus.FieldLogger) *PaymentService {
	return &PaymentService{
		repo:     repo,
		provider: provider,
		fees:     fees,
		ledger:   ledger,
		fsm:      workflows.NewStateMachine(),
		log:      log.WithField("component", "payments"),
		now:      time.Now,
	}
}

// ChargeIdempotencyKey is the provider idempotency key of a payment case's charge.
func ChargeIdempotencyKey(paymentCaseID uuid.UUID) string {
	return "payment-case-" + paymentCaseID.String()
}

// Quote prices a grant without creating anything.
func (s *PaymentService) Quote(grantAmount int64, tier models.ServiceTier) (FeeQuote, error) {
	return s.fees.Calculate(grantAmount, normalizeTier(tier))
}

// CreateEscrowCharge persists a payment case before asking the provider for a charge, so
// a provider charge never exists without a local record.
func (s *PaymentService) CreateEscrowCharge(ctx context.Context, req *CreateEscrowChargeRequest) (*EscrowChargeResponse, error) {
	tier := normalizeTier(req.ServiceTier)
	quote, err := s.fees.Calculate(req.GrantAmount, tier)
	if err != nil {
		return nil, err
	}

	pc := &models.PaymentCase{
		ProjectID:      req.ProjectID,
		OrganizationID: req.OrganizationID,
		CompanyID:      req.Company.CompanyID,
		CompanyName:    req.Company.Name,
		CompanyEmail:   req.Company.Email,
		GrantAmount:    quote.GrantAmount,
		ServiceTier:    tier,
		ServiceFee:     quote.ServiceFee,
		TotalCharged:   quote.Total,
		Currency:       quote.Currency,
		Status:         models.PaymentStatusAwaitingPayment,
	}
	if err := s.repo.CreatePaymentCase(ctx, pc); err != nil {
		return nil, fmt.Errorf("failed to create payment case: %w", err)
	}

	log := s.log.WithField("payment_case_id", pc.ID)

	charge, err := s.provider.CreateCharge(ctx, payments.ChargeRequest{
		Amount:         pc.TotalCharged,
		Currency:       pc.Currency,
		Description:    fmt.Sprintf("CSR grant for project %s", pc.ProjectID),
		ReceiptEmail:   pc.CompanyEmail,
		IdempotencyKey: ChargeIdempotencyKey(pc.ID),
		Metadata: map[string]string{
			payments.MetaPaymentCaseID:  pc.ID.String(),
			payments.MetaProjectID:      pc.ProjectID.String(),
			payments.MetaOrganizationID: pc.OrganizationID.String(),
		},
	})
	if err != nil {
		metrics.ChargesCreated.WithLabelValues("rejected").Inc()
		log.WithError(err).Warn("Payment provider rejected escrow charge")
		s.failCase(ctx, pc, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrUpstreamCharge, err)
	}

	if err := s.repo.SetChargeReference(ctx, pc.ID, charge.Reference, charge.Status); err != nil {
		// The provider metadata carries the case id; the webhook reconciles the reference.
		metrics.Alerts.WithLabelValues(metrics.AlertChargeReferenceLost).Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"alert":            true,
			"charge_reference": charge.Reference,
		}).Error("Failed to store charge reference")
	}

	metrics.ChargesCreated.WithLabelValues("created").Inc()
	log.WithFields(logrus.Fields{
		"charge_reference": charge.Reference,
		"total":            pc.TotalCharged,
	}).Info("Escrow charge created")

	return &EscrowChargeResponse{
		PaymentCaseID:   pc.ID,
		ChargeReference: charge.Reference,
		ClientSecret:    charge.ClientSecret,
		GrantAmount:     pc.GrantAmount,
		ServiceFee:      pc.ServiceFee,
		TotalAmount:     pc.TotalCharged,
		Currency:        pc.Currency,
	}, nil
}

func (s *PaymentService) failCase(ctx context.Context, pc *models.PaymentCase, reason string) {
	next, err := s.fsm.Payment(pc.Status, workflows.ChargeFailed)
	if err != nil {
		return
	}
	from := pc.Status
	pc.Status = next
	pc.FailureReason = reason
	if err := s.repo.TransitionPaymentCase(ctx, pc, from); err != nil {
		s.log.WithError(err).WithField("payment_case_id", pc.ID).Error("Failed to mark payment case failed")
	}
}

// MarkPaid moves the matching case to PAID and creates its milestones in the same
// transaction. A case that is already PAID only gets its milestones ensured; a failed
// case is left alone and alerted.
func (s *PaymentService) MarkPaid(ctx context.Context, outcome ChargeOutcome) (*models.PaymentCase, error) {
	var result *models.PaymentCase
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		pc, err := s.findCase(ctx, tx, outcome)
		if err != nil {
			return err
		}
		result = pc
		log := s.log.WithFields(logrus.Fields{"payment_case_id": pc.ID, "charge_reference": outcome.Reference})

		switch pc.Status {
		case models.PaymentStatusPaid:
			return s.ledger.onEscrowPaid(ctx, tx, pc)
		case models.PaymentStatusFailed:
			metrics.Alerts.WithLabelValues(metrics.AlertChargeAfterFailure).Inc()
			log.WithField("alert", true).Error("Charge succeeded for a payment case already marked failed")
			return nil
		}

		next, err := s.fsm.Payment(pc.Status, workflows.ChargeSucceeded)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		now := s.now()
		pc.Status = next
		pc.PaidAt = &now
		pc.ChargeStatus = chargeStatus(outcome.Status, "succeeded")
		if err := tx.TransitionPaymentCase(ctx, pc, models.PaymentStatusAwaitingPayment); err != nil {
			return mapRepoErr(err)
		}
		metrics.PaymentTransitions.WithLabelValues(string(next)).Inc()
		log.Info("Payment case paid")

		return s.ledger.onEscrowPaid(ctx, tx, pc)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkFailed moves the matching case to PAYMENT_FAILED. Repeats are no-ops.
func (s *PaymentService) MarkFailed(ctx context.Context, outcome ChargeOutcome) (*models.PaymentCase, error) {
	var result *models.PaymentCase
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		pc, err := s.findCase(ctx, tx, outcome)
		if err != nil {
			return err
		}
		result = pc

		switch pc.Status {
		case models.PaymentStatusFailed:
			return nil
		case models.PaymentStatusPaid:
			s.log.WithFields(logrus.Fields{
				"payment_case_id": pc.ID,
				"alert":           true,
			}).Warn("Charge failure reported for a paid case, ignoring")
			return nil
		}

		next, err := s.fsm.Payment(pc.Status, workflows.ChargeFailed)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		pc.Status = next
		pc.ChargeStatus = chargeStatus(outcome.Status, "failed")
		pc.FailureReason = outcome.FailureMessage
		if err := tx.TransitionPaymentCase(ctx, pc, models.PaymentStatusAwaitingPayment); err != nil {
			return mapRepoErr(err)
		}
		metrics.PaymentTransitions.WithLabelValues(string(next)).Inc()
		s.log.WithField("payment_case_id", pc.ID).Info("Payment case failed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// findCase matches by charge reference and falls back to the case id in the charge
// metadata, restoring a reference that was never stored.
func (s *PaymentService) findCase(ctx context.Context, repo repository.Repository, outcome ChargeOutcome) (*models.PaymentCase, error) {
	pc, err := repo.FindPaymentCaseByCharge(ctx, outcome.Reference)
	if err == nil {
		return pc, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	id, perr := uuid.Parse(outcome.PaymentCaseID)
	if perr != nil {
		return nil, fmt.Errorf("payment case for charge %s: %w", outcome.Reference, ErrNotFound)
	}
	pc, err = repo.GetPaymentCase(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if pc.ChargeRef() == "" && outcome.Reference != "" {
		if err := repo.SetChargeReference(ctx, pc.ID, outcome.Reference, outcome.Status); err != nil {
			return nil, mapRepoErr(err)
		}
		ref := outcome.Reference
		pc.ChargeReference = &ref
		s.log.WithField("payment_case_id", pc.ID).Info("Charge reference reconciled from event metadata")
	} else if pc.ChargeRef() != outcome.Reference {
		return nil, fmt.Errorf("charge %s does not belong to payment case %s: %w", outcome.Reference, pc.ID, ErrNotFound)
	}
	return pc, nil
}

func (s *PaymentService) GetPaymentCase(ctx context.Context, id uuid.UUID) (*models.PaymentCase, error) {
	pc, err := s.repo.GetPaymentCase(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return pc, nil
}

func (s *PaymentService) ListPaymentCases(ctx context.Context, filter repository.PaymentCaseFilter) ([]models.PaymentCase, int64, error) {
	return s.repo.ListPaymentCases(ctx, filter)
}

func normalizeTier(tier models.ServiceTier) models.ServiceTier {
	if tier == "" {
		return models.ServiceTierStandard
	}
	return tier
}

func chargeStatus(reported, fallback string) string {
	if reported != "" {
		return reported
	}
	return fallback
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrVersionConflict):
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	default:
		return err
	}
}
