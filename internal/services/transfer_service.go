// internal/services/transfer_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/impactlink/escrow-backend/internal/metrics"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/payments"
	"github.com/impactlink/escrow-backend/internal/repository"
)

type PayoutResult struct {
	MilestoneID       uuid.UUID `json:"milestone_id"`
	TransferReference string    `json:"transfer_reference"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	AlreadyPaid       bool      `json:"already_paid"`
}

type PayoutSweep struct {
	Attempted int `json:"attempted"`
	Paid      int `json:"paid"`
	Deferred  int `json:"deferred"`
	Failed    int `json:"failed"`
}

type RegisterPayoutAccountRequest struct {
	Destination string `json:"destination" validate:"required,connected_account,max=255"`
}

// TransferService releases approved milestone funds to the organization's payout account.
type TransferService struct {
	repo     repository.Repository
	provider payments.Provider
	ledger   *MilestoneService
	log      logrus.FieldLogger
}

func NewTransferService(repo repository.Repository, provider payments.Provider, ledger *MilestoneService, log logrus.FieldLogger) *TransferService {
	return &TransferService{
		repo:     repo,
		provider: provider,
		ledger:   ledger,
		log:      log.WithField("component", "transfers"),
	}
}

// PayoutIdempotencyKey is the provider idempotency key of a milestone's transfer.
func PayoutIdempotencyKey(milestoneID uuid.UUID) string {
	return "milestone-payout-" + milestoneID.String()
}

// PayoutMilestone transfers an APPROVED milestone's amount and marks it PAID. Amount and
// destination come from stored records only. A PAID milestone returns its existing
// transfer without contacting the provider.
func (s *TransferService) PayoutMilestone(ctx context.Context, milestoneID uuid.UUID) (*PayoutResult, error) {
	m, err := s.repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	pc, err := s.repo.GetPaymentCase(ctx, m.PaymentCaseID)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	if m.Status == models.MilestoneStatusPaid {
		return &PayoutResult{
			MilestoneID:       m.ID,
			TransferReference: m.TransferReference,
			Amount:            m.Amount,
			Currency:          pc.Currency,
			AlreadyPaid:       true,
		}, nil
	}
	if m.Status != models.MilestoneStatusApproved {
		return nil, fmt.Errorf("%w: milestone %s is %s", ErrInvalidState, m.ID, m.Status)
	}
	if m.Amount <= 0 {
		return nil, invalid(ErrInvalidAmount, "amount", "must be positive")
	}

	account, err := s.repo.GetPayoutAccount(ctx, pc.OrganizationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.Alerts.WithLabelValues(metrics.AlertMissingPayoutAccount).Inc()
			return nil, invalid(ErrMissingPayoutDestination, "organization_id", pc.OrganizationID.String())
		}
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{
		"milestone_id":    m.ID,
		"payment_case_id": pc.ID,
		"amount":          m.Amount,
	})

	transfer, err := s.provider.CreateTransfer(ctx, payments.TransferRequest{
		Amount:         m.Amount,
		Currency:       pc.Currency,
		Destination:    account.Destination,
		TransferGroup:  ChargeIdempotencyKey(pc.ID),
		IdempotencyKey: PayoutIdempotencyKey(m.ID),
		Metadata: map[string]string{
			payments.MetaPaymentCaseID:   pc.ID.String(),
			payments.MetaMilestoneID:     m.ID.String(),
			payments.MetaMilestoneNumber: strconv.Itoa(m.MilestoneNumber),
			payments.MetaProjectID:       pc.ProjectID.String(),
			payments.MetaOrganizationID:  pc.OrganizationID.String(),
		},
	})
	if err != nil {
		metrics.Transfers.WithLabelValues("failed").Inc()
		if ferr := s.ledger.RecordTransferFailure(ctx, m.ID, err.Error()); ferr != nil {
			log.WithError(ferr).Error("Failed to record transfer failure")
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamTransfer, err)
	}

	paid, err := s.ledger.RecordTransferSuccess(ctx, m.ID, transfer.Reference)
	if err != nil {
		// A transfer.created event for the same reference will settle the milestone.
		metrics.Alerts.WithLabelValues(metrics.AlertTransferFailed).Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"alert":              true,
			"transfer_reference": transfer.Reference,
		}).Error("Transfer succeeded but milestone could not be marked paid")
		return nil, err
	}

	metrics.Transfers.WithLabelValues("paid").Inc()
	log.WithField("transfer_reference", transfer.Reference).Info("Milestone payout completed")

	return &PayoutResult{
		MilestoneID:       paid.ID,
		TransferReference: paid.TransferReference,
		Amount:            paid.Amount,
		Currency:          pc.Currency,
	}, nil
}

// PayoutApproved retries payouts for milestones left APPROVED, oldest first.
func (s *TransferService) PayoutApproved(ctx context.Context, limit int) (*PayoutSweep, error) {
	pending, err := s.repo.ListApprovedUnpaid(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved milestones: %w", err)
	}

	sweep := &PayoutSweep{}
	for _, m := range pending {
		if ctx.Err() != nil {
			return sweep, ctx.Err()
		}
		sweep.Attempted++
		_, err := s.PayoutMilestone(ctx, m.ID)
		switch {
		case err == nil:
			sweep.Paid++
		case errors.Is(err, ErrMissingPayoutDestination):
			sweep.Deferred++
		default:
			sweep.Failed++
			s.log.WithError(err).WithField("milestone_id", m.ID).Warn("Payout retry failed")
		}
	}

	if sweep.Attempted > 0 {
		s.log.WithFields(logrus.Fields{
			"attempted": sweep.Attempted,
			"paid":      sweep.Paid,
			"deferred":  sweep.Deferred,
			"failed":    sweep.Failed,
		}).Info("Payout sweep finished")
	}
	return sweep, nil
}

// RegisterPayoutAccount stores or replaces an organization's payout destination.
func (s *TransferService) RegisterPayoutAccount(ctx context.Context, organizationID uuid.UUID, req *RegisterPayoutAccountRequest) (*models.PayoutAccount, error) {
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return nil, invalid(ErrMissingPayoutDestination, "destination", "is required")
	}

	account := &models.PayoutAccount{
		OrganizationID: organizationID,
		Destination:    destination,
		Verified:       true,
	}
	if err := s.repo.UpsertPayoutAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to store payout account: %w", err)
	}

	s.log.WithField("organization_id", organizationID).Info("Payout account registered")
	return account, nil
}

func (s *TransferService) GetPayoutAccount(ctx context.Context, organizationID uuid.UUID) (*models.PayoutAccount, error) {
	account, err := s.repo.GetPayoutAccount(ctx, organizationID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return account, nil
}
