// Package repository is the persistence boundary of the escrow core. All payment case
// and milestone mutations go through it; milestone updates are compare-and-swap on the
// row version so concurrent transitions cannot both win.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/utils"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("record was modified concurrently")
	ErrDuplicate       = errors.New("record already exists")
)

type PaymentCaseFilter struct {
	utils.PaginationParams
	OrganizationID *uuid.UUID
	CompanyID      *uuid.UUID
	Status         *models.PaymentStatus
}

type Repository interface {
	// WithTx runs fn atomically; fn must only use the repository it is given.
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	CreatePaymentCase(ctx context.Context, pc *models.PaymentCase) error
	GetPaymentCase(ctx context.Context, id uuid.UUID) (*models.PaymentCase, error)
	FindPaymentCaseByCharge(ctx context.Context, chargeReference string) (*models.PaymentCase, error)
	SetChargeReference(ctx context.Context, id uuid.UUID, chargeReference, chargeStatus string) error
	// TransitionPaymentCase persists pc's status fields only if the stored status is still from.
	TransitionPaymentCase(ctx context.Context, pc *models.PaymentCase, from models.PaymentStatus) error
	ListPaymentCases(ctx context.Context, filter PaymentCaseFilter) ([]models.PaymentCase, int64, error)

	// CreateMilestones inserts the rows that do not exist yet and returns how many were inserted.
	CreateMilestones(ctx context.Context, milestones []models.Milestone) (int, error)
	GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	GetMilestoneByNumber(ctx context.Context, paymentCaseID uuid.UUID, number int) (*models.Milestone, error)
	ListMilestones(ctx context.Context, paymentCaseID uuid.UUID) ([]models.Milestone, error)
	ListApprovedUnpaid(ctx context.Context, limit int) ([]models.Milestone, error)
	// UpdateMilestone writes m if the stored version equals m.Version, then bumps m.Version.
	UpdateMilestone(ctx context.Context, m *models.Milestone) error

	AppendVerificationRecord(ctx context.Context, rec *models.VerificationRecord) error
	ListVerificationRecords(ctx context.Context, milestoneID uuid.UUID) ([]models.VerificationRecord, error)

	GetPayoutAccount(ctx context.Context, organizationID uuid.UUID) (*models.PayoutAccount, error)
	UpsertPayoutAccount(ctx context.Context, account *models.PayoutAccount) error

	// RecordWebhookEvent stores ev or, when the event id is known, returns the stored row
	// with its try count incremented.
	RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) (*models.WebhookEvent, error)
	UpdateWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error

	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}
