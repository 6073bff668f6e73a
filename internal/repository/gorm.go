// internal/repository/gorm.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/utils"
)

var _ Repository = (*GormRepository)(nil)

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx})
	})
}

func (r *GormRepository) CreatePaymentCase(ctx context.Context, pc *models.PaymentCase) error {
	if pc.ID == uuid.Nil {
		pc.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(pc).Error; err != nil {
		return translate(err, "payment case")
	}
	return nil
}

func (r *GormRepository) GetPaymentCase(ctx context.Context, id uuid.UUID) (*models.PaymentCase, error) {
	var pc models.PaymentCase
	err := r.db.WithContext(ctx).
		Preload("Milestones", func(db *gorm.DB) *gorm.DB { return db.Order("milestone_number ASC") }).
		First(&pc, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "payment case")
	}
	return &pc, nil
}

func (r *GormRepository) FindPaymentCaseByCharge(ctx context.Context, chargeReference string) (*models.PaymentCase, error) {
	var pc models.PaymentCase
	if err := r.db.WithContext(ctx).First(&pc, "charge_reference = ?", chargeReference).Error; err != nil {
		return nil, translate(err, "payment case")
	}
	return &pc, nil
}

func (r *GormRepository) SetChargeReference(ctx context.Context, id uuid.UUID, chargeReference, chargeStatus string) error {
	result := r.db.WithContext(ctx).Model(&models.PaymentCase{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"charge_reference": chargeReference,
			"charge_status":    chargeStatus,
		})
	if result.Error != nil {
		return translate(result.Error, "payment case")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("payment case %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *GormRepository) TransitionPaymentCase(ctx context.Context, pc *models.PaymentCase, from models.PaymentStatus) error {
	result := r.db.WithContext(ctx).Model(&models.PaymentCase{}).
		Where("id = ? AND status = ?", pc.ID, from).
		Updates(map[string]interface{}{
			"status":         pc.Status,
			"charge_status":  pc.ChargeStatus,
			"failure_reason": pc.FailureReason,
			"paid_at":        pc.PaidAt,
		})
	if result.Error != nil {
		return translate(result.Error, "payment case")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("payment case %s no longer %s: %w", pc.ID, from, ErrVersionConflict)
	}
	return nil
}

func (r *GormRepository) ListPaymentCases(ctx context.Context, filter PaymentCaseFilter) ([]models.PaymentCase, int64, error) {
	params := utils.NormalizePagination(filter.PaginationParams)
	query := r.db.WithContext(ctx).Model(&models.PaymentCase{})

	if filter.OrganizationID != nil {
		query = query.Where("organization_id = ?", *filter.OrganizationID)
	}
	if filter.CompanyID != nil {
		query = query.Where("company_id = ?", *filter.CompanyID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payment cases: %w", err)
	}

	allowedSortFields := []string{"created_at", "grant_amount", "status", "paid_at"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var cases []models.PaymentCase
	if err := query.Preload("Milestones").Find(&cases).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch payment cases: %w", err)
	}
	return cases, total, nil
}

func (r *GormRepository) CreateMilestones(ctx context.Context, milestones []models.Milestone) (int, error) {
	if len(milestones) == 0 {
		return 0, nil
	}
	for i := range milestones {
		if milestones[i].ID == uuid.Nil {
			milestones[i].ID = uuid.New()
		}
		if milestones[i].Version == 0 {
			milestones[i].Version = 1
		}
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_case_id"}, {Name: "milestone_number"}},
			DoNothing: true,
		}).
		Create(&milestones)
	if result.Error != nil {
		return 0, translate(result.Error, "milestone")
	}
	return int(result.RowsAffected), nil
}

func (r *GormRepository) GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	var m models.Milestone
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err, "milestone")
	}
	return &m, nil
}

func (r *GormRepository) GetMilestoneByNumber(ctx context.Context, paymentCaseID uuid.UUID, number int) (*models.Milestone, error) {
	var m models.Milestone
	err := r.db.WithContext(ctx).
		First(&m, "payment_case_id = ? AND milestone_number = ?", paymentCaseID, number).Error
	if err != nil {
		return nil, translate(err, "milestone")
	}
	return &m, nil
}

func (r *GormRepository) ListMilestones(ctx context.Context, paymentCaseID uuid.UUID) ([]models.Milestone, error) {
	var milestones []models.Milestone
	err := r.db.WithContext(ctx).
		Where("payment_case_id = ?", paymentCaseID).
		Order("milestone_number ASC").
		Find(&milestones).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	return milestones, nil
}

func (r *GormRepository) ListApprovedUnpaid(ctx context.Context, limit int) ([]models.Milestone, error) {
	var milestones []models.Milestone
	err := r.db.WithContext(ctx).
		Where("status = ?", models.MilestoneStatusApproved).
		Order("approved_at ASC").
		Limit(limit).
		Find(&milestones).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list approved milestones: %w", err)
	}
	return milestones, nil
}

func (r *GormRepository) UpdateMilestone(ctx context.Context, m *models.Milestone) error {
	expected := m.Version
	m.Version = expected + 1

	// Select("*") so cleared evidence and nil pointers are written too.
	result := r.db.WithContext(ctx).Model(&models.Milestone{}).
		Where("id = ? AND version = ?", m.ID, expected).
		Select("*").Omit("id", "created_at").
		Updates(m)
	if result.Error != nil {
		m.Version = expected
		return translate(result.Error, "milestone")
	}
	if result.RowsAffected == 0 {
		m.Version = expected
		return fmt.Errorf("milestone %s at version %d: %w", m.ID, expected, ErrVersionConflict)
	}
	return nil
}

func (r *GormRepository) AppendVerificationRecord(ctx context.Context, rec *models.VerificationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to store verification record: %w", err)
	}
	return nil
}

func (r *GormRepository) ListVerificationRecords(ctx context.Context, milestoneID uuid.UUID) ([]models.VerificationRecord, error) {
	var records []models.VerificationRecord
	err := r.db.WithContext(ctx).
		Where("milestone_id = ?", milestoneID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list verification records: %w", err)
	}
	return records, nil
}

func (r *GormRepository) GetPayoutAccount(ctx context.Context, organizationID uuid.UUID) (*models.PayoutAccount, error) {
	var account models.PayoutAccount
	if err := r.db.WithContext(ctx).First(&account, "organization_id = ?", organizationID).Error; err != nil {
		return nil, translate(err, "payout account")
	}
	return &account, nil
}

func (r *GormRepository) UpsertPayoutAccount(ctx context.Context, account *models.PayoutAccount) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"destination", "verified", "updated_at"}),
		}).
		Create(account).Error
	if err != nil {
		return fmt.Errorf("failed to upsert payout account: %w", err)
	}
	return nil
}

func (r *GormRepository) RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) (*models.WebhookEvent, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.TryCount = 1
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(ev)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to record webhook event: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return ev, nil
	}

	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).First(&stored, "event_id = ?", ev.EventID).Error; err != nil {
		return nil, translate(err, "webhook event")
	}
	stored.TryCount++
	if err := r.db.WithContext(ctx).Model(&stored).Update("try_count", stored.TryCount).Error; err != nil {
		return nil, fmt.Errorf("failed to bump webhook try count: %w", err)
	}
	return &stored, nil
}

func (r *GormRepository) UpdateWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error {
	err := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", ev.ID).
		Updates(map[string]interface{}{
			"status":       ev.Status,
			"error":        ev.Error,
			"processed_at": ev.ProcessedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update webhook event: %w", err)
	}
	return nil
}

func (r *GormRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func translate(err error, what string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
