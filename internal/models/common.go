// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type ServiceTier string

const (
	ServiceTierBasic    ServiceTier = "basic"
	ServiceTierStandard ServiceTier = "standard"
	ServiceTierEnhanced ServiceTier = "enhanced"
)

type PaymentStatus string

const (
	PaymentStatusAwaitingPayment PaymentStatus = "AWAITING_PAYMENT"
	PaymentStatusPaid            PaymentStatus = "PAID"
	PaymentStatusFailed          PaymentStatus = "PAYMENT_FAILED"
)

type MilestoneStatus string

const (
	MilestoneStatusPending           MilestoneStatus = "PENDING"
	MilestoneStatusDocumentsUploaded MilestoneStatus = "DOCUMENTS_UPLOADED"
	MilestoneStatusApproved          MilestoneStatus = "APPROVED"
	MilestoneStatusNeedsReview       MilestoneStatus = "NEEDS_REVIEW"
	MilestoneStatusRejected          MilestoneStatus = "REJECTED"
	MilestoneStatusPaid              MilestoneStatus = "PAID"
)

type VerificationType string

const (
	VerificationTypeLegitimacy   VerificationType = "LEGITIMACY_CHECK"
	VerificationTypeImpactReport VerificationType = "IMPACT_REPORT"
	VerificationTypeManualReview VerificationType = "MANUAL_REVIEW"
)

type WebhookEventStatus string

const (
	WebhookEventStatusReceived  WebhookEventStatus = "received"
	WebhookEventStatusProcessed WebhookEventStatus = "processed"
	WebhookEventStatusIgnored   WebhookEventStatus = "ignored"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
)

type UserRole string

const (
	UserRoleCompany      UserRole = "company"
	UserRoleOrganization UserRole = "organization"
	UserRoleAdmin        UserRole = "admin"
)
