// internal/models/payment_case.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentCase is one escrow charge for a (project, organization, company) triple.
type PaymentCase struct {
	BaseModel
	ProjectID       uuid.UUID     `json:"project_id" gorm:"type:uuid;not null;index"`
	OrganizationID  uuid.UUID     `json:"organization_id" gorm:"type:uuid;not null;index"`
	CompanyID       *uuid.UUID    `json:"company_id,omitempty" gorm:"type:uuid;index"`
	CompanyName     string        `json:"company_name" gorm:"size:255;not null"`
	CompanyEmail    string        `json:"company_email" gorm:"size:255;not null"`
	GrantAmount     int64         `json:"grant_amount" gorm:"not null"`
	ServiceTier     ServiceTier   `json:"service_tier" gorm:"type:varchar(20);not null"`
	ServiceFee      int64         `json:"service_fee" gorm:"not null"`
	TotalCharged    int64         `json:"total_charged" gorm:"not null"`
	Currency        string        `json:"currency" gorm:"size:3;not null;default:'sek'"`
	ChargeReference *string       `json:"charge_reference,omitempty" gorm:"size:255;uniqueIndex"`
	ChargeStatus    string        `json:"charge_status,omitempty" gorm:"size:50"`
	Status          PaymentStatus `json:"status" gorm:"type:varchar(20);default:'AWAITING_PAYMENT';index"`
	FailureReason   string        `json:"failure_reason,omitempty" gorm:"type:text"`
	PaidAt          *time.Time    `json:"paid_at"`

	// Relationships
	Milestones []Milestone `json:"milestones,omitempty" gorm:"foreignKey:PaymentCaseID;constraint:OnDelete:CASCADE"`
}

// ChargeRef returns the external charge reference or "" when none is stored yet.
func (p *PaymentCase) ChargeRef() string {
	if p.ChargeReference == nil {
		return ""
	}
	return *p.ChargeReference
}

// PayoutAccount maps an organization to its payout destination at the payment provider.
type PayoutAccount struct {
	BaseModel
	OrganizationID uuid.UUID `json:"organization_id" gorm:"type:uuid;not null;uniqueIndex"`
	Destination    string    `json:"destination" gorm:"size:255;not null"`
	Verified       bool      `json:"verified" gorm:"default:false"`
}
