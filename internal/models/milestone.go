// internal/models/milestone.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	// MilestoneLegitimacy is released after the organization's documents are verified.
	MilestoneLegitimacy = 1
	// MilestoneImpact is released after the impact report is verified.
	MilestoneImpact = 2
)

type Milestone struct {
	BaseModel
	PaymentCaseID   uuid.UUID       `json:"payment_case_id" gorm:"type:uuid;not null;uniqueIndex:idx_milestones_case_number"`
	MilestoneNumber int             `json:"milestone_number" gorm:"not null;uniqueIndex:idx_milestones_case_number"`
	Amount          int64           `json:"amount" gorm:"not null"`
	Status          MilestoneStatus `json:"status" gorm:"type:varchar(30);default:'PENDING';index"`

	// Legitimacy evidence (milestone 1)
	CharterDocumentURL    string `json:"charter_document_url,omitempty" gorm:"type:text"`
	FinancialStatementURL string `json:"financial_statement_url,omitempty" gorm:"type:text"`

	// Impact evidence (milestone 2)
	SocialProofURL string         `json:"social_proof_url,omitempty" gorm:"type:text"`
	PhotoURLs      pq.StringArray `json:"photo_urls,omitempty" gorm:"type:text[]"`
	Description    string         `json:"description,omitempty" gorm:"type:text"`

	EvidenceSubmittedAt *time.Time `json:"evidence_submitted_at"`

	AIVerificationStatus string   `json:"ai_verification_status,omitempty" gorm:"size:30"`
	AIConfidenceScore    *float64 `json:"ai_confidence_score"`

	TransferReference        string     `json:"transfer_reference,omitempty" gorm:"size:255"`
	PendingTransferReference string     `json:"pending_transfer_reference,omitempty" gorm:"size:255"`
	TransferAttempts         int        `json:"transfer_attempts" gorm:"default:0"`
	LastTransferError        string     `json:"last_transfer_error,omitempty" gorm:"type:text"`
	ApprovedAt               *time.Time `json:"approved_at"`
	PaidAt                   *time.Time `json:"paid_at"`

	Version int `json:"version" gorm:"not null;default:1"`
}

// VerificationType returns the oracle check that applies to this milestone.
func (m *Milestone) VerificationType() VerificationType {
	if m.MilestoneNumber == MilestoneLegitimacy {
		return VerificationTypeLegitimacy
	}
	return VerificationTypeImpactReport
}

// ClearEvidence wipes both evidence shapes before new evidence is attached.
func (m *Milestone) ClearEvidence() {
	m.CharterDocumentURL = ""
	m.FinancialStatementURL = ""
	m.SocialProofURL = ""
	m.PhotoURLs = nil
	m.Description = ""
}

// SplitGrant splits a grant into the two milestone amounts. Milestone 1 takes the
// floor half and milestone 2 the remainder, so the parts always sum to the grant.
func SplitGrant(grant int64) (first, second int64) {
	first = grant / 2
	return first, grant - first
}
