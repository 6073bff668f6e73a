// internal/models/verification.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// VerificationRecord is an insert-only audit entry, one per verification attempt.
type VerificationRecord struct {
	ID               uuid.UUID        `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	MilestoneID      uuid.UUID        `json:"milestone_id" gorm:"type:uuid;not null;index"`
	VerificationType VerificationType `json:"verification_type" gorm:"type:varchar(30);not null"`
	Model            string           `json:"model" gorm:"size:100"`
	RawResponse      datatypes.JSON   `json:"raw_response" gorm:"type:jsonb"`
	Passed           bool             `json:"passed"`
	ConfidenceScore  float64          `json:"confidence_score"`
	Flags            pq.StringArray   `json:"flags" gorm:"type:text[]"`
	Reasoning        string           `json:"reasoning" gorm:"type:text"`
	Checks           datatypes.JSON   `json:"checks" gorm:"type:jsonb"`
	Decision         MilestoneStatus  `json:"decision" gorm:"type:varchar(30)"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	TokensUsed       int              `json:"tokens_used"`
	ReviewerID       *uuid.UUID       `json:"reviewer_id,omitempty" gorm:"type:uuid"`
	CreatedAt        time.Time        `json:"created_at" gorm:"index"`
}

// WebhookEvent logs every inbound provider event for dedup and replay.
type WebhookEvent struct {
	BaseModel
	EventID     string             `json:"event_id" gorm:"size:255;not null;uniqueIndex"`
	Type        string             `json:"type" gorm:"size:100;not null;index"`
	Payload     datatypes.JSON     `json:"payload" gorm:"type:jsonb"`
	Signature   string             `json:"-" gorm:"type:text"`
	Status      WebhookEventStatus `json:"status" gorm:"type:varchar(20);default:'received';index"`
	Error       string             `json:"error,omitempty" gorm:"type:text"`
	TryCount    int                `json:"try_count" gorm:"default:0"`
	ProcessedAt *time.Time         `json:"processed_at"`
}

type AuditLog struct {
	BaseModel
	UserID       *uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	Action       string     `json:"action" gorm:"size:100;not null;index"`
	ResourceType string     `json:"resource_type" gorm:"size:50;not null;index"`
	ResourceID   *uuid.UUID `json:"resource_id" gorm:"type:uuid;index"`
	NewValues    JSONB      `json:"new_values" gorm:"type:jsonb"`
	StatusCode   int        `json:"status_code"`
	IPAddress    string     `json:"ip_address" gorm:"size:45"`
	UserAgent    string     `json:"user_agent" gorm:"type:text"`
}
