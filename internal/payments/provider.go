// Package payments is the boundary to the payment provider: escrow charges, payouts to
// organizations and signed webhook events.
package payments

import (
	"context"
	"errors"
)

// Event types consumed by the webhook ingestor.
const (
	EventChargeSucceeded = "payment_intent.succeeded"
	EventChargeFailed    = "payment_intent.payment_failed"
	EventTransferCreated = "transfer.created"
)

// Metadata keys attached to charges and transfers.
const (
	MetaPaymentCaseID   = "payment_case_id"
	MetaProjectID       = "project_id"
	MetaOrganizationID  = "organization_id"
	MetaMilestoneID     = "milestone_id"
	MetaMilestoneNumber = "milestone_number"
)

var (
	ErrSignatureInvalid = errors.New("webhook signature verification failed")
	ErrRejected         = errors.New("payment provider rejected the request")
)

type Provider interface {
	Name() string
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	// ParseEvent verifies the signature header before decoding anything.
	ParseEvent(payload []byte, signature string) (*Event, error)
}

type ChargeRequest struct {
	Amount         int64
	Currency       string
	Description    string
	ReceiptEmail   string
	IdempotencyKey string
	Metadata       map[string]string
}

type Charge struct {
	Reference    string
	ClientSecret string
	Status       string
}

type TransferRequest struct {
	Amount         int64
	Currency       string
	Destination    string
	TransferGroup  string
	IdempotencyKey string
	Metadata       map[string]string
}

type Transfer struct {
	Reference string
	Amount    int64
}

// Event is the provider-neutral view of an inbound webhook.
type Event struct {
	ID             string
	Type           string
	ObjectID       string
	Status         string
	FailureMessage string
	Metadata       map[string]string
	Raw            []byte
}
