// internal/payments/fake.go
package payments

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v74/webhook"
)

// FakeProvider is an in-memory provider for local runs and tests. It honours
// idempotency keys the way the real provider does and signs events with the same
// header scheme, so ParseEvent goes through the real verification path.
type FakeProvider struct {
	mu            sync.Mutex
	webhookSecret string
	charges       map[string]*Charge
	transfers     map[string]*Transfer
	transferCalls int

	// ChargeErr and TransferErr, when set, are returned instead of creating objects.
	ChargeErr   error
	TransferErr error
}

func NewFakeProvider(webhookSecret string) *FakeProvider {
	return &FakeProvider{
		webhookSecret: webhookSecret,
		charges:       make(map[string]*Charge),
		transfers:     make(map[string]*Transfer),
	}
}

func (p *FakeProvider) Name() string { return "fake" }

func (p *FakeProvider) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ChargeErr != nil {
		return nil, p.ChargeErr
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("create payment intent: %w: amount must be positive", ErrRejected)
	}
	if c, ok := p.charges[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return c, nil
	}

	id := "pi_fake_" + shortID()
	c := &Charge{
		Reference:    id,
		ClientSecret: id + "_secret_" + shortID(),
		Status:       "requires_payment_method",
	}
	key := req.IdempotencyKey
	if key == "" {
		key = id
	}
	p.charges[key] = c
	return c, nil
}

func (p *FakeProvider) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.transferCalls++
	if p.TransferErr != nil {
		return nil, p.TransferErr
	}
	if req.Destination == "" {
		return nil, fmt.Errorf("create transfer: %w: destination required", ErrRejected)
	}
	if t, ok := p.transfers[req.IdempotencyKey]; ok {
		return t, nil
	}

	t := &Transfer{Reference: "tr_fake_" + shortID(), Amount: req.Amount}
	p.transfers[req.IdempotencyKey] = t
	return t, nil
}

func (p *FakeProvider) ParseEvent(payload []byte, signature string) (*Event, error) {
	return parseStripeEvent(payload, signature, p.webhookSecret)
}

// TransferCount returns the number of distinct transfers created.
func (p *FakeProvider) TransferCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transfers)
}

// TransferCalls returns how many times CreateTransfer was invoked, retries included.
func (p *FakeProvider) TransferCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transferCalls
}

// SignedEvent builds a webhook payload for object and the matching signature header.
func (p *FakeProvider) SignedEvent(eventID, eventType string, object map[string]interface{}) ([]byte, string, error) {
	if eventID == "" {
		eventID = "evt_fake_" + shortID()
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]interface{}{"object": object},
	})
	if err != nil {
		return nil, "", err
	}
	return payload, SignPayload(payload, p.webhookSecret, time.Now()), nil
}

// ChargeObject is the webhook object for a payment intent.
func ChargeObject(reference, status string, metadata map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"id":       reference,
		"object":   "payment_intent",
		"status":   status,
		"metadata": metadata,
	}
}

// TransferObject is the webhook object for a transfer.
func TransferObject(reference string, amount int64, metadata map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"id":       reference,
		"object":   "transfer",
		"amount":   amount,
		"metadata": metadata,
	}
}

// SignPayload produces a Stripe-Signature header for payload.
func SignPayload(payload []byte, secret string, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

func shortID() string {
	return uuid.NewString()[:8]
}
