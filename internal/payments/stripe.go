// internal/payments/stripe.go
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/impactlink/escrow-backend/internal/config"
)

type StripeProvider struct {
	sc            *client.API
	webhookSecret string
}

// NewStripeProvider builds a provider around its own client instead of the package-level stripe.Key.
func NewStripeProvider(cfg config.PaymentConfig) *StripeProvider {
	return &StripeProvider{
		sc:            client.New(cfg.StripeSecretKey, nil),
		webhookSecret: cfg.StripeWebhookSecret,
	}
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := p.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapStripeError("create payment intent", err)
	}

	return &Charge{
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

func (p *StripeProvider) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.Destination),
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	tr, err := p.sc.Transfers.New(params)
	if err != nil {
		return nil, wrapStripeError("create transfer", err)
	}

	return &Transfer{Reference: tr.ID, Amount: tr.Amount}, nil
}

func (p *StripeProvider) ParseEvent(payload []byte, signature string) (*Event, error) {
	return parseStripeEvent(payload, signature, p.webhookSecret)
}

func parseStripeEvent(payload []byte, signature, secret string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	out := &Event{
		ID:   event.ID,
		Type: string(event.Type),
		Raw:  payload,
	}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventChargeSucceeded, EventChargeFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		out.ObjectID = pi.ID
		out.Status = string(pi.Status)
		out.Metadata = pi.Metadata
		if pi.LastPaymentError != nil {
			out.FailureMessage = pi.LastPaymentError.Msg
		}
	case EventTransferCreated:
		var tr stripe.Transfer
		if err := json.Unmarshal(event.Data.Raw, &tr); err != nil {
			return nil, fmt.Errorf("failed to decode transfer: %w", err)
		}
		out.ObjectID = tr.ID
		out.Metadata = tr.Metadata
	}

	return out, nil
}

// wrapStripeError marks card and invalid-request errors as rejections; everything else
// stays a plain upstream failure.
func wrapStripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch se.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return fmt.Errorf("%s: %w: %s", op, ErrRejected, se.Msg)
		}
		return fmt.Errorf("%s: %s", op, se.Msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}
