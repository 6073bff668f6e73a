package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func TestFakeTransferHonoursIdempotencyKey(t *testing.T) {
	p := NewFakeProvider(testSecret)
	req := TransferRequest{Amount: 25000, Currency: "sek", Destination: "acct_1", IdempotencyKey: "milestone-payout-1"}

	first, err := p.CreateTransfer(context.Background(), req)
	require.NoError(t, err)
	second, err := p.CreateTransfer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, 1, p.TransferCount())
	assert.Equal(t, 2, p.TransferCalls())
}

func TestFakeTransferRequiresDestination(t *testing.T) {
	p := NewFakeProvider(testSecret)
	_, err := p.CreateTransfer(context.Background(), TransferRequest{Amount: 1, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestParseSignedChargeEvent(t *testing.T) {
	p := NewFakeProvider(testSecret)
	payload, sig, err := p.SignedEvent("evt_1", EventChargeSucceeded,
		ChargeObject("pi_1", "succeeded", map[string]string{MetaPaymentCaseID: "case-1"}))
	require.NoError(t, err)

	ev, err := p.ParseEvent(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventChargeSucceeded, ev.Type)
	assert.Equal(t, "pi_1", ev.ObjectID)
	assert.Equal(t, "case-1", ev.Metadata[MetaPaymentCaseID])
}

func TestParseTransferEvent(t *testing.T) {
	p := NewFakeProvider(testSecret)
	payload, sig, err := p.SignedEvent("evt_2", EventTransferCreated,
		TransferObject("tr_1", 25000, map[string]string{MetaMilestoneNumber: "2"}))
	require.NoError(t, err)

	ev, err := p.ParseEvent(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, "tr_1", ev.ObjectID)
	assert.Equal(t, "2", ev.Metadata[MetaMilestoneNumber])
}

func TestParseEventRejectsBadSignature(t *testing.T) {
	p := NewFakeProvider(testSecret)
	payload, _, err := p.SignedEvent("evt_3", EventChargeFailed, ChargeObject("pi_2", "requires_payment_method", nil))
	require.NoError(t, err)

	_, err = p.ParseEvent(payload, SignPayload(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = ' '
	_, err = p.ParseEvent(tampered, SignPayload(payload, testSecret, time.Now()))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}
