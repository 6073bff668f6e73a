// Package metrics holds the Prometheus collectors of the escrow service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "csr_escrow"

// ─── Payments ───────────────────────────────────────────────────────────────

// ChargesCreated counts escrow charges by outcome (created, rejected, error).
var ChargesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "payments",
	Name:      "charges_total",
	Help:      "Escrow charges requested from the payment provider.",
}, []string{"outcome"})

// PaymentTransitions counts payment case status changes.
var PaymentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "payments",
	Name:      "transitions_total",
	Help:      "Payment case status transitions.",
}, []string{"to"})

// ─── Milestones ─────────────────────────────────────────────────────────────

// MilestoneTransitions counts milestone status changes.
var MilestoneTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "milestones",
	Name:      "transitions_total",
	Help:      "Milestone status transitions by target status.",
}, []string{"to"})

// VerificationDecisions counts applied verification decisions.
var VerificationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "verification",
	Name:      "decisions_total",
	Help:      "Verification decisions by type and decision.",
}, []string{"type", "decision"})

// OracleLatency tracks oracle call latency.
var OracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "verification",
	Name:      "oracle_latency_seconds",
	Help:      "Verification oracle call latency.",
	Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
}, []string{"oracle", "outcome"})

// ─── Transfers ──────────────────────────────────────────────────────────────

// Transfers counts payout attempts by outcome (paid, failed, deferred).
var Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "transfers",
	Name:      "attempts_total",
	Help:      "Milestone payout attempts by outcome.",
}, []string{"outcome"})

// ─── Webhooks ───────────────────────────────────────────────────────────────

// WebhookEvents counts inbound provider events by type and result.
var WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "webhooks",
	Name:      "events_total",
	Help:      "Inbound payment provider events by type and result.",
}, []string{"type", "result"})

// ─── Alerts ─────────────────────────────────────────────────────────────────

// Alerts counts operational alerts that need a human to look at them.
var Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "alerts_total",
	Help:      "Operational alerts by kind.",
}, []string{"kind"})

// Alert kinds.
const (
	AlertTransferFailed       = "transfer_failed"
	AlertTransferOutOfOrder   = "transfer_out_of_order"
	AlertChargeAfterFailure   = "charge_after_failure"
	AlertChargeReferenceLost  = "charge_reference_lost"
	AlertPayoutAfterApproval  = "payout_after_approval"
	AlertUnmatchedWebhook     = "unmatched_webhook"
	AlertMissingPayoutAccount = "missing_payout_account"
)
