// Package workflows holds the status transition tables for payment cases and milestones.
// Every transition is a total function of (state, event): a pair not listed in the
// table yields ErrIllegalTransition and leaves the caller's state unchanged.
package workflows

import (
	"errors"
	"fmt"
	"sort"

	"github.com/impactlink/escrow-backend/internal/models"
)

var ErrIllegalTransition = errors.New("illegal status transition")

// MilestoneEvent drives a milestone from one status to the next.
type MilestoneEvent string

const (
	EvidenceAttached    MilestoneEvent = "evidence_attached"
	VerifiedApproved    MilestoneEvent = "verified_approved"
	VerifiedNeedsReview MilestoneEvent = "verified_needs_review"
	VerifiedRejected    MilestoneEvent = "verified_rejected"
	ReviewApproved      MilestoneEvent = "review_approved"
	ReviewRejected      MilestoneEvent = "review_rejected"
	TransferConfirmed   MilestoneEvent = "transfer_confirmed"
)

// PaymentEvent drives a payment case.
type PaymentEvent string

const (
	ChargeSucceeded PaymentEvent = "charge_succeeded"
	ChargeFailed    PaymentEvent = "charge_failed"
)

// StateMachine enforces milestone and payment case status transitions
type StateMachine struct {
	milestone map[models.MilestoneStatus]map[MilestoneEvent]models.MilestoneStatus
	payment   map[models.PaymentStatus]map[PaymentEvent]models.PaymentStatus
}

// NewStateMachine creates a new state machine with allowed transitions
func NewStateMachine() *StateMachine {
	return &StateMachine{
		milestone: map[models.MilestoneStatus]map[MilestoneEvent]models.MilestoneStatus{
			models.MilestoneStatusPending: {
				EvidenceAttached: models.MilestoneStatusDocumentsUploaded,
			},
			models.MilestoneStatusDocumentsUploaded: {
				EvidenceAttached:    models.MilestoneStatusDocumentsUploaded,
				VerifiedApproved:    models.MilestoneStatusApproved,
				VerifiedNeedsReview: models.MilestoneStatusNeedsReview,
				VerifiedRejected:    models.MilestoneStatusRejected,
			},
			models.MilestoneStatusNeedsReview: {
				EvidenceAttached: models.MilestoneStatusDocumentsUploaded,
				ReviewApproved:   models.MilestoneStatusApproved,
				ReviewRejected:   models.MilestoneStatusRejected,
			},
			models.MilestoneStatusRejected: {
				EvidenceAttached: models.MilestoneStatusDocumentsUploaded,
			},
			models.MilestoneStatusApproved: {
				TransferConfirmed: models.MilestoneStatusPaid,
			},
			models.MilestoneStatusPaid: {},
		},
		payment: map[models.PaymentStatus]map[PaymentEvent]models.PaymentStatus{
			models.PaymentStatusAwaitingPayment: {
				ChargeSucceeded: models.PaymentStatusPaid,
				ChargeFailed:    models.PaymentStatusFailed,
			},
			models.PaymentStatusPaid:   {},
			models.PaymentStatusFailed: {},
		},
	}
}

// Milestone returns the status reached by applying ev to from.
func (sm *StateMachine) Milestone(from models.MilestoneStatus, ev MilestoneEvent) (models.MilestoneStatus, error) {
	if to, ok := sm.milestone[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: milestone %s on %s", ErrIllegalTransition, from, ev)
}

// Payment returns the status reached by applying ev to from.
func (sm *StateMachine) Payment(from models.PaymentStatus, ev PaymentEvent) (models.PaymentStatus, error) {
	if to, ok := sm.payment[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: payment %s on %s", ErrIllegalTransition, from, ev)
}

// CanApply reports whether ev is allowed from the milestone status.
func (sm *StateMachine) CanApply(from models.MilestoneStatus, ev MilestoneEvent) bool {
	_, ok := sm.milestone[from][ev]
	return ok
}

// AllowedEvents returns the events accepted in a milestone status, sorted by name.
func (sm *StateMachine) AllowedEvents(from models.MilestoneStatus) []MilestoneEvent {
	events := make([]MilestoneEvent, 0, len(sm.milestone[from]))
	for ev := range sm.milestone[from] {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// IsTerminal reports whether no event leaves the milestone status.
func (sm *StateMachine) IsTerminal(status models.MilestoneStatus) bool {
	return len(sm.milestone[status]) == 0
}
