// internal/services/milestone_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/impactlink/escrow-backend/internal/config"
	"github.com/impactlink/escrow-backend/internal/metrics"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/oracle"
	"github.com/impactlink/escrow-backend/internal/repository"
	"github.com/impactlink/escrow-backend/internal/utils"
	"github.com/impactlink/escrow-backend/pkg/workflows"
)

// Evidence kinds accepted by AttachEvidence.
const (
	EvidenceLegitimacy = "legitimacy"
	EvidenceImpact     = "impact"
)

// Payouter releases the funds of an approved milestone.
type Payouter interface {
	PayoutMilestone(ctx context.Context, milestoneID uuid.UUID) (*PayoutResult, error)
}

// MilestoneService is the milestone ledger. Every milestone mutation goes through it and
// is applied with a version compare-and-swap.
type MilestoneService struct {
	repo     repository.Repository
	oracle   oracle.Oracle
	evidence *EvidenceService
	payouter Payouter
	fsm      *workflows.StateMachine
	cfg      config.OracleConfig
	log      logrus.FieldLogger
	now      func() time.Time
}

type EvidencePayload struct {
	Kind                  string   `json:"kind" validate:"omitempty,oneof=legitimacy impact"`
	CharterDocumentURL    string   `json:"charter_document_url" validate:"max=2048"`
	FinancialStatementURL string   `json:"financial_statement_url" validate:"max=2048"`
	SocialProofURL        string   `json:"social_proof_url" validate:"max=2048"`
	PhotoURLs             []string `json:"photo_urls" validate:"max=20,dive,max=2048"`
	Description           string   `json:"description" validate:"max=10000"`
}

type VerificationOutcome struct {
	Milestone     *models.Milestone          `json:"milestone"`
	Record        *models.VerificationRecord `json:"verification"`
	Decision      models.MilestoneStatus     `json:"decision"`
	Payout        *PayoutResult              `json:"payout,omitempty"`
	PayoutPending bool                       `json:"payout_pending"`
}

type ReviewDecision struct {
	Approve    bool      `json:"approve"`
	ReviewerID uuid.UUID `json:"-"`
	Notes      string    `json:"notes" validate:"required,min=3,max=5000"`
}

func NewMilestoneService(repo repository.Repository, o oracle.Oracle, evidence *EvidenceService, cfg config.OracleConfig, log logrus.FieldLogger) *MilestoneService {
	return &MilestoneService{
		repo:     repo,
		oracle:   o,
		evidence: evidence,
		fsm:      workflows.NewStateMachine(),
		cfg:      cfg,
		log:      log.WithField("component", "ledger"),
		now:      time.Now,
	}
}

// SetPayouter wires the transfer executor, which itself depends on the ledger.
func (s *MilestoneService) SetPayouter(p Payouter) {
	s.payouter = p
}

// Decide applies the verification decision policy to an oracle verdict.
func Decide(passed bool, confidence, approveAt, rejectBelow float64) models.MilestoneStatus {
	switch {
	case passed && confidence >= approveAt:
		return models.MilestoneStatusApproved
	case confidence < rejectBelow:
		return models.MilestoneStatusRejected
	default:
		return models.MilestoneStatusNeedsReview
	}
}

// OnEscrowPaid creates the two milestones of a paid case. Repeated calls are no-ops.
func (s *MilestoneService) OnEscrowPaid(ctx context.Context, paymentCaseID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(tx repository.Repository) error {
		pc, err := tx.GetPaymentCase(ctx, paymentCaseID)
		if err != nil {
			return mapRepoErr(err)
		}
		return s.onEscrowPaid(ctx, tx, pc)
	})
}

func (s *MilestoneService) onEscrowPaid(ctx context.Context, tx repository.Repository, pc *models.PaymentCase) error {
	if pc.Status != models.PaymentStatusPaid {
		return fmt.Errorf("%w: payment case %s is %s", ErrInvalidState, pc.ID, pc.Status)
	}

	existing, err := tx.ListMilestones(ctx, pc.ID)
	if err != nil {
		return err
	}
	if len(existing) >= 2 {
		return nil
	}

	first, second := models.SplitGrant(pc.GrantAmount)
	inserted, err := tx.CreateMilestones(ctx, []models.Milestone{
		{PaymentCaseID: pc.ID, MilestoneNumber: models.MilestoneLegitimacy, Amount: first, Status: models.MilestoneStatusPending, Version: 1},
		{PaymentCaseID: pc.ID, MilestoneNumber: models.MilestoneImpact, Amount: second, Status: models.MilestoneStatusPending, Version: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create milestones: %w", err)
	}
	if inserted > 0 {
		metrics.MilestoneTransitions.WithLabelValues(string(models.MilestoneStatusPending)).Add(float64(inserted))
		s.log.WithFields(logrus.Fields{
			"payment_case_id": pc.ID,
			"milestone_1":     first,
			"milestone_2":     second,
		}).Info("Escrow milestones created")
	}
	return nil
}

// AttachEvidence validates the payload against the milestone's evidence kind and moves
// the milestone to DOCUMENTS_UPLOADED.
func (s *MilestoneService) AttachEvidence(ctx context.Context, milestoneID uuid.UUID, payload *EvidencePayload) (*models.Milestone, error) {
	m, err := s.repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	next, err := s.fsm.Milestone(m.Status, workflows.EvidenceAttached)
	if err != nil {
		return nil, fmt.Errorf("%w: milestone %s is %s", ErrInvalidState, m.ID, m.Status)
	}

	if err := s.validateEvidence(m, payload); err != nil {
		return nil, err
	}

	now := s.now()
	m.ClearEvidence()
	if m.MilestoneNumber == models.MilestoneLegitimacy {
		m.CharterDocumentURL = strings.TrimSpace(payload.CharterDocumentURL)
		m.FinancialStatementURL = strings.TrimSpace(payload.FinancialStatementURL)
	} else {
		m.SocialProofURL = strings.TrimSpace(payload.SocialProofURL)
		m.PhotoURLs = trimAll(payload.PhotoURLs)
		m.Description = strings.TrimSpace(payload.Description)
	}
	m.Status = next
	m.EvidenceSubmittedAt = &now

	if err := s.repo.UpdateMilestone(ctx, m); err != nil {
		return nil, mapRepoErr(err)
	}

	metrics.MilestoneTransitions.WithLabelValues(string(next)).Inc()
	s.log.WithFields(logrus.Fields{
		"milestone_id":     m.ID,
		"milestone_number": m.MilestoneNumber,
	}).Info("Milestone evidence attached")
	return m, nil
}

func (s *MilestoneService) validateEvidence(m *models.Milestone, p *EvidencePayload) error {
	hasLegitimacy := strings.TrimSpace(p.CharterDocumentURL) != "" || strings.TrimSpace(p.FinancialStatementURL) != ""
	hasImpact := strings.TrimSpace(p.SocialProofURL) != "" || len(p.PhotoURLs) > 0 || strings.TrimSpace(p.Description) != ""

	kind := p.Kind
	if kind == "" {
		switch {
		case hasLegitimacy && !hasImpact:
			kind = EvidenceLegitimacy
		case hasImpact && !hasLegitimacy:
			kind = EvidenceImpact
		case hasLegitimacy && hasImpact:
			return invalid(ErrInvalidMilestoneType, "kind", "mixes legitimacy and impact evidence")
		default:
			return invalid(ErrIncompleteEvidence, "evidence", "is empty")
		}
	}

	expected := EvidenceImpact
	if m.MilestoneNumber == models.MilestoneLegitimacy {
		expected = EvidenceLegitimacy
	}
	if kind != expected || (kind == EvidenceLegitimacy && hasImpact) || (kind == EvidenceImpact && hasLegitimacy) {
		return invalid(ErrInvalidMilestoneType, "kind",
			fmt.Sprintf("milestone %d requires %s evidence", m.MilestoneNumber, expected))
	}

	if kind == EvidenceLegitimacy {
		if !IsReference(p.CharterDocumentURL) {
			return invalid(ErrIncompleteEvidence, "charter_document_url", "is required")
		}
		if !IsReference(p.FinancialStatementURL) {
			return invalid(ErrIncompleteEvidence, "financial_statement_url", "is required")
		}
		return nil
	}

	if err := utils.ValidateVar(strings.TrimSpace(p.SocialProofURL), "required,http_url"); err != nil {
		return invalid(ErrIncompleteEvidence, "social_proof_url", "must be a valid http(s) URL")
	}
	if len(p.PhotoURLs) == 0 {
		return invalid(ErrIncompleteEvidence, "photo_urls", "requires at least one photo")
	}
	for _, photo := range p.PhotoURLs {
		if !IsReference(photo) {
			return invalid(ErrIncompleteEvidence, "photo_urls", "contains an invalid reference")
		}
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(p.Description)); n < s.cfg.MinDescriptionLen {
		return invalid(ErrIncompleteEvidence, "description",
			fmt.Sprintf("must be at least %d characters, got %d", s.cfg.MinDescriptionLen, n))
	}
	return nil
}

// RunVerification asks the oracle to judge the milestone's evidence and applies the
// decision. No lock is held during the oracle call; the verdict is applied only if the
// milestone is still DOCUMENTS_UPLOADED with the evidence that was judged. Other writes
// in between, such as a parked transfer reference, are kept.
func (s *MilestoneService) RunVerification(ctx context.Context, milestoneID uuid.UUID) (*VerificationOutcome, error) {
	m, err := s.repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if !s.fsm.CanApply(m.Status, workflows.VerifiedApproved) {
		return nil, fmt.Errorf("%w: milestone %s is %s", ErrInvalidState, m.ID, m.Status)
	}
	pc, err := s.repo.GetPaymentCase(ctx, m.PaymentCaseID)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	log := s.log.WithFields(logrus.Fields{
		"milestone_id":    m.ID,
		"payment_case_id": pc.ID,
		"oracle":          s.oracle.Name(),
	})

	req, err := s.oracleRequest(pc, m)
	if err != nil {
		log.WithError(err).Error("Failed to prepare evidence for verification")
		return nil, fmt.Errorf("%w: %v", ErrOracle, err)
	}

	verdict, err := s.callOracle(ctx, req)
	if err != nil {
		log.WithError(err).Warn("Verification oracle call failed")
		return nil, err
	}

	decision := Decide(verdict.Passed, verdict.Confidence, s.cfg.ApproveConfidence, s.cfg.RejectConfidence)
	record := newVerificationRecord(m, verdict, decision)

	var updated *models.Milestone
	err = s.repo.WithTx(ctx, func(tx repository.Repository) error {
		cur, err := tx.GetMilestone(ctx, m.ID)
		if err != nil {
			return mapRepoErr(err)
		}
		if cur.Status != models.MilestoneStatusDocumentsUploaded || !sameEvidence(m, cur) {
			return fmt.Errorf("%w: milestone %s changed during verification", ErrConcurrentModification, m.ID)
		}

		next, err := s.fsm.Milestone(cur.Status, decisionEvent(decision))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		if err := tx.AppendVerificationRecord(ctx, record); err != nil {
			return err
		}

		confidence := verdict.Confidence
		cur.Status = next
		cur.AIVerificationStatus = string(decision)
		cur.AIConfidenceScore = &confidence
		if next == models.MilestoneStatusApproved {
			s.approve(cur)
		}
		if err := tx.UpdateMilestone(ctx, cur); err != nil {
			return mapRepoErr(err)
		}
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.VerificationDecisions.WithLabelValues(string(record.VerificationType), string(decision)).Inc()
	metrics.MilestoneTransitions.WithLabelValues(string(updated.Status)).Inc()
	log.WithFields(logrus.Fields{
		"decision":   decision,
		"confidence": verdict.Confidence,
		"passed":     verdict.Passed,
	}).Info("Verification applied")

	outcome := &VerificationOutcome{Milestone: updated, Record: record, Decision: decision}
	if updated.Status == models.MilestoneStatusApproved {
		s.releaseApproved(ctx, outcome)
	}
	return outcome, nil
}

// sameEvidence reports whether b carries the evidence submission a was read with.
func sameEvidence(a, b *models.Milestone) bool {
	if (a.EvidenceSubmittedAt == nil) != (b.EvidenceSubmittedAt == nil) {
		return false
	}
	if a.EvidenceSubmittedAt != nil && !a.EvidenceSubmittedAt.Equal(*b.EvidenceSubmittedAt) {
		return false
	}
	if len(a.PhotoURLs) != len(b.PhotoURLs) {
		return false
	}
	for i := range a.PhotoURLs {
		if a.PhotoURLs[i] != b.PhotoURLs[i] {
			return false
		}
	}
	return a.CharterDocumentURL == b.CharterDocumentURL &&
		a.FinancialStatementURL == b.FinancialStatementURL &&
		a.SocialProofURL == b.SocialProofURL &&
		a.Description == b.Description
}

func (s *MilestoneService) oracleRequest(pc *models.PaymentCase, m *models.Milestone) (oracle.Request, error) {
	ev := oracle.Evidence{
		CharterDocumentURL:    m.CharterDocumentURL,
		FinancialStatementURL: m.FinancialStatementURL,
		SocialProofURL:        m.SocialProofURL,
		PhotoURLs:             []string(m.PhotoURLs),
		Description:           m.Description,
	}
	if s.evidence != nil {
		resolved, err := s.evidence.ResolveEvidence(ev)
		if err != nil {
			return oracle.Request{}, err
		}
		ev = resolved
	}

	return oracle.Request{
		Type:            m.VerificationType(),
		MilestoneNumber: m.MilestoneNumber,
		Evidence:        ev,
		Context: oracle.ExpectedContext{
			PaymentCaseID:  pc.ID.String(),
			ProjectID:      pc.ProjectID.String(),
			OrganizationID: pc.OrganizationID.String(),
			CompanyName:    pc.CompanyName,
			Amount:         m.Amount,
			Currency:       pc.Currency,
		},
	}, nil
}

func (s *MilestoneService) callOracle(ctx context.Context, req oracle.Request) (*oracle.Verdict, error) {
	octx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	started := time.Now()
	verdict, err := s.oracle.Verify(octx, req)
	elapsed := time.Since(started)

	switch {
	case err == nil:
		metrics.OracleLatency.WithLabelValues(s.oracle.Name(), "ok").Observe(elapsed.Seconds())
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(octx.Err(), context.DeadlineExceeded):
		metrics.OracleLatency.WithLabelValues(s.oracle.Name(), "timeout").Observe(elapsed.Seconds())
		return nil, fmt.Errorf("%w after %s", ErrOracleTimeout, elapsed.Round(time.Millisecond))
	default:
		metrics.OracleLatency.WithLabelValues(s.oracle.Name(), "error").Observe(elapsed.Seconds())
		return nil, fmt.Errorf("%w: %v", ErrOracle, err)
	}

	if verdict.Metrics.ProcessingTimeMs == 0 {
		verdict.Metrics.ProcessingTimeMs = elapsed.Milliseconds()
	}
	return verdict, nil
}

func newVerificationRecord(m *models.Milestone, v *oracle.Verdict, decision models.MilestoneStatus) *models.VerificationRecord {
	checks, _ := json.Marshal(v.Checks)
	raw := datatypes.JSON(v.Raw)
	if len(raw) == 0 {
		raw = datatypes.JSON("{}")
	}
	return &models.VerificationRecord{
		ID:               uuid.New(),
		MilestoneID:      m.ID,
		VerificationType: m.VerificationType(),
		Model:            v.Metrics.Model,
		RawResponse:      raw,
		Passed:           v.Passed,
		ConfidenceScore:  v.Confidence,
		Flags:            pq.StringArray(v.Flags),
		Reasoning:        v.Reasoning,
		Checks:           datatypes.JSON(checks),
		Decision:         decision,
		ProcessingTimeMs: v.Metrics.ProcessingTimeMs,
		TokensUsed:       v.Metrics.TokensUsed,
	}
}

func decisionEvent(decision models.MilestoneStatus) workflows.MilestoneEvent {
	switch decision {
	case models.MilestoneStatusApproved:
		return workflows.VerifiedApproved
	case models.MilestoneStatusRejected:
		return workflows.VerifiedRejected
	default:
		return workflows.VerifiedNeedsReview
	}
}

// approve stamps an approval and promotes a transfer reference that arrived early.
func (s *MilestoneService) approve(m *models.Milestone) {
	now := s.now()
	m.ApprovedAt = &now
	if m.PendingTransferReference == "" {
		return
	}
	if next, err := s.fsm.Milestone(m.Status, workflows.TransferConfirmed); err == nil {
		m.Status = next
		m.TransferReference = m.PendingTransferReference
		m.PendingTransferReference = ""
		m.PaidAt = &now
		s.log.WithFields(logrus.Fields{
			"milestone_id":       m.ID,
			"transfer_reference": m.TransferReference,
		}).Info("Early transfer reconciled on approval")
	}
}

// releaseApproved triggers the payout of a freshly approved milestone. Failures leave
// the milestone APPROVED for the payout sweep and never fail the caller.
func (s *MilestoneService) releaseApproved(ctx context.Context, outcome *VerificationOutcome) {
	if s.payouter == nil {
		outcome.PayoutPending = true
		return
	}

	log := s.log.WithField("milestone_id", outcome.Milestone.ID)
	result, err := s.payouter.PayoutMilestone(ctx, outcome.Milestone.ID)
	switch {
	case err == nil:
		outcome.Payout = result
	case errors.Is(err, ErrMissingPayoutDestination):
		outcome.PayoutPending = true
		log.Info("Payout deferred until the organization configures a payout destination")
	default:
		outcome.PayoutPending = true
		metrics.Alerts.WithLabelValues(metrics.AlertPayoutAfterApproval).Inc()
		log.WithError(err).WithField("alert", true).Error("Payout after approval failed")
	}

	if fresh, err := s.repo.GetMilestone(ctx, outcome.Milestone.ID); err == nil {
		outcome.Milestone = fresh
	}
}

// RecordTransferSuccess marks an APPROVED milestone PAID. Repeating it with the same
// reference is a no-op.
func (s *MilestoneService) RecordTransferSuccess(ctx context.Context, milestoneID uuid.UUID, transferRef string) (*models.Milestone, error) {
	if strings.TrimSpace(transferRef) == "" {
		return nil, invalid(ErrValidation, "transfer_reference", "is required")
	}

	m, err := s.repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if m.Status == models.MilestoneStatusPaid && m.TransferReference == transferRef {
		return m, nil
	}
	if err := s.markPaid(ctx, s.repo, m, transferRef); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			// The transfer webhook may have settled it first.
			if cur, gerr := s.repo.GetMilestone(ctx, milestoneID); gerr == nil &&
				cur.Status == models.MilestoneStatusPaid && cur.TransferReference == transferRef {
				return cur, nil
			}
		}
		return nil, err
	}
	return m, nil
}

func (s *MilestoneService) markPaid(ctx context.Context, repo repository.Repository, m *models.Milestone, transferRef string) error {
	next, err := s.fsm.Milestone(m.Status, workflows.TransferConfirmed)
	if err != nil {
		return fmt.Errorf("%w: milestone %s is %s", ErrInvalidState, m.ID, m.Status)
	}

	now := s.now()
	m.Status = next
	m.TransferReference = transferRef
	m.PendingTransferReference = ""
	m.LastTransferError = ""
	m.PaidAt = &now
	if err := repo.UpdateMilestone(ctx, m); err != nil {
		return mapRepoErr(err)
	}

	metrics.MilestoneTransitions.WithLabelValues(string(next)).Inc()
	s.log.WithFields(logrus.Fields{
		"milestone_id":       m.ID,
		"transfer_reference": transferRef,
		"amount":             m.Amount,
	}).Info("Milestone paid")
	return nil
}

// RecordTransferFailure keeps the milestone APPROVED so the payout can be retried.
func (s *MilestoneService) RecordTransferFailure(ctx context.Context, milestoneID uuid.UUID, reason string) error {
	m, err := s.repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return mapRepoErr(err)
	}
	if m.Status != models.MilestoneStatusApproved {
		return fmt.Errorf("%w: milestone %s is %s", ErrInvalidState, m.ID, m.Status)
	}

	m.TransferAttempts++
	m.LastTransferError = reason
	if err := s.repo.UpdateMilestone(ctx, m); err != nil {
		return mapRepoErr(err)
	}

	metrics.Alerts.WithLabelValues(metrics.AlertTransferFailed).Inc()
	s.log.WithFields(logrus.Fields{
		"milestone_id": m.ID,
		"attempts":     m.TransferAttempts,
		"alert":        true,
	}).Errorf("Milestone transfer failed: %s", reason)
	return nil
}

// RecordTransferEvent applies a provider transfer notification. A transfer for a
// milestone that is not approved yet is parked and promoted when approval lands.
func (s *MilestoneService) RecordTransferEvent(ctx context.Context, paymentCaseID uuid.UUID, number int, transferRef string) (*models.Milestone, error) {
	if number != models.MilestoneLegitimacy && number != models.MilestoneImpact {
		return nil, invalid(ErrValidation, "milestone_number", "must be 1 or 2")
	}

	var result *models.Milestone
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		m, err := tx.GetMilestoneByNumber(ctx, paymentCaseID, number)
		if err != nil {
			return mapRepoErr(err)
		}
		result = m
		log := s.log.WithFields(logrus.Fields{"milestone_id": m.ID, "transfer_reference": transferRef})

		switch m.Status {
		case models.MilestoneStatusApproved:
			return s.markPaid(ctx, tx, m, transferRef)
		case models.MilestoneStatusPaid:
			if m.TransferReference != transferRef {
				metrics.Alerts.WithLabelValues(metrics.AlertTransferOutOfOrder).Inc()
				log.WithFields(logrus.Fields{
					"alert":        true,
					"paid_with":    m.TransferReference,
					"milestone":    number,
					"payment_case": paymentCaseID,
				}).Error("Second transfer reported for a paid milestone")
			}
			return nil
		default:
			if m.PendingTransferReference == transferRef {
				return nil
			}
			m.PendingTransferReference = transferRef
			if err := tx.UpdateMilestone(ctx, m); err != nil {
				return mapRepoErr(err)
			}
			metrics.Alerts.WithLabelValues(metrics.AlertTransferOutOfOrder).Inc()
			log.WithFields(logrus.Fields{"alert": true, "status": m.Status}).
				Warn("Transfer reported before approval, parked for reconciliation")
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveReview applies a manual decision to a NEEDS_REVIEW milestone.
func (s *MilestoneService) ResolveReview(ctx context.Context, milestoneID uuid.UUID, decision *ReviewDecision) (*VerificationOutcome, error) {
	event, status := workflows.ReviewRejected, models.MilestoneStatusRejected
	if decision.Approve {
		event, status = workflows.ReviewApproved, models.MilestoneStatusApproved
	}

	var outcome *VerificationOutcome
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		m, err := tx.GetMilestone(ctx, milestoneID)
		if err != nil {
			return mapRepoErr(err)
		}
		if m.Status != models.MilestoneStatusNeedsReview {
			return fmt.Errorf("%w: milestone %s is %s", ErrInvalidState, m.ID, m.Status)
		}
		next, err := s.fsm.Milestone(m.Status, event)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}

		reviewer := decision.ReviewerID
		raw, _ := json.Marshal(map[string]interface{}{"approve": decision.Approve, "notes": decision.Notes})
		record := &models.VerificationRecord{
			ID:               uuid.New(),
			MilestoneID:      m.ID,
			VerificationType: models.VerificationTypeManualReview,
			Model:            "manual",
			RawResponse:      datatypes.JSON(raw),
			Passed:           decision.Approve,
			ConfidenceScore:  1,
			Flags:            pq.StringArray{},
			Reasoning:        decision.Notes,
			Checks:           datatypes.JSON("{}"),
			Decision:         status,
			ReviewerID:       &reviewer,
		}
		if err := tx.AppendVerificationRecord(ctx, record); err != nil {
			return err
		}

		m.Status = next
		if next == models.MilestoneStatusApproved {
			s.approve(m)
		}
		if err := tx.UpdateMilestone(ctx, m); err != nil {
			return mapRepoErr(err)
		}
		outcome = &VerificationOutcome{Milestone: m, Record: record, Decision: status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.VerificationDecisions.WithLabelValues(string(models.VerificationTypeManualReview), string(status)).Inc()
	s.log.WithFields(logrus.Fields{
		"milestone_id": milestoneID,
		"reviewer_id":  decision.ReviewerID,
		"decision":     status,
	}).Info("Manual review applied")

	if outcome.Milestone.Status == models.MilestoneStatusApproved {
		s.releaseApproved(ctx, outcome)
	}
	return outcome, nil
}

// AllowedEvents lists the transitions m currently accepts.
func (s *MilestoneService) AllowedEvents(m *models.Milestone) []workflows.MilestoneEvent {
	return s.fsm.AllowedEvents(m.Status)
}

func (s *MilestoneService) GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	m, err := s.repo.GetMilestone(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return m, nil
}

func (s *MilestoneService) ListMilestones(ctx context.Context, paymentCaseID uuid.UUID) ([]models.Milestone, error) {
	return s.repo.ListMilestones(ctx, paymentCaseID)
}

func (s *MilestoneService) ListVerificationRecords(ctx context.Context, milestoneID uuid.UUID) ([]models.VerificationRecord, error) {
	if _, err := s.GetMilestone(ctx, milestoneID); err != nil {
		return nil, err
	}
	return s.repo.ListVerificationRecords(ctx, milestoneID)
}

// PaymentCaseFor returns the case owning a milestone, used for ownership checks.
func (s *MilestoneService) PaymentCaseFor(ctx context.Context, m *models.Milestone) (*models.PaymentCase, error) {
	pc, err := s.repo.GetPaymentCase(ctx, m.PaymentCaseID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return pc, nil
}

func trimAll(in []string) pq.StringArray {
	out := make(pq.StringArray, 0, len(in))
	for _, v := range in {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}
