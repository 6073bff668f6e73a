package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactlink/escrow-backend/internal/models"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		passed     bool
		confidence float64
		want       models.MilestoneStatus
	}{
		{true, 0.95, models.MilestoneStatusApproved},
		{true, 0.85, models.MilestoneStatusApproved},
		{true, 0.84999, models.MilestoneStatusNeedsReview},
		{true, 0.5, models.MilestoneStatusNeedsReview},
		{true, 0.49, models.MilestoneStatusRejected},
		{false, 0.95, models.MilestoneStatusNeedsReview},
		{false, 0.5, models.MilestoneStatusNeedsReview},
		{false, 0.49, models.MilestoneStatusRejected},
		{false, 0, models.MilestoneStatusRejected},
	}
	for _, tt := range tests {
		got := Decide(tt.passed, tt.confidence, 0.85, 0.5)
		assert.Equal(t, tt.want, got, "passed=%v confidence=%v", tt.passed, tt.confidence)
	}
}

func TestAttachEvidence(t *testing.T) {
	env := newTestEnv(t)
	_, milestones := env.paidCase(t, 50000)

	m1 := env.uploaded(t, milestones[0])
	assert.Equal(t, models.MilestoneStatusDocumentsUploaded, m1.Status)
	assert.Equal(t, "https://docs.example.org/charter.pdf", m1.CharterDocumentURL)
	assert.NotNil(t, m1.EvidenceSubmittedAt)
	assert.Equal(t, 2, m1.Version)

	m2 := env.uploaded(t, milestones[1])
	assert.Equal(t, models.MilestoneStatusDocumentsUploaded, m2.Status)
	assert.Len(t, m2.PhotoURLs, 1)
	assert.Empty(t, m2.CharterDocumentURL)
}

func TestAttachEvidenceShortDescription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, milestones := env.paidCase(t, 50000)

	payload := impactEvidence()
	payload.Description = strings.Repeat("x", 40)

	_, err := env.ledger.AttachEvidence(ctx, milestones[1].ID, payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompleteEvidence))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "description", verr.Field)

	m, err := env.ledger.GetMilestone(ctx, milestones[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusPending, m.Status)
	assert.Empty(t, m.Description)
}

func TestAttachEvidenceCountsCharactersNotBytes(t *testing.T) {
	env := newTestEnv(t)
	_, milestones := env.paidCase(t, 50000)

	payload := impactEvidence()
	// 60 characters, 120 bytes.
	payload.Description = strings.Repeat("ö", 60)

	_, err := env.ledger.AttachEvidence(context.Background(), milestones[1].ID, payload)
	assert.True(t, errors.Is(err, ErrIncompleteEvidence))
}

func TestAttachEvidenceValidation(t *testing.T) {
	env := newTestEnv(t)
	_, milestones := env.paidCase(t, 50000)
	m1, m2 := milestones[0], milestones[1]

	tests := []struct {
		name      string
		milestone models.Milestone
		payload   *EvidencePayload
		want      error
		field     string
	}{
		{
			name:      "impact evidence on milestone 1",
			milestone: m1,
			payload:   impactEvidence(),
			want:      ErrInvalidMilestoneType,
		},
		{
			name:      "legitimacy evidence on milestone 2",
			milestone: m2,
			payload:   legitimacyEvidence(),
			want:      ErrInvalidMilestoneType,
		},
		{
			name:      "declared kind does not match",
			milestone: m1,
			payload: &EvidencePayload{
				Kind:                  EvidenceImpact,
				CharterDocumentURL:    "https://docs.example.org/charter.pdf",
				FinancialStatementURL: "https://docs.example.org/report.pdf",
			},
			want: ErrInvalidMilestoneType,
		},
		{
			name:      "mixed evidence",
			milestone: m1,
			payload: &EvidencePayload{
				CharterDocumentURL: "https://docs.example.org/charter.pdf",
				SocialProofURL:     "https://www.instagram.com/p/x",
			},
			want: ErrInvalidMilestoneType,
		},
		{
			name:      "missing financial statement",
			milestone: m1,
			payload:   &EvidencePayload{CharterDocumentURL: "https://docs.example.org/charter.pdf"},
			want:      ErrIncompleteEvidence,
			field:     "financial_statement_url",
		},
		{
			name:      "empty payload",
			milestone: m1,
			payload:   &EvidencePayload{},
			want:      ErrIncompleteEvidence,
		},
		{
			name:      "social proof is not a URL",
			milestone: m2,
			payload: func() *EvidencePayload {
				p := impactEvidence()
				p.SocialProofURL = "instagram post"
				return p
			}(),
			want:  ErrIncompleteEvidence,
			field: "social_proof_url",
		},
		{
			name:      "no photos",
			milestone: m2,
			payload: func() *EvidencePayload {
				p := impactEvidence()
				p.PhotoURLs = nil
				return p
			}(),
			want:  ErrIncompleteEvidence,
			field: "photo_urls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ledger.AttachEvidence(context.Background(), tt.milestone.ID, tt.payload)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, errors.Is(err, ErrValidation))
			if tt.field != "" {
				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tt.field, verr.Field)
			}
		})
	}
}

func TestAttachEvidenceOnApprovedMilestone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, milestones := env.paidCase(t, 50000)
	env.uploaded(t, milestones[0])

	outcome, err := env.ledger.RunVerification(ctx, milestones[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.MilestoneStatusApproved, outcome.Milestone.Status)

	_, err = env.ledger.AttachEvidence(ctx, milestones[0].ID, legitimacyEvidence())
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestAttachEvidenceOnPaidMilestoneReportsState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pc, milestones := env.paidCase(t, 50000)
	env.uploaded(t, milestones[0])
	_, err := env.ledger.RecordTransferEvent(ctx, pc.ID, 1, "tr_paid")
	require.NoError(t, err)
	outcome, err := env.ledger.RunVerification(ctx, milestones[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.MilestoneStatusPaid, outcome.Milestone.Status)

	_, err = env.ledger.AttachEvidence(ctx, milestones[0].ID, &EvidencePayload{
		CharterDocumentURL: "https://docs.example.org/charter.pdf",
	})
	assert.True(t, errors.Is(err, ErrInvalidState), "got %v", err)
	assert.False(t, errors.Is(err, ErrIncompleteEvidence))
}

func TestRunVerificationDecisions(t *testing.T) {
	tests := []struct {
		name       string
		passed     bool
		confidence float64
		want       models.MilestoneStatus
	}{
		{"approve at threshold", true, 0.85, models.MilestoneStatusApproved},
		{"just below threshold", true, 0.84999, models.MilestoneStatusNeedsReview},
		{"failed at reject threshold", false, 0.5, models.MilestoneStatusNeedsReview},
		{"low confidence", true, 0.49, models.MilestoneStatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			_, milestones := env.paidCase(t, 50000)
			env.uploaded(t, milestones[0])
			env.oracle.Respond(tt.passed, tt.confidence)

			outcome, err := env.ledger.RunVerification(ctx, milestones[0].ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome.Decision)
			assert.Equal(t, tt.want, outcome.Milestone.Status)
			require.NotNil(t, outcome.Milestone.AIConfidenceScore)
			assert.Equal(t, tt.confidence, *outcome.Milestone.AIConfidenceScore)

			records, err := env.ledger.ListVerificationRecords(ctx, milestones[0].ID)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, models.VerificationTypeLegitimacy, records[0].VerificationType)
			assert.Equal(t, tt.passed, records[0].Passed)
			assert.Equal(t, tt.want, records[0].Decision)
			assert.Equal(t, "mock-oracle-v1", records[0].Model)
		})
	}
}

func TestRunVerificationWrongState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, milestones := env.paidCase(t, 50000)

	_, err := env.ledger.RunVerification(ctx, milestones[0].ID)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Zero(t, env.oracle.Calls())

	_, err = env.ledger.RunVerification(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRunVerificationOracleTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, milestones := env.paidCase(t, 50000)
	m := env.uploaded(t, milestones[1])

	env.ledger.cfg.TimeoutSeconds = 1
	env.oracle.Delay(5 * time.Second)

	started := time.Now()
	_, err := env.ledger.RunVerification(ctx, m.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOracleTimeout))
	assert.Less(t, time.Since(started), 4*time.Second)

	after, err := env.ledger.GetMilestone(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusDocumentsUploaded, after.Status)
	assert.Equal(t, m.Version, after.Version)

	records, err := env.ledger.ListVerificationRecords(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRunVerificationOracleError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, milestones := env.paidCase(t, 50000)
	m := env.uploaded(t, milestones[0])

	env.oracle.Fail(errors.New("upstream 529 overloaded"))

	_, err := env.ledger.RunVerification(ctx, m.ID)
	assert.True(t, errors.Is(err, ErrOracle))

	after, err := env.ledger.GetMilestone(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusDocumentsUploaded, after.Status)
}

func TestConcurrentVerificationAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, milestones := env.paidCase(t, 50000)
	m := env.uploaded(t, milestones[0])
	env.oracle.Delay(200 * time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.ledger.RunVerification(ctx, m.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrInvalidState), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)

	records, err := env.ledger.ListVerificationRecords(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestTransferParkedDuringVerificationIsKept(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pc, milestones := env.paidCase(t, 50000)
	env.registerPayout(t, pc.OrganizationID)
	m := env.uploaded(t, milestones[0])
	env.oracle.Delay(300 * time.Millisecond)

	type result struct {
		outcome *VerificationOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := env.ledger.RunVerification(ctx, m.ID)
		done <- result{outcome, err}
	}()
	require.Eventually(t, func() bool { return env.oracle.Calls() == 1 }, time.Second, 5*time.Millisecond)

	parked, err := env.ledger.RecordTransferEvent(ctx, pc.ID, 1, "tr_early")
	require.NoError(t, err)
	assert.Equal(t, "tr_early", parked.PendingTransferReference)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, models.MilestoneStatusApproved, res.outcome.Decision)
	assert.Equal(t, models.MilestoneStatusPaid, res.outcome.Milestone.Status)
	assert.Equal(t, "tr_early", res.outcome.Milestone.TransferReference)
	assert.Empty(t, res.outcome.Milestone.PendingTransferReference)
	assert.Zero(t, env.provider.TransferCalls())

	records, err := env.ledger.ListVerificationRecords(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestEvidenceResubmittedDuringVerificationConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, milestones := env.paidCase(t, 50000)
	m := env.uploaded(t, milestones[0])
	env.oracle.Delay(300 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := env.ledger.RunVerification(ctx, m.ID)
		done <- err
	}()
	require.Eventually(t, func() bool { return env.oracle.Calls() == 1 }, time.Second, 5*time.Millisecond)

	resubmitted := legitimacyEvidence()
	resubmitted.FinancialStatementURL = "https://docs.example.org/annual-report-2026.pdf"
	_, err := env.ledger.AttachEvidence(ctx, m.ID, resubmitted)
	require.NoError(t, err)

	err = <-done
	assert.True(t, errors.Is(err, ErrConcurrentModification), "got %v", err)

	current, err := env.ledger.GetMilestone(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusDocumentsUploaded, current.Status)
	records, err := env.ledger.ListVerificationRecords(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestApprovalWithoutPayoutAccountDefersPayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, milestones := env.paidCase(t, 50000)
	env.uploaded(t, milestones[0])

	outcome, err := env.ledger.RunVerification(ctx, milestones[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusApproved, outcome.Milestone.Status)
	assert.True(t, outcome.PayoutPending)
	assert.Nil(t, outcome.Payout)
	assert.Zero(t, env.provider.TransferCalls())
}

func TestResubmitAfterRejection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, milestones := env.paidCase(t, 50000)
	env.uploaded(t, milestones[1])

	env.oracle.Respond(false, 0.2, "stock_photo")
	outcome, err := env.ledger.RunVerification(ctx, milestones[1].ID)
	require.NoError(t, err)
	require.Equal(t, models.MilestoneStatusRejected, outcome.Milestone.Status)

	m := env.uploaded(t, *outcome.Milestone)
	assert.Equal(t, models.MilestoneStatusDocumentsUploaded, m.Status)

	env.oracle.Respond(true, 0.9)
	outcome, err = env.ledger.RunVerification(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusApproved, outcome.Milestone.Status)

	records, err := env.ledger.ListVerificationRecords(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestResolveReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pc, milestones := env.paidCase(t, 50000)
	env.registerPayout(t, pc.OrganizationID)
	env.uploaded(t, milestones[0])

	env.oracle.Respond(true, 0.7)
	outcome, err := env.ledger.RunVerification(ctx, milestones[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.MilestoneStatusNeedsReview, outcome.Milestone.Status)

	reviewer := uuid.New()
	outcome, err = env.ledger.ResolveReview(ctx, milestones[0].ID, &ReviewDecision{
		Approve:    true,
		ReviewerID: reviewer,
		Notes:      "Charter checked against the registry.",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusApproved, outcome.Decision)
	assert.Equal(t, models.MilestoneStatusPaid, outcome.Milestone.Status)
	require.NotNil(t, outcome.Payout)
	assert.Equal(t, int64(25000), outcome.Payout.Amount)

	records, err := env.ledger.ListVerificationRecords(ctx, milestones[0].ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.VerificationTypeManualReview, records[1].VerificationType)
	require.NotNil(t, records[1].ReviewerID)
	assert.Equal(t, reviewer, *records[1].ReviewerID)

	_, err = env.ledger.ResolveReview(ctx, milestones[0].ID, &ReviewDecision{Approve: false, Notes: "again"})
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestResolveReviewReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, milestones := env.paidCase(t, 50000)
	env.uploaded(t, milestones[1])
	env.oracle.Respond(false, 0.6)

	_, err := env.ledger.RunVerification(ctx, milestones[1].ID)
	require.NoError(t, err)

	outcome, err := env.ledger.ResolveReview(ctx, milestones[1].ID, &ReviewDecision{Approve: false, Notes: "Photos do not show the site."})
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusRejected, outcome.Milestone.Status)
	assert.Zero(t, env.provider.TransferCalls())
}

func TestRecordTransferSuccessRequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	_, milestones := env.paidCase(t, 50000)

	_, err := env.ledger.RecordTransferSuccess(context.Background(), milestones[0].ID, "tr_123")
	assert.True(t, errors.Is(err, ErrInvalidState))

	_, err = env.ledger.RecordTransferSuccess(context.Background(), milestones[0].ID, "")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestTransferBeforeApprovalIsReconciled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pc, milestones := env.paidCase(t, 50000)
	env.registerPayout(t, pc.OrganizationID)
	env.uploaded(t, milestones[0])

	parked, err := env.ledger.RecordTransferEvent(ctx, pc.ID, 1, "tr_early")
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusDocumentsUploaded, parked.Status)
	assert.Equal(t, "tr_early", parked.PendingTransferReference)

	outcome, err := env.ledger.RunVerification(ctx, milestones[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusPaid, outcome.Milestone.Status)
	assert.Equal(t, "tr_early", outcome.Milestone.TransferReference)
	assert.Empty(t, outcome.Milestone.PendingTransferReference)
	assert.Zero(t, env.provider.TransferCalls())
}

func TestTransferEventOnPaidMilestoneIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pc, milestones := env.paidCase(t, 50000)
	env.registerPayout(t, pc.OrganizationID)
	env.uploaded(t, milestones[0])

	outcome, err := env.ledger.RunVerification(ctx, milestones[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.MilestoneStatusPaid, outcome.Milestone.Status)
	ref := outcome.Milestone.TransferReference

	for _, incoming := range []string{ref, "tr_someone_else"} {
		m, err := env.ledger.RecordTransferEvent(ctx, pc.ID, 1, incoming)
		require.NoError(t, err)
		assert.Equal(t, models.MilestoneStatusPaid, m.Status)
		assert.Equal(t, ref, m.TransferReference)
	}
}
