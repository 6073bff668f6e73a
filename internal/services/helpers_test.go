package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/impactlink/escrow-backend/internal/config"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/oracle"
	"github.com/impactlink/escrow-backend/internal/payments"
	"github.com/impactlink/escrow-backend/internal/repository"
	"github.com/impactlink/escrow-backend/internal/utils"
)

const testWebhookSecret = "whsec_test_secret"

func testPaymentConfig() config.PaymentConfig {
	return config.PaymentConfig{
		Provider:            "fake",
		StripeWebhookSecret: testWebhookSecret,
		Currency:            "sek",
		MinimumGrant:        10000,
		TierPercents: map[string]string{
			"basic":    "5",
			"standard": "7",
			"enhanced": "10",
		},
		DefaultTierPercent: "7",
	}
}

func testOracleConfig() config.OracleConfig {
	return config.OracleConfig{
		Provider:          "mock",
		TimeoutSeconds:    2,
		ApproveConfidence: 0.85,
		RejectConfidence:  0.5,
		MinDescriptionLen: 100,
	}
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// testEnv wires every service against the in-memory repository, the fake provider and
// the mock oracle.
type testEnv struct {
	repo      *repository.MemoryRepository
	provider  *payments.FakeProvider
	oracle    *oracle.MockOracle
	fees      *FeeCalculator
	ledger    *MilestoneService
	payments  *PaymentService
	transfers *TransferService
	webhooks  *WebhookService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := quietLogger()

	repo := repository.NewMemoryRepository()
	provider := payments.NewFakeProvider(testWebhookSecret)
	mock := oracle.NewMockOracle()

	fees, err := NewFeeCalculator(testPaymentConfig())
	require.NoError(t, err)
	evidence, err := NewEvidenceService(config.AWSConfig{})
	require.NoError(t, err)

	ledger := NewMilestoneService(repo, mock, evidence, testOracleConfig(), log)
	paymentSvc := NewPaymentService(repo, provider, fees, ledger, log)
	transfers := NewTransferService(repo, provider, ledger, log)
	ledger.SetPayouter(transfers)
	webhooks := NewWebhookService(repo, provider, paymentSvc, ledger, nil, log)

	return &testEnv{
		repo:      repo,
		provider:  provider,
		oracle:    mock,
		fees:      fees,
		ledger:    ledger,
		payments:  paymentSvc,
		transfers: transfers,
		webhooks:  webhooks,
	}
}

func chargeRequest(grant int64, tier models.ServiceTier) *CreateEscrowChargeRequest {
	return &CreateEscrowChargeRequest{
		ProjectID:      uuid.New(),
		OrganizationID: uuid.New(),
		GrantAmount:    grant,
		ServiceTier:    tier,
		Company: CompanyIdentity{
			Name:  "Acme AB",
			Email: "finance@acme.se",
		},
	}
}

// paidCase creates a charge and confirms it, returning the case and its two milestones.
func (e *testEnv) paidCase(t *testing.T, grant int64) (*models.PaymentCase, []models.Milestone) {
	t.Helper()
	ctx := context.Background()

	resp, err := e.payments.CreateEscrowCharge(ctx, chargeRequest(grant, models.ServiceTierStandard))
	require.NoError(t, err)

	pc, err := e.payments.MarkPaid(ctx, ChargeOutcome{
		Reference:     resp.ChargeReference,
		PaymentCaseID: resp.PaymentCaseID.String(),
		Status:        "succeeded",
	})
	require.NoError(t, err)

	milestones, err := e.ledger.ListMilestones(ctx, pc.ID)
	require.NoError(t, err)
	require.Len(t, milestones, 2)
	return pc, milestones
}

func (e *testEnv) registerPayout(t *testing.T, organizationID uuid.UUID) {
	t.Helper()
	_, err := e.transfers.RegisterPayoutAccount(context.Background(), organizationID,
		&RegisterPayoutAccountRequest{Destination: "acct_test123456"})
	require.NoError(t, err)
}

func legitimacyEvidence() *EvidencePayload {
	return &EvidencePayload{
		CharterDocumentURL:    "https://docs.example.org/charter.pdf",
		FinancialStatementURL: "https://docs.example.org/annual-report-2025.pdf",
	}
}

func impactEvidence() *EvidencePayload {
	return &EvidencePayload{
		SocialProofURL: "https://www.instagram.com/p/tree-planting",
		PhotoURLs:      []string{"https://cdn.example.org/photos/1.jpg"},
		Description:    strings.Repeat("We planted 400 trees. ", 6),
	}
}

// uploaded attaches valid evidence to m and returns the updated milestone.
func (e *testEnv) uploaded(t *testing.T, m models.Milestone) *models.Milestone {
	t.Helper()
	payload := legitimacyEvidence()
	if m.MilestoneNumber == models.MilestoneImpact {
		payload = impactEvidence()
	}
	updated, err := e.ledger.AttachEvidence(context.Background(), m.ID, payload)
	require.NoError(t, err)
	return updated
}

func repositoryFilter() repository.PaymentCaseFilter {
	return repository.PaymentCaseFilter{PaginationParams: utils.PaginationParams{Page: 1, Limit: 20}}
}
