package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/impactlink/escrow-backend/internal/config"
	"github.com/impactlink/escrow-backend/internal/i18n"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/oracle"
	"github.com/impactlink/escrow-backend/internal/payments"
	"github.com/impactlink/escrow-backend/internal/repository"
	"github.com/impactlink/escrow-backend/internal/services"
	"github.com/impactlink/escrow-backend/internal/utils"
)

const webhookSecret = "whsec_router_test"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type RouterTestSuite struct {
	suite.Suite
	ctx      context.Context
	cancel   context.CancelFunc
	router   *gin.Engine
	repo     *repository.MemoryRepository
	provider *payments.FakeProvider
	oracle   *oracle.MockOracle

	companyID uuid.UUID
	orgID     uuid.UUID
}

func (s *RouterTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	s.Require().NoError(i18n.Initialize("en"))
	utils.SetJWTSecret("router-test-secret", "")
}

func (s *RouterTestSuite) SetupTest() {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.repo = repository.NewMemoryRepository()
	s.provider = payments.NewFakeProvider(webhookSecret)
	s.oracle = oracle.NewMockOracle()
	s.companyID = uuid.New()
	s.orgID = uuid.New()

	fees, err := services.NewFeeCalculator(config.PaymentConfig{
		Currency:           "sek",
		MinimumGrant:       10000,
		TierPercents:       map[string]string{"basic": "5", "standard": "7", "enhanced": "10"},
		DefaultTierPercent: "7",
	})
	s.Require().NoError(err)
	evidence, err := services.NewEvidenceService(config.AWSConfig{})
	s.Require().NoError(err)

	ledger := services.NewMilestoneService(s.repo, s.oracle, evidence, config.OracleConfig{
		TimeoutSeconds:    2,
		ApproveConfidence: 0.85,
		RejectConfidence:  0.5,
		MinDescriptionLen: 100,
	}, log)
	paymentSvc := services.NewPaymentService(s.repo, s.provider, fees, ledger, log)
	transfers := services.NewTransferService(s.repo, s.provider, ledger, log)
	ledger.SetPayouter(transfers)

	cfg := &config.Config{Environment: "test"}
	s.router = Initialize(s.ctx, cfg, Services{
		Payments:   paymentSvc,
		Milestones: ledger,
		Transfers:  transfers,
		Webhooks:   services.NewWebhookService(s.repo, s.provider, paymentSvc, ledger, nil, log),
	}, log)
}

func (s *RouterTestSuite) TearDownTest() {
	s.cancel()
}

func (s *RouterTestSuite) token(role models.UserRole, org, company uuid.UUID) string {
	claims := utils.JWTClaims{UserID: uuid.NewString(), Role: string(role)}
	if org != uuid.Nil {
		claims.OrganizationID = org.String()
	}
	if company != uuid.Nil {
		claims.CompanyID = company.String()
	}
	tok, err := utils.GenerateJWT(claims, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *RouterTestSuite) companyToken() string {
	return s.token(models.UserRoleCompany, uuid.Nil, s.companyID)
}

func (s *RouterTestSuite) orgToken() string {
	return s.token(models.UserRoleOrganization, s.orgID, uuid.Nil)
}

func (s *RouterTestSuite) adminToken() string {
	return s.token(models.UserRoleAdmin, uuid.Nil, uuid.Nil)
}

func (s *RouterTestSuite) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *RouterTestSuite) escrowBody() gin.H {
	return gin.H{
		"project_id":      uuid.NewString(),
		"organization_id": s.orgID.String(),
		"grant_amount":    50000,
		"service_tier":    "standard",
		"company":         gin.H{"company_name": "Acme AB", "company_email": "finance@acme.se"},
	}
}

// paidCase creates an escrow charge over HTTP and confirms it with a signed webhook.
func (s *RouterTestSuite) paidCase() (uuid.UUID, []models.Milestone) {
	w, env := s.do(http.MethodPost, "/v1/payments/escrow", s.companyToken(), s.escrowBody())
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var charge services.EscrowChargeResponse
	s.Require().NoError(json.Unmarshal(env.Data, &charge))

	payload, sig, err := s.provider.SignedEvent("", payments.EventChargeSucceeded,
		payments.ChargeObject(charge.ChargeReference, "succeeded", map[string]string{
			payments.MetaPaymentCaseID: charge.PaymentCaseID.String(),
		}))
	s.Require().NoError(err)
	s.Require().Equal(http.StatusOK, s.webhook(payload, sig).Code)

	milestones, err := s.repo.ListMilestones(s.ctx, charge.PaymentCaseID)
	s.Require().NoError(err)
	s.Require().Len(milestones, 2)
	return charge.PaymentCaseID, milestones
}

func (s *RouterTestSuite) webhook(payload []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func legitimacyBody() gin.H {
	return gin.H{
		"kind":                    "legitimacy",
		"charter_document_url":    "https://docs.example.org/charter.pdf",
		"financial_statement_url": "https://docs.example.org/annual-report.pdf",
	}
}

func (s *RouterTestSuite) TestHealthAndMetrics() {
	w, _ := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "healthy")

	w, _ = s.do(http.MethodGet, "/metrics", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "go_goroutines")
}

func (s *RouterTestSuite) TestQuoteIsPublic() {
	w, env := s.do(http.MethodPost, "/v1/payments/quote", "", gin.H{"grant_amount": 50000, "service_tier": "enhanced"})
	s.Require().Equal(http.StatusOK, w.Code)

	var quote services.FeeQuote
	s.Require().NoError(json.Unmarshal(env.Data, &quote))
	s.Equal(int64(5000), quote.ServiceFee)
	s.Equal(int64(55000), quote.Total)

	w, env = s.do(http.MethodPost, "/v1/payments/quote", "", gin.H{"grant_amount": 500})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Require().NotNil(env.Error)
	s.Equal("INVALID_AMOUNT", env.Error.Code)
}

func (s *RouterTestSuite) TestEscrowRequiresCompany() {
	w, _ := s.do(http.MethodPost, "/v1/payments/escrow", "", s.escrowBody())
	s.Equal(http.StatusUnauthorized, w.Code)

	w, _ = s.do(http.MethodPost, "/v1/payments/escrow", s.orgToken(), s.escrowBody())
	s.Equal(http.StatusForbidden, w.Code)

	body := s.escrowBody()
	delete(body, "organization_id")
	w, env := s.do(http.MethodPost, "/v1/payments/escrow", s.companyToken(), body)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Require().NotNil(env.Error)
	s.Equal("VALIDATION_ERROR", env.Error.Code)
}

func (s *RouterTestSuite) TestEscrowLifecycleOverHTTP() {
	caseID, milestones := s.paidCase()

	// The funded organization sees the case with both milestones.
	w, env := s.do(http.MethodGet, "/v1/payments/"+caseID.String(), s.orgToken(), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var view struct {
		Status     models.PaymentStatus `json:"status"`
		Milestones []models.Milestone   `json:"milestones"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &view))
	s.Equal(models.PaymentStatusPaid, view.Status)
	s.Len(view.Milestones, 2)

	w, _ = s.do(http.MethodPut, "/v1/organizations/"+s.orgID.String()+"/payout-account", s.orgToken(),
		gin.H{"destination": "acct_router123456"})
	s.Require().Equal(http.StatusOK, w.Code)

	first := milestones[0]
	s.Require().Equal(models.MilestoneLegitimacy, first.MilestoneNumber)

	w, env = s.do(http.MethodGet, "/v1/milestones/"+first.ID.String(), s.orgToken(), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var pending struct {
		Status        models.MilestoneStatus `json:"status"`
		AllowedEvents []string               `json:"allowed_events"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &pending))
	s.Equal(models.MilestoneStatusPending, pending.Status)
	s.Equal([]string{"evidence_attached"}, pending.AllowedEvents)

	w, _ = s.do(http.MethodPost, "/v1/milestones/"+first.ID.String()+"/evidence", s.orgToken(), legitimacyBody())
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w, env = s.do(http.MethodPost, "/v1/milestones/"+first.ID.String()+"/verify", s.orgToken(), nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var outcome struct {
		Decision  models.MilestoneStatus `json:"decision"`
		Milestone models.Milestone       `json:"milestone"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &outcome))
	s.Equal(models.MilestoneStatusApproved, outcome.Decision)
	s.Equal(models.MilestoneStatusPaid, outcome.Milestone.Status)
	s.NotEmpty(outcome.Milestone.TransferReference)

	w, env = s.do(http.MethodGet, "/v1/milestones/"+first.ID.String()+"/verifications", s.companyToken(), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(string(env.Data), string(models.VerificationTypeLegitimacy))

	// The company only lists its own cases.
	w, env = s.do(http.MethodGet, "/v1/payments", s.companyToken(), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var cases []models.PaymentCase
	s.Require().NoError(json.Unmarshal(env.Data, &cases))
	s.Len(cases, 1)

	w, env = s.do(http.MethodGet, "/v1/payments", s.token(models.UserRoleCompany, uuid.Nil, uuid.New()), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Require().NoError(json.Unmarshal(env.Data, &cases))
	s.Empty(cases)
}

func (s *RouterTestSuite) TestOtherTenantsCannotSeeOrChangeMilestones() {
	caseID, milestones := s.paidCase()
	stranger := s.token(models.UserRoleOrganization, uuid.New(), uuid.Nil)

	w, _ := s.do(http.MethodGet, "/v1/payments/"+caseID.String(), stranger, nil)
	s.Equal(http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodPost, "/v1/milestones/"+milestones[0].ID.String()+"/evidence", stranger, legitimacyBody())
	s.Equal(http.StatusNotFound, w.Code)

	// The funding company may read but not submit evidence.
	w, _ = s.do(http.MethodGet, "/v1/milestones/"+milestones[0].ID.String(), s.companyToken(), nil)
	s.Equal(http.StatusOK, w.Code)
	w, _ = s.do(http.MethodPost, "/v1/milestones/"+milestones[0].ID.String()+"/evidence", s.companyToken(), legitimacyBody())
	s.Equal(http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPut, "/v1/organizations/"+s.orgID.String()+"/payout-account", stranger,
		gin.H{"destination": "acct_stranger12345"})
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *RouterTestSuite) TestMilestoneErrorMapping() {
	_, milestones := s.paidCase()
	first := milestones[0].ID.String()

	w, env := s.do(http.MethodPost, "/v1/milestones/"+first+"/evidence", s.orgToken(), gin.H{
		"kind":             "impact",
		"social_proof_url": "https://www.instagram.com/p/x",
		"photo_urls":       []string{"https://cdn.example.org/1.jpg"},
		"description":      strings.Repeat("a", 120),
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("INVALID_MILESTONE_TYPE", env.Error.Code)

	w, env = s.do(http.MethodPost, "/v1/milestones/"+first+"/evidence", s.orgToken(), gin.H{
		"charter_document_url": "https://docs.example.org/charter.pdf",
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("INCOMPLETE_EVIDENCE", env.Error.Code)

	w, env = s.do(http.MethodPost, "/v1/milestones/"+first+"/verify", s.orgToken(), nil)
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("INVALID_STATE", env.Error.Code)

	w, _ = s.do(http.MethodGet, "/v1/milestones/"+uuid.NewString(), s.orgToken(), nil)
	s.Equal(http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodGet, "/v1/milestones/not-a-uuid", s.orgToken(), nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestOracleFailureIsGeneric() {
	_, milestones := s.paidCase()
	first := milestones[0].ID.String()

	w, _ := s.do(http.MethodPost, "/v1/milestones/"+first+"/evidence", s.orgToken(), legitimacyBody())
	s.Require().Equal(http.StatusOK, w.Code)

	s.oracle.Fail(context.Canceled)
	w, env := s.do(http.MethodPost, "/v1/milestones/"+first+"/verify", s.orgToken(), nil)
	s.Equal(http.StatusBadGateway, w.Code)
	s.Equal("ORACLE_UNAVAILABLE", env.Error.Code)
	s.NotContains(env.Error.Message, "canceled")

	m, err := s.repo.GetMilestone(s.ctx, milestones[0].ID)
	s.Require().NoError(err)
	s.Equal(models.MilestoneStatusDocumentsUploaded, m.Status)
}

func (s *RouterTestSuite) TestManualReviewAndPayoutAreAdminOnly() {
	_, milestones := s.paidCase()
	first := milestones[0].ID.String()

	w, _ := s.do(http.MethodPost, "/v1/milestones/"+first+"/evidence", s.orgToken(), legitimacyBody())
	s.Require().Equal(http.StatusOK, w.Code)

	s.oracle.Respond(true, 0.7)
	w, env := s.do(http.MethodPost, "/v1/milestones/"+first+"/verify", s.orgToken(), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(string(env.Data), string(models.MilestoneStatusNeedsReview))

	review := gin.H{"approve": true, "notes": "Charter checked against the registry"}
	w, _ = s.do(http.MethodPost, "/v1/admin/milestones/"+first+"/review", s.orgToken(), review)
	s.Equal(http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPost, "/v1/admin/milestones/"+first+"/review", s.adminToken(), review)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	// No payout account yet: the approved milestone waits for the sweep.
	m, err := s.repo.GetMilestone(s.ctx, milestones[0].ID)
	s.Require().NoError(err)
	s.Equal(models.MilestoneStatusApproved, m.Status)

	w, _ = s.do(http.MethodPost, "/v1/milestones/"+first+"/payout", s.orgToken(), nil)
	s.Equal(http.StatusForbidden, w.Code)

	w, env = s.do(http.MethodPost, "/v1/milestones/"+first+"/payout", s.adminToken(), nil)
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("MISSING_PAYOUT_DESTINATION", env.Error.Code)

	w, _ = s.do(http.MethodPut, "/v1/organizations/"+s.orgID.String()+"/payout-account", s.adminToken(),
		gin.H{"destination": "acct_router123456"})
	s.Require().Equal(http.StatusOK, w.Code)

	w, env = s.do(http.MethodPost, "/v1/admin/payouts/sweep", s.adminToken(), gin.H{"limit": 501})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Require().NotNil(env.Error)
	s.Equal("VALIDATION_ERROR", env.Error.Code)

	w, env = s.do(http.MethodPost, "/v1/admin/payouts/sweep", s.adminToken(), gin.H{"limit": 10})
	s.Require().Equal(http.StatusOK, w.Code)
	var sweep services.PayoutSweep
	s.Require().NoError(json.Unmarshal(env.Data, &sweep))
	s.Equal(1, sweep.Paid)
}

func (s *RouterTestSuite) TestWebhookRejectsBadSignature() {
	payload, _, err := s.provider.SignedEvent("evt_forged", payments.EventChargeSucceeded,
		payments.ChargeObject("pi_forged", "succeeded", nil))
	s.Require().NoError(err)

	w := s.webhook(payload, "t=1,v1=deadbeef")
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.webhook(payload, "")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestWebhookDuplicateIsAcknowledged() {
	w, env := s.do(http.MethodPost, "/v1/payments/escrow", s.companyToken(), s.escrowBody())
	s.Require().Equal(http.StatusCreated, w.Code)
	var charge services.EscrowChargeResponse
	s.Require().NoError(json.Unmarshal(env.Data, &charge))

	payload, sig, err := s.provider.SignedEvent("evt_twice", payments.EventChargeSucceeded,
		payments.ChargeObject(charge.ChargeReference, "succeeded", nil))
	s.Require().NoError(err)

	s.Equal(http.StatusOK, s.webhook(payload, sig).Code)
	w = s.webhook(payload, sig)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"duplicate":true`)
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}
