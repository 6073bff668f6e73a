// internal/handlers/milestone.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/impactlink/escrow-backend/internal/i18n"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/services"
	"github.com/impactlink/escrow-backend/internal/utils"
	"github.com/impactlink/escrow-backend/pkg/workflows"
)

// MilestoneView is a milestone with the transitions it currently accepts.
type MilestoneView struct {
	*models.Milestone
	AllowedEvents []workflows.MilestoneEvent `json:"allowed_events"`
}

type MilestoneHandler struct {
	milestoneService *services.MilestoneService
	transferService  *services.TransferService
	log              logrus.FieldLogger
}

func NewMilestoneHandler(milestoneService *services.MilestoneService, transferService *services.TransferService, log logrus.FieldLogger) *MilestoneHandler {
	return &MilestoneHandler{
		milestoneService: milestoneService,
		transferService:  transferService,
		log:              log.WithField("handler", "milestones"),
	}
}

// loadMilestone fetches the milestone and its case and writes the error response itself.
// With write set only the funded organization (or an admin) gets through.
func (h *MilestoneHandler) loadMilestone(c *gin.Context, write bool) (*models.Milestone, bool) {
	claims, ok := requireClaims(c)
	if !ok {
		return nil, false
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return nil, false
	}

	ctx := c.Request.Context()
	m, err := h.milestoneService.GetMilestone(ctx, id)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyMilestoneNotFound)
		return nil, false
	}
	pc, err := h.milestoneService.PaymentCaseFor(ctx, m)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyMilestoneNotFound)
		return nil, false
	}

	if !canViewCase(claims, pc) {
		respondError(c, h.log, services.ErrNotFound, i18n.KeyMilestoneNotFound)
		return nil, false
	}
	if write && !ownsOrganization(claims, pc.OrganizationID) {
		forbid(c)
		return nil, false
	}
	return m, true
}

// GET /milestones/:id
func (h *MilestoneHandler) GetMilestone(c *gin.Context) {
	m, ok := h.loadMilestone(c, false)
	if !ok {
		return
	}
	utils.SuccessResponse(c, MilestoneView{Milestone: m, AllowedEvents: h.milestoneService.AllowedEvents(m)})
}

// POST /milestones/:id/evidence
func (h *MilestoneHandler) AttachEvidence(c *gin.Context) {
	m, ok := h.loadMilestone(c, true)
	if !ok {
		return
	}

	var req services.EvidencePayload
	if !bindAndValidate(c, &req) {
		return
	}

	updated, err := h.milestoneService.AttachEvidence(c.Request.Context(), m.ID, &req)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyMilestoneNotFound)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":   i18n.T(utils.GetLangFromContext(c), i18n.KeyMilestoneEvidenceAttached),
		"milestone": updated,
	})
}

// POST /milestones/:id/verify
func (h *MilestoneHandler) RunVerification(c *gin.Context) {
	m, ok := h.loadMilestone(c, true)
	if !ok {
		return
	}

	outcome, err := h.milestoneService.RunVerification(c.Request.Context(), m.ID)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyMilestoneNotFound)
		return
	}
	utils.SuccessResponse(c, outcome)
}

// GET /milestones/:id/verifications
func (h *MilestoneHandler) ListVerificationRecords(c *gin.Context) {
	m, ok := h.loadMilestone(c, false)
	if !ok {
		return
	}

	records, err := h.milestoneService.ListVerificationRecords(c.Request.Context(), m.ID)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyMilestoneNotFound)
		return
	}
	utils.SuccessResponse(c, gin.H{
		"verifications": records,
	})
}

// POST /milestones/:id/payout
func (h *MilestoneHandler) Payout(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.transferService.PayoutMilestone(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyMilestoneNotFound)
		return
	}
	utils.SuccessResponse(c, result)
}

type PayoutAccountHandler struct {
	transferService *services.TransferService
	log             logrus.FieldLogger
}

func NewPayoutAccountHandler(transferService *services.TransferService, log logrus.FieldLogger) *PayoutAccountHandler {
	return &PayoutAccountHandler{
		transferService: transferService,
		log:             log.WithField("handler", "payout_accounts"),
	}
}

func (h *PayoutAccountHandler) organization(c *gin.Context) (uuid.UUID, bool) {
	claims, ok := requireClaims(c)
	if !ok {
		return uuid.Nil, false
	}
	orgID, ok := parseIDParam(c, "id")
	if !ok {
		return uuid.Nil, false
	}
	if !ownsOrganization(claims, orgID) {
		forbid(c)
		return uuid.Nil, false
	}
	return orgID, true
}

// PUT /organizations/:id/payout-account
func (h *PayoutAccountHandler) RegisterPayoutAccount(c *gin.Context) {
	orgID, ok := h.organization(c)
	if !ok {
		return
	}

	var req services.RegisterPayoutAccountRequest
	if !bindAndValidate(c, &req) {
		return
	}

	account, err := h.transferService.RegisterPayoutAccount(c.Request.Context(), orgID, &req)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyNotFound)
		return
	}
	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyPayoutAccountSaved),
		"account": account,
	})
}

// GET /organizations/:id/payout-account
func (h *PayoutAccountHandler) GetPayoutAccount(c *gin.Context) {
	orgID, ok := h.organization(c)
	if !ok {
		return
	}

	account, err := h.transferService.GetPayoutAccount(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyNotFound)
		return
	}
	utils.SuccessResponse(c, account)
}
