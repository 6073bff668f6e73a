// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/impactlink/escrow-backend/internal/i18n"
	"github.com/impactlink/escrow-backend/internal/services"
	"github.com/impactlink/escrow-backend/internal/utils"
)

type AdminHandler struct {
	milestoneService *services.MilestoneService
	transferService  *services.TransferService
	log              logrus.FieldLogger
}

func NewAdminHandler(milestoneService *services.MilestoneService, transferService *services.TransferService, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{
		milestoneService: milestoneService,
		transferService:  transferService,
		log:              log.WithField("handler", "admin"),
	}
}

// POST /admin/milestones/:id/review
func (h *AdminHandler) ResolveReview(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, _ := utils.GetUserIDFromContext(c)
	reviewerID, err := uuid.Parse(userID)
	if err != nil {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.ReviewDecision
	if !bindAndValidate(c, &req) {
		return
	}
	req.ReviewerID = reviewerID

	outcome, err := h.milestoneService.ResolveReview(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyMilestoneNotFound)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyVerificationReviewed),
		"outcome": outcome,
	})
}

// SweepRequest bounds one payout sweep. An empty body sweeps defaultSweepLimit milestones.
type SweepRequest struct {
	Limit *int `json:"limit" validate:"omitempty,min=1,max=500"`
}

const defaultSweepLimit = 50

// POST /admin/payouts/sweep
func (h *AdminHandler) SweepPayouts(c *gin.Context) {
	var req SweepRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &req) {
		return
	}
	limit := defaultSweepLimit
	if req.Limit != nil {
		limit = *req.Limit
	}

	sweep, err := h.transferService.PayoutApproved(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyNotFound)
		return
	}
	utils.SuccessResponse(c, sweep)
}
