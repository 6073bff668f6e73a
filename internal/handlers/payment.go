// internal/handlers/payment.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/impactlink/escrow-backend/internal/i18n"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/repository"
	"github.com/impactlink/escrow-backend/internal/services"
	"github.com/impactlink/escrow-backend/internal/utils"
)

type PaymentHandler struct {
	paymentService   *services.PaymentService
	milestoneService *services.MilestoneService
	log              logrus.FieldLogger
}

type QuoteRequest struct {
	GrantAmount int64              `json:"grant_amount" validate:"required,gt=0"`
	ServiceTier models.ServiceTier `json:"service_tier" validate:"omitempty,max=20"`
}

// PaymentCaseView is a payment case with its milestones.
type PaymentCaseView struct {
	*models.PaymentCase
	Milestones []models.Milestone `json:"milestones"`
}

func NewPaymentHandler(paymentService *services.PaymentService, milestoneService *services.MilestoneService, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{
		paymentService:   paymentService,
		milestoneService: milestoneService,
		log:              log.WithField("handler", "payments"),
	}
}

// POST /payments/quote
func (h *PaymentHandler) Quote(c *gin.Context) {
	var req QuoteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	quote, err := h.paymentService.Quote(req.GrantAmount, req.ServiceTier)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyPaymentNotFound)
		return
	}
	utils.SuccessResponse(c, quote)
}

// POST /payments/escrow
func (h *PaymentHandler) CreateEscrowCharge(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	var req services.CreateEscrowChargeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	// Companies always charge on their own behalf.
	if claims.Role == string(models.UserRoleCompany) {
		companyID, ok := claims.CompanyUUID()
		if !ok {
			forbid(c)
			return
		}
		req.Company.CompanyID = &companyID
	}

	response, err := h.paymentService.CreateEscrowCharge(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyPaymentNotFound)
		return
	}
	utils.CreatedResponse(c, response)
}

// GET /payments/:id
func (h *PaymentHandler) GetPaymentCase(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	pc, err := h.paymentService.GetPaymentCase(ctx, id)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyPaymentNotFound)
		return
	}
	if !canViewCase(claims, pc) {
		// Existence is not disclosed to other tenants.
		respondError(c, h.log, services.ErrNotFound, i18n.KeyPaymentNotFound)
		return
	}

	milestones, err := h.milestoneService.ListMilestones(ctx, pc.ID)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyPaymentNotFound)
		return
	}
	utils.SuccessResponse(c, PaymentCaseView{PaymentCase: pc, Milestones: milestones})
}

// GET /payments
func (h *PaymentHandler) ListPaymentCases(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	filter := repository.PaymentCaseFilter{PaginationParams: utils.GetPaginationParams(c)}
	if status := c.Query("status"); status != "" {
		s := models.PaymentStatus(status)
		filter.Status = &s
	}

	switch models.UserRole(claims.Role) {
	case models.UserRoleAdmin:
		if org := c.Query("organization_id"); org != "" {
			id, err := uuid.Parse(org)
			if err != nil {
				utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "organization_id"), nil)
				return
			}
			filter.OrganizationID = &id
		}
	case models.UserRoleCompany:
		id, ok := claims.CompanyUUID()
		if !ok {
			forbid(c)
			return
		}
		filter.CompanyID = &id
	case models.UserRoleOrganization:
		id, ok := claims.OrganizationUUID()
		if !ok {
			forbid(c)
			return
		}
		filter.OrganizationID = &id
	default:
		forbid(c)
		return
	}

	cases, total, err := h.paymentService.ListPaymentCases(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, err, i18n.KeyPaymentNotFound)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(cases, total, filter.PaginationParams))
}
