// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/impactlink/escrow-backend/internal/i18n"
	"github.com/impactlink/escrow-backend/internal/services"
	"github.com/impactlink/escrow-backend/internal/utils"
)

// respondError maps a service error onto the response envelope. notFoundKey is the
// message used for services.ErrNotFound.
func respondError(c *gin.Context, log logrus.FieldLogger, err error, notFoundKey string) {
	lang := utils.GetLangFromContext(c)

	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		details := []utils.ValidationError{{Field: verr.Field, Tag: "invalid", Message: verr.Reason}}
		switch {
		case errors.Is(err, services.ErrInvalidAmount):
			utils.ErrorResponse(c, http.StatusBadRequest, "INVALID_AMOUNT", i18n.T(lang, i18n.KeyPaymentInvalidAmount, verr.Reason), details)
		case errors.Is(err, services.ErrIncompleteEvidence):
			utils.UnprocessableResponse(c, "INCOMPLETE_EVIDENCE", i18n.T(lang, i18n.KeyMilestoneIncomplete, verr.Field), details)
		case errors.Is(err, services.ErrInvalidMilestoneType):
			utils.UnprocessableResponse(c, "INVALID_MILESTONE_TYPE", i18n.T(lang, i18n.KeyMilestoneWrongKind, verr.Reason), details)
		case errors.Is(err, services.ErrMissingPayoutDestination):
			utils.UnprocessableResponse(c, "MISSING_PAYOUT_DESTINATION", i18n.T(lang, i18n.KeyPayoutMissingDestination), details)
		default:
			utils.ErrorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", i18n.T(lang, i18n.KeyValidationInvalid, verr.Field), details)
		}
	case errors.Is(err, services.ErrMissingPayoutDestination):
		utils.UnprocessableResponse(c, "MISSING_PAYOUT_DESTINATION", i18n.T(lang, i18n.KeyPayoutMissingDestination), nil)
	case errors.Is(err, services.ErrValidation):
		utils.BadRequestResponse(c, "", nil)
	case errors.Is(err, services.ErrNotFound):
		utils.ErrorResponse(c, http.StatusNotFound, "NOT_FOUND", i18n.T(lang, notFoundKey), nil)
	case errors.Is(err, services.ErrConcurrentModification):
		utils.ConflictResponse(c, "CONCURRENT_MODIFICATION", i18n.T(lang, i18n.KeyMilestoneConflict))
	case errors.Is(err, services.ErrInvalidState):
		utils.ConflictResponse(c, "INVALID_STATE", i18n.T(lang, i18n.KeyMilestoneInvalidState))
	case errors.Is(err, services.ErrSignatureInvalid):
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyWebhookInvalidSignature), nil)
	case errors.Is(err, services.ErrOracleTimeout):
		log.WithError(err).Warn("Verification oracle timed out")
		utils.UpstreamErrorResponse(c, http.StatusGatewayTimeout, "ORACLE_TIMEOUT", i18n.T(lang, i18n.KeyVerificationTimeout))
	case errors.Is(err, services.ErrOracle):
		log.WithError(err).Error("Verification oracle failed")
		utils.UpstreamErrorResponse(c, http.StatusBadGateway, "ORACLE_UNAVAILABLE", i18n.T(lang, i18n.KeyVerificationFailed))
	case errors.Is(err, services.ErrUpstreamCharge):
		log.WithError(err).Error("Payment provider charge failed")
		utils.UpstreamErrorResponse(c, http.StatusBadGateway, "UPSTREAM_CHARGE_FAILED", i18n.T(lang, i18n.KeyPaymentUpstream))
	case errors.Is(err, services.ErrUpstreamTransfer):
		log.WithError(err).Error("Payment provider transfer failed")
		utils.UpstreamErrorResponse(c, http.StatusBadGateway, "UPSTREAM_TRANSFER_FAILED", i18n.T(lang, i18n.KeyPayoutUpstream))
	default:
		log.WithError(err).Error("Request failed")
		utils.InternalErrorResponse(c)
	}
}

// bindAndValidate binds the JSON body into req and runs its validate tags.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}
