// internal/handlers/access.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/impactlink/escrow-backend/internal/i18n"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/utils"
)

func isAdmin(claims *utils.JWTClaims) bool {
	return claims != nil && claims.Role == string(models.UserRoleAdmin)
}

// canViewCase: admins see everything, companies their own charges, organizations the
// cases that fund them.
func canViewCase(claims *utils.JWTClaims, pc *models.PaymentCase) bool {
	if claims == nil {
		return false
	}
	switch models.UserRole(claims.Role) {
	case models.UserRoleAdmin:
		return true
	case models.UserRoleCompany:
		id, ok := claims.CompanyUUID()
		return ok && pc.CompanyID != nil && *pc.CompanyID == id
	case models.UserRoleOrganization:
		return ownsOrganization(claims, pc.OrganizationID)
	default:
		return false
	}
}

// ownsOrganization reports whether the caller acts for organizationID.
func ownsOrganization(claims *utils.JWTClaims, organizationID uuid.UUID) bool {
	if isAdmin(claims) {
		return true
	}
	if claims == nil || claims.Role != string(models.UserRoleOrganization) {
		return false
	}
	id, ok := claims.OrganizationUUID()
	return ok && id == organizationID
}

func requireClaims(c *gin.Context) (*utils.JWTClaims, bool) {
	claims, ok := utils.GetClaimsFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return nil, false
	}
	return claims, true
}

func forbid(c *gin.Context) {
	utils.ForbiddenResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyAuthForbidden))
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, name), nil)
		return uuid.Nil, false
	}
	return id, true
}
