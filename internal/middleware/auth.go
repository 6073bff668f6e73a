// internal/middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/impactlink/escrow-backend/internal/i18n"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/utils"
)

func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := utils.GetLangFromContext(c)

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthRequired))
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidToken))
			c.Abort()
			return
		}

		claims, err := utils.ValidateJWT(parts[1])
		if err != nil {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthTokenExpired))
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireRoles lets the request through only if the token role is one of roles.
// Admins always pass.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := utils.GetRoleFromContext(c)
		if role == string(models.UserRoleAdmin) {
			c.Next()
			return
		}
		for _, r := range roles {
			if role == string(r) {
				c.Next()
				return
			}
		}
		utils.ForbiddenResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyAuthForbidden))
		c.Abort()
	}
}

func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := utils.GetRoleFromContext(c)
		if !exists || role != string(models.UserRoleAdmin) {
			utils.ForbiddenResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyAdminAccessDenied))
			c.Abort()
			return
		}
		c.Next()
	}
}
