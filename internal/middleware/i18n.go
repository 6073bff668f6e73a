// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/impactlink/escrow-backend/internal/i18n"
)

func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("lang", preferredLanguage(c.GetHeader("Accept-Language")))
		c.Next()
	}
}

// preferredLanguage picks the first supported language of an Accept-Language header,
// e.g. "sv-SE,sv;q=0.9,en;q=0.8" -> "sv".
func preferredLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.Split(part, ";")[0])
		subtags := strings.FieldsFunc(tag, func(r rune) bool { return r == '-' || r == '_' })
		if len(subtags) == 0 {
			continue
		}
		if base := strings.ToLower(subtags[0]); i18n.Supported(base) {
			return base
		}
	}
	return i18n.DefaultLanguage()
}
