// internal/middleware/logging.go
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/utils"
)

const maxAuditBody = 64 << 10

// AuditSink stores audit entries; repository.Repository satisfies it.
type AuditSink interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// AuditLogMiddleware records every mutating request. Webhook bodies are not kept since
// the webhook event log already stores them.
func AuditLogMiddleware(sink AuditSink, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		var requestBody []byte
		if c.Request.Body != nil && !isWebhookPath(c.Request.URL.Path) {
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxAuditBody))
			c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(requestBody), c.Request.Body))
		}

		c.Next()

		entry := &models.AuditLog{
			Action:       c.Request.Method + " " + c.FullPath(),
			ResourceType: extractResourceType(c.Request.URL.Path),
			StatusCode:   c.Writer.Status(),
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
		}
		if entry.Action == c.Request.Method+" " {
			entry.Action += c.Request.URL.Path
		}
		if userID, ok := utils.GetUserIDFromContext(c); ok {
			if parsed, err := uuid.Parse(userID); err == nil {
				entry.UserID = &parsed
			}
		}
		if resourceID := extractResourceID(c.Request.URL.Path); resourceID != "" {
			if parsed, err := uuid.Parse(resourceID); err == nil {
				entry.ResourceID = &parsed
			}
		}

		var requestData map[string]interface{}
		if len(requestBody) > 0 && json.Unmarshal(requestBody, &requestData) == nil {
			entry.NewValues = models.JSONB(requestData)
		}

		// The request context is done once the handler returns.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sink.CreateAuditLog(ctx, entry); err != nil {
				log.WithError(err).Error("Failed to create audit log")
			}
		}()
	}
}

// RequestLogger tags each request with an id and logs method, path, status and duration.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		userID, _ := utils.GetUserIDFromContext(c)
		entry := log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
			"user_id":    userID,
		})
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("Request processed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request processed")
		default:
			entry.Info("Request processed")
		}
	}
}

func isWebhookPath(path string) bool {
	return strings.HasPrefix(path, "/v1/webhooks/")
}

func extractResourceType(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "admin" {
		return parts[2]
	}
	if len(parts) >= 2 && parts[0] == "v1" {
		return parts[1]
	}
	if len(parts) >= 1 && parts[0] != "" {
		return parts[0]
	}
	return "unknown"
}

func extractResourceID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for _, part := range parts {
		if _, err := uuid.Parse(part); err == nil {
			return part
		}
	}
	return ""
}
