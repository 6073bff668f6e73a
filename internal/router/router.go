// internal/router/router.go
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/impactlink/escrow-backend/internal/config"
	"github.com/impactlink/escrow-backend/internal/handlers"
	"github.com/impactlink/escrow-backend/internal/middleware"
	"github.com/impactlink/escrow-backend/internal/models"
	"github.com/impactlink/escrow-backend/internal/services"
)

const version = "1.0.0"

// Services are the escrow components the HTTP layer exposes.
type Services struct {
	Payments   *services.PaymentService
	Milestones *services.MilestoneService
	Transfers  *services.TransferService
	Webhooks   *services.WebhookService
	Audit      middleware.AuditSink
}

// Initialize builds the gin engine. ctx bounds the background work of the rate limiters.
func Initialize(ctx context.Context, cfg *config.Config, svc Services, log logrus.FieldLogger) *gin.Engine {
	paymentHandler := handlers.NewPaymentHandler(svc.Payments, svc.Milestones, log)
	milestoneHandler := handlers.NewMilestoneHandler(svc.Milestones, svc.Transfers, log)
	payoutAccountHandler := handlers.NewPayoutAccountHandler(svc.Transfers, log)
	adminHandler := handlers.NewAdminHandler(svc.Milestones, svc.Transfers, log)
	webhookHandler := handlers.NewWebhookHandler(svc.Webhooks, log)

	generalLimiter := middleware.NewRateLimiter(rate.Every(100*time.Millisecond), 20)
	verifyLimiter := middleware.NewRateLimiter(rate.Every(6*time.Second), 3)
	go generalLimiter.Cleanup(ctx)
	go verifyLimiter.Cleanup(ctx)

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.I18nMiddleware())
	if svc.Audit != nil {
		r.Use(middleware.AuditLogMiddleware(svc.Audit, log))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"version":     version,
			"environment": cfg.Environment,
			"time":        time.Now().UTC(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		// Signature-authenticated, not rate limited: the provider retries on 429 anyway.
		v1.POST("/webhooks/stripe", webhookHandler.Stripe)

		api := v1.Group("")
		api.Use(generalLimiter.Middleware())

		api.POST("/payments/quote", paymentHandler.Quote)

		payments := api.Group("/payments")
		payments.Use(middleware.AuthRequired())
		{
			payments.POST("/escrow", middleware.RequireRoles(models.UserRoleCompany), paymentHandler.CreateEscrowCharge)
			payments.GET("", paymentHandler.ListPaymentCases)
			payments.GET("/:id", paymentHandler.GetPaymentCase)
		}

		milestones := api.Group("/milestones")
		milestones.Use(middleware.AuthRequired())
		{
			milestones.GET("/:id", milestoneHandler.GetMilestone)
			milestones.GET("/:id/verifications", milestoneHandler.ListVerificationRecords)
			milestones.POST("/:id/evidence", middleware.RequireRoles(models.UserRoleOrganization), milestoneHandler.AttachEvidence)
			milestones.POST("/:id/verify", middleware.RequireRoles(models.UserRoleOrganization), verifyLimiter.Middleware(), milestoneHandler.RunVerification)
			milestones.POST("/:id/payout", middleware.AdminRequired(), milestoneHandler.Payout)
		}

		organizations := api.Group("/organizations")
		organizations.Use(middleware.AuthRequired(), middleware.RequireRoles(models.UserRoleOrganization))
		{
			organizations.GET("/:id/payout-account", payoutAccountHandler.GetPayoutAccount)
			organizations.PUT("/:id/payout-account", payoutAccountHandler.RegisterPayoutAccount)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.POST("/milestones/:id/review", adminHandler.ResolveReview)
			admin.POST("/payouts/sweep", adminHandler.SweepPayouts)
		}
	}

	return r
}
