// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/impactlink/escrow-backend/internal/app"
	"github.com/impactlink/escrow-backend/internal/config"
	"github.com/impactlink/escrow-backend/internal/i18n"
	"github.com/impactlink/escrow-backend/internal/router"
	"github.com/impactlink/escrow-backend/internal/utils"
	"github.com/impactlink/escrow-backend/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	log := app.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := i18n.Initialize(cfg.I18n.DefaultLocale); err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}
	utils.SetJWTSecret(cfg.JWT.SecretKey, cfg.JWT.Issuer)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize services")
	}
	defer a.Close()

	if err := a.Migrate(); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}

	var reconciler *worker.Reconciler
	if cfg.Worker.Enabled {
		reconciler = worker.NewReconciler(a.Transfers, cfg.Worker.BatchSize, log)
		if err := reconciler.Start(ctx, cfg.Worker.Schedule); err != nil {
			log.WithError(err).Fatal("Failed to start payout reconciler")
		}
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.Initialize(ctx, cfg, a.Services(), log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if reconciler != nil {
		reconciler.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}
