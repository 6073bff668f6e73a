// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/impactlink/escrow-backend/internal/cache"
	"github.com/impactlink/escrow-backend/internal/config"
	"github.com/impactlink/escrow-backend/internal/database"
	"github.com/impactlink/escrow-backend/internal/oracle"
	"github.com/impactlink/escrow-backend/internal/payments"
	"github.com/impactlink/escrow-backend/internal/repository"
	"github.com/impactlink/escrow-backend/internal/router"
	"github.com/impactlink/escrow-backend/internal/services"
)

// App is the wired escrow service graph shared by the server and escrowctl.
type App struct {
	Config     *config.Config
	Log        *logrus.Logger
	Repo       repository.Repository
	Fees       *services.FeeCalculator
	Payments   *services.PaymentService
	Milestones *services.MilestoneService
	Transfers  *services.TransferService
	Webhooks   *services.WebhookService

	db      *gorm.DB
	rdb     *redis.Client
	closers []io.Closer
}

// NewLogger configures logrus from cfg.
func NewLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// Build connects the stores and providers named in cfg and wires the services.
func Build(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if cfg.Database.InMemory() {
		log.Warn("Using in-memory repository; data is lost on restart")
		a.Repo = repository.NewMemoryRepository()
	} else {
		db, err := database.Initialize(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.Repo = repository.NewGormRepository(db)
	}

	provider, err := newProvider(cfg.Payment, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	o, err := oracle.New(ctx, cfg.Oracle)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize verification oracle: %w", err)
	}
	if c, ok := o.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	evidence, err := services.NewEvidenceService(cfg.AWS)
	if err != nil {
		a.Close()
		return nil, err
	}

	fees, err := services.NewFeeCalculator(cfg.Payment)
	if err != nil {
		a.Close()
		return nil, err
	}

	var deduper services.EventDeduper
	rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		// The webhook event log still deduplicates; redis is only the fast path.
		log.WithError(err).Warn("Redis unavailable, webhook dedup falls back to the database")
	} else if rdb != nil {
		a.rdb = rdb
		deduper = cache.NewEventCache(rdb, time.Duration(cfg.Redis.EventTTL)*time.Second)
	}

	a.Fees = fees
	a.Milestones = services.NewMilestoneService(a.Repo, o, evidence, cfg.Oracle, log)
	a.Payments = services.NewPaymentService(a.Repo, provider, fees, a.Milestones, log)
	a.Transfers = services.NewTransferService(a.Repo, provider, a.Milestones, log)
	a.Milestones.SetPayouter(a.Transfers)
	a.Webhooks = services.NewWebhookService(a.Repo, provider, a.Payments, a.Milestones, deduper, log)

	log.WithFields(logrus.Fields{
		"payment_provider": provider.Name(),
		"oracle":           o.Name(),
		"database":         cfg.Database.Driver,
		"redis":            a.rdb != nil,
	}).Info("Escrow services initialized")
	return a, nil
}

func newProvider(cfg config.PaymentConfig, log logrus.FieldLogger) (payments.Provider, error) {
	switch cfg.Provider {
	case "stripe":
		return payments.NewStripeProvider(cfg), nil
	case "fake":
		log.Warn("Using in-memory payment provider")
		return payments.NewFakeProvider(cfg.StripeWebhookSecret), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// Migrate creates or updates the database schema. It is a no-op for the in-memory store.
func (a *App) Migrate() error {
	if a.db == nil {
		return nil
	}
	return database.RunMigrations(a.db)
}

// Services returns the components exposed over HTTP.
func (a *App) Services() router.Services {
	return router.Services{
		Payments:   a.Payments,
		Milestones: a.Milestones,
		Transfers:  a.Transfers,
		Webhooks:   a.Webhooks,
		Audit:      a.Repo,
	}
}

func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Log.WithError(err).Warn("Failed to close component")
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.Log.WithError(err).Warn("Failed to close redis client")
		}
	}
	if a.db != nil {
		database.Close(a.db)
	}
}
