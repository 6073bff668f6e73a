// Package worker runs background jobs of the escrow service.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/impactlink/escrow-backend/internal/services"
)

// PayoutSweeper retries payouts of approved milestones.
type PayoutSweeper interface {
	PayoutApproved(ctx context.Context, limit int) (*services.PayoutSweep, error)
}

// Reconciler periodically sweeps approved but unpaid milestones.
type Reconciler struct {
	cron      *cron.Cron
	sweeper   PayoutSweeper
	batchSize int
	timeout   time.Duration
	log       logrus.FieldLogger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewReconciler(sweeper PayoutSweeper, batchSize int, log logrus.FieldLogger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 50
	}
	// Sweeps never overlap.
	chain := cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))
	return &Reconciler{
		cron:      cron.New(chain),
		sweeper:   sweeper,
		batchSize: batchSize,
		timeout:   5 * time.Minute,
		log:       log.WithField("component", "reconciler"),
	}
}

// Start schedules the sweep with a standard five-field cron spec.
func (r *Reconciler) Start(ctx context.Context, schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("reconciler already running")
	}

	if _, err := r.cron.AddFunc(schedule, r.tick); err != nil {
		return fmt.Errorf("invalid reconciler schedule %q: %w", schedule, err)
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.cron.Start()
	r.log.WithField("schedule", schedule).Info("Payout reconciler started")
	return nil
}

// Stop waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}

	r.cancel()
	<-r.cron.Stop().Done()
	r.running = false
	r.log.Info("Payout reconciler stopped")
}

func (r *Reconciler) tick() {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	if _, err := r.RunOnce(ctx); err != nil {
		r.log.WithError(err).Error("Payout sweep failed")
	}
}

// RunOnce performs one sweep immediately.
func (r *Reconciler) RunOnce(ctx context.Context) (*services.PayoutSweep, error) {
	return r.sweeper.PayoutApproved(ctx, r.batchSize)
}
