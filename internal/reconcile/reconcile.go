// Package reconcile runs a scheduled pass over messages stuck in ERROR
// status and flips the ones the server actually accepted back to SENT.
// A delivery can succeed on the wire while the local status write is
// lost (crash, interrupted response); this closes that gap.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/gateway"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/pipeline"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
)

// StatusGateway is the slice of the remote API the runner needs.
type StatusGateway interface {
	GetMessage(ctx context.Context, id string) (*gateway.ServerMessage, bool, error)
}

// Config controls the reconciliation schedule.
type Config struct {
	Enabled   bool
	Cron      string
	BatchSize int
}

// Runner periodically re-checks ERROR messages against the server.
type Runner struct {
	store *store.Store
	gw    StatusGateway
	pipe  *pipeline.Pipeline
	batch int
}

func NewRunner(st *store.Store, gw StatusGateway, pipe *pipeline.Pipeline, batchSize int) *Runner {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Runner{store: st, gw: gw, pipe: pipe, batch: batchSize}
}

// Start starts the scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, r *Runner, cfg Config) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("reconcile_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "*/5 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("reconcile_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid reconcile cron expression: %s", cfg.Cron)
	}

	logger.Info("reconcile_enabled", "cron", cronExpr, "batch", r.batch)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, r, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func runScheduler(ctx context.Context, r *Runner, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("reconcile_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("reconcile_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("reconcile_scheduler_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := r.Pass(ctx); err != nil {
				logger.Error("reconcile_pass_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("reconcile_scheduler_stopping")
			return
		}
	}
}

// Pass scans one batch of ERROR messages and flips the ones the server
// knows about to SENT. A lookup failure leaves the row in ERROR for
// the next pass.
func (r *Runner) Pass(ctx context.Context) error {
	msgs, err := r.store.ListMessagesByStatus(models.StatusError, r.batch)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	var flipped int
	for i := range msgs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		m := &msgs[i]
		srv, found, err := r.gw.GetMessage(ctx, m.ID)
		if err != nil {
			logger.Debug("reconcile_lookup_failed", "id", m.ID, "error", err)
			continue
		}
		if !found {
			continue
		}
		r.pipe.ReconcileStatus(m.ID, m.ThreadID, models.StatusSent, srv)
		telemetry.ReconcileFlips.Inc()
		flipped++
	}
	logger.Info("reconcile_pass_done", "scanned", len(msgs), "flipped", flipped)
	return nil
}
