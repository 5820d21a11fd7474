package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"newstrader/internal/broker"
	"newstrader/internal/domain"
	"newstrader/internal/metrics"
	"newstrader/internal/store"
)

// CycleReport summarizes one exit sweep.
type CycleReport struct {
	Closed int
	Held   int
	Failed int
	Sync   SyncReport // pending-entry reconciliation piggybacked on the cycle
}

// ExitScheduler drives the periodic exit sweep: reconcile pending orders,
// then evaluate every OPEN position against the exit triggers.
type ExitScheduler struct {
	store   *store.SQLiteStore
	broker  broker.Broker
	manager *PositionManager
	sync    *ReconciliationSync
	logger  *slog.Logger

	now func() time.Time
}

// NewExitScheduler wires a scheduler.
func NewExitScheduler(
	st *store.SQLiteStore,
	b broker.Broker,
	manager *PositionManager,
	sync *ReconciliationSync,
	logger *slog.Logger,
) *ExitScheduler {
	return &ExitScheduler{
		store:   st,
		broker:  b,
		manager: manager,
		sync:    sync,
		logger:  logger.With("component", "scheduler"),
		now:     time.Now,
	}
}

// RunExitCycle performs one sweep. The OPEN set is snapshotted up front, so
// positions opened mid-cycle wait for the next cycle. Per-position failures
// are counted and logged, never fatal to the cycle.
func (s *ExitScheduler) RunExitCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	entrySync, err := s.sync.SyncPendingEntries(ctx)
	if err != nil {
		s.logger.Warn("entry reconciliation failed", "error", err)
	}
	report.Sync = entrySync

	if _, err := s.sync.SyncPendingExits(ctx); err != nil {
		s.logger.Warn("exit reconciliation failed", "error", err)
	}
	if n, err := s.sync.ResubmitFailed(ctx); err != nil {
		s.logger.Warn("resubmission pass failed", "resubmitted", n, "error", err)
	}

	open, err := s.store.ListPositionsByStatus(ctx, domain.PositionOpen)
	if err != nil {
		return report, err
	}

	for i := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		pos := &open[i]

		lastPrice, err := s.broker.GetLastPrice(ctx, pos.Ticker)
		if err != nil {
			s.logger.Warn("quote unavailable, holding", "position_id", pos.ID, "ticker", pos.Ticker, "error", err)
			lastPrice = 0 // price triggers skipped; time and manual still apply
		}

		if lastPrice > pos.HighWatermark {
			if err := s.store.RaiseHighWatermark(ctx, pos.ID, lastPrice); err != nil {
				s.logger.Warn("watermark update failed", "position_id", pos.ID, "error", err)
			} else {
				pos.HighWatermark = lastPrice
			}
		}

		dec := s.manager.EvaluateExit(pos, lastPrice, s.now())
		if !dec.Close {
			report.Held++
			continue
		}

		closed, err := s.manager.ClosePosition(ctx, pos.ID, dec.Reason)
		switch {
		case err != nil && domain.IsIllegalTransition(err):
			// Programming-level fault: log and treat the position as held.
			s.logger.Error("illegal close attempt", "position_id", pos.ID, "error", err)
			report.Held++
		case err != nil:
			report.Failed++
		case closed != nil && closed.Status == domain.PositionClosed:
			report.Closed++
		default:
			// Closing order acknowledged but not filled yet.
			report.Held++
		}
	}

	metrics.ExitCyclesTotal.Inc()
	s.logger.Info("exit cycle complete",
		"closed", report.Closed, "held", report.Held, "failed", report.Failed,
		"reconciled", report.Sync.Resolved, "still_pending", report.Sync.StillPending,
	)
	return report, nil
}

// RunLoop runs cycles until the context is cancelled. The next cycle starts
// interval after the previous one completes, not on a wall-clock grid, so a
// slow cycle never overlaps the next. Cancellation waits for the in-flight
// cycle to finish.
func (s *ExitScheduler) RunLoop(ctx context.Context, interval time.Duration) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := s.RunExitCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.logger.Error("exit cycle failed", "error", err)
		}

		timer.Reset(interval)
	}
}
