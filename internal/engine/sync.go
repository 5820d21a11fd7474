package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"newstrader/internal/broker"
	"newstrader/internal/domain"
	"newstrader/internal/metrics"
	"newstrader/internal/notify"
	"newstrader/internal/store"
)

// SyncReport summarizes one reconciliation pass.
type SyncReport struct {
	Resolved     int // orders advanced to a terminal status
	StillPending int // orders the venue still reports as working
	Rejected     int // subset of Resolved that the venue cancelled or rejected
}

// ReconciliationSync resolves orders left in SENT by polling the broker.
// Each order is handled in its own transaction, so the pass is safe to call
// repeatedly and concurrently for disjoint order sets: it only ever advances
// an order forward, and re-resolving a terminal order is a no-op.
type ReconciliationSync struct {
	store    *store.SQLiteStore
	broker   broker.Broker
	notifier notify.Notifier
	retry    RetryPolicy
	logger   *slog.Logger

	now func() time.Time
}

// NewReconciliationSync wires a reconciler.
func NewReconciliationSync(
	st *store.SQLiteStore,
	b broker.Broker,
	notifier notify.Notifier,
	retry RetryPolicy,
	logger *slog.Logger,
) *ReconciliationSync {
	return &ReconciliationSync{
		store:    st,
		broker:   b,
		notifier: notifier,
		retry:    retry,
		logger:   logger.With("component", "reconcile"),
		now:      time.Now,
	}
}

// SyncPendingEntries advances SENT entry orders. A reported fill opens the
// associated PENDING_ENTRY position at the fill price; a venue rejection
// marks the order REJECTED and discards the position in the same
// transaction.
func (r *ReconciliationSync) SyncPendingEntries(ctx context.Context) (SyncReport, error) {
	return r.syncPending(ctx, domain.OrderKindEntry)
}

// SyncPendingExits advances SENT exit orders. A reported fill completes the
// position's CLOSED transition; a venue rejection reopens the close attempt
// for the next cycle.
func (r *ReconciliationSync) SyncPendingExits(ctx context.Context) (SyncReport, error) {
	return r.syncPending(ctx, domain.OrderKindExit)
}

func (r *ReconciliationSync) syncPending(ctx context.Context, kind domain.OrderKind) (SyncReport, error) {
	sent, err := r.store.ListOrdersByStatus(ctx, domain.OrderSent)
	if err != nil {
		return SyncReport{}, fmt.Errorf("listing SENT orders: %w", err)
	}

	var report SyncReport
	for i := range sent {
		if sent[i].Kind != kind {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		update, err := r.broker.InquireOrder(ctx, sent[i].BrokerOrderID)
		if err != nil {
			if domain.IsTerminal(err) {
				// Venue does not know the order; treat as rejected.
				update = broker.OrderUpdate{Status: broker.UpdateRejected, Reason: err.Error()}
			} else {
				metrics.BrokerErrorsTotal.WithLabelValues(r.broker.Name(), errorClass(err)).Inc()
				r.logger.Warn("inquire failed", "order_id", sent[i].ID, "error", err)
				report.StillPending++
				continue
			}
		}

		switch update.Status {
		case broker.UpdateWorking:
			report.StillPending++
			continue
		case broker.UpdateFilled, broker.UpdateRejected:
			if err := r.resolveOrder(ctx, sent[i].ID, update); err != nil {
				r.logger.Error("resolving order", "order_id", sent[i].ID, "error", err)
				report.StillPending++
				continue
			}
			report.Resolved++
			if update.Status == broker.UpdateRejected {
				report.Rejected++
				metrics.ReconciledOrdersTotal.WithLabelValues("rejected").Inc()
			} else {
				metrics.ReconciledOrdersTotal.WithLabelValues("filled").Inc()
			}
		default:
			r.logger.Warn("unknown order update status", "order_id", sent[i].ID, "status", string(update.Status))
			report.StillPending++
		}
	}
	return report, nil
}

// resolveOrder applies a terminal venue update to one order and its position
// as a single transaction.
func (r *ReconciliationSync) resolveOrder(ctx context.Context, orderID string, update broker.OrderUpdate) error {
	return r.store.WithTx(ctx, func(tx *store.SQLiteStore) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		// Another pass may have resolved it already.
		if order == nil || order.Status != domain.OrderSent {
			return nil
		}

		pos, err := tx.GetPosition(ctx, order.PositionID)
		if err != nil {
			return err
		}

		if update.Status == broker.UpdateFilled {
			return r.applyFill(ctx, tx, order, pos, update.FillPrice)
		}
		return r.applyRejection(ctx, tx, order, pos, update.Reason)
	})
}

func (r *ReconciliationSync) applyFill(ctx context.Context, tx *store.SQLiteStore, order *domain.Order, pos *domain.Position, fillPrice float64) error {
	if err := order.Transition(domain.OrderFilled); err != nil {
		return err
	}
	order.FillPrice = fillPrice
	order.UpdatedAt = r.now().UTC()
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return err
	}
	if pos == nil {
		return nil
	}

	switch order.Kind {
	case domain.OrderKindEntry:
		if err := pos.Transition(domain.PositionOpen); err != nil {
			return err
		}
		pos.EntryPrice = fillPrice
		pos.OpenedAt = r.now().UTC()
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return err
		}
		r.notifier.Notify(ctx, notify.Event{
			Kind: notify.EventOrderFilled, SignalID: order.SignalID,
			OrderID: order.ID, PositionID: pos.ID, Ticker: pos.Ticker, At: r.now().UTC(),
		})

	case domain.OrderKindExit:
		if err := pos.Transition(domain.PositionClosed); err != nil {
			return err
		}
		pos.ClosedAt = r.now().UTC()
		if pos.CloseReason == "" {
			pos.CloseReason = domain.CloseManual
		}
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return err
		}
		metrics.PositionClosesTotal.WithLabelValues(string(pos.CloseReason)).Inc()
		r.notifier.Notify(ctx, notify.Event{
			Kind: notify.EventPositionClosed, SignalID: order.SignalID,
			OrderID: order.ID, PositionID: pos.ID, Ticker: pos.Ticker,
			Reason: string(pos.CloseReason), At: r.now().UTC(),
		})
	}
	return nil
}

func (r *ReconciliationSync) applyRejection(ctx context.Context, tx *store.SQLiteStore, order *domain.Order, pos *domain.Position, reason string) error {
	if err := order.Transition(domain.OrderRejected); err != nil {
		return err
	}
	order.UpdatedAt = r.now().UTC()
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return err
	}

	if pos != nil {
		switch order.Kind {
		case domain.OrderKindEntry:
			// Never filled; the pending position is discarded.
			if err := tx.DeletePosition(ctx, pos.ID); err != nil {
				return err
			}
		case domain.OrderKindExit:
			// The position stays OPEN; clear the stale reason so the next
			// close attempt records its own.
			pos.CloseReason = ""
			if err := tx.UpdatePosition(ctx, pos); err != nil {
				return err
			}
		}
	}

	r.logger.Warn("order rejected by venue",
		"order_id", order.ID, "kind", string(order.Kind), "reason", reason)
	r.notifier.Notify(ctx, notify.Event{
		Kind: notify.EventOrderRejected, SignalID: order.SignalID,
		OrderID: order.ID, Ticker: order.Ticker, Reason: reason, At: r.now().UTC(),
	})
	return nil
}

// ResubmitFailed re-attempts FAILED entry orders that the retry policy
// permits. A resubmission mutates the same order row: attempt_count is
// incremented and the original order id is reused as the broker client order
// id, so a retry never double-places. Returns how many orders were
// resubmitted.
func (r *ReconciliationSync) ResubmitFailed(ctx context.Context) (int, error) {
	failed, err := r.store.ListOrdersByStatus(ctx, domain.OrderFailed)
	if err != nil {
		return 0, fmt.Errorf("listing FAILED orders: %w", err)
	}

	resubmitted := 0
	for i := range failed {
		if failed[i].Kind != domain.OrderKindEntry {
			continue
		}
		if !r.retry.MayRetry(&failed[i], r.now()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return resubmitted, err
		}

		if err := r.resubmitOne(ctx, failed[i].ID); err != nil {
			r.logger.Warn("resubmission failed", "order_id", failed[i].ID, "error", err)
			continue
		}
		resubmitted++
	}
	return resubmitted, nil
}

func (r *ReconciliationSync) resubmitOne(ctx context.Context, orderID string) error {
	// A broker failure on the retried submission must still commit the
	// incremented attempt count (and a terminal REJECTED transition), or the
	// retry bound would reset on every pass. The classified error is
	// surfaced after the commit.
	var submitFailure error
	err := r.store.WithTx(ctx, func(tx *store.SQLiteStore) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil || order.Status != domain.OrderFailed {
			return nil
		}

		now := r.now().UTC()
		order.AttemptCount++
		order.LastAttemptAt = now

		sig, err := tx.GetSignal(ctx, order.SignalID)
		if err != nil {
			return err
		}
		refPrice := 0.0
		if sig != nil {
			refPrice = sig.ReferencePrice
		}

		ack, err := r.broker.SubmitOrder(ctx, broker.OrderRequest{
			Ticker:         order.Ticker,
			Side:           order.Side,
			Qty:            order.Qty,
			ReferencePrice: refPrice,
			ClientOrderID:  order.ID,
		})
		if err != nil {
			metrics.BrokerErrorsTotal.WithLabelValues(r.broker.Name(), errorClass(err)).Inc()
			if domain.IsTerminal(err) {
				if trErr := order.Transition(domain.OrderRejected); trErr != nil {
					return trErr
				}
			}
			// Transient errors leave the order FAILED with the new attempt
			// recorded; terminal ones have transitioned it to REJECTED.
			order.UpdatedAt = now
			if upErr := tx.UpdateOrder(ctx, order); upErr != nil {
				return upErr
			}
			submitFailure = err
			return nil
		}

		switch ack.Status {
		case broker.AckFilled:
			if err := order.Transition(domain.OrderFilled); err != nil {
				return err
			}
			order.FillPrice = ack.FillPrice
			order.BrokerOrderID = ack.BrokerOrderID
			if err := r.ensureOpenPosition(ctx, tx, order, ack.FillPrice, now); err != nil {
				return err
			}
		case broker.AckSent:
			if err := order.Transition(domain.OrderSent); err != nil {
				return err
			}
			order.BrokerOrderID = ack.BrokerOrderID
			if err := r.ensurePendingPosition(ctx, tx, order); err != nil {
				return err
			}
		}

		order.UpdatedAt = now
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return err
	}
	return submitFailure
}

// ensureOpenPosition creates the OPEN position for a resubmitted entry fill
// if the first attempt never got that far.
func (r *ReconciliationSync) ensureOpenPosition(ctx context.Context, tx *store.SQLiteStore, order *domain.Order, fillPrice float64, now time.Time) error {
	if order.PositionID != "" {
		return nil
	}
	pos := &domain.Position{
		ID:           uuid.NewString(),
		EntryOrderID: order.ID,
		SignalID:     order.SignalID,
		Ticker:       order.Ticker,
		EntryPrice:   fillPrice,
		Qty:          order.Qty,
		Status:       domain.PositionOpen,
		OpenedAt:     now,
	}
	if err := tx.SavePosition(ctx, pos); err != nil {
		return err
	}
	order.PositionID = pos.ID
	r.notifier.Notify(ctx, notify.Event{
		Kind: notify.EventOrderFilled, SignalID: order.SignalID,
		OrderID: order.ID, PositionID: pos.ID, Ticker: pos.Ticker, At: now,
	})
	return nil
}

func (r *ReconciliationSync) ensurePendingPosition(ctx context.Context, tx *store.SQLiteStore, order *domain.Order) error {
	if order.PositionID != "" {
		return nil
	}
	pos := &domain.Position{
		ID:           uuid.NewString(),
		EntryOrderID: order.ID,
		SignalID:     order.SignalID,
		Ticker:       order.Ticker,
		Qty:          order.Qty,
		Status:       domain.PositionPendingEntry,
	}
	if err := tx.SavePosition(ctx, pos); err != nil {
		return err
	}
	order.PositionID = pos.ID
	return nil
}
