// Package engine coordinates the signal-to-position pipeline: risk gating,
// order submission, fill reconciliation, and position exit.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"newstrader/internal/broker"
	"newstrader/internal/config"
	"newstrader/internal/domain"
	"newstrader/internal/metrics"
	"newstrader/internal/notify"
	"newstrader/internal/store"
)

// ExecutionReport is the structured result of one ExecuteSignal invocation.
type ExecutionReport struct {
	Outcome    domain.ExecutionOutcome
	SignalID   string
	OrderID    string
	PositionID string
	FillPrice  float64
	Reason     string // set for REJECTED / FAILED outcomes
}

// OrderExecutor drives a scored signal through the risk gate and broker
// submission, writing the Order and Position rows in one transaction.
type OrderExecutor struct {
	store    *store.SQLiteStore
	broker   broker.Broker
	gate     *RiskGate
	notifier notify.Notifier
	cfg      config.TradingConfig
	logger   *slog.Logger

	// manager, when set, force-closes a freshly filled position right
	// after execution. Demo path: only wired for the simulator broker.
	manager *PositionManager

	now func() time.Time
}

// NewOrderExecutor wires an executor.
func NewOrderExecutor(
	st *store.SQLiteStore,
	b broker.Broker,
	gate *RiskGate,
	notifier notify.Notifier,
	cfg config.TradingConfig,
	logger *slog.Logger,
) *OrderExecutor {
	return &OrderExecutor{
		store:    st,
		broker:   b,
		gate:     gate,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "executor"),
		now:      time.Now,
	}
}

// EnableDemoAutoClose arranges for every filled entry to be closed
// immediately after the execution commits.
func (e *OrderExecutor) EnableDemoAutoClose(pm *PositionManager) {
	e.manager = pm
}

// ExecuteSignal runs the full pipeline for one persisted signal. The signal
// lookup, gate decision, order row, broker submission result, and position
// row commit as a single transaction: no partial Order/Position pair is ever
// visible. Re-executing an already-processed signal is an idempotent
// SKIPPED_DUP with no side effects.
func (e *OrderExecutor) ExecuteSignal(ctx context.Context, signalID string) (*ExecutionReport, error) {
	report := &ExecutionReport{SignalID: signalID}

	err := e.store.WithTx(ctx, func(tx *store.SQLiteStore) error {
		sig, err := tx.GetSignal(ctx, signalID)
		if err != nil {
			return fmt.Errorf("loading signal: %w", err)
		}
		if sig == nil {
			return &domain.ValidationError{Field: "signal_id", Reason: "unknown signal " + signalID}
		}

		existing, err := tx.GetEntryOrderForSignal(ctx, signalID)
		if err != nil {
			return fmt.Errorf("checking prior order: %w", err)
		}
		if existing != nil {
			report.Outcome = domain.OutcomeSkippedDup
			report.OrderID = existing.ID
			return nil
		}

		openCount, err := tx.CountOpenForTicker(ctx, sig.Ticker)
		if err != nil {
			return fmt.Errorf("counting exposure: %w", err)
		}

		dec, err := e.gate.Evaluate(sig, ExposureSnapshot{OpenForTicker: openCount}, e.cfg.DefaultQty, RiskConfig{
			KillSwitch:            e.cfg.KillSwitch,
			MinConfidence:         e.cfg.MinMapConfidence,
			MaxPositionsPerTicker: e.cfg.MaxPositionsPerTicker,
			PenaltyFactor:         e.cfg.RiskPenaltyFactor,
			PenaltyCap:            e.cfg.RiskPenaltyCap,
		})
		if err != nil {
			return err
		}
		if auditErr := tx.SaveRiskDecision(ctx, &dec, e.now().UTC()); auditErr != nil {
			return fmt.Errorf("writing risk audit: %w", auditErr)
		}
		if !dec.Accepted {
			report.Outcome = domain.OutcomeRejected
			report.Reason = dec.Reason
			return nil
		}

		return e.submitEntry(ctx, tx, sig, dec.AdjustedQty, report)
	})
	if err != nil {
		if domain.IsDuplicate(err) {
			// Lost a race on the entry-order index; another invocation
			// already owns this signal.
			report.Outcome = domain.OutcomeSkippedDup
		} else {
			return nil, err
		}
	}

	e.finish(ctx, report)
	return report, nil
}

// submitEntry creates the PENDING_SUBMIT order row, calls the broker, and
// records the result. Runs inside the executor's transaction.
func (e *OrderExecutor) submitEntry(ctx context.Context, tx *store.SQLiteStore, sig *domain.Signal, qty float64, report *ExecutionReport) error {
	now := e.now().UTC()
	order := &domain.Order{
		ID:        uuid.NewString(),
		SignalID:  sig.ID,
		Kind:      domain.OrderKindEntry,
		Ticker:    sig.Ticker,
		Side:      sig.Side,
		Qty:       qty,
		Status:    domain.OrderPendingSubmit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.SaveOrder(ctx, order); err != nil {
		return err
	}
	report.OrderID = order.ID

	order.AttemptCount = 1
	order.LastAttemptAt = now

	ack, err := e.broker.SubmitOrder(ctx, broker.OrderRequest{
		Ticker:         sig.Ticker,
		Side:           sig.Side,
		Qty:            qty,
		ReferencePrice: sig.ReferencePrice,
		ClientOrderID:  order.ID,
	})
	if err != nil {
		return e.recordSubmitFailure(ctx, tx, order, err, report)
	}

	switch ack.Status {
	case broker.AckFilled:
		if err := order.Transition(domain.OrderFilled); err != nil {
			return err
		}
		order.FillPrice = ack.FillPrice
		order.BrokerOrderID = ack.BrokerOrderID
		pos := &domain.Position{
			ID:           uuid.NewString(),
			EntryOrderID: order.ID,
			SignalID:     sig.ID,
			Ticker:       sig.Ticker,
			EntryPrice:   ack.FillPrice,
			Qty:          qty,
			Status:       domain.PositionOpen,
			OpenedAt:     now,
		}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return fmt.Errorf("creating position: %w", err)
		}
		order.PositionID = pos.ID
		report.Outcome = domain.OutcomeFilled
		report.PositionID = pos.ID
		report.FillPrice = ack.FillPrice

	case broker.AckSent:
		if err := order.Transition(domain.OrderSent); err != nil {
			return err
		}
		order.BrokerOrderID = ack.BrokerOrderID
		pos := &domain.Position{
			ID:           uuid.NewString(),
			EntryOrderID: order.ID,
			SignalID:     sig.ID,
			Ticker:       sig.Ticker,
			Qty:          qty,
			Status:       domain.PositionPendingEntry,
		}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return fmt.Errorf("creating pending position: %w", err)
		}
		order.PositionID = pos.ID
		report.Outcome = domain.OutcomeSentPending
		report.PositionID = pos.ID

	default:
		return fmt.Errorf("broker returned unknown ack status %q", ack.Status)
	}

	order.UpdatedAt = e.now().UTC()
	return tx.UpdateOrder(ctx, order)
}

// recordSubmitFailure persists the broker failure on the order. Transient
// errors leave the order in FAILED for the retry policy; terminal rejections
// go straight to REJECTED. Both commit the transaction so the attempt is
// never lost.
func (e *OrderExecutor) recordSubmitFailure(ctx context.Context, tx *store.SQLiteStore, order *domain.Order, brokerErr error, report *ExecutionReport) error {
	report.Reason = brokerErr.Error()

	switch {
	case domain.IsTerminal(brokerErr):
		if err := order.Transition(domain.OrderRejected); err != nil {
			return err
		}
		report.Outcome = domain.OutcomeRejected
	case domain.IsTransient(brokerErr):
		if err := order.Transition(domain.OrderFailed); err != nil {
			return err
		}
		report.Outcome = domain.OutcomeFailed
	default:
		// Validation errors from the broker abort the whole transaction:
		// nothing was placed, so no order row should survive.
		return brokerErr
	}

	metrics.BrokerErrorsTotal.WithLabelValues(e.broker.Name(), errorClass(brokerErr)).Inc()
	order.UpdatedAt = e.now().UTC()
	return tx.UpdateOrder(ctx, order)
}

// finish emits metrics and the fire-and-forget notification, then runs the
// demo auto-close when enabled.
func (e *OrderExecutor) finish(ctx context.Context, report *ExecutionReport) {
	metrics.ExecutionsTotal.WithLabelValues(string(report.Outcome)).Inc()

	ev := notify.Event{
		SignalID:   report.SignalID,
		OrderID:    report.OrderID,
		PositionID: report.PositionID,
		Reason:     report.Reason,
		At:         e.now().UTC(),
	}
	switch report.Outcome {
	case domain.OutcomeFilled:
		ev.Kind = notify.EventOrderFilled
	case domain.OutcomeSentPending:
		ev.Kind = notify.EventOrderSentPending
	case domain.OutcomeRejected:
		ev.Kind = notify.EventOrderRejected
	case domain.OutcomeSkippedDup:
		ev.Kind = notify.EventDupNewsSkipped
	case domain.OutcomeFailed:
		ev.Kind = notify.EventOrderFailed
	}
	e.notifier.Notify(ctx, ev)

	e.logger.Info("signal executed",
		"signal_id", report.SignalID,
		"outcome", string(report.Outcome),
		"order_id", report.OrderID,
		"position_id", report.PositionID,
	)

	if e.manager != nil && report.Outcome == domain.OutcomeFilled {
		if _, err := e.manager.ClosePosition(ctx, report.PositionID, domain.CloseManual); err != nil {
			e.logger.Error("demo auto-close failed", "position_id", report.PositionID, "error", err)
		}
	}
}

func errorClass(err error) string {
	switch {
	case domain.IsTransient(err):
		return "transient"
	case domain.IsTerminal(err):
		return "terminal"
	default:
		return "other"
	}
}
