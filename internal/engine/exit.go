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

// ExitDecision is the verdict of one exit evaluation.
type ExitDecision struct {
	Close  bool
	Reason domain.CloseReason
}

// PositionManager owns position state transitions and exit-trigger
// evaluation.
type PositionManager struct {
	store    *store.SQLiteStore
	broker   broker.Broker
	notifier notify.Notifier
	cfg      config.TradingConfig
	logger   *slog.Logger

	now func() time.Time
}

// NewPositionManager wires a manager.
func NewPositionManager(
	st *store.SQLiteStore,
	b broker.Broker,
	notifier notify.Notifier,
	cfg config.TradingConfig,
	logger *slog.Logger,
) *PositionManager {
	return &PositionManager{
		store:    st,
		broker:   b,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "positions"),
		now:      time.Now,
	}
}

// EvaluateExit applies the exit triggers to an OPEN position in priority
// order: price band breach, then trailing stop, then maximum holding
// duration, then an administrative close request. The first matching trigger
// wins. The trailing stop reads the position's persisted high watermark; the
// scheduler raises it before evaluating.
func (m *PositionManager) EvaluateExit(pos *domain.Position, lastPrice float64, now time.Time) ExitDecision {
	if pos.Status != domain.PositionOpen {
		return ExitDecision{}
	}

	if lastPrice > 0 && pos.EntryPrice > 0 {
		stop := pos.EntryPrice * (1 - m.cfg.StopLossPct)
		target := pos.EntryPrice * (1 + m.cfg.TakeProfitPct)
		if (m.cfg.StopLossPct > 0 && lastPrice <= stop) ||
			(m.cfg.TakeProfitPct > 0 && lastPrice >= target) {
			return ExitDecision{Close: true, Reason: domain.ClosePriceExit}
		}

		// Trailing stop: arm once the position has gained trailing_arm_pct
		// from entry, then close when the quote falls trailing_gap_pct off
		// the high watermark.
		if m.cfg.TrailingArmPct > 0 && m.cfg.TrailingGapPct > 0 && pos.HighWatermark > 0 {
			gainFromEntry := (pos.HighWatermark - pos.EntryPrice) / pos.EntryPrice
			dropFromHigh := (pos.HighWatermark - lastPrice) / pos.HighWatermark
			if gainFromEntry >= m.cfg.TrailingArmPct && dropFromHigh >= m.cfg.TrailingGapPct {
				return ExitDecision{Close: true, Reason: domain.CloseTrailingStop}
			}
		}
	}

	if m.cfg.MaxHoldMin > 0 && !pos.OpenedAt.IsZero() && now.Sub(pos.OpenedAt) >= m.cfg.MaxHold() {
		return ExitDecision{Close: true, Reason: domain.CloseTimeExit}
	}

	if pos.CloseRequested {
		return ExitDecision{Close: true, Reason: domain.CloseManual}
	}

	return ExitDecision{}
}

// ClosePosition submits a closing order (opposite side, same quantity) and,
// on fill, transitions the position to CLOSED; order update and position
// update in one transaction. Closing is idempotent per position: an
// already-CLOSED position is a logged no-op, and a position with a closing
// order already in flight waits for exit reconciliation instead of
// submitting another. If the closing order fails the position stays OPEN for
// the next cycle to retry.
func (m *PositionManager) ClosePosition(ctx context.Context, positionID string, reason domain.CloseReason) (*domain.Position, error) {
	var result *domain.Position
	var submitFailure error

	err := m.store.WithTx(ctx, func(tx *store.SQLiteStore) error {
		pos, err := tx.GetPosition(ctx, positionID)
		if err != nil {
			return fmt.Errorf("loading position: %w", err)
		}
		if pos == nil {
			return fmt.Errorf("position %s not found", positionID)
		}
		result = pos

		if pos.Status == domain.PositionClosed {
			m.logger.Info("position already closed", "position_id", pos.ID)
			return nil
		}
		if !pos.CanTransition(domain.PositionClosed) {
			return &domain.IllegalTransitionError{
				Entity: "position", ID: pos.ID,
				From: string(pos.Status), To: string(domain.PositionClosed),
			}
		}

		inFlight, err := tx.CountPendingExitOrders(ctx, pos.ID)
		if err != nil {
			return fmt.Errorf("checking in-flight exits: %w", err)
		}
		if inFlight > 0 {
			m.logger.Info("closing order already in flight", "position_id", pos.ID)
			return nil
		}

		entry, err := tx.GetOrder(ctx, pos.EntryOrderID)
		if err != nil {
			return fmt.Errorf("loading entry order: %w", err)
		}
		exitSide := domain.SideSell
		if entry != nil {
			exitSide = entry.Side.Opposite()
		}

		lastPrice, err := m.broker.GetLastPrice(ctx, pos.Ticker)
		if err != nil {
			return fmt.Errorf("quoting %s: %w", pos.Ticker, err)
		}

		submitFailure = m.submitExit(ctx, tx, pos, exitSide, lastPrice, reason)
		if submitFailure != nil && !isRecordedSubmitFailure(submitFailure) {
			return submitFailure
		}
		// A recorded broker failure commits the FAILED/REJECTED exit order
		// row; the failure itself is surfaced after the commit.
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, submitFailure
}

func isRecordedSubmitFailure(err error) bool {
	return domain.IsTransient(err) || domain.IsTerminal(err)
}

// submitExit creates the exit order row, calls the broker, and applies the
// result. Runs inside ClosePosition's transaction.
func (m *PositionManager) submitExit(ctx context.Context, tx *store.SQLiteStore, pos *domain.Position, side domain.Side, refPrice float64, reason domain.CloseReason) error {
	now := m.now().UTC()
	order := &domain.Order{
		ID:         uuid.NewString(),
		SignalID:   pos.SignalID,
		PositionID: pos.ID,
		Kind:       domain.OrderKindExit,
		Ticker:     pos.Ticker,
		Side:       side,
		Qty:        pos.Qty,
		Status:     domain.OrderPendingSubmit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("creating exit order: %w", err)
	}
	order.AttemptCount = 1
	order.LastAttemptAt = now

	ack, err := m.broker.SubmitOrder(ctx, broker.OrderRequest{
		Ticker:         pos.Ticker,
		Side:           side,
		Qty:            pos.Qty,
		ReferencePrice: refPrice,
		ClientOrderID:  order.ID,
	})
	if err != nil {
		metrics.BrokerErrorsTotal.WithLabelValues(m.broker.Name(), errorClass(err)).Inc()
		status := domain.OrderFailed
		if domain.IsTerminal(err) {
			status = domain.OrderRejected
		}
		if trErr := order.Transition(status); trErr != nil {
			return trErr
		}
		order.UpdatedAt = m.now().UTC()
		if upErr := tx.UpdateOrder(ctx, order); upErr != nil {
			return upErr
		}
		// The position stays OPEN; surface the failure to the cycle.
		return fmt.Errorf("submitting exit for %s: %w", pos.ID, err)
	}

	switch ack.Status {
	case broker.AckFilled:
		if err := order.Transition(domain.OrderFilled); err != nil {
			return err
		}
		order.FillPrice = ack.FillPrice
		order.BrokerOrderID = ack.BrokerOrderID
		if err := pos.Transition(domain.PositionClosed); err != nil {
			return err
		}
		pos.ClosedAt = m.now().UTC()
		pos.CloseReason = reason
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return fmt.Errorf("closing position: %w", err)
		}

	case broker.AckSent:
		if err := order.Transition(domain.OrderSent); err != nil {
			return err
		}
		order.BrokerOrderID = ack.BrokerOrderID
		// Record the intended reason now; exit reconciliation finishes the
		// CLOSED transition when the venue reports the fill.
		pos.CloseReason = reason
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return err
		}

	default:
		return fmt.Errorf("broker returned unknown ack status %q", ack.Status)
	}

	order.UpdatedAt = m.now().UTC()
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return err
	}

	if pos.Status == domain.PositionClosed {
		metrics.PositionClosesTotal.WithLabelValues(string(reason)).Inc()
		m.notifier.Notify(ctx, notify.Event{
			Kind:       notify.EventPositionClosed,
			SignalID:   pos.SignalID,
			OrderID:    order.ID,
			PositionID: pos.ID,
			Ticker:     pos.Ticker,
			Reason:     string(reason),
			At:         m.now().UTC(),
		})
	}
	return nil
}
