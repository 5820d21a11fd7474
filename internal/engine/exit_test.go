package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"newstrader/internal/broker"
	"newstrader/internal/domain"
	"newstrader/internal/notify"
	"newstrader/internal/store"
)

func newManager(st *store.SQLiteStore, b broker.Broker) *PositionManager {
	return NewPositionManager(st, b, notify.Noop{}, testTradingConfig(), testLogger())
}

func seedOpenPosition(t *testing.T, st *store.SQLiteStore, id string, entryPrice float64, openedAt time.Time) *domain.Position {
	t.Helper()
	ctx := context.Background()

	entry := &domain.Order{
		ID: id + "-entry", SignalID: id + "-sig", PositionID: id,
		Kind: domain.OrderKindEntry, Ticker: "005930", Side: domain.SideBuy,
		Qty: 10, Status: domain.OrderFilled, FillPrice: entryPrice,
		CreatedAt: openedAt, UpdatedAt: openedAt,
	}
	if err := st.SaveOrder(ctx, entry); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	pos := &domain.Position{
		ID: id, EntryOrderID: entry.ID, SignalID: entry.SignalID,
		Ticker: "005930", EntryPrice: entryPrice, Qty: 10,
		Status: domain.PositionOpen, OpenedAt: openedAt,
	}
	if err := st.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
	return pos
}

func TestEvaluateExitTriggers(t *testing.T) {
	m := newManager(newEngineStore(t), broker.NewSimulator())
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		lastPrice float64
		highWater float64
		openedAgo time.Duration
		requested bool
		want      ExitDecision
	}{
		{name: "hold", lastPrice: 100, openedAgo: time.Minute,
			want: ExitDecision{}},
		{name: "stop loss", lastPrice: 97, openedAgo: time.Minute,
			want: ExitDecision{Close: true, Reason: domain.ClosePriceExit}},
		{name: "take profit", lastPrice: 104.5, openedAgo: time.Minute,
			want: ExitDecision{Close: true, Reason: domain.ClosePriceExit}},
		{name: "time exit", lastPrice: 100, openedAgo: 16 * time.Minute,
			want: ExitDecision{Close: true, Reason: domain.CloseTimeExit}},
		{name: "price outranks time", lastPrice: 90, openedAgo: 24 * time.Hour,
			want: ExitDecision{Close: true, Reason: domain.ClosePriceExit}},
		{name: "manual", lastPrice: 100, openedAgo: time.Minute, requested: true,
			want: ExitDecision{Close: true, Reason: domain.CloseManual}},
		{name: "time outranks manual", lastPrice: 100, openedAgo: time.Hour, requested: true,
			want: ExitDecision{Close: true, Reason: domain.CloseTimeExit}},
		{name: "no quote skips price triggers", lastPrice: 0, openedAgo: time.Minute,
			want: ExitDecision{}},
		{name: "trailing stop armed and dropped", lastPrice: 102.5, highWater: 103, openedAgo: time.Minute,
			want: ExitDecision{Close: true, Reason: domain.CloseTrailingStop}},
		{name: "trailing stop not armed", lastPrice: 99.9, highWater: 100.3, openedAgo: time.Minute,
			want: ExitDecision{}},
		{name: "trailing stop shallow dip holds", lastPrice: 102.8, highWater: 103, openedAgo: time.Minute,
			want: ExitDecision{}},
		{name: "stop loss band outranks trailing", lastPrice: 97, highWater: 103, openedAgo: time.Minute,
			want: ExitDecision{Close: true, Reason: domain.ClosePriceExit}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := &domain.Position{
				ID: "pos-1", Ticker: "005930", EntryPrice: 100, Qty: 10,
				Status: domain.PositionOpen, OpenedAt: now.Add(-tt.openedAgo),
				CloseRequested: tt.requested, HighWatermark: tt.highWater,
			}
			got := m.EvaluateExit(pos, tt.lastPrice, now)
			if got != tt.want {
				t.Errorf("EvaluateExit = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClosePositionFills(t *testing.T) {
	st := newEngineStore(t)
	sim := broker.NewSimulator()
	sim.SetQuote("005930", 84100)
	m := newManager(st, sim)
	ctx := context.Background()

	seedOpenPosition(t, st, "pos-1", 83500, time.Now().UTC().Add(-time.Hour))

	closed, err := m.ClosePosition(ctx, "pos-1", domain.CloseTimeExit)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if closed.Status != domain.PositionClosed || closed.CloseReason != domain.CloseTimeExit {
		t.Fatalf("position = %+v", closed)
	}
	if closed.ClosedAt.IsZero() {
		t.Error("closed_at not set")
	}

	exits, err := st.ListOrdersByStatus(ctx, domain.OrderFilled)
	if err != nil {
		t.Fatalf("ListOrdersByStatus: %v", err)
	}
	var exit *domain.Order
	for i := range exits {
		if exits[i].Kind == domain.OrderKindExit {
			exit = &exits[i]
		}
	}
	if exit == nil {
		t.Fatal("no filled exit order")
	}
	if exit.Side != domain.SideSell || exit.Qty != 10 || exit.FillPrice != 84100 {
		t.Errorf("exit order = %+v", exit)
	}
}

func TestClosePositionAlreadyClosedNoop(t *testing.T) {
	st := newEngineStore(t)
	sim := broker.NewSimulator()
	sim.SetQuote("005930", 84100)
	m := newManager(st, sim)
	ctx := context.Background()

	seedOpenPosition(t, st, "pos-1", 83500, time.Now().UTC().Add(-time.Hour))
	if _, err := m.ClosePosition(ctx, "pos-1", domain.CloseManual); err != nil {
		t.Fatalf("first ClosePosition: %v", err)
	}

	closed, err := m.ClosePosition(ctx, "pos-1", domain.CloseTimeExit)
	if err != nil {
		t.Fatalf("second ClosePosition: %v", err)
	}
	// Original close stands; no resubmission.
	if closed.CloseReason != domain.CloseManual {
		t.Errorf("close reason = %s, want original MANUAL", closed.CloseReason)
	}
}

func TestClosePositionPendingEntryIllegal(t *testing.T) {
	st := newEngineStore(t)
	m := newManager(st, broker.NewSimulator())
	ctx := context.Background()

	pos := &domain.Position{
		ID: "pos-1", EntryOrderID: "ord-1", SignalID: "sig-1",
		Ticker: "005930", Qty: 10, Status: domain.PositionPendingEntry,
	}
	if err := st.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	_, err := m.ClosePosition(ctx, "pos-1", domain.CloseManual)
	if !domain.IsIllegalTransition(err) {
		t.Fatalf("err = %v, want IllegalTransitionError", err)
	}

	got, _ := st.GetPosition(ctx, "pos-1")
	if got.Status != domain.PositionPendingEntry {
		t.Errorf("status mutated to %s", got.Status)
	}
}

func TestClosePositionBrokerFailureKeepsOpen(t *testing.T) {
	st := newEngineStore(t)
	stub := &stubBroker{
		lastPrice: 84100,
		submitErr: &domain.TransientBrokerError{Op: "submit", Err: errors.New("timeout")},
	}
	m := newManager(st, stub)
	ctx := context.Background()

	seedOpenPosition(t, st, "pos-1", 83500, time.Now().UTC().Add(-time.Hour))

	if _, err := m.ClosePosition(ctx, "pos-1", domain.CloseTimeExit); err == nil {
		t.Fatal("ClosePosition succeeded despite broker failure")
	}

	pos, _ := st.GetPosition(ctx, "pos-1")
	if pos.Status != domain.PositionOpen {
		t.Fatalf("position status = %s, want OPEN", pos.Status)
	}

	// The attempt is recorded so operators can see it.
	failed, _ := st.ListOrdersByStatus(ctx, domain.OrderFailed)
	if len(failed) != 1 || failed[0].Kind != domain.OrderKindExit {
		t.Errorf("failed orders = %+v, want one exit order", failed)
	}
}
