package engine

import (
	"context"
	"errors"
	"testing"

	"newstrader/internal/broker"
	"newstrader/internal/domain"
	"newstrader/internal/notify"
)

func TestExecuteSignalSimulatorFill(t *testing.T) {
	st := newEngineStore(t)
	exec := newExecutor(st, broker.NewSimulator(), testTradingConfig())
	ctx := context.Background()

	seedSignal(t, st, "sig-1", "evt-1", 0.95, 83500)

	report, err := exec.ExecuteSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if report.Outcome != domain.OutcomeFilled {
		t.Fatalf("outcome = %s, want FILLED (reason %q)", report.Outcome, report.Reason)
	}
	if report.FillPrice != 83500 {
		t.Errorf("fill price = %g, want 83500", report.FillPrice)
	}

	order, err := st.GetEntryOrderForSignal(ctx, "sig-1")
	if err != nil || order == nil {
		t.Fatalf("entry order: %+v, %v", order, err)
	}
	if order.Status != domain.OrderFilled || order.AttemptCount != 1 {
		t.Errorf("order = %+v", order)
	}

	pos, err := st.GetPosition(ctx, report.PositionID)
	if err != nil || pos == nil {
		t.Fatalf("position: %+v, %v", pos, err)
	}
	if pos.Status != domain.PositionOpen || pos.EntryPrice != 83500 || pos.Qty != 10 {
		t.Errorf("position = %+v", pos)
	}
}

func TestExecuteSignalIdempotent(t *testing.T) {
	st := newEngineStore(t)
	sim := broker.NewSimulator()
	exec := newExecutor(st, sim, testTradingConfig())
	ctx := context.Background()

	seedSignal(t, st, "sig-1", "evt-1", 0.95, 83500)

	first, err := exec.ExecuteSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("first ExecuteSignal: %v", err)
	}
	if first.Outcome != domain.OutcomeFilled {
		t.Fatalf("first outcome = %s", first.Outcome)
	}

	second, err := exec.ExecuteSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("second ExecuteSignal: %v", err)
	}
	if second.Outcome != domain.OutcomeSkippedDup {
		t.Fatalf("second outcome = %s, want SKIPPED_DUP", second.Outcome)
	}
	if second.OrderID != first.OrderID {
		t.Errorf("second run surfaced a different order: %s vs %s", second.OrderID, first.OrderID)
	}

	filled, err := st.ListOrdersByStatus(ctx, domain.OrderFilled)
	if err != nil {
		t.Fatalf("ListOrdersByStatus: %v", err)
	}
	if len(filled) != 1 {
		t.Errorf("orders = %d, want exactly 1", len(filled))
	}
}

func TestExecuteSignalLowConfidenceRejected(t *testing.T) {
	st := newEngineStore(t)
	exec := newExecutor(st, broker.NewSimulator(), testTradingConfig())
	ctx := context.Background()

	seedSignal(t, st, "sig-1", "evt-1", 0.5, 83500)

	report, err := exec.ExecuteSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if report.Outcome != domain.OutcomeRejected {
		t.Fatalf("outcome = %s, want REJECTED", report.Outcome)
	}
	if report.Reason == "" {
		t.Error("rejection carries no reason")
	}

	order, err := st.GetEntryOrderForSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("GetEntryOrderForSignal: %v", err)
	}
	if order != nil {
		t.Errorf("rejected signal produced an order: %+v", order)
	}

	audits, err := st.ListRiskDecisions(ctx, 5)
	if err != nil || len(audits) != 1 {
		t.Fatalf("audits = %+v, %v; want one row", audits, err)
	}
	if audits[0].Accepted {
		t.Error("audit row marks the rejection accepted")
	}
}

func TestExecuteSignalKillSwitch(t *testing.T) {
	st := newEngineStore(t)
	cfg := testTradingConfig()
	cfg.KillSwitch = true
	exec := newExecutor(st, broker.NewSimulator(), cfg)

	seedSignal(t, st, "sig-1", "evt-1", 0.99, 83500)

	report, err := exec.ExecuteSignal(context.Background(), "sig-1")
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if report.Outcome != domain.OutcomeRejected {
		t.Fatalf("outcome = %s, want REJECTED", report.Outcome)
	}
}

func TestExecuteSignalAsyncAck(t *testing.T) {
	st := newEngineStore(t)
	stub := &stubBroker{submitAck: broker.OrderAck{Status: broker.AckSent, BrokerOrderID: "BRK-1"}}
	exec := newExecutor(st, stub, testTradingConfig())
	ctx := context.Background()

	seedSignal(t, st, "sig-1", "evt-1", 0.95, 83500)

	report, err := exec.ExecuteSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if report.Outcome != domain.OutcomeSentPending {
		t.Fatalf("outcome = %s, want SENT_PENDING", report.Outcome)
	}

	order, _ := st.GetOrder(ctx, report.OrderID)
	if order.Status != domain.OrderSent || order.BrokerOrderID != "BRK-1" {
		t.Errorf("order = %+v", order)
	}
	pos, _ := st.GetPosition(ctx, report.PositionID)
	if pos == nil || pos.Status != domain.PositionPendingEntry {
		t.Errorf("position = %+v, want PENDING_ENTRY", pos)
	}
	if len(stub.submitted) != 1 || stub.submitted[0].ClientOrderID != order.ID {
		t.Errorf("client order id not forwarded: %+v", stub.submitted)
	}
}

func TestExecuteSignalTransientFailure(t *testing.T) {
	st := newEngineStore(t)
	stub := &stubBroker{submitErr: &domain.TransientBrokerError{Op: "submit", Err: errors.New("timeout")}}
	exec := newExecutor(st, stub, testTradingConfig())
	ctx := context.Background()

	seedSignal(t, st, "sig-1", "evt-1", 0.95, 83500)

	report, err := exec.ExecuteSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if report.Outcome != domain.OutcomeFailed {
		t.Fatalf("outcome = %s, want FAILED", report.Outcome)
	}

	order, _ := st.GetOrder(ctx, report.OrderID)
	if order == nil || order.Status != domain.OrderFailed {
		t.Fatalf("order = %+v, want FAILED persisted", order)
	}
	if order.AttemptCount != 1 || order.LastAttemptAt.IsZero() {
		t.Errorf("attempt not recorded: %+v", order)
	}

	positions, _ := st.ListPositionsByStatus(ctx, domain.PositionOpen)
	if len(positions) != 0 {
		t.Errorf("failed submission opened a position: %+v", positions)
	}
}

func TestExecuteSignalTerminalRejection(t *testing.T) {
	st := newEngineStore(t)
	stub := &stubBroker{submitErr: &domain.TerminalBrokerError{Op: "submit", Reason: "insufficient buying power"}}
	exec := newExecutor(st, stub, testTradingConfig())
	ctx := context.Background()

	seedSignal(t, st, "sig-1", "evt-1", 0.95, 83500)

	report, err := exec.ExecuteSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if report.Outcome != domain.OutcomeRejected {
		t.Fatalf("outcome = %s, want REJECTED", report.Outcome)
	}
	order, _ := st.GetOrder(ctx, report.OrderID)
	if order == nil || order.Status != domain.OrderRejected {
		t.Fatalf("order = %+v, want REJECTED persisted", order)
	}
}

func TestExecuteSignalUnknownSignal(t *testing.T) {
	st := newEngineStore(t)
	exec := newExecutor(st, broker.NewSimulator(), testTradingConfig())

	_, err := exec.ExecuteSignal(context.Background(), "nope")
	if !domain.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestExecuteSignalDemoAutoClose(t *testing.T) {
	st := newEngineStore(t)
	sim := broker.NewSimulator()
	cfg := testTradingConfig()
	exec := newExecutor(st, sim, cfg)
	exec.EnableDemoAutoClose(NewPositionManager(st, sim, notify.Noop{}, cfg, testLogger()))
	ctx := context.Background()

	seedSignal(t, st, "sig-1", "evt-1", 0.95, 83500)

	report, err := exec.ExecuteSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	pos, _ := st.GetPosition(ctx, report.PositionID)
	if pos == nil || pos.Status != domain.PositionClosed {
		t.Fatalf("position = %+v, want CLOSED", pos)
	}
	if pos.CloseReason != domain.CloseManual {
		t.Errorf("close reason = %s, want MANUAL", pos.CloseReason)
	}
}
