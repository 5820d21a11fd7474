package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestOrderTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderPendingSubmit, OrderSent, true},
		{OrderPendingSubmit, OrderFilled, true},
		{OrderPendingSubmit, OrderRejected, true},
		{OrderPendingSubmit, OrderFailed, true},
		{OrderSent, OrderFilled, true},
		{OrderSent, OrderRejected, true},
		{OrderSent, OrderFailed, true},
		{OrderFailed, OrderSent, true},
		{OrderFilled, OrderSent, false},
		{OrderFilled, OrderFailed, false},
		{OrderRejected, OrderSent, false},
		{OrderSent, OrderPendingSubmit, false},
	}
	for _, c := range cases {
		o := &Order{ID: "o1", Status: c.from}
		err := o.Transition(c.to)
		if c.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", c.from, c.to, err)
		}
		if !c.ok {
			if err == nil {
				t.Errorf("%s -> %s: expected IllegalTransitionError, got nil", c.from, c.to)
				continue
			}
			var ite *IllegalTransitionError
			if !errors.As(err, &ite) {
				t.Errorf("%s -> %s: error is %T, want *IllegalTransitionError", c.from, c.to, err)
			}
			if o.Status != c.from {
				t.Errorf("%s -> %s: status mutated on illegal transition", c.from, c.to)
			}
		}
	}
}

func TestPositionTransitions(t *testing.T) {
	// The only legal path is PENDING_ENTRY -> OPEN -> CLOSED.
	p := &Position{ID: "p1", Status: PositionPendingEntry}
	if err := p.Transition(PositionOpen); err != nil {
		t.Fatalf("PENDING_ENTRY -> OPEN: %v", err)
	}
	if err := p.Transition(PositionClosed); err != nil {
		t.Fatalf("OPEN -> CLOSED: %v", err)
	}

	// CLOSED is terminal.
	if err := p.Transition(PositionOpen); !IsIllegalTransition(err) {
		t.Errorf("CLOSED -> OPEN: got %v, want IllegalTransitionError", err)
	}

	// Direct PENDING_ENTRY -> CLOSED is rejected.
	p2 := &Position{ID: "p2", Status: PositionPendingEntry}
	err := p2.Transition(PositionClosed)
	if !IsIllegalTransition(err) {
		t.Fatalf("PENDING_ENTRY -> CLOSED: got %v, want IllegalTransitionError", err)
	}
	if p2.Status != PositionPendingEntry {
		t.Errorf("status mutated on rejected transition: %s", p2.Status)
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Errorf("BUY.Opposite() = %s, want SELL", SideBuy.Opposite())
	}
	if SideSell.Opposite() != SideBuy {
		t.Errorf("SELL.Opposite() = %s, want BUY", SideSell.Opposite())
	}
}

func TestErrorClassification(t *testing.T) {
	transient := fmt.Errorf("submit: %w", &TransientBrokerError{Op: "submit_order", Err: errors.New("timeout")})
	terminal := fmt.Errorf("submit: %w", &TerminalBrokerError{Op: "submit_order", Reason: "insufficient buying power"})
	dup := &DuplicateError{Entity: "signal", Key: "evt-1"}
	val := &ValidationError{Field: "ticker", Reason: "empty"}

	if !IsTransient(transient) || IsTransient(terminal) {
		t.Error("IsTransient misclassified")
	}
	if !IsTerminal(terminal) || IsTerminal(transient) {
		t.Error("IsTerminal misclassified")
	}
	if !IsDuplicate(dup) || IsDuplicate(val) {
		t.Error("IsDuplicate misclassified")
	}
	if !IsValidation(val) || IsValidation(dup) {
		t.Error("IsValidation misclassified")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	if !OrderFilled.Terminal() || !OrderRejected.Terminal() {
		t.Error("FILLED and REJECTED must be terminal")
	}
	if OrderSent.Terminal() || OrderFailed.Terminal() || OrderPendingSubmit.Terminal() {
		t.Error("SENT, FAILED and PENDING_SUBMIT must not be terminal")
	}
}
