// Package domain defines the core entities of the trading pipeline (signals,
// orders, and positions) together with their state machines and the error
// taxonomy shared by every component.
package domain

import "time"

// Side is the direction of an order or signal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for an entry side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus enumerates the order state machine.
type OrderStatus string

const (
	OrderPendingSubmit OrderStatus = "PENDING_SUBMIT"
	OrderSent          OrderStatus = "SENT"
	OrderFilled        OrderStatus = "FILLED"
	OrderRejected      OrderStatus = "REJECTED"
	OrderFailed        OrderStatus = "FAILED"
)

// PositionStatus enumerates the position state machine.
type PositionStatus string

const (
	PositionPendingEntry PositionStatus = "PENDING_ENTRY"
	PositionOpen         PositionStatus = "OPEN"
	PositionClosed       PositionStatus = "CLOSED"
)

// OrderKind distinguishes entry orders (owned by a signal) from exit orders
// (owned by the position they close).
type OrderKind string

const (
	OrderKindEntry OrderKind = "ENTRY"
	OrderKindExit  OrderKind = "EXIT"
)

// CloseReason records why a position was closed. The price triggers
// (PriceExit, TrailingStop) outrank TimeExit, which outranks Manual, when
// several fire in the same sweep.
type CloseReason string

const (
	ClosePriceExit    CloseReason = "PRICE_EXIT"
	CloseTrailingStop CloseReason = "TRAILING_STOP"
	CloseTimeExit     CloseReason = "TIME_EXIT"
	CloseManual       CloseReason = "MANUAL"
)

// ExecutionOutcome is the structured result of one execute-signal invocation.
type ExecutionOutcome string

const (
	OutcomeFilled      ExecutionOutcome = "FILLED"
	OutcomeSentPending ExecutionOutcome = "SENT_PENDING"
	OutcomeRejected    ExecutionOutcome = "REJECTED"
	OutcomeSkippedDup  ExecutionOutcome = "SKIPPED_DUP"
	OutcomeFailed      ExecutionOutcome = "FAILED"
)

// Signal is a scored trading recommendation derived from an external event.
// Immutable once persisted; SourceEventID is the ingestion dedup key.
type Signal struct {
	ID             string
	Ticker         string
	Side           Side
	Confidence     float64 // 0.0–1.0
	SourceEventID  string
	ReferencePrice float64 // last known quote at scoring time, 0 if unknown
	CreatedAt      time.Time
}

// Order is a single placement attempt at the broker. Retries mutate the same
// row (AttemptCount, LastAttemptAt) rather than creating a sibling order.
type Order struct {
	ID            string
	SignalID      string
	PositionID    string // set for exit orders, empty for entry orders
	Kind          OrderKind
	Ticker        string
	Side          Side
	Qty           float64
	Status        OrderStatus
	BrokerOrderID string // empty until the broker ACKs
	FillPrice     float64
	AttemptCount  int
	LastAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Position is the holding produced by a filled entry order.
type Position struct {
	ID             string
	EntryOrderID   string
	SignalID       string
	Ticker         string
	EntryPrice     float64
	Qty            float64
	Status         PositionStatus
	CloseRequested bool    // administrative close flag, checked by the exit sweep
	HighWatermark  float64 // highest quote seen since entry, drives the trailing stop
	OpenedAt       time.Time
	ClosedAt       time.Time
	CloseReason    CloseReason
}

// RiskDecision is the outcome of one risk-gate evaluation. It is ephemeral:
// only the audit log keeps a record of it.
type RiskDecision struct {
	SignalID    string
	Accepted    bool
	Reason      string
	AdjustedQty float64 // 0 when rejected; never exceeds the requested qty
}
