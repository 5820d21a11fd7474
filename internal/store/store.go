// Package store persists the pipeline's signals, orders, positions, and risk
// audit trail, and provides the transaction scope every state transition
// commits through.
package store

import (
	"context"
	"time"

	"newstrader/internal/domain"
)

// SignalStore persists and retrieves trading signals.
type SignalStore interface {
	// SaveSignal inserts a new signal. A signal whose SourceEventID is
	// already present yields *domain.DuplicateError and writes nothing.
	SaveSignal(ctx context.Context, sig *domain.Signal) error

	// GetSignal retrieves a single signal by its ID.
	GetSignal(ctx context.Context, id string) (*domain.Signal, error)

	// GetSignalBySourceEvent retrieves a signal by its dedup key.
	GetSignalBySourceEvent(ctx context.Context, sourceEventID string) (*domain.Signal, error)
}

// OrderStore persists and retrieves order records. Orders are owned
// exclusively by the executor and the reconciliation sync.
type OrderStore interface {
	// SaveOrder inserts a new order. Inserting a second entry order for the
	// same signal yields *domain.DuplicateError.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// GetEntryOrderForSignal returns the entry order owned by the signal,
	// or nil when the signal has not been executed yet.
	GetEntryOrderForSignal(ctx context.Context, signalID string) (*domain.Order, error)

	// ListOrdersByStatus returns all orders in the given status, oldest first.
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error

	// CountPendingExitOrders returns how many exit orders for the position
	// are still in flight (PENDING_SUBMIT or SENT).
	CountPendingExitOrders(ctx context.Context, positionID string) (int, error)
}

// PositionStore persists and retrieves position records.
type PositionStore interface {
	// SavePosition inserts a new position.
	SavePosition(ctx context.Context, pos *domain.Position) error

	// GetPosition retrieves a single position by its ID.
	GetPosition(ctx context.Context, id string) (*domain.Position, error)

	// ListPositionsByStatus returns all positions in the given status,
	// oldest first.
	ListPositionsByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error)

	// CountOpenForTicker returns how many OPEN or PENDING_ENTRY positions
	// exist for the ticker (the exposure input to the risk gate).
	CountOpenForTicker(ctx context.Context, ticker string) (int, error)

	// UpdatePosition persists changes to an existing position.
	UpdatePosition(ctx context.Context, pos *domain.Position) error

	// DeletePosition removes a position. Used only to discard a
	// PENDING_ENTRY position whose entry order was cancelled by the venue.
	DeletePosition(ctx context.Context, id string) error

	// RequestClose flags a position for administrative close; the next exit
	// sweep picks it up.
	RequestClose(ctx context.Context, id string) error

	// RaiseHighWatermark lifts the position's high watermark to price if
	// the quote is a new high; lower quotes are ignored.
	RaiseHighWatermark(ctx context.Context, id string, price float64) error
}

// AuditStore records risk decisions. The rows are the only durable trace of
// RiskDecision values.
type AuditStore interface {
	// SaveRiskDecision appends an audit row for the decision.
	SaveRiskDecision(ctx context.Context, dec *domain.RiskDecision, at time.Time) error

	// ListRiskDecisions returns the most recent decisions, newest first,
	// up to limit.
	ListRiskDecisions(ctx context.Context, limit int) ([]domain.RiskDecision, error)
}
