// Package broker defines the Broker capability interface the pipeline places
// and reconciles orders through, and provides implementations for different
// brokerages.
package broker

import (
	"context"

	"newstrader/internal/domain"
)

// AckStatus is the immediate result of an order submission.
type AckStatus string

const (
	// AckFilled means the order filled synchronously (simulator, fast markets).
	AckFilled AckStatus = "FILLED"
	// AckSent means the broker acknowledged the order; the fill is asynchronous.
	AckSent AckStatus = "SENT"
)

// UpdateStatus is the venue-side state of a previously acknowledged order.
type UpdateStatus string

const (
	UpdateFilled   UpdateStatus = "FILLED"
	UpdateWorking  UpdateStatus = "WORKING"
	UpdateRejected UpdateStatus = "REJECTED"
)

// HealthStatus is the broker health triage level. Critical must abort
// startup and preflight; Warn is advisory only.
type HealthStatus string

const (
	HealthOK       HealthStatus = "OK"
	HealthWarn     HealthStatus = "WARN"
	HealthCritical HealthStatus = "CRITICAL"
)

// OrderRequest is a placement request.
type OrderRequest struct {
	Ticker string
	Side   domain.Side
	Qty    float64

	// ReferencePrice is the caller's last known quote. The simulator fills
	// at this price when it is positive.
	ReferencePrice float64

	// ClientOrderID correlates retries of the same logical order so a
	// resubmission after a timeout cannot double-place at the venue.
	ClientOrderID string
}

// OrderAck is the broker's response to a submission.
type OrderAck struct {
	Status        AckStatus
	BrokerOrderID string
	FillPrice     float64 // set only when Status is AckFilled
	FilledQty     float64 // set only when Status is AckFilled
}

// OrderUpdate is the broker's answer to an order inquiry.
type OrderUpdate struct {
	Status    UpdateStatus
	FillPrice float64 // set only when Status is UpdateFilled
	Reason    string  // set only when Status is UpdateRejected
}

// Health is a broker health report.
type Health struct {
	Status HealthStatus
	Detail string
}

// Broker abstracts brokerage operations for order execution and quotes. All
// methods may block on network I/O and must honour the context deadline;
// exceeding it is a transient failure subject to the retry policy.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// SubmitOrder sends an order to the brokerage. Transient failures are
	// reported as *domain.TransientBrokerError, explicit rejections as
	// *domain.TerminalBrokerError.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// InquireOrder queries venue state for a previously acknowledged order.
	InquireOrder(ctx context.Context, brokerOrderID string) (OrderUpdate, error)

	// GetLastPrice returns the latest trade price for the ticker.
	GetLastPrice(ctx context.Context, ticker string) (float64, error)

	// HealthCheck reports connectivity and credential validity.
	HealthCheck(ctx context.Context) (Health, error)
}
