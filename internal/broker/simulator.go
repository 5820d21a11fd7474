package broker

import (
	"context"
	"fmt"
	"sync"

	"newstrader/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*Simulator)(nil)

// Simulator implements the Broker interface for paper trading and tests.
// Every submission fills immediately at the request's reference price, so
// nothing is ever pending at the simulated venue.
type Simulator struct {
	mu     sync.Mutex
	seq    int
	fills  map[string]OrderUpdate // broker order id -> resolved state
	quotes map[string]float64     // optional fixed quotes per ticker
}

// NewSimulator creates a Simulator with no preset quotes.
func NewSimulator() *Simulator {
	return &Simulator{
		fills:  make(map[string]OrderUpdate),
		quotes: make(map[string]float64),
	}
}

// Name returns "simulator".
func (s *Simulator) Name() string { return "simulator" }

// SetQuote pins the last price reported for a ticker. Without a pinned
// quote, GetLastPrice derives a deterministic pseudo quote from the ticker.
func (s *Simulator) SetQuote(ticker string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[ticker] = price
}

// SubmitOrder fills the order immediately at the reference price. When no
// reference price is supplied it falls back to the pseudo quote.
func (s *Simulator) SubmitOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	if req.Ticker == "" {
		return OrderAck{}, &domain.ValidationError{Field: "ticker", Reason: "empty"}
	}
	if req.Qty <= 0 {
		return OrderAck{}, &domain.ValidationError{Field: "qty", Reason: "must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price := req.ReferencePrice
	if price <= 0 {
		price = s.pseudoQuote(req.Ticker)
	}

	s.seq++
	id := fmt.Sprintf("SIM-%06d", s.seq)
	s.fills[id] = OrderUpdate{Status: UpdateFilled, FillPrice: price}

	return OrderAck{
		Status:        AckFilled,
		BrokerOrderID: id,
		FillPrice:     price,
		FilledQty:     req.Qty,
	}, nil
}

// InquireOrder returns the recorded fill for a known order id. The simulator
// never leaves an order working, so an unknown id is a terminal error.
func (s *Simulator) InquireOrder(_ context.Context, brokerOrderID string) (OrderUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.fills[brokerOrderID]; ok {
		return u, nil
	}
	return OrderUpdate{}, &domain.TerminalBrokerError{Op: "inquire_order", Reason: "unknown order " + brokerOrderID}
}

// GetLastPrice returns the pinned quote for the ticker, or a deterministic
// pseudo quote derived from the ticker bytes.
func (s *Simulator) GetLastPrice(_ context.Context, ticker string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.quotes[ticker]; ok {
		return p, nil
	}
	return s.pseudoQuote(ticker), nil
}

// HealthCheck always reports OK.
func (s *Simulator) HealthCheck(_ context.Context) (Health, error) {
	return Health{Status: HealthOK, Detail: "simulator"}, nil
}

// pseudoQuote produces a stable price for demo and test loops.
func (s *Simulator) pseudoQuote(ticker string) float64 {
	sum := 0
	for _, c := range []byte(ticker) {
		sum += int(c)
	}
	return float64(80000 + sum%4000)
}
