package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"newstrader/internal/broker"
	"newstrader/internal/config"
	"newstrader/internal/domain"
	"newstrader/internal/notify"
	"newstrader/internal/store"
)

// stubBroker scripts broker behavior for pipeline tests.
type stubBroker struct {
	submitAck broker.OrderAck
	submitErr error
	updates   map[string]broker.OrderUpdate
	lastPrice float64
	priceErr  error

	submitted []broker.OrderRequest
	inquiries int
}

var _ broker.Broker = (*stubBroker)(nil)

func (s *stubBroker) Name() string { return "stub" }

func (s *stubBroker) SubmitOrder(_ context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	s.submitted = append(s.submitted, req)
	if s.submitErr != nil {
		return broker.OrderAck{}, s.submitErr
	}
	return s.submitAck, nil
}

func (s *stubBroker) InquireOrder(_ context.Context, brokerOrderID string) (broker.OrderUpdate, error) {
	s.inquiries++
	if u, ok := s.updates[brokerOrderID]; ok {
		return u, nil
	}
	return broker.OrderUpdate{Status: broker.UpdateWorking}, nil
}

func (s *stubBroker) GetLastPrice(_ context.Context, _ string) (float64, error) {
	if s.priceErr != nil {
		return 0, s.priceErr
	}
	return s.lastPrice, nil
}

func (s *stubBroker) HealthCheck(_ context.Context) (broker.Health, error) {
	return broker.Health{Status: broker.HealthOK}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngineStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		MinMapConfidence:      0.9,
		MaxPositionsPerTicker: 3,
		DefaultQty:            10,
		MaxAttemptsPerSignal:  2,
		MinRetryIntervalSec:   30,
		MaxHoldMin:            15,
		StopLossPct:           0.02,
		TakeProfitPct:         0.04,
		TrailingArmPct:        0.005,
		TrailingGapPct:        0.003,
	}
}

func seedSignal(t *testing.T, st *store.SQLiteStore, id, eventID string, confidence, refPrice float64) *domain.Signal {
	t.Helper()
	sig := &domain.Signal{
		ID:             id,
		Ticker:         "005930",
		Side:           domain.SideBuy,
		Confidence:     confidence,
		SourceEventID:  eventID,
		ReferencePrice: refPrice,
		CreatedAt:      time.Now().UTC(),
	}
	if err := st.SaveSignal(context.Background(), sig); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	return sig
}

func newExecutor(st *store.SQLiteStore, b broker.Broker, cfg config.TradingConfig) *OrderExecutor {
	return NewOrderExecutor(st, b, NewRiskGate(nil), notify.Noop{}, cfg, testLogger())
}
