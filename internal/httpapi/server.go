// Package httpapi serves the read-only status API: broker health, open
// positions, recent orders, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newstrader/internal/broker"
	"newstrader/internal/domain"
	"newstrader/internal/store"
)

// StatusServer exposes pipeline state over HTTP.
type StatusServer struct {
	store  *store.SQLiteStore
	broker broker.Broker
	log    *slog.Logger
}

// NewStatusServer creates a status server.
func NewStatusServer(st *store.SQLiteStore, b broker.Broker, log *slog.Logger) *StatusServer {
	return &StatusServer{store: st, broker: b, log: log.With("component", "httpapi")}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *StatusServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", getOnly(s.handleHealth))
	mux.HandleFunc("/positions", getOnly(s.handlePositions))
	mux.HandleFunc("/orders", getOnly(s.handleOrders))
	mux.Handle("/metrics", getOnly(promhttp.Handler().ServeHTTP))
}

// getOnly rejects non-GET requests with 405, matching the behavior of the
// "GET /path" ServeMux method patterns, which need a Go toolchain newer
// than the 1.21 this module is built with.
func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// Handler returns the ready-to-serve http.Handler.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

type healthResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Broker string `json:"broker"`
}

// handleHealth triages broker health. CRITICAL yields 503 so load balancers
// and preflight scripts can act on the status code alone.
func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health, err := s.broker.HealthCheck(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	resp := healthResponse{Status: string(health.Status), Detail: health.Detail, Broker: s.broker.Name()}
	if health.Status == broker.HealthCritical {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(resp)
		return
	}
	writeJSON(w, resp)
}

type positionView struct {
	ID          string  `json:"id"`
	Ticker      string  `json:"ticker"`
	Status      string  `json:"status"`
	Qty         float64 `json:"qty"`
	EntryPrice  float64 `json:"entry_price"`
	OpenedAt    string  `json:"opened_at,omitempty"`
	ClosedAt    string  `json:"closed_at,omitempty"`
	CloseReason string  `json:"close_reason,omitempty"`
}

func (s *StatusServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	status := domain.PositionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.PositionOpen
	}

	positions, err := s.store.ListPositionsByStatus(r.Context(), status)
	if err != nil {
		s.log.Error("listing positions", "error", err)
		writeError(w, http.StatusInternalServerError, "listing positions failed")
		return
	}

	views := make([]positionView, 0, len(positions))
	for i := range positions {
		p := &positions[i]
		v := positionView{
			ID: p.ID, Ticker: p.Ticker, Status: string(p.Status),
			Qty: p.Qty, EntryPrice: p.EntryPrice, CloseReason: string(p.CloseReason),
		}
		if !p.OpenedAt.IsZero() {
			v.OpenedAt = p.OpenedAt.Format(time.RFC3339)
		}
		if !p.ClosedAt.IsZero() {
			v.ClosedAt = p.ClosedAt.Format(time.RFC3339)
		}
		views = append(views, v)
	}
	writeJSON(w, views)
}

type orderView struct {
	ID            string  `json:"id"`
	SignalID      string  `json:"signal_id"`
	Kind          string  `json:"kind"`
	Ticker        string  `json:"ticker"`
	Side          string  `json:"side"`
	Qty           float64 `json:"qty"`
	Status        string  `json:"status"`
	BrokerOrderID string  `json:"broker_order_id,omitempty"`
	FillPrice     float64 `json:"fill_price,omitempty"`
	AttemptCount  int     `json:"attempt_count"`
}

func (s *StatusServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	status := domain.OrderStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.OrderSent
	}

	orders, err := s.store.ListOrdersByStatus(r.Context(), status)
	if err != nil {
		s.log.Error("listing orders", "error", err)
		writeError(w, http.StatusInternalServerError, "listing orders failed")
		return
	}

	views := make([]orderView, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		views = append(views, orderView{
			ID: o.ID, SignalID: o.SignalID, Kind: string(o.Kind),
			Ticker: o.Ticker, Side: string(o.Side), Qty: o.Qty,
			Status: string(o.Status), BrokerOrderID: o.BrokerOrderID,
			FillPrice: o.FillPrice, AttemptCount: o.AttemptCount,
		})
	}
	writeJSON(w, views)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
