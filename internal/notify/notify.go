// Package notify publishes pipeline events to an operator-facing channel.
// Delivery is fire-and-forget: a failed notification is logged and dropped,
// never surfaced to the caller, so the trading pipeline cannot be stalled by
// a dead webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// EventKind identifies what happened in the pipeline.
type EventKind string

const (
	EventOrderFilled      EventKind = "ORDER_FILLED"
	EventOrderSentPending EventKind = "ORDER_SENT_PENDING"
	EventOrderRejected    EventKind = "REJECTED"
	EventOrderFailed      EventKind = "FAILED"
	EventPositionClosed   EventKind = "POSITION_CLOSED"
	EventDupNewsSkipped   EventKind = "DUP_NEWS_SKIPPED"
)

// Event carries the identifying ids for a pipeline occurrence.
type Event struct {
	Kind       EventKind `json:"kind"`
	SignalID   string    `json:"signal_id,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	PositionID string    `json:"position_id,omitempty"`
	Ticker     string    `json:"ticker,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier publishes events. Implementations must never return delivery
// failures to the pipeline.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// ---------------------------------------------------------------------------
// Log notifier
// ---------------------------------------------------------------------------

// Log writes events to the structured log. It is the default channel when no
// webhook is configured.
type Log struct {
	logger *slog.Logger
}

var _ Notifier = (*Log)(nil)

// NewLog creates a log-backed notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "notify")}
}

// Notify logs the event.
func (l *Log) Notify(_ context.Context, ev Event) {
	l.logger.Info("pipeline event",
		"kind", string(ev.Kind),
		"signal_id", ev.SignalID,
		"order_id", ev.OrderID,
		"position_id", ev.PositionID,
		"ticker", ev.Ticker,
		"reason", ev.Reason,
	)
}

// ---------------------------------------------------------------------------
// Webhook notifier
// ---------------------------------------------------------------------------

// Webhook POSTs events as JSON to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

var _ Notifier = (*Webhook)(nil)

// NewWebhook creates a webhook notifier with a bounded request timeout.
func NewWebhook(url string, timeout time.Duration, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "notify"),
	}
}

// Notify delivers the event. Failures are logged and swallowed.
func (w *Webhook) Notify(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error("marshaling event", "kind", string(ev.Kind), "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("building webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("webhook delivery failed", "kind", string(ev.Kind), "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.logger.Warn("webhook delivery rejected",
			"kind", string(ev.Kind), "status", fmt.Sprintf("%d", resp.StatusCode))
	}
}

// ---------------------------------------------------------------------------
// Noop notifier
// ---------------------------------------------------------------------------

// Noop discards all events. Useful in tests.
type Noop struct{}

var _ Notifier = Noop{}

// Notify does nothing.
func (Noop) Notify(context.Context, Event) {}
