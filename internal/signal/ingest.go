package signal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"newstrader/internal/broker"
	"newstrader/internal/domain"
	"newstrader/internal/news"
	"newstrader/internal/notify"
	"newstrader/internal/store"
)

// IngestResult reports what one ingestion pass produced.
type IngestResult struct {
	SignalID string
	Ticker   string
	Decision Decision
	Skipped  string // non-empty when no signal was created
}

// Ingestor fetches news, maps it to a ticker, scores it, and persists a
// signal for BUY decisions. The persisted signal is what OrderExecutor runs.
type Ingestor struct {
	store    *store.SQLiteStore
	fetcher  news.Fetcher
	broker   broker.Broker // quotes the signal's reference price; optional
	notifier notify.Notifier
	logger   *slog.Logger

	now func() time.Time
}

// NewIngestor wires an ingestor. broker may be nil when no reference quote
// source is available.
func NewIngestor(st *store.SQLiteStore, f news.Fetcher, b broker.Broker, n notify.Notifier, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:    st,
		fetcher:  f,
		broker:   b,
		notifier: n,
		logger:   logger.With("component", "ingest"),
		now:      time.Now,
	}
}

// Ingest runs one pass: fetch, pick the first mappable item, score it, and
// persist a signal when the decision is BUY. A duplicate item short-circuits
// with no side effects.
func (ing *Ingestor) Ingest(ctx context.Context) (*IngestResult, error) {
	items, err := ing.fetcher.Fetch(ctx)
	if err != nil {
		ing.logger.Warn("fetch failed, falling back to sample", "error", err)
		items = []news.Item{news.Sample()}
	}

	item, mapping, ok := pickMappable(items)
	if !ok {
		ing.logger.Info("no mappable item in batch", "items", len(items))
		return &IngestResult{Skipped: "NO_MAPPING"}, nil
	}

	score := ComputeScore(DeriveComponents(item, ing.now()))
	if score.Decision != DecisionBuy {
		ing.logger.Info("signal skipped",
			"ticker", mapping.Ticker,
			"decision", string(score.Decision),
			"score", score.Total,
		)
		return &IngestResult{Ticker: mapping.Ticker, Decision: score.Decision, Skipped: "NOT_BUY"}, nil
	}

	sig := &domain.Signal{
		ID:            uuid.NewString(),
		Ticker:        mapping.Ticker,
		Side:          domain.SideBuy,
		Confidence:    mapping.Confidence,
		SourceEventID: news.Hash(item),
		CreatedAt:     ing.now().UTC(),
	}
	if ing.broker != nil {
		if price, err := ing.broker.GetLastPrice(ctx, mapping.Ticker); err == nil {
			sig.ReferencePrice = price
		} else {
			ing.logger.Warn("reference quote unavailable", "ticker", mapping.Ticker, "error", err)
		}
	}

	if err := ing.store.SaveSignal(ctx, sig); err != nil {
		if domain.IsDuplicate(err) {
			ing.notifier.Notify(ctx, notify.Event{
				Kind: notify.EventDupNewsSkipped, Ticker: mapping.Ticker, At: ing.now().UTC(),
			})
			return &IngestResult{Ticker: mapping.Ticker, Decision: score.Decision, Skipped: "DUP_NEWS_SKIPPED"}, nil
		}
		return nil, fmt.Errorf("persisting signal: %w", err)
	}

	ing.logger.Info("signal created",
		"signal_id", sig.ID,
		"ticker", sig.Ticker,
		"confidence", sig.Confidence,
		"score", score.Total,
	)
	return &IngestResult{SignalID: sig.ID, Ticker: sig.Ticker, Decision: score.Decision}, nil
}

// pickMappable returns the first item that maps to a ticker, falling back to
// the first item of the batch.
func pickMappable(items []news.Item) (news.Item, Mapping, bool) {
	for _, item := range items {
		if m, ok := MapTicker(item.Title + " " + item.Body); ok {
			return item, m, true
		}
	}
	return news.Item{}, Mapping{}, false
}
