package signal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"newstrader/internal/broker"
	"newstrader/internal/news"
	"newstrader/internal/notify"
	"newstrader/internal/store"
)

func TestMapTicker(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		ticker string
		ok     bool
	}{
		{name: "samsung electronics", text: "삼성전자, 신규 반도체 투자 발표", ticker: "005930", ok: true},
		{name: "sk hynix", text: "SK하이닉스 수주 확대", ticker: "000660", ok: true},
		{name: "ambiguous alias", text: "삼성 그룹 관련 소식", ok: false},
		{name: "no match", text: "시장 전반 뉴스", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := MapTicker(tt.text)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && m.Ticker != tt.ticker {
				t.Errorf("ticker = %s, want %s", m.Ticker, tt.ticker)
			}
		})
	}
}

func TestScoreDecisions(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name  string
		title string
		body  string
		age   time.Duration
		want  Decision
	}{
		{name: "fresh positive buys", title: "삼성전자, 신규 반도체 투자 발표", want: DecisionBuy},
		{name: "two negatives block", title: "리콜 소송 악재", want: DecisionBlock},
		{name: "net negative ignored or worse", title: "실적 하락", want: DecisionBlock},
		{name: "no keywords hold", title: "삼성전자 일반 공시", want: DecisionHold},
		{name: "aging positive downgraded to hold", title: "삼성전자 투자 확대", age: 20 * time.Hour, want: DecisionHold},
		{name: "stale positive blocked outright", title: "삼성전자 투자 확대", age: 40 * time.Hour, want: DecisionBlock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := news.Item{Source: "test", Tier: 2, Title: tt.title, Body: tt.body,
				PublishedAt: now.Add(-tt.age)}
			score := ComputeScore(DeriveComponents(item, now))
			if score.Decision != tt.want {
				t.Errorf("decision = %s (total %.1f), want %s", score.Decision, score.Total, tt.want)
			}
		})
	}
}

func TestScoreBounds(t *testing.T) {
	now := time.Now().UTC()
	item := news.Item{Source: "test", Tier: 2,
		Title: "리콜 소송 악재 파업 규제 적자", PublishedAt: now.Add(-100 * time.Hour)}
	score := ComputeScore(DeriveComponents(item, now))
	if score.Total < 0 || score.Total > 100 {
		t.Errorf("total %g outside [0, 100]", score.Total)
	}
	if score.PricedIn != "HIGH" {
		t.Errorf("priced-in = %s, want HIGH for stale news", score.PricedIn)
	}
}

func newIngestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIngestCreatesSignal(t *testing.T) {
	st := newIngestStore(t)
	sim := broker.NewSimulator()
	sim.SetQuote("005930", 83500)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ing := NewIngestor(st, news.SampleFetcher{}, sim, notify.Noop{}, logger)
	ctx := context.Background()

	res, err := ing.Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.SignalID == "" || res.Ticker != "005930" {
		t.Fatalf("result = %+v", res)
	}

	sig, err := st.GetSignal(ctx, res.SignalID)
	if err != nil || sig == nil {
		t.Fatalf("GetSignal: %+v, %v", sig, err)
	}
	if sig.Confidence != 0.98 || sig.ReferencePrice != 83500 {
		t.Errorf("signal = %+v", sig)
	}
}

func TestIngestDeduplicates(t *testing.T) {
	st := newIngestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ing := NewIngestor(st, news.SampleFetcher{}, nil, notify.Noop{}, logger)
	ctx := context.Background()

	first, err := ing.Ingest(ctx)
	if err != nil || first.SignalID == "" {
		t.Fatalf("first Ingest: %+v, %v", first, err)
	}

	second, err := ing.Ingest(ctx)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if second.Skipped != "DUP_NEWS_SKIPPED" || second.SignalID != "" {
		t.Fatalf("second = %+v, want DUP_NEWS_SKIPPED", second)
	}
}
