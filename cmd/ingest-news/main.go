// Command ingest-news fetches one news batch, scores it, and persists a
// trade signal when the decision is BUY. The printed signal id feeds
// execute-signal.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newstrader/internal/broker"
	"newstrader/internal/config"
	"newstrader/internal/news"
	"newstrader/internal/notify"
	sig "newstrader/internal/signal"
	"newstrader/internal/store"
	"newstrader/internal/util"
)

func main() {
	cfgPath := "config/newstrader.yaml"
	if p := os.Getenv("NEWSTRADER_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	b, err := broker.FromConfig(cfg)
	if err != nil {
		log.Fatalf("building broker: %v", err)
	}

	var fetcher news.Fetcher
	if cfg.News.Mode == "rss" {
		fetcher = news.NewRSSFetcher(cfg.News.RSSURL, 10, 30)
	} else {
		fetcher = news.SampleFetcher{}
	}

	notifier := buildNotifier(cfg, logger)
	ing := sig.NewIngestor(st, fetcher, b, notifier, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := ing.Ingest(ctx)
	if err != nil {
		log.Fatalf("ingesting: %v", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	os.Stdout.Write(append(out, '\n'))
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if cfg.Notify.WebhookURL != "" {
		timeout := time.Duration(cfg.Notify.TimeoutSec) * time.Second
		return notify.NewWebhook(cfg.Notify.WebhookURL, timeout, logger)
	}
	return notify.NewLog(logger)
}
