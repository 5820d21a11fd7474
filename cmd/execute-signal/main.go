// Command execute-signal runs one persisted signal through the execution
// pipeline and prints the structured report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newstrader/internal/broker"
	"newstrader/internal/config"
	"newstrader/internal/engine"
	"newstrader/internal/notify"
	"newstrader/internal/store"
	"newstrader/internal/util"
)

func main() {
	signalID := flag.String("signal", "", "id of the persisted signal to execute")
	flag.Parse()
	if *signalID == "" {
		log.Fatal("usage: execute-signal -signal <id>")
	}

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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Preflight: a CRITICAL broker aborts before anything is placed.
	health, err := b.HealthCheck(ctx)
	if err != nil {
		log.Fatalf("broker health check: %v", err)
	}
	switch health.Status {
	case broker.HealthCritical:
		log.Fatalf("broker health CRITICAL: %s", health.Detail)
	case broker.HealthWarn:
		logger.Warn("broker health WARN", "detail", health.Detail)
	}

	notifier := buildNotifier(cfg, logger)
	exec := engine.NewOrderExecutor(st, b, engine.NewRiskGate(nil), notifier, cfg.Trading, logger)
	if cfg.Trading.EnableDemoAutoClose && cfg.Broker.Name == "simulator" {
		exec.EnableDemoAutoClose(engine.NewPositionManager(st, b, notifier, cfg.Trading, logger))
	}

	report, err := exec.ExecuteSignal(ctx, *signalID)
	if err != nil {
		log.Fatalf("executing signal: %v", err)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	os.Stdout.Write(append(out, '\n'))
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if cfg.Notify.WebhookURL != "" {
		timeout := time.Duration(cfg.Notify.TimeoutSec) * time.Second
		return notify.NewWebhook(cfg.Notify.WebhookURL, timeout, logger)
	}
	return notify.NewLog(logger)
}
