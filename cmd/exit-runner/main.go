// Command exit-runner runs the exit sweep: once by default, or as a loop
// until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
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
	loop := flag.Bool("loop", false, "run cycles until interrupted")
	flag.Parse()

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

	notifier := buildNotifier(cfg, logger)
	policy := engine.RetryPolicy{
		MaxAttempts: cfg.Trading.MaxAttemptsPerSignal,
		MinInterval: cfg.Trading.MinRetryInterval(),
	}
	manager := engine.NewPositionManager(st, b, notifier, cfg.Trading, logger)
	sync := engine.NewReconciliationSync(st, b, notifier, policy, logger)
	sched := engine.NewExitScheduler(st, b, manager, sync, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *loop {
		logger.Info("exit loop starting", "interval", cfg.Trading.ExitCycleInterval().String())
		if err := sched.RunLoop(ctx, cfg.Trading.ExitCycleInterval()); err != nil &&
			!errors.Is(err, context.Canceled) {
			log.Fatalf("exit loop: %v", err)
		}
		return
	}

	report, err := sched.RunExitCycle(ctx)
	if err != nil {
		log.Fatalf("exit cycle: %v", err)
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
