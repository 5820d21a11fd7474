// Command journal-export writes the day's closed positions to the Parquet
// trade journal and prints a summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"newstrader/internal/config"
	"newstrader/internal/domain"
	"newstrader/internal/store"
	"newstrader/internal/util"
)

func main() {
	day := flag.String("day", time.Now().UTC().Format("2006-01-02"), "trading day to export (UTC)")
	flag.Parse()

	exportDay, err := time.Parse("2006-01-02", *day)
	if err != nil {
		log.Fatalf("parsing -day: %v", err)
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

	journal, err := store.NewTradeJournal(cfg.Storage.JournalDir)
	if err != nil {
		log.Fatalf("opening journal: %v", err)
	}

	ctx := context.Background()
	closed, err := st.ListPositionsByStatus(ctx, domain.PositionClosed)
	if err != nil {
		log.Fatalf("listing closed positions: %v", err)
	}

	// Exit fill prices come from the filled exit orders.
	exitPrices := map[string]float64{}
	filled, err := st.ListOrdersByStatus(ctx, domain.OrderFilled)
	if err != nil {
		log.Fatalf("listing filled orders: %v", err)
	}
	for i := range filled {
		if filled[i].Kind == domain.OrderKindExit {
			exitPrices[filled[i].PositionID] = filled[i].FillPrice
		}
	}

	var records []store.TradeRecord
	for i := range closed {
		p := &closed[i]
		if p.ClosedAt.UTC().Format("2006-01-02") != *day {
			continue
		}
		records = append(records, store.NewTradeRecord(p, exitPrices[p.ID]))
	}

	if err := journal.Append(exportDay, records); err != nil {
		log.Fatalf("writing journal: %v", err)
	}

	var pnl float64
	for _, r := range records {
		pnl += r.PnL
	}
	fmt.Printf("exported %d trades for %s to %s (pnl %.2f)\n",
		len(records), *day, journal.FilePath(exportDay), pnl)
}
