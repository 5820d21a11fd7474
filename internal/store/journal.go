package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"newstrader/internal/domain"
)

// TradeRecord is the flattened journal row for a closed position. Records
// are written as Parquet so they can be loaded straight into analysis tools.
type TradeRecord struct {
	PositionID  string  `parquet:"position_id"`
	SignalID    string  `parquet:"signal_id"`
	Ticker      string  `parquet:"ticker"`
	Qty         float64 `parquet:"qty"`
	EntryPrice  float64 `parquet:"entry_price"`
	ExitPrice   float64 `parquet:"exit_price"`
	PnL         float64 `parquet:"pnl"`
	CloseReason string  `parquet:"close_reason"`
	OpenedAt    int64   `parquet:"opened_at,timestamp(microsecond)"`
	ClosedAt    int64   `parquet:"closed_at,timestamp(microsecond)"`
}

// NewTradeRecord builds a journal row from a closed position and the exit
// fill price.
func NewTradeRecord(p *domain.Position, exitPrice float64) TradeRecord {
	return TradeRecord{
		PositionID:  p.ID,
		SignalID:    p.SignalID,
		Ticker:      p.Ticker,
		Qty:         p.Qty,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exitPrice,
		PnL:         (exitPrice - p.EntryPrice) * p.Qty,
		CloseReason: string(p.CloseReason),
		OpenedAt:    p.OpenedAt.UnixMicro(),
		ClosedAt:    p.ClosedAt.UnixMicro(),
	}
}

// TradeJournal persists closed-trade records as Parquet files, one file per
// trading day, under a base directory.
type TradeJournal struct {
	dir string
}

// NewTradeJournal creates the journal directory if needed.
func NewTradeJournal(dir string) (*TradeJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	return &TradeJournal{dir: dir}, nil
}

// Append merges the records into the day's file. The file is rewritten as a
// whole; daily trade counts are small enough that this stays cheap.
func (j *TradeJournal) Append(day time.Time, records []TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	path := j.FilePath(day)
	existing, err := readParquetFile[TradeRecord](path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return writeParquetFile(path, append(existing, records...))
}

// Read returns the records for the given day. A missing file yields an
// empty slice.
func (j *TradeJournal) Read(day time.Time) ([]TradeRecord, error) {
	records, err := readParquetFile[TradeRecord](j.FilePath(day))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return records, err
}

// FilePath returns the journal file path for the given day.
func (j *TradeJournal) FilePath(day time.Time) string {
	return filepath.Join(j.dir, fmt.Sprintf("trades-%s.parquet", day.UTC().Format("2006-01-02")))
}

// writeParquetFile writes rows to path atomically via a temp-file rename.
func writeParquetFile[T any](path string, rows []T) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := parquet.NewGenericWriter[T](f)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// readParquetFile loads all rows from a parquet file.
func readParquetFile[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("opening parquet file: %w", err)
	}

	r := parquet.NewGenericReader[T](pf)
	defer r.Close()

	rows := make([]T, r.NumRows())
	read := 0
	for read < len(rows) {
		n, err := r.Read(rows[read:])
		read += n
		if err != nil {
			break
		}
	}
	return rows[:read], nil
}
