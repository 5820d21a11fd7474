package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"newstrader/internal/domain"
)

// Compile-time interface checks.
var _ SignalStore = (*SQLiteStore)(nil)
var _ OrderStore = (*SQLiteStore)(nil)
var _ PositionStore = (*SQLiteStore)(nil)
var _ AuditStore = (*SQLiteStore)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx so every store method
// works inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements SignalStore, OrderStore, PositionStore, and
// AuditStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
	q  querier
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs
// migrations, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Serialise writers at the driver level; readers still proceed via WAL.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, q: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a single transaction. Every store call made through
// the *SQLiteStore passed to fn shares that transaction; fn returning an
// error rolls everything back, so a half-written Order/Position pair is
// never visible to concurrent readers. Calling WithTx on an already
// transactional store just runs fn in the enclosing transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx *SQLiteStore) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}

	txStore := &SQLiteStore{db: s.db, q: tx}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) migrate() error {
	const schema = `
create table if not exists signals (
  id              text primary key,
  ticker          text not null,
  side            text not null,
  confidence      real not null,
  source_event_id text not null unique,
  reference_price real not null default 0,
  created_at      text not null
);

create table if not exists orders (
  id              text primary key,
  signal_id       text not null,
  position_id     text not null default '',
  kind            text not null,
  ticker          text not null,
  side            text not null,
  qty             real not null,
  status          text not null,
  broker_order_id text not null default '',
  fill_price      real not null default 0,
  attempt_count   integer not null default 0,
  last_attempt_at text not null default '',
  created_at      text not null,
  updated_at      text not null
);

create unique index if not exists idx_orders_entry_signal
  on orders(signal_id) where kind = 'ENTRY';
create index if not exists idx_orders_status on orders(status);

create table if not exists positions (
  id              text primary key,
  entry_order_id  text not null,
  signal_id       text not null,
  ticker          text not null,
  entry_price     real not null default 0,
  qty             real not null,
  status          text not null,
  close_requested integer not null default 0,
  high_watermark  real not null default 0,
  opened_at       text not null default '',
  closed_at       text not null default '',
  close_reason    text not null default ''
);

create index if not exists idx_positions_status on positions(status);
create index if not exists idx_positions_ticker on positions(ticker);

create table if not exists risk_audit (
  id           integer primary key autoincrement,
  signal_id    text not null,
  accepted     integer not null,
  reason       text not null,
  adjusted_qty real not null default 0,
  created_at   text not null
);
`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignal inserts a new signal. A duplicate source_event_id yields
// *domain.DuplicateError.
func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	_, err := s.q.ExecContext(ctx, `
		insert into signals (id, ticker, side, confidence, source_event_id, reference_price, created_at)
		values (?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Ticker, string(sig.Side), sig.Confidence, sig.SourceEventID,
		sig.ReferencePrice, fmtTime(sig.CreatedAt),
	)
	if isUniqueViolation(err) {
		return &domain.DuplicateError{Entity: "signal", Key: sig.SourceEventID}
	}
	return err
}

// GetSignal retrieves a single signal by its ID.
func (s *SQLiteStore) GetSignal(ctx context.Context, id string) (*domain.Signal, error) {
	return s.scanSignal(s.q.QueryRowContext(ctx, `
		select id, ticker, side, confidence, source_event_id, reference_price, created_at
		from signals where id = ?`, id))
}

// GetSignalBySourceEvent retrieves a signal by its dedup key.
func (s *SQLiteStore) GetSignalBySourceEvent(ctx context.Context, sourceEventID string) (*domain.Signal, error) {
	return s.scanSignal(s.q.QueryRowContext(ctx, `
		select id, ticker, side, confidence, source_event_id, reference_price, created_at
		from signals where source_event_id = ?`, sourceEventID))
}

func (s *SQLiteStore) scanSignal(row *sql.Row) (*domain.Signal, error) {
	var sig domain.Signal
	var side, createdAt string
	err := row.Scan(&sig.ID, &sig.Ticker, &side, &sig.Confidence,
		&sig.SourceEventID, &sig.ReferencePrice, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sig.Side = domain.Side(side)
	sig.CreatedAt = parseTime(createdAt)
	return &sig, nil
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const orderColumns = `id, signal_id, position_id, kind, ticker, side, qty, status,
	broker_order_id, fill_price, attempt_count, last_attempt_at, created_at, updated_at`

// SaveOrder inserts a new order. The partial unique index on entry orders
// enforces the one-order-per-signal invariant; a violation yields
// *domain.DuplicateError.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.q.ExecContext(ctx, `
		insert into orders (`+orderColumns+`)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.SignalID, o.PositionID, string(o.Kind), o.Ticker, string(o.Side),
		o.Qty, string(o.Status), o.BrokerOrderID, o.FillPrice, o.AttemptCount,
		fmtTime(o.LastAttemptAt), fmtTime(o.CreatedAt), fmtTime(o.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return &domain.DuplicateError{Entity: "order", Key: o.SignalID}
	}
	return err
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return scanOrder(s.q.QueryRowContext(ctx,
		`select `+orderColumns+` from orders where id = ?`, id))
}

// GetEntryOrderForSignal returns the entry order owned by the signal, or nil.
func (s *SQLiteStore) GetEntryOrderForSignal(ctx context.Context, signalID string) (*domain.Order, error) {
	return scanOrder(s.q.QueryRowContext(ctx,
		`select `+orderColumns+` from orders where signal_id = ? and kind = 'ENTRY'`, signalID))
}

// ListOrdersByStatus returns all orders in the given status, oldest first.
func (s *SQLiteStore) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := s.q.QueryContext(ctx,
		`select `+orderColumns+` from orders where status = ? order by created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// UpdateOrder persists changes to an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := s.q.ExecContext(ctx, `
		update orders
		set position_id = ?, status = ?, broker_order_id = ?, fill_price = ?,
		    attempt_count = ?, last_attempt_at = ?, updated_at = ?
		where id = ?`,
		o.PositionID, string(o.Status), o.BrokerOrderID, o.FillPrice,
		o.AttemptCount, fmtTime(o.LastAttemptAt), fmtTime(o.UpdatedAt), o.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %s not found", o.ID)
	}
	return nil
}

// CountPendingExitOrders returns how many exit orders for the position are
// still in flight.
func (s *SQLiteStore) CountPendingExitOrders(ctx context.Context, positionID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		select count(*) from orders
		where position_id = ? and kind = 'EXIT' and status in ('PENDING_SUBMIT', 'SENT')`,
		positionID).Scan(&n)
	return n, err
}

func scanOrder(row *sql.Row) (*domain.Order, error) {
	o, err := scanOrderFrom(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func scanOrderRow(rows *sql.Rows) (*domain.Order, error) {
	return scanOrderFrom(rows.Scan)
}

func scanOrderFrom(scan func(dest ...any) error) (*domain.Order, error) {
	var o domain.Order
	var kind, side, status, lastAttemptAt, createdAt, updatedAt string
	err := scan(&o.ID, &o.SignalID, &o.PositionID, &kind, &o.Ticker, &side,
		&o.Qty, &status, &o.BrokerOrderID, &o.FillPrice, &o.AttemptCount,
		&lastAttemptAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	o.Kind = domain.OrderKind(kind)
	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	o.LastAttemptAt = parseTime(lastAttemptAt)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return &o, nil
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

const positionColumns = `id, entry_order_id, signal_id, ticker, entry_price, qty,
	status, close_requested, high_watermark, opened_at, closed_at, close_reason`

// SavePosition inserts a new position.
func (s *SQLiteStore) SavePosition(ctx context.Context, p *domain.Position) error {
	_, err := s.q.ExecContext(ctx, `
		insert into positions (`+positionColumns+`)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.EntryOrderID, p.SignalID, p.Ticker, p.EntryPrice, p.Qty,
		string(p.Status), boolToInt(p.CloseRequested), p.HighWatermark,
		fmtTime(p.OpenedAt), fmtTime(p.ClosedAt), string(p.CloseReason),
	)
	return err
}

// GetPosition retrieves a single position by its ID.
func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	p, err := scanPositionFrom(s.q.QueryRowContext(ctx,
		`select `+positionColumns+` from positions where id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// ListPositionsByStatus returns all positions in the given status, oldest
// first.
func (s *SQLiteStore) ListPositionsByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	rows, err := s.q.QueryContext(ctx,
		`select `+positionColumns+` from positions where status = ? order by opened_at, id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionFrom(rows.Scan)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// CountOpenForTicker returns how many OPEN or PENDING_ENTRY positions exist
// for the ticker.
func (s *SQLiteStore) CountOpenForTicker(ctx context.Context, ticker string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		select count(*) from positions
		where ticker = ? and status in ('OPEN', 'PENDING_ENTRY')`, ticker).Scan(&n)
	return n, err
}

// UpdatePosition persists changes to an existing position.
func (s *SQLiteStore) UpdatePosition(ctx context.Context, p *domain.Position) error {
	res, err := s.q.ExecContext(ctx, `
		update positions
		set entry_price = ?, status = ?, close_requested = ?, high_watermark = ?,
		    opened_at = ?, closed_at = ?, close_reason = ?
		where id = ?`,
		p.EntryPrice, string(p.Status), boolToInt(p.CloseRequested),
		p.HighWatermark, fmtTime(p.OpenedAt), fmtTime(p.ClosedAt),
		string(p.CloseReason), p.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("position %s not found", p.ID)
	}
	return nil
}

// DeletePosition removes a position row.
func (s *SQLiteStore) DeletePosition(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx, `delete from positions where id = ?`, id)
	return err
}

// RequestClose flags a position for administrative close.
func (s *SQLiteStore) RequestClose(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx,
		`update positions set close_requested = 1 where id = ? and status = 'OPEN'`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("position %s not found or not OPEN", id)
	}
	return nil
}

// RaiseHighWatermark lifts the position's high watermark to price if the
// quote is a new high. Lower quotes leave the row untouched.
func (s *SQLiteStore) RaiseHighWatermark(ctx context.Context, id string, price float64) error {
	_, err := s.q.ExecContext(ctx,
		`update positions set high_watermark = ? where id = ? and high_watermark < ?`,
		price, id, price)
	return err
}

func scanPositionFrom(scan func(dest ...any) error) (*domain.Position, error) {
	var p domain.Position
	var status, openedAt, closedAt, closeReason string
	var closeRequested int
	err := scan(&p.ID, &p.EntryOrderID, &p.SignalID, &p.Ticker, &p.EntryPrice,
		&p.Qty, &status, &closeRequested, &p.HighWatermark, &openedAt,
		&closedAt, &closeReason)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PositionStatus(status)
	p.CloseRequested = closeRequested != 0
	p.OpenedAt = parseTime(openedAt)
	p.ClosedAt = parseTime(closedAt)
	p.CloseReason = domain.CloseReason(closeReason)
	return &p, nil
}

// ---------------------------------------------------------------------------
// AuditStore implementation
// ---------------------------------------------------------------------------

// SaveRiskDecision appends an audit row for the decision.
func (s *SQLiteStore) SaveRiskDecision(ctx context.Context, dec *domain.RiskDecision, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		insert into risk_audit (signal_id, accepted, reason, adjusted_qty, created_at)
		values (?, ?, ?, ?, ?)`,
		dec.SignalID, boolToInt(dec.Accepted), dec.Reason, dec.AdjustedQty, fmtTime(at),
	)
	return err
}

// ListRiskDecisions returns the most recent decisions, newest first.
func (s *SQLiteStore) ListRiskDecisions(ctx context.Context, limit int) ([]domain.RiskDecision, error) {
	rows, err := s.q.QueryContext(ctx, `
		select signal_id, accepted, reason, adjusted_qty
		from risk_audit order by id desc limit ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []domain.RiskDecision
	for rows.Next() {
		var d domain.RiskDecision
		var accepted int
		if err := rows.Scan(&d.SignalID, &accepted, &d.Reason, &d.AdjustedQty); err != nil {
			return nil, err
		}
		d.Accepted = accepted != 0
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// fmtTime encodes a timestamp as RFC3339Nano UTC; the zero time becomes the
// empty string.
func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT,
			sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}
