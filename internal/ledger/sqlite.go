package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ctrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ ExecutionStore = (*SQLiteLedger)(nil)
var _ SignalStore = (*SQLiteLedger)(nil)

// SQLiteLedger implements ExecutionStore and SignalStore backed by a SQLite
// database in WAL mode.
type SQLiteLedger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at dbPath, applies pragmas,
// and ensures the schema exists.
func Open(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	order_id         TEXT PRIMARY KEY,
	client_order_id  TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	type             TEXT NOT NULL,
	qty              TEXT NOT NULL,
	price            TEXT NOT NULL,
	status           TEXT NOT NULL,
	filled_qty       TEXT NOT NULL,
	filled_avg_price TEXT NOT NULL,
	raw              BLOB,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);

CREATE TABLE IF NOT EXISTS signals (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	type        TEXT NOT NULL,
	qty         TEXT NOT NULL,
	price       TEXT NOT NULL,
	strength    REAL NOT NULL,
	metadata    TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_strategy ON signals(strategy_id);
`

// Close closes the underlying database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// ---------------------------------------------------------------------------
// ExecutionStore implementation
// ---------------------------------------------------------------------------

// Upsert writes the execution record, overwriting any prior row for the
// same order id.
func (l *SQLiteLedger) Upsert(ctx context.Context, rec domain.OrderRecord) error {
	key := rec.Key()
	if key == "" {
		return fmt.Errorf("upserting execution: record has no id")
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO executions (
			order_id, client_order_id, symbol, side, type, qty, price,
			status, filled_qty, filled_avg_price, raw, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			client_order_id  = excluded.client_order_id,
			symbol           = excluded.symbol,
			side             = excluded.side,
			type             = excluded.type,
			qty              = excluded.qty,
			price            = excluded.price,
			status           = excluded.status,
			filled_qty       = excluded.filled_qty,
			filled_avg_price = excluded.filled_avg_price,
			raw              = excluded.raw,
			updated_at       = excluded.updated_at`,
		key, rec.ClientOrderID, rec.Symbol, string(rec.Side), string(rec.Type),
		rec.Qty.String(), rec.Price.String(), string(rec.Status),
		rec.FilledQty.String(), rec.FilledAvgPrice.String(), []byte(rec.Raw),
		createdAt.UnixMilli(), updatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upserting execution %s: %w", key, err)
	}
	return nil
}

const executionColumns = `order_id, client_order_id, symbol, side, type, qty, price,
	status, filled_qty, filled_avg_price, raw, created_at, updated_at`

// Get retrieves a single execution record by order id.
func (l *SQLiteLedger) Get(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE order_id = ?`, orderID)

	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading execution %s: %w", orderID, err)
	}
	return rec, nil
}

// ScanActive returns all executions whose status is not terminal.
func (l *SQLiteLedger) ScanActive(ctx context.Context) ([]domain.OrderRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE status IN (?, ?, ?) ORDER BY created_at ASC`,
		string(domain.OrderStatusNew), string(domain.OrderStatusOpen),
		string(domain.OrderStatusPartiallyFilled))
	if err != nil {
		return nil, fmt.Errorf("scanning active executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// List returns executions matching the given status, most recently updated
// first. An empty status matches all rows.
func (l *SQLiteLedger) List(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = l.db.QueryContext(ctx,
			`SELECT `+executionColumns+` FROM executions
			 ORDER BY updated_at DESC LIMIT ?`, limit)
	} else {
		rows, err = l.db.QueryContext(ctx,
			`SELECT `+executionColumns+` FROM executions
			 WHERE status = ? ORDER BY updated_at DESC LIMIT ?`,
			string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// ListUpdatedBetween returns executions whose last update falls in
// [from, to), oldest first. The archive job uses it to export one day at
// a time.
func (l *SQLiteLedger) ListUpdatedBetween(ctx context.Context, from, to time.Time) ([]domain.OrderRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE updated_at >= ? AND updated_at < ?
		 ORDER BY updated_at ASC`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("listing executions by time: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// scanner abstracts *sql.Row and *sql.Rows for scanExecution.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*domain.OrderRecord, error) {
	var (
		rec                             domain.OrderRecord
		side, typ, status               string
		qty, price, filledQty, avgPrice string
		raw                             []byte
		createdAt, updatedAt            int64
	)
	err := s.Scan(&rec.VenueID, &rec.ClientOrderID, &rec.Symbol, &side, &typ,
		&qty, &price, &status, &filledQty, &avgPrice, &raw, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Side = domain.Side(side)
	rec.Type = domain.OrderType(typ)
	rec.Status = domain.OrderStatus(status)
	if rec.Qty, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("parsing qty %q: %w", qty, err)
	}
	if rec.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parsing price %q: %w", price, err)
	}
	if rec.FilledQty, err = decimal.NewFromString(filledQty); err != nil {
		return nil, fmt.Errorf("parsing filled qty %q: %w", filledQty, err)
	}
	if rec.FilledAvgPrice, err = decimal.NewFromString(avgPrice); err != nil {
		return nil, fmt.Errorf("parsing filled avg price %q: %w", avgPrice, err)
	}
	if len(raw) > 0 {
		rec.Raw = json.RawMessage(raw)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	// The row is keyed by venue id once known, client id before that. A row
	// whose key equals its client id was written pre-ack.
	if rec.VenueID == rec.ClientOrderID {
		rec.VenueID = ""
	}
	return &rec, nil
}

func collectExecutions(rows *sql.Rows) ([]domain.OrderRecord, error) {
	var recs []domain.OrderRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution rows: %w", err)
	}
	return recs, nil
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignal inserts a new signal row and sets sig.ID.
func (l *SQLiteLedger) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	metadata, err := json.Marshal(sig.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling signal metadata: %w", err)
	}

	createdAt := sig.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO signals (strategy_id, symbol, side, type, qty, price, strength, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.StrategyID, sig.Symbol, string(sig.Side), sig.Type,
		sig.Qty.String(), sig.Price.String(), sig.Strength,
		string(metadata), createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving signal for %s: %w", sig.StrategyID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		sig.ID = id
	}
	return nil
}

// ListSignals returns the most recent signals for a strategy. An empty
// strategy id matches all strategies.
func (l *SQLiteLedger) ListSignals(ctx context.Context, strategyID string, limit int) ([]domain.Signal, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if strategyID == "" {
		rows, err = l.db.QueryContext(ctx, `
			SELECT id, strategy_id, symbol, side, type, qty, price, strength, metadata, created_at
			FROM signals ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = l.db.QueryContext(ctx, `
			SELECT id, strategy_id, symbol, side, type, qty, price, strength, metadata, created_at
			FROM signals WHERE strategy_id = ? ORDER BY created_at DESC LIMIT ?`,
			strategyID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	defer rows.Close()

	var sigs []domain.Signal
	for rows.Next() {
		var (
			sig        domain.Signal
			side       string
			qty, price string
			metadata   string
			createdAt  int64
		)
		if err := rows.Scan(&sig.ID, &sig.StrategyID, &sig.Symbol, &side, &sig.Type,
			&qty, &price, &sig.Strength, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning signal row: %w", err)
		}
		sig.Side = domain.Side(side)
		if sig.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parsing signal qty %q: %w", qty, err)
		}
		if sig.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parsing signal price %q: %w", price, err)
		}
		if metadata != "" && metadata != "null" {
			if err := json.Unmarshal([]byte(metadata), &sig.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshalling signal metadata: %w", err)
			}
		}
		sig.CreatedAt = time.UnixMilli(createdAt).UTC()
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating signal rows: %w", err)
	}
	return sigs, nil
}
