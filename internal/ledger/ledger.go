// Package ledger is the durable record of every order the system has acted
// on. It is the single source of truth for audit and recovery: the
// in-memory tracker is a cache that can be rebuilt from it after a restart.
package ledger

import (
	"context"
	"errors"

	"ctrader/internal/domain"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("ledger: record not found")

// ExecutionStore persists execution records keyed by order id, with upsert
// semantics: repeated writes for the same id overwrite the prior row, and
// repeated identical writes are idempotent.
type ExecutionStore interface {
	// Upsert writes the record, replacing any prior row for the same key.
	Upsert(ctx context.Context, rec domain.OrderRecord) error

	// Get retrieves a single record by order id. Returns ErrNotFound when
	// the id has never been written.
	Get(ctx context.Context, orderID string) (*domain.OrderRecord, error)

	// ScanActive returns all records whose status is not terminal, used to
	// rebuild the active-order set on process restart.
	ScanActive(ctx context.Context) ([]domain.OrderRecord, error)

	// List returns records matching the given status, most recently
	// updated first, up to limit. An empty status matches all records.
	List(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.OrderRecord, error)
}

// SignalStore persists strategy signals for audit.
type SignalStore interface {
	// SaveSignal inserts a new signal.
	SaveSignal(ctx context.Context, sig *domain.Signal) error

	// ListSignals returns the most recent signals for a strategy, up to
	// limit. An empty strategy id matches all strategies.
	ListSignals(ctx context.Context, strategyID string, limit int) ([]domain.Signal, error)
}
