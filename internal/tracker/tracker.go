// Package tracker holds the authoritative in-memory map of active (non
// terminal) orders and applies validated state transitions to them.
//
// The map is the single shared mutable view of live order state. All
// mutation goes through Apply, Seed, and Remove; no caller touches record
// fields directly. Locking is per key: a read-write mutex guards the map
// itself and each tracked order carries its own mutex, so updates to one
// order never block queries on another and no lock is ever held across
// network I/O (the tracker performs none).
package tracker

import (
	"log/slog"
	"sync"
	"time"

	"ctrader/internal/domain"
)

// Tracker is the active-order table keyed by order id (venue id once known,
// client order id before that).
type Tracker struct {
	log *slog.Logger

	mu     sync.RWMutex
	orders map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	rec domain.OrderRecord
}

// New creates an empty Tracker.
func New(log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		log:    log.With("component", "tracker"),
		orders: make(map[string]*entry),
	}
}

// Seed inserts a record if no order is tracked under its key. It returns
// false when the key is already present. Used on submission, on recovery
// from the ledger, and when reconciliation discovers venue orders placed by
// a prior process instance.
func (t *Tracker) Seed(rec domain.OrderRecord) bool {
	key := rec.Key()
	if key == "" {
		t.log.Warn("seed dropped: record has no id")
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.orders[key]; ok {
		return false
	}
	t.orders[key] = &entry{rec: rec}
	return true
}

// Get returns a copy of the tracked record for the given order id.
func (t *Tracker) Get(orderID string) (domain.OrderRecord, bool) {
	t.mu.RLock()
	e, ok := t.orders[orderID]
	t.mu.RUnlock()
	if !ok {
		return domain.OrderRecord{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// Remove purges an order from the active map. The durable ledger retains
// its history.
func (t *Tracker) Remove(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.orders, orderID)
}

// Len returns the number of actively tracked orders.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orders)
}

// Snapshot returns copies of all tracked records.
func (t *Tracker) Snapshot() []domain.OrderRecord {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.orders))
	for _, e := range t.orders {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	recs := make([]domain.OrderRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		recs = append(recs, e.rec)
		e.mu.Unlock()
	}
	return recs
}

// Apply merges a partial update into the tracked record under the status
// transition rules, creating a new entry when the order is not yet tracked
// (push events may reference orders this process has never seen). It
// returns the resulting record and whether the update changed it.
//
// Updates that would move the status backward are dropped with a logged
// warning; they are never surfaced to callers as failures. Re-delivery of
// an already-applied terminal status is a silent no-op.
func (t *Tracker) Apply(upd domain.OrderUpdate) (domain.OrderRecord, bool) {
	if upd.OrderID == "" {
		t.log.Warn("update dropped: missing order id")
		return domain.OrderRecord{}, false
	}

	e := t.entryFor(upd)

	e.mu.Lock()
	defer e.mu.Unlock()
	return t.merge(e, upd)
}

// entryFor finds the entry for an update, creating a sparse one when
// absent.
func (t *Tracker) entryFor(upd domain.OrderUpdate) *entry {
	t.mu.RLock()
	e, ok := t.orders[upd.OrderID]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.orders[upd.OrderID]; ok {
		return e
	}
	e = &entry{rec: domain.OrderRecord{
		VenueID:       upd.OrderID,
		ClientOrderID: upd.ClientOrderID,
		Symbol:        upd.Symbol,
		CreatedAt:     time.Now().UTC(),
	}}
	t.orders[upd.OrderID] = e
	return e
}

// merge applies upd to e.rec. Caller holds e.mu.
func (t *Tracker) merge(e *entry, upd domain.OrderUpdate) (domain.OrderRecord, bool) {
	rec := &e.rec

	// A venue id, once observed, is permanently bound to one client order
	// id. An update naming a different client id is dropped whole.
	if upd.ClientOrderID != "" && rec.ClientOrderID != "" && upd.ClientOrderID != rec.ClientOrderID {
		t.log.Warn("update dropped: client order id mismatch",
			"order_id", upd.OrderID,
			"tracked_client_id", rec.ClientOrderID,
			"update_client_id", upd.ClientOrderID)
		return *rec, false
	}

	// Terminal records never change. Same-status re-delivery is the
	// documented idempotent no-op; anything else is a regression attempt.
	if rec.Status.Terminal() {
		if upd.Status != "" && upd.Status != rec.Status {
			t.log.Warn("update dropped: illegal transition",
				"order_id", upd.OrderID, "from", rec.Status, "to", upd.Status)
		}
		return *rec, false
	}

	if upd.Status != "" && upd.Status != rec.Status {
		switch {
		case rec.Status == "" && domain.ValidStatus(upd.Status):
			// First observed status for a freshly created entry.
			rec.Status = upd.Status
		case rec.Status.CanTransition(upd.Status):
			rec.Status = upd.Status
		default:
			t.log.Warn("update dropped: illegal transition",
				"order_id", upd.OrderID, "from", rec.Status, "to", upd.Status)
			return *rec, false
		}
	}

	if rec.ClientOrderID == "" {
		rec.ClientOrderID = upd.ClientOrderID
	}
	if rec.Symbol == "" {
		rec.Symbol = upd.Symbol
	}
	if !upd.FilledQty.IsZero() {
		if rec.Qty.IsPositive() && upd.FilledQty.GreaterThan(rec.Qty) {
			t.log.Warn("reconciliation warning: filled quantity exceeds requested",
				"order_id", upd.OrderID,
				"filled_qty", upd.FilledQty.String(),
				"requested_qty", rec.Qty.String())
		}
		rec.FilledQty = upd.FilledQty
	}
	if !upd.FilledAvgPrice.IsZero() {
		rec.FilledAvgPrice = upd.FilledAvgPrice
	}
	if len(upd.Raw) > 0 {
		rec.Raw = upd.Raw
	}
	rec.UpdatedAt = time.Now().UTC()

	return *rec, true
}
