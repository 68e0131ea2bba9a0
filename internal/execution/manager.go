// Package execution orchestrates the order lifecycle: submission through
// the gateway, in-memory state tracking, durable audit writes, and
// reconciliation against the venue's view.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"ctrader/internal/domain"
	"ctrader/internal/gateway"
	"ctrader/internal/ledger"
	"ctrader/internal/tracker"
)

// CancelError reports a cancel whose outcome at the venue is unknown. The
// order is held in the active map for manual reconciliation and the cancel
// is never retried automatically.
type CancelError struct {
	OrderID string
	Err     error
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("cancel outcome unknown for order %s: %v", e.OrderID, e.Err)
}

func (e *CancelError) Unwrap() error { return e.Err }

// Manager coordinates the gateway, the active-order tracker, and the
// durable ledger. The ledger is the source of truth for audit and
// recovery; the tracker is a rebuildable cache of live state.
type Manager struct {
	log     *slog.Logger
	gw      gateway.Gateway
	tracker *tracker.Tracker
	ledger  ledger.ExecutionStore
	notify  func(domain.OrderRecord)
}

// NewManager creates a Manager on top of the given gateway, tracker, and
// ledger.
func NewManager(log *slog.Logger, gw gateway.Gateway, tk *tracker.Tracker, store ledger.ExecutionStore) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "execution"),
		gw:      gw,
		tracker: tk,
		ledger:  store,
	}
}

// SetNotify registers fn to receive every record change the manager
// applies. Set it before the manager starts serving; it is invoked
// synchronously and must not block.
func (m *Manager) SetNotify(fn func(domain.OrderRecord)) {
	m.notify = fn
}

// CreateOrder validates the request, submits it to the venue exactly once,
// and returns the venue's order id. The client order id is generated
// before the network call so a retry by the caller is always a new order.
// Submit failures are recorded in the ledger: rejected when the venue
// refused the order, error when transport failed.
func (m *Manager) CreateOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	clientOrderID := ulid.Make().String()
	log := m.log.With("client_order_id", clientOrderID, "symbol", req.Symbol)
	log.Info("submitting order",
		"side", string(req.Side), "type", string(req.Type), "qty", req.Qty.String())

	rec, err := m.gw.SubmitOrder(ctx, req, clientOrderID)
	if err != nil {
		status := domain.OrderStatusError
		if gateway.IsVenueRejected(err) {
			status = domain.OrderStatusRejected
		}
		now := time.Now().UTC()
		m.writeLedger(ctx, domain.OrderRecord{
			ClientOrderID: clientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Type:          req.Type,
			Qty:           req.Qty,
			Price:         req.Price,
			Status:        status,
			Raw:           gateway.RawPayload(err),
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		log.Error("order submission failed", "status", string(status), "error", err)
		return "", fmt.Errorf("submit order: %w", err)
	}

	if rec.ClientOrderID == "" {
		rec.ClientOrderID = clientOrderID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	// Orders normally come back open; a venue may also report an
	// immediately terminal state (instant fill or a rejection delivered
	// with the ack). Terminal orders never enter the active map.
	if !rec.Status.Terminal() {
		m.tracker.Seed(*rec)
	}
	m.writeLedger(ctx, *rec)
	m.notifyChange(*rec)

	log.Info("order submitted", "venue_id", rec.VenueID, "status", string(rec.Status))
	return rec.VenueID, nil
}

// CancelOrder requests cancellation at the venue exactly once. On success
// the order transitions to canceled and leaves the active map. On failure
// the true disposition is unknown: the record moves to cancel_error where
// the transition rules allow it, stays in the active map for manual
// reconciliation, and a CancelError is returned. It is never retried here.
// An id the venue does not recognize returns the not-found error as is,
// with no record created.
func (m *Manager) CancelOrder(ctx context.Context, orderID, symbol string) error {
	log := m.log.With("order_id", orderID)

	if err := m.gw.CancelOrder(ctx, orderID, symbol); err != nil {
		if gateway.IsNotFound(err) {
			log.Warn("cancel failed: order unknown at venue", "error", err)
			return fmt.Errorf("cancel order %s: %w", orderID, err)
		}
		rec, applied := m.applyUpdate(ctx, domain.OrderUpdate{
			OrderID: orderID,
			Symbol:  symbol,
			Status:  domain.OrderStatusCancelError,
			Raw:     gateway.RawPayload(err),
		}, true)
		if applied {
			log.Error("cancel failed, order held for manual reconciliation", "error", err)
		} else {
			// The record already settled (e.g. filled before the cancel
			// arrived); its history stays untouched.
			log.Warn("cancel failed against settled order",
				"status", string(rec.Status), "error", err)
		}
		return &CancelError{OrderID: orderID, Err: err}
	}

	m.applyUpdate(ctx, domain.OrderUpdate{
		OrderID: orderID,
		Symbol:  symbol,
		Status:  domain.OrderStatusCanceled,
	}, false)
	log.Info("order canceled")
	return nil
}

// GetOrderStatus returns the current view of an order. Live tracked
// orders are served from memory without a network call; anything else is
// refreshed from the venue.
func (m *Manager) GetOrderStatus(ctx context.Context, orderID, symbol string) (*domain.OrderRecord, error) {
	if rec, ok := m.tracker.Get(orderID); ok && !rec.Status.Terminal() {
		return &rec, nil
	}
	return m.RefreshOrder(ctx, orderID, symbol)
}

// RefreshOrder queries the venue regardless of local state and folds the
// answer in: terminal answers settle the ledger row and leave the active
// map for good, non-terminal answers are merged back into tracking. A
// transport failure returns a structured error record without touching
// the ledger, so a failed query can never falsify audit state. The
// reconciliation sweep uses it to refresh stale tracked orders.
func (m *Manager) RefreshOrder(ctx context.Context, orderID, symbol string) (*domain.OrderRecord, error) {
	tracked, wasTracked := m.tracker.Get(orderID)

	rec, err := m.gw.GetOrder(ctx, orderID, symbol)
	if err != nil {
		if gateway.IsNotFound(err) {
			return nil, fmt.Errorf("order %s: %w", orderID, err)
		}
		now := time.Now().UTC()
		errRec := &domain.OrderRecord{
			VenueID:   orderID,
			Symbol:    symbol,
			Status:    domain.OrderStatusError,
			Raw:       gateway.RawPayload(err),
			CreatedAt: now,
			UpdatedAt: now,
		}
		return errRec, fmt.Errorf("query order %s: %w", orderID, err)
	}

	// A tracked cancel_error stays pinned until the venue's answer
	// resolves the ambiguity, in either direction.
	if wasTracked && tracked.Status == domain.OrderStatusCancelError {
		m.tracker.Remove(orderID)
		if !rec.Status.Terminal() {
			m.tracker.Seed(*rec)
		}
		m.writeLedger(ctx, *rec)
		m.notifyChange(*rec)
		m.log.Info("ambiguous cancel resolved by venue state",
			"order_id", orderID, "status", string(rec.Status))
		return rec, nil
	}

	if rec.Status.Terminal() {
		m.tracker.Remove(orderID)
		m.writeLedger(ctx, *rec)
		m.notifyChange(*rec)
		return rec, nil
	}

	merged := m.reconcileRecord(ctx, *rec)
	return &merged, nil
}

// ListOpenOrders returns the venue's open orders, reconciled into local
// tracking: orders placed by a prior process instance are adopted, known
// ones merged under the transition rules. A gateway failure yields an
// empty list and a warning, never an error.
func (m *Manager) ListOpenOrders(ctx context.Context, symbol string) []domain.OrderRecord {
	recs, err := m.gw.ListOpenOrders(ctx, symbol)
	if err != nil {
		m.log.Warn("open order listing failed", "symbol", symbol, "error", err)
		return []domain.OrderRecord{}
	}

	out := make([]domain.OrderRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, m.reconcileRecord(ctx, rec))
	}
	return out
}

// UpdateLocalOrderState applies an asynchronous update from the venue's
// event stream. Updates arrive at-least-once and unordered across orders;
// the transition rules drop regressions and duplicate terminal delivery
// leaves both the map and the ledger unchanged.
func (m *Manager) UpdateLocalOrderState(ctx context.Context, upd domain.OrderUpdate) {
	if upd.OrderID == "" {
		m.log.Warn("order update dropped: missing order id")
		return
	}
	m.applyUpdate(ctx, upd, false)
}

// Recover rebuilds the active map from the ledger's non-terminal rows.
// Run at startup before serving traffic.
func (m *Manager) Recover(ctx context.Context) error {
	recs, err := m.ledger.ScanActive(ctx)
	if err != nil {
		return fmt.Errorf("scan active orders: %w", err)
	}
	n := 0
	for _, rec := range recs {
		if m.tracker.Seed(rec) {
			n++
		}
	}
	m.log.Info("recovered active orders from ledger", "count", n)
	return nil
}

// Tracked returns a snapshot of the active map, used by the
// reconciliation sweep and diagnostics.
func (m *Manager) Tracked() []domain.OrderRecord {
	return m.tracker.Snapshot()
}

// TrackedCount returns the number of orders in the active map.
func (m *Manager) TrackedCount() int {
	return m.tracker.Len()
}

// applyUpdate pushes an update through the tracker and persists the
// result. When the order is not tracked, the merge base is rebuilt from
// the ledger first so a sparse update cannot clobber a richer audit row
// and settled orders cannot be resurrected. keepTracked holds a terminal
// result in the active map, used for ambiguous cancels.
func (m *Manager) applyUpdate(ctx context.Context, upd domain.OrderUpdate, keepTracked bool) (domain.OrderRecord, bool) {
	if _, ok := m.tracker.Get(upd.OrderID); !ok {
		prev, err := m.ledger.Get(ctx, upd.OrderID)
		switch {
		case err == nil && prev.Status.Terminal():
			if upd.Status != "" && upd.Status != prev.Status {
				m.log.Warn("update dropped: order already settled",
					"order_id", upd.OrderID,
					"settled_status", string(prev.Status),
					"update_status", string(upd.Status))
			}
			return *prev, false
		case err == nil:
			m.tracker.Seed(*prev)
		case !errors.Is(err, ledger.ErrNotFound):
			m.log.Error("ledger read failed", "order_id", upd.OrderID, "error", err)
		}
	}

	rec, applied := m.tracker.Apply(upd)
	if !applied {
		return rec, false
	}

	if rec.Status.Terminal() && !keepTracked {
		m.tracker.Remove(upd.OrderID)
	}
	m.writeLedger(ctx, rec)
	m.notifyChange(rec)
	return rec, true
}

// reconcileRecord folds a full venue snapshot into local state: unknown
// orders are seeded, known ones merged under the transition rules.
func (m *Manager) reconcileRecord(ctx context.Context, rec domain.OrderRecord) domain.OrderRecord {
	if _, ok := m.tracker.Get(rec.Key()); !ok {
		if m.tracker.Seed(rec) {
			m.log.Info("adopted order from venue", "order_id", rec.Key(), "status", string(rec.Status))
			m.writeLedger(ctx, rec)
			m.notifyChange(rec)
			return rec
		}
	}
	merged, _ := m.applyUpdate(ctx, rec.Update(), false)
	return merged
}

// writeLedger persists best-effort. A write failure never unwinds a
// venue-confirmed action; it is logged for operator follow-up.
func (m *Manager) writeLedger(ctx context.Context, rec domain.OrderRecord) {
	if err := m.ledger.Upsert(ctx, rec); err != nil {
		m.log.Error("ledger write failed, audit trail out of sync",
			"order_id", rec.Key(), "status", string(rec.Status), "error", err)
	}
}

func (m *Manager) notifyChange(rec domain.OrderRecord) {
	if m.notify != nil {
		m.notify(rec)
	}
}
