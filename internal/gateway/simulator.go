package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ctrader/internal/domain"
)

// Compile-time interface check.
var _ Gateway = (*Simulator)(nil)

// defaultSimPrice is used for market fills when no reference price has
// been set for the symbol.
var defaultSimPrice = decimal.NewFromInt(100)

// Simulator is an in-memory venue for paper trading and tests. Accepted
// orders rest as open and fill asynchronously after fillDelay; limit
// orders fill in two steps so consumers observe a partial fill before the
// full one. With fillDelay <= 0 nothing fills until Fill is called, which
// keeps tests deterministic.
type Simulator struct {
	log       *slog.Logger
	fillDelay time.Duration
	updates   chan domain.OrderUpdate

	mu     sync.Mutex
	seq    int
	orders map[string]*domain.OrderRecord
	prices map[string]decimal.Decimal
	reject map[string]bool
}

// NewSimulator creates a Simulator that fills resting orders after
// fillDelay.
func NewSimulator(log *slog.Logger, fillDelay time.Duration) *Simulator {
	if log == nil {
		log = slog.Default()
	}
	return &Simulator{
		log:       log.With("component", "simulator"),
		fillDelay: fillDelay,
		updates:   make(chan domain.OrderUpdate, 256),
		orders:    make(map[string]*domain.OrderRecord),
		prices:    make(map[string]decimal.Decimal),
		reject:    make(map[string]bool),
	}
}

// Name returns "simulator".
func (s *Simulator) Name() string {
	return "simulator"
}

// Updates exposes the venue's asynchronous order events: fills, partial
// fills, and cancellations.
func (s *Simulator) Updates() <-chan domain.OrderUpdate {
	return s.updates
}

// SetPrice sets the reference price market orders fill at for symbol.
func (s *Simulator) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// RejectSymbol makes the venue reject every future submission for symbol.
func (s *Simulator) RejectSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject[symbol] = true
}

// SubmitOrder accepts the order and schedules its fills.
func (s *Simulator) SubmitOrder(ctx context.Context, req domain.OrderRequest, clientOrderID string) (*domain.OrderRecord, error) {
	s.mu.Lock()

	if s.reject[req.Symbol] {
		s.mu.Unlock()
		raw, _ := json.Marshal(map[string]string{"message": "symbol not tradable"})
		return nil, &Error{Kind: KindVenueRejected, Op: "submit", Raw: raw, Err: errors.New("symbol not tradable")}
	}

	s.seq++
	now := time.Now().UTC()
	rec := &domain.OrderRecord{
		VenueID:       fmt.Sprintf("sim-%06d", s.seq),
		ClientOrderID: clientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Qty,
		Price:         req.Price,
		Status:        domain.OrderStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.orders[rec.VenueID] = rec
	out := *rec
	s.mu.Unlock()

	if s.fillDelay > 0 {
		id := rec.VenueID
		if req.Type == domain.OrderTypeLimit {
			half := req.Qty.Div(decimal.NewFromInt(2))
			time.AfterFunc(s.fillDelay, func() { s.applyFill(id, half) })
			time.AfterFunc(2*s.fillDelay, func() { s.applyFill(id, half) })
		} else {
			time.AfterFunc(s.fillDelay, func() { s.applyFill(id, req.Qty) })
		}
	}
	return &out, nil
}

// CancelOrder cancels a resting order. Orders that already reached a
// terminal state cannot be canceled, matching real venue behavior.
func (s *Simulator) CancelOrder(ctx context.Context, orderID, _ string) error {
	s.mu.Lock()

	rec, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return &Error{Kind: KindNotFound, Op: "cancel", Err: fmt.Errorf("order not found: %s", orderID)}
	}
	if rec.Status.Terminal() {
		status := rec.Status
		s.mu.Unlock()
		raw, _ := json.Marshal(map[string]string{"message": "order is not cancelable"})
		return &Error{Kind: KindVenueRejected, Op: "cancel", Raw: raw,
			Err: fmt.Errorf("cannot cancel %s order %s", status, orderID)}
	}

	rec.Status = domain.OrderStatusCanceled
	rec.UpdatedAt = time.Now().UTC()
	upd := rec.Update()
	s.mu.Unlock()

	s.publish(upd)
	return nil
}

// GetOrder returns the venue's current view of the order.
func (s *Simulator) GetOrder(ctx context.Context, orderID, _ string) (*domain.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[orderID]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Op: "query", Err: fmt.Errorf("order not found: %s", orderID)}
	}
	out := *rec
	return &out, nil
}

// ListOpenOrders returns every non-terminal order, optionally filtered by
// symbol.
func (s *Simulator) ListOpenOrders(ctx context.Context, symbol string) ([]domain.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]domain.OrderRecord, 0)
	for _, rec := range s.orders {
		if rec.Status.Terminal() {
			continue
		}
		if symbol != "" && rec.Symbol != symbol {
			continue
		}
		recs = append(recs, *rec)
	}
	return recs, nil
}

// Fill applies one fill step to a resting order. Tests use it to drive
// the lifecycle without waiting on timers.
func (s *Simulator) Fill(orderID string, qty decimal.Decimal) error {
	s.mu.Lock()
	rec, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("order not found: %s", orderID)
	}
	if rec.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("order %s already %s", orderID, rec.Status)
	}
	s.mu.Unlock()

	s.applyFill(orderID, qty)
	return nil
}

// applyFill advances the order by qty and publishes the resulting event.
// Orders that were canceled before a scheduled fill fires stay canceled.
func (s *Simulator) applyFill(orderID string, qty decimal.Decimal) {
	s.mu.Lock()

	rec, ok := s.orders[orderID]
	if !ok || rec.Status.Terminal() {
		s.mu.Unlock()
		return
	}

	rec.FilledQty = rec.FilledQty.Add(qty)
	if rec.FilledQty.GreaterThanOrEqual(rec.Qty) {
		rec.FilledQty = rec.Qty
		rec.Status = domain.OrderStatusFilled
	} else {
		rec.Status = domain.OrderStatusPartiallyFilled
	}
	rec.FilledAvgPrice = s.fillPrice(rec)
	rec.UpdatedAt = time.Now().UTC()
	upd := rec.Update()
	s.mu.Unlock()

	s.publish(upd)
}

// fillPrice picks the execution price: the limit price when there is one,
// otherwise the reference price for the symbol. Callers hold s.mu.
func (s *Simulator) fillPrice(rec *domain.OrderRecord) decimal.Decimal {
	if rec.Price.IsPositive() {
		return rec.Price
	}
	if p, ok := s.prices[rec.Symbol]; ok {
		return p
	}
	return defaultSimPrice
}

// publish emits the event without blocking the venue. A full buffer drops
// the event, which downstream reconciliation is expected to absorb.
func (s *Simulator) publish(upd domain.OrderUpdate) {
	select {
	case s.updates <- upd:
	default:
		s.log.Warn("update buffer full, event dropped",
			"order_id", upd.OrderID, "status", string(upd.Status))
	}
}
