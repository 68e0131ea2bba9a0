// Package domain defines the core types shared across the trading system:
// order requests, order records, lifecycle statuses, asynchronous updates,
// and strategy signals.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusNew is assigned locally before the venue has acknowledged
	// the order.
	OrderStatusNew OrderStatus = "new"
	// OrderStatusOpen means the venue has accepted the order and it is
	// working on the book.
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	// OrderStatusCancelError means a cancel request failed and the true
	// disposition of the order is unknown. It requires manual
	// reconciliation and is never retried automatically.
	OrderStatusCancelError OrderStatus = "cancel_error"
	OrderStatusRejected    OrderStatus = "rejected"
	OrderStatusError       OrderStatus = "error"
)

// transitions is the set of legal status changes. A status not present as a
// key is terminal and accepts no further transitions.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusNew: {
		OrderStatusOpen,
		OrderStatusRejected,
		OrderStatusError,
	},
	OrderStatusOpen: {
		OrderStatusPartiallyFilled,
		OrderStatusFilled,
		OrderStatusCanceled,
		OrderStatusCancelError,
		OrderStatusError,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled,
		OrderStatusFilled,
		OrderStatusCanceled,
		OrderStatusCancelError,
		OrderStatusError,
	},
}

// Terminal reports whether no further transition is expected from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusCancelError,
		OrderStatusRejected, OrderStatusError:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal status
// change. Staying on the same status is not a transition; callers treat that
// case as a merge of non-status fields.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is one of the known lifecycle statuses.
func ValidStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusNew, OrderStatusOpen, OrderStatusPartiallyFilled,
		OrderStatusFilled, OrderStatusCanceled, OrderStatusCancelError,
		OrderStatusRejected, OrderStatusError:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// ValidationError reports a request that was rejected before any network or
// storage I/O took place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderRequest is the immutable intent to trade. It is never persisted
// directly; submission wraps it into an OrderRecord.
type OrderRequest struct {
	Symbol string            `json:"symbol"`
	Side   Side              `json:"side"`
	Type   OrderType         `json:"type"`
	Qty    decimal.Decimal   `json:"qty"`
	Price  decimal.Decimal   `json:"price,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// Validate checks the request shape: non-empty symbol, known side and type,
// positive quantity, and a positive price when the type requires one.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", r.Side)}
	}
	if r.Type != OrderTypeMarket && r.Type != OrderTypeLimit {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", r.Type)}
	}
	if !r.Qty.IsPositive() {
		return &ValidationError{Field: "qty", Reason: "must be positive"}
	}
	if r.Type == OrderTypeLimit && !r.Price.IsPositive() {
		return &ValidationError{Field: "price", Reason: "required for limit orders"}
	}
	return nil
}

// OrderRecord is the aggregate root for one order's lifecycle. VenueID is
// authoritative once known; ClientOrderID is generated locally before
// submission and never reused.
type OrderRecord struct {
	VenueID       string          `json:"venue_id,omitempty"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price,omitempty"`

	Status         OrderStatus     `json:"status"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the identity the record is tracked and persisted under: the
// venue id once known, otherwise the client order id (pre-ack failures).
func (r OrderRecord) Key() string {
	if r.VenueID != "" {
		return r.VenueID
	}
	return r.ClientOrderID
}

// Update returns an OrderUpdate carrying this record's mutable state, used
// to merge venue-reported snapshots into tracked records.
func (r OrderRecord) Update() OrderUpdate {
	return OrderUpdate{
		OrderID:        r.VenueID,
		ClientOrderID:  r.ClientOrderID,
		Symbol:         r.Symbol,
		Status:         r.Status,
		FilledQty:      r.FilledQty,
		FilledAvgPrice: r.FilledAvgPrice,
		Raw:            r.Raw,
	}
}

// OrderUpdate is a partial view of an order delivered by the gateway or the
// asynchronous update stream. Zero values mean the field was not present.
type OrderUpdate struct {
	OrderID        string          `json:"order_id"`
	ClientOrderID  string          `json:"client_order_id,omitempty"`
	Symbol         string          `json:"symbol,omitempty"`
	Status         OrderStatus     `json:"status,omitempty"`
	FilledQty      decimal.Decimal `json:"filled_qty,omitempty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Signal is a trading intent produced by a strategy. The engine validates
// and records it, then turns it into an OrderRequest.
type Signal struct {
	ID         int64             `json:"id,omitempty"`
	StrategyID string            `json:"strategy_id"`
	Symbol     string            `json:"symbol"`
	Side       Side              `json:"side"`
	Type       string            `json:"type"`
	Qty        decimal.Decimal   `json:"qty"`
	Price      decimal.Decimal   `json:"price,omitempty"`
	OrderType  OrderType         `json:"order_type,omitempty"`
	Strength   float64           `json:"strength,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Validate enforces the minimum signal shape required for execution.
func (s Signal) Validate() error {
	if s.StrategyID == "" {
		return &ValidationError{Field: "strategy_id", Reason: "must not be empty"}
	}
	if s.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", s.Side)}
	}
	if s.Type == "" {
		return &ValidationError{Field: "type", Reason: "must not be empty"}
	}
	return nil
}
