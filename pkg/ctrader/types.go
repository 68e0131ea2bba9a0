package ctrader

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses as reported by the server.
const (
	StatusNew             = "new"
	StatusOpen            = "open"
	StatusPartiallyFilled = "partially_filled"
	StatusFilled          = "filled"
	StatusCanceled        = "canceled"
	StatusRejected        = "rejected"
	StatusCancelError     = "cancel_error"
	StatusError           = "error"
)

// OrderRequest describes a new order to submit.
type OrderRequest struct {
	Symbol string            `json:"symbol"`
	Side   string            `json:"side"`
	Type   string            `json:"type"`
	Qty    decimal.Decimal   `json:"qty"`
	Price  decimal.Decimal   `json:"price,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// Order is the server's view of one order, live or settled.
type Order struct {
	VenueID        string          `json:"venue_id,omitempty"`
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Qty            decimal.Decimal `json:"qty"`
	Price          decimal.Decimal `json:"price,omitempty"`
	Status         string          `json:"status"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Signal is a strategy trading intent. Either Qty or Strength must carry
// the size; the server scales Strength into a quantity when configured.
type Signal struct {
	ID         int64             `json:"id,omitempty"`
	StrategyID string            `json:"strategy_id"`
	Symbol     string            `json:"symbol"`
	Side       string            `json:"side"`
	Type       string            `json:"type"`
	Qty        decimal.Decimal   `json:"qty"`
	Price      decimal.Decimal   `json:"price,omitempty"`
	OrderType  string            `json:"order_type,omitempty"`
	Strength   float64           `json:"strength,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Health reports engine liveness and the active venue.
type Health struct {
	Status        string    `json:"status"`
	Venue         string    `json:"venue"`
	TrackedOrders int       `json:"tracked_orders"`
	Time          time.Time `json:"time"`
}
