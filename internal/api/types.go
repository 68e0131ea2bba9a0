package api

import (
	"time"

	"ctrader/internal/domain"
)

// CreateOrderResponse returns the venue order id assigned to a new order.
// Signal submissions share it since they resolve to an order.
type CreateOrderResponse struct {
	OrderID string `json:"order_id"`
}

// OrdersResponse lists the venue's open orders after reconciliation.
type OrdersResponse struct {
	Orders []domain.OrderRecord `json:"orders"`
}

// ExecutionsResponse lists ledger rows, most recently updated first.
type ExecutionsResponse struct {
	Executions []domain.OrderRecord `json:"executions"`
}

// SignalsResponse lists recorded strategy signals.
type SignalsResponse struct {
	Signals []domain.Signal `json:"signals"`
}

// HealthResponse reports engine liveness and the active venue.
type HealthResponse struct {
	Status        string    `json:"status"`
	Venue         string    `json:"venue"`
	TrackedOrders int       `json:"tracked_orders"`
	Time          time.Time `json:"time"`
}
