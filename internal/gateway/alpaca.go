package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"ctrader/internal/domain"
	"ctrader/internal/util"
)

// Compile-time interface check.
var _ Gateway = (*AlpacaGateway)(nil)

// AlpacaGateway implements Gateway against the Alpaca trading API. Calls
// are paced through a token-bucket limiter to stay under the venue's
// request budget; beyond that the adapter only translates, it never
// retries.
type AlpacaGateway struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
}

// NewAlpacaGateway creates an AlpacaGateway with the given credentials and
// API endpoint. ratePerMin bounds outgoing requests per minute (0 uses the
// venue's published default of 200).
func NewAlpacaGateway(apiKey, apiSecret, baseURL string, ratePerMin int) *AlpacaGateway {
	if ratePerMin <= 0 {
		ratePerMin = 200
	}
	return &AlpacaGateway{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		limiter: util.NewRateLimiter(ratePerMin),
	}
}

// Name returns "alpaca".
func (g *AlpacaGateway) Name() string {
	return "alpaca"
}

// SubmitOrder places a new order with Alpaca.
func (g *AlpacaGateway) SubmitOrder(ctx context.Context, req domain.OrderRequest, clientOrderID string) (*domain.OrderRecord, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransport, Op: "submit", Err: err}
	}

	qty := req.Qty
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.OrderType(req.Type),
		TimeInForce:   timeInForce(req.Params),
		ClientOrderID: clientOrderID,
	}
	if req.Type == domain.OrderTypeLimit {
		price := req.Price
		placeReq.LimitPrice = &price
	}
	if req.Params["extended_hours"] == "true" {
		placeReq.ExtendedHours = true
	}

	order, err := g.client.PlaceOrder(placeReq)
	if err != nil {
		return nil, normalizeError("submit", err)
	}
	return recordFromAlpaca(order), nil
}

// CancelOrder requests cancellation of an order by its Alpaca id. The
// symbol is not needed by this venue.
func (g *AlpacaGateway) CancelOrder(ctx context.Context, orderID, _ string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindTransport, Op: "cancel", Err: err}
	}

	if err := g.client.CancelOrder(orderID); err != nil {
		return normalizeError("cancel", err)
	}
	return nil
}

// GetOrder fetches Alpaca's current view of an order.
func (g *AlpacaGateway) GetOrder(ctx context.Context, orderID, _ string) (*domain.OrderRecord, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransport, Op: "query", Err: err}
	}

	order, err := g.client.GetOrder(orderID)
	if err != nil {
		return nil, normalizeError("query", err)
	}
	return recordFromAlpaca(order), nil
}

// ListOpenOrders returns all orders Alpaca reports as open, optionally
// filtered by symbol.
func (g *AlpacaGateway) ListOpenOrders(ctx context.Context, symbol string) ([]domain.OrderRecord, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransport, Op: "list_open", Err: err}
	}

	req := alpaca.GetOrdersRequest{
		Status: "open",
		Limit:  500,
	}
	if symbol != "" {
		req.Symbols = []string{symbol}
	}

	orders, err := g.client.GetOrders(req)
	if err != nil {
		return nil, normalizeError("list_open", err)
	}

	recs := make([]domain.OrderRecord, 0, len(orders))
	for i := range orders {
		recs = append(recs, *recordFromAlpaca(&orders[i]))
	}
	return recs, nil
}

// timeInForce reads the venue param, defaulting to a day order.
func timeInForce(params map[string]string) alpaca.TimeInForce {
	switch params["time_in_force"] {
	case "gtc":
		return alpaca.GTC
	case "ioc":
		return alpaca.IOC
	case "fok":
		return alpaca.FOK
	default:
		return alpaca.Day
	}
}

// recordFromAlpaca converts an Alpaca order into the common record shape,
// keeping the venue payload verbatim for audit.
func recordFromAlpaca(o *alpaca.Order) *domain.OrderRecord {
	rec := &domain.OrderRecord{
		VenueID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.Side(o.Side),
		Type:          domain.OrderType(o.Type),
		Status:        statusFromAlpaca(o.Status),
		FilledQty:     o.FilledQty,
		CreatedAt:     o.CreatedAt.UTC(),
		UpdatedAt:     o.UpdatedAt.UTC(),
	}
	if o.Qty != nil {
		rec.Qty = *o.Qty
	}
	if o.LimitPrice != nil {
		rec.Price = *o.LimitPrice
	}
	if o.FilledAvgPrice != nil {
		rec.FilledAvgPrice = *o.FilledAvgPrice
	}
	if raw, err := json.Marshal(o); err == nil {
		rec.Raw = raw
	}
	return rec
}

// statusFromAlpaca maps Alpaca's order states onto the common lifecycle.
// States with no local equivalent that still mean "working at the venue"
// collapse to open; closed-without-fill states collapse to canceled.
func statusFromAlpaca(status string) domain.OrderStatus {
	switch status {
	case "new", "accepted", "pending_new", "accepted_for_bidding",
		"pending_cancel", "pending_replace", "held", "stopped":
		return domain.OrderStatusOpen
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "filled", "calculated":
		return domain.OrderStatusFilled
	case "canceled", "expired", "replaced", "done_for_day":
		return domain.OrderStatusCanceled
	case "rejected", "suspended":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusError
	}
}

// normalizeError classifies an Alpaca client error into the gateway
// taxonomy, preserving the venue's error payload.
func normalizeError(op string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		kind := KindVenueRejected
		switch {
		case apiErr.StatusCode == 404:
			kind = KindNotFound
		case apiErr.StatusCode >= 500:
			kind = KindTransport
		}
		raw, _ := json.Marshal(apiErr)
		return &Error{Kind: kind, Op: op, Raw: raw, Err: err}
	}

	// Anything that is not a structured venue response is a transport
	// failure: DNS, timeouts, connection resets.
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	return &Error{Kind: KindTransport, Op: op, Raw: raw, Err: err}
}
