// Package gateway defines the venue adapter boundary: submitting,
// cancelling, and querying orders against a remote trading venue, with
// venue-specific responses and errors normalized into a common shape.
//
// Gateways translate protocol only. They perform no retries and hold no
// business state; failure handling and order tracking belong to the caller.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ctrader/internal/domain"
)

// Gateway abstracts order operations against a remote venue.
type Gateway interface {
	// Name returns the venue identifier (e.g. "alpaca", "simulator").
	Name() string

	// SubmitOrder sends a new order to the venue. The client order id is
	// generated by the caller before the call and is attached to the order
	// for idempotent correlation.
	SubmitOrder(ctx context.Context, req domain.OrderRequest, clientOrderID string) (*domain.OrderRecord, error)

	// CancelOrder requests cancellation of an open order by its venue id.
	// A nil return means the venue accepted the cancellation.
	CancelOrder(ctx context.Context, orderID, symbol string) error

	// GetOrder fetches the venue's current view of an order.
	GetOrder(ctx context.Context, orderID, symbol string) (*domain.OrderRecord, error)

	// ListOpenOrders returns all orders the venue reports as working,
	// optionally filtered by symbol (empty string means all symbols).
	ListOpenOrders(ctx context.Context, symbol string) ([]domain.OrderRecord, error)
}

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// Kind classifies a gateway failure. Callers branch on it: transport
// failures may be retryable by the caller, venue rejections are not, and
// not-found means the venue has no such order.
type Kind int

const (
	KindTransport Kind = iota
	KindVenueRejected
	KindNotFound
)

// String returns the kind's wire name.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindVenueRejected:
		return "venue_rejected"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error is a normalized gateway failure. Raw carries the venue's error
// payload verbatim for audit; Err is the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Raw  json.RawMessage
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a gateway transport failure.
func IsTransport(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Kind == KindTransport
}

// IsVenueRejected reports whether err is an explicit venue rejection.
func IsVenueRejected(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Kind == KindVenueRejected
}

// IsNotFound reports whether err means the venue has no such order.
func IsNotFound(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Kind == KindNotFound
}

// RawPayload extracts the raw venue payload from a gateway error, or nil.
func RawPayload(err error) json.RawMessage {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Raw
	}
	return nil
}
