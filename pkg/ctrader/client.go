// Package ctrader provides a Go SDK for interacting with the ctrader-server
// API: order submission and cancellation, signal intake, and ledger queries.
package ctrader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ctrader/internal/util"
)

// APIError is a non-2xx answer from the server, carrying the decoded
// error message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Client is an HTTP client for the ctrader-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getRetries int
}

// NewClient creates a new ctrader API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		getRetries: 3,
	}
}

// SubmitOrder submits a new order and returns the venue order id.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/orders", nil, req, &out); err != nil {
		return "", err
	}
	return out.OrderID, nil
}

// CancelOrder requests cancellation of an open order. symbol narrows the
// venue lookup and may be empty.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	return c.do(ctx, http.MethodDelete, "/api/orders/"+url.PathEscape(orderID), symbolQuery(symbol), nil, nil)
}

// GetOrder returns the current state of an order, querying the venue for
// orders the server no longer tracks.
func (c *Client) GetOrder(ctx context.Context, orderID, symbol string) (*Order, error) {
	var out Order
	if err := c.get(ctx, "/api/orders/"+url.PathEscape(orderID), symbolQuery(symbol), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOpenOrders returns the venue's open orders, optionally filtered by
// symbol.
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var out struct {
		Orders []Order `json:"orders"`
	}
	if err := c.get(ctx, "/api/orders", symbolQuery(symbol), &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// SubmitSignal submits a strategy signal and returns the venue id of the
// order it produced.
func (c *Client) SubmitSignal(ctx context.Context, sig Signal) (string, error) {
	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/signals", nil, sig, &out); err != nil {
		return "", err
	}
	return out.OrderID, nil
}

// ListSignals returns recorded signals, newest first. strategyID filters
// when non-empty; limit <= 0 uses the server default.
func (c *Client) ListSignals(ctx context.Context, strategyID string, limit int) ([]Signal, error) {
	q := url.Values{}
	if strategyID != "" {
		q.Set("strategy_id", strategyID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Signals []Signal `json:"signals"`
	}
	if err := c.get(ctx, "/api/signals", q, &out); err != nil {
		return nil, err
	}
	return out.Signals, nil
}

// ListExecutions returns settled orders from the ledger, most recently
// updated first. status and symbol filter when non-empty; limit <= 0 uses
// the server default.
func (c *Client) ListExecutions(ctx context.Context, status, symbol string, limit int) ([]Order, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Executions []Order `json:"executions"`
	}
	if err := c.get(ctx, "/api/executions", q, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

// GetExecution returns one settled order from the ledger by venue id.
func (c *Client) GetExecution(ctx context.Context, orderID string) (*Order, error) {
	var out Order
	if err := c.get(ctx, "/api/executions/"+url.PathEscape(orderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.get(ctx, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// get issues an idempotent GET, retrying transport failures and 5xx
// answers with backoff. 4xx answers are authoritative and returned as-is.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	var lastErr error
	retryErr := util.Retry(ctx, c.getRetries, 250*time.Millisecond, func() error {
		lastErr = c.do(ctx, http.MethodGet, path, q, nil, out)
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return nil
		}
		return lastErr
	})
	if lastErr != nil {
		return lastErr
	}
	return retryErr
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var msg struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		if msg.Error == "" {
			msg.Error = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func symbolQuery(symbol string) url.Values {
	if symbol == "" {
		return nil
	}
	return url.Values{"symbol": []string{symbol}}
}
