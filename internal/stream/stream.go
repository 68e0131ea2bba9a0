// Package stream consumes an order-update feed over a WebSocket connection
// and applies each event to the local order state. Delivery is at-least-once
// and unordered across orders; the lifecycle transition rules decide what
// sticks, and the reconciliation sweep recovers whatever a dropped
// connection missed. The client itself never buffers or replays.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ctrader/internal/domain"
	"ctrader/internal/util"
)

// Applier receives decoded order updates. *execution.Manager satisfies it.
type Applier interface {
	UpdateLocalOrderState(ctx context.Context, upd domain.OrderUpdate)
}

// Client maintains a WebSocket subscription to an order-update feed,
// re-dialing with capped exponential backoff whenever the connection drops.
type Client struct {
	log     *slog.Logger
	url     string
	applier Applier
	header  http.Header

	ReadTimeout  time.Duration
	PingInterval time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a stream client for the given feed URL. Updates are
// handed to applier in arrival order per connection.
func NewClient(log *slog.Logger, url string, applier Applier) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		log:          log.With("component", "stream"),
		url:          url,
		applier:      applier,
		header:       make(http.Header),
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// SetHeader sets a header sent with the dial request, for feeds that
// authenticate at the handshake.
func (c *Client) SetHeader(key, value string) {
	c.header.Set(key, value)
}

// Run dials the feed and processes updates until ctx is cancelled. Dial
// failures back off exponentially from one second to one minute; a
// connection that drops after working is re-dialed immediately.
func (c *Client) Run(ctx context.Context) {
	c.log.Info("update stream started", "url", c.url)
	defer c.log.Info("update stream stopped")

	retries := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			delay := util.Backoff(retries, time.Second, time.Minute)
			c.log.Warn("stream connect failed", "error", err, "retry_in", delay)
			retries++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		retries = 0

		// The watcher closes the connection when ctx is cancelled so the
		// blocking read below unblocks promptly.
		connCtx, cancel := context.WithCancel(ctx)
		go func() {
			<-connCtx.Done()
			c.close()
		}()
		if c.PingInterval > 0 {
			go c.pingLoop(connCtx)
		}

		c.readLoop(connCtx)
		cancel()
		c.close()
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("stream connected")
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("stream read failed", "error", err)
			}
			return
		}

		c.handleMessage(ctx, msg)
	}
}

// handleMessage decodes one frame and applies it. A frame that does not
// decode, or that names no order, is logged and dropped; a bad event must
// never take down the consumer.
func (c *Client) handleMessage(ctx context.Context, msg []byte) {
	var upd domain.OrderUpdate
	if err := json.Unmarshal(msg, &upd); err != nil {
		c.log.Warn("dropping malformed update frame", "error", err)
		return
	}
	if upd.OrderID == "" {
		c.log.Warn("dropping update with no order id")
		return
	}

	c.applier.UpdateLocalOrderState(ctx, upd)
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
