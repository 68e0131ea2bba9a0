// Package risk implements pre-trade checks applied before any order
// reaches the gateway.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"ctrader/internal/domain"
)

// Limits configures the pre-trade checks. A zero value disables the
// corresponding check.
type Limits struct {
	// MaxOrderQty caps the quantity of a single order.
	MaxOrderQty decimal.Decimal
	// MaxOrderValue caps quantity times price of a single order.
	MaxOrderValue decimal.Decimal
	// MaxPositionSize caps the absolute net position per symbol that an
	// order may create.
	MaxPositionSize decimal.Decimal
	// MaxOpenOrders caps the number of simultaneously working orders.
	MaxOpenOrders int
	// AllowedSymbols restricts trading to the listed symbols.
	AllowedSymbols []string
}

// Error reports which limit rejected an order.
type Error struct {
	Rule   string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("risk check failed: %s: %s", e.Rule, e.Detail)
}

// Manager evaluates orders against configured limits. It tracks the net
// position per symbol from the fills reported through RecordFill.
type Manager struct {
	log     *slog.Logger
	limits  Limits
	allowed map[string]bool

	mu        sync.Mutex
	positions map[string]decimal.Decimal
	prices    map[string]decimal.Decimal
	fills     map[string]decimal.Decimal
}

// NewManager creates a Manager enforcing the given limits.
func NewManager(log *slog.Logger, limits Limits) *Manager {
	if log == nil {
		log = slog.Default()
	}
	var allowed map[string]bool
	if len(limits.AllowedSymbols) > 0 {
		allowed = make(map[string]bool, len(limits.AllowedSymbols))
		for _, s := range limits.AllowedSymbols {
			allowed[s] = true
		}
	}
	return &Manager{
		log:       log.With("component", "risk"),
		limits:    limits,
		allowed:   allowed,
		positions: make(map[string]decimal.Decimal),
		prices:    make(map[string]decimal.Decimal),
		fills:     make(map[string]decimal.Decimal),
	}
}

// SetPrice records the latest reference price for a symbol, used to value
// market orders.
func (m *Manager) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// RecordFill updates the tracked net position for a symbol after a fill.
func (m *Manager) RecordFill(symbol string, side domain.Side, qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyFill(symbol, side, qty)
}

// RecordExecution folds an order's reported state into the tracked
// position. Records carry the cumulative filled quantity, so only the
// growth since the last report moves the position; redelivered or merged
// updates apply nothing. Terminal records release the per-order
// bookkeeping.
func (m *Manager) RecordExecution(rec domain.OrderRecord) {
	key := rec.Key()
	m.mu.Lock()
	defer m.mu.Unlock()

	if delta := rec.FilledQty.Sub(m.fills[key]); delta.IsPositive() {
		m.applyFill(rec.Symbol, rec.Side, delta)
	}

	if rec.Status.Terminal() {
		delete(m.fills, key)
	} else {
		m.fills[key] = rec.FilledQty
	}
}

// applyFill adjusts the net position for a symbol. Callers hold m.mu.
func (m *Manager) applyFill(symbol string, side domain.Side, qty decimal.Decimal) {
	pos := m.positions[symbol]
	if side == domain.SideSell {
		pos = pos.Sub(qty)
	} else {
		pos = pos.Add(qty)
	}
	m.positions[symbol] = pos
	m.log.Debug("position updated", "symbol", symbol, "position", pos.String())
}

// Position returns the tracked net position for a symbol.
func (m *Manager) Position(symbol string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[symbol]
}

// CheckOrder evaluates whether the proposed order complies with the
// configured limits. openOrders is the caller's count of currently
// working orders. A nil return means the order may be submitted.
func (m *Manager) CheckOrder(_ context.Context, req domain.OrderRequest, openOrders int) error {
	if m.allowed != nil && !m.allowed[req.Symbol] {
		return m.fail("allowed_symbols", fmt.Sprintf("%s is not in the allowed symbol list", req.Symbol))
	}

	if m.limits.MaxOrderQty.IsPositive() && req.Qty.GreaterThan(m.limits.MaxOrderQty) {
		return m.fail("max_order_qty",
			fmt.Sprintf("qty %s exceeds limit %s", req.Qty, m.limits.MaxOrderQty))
	}

	if m.limits.MaxOpenOrders > 0 && openOrders >= m.limits.MaxOpenOrders {
		return m.fail("max_open_orders",
			fmt.Sprintf("%d orders already working, limit %d", openOrders, m.limits.MaxOpenOrders))
	}

	if m.limits.MaxOrderValue.IsPositive() {
		price, ok := m.referencePrice(req)
		if !ok {
			// Without a price the order cannot be valued. Fail closed.
			return m.fail("max_order_value",
				fmt.Sprintf("no reference price for %s", req.Symbol))
		}
		value := req.Qty.Mul(price)
		if value.GreaterThan(m.limits.MaxOrderValue) {
			return m.fail("max_order_value",
				fmt.Sprintf("value %s exceeds limit %s", value, m.limits.MaxOrderValue))
		}
	}

	if m.limits.MaxPositionSize.IsPositive() {
		m.mu.Lock()
		pos := m.positions[req.Symbol]
		m.mu.Unlock()

		next := pos.Add(req.Qty)
		if req.Side == domain.SideSell {
			next = pos.Sub(req.Qty)
		}
		if next.Abs().GreaterThan(m.limits.MaxPositionSize) {
			return m.fail("max_position_size",
				fmt.Sprintf("position would become %s, limit %s", next, m.limits.MaxPositionSize))
		}
	}

	return nil
}

// referencePrice values the order: the limit price when present,
// otherwise the last recorded reference price for the symbol.
func (m *Manager) referencePrice(req domain.OrderRequest) (decimal.Decimal, bool) {
	if req.Price.IsPositive() {
		return req.Price, true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[req.Symbol]
	return p, ok
}

func (m *Manager) fail(rule, detail string) error {
	m.log.Warn("order rejected by risk check", "rule", rule, "detail", detail)
	return &Error{Rule: rule, Detail: detail}
}
