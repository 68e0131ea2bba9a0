package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"ctrader/internal/domain"
	"ctrader/internal/ledger"
)

// RiskChecker is the narrow pre-trade surface the handler consults before
// any signal becomes an order.
type RiskChecker interface {
	CheckOrder(ctx context.Context, req domain.OrderRequest, openOrders int) error
}

// HandlerConfig tunes how signals translate into orders.
type HandlerConfig struct {
	// DefaultOrderType is used when the signal does not name one.
	DefaultOrderType domain.OrderType
	// StrengthBase scales signal strength into a quantity when the signal
	// carries none: qty = StrengthBase * strength.
	StrengthBase decimal.Decimal
}

// Handler turns strategy signals into orders: validate, record the signal
// for audit, risk-check, then submit through the Manager.
type Handler struct {
	log     *slog.Logger
	manager *Manager
	signals ledger.SignalStore
	risk    RiskChecker
	cfg     HandlerConfig
}

// NewHandler creates a Handler. signals and risk may be nil, disabling
// signal persistence and risk checks respectively.
func NewHandler(log *slog.Logger, m *Manager, signals ledger.SignalStore, risk RiskChecker, cfg HandlerConfig) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DefaultOrderType == "" {
		cfg.DefaultOrderType = domain.OrderTypeMarket
	}
	return &Handler{
		log:     log.With("component", "signal_handler"),
		manager: m,
		signals: signals,
		risk:    risk,
		cfg:     cfg,
	}
}

// HandleSignal processes one strategy signal end to end and returns the
// venue order id when an order was placed. Signal persistence is
// best-effort: a storage failure is logged and never blocks execution.
func (h *Handler) HandleSignal(ctx context.Context, sig domain.Signal) (string, error) {
	if err := sig.Validate(); err != nil {
		h.log.Warn("signal rejected", "strategy_id", sig.StrategyID, "error", err)
		return "", err
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	log := h.log.With("strategy_id", sig.StrategyID, "symbol", sig.Symbol)
	log.Info("signal received", "side", string(sig.Side), "type", sig.Type, "strength", sig.Strength)

	if h.signals != nil {
		if err := h.signals.SaveSignal(ctx, &sig); err != nil {
			log.Error("signal not persisted", "error", err)
		}
	}

	req, err := h.translate(sig)
	if err != nil {
		log.Warn("signal not executable", "error", err)
		return "", err
	}

	if h.risk != nil {
		if err := h.risk.CheckOrder(ctx, req, h.manager.TrackedCount()); err != nil {
			log.Warn("signal blocked by risk limits", "error", err)
			return "", fmt.Errorf("signal rejected: %w", err)
		}
	}

	orderID, err := h.manager.CreateOrder(ctx, req)
	if err != nil {
		return "", err
	}
	log.Info("order created from signal", "order_id", orderID)
	return orderID, nil
}

// translate maps a signal onto an order request. Quantity comes from the
// signal itself, or is scaled from signal strength when configured.
func (h *Handler) translate(sig domain.Signal) (domain.OrderRequest, error) {
	orderType := sig.OrderType
	if orderType == "" {
		orderType = h.cfg.DefaultOrderType
	}

	qty := sig.Qty
	if !qty.IsPositive() && sig.Strength > 0 && h.cfg.StrengthBase.IsPositive() {
		qty = h.cfg.StrengthBase.Mul(decimal.NewFromFloat(sig.Strength))
	}
	if !qty.IsPositive() {
		return domain.OrderRequest{}, &domain.ValidationError{
			Field:  "qty",
			Reason: "signal carries no quantity and no usable strength",
		}
	}

	return domain.OrderRequest{
		Symbol: sig.Symbol,
		Side:   sig.Side,
		Type:   orderType,
		Qty:    qty,
		Price:  sig.Price,
		Params: sig.Metadata,
	}, nil
}
