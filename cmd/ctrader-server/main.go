package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"ctrader/internal/api"
	"ctrader/internal/config"
	"ctrader/internal/domain"
	"ctrader/internal/execution"
	"ctrader/internal/gateway"
	"ctrader/internal/ledger"
	"ctrader/internal/risk"
	"ctrader/internal/stream"
	"ctrader/internal/tracker"
	"ctrader/internal/util"
)

func main() {
	cfg, err := config.Load(os.Getenv("CTRADER_CONFIG"))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.LedgerPath), 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	store, err := ledger.Open(cfg.Storage.LedgerPath)
	if err != nil {
		log.Fatalf("opening ledger: %v", err)
	}
	defer store.Close()

	// Select the venue adapter.
	var gw gateway.Gateway
	var sim *gateway.Simulator
	switch cfg.Gateway.Venue {
	case "alpaca":
		gw = gateway.NewAlpacaGateway(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Gateway.RateLimitPerMin)
	case "sim", "":
		sim = gateway.NewSimulator(logger, cfg.Gateway.FillDelay())
		gw = sim
	default:
		log.Fatalf("unknown venue %q", cfg.Gateway.Venue)
	}

	riskMgr := risk.NewManager(logger, risk.Limits{
		MaxOrderQty:     decimal.NewFromFloat(cfg.Risk.MaxOrderQty),
		MaxOrderValue:   decimal.NewFromFloat(cfg.Risk.MaxOrderValue),
		MaxPositionSize: decimal.NewFromFloat(cfg.Risk.MaxPositionSize),
		MaxOpenOrders:   cfg.Risk.MaxOpenOrders,
		AllowedSymbols:  cfg.Risk.AllowedSymbols,
	})

	mgr := execution.NewManager(logger, gw, tracker.New(logger), store)
	handler := execution.NewHandler(logger, mgr, store, riskMgr, execution.HandlerConfig{
		DefaultOrderType: domain.OrderType(cfg.Signals.DefaultOrderType),
		StrengthBase:     decimal.NewFromFloat(cfg.Signals.StrengthBase),
	})

	hub := api.NewHub(logger)
	mgr.SetNotify(func(rec domain.OrderRecord) {
		hub.BroadcastRecord(rec)
		riskMgr.RecordExecution(rec)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go hub.Run(ctx)

	// The simulator reports fills on a channel; a live venue pushes them
	// over the update stream instead.
	if sim != nil {
		go func() {
			for {
				select {
				case upd := <-sim.Updates():
					mgr.UpdateLocalOrderState(ctx, upd)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if err := mgr.Recover(ctx); err != nil {
		logger.Error("order recovery failed", "error", err)
	}

	if cfg.Sweep.Enabled {
		sweep := execution.NewSweep(logger, mgr, cfg.Sweep.Interval(), cfg.Sweep.StaleAfter())
		go sweep.Run(ctx)
	}

	if cfg.Stream.Enabled && cfg.Stream.URL != "" {
		sc := stream.NewClient(logger, cfg.Stream.URL, mgr)
		if cfg.Alpaca.APIKey != "" {
			sc.SetHeader("APCA-API-KEY-ID", cfg.Alpaca.APIKey)
			sc.SetHeader("APCA-API-SECRET-KEY", cfg.Alpaca.APISecret)
		}
		go sc.Run(ctx)
	}

	srv := api.NewServer(logger, mgr, handler, store, store, hub, gw.Name())
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("ctrader server listening", "addr", httpServer.Addr, "venue", gw.Name())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
