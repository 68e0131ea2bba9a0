// Daily export job: copy one day's ledger rows into the Parquet archive
// for audit hand-off. Re-running a day merges with the existing file.
//
// Usage:
//
//	ctrader-archive [YYYY-MM-DD]
//
// Without a date the current UTC day is exported.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ctrader/internal/config"
	"ctrader/internal/ledger"
	"ctrader/internal/util"
)

func main() {
	cfg, err := config.Load(os.Getenv("CTRADER_CONFIG"))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	now := time.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if len(os.Args) > 1 {
		day, err = time.Parse("2006-01-02", os.Args[1])
		if err != nil {
			log.Fatalf("invalid date %q: %v", os.Args[1], err)
		}
	}

	store, err := ledger.Open(cfg.Storage.LedgerPath)
	if err != nil {
		log.Fatalf("opening ledger: %v", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recs, err := store.ListUpdatedBetween(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		log.Fatalf("reading ledger: %v", err)
	}
	if len(recs) == 0 {
		logger.Info("no executions to export", "date", day.Format("2006-01-02"))
		return
	}

	arch := ledger.NewArchive(cfg.Storage.DataDir)
	if err := arch.Write(recs, day); err != nil {
		log.Fatalf("writing archive: %v", err)
	}
	logger.Info("exported executions",
		"date", day.Format("2006-01-02"), "count", len(recs), "path", arch.Path(day))
}
