package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"rfidattend/internal/clock"
	"rfidattend/internal/config"
	"rfidattend/internal/ledger"
	"rfidattend/internal/logger"
	"rfidattend/internal/queue"
	"rfidattend/internal/report"
	"rfidattend/internal/store"
)

// Worker drains the ledger queue into the CSV ledger and keeps today's xlsx
// snapshot current.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zone, err := clock.NewZone(cfg.Timezone)
	if err != nil {
		lg.Fatal("timezone", zap.Error(err))
	}

	st, err := store.Open(ctx, store.Options{
		Backend:     cfg.StoreBackend,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	}, lg)
	if err != nil {
		lg.Fatal("open store", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	var wg sync.WaitGroup

	if cfg.QueueBackend == "redis" {
		rdb := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer func() { _ = rdb.Close() }()
		if !rdb.Healthy(ctx) {
			lg.Warn("redis not reachable at startup; will keep retrying", zap.String("addr", cfg.RedisAddr))
		}
		f, err := ledger.NewFile(cfg.LedgerPath)
		if err != nil {
			lg.Fatal("open ledger", zap.Error(err))
		}
		q := queue.NewRedisQueue(rdb.Client, "", lg.Named("queue"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Drain(ctx, q, f, lg.Named("ledger")); err != nil {
				lg.Error("ledger drain stopped", zap.Error(err))
			}
		}()
		lg.Info("ledger consumer started", zap.String("path", f.Path()))
	} else {
		lg.Info("queue backend is not shared; the api appends the ledger itself", zap.String("queue", cfg.QueueBackend))
	}

	writeSnapshot := func(ctx context.Context) {
		date := zone.Now().Date()
		recs, err := report.Collect(ctx, st.Repo, date)
		if err != nil {
			lg.Error("snapshot query failed", zap.String("date", date), zap.Error(err))
			return
		}
		path, err := report.WriteDaily(cfg.ReportDir, date, recs)
		if err != nil {
			lg.Error("snapshot write failed", zap.String("date", date), zap.Error(err))
			return
		}
		lg.Info("snapshot written", zap.String("path", path), zap.Int("records", len(recs)))
	}

	ticker := time.NewTicker(cfg.ReportInterval)
	defer ticker.Stop()
	writeSnapshot(ctx)
	lg.Info("worker started", zap.Duration("report_interval", cfg.ReportInterval))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			writeSnapshot(ctx)
		}
	}

	wg.Wait()
	finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	writeSnapshot(finalCtx)
	lg.Info("worker stopped")
}
