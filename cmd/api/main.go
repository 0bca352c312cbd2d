package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rfidattend/internal/attendance"
	"rfidattend/internal/card"
	"rfidattend/internal/clock"
	"rfidattend/internal/config"
	"rfidattend/internal/httpapi"
	"rfidattend/internal/httpmiddleware"
	"rfidattend/internal/ledger"
	"rfidattend/internal/logger"
	"rfidattend/internal/queue"
	"rfidattend/internal/refdata"
	"rfidattend/internal/store"
	"rfidattend/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("api server failed", zap.Error(err))
	}
}

func run(cfg config.App, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "rfid-attendance-api", cfg.OTELEndpoint)
	if err != nil {
		lg.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	zone, err := clock.NewZone(cfg.Timezone)
	if err != nil {
		return err
	}
	norm := card.Normalizer{DigitsOnly: cfg.CardDigitsOnly, TrimLeadingZeros: cfg.CardTrimLeadingZeros}

	sources := refdata.Sources{
		Students:    cfg.RosterStudents,
		Staff:       cfg.RosterStaff,
		Assignments: cfg.RosterAssignments,
		Timetable:   cfg.Timetable,
	}
	loaded, err := loadReference(sources, norm, cfg.StrictRoster, lg)
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}

	st, err := store.Open(ctx, store.Options{
		Backend:     cfg.StoreBackend,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	}, lg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	var rdb *store.Redis
	if cfg.NeedsRedis() {
		rdb = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer func() { _ = rdb.Close() }()
		if !rdb.Healthy(ctx) {
			lg.Warn("redis not reachable at startup", zap.String("addr", cfg.RedisAddr))
		}
	}

	var locker attendance.Locker
	switch cfg.LockBackend {
	case "redis":
		locker = store.NewRedisLocker(rdb.Client, cfg.StoreTimeout*2)
	case "postgres":
		locker = store.NewAdvisoryLocker(st.SQL)
	default:
		locker = store.NewMemoryLocker()
	}

	sinks, err := auditSinks(ctx, cfg, rdb, lg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := attendance.NewMetrics(reg)

	policy, err := attendance.ParsePolicy(cfg.DedupPolicy)
	if err != nil {
		return err
	}
	guard := attendance.NewGuard(policy, cfg.DedupWindow, st.Repo, locker)
	recorder := attendance.NewRecorder(guard, lg.Named("recorder"), metrics, sinks...)
	svc := attendance.NewService(loaded.Snapshot, zone, recorder, attendance.Options{
		KeepAlive:    cfg.KeepAlive(),
		StoreTimeout: cfg.StoreTimeout,
	}, lg.Named("scan"), metrics)

	health := []httpapi.HealthCheck{{Name: "store", Check: st.Repo.Ping}}
	if rdb != nil {
		health = append(health, httpapi.HealthCheck{Name: "redis", Check: rdb.Ping})
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Scanner: svc,
		Records: st.Repo,
		Reload: func(ctx context.Context) (httpapi.ReloadSummary, error) {
			l, err := loadReference(sources, norm, cfg.StrictRoster, lg)
			if err != nil {
				return httpapi.ReloadSummary{}, err
			}
			svc.Reload(l.Snapshot)
			return summarize(l), nil
		},
		Health:        health,
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Limiter:       httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		LegacyOK:      cfg.LegacyOKToken,
		Cards:         norm,
		JWTSigningKey: cfg.JWTSigningKey,
		JWTIssuer:     cfg.JWTIssuer,
		CORSOrigins:   cfg.CORSOrigins,
		Logger:        lg.Named("http"),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("store", st.Backend),
			zap.String("dedup", string(policy)),
			zap.String("timezone", cfg.Timezone),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	lg.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("server forced shutdown", zap.Error(err))
	}
	if err := recorder.Flush(shutdownCtx); err != nil {
		lg.Warn("audit appends still pending at exit", zap.Error(err))
	}
	lg.Info("server exited")
	return nil
}

// loadReference builds a snapshot and reports data-quality findings. With
// strict set, roster conflicts fail the load.
func loadReference(src refdata.Sources, norm card.Normalizer, strict bool, lg *zap.Logger) (refdata.Loaded, error) {
	l, err := refdata.Load(src, norm)
	if err != nil {
		return refdata.Loaded{}, err
	}
	if l.Conflicts != nil {
		for _, c := range l.Conflicts.Conflicts {
			lg.Warn("roster conflict", zap.String("kind", string(c.Kind)), zap.String("card", c.CardID), zap.Strings("names", c.Names))
		}
		if strict {
			return refdata.Loaded{}, l.Conflicts
		}
	}
	for _, o := range l.Overlaps {
		lg.Warn("overlapping timetable slots", zap.String("first", o.First.String()), zap.String("second", o.Second.String()))
	}
	sum := summarize(l)
	lg.Info("reference data loaded",
		zap.Int("students", sum.Students),
		zap.Int("staff", sum.Staff),
		zap.Int("slots", sum.Slots),
		zap.Int("conflicts", sum.Conflicts),
		zap.Int("overlaps", sum.Overlaps),
	)
	return l, nil
}

func summarize(l refdata.Loaded) httpapi.ReloadSummary {
	students, staff := l.Snapshot.Directory.Counts()
	sum := httpapi.ReloadSummary{
		Students: students,
		Staff:    staff,
		Slots:    l.Snapshot.Index.Len(),
		Overlaps: len(l.Overlaps),
	}
	if l.Conflicts != nil {
		sum.Conflicts = len(l.Conflicts.Conflicts)
	}
	return sum
}

// auditSinks wires the ledger. With a Redis queue the worker appends; with a
// memory queue an in-process drain does; with none the API appends directly.
func auditSinks(ctx context.Context, cfg config.App, rdb *store.Redis, lg *zap.Logger) ([]attendance.AuditSink, error) {
	switch cfg.QueueBackend {
	case "redis":
		q := queue.NewRedisQueue(rdb.Client, "", lg.Named("queue"))
		return []attendance.AuditSink{ledger.NewPublisher(q)}, nil
	case "memory":
		f, err := ledger.NewFile(cfg.LedgerPath)
		if err != nil {
			return nil, err
		}
		q := queue.NewInMemory(1024)
		go func() {
			if err := ledger.Drain(ctx, q, f, lg.Named("ledger")); err != nil {
				lg.Error("ledger drain stopped", zap.Error(err))
			}
		}()
		return []attendance.AuditSink{ledger.NewPublisher(q)}, nil
	default:
		if cfg.LedgerPath == "" {
			return nil, nil
		}
		f, err := ledger.NewFile(cfg.LedgerPath)
		if err != nil {
			return nil, err
		}
		return []attendance.AuditSink{f}, nil
	}
}
