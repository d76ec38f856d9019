// Package main wires together the Review Acquisition Engine binary: load
// config, build the Postgres-backed store and Redis-backed lock, then either
// sync every registered Source once (-sweep) or serve the metrics/health
// endpoints until shutdown; in the latter mode no sync is started.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Laque-Maranda12/yandex-reviews/internal/config"
	"github.com/Laque-Maranda12/yandex-reviews/internal/logging"
	"github.com/Laque-Maranda12/yandex-reviews/internal/metrics"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/engine"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/lock"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	sweep := flag.Bool("sweep", false, "Sync every registered source once, then exit")
	incremental := flag.Bool("incremental", false, "Use the incremental (new-reviews-only) sync path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	materializer, err := store.New(ctx, store.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: cfg.DB.MaxConnLifetime(),
	})
	if err != nil {
		logger.Error("store init failed", zap.Error(err))
		os.Exit(1)
	}
	defer materializer.Close()

	locker := lock.New(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, logger.Named("lock"))

	eng := engine.New(engine.Config{
		Proxies:           cfg.HTTP.Proxies,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		CaptchaKey:        cfg.Captcha.APIKey,
		CaptchaURL:        cfg.Captcha.URL,
		RedisAddr:         cfg.Redis.Addr,
		RedisPass:         cfg.Redis.Pass,
		RedisDB:           cfg.Redis.DB,
		LockTTL:           cfg.LockTTL(),
	}, materializer, materializer, locker, logger.Named("engine"))

	if *sweep {
		runSweep(ctx, eng, *incremental, logger)
		return
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func runSweep(ctx context.Context, eng *engine.Engine, incremental bool, logger *zap.Logger) {
	results := eng.SyncAllSources(ctx, incremental)
	ok, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			logger.Warn("source sync failed", zap.String("source_id", r.SourceID), zap.Error(r.Err))
			continue
		}
		ok++
	}
	logger.Info("sweep complete", zap.Int("ok", ok), zap.Int("failed", failed))
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
