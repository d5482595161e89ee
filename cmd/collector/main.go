package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/splax/apiwatch/internal/httpx"
	"github.com/splax/apiwatch/internal/repository/sqlite"
	"github.com/splax/apiwatch/internal/service/ingest"
	"github.com/splax/apiwatch/internal/service/query"
	"github.com/splax/apiwatch/internal/service/retention"
	"github.com/splax/apiwatch/internal/ws"
	"github.com/splax/apiwatch/pkg/config"
	"github.com/splax/apiwatch/pkg/logger"
)

func main() {
	cfg := config.LoadCollectorConfig()
	log := logger.New("collector", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to open metric store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Migrations must complete before the ingestion endpoint is exposed.
	if err := sqlite.Migrate(ctx, store); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	log.Info("metric store ready", "path", cfg.DatabasePath)

	hub := ws.NewHub()
	ingestSvc := ingest.New(store, hub, log, cfg.RecentCacheSize)
	querySvc := query.New(store, log)

	sweeper := retention.New(store, log, time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.SweepInterval)
	go sweeper.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, ingestSvc, querySvc, hub, limiter, cfg.IngestRateLimit, store.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("collector starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("collector stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
