package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/splax/apiwatch/internal/proxy"
	"github.com/splax/apiwatch/pkg/config"
	"github.com/splax/apiwatch/pkg/logger"
	"github.com/splax/apiwatch/pkg/report"
)

func main() {
	cfg := config.LoadProxyConfig()
	log := logger.New("proxy", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emitter, err := report.NewEmitter(cfg.CollectorURL, &http.Client{Timeout: cfg.ReportTimeout})
	if err != nil {
		log.Error("failed to configure metric reporting", "error", err)
		os.Exit(1)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = fmt.Sprintf("port-%d", cfg.SourcePort)
	}
	handler, err := proxy.New(cfg.UpstreamURL, emitter, log, proxy.Options{
		ServiceName:     serviceName,
		SourcePort:      cfg.SourcePort,
		PreserveHost:    cfg.PreserveHost,
		UpstreamTimeout: cfg.UpstreamTimeout,
		ReportTimeout:   cfg.ReportTimeout,
	})
	if err != nil {
		log.Error("failed to configure proxy", "upstream", cfg.UpstreamURL, "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("proxy starting", "addr", cfg.Addr, "upstream", cfg.UpstreamURL, "collector", cfg.CollectorURL)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("proxy stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
