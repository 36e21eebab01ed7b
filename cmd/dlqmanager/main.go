package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/roster/internal/config"
	"example.com/roster/internal/logging"
	"example.com/roster/internal/outbox"
)

const (
	defaultDLQBatchSize = 50
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	status := logging.ExitStatus(logger, "dlq manager stopped", run(cfg, logger.With(zap.String("component", "dlqmanager"))))
	_ = logger.Sync()
	os.Exit(status)
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redriver := outbox.NewRedriver(pool, cfg.DLQMaxRetries, defaultDLQBatchSize, logger)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		logger.Info("dlq manager metrics listening", zap.String("address", cfg.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(cfg.DLQPollInterval)
	defer ticker.Stop()

	logger.Info("dlq manager started",
		zap.Duration("interval", cfg.DLQPollInterval),
		zap.Int("max_retries", cfg.DLQMaxRetries),
	)

loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("dlq manager received shutdown signal")
			break loop
		case <-ticker.C:
			if _, err := redriver.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Error("dlq redrive failed", zap.Error(err))
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return metricsSrv.Shutdown(shutdownCtx)
}
