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
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/roster/internal/config"
	"example.com/roster/internal/consumer"
	"example.com/roster/internal/logging"
	"example.com/roster/internal/persistence/postgres"
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

	status := logging.ExitStatus(logger, "consumer stopped", run(cfg, logger.With(zap.String("component", "consumer"))))
	_ = logger.Sync()
	os.Exit(status)
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var handler consumer.Handler = consumer.NewLogHandler(logger)
	if cfg.StorageBackend == config.BackendPostgres {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		handler = consumer.NewPersistenceHandler(pool)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("consumer metrics listening", zap.String("address", cfg.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(logger.With(zap.String("topic", topic))))

		g.Go(func() error {
			defer reader.Close()

			logger.Info("consumer started", zap.String("topic", topic), zap.String("group", cfg.ConsumerGroupID))
			if err := proc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consumer %s: %w", topic, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("consumer shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
