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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/roster/internal/api"
	"example.com/roster/internal/config"
	"example.com/roster/internal/logging"
	"example.com/roster/internal/notify"
	"example.com/roster/internal/outbox"
	"example.com/roster/internal/roster"
	"example.com/roster/internal/storage"
	httptransport "example.com/roster/internal/transport/http"
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

	status := logging.ExitStatus(logger, "roster api stopped", run(cfg, logger))
	_ = logger.Sync()
	os.Exit(status)
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(context.Background()); err != nil {
			logger.Warn("close storage", zap.Error(err))
		}
	}()

	if cfg.SeedIfEmpty && backend.Name != config.BackendMemory {
		activities, err := storage.Catalog(cfg)
		if err != nil {
			return err
		}
		if _, err := storage.EnsureSeeded(ctx, backend.Repository, activities, logger); err != nil {
			return err
		}
	}

	notifier, closeNotifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	store, err := roster.New(ctx, backend.Repository,
		roster.WithLogger(logger.With(zap.String("component", "roster"))),
		roster.WithNotifier(notifier),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	api.NewHandler(store,
		api.WithLogger(logger.With(zap.String("component", "api"))),
		api.WithStaticDir(cfg.StaticDir),
	).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.Chain(mux,
			httptransport.RequestLogger(logger.With(zap.String("component", "http"))),
			httptransport.CORS(cfg.CORSOrigin),
		),
	)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.OutboxEnabled {
		publisher := outbox.NewKafkaPublisher(cfg.KafkaBrokers)
		defer publisher.Close()

		relay := outbox.NewRelay(backend.Pool, publisher,
			outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL),
			outbox.RelayConfig{
				PollInterval: cfg.OutboxPollInterval,
				BatchSize:    cfg.OutboxBatchSize,
				ClaimTimeout: cfg.OutboxClaimTimeout,
				RetryBase:    cfg.DLQBaseDelay,
			},
			logger,
		)
		g.Go(func() error {
			relay.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("roster api listening",
			zap.String("address", cfg.HTTPAddress),
			zap.String("storage", backend.Name),
			zap.Bool("outbox", cfg.OutboxEnabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Notifier, func(), error) {
	var (
		fanout  notify.Fanout
		closers []func() error
	)

	if cfg.RedisAddr != "" {
		redisNotifier, err := notify.NewRedisNotifier(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return nil, nil, err
		}
		fanout = append(fanout, redisNotifier)
		closers = append(closers, redisNotifier.Close)
		logger.Info("publishing roster changes to redis", zap.String("channel", cfg.RedisChannel))
	}
	if cfg.NotifyWebhookURL != "" {
		fanout = append(fanout, notify.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyWebhookToken, cfg.NotifyTimeout))
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close notifier", zap.Error(err))
			}
		}
	}
	if len(fanout) == 0 {
		return notify.NoopNotifier{}, closeAll, nil
	}
	return fanout, closeAll, nil
}
