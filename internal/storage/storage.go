// Package storage opens the Repository selected by STORAGE_BACKEND.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"example.com/roster/internal/catalog"
	"example.com/roster/internal/config"
	"example.com/roster/internal/domain"
	"example.com/roster/internal/logging"
	"example.com/roster/internal/persistence/memory"
	"example.com/roster/internal/persistence/mongo"
	"example.com/roster/internal/persistence/postgres"
	"example.com/roster/internal/persistence/sqlite"
)

// Backend is an opened Repository plus the handles needed to release it.
type Backend struct {
	Name       string
	Repository domain.Repository
	// Pool is set for the postgres backend so the outbox can share it.
	Pool *pgxpool.Pool

	closers []func(context.Context) error
}

// Close releases every handle held by the backend.
func (b *Backend) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open connects to the configured backend. The memory backend starts with
// the catalog already loaded.
func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory, "":
		activities, err := Catalog(cfg)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: config.BackendMemory, Repository: memory.NewRepository(activities...)}, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return &Backend{
			Name:       config.BackendPostgres,
			Repository: postgres.NewRepository(pool),
			Pool:       pool,
			closers:    []func(context.Context) error{func(context.Context) error { pool.Close(); return nil }},
		}, nil

	case config.BackendMongo:
		repo, err := mongo.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Name:       config.BackendMongo,
			Repository: repo,
			closers:    []func(context.Context) error{repo.Close},
		}, nil

	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Name:       config.BackendSQLite,
			Repository: store,
			closers:    []func(context.Context) error{func(context.Context) error { return store.Close() }},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// Catalog returns the seed catalog from CATALOG_PATH, or the built-in one.
func Catalog(cfg config.Config) ([]domain.Activity, error) {
	if cfg.CatalogPath != "" {
		return catalog.Load(cfg.CatalogPath)
	}
	return catalog.Default()
}

// EnsureSeeded seeds repo with activities when it holds no activities yet.
// It reports whether seeding happened.
func EnsureSeeded(ctx context.Context, repo domain.Repository, activities []domain.Activity, logger *zap.Logger) (bool, error) {
	existing, err := repo.LoadAll(ctx)
	if err != nil {
		return false, fmt.Errorf("load activities: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}
	if err := repo.ClearAndSeed(ctx, activities); err != nil {
		return false, fmt.Errorf("seed activities: %w", err)
	}
	logging.OrNop(logger).Info("seeded empty store", zap.Int("activities", len(activities)))
	return true, nil
}
