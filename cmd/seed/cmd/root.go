// Package cmd implements the roster-seed command, which replaces the stored
// catalog with the seed activities.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"example.com/roster/internal/config"
	"example.com/roster/internal/domain"
	"example.com/roster/internal/storage"
)

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type seedOptions struct {
	backend     string
	catalogPath string
	sqlitePath  string
	dryRun      bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	var opts seedOptions

	rootCmd := &cobra.Command{
		Use:   "roster-seed",
		Short: "Clears the activity store and loads the seed catalog",
		Long: `roster-seed deletes every stored activity and inserts the seed catalog.
Connection settings come from the same environment variables as the API;
flags override them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.backend != "" {
				cfg.StorageBackend = strings.ToLower(opts.backend)
			}
			if opts.catalogPath != "" {
				cfg.CatalogPath = opts.catalogPath
			}
			if opts.sqlitePath != "" {
				cfg.SQLitePath = opts.sqlitePath
			}
			return seed(cmd.Context(), cfg, opts.dryRun, out)
		},
	}

	rootCmd.Flags().StringVarP(&opts.backend, "backend", "b", "", "storage backend (postgres, mongo, sqlite)")
	rootCmd.Flags().StringVarP(&opts.catalogPath, "catalog", "c", "", "YAML catalog file (default: built-in catalog)")
	rootCmd.Flags().StringVar(&opts.sqlitePath, "sqlite-path", "", "SQLite database file")
	rootCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the catalog without writing it")

	return rootCmd
}

func seed(ctx context.Context, cfg config.Config, dryRun bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	activities, err := storage.Catalog(cfg)
	if err != nil {
		return err
	}
	if dryRun {
		printActivities(out, activities)
		return nil
	}
	if cfg.StorageBackend == config.BackendMemory {
		return fmt.Errorf("the memory backend cannot be seeded; choose postgres, mongo or sqlite")
	}

	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close(context.Background())

	if err := backend.Repository.ClearAndSeed(ctx, activities); err != nil {
		return fmt.Errorf("seed %s: %w", backend.Name, err)
	}

	fmt.Fprintf(out, "Seeded %d activities into %s\n", len(activities), backend.Name)
	printActivities(out, activities)
	return nil
}

func printActivities(out io.Writer, activities []domain.Activity) {
	for _, a := range activities {
		fmt.Fprintf(out, "  %s (%d/%d)\n", a.Name, len(a.Participants), a.Capacity)
	}
}
