// Package cli is the taskhub operator command tree.
package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskhub/api/internal/config"
	"taskhub/api/internal/logging"
	"taskhub/api/internal/store"
)

// env is loaded once before any subcommand runs.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func (e *env) openDB(ctx context.Context) (*sql.DB, error) {
	return store.Open(ctx, e.cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns: e.cfg.DBMaxOpenConns,
		MaxIdleConns: e.cfg.DBMaxIdleConns,
	})
}

// NewRootCommand builds the taskhub command tree.
func NewRootCommand() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "taskhub",
		Short:         "Operate the taskhub workspace, project and task service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			e.cfg, e.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}
	root.AddCommand(
		newServeCommand(e),
		newMigrateCommand(e),
		newReindexCommand(e),
		newTreeCommand(e),
	)
	return root
}

func newServeCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Serve(cmd.Context(), e.cfg, e.logger)
		},
	}
}

func newMigrateCommand(e *env) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := e.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				version, err := store.RollbackLatest(ctx, db, e.cfg.MigrationsDir, e.logger)
				if err != nil {
					return err
				}
				if version == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", version)
				return nil
			}
			if err := store.ApplyMigrations(ctx, db, e.cfg.MigrationsDir, e.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration instead")
	return cmd
}
