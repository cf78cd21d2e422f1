package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taskhub/api/internal/app"
	"taskhub/api/internal/config"
	"taskhub/api/internal/search"
	"taskhub/api/internal/session"
	"taskhub/api/internal/store"
)

// Serve runs the HTTP API until ctx is cancelled, then drains in-flight
// requests and pending index writes.
func Serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var primary search.Indexer
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, pgfts, pgfts, logger)
	defer searchService.Wait()

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for refresh sessions")
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		service = app.New(cfg, dataStore, redisStore, searchService, logger)
	} else {
		logger.Info("using postgres for refresh sessions")
		service = app.New(cfg, dataStore, dataStore, searchService, logger)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("taskhub api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

func newReindexCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the Meilisearch indexes from Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(e.cfg.MeiliURL) == "" {
				return errors.New("MEILI_URL is not set")
			}
			ctx := cmd.Context()
			db, err := e.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			meiliClient := search.NewMeili(e.cfg.MeiliURL, e.cfg.MeiliMasterKey, e.logger)
			defer meiliClient.Close()
			pgfts := search.NewPgFTS(db)
			count, err := search.NewService(meiliClient, pgfts, pgfts, e.logger).Reindex(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d records\n", count)
			return nil
		},
	}
}
