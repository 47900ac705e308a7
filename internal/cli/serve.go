package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-anomaly/internal/database"
	"github.com/telhawk-systems/telhawk-anomaly/internal/dedup"
	"github.com/telhawk-systems/telhawk-anomaly/internal/evaluator"
	"github.com/telhawk-systems/telhawk-anomaly/internal/handlers"
	"github.com/telhawk-systems/telhawk-anomaly/internal/lease"
	"github.com/telhawk-systems/telhawk-anomaly/internal/logging"
	"github.com/telhawk-systems/telhawk-anomaly/internal/scheduler"
	"github.com/telhawk-systems/telhawk-anomaly/internal/server"
	"github.com/telhawk-systems/telhawk-anomaly/internal/service"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the evaluation scheduler and the alert review API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply database migrations on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !skipMigrations {
		logger.InfoContext(ctx, "Running database migrations")
		version, err := database.Migrate(cfg.Migrations.Path, cfg.Database.Postgres.ConnString())
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "Database migrations completed", slog.Uint64("version", uint64(version)))
	}

	store, err := connect(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	l, closeLease, err := openLease(ctx)
	if err != nil {
		return err
	}
	defer closeLease()

	eval := evaluator.NewEngine(store, store,
		evaluator.WithWorkers(cfg.Evaluator.Workers),
		evaluator.WithLogger(logger),
	)
	dd := dedup.NewEngine(store, dedup.WithLogger(logger))
	sched := scheduler.NewScheduler(eval, dd, l, cfg.Evaluator.Interval, logger)

	router := server.NewRouter(handlers.NewHandler(service.NewService(store, dd), logger))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go sched.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "Anomaly service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.InfoContext(ctx, "Shutting down")
	case err = <-serveErr:
		logger.ErrorContext(ctx, "Server error", logging.Error(err))
	}

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}

	logger.InfoContext(shutdownCtx, "Server stopped gracefully")
	return err
}

// openLease returns the Redis cycle lease when enabled, otherwise a nil
// lease so every cycle runs.
func openLease(ctx context.Context) (lease.Lease, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}

	client, err := lease.Connect(ctx, cfg.Redis.URL, cfg.Redis.PoolSize, cfg.Redis.MaxRetries)
	if err != nil {
		return nil, nil, err
	}
	logger.InfoContext(ctx, "Cycle lease enabled", slog.String("key", cfg.Evaluator.LeaseKey))

	return lease.NewRedisLease(client, cfg.Evaluator.LeaseKey, cfg.Redis.LeaseTTL), closeRedis(client), nil
}

func closeRedis(client *redis.Client) func() {
	return func() {
		if err := client.Close(); err != nil {
			logger.Error("Failed to close Redis client", logging.Error(err))
		}
	}
}
