// cmd/service/main.go
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

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-commit-indexer/internal/api"
	"github-commit-indexer/internal/cache"
	"github-commit-indexer/internal/config"
	"github-commit-indexer/internal/database"
	"github-commit-indexer/internal/github"
	"github-commit-indexer/internal/queue"
	"github-commit-indexer/internal/syncer"
	"github-commit-indexer/internal/worker"
)

const (
	persistConsumer = "commit-workers"
	fetchConsumer   = "repository-fetchers"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.MigrationsPath, cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")
	queries := database.New(dbpool)

	// 5. Cache and work dispatcher
	kv, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	q, err := openQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	// 6. Initialize application components
	ghClient, err := github.NewClient(github.Options{
		Token:     cfg.GithubToken,
		BaseURL:   cfg.GithubBaseURL,
		RateLimit: cfg.GithubRateLimit,
		RateBurst: cfg.GithubRateBurst,
		Timeout:   cfg.GithubRequestTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create github client: %w", err)
	}

	commitWorker := worker.New(queries, kv, worker.Options{
		CacheTTL: cfg.CacheTTL,
		FastPath: cfg.CacheFastPath,
		Timeout:  cfg.WorkerTimeout,
	}, logger)

	appSyncer := syncer.NewSyncer(queries, ghClient, q, kv, syncer.Options{
		SeedRepository:   cfg.SeedRepository,
		SweepInterval:    cfg.SweepInterval,
		BatchSize:        cfg.SweepBatchSize,
		RepoTimeout:      cfg.RepoTimeout,
		MaxCatchUpRounds: cfg.MaxCatchUpRounds,
		PageSize:         cfg.GithubPageSize,
	}, logger)

	// 7. Start consuming work
	persistJobs, err := q.Consume(ctx, queue.SubjectPersist, persistConsumer, cfg.WorkerConcurrency, commitWorker.HandlePersist)
	if err != nil {
		return err
	}
	defer persistJobs.Stop()

	fetchJobs, err := q.Consume(ctx, queue.SubjectFetch, fetchConsumer, cfg.WorkerConcurrency, appSyncer.HandleFetch)
	if err != nil {
		return err
	}
	defer fetchJobs.Stop()

	// 8. Serve the API
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(queries, appSyncer, ghClient, q, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 9. Seed and arm the sweep
	if err := appSyncer.Start(ctx); err != nil {
		logger.Error("Syncer started with an error", "error", err)
	}

	// 10. Wait for shutdown signal
	logger.Info("Application started. Waiting for shutdown signal...")
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := appSyncer.Stop(); err != nil {
		logger.Error("Syncer shutdown failed", "error", err)
	}

	logger.Info("Exiting")
	return nil
}

func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Cache, error) {
	if cfg.RedisURL == "" {
		logger.Info("Using in-process cache")
		return cache.NewRistretto(logger)
	}
	logger.Info("Using redis cache")
	return cache.NewRedis(ctx, cfg.RedisURL, logger)
}

func openQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*queue.JetStream, error) {
	opts := queue.Options{
		MaxDeliver: cfg.QueueMaxDeliver,
		AckWait:    cfg.QueueAckWait,
	}
	if cfg.NatsURL == "" {
		logger.Info("Starting embedded NATS server", "store_dir", cfg.NatsStoreDir)
		return queue.NewEmbedded(ctx, cfg.NatsStoreDir, opts, logger)
	}
	logger.Info("Connecting to NATS", "url", cfg.NatsURL)
	return queue.Connect(ctx, cfg.NatsURL, opts, logger)
}

func runMigrations(source, dbURL string) error {
	m, err := migrate.New(source, dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
