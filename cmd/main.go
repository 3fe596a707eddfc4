package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	swrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches/bolt"
	"github.com/dgduncan/go-swr-cache/caches/dynamodb"
	"github.com/dgduncan/go-swr-cache/caches/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// a missing .env file is fine, the environment may already be set
	_ = godotenv.Load()

	cfg, err := loadConfigFromEnv()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel}))

	backend, closer, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closer.Close()
	cfg.store.Backend = backend

	cfg.cache.OnRefreshError = func(key string, err error) {
		logger.Warn("background refresh failed", "key", key, "error", err)
	}

	mp, metricsHandler, err := newMeterProvider(ctx, cfg.metricsExporter)
	if err != nil {
		return err
	}
	var opts []swrcache.Option
	if mp != nil {
		defer func() { _ = mp.Shutdown(context.WithoutCancel(ctx)) }()
		opts = append(opts, swrcache.WithMeterProvider(mp))
	}

	store := swrcache.NewStore(&cfg.store, nil, logger)
	coord, err := swrcache.NewCoordinator(store, &http.Client{}, &cfg.cache, logger, opts...)
	if err != nil {
		return err
	}
	defer coord.Wait()

	if len(cfg.prefetch) > 0 {
		targets := make([]swrcache.Target, 0, len(cfg.prefetch))
		for _, e := range cfg.prefetch {
			targets = append(targets, swrcache.Target{Endpoint: e})
		}
		if err := coord.Prefetch(ctx, targets); err != nil {
			logger.WarnContext(ctx, "prefetch failed", "error", err)
		}
	}

	go cleanupTask(ctx, store, cfg.cleanupInterval, logger)

	srv := &http.Server{
		Addr:              cfg.listen,
		Handler:           newRouter(coord, metricsHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "listening", "addr", cfg.listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}

// cleanupTask drives Store.Cleanup on a fixed interval until ctx is done.
func cleanupTask(ctx context.Context, store *swrcache.Store, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := store.Cleanup(ctx); n > 0 {
				logger.DebugContext(ctx, "cleanup removed expired entries", "count", n)
			}
		}
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openBackend(ctx context.Context, cfg config, logger *slog.Logger) (swrcache.Backend, io.Closer, error) {
	switch cfg.backend {
	case backendBolt:
		c, err := bolt.Open(cfg.boltPath, nil)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	case backendPostgres:
		db, err := sql.Open("postgres", cfg.postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		c, err := postgres.New(ctx, db, &postgres.Config{
			DeleteExpiredItems: true,
			Logger:             logger,
		})
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return c, db, nil

	case backendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		client := awsdynamodb.NewFromConfig(awsCfg)
		if cfg.dynamoCreate {
			if err := dynamodb.CreateTable(ctx, client, cfg.dynamoTable); err != nil {
				return nil, nil, err
			}
		}
		c, err := dynamodb.New(ctx, client, &dynamodb.Config{Table: cfg.dynamoTable})
		if err != nil {
			return nil, nil, err
		}
		return c, nopCloser{}, nil

	default:
		return nil, nopCloser{}, nil
	}
}
