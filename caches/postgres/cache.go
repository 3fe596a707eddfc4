package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"io"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	swrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed delete_expired.sql
	queryDeleteExpired string
	//go:embed delete_item.sql
	queryDeleteItem string
	//go:embed fetch_by_id.sql
	queryFetchByID string
	//go:embed insert_item.sql
	queryInsertItem string
)

// Config defines the configuration options for the PostgreSQL cache implementation.
type Config struct {
	// DeleteExpiredItems enables automatic cleanup of expired rows
	// through a background task.
	DeleteExpiredItems bool

	// ExpiredTaskTimer defines the interval at which the cleanup task runs.
	// Shorter durations may impact database performance.
	ExpiredTaskTimer time.Duration

	// ItemExpiration defines how long rows are kept in the table.
	// This is separate from the TTL of the cached entry.
	ItemExpiration time.Duration

	Logger *slog.Logger
}

// Cache implements swrcache.Backend using PostgreSQL as the storage backend.
type Cache struct {
	db *sql.DB

	expiration time.Duration
	now        func() time.Time
}

// Get retrieves an entry by its key. Rows past their item expiration are ignored.
// Returns caches.ErrNoCacheItem if the row doesn't exist.
func (p *Cache) Get(ctx context.Context, k string) (*swrcache.Entry, error) {
	row := p.db.QueryRowContext(ctx, queryFetchByID, k, p.now().UTC())

	var key string
	var entry []byte
	if err := row.Scan(&key, &entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, caches.ErrNoCacheItem
		}
		return nil, err
	}

	e, err := swrcache.DecodeEntry(entry)
	if err != nil {
		return nil, err
	}

	if !e.Valid(p.now()) {
		return e, caches.ErrCacheItemExpired
	}

	return e, nil
}

// Set upserts the entry stored under k.
func (p *Cache) Set(ctx context.Context, k string, v *swrcache.Entry) error {
	enc, err := swrcache.EncodeEntry(v)
	if err != nil {
		return err
	}

	now := p.now().UTC()
	_, err = p.db.ExecContext(ctx, queryInsertItem, k, enc, now.Add(p.expiration), now)
	return err
}

// Delete removes the row stored under k.
func (p *Cache) Delete(ctx context.Context, k string) error {
	_, err := p.db.ExecContext(ctx, queryDeleteItem, k)
	return err
}

func createTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, queryCreateTable)
	return err
}

func deleteExpiredItems(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, queryDeleteExpired, now)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func expiredTask(ctx context.Context, db *sql.DB, interval time.Duration, now func() time.Time, logger *slog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "stopping expired item task")
			return
		case <-t.C:
			n, err := deleteExpiredItems(ctx, db, now().UTC())
			if err != nil {
				logger.WarnContext(ctx, "error deleting expired items", "error", err)
				continue
			}
			logger.DebugContext(ctx, "deleted expired items", "count", n)
		}
	}
}

// New creates a new PostgreSQL cache instance with the provided configuration.
// It verifies the database connection, creates the necessary table structure, and
// optionally starts the cleanup task for expired rows, which runs until ctx is done.
//
// Returns an error if:
// - The database handle is nil
// - The database connection test fails
// - Table creation fails
func New(ctx context.Context, db *sql.DB, config *Config) (*Cache, error) {
	if db == nil {
		return nil, caches.ValidationError{Reason: "nil db"}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if err := createTable(ctx, db); err != nil {
		return nil, err
	}

	c := &Cache{
		db: db,

		expiration: caches.DefaultExpiredDuration,
		now:        time.Now,
	}

	if config != nil {
		if config.ItemExpiration > 0 {
			c.expiration = config.ItemExpiration
		}

		if config.DeleteExpiredItems {
			interval := config.ExpiredTaskTimer
			if interval <= 0 {
				interval = caches.DefaultExpiredTaskTimer
			}

			logger := config.Logger
			if logger == nil {
				logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			}

			go expiredTask(ctx, db, interval, c.now, logger)
		}
	}

	return c, nil
}

var _ swrcache.Backend = (*Cache)(nil)
