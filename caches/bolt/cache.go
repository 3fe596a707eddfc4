package bolt

import (
	"context"
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	swrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches"
)

const defaultBucket = "swrcache"

// Config defines the configuration options for the bbolt cache implementation.
type Config struct {
	// Bucket is the name of the bucket entries live in.
	Bucket string

	// ItemExpiration is how long a record is kept on disk, independent of the entry's TTL.
	// Records past it are treated as missing.
	ItemExpiration time.Duration
}

// Cache implements swrcache.Backend on a local bbolt file. Each record is laid out as
// 8 bytes big endian record expiry (unix seconds) followed by the encoded entry.
type Cache struct {
	db     *bolt.DB
	bucket []byte

	expiration time.Duration
	now        func() time.Time
}

// Open initializes or opens a Cache at the given path.
func Open(path string, config *Config) (*Cache, error) {
	if path == "" {
		return nil, caches.ValidationError{Reason: "empty path"}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	c := &Cache{
		db:         db,
		bucket:     []byte(defaultBucket),
		expiration: caches.DefaultExpiredDuration,
		now:        time.Now,
	}
	if config != nil {
		if config.Bucket != "" {
			c.bucket = []byte(config.Bucket)
		}
		if config.ItemExpiration > 0 {
			c.expiration = config.ItemExpiration
		}
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(c.bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return c, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get retrieves an entry by its key. An expired entry is returned together with
// caches.ErrCacheItemExpired.
func (c *Cache) Get(_ context.Context, k string) (*swrcache.Entry, error) {
	var raw []byte
	if err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(c.bucket).Get([]byte(k))
		if v == nil || len(v) < 8 {
			return nil
		}

		expiresAt := int64(binary.BigEndian.Uint64(v[:8]))
		if c.now().Unix() > expiresAt {
			return nil
		}

		raw = append([]byte(nil), v[8:]...)
		return nil
	}); err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, caches.ErrNoCacheItem
	}

	e, err := swrcache.DecodeEntry(raw)
	if err != nil {
		return nil, err
	}

	if !e.Valid(c.now()) {
		return e, caches.ErrCacheItemExpired
	}

	return e, nil
}

// Set stores an entry under k, replacing any previous record.
func (c *Cache) Set(_ context.Context, k string, v *swrcache.Entry) error {
	enc, err := swrcache.EncodeEntry(v)
	if err != nil {
		return err
	}

	buf := make([]byte, 8+len(enc))
	binary.BigEndian.PutUint64(buf[:8], uint64(c.now().Add(c.expiration).Unix()))
	copy(buf[8:], enc)

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.bucket).Put([]byte(k), buf)
	})
}

// Delete removes a key.
func (c *Cache) Delete(_ context.Context, k string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.bucket).Delete([]byte(k))
	})
}

var _ swrcache.Backend = (*Cache)(nil)
