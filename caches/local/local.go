package local

import (
	"context"
	"sync"
	"time"

	swrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches"
)

// BasicCache is an in-process Backend. It keeps entries for as long as the process lives,
// which makes it useful to share entries between Stores and in tests.
type BasicCache struct {
	cache map[string]*swrcache.Entry

	lock sync.RWMutex
	now  func() time.Time
}

func (bc *BasicCache) Get(_ context.Context, key string) (*swrcache.Entry, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	val, found := bc.cache[key]
	if !found {
		return nil, caches.ErrNoCacheItem
	}

	e := *val
	if !e.Valid(bc.now()) {
		return &e, caches.ErrCacheItemExpired
	}

	return &e, nil
}

func (bc *BasicCache) Set(_ context.Context, key string, item *swrcache.Entry) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	e := *item
	bc.cache[key] = &e

	return nil
}

func (bc *BasicCache) Delete(_ context.Context, key string) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	delete(bc.cache, key)

	return nil
}

// Len returns the number of stored entries, expired ones included.
func (bc *BasicCache) Len() int {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	return len(bc.cache)
}

func NewBasicCache() *BasicCache {
	return NewBasicCacheWithTimeFunc(time.Now)
}

// NewBasicCacheWithTimeFunc creates a BasicCache that judges expiry with now.
func NewBasicCacheWithTimeFunc(now func() time.Time) *BasicCache {
	return &BasicCache{
		cache: make(map[string]*swrcache.Entry),
		now:   now,
	}
}

var _ swrcache.Backend = (*BasicCache)(nil)
