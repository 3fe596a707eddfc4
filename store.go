package swrcache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/dgduncan/go-swr-cache/caches"
)

// Store owns the cached entries and the in-flight requests, keyed by BuildKey.
// It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
	pending map[string]*call

	backend    Backend
	defaultTTL time.Duration
	maxEntries int

	now    func() time.Time
	logger *slog.Logger
}

// call is a transport call shared by every caller of the same key.
type call struct {
	done chan struct{}
	val  any
	err  error
}

// SetOptions tune a single write.
type SetOptions struct {
	// TTL of the entry. Zero uses the store's default.
	TTL time.Duration

	// Key replaces the key derived from the endpoint and Params.
	Key string

	Params Params
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Size         int
	PendingCount int
	Entries      []EntryStats
}

type EntryStats struct {
	Key     string
	IsValid bool
	Age     time.Duration
	TTL     time.Duration
}

// NewStore creates an empty store.
//
// A nil cfg uses DefaultStoreConfig, a nil now uses time.Now and a nil logger discards
// all output.
func NewStore(cfg *StoreConfig, now func() time.Time, logger *slog.Logger) *Store {
	c := DefaultStoreConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}

	if now == nil {
		now = time.Now
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Store{
		entries:    make(map[string]*Entry),
		pending:    make(map[string]*call),
		backend:    c.Backend,
		defaultTTL: c.DefaultTTL,
		maxEntries: c.MaxEntries,
		now:        now,
		logger:     logger,
	}
}

// Get returns the payload cached for endpoint and params if it is still valid.
func (s *Store) Get(ctx context.Context, endpoint string, params Params) (any, bool) {
	return s.GetKey(ctx, BuildKey(endpoint, params))
}

// GetKey is Get for an already built key.
func (s *Store) GetKey(ctx context.Context, key string) (any, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	now := s.now()
	if ok && e.Valid(now) {
		s.mu.Unlock()
		return e.Data, true
	}
	s.mu.Unlock()

	if ok {
		// an expired entry in memory is never replaced by a backend read
		return nil, false
	}

	e = s.load(ctx, key)
	if e == nil || !e.Valid(s.now()) {
		return nil, false
	}

	return e.Data, true
}

// peek returns the entry for key whatever its validity.
func (s *Store) peek(ctx context.Context, key string) (*Entry, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if ok {
		return e, true
	}

	e = s.load(ctx, key)
	return e, e != nil
}

// load reads key from the backend and promotes a valid result into memory.
func (s *Store) load(ctx context.Context, key string) *Entry {
	if s.backend == nil {
		return nil
	}

	e, err := s.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, caches.ErrNoCacheItem) && !errors.Is(err, caches.ErrCacheItemExpired) {
			s.logger.WarnContext(ctx, "error reading cache backend", "key", key, "error", err)
		}
		return nil
	}

	if e.Valid(s.now()) {
		s.logger.DebugContext(ctx, "cache item loaded from backend", "key", key)

		s.mu.Lock()
		if _, exists := s.entries[key]; !exists {
			s.insertLocked(key, e)
		}
		s.mu.Unlock()
	}

	return e
}

// Set writes data for endpoint, replacing any previous entry.
func (s *Store) Set(ctx context.Context, endpoint string, data any, opts SetOptions) {
	key := opts.Key
	if key == "" {
		key = BuildKey(endpoint, opts.Params)
	}

	s.SetKey(ctx, key, data, opts.TTL)
}

// SetKey is Set for an already built key.
func (s *Store) SetKey(ctx context.Context, key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	e := &Entry{Data: data, StoredAt: s.now(), TTL: ttl}

	s.mu.Lock()
	s.insertLocked(key, e)
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "caching response", "key", key, "ttl", ttl)

	if s.backend != nil {
		if err := s.backend.Set(ctx, key, e); err != nil {
			s.logger.WarnContext(ctx, "error writing cache backend", "key", key, "error", err)
		}
	}
}

func (s *Store) insertLocked(key string, e *Entry) {
	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 {
		for len(s.entries) >= s.maxEntries {
			s.evictOldestLocked()
		}
	}

	s.entries[key] = e
}

func (s *Store) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range s.entries {
		if !found || e.StoredAt.Before(oldest) {
			oldestKey, oldest, found = k, e.StoredAt, true
		}
	}

	if found {
		delete(s.entries, oldestKey)
	}
}

// Invalidate drops the entry for endpoint and params. An empty endpoint drops every
// entry. In-flight requests are left alone.
func (s *Store) Invalidate(ctx context.Context, endpoint string, params Params) {
	if endpoint == "" {
		s.mu.Lock()
		keys := s.keysLocked()
		s.entries = make(map[string]*Entry)
		s.mu.Unlock()

		s.deleteFromBackend(ctx, keys)
		return
	}

	key := BuildKey(endpoint, params)

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	s.deleteFromBackend(ctx, []string{key})
}

// InvalidatePattern drops every entry whose key matches re and returns how many went.
func (s *Store) InvalidatePattern(ctx context.Context, re *regexp.Regexp) int {
	s.mu.Lock()
	var keys []string
	for k := range s.entries {
		if re.MatchString(k) {
			keys = append(keys, k)
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()

	s.deleteFromBackend(ctx, keys)
	return len(keys)
}

// Cleanup drops every entry that is no longer valid and returns how many went. The store
// never calls it by itself.
func (s *Store) Cleanup(ctx context.Context) int {
	s.mu.Lock()
	now := s.now()
	var keys []string
	for k, e := range s.entries {
		if !e.Valid(now) {
			keys = append(keys, k)
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()

	if len(keys) > 0 {
		s.logger.DebugContext(ctx, "removed expired cache items", "count", len(keys))
	}

	s.deleteFromBackend(ctx, keys)
	return len(keys)
}

// Stats reports the entries sorted by key, along with the number of in-flight requests.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := Stats{
		Size:         len(s.entries),
		PendingCount: len(s.pending),
		Entries:      make([]EntryStats, 0, len(s.entries)),
	}
	for k, e := range s.entries {
		st.Entries = append(st.Entries, EntryStats{
			Key:     k,
			IsValid: e.Valid(now),
			Age:     e.Age(now),
			TTL:     e.TTL,
		})
	}

	sort.Slice(st.Entries, func(i, j int) bool { return st.Entries[i].Key < st.Entries[j].Key })

	return st
}

func (s *Store) keysLocked() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

func (s *Store) deleteFromBackend(ctx context.Context, keys []string) {
	if s.backend == nil {
		return
	}

	for _, k := range keys {
		if err := s.backend.Delete(ctx, k); err != nil {
			s.logger.WarnContext(ctx, "error deleting from cache backend", "key", k, "error", err)
		}
	}
}

// acquire returns the in-flight call for key, registering a new one when there is none.
// leader is true when the caller registered it and must settle it.
func (s *Store) acquire(key string) (c *call, leader bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.pending[key]; ok {
		return c, false
	}

	c = &call{done: make(chan struct{})}
	s.pending[key] = c
	return c, true
}

// inFlight reports whether a call is pending for key.
func (s *Store) inFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[key]
	return ok
}

// settle removes c from the pending map and releases every waiter with val and err.
func (s *Store) settle(key string, c *call, val any, err error) {
	s.mu.Lock()
	if s.pending[key] == c {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	c.val, c.err = val, err
	close(c.done)
}
