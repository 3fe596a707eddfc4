package swrcache

import "time"

const (
	// DefaultTTL is used whenever a write does not name its own TTL.
	DefaultTTL = 5 * time.Minute

	// DefaultTimeout bounds a single shared transport call.
	DefaultTimeout = 30 * time.Second
)

type Config struct {
	// BaseURL is the origin endpoints are resolved against, eg. https://api.example.com.
	BaseURL string

	// DefaultTTL applies to responses whose request carries no TTL and no override matches.
	DefaultTTL time.Duration

	// Timeout bounds each transport call. Zero means DefaultTimeout.
	Timeout time.Duration

	// EndpointOverrides pin the TTL of every endpoint starting with a prefix. The first
	// match wins and takes precedence over Cache-Control.
	EndpointOverrides []EndpointOverride

	// HonorMaxAge uses a response's Cache-Control max-age as its TTL when the request did
	// not set one and no override matched.
	HonorMaxAge bool

	// OnRefreshError observes failures of background revalidations. Those failures are
	// never returned to callers.
	OnRefreshError func(key string, err error)
}

type EndpointOverride struct {
	Prefix string // eg. /api/notifications

	TTL time.Duration // eg. 30s
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		DefaultTTL: DefaultTTL,
		Timeout:    DefaultTimeout,
	}
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// DefaultTTL applies to Set calls without a TTL.
	DefaultTTL time.Duration

	// MaxEntries bounds the entry map. When full, the oldest entry is evicted. Zero leaves
	// the map unbounded and reclaiming memory to Cleanup.
	MaxEntries int

	// Backend optionally persists entries. Nil keeps the store memory-only.
	Backend Backend
}

// DefaultStoreConfig returns an unbounded, memory-only configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{DefaultTTL: DefaultTTL}
}
