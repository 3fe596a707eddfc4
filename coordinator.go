package swrcache

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/dgduncan/go-swr-cache/caches"
)

// RequestOptions tune a single Request.
type RequestOptions struct {
	// TTL of the entry written by this request. Zero falls back to the configuration.
	TTL time.Duration

	// StaleWhileRevalidate returns any cached entry at once, expired or not, and refreshes
	// it in the background.
	StaleWhileRevalidate bool
}

// Target names one request for Prefetch.
type Target struct {
	Endpoint string
	Params   Params
	Options  RequestOptions
}

// Coordinator resolves requests against a Store, calling the transport only when needed
// and never more than once at a time per key.
type Coordinator struct {
	store   *Store
	doer    Doer
	base    *url.URL
	cfg     Config
	logger  *slog.Logger
	metrics *metrics

	// background revalidations
	wg sync.WaitGroup
}

type coordinatorOptions struct {
	meterProvider metric.MeterProvider
}

// Option configures a Coordinator.
type Option func(*coordinatorOptions)

// WithMeterProvider records cache metrics with mp instead of a noop provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *coordinatorOptions) {
		o.meterProvider = mp
	}
}

// NewCoordinator creates a Coordinator over store.
//
// A nil doer uses a plain *http.Client, a nil cfg uses DefaultConfig and a nil logger
// discards all output. cfg.BaseURL, when set, must be absolute.
func NewCoordinator(store *Store, doer Doer, cfg *Config, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, caches.ValidationError{Reason: "nil store"}
	}

	if doer == nil {
		doer = &http.Client{}
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	var base *url.URL
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, caches.ValidationError{Reason: "base url must be absolute"}
		}
		base = u
	}

	var o coordinatorOptions
	for _, opt := range opts {
		opt(&o)
	}

	m, err := newMetrics(o.meterProvider)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		store:   store,
		doer:    doer,
		base:    base,
		cfg:     c,
		logger:  logger,
		metrics: m,
	}, nil
}

// Store returns the store the coordinator reads and writes.
func (c *Coordinator) Store() *Store {
	return c.store
}

// Request resolves endpoint and params to a payload.
//
// The process follows these steps:
// 1. Stale-while-revalidate requests with any cached entry get it back at once and a
// background refresh is started unless one is already in flight
// 2. Joins the in-flight call for the key if there is one
// 3. Returns a valid cached entry
// 4. Otherwise calls the transport, caches the result and hands it to every waiter.
//
// Cancelling ctx only releases this caller. The transport call itself is bounded by
// Config.Timeout and keeps going for the remaining waiters.
func (c *Coordinator) Request(ctx context.Context, endpoint string, params Params, opts RequestOptions) (any, error) {
	key := BuildKey(endpoint, params)

	if opts.StaleWhileRevalidate {
		if e, ok := c.store.peek(ctx, key); ok {
			c.logger.DebugContext(ctx, "serving cached item while revalidating", "key", key)
			c.metrics.add(ctx, c.metrics.hits, endpoint)
			c.revalidate(ctx, key, endpoint, params, opts)
			return e.Data, nil
		}
	}

	if !c.store.inFlight(key) {
		if data, ok := c.store.GetKey(ctx, key); ok {
			c.logger.DebugContext(ctx, "cache item found", "key", key)
			c.metrics.add(ctx, c.metrics.hits, endpoint)
			return data, nil
		}
	}

	cl, leader := c.store.acquire(key)
	if !leader {
		c.logger.DebugContext(ctx, "joining in-flight request", "key", key)
		c.metrics.add(ctx, c.metrics.coalesced, endpoint)
		return wait(ctx, cl)
	}

	// another caller may have stored the key between the lookup and acquire
	if data, ok := c.store.GetKey(ctx, key); ok {
		c.store.settle(key, cl, data, nil)
		c.metrics.add(ctx, c.metrics.hits, endpoint)
		return data, nil
	}

	c.logger.DebugContext(ctx, "cache item not found", "key", key)
	c.metrics.add(ctx, c.metrics.misses, endpoint)

	go func() {
		_ = c.run(ctx, key, endpoint, params, opts, cl)
	}()

	return wait(ctx, cl)
}

// Refetch drops the cached entry for endpoint and params, then requests it again.
func (c *Coordinator) Refetch(ctx context.Context, endpoint string, params Params, opts RequestOptions) (any, error) {
	c.store.Invalidate(ctx, endpoint, params)

	opts.StaleWhileRevalidate = false
	return c.Request(ctx, endpoint, params, opts)
}

// Prefetch requests every target concurrently and returns the first error.
func (c *Coordinator) Prefetch(ctx context.Context, targets []Target) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		g.Go(func() error {
			_, err := c.Request(gctx, t.Endpoint, t.Params, t.Options)
			return err
		})
	}

	return g.Wait()
}

// Wait blocks until every background revalidation started so far has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) revalidate(ctx context.Context, key, endpoint string, params Params, opts RequestOptions) {
	cl, leader := c.store.acquire(key)
	if !leader {
		return
	}

	c.metrics.add(ctx, c.metrics.revalidations, endpoint)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		err := c.run(ctx, key, endpoint, params, opts, cl)
		if err == nil {
			return
		}

		c.metrics.add(context.WithoutCancel(ctx), c.metrics.refreshErrors, endpoint)
		c.logger.WarnContext(ctx, "background revalidation failed", "key", key, "error", err)
		if c.cfg.OnRefreshError != nil {
			c.cfg.OnRefreshError(key, err)
		}
	}()
}

// run performs the transport call for cl, stores a successful result and settles cl.
func (c *Coordinator) run(parent context.Context, key, endpoint string, params Params, opts RequestOptions, cl *call) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.cfg.Timeout)
	defer cancel()

	rawURL, err := resolveURL(c.base, endpoint, params)
	if err != nil {
		c.store.settle(key, cl, nil, err)
		return err
	}

	resp, err := fetch(ctx, c.doer, rawURL)
	if err != nil {
		c.metrics.add(ctx, c.metrics.transportErrors, endpoint)
		c.logger.DebugContext(ctx, "transport call failed", "url", rawURL, "error", err)
		c.store.settle(key, cl, nil, err)
		return err
	}

	if c.cfg.HonorMaxAge && resp.noStore {
		c.logger.DebugContext(ctx, "no-store directive found, not caching response", "url", rawURL)
	} else {
		c.store.SetKey(ctx, key, resp.body, c.ttlFor(endpoint, opts, resp))
	}

	c.store.settle(key, cl, resp.body, nil)
	return nil
}

// ttlFor picks the TTL of a fresh response: the request's own, then an endpoint override,
// then max-age when enabled, then the default.
func (c *Coordinator) ttlFor(endpoint string, opts RequestOptions, resp *response) time.Duration {
	if opts.TTL > 0 {
		return opts.TTL
	}

	for _, o := range c.cfg.EndpointOverrides {
		if strings.HasPrefix(endpoint, o.Prefix) {
			return o.TTL
		}
	}

	if c.cfg.HonorMaxAge && resp.maxAge > 0 {
		return resp.maxAge
	}

	return c.cfg.DefaultTTL
}

func wait(ctx context.Context, cl *call) (any, error) {
	select {
	case <-cl.done:
		return cl.val, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fetch is Request with the payload decoded into T.
func Fetch[T any](ctx context.Context, c *Coordinator, endpoint string, params Params, opts RequestOptions) (T, error) {
	data, err := c.Request(ctx, endpoint, params, opts)
	if err != nil {
		var zero T
		return zero, err
	}

	return decode[T](data)
}

// decode converts a cached payload into T. Payloads written by the coordinator are raw
// JSON; anything else put into the store directly is converted through JSON.
func decode[T any](data any) (T, error) {
	var out T

	if v, ok := data.(T); ok {
		return v, nil
	}

	var raw []byte
	switch d := data.(type) {
	case json.RawMessage:
		raw = d
	case []byte:
		raw = d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return out, err
		}
		raw = b
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}

	return out, nil
}
