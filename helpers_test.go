package swrcache_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	swrcache "github.com/dgduncan/go-swr-cache"
)

func testTime() time.Time {
	return time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// clock is a manually advanced time source safe for concurrent use.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: testTime()}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// stubDoer answers requests with handler and counts them. When release is set, every call
// blocks until it is closed or the request context is done.
type stubDoer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	handler func(n int32, r *http.Request) *http.Response
}

func (d *stubDoer) Do(r *http.Request) (*http.Response, error) {
	n := d.calls.Add(1)

	if d.started != nil {
		select {
		case d.started <- struct{}{}:
		default:
		}
	}

	if d.release != nil {
		select {
		case <-d.release:
		case <-r.Context().Done():
			return nil, r.Context().Err()
		}
	}

	resp := d.handler(n, r)
	resp.Request = r
	return resp, nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func staticDoer(body string) *stubDoer {
	return &stubDoer{handler: func(int32, *http.Request) *http.Response {
		return jsonResponse(http.StatusOK, body)
	}}
}

type fixture struct {
	clock  *clock
	store  *swrcache.Store
	coord  *swrcache.Coordinator
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T, doer swrcache.Doer, cfg *swrcache.Config) *fixture {
	t.Helper()

	clk := newClock()
	store := swrcache.NewStore(nil, clk.Now, discardLogger())

	if cfg == nil {
		c := swrcache.DefaultConfig()
		cfg = &c
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.example.com"
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	coord, err := swrcache.NewCoordinator(store, doer, cfg, discardLogger(), swrcache.WithMeterProvider(mp))
	require.NoError(t, err)
	t.Cleanup(coord.Wait)

	return &fixture{clock: clk, store: store, coord: coord, reader: reader}
}

// counter returns the total of the named counter across all attribute sets.
func (f *fixture) counter(t *testing.T, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is %T", name, m.Data)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}

	return total
}
