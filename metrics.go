package swrcache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/dgduncan/go-swr-cache"

// metrics counts coordinator outcomes. Every counter carries the endpoint.
type metrics struct {
	hits            metric.Int64Counter
	misses          metric.Int64Counter
	coalesced       metric.Int64Counter
	revalidations   metric.Int64Counter
	refreshErrors   metric.Int64Counter
	transportErrors metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(meterName)

	counter := func(name, desc string) (metric.Int64Counter, error) {
		return meter.Int64Counter(name,
			metric.WithDescription(desc),
			metric.WithUnit("{request}"),
		)
	}

	var (
		m   metrics
		err error
	)
	if m.hits, err = counter("swrcache.hits", "Requests served from a valid cache entry"); err != nil {
		return nil, err
	}
	if m.misses, err = counter("swrcache.misses", "Requests that started a transport call"); err != nil {
		return nil, err
	}
	if m.coalesced, err = counter("swrcache.coalesced", "Requests that joined an in-flight transport call"); err != nil {
		return nil, err
	}
	if m.revalidations, err = counter("swrcache.revalidations", "Background revalidations started"); err != nil {
		return nil, err
	}
	if m.refreshErrors, err = counter("swrcache.refresh_errors", "Background revalidations that failed"); err != nil {
		return nil, err
	}
	if m.transportErrors, err = counter("swrcache.transport_errors", "Transport calls that failed"); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *metrics) add(ctx context.Context, c metric.Int64Counter, endpoint string) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}
