package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	UpstreamRequests  metric.Int64Counter
	UpstreamDuration  metric.Float64Histogram
	ChainLookups      metric.Int64Counter
	ScoresComputed    metric.Int64Counter
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.HTTPRequests, err = meter.Int64Counter(
		"vl_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"vl_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.UpstreamRequests, err = meter.Int64Counter(
		"vl_upstream_requests_total",
		metric.WithDescription("Total number of data-API requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.UpstreamDuration, err = meter.Float64Histogram(
		"vl_upstream_duration_seconds",
		metric.WithDescription("Data-API request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ChainLookups, err = meter.Int64Counter(
		"vl_chain_lookups_total",
		metric.WithDescription("Total number of on-chain oracle/IRM lookups"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ScoresComputed, err = meter.Int64Counter(
		"vl_scores_computed_total",
		metric.WithDescription("Total number of market/vault scores computed"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheHits, err = meter.Int64Counter(
		"vl_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"vl_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"vl_websocket_connections",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.Handler()
	return m, handler, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordUpstreamRequest(ctx context.Context, operation string, success bool, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)

	m.UpstreamRequests.Add(ctx, 1, labels)
	m.UpstreamDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordChainLookup(ctx context.Context, kind string, resolved bool) {
	m.ChainLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("resolved", resolved),
	))
}

func (m *Metrics) RecordScoreComputed(ctx context.Context, scope string) {
	m.ScoresComputed.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}
