package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/boosty-companion"
)

// Cache lookup results recorded by RecordCacheLookup.
const (
	LookupHit       = "hit"
	LookupMiss      = "miss"
	LookupExpired   = "expired"
	LookupMalformed = "malformed"
)

// MetricsConfig selects where metrics go. With neither exporter enabled the
// instruments still work and their measurements are dropped.
type MetricsConfig struct {
	ServiceName    string // defaults to "boosty-companion"
	ServiceVersion string

	// OTLPEndpoint is a host:port for OTLP over insecure gRPC. Empty disables it.
	OTLPEndpoint string
	// FlushInterval is the OTLP push period, 10s when zero.
	FlushInterval time.Duration

	// EnablePrometheus serves the registry through PrometheusHandler.
	EnablePrometheus bool
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal          metric.Int64Counter
	responseBytesTotal     metric.Int64Counter
	requestDuration        metric.Float64Histogram
	requestsByMessageTotal metric.Int64Counter

	messagesTotal   metric.Int64Counter
	messageDuration metric.Float64Histogram

	cacheLookupsTotal metric.Int64Counter

	upstreamFetchDuration   metric.Float64Histogram
	upstreamFetchTotal      metric.Int64Counter
	upstreamFetchBytesTotal metric.Int64Counter
	backendRequestDuration  metric.Float64Histogram
	backendRequestsTotal    metric.Int64Counter
	backendBytesTotal       metric.Int64Counter

	// Governor metrics
	sweepRemovedTotal metric.Int64Counter
	sweepDuration     metric.Float64Histogram

	syncTransitionsTotal metric.Int64Counter
	syncCopiedTotal      metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics installs the global meter provider once per process and
// returns its shutdown func. Later calls return the first call's result.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		globalMetrics, initErr = setupMetrics(ctx, cfg)
	})
	if initErr != nil {
		return nil, initErr
	}
	return shutdownMetrics, nil
}

func setupMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	res, err := serviceResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("building metrics resource: %w", err)
	}

	readers, promHandler, err := metricReaders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("creating instruments: %w", err)
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	return m, nil
}

func serviceResource(cfg MetricsConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "boosty-companion"
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
}

// metricReaders builds one reader per enabled exporter. The Prometheus
// handler is nil unless Prometheus export is on.
func metricReaders(ctx context.Context, cfg MetricsConfig) ([]sdkmetric.Reader, http.Handler, error) {
	var (
		readers     []sdkmetric.Reader
		promHandler http.Handler
	)

	if cfg.OTLPEndpoint != "" {
		interval := cfg.FlushInterval
		if interval <= 0 {
			interval = 10 * time.Second
		}
		exp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("creating otlp exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval)))
	}

	if cfg.EnablePrometheus {
		exp, err := promexporter.New()
		if err != nil {
			return nil, nil, fmt.Errorf("creating prometheus exporter: %w", err)
		}
		readers = append(readers, exp)
		promHandler = promhttp.Handler()
	}

	return readers, promHandler, nil
}

// newMetrics creates every instrument on meter.
func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	counter := func(dst *metric.Int64Counter, name, desc, unit string) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	}
	histogram := func(dst *metric.Float64Histogram, name, desc string, bounds ...float64) {
		if err != nil {
			return
		}
		*dst, err = meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(bounds...),
		)
	}

	counter(&m.requestsTotal, "companion_http_requests_total", "Total number of HTTP requests", "{request}")
	counter(&m.responseBytesTotal, "companion_http_response_bytes_total", "Total bytes sent in HTTP responses", "By")
	histogram(&m.requestDuration, "companion_http_request_duration_seconds", "HTTP request duration in seconds",
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)
	counter(&m.requestsByMessageTotal, "companion_http_requests_by_message_total", "Total number of HTTP requests by message type (detail metric)", "{request}")

	counter(&m.messagesTotal, "companion_messages_total", "Total messages dispatched by the coordinator", "{message}")
	histogram(&m.messageDuration, "companion_message_duration_seconds", "Time spent handling a message",
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)

	counter(&m.cacheLookupsTotal, "companion_cache_lookups_total", "Total cache reads by scope and result", "{lookup}")

	histogram(&m.upstreamFetchDuration, "companion_upstream_fetch_duration_seconds", "Duration of upstream fetch requests",
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60)
	counter(&m.upstreamFetchTotal, "companion_upstream_fetch_total", "Total number of upstream fetch requests", "{request}")
	counter(&m.upstreamFetchBytesTotal, "companion_upstream_fetch_bytes_total", "Total bytes fetched from upstream", "By")

	histogram(&m.backendRequestDuration, "companion_backend_request_duration_seconds", "Duration of backend storage operations",
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5)
	counter(&m.backendRequestsTotal, "companion_backend_requests_total", "Total number of backend storage operations", "{request}")
	counter(&m.backendBytesTotal, "companion_backend_bytes_total", "Total bytes transferred in backend operations", "By")

	counter(&m.sweepRemovedTotal, "companion_governor_removed_total", "Total expired entries removed by the governor", "{entry}")
	histogram(&m.sweepDuration, "companion_governor_sweep_duration_seconds", "Duration of governor sweeps per scope",
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)

	counter(&m.syncTransitionsTotal, "companion_sync_transitions_total", "Total sync option transitions", "{transition}")
	counter(&m.syncCopiedTotal, "companion_sync_copied_keys_total", "Total keys copied between scopes on sync transitions", "{key}")

	if err != nil {
		return nil, err
	}
	return &m, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records HTTP request metrics.
// Call this from the logging middleware after the request completes.
// Message type and dispatch result are read from request tags set by handlers.
func RecordHTTP(ctx context.Context, r *http.Request, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	tags := GetTags(r)

	result := string(DispatchBypass)
	messageType := ""
	if tags != nil {
		if tags.Result != "" {
			result = string(tags.Result)
		}
		messageType = tags.MessageType
	}

	statusClass := StatusClass(status)

	// Shared metrics: low cardinality {status_class, result}
	sharedAttrs := []attribute.KeyValue{
		attribute.String("status_class", statusClass),
		attribute.String("result", result),
	}
	globalMetrics.requestsTotal.Add(ctx, 1, metric.WithAttributes(sharedAttrs...))
	globalMetrics.responseBytesTotal.Add(ctx, bytesSent, metric.WithAttributes(sharedAttrs...))
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(sharedAttrs...))

	// Detail metric: only when the request carried a message
	if messageType != "" {
		detailAttrs := []attribute.KeyValue{
			attribute.String("message_type", messageType),
			attribute.String("status_class", statusClass),
			attribute.String("result", result),
		}
		globalMetrics.requestsByMessageTotal.Add(ctx, 1, metric.WithAttributes(detailAttrs...))
	}
}

// RecordMessage records one dispatched message.
func RecordMessage(ctx context.Context, messageType string, result DispatchResult, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("message_type", messageType),
		attribute.String("result", string(result)),
	)
	globalMetrics.messagesTotal.Add(ctx, 1, attrs)
	globalMetrics.messageDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordCacheLookup records a cache read. The message type is taken from ctx
// when a handler set one.
func RecordCacheLookup(ctx context.Context, scope, result string) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("scope", scope),
		attribute.String("result", result),
	}
	if mt := MessageTypeFromContext(ctx); mt != "" {
		attrs = append(attrs, attribute.String("message_type", mt))
	}
	globalMetrics.cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBackendOp records backend operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.backendRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordUpstreamFetch records one content API request.
func RecordUpstreamFetch(ctx context.Context, upstream, endpoint string, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("upstream", upstream),
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	}
	globalMetrics.upstreamFetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	globalMetrics.upstreamFetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if bytesRead > 0 {
		globalMetrics.upstreamFetchBytesTotal.Add(ctx, bytesRead, metric.WithAttributes(attrs...))
	}
}

// RecordSweep records one governor sweep of a scope.
// Called unconditionally per sweep, including sweeps that removed nothing.
func RecordSweep(ctx context.Context, scope string, removed int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("scope", scope))
	globalMetrics.sweepRemovedTotal.Add(ctx, int64(removed), attrs)
	globalMetrics.sweepDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSyncTransition records a sync option change toward scope "to".
func RecordSyncTransition(ctx context.Context, to, outcome string, copied int) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("to", to),
		attribute.String("outcome", outcome),
	)
	globalMetrics.syncTransitionsTotal.Add(ctx, 1, attrs)
	if copied > 0 {
		globalMetrics.syncCopiedTotal.Add(ctx, int64(copied), attrs)
	}
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass buckets an HTTP status as "1xx" through "5xx", or "unknown".
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
