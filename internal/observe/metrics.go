// Package observe provides the platform's observability primitives:
// OpenTelemetry metrics with a Prometheus exporter bridge, tracing helpers,
// and HTTP middleware tying them together.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) exists for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all platform metrics.
const meterName = "github.com/meetscribe/meetscribe"

// Metrics holds the application's metric instruments. All fields are safe
// for concurrent use.
type Metrics struct {
	// BotLaunchDuration tracks end-to-end bot launch latency, lock acquire
	// through container start. Watching its upper percentiles against the
	// lock TTL is how operators keep the TTL safely above launch time.
	BotLaunchDuration metric.Float64Histogram

	// BotRequests counts bot launch requests. Attributes:
	//   attribute.String("platform", ...), attribute.String("status", "started"|"conflict"|"launch_failed"|"error")
	BotRequests metric.Int64Counter

	// BotStops counts stop requests. Attributes:
	//   attribute.String("status", "stopped"|"stop_failed"|"not_found")
	BotStops metric.Int64Counter

	// Segments counts ingested segments by outcome. Attributes:
	//   attribute.String("outcome", "stored"|"deduplicated"|"filtered"|"partial"|"invalid")
	Segments metric.Int64Counter

	// WorkerConnections tracks live transcription-worker connections.
	WorkerConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks REST request latency. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// launchBuckets covers the observed bot launch range: sub-second container
// creates through slow waiting-room joins.
var launchBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BotLaunchDuration, err = m.Float64Histogram("meetscribe.bot.launch.duration",
		metric.WithDescription("Latency of a bot launch from lock acquire to container start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(launchBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BotRequests, err = m.Int64Counter("meetscribe.bot.requests",
		metric.WithDescription("Total bot launch requests by platform and status."),
	); err != nil {
		return nil, err
	}
	if met.BotStops, err = m.Int64Counter("meetscribe.bot.stops",
		metric.WithDescription("Total bot stop requests by status."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("meetscribe.segments",
		metric.WithDescription("Total ingested transcript segments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.WorkerConnections, err = m.Int64UpDownCounter("meetscribe.worker.connections",
		metric.WithDescription("Number of live transcription-worker connections."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("meetscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], creating it on first
// call from the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordBotRequest counts one launch request outcome.
func (m *Metrics) RecordBotRequest(ctx context.Context, platform, status string) {
	m.BotRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("status", status),
	))
}

// RecordBotStop counts one stop request outcome.
func (m *Metrics) RecordBotStop(ctx context.Context, status string) {
	m.BotStops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordSegments counts n segments with the given outcome.
func (m *Metrics) RecordSegments(ctx context.Context, outcome string, n int) {
	if n == 0 {
		return
	}
	m.Segments.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
