// Package observe provides the observability primitives of the voice core:
// OpenTelemetry metrics, tracing spans and trace-aware structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all callcore metrics.
const meterName = "github.com/MrWong99/callcore"

// Metrics holds all OpenTelemetry metric instruments of the voice core.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTConnectDuration tracks how long dialing the recognition backend took.
	STTConnectDuration metric.Float64Histogram

	// TTSDuration tracks synthesis request latency up to the first byte of
	// audio being available.
	TTSDuration metric.Float64Histogram

	// HTTPRequestDuration tracks probe endpoint latency. Use with attributes
	// method and path.
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// STTReconnects counts recognition connection restarts. Use with
	// attribute.String("provider", ...).
	STTReconnects metric.Int64Counter

	// Transcriptions counts emitted transcriptions. Use with
	// attribute.Bool("final", ...).
	Transcriptions metric.Int64Counter

	// DroppedFrames counts caller audio frames dropped because the outbound
	// queue was full.
	DroppedFrames metric.Int64Counter

	// TTSChunks counts audio chunks handed to the output transport.
	TTSChunks metric.Int64Counter

	// BargeIns counts agent turns cut short by caller speech.
	BargeIns metric.Int64Counter

	// FillerCacheLookups counts filler cache lookups. Use with
	// attribute.String("result", "hit"|"miss"|"corrupt").
	FillerCacheLookups metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes
	// provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes provider and
	// kind.
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live transcription sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// voice round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTConnectDuration, err = m.Float64Histogram("callcore.stt.connect.duration",
		metric.WithDescription("Latency of opening a recognition stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("callcore.tts.duration",
		metric.WithDescription("Latency of speech synthesis requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("callcore.http.request.duration",
		metric.WithDescription("Latency of HTTP requests to the probe server."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.STTReconnects, "callcore.stt.reconnects", "Recognition stream restarts."},
		{&met.Transcriptions, "callcore.stt.transcriptions", "Emitted transcriptions by finality."},
		{&met.DroppedFrames, "callcore.stt.dropped_frames", "Caller audio frames dropped on a full queue."},
		{&met.TTSChunks, "callcore.tts.chunks", "Synthesized audio chunks delivered to the output."},
		{&met.BargeIns, "callcore.barge_ins", "Agent turns interrupted by the caller."},
		{&met.FillerCacheLookups, "callcore.filler_cache.lookups", "Filler cache lookups by result."},
		{&met.ProviderRequests, "callcore.provider.requests", "Provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "callcore.provider.errors", "Provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("callcore.active_sessions",
		metric.WithDescription("Number of live transcription sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTranscription counts one emitted transcription.
func (m *Metrics) RecordTranscription(ctx context.Context, final bool) {
	m.Transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
}

// RecordReconnect counts one recognition stream restart.
func (m *Metrics) RecordReconnect(ctx context.Context, provider string) {
	m.STTReconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordFillerLookup counts one filler cache lookup with its result.
func (m *Metrics) RecordFillerLookup(ctx context.Context, result string) {
	m.FillerCacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(ctx context.Context, h metric.Float64Histogram, start time.Time, attrs ...attribute.KeyValue) {
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}
