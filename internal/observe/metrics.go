// Package observe provides application-wide observability primitives for
// muselive: OpenTelemetry metrics, lightweight tracing, structured logging
// helpers, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all muselive metrics.
const meterName = "github.com/auralith/muselive"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// FramesSent counts encoded microphone frames sent to the live provider.
	FramesSent metric.Int64Counter

	// AudioChunksReceived counts inbound synthesised-speech chunks.
	AudioChunksReceived metric.Int64Counter

	// SegmentsScheduled counts segments handed to the playback scheduler.
	SegmentsScheduled metric.Int64Counter

	// Interruptions counts barge-in events that cleared scheduled playback.
	Interruptions metric.Int64Counter

	// TranscriptFragments counts transcript fragments by speaker. Use with
	// attribute.String("speaker", ...).
	TranscriptFragments metric.Int64Counter

	// DecodeFailures counts dropped inbound audio chunks that failed to decode.
	DecodeFailures metric.Int64Counter

	// SessionErrors counts non-fatal session errors surfaced via OnError.
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Histograms ---

	// SessionDuration tracks wall-clock session length from start to teardown.
	SessionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// sessionBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational session lengths.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("muselive.frames.sent",
		metric.WithDescription("Total encoded microphone frames sent to the provider."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksReceived, err = m.Int64Counter("muselive.audio.chunks_received",
		metric.WithDescription("Total inbound synthesised-speech chunks."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsScheduled, err = m.Int64Counter("muselive.playback.segments_scheduled",
		metric.WithDescription("Total segments handed to the playback scheduler."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("muselive.playback.interruptions",
		metric.WithDescription("Total barge-in events that cleared scheduled playback."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptFragments, err = m.Int64Counter("muselive.transcript.fragments",
		metric.WithDescription("Total transcript fragments by speaker."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("muselive.audio.decode_failures",
		metric.WithDescription("Total inbound audio chunks dropped due to decode failure."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("muselive.session.errors",
		metric.WithDescription("Total non-fatal session errors."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("muselive.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("muselive.session.duration",
		metric.WithDescription("Wall-clock session length."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("muselive.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
