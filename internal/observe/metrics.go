// Package observe provides application-wide observability primitives for
// voxbridge: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware for the admin listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/MrWong99/voxbridge"

// Direction attribute values for [Metrics.FramesDropped].
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Audio path counters ---

	// FramesSent counts frames written to the remote peer.
	FramesSent metric.Int64Counter

	// FramesReceived counts binary frames read from the remote peer.
	FramesReceived metric.Int64Counter

	// FramesDropped counts frames rejected by a full queue. Use with attribute:
	//   attribute.String("direction", DirectionOutbound|DirectionInbound)
	FramesDropped metric.Int64Counter

	// PlaybackUnderruns counts playback starvation episodes.
	PlaybackUnderruns metric.Int64Counter

	// ControlMessagesIgnored counts non-binary messages discarded by the
	// receive loop.
	ControlMessagesIgnored metric.Int64Counter

	// --- Connection lifecycle ---

	// HandshakeDuration tracks time spent establishing the WebSocket.
	HandshakeDuration metric.Float64Histogram

	// ConnectAttempts counts handshakes. Use with attribute:
	//   attribute.String("outcome", "ok"|"timeout"|"refused"|...)
	ConnectAttempts metric.Int64Counter

	// StateTransitions counts connection state changes. Use with attribute:
	//   attribute.String("state", ...)
	StateTransitions metric.Int64Counter

	// ActiveSessions tracks the number of live transport sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks how long each transport session stayed active.
	SessionDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// handshake latency.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers sessions from a few seconds to several hours.
var sessionBuckets = []float64{
	1, 5, 30, 60, 300, 900, 1800, 3600, 7200, 14400,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("voxbridge.frames.sent",
		metric.WithDescription("Audio frames written to the remote peer."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("voxbridge.frames.received",
		metric.WithDescription("Binary audio frames read from the remote peer."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxbridge.frames.dropped",
		metric.WithDescription("Audio frames rejected by a full queue, by direction."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackUnderruns, err = m.Int64Counter("voxbridge.playback.underruns",
		metric.WithDescription("Playback starvation episodes."),
	); err != nil {
		return nil, err
	}
	if met.ControlMessagesIgnored, err = m.Int64Counter("voxbridge.control_messages.ignored",
		metric.WithDescription("Non-binary WebSocket messages discarded by the receive loop."),
	); err != nil {
		return nil, err
	}
	if met.ConnectAttempts, err = m.Int64Counter("voxbridge.connect.attempts",
		metric.WithDescription("WebSocket handshakes by outcome."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("voxbridge.state.transitions",
		metric.WithDescription("Connection state transitions by target state."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.HandshakeDuration, err = m.Float64Histogram("voxbridge.handshake.duration",
		metric.WithDescription("Latency of the WebSocket handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voxbridge.session.duration",
		metric.WithDescription("Lifetime of transport sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Number of live transport sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
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

// RecordConnectAttempt records one handshake with its outcome and duration
// in seconds.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.ConnectAttempts.Add(ctx, 1, attrs)
	m.HandshakeDuration.Record(ctx, seconds, attrs)
}

// RecordDrops adds n dropped frames for the given direction. n <= 0 is a
// no-op.
func (m *Metrics) RecordDrops(ctx context.Context, direction string, n int64) {
	if n <= 0 {
		return
	}
	m.FramesDropped.Add(ctx, n, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordStateTransition records a connection state change.
func (m *Metrics) RecordStateTransition(ctx context.Context, state string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
