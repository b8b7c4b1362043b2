// Package observe provides application-wide observability primitives for
// Chatter: OpenTelemetry metrics, HTTP middleware, and the Prometheus
// exporter bridge.
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

// meterName is the instrumentation scope name used for all Chatter metrics.
const meterName = "github.com/itsDarianNgo/Chatter"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks live LLM generation latency. Use with
	// attribute: attribute.String("persona", ...)
	GenerationDuration metric.Float64Histogram

	// MemoryOpDuration tracks memory search/write latency. Use with
	// attribute: attribute.String("op", ...)
	MemoryOpDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// MessagesConsumed counts chat records read from the bus, without
	// attributes.
	MessagesConsumed metric.Int64Counter

	// MessagesPublished counts records published, by stream and producer.
	MessagesPublished metric.Int64Counter

	// Decisions counts policy decisions. Use with attributes:
	//   attribute.String("persona", ...), attribute.String("outcome", ...),
	//   attribute.String("reason", ...)
	Decisions metric.Int64Counter

	// ModerationActions counts safety filter outcomes by action.
	ModerationActions metric.Int64Counter

	// InvalidRecords counts records rejected as invalid, without attributes.
	InvalidRecords metric.Int64Counter

	// ObservationsConsumed counts stream observations read per room.
	ObservationsConsumed metric.Int64Counter

	// AutoMessages counts observation-driven commentary messages by persona.
	AutoMessages metric.Int64Counter

	// ClientDrops counts WebSocket frames dropped on slow clients.
	ClientDrops metric.Int64Counter

	// MemoryErrors counts memory layer failures by op.
	MemoryErrors metric.Int64Counter

	// --- Gauges ---

	// WSClients tracks connected WebSocket subscribers.
	WSClients metric.Int64UpDownCounter

	// ActivePersonas tracks persona loops currently running.
	ActivePersonas metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// the chat hot path, where generation dominates.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GenerationDuration, err = m.Float64Histogram("chatter.generation.duration",
		metric.WithDescription("Latency of live LLM reply generation by persona."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MemoryOpDuration, err = m.Float64Histogram("chatter.memory.duration",
		metric.WithDescription("Latency of memory operations by op."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("chatter.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MessagesConsumed, err = m.Int64Counter("chatter.messages.consumed",
		metric.WithDescription("Total chat records consumed from the bus."),
	); err != nil {
		return nil, err
	}
	if met.MessagesPublished, err = m.Int64Counter("chatter.messages.published",
		metric.WithDescription("Total records published by stream and producer."),
	); err != nil {
		return nil, err
	}
	if met.Decisions, err = m.Int64Counter("chatter.policy.decisions",
		metric.WithDescription("Total policy decisions by persona, outcome, and reason."),
	); err != nil {
		return nil, err
	}
	if met.ModerationActions, err = m.Int64Counter("chatter.moderation.actions",
		metric.WithDescription("Total safety filter outcomes by action."),
	); err != nil {
		return nil, err
	}
	if met.InvalidRecords, err = m.Int64Counter("chatter.records.invalid",
		metric.WithDescription("Total records rejected as invalid."),
	); err != nil {
		return nil, err
	}
	if met.ObservationsConsumed, err = m.Int64Counter("chatter.observations.consumed",
		metric.WithDescription("Total stream observations consumed by room."),
	); err != nil {
		return nil, err
	}
	if met.AutoMessages, err = m.Int64Counter("chatter.auto.messages",
		metric.WithDescription("Total observation-driven messages by persona."),
	); err != nil {
		return nil, err
	}
	if met.ClientDrops, err = m.Int64Counter("chatter.ws.client_drops",
		metric.WithDescription("Total frames dropped on slow WebSocket clients."),
	); err != nil {
		return nil, err
	}
	if met.MemoryErrors, err = m.Int64Counter("chatter.memory.errors",
		metric.WithDescription("Total memory layer failures by op."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.WSClients, err = m.Int64UpDownCounter("chatter.ws.clients",
		metric.WithDescription("Number of connected WebSocket subscribers."),
	); err != nil {
		return nil, err
	}
	if met.ActivePersonas, err = m.Int64UpDownCounter("chatter.active_personas",
		metric.WithDescription("Number of persona loops currently running."),
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

// RecordDecision records one policy decision with the standard attribute set.
func (m *Metrics) RecordDecision(ctx context.Context, persona, outcome, reason string) {
	m.Decisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("persona", persona),
			attribute.String("outcome", outcome),
			attribute.String("reason", reason),
		),
	)
}

// RecordPublish records one published record.
func (m *Metrics) RecordPublish(ctx context.Context, stream, producer string) {
	m.MessagesPublished.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stream", stream),
			attribute.String("producer", producer),
		),
	)
}

// RecordModeration records one safety filter outcome.
func (m *Metrics) RecordModeration(ctx context.Context, action string) {
	m.ModerationActions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordMemoryOp records the latency of one memory operation and counts a
// failure when err is non-nil.
func (m *Metrics) RecordMemoryOp(ctx context.Context, op string, seconds float64, err error) {
	m.MemoryOpDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("op", op)))
	if err != nil {
		m.MemoryErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("op", op)))
	}
}
