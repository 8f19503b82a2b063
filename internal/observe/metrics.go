// Package observe provides application-wide observability primitives for
// Adagate: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all Adagate metrics.
const meterName = "github.com/MrWong99/adagate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// EnhancementDuration tracks end-to-end speech-to-speech latency.
	EnhancementDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// VoiceTurns counts completed voice turns. Use with attribute:
	//   attribute.String("source", ...)
	VoiceTurns metric.Int64Counter

	// QueueDrops counts frames dropped because a bounded queue was full.
	// Use with attribute: attribute.String("queue", ...)
	QueueDrops metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of open control connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveMediaChannels tracks the number of live media channels.
	ActiveMediaChannels metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics registers every instrument on a meter from mp. The first
// instrument creation failure aborts construction.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var firstErr error

	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	stageHist := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		keep(err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		keep(err)
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		g, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		keep(err)
		return g
	}

	met := &Metrics{
		STTDuration:           stageHist("adagate.stt.duration", "Latency of speech-to-text transcription."),
		LLMDuration:           stageHist("adagate.llm.duration", "Latency of LLM inference."),
		TTSDuration:           stageHist("adagate.tts.duration", "Latency of text-to-speech synthesis."),
		EnhancementDuration:   stageHist("adagate.enhancement.duration", "End-to-end speech-to-speech latency."),
		ToolExecutionDuration: stageHist("adagate.tool_execution.duration", "Latency of MCP tool execution."),

		ProviderRequests: counter("adagate.provider.requests", "Total provider API requests by provider, kind, and status."),
		ToolCalls:        counter("adagate.tool.calls", "Total tool invocations by tool name and status."),
		VoiceTurns:       counter("adagate.voice.turns", "Total completed voice turns by source."),
		QueueDrops:       counter("adagate.queue.drops", "Total frames dropped on full queues by queue name."),
		ProviderErrors:   counter("adagate.provider.errors", "Total provider errors by provider and kind."),

		ActiveConnections:   gauge("adagate.active_connections", "Number of open control connections."),
		ActiveSessions:      gauge("adagate.active_sessions", "Number of live voice sessions."),
		ActiveMediaChannels: gauge("adagate.active_media_channels", "Number of live media channels."),
	}

	// The HTTP histogram keeps the SDK's default buckets; request latency is
	// not on the voice path.
	h, err := meter.Float64Histogram("adagate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	)
	keep(err)
	met.HTTPRequestDuration = h

	if firstErr != nil {
		return nil, firstErr
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordVoiceTurn is a convenience method that records a completed voice
// turn counter increment.
func (m *Metrics) RecordVoiceTurn(ctx context.Context, source string) {
	m.VoiceTurns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordQueueDrop is a convenience method that records a dropped frame on the
// named queue.
func (m *Metrics) RecordQueueDrop(ctx context.Context, queue string) {
	m.QueueDrops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("queue", queue)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
