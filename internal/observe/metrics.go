// Package observe wires hushwire's observability together: OpenTelemetry
// metric instruments, spans, trace-aware logging, and the HTTP middleware
// for the ops endpoints.
//
// Instruments hang off a [Metrics] struct so the pipeline records without
// global lookups. [DefaultMetrics] lazily binds one instance to the global
// meter provider for production use; tests build their own with
// [NewMetrics] against a manual reader so nothing leaks between them.
// [InitProvider] installs the SDK providers and bridges metric data into a
// Prometheus registry for the /metrics endpoint.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long opening a denoise stream takes. Use
	// with attribute: attribute.String("status", "ok"|"error").
	ConnectDuration metric.Float64Histogram

	// SendDuration tracks the socket write latency of one window batch. Use
	// with attribute: attribute.String("status", "ok"|"error").
	SendDuration metric.Float64Histogram

	// --- Size histograms ---

	// WindowBytes tracks the byte size of flushed accumulation windows.
	WindowBytes metric.Float64Histogram

	// --- Counters ---

	// FramesProcessed counts input frames by the gate that handled them.
	// Use with attribute: attribute.String("gate", "denoised"|"muted"|"passthrough")
	FramesProcessed metric.Int64Counter

	// WindowFlushes counts accumulation windows flushed towards the service.
	WindowFlushes metric.Int64Counter

	// OutputFrames counts denoised frames handed to the sink.
	OutputFrames metric.Int64Counter

	// OutputBytes counts denoised bytes handed to the sink.
	OutputBytes metric.Int64Counter

	// --- Error counters ---

	// TransportErrors counts recoverable transport failures. Use with
	// attribute: attribute.String("op", "connect"|"send"|"receive")
	TransportErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of live streams to the denoise service.
	ActiveStreams metric.Int64UpDownCounter

	// ActiveSessions tracks the number of open denoising sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for streaming-audio transport latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sizeBuckets defines histogram bucket boundaries (in bytes) for window
// sizes. One 140 ms window at 16 kHz mono is 4480 bytes; 48 kHz stereo lands
// near the top end.
var sizeBuckets = []float64{
	512, 1024, 2048, 4096, 8192, 16384, 32768, 65536,
}

// instruments creates the individual instruments for NewMetrics and holds
// on to the first creation error, so the Metrics struct can be assembled as
// a single literal.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) keep(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *instruments) histogram(name, desc, unit string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.keep(err)
	return h
}

func (b *instruments) counter(name, desc, unit string) metric.Int64Counter {
	opts := []metric.Int64CounterOption{metric.WithDescription(desc)}
	if unit != "" {
		opts = append(opts, metric.WithUnit(unit))
	}
	c, err := b.meter.Int64Counter(name, opts...)
	b.keep(err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(err)
	return g
}

// NewMetrics creates every hushwire instrument on a meter from mp. It
// returns the first instrument creation error, if any.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(scopeName)}
	met := &Metrics{
		ConnectDuration: b.histogram("hushwire.connect.duration",
			"Latency of opening a denoise stream.", "s", latencyBuckets),
		SendDuration: b.histogram("hushwire.send.duration",
			"Socket write latency of one window batch.", "s", latencyBuckets),
		WindowBytes: b.histogram("hushwire.window.bytes",
			"Byte size of flushed accumulation windows.", "By", sizeBuckets),
		FramesProcessed: b.counter("hushwire.frames.processed",
			"Total input frames by handling gate.", ""),
		WindowFlushes: b.counter("hushwire.window.flushes",
			"Total accumulation windows flushed.", ""),
		OutputFrames: b.counter("hushwire.output.frames",
			"Total denoised frames handed to the sink.", ""),
		OutputBytes: b.counter("hushwire.output.bytes",
			"Total denoised bytes handed to the sink.", "By"),
		TransportErrors: b.counter("hushwire.transport.errors",
			"Total recoverable transport failures by operation.", ""),
		ActiveStreams: b.gauge("hushwire.active_streams",
			"Number of live streams to the denoise service."),
		ActiveSessions: b.gauge("hushwire.active_sessions",
			"Number of open denoising sessions."),
		HTTPRequestDuration: b.histogram("hushwire.http.request.duration",
			"HTTP request latency by method and path.", "s", nil),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call against [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails, which the global
// provider never does.
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

// Attr shortens attribute.String at recording call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame counts one input frame for the gate that handled it
// ("denoised", "muted", or "passthrough").
func (m *Metrics) RecordFrame(ctx context.Context, gate string) {
	m.FramesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("gate", gate)),
	)
}

// RecordFlush counts one flushed window and records its size.
func (m *Metrics) RecordFlush(ctx context.Context, bytes int) {
	m.WindowFlushes.Add(ctx, 1)
	m.WindowBytes.Record(ctx, float64(bytes))
}

// RecordOutput counts one denoised frame handed to the sink.
func (m *Metrics) RecordOutput(ctx context.Context, bytes int) {
	m.OutputFrames.Add(ctx, 1)
	m.OutputBytes.Add(ctx, int64(bytes))
}

// RecordTransportError counts one recoverable transport failure for the
// given operation ("connect", "send", "receive").
func (m *Metrics) RecordTransportError(ctx context.Context, op string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
