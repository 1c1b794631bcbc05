package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the int64 sum data point of metric name whose attributes
// include attrs, failing the test when none matches.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		if hasAttrs(dp.Attributes, attrs) {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point matching %v", name, attrs)
	return 0
}

func hasAttrs(set attribute.Set, want []attribute.KeyValue) bool {
	for _, kv := range want {
		got, ok := set.Value(kv.Key)
		if !ok || got.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}

// histPoint returns the first data point of float64 histogram name.
func histPoint(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is %T, want Histogram[float64]", name, met.Data)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatalf("metric %q recorded no data points", name)
	}
	return hist.DataPoints[0]
}

func TestNewMetricsCreatesEveryInstrument(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m.ConnectDuration == nil || m.WindowBytes == nil || m.FramesProcessed == nil ||
		m.ActiveSessions == nil || m.HTTPRequestDuration == nil {
		t.Fatal("NewMetrics left instruments nil")
	}
}

func TestLatencyHistogramsRecord(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	for _, h := range []metric.Float64Histogram{m.ConnectDuration, m.SendDuration} {
		h.Record(ctx, 0.050)
		h.Record(ctx, 0.200)
	}

	rm := collect(t, reader)
	for _, name := range []string{"hushwire.connect.duration", "hushwire.send.duration"} {
		if dp := histPoint(t, rm, name); dp.Count != 2 {
			t.Errorf("%s count = %d, want 2", name, dp.Count)
		}
	}
}

func TestRecordFrameCountsPerGate(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, "denoised")
	m.RecordFrame(ctx, "denoised")
	m.RecordFrame(ctx, "muted")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "hushwire.frames.processed", Attr("gate", "denoised")); got != 2 {
		t.Errorf("denoised frames = %d, want 2", got)
	}
	if got := sumValue(t, rm, "hushwire.frames.processed", Attr("gate", "muted")); got != 1 {
		t.Errorf("muted frames = %d, want 1", got)
	}
}

func TestRecordFlushFeedsCounterAndHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFlush(ctx, 4480)
	m.RecordFlush(ctx, 4481)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "hushwire.window.flushes"); got != 2 {
		t.Errorf("flush count = %d, want 2", got)
	}
	dp := histPoint(t, rm, "hushwire.window.bytes")
	if dp.Count != 2 || dp.Sum != 8961 {
		t.Errorf("window bytes count/sum = %d/%g, want 2/8961", dp.Count, dp.Sum)
	}
}

func TestRecordOutputTracksFramesAndBytes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	for range 3 {
		m.RecordOutput(ctx, 960)
	}

	rm := collect(t, reader)
	if got := sumValue(t, rm, "hushwire.output.frames"); got != 3 {
		t.Errorf("output frames = %d, want 3", got)
	}
	if got := sumValue(t, rm, "hushwire.output.bytes"); got != 2880 {
		t.Errorf("output bytes = %d, want 2880", got)
	}
}

func TestRecordTransportErrorLabelsOp(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransportError(ctx, "send")
	m.RecordTransportError(ctx, "send")
	m.RecordTransportError(ctx, "receive")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "hushwire.transport.errors", Attr("op", "send")); got != 2 {
		t.Errorf("send errors = %d, want 2", got)
	}
	if got := sumValue(t, rm, "hushwire.transport.errors", Attr("op", "receive")); got != 1 {
		t.Errorf("receive errors = %d, want 1", got)
	}
}

func TestGaugesGoUpAndDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "hushwire.active_sessions"); got != 2 {
		t.Errorf("active sessions = %d, want 2", got)
	}
	if got := sumValue(t, rm, "hushwire.active_streams"); got != 1 {
		t.Errorf("active streams = %d, want 1", got)
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
