package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxatone/hushwire/internal/observe"
	"github.com/voxatone/hushwire/internal/resilience"
	"github.com/voxatone/hushwire/pkg/audio"
	"github.com/voxatone/hushwire/pkg/denoise"
	"go.opentelemetry.io/otel/metric"
)

// ErrNotConnected is returned by [ConnManager.Send] when no live stream is
// available. The caller decides whether to connect first or drop the batch.
var ErrNotConnected = errors.New("pipeline: not connected")

// ConnState is the lifecycle state of the managed connection.
type ConnState int

const (
	// ConnDisconnected: no stream exists and none is being opened.
	ConnDisconnected ConnState = iota

	// ConnConnecting: a dial is in flight.
	ConnConnecting

	// ConnConnected: a live stream is available for sends.
	ConnConnected

	// ConnFailed: the last dial, send, or receive failed. The next Connect
	// call dials fresh; nothing retries on a timer.
	ConnFailed
)

// String returns the human-readable name of the state.
func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnOption is a functional option for configuring a [ConnManager].
type ConnOption func(*ConnManager)

// WithConnBreaker routes dials through cb so a dead endpoint fails fast
// instead of being re-dialed at every window.
func WithConnBreaker(cb *resilience.CircuitBreaker) ConnOption {
	return func(m *ConnManager) { m.breaker = cb }
}

// WithConnMetrics overrides the metrics instance. Default is
// [observe.DefaultMetrics].
func WithConnMetrics(met *observe.Metrics) ConnOption {
	return func(m *ConnManager) { m.metrics = met }
}

// ConnManager owns the connection lifecycle for one denoising session: lazy
// dialing, state tracking, the receive pump, and teardown. The orchestrator
// never touches the stream directly; every access goes through the state
// machine so a half-open or stale stream cannot leak into the send path.
//
// A session holds exactly one ConnManager and the manager holds at most one
// live stream. The stream exists only in the [ConnConnected] state.
//
// ConnManager is safe for concurrent use.
type ConnManager struct {
	provider denoise.Provider
	cfg      denoise.StreamConfig
	sink     Sink
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics

	mu         sync.Mutex
	state      ConnState
	stream     denoise.Stream
	generation int

	// pumpDone is closed when the current period's receive pump exits, so
	// Disconnect (and tests) can synchronise with the end of the period.
	pumpDone chan struct{}
}

// NewConnManager creates a manager in the [ConnDisconnected] state. Nothing
// is dialed until [ConnManager.Connect].
func NewConnManager(provider denoise.Provider, cfg denoise.StreamConfig, sink Sink, opts ...ConnOption) *ConnManager {
	m := &ConnManager{
		provider: provider,
		cfg:      cfg,
		sink:     sink,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Connect opens a stream to the denoise service and starts the receive pump
// for the new connected period. Calling Connect while already connected is a
// no-op. On failure the manager moves to [ConnFailed] and stays there; there
// is no automatic retry, the next Connect call dials again.
//
// The mutex is held across the dial, so a concurrent Disconnect or State
// call waits for the dial to settle. Cancel ctx to abort a hanging dial.
func (m *ConnManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == ConnConnected {
		return nil
	}
	m.state = ConnConnecting

	start := time.Now()
	var st denoise.Stream
	dial := func() error {
		var err error
		st, err = m.provider.Open(ctx, m.cfg)
		return err
	}

	var err error
	if m.breaker != nil {
		err = m.breaker.Execute(dial)
	} else {
		err = dial()
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", status)))

	if err != nil {
		m.state = ConnFailed
		m.metrics.RecordTransportError(ctx, "connect")
		return fmt.Errorf("pipeline: connect: %w", err)
	}

	m.stream = st
	m.state = ConnConnected
	m.generation++
	m.metrics.ActiveStreams.Add(ctx, 1)

	done := make(chan struct{})
	m.pumpDone = done
	go m.pump(st, m.generation, done)

	return nil
}

// Disconnect tears the connection down: it closes the stream (which
// interrupts any pending read without surfacing it as a failure), waits for
// the receive pump to exit, and resets to [ConnDisconnected]. Safe to call
// from any state, repeatedly.
func (m *ConnManager) Disconnect() {
	m.mu.Lock()
	st := m.stream
	done := m.pumpDone
	m.stream = nil
	m.pumpDone = nil
	m.state = ConnDisconnected
	m.mu.Unlock()

	if st != nil {
		_ = st.Close()
	}
	if done != nil {
		<-done
	}
}

// Send writes one window batch to the live stream. It requires the manager
// to be [ConnConnected]; otherwise [ErrNotConnected] is returned and the
// caller decides whether to connect and retry. A write failure marks the
// connection [ConnFailed] and closes the stale stream; the error is
// returned, never escalated.
func (m *ConnManager) Send(ctx context.Context, batch []byte) error {
	m.mu.Lock()
	if m.state != ConnConnected || m.stream == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	st := m.stream
	m.mu.Unlock()

	// Write outside the lock so a slow socket never blocks state queries or
	// a concurrent Disconnect.
	start := time.Now()
	err := st.Send(batch)

	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.SendDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", status)))

	if err != nil {
		m.mu.Lock()
		if m.stream == st {
			m.state = ConnFailed
			m.stream = nil
		}
		m.mu.Unlock()
		_ = st.Close()
		m.metrics.RecordTransportError(ctx, "send")
		return fmt.Errorf("pipeline: send: %w", err)
	}
	return nil
}

// State returns the current connection state.
func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// pump forwards denoised chunks from st to the sink until the stream ends.
// Each chunk is tagged with the session's audio contract on the way through;
// there is no buffering or reordering, the sink sees the stream's delivery
// order. Exactly one pump runs per connected period.
func (m *ConnManager) pump(st denoise.Stream, gen int, done chan struct{}) {
	ctx := context.Background()
	defer close(done)
	defer m.metrics.ActiveStreams.Add(ctx, -1)

	for chunk := range st.Output() {
		frame := audio.Frame{
			Data:       chunk,
			SampleRate: m.cfg.SampleRate,
			Channels:   m.cfg.Channels,
		}
		if err := m.sink.Emit(frame); err != nil {
			slog.Warn("pipeline: sink rejected denoised frame", "bytes", len(chunk), "err", err)
			continue
		}
		m.metrics.RecordOutput(ctx, len(chunk))
	}

	// Stream ended. A nil Err means local teardown closed it; anything else
	// is a transport failure the next send recovers from.
	err := st.Err()
	if err == nil {
		return
	}

	m.mu.Lock()
	if m.generation == gen && m.state == ConnConnected {
		m.state = ConnFailed
		m.stream = nil
	}
	m.mu.Unlock()

	_ = st.Close()
	m.metrics.RecordTransportError(ctx, "receive")
	slog.Warn("pipeline: receive loop ended", "err", err)
}
