// Package pipeline implements the core of a streaming denoise session: a
// state-machined orchestrator that batches raw PCM into time-bounded windows,
// ships them to a [denoise.Provider] over a managed connection, and forwards
// the cleaned audio to a [Sink] in arrival order.
//
// # Architecture
//
//  1. The embedding code calls [Denoiser.Start] with the session's audio
//     format, then feeds frames through [Denoiser.Process].
//  2. Each frame passes the gate checks (session state, format contract,
//     mute, passthrough) and lands in the [Accumulator].
//  3. Once the buffered duration exceeds the accumulation window, the whole
//     buffer is flushed and sent over the [ConnManager] stream, reconnecting
//     lazily first if the previous stream failed.
//  4. A receive pump per connected period forwards denoised chunks to the
//     [Sink] the moment they arrive; output is not correlated with sends.
//  5. Transport failures are logged, counted, and absorbed by the failure
//     policy (skip the window, or pass the original audio through); they
//     never terminate the session.
//
// The send path and the receive path share nothing but the stream itself, so
// a slow service cannot stall capture.
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
)

const (
	// defaultWindow is the accumulation target before a batch goes out.
	// 140 ms of buffered input balances per-message overhead against the
	// latency the window adds in front of the service.
	defaultWindow = 140 * time.Millisecond

	// defaultFrameRate is the output frame rate requested from the service
	// when the caller does not configure one.
	defaultFrameRate = 50
)

// ErrNotStarted is returned by [Denoiser.Process] and [Denoiser.Stop] when
// the session is not in [StateStarted].
var ErrNotStarted = errors.New("pipeline: session not started")

// State is the lifecycle state of a [Denoiser].
type State int

const (
	// StateUninitialized: constructed, Start not yet called.
	StateUninitialized State = iota

	// StateStarted: accepting frames.
	StateStarted

	// StateStopped: orderly shutdown via Stop; terminal.
	StateStopped

	// StateCancelled: abrupt shutdown via Cancel; terminal.
	StateCancelled
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FailurePolicy selects what happens to a window the service never received
// because connecting or sending failed.
type FailurePolicy int

const (
	// FailSkip drops the window; the output channel goes silent for that
	// stretch of audio.
	FailSkip FailurePolicy = iota

	// FailPassthrough emits the original un-denoised window as output, so
	// downstream hears raw audio rather than a gap.
	FailPassthrough
)

// String returns the human-readable name of the policy.
func (p FailurePolicy) String() string {
	switch p {
	case FailSkip:
		return "skip"
	case FailPassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// Option is a functional option for configuring a Denoiser during construction.
type Option func(*Denoiser)

// WithWindow sets the accumulation window. Default is 140 ms.
func WithWindow(d time.Duration) Option {
	return func(dn *Denoiser) { dn.window = d }
}

// WithFrameRate sets the output frame rate requested from the service.
// Default is 50 Hz.
func WithFrameRate(hz int) Option {
	return func(dn *Denoiser) { dn.frameRate = hz }
}

// WithPassthrough starts the session in passthrough mode: every frame is
// forwarded to the sink unchanged and no connection is ever opened. Fixed
// for the session's lifetime.
func WithPassthrough(enabled bool) Option {
	return func(dn *Denoiser) { dn.passthrough = enabled }
}

// WithFailurePolicy sets how windows are handled when the service is
// unreachable. Default is [FailSkip].
func WithFailurePolicy(p FailurePolicy) Option {
	return func(dn *Denoiser) { dn.policy = p }
}

// WithBreaker routes connection attempts through cb so a dead endpoint
// fails fast instead of being re-dialed at every window.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(dn *Denoiser) { dn.breaker = cb }
}

// WithMetrics overrides the metrics instance. Default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(dn *Denoiser) { dn.metrics = m }
}

// Denoiser orchestrates one denoising session end to end: gate checks,
// windowed accumulation, lazy connection management, and failure policy.
//
// The state machine is Uninitialized → Started → Stopped, with Cancelled
// reachable from every state. Both terminal states are final; a Denoiser is
// not reusable across sessions.
//
// Denoiser is safe for concurrent use, though audio input is expected from
// one goroutine at a time; concurrent Process calls may interleave their
// bytes in the accumulation buffer.
type Denoiser struct {
	provider denoise.Provider
	sink     Sink

	window      time.Duration
	frameRate   int
	policy      FailurePolicy
	passthrough bool
	breaker     *resilience.CircuitBreaker
	metrics     *observe.Metrics

	mu      sync.Mutex
	state   State
	tracker StateTracker
	acc     *Accumulator
	conn    *ConnManager
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a Denoiser backed by the given provider, emitting into
// sink. Options are applied after the defaults.
func New(provider denoise.Provider, sink Sink, opts ...Option) *Denoiser {
	d := &Denoiser{
		provider:  provider,
		sink:      sink,
		window:    defaultWindow,
		frameRate: defaultFrameRate,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Start pins the session's audio format and opens the connection to the
// denoise service. ctx bounds the initial connection attempt only; the
// session itself lives until [Denoiser.Stop] or [Denoiser.Cancel].
//
// A failed initial connect does not fail Start: the session comes up
// degraded and the next flushed window dials again. In passthrough mode no
// connection is opened at all.
func (d *Denoiser) Start(ctx context.Context, format audio.Format) error {
	if format.SampleRate <= 0 {
		return fmt.Errorf("pipeline: sample rate must be positive, got %d", format.SampleRate)
	}
	if format.Channels <= 0 {
		return fmt.Errorf("pipeline: channel count must be positive, got %d", format.Channels)
	}

	d.mu.Lock()
	if d.state != StateUninitialized {
		st := d.state
		d.mu.Unlock()
		return fmt.Errorf("pipeline: start in state %v", st)
	}
	d.state = StateStarted
	d.tracker.Pin(format)
	d.acc = NewAccumulator(d.window, format.SampleRate)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	connOpts := []ConnOption{WithConnMetrics(d.metrics)}
	if d.breaker != nil {
		connOpts = append(connOpts, WithConnBreaker(d.breaker))
	}
	d.conn = NewConnManager(d.provider, denoise.StreamConfig{
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		FrameRate:  d.frameRate,
	}, d.sink, connOpts...)
	conn := d.conn
	d.mu.Unlock()

	d.metrics.ActiveSessions.Add(ctx, 1)

	if d.passthrough {
		return nil
	}

	if err := conn.Connect(ctx); err != nil {
		slog.Warn("pipeline: initial connect failed, continuing degraded", "err", err)
	}
	return nil
}

// Stop ends a started session in an orderly way: the connection is torn
// down and any partially accumulated audio below the window threshold is
// discarded, not sent.
func (d *Denoiser) Stop() error {
	d.mu.Lock()
	if d.state != StateStarted {
		st := d.state
		d.mu.Unlock()
		return fmt.Errorf("pipeline: stop in state %v: %w", st, ErrNotStarted)
	}
	d.state = StateStopped
	conn := d.conn
	acc := d.acc
	cancel := d.cancel
	d.mu.Unlock()

	if n := acc.Buffered(); n > 0 {
		slog.Debug("pipeline: discarding partial window", "bytes", n)
		acc.Flush()
	}

	// Cancel before Disconnect so an in-flight dial aborts instead of being
	// waited for.
	cancel()
	conn.Disconnect()
	d.metrics.ActiveSessions.Add(context.Background(), -1)
	return nil
}

// Cancel aborts the session from any state: before Start, mid-dial, after
// Stop, or repeatedly. It never fails. Use it for abrupt pipeline teardown
// where Stop's started-only contract is too strict.
func (d *Denoiser) Cancel() {
	d.mu.Lock()
	if d.state == StateCancelled {
		d.mu.Unlock()
		return
	}
	prev := d.state
	d.state = StateCancelled
	conn := d.conn
	acc := d.acc
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if acc != nil {
		acc.Flush()
	}
	if conn != nil {
		conn.Disconnect()
	}
	if prev == StateStarted {
		d.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// ─── Audio path ───────────────────────────────────────────────────────────────

// Process runs one input frame through the session. The returned error is a
// usage signal only (session not started); transport trouble is handled by
// the failure policy and never surfaces here.
//
// Gates apply in order: muted drops the frame entirely, passthrough emits it
// unchanged without touching the accumulator or the network. Otherwise the
// frame is accumulated and, when the window spills over, the whole batch is
// sent. Output arrives asynchronously through the receive pump and is not
// matched to any particular send.
func (d *Denoiser) Process(frame audio.Frame) error {
	d.mu.Lock()
	if d.state != StateStarted {
		st := d.state
		d.mu.Unlock()
		return fmt.Errorf("pipeline: process in state %v: %w", st, ErrNotStarted)
	}
	ctx := d.ctx
	acc := d.acc
	conn := d.conn
	d.mu.Unlock()

	d.tracker.Verify(frame)

	if d.tracker.Muted() {
		d.metrics.RecordFrame(ctx, "muted")
		return nil
	}

	if d.passthrough {
		d.metrics.RecordFrame(ctx, "passthrough")
		if err := d.sink.Emit(frame); err != nil {
			slog.Warn("pipeline: passthrough emit failed", "err", err)
		}
		return nil
	}

	d.metrics.RecordFrame(ctx, "denoised")
	acc.Accumulate(frame.Data)
	if !acc.ShouldFlush() {
		return nil
	}

	batch := acc.Flush()
	if len(batch) == 0 {
		return nil
	}
	d.metrics.RecordFlush(ctx, len(batch))
	d.dispatch(ctx, conn, frame, batch)
	return nil
}

// SetMuted flips the mute gate. Takes effect on the next Process call;
// frames already handled are not recalled.
func (d *Denoiser) SetMuted(muted bool) {
	d.tracker.SetMuted(muted)
}

// Muted returns the current mute gate.
func (d *Denoiser) Muted() bool {
	return d.tracker.Muted()
}

// State returns the session's lifecycle state.
func (d *Denoiser) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Format returns the audio format pinned at Start. Zero before Start.
func (d *Denoiser) Format() audio.Format {
	return d.tracker.Format()
}

// dispatch sends one flushed batch, connecting first if the session has no
// live stream. Failures never escalate: the window falls to the failure
// policy and the session keeps running.
func (d *Denoiser) dispatch(ctx context.Context, conn *ConnManager, frame audio.Frame, batch []byte) {
	if conn.State() != ConnConnected {
		if err := conn.Connect(ctx); err != nil {
			slog.Warn("pipeline: reconnect failed", "bytes", len(batch), "policy", d.policy.String(), "err", err)
			d.fallback(frame, batch)
			return
		}
	}
	if err := conn.Send(ctx, batch); err != nil {
		slog.Warn("pipeline: send failed", "bytes", len(batch), "policy", d.policy.String(), "err", err)
		d.fallback(frame, batch)
	}
}

// fallback applies the failure policy to a window the service never took.
func (d *Denoiser) fallback(frame audio.Frame, batch []byte) {
	if d.policy != FailPassthrough {
		return
	}
	out := audio.Frame{
		Data:       batch,
		SampleRate: frame.SampleRate,
		Channels:   frame.Channels,
		Timestamp:  frame.Timestamp,
	}
	if err := d.sink.Emit(out); err != nil {
		slog.Warn("pipeline: fallback emit failed", "err", err)
	}
}
