// Package loopback provides a [denoise.Provider] that returns input
// unchanged. It exists for local development and demos where no service
// credential is available: the full session machinery runs (windowing,
// connection lifecycle, receive pump) with the audio passing through
// untouched, optionally after a simulated service delay.
package loopback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voxatone/hushwire/pkg/denoise"
)

// outputBuffer is the per-stream buffer of echoed chunks. A consumer that
// stops reading loses chunks beyond this, the same way a real service would
// back up.
const outputBuffer = 64

var _ denoise.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithDelay delays each echoed chunk by d, simulating service latency.
func WithDelay(d time.Duration) Option {
	return func(p *Provider) { p.delay = d }
}

// Provider opens streams that echo every batch back as output.
type Provider struct {
	delay time.Duration
}

// New constructs a loopback provider.
func New(opts ...Option) *Provider {
	p := &Provider{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Open implements [denoise.Provider]. It never touches the network and only
// fails on an invalid config.
func (p *Provider) Open(_ context.Context, cfg denoise.StreamConfig) (denoise.Stream, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("loopback: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameRate <= 0 {
		return nil, fmt.Errorf("loopback: frame rate must be positive, got %d", cfg.FrameRate)
	}
	return &stream{
		delay:  p.delay,
		output: make(chan []byte, outputBuffer),
	}, nil
}

type stream struct {
	delay  time.Duration
	output chan []byte

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Send implements [denoise.Stream]: the batch is copied and echoed on the
// output channel, after the configured delay if any.
func (s *stream) Send(batch []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return denoise.ErrStreamClosed
	}

	cp := make([]byte, len(batch))
	copy(cp, batch)

	if s.delay > 0 {
		time.AfterFunc(s.delay, func() { s.deliver(cp) })
		return nil
	}
	s.deliver(cp)
	return nil
}

// deliver hands one chunk to the consumer. Holding the lock across the
// buffered send keeps it ordered against Close; a full buffer drops the
// chunk rather than blocking the sender.
func (s *stream) deliver(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.output <- chunk:
	default:
	}
}

// Output implements [denoise.Stream].
func (s *stream) Output() <-chan []byte { return s.output }

// Err implements [denoise.Stream]. A loopback stream never fails.
func (s *stream) Err() error { return nil }

// Close implements [denoise.Stream]. Idempotent; delayed chunks still in
// flight are discarded.
func (s *stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.output) })
	return nil
}
