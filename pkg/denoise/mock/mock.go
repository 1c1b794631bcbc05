// Package mock provides in-memory mock implementations of the
// [denoise.Provider] and [denoise.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	p := &mock.Provider{}
//	st, _ := p.Open(ctx, denoise.StreamConfig{SampleRate: 16000, Channels: 1, FrameRate: 50})
//	st.(*mock.Stream).Emit([]byte{0x01, 0x02})
package mock

import (
	"context"
	"sync"

	"github.com/voxatone/hushwire/pkg/denoise"
)

// Compile-time assertions that the mocks satisfy the denoise interfaces.
var _ denoise.Provider = (*Provider)(nil)
var _ denoise.Stream = (*Stream)(nil)

// ─── Provider ─────────────────────────────────────────────────────────────────

// Provider is a mock implementation of [denoise.Provider].
// Set the exported Result fields before use; inspect the Call* fields after.
type Provider struct {
	mu sync.Mutex

	// OpenResult is returned by [Provider.Open] when set. When nil (and
	// OpenError is nil) each Open call hands out a fresh [Stream], also
	// recorded in OpenedStreams.
	OpenResult denoise.Stream

	// OpenError is returned by [Provider.Open] when non-nil.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// RecordedConfigs holds the StreamConfig of every Open call, in order.
	RecordedConfigs []denoise.StreamConfig

	// OpenedStreams holds the fresh streams handed out when OpenResult was
	// nil, in order of creation.
	OpenedStreams []*Stream
}

// Open implements [denoise.Provider].
func (p *Provider) Open(_ context.Context, cfg denoise.StreamConfig) (denoise.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountOpen++
	p.RecordedConfigs = append(p.RecordedConfigs, cfg)
	if p.OpenError != nil {
		return nil, p.OpenError
	}
	if p.OpenResult != nil {
		return p.OpenResult, nil
	}
	st := NewStream()
	p.OpenedStreams = append(p.OpenedStreams, st)
	return st, nil
}

// SetOpenError changes OpenError under the mock's lock. Use this to flip a
// provider between failing and healthy in the middle of a test.
func (p *Provider) SetOpenError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenError = err
}

// Opens returns how many times Open was called.
func (p *Provider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountOpen
}

// LastStream returns the most recently created stream, or nil if Open was
// never called (or always returned OpenResult).
func (p *Provider) LastStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.OpenedStreams) == 0 {
		return nil
	}
	return p.OpenedStreams[len(p.OpenedStreams)-1]
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [denoise.Stream]. Input is recorded in
// SentBatches; output is simulated by calling [Stream.Emit] or
// [Stream.FailWith] from the test.
type Stream struct {
	mu sync.Mutex

	// SendError is returned by [Stream.Send] when non-nil (after the call is
	// recorded).
	SendError error

	// CallCountSend records how many times Send was called.
	CallCountSend int

	// SentBatches holds a copy of every batch passed to Send, in order.
	SentBatches [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int

	errVal    error
	closed    bool
	output    chan []byte
	closeOnce sync.Once
}

// NewStream returns a Stream ready for use with a buffered output channel.
func NewStream() *Stream {
	return &Stream{output: make(chan []byte, 64)}
}

// Send implements [denoise.Stream]. The batch is copied before recording so
// later mutation by the caller cannot corrupt assertions.
func (s *Stream) Send(batch []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountSend++
	if s.closed {
		return denoise.ErrStreamClosed
	}
	if s.SendError != nil {
		return s.SendError
	}
	cp := make([]byte, len(batch))
	copy(cp, batch)
	s.SentBatches = append(s.SentBatches, cp)
	return nil
}

// SetSendError changes SendError under the mock's lock.
func (s *Stream) SetSendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendError = err
}

// Sent returns a snapshot of all batches received so far.
func (s *Stream) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SentBatches))
	copy(out, s.SentBatches)
	return out
}

// SentBytes returns the total number of bytes received across all batches.
func (s *Stream) SentBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.SentBatches {
		n += len(b)
	}
	return n
}

// Emit delivers a denoised chunk on the Output channel, as if the remote
// service produced it. Blocks if the channel buffer is full.
func (s *Stream) Emit(chunk []byte) {
	s.output <- chunk
}

// FailWith records err as the stream error and closes the Output channel,
// simulating a mid-stream transport failure.
func (s *Stream) FailWith(err error) {
	s.mu.Lock()
	if s.errVal == nil {
		s.errVal = err
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.output) })
}

// Output implements [denoise.Stream].
func (s *Stream) Output() <-chan []byte { return s.output }

// Err implements [denoise.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements [denoise.Stream]. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.output) })
	return nil
}
