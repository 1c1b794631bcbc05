package pipeline

import (
	"sync"
	"time"

	"github.com/voxatone/hushwire/pkg/audio"
)

// Accumulator batches raw PCM input into time-bounded windows. Chunks are
// appended until the buffered duration exceeds the configured window, at
// which point the whole buffer is flushed as one batch.
//
// Buffered duration is derived purely from the byte count at the session's
// sample rate; no wall-clock timer is involved, so a silent upstream simply
// leaves the buffer where it is.
//
// Accumulator is safe for concurrent use.
type Accumulator struct {
	window     time.Duration
	sampleRate int

	mu  sync.Mutex
	buf []byte
}

// NewAccumulator creates an Accumulator that flushes once the buffered audio
// exceeds window at the given sample rate.
func NewAccumulator(window time.Duration, sampleRate int) *Accumulator {
	return &Accumulator{window: window, sampleRate: sampleRate}
}

// Accumulate appends chunk to the buffer. The bytes are copied; the caller
// keeps ownership of its slice.
func (a *Accumulator) Accumulate(chunk []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, chunk...)
}

// ShouldFlush reports whether the buffered duration strictly exceeds the
// window. Exactly-at-window does not flush; the next chunk tips it over.
func (a *Accumulator) ShouldFlush() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return audio.Duration(len(a.buf), a.sampleRate) > a.window
}

// Flush returns the buffered bytes as one batch and resets the buffer to
// empty in the same step, so no chunk can land between the two. Returns nil
// when nothing is buffered.
func (a *Accumulator) Flush() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	batch := a.buf
	a.buf = nil
	return batch
}

// Buffered returns the number of bytes currently held.
func (a *Accumulator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}
