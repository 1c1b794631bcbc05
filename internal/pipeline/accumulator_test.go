package pipeline_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/voxatone/hushwire/internal/pipeline"
)

// fill returns n bytes all set to b, so batch boundaries stay visible in
// assertions.
func fill(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestAccumulator_NoFlushUpToWindow(t *testing.T) {
	t.Parallel()

	// 140 ms at 16 kHz mono 16-bit is exactly 4480 bytes.
	a := pipeline.NewAccumulator(140*time.Millisecond, 16000)

	a.Accumulate(fill(2000, 0x01))
	if a.ShouldFlush() {
		t.Error("2000 bytes (62.5 ms) should not flush")
	}
	a.Accumulate(fill(2000, 0x02))
	if a.ShouldFlush() {
		t.Error("4000 bytes (125 ms) should not flush")
	}
	if got := a.Buffered(); got != 4000 {
		t.Errorf("Buffered = %d; want 4000", got)
	}
}

func TestAccumulator_ExactWindowDoesNotFlush(t *testing.T) {
	t.Parallel()

	a := pipeline.NewAccumulator(140*time.Millisecond, 16000)
	a.Accumulate(fill(4480, 0x01))
	if a.ShouldFlush() {
		t.Error("exactly 140 ms buffered should not flush; the threshold is strict")
	}
	a.Accumulate(fill(1, 0x02))
	if !a.ShouldFlush() {
		t.Error("one byte past the window should flush")
	}
}

func TestAccumulator_FlushReturnsAllBytesAndResets(t *testing.T) {
	t.Parallel()

	a := pipeline.NewAccumulator(140*time.Millisecond, 16000)
	a.Accumulate(fill(2000, 0x01))
	a.Accumulate(fill(2000, 0x02))
	a.Accumulate(fill(1000, 0x03))

	if !a.ShouldFlush() {
		t.Fatal("5000 bytes (156.25 ms) should flush")
	}

	batch := a.Flush()
	if len(batch) != 5000 {
		t.Fatalf("flush size = %d; want 5000", len(batch))
	}
	want := append(append(fill(2000, 0x01), fill(2000, 0x02)...), fill(1000, 0x03)...)
	if !bytes.Equal(batch, want) {
		t.Error("flushed batch does not preserve chunk order and content")
	}
	if got := a.Buffered(); got != 0 {
		t.Errorf("Buffered after flush = %d; want 0", got)
	}
	if a.ShouldFlush() {
		t.Error("empty accumulator should not flush")
	}
}

func TestAccumulator_FlushEmptyReturnsNil(t *testing.T) {
	t.Parallel()

	a := pipeline.NewAccumulator(140*time.Millisecond, 16000)
	if got := a.Flush(); got != nil {
		t.Errorf("Flush on empty buffer = %v; want nil", got)
	}
}

func TestAccumulator_ChunkIsCopied(t *testing.T) {
	t.Parallel()

	a := pipeline.NewAccumulator(140*time.Millisecond, 16000)
	chunk := fill(100, 0x0A)
	a.Accumulate(chunk)
	chunk[0] = 0xFF

	if got := a.Flush(); got[0] != 0x0A {
		t.Errorf("buffer shares memory with caller chunk: got[0] = %#x; want 0x0a", got[0])
	}
}

func TestAccumulator_OversizedSingleChunk(t *testing.T) {
	t.Parallel()

	// A single chunk far past the window is accepted whole and flushes as
	// one batch; nothing is split.
	a := pipeline.NewAccumulator(140*time.Millisecond, 16000)
	a.Accumulate(fill(50000, 0x01))
	if !a.ShouldFlush() {
		t.Fatal("oversized chunk should flush")
	}
	if got := len(a.Flush()); got != 50000 {
		t.Errorf("flush size = %d; want 50000", got)
	}
}
