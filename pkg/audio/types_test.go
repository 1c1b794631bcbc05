package audio_test

import (
	"testing"
	"time"

	"github.com/voxatone/hushwire/pkg/audio"
)

func TestDuration(t *testing.T) {
	cases := []struct {
		name       string
		bytes      int
		sampleRate int
		want       time.Duration
	}{
		{"one second at 16k", 32000, 16000, time.Second},
		{"window boundary", 4480, 16000, 140 * time.Millisecond},
		{"just past boundary", 5000, 16000, 156250 * time.Microsecond},
		{"empty", 0, 16000, 0},
		{"one second at 48k", 96000, 48000, time.Second},
	}
	for _, tc := range cases {
		if got := audio.Duration(tc.bytes, tc.sampleRate); got != tc.want {
			t.Errorf("%s: Duration(%d, %d) = %v, want %v", tc.name, tc.bytes, tc.sampleRate, got, tc.want)
		}
	}
}

func TestBytesFor(t *testing.T) {
	cases := []struct {
		name       string
		d          time.Duration
		sampleRate int
		want       int
	}{
		{"20ms frame at 16k", 20 * time.Millisecond, 16000, 640},
		{"one window at 16k", 140 * time.Millisecond, 16000, 4480},
		{"one second at 48k", time.Second, 48000, 96000},
		{"zero", 0, 16000, 0},
	}
	for _, tc := range cases {
		if got := audio.BytesFor(tc.d, tc.sampleRate); got != tc.want {
			t.Errorf("%s: BytesFor(%v, %d) = %d, want %d", tc.name, tc.d, tc.sampleRate, got, tc.want)
		}
	}
}

func TestDurationBytesForRoundTrip(t *testing.T) {
	for _, n := range []int{0, 640, 4480, 32000} {
		d := audio.Duration(n, 16000)
		if got := audio.BytesFor(d, 16000); got != n {
			t.Errorf("round trip for %d bytes: got %d", n, got)
		}
	}
}

func TestDrain(t *testing.T) {
	ch := make(chan []byte, 3)
	ch <- []byte{1}
	ch <- []byte{2}
	ch <- []byte{3}
	close(ch)

	done := make(chan struct{})
	go func() {
		audio.Drain(ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Drain did not return after channel close")
	}
}
