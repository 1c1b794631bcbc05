package pipeline

import (
	"fmt"
	"sync"

	"github.com/voxatone/hushwire/pkg/audio"
)

// StateTracker holds the per-session gate state (muted) and the audio format
// pinned at session start. Every later input frame must match the pinned
// format exactly; the remote stream was opened for that one contract.
type StateTracker struct {
	mu     sync.Mutex
	muted  bool
	format audio.Format
}

// Pin records the session's audio format. Called once from Start.
func (t *StateTracker) Pin(format audio.Format) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.format = format
}

// Format returns the pinned session format.
func (t *StateTracker) Format() audio.Format {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format
}

// SetMuted flips the mute gate. Takes effect on the next frame, never
// retroactively.
func (t *StateTracker) SetMuted(muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted = muted
}

// Muted returns the current mute gate.
func (t *StateTracker) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

// Verify panics if frame does not match the pinned format. A mid-session
// format change is a bug in the embedding code, not a runtime condition to
// recover from.
func (t *StateTracker) Verify(frame audio.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if frame.SampleRate != t.format.SampleRate {
		panic(fmt.Sprintf("pipeline: frame sample rate %d does not match session sample rate %d",
			frame.SampleRate, t.format.SampleRate))
	}
	if frame.Channels != t.format.Channels {
		panic(fmt.Sprintf("pipeline: frame channel count %d does not match session channel count %d",
			frame.Channels, t.format.Channels))
	}
}
