package audio

import "time"

// BytesPerSample is the width of a single PCM sample in bytes. The whole
// pipeline speaks 16-bit linear PCM; format negotiation happens in
// configuration, never by inspecting payloads.
const BytesPerSample = 2

// Frame represents a chunk of raw PCM flowing through the pipeline. Frames
// are the atomic unit of transport: submitted by the capture side, batched
// into windows by the denoiser, and handed to the sink on the way out.
type Frame struct {
	// Data holds interleaved 16-bit little-endian PCM samples.
	Data []byte

	// SampleRate in Hz (e.g. 16000 for telephony capture, 48000 for
	// full-band audio).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo. Fixed for the session.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format pins the PCM parameters of one denoising session. A session is
// started with a Format and every subsequent input frame must match it.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration converts a byte count at the given sample rate into the playback
// time it represents. The math carries no channel term: a byte count is
// taken to cover all interleaved channels of the stream it came from.
func Duration(n, sampleRate int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(sampleRate*BytesPerSample)
}

// BytesFor returns the number of PCM bytes covering d at the given sample
// rate. It is the inverse of [Duration] up to rounding.
func BytesFor(d time.Duration, sampleRate int) int {
	return int(d * time.Duration(sampleRate*BytesPerSample) / time.Second)
}

// Drain consumes ch until it is closed, throwing the values away. Abandoning
// a stream without draining its output channel would park the sender
// goroutine forever.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
