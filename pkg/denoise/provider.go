// Package denoise defines the Provider interface for streaming noise
// suppression backends.
//
// A denoise provider wraps a real-time audio cleanup service that accepts raw
// PCM input and returns cleaned PCM output over a single, stateful stream.
// There is no request/response pairing: input windows go in as the pipeline
// produces them and denoised audio comes back as the service finishes it, so
// a slow window never stalls the capture side.
//
// The central abstraction is Stream: a bidirectional byte pipe that carries
// raw audio in both directions concurrently. Streams are designed to be
// long-lived (the whole capture session) and cheap to reopen after a
// transient failure.
//
// All implementations must be safe for concurrent use.
package denoise

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by [Stream.Send] once the stream has been
// closed locally or torn down by the remote end.
var ErrStreamClosed = errors.New("denoise: stream closed")

// StreamConfig is the audio contract for a new denoising stream. All values
// are fixed for the stream's lifetime; changing them means opening a new
// stream.
type StreamConfig struct {
	// SampleRate is the input PCM sample rate in Hz.
	SampleRate int

	// Channels is the input channel count. The service returns audio in the
	// same channel layout it received.
	Channels int

	// FrameRate is the output frame rate in Hz requested from the service,
	// i.e. how many denoised chunks per second it should aim to emit.
	FrameRate int
}

// Stream represents an open denoising stream. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// The stream sits on the hot path of the audio pipeline, so every method must
// return quickly. Output is channel-based to keep the service's receive loop
// decoupled from the caller's send cadence. All methods must be safe for
// concurrent use.
//
// Callers must call Close when the stream is no longer needed.
type Stream interface {
	// Send delivers a batch of raw PCM bytes to the service for denoising.
	// The batch must match the audio contract the stream was opened with.
	// Returns [ErrStreamClosed] if the stream is closed, or a transport error
	// if the write fails; either way the stream is unusable afterwards and
	// the caller should open a fresh one.
	Send(batch []byte) error

	// Output returns a read-only channel that emits denoised PCM byte slices
	// in the order the service produced them. The channel is closed when the
	// stream ends or when a mid-stream error occurs. After the channel
	// closes, call [Stream.Err] to check whether the stream ended cleanly.
	// Consumers must drain this channel promptly to prevent backpressure
	// from stalling the stream's receive loop.
	Output() <-chan []byte

	// Err returns the error that caused the Output channel to close
	// prematurely, or nil if the stream ended cleanly.
	Err() error

	// Close terminates the stream, releases all resources, and closes the
	// Output channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any denoising backend.
//
// Implementations must be safe for concurrent use. A service embedding this
// package may open multiple concurrent streams, for example one per active
// capture session.
type Provider interface {
	// Open establishes a new denoising stream with the given audio contract.
	// The returned Stream is ready to accept audio immediately.
	//
	// Returns an error if the stream cannot be established (e.g.
	// authentication failure or ctx already cancelled). The caller owns the
	// Stream and is responsible for calling Close.
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}
