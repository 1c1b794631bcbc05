package pipeline

import "github.com/voxatone/hushwire/pkg/audio"

// Sink consumes the frames a [Denoiser] produces. Implementations receive
// frames in the exact order the denoising service returned them and must not
// retain frame.Data beyond the call.
//
// Emit is called both from the session's receive goroutine and from Process
// itself (passthrough and fallback paths), so implementations must be safe
// for concurrent use. Emit should return quickly; a slow sink stalls the
// receive loop.
type Sink interface {
	Emit(frame audio.Frame) error
}

// SinkFunc adapts a plain function to the [Sink] interface.
type SinkFunc func(frame audio.Frame) error

// Emit implements [Sink] by calling f.
func (f SinkFunc) Emit(frame audio.Frame) error { return f(frame) }
