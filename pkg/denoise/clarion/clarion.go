// Package clarion implements the denoise.Provider interface for the Clarion
// Audio streaming denoise API.
//
// It establishes a bidirectional WebSocket connection to the Clarion
// streaming endpoint and exchanges raw binary PCM in both directions. There
// is no JSON envelope, length prefix, or any other application-level framing:
// each binary message going out is one accumulated window of input audio, and
// each binary message coming in is one denoised output chunk. The credential
// and the audio contract travel in the URL query string, so the handshake
// carries everything the service needs.
package clarion

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/voxatone/hushwire/pkg/audio"
	"github.com/voxatone/hushwire/pkg/denoise"
)

// Compile-time assertions that Provider and stream satisfy the denoise interfaces.
var _ denoise.Provider = (*Provider)(nil)
var _ denoise.Stream = (*stream)(nil)

const (
	defaultBaseURL = "wss://api.clarion.audio"

	// streamPath is the fixed protocol path segment of the streaming endpoint.
	streamPath = "/v1/denoise/stream"

	// outputBuffer is the capacity of the output channel. Large enough to ride
	// out a slow consumer for a moment without stalling the receive loop.
	outputBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements denoise.Provider backed by the Clarion streaming API.
type Provider struct {
	apiKey  string
	baseURL string
}

// New creates a new Clarion Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("clarion: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Open establishes a new denoising stream with the given audio contract.
// The returned stream accepts audio immediately; the service starts emitting
// denoised chunks as soon as it has enough input to work with.
func (p *Provider) Open(ctx context.Context, cfg denoise.StreamConfig) (denoise.Stream, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("clarion: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("clarion: dial: %w", err)
	}

	streamCtx, streamCancel := context.WithCancel(context.Background())
	st := &stream{
		conn:   conn,
		output: make(chan []byte, outputBuffer),
		ctx:    streamCtx,
		cancel: streamCancel,
	}

	go st.receiveLoop()

	return st, nil
}

// buildURL constructs the Clarion streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg denoise.StreamConfig) (string, error) {
	if cfg.SampleRate <= 0 {
		return "", fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameRate <= 0 {
		return "", fmt.Errorf("frame rate must be positive, got %d", cfg.FrameRate)
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}
	u.Path += streamPath

	q := u.Query()
	q.Set("key", p.apiKey)
	q.Set("bytes_per_sample", strconv.Itoa(audio.BytesPerSample))
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("frame_rate", strconv.Itoa(cfg.FrameRate))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ── stream ─────────────────────────────────────────────────────────────────────

type stream struct {
	conn   *websocket.Conn
	output chan []byte

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// receiveLoop reads binary messages from the WebSocket and forwards their
// payloads on the output channel. It owns output: it closes the channel when
// it exits.
func (s *stream) receiveLoop() {
	defer s.closeOutput()

	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		// The service speaks raw binary PCM only; anything else on the
		// socket is ignored.
		if typ != websocket.MessageBinary || len(data) == 0 {
			continue
		}

		select {
		case s.output <- data:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *stream) closeOutput() {
	s.closeOnce.Do(func() {
		close(s.output)
	})
}

// ── Stream methods ─────────────────────────────────────────────────────────────

// Send delivers a batch of raw PCM bytes to the service as one binary message.
func (s *stream) Send(batch []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return denoise.ErrStreamClosed
	}
	s.mu.Unlock()

	if err := s.conn.Write(s.ctx, websocket.MessageBinary, batch); err != nil {
		return fmt.Errorf("clarion: write: %w", err)
	}
	return nil
}

// Output returns the channel on which denoised audio arrives.
func (s *stream) Output() <-chan []byte { return s.output }

// Err returns the first non-nil error that caused the stream to terminate.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the stream and releases all resources. Idempotent.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	return nil
}
