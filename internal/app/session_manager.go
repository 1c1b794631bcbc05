package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxatone/hushwire/internal/config"
	"github.com/voxatone/hushwire/internal/observe"
	"github.com/voxatone/hushwire/internal/pipeline"
	"github.com/voxatone/hushwire/internal/resilience"
	"github.com/voxatone/hushwire/pkg/audio"
	"github.com/voxatone/hushwire/pkg/denoise"
)

// ErrSessionNotFound is returned by [SessionManager.Close] and wrapped with
// the offending session ID.
var ErrSessionNotFound = errors.New("app: session not found")

// ErrSessionLimit is returned by [SessionManager.Open] when the configured
// session cap is reached.
var ErrSessionLimit = errors.New("app: session limit reached")

// SessionInfo holds metadata about one open denoising session.
type SessionInfo struct {
	// ID is the unique identifier for this session.
	ID string

	// Format is the PCM contract the session was opened with.
	Format audio.Format

	// StartedAt is when the session was opened.
	StartedAt time.Time
}

// session pairs a running denoiser with its metadata.
type session struct {
	info     SessionInfo
	denoiser *pipeline.Denoiser
}

// SessionManager owns the lifecycle of all denoising sessions in the
// process. Sessions are independent: each one gets its own [pipeline.Denoiser]
// built from the configuration snapshot current at open time, so a config
// reload affects sessions opened afterwards and leaves running ones alone.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session

	// Dependencies injected at construction.
	provider denoise.Provider
	snapshot func() *config.Config
	metrics  *observe.Metrics
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Provider is the denoise backend shared by every session.
	Provider denoise.Provider

	// Snapshot returns the current configuration. Wire it to
	// [config.Watcher.Current] for hot reload, or to a closure over a fixed
	// config when no watcher runs.
	Snapshot func() *config.Config

	// Metrics is the instrument set handed to each session's denoiser.
	// When nil, the package-level default instruments are used.
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*session),
		provider: cfg.Provider,
		snapshot: cfg.Snapshot,
		metrics:  cfg.Metrics,
	}
}

// Open starts a new denoising session for audio in the given format and
// returns its ID. A zero format falls back to the configured audio contract.
// ctx bounds the initial connection attempt only; the session lives until
// [SessionManager.Close] or [SessionManager.CloseAll].
//
// Returns [ErrSessionLimit] when server.max_sessions is reached.
func (sm *SessionManager) Open(ctx context.Context, format audio.Format, sink pipeline.Sink) (string, error) {
	cfg := sm.snapshot()

	if format == (audio.Format{}) {
		format = audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		}
	}

	id := uuid.New().String()
	opts := sessionOptions(id, cfg.Denoise)
	if sm.metrics != nil {
		opts = append(opts, pipeline.WithMetrics(sm.metrics))
	}
	d := pipeline.New(sm.provider, sink, opts...)

	sm.mu.Lock()
	if limit := cfg.Server.MaxSessions; limit > 0 && len(sm.sessions) >= limit {
		sm.mu.Unlock()
		return "", fmt.Errorf("%w (%d open)", ErrSessionLimit, limit)
	}
	// Reserve the slot before the unlocked Start so concurrent opens cannot
	// overshoot the cap.
	s := &session{
		info: SessionInfo{
			ID:        id,
			Format:    format,
			StartedAt: time.Now().UTC(),
		},
		denoiser: d,
	}
	sm.sessions[id] = s
	sm.mu.Unlock()

	if err := d.Start(ctx, format); err != nil {
		sm.mu.Lock()
		delete(sm.sessions, id)
		sm.mu.Unlock()
		return "", fmt.Errorf("app: open session: %w", err)
	}

	slog.Info("session opened",
		"session_id", id,
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"window", cfg.Denoise.Window(),
		"passthrough", cfg.Denoise.Passthrough,
	)
	return id, nil
}

// Close ends the session with the given ID. The session is removed even when
// the orderly stop fails; in that case the denoiser is cancelled and the
// stop error is returned.
func (sm *SessionManager) Close(id string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}

	err := s.denoiser.Stop()
	if err != nil {
		s.denoiser.Cancel()
	}

	slog.Info("session closed", "session_id", id, "age", time.Since(s.info.StartedAt))
	return err
}

// Get returns the denoiser driving the session with the given ID. The caller
// feeds it via [pipeline.Denoiser.Process] and may flip its mute gate.
func (sm *SessionManager) Get(id string) (*pipeline.Denoiser, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	return s.denoiser, true
}

// Info returns metadata about the session with the given ID.
func (sm *SessionManager) Info(id string) (SessionInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info, true
}

// Sessions returns metadata for all open sessions, oldest first.
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s.info)
	}
	sm.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ActiveCount returns the number of open sessions.
func (sm *SessionManager) ActiveCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// CloseAll ends every open session. Stop errors are logged, not returned;
// every denoiser is torn down regardless. Used during shutdown.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*session)
	sm.mu.Unlock()

	for id, s := range sessions {
		if err := s.denoiser.Stop(); err != nil {
			slog.Warn("session stop error, cancelling", "session_id", id, "err", err)
			s.denoiser.Cancel()
		}
	}
	if len(sessions) > 0 {
		slog.Info("all sessions closed", "count", len(sessions))
	}
}

// sessionOptions translates a denoise config snapshot into pipeline options
// for one session. Each session gets its own circuit breaker so one noisy
// session cannot trip another's dial path; a zero breaker config disables
// the breaker and leaves the pure lazy reconnect behaviour.
func sessionOptions(id string, dc config.DenoiseConfig) []pipeline.Option {
	opts := []pipeline.Option{
		pipeline.WithPassthrough(dc.Passthrough),
	}
	if dc.WindowSeconds > 0 {
		opts = append(opts, pipeline.WithWindow(dc.Window()))
	}
	if dc.FrameRate > 0 {
		opts = append(opts, pipeline.WithFrameRate(dc.FrameRate))
	}
	if dc.OnFailure == config.FailurePassthrough {
		opts = append(opts, pipeline.WithFailurePolicy(pipeline.FailPassthrough))
	}
	if dc.Breaker != (config.BreakerConfig{}) {
		opts = append(opts, pipeline.WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "session-" + id[:8],
			MaxFailures:  dc.Breaker.MaxFailures,
			ResetTimeout: dc.Breaker.ResetTimeout(),
			HalfOpenMax:  dc.Breaker.HalfOpenMax,
		})))
	}
	return opts
}
