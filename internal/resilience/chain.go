package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxatone/hushwire/pkg/denoise"
)

// ErrAllFailed is returned by [Chain.Open] when every endpoint fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all denoise endpoints failed")

// Chain implements [denoise.Provider] with automatic failover across
// multiple denoise endpoints. Each endpoint has its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback
// is tried in registration order.
//
// Only the dial is covered by failover. Once a stream is open, mid-stream
// failures are handled by the session's lazy reconnect, which lands back
// here on the next window.
//
// Register all endpoints before the first Open; Add is not safe to call
// concurrently with Open.
type Chain struct {
	entries []chainEntry
	cfg     ChainConfig
}

var _ denoise.Provider = (*Chain)(nil)

// ChainConfig configures the per-endpoint circuit breaker created for each
// entry in a [Chain].
type ChainConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// chainEntry pairs an endpoint provider with its dedicated circuit breaker.
type chainEntry struct {
	name     string
	provider denoise.Provider
	breaker  *CircuitBreaker
}

// NewChain creates a [Chain] with primary as the first endpoint. Fallbacks
// are registered via [Chain.Add].
func NewChain(primary denoise.Provider, primaryName string, cfg ChainConfig) *Chain {
	c := &Chain{cfg: cfg}
	c.Add(primaryName, primary)
	return c
}

// Add appends a fallback endpoint. Endpoints are tried in the order they
// were added.
func (c *Chain) Add(name string, provider denoise.Provider) {
	cbCfg := c.cfg.CircuitBreaker
	cbCfg.Name = name
	c.entries = append(c.entries, chainEntry{
		name:     name,
		provider: provider,
		breaker:  NewCircuitBreaker(cbCfg),
	})
}

// Open implements [denoise.Provider]: it dials each endpoint in order until
// one yields a stream. Endpoints with an open breaker are skipped. Returns
// [ErrAllFailed] wrapped with the last error when every endpoint fails.
func (c *Chain) Open(ctx context.Context, cfg denoise.StreamConfig) (denoise.Stream, error) {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]

		var st denoise.Stream
		err := entry.breaker.Execute(func() error {
			var dialErr error
			st, dialErr = entry.provider.Open(ctx, cfg)
			return dialErr
		})
		if err == nil {
			return st, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping denoise endpoint (circuit open)", "endpoint", entry.name)
		} else {
			slog.Warn("denoise endpoint failed, trying next",
				"endpoint", entry.name, "err", err)
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// EndpointState reports one chain entry's breaker state, for readiness
// reporting.
type EndpointState struct {
	Name  string
	State State
}

// States returns the breaker state of every endpoint in chain order.
func (c *Chain) States() []EndpointState {
	out := make([]EndpointState, len(c.entries))
	for i := range c.entries {
		out[i] = EndpointState{Name: c.entries[i].name, State: c.entries[i].breaker.State()}
	}
	return out
}

// Ready reports whether at least one endpoint's breaker would admit a dial.
func (c *Chain) Ready() bool {
	for i := range c.entries {
		if c.entries[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}
