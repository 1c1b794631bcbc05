package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxatone/hushwire/pkg/denoise"
	"github.com/voxatone/hushwire/pkg/denoise/mock"
)

var chainStreamConfig = denoise.StreamConfig{SampleRate: 16000, Channels: 1, FrameRate: 50}

func TestChain_PrimaryHealthy(t *testing.T) {
	primary := &mock.Provider{}
	fallback := &mock.Provider{}
	c := NewChain(primary, "primary", ChainConfig{})
	c.Add("fallback", fallback)

	st, err := c.Open(context.Background(), chainStreamConfig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st == nil {
		t.Fatal("expected a stream")
	}
	if primary.Opens() != 1 {
		t.Errorf("primary opened %d times, want 1", primary.Opens())
	}
	if fallback.Opens() != 0 {
		t.Errorf("fallback opened %d times, want 0 (primary was healthy)", fallback.Opens())
	}
}

func TestChain_FailoverToFallback(t *testing.T) {
	primary := &mock.Provider{OpenError: errors.New("primary down")}
	fallback := &mock.Provider{}
	c := NewChain(primary, "primary", ChainConfig{})
	c.Add("fallback", fallback)

	st, err := c.Open(context.Background(), chainStreamConfig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != fallback.LastStream() {
		t.Error("stream should come from the fallback endpoint")
	}
	if primary.Opens() != 1 || fallback.Opens() != 1 {
		t.Errorf("opens = %d/%d, want 1/1", primary.Opens(), fallback.Opens())
	}
	// The fallback saw the same stream contract.
	if len(fallback.RecordedConfigs) != 1 || fallback.RecordedConfigs[0] != chainStreamConfig {
		t.Errorf("fallback saw config %+v, want %+v", fallback.RecordedConfigs, chainStreamConfig)
	}
}

func TestChain_AllFail(t *testing.T) {
	primary := &mock.Provider{OpenError: errors.New("primary down")}
	fallback := &mock.Provider{OpenError: errors.New("fallback down")}
	c := NewChain(primary, "primary", ChainConfig{})
	c.Add("fallback", fallback)

	_, err := c.Open(context.Background(), chainStreamConfig)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestChain_OpenBreakerSkipsEndpoint(t *testing.T) {
	primary := &mock.Provider{OpenError: errors.New("primary down")}
	fallback := &mock.Provider{}
	c := NewChain(primary, "primary", ChainConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	c.Add("fallback", fallback)

	// First dial trips the primary's breaker and lands on the fallback.
	if _, err := c.Open(context.Background(), chainStreamConfig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Second dial skips the primary outright.
	if _, err := c.Open(context.Background(), chainStreamConfig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.Opens() != 1 {
		t.Errorf("primary opened %d times, want 1 (breaker should skip it)", primary.Opens())
	}
	if fallback.Opens() != 2 {
		t.Errorf("fallback opened %d times, want 2", fallback.Opens())
	}
}

func TestChain_SingleEndpoint(t *testing.T) {
	primary := &mock.Provider{}
	c := NewChain(primary, "only", ChainConfig{})

	if _, err := c.Open(context.Background(), chainStreamConfig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.Opens() != 1 {
		t.Errorf("opened %d times, want 1", primary.Opens())
	}
}

func TestChain_States(t *testing.T) {
	primary := &mock.Provider{OpenError: errors.New("down")}
	fallback := &mock.Provider{}
	c := NewChain(primary, "primary", ChainConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	c.Add("fallback", fallback)

	if _, err := c.Open(context.Background(), chainStreamConfig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	states := c.States()
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}
	if states[0].Name != "primary" || states[0].State != StateOpen {
		t.Errorf("states[0] = %+v, want primary/open", states[0])
	}
	if states[1].Name != "fallback" || states[1].State != StateClosed {
		t.Errorf("states[1] = %+v, want fallback/closed", states[1])
	}
}

func TestChain_Ready(t *testing.T) {
	primary := &mock.Provider{OpenError: errors.New("down")}
	c := NewChain(primary, "primary", ChainConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})

	if !c.Ready() {
		t.Fatal("a fresh chain should be ready")
	}

	// Trip the only breaker.
	if _, err := c.Open(context.Background(), chainStreamConfig); err == nil {
		t.Fatal("expected dial failure")
	}
	if c.Ready() {
		t.Error("chain with every breaker open should not be ready")
	}
}
