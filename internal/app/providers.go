package app

import (
	"fmt"
	"log/slog"

	"github.com/voxatone/hushwire/internal/config"
	"github.com/voxatone/hushwire/internal/resilience"
	"github.com/voxatone/hushwire/pkg/denoise"
	"github.com/voxatone/hushwire/pkg/denoise/clarion"
	"github.com/voxatone/hushwire/pkg/denoise/loopback"
)

// RegisterBuiltins wires the provider factories that ship with hushwire
// into reg:
//
//   - "clarion": the Clarion streaming denoise API. When fallback_urls are
//     configured, the factory assembles a [resilience.Chain] over one Clarion
//     provider per endpoint, each behind its own circuit breaker.
//   - "loopback": an in-process echo provider. Useful for demos and smoke
//     tests; it needs no credentials and never leaves the process.
//
// Embedding code may register additional factories on the same registry.
func RegisterBuiltins(reg *config.Registry) {
	reg.Register("clarion", newClarion)
	reg.Register("loopback", func(config.DenoiseConfig) (denoise.Provider, error) {
		return loopback.New(), nil
	})
}

// newClarion builds the Clarion provider for entry, wrapping it in a
// failover chain when fallback endpoints are configured.
func newClarion(entry config.DenoiseConfig) (denoise.Provider, error) {
	var opts []clarion.Option
	if entry.BaseURL != "" {
		opts = append(opts, clarion.WithBaseURL(entry.BaseURL))
	}
	primary, err := clarion.New(entry.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	if len(entry.FallbackURLs) == 0 {
		return primary, nil
	}

	primaryName := entry.BaseURL
	if primaryName == "" {
		primaryName = "clarion"
	}
	chain := resilience.NewChain(primary, primaryName, resilience.ChainConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  entry.Breaker.MaxFailures,
			ResetTimeout: entry.Breaker.ResetTimeout(),
			HalfOpenMax:  entry.Breaker.HalfOpenMax,
		},
	})
	for _, u := range entry.FallbackURLs {
		p, err := clarion.New(entry.APIKey, clarion.WithBaseURL(u))
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", u, err)
		}
		chain.Add(u, p)
	}
	return chain, nil
}

// BuildProvider instantiates the denoise provider named in cfg using the
// registry. A missing credential is fatal unless the config starts sessions
// in passthrough mode, in which case a loopback provider stands in so the
// process still comes up; sessions cannot leave passthrough until a key is
// configured and the process restarted.
func BuildProvider(cfg *config.Config, reg *config.Registry) (denoise.Provider, error) {
	p, err := reg.Create(cfg.Denoise)
	if err != nil {
		if cfg.Denoise.Passthrough {
			slog.Warn("provider unavailable, passthrough sessions will use a loopback stand-in",
				"name", cfg.Denoise.Provider, "err", err)
			return loopback.New(), nil
		}
		return nil, fmt.Errorf("app: create provider %q: %w", cfg.Denoise.Provider, err)
	}
	slog.Info("provider created", "name", cfg.Denoise.Provider)
	return p, nil
}
