package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by [LoadFromReader] for fields the file
// leaves empty. The file always wins when both are set.
const (
	EnvAPIKey  = "HUSHWIRE_API_KEY"
	EnvBaseURL = "HUSHWIRE_BASE_URL"
)

// ValidProviderNames lists the provider names shipped with hushwire.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{"clarion", "loopback"}

// Default returns the built-in configuration: a 140 ms window at 16 kHz mono
// against the clarion provider, skipping failed windows, ops server on :8080.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "hushwire",
		},
		Denoise: DenoiseConfig{
			Provider:      "clarion",
			WindowSeconds: 0.14,
			FrameRate:     50,
			OnFailure:     FailureSkip,
			Breaker: BreakerConfig{
				MaxFailures:  5,
				ResetSeconds: 30,
				HalfOpenMax:  3,
			},
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default], applies
// environment fallbacks, and validates the result. An empty document yields
// the defaults. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills credential fields the file left empty from the environment.
func applyEnv(cfg *Config) {
	if cfg.Denoise.APIKey == "" {
		cfg.Denoise.APIKey = os.Getenv(EnvAPIKey)
	}
	if cfg.Denoise.BaseURL == "" {
		cfg.Denoise.BaseURL = os.Getenv(EnvBaseURL)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must not be negative, got %d", cfg.Server.MaxSessions))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio contract
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", cfg.Audio.Channels))
	}

	// Denoise session
	if cfg.Denoise.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("denoise.window_seconds must be positive, got %g", cfg.Denoise.WindowSeconds))
	} else if cfg.Denoise.WindowSeconds > 2 {
		slog.Warn("denoise.window_seconds is unusually large; every window adds that much latency in front of the service",
			"seconds", cfg.Denoise.WindowSeconds)
	}
	if cfg.Denoise.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("denoise.frame_rate must be positive, got %d", cfg.Denoise.FrameRate))
	}
	if cfg.Denoise.OnFailure != "" && !cfg.Denoise.OnFailure.IsValid() {
		errs = append(errs, fmt.Errorf("denoise.on_failure %q is invalid; valid values: skip, passthrough", cfg.Denoise.OnFailure))
	}

	// Breaker
	if b := cfg.Denoise.Breaker; b.MaxFailures < 0 || b.ResetSeconds < 0 || b.HalfOpenMax < 0 {
		errs = append(errs, errors.New("denoise.breaker values must not be negative"))
	}

	validateProviderName(cfg.Denoise.Provider)

	if cfg.Denoise.APIKey == "" && !cfg.Denoise.Passthrough && cfg.Denoise.Provider == "clarion" {
		slog.Warn("denoise.api_key is empty; the service will reject streams", "env", EnvAPIKey)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of the
// shipped providers. Third-party registrations are legitimate, so this is not
// an error.
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or an external registration",
		"name", name,
		"known", ValidProviderNames,
	)
}
