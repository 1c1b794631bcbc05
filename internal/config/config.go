// Package config provides the configuration schema, loader, file watcher,
// and provider registry for the hushwire denoising relay.
package config

import (
	"log/slog"
	"slices"
	"time"
)

// LogLevel controls log verbosity for the hushwire process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the corresponding [slog.Level]. Unknown values map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FailureMode selects what happens to a window of audio the denoise service
// never received because connecting or sending failed.
type FailureMode string

const (
	// FailureSkip drops the window; output goes silent for that stretch.
	FailureSkip FailureMode = "skip"

	// FailurePassthrough emits the original un-denoised audio instead.
	FailurePassthrough FailureMode = "passthrough"
)

// IsValid reports whether m is a recognised failure mode.
func (m FailureMode) IsValid() bool {
	return m == FailureSkip || m == FailurePassthrough
}

// Config is the root configuration structure for hushwire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Denoise   DenoiseConfig   `yaml:"denoise"`
	Audio     AudioConfig     `yaml:"audio"`
}

// ServerConfig holds network and logging settings for the operational HTTP
// surface (metrics, health, readiness).
type ServerConfig struct {
	// ListenAddr is the TCP address the ops server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable via the config watcher.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxSessions caps how many denoising sessions may be open at once.
	// Zero means unlimited. Read on every session open, so it is
	// hot-reloadable.
	MaxSessions int `yaml:"max_sessions"`

	// TLS configures TLS for the ops server. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// TelemetryConfig controls the OpenTelemetry metrics provider.
type TelemetryConfig struct {
	// Enabled turns metric collection on. When false, instruments are no-ops.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this process in exported telemetry.
	ServiceName string `yaml:"service_name"`
}

// DenoiseConfig configures the connection to the denoise service and the
// session behaviour built on top of it.
type DenoiseConfig struct {
	// Provider selects the registered provider implementation
	// (e.g., "clarion", "loopback").
	Provider string `yaml:"provider"`

	// APIKey authenticates against the denoise service. Falls back to the
	// HUSHWIRE_API_KEY environment variable when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Leave empty to use
	// the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// FallbackURLs lists additional endpoints tried in order when the
	// primary is unreachable.
	FallbackURLs []string `yaml:"fallback_urls"`

	// WindowSeconds is the accumulation window: input is buffered until its
	// duration strictly exceeds this before a batch goes out.
	WindowSeconds float64 `yaml:"window_seconds"`

	// FrameRate is the output frame rate requested from the service, in Hz.
	FrameRate int `yaml:"frame_rate"`

	// Passthrough forwards audio unchanged without ever contacting the
	// service. Applies to sessions opened after the value takes effect.
	Passthrough bool `yaml:"passthrough"`

	// OnFailure selects the failure mode for windows the service never took.
	OnFailure FailureMode `yaml:"on_failure"`

	// Breaker configures the circuit breaker guarding connection attempts.
	Breaker BreakerConfig `yaml:"breaker"`
}

// Window returns the accumulation window as a [time.Duration].
func (d DenoiseConfig) Window() time.Duration {
	return time.Duration(d.WindowSeconds * float64(time.Second))
}

// Equal reports whether d and o configure identical session behaviour.
func (d DenoiseConfig) Equal(o DenoiseConfig) bool {
	return d.Provider == o.Provider &&
		d.APIKey == o.APIKey &&
		d.BaseURL == o.BaseURL &&
		slices.Equal(d.FallbackURLs, o.FallbackURLs) &&
		d.WindowSeconds == o.WindowSeconds &&
		d.FrameRate == o.FrameRate &&
		d.Passthrough == o.Passthrough &&
		d.OnFailure == o.OnFailure &&
		d.Breaker == o.Breaker
}

// BreakerConfig holds circuit breaker tuning for the denoise connection.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetSeconds is how long the breaker stays open before probing again.
	ResetSeconds float64 `yaml:"reset_seconds"`

	// HalfOpenMax caps concurrent probe attempts while half-open.
	HalfOpenMax int `yaml:"half_open_max"`
}

// ResetTimeout returns the open interval as a [time.Duration].
func (b BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(b.ResetSeconds * float64(time.Second))
}

// AudioConfig pins the PCM contract of the audio fed into sessions:
// 16-bit little-endian samples at the given rate and channel count.
type AudioConfig struct {
	// SampleRate in Hz (e.g., 16000).
	SampleRate int `yaml:"sample_rate"`

	// Channels is the interleaved channel count (1 for mono).
	Channels int `yaml:"channels"`
}
