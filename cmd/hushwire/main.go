// Command hushwire is the main entry point for the hushwire denoising relay.
//
// Without flags it runs as a long-lived relay: sessions are opened through
// the library API and the ops server exposes health and metrics. With -in it
// runs one WAV file through a denoising session and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/voxatone/hushwire/internal/app"
	"github.com/voxatone/hushwire/internal/config"
	"github.com/voxatone/hushwire/internal/pipeline"
	"github.com/voxatone/hushwire/pkg/audio"
)

// captureFrameDuration is the slice size the file runner feeds into a
// session, mirroring the 20 ms cadence of live capture devices.
const captureFrameDuration = 20 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inPath := flag.String("in", "", "WAV file to denoise; when set, the relay exits after the file is processed")
	outPath := flag.String("out", "", "output WAV path (default: <in>.denoised.wav)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hushwire: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hushwire: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, levelVar := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("hushwire starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"provider", cfg.Denoise.Provider,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)

	provider, err := app.BuildProvider(cfg, reg)
	if err != nil {
		slog.Error("failed to build denoise provider", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, provider,
		app.WithConfigWatch(*configPath),
		app.WithLogLevelVar(levelVar),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── One-shot file mode ────────────────────────────────────────────────────
	if *inPath != "" {
		out := *outPath
		if out == "" {
			out = strings.TrimSuffix(*inPath, filepath.Ext(*inPath)) + ".denoised.wav"
		}
		go func() {
			if err := denoiseFile(ctx, application.Sessions(), cfg, *inPath, out); err != nil {
				slog.Error("file denoise failed", "in", *inPath, "err", err)
			} else {
				slog.Info("file denoised", "in", *inPath, "out", out)
			}
			stop()
		}()
	}

	slog.Info("relay ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── File runner ───────────────────────────────────────────────────────────────

// denoiseFile runs a single WAV file through one denoising session and writes
// the cleaned audio to outPath. A session pins its PCM format at start and
// hushwire never resamples, so the file must already match the audio section
// of the config.
func denoiseFile(ctx context.Context, sessions *app.SessionManager, cfg *config.Config, inPath, outPath string) error {
	f, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth %d, only 16-bit PCM is supported", dec.BitDepth)
	}

	target := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	if buf.Format.SampleRate != target.SampleRate || buf.Format.NumChannels != target.Channels {
		return fmt.Errorf("input is %d Hz / %d ch but sessions expect %d Hz / %d ch; adjust the audio section of the config or re-encode the file",
			buf.Format.SampleRate, buf.Format.NumChannels, target.SampleRate, target.Channels)
	}

	pcm := audio.SamplesToPCM(buf.Data)
	if len(pcm) == 0 {
		return errors.New("input file contains no usable audio")
	}

	var mu sync.Mutex
	var cleaned []byte
	sink := pipeline.SinkFunc(func(fr audio.Frame) error {
		mu.Lock()
		cleaned = append(cleaned, fr.Data...)
		mu.Unlock()
		return nil
	})

	id, err := sessions.Open(ctx, target, sink)
	if err != nil {
		return err
	}
	d, ok := sessions.Get(id)
	if !ok {
		return app.ErrSessionNotFound
	}

	frameBytes := audio.BytesFor(captureFrameDuration, target.SampleRate) * target.Channels
	for off := 0; off < len(pcm); off += frameBytes {
		if err := ctx.Err(); err != nil {
			sessions.Close(id)
			return err
		}
		end := min(off+frameBytes, len(pcm))
		frame := audio.Frame{
			Data:       pcm[off:end],
			SampleRate: target.SampleRate,
			Channels:   target.Channels,
			Timestamp:  audio.Duration(off/target.Channels, target.SampleRate),
		}
		if err := d.Process(frame); err != nil {
			sessions.Close(id)
			return fmt.Errorf("process frame at %s: %w", frame.Timestamp, err)
		}
	}

	// The service streams results back asynchronously; consider the session
	// drained once no new audio has arrived for half a second.
	last := -1
	for {
		select {
		case <-ctx.Done():
			sessions.Close(id)
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		mu.Lock()
		n := len(cleaned)
		mu.Unlock()
		if n == last {
			break
		}
		last = n
	}

	if err := sessions.Close(id); err != nil {
		slog.Warn("session close after file run", "err", err)
	}

	mu.Lock()
	result := cleaned
	mu.Unlock()
	if len(result) == 0 {
		return errors.New("no denoised audio received; check the service credential and failure policy")
	}

	return writeWAV(outPath, result, target)
}

// writeWAV encodes little-endian 16-bit PCM to a WAV file at path.
func writeWAV(path string, pcm []byte, format audio.Format) error {
	of, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(of, format.SampleRate, 16, format.Channels, 1)
	ibuf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           audio.PCMToSamples(pcm),
		SourceBitDepth: 16,
	}
	if err := enc.Write(ibuf); err != nil {
		of.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		of.Close()
		return fmt.Errorf("finalise wav: %w", err)
	}
	return of.Close()
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        hushwire — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", providerSummary(cfg))
	printRow("Window", cfg.Denoise.Window().String())
	printRow("Frame rate", fmt.Sprintf("%d/s", cfg.Denoise.FrameRate))
	printRow("On failure", string(cfg.Denoise.OnFailure))
	printRow("Passthrough", onOff(cfg.Denoise.Passthrough))
	printRow("Audio format", fmt.Sprintf("%d Hz / %d ch", cfg.Audio.SampleRate, cfg.Audio.Channels))
	printRow("Max sessions", maxSessionsSummary(cfg.Server.MaxSessions))
	printRow("Telemetry", enabledDisabled(cfg.Telemetry.Enabled))
	printRow("Ops server", listenSummary(cfg.Server))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 21 {
		value = value[:20] + "…"
	}
	fmt.Printf("║  %-12s : %-21s ║\n", label, value)
}

func providerSummary(cfg *config.Config) string {
	if n := len(cfg.Denoise.FallbackURLs); n > 0 {
		return fmt.Sprintf("%s (+%d fallback)", cfg.Denoise.Provider, n)
	}
	return cfg.Denoise.Provider
}

func maxSessionsSummary(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

func listenSummary(sc config.ServerConfig) string {
	if sc.TLS != nil {
		return sc.ListenAddr + " (tls)"
	}
	return sc.ListenAddr
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func enabledDisabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger with an adjustable level so config
// reloads can change verbosity without a restart.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level.Slog())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}
