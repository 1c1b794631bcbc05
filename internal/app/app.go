// Package app wires all hushwire subsystems into a running service.
//
// The App struct owns the full lifecycle: New connects the telemetry
// provider, config watcher, session manager, and ops HTTP surface; Run
// serves the ops endpoints until the context is cancelled; Shutdown tears
// everything down in order.
//
// Embedding code drives denoising through [App.Sessions]. The ops surface
// (/metrics, /healthz, /readyz) reports on the process from the outside.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/voxatone/hushwire/internal/config"
	"github.com/voxatone/hushwire/internal/health"
	"github.com/voxatone/hushwire/internal/observe"
	"github.com/voxatone/hushwire/internal/resilience"
	"github.com/voxatone/hushwire/pkg/denoise"
)

// App owns all subsystem lifetimes for one hushwire process.
type App struct {
	cfg      *config.Config
	provider denoise.Provider

	// Subsystems, initialised in New and torn down in Shutdown.
	sessions *SessionManager
	metrics  *observe.Metrics
	registry *prometheus.Registry
	watcher  *config.Watcher
	srv      *http.Server

	// snapshot returns the live config: the watcher's view when one runs,
	// the boot config otherwise.
	snapshot func() *config.Config

	watchPath         string
	watchOpts         []config.WatcherOption
	logLevel          *slog.LevelVar
	telemetryShutdown func(context.Context) error

	mu   sync.Mutex
	addr string

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithConfigWatch enables hot reload: the file at path is polled for
// changes, a changed log level is applied immediately, and changed denoise
// settings apply to sessions opened afterwards.
func WithConfigWatch(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchOpts = opts
	}
}

// WithLogLevelVar hands the App the level var backing the process logger so
// a config reload can retune verbosity at runtime.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The provider comes
// from [BuildProvider] (or a test double) and is shared by every session.
func New(ctx context.Context, cfg *config.Config, provider denoise.Provider, opts ...Option) (*App, error) {
	if provider == nil {
		return nil, errors.New("app: provider must not be nil")
	}
	a := &App{
		cfg:      cfg,
		provider: provider,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Config watcher ────────────────────────────────────────────────
	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}

	// ── 3. Session manager ───────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Provider: provider,
		Snapshot: a.snapshot,
		Metrics:  a.metrics,
	})

	// ── 4. Ops server ────────────────────────────────────────────────────
	a.initOpsServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OTel providers and the process metrics. The
// Prometheus registry is created unconditionally so /metrics always serves a
// valid exposition; the exporter bridge only feeds it when telemetry is
// enabled.
func (a *App) initTelemetry(ctx context.Context) error {
	a.registry = prometheus.NewRegistry()

	if a.cfg.Telemetry.Enabled {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName: a.cfg.Telemetry.ServiceName,
			Registerer:  a.registry,
		})
		if err != nil {
			return err
		}
		a.telemetryShutdown = shutdown
	}

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initWatcher starts the config file watcher when hot reload is enabled and
// settles the snapshot function either way.
func (a *App) initWatcher() error {
	if a.watchPath == "" {
		a.snapshot = func() *config.Config { return a.cfg }
		return nil
	}
	w, err := config.NewWatcher(a.watchPath, a.onConfigChange, a.watchOpts...)
	if err != nil {
		return err
	}
	a.watcher = w
	a.snapshot = w.Current
	return nil
}

// onConfigChange is the watcher callback. It applies what can change at
// runtime and logs what cannot.
func (a *App) onConfigChange(old, new *config.Config) {
	diff := config.Compare(old, new)
	if diff.Empty() {
		return
	}
	if diff.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(diff.NewLogLevel.Slog())
		}
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.DenoiseChanged {
		slog.Info("denoise settings changed, applying to sessions opened from now on")
	}
}

// initOpsServer assembles the ops mux: health probes, the Prometheus
// scrape endpoint, and the observe middleware around all of it.
func (a *App) initOpsServer() {
	mux := http.NewServeMux()
	health.New(a.healthCheckers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	a.srv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// healthCheckers builds the readiness checks: the denoise chain must have at
// least one closed breaker, and the session count must sit below the cap.
func (a *App) healthCheckers() []health.Checker {
	return []health.Checker{
		{
			Name: "denoise",
			Check: func(context.Context) error {
				if chain, ok := a.provider.(*resilience.Chain); ok && !chain.Ready() {
					return errors.New("all endpoints open")
				}
				return nil
			},
		},
		{
			Name: "sessions",
			Check: func(context.Context) error {
				limit := a.snapshot().Server.MaxSessions
				if limit <= 0 {
					return nil
				}
				if n := a.sessions.ActiveCount(); n >= limit {
					return fmt.Errorf("session capacity reached (%d/%d)", n, limit)
				}
				return nil
			},
		},
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the ops endpoints and blocks until ctx is cancelled, then shuts
// the server down gracefully and returns context.Canceled (or the serve
// error). Denoising sessions are driven independently via [App.Sessions] and
// are not bound to Run.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr().String()
	a.mu.Unlock()

	slog.Info("ops server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var serveErr error
		if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
			serveErr = a.srv.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			serveErr = a.srv.Serve(ln)
		}
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Addr returns the ops server's bound address. It is empty until [App.Run]
// has begun listening; with a ":0" listen address this is the only way to
// learn the port.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Sessions returns the session manager. Embedding code uses it to open,
// feed, and close denoising sessions.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: the config watcher stops, every open
// session is closed, the ops server drains, and the telemetry provider
// flushes. Safe to call more than once and independently of Run.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "open_sessions", a.sessions.ActiveCount())

		if a.watcher != nil {
			a.watcher.Stop()
		}
		a.sessions.CloseAll()

		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("ops server shutdown error", "err", err)
		}
		if a.telemetryShutdown != nil {
			if err := a.telemetryShutdown(ctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
				shutdownErr = err
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
