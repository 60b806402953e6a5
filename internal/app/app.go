// Package app wires all Meetscribe subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject fakes via functional options (WithBackend,
// WithLiveState, WithRuntime). When an option is not provided, New creates
// real implementations from the config.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/meetscribe/meetscribe/internal/collector"
	"github.com/meetscribe/meetscribe/internal/config"
	"github.com/meetscribe/meetscribe/internal/containers"
	"github.com/meetscribe/meetscribe/internal/containers/docker"
	"github.com/meetscribe/meetscribe/internal/health"
	"github.com/meetscribe/meetscribe/internal/httpapi"
	"github.com/meetscribe/meetscribe/internal/identity"
	"github.com/meetscribe/meetscribe/internal/livestate"
	"github.com/meetscribe/meetscribe/internal/observe"
	"github.com/meetscribe/meetscribe/internal/orchestrator"
	"github.com/meetscribe/meetscribe/internal/resilience"
	"github.com/meetscribe/meetscribe/internal/storage"
	"github.com/meetscribe/meetscribe/internal/storage/postgres"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers. Body and connection lifetimes stay unbounded because the collector
// holds WebSocket connections open indefinitely.
const readHeaderTimeout = 10 * time.Second

// Backend is the relational store surface the application wires up. The
// Postgres store satisfies it.
type Backend interface {
	storage.TokenResolver
	storage.MeetingStore
	storage.TranscriptStore
	Stats(ctx context.Context) (postgres.SegmentStats, error)
	Ping(ctx context.Context) error
}

// LiveState is the Redis surface shared by the orchestrator, the collector,
// and the readiness probes.
type LiveState interface {
	orchestrator.LockStore
	collector.SegmentCache
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	backend Backend
	live    LiveState
	runtime containers.Runtime

	health *health.Handler
	server *http.Server

	// cancelConns stops in-flight collector connections once the HTTP
	// listener has drained.
	cancelConns context.CancelFunc

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects a relational store instead of connecting to Postgres.
func WithBackend(b Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithLiveState injects a live-state store instead of dialling Redis.
func WithLiveState(l LiveState) Option {
	return func(a *App) { a.live = l }
}

// WithRuntime injects a container runtime instead of connecting to Docker.
func WithRuntime(r containers.Runtime) Option {
	return func(a *App) { a.runtime = r }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any backing service; anything not injected is
// created from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initBackend(ctx); err != nil {
		return nil, fmt.Errorf("app: init backend: %w", err)
	}
	if err := a.initLiveState(ctx); err != nil {
		return nil, fmt.Errorf("app: init live state: %w", err)
	}
	if err := a.initRuntime(); err != nil {
		return nil, fmt.Errorf("app: init runtime: %w", err)
	}

	a.health = health.New(
		health.Probe("database", a.backend),
		health.Probe("redis", a.live),
		health.Probe("docker", a.runtime),
	)

	a.server = a.buildServer()
	return a, nil
}

func (a *App) initBackend(ctx context.Context) error {
	if a.backend != nil {
		return nil
	}
	store, err := postgres.NewStore(ctx, a.cfg.DB.DSN)
	if err != nil {
		return err
	}
	a.backend = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) initLiveState(ctx context.Context) error {
	if a.live != nil {
		return nil
	}
	live, err := livestate.Dial(ctx, a.cfg.Redis.Addr(), a.cfg.Bot.LockTTL)
	if err != nil {
		return err
	}
	a.live = live
	return nil
}

func (a *App) initRuntime() error {
	if a.runtime != nil {
		return nil
	}
	driver, err := docker.New(
		a.cfg.Bot.DockerHost,
		a.cfg.Bot.Image,
		a.cfg.Bot.Network,
		a.cfg.Bot.TranscriptionService,
	)
	if err != nil {
		return err
	}
	a.runtime = driver
	a.closers = append(a.closers, driver.Close)
	return nil
}

// buildServer assembles the HTTP surface: the tenant-facing API, the
// collector WebSocket endpoint, the health probes, and the Prometheus scrape
// endpoint, all on one listener.
func (a *App) buildServer() *http.Server {
	auth := identity.New(a.backend)
	// Launches go through a circuit breaker so a dead Docker daemon rejects
	// requests fast instead of queueing them against it.
	guarded := resilience.NewGuardedRuntime(a.runtime, resilience.CircuitBreakerConfig{})
	orch := orchestrator.New(a.live, a.backend, guarded,
		orchestrator.WithDefaultBotName(a.cfg.Bot.DefaultName))
	api := httpapi.New(auth, a.cfg.Server.AuthHeader, orch, a.backend, a.backend, a.backend)
	ws := collector.NewServer(collector.NewProcessor(a.live, a.backend, a.backend))

	metrics := observe.DefaultMetrics()

	mux := http.NewServeMux()
	mux.Handle("/", observe.Middleware(metrics)(api.Handler()))
	// The collector sits outside the metrics middleware: its connections are
	// long-lived and would distort the request duration histogram.
	mux.Handle("GET /collector", ws)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	connCtx, cancel := context.WithCancel(context.Background())
	a.cancelConns = cancel

	return &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return connCtx },
	}
}

// Startup probes every backing service once. main calls this before Run so
// an unreachable store fails the process instead of serving errors.
func (a *App) Startup(ctx context.Context) error {
	return a.health.Startup(ctx)
}

// Handler exposes the assembled HTTP surface. Used by tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// drainTimeout bounds how long Run waits for in-flight requests once the
// context is cancelled.
const drainTimeout = 15 * time.Second

// Run binds the listener and serves until ctx is cancelled or the server
// fails. On cancellation the listener is drained before Run returns; call
// Shutdown afterwards to tear down the backing services.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("app: listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return a.server.Shutdown(drainCtx)
	})

	return g.Wait()
}

// Shutdown drains the HTTP server, stops collector connections, and tears
// down the backing services in order. It respects the context deadline: if
// ctx expires, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down")

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("app: http shutdown", "error", err)
		}
		// WebSocket connections are hijacked and invisible to
		// http.Server.Shutdown; cancelling the base context ends their read
		// loops.
		a.cancelConns()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer failed", "index", i, "error", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
