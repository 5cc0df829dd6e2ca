// Package runtime assembles one aloud node: telemetry, the message bus,
// the event store, the audio output, the speech engines, and the services
// that tie them together.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aloudlabs/aloud-core/internal/audio"
	"github.com/aloudlabs/aloud-core/internal/bus"
	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/aloudlabs/aloud-core/internal/eventstore"
	"github.com/aloudlabs/aloud-core/internal/natsserver"
	"github.com/aloudlabs/aloud-core/internal/router"
	"github.com/aloudlabs/aloud-core/internal/tts"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	bus    *bus.Client
	speech *tts.Service
	bridge *router.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the node up and blocks until ctx fires, then tears the
// stack down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if embedded != nil {
		// Dial our own broker at whatever port it actually bound.
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer busClient.Close()
	r.bus = busClient

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	backends, closeBackends, err := buildBackends(r.cfg.Speech, r.logger)
	if err != nil {
		return fmt.Errorf("build speech backends: %w", err)
	}
	defer closeBackends()

	speech := tts.NewService(ctx, r.cfg.Speech, busClient, store, backends, r.logger)
	if err := speech.Start(); err != nil {
		return fmt.Errorf("start speech service: %w", err)
	}
	defer speech.Close()
	r.speech = speech

	bridge := router.NewService(ctx, r.cfg.Router, r.cfg.Speech, busClient, r.logger)
	if err := bridge.Start(); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	defer bridge.Close()
	r.bridge = bridge

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("node_id", r.cfg.Node.ID),
		slog.String("role", r.cfg.Node.Role),
		slog.String("engine", engineName(r.cfg.Speech.Engine)))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildBackends constructs exactly the adapters the configured engine
// needs. The local engine renders audio through its own subprocess, so
// only the other two open the playback device.
func buildBackends(cfg config.SpeechConfig, log *slog.Logger) (tts.Backends, func(), error) {
	be := tts.Backends{}
	noop := func() {}

	cache, err := tts.NewClipCache(cfg.CacheClips)
	if err != nil {
		return be, noop, fmt.Errorf("clip cache: %w", err)
	}
	be.Cache = cache

	switch tts.EngineFor(cfg.Engine) {
	case tts.EngineLocal:
		platform, err := tts.NewExecPlatform(cfg.Local, log)
		if err != nil {
			return be, noop, err
		}
		be.Platform = platform
		return be, noop, nil

	case tts.EngineKokoro:
		gen, err := tts.NewKokoroEngine(cfg.Kokoro, log)
		if err != nil {
			return be, noop, err
		}
		device, err := audio.NewDevice(cfg.SampleRate, log)
		if err != nil {
			return be, noop, err
		}
		be.Kokoro = gen
		be.Player = device
		return be, func() {
			_ = device.Close()
			_ = gen.Close()
		}, nil

	default:
		remote, err := tts.NewRemoteClient(cfg.Remote, log)
		if err != nil {
			return be, noop, err
		}
		device, err := audio.NewDevice(cfg.SampleRate, log)
		if err != nil {
			return be, noop, err
		}
		be.Remote = remote
		be.Player = device
		return be, func() { _ = device.Close() }, nil
	}
}

func engineName(selector string) string {
	return string(tts.EngineFor(selector))
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if r.bus.Healthy() && r.speech.Healthy() && r.bridge.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("unhealthy"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
