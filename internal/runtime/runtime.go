package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/alfa/internal/audio"
	"github.com/loqalabs/alfa/internal/bus"
	"github.com/loqalabs/alfa/internal/config"
	"github.com/loqalabs/alfa/internal/eventstore"
	"github.com/loqalabs/alfa/internal/narrator"
	"github.com/loqalabs/alfa/internal/natsserver"
	"github.com/loqalabs/alfa/internal/player"
	"github.com/loqalabs/alfa/internal/settings"
	"github.com/loqalabs/alfa/internal/voice"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	events   *eventstore.Store
	settings *settings.Store
	voices   *voice.Table
	backend  audio.Backend
	player   *player.Player
	narrator *narrator.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startServices(ctx); err != nil {
		r.stopServices()
		r.closeTelemetry(context.Background())
		return err
	}

	mux := http.NewServeMux()
	r.routes(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("audio_mode", r.cfg.Audio.Mode),
		slog.String("metrics_addr", r.cfg.Telemetry.PrometheusBind))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.stopServices()
	r.closeTelemetry(shutdownCtx)
	return nil
}

// startServices brings components up in dependency order.
func (r *Runtime) startServices(ctx context.Context) error {
	var err error

	r.embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	busCfg := r.cfg.Bus
	if url := r.embedded.ClientURL(); url != "" {
		busCfg.Servers = []string{url}
	}
	r.bus, err = bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		return err
	}

	r.events, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.settings, err = settings.Open(ctx, r.cfg.Settings, r.logger)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}

	r.voices = voice.NewTable(r.cfg.Voice.Directory, r.cfg.Voice.Extensions)
	if ids, err := r.voices.Voices(); err != nil {
		r.logger.Warn("voice directory unreadable", slog.String("dir", r.cfg.Voice.Directory), slog.String("error", err.Error()))
	} else {
		r.logger.Info("voice table loaded", slog.String("dir", r.cfg.Voice.Directory), slog.Any("voices", ids))
	}

	r.backend, err = audio.New(r.cfg.Audio, r.logger)
	if err != nil {
		return fmt.Errorf("init audio: %w", err)
	}

	r.narrator = narrator.NewService(ctx, r.cfg.Narrator, r.bus, r.settings, r.events, r.logger)
	r.player = player.New(r.backend, r.voices, player.Options{
		FallbackURI: r.cfg.Voice.FallbackURI,
		Logger:      r.logger,
		Observer:    r.narrator.Observe,
	})
	if err := r.narrator.Start(r.player); err != nil {
		return fmt.Errorf("start narrator: %w", err)
	}
	return nil
}

// stopServices tears down whatever startServices managed to create, in
// reverse order.
func (r *Runtime) stopServices() {
	if r.narrator != nil {
		r.narrator.Close()
	}
	if r.player != nil {
		if err := r.player.Close(context.Background()); err != nil {
			r.logger.Warn("player close error", slog.String("error", err.Error()))
		}
	}
	var errs []error
	if r.backend != nil {
		errs = append(errs, r.backend.Close())
	}
	if r.settings != nil {
		errs = append(errs, r.settings.Close())
	}
	if r.events != nil {
		errs = append(errs, r.events.Close())
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Error("service shutdown error", slog.String("error", err.Error()))
	}
	r.bus.Close()
	r.embedded.Shutdown()
}

func (r *Runtime) closeTelemetry(ctx context.Context) {
	if r.tracerClose == nil {
		return
	}
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}
