package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/echonotehq/echonote-core/internal/api"
	"github.com/echonotehq/echonote-core/internal/bus"
	"github.com/echonotehq/echonote-core/internal/config"
	"github.com/echonotehq/echonote-core/internal/enrich"
	"github.com/echonotehq/echonote-core/internal/library"
	"github.com/echonotehq/echonote-core/internal/localstt"
	"github.com/echonotehq/echonote-core/internal/natsserver"
	"github.com/echonotehq/echonote-core/internal/openai"
	"github.com/echonotehq/echonote-core/internal/whispermodel"
)

const pruneInterval = time.Hour

// Runtime wires the daemon together: telemetry, the embedded bus, the
// recording library, the upstream client, and the loopback HTTP API.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every subsystem up in dependency order, then blocks until the
// context is cancelled and tears them down in reverse.
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
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := library.Open(ctx, r.cfg.Library, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open recording library: %w", err)
	}
	defer store.Close()
	if err := store.RegisterMetrics(); err != nil {
		r.logger.Warn("failed to register library metrics", slog.String("error", err.Error()))
	}

	upstream := openai.NewClient(r.cfg.Upstream, r.logger)

	catalog := whispermodel.DefaultCatalog()
	if r.cfg.Models.CatalogPath != "" {
		catalog, err = whispermodel.LoadCatalog(r.cfg.Models.CatalogPath)
		if err != nil {
			return fmt.Errorf("failed to load model catalog: %w", err)
		}
	}
	models, err := whispermodel.NewManager(r.cfg.Models, catalog, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize model manager: %w", err)
	}

	var enrichSvc *enrich.Service
	if r.cfg.Enrich.Enabled {
		enricher, err := enrich.New(r.cfg.Enrich, r.cfg.Upstream.APIKey)
		if err != nil {
			return fmt.Errorf("failed to initialize enrichment backend: %w", err)
		}
		enrichSvc = enrich.NewService(ctx, r.cfg.Enrich, store, enricher, busClient, r.logger)
		if err := enrichSvc.Start(); err != nil {
			return fmt.Errorf("failed to start enrichment service: %w", err)
		}
		defer enrichSvc.Close()
	}

	var localEngine localstt.Engine
	if r.cfg.LocalSTT.Enabled {
		modelPath, err := models.Path(r.cfg.LocalSTT.Variant)
		if err != nil {
			return fmt.Errorf("failed to resolve local model path: %w", err)
		}
		localEngine, err = localstt.NewExecEngine(r.cfg.LocalSTT, modelPath)
		if err != nil {
			return fmt.Errorf("failed to initialize local transcription: %w", err)
		}
	}

	server := api.New(r.cfg, r.logger, upstream, store, enrichSvc, models, localEngine, busClient, r.ready.Load)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	if metricsHandler != nil {
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

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx, store)
	}()

	r.ready.Store(true)
	r.logger.Info("daemon started",
		slog.String("addr", addr),
		slog.Bool("enrichment", enrichSvc.Enabled()),
		slog.Bool("local_stt", localEngine != nil))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("daemon stopping")

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

// pruneLoop applies the retention policy once at startup and then hourly.
func (r *Runtime) pruneLoop(ctx context.Context, store *library.Store) {
	if r.cfg.Library.MaxRecordings == 0 && r.cfg.Library.RetentionDays == 0 {
		return
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		if err := store.Prune(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("library prune failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
