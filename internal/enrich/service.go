package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/echonotehq/echonote-core/internal/bus"
	"github.com/echonotehq/echonote-core/internal/config"
	"github.com/echonotehq/echonote-core/internal/events"
	"github.com/echonotehq/echonote-core/internal/library"
	"github.com/nats-io/nats.go"
)

// Service enriches saved recordings: it listens for recording.saved events
// and also serves synchronous re-enrichment requests from the API. A failed
// enrichment is logged and skipped; the recording stays un-enriched.
type Service struct {
	cfg      config.EnrichConfig
	store    *library.Store
	enricher Enricher
	bus      *bus.Client
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	ready    bool
	logger   *slog.Logger
}

func NewService(parent context.Context, cfg config.EnrichConfig, store *library.Store, enricher Enricher, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		store:    store,
		enricher: enricher,
		bus:      busClient,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(slog.String("component", "enrich-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled || s.bus == nil {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(events.SubjectRecordingSaved, s.handleSaved)
	if err != nil {
		return fmt.Errorf("subscribe recording.saved: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

// Enabled reports whether enrichment is configured at all.
func (s *Service) Enabled() bool {
	return s != nil && s.cfg.Enabled && s.enricher != nil
}

func (s *Service) handleSaved(msg *nats.Msg) {
	var saved struct {
		ID       string `json:"id"`
		Enriched string `json:"enriched"`
	}
	if err := json.Unmarshal(msg.Data, &saved); err != nil {
		s.logger.Warn("failed to decode recording.saved event", slogError(err))
		return
	}
	if saved.ID == "" || saved.Enriched != "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.EnrichRecording(s.ctx, saved.ID); err != nil {
			s.logger.Warn("enrichment failed",
				slog.String("recording_id", saved.ID),
				slogError(err))
		}
	}()
}

// EnrichRecording runs the backend on one stored recording, persists the
// result, and publishes recording.enriched.
func (s *Service) EnrichRecording(ctx context.Context, id string) (library.Recording, error) {
	if !s.Enabled() {
		return library.Recording{}, fmt.Errorf("enrichment is disabled")
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return library.Recording{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	start := time.Now()
	enriched, err := s.enricher.Enrich(ctx, rec.Transcript)
	if err != nil {
		return library.Recording{}, fmt.Errorf("enrich transcript: %w", err)
	}

	updated, err := s.store.SetEnrichment(ctx, id, enriched)
	if err != nil {
		return library.Recording{}, fmt.Errorf("store enrichment: %w", err)
	}

	s.logger.Info("recording enriched",
		slog.String("recording_id", id),
		slog.Duration("latency", time.Since(start)))

	if s.bus != nil {
		s.bus.PublishJSON(events.SubjectRecordingEnriched, updated)
	}
	return updated, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
