package api

import (
	"log/slog"
	"net/http"

	"github.com/echonotehq/echonote-core/internal/config"
	"github.com/echonotehq/echonote-core/internal/enrich"
	"github.com/echonotehq/echonote-core/internal/events"
	"github.com/echonotehq/echonote-core/internal/library"
	"github.com/echonotehq/echonote-core/internal/localstt"
	"github.com/echonotehq/echonote-core/internal/openai"
	"github.com/echonotehq/echonote-core/internal/whispermodel"
)

// Server carries the handlers of the loopback HTTP API the desktop shell
// talks to.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	upstream *openai.Client
	store    *library.Store
	enricher *enrich.Service
	models   *whispermodel.Manager
	local    localstt.Engine
	pub      events.Publisher
	ready    func() bool
	metrics  *apiMetrics
}

func New(
	cfg config.Config,
	log *slog.Logger,
	upstream *openai.Client,
	store *library.Store,
	enricher *enrich.Service,
	models *whispermodel.Manager,
	local localstt.Engine,
	pub events.Publisher,
	ready func() bool,
) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log.With(slog.String("component", "api")),
		upstream: upstream,
		store:    store,
		enricher: enricher,
		models:   models,
		local:    local,
		pub:      pub,
		ready:    ready,
	}
	metrics, err := newAPIMetrics()
	if err != nil {
		s.log.Warn("failed to initialize api metrics", slog.String("error", err.Error()))
	}
	s.metrics = metrics
	return s
}

// Handler builds the route table wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/config/check-api-keys", s.handleCheckAPIKeys)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /api/transcribe/local", s.handleTranscribeLocal)

	mux.HandleFunc("POST /api/recordings", s.handleCreateRecording)
	mux.HandleFunc("GET /api/recordings", s.handleListRecordings)
	mux.HandleFunc("GET /api/recordings/{id}", s.handleGetRecording)
	mux.HandleFunc("DELETE /api/recordings/{id}", s.handleDeleteRecording)
	mux.HandleFunc("POST /api/recordings/{id}/enrich", s.handleEnrichRecording)

	mux.HandleFunc("GET /api/models", s.handleListModels)
	mux.HandleFunc("POST /api/models/{variant}/download", s.handleDownloadModel)
	mux.HandleFunc("DELETE /api/models/{variant}", s.handleDeleteModel)

	mux.HandleFunc("GET /api/system", s.handleSystem)

	var handler http.Handler = mux
	handler = s.loggingMiddleware(handler)
	handler = s.recoverMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready == nil || s.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (s *Server) publish(subject string, payload any) {
	if s.pub == nil {
		return
	}
	s.pub.PublishJSON(subject, payload)
}
