package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/echonotehq/echonote-core/internal/events"
	"github.com/echonotehq/echonote-core/internal/library"
	"github.com/google/uuid"
)

type createRecordingRequest struct {
	Transcript string  `json:"transcript"`
	Duration   float64 `json:"duration"`
	Language   string  `json:"language"`
	Title      string  `json:"title"`
	Model      string  `json:"model"`
	Source     string  `json:"source"`
}

func (s *Server) handleCreateRecording(w http.ResponseWriter, r *http.Request) {
	var req createRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, "Transcript must not be empty")
		return
	}
	if req.Duration < 0 {
		writeError(w, http.StatusBadRequest, "Duration must not be negative")
		return
	}

	rec, err := s.store.Save(r.Context(), library.Recording{
		ID:         uuid.NewString(),
		Duration:   req.Duration,
		Language:   req.Language,
		Title:      req.Title,
		Transcript: req.Transcript,
		Model:      req.Model,
		Source:     req.Source,
	})
	if err != nil {
		s.log.Error("failed to save recording", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to save recording")
		return
	}

	s.publish(events.SubjectRecordingSaved, rec)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "Limit must be a positive integer")
			return
		}
		limit = parsed
	}

	recordings, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.log.Error("failed to list recordings", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to list recordings")
		return
	}
	if recordings == nil {
		recordings = []library.Recording{}
	}
	writeJSON(w, http.StatusOK, recordings)
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Recording not found")
			return
		}
		s.log.Error("failed to load recording", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to load recording")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, library.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Recording not found")
			return
		}
		s.log.Error("failed to delete recording", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to delete recording")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnrichRecording(w http.ResponseWriter, r *http.Request) {
	if s.enricher == nil || !s.enricher.Enabled() {
		writeError(w, http.StatusConflict, "Enrichment is disabled")
		return
	}

	rec, err := s.enricher.EnrichRecording(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Recording not found")
			return
		}
		s.log.Error("re-enrichment failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to enrich recording")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
