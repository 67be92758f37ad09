package api

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/echonotehq/echonote-core/internal/sysinfo"
	"github.com/echonotehq/echonote-core/internal/whispermodel"
)

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.models.Statuses())
}

func (s *Server) handleDownloadModel(w http.ResponseWriter, r *http.Request) {
	variant := r.PathValue("variant")
	if err := s.models.StartDownload(variant); err != nil {
		switch {
		case errors.Is(err, whispermodel.ErrUnknownVariant):
			writeError(w, http.StatusNotFound, "Unknown model variant")
		case errors.Is(err, whispermodel.ErrDownloadInProgress):
			writeError(w, http.StatusConflict, "Model download already in progress")
		default:
			s.log.Error("failed to start model download", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Failed to start model download")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"variant": variant, "status": "started"})
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.models.Delete(r.PathValue("variant")); err != nil {
		switch {
		case errors.Is(err, whispermodel.ErrUnknownVariant), errors.Is(err, whispermodel.ErrNotInstalled):
			writeError(w, http.StatusNotFound, "Model not installed")
		default:
			s.log.Error("failed to delete model", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Failed to delete model")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	report, err := sysinfo.Collect(filepath.Dir(s.cfg.Library.Path))
	if err != nil {
		s.log.Error("failed to collect system info", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to collect system info")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
