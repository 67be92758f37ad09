package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/echonotehq/echonote-core/internal/events"
	"github.com/echonotehq/echonote-core/internal/localstt"
	"github.com/echonotehq/echonote-core/internal/openai"
)

// maxAudioBytes is the upload ceiling: exactly 25 MiB passes, one byte
// over is rejected.
const maxAudioBytes = 25 << 20

func (s *Server) handleCheckAPIKeys(w http.ResponseWriter, r *http.Request) {
	// The validity signal lives in the body; transport status is always 200.
	writeJSON(w, http.StatusOK, s.upstream.CheckKey(r.Context()))
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.upstream.Configured() {
		writeError(w, http.StatusInternalServerError, "API key not configured")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read audio file")
		return
	}
	if len(audio) > maxAudioBytes {
		writeError(w, http.StatusBadRequest, "Audio file too large. Maximum size is 25MB.")
		return
	}

	start := time.Now()
	result, err := s.upstream.Transcribe(ctx, openai.TranscribeRequest{
		Filename:    header.Filename,
		Audio:       audio,
		Language:    r.FormValue("language"),
		Prompt:      r.FormValue("prompt"),
		Temperature: r.FormValue("temperature"),
	})
	s.metrics.recordUpstreamLatency(ctx, time.Since(start))
	if err != nil {
		s.metrics.recordTranscription(ctx, "cloud", "error")
		var apiErr *openai.APIError
		switch {
		case errors.As(err, &apiErr):
			writeJSON(w, apiErr.StatusCode, errorBody{Error: apiErr.Message, StatusCode: apiErr.StatusCode})
		case errors.Is(err, openai.ErrInvalidResponse):
			s.log.Warn("upstream returned malformed transcription", slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, "Invalid response from transcription service")
		default:
			s.log.Warn("upstream transcription call failed", slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, "Failed to reach transcription service")
		}
		return
	}

	s.metrics.recordTranscription(ctx, "cloud", "success")
	s.publish(events.SubjectTranscriptionCompleted, events.TranscriptionCompleted{
		Source:       "cloud",
		Language:     result.Language,
		Duration:     result.Duration,
		SegmentCount: len(result.Segments),
		Timestamp:    time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTranscribeLocal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.local == nil {
		writeError(w, http.StatusServiceUnavailable, "Local transcription is not enabled")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	pcm, err := io.ReadAll(io.LimitReader(file, maxAudioBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read audio file")
		return
	}
	if len(pcm) > maxAudioBytes {
		writeError(w, http.StatusBadRequest, "Audio file too large. Maximum size is 25MB.")
		return
	}

	sampleRate := formInt(r, "sample_rate", s.cfg.LocalSTT.SampleRate)
	channels := formInt(r, "channels", s.cfg.LocalSTT.Channels)
	language := r.FormValue("language")
	if language == "" {
		language = s.cfg.LocalSTT.Language
	}

	result, err := s.local.Transcribe(ctx, pcm, sampleRate, channels, language)
	if err != nil {
		s.metrics.recordTranscription(ctx, "local", "error")
		switch {
		case errors.Is(err, localstt.ErrModelNotFound):
			writeError(w, http.StatusServiceUnavailable, "Whisper model is not installed")
		case errors.Is(err, localstt.ErrInvalidAudio):
			writeError(w, http.StatusBadRequest, "Audio payload is not 16-bit PCM")
		default:
			s.log.Error("local transcription failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Local transcription failed")
		}
		return
	}

	s.metrics.recordTranscription(ctx, "local", "success")
	s.publish(events.SubjectTranscriptionCompleted, events.TranscriptionCompleted{
		Source:       "local",
		Language:     result.Language,
		Duration:     result.Duration,
		SegmentCount: len(result.Segments),
		Timestamp:    time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, result)
}

func formInt(r *http.Request, field string, fallback int) int {
	if raw := r.FormValue(field); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
