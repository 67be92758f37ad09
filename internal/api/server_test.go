package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/echonotehq/echonote-core/internal/config"
	"github.com/echonotehq/echonote-core/internal/enrich"
	"github.com/echonotehq/echonote-core/internal/library"
	"github.com/echonotehq/echonote-core/internal/localstt"
	"github.com/echonotehq/echonote-core/internal/openai"
	"github.com/echonotehq/echonote-core/internal/whispermodel"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// upstreamFake is a fake transcription provider that counts calls.
type upstreamFake struct {
	server *httptest.Server
	calls  atomic.Int64
}

func newUpstreamFake(t *testing.T, handler http.HandlerFunc) *upstreamFake {
	t.Helper()
	fake := &upstreamFake{}
	fake.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fake.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(fake.server.Close)
	return fake
}

func verboseBody(text string, noSpeechProb float64) string {
	return fmt.Sprintf(`{
		"task": "transcribe",
		"language": "en",
		"duration": 4.2,
		"text": %q,
		"segments": [
			{"id": 0, "start": 0.0, "end": 4.2, "text": %q, "no_speech_prob": %f}
		]
	}`, text, text, noSpeechProb)
}

type serverOptions struct {
	apiKey     string
	enrichment bool
	local      localstt.Engine
}

func newTestServer(t *testing.T, upstream *upstreamFake, opts serverOptions) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Library.Path = filepath.Join(t.TempDir(), "library.db")
	cfg.Models.Dir = filepath.Join(t.TempDir(), "models")
	cfg.Upstream.APIKey = opts.apiKey
	if upstream != nil {
		cfg.Upstream.BaseURL = upstream.server.URL
	}

	store, err := library.Open(context.Background(), cfg.Library, newLogger())
	if err != nil {
		t.Fatalf("open library: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	var enrichSvc *enrich.Service
	if opts.enrichment {
		enrichCfg := config.EnrichConfig{Enabled: true, Mode: "mock", TimeoutMS: 5000}
		enrichSvc = enrich.NewService(context.Background(), enrichCfg, store, enrich.NewMockEnricher(), nil, newLogger())
		t.Cleanup(enrichSvc.Close)
	}

	models, err := whispermodel.NewManager(cfg.Models, whispermodel.DefaultCatalog(), nil, newLogger())
	if err != nil {
		t.Fatalf("new model manager: %v", err)
	}

	client := openai.NewClient(cfg.Upstream, newLogger())
	return New(cfg, newLogger(), client, store, enrichSvc, models, opts.local, nil, func() bool { return true })
}

func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(audio); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", resp.Body.String(), err)
	}
	return body
}

func TestTranscribeMissingKey(t *testing.T) {
	upstream := newUpstreamFake(t, func(w http.ResponseWriter, r *http.Request) {})
	server := newTestServer(t, upstream, serverOptions{apiKey: ""})

	body, contentType := multipartBody(t, nil, "file", "audio.webm", []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if decodeError(t, resp).Error != "API key not configured" {
		t.Fatalf("unexpected error body: %s", resp.Body.String())
	}
	if upstream.calls.Load() != 0 {
		t.Fatal("expected no upstream call")
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	upstream := newUpstreamFake(t, func(w http.ResponseWriter, r *http.Request) {})
	server := newTestServer(t, upstream, serverOptions{apiKey: "sk-test"})

	body, contentType := multipartBody(t, map[string]string{"language": "en"}, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if decodeError(t, resp).Error != "No audio file provided" {
		t.Fatalf("unexpected error body: %s", resp.Body.String())
	}
	if upstream.calls.Load() != 0 {
		t.Fatal("expected no upstream call")
	}
}

func TestTranscribeSizeBoundary(t *testing.T) {
	upstream := newUpstreamFake(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, verboseBody("ok", 0))
	})
	server := newTestServer(t, upstream, serverOptions{apiKey: "sk-test"})

	// Exactly 25 MiB is accepted and forwarded.
	body, contentType := multipartBody(t, nil, "file", "audio.webm", make([]byte, maxAudioBytes))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 at the boundary, got %d: %s", resp.Code, resp.Body.String())
	}
	if upstream.calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", upstream.calls.Load())
	}

	// One byte over is rejected without an upstream call.
	body, contentType = multipartBody(t, nil, "file", "audio.webm", make([]byte, maxAudioBytes+1))
	req = httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	resp = httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 over the boundary, got %d", resp.Code)
	}
	if !strings.Contains(decodeError(t, resp).Error, "25MB") {
		t.Fatalf("expected 25MB in message, got %s", resp.Body.String())
	}
	if upstream.calls.Load() != 1 {
		t.Fatalf("expected no additional upstream call, got %d", upstream.calls.Load())
	}
}

func TestTranscribeSuccess(t *testing.T) {
	upstream := newUpstreamFake(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			t.Errorf("parse upstream form: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("expected verbose_json, got %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("expected language forwarded, got %q", got)
		}
		if _, ok := r.MultipartForm.Value["temperature"]; ok {
			t.Error("expected omitted temperature not forwarded")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, verboseBody("hello world", 0.2))
	})
	server := newTestServer(t, upstream, serverOptions{apiKey: "sk-test"})

	body, contentType := multipartBody(t, map[string]string{"language": "en"}, "file", "audio.webm", []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Segments []struct {
			Confidence float64 `json:"confidence"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Text != "hello world" || result.Language != "en" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Segments) != 1 || result.Segments[0].Confidence != 0.8 {
		t.Fatalf("expected confidence 0.8, got %+v", result.Segments)
	}
}

func TestTranscribePassesThroughUpstreamStatus(t *testing.T) {
	upstream := newUpstreamFake(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Incorrect API key provided"}}`)
	})
	server := newTestServer(t, upstream, serverOptions{apiKey: "sk-test"})

	body, contentType := multipartBody(t, nil, "file", "audio.webm", []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 pass-through, got %d", resp.Code)
	}
	errBody := decodeError(t, resp)
	if errBody.Error != "Incorrect API key provided" || errBody.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected error body: %s", resp.Body.String())
	}
}

func TestTranscribeUnparsableUpstreamError(t *testing.T) {
	upstream := newUpstreamFake(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "not json at all")
	})
	server := newTestServer(t, upstream, serverOptions{apiKey: "sk-test"})

	body, contentType := multipartBody(t, nil, "file", "audio.webm", []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected upstream status relay, got %d", resp.Code)
	}
	if decodeError(t, resp).Error != "Transcription failed" {
		t.Fatalf("expected fallback message, got %s", resp.Body.String())
	}
}

func TestTranscribeMalformedSuccessBody(t *testing.T) {
	upstream := newUpstreamFake(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"language":"en","duration":1.0}`)
	})
	server := newTestServer(t, upstream, serverOptions{apiKey: "sk-test"})

	body, contentType := multipartBody(t, nil, "file", "audio.webm", []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for malformed success body, got %d", resp.Code)
	}
	if decodeError(t, resp).Error != "Invalid response from transcription service" {
		t.Fatalf("unexpected error body: %s", resp.Body.String())
	}
}

func TestCheckAPIKeysEndpoint(t *testing.T) {
	upstream := newUpstreamFake(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("expected models call, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	server := newTestServer(t, upstream, serverOptions{apiKey: "sk-test"})

	req := httptest.NewRequest(http.MethodGet, "/api/config/check-api-keys", nil)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var status struct {
		Configured bool  `json:"configured"`
		Valid      *bool `json:"valid"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Configured || status.Valid == nil || !*status.Valid {
		t.Fatalf("unexpected status: %s", resp.Body.String())
	}
}

func TestCheckAPIKeysAlwaysTransport200(t *testing.T) {
	upstream := newUpstreamFake(t, func(w http.ResponseWriter, r *http.Request) {})
	server := newTestServer(t, upstream, serverOptions{apiKey: ""})

	req := httptest.NewRequest(http.MethodGet, "/api/config/check-api-keys", nil)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 even without key, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"configured":false`) {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
	if upstream.calls.Load() != 0 {
		t.Fatal("expected no upstream call without a key")
	}
}

func TestRecordingsCRUD(t *testing.T) {
	server := newTestServer(t, nil, serverOptions{apiKey: "sk-test"})
	handler := server.Handler()

	payload := `{"transcript":"we shipped it","duration":3.5,"language":"en","title":"demo"}`
	req := httptest.NewRequest(http.MethodPost, "/api/recordings", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created library.Recording
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.ID == "" || created.Source != "cloud" {
		t.Fatalf("unexpected created recording: %+v", created)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/recordings/"+created.ID, nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/recordings?limit=10", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var listed []library.Recording
	if err := json.Unmarshal(resp.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one recording, got %d", len(listed))
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/recordings/"+created.ID, nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/recordings/"+created.ID, nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
	if decodeError(t, resp).Error != "Recording not found" {
		t.Fatalf("unexpected error body: %s", resp.Body.String())
	}
}

func TestCreateRecordingRejectsEmptyTranscript(t *testing.T) {
	server := newTestServer(t, nil, serverOptions{apiKey: "sk-test"})

	req := httptest.NewRequest(http.MethodPost, "/api/recordings", strings.NewReader(`{"transcript":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestEnrichRecordingEndpoint(t *testing.T) {
	server := newTestServer(t, nil, serverOptions{apiKey: "sk-test", enrichment: true})
	handler := server.Handler()

	payload := `{"transcript":"raw words"}`
	req := httptest.NewRequest(http.MethodPost, "/api/recordings", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	var created library.Recording
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/recordings/"+created.ID+"/enrich", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var enriched library.Recording
	if err := json.Unmarshal(resp.Body.Bytes(), &enriched); err != nil {
		t.Fatalf("decode enriched: %v", err)
	}
	if !strings.Contains(enriched.Enriched, "raw words") {
		t.Fatalf("unexpected enriched text: %q", enriched.Enriched)
	}
}

func TestEnrichDisabled(t *testing.T) {
	server := newTestServer(t, nil, serverOptions{apiKey: "sk-test"})

	req := httptest.NewRequest(http.MethodPost, "/api/recordings/some-id/enrich", nil)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 when enrichment disabled, got %d", resp.Code)
	}
}

func TestLocalTranscribeDisabled(t *testing.T) {
	server := newTestServer(t, nil, serverOptions{apiKey: "sk-test"})

	body, contentType := multipartBody(t, nil, "file", "audio.pcm", []byte{0, 0})
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe/local", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when local mode disabled, got %d", resp.Code)
	}
}

func TestLocalTranscribe(t *testing.T) {
	server := newTestServer(t, nil, serverOptions{apiKey: "sk-test", local: localstt.NewMockEngine()})

	body, contentType := multipartBody(t, nil, "file", "audio.pcm", make([]byte, 32000))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe/local", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "mock transcript") {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}

	// Odd-length payloads are not 16-bit PCM.
	body, contentType = multipartBody(t, nil, "file", "audio.pcm", []byte{0x01})
	req = httptest.NewRequest(http.MethodPost, "/api/transcribe/local", body)
	req.Header.Set("Content-Type", contentType)
	resp = httptest.NewRecorder()
	server.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for odd payload, got %d", resp.Code)
	}
}

func TestModelsEndpoints(t *testing.T) {
	server := newTestServer(t, nil, serverOptions{apiKey: "sk-test"})
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var statuses []whispermodel.Status
	if err := json.Unmarshal(resp.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("decode statuses: %v", err)
	}
	if len(statuses) != 5 {
		t.Fatalf("expected 5 catalog variants, got %d", len(statuses))
	}

	req = httptest.NewRequest(http.MethodPost, "/api/models/banana/download", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown variant, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/models/tiny", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for uninstalled variant, got %d", resp.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	server := newTestServer(t, nil, serverOptions{apiKey: "sk-test"})
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}
