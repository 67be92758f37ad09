package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/echonotehq/echonote-core/internal/config"
	"github.com/echonotehq/echonote-core/internal/events"
)

const keyPrefix = "sk-"

// ErrInvalidResponse marks a 2xx upstream body that does not match the
// verbose_json schema.
var ErrInvalidResponse = errors.New("invalid response from transcription service")

// APIError is a non-2xx answer from the upstream provider. The proxy relays
// its status code unchanged.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to an OpenAI-compatible speech-to-text provider. The
// credential and model are injected at construction, never read from the
// process environment per request.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.UpstreamConfig, log *slog.Logger) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
		},
		log: log.With(slog.String("component", "upstream-client")),
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// CheckKey runs the three ordered credential checks: presence, prefix
// format, then a live call to the models endpoint. The first two never
// touch the network.
func (c *Client) CheckKey(ctx context.Context) KeyStatus {
	if c.apiKey == "" {
		return KeyStatus{Configured: false, Valid: nil}
	}
	if !strings.HasPrefix(c.apiKey, keyPrefix) {
		return KeyStatus{Configured: true, Valid: boolPtr(false)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return KeyStatus{Configured: true, Valid: nil, Error: stringPtr("Connection error: " + err.Error())}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return KeyStatus{Configured: true, Valid: nil, Error: stringPtr("Connection error: " + err.Error())}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return KeyStatus{Configured: true, Valid: boolPtr(true)}
	case resp.StatusCode == http.StatusUnauthorized:
		return KeyStatus{Configured: true, Valid: boolPtr(false), Error: stringPtr("Invalid API key")}
	default:
		return KeyStatus{Configured: true, Valid: nil, Error: stringPtr(fmt.Sprintf("API returned status %d", resp.StatusCode))}
	}
}

// Transcribe forwards one audio submission and normalizes the verbose_json
// answer. Non-2xx answers come back as *APIError; malformed 2xx bodies as
// ErrInvalidResponse.
func (c *Client) Transcribe(ctx context.Context, req TranscribeRequest) (*events.Transcription, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := req.Filename
	if filename == "" {
		filename = "audio.webm"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err = part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("writing audio: %w", err)
	}
	if err = writer.WriteField("model", c.model); err != nil {
		return nil, fmt.Errorf("writing model field: %w", err)
	}
	if err = writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("writing response_format field: %w", err)
	}
	if req.Language != "" {
		if err = writer.WriteField("language", req.Language); err != nil {
			return nil, fmt.Errorf("writing language field: %w", err)
		}
	}
	if req.Prompt != "" {
		if err = writer.WriteField("prompt", req.Prompt); err != nil {
			return nil, fmt.Errorf("writing prompt field: %w", err)
		}
	}
	if req.Temperature != "" {
		if err = writer.WriteField("temperature", req.Temperature); err != nil {
			return nil, fmt.Errorf("writing temperature field: %w", err)
		}
	}
	if err = writer.Close(); err != nil {
		return nil, fmt.Errorf("closing writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp)
	}

	var raw verboseTranscription
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, err)
	}
	result, err := normalize(raw)
	if err != nil {
		return nil, err
	}

	c.log.Info("transcription completed",
		slog.Duration("latency", time.Since(start)),
		slog.Int("segments", len(result.Segments)))
	return result, nil
}

// decodeError parses the provider's error body, tolerating bodies that are
// not JSON at all.
func (c *Client) decodeError(resp *http.Response) error {
	message := "Transcription failed"
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil {
		var parsed errorResponse
		if json.Unmarshal(data, &parsed) == nil && parsed.Error.Message != "" {
			message = parsed.Error.Message
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

func normalize(raw verboseTranscription) (*events.Transcription, error) {
	if raw.Text == nil {
		return nil, fmt.Errorf("%w: missing text field", ErrInvalidResponse)
	}
	result := &events.Transcription{
		Text:     *raw.Text,
		Language: raw.Language,
		Duration: raw.Duration,
		Segments: make([]events.Segment, 0, len(raw.Segments)),
	}
	for _, seg := range raw.Segments {
		if seg.NoSpeechProb < 0 || seg.NoSpeechProb > 1 {
			return nil, fmt.Errorf("%w: segment %d no_speech_prob out of range", ErrInvalidResponse, seg.ID)
		}
		if seg.End < seg.Start {
			return nil, fmt.Errorf("%w: segment %d ends before it starts", ErrInvalidResponse, seg.ID)
		}
		result.Segments = append(result.Segments, events.Segment{
			ID:         seg.ID,
			Start:      seg.Start,
			End:        seg.End,
			Text:       seg.Text,
			Confidence: 1 - seg.NoSpeechProb,
		})
	}
	return result, nil
}

func boolPtr(v bool) *bool       { return &v }
func stringPtr(v string) *string { return &v }
