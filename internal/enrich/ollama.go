package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/echonotehq/echonote-core/internal/config"
)

type ollamaEnricher struct {
	endpoint string
	cfg      config.EnrichConfig
}

// NewOllamaEnricher enriches transcripts through a local Ollama instance.
func NewOllamaEnricher(cfg config.EnrichConfig) Enricher {
	return &ollamaEnricher{endpoint: cfg.Endpoint, cfg: cfg}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (e *ollamaEnricher) Enrich(ctx context.Context, transcript string) (string, error) {
	payload := ollamaRequest{
		Model:  e.cfg.Model,
		Prompt: transcript,
		System: e.cfg.SystemPrompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: e.cfg.Temperature,
			NumPredict:  e.cfg.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %s", resp.Status)
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return parsed.Response, nil
}
