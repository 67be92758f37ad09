package enrich

import (
	"context"
	"fmt"

	"github.com/echonotehq/echonote-core/internal/config"
)

// Enricher turns a raw transcript into its AI-enriched derivative.
type Enricher interface {
	Enrich(ctx context.Context, transcript string) (string, error)
}

// New builds the backend named by config. The apiKey is only consulted by
// the openai mode, which shares the transcription provider's credential.
func New(cfg config.EnrichConfig, apiKey string) (Enricher, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockEnricher(), nil
	case "openai":
		return NewOpenAIEnricher(cfg, apiKey), nil
	case "ollama":
		return NewOllamaEnricher(cfg), nil
	default:
		return nil, fmt.Errorf("unknown enrich mode %q", cfg.Mode)
	}
}
