package enrich

import (
	"context"
	"errors"

	"github.com/echonotehq/echonote-core/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

type openaiEnricher struct {
	client *openai.Client
	cfg    config.EnrichConfig
}

// NewOpenAIEnricher enriches transcripts through a chat completion, reusing
// the transcription provider's credential.
func NewOpenAIEnricher(cfg config.EnrichConfig, apiKey string) Enricher {
	return &openaiEnricher{
		client: openai.NewClient(apiKey),
		cfg:    cfg,
	}
}

func (e *openaiEnricher) Enrich(ctx context.Context, transcript string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: e.cfg.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: float32(e.cfg.Temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("enrichment returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
