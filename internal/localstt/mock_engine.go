package localstt

import (
	"context"
	"fmt"

	"github.com/echonotehq/echonote-core/internal/events"
)

type mockEngine struct{}

func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Transcribe(_ context.Context, pcm []byte, sampleRate, _ int, language string) (*events.Transcription, error) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil, ErrInvalidAudio
	}
	samples := len(pcm) / 2
	duration := float64(samples) / float64(sampleRate)
	return &events.Transcription{
		Text:     fmt.Sprintf("[mock transcript samples=%d]", samples),
		Language: language,
		Duration: duration,
		Segments: []events.Segment{
			{ID: 0, Start: 0, End: duration, Text: fmt.Sprintf("[mock transcript samples=%d]", samples), Confidence: 1},
		},
	}, nil
}
