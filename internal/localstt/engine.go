package localstt

import (
	"context"
	"errors"

	"github.com/echonotehq/echonote-core/internal/events"
)

// ErrModelNotFound is returned when the configured GGML model file is not
// installed.
var ErrModelNotFound = errors.New("whisper model file not found")

// ErrInvalidAudio is returned for payloads that are not 16-bit PCM.
var ErrInvalidAudio = errors.New("audio payload is not 16-bit PCM")

// Engine abstracts local transcription backends.
type Engine interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, language string) (*events.Transcription, error)
}
