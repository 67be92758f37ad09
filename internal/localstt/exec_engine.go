package localstt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/echonotehq/echonote-core/internal/config"
	"github.com/echonotehq/echonote-core/internal/events"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
)

// execEngine shells out to a whisper.cpp-style CLI. The command receives a
// spooled WAV file and must print the Transcription JSON shape on stdout.
type execEngine struct {
	cmd       []string
	modelPath string
	cfg       config.LocalSTTConfig
	mu        sync.Mutex
}

func NewExecEngine(cfg config.LocalSTTConfig, modelPath string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse local stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("local stt command is empty")
	}
	return &execEngine{cmd: args, modelPath: modelPath, cfg: cfg}, nil
}

func (e *execEngine) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, language string) (*events.Transcription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := os.Stat(e.modelPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, e.modelPath)
	}

	file, err := os.CreateTemp(os.TempDir(), "echonote_stt_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, sampleRate, channels); err != nil {
		return nil, err
	}

	args := append([]string{}, e.cmd...)
	base := args[0]
	cmdArgs := args[1:]
	cmdArgs = append(cmdArgs, "--audio", file.Name(), "--model", e.modelPath)
	if language != "" {
		cmdArgs = append(cmdArgs, "--language", language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("local stt command failed: %w: %s", err, stderr.String())
	}

	var result events.Transcription
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("decode local stt response: %w", err)
	}
	return &result, nil
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate, channels int) error {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return ErrInvalidAudio
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
