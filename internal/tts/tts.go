// Package tts turns report text into spoken MP3 audio.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultAudioFile is the fixed attachment filename.
const DefaultAudioFile = "weather_report.mp3"

const (
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"
)

var (
	ErrEmptyText      = errors.New("nothing to synthesize")
	ErrEmptyAudio     = errors.New("provider returned no audio")
	ErrProviderStatus = errors.New("speech provider returned non-success status")
)

// Synthesizer converts text to MP3 bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Name() string
}

// SaveToFile synthesizes text and writes the audio to path, replacing any
// previous file. It returns path on success. On failure no file is left
// behind at path from this call.
func SaveToFile(ctx context.Context, synth Synthesizer, text, path string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if path == "" {
		path = DefaultAudioFile
	}

	audio, err := synth.Synthesize(ctx, text)
	if err != nil {
		return "", fmt.Errorf("synthesize with %s: %w", synth.Name(), err)
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("synthesize with %s: %w", synth.Name(), ErrEmptyAudio)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".weather_report-*.mp3")
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close audio file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("save audio file: %w", err)
	}
	return path, nil
}
