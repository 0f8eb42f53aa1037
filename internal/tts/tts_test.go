package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type stubSynth struct {
	audio []byte
	err   error
	calls int
	text  string
}

func (s *stubSynth) Name() string { return "stub" }

func (s *stubSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.calls++
	s.text = text
	return s.audio, s.err
}

func TestSaveToFile_WritesAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultAudioFile)
	if err := os.WriteFile(path, []byte("old audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	synth := &stubSynth{audio: []byte("ID3 new audio")}
	got, err := SaveToFile(context.Background(), synth, "Today's weather report", path)
	if err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	if got != path {
		t.Errorf("SaveToFile() = %q, want %q", got, path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "ID3 new audio" {
		t.Errorf("file content = %q", data)
	}
	if synth.text != "Today's weather report" {
		t.Errorf("synthesized text = %q", synth.text)
	}
}

func TestSaveToFile_Failures(t *testing.T) {
	errProvider := errors.New("provider down")
	tests := []struct {
		name    string
		text    string
		synth   *stubSynth
		wantErr error
	}{
		{"empty text", "   ", &stubSynth{audio: []byte("x")}, ErrEmptyText},
		{"provider error", "hello", &stubSynth{err: errProvider}, errProvider},
		{"empty audio", "hello", &stubSynth{}, ErrEmptyAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, DefaultAudioFile)

			got, err := SaveToFile(context.Background(), tt.synth, tt.text, path)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SaveToFile() error = %v, want %v", err, tt.wantErr)
			}
			if got != "" {
				t.Errorf("SaveToFile() path = %q, want empty", got)
			}
			if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
				t.Error("audio file exists after failed synthesis")
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("temporary files left behind: %d", len(entries))
			}
		})
	}
}

func TestSaveToFile_EmptyTextSkipsProvider(t *testing.T) {
	synth := &stubSynth{audio: []byte("x")}
	_, _ = SaveToFile(context.Background(), synth, "", filepath.Join(t.TempDir(), "a.mp3"))
	if synth.calls != 0 {
		t.Errorf("provider called %d times for empty text", synth.calls)
	}
}
