package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kjstillabower/weather-report/internal/observability"
)

var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Timeout time.Duration
}

// OpenAISynthesizer uses the OpenAI audio speech endpoint.
type OpenAISynthesizer struct {
	api     *openai.Client
	model   openai.SpeechModel
	voice   openai.SpeechVoice
	timeout time.Duration
}

func NewOpenAISynthesizer(cfg OpenAIConfig) (*OpenAISynthesizer, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	clientCfg := openai.DefaultConfig(key)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = base
	}

	model := openai.SpeechModel(cfg.Model)
	if model == "" {
		model = openai.TTSModel1
	}
	voice := openai.SpeechVoice(cfg.Voice)
	if voice == "" {
		voice = openai.VoiceAlloy
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &OpenAISynthesizer{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   model,
		voice:   voice,
		timeout: cfg.Timeout,
	}, nil
}

func (o *OpenAISynthesizer) Name() string { return ProviderOpenAI }

func (o *OpenAISynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          o.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          1.0,
	})
	if err != nil {
		observability.TTSRequestsTotal.WithLabelValues(ProviderOpenAI, "error").Inc()
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		observability.TTSRequestsTotal.WithLabelValues(ProviderOpenAI, "error").Inc()
		return nil, fmt.Errorf("read speech: %w", err)
	}
	observability.TTSRequestsTotal.WithLabelValues(ProviderOpenAI, "success").Inc()
	return audio, nil
}
