package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-report/internal/circuitbreaker"
	"github.com/kjstillabower/weather-report/internal/observability"
)

// DefaultGoogleURL is the keyless Google Translate speech endpoint.
const DefaultGoogleURL = "https://translate.google.com/translate_tts"

// MaxChunkLength is the longest text the endpoint accepts per request.
const MaxChunkLength = 100

type GoogleConfig struct {
	BaseURL  string
	Language string
	Timeout  time.Duration
}

// GoogleSynthesizer requests one MP3 segment per text chunk and concatenates
// them. MP3 frames are self-delimiting, so the joined stream plays as one file.
type GoogleSynthesizer struct {
	baseURL  string
	language string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *circuitbreaker.CircuitBreaker
}

func NewGoogleSynthesizer(cfg GoogleConfig) (*GoogleSynthesizer, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGoogleURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid TTS URL: %w", err)
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &GoogleSynthesizer{
		baseURL:  cfg.BaseURL,
		language: cfg.Language,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (g *GoogleSynthesizer) SetRateLimiter(l *rate.Limiter) {
	g.limiter = l
}

func (g *GoogleSynthesizer) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	g.breaker = cb
}

func (g *GoogleSynthesizer) Name() string { return ProviderGoogle }

func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	chunks := SplitText(text, MaxChunkLength)
	if len(chunks) == 0 {
		return nil, ErrEmptyText
	}

	var audio []byte
	for i, chunk := range chunks {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var segment []byte
		fetch := func() error {
			var err error
			segment, err = g.fetchChunk(ctx, chunk, i, len(chunks))
			return err
		}

		var err error
		if g.breaker != nil {
			err = g.breaker.Call(ctx, fetch)
		} else {
			err = fetch()
		}
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		audio = append(audio, segment...)
	}
	return audio, nil
}

func (g *GoogleSynthesizer) fetchChunk(ctx context.Context, chunk string, idx, total int) ([]byte, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid TTS URL: %w", err)
	}
	params := u.Query()
	params.Set("ie", "UTF-8")
	params.Set("q", chunk)
	params.Set("tl", g.language)
	params.Set("client", "tw-ob")
	params.Set("ttsspeed", "1")
	params.Set("total", strconv.Itoa(total))
	params.Set("idx", strconv.Itoa(idx))
	params.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; weather-report/1.0)")
	if runID := observability.RunIDFromContext(ctx); runID != "" {
		req.Header.Set("X-Correlation-ID", runID)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		observability.TTSRequestsTotal.WithLabelValues(ProviderGoogle, "error").Inc()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.TTSRequestsTotal.WithLabelValues(ProviderGoogle, "http_"+strconv.Itoa(resp.StatusCode)).Inc()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("%w: %d", ErrProviderStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.TTSRequestsTotal.WithLabelValues(ProviderGoogle, "error").Inc()
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(body) == 0 {
		observability.TTSRequestsTotal.WithLabelValues(ProviderGoogle, "empty").Inc()
		return nil, ErrEmptyAudio
	}
	observability.TTSRequestsTotal.WithLabelValues(ProviderGoogle, "success").Inc()
	return body, nil
}

// SplitText breaks text into chunks of at most maxLen runes, splitting on
// whitespace. A single word longer than maxLen is cut at maxLen runes.
func SplitText(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MaxChunkLength
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		for utf8.RuneCountInString(word) > maxLen {
			flush()
			runes := []rune(word)
			chunks = append(chunks, string(runes[:maxLen]))
			word = string(runes[maxLen:])
		}
		n := utf8.RuneCountInString(word)
		if n == 0 {
			continue
		}
		if curLen > 0 && curLen+1+n > maxLen {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += n
		// Sentence ends are natural pause points; start a new request there
		// when the chunk is already reasonably full.
		if endsSentence(word) && curLen > maxLen/2 {
			flush()
		}
	}
	flush()
	return chunks
}

func endsSentence(word string) bool {
	r, _ := utf8.DecodeLastRuneInString(word)
	return r == '.' || r == '!' || r == '?' || r == ':'
}
