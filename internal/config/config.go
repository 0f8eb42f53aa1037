package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds run configuration loaded from .env, YAML and the environment.
type Config struct {
	EnvName string

	LocationsFile    string
	WeatherCodesFile string
	AudioFile        string

	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	BreakerFailureThreshold int
	BreakerTimeout          time.Duration

	TTSEnabled      bool
	TTSProvider     string // "google" or "openai"
	TTSLanguage     string
	TTSURL          string
	TTSTimeout      time.Duration
	TTSRateLimitRPS int

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIVoice   string

	SMTPHost       string
	SMTPPort       int
	SMTPTimeout    time.Duration
	SMTPRequireTLS bool

	EmailSender    string
	EmailPassword  string
	EmailRecipient string

	PushgatewayURL string
	PushJob        string
}

type fileConfig struct {
	Files struct {
		Locations    string `yaml:"locations"`
		WeatherCodes string `yaml:"weather_codes"`
		Audio        string `yaml:"audio"`
	} `yaml:"files"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	TTS struct {
		Enabled      *bool  `yaml:"enabled"`
		Provider     string `yaml:"provider"`
		Language     string `yaml:"language"`
		URL          string `yaml:"url"`
		Timeout      string `yaml:"timeout"`
		RateLimitRPS int    `yaml:"rate_limit_rps"`
		OpenAI       struct {
			BaseURL string `yaml:"base_url"`
			Model   string `yaml:"model"`
			Voice   string `yaml:"voice"`
		} `yaml:"openai"`
	} `yaml:"tts"`

	SMTP struct {
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		Timeout    string `yaml:"timeout"`
		RequireTLS bool   `yaml:"require_tls"`
	} `yaml:"smtp"`

	Metrics struct {
		PushgatewayURL string `yaml:"pushgateway_url"`
		Job            string `yaml:"job"`
	} `yaml:"metrics"`
}

// Load reads .env (when present), then config/{ENV_NAME}.yaml (default dev),
// then environment overrides. A missing YAML file is an error only when
// ENV_NAME was set explicitly. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	if err := loadDotEnv(filepath.Join(cwd, ".env")); err != nil {
		return nil, err
	}

	env := strings.TrimSpace(os.Getenv("ENV_NAME"))
	explicitEnv := env != ""
	if env == "" {
		env = "dev"
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		if explicitEnv {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := fromFile(env, &fc)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv populates the process environment from path without overriding
// variables that are already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func fromFile(env string, fc *fileConfig) *Config {
	cfg := &Config{EnvName: env}

	cfg.LocationsFile = orDefault(fc.Files.Locations, "Locations.json")
	cfg.WeatherCodesFile = orDefault(fc.Files.WeatherCodes, "weather_codes.json")
	cfg.AudioFile = orDefault(fc.Files.Audio, "weather_report.mp3")

	cfg.WeatherAPIURL = orDefault(fc.WeatherAPI.URL, "https://api.open-meteo.com/v1/forecast")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 3
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.TTSEnabled = true
	if fc.TTS.Enabled != nil {
		cfg.TTSEnabled = *fc.TTS.Enabled
	}
	cfg.TTSProvider = strings.ToLower(orDefault(fc.TTS.Provider, "google"))
	cfg.TTSLanguage = orDefault(fc.TTS.Language, "en")
	cfg.TTSURL = strings.TrimSpace(fc.TTS.URL)
	cfg.TTSTimeout = parseDurationOrZero(fc.TTS.Timeout, 15*time.Second)
	cfg.TTSRateLimitRPS = fc.TTS.RateLimitRPS
	if cfg.TTSRateLimitRPS <= 0 {
		cfg.TTSRateLimitRPS = 2
	}
	cfg.OpenAIBaseURL = strings.TrimSpace(fc.TTS.OpenAI.BaseURL)
	cfg.OpenAIModel = orDefault(fc.TTS.OpenAI.Model, "tts-1")
	cfg.OpenAIVoice = orDefault(fc.TTS.OpenAI.Voice, "alloy")

	cfg.SMTPHost = orDefault(fc.SMTP.Host, "smtp.gmail.com")
	cfg.SMTPPort = fc.SMTP.Port
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	cfg.SMTPTimeout = parseDurationOrZero(fc.SMTP.Timeout, 30*time.Second)
	cfg.SMTPRequireTLS = fc.SMTP.RequireTLS

	cfg.PushgatewayURL = strings.TrimSpace(fc.Metrics.PushgatewayURL)
	cfg.PushJob = orDefault(fc.Metrics.Job, "weather_report")
	return cfg
}

func applyEnv(cfg *Config) error {
	overrideString(&cfg.EmailSender, "EMAIL_SENDER")
	overrideString(&cfg.EmailPassword, "EMAIL_PASSWORD")
	overrideString(&cfg.EmailRecipient, "EMAIL_RECEIVER")
	overrideString(&cfg.SMTPHost, "SMTP_SERVER")
	overrideString(&cfg.LocationsFile, "LOCATIONS_FILE")
	overrideString(&cfg.WeatherCodesFile, "WEATHER_CODES_FILE")
	overrideString(&cfg.AudioFile, "AUDIO_FILE")
	overrideString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	overrideString(&cfg.PushgatewayURL, "PUSHGATEWAY_URL")

	if p := strings.TrimSpace(os.Getenv("SMTP_PORT")); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("SMTP_PORT must be an integer, got %q", p)
		}
		cfg.SMTPPort = port
	}

	if p := strings.ToLower(strings.TrimSpace(os.Getenv("TTS_PROVIDER"))); p != "" {
		if p == "none" {
			cfg.TTSEnabled = false
		} else {
			cfg.TTSProvider = p
		}
	}
	return nil
}

func overrideString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate rejects values no run could work with. Missing email credentials
// are not a configuration error: delivery reports them at send time.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.TTSTimeout <= 0 {
		return fmt.Errorf("tts.timeout must be positive")
	}
	if cfg.SMTPTimeout <= 0 {
		return fmt.Errorf("smtp.timeout must be positive")
	}
	if cfg.SMTPPort < 1 || cfg.SMTPPort > 65535 {
		return fmt.Errorf("smtp port must be in 1-65535, got %d", cfg.SMTPPort)
	}
	switch cfg.TTSProvider {
	case "google", "openai":
	default:
		return fmt.Errorf("tts.provider must be google or openai, got %q", cfg.TTSProvider)
	}
	return nil
}
