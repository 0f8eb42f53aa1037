package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-report/internal/circuitbreaker"
	"github.com/kjstillabower/weather-report/internal/client"
	"github.com/kjstillabower/weather-report/internal/conditions"
	"github.com/kjstillabower/weather-report/internal/config"
	"github.com/kjstillabower/weather-report/internal/locations"
	"github.com/kjstillabower/weather-report/internal/mailer"
	"github.com/kjstillabower/weather-report/internal/observability"
	"github.com/kjstillabower/weather-report/internal/service"
	"github.com/kjstillabower/weather-report/internal/tts"
)

func main() {
	start := time.Now()

	cfg, logger, err := bootstrap()
	if logger == nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	runID := observability.NewRunID()
	logger = logger.With(zap.String("run_id", runID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithRunID(ctx, runID)

	locs, err := locations.Load(cfg.LocationsFile)
	if err != nil {
		logger.Warn("locations not loaded", zap.String("path", cfg.LocationsFile), zap.Error(err))
	} else {
		logger.Info("locations loaded", zap.Int("count", len(locs)), zap.Strings("names", locs.Names()))
	}

	codes, err := conditions.Load(cfg.WeatherCodesFile)
	if err != nil {
		logger.Warn("weather codes not loaded, conditions will read Unknown", zap.String("path", cfg.WeatherCodesFile), zap.Error(err))
	}

	weatherClient, err := client.NewOpenMeteoClientWithRetry(
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	weatherClient.SetCircuitBreaker(newBreaker("weather_api", cfg, client.IsTransportFailure))
	weatherClient.SetRateLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst))

	svc := service.NewReportService(service.Options{
		Client:      weatherClient,
		Conditions:  codes,
		Synthesizer: newSynthesizer(cfg, logger),
		Notifier: mailer.NewNotifier(mailer.Config{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			Sender:     cfg.EmailSender,
			Password:   cfg.EmailPassword,
			Recipient:  cfg.EmailRecipient,
			Timeout:    cfg.SMTPTimeout,
			RequireTLS: cfg.SMTPRequireTLS,
		}, logger),
		AudioPath: cfg.AudioFile,
		Logger:    logger,
	})

	res, err := svc.Run(ctx, locs)
	switch {
	case err != nil:
		logger.Error("run aborted", zap.Error(err))
	case res.EarlyExit:
		logger.Info("run finished without a report")
	default:
		logger.Info("run finished",
			zap.Int("locations", len(res.Fetch.Observations)),
			zap.Int("failed_locations", res.Fetch.Failed),
			zap.Bool("audio", res.Synthesis.AudioPath != ""),
			zap.String("delivery", string(res.Delivery.Outcome)),
		)
	}

	observability.RecordRunFinished(start)
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := observability.FlushTelemetry(flushCtx, logger, observability.PushConfig{
		URL: cfg.PushgatewayURL,
		Job: cfg.PushJob,
	}); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
}

// bootstrap loads configuration before building the logger so ENV_NAME and
// LOG_LEVEL set only in .env still apply. A config error comes back with a
// usable logger; the logger is nil only when it could not be built.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, cfgErr := config.Load()
	logger, err := observability.NewLogger(os.Getenv("ENV_NAME"))
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if cfgErr != nil {
		return nil, logger, cfgErr
	}
	return cfg, logger, nil
}

func newBreaker(component string, cfg *config.Config, isFailure func(error) bool) *circuitbreaker.CircuitBreaker {
	observability.CircuitBreakerState.WithLabelValues(component).Set(0)
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        component,
		IsFailure:        isFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
		},
	})
}

// newSynthesizer returns nil when audio is disabled or the provider cannot be
// built; the run then sends text only.
func newSynthesizer(cfg *config.Config, logger *zap.Logger) tts.Synthesizer {
	if !cfg.TTSEnabled {
		logger.Info("speech synthesis disabled by configuration")
		return nil
	}

	switch cfg.TTSProvider {
	case tts.ProviderOpenAI:
		synth, err := tts.NewOpenAISynthesizer(tts.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Voice:   cfg.OpenAIVoice,
			Timeout: cfg.TTSTimeout,
		})
		if err != nil {
			logger.Warn("openai speech synthesis unavailable", zap.Error(err))
			return nil
		}
		return synth
	default:
		synth, err := tts.NewGoogleSynthesizer(tts.GoogleConfig{
			BaseURL:  cfg.TTSURL,
			Language: cfg.TTSLanguage,
			Timeout:  cfg.TTSTimeout,
		})
		if err != nil {
			logger.Warn("google speech synthesis unavailable", zap.Error(err))
			return nil
		}
		synth.SetRateLimiter(rate.NewLimiter(rate.Limit(cfg.TTSRateLimitRPS), 1))
		synth.SetCircuitBreaker(newBreaker("tts", cfg, nil))
		return synth
	}
}
