package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-report/internal/circuitbreaker"
	"github.com/kjstillabower/weather-report/internal/client"
	"github.com/kjstillabower/weather-report/internal/mailer"
	"github.com/kjstillabower/weather-report/internal/models"
	"github.com/kjstillabower/weather-report/internal/observability"
	"github.com/kjstillabower/weather-report/internal/report"
	"github.com/kjstillabower/weather-report/internal/tts"
)

// Translator maps provider condition codes to descriptions.
type Translator interface {
	Describe(code int) string
}

// Notifier delivers a composed report.
type Notifier interface {
	Send(ctx context.Context, rep models.Report, audioPath string) error
}

// Options wires a ReportService. Synthesizer may be nil to skip audio.
type Options struct {
	Client      client.WeatherClient
	Conditions  Translator
	Synthesizer tts.Synthesizer
	Notifier    Notifier
	AudioPath   string
	Now         func() time.Time
	Logger      *zap.Logger
}

// ReportService runs one report: fetch every location in order, compose,
// synthesize audio when configured, deliver.
type ReportService struct {
	client      client.WeatherClient
	conditions  Translator
	synthesizer tts.Synthesizer
	notifier    Notifier
	audioPath   string
	now         func() time.Time
	logger      *zap.Logger
}

func NewReportService(opts Options) *ReportService {
	s := &ReportService{
		client:      opts.Client,
		conditions:  opts.Conditions,
		synthesizer: opts.Synthesizer,
		notifier:    opts.Notifier,
		audioPath:   opts.AudioPath,
		now:         opts.Now,
		logger:      opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.audioPath == "" {
		s.audioPath = tts.DefaultAudioFile
	}
	return s
}

// FetchResult holds one observation per location, in load order.
type FetchResult struct {
	Observations []models.Observation
	Failed       int
}

// SynthesisResult is empty AudioPath when no audio is attached.
type SynthesisResult struct {
	AudioPath string
	Skipped   bool
	Err       error
}

type DeliveryResult struct {
	Outcome mailer.Outcome
	Err     error
}

func (d DeliveryResult) Sent() bool {
	return d.Outcome == mailer.OutcomeSent
}

// RunResult aggregates every stage of a run. EarlyExit is set when there were
// no locations and nothing external was contacted.
type RunResult struct {
	EarlyExit bool
	Fetch     FetchResult
	Report    models.Report
	Synthesis SynthesisResult
	Delivery  DeliveryResult
}

// Run executes the report pipeline for locs. Per-location fetch failures,
// synthesis failures and delivery failures are recorded in the result and
// do not produce an error; Run returns an error only when ctx is done before
// the run finishes.
func (s *ReportService) Run(ctx context.Context, locs models.LocationSet) (RunResult, error) {
	var result RunResult

	if len(locs) == 0 {
		s.logger.Warn("no locations loaded, nothing to report")
		result.EarlyExit = true
		return result, nil
	}

	s.logger.Info("fetching weather", zap.Int("locations", len(locs)))
	fetch, err := s.fetchAll(ctx, locs)
	result.Fetch = fetch
	if err != nil {
		return result, err
	}

	lines := make([]string, 0, len(fetch.Observations))
	for _, obs := range fetch.Observations {
		lines = append(lines, report.FormatLine(obs))
	}
	result.Report = report.Compose(s.now(), lines)
	s.logger.Info("report composed",
		zap.Int("lines", len(lines)),
		zap.Int("failed_locations", fetch.Failed),
	)

	result.Synthesis = s.synthesize(ctx, result.Report)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	result.Delivery = s.deliver(ctx, result.Report, result.Synthesis.AudioPath)
	return result, nil
}

func (s *ReportService) fetchAll(ctx context.Context, locs models.LocationSet) (FetchResult, error) {
	res := FetchResult{Observations: make([]models.Observation, 0, len(locs))}

	for _, loc := range locs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		obs := s.fetchOne(ctx, loc)
		if obs.Failed() {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(obs.Err, ctxErr) {
				return res, ctxErr
			}
			res.Failed++
		}
		res.Observations = append(res.Observations, obs)
	}
	return res, nil
}

func (s *ReportService) fetchOne(ctx context.Context, loc models.Location) models.Observation {
	obs := models.Observation{Location: loc.Name}

	cur, err := s.client.GetCurrentWeather(ctx, loc.Coordinates)
	if err != nil {
		obs.Err = err
		obs.StatusCode = client.StatusCode(err)
		observability.LocationReportsTotal.WithLabelValues(fetchOutcome(err)).Inc()

		fields := []zap.Field{
			zap.String("location", loc.Name),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		}
		if obs.StatusCode > 0 {
			s.logger.Warn("weather provider returned error status", append(fields, zap.Int("status_code", obs.StatusCode))...)
		} else {
			s.logger.Error("weather fetch failed", fields...)
		}
		return obs
	}

	obs.TemperatureC = cur.TemperatureC
	obs.TemperatureF = models.CelsiusToFahrenheit(cur.TemperatureC)
	obs.WeatherCode = cur.WeatherCode
	obs.Description = s.describe(cur.WeatherCode)
	observability.LocationReportsTotal.WithLabelValues("ok").Inc()
	fields := []zap.Field{
		zap.String("location", loc.Name),
		zap.Float64("temperature_c", cur.TemperatureC),
		zap.Int("weather_code", cur.WeatherCode),
	}
	if !cur.Time.IsZero() {
		fields = append(fields, zap.Time("observed_at", cur.Time))
	}
	s.logger.Debug("weather fetched", fields...)
	return obs
}

func (s *ReportService) describe(code int) string {
	if s.conditions == nil {
		return "Unknown"
	}
	return s.conditions.Describe(code)
}

func (s *ReportService) synthesize(ctx context.Context, rep models.Report) SynthesisResult {
	if s.synthesizer == nil {
		observability.TTSSynthesisTotal.WithLabelValues("none", "disabled").Inc()
		s.logger.Info("speech synthesis disabled")
		return SynthesisResult{Skipped: true}
	}

	provider := s.synthesizer.Name()
	path, err := tts.SaveToFile(ctx, s.synthesizer, rep.Body, s.audioPath)
	if err != nil {
		observability.TTSSynthesisTotal.WithLabelValues(provider, "failed").Inc()
		s.logger.Warn("speech synthesis failed, sending text only",
			zap.String("provider", provider),
			zap.Error(err),
		)
		return SynthesisResult{Err: err}
	}

	observability.TTSSynthesisTotal.WithLabelValues(provider, "ok").Inc()
	s.logger.Info("audio saved", zap.String("provider", provider), zap.String("path", path))
	return SynthesisResult{AudioPath: path}
}

func (s *ReportService) deliver(ctx context.Context, rep models.Report, audioPath string) DeliveryResult {
	err := s.notifier.Send(ctx, rep, audioPath)
	outcome := mailer.Classify(err)

	switch outcome {
	case mailer.OutcomeSent:
		s.logger.Info("report delivered", zap.Bool("audio_attached", audioPath != ""))
	case mailer.OutcomeMissingCredentials:
		s.logger.Error("email not sent: missing credentials", zap.Error(err))
	case mailer.OutcomeAuthFailed:
		s.logger.Error("email not sent: SMTP server rejected the credentials", zap.Error(err))
	default:
		s.logger.Error("email not sent", zap.Error(err))
	}
	return DeliveryResult{Outcome: outcome, Err: err}
}

func fetchOutcome(err error) string {
	switch {
	case client.StatusCode(err) > 0:
		return "status_error"
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "breaker_open"
	case errors.Is(err, client.ErrMalformedResponse):
		return "malformed"
	default:
		return "unreachable"
	}
}
