package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-report/internal/circuitbreaker"
	"github.com/kjstillabower/weather-report/internal/models"
	"github.com/kjstillabower/weather-report/internal/observability"
)

// DefaultAPIURL is the public Open-Meteo forecast endpoint.
const DefaultAPIURL = "https://api.open-meteo.com/v1/forecast"

const userAgent = "weather-report/1.0"

const observationTimeLayout = "2006-01-02T15:04"

type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, coords models.Coordinates) (models.CurrentConditions, error)
}

var (
	ErrUpstreamStatus    = errors.New("upstream returned non-success status")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnreachable       = errors.New("weather provider unreachable")
	ErrMalformedResponse = errors.New("malformed weather response")
)

// StatusError is returned when the provider answers with a non-2xx status.
// It matches ErrUpstreamStatus, and ErrRateLimited for 429.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status code %d", e.Code)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUpstreamStatus:
		return true
	case ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	}
	return false
}

// StatusCode returns the provider HTTP status carried by err, or 0 when the
// failure happened before a response was received.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsTransportFailure reports whether err means no response was received.
// Only these failures count toward opening the circuit breaker: a provider
// that answers 500 is still reachable.
func IsTransportFailure(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

type OpenMeteoClient struct {
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
	limiter        *rate.Limiter
}

// NewOpenMeteoClient returns a client that makes a single attempt per call.
func NewOpenMeteoClient(apiURL string, timeout time.Duration) (*OpenMeteoClient, error) {
	return NewOpenMeteoClientWithRetry(apiURL, timeout, 1, 100*time.Millisecond, 2*time.Second)
}

func NewOpenMeteoClientWithRetry(apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenMeteoClient, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &OpenMeteoClient{
		apiURL:         apiURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker guards every attempt with cb.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// SetRateLimiter paces outbound requests; nil disables pacing.
func (c *OpenMeteoClient) SetRateLimiter(l *rate.Limiter) {
	c.limiter = l
}

type currentWeatherResponse struct {
	CurrentWeather *struct {
		Temperature *float64 `json:"temperature"`
		WeatherCode *float64 `json:"weathercode"`
		Time        string   `json:"time"`
	} `json:"current_weather"`
}

func (c *OpenMeteoClient) GetCurrentWeather(ctx context.Context, coords models.Coordinates) (models.CurrentConditions, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.CurrentConditions{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.attempt(ctx, coords)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !c.isRetryable(ctx, err) {
			return models.CurrentConditions{}, err
		}
	}

	if c.retryAttempts == 1 {
		return models.CurrentConditions{}, lastErr
	}
	return models.CurrentConditions{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenMeteoClient) attempt(ctx context.Context, coords models.Coordinates) (models.CurrentConditions, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.CurrentConditions{}, err
		}
	}
	if c.breaker == nil {
		return c.callAPI(ctx, coords)
	}

	var result models.CurrentConditions
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		result, callErr = c.callAPI(ctx, coords)
		return callErr
	})
	return result, err
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, coords models.Coordinates) (models.CurrentConditions, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, coords)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.CurrentConditions{}, fmt.Errorf("build request: %w", err)
	}

	if runID := observability.RunIDFromContext(ctx); runID != "" {
		req.Header.Set("X-Correlation-ID", runID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if ctx.Err() != nil {
			return models.CurrentConditions{}, ctx.Err()
		}
		return models.CurrentConditions{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return models.CurrentConditions{}, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.CurrentConditions{}, fmt.Errorf("%w: read response body: %w", ErrUnreachable, err)
	}

	var apiResp currentWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.CurrentConditions{}, fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
	}

	return mapResponse(apiResp)
}

func (c *OpenMeteoClient) isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnreachable) {
		return true
	}
	return StatusCode(err) >= 500
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, coords models.Coordinates) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("latitude", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	params.Set("current_weather", "true")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

func mapResponse(apiResp currentWeatherResponse) (models.CurrentConditions, error) {
	cw := apiResp.CurrentWeather
	if cw == nil {
		return models.CurrentConditions{}, fmt.Errorf("%w: missing current_weather", ErrMalformedResponse)
	}
	if cw.Temperature == nil || cw.WeatherCode == nil {
		return models.CurrentConditions{}, fmt.Errorf("%w: missing temperature or weathercode", ErrMalformedResponse)
	}

	// Open-Meteo reports ISO8601 without seconds or zone. An unparsable time
	// leaves Time zero; temperature and code are still usable.
	ts, _ := time.Parse(observationTimeLayout, cw.Time)

	return models.CurrentConditions{
		TemperatureC: *cw.Temperature,
		WeatherCode:  int(math.Round(*cw.WeatherCode)),
		Time:         ts,
	}, nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
