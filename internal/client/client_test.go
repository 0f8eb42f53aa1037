package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-report/internal/circuitbreaker"
	"github.com/kjstillabower/weather-report/internal/models"
	"github.com/kjstillabower/weather-report/internal/observability"
)

var london = models.Coordinates{Latitude: 51.5072, Longitude: -0.1276}

func TestNewOpenMeteoClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		apiURL  string
		timeout time.Duration
		wantErr bool
	}{
		{"valid", "https://api.test.com/v1/forecast", time.Second, false},
		{"empty URL uses default", "", time.Second, false},
		{"zero timeout", "https://api.test.com", 0, true},
		{"bad URL", "://bad", time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewOpenMeteoClient(tt.apiURL, tt.timeout)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewOpenMeteoClient() expected error, got nil")
				}
				if c != nil {
					t.Error("NewOpenMeteoClient() expected nil client on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewOpenMeteoClient() unexpected error: %v", err)
			}
			if tt.apiURL == "" && c.apiURL != DefaultAPIURL {
				t.Errorf("apiURL = %q, want %q", c.apiURL, DefaultAPIURL)
			}
		})
	}
}

func TestOpenMeteoClient_GetCurrentWeather_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("latitude") != "51.5072" || q.Get("longitude") != "-0.1276" {
			t.Errorf("unexpected coordinates in query: %s", r.URL.RawQuery)
		}
		if q.Get("current_weather") != "true" {
			t.Errorf("expected current_weather=true, got %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("X-Correlation-ID"); got != "run-123" {
			t.Errorf("X-Correlation-ID = %q, want run-123", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"latitude":51.5,"longitude":-0.12,"current_weather":{"temperature":12.3,"windspeed":8.1,"weathercode":3,"time":"2026-10-18T09:00"}}`))
	}))
	defer server.Close()

	c, err := NewOpenMeteoClient(server.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}

	ctx := observability.WithRunID(context.Background(), "run-123")
	got, err := c.GetCurrentWeather(ctx, london)
	if err != nil {
		t.Fatalf("GetCurrentWeather() error = %v", err)
	}
	if got.TemperatureC != 12.3 {
		t.Errorf("TemperatureC = %v, want 12.3", got.TemperatureC)
	}
	if got.WeatherCode != 3 {
		t.Errorf("WeatherCode = %d, want 3", got.WeatherCode)
	}
	want := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	if !got.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", got.Time, want)
	}
}

func TestMapResponse_ObservationTime(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Time
	}{
		{"parsed", `{"current_weather":{"temperature":1,"weathercode":0,"time":"2026-10-18T09:15"}}`, time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC)},
		{"missing", `{"current_weather":{"temperature":1,"weathercode":0}}`, time.Time{}},
		{"unparsable", `{"current_weather":{"temperature":1,"weathercode":0,"time":"yesterday"}}`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiResp currentWeatherResponse
			if err := json.Unmarshal([]byte(tt.body), &apiResp); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			got, err := mapResponse(apiResp)
			if err != nil {
				t.Fatalf("mapResponse() error = %v", err)
			}
			if !got.Time.Equal(tt.want) {
				t.Errorf("Time = %v, want %v", got.Time, tt.want)
			}
			if got.TemperatureC != 1 {
				t.Errorf("TemperatureC = %v, want 1", got.TemperatureC)
			}
		})
	}
}

func TestOpenMeteoClient_GetCurrentWeather_ErrorHandling(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    error
		wantCode   int
	}{
		{"400 bad request", http.StatusBadRequest, `{"error":true,"reason":"Latitude must be in range"}`, ErrUpstreamStatus, 400},
		{"429 rate limited", http.StatusTooManyRequests, ``, ErrRateLimited, 429},
		{"500 server error", http.StatusInternalServerError, ``, ErrUpstreamStatus, 500},
		{"invalid JSON", http.StatusOK, `{not json`, ErrMalformedResponse, 0},
		{"missing current_weather", http.StatusOK, `{"latitude":1}`, ErrMalformedResponse, 0},
		{"missing temperature", http.StatusOK, `{"current_weather":{"weathercode":1}}`, ErrMalformedResponse, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, _ := NewOpenMeteoClient(server.URL, 2*time.Second)
			_, err := c.GetCurrentWeather(context.Background(), london)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GetCurrentWeather() error = %v, want %v", err, tt.wantErr)
			}
			if got := StatusCode(err); got != tt.wantCode {
				t.Errorf("StatusCode() = %d, want %d", got, tt.wantCode)
			}
			if IsTransportFailure(err) {
				t.Error("IsTransportFailure() = true for a received response")
			}
		})
	}
}

func TestOpenMeteoClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c, _ := NewOpenMeteoClient(url, time.Second)
	_, err := c.GetCurrentWeather(context.Background(), london)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("GetCurrentWeather() error = %v, want ErrUnreachable", err)
	}
	if !IsTransportFailure(err) {
		t.Error("IsTransportFailure() = false, want true")
	}
	if StatusCode(err) != 0 {
		t.Errorf("StatusCode() = %d, want 0", StatusCode(err))
	}
}

func TestOpenMeteoClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c, _ := NewOpenMeteoClient(server.URL, 50*time.Millisecond)
	_, err := c.GetCurrentWeather(context.Background(), london)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("GetCurrentWeather() error = %v, want ErrUnreachable", err)
	}
	if CategorizeError(err) != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %v, want timeout", CategorizeError(err))
	}
}

func TestOpenMeteoClient_ParentContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"current_weather":{"temperature":1,"weathercode":0}}`))
	}))
	defer server.Close()

	c, _ := NewOpenMeteoClient(server.URL, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetCurrentWeather(ctx, london)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("GetCurrentWeather() error = %v, want context.Canceled", err)
	}
	if IsTransportFailure(err) {
		t.Error("cancellation must not count as a transport failure")
	}
}

func TestOpenMeteoClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"current_weather":{"temperature":20,"weathercode":0,"time":"2026-10-18T09:00"}}`))
	}))
	defer server.Close()

	c, _ := NewOpenMeteoClientWithRetry(server.URL, time.Second, 3, time.Millisecond, 5*time.Millisecond)
	got, err := c.GetCurrentWeather(context.Background(), london)
	if err != nil {
		t.Fatalf("GetCurrentWeather() error = %v", err)
	}
	if got.TemperatureC != 20 {
		t.Errorf("TemperatureC = %v, want 20", got.TemperatureC)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestOpenMeteoClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c, _ := NewOpenMeteoClientWithRetry(server.URL, time.Second, 3, time.Millisecond, 5*time.Millisecond)
	_, err := c.GetCurrentWeather(context.Background(), london)
	if StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("GetCurrentWeather() error = %v, want status 400", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOpenMeteoClient_DefaultIsSingleAttempt(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c, _ := NewOpenMeteoClient(server.URL, time.Second)
	_, _ = c.GetCurrentWeather(context.Background(), london)
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// TestOpenMeteoClient_BreakerCountsOnlyTransportFailures verifies that 5xx
// responses leave the breaker closed while unreachable attempts open it.
func TestOpenMeteoClient_BreakerCountsOnlyTransportFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		Component:        "weather_api",
		IsFailure:        IsTransportFailure,
	})

	c, _ := NewOpenMeteoClient(server.URL, time.Second)
	c.SetCircuitBreaker(cb)
	for i := 0; i < 3; i++ {
		_, _ = c.GetCurrentWeather(context.Background(), london)
	}
	if cb.State() != circuitbreaker.StateClosed {
		t.Fatalf("breaker state after 5xx = %v, want closed", cb.State())
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	downURL := down.URL
	down.Close()

	c2, _ := NewOpenMeteoClient(downURL, time.Second)
	c2.SetCircuitBreaker(cb)
	for i := 0; i < 2; i++ {
		_, _ = c2.GetCurrentWeather(context.Background(), london)
	}
	if cb.State() != circuitbreaker.StateOpen {
		t.Fatalf("breaker state after transport failures = %v, want open", cb.State())
	}

	_, err := c2.GetCurrentWeather(context.Background(), london)
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Errorf("GetCurrentWeather() error = %v, want ErrOpen", err)
	}
}

func TestOpenMeteoClient_RateLimiterHonorsContext(t *testing.T) {
	c, _ := NewOpenMeteoClient("http://127.0.0.1:1", time.Second)
	c.SetRateLimiter(rate.NewLimiter(rate.Every(time.Hour), 1))

	// Drain the single burst token.
	_ = c.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetCurrentWeather(ctx, london)
	if err == nil {
		t.Fatal("GetCurrentWeather() expected error while limiter is exhausted")
	}
	if IsTransportFailure(err) {
		t.Error("limiter wait must not count as a transport failure")
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "success"},
		{204, "success"},
		{429, "rate_limited"},
		{404, "client_error"},
		{503, "server_error"},
		{100, "error"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.code); got != tt.want {
			t.Errorf("statusLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestCalculateBackoff_CapsAtMax(t *testing.T) {
	c, _ := NewOpenMeteoClientWithRetry("https://api.test.com", time.Second, 5, 100*time.Millisecond, 300*time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		d := c.calculateBackoff(attempt)
		if d > 330*time.Millisecond {
			t.Errorf("attempt %d: backoff %v exceeds cap plus jitter", attempt, d)
		}
	}
}
