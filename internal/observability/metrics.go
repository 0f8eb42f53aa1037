package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry *prometheus.Registry

	// Open-Meteo call rate by status class. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Open-Meteo latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// One increment per location per run, by outcome (ok, status_error, unreachable, breaker_open, malformed).
	LocationReportsTotal *prometheus.CounterVec

	// TTS provider requests (one per chunk for the Google provider).
	TTSRequestsTotal *prometheus.CounterVec

	// Synthesis stage outcome per run (ok, failed, disabled).
	TTSSynthesisTotal *prometheus.CounterVec

	// Delivery outcome per run (sent, missing_credentials, auth_failed, delivery_failed).
	EmailDeliveriesTotal *prometheus.CounterVec

	// Circuit breaker transitions. Watch for: repeated closed->open = provider outage.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Current breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Unix time of the last completed run and its duration.
	LastRunTimestampSeconds prometheus.Gauge
	LastRunDurationSeconds  prometheus.Gauge
)

func init() {
	registry = prometheus.NewRegistry()

	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	LocationReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationReportsTotal",
			Help: "Report lines produced, by fetch outcome",
		},
		[]string{"outcome"},
	)
	TTSRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttsRequestsTotal",
			Help: "Total number of text-to-speech provider requests",
		},
		[]string{"provider", "status"},
	)
	TTSSynthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttsSynthesisTotal",
			Help: "Speech synthesis stage outcomes",
		},
		[]string{"provider", "outcome"},
	)
	EmailDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailDeliveriesTotal",
			Help: "Report email delivery outcomes",
		},
		[]string{"outcome"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	LastRunTimestampSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lastRunTimestampSeconds",
			Help: "Unix time the last report run finished",
		},
	)
	LastRunDurationSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lastRunDurationSeconds",
			Help: "Wall time of the last report run in seconds",
		},
	)

	registry.MustRegister(
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		LocationReportsTotal,
		TTSRequestsTotal, TTSSynthesisTotal,
		EmailDeliveriesTotal,
		CircuitBreakerTransitionsTotal, CircuitBreakerState,
		LastRunTimestampSeconds, LastRunDurationSeconds,
	)
}

// Registry returns the registry holding all application metrics.
func Registry() *prometheus.Registry {
	return registry
}

// RecordCircuitBreakerTransition counts a breaker state change and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(CircuitBreakerStateValue(to))
}

// CircuitBreakerStateValue maps a state name to the gauge value.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}

// RecordRunFinished stamps the run completion time and duration.
func RecordRunFinished(start time.Time) {
	now := time.Now()
	LastRunTimestampSeconds.Set(float64(now.Unix()))
	LastRunDurationSeconds.Set(now.Sub(start).Seconds())
}
