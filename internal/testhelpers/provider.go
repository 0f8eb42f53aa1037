// Package testhelpers provides in-process fakes of the external services a
// report run talks to.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/weather-report/internal/models"
)

type weatherReply struct {
	status       int
	temperatureC float64
	weatherCode  int
}

// ProviderServer fakes Open-Meteo (/v1/forecast) and the Google TTS endpoint
// (/translate_tts). Coordinates with no configured reply get a 400, as the
// real provider does for invalid input.
type ProviderServer struct {
	*httptest.Server

	mu          sync.Mutex
	weather     map[string]weatherReply
	ttsStatus   int
	weatherHits int
	ttsHits     int
}

func NewProviderServer(t testing.TB) *ProviderServer {
	t.Helper()
	p := &ProviderServer{
		weather:   make(map[string]weatherReply),
		ttsStatus: http.StatusOK,
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/forecast", p.handleForecast).Methods(http.MethodGet)
	router.HandleFunc("/translate_tts", p.handleTTS).Methods(http.MethodGet)

	p.Server = httptest.NewServer(router)
	t.Cleanup(p.Server.Close)
	return p
}

func (p *ProviderServer) WeatherURL() string { return p.URL + "/v1/forecast" }

func (p *ProviderServer) TTSURL() string { return p.URL + "/translate_tts" }

// SetWeather makes coords report the given conditions.
func (p *ProviderServer) SetWeather(coords models.Coordinates, temperatureC float64, weatherCode int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weather[coordKey(coords)] = weatherReply{status: http.StatusOK, temperatureC: temperatureC, weatherCode: weatherCode}
}

// SetWeatherStatus makes coords answer with a bare HTTP status.
func (p *ProviderServer) SetWeatherStatus(coords models.Coordinates, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weather[coordKey(coords)] = weatherReply{status: status}
}

func (p *ProviderServer) SetTTSStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttsStatus = status
}

func (p *ProviderServer) WeatherHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.weatherHits
}

func (p *ProviderServer) TTSHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ttsHits
}

func (p *ProviderServer) handleForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("latitude") + "," + q.Get("longitude")

	p.mu.Lock()
	p.weatherHits++
	reply, ok := p.weather[key]
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": true, "reason": "unknown coordinates"})
		return
	}
	if reply.status != http.StatusOK {
		w.WriteHeader(reply.status)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"latitude":  q.Get("latitude"),
		"longitude": q.Get("longitude"),
		"current_weather": map[string]interface{}{
			"temperature": reply.temperatureC,
			"weathercode": reply.weatherCode,
			"windspeed":   5.0,
			"time":        "2026-10-18T09:00",
		},
	})
}

func (p *ProviderServer) handleTTS(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.ttsHits++
	status := p.ttsStatus
	p.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	_, _ = w.Write([]byte("ID3-chunk-" + r.URL.Query().Get("idx") + ";"))
}

func coordKey(c models.Coordinates) string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}
