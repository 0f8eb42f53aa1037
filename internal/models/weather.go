package models

import "time"

// Coordinates is a point in decimal degrees. No range validation is applied;
// out-of-range values are passed to the provider as-is.
type Coordinates struct {
	Latitude  float64 `json:"lat" yaml:"lat"`
	Longitude float64 `json:"lon" yaml:"lon"`
}

// Location is a named point from the locations file.
type Location struct {
	Name        string
	Coordinates Coordinates
}

// LocationSet is the ordered, immutable set of locations processed in one run.
// Order is the document order of the locations file.
type LocationSet []Location

// Names returns location names in set order.
func (s LocationSet) Names() []string {
	names := make([]string, 0, len(s))
	for _, l := range s {
		names = append(names, l.Name)
	}
	return names
}

// CurrentConditions is the provider payload for one location.
type CurrentConditions struct {
	TemperatureC float64
	WeatherCode  int
	// Time is the provider's observation time; zero when absent or unparsable.
	Time time.Time
}

// Observation is one location's entry in the report. When Err is set the
// fetch failed; StatusCode is the provider HTTP status (0 when no response).
type Observation struct {
	Location     string
	TemperatureC float64
	TemperatureF float64
	WeatherCode  int
	Description  string

	StatusCode int
	Err        error
}

// Failed reports whether the observation records a fetch failure.
func (o Observation) Failed() bool {
	return o.Err != nil
}

// CelsiusToFahrenheit converts using F = C*9/5 + 32.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// Report is the composed output of one run.
type Report struct {
	Date    time.Time
	Subject string
	Lines   []string
	Body    string
}
