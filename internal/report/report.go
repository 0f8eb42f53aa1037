// Package report renders observations into the text sent by email and read
// aloud by the speech synthesizer.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather-report/internal/client"
	"github.com/kjstillabower/weather-report/internal/models"
)

// DateLayout is the calendar date format used in the header and subject.
const DateLayout = "2006-01-02"

// FormatLine renders one location's report line.
func FormatLine(obs models.Observation) string {
	if obs.Failed() {
		if obs.StatusCode > 0 {
			return fmt.Sprintf("%s: Error fetching data (status code %d)", obs.Location, obs.StatusCode)
		}
		return fmt.Sprintf("%s: Error fetching data (%s)", obs.Location, client.FailureReason(obs.Err))
	}
	return fmt.Sprintf("%s: Temperature: %s°C (%.1f°F), Condition: %s",
		obs.Location, FormatCelsius(obs.TemperatureC), obs.TemperatureF, obs.Description)
}

// FormatCelsius prints the provider value in its shortest form with at least
// one decimal digit: 20 -> "20.0", 15.25 -> "15.25".
func FormatCelsius(c float64) string {
	s := strconv.FormatFloat(c, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Header returns the first line of the report body.
func Header(date time.Time) string {
	return fmt.Sprintf("Today's weather report (%s):", date.Format(DateLayout))
}

// Subject returns the email subject for date.
func Subject(date time.Time) string {
	return "Weather Report - " + date.Format(DateLayout)
}

// Compose assembles the report for date. Lines are kept in the given order.
func Compose(date time.Time, lines []string) models.Report {
	copied := make([]string, len(lines))
	copy(copied, lines)

	return models.Report{
		Date:    date,
		Subject: Subject(date),
		Lines:   copied,
		Body:    Header(date) + "\n\n" + strings.Join(copied, "\n"),
	}
}
