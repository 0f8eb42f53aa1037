// Package conditions translates provider weather codes to descriptions.
package conditions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the code table read when none is configured.
const DefaultFile = "weather_codes.json"

// Unknown is returned for codes missing from the table.
const Unknown = "Unknown"

var (
	// ErrNotFound is returned when the code table file does not exist.
	ErrNotFound = errors.New("weather codes file not found")
	// ErrMalformed is returned when the code table cannot be parsed.
	ErrMalformed = errors.New("weather codes file malformed")
)

// Table maps provider condition codes to descriptions. A nil Table is valid
// and describes every code as Unknown.
type Table map[int]string

// Describe returns the description for code, or Unknown on a miss.
func (t Table) Describe(code int) string {
	if d, ok := t[code]; ok {
		return d
	}
	return Unknown
}

// Load reads a JSON or YAML document mapping stringified integer codes to
// descriptions. On error the returned Table is empty (all lookups Unknown) and
// the error wraps ErrNotFound or ErrMalformed.
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Table{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Table{}, fmt.Errorf("read weather codes file: %w", err)
	}

	raw := map[string]string{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return Table{}, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}

	table := make(Table, len(raw))
	for k, v := range raw {
		code, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return Table{}, fmt.Errorf("%w: %s: code %q is not an integer", ErrMalformed, path, k)
		}
		table[code] = v
	}
	return table, nil
}
