// Package locations loads the set of report locations from a JSON or YAML
// document shaped as {"<name>": {"lat": <number>, "lon": <number>}, ...}.
package locations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-report/internal/models"
	"github.com/kjstillabower/weather-report/internal/validation"
)

// DefaultFile is the locations file read when none is configured.
const DefaultFile = "Locations.json"

var (
	// ErrNotFound is returned when the locations file does not exist.
	ErrNotFound = errors.New("locations file not found")
	// ErrMalformed is returned when the document cannot be parsed or has the wrong shape.
	ErrMalformed = errors.New("locations file malformed")
)

// Load reads the locations file at path. On any error it returns an empty,
// non-nil set together with an error wrapping ErrNotFound or ErrMalformed;
// the caller decides how to report it.
func Load(path string) (models.LocationSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.LocationSet{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return models.LocationSet{}, fmt.Errorf("read locations file: %w", err)
	}

	var set models.LocationSet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		set, err = parseYAML(data)
	default:
		set, err = parseJSON(data)
	}
	if err != nil {
		return models.LocationSet{}, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return set, nil
}

type coordinatesDoc struct {
	Lat *float64 `json:"lat" yaml:"lat"`
	Lon *float64 `json:"lon" yaml:"lon"`
}

func (c coordinatesDoc) toModel() (models.Coordinates, error) {
	if c.Lat == nil || c.Lon == nil {
		return models.Coordinates{}, errors.New("lat and lon are required")
	}
	return models.Coordinates{Latitude: *c.Lat, Longitude: *c.Lon}, nil
}

// builder accumulates locations in document order and rejects duplicates.
type builder struct {
	set  models.LocationSet
	seen map[string]struct{}
}

func (b *builder) add(rawName string, doc coordinatesDoc) error {
	name, err := validation.ValidateLocationName(rawName, validation.DefaultMaxNameLength)
	if err != nil {
		return fmt.Errorf("location %q: %w", rawName, err)
	}
	if _, dup := b.seen[name]; dup {
		return fmt.Errorf("duplicate location %q", name)
	}
	coords, err := doc.toModel()
	if err != nil {
		return fmt.Errorf("location %q: %w", name, err)
	}
	if b.seen == nil {
		b.seen = make(map[string]struct{})
	}
	b.seen[name] = struct{}{}
	b.set = append(b.set, models.Location{Name: name, Coordinates: coords})
	return nil
}

func (b *builder) result() models.LocationSet {
	if b.set == nil {
		return models.LocationSet{}
	}
	return b.set
}

// parseJSON walks the top-level object token by token; decoding into a map
// would lose document order.
func parseJSON(data []byte) (models.LocationSet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("top level must be an object")
	}

	var b builder
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var doc coordinatesDoc
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("location %q: %w", name, err)
		}
		if err := b.add(name, doc); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after top-level object")
	}
	return b.result(), nil
}

// parseYAML walks the mapping node so keys keep document order.
func parseYAML(data []byte) (models.LocationSet, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if root.Kind == 0 {
		// Empty document.
		return models.LocationSet{}, nil
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 || root.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("top level must be a mapping")
	}
	mapping := root.Content[0]

	var b builder
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, val := mapping.Content[i], mapping.Content[i+1]
		if val.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("location %q: value must be a mapping", key.Value)
		}
		var doc coordinatesDoc
		if err := val.Decode(&doc); err != nil {
			return nil, fmt.Errorf("location %q: %w", key.Value, err)
		}
		if err := b.add(key.Value, doc); err != nil {
			return nil, err
		}
	}
	return b.result(), nil
}
