package conditions

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestTable_Describe(t *testing.T) {
	table := Table{0: "Clear sky", 3: "Overcast", 95: "Thunderstorm"}

	tests := []struct {
		code int
		want string
	}{
		{0, "Clear sky"},
		{3, "Overcast"},
		{95, "Thunderstorm"},
		{1, Unknown},
		{-1, Unknown},
		{1000, Unknown},
	}
	for _, tt := range tests {
		if got := table.Describe(tt.code); got != tt.want {
			t.Errorf("Describe(%d) = %q, want %q", tt.code, got, tt.want)
		}
		// Deterministic on repeat.
		if got := table.Describe(tt.code); got != tt.want {
			t.Errorf("Describe(%d) second call = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestTable_NilDescribesUnknown(t *testing.T) {
	var table Table
	if got := table.Describe(0); got != Unknown {
		t.Errorf("nil table Describe(0) = %q, want %q", got, Unknown)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeTable(t, "weather_codes.json", `{"0": "Clear sky", "45": "Fog", " 61 ": "Light rain"}`)

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(table) != 3 {
		t.Fatalf("len(table) = %d, want 3", len(table))
	}
	if got := table.Describe(45); got != "Fog" {
		t.Errorf("Describe(45) = %q, want Fog", got)
	}
	if got := table.Describe(61); got != "Light rain" {
		t.Errorf("Describe(61) = %q, want Light rain", got)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeTable(t, "weather_codes.yaml", "\"0\": Clear sky\n\"95\": Thunderstorm\n")

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := table.Describe(95); got != "Thunderstorm" {
		t.Errorf("Describe(95) = %q, want Thunderstorm", got)
	}
}

func TestLoad_Absent(t *testing.T) {
	table, err := Load(filepath.Join(t.TempDir(), "weather_codes.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
	if len(table) != 0 {
		t.Errorf("len(table) = %d, want 0", len(table))
	}
	if got := table.Describe(0); got != Unknown {
		t.Errorf("Describe(0) on absent table = %q, want %q", got, Unknown)
	}
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{0: Clear"},
		{"array", `["Clear sky"]`},
		{"non-integer key", `{"zero": "Clear sky"}`},
		{"non-string value", `{"0": {"text": "Clear sky"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTable(t, "weather_codes.json", tt.content)
			table, err := Load(path)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("Load() error = %v, want ErrMalformed", err)
			}
			if got := table.Describe(0); got != Unknown {
				t.Errorf("Describe(0) on malformed table = %q, want %q", got, Unknown)
			}
		})
	}
}

func writeTable(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
