package validation

import (
	"errors"
	"strings"
	"unicode"
)

// DefaultMaxNameLength bounds location names in runes.
const DefaultMaxNameLength = 100

// ErrNameEmpty is returned when a location name is empty or whitespace-only after trim.
var ErrNameEmpty = errors.New("location name is required")

// ErrNameTooLong is returned when a location name exceeds the maximum length.
var ErrNameTooLong = errors.New("location name too long")

// ErrNameControlChars is returned when a location name contains control characters.
var ErrNameControlChars = errors.New("location name contains control characters")

// ValidateLocationName trims the input and enforces a maximum length in runes
// (maxLen <= 0 disables the check). Any printable text is accepted; control
// characters are rejected because each name must stay on its own report line.
// Returns the trimmed name.
func ValidateLocationName(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrNameEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrNameTooLong
	}
	for _, c := range r {
		if unicode.IsControl(c) {
			return "", ErrNameControlChars
		}
	}
	return s, nil
}
