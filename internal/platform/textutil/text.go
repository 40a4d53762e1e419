// Package textutil normalises free text received from clients before it is stored.
package textutil

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// Plain removes every HTML element, control character and repeated whitespace from
// input, then truncates the result to limit runes. A non-positive limit means 256.
func Plain(input string, limit int) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	stripped := html.UnescapeString(strictPolicy.Sanitize(input))
	return truncate(strings.Join(strings.FieldsFunc(ControlFree(stripped, 0), unicode.IsSpace), " "), limit)
}

// ControlFree drops control characters other than tab and newlines and truncates to limit
// runes. A non-positive limit disables truncation.
func ControlFree(input string, limit int) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	builder.Grow(len(input))
	for _, r := range input {
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t') {
			continue
		}
		builder.WriteRune(r)
	}
	return truncate(strings.TrimSpace(builder.String()), limit)
}

func truncate(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return strings.TrimSpace(string(runes[:limit]))
}
