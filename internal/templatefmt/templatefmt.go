package templatefmt

import (
	"strconv"
	"strings"
)

// Render substitutes alarm template placeholders with runtime values.
// Supported placeholders: {value}, {threshold}, {source}.
// Params: template body, reading value, rule threshold, and source id.
// Returns: rendered string with all placeholders replaced.
func Render(body string, value, threshold float64, source string) string {
	if body == "" {
		return ""
	}
	replacer := strings.NewReplacer(
		"{value}", FormatValue(value),
		"{threshold}", FormatValue(threshold),
		"{source}", source,
	)
	return replacer.Replace(body)
}

// FormatValue renders one metric value in compact decimal form.
// Params: numeric reading or threshold value.
// Returns: shortest exact decimal representation.
func FormatValue(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// HasPlaceholders reports whether body references any supported placeholder.
// Params: template body.
// Returns: true when at least one placeholder is present.
func HasPlaceholders(body string) bool {
	return strings.Contains(body, "{value}") ||
		strings.Contains(body, "{threshold}") ||
		strings.Contains(body, "{source}")
}
