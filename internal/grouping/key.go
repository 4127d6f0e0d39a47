package grouping

import (
	"strings"

	"marinealarm/internal/domain"
)

// StrategyKey builds the canonical correlation key for one alarm.
// Params: grouping strategy and candidate alarm.
// Returns: sanitized key token; empty when the alarm lacks the dimension
// the strategy clusters on.
func StrategyKey(strategy domain.GroupStrategy, alarm domain.Alarm) string {
	switch strategy {
	case domain.GroupBySource:
		return sanitize(alarm.SourceID)
	case domain.GroupBySeverity:
		return sanitize(string(alarm.Severity))
	case domain.GroupByVessel:
		return sanitize(alarm.VesselID)
	case domain.GroupByTimeWindow:
		return "window"
	default:
		return ""
	}
}

// sanitize converts key fragments into stable bucket-safe tokens.
// Params: raw value with possible separators.
// Returns: sanitized string with unsupported chars replaced by underscore.
func sanitize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
