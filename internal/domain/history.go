package domain

import "time"

// HistoryEventType identifies one audit event kind.
// Params: lifecycle event constants.
// Returns: typed event marker for append-only history.
type HistoryEventType string

const (
	// HistoryCreated marks alarm creation.
	HistoryCreated HistoryEventType = "created"
	// HistoryEscalated marks an automatic severity escalation.
	HistoryEscalated HistoryEventType = "escalated"
	// HistoryAcknowledged marks an operator acknowledgment.
	HistoryAcknowledged HistoryEventType = "acknowledged"
	// HistoryCleared marks a terminal clear.
	HistoryCleared HistoryEventType = "cleared"
	// HistoryGroupedInto marks an alarm joining a correlation group.
	HistoryGroupedInto HistoryEventType = "grouped_into"
	// HistorySuppressed marks the start of a maintenance-window mute.
	HistorySuppressed HistoryEventType = "suppressed"
	// HistoryUnsuppressed marks the end of a maintenance-window mute.
	HistoryUnsuppressed HistoryEventType = "unsuppressed"
)

// HistoryEntry stores one append-only audit record. Entries are never
// mutated after write.
// Params: alarm reference, event type, actor, and severity/value snapshots.
// Returns: persisted history record.
type HistoryEntry struct {
	ID               string           `json:"entry_id"`
	AlarmID          string           `json:"alarm_id"`
	EventType        HistoryEventType `json:"event_type"`
	Timestamp        time.Time        `json:"timestamp"`
	ActorID          string           `json:"actor_id,omitempty"`
	PreviousSeverity Severity         `json:"previous_severity,omitempty"`
	NewSeverity      Severity         `json:"new_severity,omitempty"`
	GroupID          string           `json:"group_id,omitempty"`
	SourceValue      *float64         `json:"source_value,omitempty"`
	ThresholdValue   *float64         `json:"threshold_value,omitempty"`
}
