package domain

import "time"

// Severity is alarm importance level with a stable escalation order.
// Params: info/warning/critical constants.
// Returns: ordered severity used by rules and escalation.
type Severity string

const (
	// SeverityInfo marks informational alarms.
	SeverityInfo Severity = "info"
	// SeverityWarning marks alarms that need operator attention.
	SeverityWarning Severity = "warning"
	// SeverityCritical marks alarms that need immediate action.
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for escalation comparisons.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// Rank returns numeric severity order for comparisons.
// Params: none.
// Returns: 0 for info, 1 for warning, 2 for critical, -1 for unknown.
func (s Severity) Rank() int {
	rank, ok := severityRank[s]
	if !ok {
		return -1
	}
	return rank
}

// Valid reports whether severity is one of the supported constants.
// Params: none.
// Returns: true for info/warning/critical.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Status is alarm lifecycle state.
// Params: active/acknowledged/cleared/suppressed constants.
// Returns: persisted status used by store and transitions.
type Status string

const (
	// StatusActive marks a raised, unhandled alarm.
	StatusActive Status = "active"
	// StatusAcknowledged marks an alarm an operator has seen.
	StatusAcknowledged Status = "acknowledged"
	// StatusCleared marks a terminal, closed alarm.
	StatusCleared Status = "cleared"
	// StatusSuppressed marks an alarm muted by a maintenance window.
	// Cooldown suppression never creates an alarm and never uses this status.
	StatusSuppressed Status = "suppressed"
)

// Alarm stores one persisted alarm record.
// Params: identity, origin references, lifecycle timestamps, and the
// reading/threshold snapshot that raised it.
// Returns: record for state backend and outbound payloads.
type Alarm struct {
	ID              string     `json:"alarm_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Severity        Severity   `json:"severity"`
	Status          Status     `json:"status"`
	VesselID        string     `json:"vessel_id,omitempty"`
	EngineID        string     `json:"engine_id,omitempty"`
	SensorID        string     `json:"sensor_id,omitempty"`
	RuleID          string     `json:"rule_id,omitempty"`
	SourceID        string     `json:"source_id,omitempty"`
	EscalationLevel int        `json:"escalation_level"`
	GroupID         string     `json:"group_id,omitempty"`
	SourceValue     *float64   `json:"source_value,omitempty"`
	ThresholdValue  *float64   `json:"threshold_value,omitempty"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	ClearedAt       *time.Time `json:"cleared_at,omitempty"`
	ClearedBy       string     `json:"cleared_by,omitempty"`
}

// GroupStrategy selects the correlation key for alarm grouping.
// Params: strategy constants.
// Returns: grouping key selector persisted on groups.
type GroupStrategy string

const (
	// GroupBySource clusters alarms from one source id.
	GroupBySource GroupStrategy = "by_source"
	// GroupBySeverity clusters alarms of one severity.
	GroupBySeverity GroupStrategy = "by_severity"
	// GroupByVessel clusters alarms from one vessel.
	GroupByVessel GroupStrategy = "by_vessel"
	// GroupByTimeWindow clusters all alarms inside one time window.
	GroupByTimeWindow GroupStrategy = "by_time_window"
)

// Valid reports whether strategy is supported.
// Params: none.
// Returns: true for one of the four strategy constants.
func (s GroupStrategy) Valid() bool {
	switch s {
	case GroupBySource, GroupBySeverity, GroupByVessel, GroupByTimeWindow:
		return true
	default:
		return false
	}
}

// AlarmGroup stores one time-windowed alarm cluster.
// Params: strategy, canonical strategy key, window bounds, and member ids
// ordered by join time.
// Returns: persisted group record.
type AlarmGroup struct {
	ID        string        `json:"group_id"`
	Strategy  GroupStrategy `json:"strategy"`
	Key       string        `json:"key"`
	CreatedAt time.Time     `json:"created_at"`
	WindowEnd time.Time     `json:"window_end"`
	MemberIDs []string      `json:"member_ids"`
}

// Open reports whether group still admits new members.
// Params: current time.
// Returns: true while windowEnd has not passed.
func (g AlarmGroup) Open(now time.Time) bool {
	return now.Before(g.WindowEnd)
}
