package domain

// DecisionOutcome classifies one rule evaluation result.
// Params: noop/suppressed/trigger constants.
// Returns: deterministic evaluation outcome marker.
type DecisionOutcome string

const (
	// DecisionNoOp marks no condition or condition still accumulating.
	DecisionNoOp DecisionOutcome = "noop"
	// DecisionSuppressed marks a condition muted by cooldown. No alarm is
	// created for suppressed decisions.
	DecisionSuppressed DecisionOutcome = "suppressed"
	// DecisionTrigger marks a condition that must raise an alarm.
	DecisionTrigger DecisionOutcome = "trigger"
)

// AlarmDraft carries everything needed to materialize a triggered alarm.
// Params: rendered texts, severity, origin references, and value snapshot.
// Returns: trigger payload for the alarm facade.
type AlarmDraft struct {
	RuleID         string
	Title          string
	Description    string
	Severity       Severity
	SourceID       string
	SourceType     string
	VesselID       string
	SourceValue    float64
	ThresholdValue float64
}

// Decision is one rule evaluation result for an observation.
// Params: outcome marker, suppression reason, and trigger draft.
// Returns: deterministic evaluator output.
type Decision struct {
	Outcome DecisionOutcome
	Reason  string
	Draft   AlarmDraft
}
