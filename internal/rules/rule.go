package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"marinealarm/internal/domain"
)

// ErrInvalidRule indicates a malformed rule rejected at registration.
var ErrInvalidRule = errors.New("invalid rule")

// Type identifies one rule evaluation family.
// Params: threshold/condition/pattern constants.
// Returns: tagged variant selector for predicate dispatch.
type Type string

const (
	// TypeThreshold compares numeric readings against one threshold.
	TypeThreshold Type = "threshold"
	// TypeCondition evaluates a compiled condition expression on the value.
	TypeCondition Type = "condition"
	// TypePattern matches the status token against a wildcard pattern.
	TypePattern Type = "pattern"
)

// Valid reports whether rule type is supported.
// Params: none.
// Returns: true for one of the three type constants.
func (t Type) Valid() bool {
	switch t {
	case TypeThreshold, TypeCondition, TypePattern:
		return true
	default:
		return false
	}
}

// Operator is one numeric comparison operator.
// Params: comparison token constants.
// Returns: operator used by threshold and condition predicates.
type Operator string

const (
	// OpGT is strict greater-than.
	OpGT Operator = ">"
	// OpLT is strict less-than.
	OpLT Operator = "<"
	// OpGE is greater-or-equal.
	OpGE Operator = ">="
	// OpLE is less-or-equal.
	OpLE Operator = "<="
	// OpEQ is equality.
	OpEQ Operator = "=="
	// OpNE is inequality.
	OpNE Operator = "!="
)

// Valid reports whether operator is supported.
// Params: none.
// Returns: true for one of the six comparison tokens.
func (o Operator) Valid() bool {
	switch o {
	case OpGT, OpLT, OpGE, OpLE, OpEQ, OpNE:
		return true
	default:
		return false
	}
}

// Compare applies operator to one value/threshold pair.
// Params: operator token, reading value, and threshold.
// Returns: comparison result or error for unsupported operator.
func Compare(op Operator, value, threshold float64) (bool, error) {
	switch op {
	case OpGT:
		return value > threshold, nil
	case OpLT:
		return value < threshold, nil
	case OpGE:
		return value >= threshold, nil
	case OpLE:
		return value <= threshold, nil
	case OpEQ:
		return value == threshold, nil
	case OpNE:
		return value != threshold, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

// EscalationConfig controls automatic severity escalation for one rule.
// Params: enable flag, base escalation interval, and target severity.
// Returns: escalation settings carried on the rule.
type EscalationConfig struct {
	Enabled            bool            `toml:"enabled"`
	EscalationTimeSec  int             `toml:"escalation_time_sec"`
	EscalateToSeverity domain.Severity `toml:"escalate_to"`
}

// GroupingConfig controls alarm correlation for one rule.
// Params: enable flag, strategy selector, and grouping window width.
// Returns: grouping settings carried on the rule.
type GroupingConfig struct {
	Enabled       bool                 `toml:"enabled"`
	Strategy      domain.GroupStrategy `toml:"strategy"`
	TimeWindowSec int                  `toml:"time_window_sec"`
}

// ConditionClause is one compiled clause of a condition expression.
// Params: operator and operand parsed from the expression text.
// Returns: clause evaluated conjunctively with its siblings.
type ConditionClause struct {
	Op      Operator
	Operand float64
}

// Rule describes when a reading or status becomes an alarm.
// Params: identity, source selector, predicate settings, timing gates, and
// produced alarm texts/severity.
// Returns: validated rule definition for registry and evaluator.
type Rule struct {
	ID                   string           `toml:"id"`
	Name                 string           `toml:"name"`
	Enabled              bool             `toml:"enabled"`
	Type                 Type             `toml:"type"`
	SourceType           string           `toml:"source_type"`
	SourcePattern        string           `toml:"source_pattern"`
	Metric               string           `toml:"metric"`
	ThresholdValue       float64          `toml:"threshold"`
	Operator             Operator         `toml:"operator"`
	Condition            string           `toml:"condition"`
	Pattern              string           `toml:"pattern"`
	DurationThresholdSec int              `toml:"duration_threshold_sec"`
	CooldownSec          int              `toml:"cooldown_sec"`
	Severity             domain.Severity  `toml:"severity"`
	TitleTemplate        string           `toml:"title_template"`
	DescriptionTemplate  string           `toml:"description_template"`
	Escalation           EscalationConfig `toml:"escalation"`
	Grouping             GroupingConfig   `toml:"grouping"`

	// SourceRE is the compiled source id wildcard, populated by Compile.
	SourceRE *regexp.Regexp `toml:"-"`
	// ConditionClauses are compiled condition clauses, populated by Compile.
	ConditionClauses []ConditionClause `toml:"-"`
	// PatternRE is the compiled status wildcard, populated by Compile.
	PatternRE *regexp.Regexp `toml:"-"`
}

// Validate checks rule invariants and compiles derived matchers.
// Params: rule fields from config or API registration.
// Returns: ErrInvalidRule-wrapped error on the first violation.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rule %q: empty name", ErrInvalidRule, r.ID)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: rule %q: unsupported type %q", ErrInvalidRule, r.ID, r.Type)
	}
	if strings.TrimSpace(r.SourceType) == "" {
		return fmt.Errorf("%w: rule %q: empty source_type", ErrInvalidRule, r.ID)
	}
	if strings.TrimSpace(r.SourcePattern) == "" {
		return fmt.Errorf("%w: rule %q: empty source_pattern", ErrInvalidRule, r.ID)
	}
	if r.DurationThresholdSec < 0 {
		return fmt.Errorf("%w: rule %q: duration_threshold_sec must be >=0", ErrInvalidRule, r.ID)
	}
	if r.CooldownSec < 0 {
		return fmt.Errorf("%w: rule %q: cooldown_sec must be >=0", ErrInvalidRule, r.ID)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: rule %q: unsupported severity %q", ErrInvalidRule, r.ID, r.Severity)
	}

	switch r.Type {
	case TypeThreshold:
		if !r.Operator.Valid() {
			return fmt.Errorf("%w: rule %q: unsupported operator %q", ErrInvalidRule, r.ID, r.Operator)
		}
	case TypeCondition:
		if strings.TrimSpace(r.Condition) == "" {
			return fmt.Errorf("%w: rule %q: empty condition", ErrInvalidRule, r.ID)
		}
	case TypePattern:
		if strings.TrimSpace(r.Pattern) == "" {
			return fmt.Errorf("%w: rule %q: empty pattern", ErrInvalidRule, r.ID)
		}
	}

	if r.Escalation.Enabled {
		if r.Escalation.EscalationTimeSec <= 0 {
			return fmt.Errorf("%w: rule %q: escalation_time_sec must be >0", ErrInvalidRule, r.ID)
		}
		if !r.Escalation.EscalateToSeverity.Valid() {
			return fmt.Errorf("%w: rule %q: unsupported escalate_to %q", ErrInvalidRule, r.ID, r.Escalation.EscalateToSeverity)
		}
	}
	if r.Grouping.Enabled {
		if !r.Grouping.Strategy.Valid() {
			return fmt.Errorf("%w: rule %q: unsupported grouping strategy %q", ErrInvalidRule, r.ID, r.Grouping.Strategy)
		}
		if r.Grouping.TimeWindowSec <= 0 {
			return fmt.Errorf("%w: rule %q: time_window_sec must be >0", ErrInvalidRule, r.ID)
		}
	}

	return r.Compile()
}

// Compile builds derived matchers from rule text fields.
// Params: source pattern, condition expression, and status pattern.
// Returns: ErrInvalidRule-wrapped error when one matcher does not compile.
func (r *Rule) Compile() error {
	sourceRE, err := CompileWildcardPattern(r.SourcePattern)
	if err != nil {
		return fmt.Errorf("%w: rule %q: invalid source_pattern: %v", ErrInvalidRule, r.ID, err)
	}
	r.SourceRE = sourceRE

	if r.Type == TypeCondition {
		clauses, err := ParseCondition(r.Condition)
		if err != nil {
			return fmt.Errorf("%w: rule %q: invalid condition: %v", ErrInvalidRule, r.ID, err)
		}
		r.ConditionClauses = clauses
	}
	if r.Type == TypePattern {
		patternRE, err := CompileWildcardPattern(r.Pattern)
		if err != nil {
			return fmt.Errorf("%w: rule %q: invalid pattern: %v", ErrInvalidRule, r.ID, err)
		}
		r.PatternRE = patternRE
	}
	return nil
}

// MatchesSource reports whether rule applies to one source.
// Params: source type and source id from the observation.
// Returns: true when source type matches and the id satisfies the wildcard.
func (r *Rule) MatchesSource(sourceType, sourceID string) bool {
	if !strings.EqualFold(r.SourceType, sourceType) {
		return false
	}
	if r.SourceRE == nil {
		return false
	}
	return r.SourceRE.MatchString(strings.ToLower(sourceID))
}

// ParseCondition parses a conjunctive condition expression into clauses.
// Accepted form: "value <op> <number>" clauses joined by "&&", where the
// "value" prefix is optional (">= 10 && < 20").
// Params: condition expression text.
// Returns: compiled clause list or parse error.
func ParseCondition(expression string) ([]ConditionClause, error) {
	parts := strings.Split(expression, "&&")
	clauses := make([]ConditionClause, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) > 0 && strings.EqualFold(fields[0], "value") {
			fields = fields[1:]
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("clause %q must be <op> <number>", strings.TrimSpace(part))
		}
		op := Operator(fields[0])
		if !op.Valid() {
			return nil, fmt.Errorf("unsupported operator %q", fields[0])
		}
		operand, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid operand %q", fields[1])
		}
		clauses = append(clauses, ConditionClause{Op: op, Operand: operand})
	}
	if len(clauses) == 0 {
		return nil, errors.New("expression has no clauses")
	}
	return clauses, nil
}

// EvalCondition evaluates compiled clauses conjunctively against one value.
// Params: compiled clause list and reading value.
// Returns: true when every clause holds.
func EvalCondition(clauses []ConditionClause, value float64) (bool, error) {
	if len(clauses) == 0 {
		return false, errors.New("condition is not compiled")
	}
	for _, clause := range clauses {
		ok, err := Compare(clause.Op, value, clause.Operand)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// CompileWildcardPattern converts wildcard syntax (*, ?) into regex and compiles it.
// Params: wildcard expression from rule definition.
// Returns: compiled case-insensitive regex.
func CompileWildcardPattern(pattern string) (*regexp.Regexp, error) {
	replacer := strings.NewReplacer(
		".", "\\.",
		"+", "\\+",
		"(", "\\(",
		")", "\\)",
		"[", "\\[",
		"]", "\\]",
		"{", "\\{",
		"}", "\\}",
		"^", "\\^",
		"$", "\\$",
		"|", "\\|",
	)
	normalized := replacer.Replace(strings.ToLower(pattern))
	normalized = strings.ReplaceAll(normalized, "*", ".*")
	normalized = strings.ReplaceAll(normalized, "?", ".")
	return regexp.Compile("^" + normalized + "$")
}
