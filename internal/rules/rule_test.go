package rules

import (
	"errors"
	"testing"

	"marinealarm/internal/domain"
)

func validThresholdRule(id string) Rule {
	return Rule{
		ID:             id,
		Name:           "coolant temp high",
		Enabled:        true,
		Type:           TypeThreshold,
		SourceType:     domain.SourceTypeSensor,
		SourcePattern:  "coolant-*",
		ThresholdValue: 95,
		Operator:       OpGE,
		Severity:       domain.SeverityWarning,
	}
}

func TestValidateRejectsBrokenRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(rule *Rule)
	}{
		{"empty id", func(rule *Rule) { rule.ID = " " }},
		{"empty name", func(rule *Rule) { rule.Name = "" }},
		{"unknown type", func(rule *Rule) { rule.Type = "histogram" }},
		{"empty source type", func(rule *Rule) { rule.SourceType = "" }},
		{"empty source pattern", func(rule *Rule) { rule.SourcePattern = "" }},
		{"negative duration", func(rule *Rule) { rule.DurationThresholdSec = -1 }},
		{"negative cooldown", func(rule *Rule) { rule.CooldownSec = -5 }},
		{"unknown severity", func(rule *Rule) { rule.Severity = "fatal" }},
		{"threshold without operator", func(rule *Rule) { rule.Operator = "" }},
		{"condition without expression", func(rule *Rule) {
			rule.Type = TypeCondition
			rule.Condition = ""
		}},
		{"pattern without pattern", func(rule *Rule) {
			rule.Type = TypePattern
			rule.Pattern = ""
		}},
		{"escalation without interval", func(rule *Rule) {
			rule.Escalation = EscalationConfig{Enabled: true, EscalateToSeverity: domain.SeverityCritical}
		}},
		{"escalation to unknown severity", func(rule *Rule) {
			rule.Escalation = EscalationConfig{Enabled: true, EscalationTimeSec: 60, EscalateToSeverity: "fatal"}
		}},
		{"grouping with unknown strategy", func(rule *Rule) {
			rule.Grouping = GroupingConfig{Enabled: true, Strategy: "by_moon_phase", TimeWindowSec: 60}
		}},
		{"grouping without window", func(rule *Rule) {
			rule.Grouping = GroupingConfig{Enabled: true, Strategy: domain.GroupByVessel}
		}},
	}

	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			rule := validThresholdRule("r-broken")
			testCase.mutate(&rule)
			err := rule.Validate()
			if err == nil {
				t.Fatalf("expected validation failure")
			}
			if !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("expected ErrInvalidRule, got %+v", err)
			}
		})
	}
}

func TestValidateCompilesMatchers(t *testing.T) {
	t.Parallel()

	rule := validThresholdRule("r-ok")
	rule.Type = TypeCondition
	rule.Condition = "value > 10 && value < 20"
	if err := rule.Validate(); err != nil {
		t.Fatalf("validation failed: %+v", err)
	}
	if rule.SourceRE == nil {
		t.Fatalf("expected compiled source matcher")
	}
	if len(rule.ConditionClauses) != 2 {
		t.Fatalf("expected two compiled clauses, got %+v", rule.ConditionClauses)
	}
}

func TestMatchesSourceWildcard(t *testing.T) {
	t.Parallel()

	rule := validThresholdRule("r-match")
	if err := rule.Validate(); err != nil {
		t.Fatalf("validation failed: %+v", err)
	}

	if !rule.MatchesSource("sensor", "coolant-01") {
		t.Fatalf("expected wildcard match for coolant-01")
	}
	if !rule.MatchesSource("SENSOR", "COOLANT-02") {
		t.Fatalf("expected case-insensitive match")
	}
	if rule.MatchesSource("sensor", "fuel-01") {
		t.Fatalf("expected no match for different source id")
	}
	if rule.MatchesSource("engine", "coolant-01") {
		t.Fatalf("expected no match for different source type")
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	cases := []struct {
		op        Operator
		value     float64
		threshold float64
		expected  bool
	}{
		{OpGT, 10, 5, true},
		{OpGT, 5, 5, false},
		{OpLT, 4, 5, true},
		{OpGE, 5, 5, true},
		{OpLE, 6, 5, false},
		{OpEQ, 5, 5, true},
		{OpNE, 5, 5, false},
	}
	for _, testCase := range cases {
		got, err := Compare(testCase.op, testCase.value, testCase.threshold)
		if err != nil {
			t.Fatalf("compare %s failed: %+v", testCase.op, err)
		}
		if got != testCase.expected {
			t.Fatalf("compare %v %s %v: expected %v", testCase.value, testCase.op, testCase.threshold, testCase.expected)
		}
	}

	if _, err := Compare("~", 1, 2); err == nil {
		t.Fatalf("expected error for unsupported operator")
	}
}

func TestParseCondition(t *testing.T) {
	t.Parallel()

	clauses, err := ParseCondition("value >= 1800 && value < 2400")
	if err != nil {
		t.Fatalf("parse failed: %+v", err)
	}
	if len(clauses) != 2 || clauses[0].Op != OpGE || clauses[1].Operand != 2400 {
		t.Fatalf("unexpected clauses %+v", clauses)
	}

	clauses, err = ParseCondition(">= 10")
	if err != nil {
		t.Fatalf("parse without value prefix failed: %+v", err)
	}
	if len(clauses) != 1 || clauses[0].Operand != 10 {
		t.Fatalf("unexpected clauses %+v", clauses)
	}

	for _, broken := range []string{"", "value >", "value ~ 10", "value > ten", "value > 1 > 2"} {
		if _, err := ParseCondition(broken); err == nil {
			t.Fatalf("expected parse failure for %q", broken)
		}
	}
}

func TestEvalConditionConjunctive(t *testing.T) {
	t.Parallel()

	clauses, err := ParseCondition("value >= 10 && value <= 20")
	if err != nil {
		t.Fatalf("parse failed: %+v", err)
	}

	for _, testCase := range []struct {
		value    float64
		expected bool
	}{
		{9, false},
		{10, true},
		{15, true},
		{20, true},
		{21, false},
	} {
		got, err := EvalCondition(clauses, testCase.value)
		if err != nil {
			t.Fatalf("eval failed: %+v", err)
		}
		if got != testCase.expected {
			t.Fatalf("eval %v: expected %v", testCase.value, testCase.expected)
		}
	}
}

func TestCompileWildcardPattern(t *testing.T) {
	t.Parallel()

	re, err := CompileWildcardPattern("main-?.temp*")
	if err != nil {
		t.Fatalf("compile failed: %+v", err)
	}
	if !re.MatchString("main-1.temp") || !re.MatchString("main-2.temperature") {
		t.Fatalf("expected wildcard matches")
	}
	if re.MatchString("main-10.temp") || re.MatchString("aux-1.temp") {
		t.Fatalf("unexpected wildcard matches")
	}
}
