package engine

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"marinealarm/internal/domain"
	"marinealarm/internal/rules"
	"marinealarm/internal/templatefmt"
)

const shardCount = 32

// stateKey identifies one evaluation state entry.
// Params: rule and source identity pair.
// Returns: value-typed composite map key.
type stateKey struct {
	RuleID   string
	SourceID string
}

// EvaluationState stores per-(rule, source) condition tracking.
// Params: condition start marker, last trigger marker, and last activity.
// Returns: mutable state for the duration/cooldown machine.
type EvaluationState struct {
	ConditionStart time.Time
	LastTriggered  time.Time
	LastSeen       time.Time
}

// shard guards one slice of the evaluation state table.
// Params: shard mutex and keyed state map.
// Returns: independently lockable state partition.
type shard struct {
	mu     sync.Mutex
	states map[stateKey]*EvaluationState
}

// Engine evaluates observations against rules with per-key atomic state.
// State is partitioned across shards so concurrent sources never contend on
// one global mutex.
// Params: sharded state table.
// Returns: deterministic decision stream for the alarm facade.
type Engine struct {
	shards [shardCount]*shard
}

// New constructs an evaluator with empty state.
// Params: none.
// Returns: initialized engine instance.
func New() *Engine {
	engine := &Engine{}
	for i := range engine.shards {
		engine.shards[i] = &shard{states: make(map[stateKey]*EvaluationState)}
	}
	return engine
}

// shardFor selects the shard guarding one state key.
// Params: composite state key.
// Returns: shard owning the key.
func (e *Engine) shardFor(key stateKey) *shard {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(key.RuleID))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(key.SourceID))
	return e.shards[hasher.Sum32()%shardCount]
}

// Evaluate runs one rule against one observation.
// The duration/cooldown machine is shared across rule types; only the
// condition predicate differs per type. The per-key read-modify-write is
// atomic, so two concurrent readings for the same rule/source cannot
// double-trigger.
// Params: rule, observation, and current processing time.
// Returns: trigger/suppressed/noop decision, or an error when the rule
// predicate is broken (caller isolates and skips the rule for this cycle).
func (e *Engine) Evaluate(rule rules.Rule, obs domain.Observation, now time.Time) (domain.Decision, error) {
	conditionTrue, err := evalPredicate(rule, obs)
	if err != nil {
		return domain.Decision{Outcome: domain.DecisionNoOp}, fmt.Errorf("rule %q: %w", rule.ID, err)
	}

	key := stateKey{RuleID: rule.ID, SourceID: obs.SourceID}
	s := e.shardFor(key)
	s.mu.Lock()
	state, ok := s.states[key]
	if !ok {
		state = &EvaluationState{}
		s.states[key] = state
	}
	state.LastSeen = now

	if !conditionTrue {
		state.ConditionStart = time.Time{}
		s.mu.Unlock()
		return domain.Decision{Outcome: domain.DecisionNoOp}, nil
	}

	if state.ConditionStart.IsZero() {
		state.ConditionStart = now
	}
	duration := time.Duration(rule.DurationThresholdSec) * time.Second
	if now.Sub(state.ConditionStart) < duration {
		s.mu.Unlock()
		return domain.Decision{Outcome: domain.DecisionNoOp}, nil
	}

	cooldown := time.Duration(rule.CooldownSec) * time.Second
	if cooldown > 0 && !state.LastTriggered.IsZero() && now.Sub(state.LastTriggered) < cooldown {
		s.mu.Unlock()
		return domain.Decision{Outcome: domain.DecisionSuppressed, Reason: "cooldown"}, nil
	}

	state.LastTriggered = now
	s.mu.Unlock()

	return domain.Decision{
		Outcome: domain.DecisionTrigger,
		Draft:   buildDraft(rule, obs),
	}, nil
}

// evalPredicate dispatches the type-specific condition check.
// Params: rule variant and observation.
// Returns: condition result or predicate error.
func evalPredicate(rule rules.Rule, obs domain.Observation) (bool, error) {
	switch rule.Type {
	case rules.TypeThreshold:
		if !obs.HasValue {
			return false, errors.New("threshold rule needs a numeric observation")
		}
		return rules.Compare(rule.Operator, obs.Value, rule.ThresholdValue)
	case rules.TypeCondition:
		if !obs.HasValue {
			return false, errors.New("condition rule needs a numeric observation")
		}
		return rules.EvalCondition(rule.ConditionClauses, obs.Value)
	case rules.TypePattern:
		if rule.PatternRE == nil {
			return false, errors.New("pattern is not compiled")
		}
		subject := obs.Status
		if subject == "" && obs.HasValue {
			subject = templatefmt.FormatValue(obs.Value)
		}
		return rule.PatternRE.MatchString(toLowerASCII(subject)), nil
	default:
		return false, fmt.Errorf("unsupported rule type %q", rule.Type)
	}
}

// buildDraft renders alarm texts and snapshots values for one trigger.
// Params: rule and triggering observation.
// Returns: alarm draft for the facade.
func buildDraft(rule rules.Rule, obs domain.Observation) domain.AlarmDraft {
	title := templatefmt.Render(rule.TitleTemplate, obs.Value, rule.ThresholdValue, obs.SourceID)
	if title == "" {
		title = rule.Name
	}
	return domain.AlarmDraft{
		RuleID:         rule.ID,
		Title:          title,
		Description:    templatefmt.Render(rule.DescriptionTemplate, obs.Value, rule.ThresholdValue, obs.SourceID),
		Severity:       rule.Severity,
		SourceID:       obs.SourceID,
		SourceType:     obs.SourceType,
		VesselID:       obs.VesselID,
		SourceValue:    obs.Value,
		ThresholdValue: rule.ThresholdValue,
	}
}

// ResetRule drops all evaluation state for one rule.
// Params: rule id (disabled or unregistered).
// Returns: none.
func (e *Engine) ResetRule(ruleID string) {
	for _, s := range e.shards {
		s.mu.Lock()
		for key := range s.states {
			if key.RuleID == ruleID {
				delete(s.states, key)
			}
		}
		s.mu.Unlock()
	}
}

// StateSnapshot returns one evaluation state copy.
// Params: rule and source ids.
// Returns: state copy and existence flag.
func (e *Engine) StateSnapshot(ruleID, sourceID string) (EvaluationState, bool) {
	key := stateKey{RuleID: ruleID, SourceID: sourceID}
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[key]
	if !ok {
		return EvaluationState{}, false
	}
	return *state, true
}

// Len returns the total number of tracked state entries.
// Params: none.
// Returns: state count across shards.
func (e *Engine) Len() int {
	total := 0
	for _, s := range e.shards {
		s.mu.Lock()
		total += len(s.states)
		s.mu.Unlock()
	}
	return total
}

// CompactStates evicts idle evaluation states by TTL and optional max cap.
// Entries with an accumulating condition are never evicted.
// Params: current time, idle TTL threshold, and maximum state count
// (0 disables the cap).
// Returns: number of evicted states.
func (e *Engine) CompactStates(now time.Time, idleTTL time.Duration, maxStates int) int {
	removed := 0
	if idleTTL > 0 {
		for _, s := range e.shards {
			s.mu.Lock()
			for key, state := range s.states {
				if !state.ConditionStart.IsZero() {
					continue
				}
				if state.LastSeen.IsZero() {
					continue
				}
				if now.Sub(state.LastSeen) < idleTTL {
					continue
				}
				delete(s.states, key)
				removed++
			}
			s.mu.Unlock()
		}
	}

	if maxStates <= 0 || e.Len() <= maxStates {
		return removed
	}

	type candidate struct {
		key      stateKey
		shard    *shard
		lastSeen time.Time
	}
	candidates := make([]candidate, 0)
	for _, s := range e.shards {
		s.mu.Lock()
		for key, state := range s.states {
			if !state.ConditionStart.IsZero() {
				continue
			}
			candidates = append(candidates, candidate{key: key, shard: s, lastSeen: state.LastSeen})
		}
		s.mu.Unlock()
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastSeen.Before(candidates[j].lastSeen)
	})

	need := e.Len() - maxStates
	for _, item := range candidates {
		if need <= 0 {
			break
		}
		item.shard.mu.Lock()
		if _, ok := item.shard.states[item.key]; ok {
			delete(item.shard.states, item.key)
			removed++
			need--
		}
		item.shard.mu.Unlock()
	}
	return removed
}

// toLowerASCII lowercases ASCII letters without allocation-heavy locale work.
// Params: raw status token.
// Returns: lowercased string.
func toLowerASCII(raw string) string {
	hasUpper := false
	for i := 0; i < len(raw); i++ {
		if raw[i] >= 'A' && raw[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return raw
	}
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= 'A' && c <= 'Z' {
			c += 32
		}
		out[i] = c
	}
	return string(out)
}
