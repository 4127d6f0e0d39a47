package rules

import (
	"sync"
)

// StateResetter clears evaluator runtime state for one rule.
// Params: rule id whose per-source state must be dropped.
// Returns: none.
type StateResetter interface {
	ResetRule(ruleID string)
}

// Registry holds rule definitions and resolves rules per source.
// Params: id-keyed rule map plus insertion order for deterministic lookups.
// Returns: concurrent-safe rule registry.
type Registry struct {
	mu       sync.RWMutex
	rules    map[string]*Rule
	order    []string
	resetter StateResetter
}

// NewRegistry creates an empty rule registry.
// Params: optional evaluator state resetter (nil disables state resets).
// Returns: initialized registry.
func NewRegistry(resetter StateResetter) *Registry {
	return &Registry{
		rules:    make(map[string]*Rule),
		resetter: resetter,
	}
}

// Register validates and stores one rule, overwriting by id.
// Params: rule definition.
// Returns: ErrInvalidRule-wrapped error on validation failure; a rejected
// rule is never partially applied.
func (r *Registry) Register(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.rules[rule.ID]; !exists {
		r.order = append(r.order, rule.ID)
	}
	r.rules[rule.ID] = &rule
	r.mu.Unlock()
	return nil
}

// Unregister removes one rule and resets its evaluation state.
// Params: rule id.
// Returns: none; absent id is a no-op.
func (r *Registry) Unregister(ruleID string) {
	r.mu.Lock()
	_, exists := r.rules[ruleID]
	if exists {
		delete(r.rules, ruleID)
		for i, id := range r.order {
			if id == ruleID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if exists && r.resetter != nil {
		r.resetter.ResetRule(ruleID)
	}
}

// SetEnabled flips the enabled flag for one rule.
// Params: rule id and target flag.
// Returns: true when rule exists; disabling resets evaluation state.
func (r *Registry) SetEnabled(ruleID string, enabled bool) bool {
	r.mu.Lock()
	rule, exists := r.rules[ruleID]
	wasEnabled := false
	if exists {
		wasEnabled = rule.Enabled
		rule.Enabled = enabled
	}
	r.mu.Unlock()

	if exists && wasEnabled && !enabled && r.resetter != nil {
		r.resetter.ResetRule(ruleID)
	}
	return exists
}

// Rule returns one rule definition by id.
// Params: rule id.
// Returns: rule copy and existence flag.
func (r *Registry) Rule(ruleID string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[ruleID]
	if !ok {
		return Rule{}, false
	}
	return *rule, true
}

// RulesFor resolves enabled rules applicable to one source.
// Params: source type and source id.
// Returns: matching rules in registration order for reproducible side effects.
func (r *Registry) RulesFor(sourceType, sourceID string) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]Rule, 0)
	for _, id := range r.order {
		rule := r.rules[id]
		if !rule.Enabled {
			continue
		}
		if !rule.MatchesSource(sourceType, sourceID) {
			continue
		}
		matched = append(matched, *rule)
	}
	return matched
}

// Len returns the number of registered rules.
// Params: none.
// Returns: registry size including disabled rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
