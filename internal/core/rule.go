package core

import "context"

// Rule is a named, weighted detection unit. Implementations receive a
// normalized snapshot and return a structured result; they never mutate
// the snapshot. Any I/O a rule needs (version history, tarball contents)
// happens through its own collaborators during Evaluate.
type Rule interface {
	// Name identifies the rule; the rule set deduplicates on it.
	Name() string

	// Weight is the maximum deduction (or bonus) this rule may apply.
	Weight() float64

	// Enabled reports whether the rule participates in scoring.
	Enabled() bool

	// Evaluate runs the rule against one snapshot. A returned error is
	// captured by the calculator as an error-level zero-impact result;
	// it never aborts scoring.
	Evaluate(ctx context.Context, snap *PackageSnapshot) (*RuleResult, error)
}

// RuleSet holds active rules, deduplicated by name, in insertion order.
// Registration happens once during pipeline setup, before evaluation
// begins, so no locking is needed.
type RuleSet struct {
	order []string
	rules map[string]Rule
}

// NewRuleSet creates an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{rules: make(map[string]Rule)}
}

// Register adds a rule keyed by its name. A later registration with the
// same name silently replaces the earlier one and keeps its slot in the
// order, so reconfiguring a rule never duplicates its evaluation.
func (s *RuleSet) Register(r Rule) {
	name := r.Name()
	if _, exists := s.rules[name]; !exists {
		s.order = append(s.order, name)
	}
	s.rules[name] = r
}

// ActiveRules returns enabled rules in registration order.
func (s *RuleSet) ActiveRules() []Rule {
	active := make([]Rule, 0, len(s.order))
	for _, name := range s.order {
		if r := s.rules[name]; r.Enabled() {
			active = append(active, r)
		}
	}
	return active
}

// Rules returns all registered rules in registration order, including
// disabled ones.
func (s *RuleSet) Rules() []Rule {
	all := make([]Rule, 0, len(s.order))
	for _, name := range s.order {
		all = append(all, s.rules[name])
	}
	return all
}

// Len returns the number of registered rules.
func (s *RuleSet) Len() int {
	return len(s.order)
}
