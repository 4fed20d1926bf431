package rules

import "github.com/joshsymonds/gmailtriage/internal/model"

// Matcher decides which rules of a rule-set fire for an email.
type Matcher struct {
	Eval Evaluator
}

// NewMatcher returns a Matcher backed by eval.
func NewMatcher(eval Evaluator) Matcher {
	return Matcher{Eval: eval}
}

// Matches reports whether rule fires for email under combinator: All needs
// every condition to hold, Any needs at least one.
func (m Matcher) Matches(email model.Email, combinator Combinator, rule Rule) bool {
	switch combinator {
	case All:
		for _, c := range rule.Conditions {
			if !m.Eval.Evaluate(email, c) {
				return false
			}
		}
		return true
	case Any:
		for _, c := range rule.Conditions {
			if m.Eval.Evaluate(email, c) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Fire returns the rules of rs that fire for email, in declaration order.
// The rule-set predicate combines conditions inside each rule; Validate keeps
// rule-sets to a single rule, so how the predicate would combine several
// rules is left undecided.
func (m Matcher) Fire(email model.Email, rs RuleSet) []Rule {
	var fired []Rule
	for _, rule := range rs.Rules {
		if m.Matches(email, rs.Predicate, rule) {
			fired = append(fired, rule)
		}
	}
	return fired
}
