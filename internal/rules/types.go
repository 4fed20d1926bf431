// Package rules validates rule-set payloads and evaluates them against cached
// email records.
package rules

import "strconv"

// Combinator joins the conditions of a rule.
type Combinator string

const (
	All Combinator = "All"
	Any Combinator = "Any"
)

// Field names the email attribute a condition inspects.
type Field string

const (
	FieldFrom    Field = "from"
	FieldSubject Field = "subject"
	FieldBody    Field = "body"
	FieldMessage Field = "message"
	FieldDate    Field = "date"
)

// Predicate is the comparison a condition applies.
type Predicate string

const (
	Contains       Predicate = "contains"
	DoesNotContain Predicate = "does_not_contain"
	Equals         Predicate = "equals"
	DoesNotEqual   Predicate = "does_not_equal"
	LessThan       Predicate = "less_than"
	GreaterThan    Predicate = "greater_than"
)

// Unit is the granularity of a date condition.
type Unit string

const (
	Days   Unit = "days"
	Months Unit = "months"
)

// Action is a mailbox mutation requested by a rule.
type Action string

const (
	MarkAsRead   Action = "mark_as_read"
	MarkAsUnread Action = "mark_as_unread"
	MoveMessage  Action = "move_message"
)

// Value is the right-hand side of a condition: a string for text fields, an
// integer for date fields.
type Value struct {
	Str   string
	Int   int64
	IsInt bool
}

// StringValue wraps s.
func StringValue(s string) Value { return Value{Str: s} }

// IntValue wraps n.
func IntValue(n int64) Value { return Value{Int: n, IsInt: true} }

// String renders the value the way it is compared against text fields.
func (v Value) String() string {
	if v.IsInt {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Str
}

// Integer returns the value as an integer. String values are parsed; ok is
// false when they are not numeric.
func (v Value) Integer() (int64, bool) {
	if v.IsInt {
		return v.Int, true
	}
	n, err := strconv.ParseInt(v.Str, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Condition is a single field/predicate/value test. Units is only set for
// date conditions.
type Condition struct {
	Field     Field
	Predicate Predicate
	Value     Value
	Units     Unit
}

// Rule fires its Actions, in order, when its Conditions hold.
type Rule struct {
	Conditions []Condition
	Actions    []Action
}

// RuleSet is a validated request payload. Rules is list-shaped but Validate
// currently admits at most one rule.
type RuleSet struct {
	Predicate Combinator
	Rules     []Rule
}
