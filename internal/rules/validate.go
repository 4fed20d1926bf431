package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxRules is the number of rules a single request may carry.
const MaxRules = 1

// ErrInvalid is wrapped by every *ValidationError.
var ErrInvalid = errors.New("invalid rule set")

// ValidationError carries the human readable reason a payload was rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalid }

const (
	msgPredicate     = "Invalid predicate value. Must be 'All' or 'Any'."
	msgRuleCount     = "Invalid rules in the Request. Please add only 1 set of rules."
	msgNoConditions  = "Conditions cannot be empty."
	msgNoActions     = "Actions cannot be empty."
	msgDateInteger   = "Date field value must be an integer."
	msgDateUnits     = "Date conditions must include 'units' with value 'days' or 'months'."
	msgFromAddress   = "The 'from' field must be a valid email address or a string."
	msgUnexpectedDoc = "Validation Exception"
)

var (
	allowedFields    = []Field{FieldFrom, FieldSubject, FieldMessage, FieldDate}
	stringPredicates = []Predicate{Contains, DoesNotContain, Equals, DoesNotEqual}
	datePredicates   = []Predicate{LessThan, GreaterThan}
	allowedActions   = []Action{MarkAsRead, MarkAsUnread, MoveMessage}
	allowedUnits     = []Unit{Days, Months}
)

// errShape marks payloads whose structure cannot be walked at all. It is
// reported as the generic validation failure.
var errShape = errors.New("unexpected payload shape")

// Validate checks a raw JSON rule-set and returns its typed form. Checks run in
// a fixed order and the first violation is returned as a *ValidationError.
func Validate(raw []byte) (rs RuleSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			rs, err = RuleSet{}, reject(msgUnexpectedDoc)
		}
	}()

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if decodeErr := dec.Decode(&doc); decodeErr != nil {
		return RuleSet{}, reject(msgUnexpectedDoc)
	}
	if _, trailing := dec.Token(); !errors.Is(trailing, io.EOF) {
		return RuleSet{}, reject(msgUnexpectedDoc)
	}
	rs, err = validateDocument(doc)
	if errors.Is(err, errShape) {
		return RuleSet{}, reject(msgUnexpectedDoc)
	}
	return rs, err
}

func reject(format string, args ...any) *ValidationError {
	if len(args) == 0 {
		return &ValidationError{Message: format}
	}
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func validateDocument(doc any) (RuleSet, error) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return RuleSet{}, errShape
	}

	pred, _ := obj["predicate"].(string)
	if Combinator(pred) != All && Combinator(pred) != Any {
		return RuleSet{}, reject(msgPredicate)
	}

	rawRules, err := listField(obj, "rules")
	if err != nil {
		return RuleSet{}, err
	}
	if len(rawRules) > MaxRules {
		return RuleSet{}, reject(msgRuleCount)
	}

	rs := RuleSet{Predicate: Combinator(pred), Rules: make([]Rule, 0, len(rawRules))}
	for _, item := range rawRules {
		rule, err := validateRule(item)
		if err != nil {
			return RuleSet{}, err
		}
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

func validateRule(item any) (Rule, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return Rule{}, errShape
	}
	// Emptiness is judged before shape so an empty conditions value wins over
	// a malformed actions value.
	if falsy(obj["conditions"]) {
		return Rule{}, reject(msgNoConditions)
	}
	if falsy(obj["actions"]) {
		return Rule{}, reject(msgNoActions)
	}
	conds, err := listField(obj, "conditions")
	if err != nil {
		return Rule{}, err
	}
	acts, err := listField(obj, "actions")
	if err != nil {
		return Rule{}, err
	}

	rule := Rule{
		Conditions: make([]Condition, 0, len(conds)),
		Actions:    make([]Action, 0, len(acts)),
	}
	for _, c := range conds {
		cond, err := validateCondition(c)
		if err != nil {
			return Rule{}, err
		}
		rule.Conditions = append(rule.Conditions, cond)
	}
	for _, a := range acts {
		name, _ := a.(string)
		if !contains(allowedActions, Action(name)) {
			return Rule{}, reject("Invalid action: %s. Must be one of %s.", display(a), join(allowedActions))
		}
		rule.Actions = append(rule.Actions, Action(name))
	}
	return rule, nil
}

func validateCondition(item any) (Condition, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return Condition{}, errShape
	}
	rawField := obj["field"]
	fieldName, _ := rawField.(string)
	field := Field(fieldName)
	if !contains(allowedFields, field) {
		return Condition{}, reject("Invalid field: %s. Must be one of %s.", display(rawField), join(allowedFields))
	}

	rawPred := obj["predicate"]
	if falsy(rawPred) {
		return Condition{}, reject("Predicate cannot be empty for field %s.", field)
	}
	predName, _ := rawPred.(string)
	pred := Predicate(predName)

	// 0, false and "" are legitimate values; only absence and null are not.
	value, present := obj["value"]
	if !present || value == nil {
		return Condition{}, reject("Value cannot be empty for field %s.", field)
	}

	cond := Condition{Field: field, Predicate: pred}
	switch field {
	case FieldDate:
		if !contains(datePredicates, pred) {
			return Condition{}, reject("Invalid predicate for date field: %s. Must be one of %s.", display(rawPred), join(datePredicates))
		}
		n, ok := integer(value)
		if !ok {
			return Condition{}, reject(msgDateInteger)
		}
		units, _ := obj["units"].(string)
		if !contains(allowedUnits, Unit(units)) {
			return Condition{}, reject(msgDateUnits)
		}
		cond.Value = IntValue(n)
		cond.Units = Unit(units)
	case FieldFrom:
		if !contains(stringPredicates, pred) {
			return Condition{}, reject("Invalid predicate for field %s: %s. Must be one of %s.", field, display(rawPred), join(stringPredicates))
		}
		s, ok := value.(string)
		if !ok || !IsValidEmail(s) {
			return Condition{}, reject(msgFromAddress)
		}
		cond.Value = StringValue(s)
	default:
		if !contains(stringPredicates, pred) {
			return Condition{}, reject("Invalid predicate for field %s: %s. Must be one of %s.", field, display(rawPred), join(stringPredicates))
		}
		s, ok := value.(string)
		if !ok {
			return Condition{}, reject("The value for field %s must be a string.", field)
		}
		cond.Value = StringValue(s)
	}
	return cond, nil
}

// listField returns obj[key] as a list. A missing key or null is an empty
// list; any other non-list value cannot be walked.
func listField(obj map[string]any, key string) ([]any, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errShape
	}
	return list, nil
}

// integer accepts JSON integers only; 1.0, "1" and booleans are rejected.
func integer(v any) (int64, bool) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func falsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func display(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func join[T ~string](set []T) string {
	parts := make([]string, len(set))
	for i, s := range set {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
