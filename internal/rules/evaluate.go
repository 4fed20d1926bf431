package rules

import (
	"strings"
	"time"

	"github.com/joshsymonds/gmailtriage/internal/model"
)

// Evaluator tests single conditions against an email. Clock supplies "now"
// for date conditions.
type Evaluator struct {
	Clock func() time.Time
}

// NewEvaluator returns an Evaluator using clock, or time.Now when clock is nil.
func NewEvaluator(clock func() time.Time) Evaluator {
	if clock == nil {
		clock = time.Now
	}
	return Evaluator{Clock: clock}
}

// Evaluate reports whether email satisfies c. It assumes c passed Validate.
func (e Evaluator) Evaluate(email model.Email, c Condition) bool {
	if c.Field == FieldDate {
		return e.evaluateDate(email, c)
	}
	return compareText(textField(email, c.Field), c.Predicate, c.Value.String())
}

func (e Evaluator) evaluateDate(email model.Email, c Condition) bool {
	want, ok := c.Value.Integer()
	if !ok {
		return false
	}
	now := e.now()
	sent := email.Date(now.Location())
	var elapsed int64
	switch c.Units {
	case Days:
		elapsed = int64(ElapsedDays(sent, now))
	case Months:
		elapsed = int64(ElapsedMonths(sent, now))
	default:
		return false
	}
	switch c.Predicate {
	case LessThan:
		return elapsed < want
	case GreaterThan:
		return elapsed > want
	case Equals:
		return elapsed == want
	case DoesNotEqual:
		return elapsed != want
	default:
		return false
	}
}

func (e Evaluator) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock()
}

func textField(email model.Email, f Field) string {
	switch f {
	case FieldFrom:
		return email.From
	case FieldSubject:
		return email.Subject
	case FieldBody, FieldMessage:
		return email.Body
	default:
		return ""
	}
}

func compareText(got string, p Predicate, want string) bool {
	switch p {
	case Contains:
		return strings.Contains(got, want)
	case DoesNotContain:
		return !strings.Contains(got, want)
	case Equals:
		return got == want
	case DoesNotEqual:
		return got != want
	case LessThan:
		return got < want
	case GreaterThan:
		return got > want
	default:
		return false
	}
}

// ElapsedDays returns the number of whole days from from to to, compared as
// wall-clock times. Negative when to is earlier.
func ElapsedDays(from, to time.Time) int {
	return int(wallClock(to).Sub(wallClock(from)) / (24 * time.Hour))
}

// ElapsedMonths returns the number of whole calendar months from from to to.
// A month has elapsed once the same day-of-month and time is reached, with
// the day clamped to the length of shorter months (Jan 31 + 1 month is the
// last day of February).
func ElapsedMonths(from, to time.Time) int {
	f, t := wallClock(from), wallClock(to)
	sign := 1
	if t.Before(f) {
		f, t = t, f
		sign = -1
	}
	months := (t.Year()-f.Year())*12 + int(t.Month()) - int(f.Month())
	if months > 0 && addMonths(f, months).After(t) {
		months--
	}
	return sign * months
}

func wallClock(t time.Time) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m, d, hh, mm, ss, t.Nanosecond(), time.UTC)
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), time.UTC)
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
