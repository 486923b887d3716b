package models

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sosodev/duration"
)

// TimerType selects how a timer expression is interpreted.
type TimerType string

const (
	TimerTypeDate     TimerType = "date"
	TimerTypeDuration TimerType = "duration"
	TimerTypeCycle    TimerType = "cycle"
)

var (
	ErrInvalidTimerExpression = errors.New("invalid timer expression")

	// ErrCycleExhausted is returned when a repeating timer has no further occurrences.
	ErrCycleExhausted = errors.New("timer cycle exhausted")
)

var repeatPattern = regexp.MustCompile(`^R(\d*)/(.+)$`)

// TimerDeclaration describes a timer created when a scope is entered or a catch event is reached.
type TimerDeclaration struct {
	// ActivityID is the activity handling the timer (boundary or intermediate catch event).
	ActivityID string    `json:"activity_id" validate:"required"`
	Type       TimerType `json:"type" validate:"required,oneof=date duration cycle"`
	Expression string    `json:"expression" validate:"required"`
}

// DueDate computes the first due date of the timer relative to now.
func (d *TimerDeclaration) DueDate(now time.Time) (time.Time, error) {
	switch d.Type {
	case TimerTypeDate:
		due, err := time.Parse(time.RFC3339, d.Expression)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: date %q: %w", ErrInvalidTimerExpression, d.Expression, err)
		}

		return due, nil
	case TimerTypeDuration:
		return AddDuration(now, d.Expression)
	case TimerTypeCycle:
		next, _, err := NextCycle(d.Expression, now)

		return next, err
	default:
		return time.Time{}, fmt.Errorf("%w: unknown timer type %q", ErrInvalidTimerExpression, d.Type)
	}
}

// ParseDuration accepts Go durations ("90s") and ISO-8601 durations ("PT1M30S", "P1DT2H").
// Months and years have no fixed length; AddDuration applies them on the calendar instead.
func ParseDuration(expression string) (time.Duration, error) {
	if strings.HasPrefix(expression, "P") {
		parsed, err := parseISODuration(expression)
		if err != nil {
			return 0, err
		}

		return parsed.ToTimeDuration(), nil
	}

	parsed, err := time.ParseDuration(expression)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q: %w", ErrInvalidTimerExpression, expression, err)
	}

	return parsed, nil
}

// AddDuration returns from advanced by expression. Whole ISO-8601 years, months, weeks and days
// move along the calendar the way time.AddDate does.
func AddDuration(from time.Time, expression string) (time.Time, error) {
	if !strings.HasPrefix(expression, "P") {
		parsed, err := ParseDuration(expression)
		if err != nil {
			return time.Time{}, err
		}

		return from.Add(parsed), nil
	}

	parsed, err := parseISODuration(expression)
	if err != nil {
		return time.Time{}, err
	}

	days := parsed.Weeks*7 + parsed.Days
	if !isWhole(parsed.Years) || !isWhole(parsed.Months) || !isWhole(days) {
		return from.Add(parsed.ToTimeDuration()), nil
	}

	clock := parsed.Hours*float64(time.Hour) + parsed.Minutes*float64(time.Minute) + parsed.Seconds*float64(time.Second)

	return from.AddDate(int(parsed.Years), int(parsed.Months), int(days)).Add(time.Duration(clock)), nil
}

func parseISODuration(expression string) (*duration.Duration, error) {
	if expression == "P" || expression == "PT" {
		return nil, fmt.Errorf("%w: duration %q", ErrInvalidTimerExpression, expression)
	}

	parsed, err := duration.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: duration %q: %w", ErrInvalidTimerExpression, expression, err)
	}

	if parsed.Negative {
		return nil, fmt.Errorf("%w: negative duration %q", ErrInvalidTimerExpression, expression)
	}

	return parsed, nil
}

func isWhole(value float64) bool {
	return value == math.Trunc(value)
}

// NextCycle returns the next occurrence of a cycle expression after now, together with the
// expression to store for the following occurrence. Cycles are either "R<n>/<duration>"
// (n omitted means unbounded) or a five field cron expression.
func NextCycle(expression string, now time.Time) (time.Time, string, error) {
	matches := repeatPattern.FindStringSubmatch(expression)
	if matches == nil {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

		schedule, err := parser.Parse(expression)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("%w: cycle %q: %w", ErrInvalidTimerExpression, expression, err)
		}

		return schedule.Next(now), expression, nil
	}

	next, err := AddDuration(now, matches[2])
	if err != nil {
		return time.Time{}, "", err
	}

	if matches[1] == "" {
		return next, expression, nil
	}

	remaining, err := strconv.Atoi(matches[1])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: cycle %q: %w", ErrInvalidTimerExpression, expression, err)
	}

	if remaining <= 0 {
		return time.Time{}, "", ErrCycleExhausted
	}

	return next, fmt.Sprintf("R%d/%s", remaining-1, matches[2]), nil
}
