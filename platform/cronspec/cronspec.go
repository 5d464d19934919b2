// Package cronspec parses calendar-style schedule expressions.
// This is part of the platform layer and contains no business logic.
package cronspec

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Five-field (minute first) and six-field (seconds first) expressions are
// both accepted, as are descriptors such as @daily and @every 1h.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parser returns the shared parser so timers and validation agree on syntax.
func Parser() cron.Parser {
	return parser
}

// Parse validates expr and returns its schedule.
func Parse(expr string) (cron.Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("schedule expression is empty")
	}
	schedule, err := parser.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule expression %q: %w", expr, err)
	}
	return schedule, nil
}

// Next returns the first activation strictly after from, evaluated in loc.
func Next(expr string, from time.Time, loc *time.Location) (time.Time, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return schedule.Next(from.In(loc)), nil
}
