// Package cron parses five-field cron expressions and matches them against
// wall-clock times at minute resolution.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type field struct {
	name     string
	min, max int
}

var fields = [5]field{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day of month", 1, 31},
	{"month", 1, 12},
	{"day of week", 0, 7},
}

// Schedule is a parsed cron expression.
type Schedule struct {
	expr string
	sets [5]uint64
	// domStar and dowStar record unrestricted day fields, which changes how
	// the two day fields combine.
	domStar, dowStar bool
}

// Parse parses a standard five-field expression: minute, hour, day of month,
// month and day of week. Each field accepts `*`, numbers, ranges `a-b`, steps
// `*/n` or `a-b/n`, and comma-separated lists of those. Day of week 7 is
// Sunday, same as 0.
func Parse(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(parts))
	}

	s := &Schedule{expr: expr}
	for i, part := range parts {
		set, err := parseField(part, fields[i])
		if err != nil {
			return nil, fmt.Errorf("cron %q: %w", expr, err)
		}
		s.sets[i] = set
	}
	if s.sets[4]&(1<<7) != 0 {
		s.sets[4] |= 1
	}
	s.domStar = strings.HasPrefix(parts[2], "*")
	s.dowStar = strings.HasPrefix(parts[4], "*")
	return s, nil
}

// Matches reports whether t falls in a minute selected by the schedule.
func (s *Schedule) Matches(t time.Time) bool {
	if !s.has(0, t.Minute()) || !s.has(1, t.Hour()) || !s.has(3, int(t.Month())) {
		return false
	}
	dom := s.has(2, t.Day())
	dow := s.has(4, int(t.Weekday()))
	if s.domStar || s.dowStar {
		return dom && dow
	}
	return dom || dow
}

func (s *Schedule) String() string { return s.expr }

func (s *Schedule) has(i, v int) bool { return s.sets[i]&(1<<uint(v)) != 0 }

func parseField(raw string, f field) (uint64, error) {
	var set uint64
	for _, item := range strings.Split(raw, ",") {
		if item == "" {
			return 0, fmt.Errorf("%s: empty list item", f.name)
		}

		rangePart, stepPart, hasStep := strings.Cut(item, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepPart)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("%s: invalid step %q", f.name, stepPart)
			}
			step = n
		}

		lo, hi := f.min, f.max
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err error
			if lo, err = parseValue(a, f); err != nil {
				return 0, err
			}
			if hi, err = parseValue(b, f); err != nil {
				return 0, err
			}
			if lo > hi {
				return 0, fmt.Errorf("%s: range %q is reversed", f.name, rangePart)
			}
		default:
			v, err := parseValue(rangePart, f)
			if err != nil {
				return 0, err
			}
			lo = v
			if hasStep {
				hi = f.max
			} else {
				hi = v
			}
		}

		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func parseValue(raw string, f field) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", f.name, raw)
	}
	if v < f.min || v > f.max {
		return 0, fmt.Errorf("%s: %d out of range [%d, %d]", f.name, v, f.min, f.max)
	}
	return v, nil
}
