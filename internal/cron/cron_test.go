package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParse_Errors(t *testing.T) {
	testCases := map[string]string{
		"too few fields":      "* * * *",
		"minute out of range": "60 * * * *",
		"bad step":            "*/0 * * * *",
		"reversed range":      "* 5-1 * * *",
		"not a number":        "* * * jan *",
		"empty list item":     "1,,2 * * * *",
	}
	for name, expr := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(expr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), expr)
		})
	}
}

func TestSchedule_Matches(t *testing.T) {
	testCases := []struct {
		name  string
		expr  string
		time  string
		match bool
	}{
		{"every minute", "* * * * *", "2025-03-04 11:17", true},
		{"nightly hit", "0 3 * * *", "2025-03-04 03:00", true},
		{"nightly miss", "0 3 * * *", "2025-03-04 03:01", false},
		{"step hit", "*/15 * * * *", "2025-03-04 10:45", true},
		{"step miss", "*/15 * * * *", "2025-03-04 10:46", false},
		{"list", "5,10 * * * *", "2025-03-04 10:10", true},
		{"range with step", "0 8-18/2 * * *", "2025-03-04 14:00", true},
		{"range with step miss", "0 8-18/2 * * *", "2025-03-04 15:00", false},
		{"weekday", "0 0 * * 1-5", "2025-03-08 00:00", false}, // Saturday
		{"sunday as seven", "0 0 * * 7", "2025-03-09 00:00", true},
		// Both day fields restricted: either one matching is enough.
		{"dom or dow", "0 0 1 * 1", "2025-03-03 00:00", true},
		{"month", "0 0 1 6 *", "2025-03-01 00:00", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Parse(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.match, s.Matches(at(tc.time)))
		})
	}
}
