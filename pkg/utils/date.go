// Package utils holds small time helpers shared across services: loading
// a user's IANA timezone and checking whether "now" in that zone falls
// inside a quiet-hours window, including the overnight case where the
// window wraps past midnight.
package utils

import (
	"fmt"
	"time"

	"github.com/forwardfactor/scanner/internal/domain"
)

// UserNow returns the current instant in the named IANA zone. An unknown
// zone name is the caller's bug, not a recoverable condition here, so the
// error is returned rather than silently falling back to UTC.
func UserNow(timezone string, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("utils: load location %q: %w", timezone, err)
	}
	return now.In(loc), nil
}

// InQuietHours reports whether now (already converted to the user's zone)
// falls inside the user's quiet-hours window. A disabled window, or a
// malformed clock string, is treated as "not quiet" rather than erroring —
// a misconfigured window must never silently swallow every notification.
func InQuietHours(qh domain.QuietHours, localNow time.Time) bool {
	if !qh.Enabled {
		return false
	}
	start, ok := parseClock(qh.Start)
	if !ok {
		return false
	}
	end, ok := parseClock(qh.End)
	if !ok {
		return false
	}

	now := clockMinutes(localNow)
	if start == end {
		// A zero-width window never suppresses anything.
		return false
	}
	if start < end {
		return now >= start && now < end
	}
	// Overnight window, e.g. 22:00-08:00.
	return now >= start || now < end
}

func clockMinutes(t time.Time) int { return t.Hour()*60 + t.Minute() }

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return clockMinutes(t), true
}
