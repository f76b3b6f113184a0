package approval

import (
	"time"
)

// =============================================================================
// CALENDAR DAYS - Effective dates are compared by day, not by instant
// =============================================================================

// Clock returns the evaluation instant. Tests pin it; production uses time.Now.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// Date builds a UTC midnight, the form effective dates are stored in.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// OnOrBeforeDay reports whether day's calendar date is on or before asOf's.
// day is read as stored (effective dates are UTC midnights); asOf is read in
// its own location.
func OnOrBeforeDay(day, asOf time.Time) bool {
	dy, dm, dd := day.Date()
	ay, am, ad := asOf.Date()
	return !time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC).After(time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC))
}

// DaysBetween counts elapsed days from -> to, truncated, never negative.
func DaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}
