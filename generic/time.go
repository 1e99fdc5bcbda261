package generic

import (
	"time"
)

// =============================================================================
// CLOCK - Injected "now" so services stay deterministic in tests
// =============================================================================

type Clock func() time.Time

// SystemClock returns the current UTC time.
func SystemClock() time.Time { return time.Now().UTC() }

// FixedClock always returns t.
func FixedClock(t time.Time) Clock { return func() time.Time { return t } }

// =============================================================================
// DATE HELPERS - Dates are UTC midnights
// =============================================================================

func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

func StartOfMonth(year int, month time.Month) time.Time {
	return Date(year, month, 1)
}

func EndOfMonth(year int, month time.Month) time.Time {
	return StartOfMonth(year, month).AddDate(0, 1, -1)
}

// InWindow reports whether day falls in [from, to]; a nil to is open-ended.
func InWindow(day, from time.Time, to *time.Time) bool {
	d := DateOf(day)
	if d.Before(DateOf(from)) {
		return false
	}
	return to == nil || !d.After(DateOf(*to))
}

// YearsBetween returns the number of whole years from start to at.
func YearsBetween(start, at time.Time) int {
	if at.Before(start) {
		return 0
	}
	years := at.Year() - start.Year()
	anniversary := start.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
	}
	return years
}

const DateLayout = "2006-01-02"

func FormatDate(t time.Time) string { return t.Format(DateLayout) }

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, Validationf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return t, nil
}
