package billing

import "time"

// DateLayout is the calendar date format used on the wire and in messages.
const DateLayout = "2006-01-02"

// DateOf truncates t to its calendar date, returned as UTC midnight.
// The calendar date is taken in t's own location.
func DateOf(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days in [from, to).
func DaysBetween(from, to time.Time) int {
	from, to = DateOf(from), DateOf(to)
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}

// MonthStart returns the first day of the given month.
func MonthStart(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// MonthBounds returns [start, end) of the given month.
func MonthBounds(year int, month time.Month) (time.Time, time.Time) {
	start := MonthStart(year, month)
	return start, start.AddDate(0, 1, 0)
}

// ValidatePeriod checks a statement year/month.
func ValidatePeriod(year int, month time.Month) error {
	if year < 2000 || year > 9999 || month < time.January || month > time.December {
		return ErrInvalidPeriod
	}
	return nil
}

// MonthCuts returns the first-of-month dates strictly inside (from, to).
func MonthCuts(from, to time.Time) []time.Time {
	from, to = DateOf(from), DateOf(to)
	var cuts []time.Time
	next := MonthStart(from.Year(), from.Month()).AddDate(0, 1, 0)
	for next.Before(to) {
		cuts = append(cuts, next)
		next = next.AddDate(0, 1, 0)
	}
	return cuts
}

// PreviousMonth returns the year/month before the month containing t.
func PreviousMonth(t time.Time) (int, time.Month) {
	prev := MonthStart(t.Year(), t.Month()).AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}
