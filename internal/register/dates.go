package register

import "time"

// Day constructs a UTC calendar date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ISO formats a date as YYYY-MM-DD.
func ISO(d time.Time) string {
	return d.Format(time.DateOnly)
}

// ParseISO parses a YYYY-MM-DD date into a UTC time.
func ParseISO(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, time.UTC)
}

// IsWeekday reports whether d falls on Monday through Friday.
func IsWeekday(d time.Time) bool {
	wd := d.Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// InJulyBlackout reports whether d falls in the observed July publication
// blackout: nothing is ever published in July after the 7th.
func InJulyBlackout(d time.Time) bool {
	return d.Month() == time.July && d.Day() > 7
}

// WeekdaysBetween returns every Monday-Friday date from start to end,
// inclusive on both ends.
func WeekdaysBetween(start, end time.Time) []time.Time {
	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsWeekday(d) {
			dates = append(dates, d)
		}
	}
	return dates
}

// WeekBounds returns the Monday and Friday of the ISO week containing d.
func WeekBounds(d time.Time) (time.Time, time.Time) {
	offset := (int(d.Weekday()) + 6) % 7
	monday := d.AddDate(0, 0, -offset)
	return monday, monday.AddDate(0, 0, 4)
}

// EstimateExpectedDates steps from lastKnown in cadence-day increments up
// to until, returning the expected publication midpoints. Steps landing in
// the July blackout are re-stepped: the cursor advances another cadence
// without emitting the July slot.
func EstimateExpectedDates(lastKnown, until time.Time, cadenceDays int) []time.Time {
	var expected []time.Time
	for cursor := lastKnown.AddDate(0, 0, cadenceDays); !cursor.After(until); cursor = cursor.AddDate(0, 0, cadenceDays) {
		if InJulyBlackout(cursor) {
			continue
		}
		expected = append(expected, cursor)
	}
	return expected
}

// BestGuessDates returns the Monday-Friday dates of the ISO week containing
// the expected publication date.
func BestGuessDates(expected time.Time) []time.Time {
	monday, friday := WeekBounds(expected)
	return WeekdaysBetween(monday, friday)
}

// ExhaustiveDates returns every weekday strictly between gapStart and
// gapEnd, minus the July blackout.
func ExhaustiveDates(gapStart, gapEnd time.Time) []time.Time {
	start := gapStart.AddDate(0, 0, 1)
	end := gapEnd.AddDate(0, 0, -1)
	if start.After(end) {
		return nil
	}
	var dates []time.Time
	for _, d := range WeekdaysBetween(start, end) {
		if !InJulyBlackout(d) {
			dates = append(dates, d)
		}
	}
	return dates
}

// InitialScanDates returns every weekday from January 1 of startYear through
// the earlier of December 31 of endYear and today, minus the July blackout.
// This is the bootstrap scan for a manifest with no successful records.
func InitialScanDates(startYear, endYear int, today time.Time) []time.Time {
	start := Day(startYear, time.January, 1)
	end := Day(endYear, time.December, 31)
	if end.After(today) {
		end = today
	}
	var dates []time.Time
	for _, d := range WeekdaysBetween(start, end) {
		if !InJulyBlackout(d) {
			dates = append(dates, d)
		}
	}
	return dates
}
