package source

import "time"

// Cadence describes how often an upstream feed publishes.
type Cadence string

const (
	Daily     Cadence = "daily"
	Weekly    Cadence = "weekly"
	Monthly   Cadence = "monthly"
	Quarterly Cadence = "quarterly"
)

// DailyDue reports whether a daily feed needs a pull.
func DailyDue(now time.Time, lastRun *time.Time) bool {
	if lastRun == nil {
		return true
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return lastRun.Before(today)
}

// WeeklyDue reports whether a weekly feed needs a pull. Weeks start Monday.
func WeeklyDue(now time.Time, lastRun *time.Time) bool {
	if lastRun == nil {
		return true
	}
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	weekStart := time.Date(now.Year(), now.Month(), now.Day()-(weekday-1), 0, 0, 0, 0, time.UTC)
	return lastRun.Before(weekStart)
}

// MonthlyDue reports whether a monthly feed needs a pull.
func MonthlyDue(now time.Time, lastRun *time.Time) bool {
	if lastRun == nil {
		return true
	}
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return lastRun.Before(thisMonth)
}

// QuarterlyDue reports whether a quarterly feed needs a pull, allowing for a
// publication delay after quarter end. Visa disclosures post weeks late.
func QuarterlyDue(now time.Time, lastRun *time.Time, delayDays int) bool {
	if lastRun == nil {
		return true
	}
	qEnd := lastQuarterEnd(now)
	available := qEnd.AddDate(0, 0, delayDays)
	if now.Before(available) {
		qEnd = lastQuarterEnd(qEnd.AddDate(0, 0, -1))
		available = qEnd.AddDate(0, 0, delayDays)
		if now.Before(available) {
			return false
		}
	}
	return lastRun.Before(available)
}

// lastQuarterEnd returns the most recent calendar quarter end at or before t.
func lastQuarterEnd(t time.Time) time.Time {
	year := t.Year()
	ends := []time.Time{
		time.Date(year, 3, 31, 0, 0, 0, 0, time.UTC),
		time.Date(year, 6, 30, 0, 0, 0, 0, time.UTC),
		time.Date(year, 9, 30, 0, 0, 0, 0, time.UTC),
		time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	for i := len(ends) - 1; i >= 0; i-- {
		if !t.Before(ends[i]) {
			return ends[i]
		}
	}
	return time.Date(year-1, 12, 31, 0, 0, 0, 0, time.UTC)
}
