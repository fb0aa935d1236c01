package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func tp(t time.Time) *time.Time { return &t }

func TestDailyDue(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	assert.True(t, DailyDue(now, nil))
	assert.True(t, DailyDue(now, tp(now.AddDate(0, 0, -1))))
	assert.False(t, DailyDue(now, tp(now.Add(-time.Hour))))
}

func TestWeeklyDue(t *testing.T) {
	// 2026-06-15 is a Monday.
	monday := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

	assert.True(t, WeeklyDue(monday, nil))
	assert.True(t, WeeklyDue(monday, tp(monday.AddDate(0, 0, -2)))) // Saturday, last week
	assert.False(t, WeeklyDue(monday.AddDate(0, 0, 3), tp(monday))) // same week
}

func TestMonthlyDue(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	assert.True(t, MonthlyDue(now, nil))
	assert.True(t, MonthlyDue(now, tp(time.Date(2026, 5, 28, 0, 0, 0, 0, time.UTC))))
	assert.False(t, MonthlyDue(now, tp(time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC))))
}

func TestQuarterlyDue(t *testing.T) {
	// Q1 ends Mar 31; with a 30 day delay the Q1 file lands about Apr 30.
	assert.True(t, QuarterlyDue(time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), nil, 30))

	lastRan := tp(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, QuarterlyDue(time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), lastRan, 30))

	// Ran after the Q1 file landed; Q2's file is not out yet in early June.
	ranInMay := tp(time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC))
	assert.False(t, QuarterlyDue(time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC), ranInMay, 30))
}

func TestLastQuarterEnd(t *testing.T) {
	assert.Equal(t,
		time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		lastQuarterEnd(time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t,
		time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		lastQuarterEnd(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t,
		time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		lastQuarterEnd(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)))
}
