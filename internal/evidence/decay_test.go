package evidence

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecayedWeight_Current(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLifeDays: 730, Floor: 0.05}

	// Evidence from today, no decay.
	got := DecayedWeight(0.9, now, now, decay)
	assert.Equal(t, 0.9, got)
}

func TestDecayedWeight_HalfLife(t *testing.T) {
	now := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	twoYearsAgo := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLifeDays: 730, Floor: 0.05}

	// Evidence exactly one half-life old, weight halved.
	got := DecayedWeight(0.8, twoYearsAgo, now, decay)
	assert.InDelta(t, 0.4, got, 0.02)
}

func TestDecayedWeight_Floor(t *testing.T) {
	now := time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC)
	ancient := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLifeDays: 730, Floor: 0.05}

	got := DecayedWeight(0.9, ancient, now, decay)
	assert.Equal(t, 0.05, got)
}

func TestDecayedWeight_NonPositiveBase(t *testing.T) {
	now := time.Now()
	decay := DecayConfig{HalfLifeDays: 730, Floor: 0.05}

	assert.Equal(t, 0.0, DecayedWeight(0, now, now, decay))
	assert.Equal(t, 0.0, DecayedWeight(-0.5, now, now, decay))
}

func TestDecayedWeight_ZeroAsOf(t *testing.T) {
	now := time.Now()
	decay := DecayConfig{HalfLifeDays: 730, Floor: 0.05}

	// Zero time means "assume current", no decay.
	got := DecayedWeight(0.8, time.Time{}, now, decay)
	assert.Equal(t, 0.8, got)
}

func TestDecayedWeight_FutureAsOf(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLifeDays: 730, Floor: 0.05}

	got := DecayedWeight(0.8, future, now, decay)
	assert.Equal(t, 0.8, got)
}

func TestDecayedWeight_ZeroHalfLifeDefaults(t *testing.T) {
	now := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	twoYearsAgo := now.AddDate(0, 0, -730)
	decay := DecayConfig{HalfLifeDays: 0, Floor: 0.05}

	// Defaults to the two-year half-life.
	got := DecayedWeight(0.8, twoYearsAgo, now, decay)
	assert.InDelta(t, 0.4, got, 0.02)
}

func TestDecayedWeight_Curve(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLifeDays: 365, Floor: 0.05}

	tests := []struct {
		name       string
		daysBefore int
		base       float64
		expected   float64
	}{
		{"30d", 30, 0.8, 0.8 * math.Pow(2, -30.0/365)},
		{"180d", 180, 0.8, 0.8 * math.Pow(2, -180.0/365)},
		{"365d", 365, 0.8, 0.4},
		{"730d", 730, 0.8, 0.2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			asOf := now.AddDate(0, 0, -tc.daysBefore)
			got := DecayedWeight(tc.base, asOf, now, decay)
			expected := tc.expected
			if expected < decay.Floor {
				expected = decay.Floor
			}
			assert.InDelta(t, expected, got, 0.02)
		})
	}
}

func TestRecencyFactor_Monotone(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLifeDays: 730, Floor: 0.05}

	// Newer evidence never scores lower than older evidence.
	prev := 2.0
	for _, days := range []int{0, 30, 180, 365, 730, 1460, 3650} {
		got := RecencyFactor(now.AddDate(0, 0, -days), now, decay)
		assert.LessOrEqual(t, got, prev, "age %d days", days)
		assert.Greater(t, got, 0.0)
		prev = got
	}

	// One half-life old scores 0.5.
	assert.InDelta(t, 0.5, RecencyFactor(now.AddDate(0, 0, -730), now, decay), 0.01)
}
