// Package evidence turns classified observations for one archetype key into
// weighted distribution statistics, falling back to macro priors when direct
// evidence is absent or sparse.
package evidence

import (
	"math"
	"time"
)

// DecayConfig controls recency decay of evidence weights.
type DecayConfig struct {
	HalfLifeDays int     `yaml:"half_life_days" mapstructure:"half_life_days"`
	Floor        float64 `yaml:"floor" mapstructure:"floor"`
}

// DecayedWeight computes the time-decayed contribution weight of one
// observation. Formula: effective = max(floor, baseWeight * 2^(-ageDays / halfLifeDays))
func DecayedWeight(baseWeight float64, asOf time.Time, now time.Time, decay DecayConfig) float64 {
	if baseWeight <= 0 {
		return 0
	}
	if asOf.IsZero() {
		// No timestamp, use the base weight as-is (assume current).
		return baseWeight
	}

	ageDays := now.Sub(asOf).Hours() / 24
	if ageDays <= 0 {
		return baseWeight
	}

	halfLife := float64(decay.HalfLifeDays)
	if halfLife <= 0 {
		halfLife = 730 // safe default, two years
	}

	decayed := baseWeight * math.Pow(2, -ageDays/halfLife)

	if decayed < decay.Floor {
		return decay.Floor
	}
	return decayed
}

// RecencyFactor maps the age of the newest observation to [0,1] with the same
// half-life curve. A key whose freshest evidence is one half-life old scores
// 0.5; adding a newer observation can only raise it.
func RecencyFactor(newestAsOf time.Time, now time.Time, decay DecayConfig) float64 {
	return DecayedWeight(1.0, newestAsOf, now, decay)
}
