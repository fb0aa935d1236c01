// Package confidence computes the explainable composite confidence attached
// to every archetype. The composite is a validated weighted sum of five
// auditable components; the breakdown is persisted alongside the score so a
// consumer can always see why a number is what it is.
package confidence

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/jobsignal/archetype-cli/internal/config"
	"github.com/jobsignal/archetype-cli/internal/evidence"
	"github.com/jobsignal/archetype-cli/internal/model"
)

// Scorer combines aggregate evidence into a composite confidence.
type Scorer struct {
	cfg config.ConfidenceConfig
}

// NewScorer validates the config and returns a scorer.
func NewScorer(cfg config.ConfidenceConfig) (*Scorer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// WeightSum returns the sum of the five component weights.
func WeightSum(c config.ConfidenceConfig) float64 {
	return c.SourceWeight + c.VolumeWeight + c.AgreementWeight +
		c.RecencyWeight + c.MappingWeight
}

// ValidateConfig checks that a ConfidenceConfig is internally consistent.
func ValidateConfig(c config.ConfidenceConfig) error {
	var errs []string

	weights := map[string]float64{
		"source_weight":    c.SourceWeight,
		"volume_weight":    c.VolumeWeight,
		"agreement_weight": c.AgreementWeight,
		"recency_weight":   c.RecencyWeight,
		"mapping_weight":   c.MappingWeight,
	}
	for name, w := range weights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	sum := WeightSum(c)
	if sum <= 0 {
		errs = append(errs, "weight sum must be > 0")
	}
	if math.Abs(sum-1) > 0.01 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.3f", sum))
	}

	if c.VolumeK <= 0 {
		errs = append(errs, "volume_k must be > 0")
	}
	if c.PriorCeiling <= 0 || c.PriorCeiling > 1 {
		errs = append(errs, "prior_ceiling must be in (0,1]")
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		errs = append(errs, "review_threshold must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("confidence: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// VolumeFactor maps an observation count to [0,1) with a saturating curve
// 1-e^(-k*n): each additional observation helps, with diminishing returns,
// and never hurts.
func (s *Scorer) VolumeFactor(n int) float64 {
	if n <= 0 {
		return 0
	}
	return 1 - math.Exp(-s.cfg.VolumeK*float64(n))
}

// AgreementFactor maps the dispersion of salary evidence to [0,1]:
// 1/(1+cv). Perfectly agreeing sources score 1; wildly conflicting evidence
// drives the factor down, surfacing InconsistentEvidence without failing.
func AgreementFactor(cv float64) float64 {
	if cv < 0 {
		cv = 0
	}
	return 1 / (1 + cv)
}

// Score computes the composite confidence and its component breakdown for a
// per-key aggregate.
//
// Component semantics:
//   - source_weight: the best contributing tier's base weight, so adding a
//     weaker corroborating source never lowers the score
//   - volume_factor: saturating in observation count
//   - agreement_factor: dispersion of salary evidence, 1 when none exists
//   - recency_factor: decay curve applied to the newest as-of date
//   - mapping_confidence: mean title-mapping confidence
//
// Prior-only aggregates are capped at the configured ceiling; fused records
// carry direct evidence and may exceed it.
func (s *Scorer) Score(agg *evidence.Aggregate, decay evidence.DecayConfig, now time.Time) (float64, model.ConfidenceComponents) {
	comp := model.ConfidenceComponents{AgreementFactor: 1}

	if agg.ObservationCount > 0 {
		comp.SourceWeight = agg.MaxSourceWeight
		comp.VolumeFactor = s.VolumeFactor(agg.ObservationCount)
		comp.AgreementFactor = AgreementFactor(agg.SalaryCV)
		comp.MappingConfidence = agg.MeanMapping
		if agg.NewestAsOf != nil {
			comp.RecencyFactor = evidence.RecencyFactor(*agg.NewestAsOf, now, decay)
		}
	} else if agg.PriorUsed {
		// Pure inference: the prior's tier weight carries the source
		// component, a dataset-level mapping is assumed exact.
		comp.SourceWeight = s.tierWeight(model.TierC)
		comp.MappingConfidence = 1
		if agg.Prior != nil && !agg.Prior.AsOf.IsZero() {
			comp.RecencyFactor = evidence.RecencyFactor(agg.Prior.AsOf, now, decay)
		}
	}

	composite := s.cfg.SourceWeight*comp.SourceWeight +
		s.cfg.VolumeWeight*comp.VolumeFactor +
		s.cfg.AgreementWeight*comp.AgreementFactor +
		s.cfg.RecencyWeight*comp.RecencyFactor +
		s.cfg.MappingWeight*comp.MappingConfidence

	if agg.PriorUsed && !agg.Fused && composite > s.cfg.PriorCeiling {
		composite = s.cfg.PriorCeiling
	}
	composite = clamp01(composite)

	return composite, comp
}

// NeedsReview reports whether a composite score falls below the review
// threshold.
func (s *Scorer) NeedsReview(composite float64) bool {
	return composite < s.cfg.ReviewThreshold
}

func (s *Scorer) tierWeight(tier model.Tier) float64 {
	if w, ok := s.cfg.TierWeights[string(tier)]; ok {
		return w
	}
	return 0.45
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
