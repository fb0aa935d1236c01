package evidence

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jobsignal/archetype-cli/internal/model"
)

// z90 is the normal deviate for the 10th/90th percentile band placed around
// the weighted headcount estimate.
const z90 = 1.2816

// iqrToStdDev converts a P25-P75 spread to an approximate standard deviation
// for normal-ish wage distributions.
const iqrToStdDev = 1.349

// Config tunes aggregation behavior.
type Config struct {
	// SparseThreshold is the observation count below which a macro prior,
	// when available, is fused with direct evidence.
	SparseThreshold int `yaml:"sparse_threshold" mapstructure:"sparse_threshold"`
	// ShrinkageK controls the blend weight w = n/(n+k) used when fusing.
	ShrinkageK float64     `yaml:"shrinkage_k" mapstructure:"shrinkage_k"`
	Decay      DecayConfig `yaml:"decay" mapstructure:"decay"`
}

// Contribution is one observation's share of an aggregate, retained so the
// synthesizer can write provenance links with the exact weights used.
type Contribution struct {
	Obs       *model.ClassifiedObservation
	Weight    float64
	HasSalary bool
}

// Aggregate is the distribution summary for one archetype key, plus the
// inputs the confidence scorer needs. PriorUsed/Fused record how much of it
// is inference rather than observation.
type Aggregate struct {
	Key model.ArchetypeKey

	HeadcountP10 float64
	HeadcountP50 float64
	HeadcountP90 float64

	SalaryP25    float64
	SalaryP50    float64
	SalaryP75    float64
	SalaryMean   float64
	SalaryStdDev float64

	ObservationCount int
	WeightedCount    float64
	SalaryCV         float64
	MaxSourceWeight  float64
	MeanMapping      float64
	OldestAsOf       *time.Time
	NewestAsOf       *time.Time
	TopSources       []model.SourceContribution
	Contributions    []Contribution

	PriorUsed bool
	Fused     bool
	Prior     *model.MacroPrior
}

// SalaryObservations counts the contributions that carried a salary point.
func (a *Aggregate) SalaryObservations() int {
	n := 0
	for _, c := range a.Contributions {
		if c.HasSalary {
			n++
		}
	}
	return n
}

// Aggregator computes per-key aggregates from classified observations and
// macro priors. Stateless across keys; safe for concurrent use.
type Aggregator struct {
	cfg     Config
	sources map[string]model.EvidenceSource
	now     func() time.Time
	log     *zap.Logger
}

// NewAggregator builds an aggregator over the registered evidence sources.
func NewAggregator(cfg Config, sources []model.EvidenceSource) *Aggregator {
	byID := make(map[string]model.EvidenceSource, len(sources))
	for _, s := range sources {
		byID[s.ID] = s
	}
	return &Aggregator{
		cfg:     cfg,
		sources: byID,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "evidence")),
	}
}

// WithNow overrides the clock, for deterministic tests.
func (a *Aggregator) WithNow(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// sourceWeight returns the base reliability weight for a source id.
// Unregistered sources contribute at the lowest observed tier rather than
// being dropped.
func (a *Aggregator) sourceWeight(sourceID string) (model.EvidenceSource, float64) {
	if s, ok := a.sources[sourceID]; ok {
		return s, s.BaseWeight
	}
	return model.EvidenceSource{ID: sourceID, Tier: model.TierC}, 0.45
}

// Observed aggregates direct evidence for one key. Returns nil when obs is
// empty; absence of evidence is the prior-only path, not an error.
func (a *Aggregator) Observed(key model.ArchetypeKey, obs []*model.ClassifiedObservation) *Aggregate {
	if len(obs) == 0 {
		return nil
	}

	now := a.now()
	agg := &Aggregate{Key: key, ObservationCount: len(obs)}

	bySource := make(map[string]*sourceAcc)

	var salaryPoints []WeightedPoint
	var mappingSum float64

	for _, o := range obs {
		src, base := a.sourceWeight(o.SourceID)
		w := DecayedWeight(base, o.AsOf, now, a.cfg.Decay)

		agg.WeightedCount += w
		mappingSum += o.MappingConfidence
		if base > agg.MaxSourceWeight {
			agg.MaxSourceWeight = base
		}

		acc, ok := bySource[o.SourceID]
		if !ok {
			acc = &sourceAcc{src: src}
			bySource[o.SourceID] = acc
		}
		acc.rows++
		acc.weight += w

		contrib := Contribution{Obs: o, Weight: w}
		if v, ok := o.SalaryPoint(); ok {
			salaryPoints = append(salaryPoints, WeightedPoint{Value: v, Weight: w})
			contrib.HasSalary = true
		}
		agg.Contributions = append(agg.Contributions, contrib)

		asOf := o.AsOf
		if !asOf.IsZero() {
			if agg.OldestAsOf == nil || asOf.Before(*agg.OldestAsOf) {
				t := asOf
				agg.OldestAsOf = &t
			}
			if agg.NewestAsOf == nil || asOf.After(*agg.NewestAsOf) {
				t := asOf
				agg.NewestAsOf = &t
			}
		}
	}

	agg.MeanMapping = mappingSum / float64(len(obs))
	agg.HeadcountP10, agg.HeadcountP50, agg.HeadcountP90 = headcountBand(agg.WeightedCount)

	if len(salaryPoints) > 0 {
		agg.SalaryP25 = WeightedQuantile(salaryPoints, 0.25)
		agg.SalaryP50 = WeightedQuantile(salaryPoints, 0.50)
		agg.SalaryP75 = WeightedQuantile(salaryPoints, 0.75)
		agg.SalaryMean = WeightedMean(salaryPoints)
		agg.SalaryStdDev = WeightedStdDev(salaryPoints)
		agg.SalaryCV = CoefficientOfVariation(salaryPoints)
	}

	agg.TopSources = topSources(bySource)
	return agg
}

// FromPrior builds a prior-only aggregate for a key with zero direct
// evidence. The headcount band widens around the prior's per-employer
// estimate; wage quantiles come straight from the prior table.
func (a *Aggregator) FromPrior(key model.ArchetypeKey, prior *model.MacroPrior) *Aggregate {
	if prior == nil {
		return nil
	}

	h := prior.HeadcountPerEmployer()
	agg := &Aggregate{
		Key:          key,
		SalaryP25:    prior.WageP25,
		SalaryP50:    prior.WageMedian,
		SalaryP75:    prior.WageP75,
		SalaryMean:   prior.WageMean,
		SalaryStdDev: (prior.WageP75 - prior.WageP25) / iqrToStdDev,
		PriorUsed:    true,
		Prior:        prior,
	}
	agg.HeadcountP10, agg.HeadcountP50, agg.HeadcountP90 = headcountBand(h)
	return agg
}

// Fuse blends a sparse observed aggregate with a macro prior using shrinkage:
// each distribution field becomes w*observed + (1-w)*prior with
// w = n/(n+k). Convex blending preserves the ordering invariant on both
// distributions. The salary blend is weighted by the number of
// salary-bearing observations, not the total row count; with zero salary
// points the prior's wage quantiles pass through unblended so that
// salary-free evidence never drags the wage estimate toward zero. The
// observed aggregate's evidence bookkeeping is retained.
func (a *Aggregator) Fuse(observed *Aggregate, prior *model.MacroPrior) *Aggregate {
	if prior == nil {
		return observed
	}

	p := a.FromPrior(observed.Key, prior)
	n := float64(observed.ObservationCount)
	w := n / (n + a.cfg.ShrinkageK)

	ns := float64(observed.SalaryObservations())
	ws := ns / (ns + a.cfg.ShrinkageK)

	fused := *observed
	fused.HeadcountP10 = blend(w, observed.HeadcountP10, p.HeadcountP10)
	fused.HeadcountP50 = blend(w, observed.HeadcountP50, p.HeadcountP50)
	fused.HeadcountP90 = blend(w, observed.HeadcountP90, p.HeadcountP90)
	fused.SalaryP25 = blend(ws, observed.SalaryP25, p.SalaryP25)
	fused.SalaryP50 = blend(ws, observed.SalaryP50, p.SalaryP50)
	fused.SalaryP75 = blend(ws, observed.SalaryP75, p.SalaryP75)
	fused.SalaryMean = blend(ws, observed.SalaryMean, p.SalaryMean)
	fused.SalaryStdDev = blend(ws, observed.SalaryStdDev, p.SalaryStdDev)
	fused.PriorUsed = true
	fused.Fused = true
	fused.Prior = prior

	a.log.Debug("fused sparse evidence with prior",
		zap.String("key", observed.Key.String()),
		zap.Int("observations", observed.ObservationCount),
		zap.Float64("blend_weight", w),
		zap.Float64("salary_blend_weight", ws),
	)
	return &fused
}

// Build runs the full per-key decision: observed-only, prior-only, or fused,
// per the sparse threshold. Returns nil only for zero evidence and no prior
// (the unseen state).
func (a *Aggregator) Build(key model.ArchetypeKey, obs []*model.ClassifiedObservation, prior *model.MacroPrior) *Aggregate {
	observed := a.Observed(key, obs)
	switch {
	case observed == nil && prior == nil:
		return nil
	case observed == nil:
		return a.FromPrior(key, prior)
	case prior != nil && observed.ObservationCount < a.cfg.SparseThreshold:
		return a.Fuse(observed, prior)
	default:
		return observed
	}
}

// headcountBand places a symmetric z-band around a weighted count estimate,
// clamped at zero on the low side.
func headcountBand(count float64) (p10, p50, p90 float64) {
	if count <= 0 {
		return 0, 0, 0
	}
	spread := z90 * math.Sqrt(count)
	p10 = count - spread
	if p10 < 0 {
		p10 = 0
	}
	return p10, count, count + spread
}

func blend(w, observed, prior float64) float64 {
	return w*observed + (1-w)*prior
}

type sourceAcc struct {
	src    model.EvidenceSource
	rows   int
	weight float64
}

// topSources ranks contributing sources by total weight, source id breaking
// ties so output is deterministic.
func topSources(bySource map[string]*sourceAcc) []model.SourceContribution {
	out := make([]model.SourceContribution, 0, len(bySource))
	for id, acc := range bySource {
		out = append(out, model.SourceContribution{
			SourceID: id,
			Tier:     acc.src.Tier,
			Rows:     acc.rows,
			Weight:   acc.weight,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}
