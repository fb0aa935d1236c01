// Package synth materializes archetype records. It merges per-key aggregated
// evidence with macro priors, attaches composite confidence, writes the
// provenance links that make every number auditable, and routes doubtful
// results to the review queue without ever blocking materialization.
package synth

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jobsignal/archetype-cli/internal/confidence"
	"github.com/jobsignal/archetype-cli/internal/evidence"
	"github.com/jobsignal/archetype-cli/internal/model"
)

// State is the evidence situation the synthesizer resolved for a key.
type State string

const (
	StateUnseen       State = "unseen"        // no evidence, no prior: nothing persisted
	StateObservedOnly State = "observed_only" // direct evidence only
	StatePriorOnly    State = "prior_only"    // macro prior only
	StateFused        State = "fused"         // sparse evidence blended with a prior
)

// Result is everything one key's synthesis produced. The caller persists the
// archetype, links, and review items together.
type Result struct {
	State       State
	Archetype   *model.Archetype
	Links       []model.EvidenceLink
	ReviewItems []model.ReviewItem
}

// Synthesizer builds archetype records from classified observations.
// Stateless across keys; safe for concurrent use by the pipeline workers.
type Synthesizer struct {
	agg     *evidence.Aggregator
	scorer  *confidence.Scorer
	decay   evidence.DecayConfig
	sources map[string]model.EvidenceSource
	now     func() time.Time
	log     *zap.Logger
}

// New builds a synthesizer over the registered evidence sources.
func New(agg *evidence.Aggregator, scorer *confidence.Scorer, decay evidence.DecayConfig, sources []model.EvidenceSource) *Synthesizer {
	byID := make(map[string]model.EvidenceSource, len(sources))
	for _, s := range sources {
		byID[s.ID] = s
	}
	return &Synthesizer{
		agg:     agg,
		scorer:  scorer,
		decay:   decay,
		sources: byID,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "synth")),
	}
}

// WithNow overrides the clock, for deterministic tests.
func (s *Synthesizer) WithNow(now func() time.Time) *Synthesizer {
	s.now = now
	return s
}

// Synthesize resolves one archetype key. Identical inputs produce an
// identical Result, including link ordering, so re-runs upsert byte-identical
// rows.
func (s *Synthesizer) Synthesize(key model.ArchetypeKey, obs []*model.ClassifiedObservation, prior *model.MacroPrior, runID string) Result {
	agg := s.agg.Build(key, obs, prior)
	if agg == nil {
		return Result{State: StateUnseen}
	}

	state := StateObservedOnly
	recordType := model.RecordObserved
	switch {
	case agg.Fused:
		state = StateFused
		recordType = model.RecordInferred
	case agg.PriorUsed:
		state = StatePriorOnly
		recordType = model.RecordInferred
	}

	now := s.now()
	composite, components := s.scorer.Score(agg, s.decay, now)

	arch := &model.Archetype{
		ID:         key.ArchetypeID(),
		Key:        key,
		RecordType: recordType,

		HeadcountP10: agg.HeadcountP10,
		HeadcountP50: agg.HeadcountP50,
		HeadcountP90: agg.HeadcountP90,
		SalaryP25:    agg.SalaryP25,
		SalaryP50:    agg.SalaryP50,
		SalaryP75:    agg.SalaryP75,
		SalaryMean:   agg.SalaryMean,
		SalaryStdDev: agg.SalaryStdDev,

		CompositeConfidence: composite,
		Components:          components,
		Evidence: model.EvidenceSummary{
			ObservationCount: agg.ObservationCount,
			WeightedCount:    agg.WeightedCount,
			SourceCount:      len(agg.TopSources),
			PriorUsed:        agg.PriorUsed,
			Fused:            agg.Fused,
			OldestAsOf:       agg.OldestAsOf,
			NewestAsOf:       agg.NewestAsOf,
			TopSources:       agg.TopSources,
		},

		RunID:     runID,
		UpdatedAt: now,
	}

	res := Result{
		State:     state,
		Archetype: arch,
		Links:     s.buildLinks(arch.ID, agg, runID),
	}

	res.ReviewItems = s.reviewItems(arch, agg, composite, runID, now)
	arch.NeedsReview = len(res.ReviewItems) > 0

	return res
}

// buildLinks writes one provenance edge per contributing observation plus,
// when a prior participated, one edge for the prior row itself. Links are
// sorted by evidence id for deterministic output.
func (s *Synthesizer) buildLinks(archetypeID string, agg *evidence.Aggregate, runID string) []model.EvidenceLink {
	links := make([]model.EvidenceLink, 0, len(agg.Contributions)+1)

	for _, c := range agg.Contributions {
		contributed := []model.Contribution{model.ContributedExistence, model.ContributedHeadcount}
		if c.HasSalary {
			contributed = append(contributed, model.ContributedSalary)
		}
		links = append(links, model.EvidenceLink{
			ArchetypeID:   archetypeID,
			EvidenceType:  s.evidenceType(c.Obs.SourceID),
			EvidenceID:    c.Obs.SourceID + ":" + c.Obs.SourceDocumentID,
			Weight:        c.Weight,
			ContributedTo: contributed,
			RunID:         runID,
		})
	}

	if agg.PriorUsed && agg.Prior != nil {
		contributed := []model.Contribution{model.ContributedExistence, model.ContributedHeadcount, model.ContributedSalary}
		if agg.Fused {
			// A fused prior shapes the distributions but existence is
			// already established by direct evidence.
			contributed = []model.Contribution{model.ContributedHeadcount, model.ContributedSalary}
		}
		links = append(links, model.EvidenceLink{
			ArchetypeID:   archetypeID,
			EvidenceType:  model.EvidenceMacroPrior,
			EvidenceID:    fmt.Sprintf("prior:%s|%s", agg.Prior.Role, agg.Prior.Metro),
			Weight:        1,
			ContributedTo: contributed,
			RunID:         runID,
		})
	}

	sort.Slice(links, func(i, j int) bool { return links[i].EvidenceID < links[j].EvidenceID })
	return links
}

// reviewItems collects the review queue entries for a synthesized key:
// ambiguous title mappings among the contributing observations, and a
// low-confidence flag when the composite falls under the threshold.
func (s *Synthesizer) reviewItems(arch *model.Archetype, agg *evidence.Aggregate, composite float64, runID string, now time.Time) []model.ReviewItem {
	var items []model.ReviewItem

	seenTitles := make(map[string]bool)
	for _, c := range agg.Contributions {
		o := c.Obs
		if !o.Ambiguous || seenTitles[o.RawTitle] {
			continue
		}
		seenTitles[o.RawTitle] = true
		items = append(items, model.ReviewItem{
			ItemType:     model.ReviewAmbiguousMapping,
			ArchetypeID:  arch.ID,
			CurrentValue: arch.Key.Role,
			Confidence:   o.MappingConfidence,
			IssueDescription: fmt.Sprintf("title %q matched competing roles with comparable confidence (rule set %s)",
				o.RawTitle, o.RuleSetVersion),
			Status:    model.ReviewPending,
			RunID:     runID,
			CreatedAt: now,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].IssueDescription < items[j].IssueDescription })

	if s.scorer.NeedsReview(composite) {
		items = append(items, model.ReviewItem{
			ItemType:     model.ReviewLowConfidence,
			ArchetypeID:  arch.ID,
			CurrentValue: arch.Key.String(),
			Confidence:   composite,
			IssueDescription: fmt.Sprintf("composite confidence %.2f below review threshold (%d observations, prior_used=%t)",
				composite, agg.ObservationCount, agg.PriorUsed),
			Status:    model.ReviewPending,
			RunID:     runID,
			CreatedAt: now,
		})
	}

	return items
}

func (s *Synthesizer) evidenceType(sourceID string) model.EvidenceType {
	if src, ok := s.sources[sourceID]; ok && src.EvidenceType != "" {
		return src.EvidenceType
	}
	return model.EvidencePosting
}
