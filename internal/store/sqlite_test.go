package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobsignal/archetype-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()

	s, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(ctx))
	return s
}

func ptr(v float64) *float64 { return &v }

func testObs(sourceID, docID string) model.RawObservation {
	return model.RawObservation{
		SourceID:         sourceID,
		SourceDocumentID: docID,
		RawCompany:       "Acme Widgets, Inc.",
		RawLocation:      "Austin, TX",
		RawTitle:         "Senior Software Engineer",
		SalaryMin:        ptr(150000),
		SalaryMax:        ptr(180000),
		AsOf:             time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		RawData:          map[string]any{"req_id": "R-100"},
		IngestedAt:       time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSQLite_RawObservations_UpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	obs := []model.RawObservation{
		testObs("payroll_csv", "d1"),
		testObs("payroll_csv", "d2"),
	}

	n, err := s.UpsertRawObservations(ctx, obs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Re-ingesting the same documents must not duplicate rows.
	_, err = s.UpsertRawObservations(ctx, obs)
	require.NoError(t, err)

	got, err := s.ListRawObservations(ctx, ObservationFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "payroll_csv", got[0].SourceID)
	assert.Equal(t, "d1", got[0].SourceDocumentID)
	assert.Equal(t, "Acme Widgets, Inc.", got[0].RawCompany)
	require.NotNil(t, got[0].SalaryMin)
	assert.Equal(t, 150000.0, *got[0].SalaryMin)
	assert.Equal(t, "R-100", got[0].RawData["req_id"])
}

func TestSQLite_RawObservations_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o1 := testObs("payroll_csv", "d1")
	o2 := testObs("postings_json", "d2")
	o2.AsOf = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	o2.IngestedAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.UpsertRawObservations(ctx, []model.RawObservation{o1, o2})
	require.NoError(t, err)

	bySource, err := s.ListRawObservations(ctx, ObservationFilter{SourceIDs: []string{"payroll_csv"}})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "d1", bySource[0].SourceDocumentID)

	since, err := s.ListRawObservations(ctx, ObservationFilter{
		Since: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "d1", since[0].SourceDocumentID)

	incremental, err := s.ListRawObservations(ctx, ObservationFilter{
		IngestedAfter: time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, incremental, 1)
	assert.Equal(t, "d2", incremental[0].SourceDocumentID)

	limited, err := s.ListRawObservations(ctx, ObservationFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testArchetype(runID string) *model.Archetype {
	key := model.ArchetypeKey{
		Company:   "acme_widgets",
		Metro:     "austin_tx",
		Role:      "software_engineer",
		Seniority: model.SenioritySenior,
	}
	return &model.Archetype{
		ID:                  key.ArchetypeID(),
		Key:                 key,
		RecordType:          model.RecordObserved,
		HeadcountP10:        3,
		HeadcountP50:        6,
		HeadcountP90:        9,
		SalaryP25:           140000,
		SalaryP50:           155000,
		SalaryP75:           170000,
		SalaryMean:          156000,
		SalaryStdDev:        12000,
		CompositeConfidence: 0.82,
		Components: model.ConfidenceComponents{
			SourceWeight:      1.0,
			VolumeFactor:      0.7,
			AgreementFactor:   0.9,
			RecencyFactor:     0.95,
			MappingConfidence: 0.9,
		},
		Evidence: model.EvidenceSummary{
			ObservationCount: 6,
			WeightedCount:    5.5,
			SourceCount:      2,
			TopSources: []model.SourceContribution{
				{SourceID: "payroll_csv", Tier: model.TierA, Rows: 6, Weight: 5.5},
			},
		},
		RunID:     runID,
		UpdatedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSQLite_Archetypes_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testArchetype("run-1")
	n, err := s.UpsertArchetypes(ctx, []*model.Archetype{a})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetArchetype(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.Key, got.Key)
	assert.Equal(t, a.Components, got.Components)
	assert.Equal(t, a.Evidence.TopSources, got.Evidence.TopSources)
	assert.Equal(t, 0.82, got.CompositeConfidence)

	// Second run overwrites the same row in place.
	a2 := testArchetype("run-2")
	a2.CompositeConfidence = 0.9
	_, err = s.UpsertArchetypes(ctx, []*model.Archetype{a2})
	require.NoError(t, err)

	got, err = s.GetArchetype(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, 0.9, got.CompositeConfidence)

	missing, err := s.GetArchetype(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_Archetypes_Query(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testArchetype("run-1")
	b := testArchetype("run-1")
	b.Key.Metro = "denver_co"
	b.ID = b.Key.ArchetypeID()
	b.RecordType = model.RecordInferred
	b.CompositeConfidence = 0.4
	b.NeedsReview = true

	_, err := s.UpsertArchetypes(ctx, []*model.Archetype{a, b})
	require.NoError(t, err)

	all, err := s.QueryArchetypes(ctx, ArchetypeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Ordered confidence descending.
	assert.Equal(t, "austin_tx", all[0].Key.Metro)

	byMetro, err := s.QueryArchetypes(ctx, ArchetypeFilter{Metro: "denver_co"})
	require.NoError(t, err)
	require.Len(t, byMetro, 1)
	assert.Equal(t, model.RecordInferred, byMetro[0].RecordType)

	confident, err := s.QueryArchetypes(ctx, ArchetypeFilter{MinConfidence: 0.5})
	require.NoError(t, err)
	assert.Len(t, confident, 1)

	review := true
	flagged, err := s.QueryArchetypes(ctx, ArchetypeFilter{NeedsReview: &review})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.True(t, flagged[0].NeedsReview)
}

func TestSQLite_EvidenceLinks_SupersedeCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	archID := testArchetype("run-1").ID

	link := func(evidenceID, runID string) model.EvidenceLink {
		return model.EvidenceLink{
			ArchetypeID:   archID,
			EvidenceType:  model.EvidencePayroll,
			EvidenceID:    evidenceID,
			Weight:        0.9,
			ContributedTo: []model.Contribution{model.ContributedExistence, model.ContributedSalary},
			RunID:         runID,
		}
	}

	n, err := s.InsertEvidenceLinks(ctx, []model.EvidenceLink{
		link("payroll_csv:d1", "run-1"),
		link("payroll_csv:d2", "run-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Duplicate insert within the same run is a no-op.
	n, err = s.InsertEvidenceLinks(ctx, []model.EvidenceLink{link("payroll_csv:d1", "run-1")})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Next run supersedes then writes its own trail.
	require.NoError(t, s.SupersedeEvidenceLinks(ctx, archID, "run-2"))
	_, err = s.InsertEvidenceLinks(ctx, []model.EvidenceLink{link("payroll_csv:d1", "run-2")})
	require.NoError(t, err)

	active, err := s.ListEvidenceLinks(ctx, archID, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "run-2", active[0].RunID)
	assert.Equal(t, []model.Contribution{model.ContributedExistence, model.ContributedSalary}, active[0].ContributedTo)

	// The historic trail stays reconstructable.
	all, err := s.ListEvidenceLinks(ctx, archID, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	var superseded int
	for _, l := range all {
		if l.SupersededByRun == "run-2" {
			superseded++
		}
	}
	assert.Equal(t, 2, superseded)
}

func TestSQLite_ReviewItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := model.ReviewItem{
		ItemType:         model.ReviewAmbiguousMapping,
		ArchetypeID:      "arch-1",
		CurrentValue:     "software_engineer",
		Confidence:       0.55,
		IssueDescription: `title "Engineer, Data Platform" matched competing roles`,
		Status:           model.ReviewPending,
		RunID:            "run-1",
		CreatedAt:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	n, err := s.InsertReviewItems(ctx, []model.ReviewItem{item})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Re-running the same synthesis does not duplicate the queue.
	n, err = s.InsertReviewItems(ctx, []model.ReviewItem{item})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	pending, err := s.ListReviewItems(ctx, model.ReviewPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.ResolveReviewItem(ctx, pending[0].ID, model.ReviewAccepted))

	pending, err = s.ListReviewItems(ctx, model.ReviewPending, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	accepted, err := s.ListReviewItems(ctx, model.ReviewAccepted, 10)
	require.NoError(t, err)
	assert.Len(t, accepted, 1)

	err = s.ResolveReviewItem(ctx, 9999, model.ReviewRejected)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_UnmatchedTitles_CountsAccumulate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := model.UnmatchedTitle{
		NormalizedTitle: "chief vibes officer",
		SampleRawTitle:  "Chief Vibes Officer",
		Count:           3,
		FirstSeenRun:    "run-1",
		LastSeenRun:     "run-1",
	}
	_, err := s.UpsertUnmatchedTitles(ctx, []model.UnmatchedTitle{first})
	require.NoError(t, err)

	second := first
	second.Count = 2
	second.LastSeenRun = "run-2"
	_, err = s.UpsertUnmatchedTitles(ctx, []model.UnmatchedTitle{second})
	require.NoError(t, err)

	got, err := s.ListUnmatchedTitles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Count)
	assert.Equal(t, "run-1", got[0].FirstSeenRun)
	assert.Equal(t, "run-2", got[0].LastSeenRun)
}

func TestSQLite_MacroPriors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prior := model.MacroPrior{
		Role:           "software_engineer",
		Metro:          "austin_tx",
		Employment:     50000,
		Establishments: 2500,
		WageP25:        110000,
		WageMedian:     140000,
		WageP75:        175000,
		WageMean:       145000,
		AsOf:           time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		SourceID:       "oews",
	}

	_, err := s.UpsertMacroPriors(ctx, []model.MacroPrior{prior})
	require.NoError(t, err)

	// A fresher vintage replaces the row for the same role x metro.
	prior.Employment = 52000
	prior.AsOf = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.UpsertMacroPriors(ctx, []model.MacroPrior{prior})
	require.NoError(t, err)

	got, err := s.ListMacroPriors(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(52000), got[0].Employment)
	assert.Equal(t, 2026, got[0].AsOf.Year())
}

func TestSQLite_EvidenceSources(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sources := []model.EvidenceSource{
		{ID: "payroll_csv", Tier: model.TierA, BaseWeight: 1.0, EvidenceType: model.EvidencePayroll},
		{ID: "postings_json", Tier: model.TierB, BaseWeight: 0.75, EvidenceType: model.EvidencePosting},
	}
	_, err := s.UpsertEvidenceSources(ctx, sources)
	require.NoError(t, err)

	got, err := s.ListEvidenceSources(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "payroll_csv", got[0].ID)
	assert.Equal(t, model.TierA, got[0].Tier)
}

func TestSQLite_RunLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	started := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	summary := &model.RunSummary{
		RunID:          "run-1",
		Mode:           model.RunModeFull,
		RuleSetVersion: "builtin-2025.08",
		StartedAt:      started,
	}
	require.NoError(t, s.StartRun(ctx, summary))

	completed := started.Add(5 * time.Minute)
	summary.Status = model.RunSuccess
	summary.CompletedAt = &completed
	summary.ObservationsTotal = 120
	require.NoError(t, s.CompleteRun(ctx, summary))

	last, err = s.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(completed))

	// A later partial run does not move the incremental cutoff.
	partial := &model.RunSummary{
		RunID:          "run-2",
		Mode:           model.RunModeIncremental,
		RuleSetVersion: "builtin-2025.08",
		StartedAt:      completed.Add(time.Hour),
	}
	require.NoError(t, s.StartRun(ctx, partial))
	partialDone := completed.Add(2 * time.Hour)
	partial.Status = model.RunPartial
	partial.CompletedAt = &partialDone
	require.NoError(t, s.CompleteRun(ctx, partial))

	last, err = s.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(completed))

	err = s.CompleteRun(ctx, &model.RunSummary{RunID: "ghost", Status: model.RunFailed})
	require.Error(t, err)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID) // newest first
	assert.Equal(t, model.RunPartial, runs[0].Status)
	assert.Equal(t, "run-1", runs[1].RunID)
	assert.Equal(t, int64(120), runs[1].ObservationsTotal) // from the summary blob

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLite_Checkpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := model.Checkpoint{
		RunID:     "run-1",
		Stage:     "ingest",
		SourceID:  "payroll_csv",
		Offset:    3,
		UpdatedAt: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveCheckpoint(ctx, cp))

	cp.Offset = 7
	require.NoError(t, s.SaveCheckpoint(ctx, cp))

	got, err := s.LoadCheckpoints(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].Offset)

	require.NoError(t, s.DeleteCheckpoints(ctx, "run-1"))
	got, err = s.LoadCheckpoints(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
