package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobsignal/archetype-cli/internal/confidence"
	"github.com/jobsignal/archetype-cli/internal/config"
	"github.com/jobsignal/archetype-cli/internal/evidence"
	"github.com/jobsignal/archetype-cli/internal/identity"
	"github.com/jobsignal/archetype-cli/internal/model"
	"github.com/jobsignal/archetype-cli/internal/source"
	"github.com/jobsignal/archetype-cli/internal/store"
	"github.com/jobsignal/archetype-cli/internal/synth"
	"github.com/jobsignal/archetype-cli/internal/taxonomy"
)

var runNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func rulesV1(t *testing.T) *taxonomy.RuleSet {
	t.Helper()
	rs, err := taxonomy.Compile("v1",
		[]model.CanonicalRole{
			{ID: "software_engineer", Name: "Software Engineer"},
			{ID: "data_analyst", Name: "Data Analyst"},
		},
		[]model.TitleMappingRule{
			{Pattern: "software engineer", Kind: model.RuleSubstring, Role: "software_engineer", BaseConfidence: 0.9},
		})
	require.NoError(t, err)
	return rs
}

func rulesV2(t *testing.T) *taxonomy.RuleSet {
	t.Helper()
	rs, err := taxonomy.Compile("v2",
		[]model.CanonicalRole{
			{ID: "software_engineer", Name: "Software Engineer"},
			{ID: "data_analyst", Name: "Data Analyst"},
		},
		[]model.TitleMappingRule{
			{Pattern: "software engineer", Kind: model.RuleSubstring, Role: "software_engineer", BaseConfidence: 0.9},
			{Pattern: "data analyst", Kind: model.RuleSubstring, Role: "data_analyst", BaseConfidence: 0.85},
		})
	require.NoError(t, err)
	return rs
}

// newEngine wires a complete engine over local-file connectors. The clock is
// pinned through *now so tests control ingestion timestamps.
func newEngine(t *testing.T, st store.Store, sources config.SourcesConfig, rules *taxonomy.RuleSet, batchSize int, now *time.Time) *Engine {
	t.Helper()

	reg := source.NewRegistry(sources)
	clock := func() time.Time { return *now }

	decay := evidence.DecayConfig{HalfLifeDays: 730, Floor: 0.05}
	agg := evidence.NewAggregator(evidence.Config{
		SparseThreshold: 5,
		ShrinkageK:      5.0,
		Decay:           decay,
	}, reg.Sources()).WithNow(clock)

	scorer, err := confidence.NewScorer(config.ConfidenceConfig{
		SourceWeight:    0.30,
		VolumeWeight:    0.20,
		AgreementWeight: 0.20,
		RecencyWeight:   0.15,
		MappingWeight:   0.15,
		VolumeK:         0.35,
		PriorCeiling:    0.5,
		ReviewThreshold: 0.35,
		TierWeights:     map[string]float64{"A": 1.0, "B": 0.75, "C": 0.45},
	})
	require.NoError(t, err)

	syn := synth.New(agg, scorer, decay, reg.Sources()).WithNow(clock)

	return New(Params{
		Store:     st,
		Registry:  reg,
		Rules:     rules,
		Resolver:  identity.NewResolver(nil),
		Synth:     syn,
		BatchSize: batchSize,
		Workers:   4,
		TempDir:   t.TempDir(),
	}).WithNow(clock)
}

func writeCSV(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payroll.csv")
	header := "record_id,employer_name,work_location,job_title,annual_salary,pay_period_end\n"
	require.NoError(t, os.WriteFile(path, []byte(header+rows), 0o644))
	return path
}

func TestRun_EndToEnd(t *testing.T) {
	csv := writeCSV(t,
		"p1,Acme,\"Austin, TX\",Senior Software Engineer,160000,2026-06-30\n"+
			"p2,Acme,\"Austin, TX\",Senior Software Engineer,170000,2026-06-30\n"+
			"p3,Acme,\"Austin, TX\",Senior Software Engineer,180000,2026-06-30\n"+
			"p4,Acme,\"Austin, TX\",Senior Software Engineer,190000,2026-06-30\n"+
			"p5,Acme,\"Austin, TX\",Underwater Basket Weaver,90000,2026-06-30\n"+
			"p6,Acme,\"Nowhereville, ZZ\",Senior Software Engineer,150000,2026-06-30\n")

	st := newStore(t)
	now := runNow
	eng := newEngine(t, st, config.SourcesConfig{PayrollURL: csv}, rulesV1(t), 100, &now)

	ctx := context.Background()
	summary, err := eng.Run(ctx, Options{Mode: model.RunModeFull})
	require.NoError(t, err)

	assert.Equal(t, model.RunSuccess, summary.Status)
	assert.Equal(t, "v1", summary.RuleSetVersion)
	assert.Equal(t, int64(6), summary.ObservationsTotal)
	assert.Equal(t, 1, summary.KeysSynthesized)
	assert.Equal(t, 1, summary.ArchetypesWritten)
	require.NotNil(t, summary.CompletedAt)

	src := summary.Sources["payroll_csv"]
	require.NotNil(t, src)
	assert.Equal(t, int64(6), src.Processed)
	assert.Equal(t, int64(1), src.Skipped)   // unresolvable location
	assert.Equal(t, int64(1), src.Unmatched) // title with no rule
	assert.False(t, src.Failed)

	archs, err := st.QueryArchetypes(ctx, store.ArchetypeFilter{Metro: "austin_tx"})
	require.NoError(t, err)
	require.Len(t, archs, 1)

	arch := archs[0]
	assert.Equal(t, model.RecordObserved, arch.RecordType)
	assert.Equal(t, "software_engineer", arch.Key.Role)
	assert.Equal(t, model.SenioritySenior, arch.Key.Seniority)
	assert.Equal(t, 4, arch.Evidence.ObservationCount)
	assert.InDelta(t, 175000, arch.SalaryP50, 5001)
	assert.Greater(t, arch.CompositeConfidence, 0.0)

	links, err := st.ListEvidenceLinks(ctx, arch.ID, false)
	require.NoError(t, err)
	assert.Len(t, links, 4)

	titles, err := st.ListUnmatchedTitles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, titles, 1)
	assert.Equal(t, "underwater basket weaver", titles[0].NormalizedTitle)

	// Checkpoints are cleared once the run lands.
	cps, err := st.LoadCheckpoints(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Empty(t, cps)

	last, err := st.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
}

func TestRun_RerunSupersedesAndMatches(t *testing.T) {
	csv := writeCSV(t,
		"p1,Acme,\"Austin, TX\",Senior Software Engineer,160000,2026-06-30\n"+
			"p2,Acme,\"Austin, TX\",Senior Software Engineer,180000,2026-06-30\n")

	st := newStore(t)
	now := runNow
	eng := newEngine(t, st, config.SourcesConfig{PayrollURL: csv}, rulesV1(t), 100, &now)
	ctx := context.Background()

	_, err := eng.Run(ctx, Options{Mode: model.RunModeFull, RunID: "run-a"})
	require.NoError(t, err)

	archs, err := st.QueryArchetypes(ctx, store.ArchetypeFilter{})
	require.NoError(t, err)
	require.Len(t, archs, 1)
	first := archs[0]

	_, err = eng.Run(ctx, Options{Mode: model.RunModeFull, RunID: "run-b"})
	require.NoError(t, err)

	archs, err = st.QueryArchetypes(ctx, store.ArchetypeFilter{})
	require.NoError(t, err)
	require.Len(t, archs, 1)
	second := archs[0]

	// Same evidence, same clock: the re-run writes an identical record under
	// the new run id.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "run-b", second.RunID)
	assert.Equal(t, first.CompositeConfidence, second.CompositeConfidence)
	assert.Equal(t, first.SalaryP50, second.SalaryP50)
	assert.Equal(t, first.HeadcountP50, second.HeadcountP50)

	active, err := st.ListEvidenceLinks(ctx, second.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, l := range active {
		assert.Equal(t, "run-b", l.RunID)
	}

	all, err := st.ListEvidenceLinks(ctx, second.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestRun_PartialOnSourceFailure(t *testing.T) {
	csv := writeCSV(t,
		"p1,Acme,\"Austin, TX\",Senior Software Engineer,160000,2026-06-30\n")

	st := newStore(t)
	now := runNow
	eng := newEngine(t, st, config.SourcesConfig{
		PayrollURL:  csv,
		PostingsURL: filepath.Join(t.TempDir(), "missing.json"),
	}, rulesV1(t), 100, &now)

	summary, err := eng.Run(context.Background(), Options{Mode: model.RunModeFull})
	require.ErrorIs(t, err, ErrPartial)
	assert.Equal(t, model.RunPartial, summary.Status)

	assert.False(t, summary.Sources["payroll_csv"].Failed)
	require.NotNil(t, summary.Sources["postings_json"])
	assert.True(t, summary.Sources["postings_json"].Failed)
	assert.NotEmpty(t, summary.Sources["postings_json"].Error)

	// The healthy source's evidence still materialized.
	archs, err := st.QueryArchetypes(context.Background(), store.ArchetypeFilter{})
	require.NoError(t, err)
	assert.Len(t, archs, 1)
}

func TestRun_FailedWhenEverySourceFails(t *testing.T) {
	st := newStore(t)
	now := runNow
	eng := newEngine(t, st, config.SourcesConfig{
		PostingsURL: filepath.Join(t.TempDir(), "missing.json"),
	}, rulesV1(t), 100, &now)

	summary, err := eng.Run(context.Background(), Options{Mode: model.RunModeFull})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPartial)
	assert.Equal(t, model.RunFailed, summary.Status)

	// A failed run never becomes the incremental cutoff.
	last, lerr := st.LastSuccessfulRun(context.Background())
	require.NoError(t, lerr)
	assert.Nil(t, last)
}

func TestRun_IncrementalSkipsSourcesNotDue(t *testing.T) {
	csv := writeCSV(t,
		"p1,Acme,\"Austin, TX\",Senior Software Engineer,160000,2026-06-30\n")

	st := newStore(t)
	now := runNow
	eng := newEngine(t, st, config.SourcesConfig{PayrollURL: csv}, rulesV1(t), 100, &now)
	ctx := context.Background()

	_, err := eng.Run(ctx, Options{Mode: model.RunModeFull})
	require.NoError(t, err)

	// An hour later, the monthly payroll drop is not due and nothing new was
	// ingested, so the incremental run has no work.
	now = now.Add(time.Hour)
	summary, err := eng.Run(ctx, Options{Mode: model.RunModeIncremental})
	require.NoError(t, err)

	assert.Equal(t, model.RunSuccess, summary.Status)
	assert.Equal(t, int64(0), summary.ObservationsTotal)
	assert.Equal(t, 0, summary.KeysSynthesized)
	assert.NotContains(t, summary.Sources, "payroll_csv")
}

func writePostingsJSON(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postings.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRun_IncrementalRefreshKeepsFullKeyHistory(t *testing.T) {
	csv := writeCSV(t,
		"p1,Acme,\"Austin, TX\",Senior Software Engineer,160000,2026-06-30\n"+
			"p2,Acme,\"Austin, TX\",Senior Software Engineer,170000,2026-06-30\n"+
			"p3,Acme,\"Austin, TX\",Senior Software Engineer,180000,2026-06-30\n"+
			"p4,Acme,\"Austin, TX\",Senior Software Engineer,190000,2026-06-30\n")
	postings := writePostingsJSON(t, `[
		{"id": "j1", "company": "Acme", "location": "Austin, TX", "title": "Senior Software Engineer", "posted_at": "2026-06-28"},
		{"id": "j2", "company": "Acme", "location": "Austin, TX", "title": "Senior Software Engineer", "posted_at": "2026-06-29"}
	]`)

	st := newStore(t)
	now := runNow
	eng := newEngine(t, st, config.SourcesConfig{PayrollURL: csv, PostingsURL: postings}, rulesV1(t), 100, &now)
	ctx := context.Background()

	_, err := eng.Run(ctx, Options{Mode: model.RunModeFull})
	require.NoError(t, err)

	archs, err := st.QueryArchetypes(ctx, store.ArchetypeFilter{})
	require.NoError(t, err)
	require.Len(t, archs, 1)
	first := archs[0]
	assert.Equal(t, 6, first.Evidence.ObservationCount)

	// Eight days on: the weekly postings snapshot is due again, the monthly
	// payroll drop is not. Only the two postings rows are re-ingested.
	now = now.AddDate(0, 0, 8)
	summary, err := eng.Run(ctx, Options{Mode: model.RunModeIncremental})
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, summary.Status)
	assert.Equal(t, int64(2), summary.ObservationsTotal)
	assert.NotContains(t, summary.Sources, "payroll_csv")

	// The refreshed key is rebuilt from all six stored observations, so the
	// payroll evidence and its salary distribution survive the refresh.
	archs, err = st.QueryArchetypes(ctx, store.ArchetypeFilter{})
	require.NoError(t, err)
	require.Len(t, archs, 1)
	second := archs[0]

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, summary.RunID, second.RunID)
	assert.Equal(t, 6, second.Evidence.ObservationCount)
	assert.InDelta(t, first.SalaryP50, second.SalaryP50, 0.01)
	assert.Greater(t, second.SalaryP50, 0.0)

	active, err := st.ListEvidenceLinks(ctx, second.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 6)
	for _, l := range active {
		assert.Equal(t, summary.RunID, l.RunID)
	}
}

func TestRun_ResumeSkipsCompletedBatches(t *testing.T) {
	csv := writeCSV(t,
		"p1,Acme,\"Austin, TX\",Senior Software Engineer,160000,2026-06-30\n"+
			"p2,Acme,\"Austin, TX\",Senior Software Engineer,170000,2026-06-30\n"+
			"p3,Acme,\"Austin, TX\",Senior Software Engineer,180000,2026-06-30\n"+
			"p4,Acme,\"Austin, TX\",Senior Software Engineer,190000,2026-06-30\n")

	st := newStore(t)
	now := runNow
	eng := newEngine(t, st, config.SourcesConfig{PayrollURL: csv}, rulesV1(t), 2, &now)
	ctx := context.Background()

	// Pretend a previous attempt of run-resume finished its first ingest
	// batch before dying.
	require.NoError(t, st.SaveCheckpoint(ctx, model.Checkpoint{
		RunID:     "run-resume",
		Stage:     "ingest",
		SourceID:  "payroll_csv",
		Offset:    1,
		UpdatedAt: now,
	}))

	summary, err := eng.Run(ctx, Options{Mode: model.RunModeFull, RunID: "run-resume"})
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, summary.Status)

	// All four records were replayed but only the second batch was written.
	assert.Equal(t, int64(4), summary.Sources["payroll_csv"].Processed)
	obs, err := st.ListRawObservations(ctx, store.ObservationFilter{})
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, "p3", obs[0].SourceDocumentID)

	cps, err := st.LoadCheckpoints(ctx, "run-resume")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestRun_NewRuleSetPicksUpLedgeredTitles(t *testing.T) {
	csv := writeCSV(t,
		"p1,Acme,\"Austin, TX\",Senior Software Engineer,160000,2026-06-30\n"+
			"p2,Acme,\"Austin, TX\",Data Analyst,95000,2026-06-30\n")

	st := newStore(t)
	now := runNow
	ctx := context.Background()

	summary, err := newEngine(t, st, config.SourcesConfig{PayrollURL: csv}, rulesV1(t), 100, &now).
		Run(ctx, Options{Mode: model.RunModeFull})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.UnmatchedTotal)

	titles, err := st.ListUnmatchedTitles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, titles, 1)
	assert.Equal(t, "data analyst", titles[0].NormalizedTitle)

	// Growing the rule set and re-running reclassifies the stored evidence.
	summary, err = newEngine(t, st, config.SourcesConfig{PayrollURL: csv}, rulesV2(t), 100, &now).
		Run(ctx, Options{Mode: model.RunModeFull})
	require.NoError(t, err)
	assert.Equal(t, "v2", summary.RuleSetVersion)
	assert.Equal(t, int64(0), summary.UnmatchedTotal)
	assert.Equal(t, 2, summary.KeysSynthesized)

	archs, err := st.QueryArchetypes(ctx, store.ArchetypeFilter{Role: "data_analyst"})
	require.NoError(t, err)
	require.Len(t, archs, 1)
	assert.Equal(t, model.SeniorityMid, archs[0].Key.Seniority)
}

func TestMaterialize_PriorOnly(t *testing.T) {
	st := newStore(t)
	now := runNow
	eng := newEngine(t, st, config.SourcesConfig{}, rulesV1(t), 100, &now)
	ctx := context.Background()

	_, err := st.UpsertMacroPriors(ctx, []model.MacroPrior{{
		Role:           "software_engineer",
		Metro:          "austin_tx",
		Employment:     50000,
		Establishments: 2500,
		WageP25:        110000,
		WageMedian:     140000,
		WageP75:        175000,
		WageMean:       145000,
		AsOf:           runNow.AddDate(0, -6, 0),
		SourceID:       "oews_2025",
	}})
	require.NoError(t, err)

	key := model.ArchetypeKey{
		Company:   "acme",
		Metro:     "austin_tx",
		Role:      "software_engineer",
		Seniority: model.SeniorityMid,
	}
	res, err := eng.Materialize(ctx, key, "")
	require.NoError(t, err)

	assert.Equal(t, synth.StatePriorOnly, res.State)
	require.NotNil(t, res.Archetype)
	assert.Equal(t, model.RecordInferred, res.Archetype.RecordType)
	assert.LessOrEqual(t, res.Archetype.CompositeConfidence, 0.5)

	got, err := st.GetArchetype(ctx, key.ArchetypeID())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Evidence.PriorUsed)

	// A cell with neither evidence nor a prior yields nothing.
	res, err = eng.Materialize(ctx, model.ArchetypeKey{
		Company: "acme", Metro: "denver_co", Role: "data_analyst", Seniority: model.SeniorityMid,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, synth.StateUnseen, res.State)
	assert.Nil(t, res.Archetype)
}
