// Package pipeline orchestrates a full archetype run: fetch and ingest raw
// records per source, classify stored observations against the current rule
// set, group them by archetype key, and synthesize each key with a worker
// pool. Batch progress is checkpointed per stage so an interrupted run
// resumes with the same run id instead of starting over.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jobsignal/archetype-cli/internal/evidence"
	"github.com/jobsignal/archetype-cli/internal/fetcher"
	"github.com/jobsignal/archetype-cli/internal/identity"
	"github.com/jobsignal/archetype-cli/internal/model"
	"github.com/jobsignal/archetype-cli/internal/source"
	"github.com/jobsignal/archetype-cli/internal/store"
	"github.com/jobsignal/archetype-cli/internal/synth"
	"github.com/jobsignal/archetype-cli/internal/taxonomy"
)

// ErrPartial marks a run that completed but had at least one source fail.
// Callers distinguish it from hard failures for exit-code purposes.
var ErrPartial = eris.New("pipeline: run completed with source failures")

const (
	stageIngest     = "ingest"
	stageSynthesize = "synthesize"
)

// Params collects the engine's collaborators.
type Params struct {
	Store    store.Store
	Registry *source.Registry
	Fetcher  fetcher.Fetcher
	Rules    *taxonomy.RuleSet
	Resolver *identity.Resolver
	Synth    *synth.Synthesizer

	BatchSize int // rows or keys per checkpointed batch
	Workers   int // concurrent key syntheses
	TempDir   string
}

// Options selects what a single run processes.
type Options struct {
	RunID   string // reuse a previous run id to resume it
	Mode    model.RunMode
	Sources []string // empty means every registered source
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Engine runs the ingest-classify-synthesize pipeline.
type Engine struct {
	store     store.Store
	registry  *source.Registry
	fetch     fetcher.Fetcher
	rules     *taxonomy.RuleSet
	resolver  *identity.Resolver
	synth     *synth.Synthesizer
	batchSize int
	workers   int
	tempDir   string
	now       func() time.Time
	log       *zap.Logger
}

// New builds an engine. Zero BatchSize and Workers fall back to sane
// defaults.
func New(p Params) *Engine {
	if p.BatchSize <= 0 {
		p.BatchSize = 2000
	}
	if p.Workers <= 0 {
		p.Workers = 8
	}
	return &Engine{
		store:     p.Store,
		registry:  p.Registry,
		fetch:     p.Fetcher,
		rules:     p.Rules,
		resolver:  p.Resolver,
		synth:     p.Synth,
		batchSize: p.BatchSize,
		workers:   p.Workers,
		tempDir:   p.TempDir,
		now:       time.Now,
		log:       zap.L().With(zap.String("component", "pipeline")),
	}
}

// WithNow overrides the clock, for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run executes one pipeline run and returns its summary. A run always ends
// with a persisted summary; the error is ErrPartial when some sources failed
// but the rest were processed. Passing the run id of an interrupted run
// resumes it from its last checkpoints.
func (e *Engine) Run(ctx context.Context, opts Options) (*model.RunSummary, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	mode := opts.Mode
	if mode == "" {
		mode = model.RunModeFull
	}

	summary := &model.RunSummary{
		RunID:          runID,
		Mode:           mode,
		RuleSetVersion: e.rules.Version(),
		Status:         model.RunRunning,
		StartedAt:      e.now(),
	}

	// The incremental cutoff is resolved before StartRun so the current run
	// can never be its own cutoff.
	var cutoff time.Time
	if mode == model.RunModeIncremental {
		last, err := e.store.LastSuccessfulRun(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: load incremental cutoff")
		}
		if last != nil {
			cutoff = *last
		}
	}

	if err := e.store.StartRun(ctx, summary); err != nil {
		return nil, eris.Wrap(err, "pipeline: start run")
	}
	e.log.Info("run started",
		zap.String("run_id", runID),
		zap.String("mode", string(mode)),
		zap.String("rule_set", summary.RuleSetVersion))

	resume, err := e.loadResume(ctx, runID)
	if err != nil {
		return e.fail(ctx, summary, err)
	}

	connectors, err := e.registry.List(opts.Sources)
	if err != nil {
		return e.fail(ctx, summary, err)
	}
	if _, err := e.store.UpsertEvidenceSources(ctx, e.registry.Sources()); err != nil {
		return e.fail(ctx, summary, eris.Wrap(err, "pipeline: register evidence sources"))
	}

	attempted := e.ingest(ctx, connectors, runID, mode, cutoff, opts, resume, summary)
	if ctx.Err() != nil {
		// Leave the run "running" with its checkpoints so it can be resumed.
		return summary, eris.Wrap(ctx.Err(), "pipeline: cancelled during ingest")
	}

	if err := e.synthesize(ctx, runID, cutoff, opts, resume, summary); err != nil {
		if ctx.Err() != nil {
			return summary, err
		}
		return e.fail(ctx, summary, err)
	}

	summary.Status = terminalStatus(attempted, summary)
	done := e.now()
	summary.CompletedAt = &done
	if err := e.store.CompleteRun(ctx, summary); err != nil {
		return summary, eris.Wrap(err, "pipeline: complete run")
	}
	if summary.Status != model.RunFailed {
		if err := e.store.DeleteCheckpoints(ctx, runID); err != nil {
			return summary, eris.Wrap(err, "pipeline: clear checkpoints")
		}
	}

	e.log.Info("run complete",
		zap.String("run_id", runID),
		zap.String("status", string(summary.Status)),
		zap.Int64("observations", summary.ObservationsTotal),
		zap.Int("keys", summary.KeysSynthesized),
		zap.Int("review_items", summary.ReviewItems),
		zap.Int64("unmatched", summary.UnmatchedTotal))

	switch summary.Status {
	case model.RunPartial:
		return summary, ErrPartial
	case model.RunFailed:
		return summary, eris.New("pipeline: every source failed")
	default:
		return summary, nil
	}
}

// fail marks the run failed and persists the summary best-effort, keeping
// checkpoints so the run id can be resumed.
func (e *Engine) fail(ctx context.Context, summary *model.RunSummary, cause error) (*model.RunSummary, error) {
	summary.Status = model.RunFailed
	done := e.now()
	summary.CompletedAt = &done
	if err := e.store.CompleteRun(ctx, summary); err != nil {
		e.log.Warn("persisting failed-run summary", zap.Error(err))
	}
	return summary, cause
}

func (e *Engine) loadResume(ctx context.Context, runID string) (map[string]int64, error) {
	cps, err := e.store.LoadCheckpoints(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load checkpoints")
	}
	m := make(map[string]int64, len(cps))
	for _, cp := range cps {
		m[cp.Stage+"/"+cp.SourceID] = cp.Offset
	}
	if len(m) > 0 {
		e.log.Info("resuming from checkpoints", zap.String("run_id", runID), zap.Int("checkpoints", len(m)))
	}
	return m, nil
}

// ingest fetches every due connector and persists its records in batches.
// A source failure is recorded in the summary, not returned: the rest of the
// run proceeds on whatever evidence is already stored.
func (e *Engine) ingest(ctx context.Context, connectors []source.Connector, runID string, mode model.RunMode, cutoff time.Time, opts Options, resume map[string]int64, summary *model.RunSummary) []source.Connector {
	var lastRun *time.Time
	if !cutoff.IsZero() {
		lastRun = &cutoff
	}

	var attempted []source.Connector
	for _, c := range connectors {
		if ctx.Err() != nil {
			return attempted
		}
		// Cadence gating applies to incremental runs only, and an explicit
		// --sources selection always forces the fetch.
		if mode == model.RunModeIncremental && len(opts.Sources) == 0 && !c.ShouldRun(e.now(), lastRun) {
			e.log.Info("source not due",
				zap.String("source", c.SourceID()),
				zap.String("cadence", string(c.Cadence())))
			continue
		}

		attempted = append(attempted, c)
		if err := e.ingestSource(ctx, c, runID, resume, summary); err != nil {
			if ctx.Err() != nil {
				return attempted
			}
			src := summary.Source(c.SourceID())
			src.Failed = true
			src.Error = err.Error()
			e.log.Warn("source ingest failed", zap.String("source", c.SourceID()), zap.Error(err))
		}
	}
	return attempted
}

func (e *Engine) ingestSource(ctx context.Context, c source.Connector, runID string, resume map[string]int64, summary *model.RunSummary) error {
	src := summary.Source(c.SourceID())
	weight := c.Source().BaseWeight
	skip := resume[stageIngest+"/"+c.SourceID()]
	ingestedAt := e.now()

	batch := make([]model.RawObservation, 0, e.batchSize)
	var batchNum int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n := int64(len(batch))
		batchNum++
		defer func() { batch = batch[:0] }()

		// Batches completed before an interruption are replayed by the
		// connector but not re-written.
		if batchNum <= skip {
			src.Processed += n
			return nil
		}
		if _, err := e.store.UpsertRawObservations(ctx, batch); err != nil {
			return eris.Wrapf(err, "pipeline: upsert %s batch %d", c.SourceID(), batchNum)
		}
		src.Processed += n
		return e.store.SaveCheckpoint(ctx, model.Checkpoint{
			RunID:     runID,
			Stage:     stageIngest,
			SourceID:  c.SourceID(),
			Offset:    batchNum,
			UpdatedAt: e.now(),
		})
	}

	res, err := c.Fetch(ctx, e.fetch, e.tempDir, func(rec model.StandardRawRecord) error {
		obs := model.RawObservation{
			SourceID:         rec.SourceID,
			SourceDocumentID: rec.SourceDocumentID,
			RawCompany:       rec.RawCompany,
			RawLocation:      rec.RawLocation,
			RawTitle:         rec.RawTitle,
			SalaryMin:        rec.RawSalaryMin,
			SalaryMax:        rec.RawSalaryMax,
			AsOf:             rec.AsOfDate,
			Weight:           weight,
			RawData:          rec.RawData,
			IngestedAt:       ingestedAt,
		}
		if obs.AsOf.IsZero() {
			obs.AsOf = ingestedAt
		}
		batch = append(batch, obs)
		if len(batch) >= e.batchSize {
			return flush()
		}
		return nil
	})
	if res != nil {
		src.Malformed += res.Malformed
	}
	if err != nil {
		return err
	}
	return flush()
}

// synthesize classifies the selected observations, groups them by archetype
// key, and materializes each key. Key order is fixed (sorted by key string)
// so batch numbering is stable across a resume.
func (e *Engine) synthesize(ctx context.Context, runID string, cutoff time.Time, opts Options, resume map[string]int64, summary *model.RunSummary) error {
	raws, err := e.store.ListRawObservations(ctx, store.ObservationFilter{
		SourceIDs:     opts.Sources,
		Since:         opts.Since,
		Until:         opts.Until,
		IngestedAfter: cutoff,
		Limit:         opts.Limit,
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: list observations")
	}
	summary.ObservationsTotal = int64(len(raws))

	ledger := taxonomy.NewLedger()
	classified, err := e.classify(ctx, raws, ledger, summary)
	if err != nil {
		return err
	}

	groups := make(map[model.ArchetypeKey][]*model.ClassifiedObservation)
	for _, c := range classified {
		k := c.Key()
		groups[k] = append(groups[k], c)
	}

	// An incremental cutoff only selects which keys to refresh. Each touched
	// key is then re-aggregated over every stored observation for it, so a
	// refresh driven by one source never discards the other sources' evidence
	// from the key's archetype and links.
	if !cutoff.IsZero() && len(groups) > 0 {
		groups, err = e.regroupTouchedKeys(ctx, groups, opts)
		if err != nil {
			return err
		}
	}

	keys := make([]model.ArchetypeKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	priors, err := e.store.ListMacroPriors(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: list macro priors")
	}
	table := evidence.NewPriorTable(priors)

	skip := resume[stageSynthesize+"/"]
	var batchNum int64
	var mu sync.Mutex

	for start := 0; start < len(keys); start += e.batchSize {
		end := min(start+e.batchSize, len(keys))
		batchNum++
		if batchNum <= skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: cancelled during synthesis")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.workers)
		for _, key := range keys[start:end] {
			g.Go(func() error {
				res := e.synth.Synthesize(key, groups[key], table.Lookup(key.Role, key.Metro), runID)
				if res.Archetype == nil {
					return nil
				}
				if err := e.persist(gctx, res, runID); err != nil {
					return err
				}
				mu.Lock()
				summary.KeysSynthesized++
				summary.ArchetypesWritten++
				summary.ReviewItems += len(res.ReviewItems)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := e.store.SaveCheckpoint(ctx, model.Checkpoint{
			RunID:     runID,
			Stage:     stageSynthesize,
			Offset:    batchNum,
			UpdatedAt: e.now(),
		}); err != nil {
			return eris.Wrap(err, "pipeline: save synthesis checkpoint")
		}
	}

	if titles := ledger.Snapshot(runID); len(titles) > 0 {
		if _, err := e.store.UpsertUnmatchedTitles(ctx, titles); err != nil {
			return eris.Wrap(err, "pipeline: record unmatched titles")
		}
	}
	summary.UnmatchedTotal = ledger.Total()
	return nil
}

// regroupTouchedKeys rebuilds the per-key groups for an incremental run from
// the full observation history, keeping only the keys the cutoff-filtered
// rows touched. Skip/unmatched counters and the unmatched ledger were already
// tallied from the filtered pass, so this classification feeds throwaway
// bookkeeping.
func (e *Engine) regroupTouchedKeys(ctx context.Context, touched map[model.ArchetypeKey][]*model.ClassifiedObservation, opts Options) (map[model.ArchetypeKey][]*model.ClassifiedObservation, error) {
	raws, err := e.store.ListRawObservations(ctx, store.ObservationFilter{
		SourceIDs: opts.Sources,
		Since:     opts.Since,
		Until:     opts.Until,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list observation history")
	}

	classified, err := e.classify(ctx, raws, taxonomy.NewLedger(), &model.RunSummary{})
	if err != nil {
		return nil, err
	}

	groups := make(map[model.ArchetypeKey][]*model.ClassifiedObservation, len(touched))
	for _, c := range classified {
		k := c.Key()
		if _, ok := touched[k]; ok {
			groups[k] = append(groups[k], c)
		}
	}
	return groups, nil
}

// classTally is one classification worker's per-source counters, merged into
// the summary after the fan-in.
type classTally struct {
	skipped   map[string]int64
	unmatched map[string]int64
}

// classify maps raw observations to classified ones in parallel.
// Classification is pure, so workers fill disjoint slots of a shared slice
// and the output order matches the input order regardless of scheduling.
func (e *Engine) classify(ctx context.Context, raws []model.RawObservation, ledger *taxonomy.Ledger, summary *model.RunSummary) ([]*model.ClassifiedObservation, error) {
	if len(raws) == 0 {
		return nil, nil
	}

	chunk := (len(raws) + e.workers - 1) / e.workers
	numChunks := (len(raws) + chunk - 1) / chunk

	slots := make([]*model.ClassifiedObservation, len(raws))
	tallies := make([]classTally, numChunks)

	g, gctx := errgroup.WithContext(ctx)
	for ci := 0; ci < numChunks; ci++ {
		start := ci * chunk
		end := min(start+chunk, len(raws))
		tally := &tallies[ci]
		tally.skipped = make(map[string]int64)
		tally.unmatched = make(map[string]int64)

		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				raw := raws[i]

				company := identity.CompanyID(raw.RawCompany)
				metro, ok := e.resolver.ResolveMetro(raw.RawLocation)
				if company == "" || !ok {
					tally.skipped[raw.SourceID]++
					continue
				}

				cls := e.rules.Classify(raw.RawTitle)
				if !cls.Matched {
					ledger.Add(raw.RawTitle)
					tally.unmatched[raw.SourceID]++
					continue
				}

				slots[i] = &model.ClassifiedObservation{
					RawObservation:    raw,
					Company:           company,
					Metro:             metro,
					Role:              cls.Role,
					Seniority:         cls.Seniority,
					MappingConfidence: cls.Confidence,
					RuleSetVersion:    cls.RuleSetVersion,
					Ambiguous:         cls.Ambiguous,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: classify")
	}

	for _, t := range tallies {
		for id, n := range t.skipped {
			summary.Source(id).Skipped += n
		}
		for id, n := range t.unmatched {
			summary.Source(id).Unmatched += n
		}
	}

	out := make([]*model.ClassifiedObservation, 0, len(raws))
	for _, c := range slots {
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *Engine) persist(ctx context.Context, res synth.Result, runID string) error {
	arch := res.Archetype
	if err := e.store.SupersedeEvidenceLinks(ctx, arch.ID, runID); err != nil {
		return eris.Wrapf(err, "pipeline: supersede links for %s", arch.ID)
	}
	if _, err := e.store.UpsertArchetypes(ctx, []*model.Archetype{arch}); err != nil {
		return eris.Wrapf(err, "pipeline: upsert archetype %s", arch.ID)
	}
	if _, err := e.store.InsertEvidenceLinks(ctx, res.Links); err != nil {
		return eris.Wrapf(err, "pipeline: insert links for %s", arch.ID)
	}
	if len(res.ReviewItems) > 0 {
		if _, err := e.store.InsertReviewItems(ctx, res.ReviewItems); err != nil {
			return eris.Wrapf(err, "pipeline: insert review items for %s", arch.ID)
		}
	}
	return nil
}

// Materialize synthesizes and persists a single key on demand, outside a
// batch run. It classifies the stored observations that fall on the key and
// consults the macro prior table, so a cell with no direct evidence still
// yields a prior-only record when a prior covers it. Meant for the query
// surface; it scans stored observations and is not a batch path.
func (e *Engine) Materialize(ctx context.Context, key model.ArchetypeKey, runID string) (synth.Result, error) {
	if runID == "" {
		runID = "adhoc-" + uuid.NewString()
	}

	raws, err := e.store.ListRawObservations(ctx, store.ObservationFilter{})
	if err != nil {
		return synth.Result{}, eris.Wrap(err, "pipeline: list observations")
	}

	var obs []*model.ClassifiedObservation
	for i := range raws {
		raw := raws[i]
		company := identity.CompanyID(raw.RawCompany)
		metro, ok := e.resolver.ResolveMetro(raw.RawLocation)
		if company != key.Company || !ok || metro != key.Metro {
			continue
		}
		cls := e.rules.Classify(raw.RawTitle)
		if !cls.Matched || cls.Role != key.Role || cls.Seniority != key.Seniority {
			continue
		}
		obs = append(obs, &model.ClassifiedObservation{
			RawObservation:    raw,
			Company:           company,
			Metro:             metro,
			Role:              cls.Role,
			Seniority:         cls.Seniority,
			MappingConfidence: cls.Confidence,
			RuleSetVersion:    cls.RuleSetVersion,
			Ambiguous:         cls.Ambiguous,
		})
	}

	priors, err := e.store.ListMacroPriors(ctx)
	if err != nil {
		return synth.Result{}, eris.Wrap(err, "pipeline: list macro priors")
	}
	table := evidence.NewPriorTable(priors)

	res := e.synth.Synthesize(key, obs, table.Lookup(key.Role, key.Metro), runID)
	if res.Archetype == nil {
		return res, nil
	}
	if err := e.persist(ctx, res, runID); err != nil {
		return res, err
	}
	return res, nil
}

func terminalStatus(attempted []source.Connector, summary *model.RunSummary) model.RunStatus {
	if len(attempted) == 0 {
		return model.RunSuccess
	}
	failed := 0
	for _, c := range attempted {
		if summary.Source(c.SourceID()).Failed {
			failed++
		}
	}
	switch {
	case failed == len(attempted):
		return model.RunFailed
	case failed > 0:
		return model.RunPartial
	default:
		return model.RunSuccess
	}
}
