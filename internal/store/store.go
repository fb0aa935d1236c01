// Package store persists the archetype pipeline's state: raw observations,
// synthesized archetypes, provenance links, the review queue, the unmatched
// ledger, macro priors, and run bookkeeping. Two backends implement the same
// interface: Postgres for production and SQLite for local runs.
package store

import (
	"context"
	"time"

	"github.com/jobsignal/archetype-cli/internal/model"
)

// ObservationFilter selects raw observations for a pipeline run.
type ObservationFilter struct {
	SourceIDs     []string  `json:"source_ids,omitempty"`
	Since         time.Time `json:"since,omitempty"`          // as_of lower bound
	Until         time.Time `json:"until,omitempty"`          // as_of upper bound
	IngestedAfter time.Time `json:"ingested_after,omitempty"` // incremental mode cutoff
	Limit         int       `json:"limit,omitempty"`
	Offset        int       `json:"offset,omitempty"`
}

// ArchetypeFilter selects archetypes for downstream consumers.
type ArchetypeFilter struct {
	Company       string           `json:"company,omitempty"`
	Metro         string           `json:"metro,omitempty"`
	Role          string           `json:"role,omitempty"`
	Seniority     model.Seniority  `json:"seniority,omitempty"`
	RecordType    model.RecordType `json:"record_type,omitempty"`
	MinConfidence float64          `json:"min_confidence,omitempty"`
	NeedsReview   *bool            `json:"needs_review,omitempty"`
	Limit         int              `json:"limit,omitempty"`
}

// Store defines the persistence interface for the archetype pipeline.
type Store interface {
	// Raw observations. Upserts are idempotent by (source_id,
	// source_document_id) so resumed and repeated ingests never duplicate.
	UpsertRawObservations(ctx context.Context, obs []model.RawObservation) (int64, error)
	ListRawObservations(ctx context.Context, f ObservationFilter) ([]model.RawObservation, error)

	// Archetypes. One row per key, upserted by id.
	UpsertArchetypes(ctx context.Context, archetypes []*model.Archetype) (int64, error)
	GetArchetype(ctx context.Context, id string) (*model.Archetype, error)
	QueryArchetypes(ctx context.Context, f ArchetypeFilter) ([]model.Archetype, error)

	// Provenance. Links are append-only: a recomputation stamps the key's
	// previous links superseded_by_run before inserting the new ones.
	SupersedeEvidenceLinks(ctx context.Context, archetypeID, runID string) error
	InsertEvidenceLinks(ctx context.Context, links []model.EvidenceLink) (int64, error)
	ListEvidenceLinks(ctx context.Context, archetypeID string, includeSuperseded bool) ([]model.EvidenceLink, error)

	// Review queue.
	InsertReviewItems(ctx context.Context, items []model.ReviewItem) (int64, error)
	ListReviewItems(ctx context.Context, status model.ReviewStatus, limit int) ([]model.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, id int64, status model.ReviewStatus) error

	// Unmatched-title ledger.
	UpsertUnmatchedTitles(ctx context.Context, titles []model.UnmatchedTitle) (int64, error)
	ListUnmatchedTitles(ctx context.Context, limit int) ([]model.UnmatchedTitle, error)

	// Macro priors (role x metro employment/wage table).
	UpsertMacroPriors(ctx context.Context, priors []model.MacroPrior) (int64, error)
	ListMacroPriors(ctx context.Context) ([]model.MacroPrior, error)

	// Evidence source registry.
	UpsertEvidenceSources(ctx context.Context, sources []model.EvidenceSource) (int64, error)
	ListEvidenceSources(ctx context.Context) ([]model.EvidenceSource, error)

	// Run log.
	StartRun(ctx context.Context, summary *model.RunSummary) error
	CompleteRun(ctx context.Context, summary *model.RunSummary) error
	LastSuccessfulRun(ctx context.Context) (*time.Time, error)
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)

	// Checkpoints for resumable batch processing.
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	LoadCheckpoints(ctx context.Context, runID string) ([]model.Checkpoint, error)
	DeleteCheckpoints(ctx context.Context, runID string) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
