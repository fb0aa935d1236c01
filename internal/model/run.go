package model

import (
	"sort"
	"time"
)

// RunMode selects how much history a pipeline run reprocesses.
type RunMode string

const (
	RunModeFull        RunMode = "full"        // reprocess every stored observation
	RunModeIncremental RunMode = "incremental" // only observations ingested since the last successful run
)

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial" // some sources failed, rest processed
	RunFailed  RunStatus = "failed"  // no source processed
)

// SourceSummary is the per-source slice of the end-of-run report.
type SourceSummary struct {
	SourceID  string `json:"source_id"`
	Processed int64  `json:"processed"`
	Skipped   int64  `json:"skipped"`
	Malformed int64  `json:"malformed"`
	Unmatched int64  `json:"unmatched"`
	Failed    bool   `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// RunSummary is the structured end-of-run report. A run always ends with
// counts, never a bare "done".
type RunSummary struct {
	RunID             string                   `json:"run_id"`
	Mode              RunMode                  `json:"mode"`
	RuleSetVersion    string                   `json:"rule_set_version"`
	Status            RunStatus                `json:"status"`
	Sources           map[string]*SourceSummary `json:"sources"`
	ObservationsTotal int64                    `json:"observations_total"`
	UnmatchedTotal    int64                    `json:"unmatched_total"`
	KeysSynthesized   int                      `json:"keys_synthesized"`
	ArchetypesWritten int                      `json:"archetypes_written"`
	ReviewItems       int                      `json:"review_items"`
	StartedAt         time.Time                `json:"started_at"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
}

// Source returns (creating if needed) the summary bucket for a source.
func (s *RunSummary) Source(id string) *SourceSummary {
	if s.Sources == nil {
		s.Sources = make(map[string]*SourceSummary)
	}
	if _, ok := s.Sources[id]; !ok {
		s.Sources[id] = &SourceSummary{SourceID: id}
	}
	return s.Sources[id]
}

// SortedSources returns the per-source summaries ordered by source id, for
// stable report output.
func (s *RunSummary) SortedSources() []*SourceSummary {
	out := make([]*SourceSummary, 0, len(s.Sources))
	for _, src := range s.Sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Checkpoint records batch progress for a run stage so a crash or
// cancellation resumes without reprocessing from the start.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"` // "ingest" or "synthesize"
	SourceID  string    `json:"source_id,omitempty"`
	Offset    int64     `json:"offset"` // batches completed
	UpdatedAt time.Time `json:"updated_at"`
}
