// Package source holds the ingestion connectors. Each connector knows one
// upstream feed (a payroll extract, a postings snapshot, a visa disclosure
// workbook), pulls it through the fetcher, and emits StandardRawRecords for
// the pipeline to persist. Connectors never classify or aggregate.
package source

import (
	"context"
	"time"

	"github.com/jobsignal/archetype-cli/internal/fetcher"
	"github.com/jobsignal/archetype-cli/internal/model"
)

// FetchResult is the outcome of one connector pull.
type FetchResult struct {
	Emitted   int64 // records handed to the pipeline
	Malformed int64 // rows skipped for missing required fields
}

// Emit receives one validated record. Returning an error aborts the fetch.
type Emit func(model.StandardRawRecord) error

// Connector is the interface every upstream feed implements.
type Connector interface {
	// SourceID is the unique identifier recorded on every observation
	// (e.g. "payroll_csv").
	SourceID() string

	// Source describes the feed's reliability tier and evidence type for
	// the source registry.
	Source() model.EvidenceSource

	// Cadence is how often the upstream publishes.
	Cadence() Cadence

	// ShouldRun decides whether a pull is due, given the last successful
	// run (nil if never).
	ShouldRun(now time.Time, lastRun *time.Time) bool

	// Fetch downloads and parses the feed, emitting one record per row.
	// Malformed rows are counted and skipped, never fatal. tempDir is
	// scratch space for downloads.
	Fetch(ctx context.Context, f fetcher.Fetcher, tempDir string, emit Emit) (*FetchResult, error)
}
