package taxonomy

import (
	"sort"
	"sync"

	"github.com/jobsignal/archetype-cli/internal/model"
)

// Ledger accumulates unmatched titles during a run. Unmatched is not an
// error: the rows feed taxonomy growth, they just contribute no evidence this
// run. Safe for concurrent use by classification workers.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
}

type ledgerEntry struct {
	sample string
	count  int64
}

// NewLedger creates an empty unmatched-title ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*ledgerEntry)}
}

// Add records one unmatched raw title under its normalized form.
func (l *Ledger) Add(rawTitle string) {
	norm := NormalizeTitle(rawTitle)
	if norm == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[norm]; ok {
		e.count++
		return
	}
	l.entries[norm] = &ledgerEntry{sample: rawTitle, count: 1}
}

// Total returns the number of unmatched rows recorded.
func (l *Ledger) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for _, e := range l.entries {
		n += e.count
	}
	return n
}

// Snapshot returns the ledger contents sorted by normalized title, ready for
// an idempotent store upsert. runID stamps first/last seen for new rows.
func (l *Ledger) Snapshot(runID string) []model.UnmatchedTitle {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.UnmatchedTitle, 0, len(l.entries))
	for norm, e := range l.entries {
		out = append(out, model.UnmatchedTitle{
			NormalizedTitle: norm,
			SampleRawTitle:  e.sample,
			Count:           e.count,
			FirstSeenRun:    runID,
			LastSeenRun:     runID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedTitle < out[j].NormalizedTitle })
	return out
}
