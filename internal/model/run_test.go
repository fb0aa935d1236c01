package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunSummary_Source_CreatesBucket(t *testing.T) {
	var s RunSummary
	src := s.Source("payroll_csv")
	src.Processed = 7

	assert.Same(t, src, s.Source("payroll_csv"))
	assert.Equal(t, int64(7), s.Sources["payroll_csv"].Processed)
}

func TestRunSummary_SortedSources_OrderedByID(t *testing.T) {
	var s RunSummary
	s.Source("visa_xlsx")
	s.Source("payroll_csv")
	s.Source("postings_json")

	got := s.SortedSources()
	ids := make([]string, 0, len(got))
	for _, src := range got {
		ids = append(ids, src.SourceID)
	}
	assert.Equal(t, []string{"payroll_csv", "postings_json", "visa_xlsx"}, ids)

	assert.Empty(t, (&RunSummary{}).SortedSources())
}
