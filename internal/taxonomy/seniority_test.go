package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jobsignal/archetype-cli/internal/model"
)

func TestDetectSeniority(t *testing.T) {
	tests := []struct {
		title string
		want  model.Seniority
		found bool
	}{
		{"software engineer", "", false},
		{"junior software engineer", model.SeniorityEntry, true},
		{"jr accountant", model.SeniorityEntry, true},
		{"senior software engineer", model.SenioritySenior, true},
		{"sr data engineer", model.SenioritySenior, true},
		{"staff engineer", model.SenioritySenior, true},
		{"principal engineer", model.SeniorityLead, true},
		{"lead recruiter", model.SeniorityLead, true},
		{"engineering manager", model.SeniorityManager, true},
		{"director of engineering", model.SeniorityDirector, true},
		{"vp of sales", model.SeniorityExec, true},
		{"vice president of finance", model.SeniorityExec, true},
		{"head of people", model.SeniorityExec, true},
		{"chief financial officer", model.SeniorityExec, true},
		{"marketing intern", model.SeniorityIntern, true},

		// Numeral suffixes, trailing position only.
		{"software engineer i", model.SeniorityEntry, true},
		{"software engineer ii", model.SeniorityMid, true},
		{"software engineer iii", model.SenioritySenior, true},
		{"software engineer iv", model.SeniorityLead, true},
		{"software engineer v", model.SeniorityLead, true},
		{"iv technician", "", false},

		// Highest band wins when modifiers compose.
		{"senior software engineer ii", model.SenioritySenior, true},
		{"junior engineer iii", model.SenioritySenior, true},
		{"senior engineering manager", model.SeniorityManager, true},
	}

	for _, tt := range tests {
		got, found := DetectSeniority(tt.title)
		assert.Equal(t, tt.found, found, "title %q", tt.title)
		assert.Equal(t, tt.want, got, "title %q", tt.title)
	}
}

func TestNumeralSuffixesMonotonic(t *testing.T) {
	order := []string{"i", "ii", "iii", "iv", "v"}
	prev := -1
	for _, n := range order {
		rank := numeralSuffixes[n].Rank()
		assert.GreaterOrEqual(t, rank, prev, "numeral %q", n)
		prev = rank
	}
}
