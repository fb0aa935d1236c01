package model

// Seniority is the normalized seniority band of a classified title.
type Seniority string

const (
	SeniorityIntern   Seniority = "intern"
	SeniorityEntry    Seniority = "entry"
	SeniorityMid      Seniority = "mid"
	SenioritySenior   Seniority = "senior"
	SeniorityLead     Seniority = "lead"
	SeniorityManager  Seniority = "manager"
	SeniorityDirector Seniority = "director"
	SeniorityExec     Seniority = "exec"
)

var seniorityRanks = map[Seniority]int{
	SeniorityIntern:   0,
	SeniorityEntry:    1,
	SeniorityMid:      2,
	SenioritySenior:   3,
	SeniorityLead:     4,
	SeniorityManager:  5,
	SeniorityDirector: 6,
	SeniorityExec:     7,
}

// Rank returns the ordinal position of the seniority band, -1 if unknown.
func (s Seniority) Rank() int {
	if r, ok := seniorityRanks[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the defined bands.
func (s Seniority) Valid() bool {
	return s.Rank() >= 0
}

// CanonicalRole is a stable occupation category. Many raw titles map to one
// role; the role id never changes once published (archetype keys depend on it).
type CanonicalRole struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Family string `json:"family" yaml:"family"`
}

// RuleKind discriminates how a TitleMappingRule's pattern is evaluated.
type RuleKind string

const (
	RuleExact     RuleKind = "exact"     // normalized title equals pattern
	RuleSubstring RuleKind = "substring" // normalized title contains pattern
	RulePattern   RuleKind = "pattern"   // regular expression match
)

// TitleMappingRule maps raw-title text onto a canonical role. Rules are
// ordered and immutable within a run; the set as a whole carries a version.
type TitleMappingRule struct {
	Pattern        string    `json:"pattern" yaml:"pattern"`
	Kind           RuleKind  `json:"kind" yaml:"kind"`
	Role           string    `json:"role" yaml:"role"`
	Seniority      Seniority `json:"seniority,omitempty" yaml:"seniority,omitempty"`
	BaseConfidence float64   `json:"confidence" yaml:"confidence"`
	Priority       int       `json:"priority" yaml:"priority"`
}

// UnmatchedTitle is one row of the unmatched-title ledger, accumulated so the
// rule set can be grown over time. Not an error condition.
type UnmatchedTitle struct {
	NormalizedTitle string `json:"normalized_title"`
	SampleRawTitle  string `json:"sample_raw_title"`
	Count           int64  `json:"count"`
	FirstSeenRun    string `json:"first_seen_run"`
	LastSeenRun     string `json:"last_seen_run"`
}
