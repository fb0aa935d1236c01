package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// archetypeNamespace seeds deterministic archetype IDs so identical inputs
// across runs produce identical rows.
var archetypeNamespace = uuid.MustParse("7b1d9a52-90c4-4e3a-9d5e-2f8a4c6b1e03")

// ArchetypeKey is the unique identity of an archetype: Company x Metro x
// Canonical Role x Seniority. Adding rules or roles to the taxonomy must
// never change an existing key.
type ArchetypeKey struct {
	Company   string    `json:"company"`
	Metro     string    `json:"metro"`
	Role      string    `json:"role"`
	Seniority Seniority `json:"seniority"`
}

// String renders the key in its canonical pipe-delimited form.
func (k ArchetypeKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Company, k.Metro, k.Role, k.Seniority)
}

// ArchetypeID derives the stable row ID for this key. SHA1-based UUIDv5 so
// re-runs upsert the same row.
func (k ArchetypeKey) ArchetypeID() string {
	return uuid.NewSHA1(archetypeNamespace, []byte(k.String())).String()
}

// RecordType separates direct-evidence archetypes from prior-backed ones.
type RecordType string

const (
	RecordObserved RecordType = "observed" // built from row-level evidence
	RecordInferred RecordType = "inferred" // macro prior used (pure or fused)
)

// ConfidenceComponents is the audited breakdown behind a composite
// confidence. Each component is in [0,1].
type ConfidenceComponents struct {
	SourceWeight      float64 `json:"source_weight"`
	VolumeFactor      float64 `json:"volume_factor"`
	AgreementFactor   float64 `json:"agreement_factor"`
	RecencyFactor     float64 `json:"recency_factor"`
	MappingConfidence float64 `json:"mapping_confidence"`
}

// SourceContribution summarizes one source's share of an archetype's evidence.
type SourceContribution struct {
	SourceID string  `json:"source_id"`
	Tier     Tier    `json:"tier"`
	Rows     int     `json:"rows"`
	Weight   float64 `json:"weight"`
}

// EvidenceSummary describes what fed an archetype, exposed to consumers so
// inference is never mistaken for observation.
type EvidenceSummary struct {
	ObservationCount int                  `json:"observation_count"`
	WeightedCount    float64              `json:"weighted_count"`
	SourceCount      int                  `json:"source_count"`
	PriorUsed        bool                 `json:"prior_used"`
	Fused            bool                 `json:"fused"`
	OldestAsOf       *time.Time           `json:"oldest_as_of,omitempty"`
	NewestAsOf       *time.Time           `json:"newest_as_of,omitempty"`
	TopSources       []SourceContribution `json:"top_sources,omitempty"`
}

// Archetype is the confidence-scored aggregate estimate for one key.
// One persisted row per key; upserted by each pipeline run, never deleted.
type Archetype struct {
	ID         string       `json:"id"`
	Key        ArchetypeKey `json:"key"`
	RecordType RecordType   `json:"record_type"`

	HeadcountP10 float64 `json:"headcount_p10"`
	HeadcountP50 float64 `json:"headcount_p50"`
	HeadcountP90 float64 `json:"headcount_p90"`

	SalaryP25    float64 `json:"salary_p25"`
	SalaryP50    float64 `json:"salary_p50"`
	SalaryP75    float64 `json:"salary_p75"`
	SalaryMean   float64 `json:"salary_mean"`
	SalaryStdDev float64 `json:"salary_stddev"`

	CompositeConfidence float64              `json:"composite_confidence"`
	Components          ConfidenceComponents `json:"confidence_components"`
	Evidence            EvidenceSummary      `json:"evidence_summary"`
	NeedsReview         bool                 `json:"needs_review"`

	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderingValid reports whether both distributions satisfy the ordering
// invariant (p10<=p50<=p90, p25<=p50<=p75).
func (a *Archetype) OrderingValid() bool {
	return a.HeadcountP10 <= a.HeadcountP50 && a.HeadcountP50 <= a.HeadcountP90 &&
		a.SalaryP25 <= a.SalaryP50 && a.SalaryP50 <= a.SalaryP75
}

// EvidenceType tags what kind of evidence an EvidenceLink points at.
type EvidenceType string

const (
	EvidencePayroll    EvidenceType = "payroll"
	EvidencePosting    EvidenceType = "posting"
	EvidenceVisa       EvidenceType = "visa"
	EvidenceCBA        EvidenceType = "cba"
	EvidenceMacroPrior EvidenceType = "macro_prior"
)

// Observed reports whether this evidence type counts as direct observation
// for the observed/inferred invariant.
func (t EvidenceType) Observed() bool {
	switch t {
	case EvidencePayroll, EvidencePosting, EvidenceVisa, EvidenceCBA:
		return true
	default:
		return false
	}
}

// Contribution flags which archetype fields a piece of evidence fed.
type Contribution string

const (
	ContributedHeadcount Contribution = "headcount"
	ContributedSalary    Contribution = "salary"
	ContributedExistence Contribution = "existence"
)

// EvidenceLink is one edge of the provenance graph. Rows are append-only per
// run; a recomputation supersedes the key's previous links (stamping
// superseded_by_run) before writing new ones, so historic trails remain
// reconstructable.
type EvidenceLink struct {
	ID              int64          `json:"id,omitempty"`
	ArchetypeID     string         `json:"archetype_id"`
	EvidenceType    EvidenceType   `json:"evidence_type"`
	EvidenceID      string         `json:"evidence_id"` // source_id:source_document_id, or prior key
	Weight          float64        `json:"weight"`
	ContributedTo   []Contribution `json:"contributed_to"`
	RunID           string         `json:"run_id"`
	SupersededByRun string         `json:"superseded_by_run,omitempty"`
}

// Tier classifies source reliability: A official records, B observed
// postings, C macro statistical priors.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// EvidenceSource describes a registered data source and its reliability.
type EvidenceSource struct {
	ID           string       `json:"id"`
	Tier         Tier         `json:"tier"`
	BaseWeight   float64      `json:"base_weight"` // in [0,1]
	EvidenceType EvidenceType `json:"evidence_type"`
}

// MacroPrior is one row of the role x metro employment/wage table consulted
// when direct evidence is absent or sparse.
type MacroPrior struct {
	Role           string    `json:"role"`
	Metro          string    `json:"metro"`
	Employment     int64     `json:"employment"`
	Establishments int64     `json:"establishments"`
	WageP25        float64   `json:"wage_p25"`
	WageMedian     float64   `json:"wage_median"`
	WageP75        float64   `json:"wage_p75"`
	WageMean       float64   `json:"wage_mean"`
	AsOf           time.Time `json:"as_of"`
	SourceID       string    `json:"source_id"`
}

// HeadcountPerEmployer returns the prior's per-employer headcount estimate.
func (p *MacroPrior) HeadcountPerEmployer() float64 {
	if p.Establishments <= 0 {
		return float64(p.Employment)
	}
	return float64(p.Employment) / float64(p.Establishments)
}
