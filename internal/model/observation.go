package model

import (
	"strings"
	"time"
)

// StandardRawRecord is the wire format every source connector emits.
// Connectors guarantee RawTitle and SourceDocumentID are non-empty; every
// other field is optional.
type StandardRawRecord struct {
	RawCompany       string         `json:"raw_company,omitempty"`
	RawLocation      string         `json:"raw_location,omitempty"`
	RawTitle         string         `json:"raw_title"`
	RawDescription   string         `json:"raw_description,omitempty"`
	RawSalaryMin     *float64       `json:"raw_salary_min,omitempty"`
	RawSalaryMax     *float64       `json:"raw_salary_max,omitempty"`
	SourceID         string         `json:"source_id"`
	SourceDocumentID string         `json:"source_document_id"`
	AsOfDate         time.Time      `json:"as_of_date"`
	RawData          map[string]any `json:"raw_data,omitempty"`
}

// Validate reports whether the record carries the fields connectors are
// required to populate. Records failing validation are skipped and counted,
// never fatal.
func (r *StandardRawRecord) Validate() bool {
	return strings.TrimSpace(r.RawTitle) != "" &&
		strings.TrimSpace(r.SourceDocumentID) != "" &&
		strings.TrimSpace(r.SourceID) != ""
}

// RawObservation is one persisted row of evidence. Immutable once ingested;
// the natural key (source_id, source_document_id) makes re-ingestion an
// idempotent upsert.
type RawObservation struct {
	ID               int64          `json:"id,omitempty"`
	SourceID         string         `json:"source_id"`
	SourceDocumentID string         `json:"source_document_id"`
	RawCompany       string         `json:"raw_company,omitempty"`
	RawLocation      string         `json:"raw_location,omitempty"`
	RawTitle         string         `json:"raw_title"`
	SalaryMin        *float64       `json:"salary_min,omitempty"`
	SalaryMax        *float64       `json:"salary_max,omitempty"`
	AsOf             time.Time      `json:"as_of"`
	Weight           float64        `json:"weight"`
	RawData          map[string]any `json:"raw_data,omitempty"`
	IngestedAt       time.Time      `json:"ingested_at"`
}

// SalaryPoint returns the single salary value this observation contributes,
// collapsing a min/max range to its midpoint. ok is false when the
// observation carries no salary evidence.
func (o *RawObservation) SalaryPoint() (float64, bool) {
	switch {
	case o.SalaryMin != nil && o.SalaryMax != nil:
		return (*o.SalaryMin + *o.SalaryMax) / 2, true
	case o.SalaryMin != nil:
		return *o.SalaryMin, true
	case o.SalaryMax != nil:
		return *o.SalaryMax, true
	default:
		return 0, false
	}
}

// ClassifiedObservation is a RawObservation joined with its resolved
// identities and title classification. Derived, never mutates the raw row;
// recomputed whenever the rule-set version changes.
type ClassifiedObservation struct {
	RawObservation

	Company           string    `json:"company"`
	Metro             string    `json:"metro"`
	Role              string    `json:"role"`
	Seniority         Seniority `json:"seniority"`
	MappingConfidence float64   `json:"mapping_confidence"`
	RuleSetVersion    string    `json:"rule_set_version"`
	Ambiguous         bool      `json:"ambiguous"`
}

// Key returns the archetype identity this observation contributes to.
func (c *ClassifiedObservation) Key() ArchetypeKey {
	return ArchetypeKey{
		Company:   c.Company,
		Metro:     c.Metro,
		Role:      c.Role,
		Seniority: c.Seniority,
	}
}
