package model

import "time"

// ReviewStatus tracks the lifecycle of a human-review item.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewAccepted ReviewStatus = "accepted"
	ReviewRejected ReviewStatus = "rejected"
)

// ReviewItemType says what kind of decision the reviewer is being asked about.
type ReviewItemType string

const (
	ReviewAmbiguousMapping ReviewItemType = "ambiguous_mapping"
	ReviewLowConfidence    ReviewItemType = "low_confidence"
)

// ReviewItem is a human-in-the-loop correction request. Archetype
// materialization never blocks on review; this is a decoupled side channel.
type ReviewItem struct {
	ID               int64          `json:"id,omitempty"`
	ItemType         ReviewItemType `json:"item_type"`
	ArchetypeID      string         `json:"archetype_id,omitempty"`
	CurrentValue     string         `json:"current_value"`
	SuggestedValue   string         `json:"suggested_value,omitempty"`
	Confidence       float64        `json:"confidence"`
	IssueDescription string         `json:"issue_description"`
	Status           ReviewStatus   `json:"status"`
	RunID            string         `json:"run_id"`
	CreatedAt        time.Time      `json:"created_at"`
}
