package models

import "time"

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Dispute references exactly one match and stays open until an administrator
// resolves it. While a dispute is open the match has no rating history.
type Dispute struct {
	ID             int           `json:"id"`
	MatchID        int           `json:"match_id"`
	OpenedBy       int           `json:"opened_by"`
	Reason         string        `json:"reason"`
	Status         DisputeStatus `json:"status"`
	ResolvedBy     *int          `json:"resolved_by,omitempty"`
	ResolutionNote *string       `json:"resolution_note,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}
