package models

import (
	"time"

	"github.com/google/uuid"
)

type RecalcScope string

const (
	RecalcScopeMatch    RecalcScope = "match"
	RecalcScopePlayer   RecalcScope = "player"
	RecalcScopeDivision RecalcScope = "division"
	RecalcScopeSeason   RecalcScope = "season"
)

type RecalcStatus string

const (
	RecalcStatusPending      RecalcStatus = "pending"
	RecalcStatusPreviewReady RecalcStatus = "preview_ready"
	RecalcStatusApplied      RecalcStatus = "applied"
	RecalcStatusFailed       RecalcStatus = "failed"
	RecalcStatusCancelled    RecalcStatus = "cancelled"
)

// RatingRecalculation is a two-phase replay job. Once applied it is terminal
// and immutable; a failed or cancelled job must not have touched any live
// PlayerRating or RatingHistory row.
type RatingRecalculation struct {
	ID       int         `json:"id"`
	PublicID uuid.UUID   `json:"public_id"`
	Scope    RecalcScope `json:"scope"`
	TargetID int         `json:"target_id"`

	Status          RecalcStatus `json:"status"`
	AffectedPlayers int          `json:"affected_players"`
	// PreviewSummary holds the compact JSON summary shown to operators; the
	// full per-player payload is archived to object storage under ArchiveKey.
	PreviewSummary *string `json:"preview_summary,omitempty"`
	ArchiveKey     *string `json:"archive_key,omitempty"`
	LastError      *string `json:"last_error,omitempty"`

	RequestedBy int        `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	PreviewedAt *time.Time `json:"previewed_at,omitempty"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// PreviewSummary is the operator-facing digest of a preview run.
type PreviewSummary struct {
	AffectedPlayers int     `json:"affected_players"`
	AverageDelta    float64 `json:"average_delta"`
	MaxDelta        float64 `json:"max_delta"`
	MatchesReplayed int     `json:"matches_replayed"`
}

// PreviewPlayerDelta is one row of the archived full preview payload.
type PreviewPlayerDelta struct {
	PlayerID     int         `json:"player_id"`
	Scope        RatingScope `json:"scope"`
	GameType     GameType    `json:"game_type"`
	RatingBefore float64     `json:"rating_before"`
	RatingAfter  float64     `json:"rating_after"`
	Delta        float64     `json:"delta"`
}
