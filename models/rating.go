package models

import "time"

type ScopeType string

const (
	ScopeDivision ScopeType = "division"
	ScopeSeason   ScopeType = "season"
)

// RatingScope is the partition within which a player's rating is tracked
// independently of other partitions.
type RatingScope struct {
	Type ScopeType `json:"type"`
	ID   int       `json:"id"`
}

// PlayerRating is the current skill snapshot for one (player, scope, game
// type) tuple. Only the rating engine and explicit administrative
// adjustments may mutate it.
type PlayerRating struct {
	ID       int         `json:"id"`
	PlayerID int         `json:"player_id"`
	Scope    RatingScope `json:"scope"`
	Sport    Sport       `json:"sport"`
	GameType GameType    `json:"game_type"`

	Rating     float64 `json:"rating"`
	Deviation  float64 `json:"deviation"`
	Volatility float64 `json:"volatility"`

	MatchesPlayed int  `json:"matches_played"`
	IsProvisional bool `json:"is_provisional"`

	PeakRating   float64    `json:"peak_rating"`
	PeakAt       *time.Time `json:"peak_at,omitempty"`
	LowestRating float64    `json:"lowest_rating"`

	UpdatedAt time.Time `json:"updated_at"`
}

type RatingReason string

const (
	ReasonMatchWin      RatingReason = "match_win"
	ReasonMatchLoss     RatingReason = "match_loss"
	ReasonMatchDraw     RatingReason = "match_draw"
	ReasonWalkoverWin   RatingReason = "walkover_win"
	ReasonWalkoverLoss  RatingReason = "walkover_loss"
	ReasonAdjustment    RatingReason = "adjustment"
	ReasonRecalculation RatingReason = "recalculation"
)

// RatingHistory is an append-only ledger entry. For a given PlayerRating,
// entries ordered by creation form a chain where each RatingBefore equals
// the previous entry's RatingAfter. Entries are never updated or deleted
// outside of a recalculation rebuild.
type RatingHistory struct {
	ID             int          `json:"id"`
	PlayerRatingID int          `json:"player_rating_id"`
	MatchID        *int         `json:"match_id,omitempty"`
	RatingBefore   float64      `json:"rating_before"`
	RatingAfter    float64      `json:"rating_after"`
	Delta          float64      `json:"delta"`
	DevBefore      float64      `json:"deviation_before"`
	DevAfter       float64      `json:"deviation_after"`
	Reason         RatingReason `json:"reason"`
	CreatedAt      time.Time    `json:"created_at"`
}

// RatingAdjustment records a human-reviewed correction layered on top of the
// engine's output. It always produces a RatingHistory entry with reason
// "adjustment" and never mutates past entries.
type RatingAdjustment struct {
	ID             int       `json:"id"`
	PlayerRatingID int       `json:"player_rating_id"`
	AdminID        int       `json:"admin_id"`
	Delta          float64   `json:"delta"`
	Note           string    `json:"note"`
	CreatedAt      time.Time `json:"created_at"`
}

// RatingQueueItem is a durable rating-processing task written in the same
// transaction that makes a match rating-eligible.
type RatingQueueItem struct {
	ID          int         `json:"id"`
	MatchID     int         `json:"match_id"`
	Scope       RatingScope `json:"scope"`
	GameType    GameType    `json:"game_type"`
	Attempts    int         `json:"attempts"`
	LastError   *string     `json:"last_error,omitempty"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}
