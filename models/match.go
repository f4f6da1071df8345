package models

import "time"

type MatchStatus string

const (
	MatchStatusScheduled  MatchStatus = "scheduled"
	MatchStatusOngoing    MatchStatus = "ongoing"
	MatchStatusCompleted  MatchStatus = "completed"
	MatchStatusCancelled  MatchStatus = "cancelled"
	MatchStatusWalkover   MatchStatus = "walkover"
	MatchStatusUnfinished MatchStatus = "unfinished"
)

// IsTerminal reports whether no further lifecycle transitions are allowed.
func (s MatchStatus) IsTerminal() bool {
	switch s {
	case MatchStatusCompleted, MatchStatusCancelled, MatchStatusWalkover, MatchStatusUnfinished:
		return true
	}
	return false
}

type Sport string

const (
	SportTennis     Sport = "tennis"
	SportPadel      Sport = "padel"
	SportPickleball Sport = "pickleball"
)

type GameType string

const (
	GameTypeSingles GameType = "singles"
	GameTypeDoubles GameType = "doubles"
)

// PlayersPerSide returns how many accepted participants each side needs
// before the match can influence ratings.
func (g GameType) PlayersPerSide() int {
	if g == GameTypeDoubles {
		return 2
	}
	return 1
}

type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

func (s Side) Opposite() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

type MatchOutcome string

const (
	OutcomeSideA MatchOutcome = "side_a"
	OutcomeSideB MatchOutcome = "side_b"
	OutcomeTie   MatchOutcome = "tie"
)

// OutcomeForWinner maps a winning side to the match outcome value.
func OutcomeForWinner(side Side) MatchOutcome {
	if side == SideA {
		return OutcomeSideA
	}
	return OutcomeSideB
}

type Match struct {
	ID         int       `json:"id"`
	Sport      Sport     `json:"sport"`
	GameType   GameType  `json:"game_type"`
	DivisionID *int      `json:"division_id,omitempty"`
	SeasonID   *int      `json:"season_id,omitempty"`
	MatchDate  time.Time `json:"match_date"`

	Status     MatchStatus   `json:"status"`
	SideAScore *int          `json:"side_a_score,omitempty"`
	SideBScore *int          `json:"side_b_score,omitempty"`
	Outcome    *MatchOutcome `json:"outcome,omitempty"`

	IsFriendly     bool  `json:"is_friendly"`
	IsWalkover     bool  `json:"is_walkover"`
	IsDisputed     bool  `json:"is_disputed"`
	DefaultingSide *Side `json:"defaulting_side,omitempty"`

	ResultSubmittedBy *int       `json:"result_submitted_by,omitempty"`
	ResultSubmittedAt *time.Time `json:"result_submitted_at,omitempty"`
	ResultConfirmedBy *int       `json:"result_confirmed_by,omitempty"`
	ResultConfirmedAt *time.Time `json:"result_confirmed_at,omitempty"`
	// ResultForcedBy is set when an administrator resolved a dispute by
	// forcing the outcome instead of replaying the confirmation flow.
	ResultForcedBy *int `json:"result_forced_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RatingScope returns the partition this match is rated in. A match with
// neither division nor season (a friendly) has no scope and the second
// return value is false.
func (m *Match) RatingScope() (RatingScope, bool) {
	if m.DivisionID != nil {
		return RatingScope{Type: ScopeDivision, ID: *m.DivisionID}, true
	}
	if m.SeasonID != nil {
		return RatingScope{Type: ScopeSeason, ID: *m.SeasonID}, true
	}
	return RatingScope{}, false
}

type ParticipantRole string

const (
	RoleCreator  ParticipantRole = "creator"
	RolePartner  ParticipantRole = "partner"
	RoleOpponent ParticipantRole = "opponent"
)

type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantDeclined ParticipantStatus = "declined"
)

type MatchParticipant struct {
	ID        int               `json:"id"`
	MatchID   int               `json:"match_id"`
	UserID    int               `json:"user_id"`
	Role      ParticipantRole   `json:"role"`
	Side      Side              `json:"side"`
	Status    ParticipantStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

type ScoreKind string

const (
	// ScoreKindSet is a tennis/padel set: games won per side, with optional
	// tiebreak points deciding sets where the game counts are equal.
	ScoreKindSet ScoreKind = "set"
	// ScoreKindGame is a pickleball game: points per side.
	ScoreKindGame ScoreKind = "game"
)

// ScoreEntry is one ordered set or game of a match. Entries are immutable
// once the match reaches a terminal state; the rating engine never reads
// them directly, only the side scores and outcome derived from them.
type ScoreEntry struct {
	ID        int       `json:"id"`
	MatchID   int       `json:"match_id"`
	Position  int       `json:"position"`
	Kind      ScoreKind `json:"kind"`
	SideA     int       `json:"side_a"`
	SideB     int       `json:"side_b"`
	TiebreakA *int      `json:"tiebreak_a,omitempty"`
	TiebreakB *int      `json:"tiebreak_b,omitempty"`
}

// ScoreInput is the raw submission shape before validation.
type ScoreInput struct {
	SideA     int  `json:"side_a"`
	SideB     int  `json:"side_b"`
	TiebreakA *int `json:"tiebreak_a,omitempty"`
	TiebreakB *int `json:"tiebreak_b,omitempty"`
}
