package services

import (
	"fmt"

	"github.com/NxTech4021/dl-backend-sub004/models"
)

// SideScores is the normalized result of score validation: units (sets or
// games) won per side plus the derived match outcome.
type SideScores struct {
	SideA   int
	SideB   int
	Outcome models.MatchOutcome
}

// ScoreKindForSport returns the score-entry shape a sport uses. Tennis and
// padel submit per-set games, pickleball submits per-game points; never both.
func ScoreKindForSport(sport models.Sport) models.ScoreKind {
	if sport == models.SportPickleball {
		return models.ScoreKindGame
	}
	return models.ScoreKindSet
}

// ValidateScores normalizes an ordered list of raw set/game scores into side
// scores and an outcome. A side wins a unit when its count is strictly
// greater; equal game counts are only legal for sets decided by a tiebreak.
// Equal units over all entries yield a tie, which is rating-eligible but
// draw-weighted by the engine.
func ValidateScores(kind models.ScoreKind, inputs []models.ScoreInput) (SideScores, []*models.ScoreEntry, error) {
	if len(inputs) == 0 {
		return SideScores{}, nil, ErrScoreRequired
	}

	var result SideScores
	entries := make([]*models.ScoreEntry, 0, len(inputs))
	for i, in := range inputs {
		if in.SideA < 0 || in.SideB < 0 {
			return SideScores{}, nil, fmt.Errorf("%w: entry %d has negative counts", ErrInvalidScore, i+1)
		}
		winner, err := unitWinner(kind, in, i+1)
		if err != nil {
			return SideScores{}, nil, err
		}
		if winner == models.SideA {
			result.SideA++
		} else {
			result.SideB++
		}
		entries = append(entries, &models.ScoreEntry{
			Position:  i + 1,
			Kind:      kind,
			SideA:     in.SideA,
			SideB:     in.SideB,
			TiebreakA: in.TiebreakA,
			TiebreakB: in.TiebreakB,
		})
	}

	switch {
	case result.SideA > result.SideB:
		result.Outcome = models.OutcomeSideA
	case result.SideB > result.SideA:
		result.Outcome = models.OutcomeSideB
	default:
		result.Outcome = models.OutcomeTie
	}
	return result, entries, nil
}

func unitWinner(kind models.ScoreKind, in models.ScoreInput, position int) (models.Side, error) {
	if in.SideA > in.SideB {
		return models.SideA, nil
	}
	if in.SideB > in.SideA {
		return models.SideB, nil
	}

	// Equal counts: only a tiebreak-decided set may resolve this.
	if kind != models.ScoreKindSet || in.TiebreakA == nil || in.TiebreakB == nil {
		return "", fmt.Errorf("%w: entry %d is tied with no tiebreak", ErrInvalidScore, position)
	}
	if *in.TiebreakA > *in.TiebreakB {
		return models.SideA, nil
	}
	if *in.TiebreakB > *in.TiebreakA {
		return models.SideB, nil
	}
	return "", fmt.Errorf("%w: entry %d tiebreak is tied", ErrInvalidScore, position)
}
