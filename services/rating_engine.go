package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
)

// RatingStore is the persistence surface the engine writes through. The
// postgres RatingRepository satisfies it; the recalculation orchestrator
// substitutes an in-memory scratch store during previews.
type RatingStore interface {
	GetOrCreateForUpdate(ctx context.Context, exec repositories.SQLExecutor, playerID int, scope models.RatingScope, sport models.Sport, gameType models.GameType, seed repositories.RatingSeed) (*models.PlayerRating, error)
	Save(ctx context.Context, exec repositories.SQLExecutor, rating *models.PlayerRating) error
	AppendHistory(ctx context.Context, exec repositories.SQLExecutor, entry *models.RatingHistory) error
	HasMatchHistory(ctx context.Context, exec repositories.SQLExecutor, matchID int, scope models.RatingScope, gameType models.GameType) (bool, error)
	LastAppliedMatchDate(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType) (*time.Time, error)
}

type EngineConfig struct {
	Seed repositories.RatingSeed
	// ProvisionalThreshold is the matches-played count at which a rating
	// stops being provisional.
	ProvisionalThreshold int
	// WalkoverWeight scales the rating movement of a walkover in (0,1].
	// A forfeited match says less about skill than a played one, so the
	// defaulting side is deliberately penalized less than a competitive
	// loss would penalize it. This is policy, not part of the numeric model.
	WalkoverWeight float64
}

// RatingEngine turns one finalized match into rating deltas plus history
// entries for every accepted participant, exactly once, in chronological
// order per (scope, game type) partition.
type RatingEngine struct {
	model SkillModel
	cfg   EngineConfig
}

func NewRatingEngine(model SkillModel, cfg EngineConfig) *RatingEngine {
	if cfg.WalkoverWeight <= 0 || cfg.WalkoverWeight > 1 {
		cfg.WalkoverWeight = 0.25
	}
	if cfg.ProvisionalThreshold <= 0 {
		cfg.ProvisionalThreshold = 10
	}
	return &RatingEngine{model: model, cfg: cfg}
}

// ApplyMatch applies a rating-eligible match to all its accepted
// participants. All guards run before any write; the caller must supply a
// transactional executor so the full set of rating/history writes commits
// atomically.
func (e *RatingEngine) ApplyMatch(ctx context.Context, exec repositories.SQLExecutor, store RatingStore, match *models.Match, participants []*models.MatchParticipant) ([]*models.RatingHistory, error) {
	scope, ok := match.RatingScope()
	if !ok || match.IsFriendly {
		return nil, fmt.Errorf("%w: match %d has no division or season", ErrNotRatingEligible, match.ID)
	}
	if match.Status != models.MatchStatusCompleted && match.Status != models.MatchStatusWalkover {
		return nil, fmt.Errorf("%w: match %d is %s", ErrNotRatingEligible, match.ID, match.Status)
	}
	if match.Outcome == nil {
		return nil, fmt.Errorf("%w: match %d has no outcome", ErrNotRatingEligible, match.ID)
	}
	if match.IsDisputed {
		return nil, fmt.Errorf("%w: match %d", ErrDisputePending, match.ID)
	}

	sides, err := splitSides(match, participants)
	if err != nil {
		return nil, err
	}

	processed, err := store.HasMatchHistory(ctx, exec, match.ID, scope, match.GameType)
	if err != nil {
		return nil, err
	}
	if processed {
		return nil, fmt.Errorf("%w: match %d", ErrAlreadyProcessed, match.ID)
	}

	last, err := store.LastAppliedMatchDate(ctx, exec, scope, match.GameType)
	if err != nil {
		return nil, err
	}
	if last != nil && match.MatchDate.Before(*last) {
		return nil, fmt.Errorf("%w: match %d dated %s, partition already at %s",
			ErrOutOfOrderApply, match.ID, match.MatchDate.Format(time.RFC3339), last.Format(time.RFC3339))
	}

	// Lock all rating rows in player-id order so concurrent applications,
	// adjustments and recalculations cannot deadlock.
	ordered := append([]*models.MatchParticipant(nil), participants...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].UserID < ordered[j].UserID })

	ratings := make(map[int]*models.PlayerRating, len(ordered))
	for _, p := range ordered {
		if p.Status != models.ParticipantAccepted {
			continue
		}
		pr, getErr := store.GetOrCreateForUpdate(ctx, exec, p.UserID, scope, match.Sport, match.GameType, e.cfg.Seed)
		if getErr != nil {
			return nil, getErr
		}
		ratings[p.UserID] = pr
	}

	// Side composites are taken from the pre-update snapshot so the order of
	// per-player updates inside one match cannot change the result.
	composites := map[models.Side]Opponent{
		models.SideA: sideComposite(sides[models.SideA], ratings),
		models.SideB: sideComposite(sides[models.SideB], ratings),
	}

	entries := make([]*models.RatingHistory, 0, len(ratings))
	for _, p := range ordered {
		pr, okRating := ratings[p.UserID]
		if !okRating {
			continue
		}
		score := sideScore(*match.Outcome, p.Side)
		entry := e.applyPlayer(match, pr, composites[p.Side.Opposite()], score)
		if saveErr := store.Save(ctx, exec, pr); saveErr != nil {
			return nil, saveErr
		}
		if appErr := store.AppendHistory(ctx, exec, entry); appErr != nil {
			return nil, appErr
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (e *RatingEngine) applyPlayer(match *models.Match, pr *models.PlayerRating, opp Opponent, score float64) *models.RatingHistory {
	before := *pr

	newRating, newDeviation, newVolatility := e.model.Update(pr.Rating, pr.Deviation, pr.Volatility, opp, score)
	if match.IsWalkover {
		// Damped movement for both sides of a walkover; see WalkoverWeight.
		newRating = pr.Rating + e.cfg.WalkoverWeight*(newRating-pr.Rating)
	}

	pr.Rating = newRating
	pr.Deviation = newDeviation
	pr.Volatility = newVolatility
	pr.MatchesPlayed++
	if pr.MatchesPlayed >= e.cfg.ProvisionalThreshold {
		pr.IsProvisional = false
	}
	if pr.Rating > pr.PeakRating {
		pr.PeakRating = pr.Rating
		peakAt := match.MatchDate
		pr.PeakAt = &peakAt
	}
	if pr.Rating < pr.LowestRating {
		pr.LowestRating = pr.Rating
	}

	matchID := match.ID
	return &models.RatingHistory{
		PlayerRatingID: pr.ID,
		MatchID:        &matchID,
		RatingBefore:   before.Rating,
		RatingAfter:    pr.Rating,
		Delta:          pr.Rating - before.Rating,
		DevBefore:      before.Deviation,
		DevAfter:       pr.Deviation,
		Reason:         historyReason(match.IsWalkover, score),
		CreatedAt:      match.MatchDate,
	}
}

func splitSides(match *models.Match, participants []*models.MatchParticipant) (map[models.Side][]*models.MatchParticipant, error) {
	sides := map[models.Side][]*models.MatchParticipant{}
	for _, p := range participants {
		if p.Status != models.ParticipantAccepted {
			continue
		}
		sides[p.Side] = append(sides[p.Side], p)
	}
	need := match.GameType.PlayersPerSide()
	if len(sides[models.SideA]) != need || len(sides[models.SideB]) != need {
		return nil, fmt.Errorf("%w: match %d needs %d accepted per side, got %d/%d",
			ErrMissingParticipants, match.ID, need, len(sides[models.SideA]), len(sides[models.SideB]))
	}
	return sides, nil
}

func sideComposite(side []*models.MatchParticipant, ratings map[int]*models.PlayerRating) Opponent {
	var sumRating, sumDeviation float64
	for _, p := range side {
		pr := ratings[p.UserID]
		sumRating += pr.Rating
		sumDeviation += pr.Deviation
	}
	n := float64(len(side))
	return Opponent{Rating: sumRating / n, Deviation: sumDeviation / n}
}

func sideScore(outcome models.MatchOutcome, side models.Side) float64 {
	switch outcome {
	case models.OutcomeTie:
		return 0.5
	case models.OutcomeForWinner(side):
		return 1.0
	default:
		return 0.0
	}
}

func historyReason(walkover bool, score float64) models.RatingReason {
	switch {
	case walkover && score == 1.0:
		return models.ReasonWalkoverWin
	case walkover:
		return models.ReasonWalkoverLoss
	case score == 1.0:
		return models.ReasonMatchWin
	case score == 0.0:
		return models.ReasonMatchLoss
	default:
		return models.ReasonMatchDraw
	}
}
