package services

import (
	"context"
	"fmt"
	"time"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
)

type scratchKey struct {
	playerID  int
	scopeType models.ScopeType
	scopeID   int
	gameType  models.GameType
}

// scratchRatingStore is an in-memory RatingStore the recalculation
// orchestrator replays matches into during previews, so a preview never
// touches live rows. Not safe for concurrent use; every preview partition
// gets its own instance.
type scratchRatingStore struct {
	ratings  map[scratchKey]*models.PlayerRating
	history  []*models.RatingHistory
	applied  map[int]bool
	lastDate *time.Time
	nextID   int
}

func newScratchRatingStore() *scratchRatingStore {
	return &scratchRatingStore{
		ratings: make(map[scratchKey]*models.PlayerRating),
		applied: make(map[int]bool),
		nextID:  1,
	}
}

func (s *scratchRatingStore) GetOrCreateForUpdate(ctx context.Context, exec repositories.SQLExecutor, playerID int, scope models.RatingScope, sport models.Sport, gameType models.GameType, seed repositories.RatingSeed) (*models.PlayerRating, error) {
	key := scratchKey{playerID: playerID, scopeType: scope.Type, scopeID: scope.ID, gameType: gameType}
	if pr, ok := s.ratings[key]; ok {
		return pr, nil
	}
	pr := &models.PlayerRating{
		ID:            s.nextID,
		PlayerID:      playerID,
		Scope:         scope,
		Sport:         sport,
		GameType:      gameType,
		Rating:        seed.Rating,
		Deviation:     seed.Deviation,
		Volatility:    seed.Volatility,
		IsProvisional: true,
		PeakRating:    seed.Rating,
		LowestRating:  seed.Rating,
		UpdatedAt:     time.Now(),
	}
	s.nextID++
	s.ratings[key] = pr
	return pr, nil
}

func (s *scratchRatingStore) Save(ctx context.Context, exec repositories.SQLExecutor, rating *models.PlayerRating) error {
	key := scratchKey{playerID: rating.PlayerID, scopeType: rating.Scope.Type, scopeID: rating.Scope.ID, gameType: rating.GameType}
	if _, ok := s.ratings[key]; !ok {
		return fmt.Errorf("%w: player %d", repositories.ErrPlayerRatingNotFound, rating.PlayerID)
	}
	s.ratings[key] = rating
	return nil
}

func (s *scratchRatingStore) AppendHistory(ctx context.Context, exec repositories.SQLExecutor, entry *models.RatingHistory) error {
	entry.ID = len(s.history) + 1
	s.history = append(s.history, entry)
	if entry.MatchID != nil && entry.Reason != models.ReasonAdjustment {
		s.applied[*entry.MatchID] = true
		if s.lastDate == nil || entry.CreatedAt.After(*s.lastDate) {
			d := entry.CreatedAt
			s.lastDate = &d
		}
	}
	return nil
}

func (s *scratchRatingStore) HasMatchHistory(ctx context.Context, exec repositories.SQLExecutor, matchID int, scope models.RatingScope, gameType models.GameType) (bool, error) {
	return s.applied[matchID], nil
}

func (s *scratchRatingStore) LastAppliedMatchDate(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType) (*time.Time, error) {
	return s.lastDate, nil
}

func (s *scratchRatingStore) finalRatings() []*models.PlayerRating {
	out := make([]*models.PlayerRating, 0, len(s.ratings))
	for _, pr := range s.ratings {
		out = append(out, pr)
	}
	return out
}
