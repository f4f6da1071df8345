package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
)

// RatingQueryService is the read-only surface exposed to collaborators.
type RatingQueryService interface {
	GetCurrent(ctx context.Context, playerID int, scope models.RatingScope, gameType models.GameType) (*models.PlayerRating, error)
	HistoryByPlayer(ctx context.Context, playerID int, scope models.RatingScope, gameType models.GameType) ([]*models.RatingHistory, error)
	HistoryByMatch(ctx context.Context, matchID int) ([]*models.RatingHistory, error)
	Leaderboard(ctx context.Context, scope models.RatingScope, gameType models.GameType) ([]*models.PlayerRating, error)
}

type ratingQueryService struct {
	ratingRepo repositories.RatingRepository
}

func NewRatingQueryService(ratingRepo repositories.RatingRepository) RatingQueryService {
	return &ratingQueryService{ratingRepo: ratingRepo}
}

func (s *ratingQueryService) GetCurrent(ctx context.Context, playerID int, scope models.RatingScope, gameType models.GameType) (*models.PlayerRating, error) {
	pr, err := s.ratingRepo.GetByPlayer(ctx, nil, playerID, scope, gameType)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerRatingNotFound) {
			return nil, fmt.Errorf("%w: rating for player %d", ErrNotFound, playerID)
		}
		return nil, err
	}
	return pr, nil
}

func (s *ratingQueryService) HistoryByPlayer(ctx context.Context, playerID int, scope models.RatingScope, gameType models.GameType) ([]*models.RatingHistory, error) {
	pr, err := s.GetCurrent(ctx, playerID, scope, gameType)
	if err != nil {
		return nil, err
	}
	return s.ratingRepo.ListHistoryByRating(ctx, nil, pr.ID)
}

func (s *ratingQueryService) HistoryByMatch(ctx context.Context, matchID int) ([]*models.RatingHistory, error) {
	return s.ratingRepo.ListHistoryByMatch(ctx, nil, matchID)
}

func (s *ratingQueryService) Leaderboard(ctx context.Context, scope models.RatingScope, gameType models.GameType) ([]*models.PlayerRating, error) {
	return s.ratingRepo.ListByPartition(ctx, nil, scope, gameType)
}
