package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
)

// AdjustmentRepository persists the audit row for a manual correction.
type AdjustmentRepository interface {
	Create(ctx context.Context, exec repositories.SQLExecutor, adjustment *models.RatingAdjustment) error
}

type postgresAdjustmentRepository struct {
	db *sql.DB
}

func NewPostgresAdjustmentRepository(db *sql.DB) AdjustmentRepository {
	return &postgresAdjustmentRepository{db: db}
}

func (r *postgresAdjustmentRepository) Create(ctx context.Context, exec repositories.SQLExecutor, adjustment *models.RatingAdjustment) error {
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now()
	}
	var executor repositories.SQLExecutor = r.db
	if exec != nil {
		executor = exec
	}
	query := `
		INSERT INTO rating_adjustments (player_rating_id, admin_id, delta, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := executor.QueryRowContext(ctx, query,
		adjustment.PlayerRatingID, adjustment.AdminID, adjustment.Delta, adjustment.Note, adjustment.CreatedAt,
	).Scan(&adjustment.ID)
	if err != nil {
		return fmt.Errorf("failed to create rating adjustment: %w", err)
	}
	return nil
}

// AdjustmentService layers administrator-initiated corrections on top of the
// engine's output. It appends to the history chain, never rewrites it.
type AdjustmentService interface {
	Adjust(ctx context.Context, adminID, playerID int, scope models.RatingScope, gameType models.GameType, delta float64, note string) (*models.PlayerRating, error)
}

type adjustmentService struct {
	tx             repositories.TxRunner
	ratingRepo     repositories.RatingRepository
	adjustmentRepo AdjustmentRepository
	outboxRepo     repositories.OutboxRepository
	seed           repositories.RatingSeed
}

func NewAdjustmentService(
	tx repositories.TxRunner,
	ratingRepo repositories.RatingRepository,
	adjustmentRepo AdjustmentRepository,
	outboxRepo repositories.OutboxRepository,
	seed repositories.RatingSeed,
) AdjustmentService {
	return &adjustmentService{
		tx:             tx,
		ratingRepo:     ratingRepo,
		adjustmentRepo: adjustmentRepo,
		outboxRepo:     outboxRepo,
		seed:           seed,
	}
}

func (s *adjustmentService) Adjust(ctx context.Context, adminID, playerID int, scope models.RatingScope, gameType models.GameType, delta float64, note string) (*models.PlayerRating, error) {
	var rating *models.PlayerRating
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		pr, txErr := s.ratingRepo.GetByPlayer(ctx, exec, playerID, scope, gameType)
		if txErr != nil {
			if errors.Is(txErr, repositories.ErrPlayerRatingNotFound) {
				return fmt.Errorf("%w: rating for player %d", ErrNotFound, playerID)
			}
			return txErr
		}
		// Re-read under lock; GetByPlayer located the row, the lock
		// serializes us against the engine and recalculations.
		pr, txErr = s.ratingRepo.GetOrCreateForUpdate(ctx, exec, playerID, scope, pr.Sport, gameType, s.seed)
		if txErr != nil {
			return txErr
		}

		before := pr.Rating
		pr.Rating += delta
		if pr.Rating > pr.PeakRating {
			pr.PeakRating = pr.Rating
			now := time.Now()
			pr.PeakAt = &now
		}
		if pr.Rating < pr.LowestRating {
			pr.LowestRating = pr.Rating
		}
		if txErr = s.ratingRepo.Save(ctx, exec, pr); txErr != nil {
			return txErr
		}

		if txErr = s.ratingRepo.AppendHistory(ctx, exec, &models.RatingHistory{
			PlayerRatingID: pr.ID,
			RatingBefore:   before,
			RatingAfter:    pr.Rating,
			Delta:          delta,
			DevBefore:      pr.Deviation,
			DevAfter:       pr.Deviation,
			Reason:         models.ReasonAdjustment,
		}); txErr != nil {
			return txErr
		}

		if txErr = s.adjustmentRepo.Create(ctx, exec, &models.RatingAdjustment{
			PlayerRatingID: pr.ID,
			AdminID:        adminID,
			Delta:          delta,
			Note:           note,
		}); txErr != nil {
			return txErr
		}

		payload, txErr := json.Marshal(map[string]interface{}{
			"player_id": playerID,
			"rating":    pr.Rating,
			"delta":     delta,
			"reason":    models.ReasonAdjustment,
		})
		if txErr != nil {
			return txErr
		}
		rating = pr
		return s.outboxRepo.Append(ctx, exec, &models.OutboxEvent{
			Type:    models.EventRatingUpdated,
			Room:    fmt.Sprintf("%s:%d", scope.Type, scope.ID),
			Payload: payload,
		})
	})
	if err != nil {
		return nil, err
	}
	return rating, nil
}
