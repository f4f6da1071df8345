package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NxTech4021/dl-backend-sub004/models"
)

var (
	ErrPlayerRatingNotFound = errors.New("player rating not found")
)

// RatingSeed carries the default values for a freshly created PlayerRating.
type RatingSeed struct {
	Rating     float64
	Deviation  float64
	Volatility float64
}

type RatingRepository interface {
	// GetOrCreateForUpdate fetches the rating row under FOR UPDATE, creating
	// it with seed values and the provisional flag set when it is absent.
	// Must be called inside a transaction.
	GetOrCreateForUpdate(ctx context.Context, exec SQLExecutor, playerID int, scope models.RatingScope, sport models.Sport, gameType models.GameType, seed RatingSeed) (*models.PlayerRating, error)
	GetByPlayer(ctx context.Context, exec SQLExecutor, playerID int, scope models.RatingScope, gameType models.GameType) (*models.PlayerRating, error)
	ListByPartition(ctx context.Context, exec SQLExecutor, scope models.RatingScope, gameType models.GameType) ([]*models.PlayerRating, error)
	ListByPlayer(ctx context.Context, exec SQLExecutor, playerID int) ([]*models.PlayerRating, error)
	Save(ctx context.Context, exec SQLExecutor, rating *models.PlayerRating) error
	// ResetPartition returns every rating row of a partition to seed values
	// with zero matches played. Only the recalculation orchestrator may call
	// this, inside its apply transaction.
	ResetPartition(ctx context.Context, exec SQLExecutor, scope models.RatingScope, gameType models.GameType, seed RatingSeed) error

	AppendHistory(ctx context.Context, exec SQLExecutor, entry *models.RatingHistory) error
	ListHistoryByRating(ctx context.Context, exec SQLExecutor, playerRatingID int) ([]*models.RatingHistory, error)
	ListHistoryByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.RatingHistory, error)
	// HasMatchHistory reports whether any non-adjustment history entry for
	// the match exists inside the partition. Backs the AlreadyProcessed
	// idempotency guard.
	HasMatchHistory(ctx context.Context, exec SQLExecutor, matchID int, scope models.RatingScope, gameType models.GameType) (bool, error)
	// LastAppliedMatchDate returns the newest match date already applied in
	// the partition, or nil when nothing has been applied yet.
	LastAppliedMatchDate(ctx context.Context, exec SQLExecutor, scope models.RatingScope, gameType models.GameType) (*time.Time, error)
	// DeleteHistoryForPartition removes all history rows of a partition.
	// Only the recalculation orchestrator may call this, inside its apply
	// transaction.
	DeleteHistoryForPartition(ctx context.Context, exec SQLExecutor, scope models.RatingScope, gameType models.GameType) error
}

type postgresRatingRepository struct {
	db *sql.DB
}

func NewPostgresRatingRepository(db *sql.DB) RatingRepository {
	return &postgresRatingRepository{db: db}
}

func (r *postgresRatingRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const ratingColumns = `
	id, player_id, scope_type, scope_id, sport, game_type,
	rating, deviation, volatility, matches_played, is_provisional,
	peak_rating, peak_at, lowest_rating, updated_at`

func scanRating(row interface{ Scan(...interface{}) error }) (*models.PlayerRating, error) {
	pr := &models.PlayerRating{}
	err := row.Scan(
		&pr.ID, &pr.PlayerID, &pr.Scope.Type, &pr.Scope.ID, &pr.Sport, &pr.GameType,
		&pr.Rating, &pr.Deviation, &pr.Volatility, &pr.MatchesPlayed, &pr.IsProvisional,
		&pr.PeakRating, &pr.PeakAt, &pr.LowestRating, &pr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerRatingNotFound
		}
		return nil, err
	}
	return pr, nil
}

func (r *postgresRatingRepository) GetOrCreateForUpdate(ctx context.Context, exec SQLExecutor, playerID int, scope models.RatingScope, sport models.Sport, gameType models.GameType, seed RatingSeed) (*models.PlayerRating, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT ` + ratingColumns + `
		FROM player_ratings
		WHERE player_id = $1 AND scope_type = $2 AND scope_id = $3 AND game_type = $4
		FOR UPDATE`
	pr, err := scanRating(executor.QueryRowContext(ctx, query, playerID, scope.Type, scope.ID, gameType))
	if err == nil {
		return pr, nil
	}
	if !errors.Is(err, ErrPlayerRatingNotFound) {
		return nil, fmt.Errorf("failed to lock rating for player %d: %w", playerID, err)
	}

	now := time.Now()
	created := &models.PlayerRating{
		PlayerID:      playerID,
		Scope:         scope,
		Sport:         sport,
		GameType:      gameType,
		Rating:        seed.Rating,
		Deviation:     seed.Deviation,
		Volatility:    seed.Volatility,
		MatchesPlayed: 0,
		IsProvisional: true,
		PeakRating:    seed.Rating,
		LowestRating:  seed.Rating,
		UpdatedAt:     now,
	}
	insert := `
		INSERT INTO player_ratings
			(player_id, scope_type, scope_id, sport, game_type, rating, deviation,
			 volatility, matches_played, is_provisional, peak_rating, peak_at,
			 lowest_rating, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`
	if insErr := executor.QueryRowContext(ctx, insert,
		created.PlayerID, created.Scope.Type, created.Scope.ID, created.Sport, created.GameType,
		created.Rating, created.Deviation, created.Volatility, created.MatchesPlayed,
		created.IsProvisional, created.PeakRating, created.PeakAt, created.LowestRating, created.UpdatedAt,
	).Scan(&created.ID); insErr != nil {
		return nil, fmt.Errorf("failed to create rating for player %d in %s %d: %w", playerID, scope.Type, scope.ID, insErr)
	}
	return created, nil
}

func (r *postgresRatingRepository) GetByPlayer(ctx context.Context, exec SQLExecutor, playerID int, scope models.RatingScope, gameType models.GameType) (*models.PlayerRating, error) {
	query := `
		SELECT ` + ratingColumns + `
		FROM player_ratings
		WHERE player_id = $1 AND scope_type = $2 AND scope_id = $3 AND game_type = $4`
	pr, err := scanRating(r.getExecutor(exec).QueryRowContext(ctx, query, playerID, scope.Type, scope.ID, gameType))
	if err != nil {
		if errors.Is(err, ErrPlayerRatingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rating for player %d: %w", playerID, err)
	}
	return pr, nil
}

func (r *postgresRatingRepository) ListByPartition(ctx context.Context, exec SQLExecutor, scope models.RatingScope, gameType models.GameType) ([]*models.PlayerRating, error) {
	query := `
		SELECT ` + ratingColumns + `
		FROM player_ratings
		WHERE scope_type = $1 AND scope_id = $2 AND game_type = $3
		ORDER BY rating DESC, player_id ASC`
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, scope.Type, scope.ID, gameType)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings for %s %d: %w", scope.Type, scope.ID, err)
	}
	defer rows.Close()

	ratings := make([]*models.PlayerRating, 0)
	for rows.Next() {
		pr, scanErr := scanRating(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan rating row: %w", scanErr)
		}
		ratings = append(ratings, pr)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rating rows iteration: %w", err)
	}
	return ratings, nil
}

func (r *postgresRatingRepository) ListByPlayer(ctx context.Context, exec SQLExecutor, playerID int) ([]*models.PlayerRating, error) {
	query := `
		SELECT ` + ratingColumns + `
		FROM player_ratings
		WHERE player_id = $1
		ORDER BY scope_type ASC, scope_id ASC, game_type ASC`
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings for player %d: %w", playerID, err)
	}
	defer rows.Close()

	ratings := make([]*models.PlayerRating, 0)
	for rows.Next() {
		pr, scanErr := scanRating(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan rating row: %w", scanErr)
		}
		ratings = append(ratings, pr)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rating rows iteration: %w", err)
	}
	return ratings, nil
}

func (r *postgresRatingRepository) ResetPartition(ctx context.Context, exec SQLExecutor, scope models.RatingScope, gameType models.GameType, seed RatingSeed) error {
	query := `
		UPDATE player_ratings SET
			rating = $1, deviation = $2, volatility = $3, matches_played = 0,
			is_provisional = TRUE, peak_rating = $1, peak_at = NULL,
			lowest_rating = $1, updated_at = $4
		WHERE scope_type = $5 AND scope_id = $6 AND game_type = $7`
	if _, err := r.getExecutor(exec).ExecContext(ctx, query,
		seed.Rating, seed.Deviation, seed.Volatility, time.Now(),
		scope.Type, scope.ID, gameType,
	); err != nil {
		return fmt.Errorf("failed to reset ratings for %s %d: %w", scope.Type, scope.ID, err)
	}
	return nil
}

func (r *postgresRatingRepository) Save(ctx context.Context, exec SQLExecutor, rating *models.PlayerRating) error {
	rating.UpdatedAt = time.Now()
	query := `
		UPDATE player_ratings SET
			rating = $1, deviation = $2, volatility = $3, matches_played = $4,
			is_provisional = $5, peak_rating = $6, peak_at = $7, lowest_rating = $8,
			updated_at = $9
		WHERE id = $10`
	result, err := r.getExecutor(exec).ExecContext(ctx, query,
		rating.Rating, rating.Deviation, rating.Volatility, rating.MatchesPlayed,
		rating.IsProvisional, rating.PeakRating, rating.PeakAt, rating.LowestRating,
		rating.UpdatedAt, rating.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save rating %d: %w", rating.ID, err)
	}
	return checkAffectedRows(result, ErrPlayerRatingNotFound)
}

func (r *postgresRatingRepository) AppendHistory(ctx context.Context, exec SQLExecutor, entry *models.RatingHistory) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO rating_history
			(player_rating_id, match_id, rating_before, rating_after, delta,
			 deviation_before, deviation_after, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		entry.PlayerRatingID, entry.MatchID, entry.RatingBefore, entry.RatingAfter,
		entry.Delta, entry.DevBefore, entry.DevAfter, entry.Reason, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append history for rating %d: %w", entry.PlayerRatingID, err)
	}
	return nil
}

func (r *postgresRatingRepository) listHistory(ctx context.Context, exec SQLExecutor, where string, args ...interface{}) ([]*models.RatingHistory, error) {
	query := `
		SELECT id, player_rating_id, match_id, rating_before, rating_after, delta,
		       deviation_before, deviation_after, reason, created_at
		FROM rating_history ` + where + ` ORDER BY created_at ASC, id ASC`
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rating history: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.RatingHistory, 0)
	for rows.Next() {
		e := &models.RatingHistory{}
		if scanErr := rows.Scan(&e.ID, &e.PlayerRatingID, &e.MatchID, &e.RatingBefore, &e.RatingAfter,
			&e.Delta, &e.DevBefore, &e.DevAfter, &e.Reason, &e.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during history rows iteration: %w", err)
	}
	return entries, nil
}

func (r *postgresRatingRepository) ListHistoryByRating(ctx context.Context, exec SQLExecutor, playerRatingID int) ([]*models.RatingHistory, error) {
	return r.listHistory(ctx, exec, `WHERE player_rating_id = $1`, playerRatingID)
}

func (r *postgresRatingRepository) ListHistoryByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.RatingHistory, error) {
	return r.listHistory(ctx, exec, `WHERE match_id = $1`, matchID)
}

func (r *postgresRatingRepository) HasMatchHistory(ctx context.Context, exec SQLExecutor, matchID int, scope models.RatingScope, gameType models.GameType) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM rating_history h
			JOIN player_ratings pr ON pr.id = h.player_rating_id
			WHERE h.match_id = $1
			  AND h.reason <> $2
			  AND pr.scope_type = $3 AND pr.scope_id = $4 AND pr.game_type = $5
		)`
	var exists bool
	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		matchID, models.ReasonAdjustment, scope.Type, scope.ID, gameType,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check history for match %d: %w", matchID, err)
	}
	return exists, nil
}

func (r *postgresRatingRepository) LastAppliedMatchDate(ctx context.Context, exec SQLExecutor, scope models.RatingScope, gameType models.GameType) (*time.Time, error) {
	query := `
		SELECT MAX(m.match_date)
		FROM rating_history h
		JOIN player_ratings pr ON pr.id = h.player_rating_id
		JOIN matches m ON m.id = h.match_id
		WHERE h.match_id IS NOT NULL
		  AND h.reason <> $1
		  AND pr.scope_type = $2 AND pr.scope_id = $3 AND pr.game_type = $4`
	var last sql.NullTime
	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		models.ReasonAdjustment, scope.Type, scope.ID, gameType,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to query last applied match date: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

func (r *postgresRatingRepository) DeleteHistoryForPartition(ctx context.Context, exec SQLExecutor, scope models.RatingScope, gameType models.GameType) error {
	query := `
		DELETE FROM rating_history h
		USING player_ratings pr
		WHERE pr.id = h.player_rating_id
		  AND pr.scope_type = $1 AND pr.scope_id = $2 AND pr.game_type = $3`
	if _, err := r.getExecutor(exec).ExecContext(ctx, query, scope.Type, scope.ID, gameType); err != nil {
		return fmt.Errorf("failed to delete history for %s %d: %w", scope.Type, scope.ID, err)
	}
	return nil
}
