package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/NxTech4021/dl-backend-sub004/models"
)

var ErrMatchNotFound = errors.New("match not found")

type MatchRepository interface {
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	// GetByIDForUpdate locks the match row for the duration of the caller's
	// transaction so concurrent lifecycle transitions serialize.
	GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	Update(ctx context.Context, exec SQLExecutor, match *models.Match) error
	// ListRatingEligible returns completed and walkover matches of one
	// partition ordered by (match_date, id). The ordering is a hard
	// precondition of the rating engine, not a convenience.
	ListRatingEligible(ctx context.Context, exec SQLExecutor, scope models.RatingScope, gameType models.GameType) ([]*models.Match, error)
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const matchColumns = `
	id, sport, game_type, division_id, season_id, match_date, status,
	side_a_score, side_b_score, outcome, is_friendly, is_walkover, is_disputed,
	defaulting_side, result_submitted_by, result_submitted_at,
	result_confirmed_by, result_confirmed_at, result_forced_by, created_at`

func scanMatch(row interface{ Scan(...interface{}) error }) (*models.Match, error) {
	m := &models.Match{}
	err := row.Scan(
		&m.ID, &m.Sport, &m.GameType, &m.DivisionID, &m.SeasonID, &m.MatchDate, &m.Status,
		&m.SideAScore, &m.SideBScore, &m.Outcome, &m.IsFriendly, &m.IsWalkover, &m.IsDisputed,
		&m.DefaultingSide, &m.ResultSubmittedBy, &m.ResultSubmittedAt,
		&m.ResultConfirmedBy, &m.ResultConfirmedAt, &m.ResultForcedBy, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan match %d: %w", id, err)
	}
	return m, nil
}

func (r *postgresMatchRepository) GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1 FOR UPDATE`
	m, err := scanMatch(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock match %d: %w", id, err)
	}
	return m, nil
}

func (r *postgresMatchRepository) Update(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	query := `
		UPDATE matches SET
			status = $1, side_a_score = $2, side_b_score = $3, outcome = $4,
			is_walkover = $5, is_disputed = $6, defaulting_side = $7,
			result_submitted_by = $8, result_submitted_at = $9,
			result_confirmed_by = $10, result_confirmed_at = $11,
			result_forced_by = $12
		WHERE id = $13`
	result, err := r.getExecutor(exec).ExecContext(ctx, query,
		match.Status, match.SideAScore, match.SideBScore, match.Outcome,
		match.IsWalkover, match.IsDisputed, match.DefaultingSide,
		match.ResultSubmittedBy, match.ResultSubmittedAt,
		match.ResultConfirmedBy, match.ResultConfirmedAt,
		match.ResultForcedBy,
		match.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update match %d: %w", match.ID, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) ListRatingEligible(ctx context.Context, exec SQLExecutor, scope models.RatingScope, gameType models.GameType) ([]*models.Match, error) {
	scopeColumn := "division_id"
	if scope.Type == models.ScopeSeason {
		scopeColumn = "season_id"
	}
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE ` + scopeColumn + ` = $1
		  AND game_type = $2
		  AND status IN ($3, $4)
		  AND is_friendly = FALSE
		ORDER BY match_date ASC, id ASC`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query,
		scope.ID, gameType, models.MatchStatusCompleted, models.MatchStatusWalkover)
	if err != nil {
		return nil, fmt.Errorf("failed to query rating-eligible matches for %s %d: %w", scope.Type, scope.ID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan rating-eligible match row: %w", scanErr)
		}
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}
