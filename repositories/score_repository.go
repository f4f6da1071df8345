package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/NxTech4021/dl-backend-sub004/models"
)

type ScoreRepository interface {
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.ScoreEntry, error)
	// ReplaceForMatch deletes any existing entries for the match and inserts
	// the given ones in order. Used by submitResult; entries become immutable
	// once the match is terminal.
	ReplaceForMatch(ctx context.Context, exec SQLExecutor, matchID int, entries []*models.ScoreEntry) error
	DeleteByMatch(ctx context.Context, exec SQLExecutor, matchID int) error
}

type postgresScoreRepository struct {
	db *sql.DB
}

func NewPostgresScoreRepository(db *sql.DB) ScoreRepository {
	return &postgresScoreRepository{db: db}
}

func (r *postgresScoreRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresScoreRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.ScoreEntry, error) {
	query := `
		SELECT id, match_id, position, kind, side_a, side_b, tiebreak_a, tiebreak_b
		FROM score_entries
		WHERE match_id = $1
		ORDER BY position ASC`
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query score entries for match %d: %w", matchID, err)
	}
	defer rows.Close()

	entries := make([]*models.ScoreEntry, 0)
	for rows.Next() {
		e := &models.ScoreEntry{}
		if scanErr := rows.Scan(&e.ID, &e.MatchID, &e.Position, &e.Kind, &e.SideA, &e.SideB, &e.TiebreakA, &e.TiebreakB); scanErr != nil {
			return nil, fmt.Errorf("failed to scan score entry row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during score entry rows iteration: %w", err)
	}
	return entries, nil
}

func (r *postgresScoreRepository) ReplaceForMatch(ctx context.Context, exec SQLExecutor, matchID int, entries []*models.ScoreEntry) error {
	executor := r.getExecutor(exec)
	if err := r.DeleteByMatch(ctx, executor, matchID); err != nil {
		return err
	}
	query := `
		INSERT INTO score_entries (match_id, position, kind, side_a, side_b, tiebreak_a, tiebreak_b)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	for _, e := range entries {
		e.MatchID = matchID
		if err := executor.QueryRowContext(ctx, query,
			e.MatchID, e.Position, e.Kind, e.SideA, e.SideB, e.TiebreakA, e.TiebreakB,
		).Scan(&e.ID); err != nil {
			return fmt.Errorf("failed to insert score entry %d for match %d: %w", e.Position, matchID, err)
		}
	}
	return nil
}

func (r *postgresScoreRepository) DeleteByMatch(ctx context.Context, exec SQLExecutor, matchID int) error {
	_, err := r.getExecutor(exec).ExecContext(ctx, `DELETE FROM score_entries WHERE match_id = $1`, matchID)
	if err != nil {
		return fmt.Errorf("failed to delete score entries for match %d: %w", matchID, err)
	}
	return nil
}
