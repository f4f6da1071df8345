package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/NxTech4021/dl-backend-sub004/models"
)

var ErrParticipantNotFound = errors.New("match participant not found")

type ParticipantRepository interface {
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.MatchParticipant, error)
	// ListAcceptedByMatch returns only accepted participants; this set fully
	// determines the two sides the rating engine uses.
	ListAcceptedByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.MatchParticipant, error)
}

type postgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) ParticipantRepository {
	return &postgresParticipantRepository{db: db}
}

func (r *postgresParticipantRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresParticipantRepository) list(ctx context.Context, exec SQLExecutor, matchID int, acceptedOnly bool) ([]*models.MatchParticipant, error) {
	query := `
		SELECT id, match_id, user_id, role, side, status, created_at
		FROM match_participants
		WHERE match_id = $1`
	args := []interface{}{matchID}
	if acceptedOnly {
		query += ` AND status = $2`
		args = append(args, models.ParticipantAccepted)
	}
	query += ` ORDER BY id ASC`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants for match %d: %w", matchID, err)
	}
	defer rows.Close()

	participants := make([]*models.MatchParticipant, 0)
	for rows.Next() {
		p := &models.MatchParticipant{}
		if scanErr := rows.Scan(&p.ID, &p.MatchID, &p.UserID, &p.Role, &p.Side, &p.Status, &p.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", scanErr)
		}
		participants = append(participants, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during participant rows iteration: %w", err)
	}
	return participants, nil
}

func (r *postgresParticipantRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.MatchParticipant, error) {
	return r.list(ctx, exec, matchID, false)
}

func (r *postgresParticipantRepository) ListAcceptedByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.MatchParticipant, error) {
	return r.list(ctx, exec, matchID, true)
}
