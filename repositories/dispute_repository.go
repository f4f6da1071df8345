package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NxTech4021/dl-backend-sub004/models"
)

var ErrDisputeNotFound = errors.New("dispute not found")

type DisputeRepository interface {
	Create(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error
	GetOpenByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.Dispute, error)
	Resolve(ctx context.Context, exec SQLExecutor, disputeID int, resolvedBy int, note string) error
	ListOpen(ctx context.Context, exec SQLExecutor) ([]*models.Dispute, error)
}

type postgresDisputeRepository struct {
	db *sql.DB
}

func NewPostgresDisputeRepository(db *sql.DB) DisputeRepository {
	return &postgresDisputeRepository{db: db}
}

func (r *postgresDisputeRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresDisputeRepository) Create(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error {
	if dispute.CreatedAt.IsZero() {
		dispute.CreatedAt = time.Now()
	}
	dispute.Status = models.DisputeOpen
	query := `
		INSERT INTO disputes (match_id, opened_by, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		dispute.MatchID, dispute.OpenedBy, dispute.Reason, dispute.Status, dispute.CreatedAt,
	).Scan(&dispute.ID)
	if err != nil {
		return fmt.Errorf("failed to create dispute for match %d: %w", dispute.MatchID, err)
	}
	return nil
}

func scanDispute(row interface{ Scan(...interface{}) error }) (*models.Dispute, error) {
	d := &models.Dispute{}
	err := row.Scan(&d.ID, &d.MatchID, &d.OpenedBy, &d.Reason, &d.Status,
		&d.ResolvedBy, &d.ResolutionNote, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *postgresDisputeRepository) GetOpenByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.Dispute, error) {
	query := `
		SELECT id, match_id, opened_by, reason, status, resolved_by, resolution_note, created_at, resolved_at
		FROM disputes
		WHERE match_id = $1 AND status = $2`
	d, err := scanDispute(r.getExecutor(exec).QueryRowContext(ctx, query, matchID, models.DisputeOpen))
	if err != nil {
		if errors.Is(err, ErrDisputeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan open dispute for match %d: %w", matchID, err)
	}
	return d, nil
}

func (r *postgresDisputeRepository) Resolve(ctx context.Context, exec SQLExecutor, disputeID int, resolvedBy int, note string) error {
	query := `
		UPDATE disputes
		SET status = $1, resolved_by = $2, resolution_note = $3, resolved_at = $4
		WHERE id = $5 AND status = $6`
	result, err := r.getExecutor(exec).ExecContext(ctx, query,
		models.DisputeResolved, resolvedBy, note, time.Now(), disputeID, models.DisputeOpen)
	if err != nil {
		return fmt.Errorf("failed to resolve dispute %d: %w", disputeID, err)
	}
	return checkAffectedRows(result, ErrDisputeNotFound)
}

func (r *postgresDisputeRepository) ListOpen(ctx context.Context, exec SQLExecutor) ([]*models.Dispute, error) {
	query := `
		SELECT id, match_id, opened_by, reason, status, resolved_by, resolution_note, created_at, resolved_at
		FROM disputes
		WHERE status = $1
		ORDER BY created_at ASC`
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, models.DisputeOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open disputes: %w", err)
	}
	defer rows.Close()

	disputes := make([]*models.Dispute, 0)
	for rows.Next() {
		d, scanErr := scanDispute(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan dispute row: %w", scanErr)
		}
		disputes = append(disputes, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during dispute rows iteration: %w", err)
	}
	return disputes, nil
}
