package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/google/uuid"
)

var ErrRecalculationNotFound = errors.New("rating recalculation not found")

type RecalculationRepository interface {
	Create(ctx context.Context, exec SQLExecutor, job *models.RatingRecalculation) error
	GetByPublicID(ctx context.Context, exec SQLExecutor, publicID uuid.UUID) (*models.RatingRecalculation, error)
	// GetByIDForUpdate locks the job row so status transitions serialize.
	GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.RatingRecalculation, error)
	Update(ctx context.Context, exec SQLExecutor, job *models.RatingRecalculation) error
	// FailOverduePending marks PENDING jobs older than the cutoff as FAILED
	// and returns how many were affected. Keeps previews from hanging forever.
	FailOverduePending(ctx context.Context, exec SQLExecutor, cutoff time.Time, cause string) (int, error)
}

type postgresRecalculationRepository struct {
	db *sql.DB
}

func NewPostgresRecalculationRepository(db *sql.DB) RecalculationRepository {
	return &postgresRecalculationRepository{db: db}
}

func (r *postgresRecalculationRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const recalcColumns = `
	id, public_id, scope, target_id, status, affected_players, preview_summary,
	archive_key, last_error, requested_by, created_at, previewed_at, applied_at,
	failed_at, cancelled_at`

func scanRecalculation(row interface{ Scan(...interface{}) error }) (*models.RatingRecalculation, error) {
	j := &models.RatingRecalculation{}
	err := row.Scan(
		&j.ID, &j.PublicID, &j.Scope, &j.TargetID, &j.Status, &j.AffectedPlayers,
		&j.PreviewSummary, &j.ArchiveKey, &j.LastError, &j.RequestedBy, &j.CreatedAt,
		&j.PreviewedAt, &j.AppliedAt, &j.FailedAt, &j.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecalculationNotFound
		}
		return nil, err
	}
	return j, nil
}

func (r *postgresRecalculationRepository) Create(ctx context.Context, exec SQLExecutor, job *models.RatingRecalculation) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO rating_recalculations
			(public_id, scope, target_id, status, affected_players, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		job.PublicID, job.Scope, job.TargetID, job.Status, job.AffectedPlayers,
		job.RequestedBy, job.CreatedAt,
	).Scan(&job.ID)
	if err != nil {
		return fmt.Errorf("failed to create recalculation %s: %w", job.PublicID, err)
	}
	return nil
}

func (r *postgresRecalculationRepository) GetByPublicID(ctx context.Context, exec SQLExecutor, publicID uuid.UUID) (*models.RatingRecalculation, error) {
	query := `SELECT ` + recalcColumns + ` FROM rating_recalculations WHERE public_id = $1`
	j, err := scanRecalculation(r.getExecutor(exec).QueryRowContext(ctx, query, publicID))
	if err != nil {
		if errors.Is(err, ErrRecalculationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan recalculation %s: %w", publicID, err)
	}
	return j, nil
}

func (r *postgresRecalculationRepository) GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.RatingRecalculation, error) {
	query := `SELECT ` + recalcColumns + ` FROM rating_recalculations WHERE id = $1 FOR UPDATE`
	j, err := scanRecalculation(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrRecalculationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock recalculation %d: %w", id, err)
	}
	return j, nil
}

func (r *postgresRecalculationRepository) Update(ctx context.Context, exec SQLExecutor, job *models.RatingRecalculation) error {
	query := `
		UPDATE rating_recalculations SET
			status = $1, affected_players = $2, preview_summary = $3, archive_key = $4,
			last_error = $5, previewed_at = $6, applied_at = $7, failed_at = $8,
			cancelled_at = $9
		WHERE id = $10`
	result, err := r.getExecutor(exec).ExecContext(ctx, query,
		job.Status, job.AffectedPlayers, job.PreviewSummary, job.ArchiveKey,
		job.LastError, job.PreviewedAt, job.AppliedAt, job.FailedAt,
		job.CancelledAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update recalculation %d: %w", job.ID, err)
	}
	return checkAffectedRows(result, ErrRecalculationNotFound)
}

func (r *postgresRecalculationRepository) FailOverduePending(ctx context.Context, exec SQLExecutor, cutoff time.Time, cause string) (int, error) {
	query := `
		UPDATE rating_recalculations
		SET status = $1, last_error = $2, failed_at = $3
		WHERE status = $4 AND created_at < $5`
	result, err := r.getExecutor(exec).ExecContext(ctx, query,
		models.RecalcStatusFailed, cause, time.Now(), models.RecalcStatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue recalculations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return int(affected), nil
}
