package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NxTech4021/dl-backend-sub004/models"
)

var ErrQueueItemNotFound = errors.New("rating queue item not found")

type QueueRepository interface {
	Enqueue(ctx context.Context, exec SQLExecutor, item *models.RatingQueueItem) error
	// ListPending returns unprocessed items joined with their match dates,
	// ordered by (match_date, match_id) so a caller draining a partition in
	// slice order satisfies the engine's ordering precondition.
	ListPending(ctx context.Context, exec SQLExecutor, limit int) ([]*models.RatingQueueItem, error)
	MarkProcessed(ctx context.Context, exec SQLExecutor, itemID int) error
	RecordFailure(ctx context.Context, exec SQLExecutor, itemID int, cause string) error
}

type postgresQueueRepository struct {
	db *sql.DB
}

func NewPostgresQueueRepository(db *sql.DB) QueueRepository {
	return &postgresQueueRepository{db: db}
}

func (r *postgresQueueRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresQueueRepository) Enqueue(ctx context.Context, exec SQLExecutor, item *models.RatingQueueItem) error {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	query := `
		INSERT INTO rating_queue (match_id, scope_type, scope_id, game_type, attempts, enqueued_at)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (match_id) DO NOTHING
		RETURNING id`
	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		item.MatchID, item.Scope.Type, item.Scope.ID, item.GameType, item.EnqueuedAt,
	).Scan(&item.ID)
	if errors.Is(err, sql.ErrNoRows) {
		// Already enqueued; the unique constraint makes retries harmless.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue rating task for match %d: %w", item.MatchID, err)
	}
	return nil
}

func (r *postgresQueueRepository) ListPending(ctx context.Context, exec SQLExecutor, limit int) ([]*models.RatingQueueItem, error) {
	query := `
		SELECT q.id, q.match_id, q.scope_type, q.scope_id, q.game_type,
		       q.attempts, q.last_error, q.enqueued_at, q.processed_at
		FROM rating_queue q
		JOIN matches m ON m.id = q.match_id
		WHERE q.processed_at IS NULL
		ORDER BY m.match_date ASC, q.match_id ASC
		LIMIT $1`
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending rating queue: %w", err)
	}
	defer rows.Close()

	items := make([]*models.RatingQueueItem, 0)
	for rows.Next() {
		item := &models.RatingQueueItem{}
		if scanErr := rows.Scan(&item.ID, &item.MatchID, &item.Scope.Type, &item.Scope.ID,
			&item.GameType, &item.Attempts, &item.LastError, &item.EnqueuedAt, &item.ProcessedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", scanErr)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during queue rows iteration: %w", err)
	}
	return items, nil
}

func (r *postgresQueueRepository) MarkProcessed(ctx context.Context, exec SQLExecutor, itemID int) error {
	result, err := r.getExecutor(exec).ExecContext(ctx,
		`UPDATE rating_queue SET processed_at = $1 WHERE id = $2 AND processed_at IS NULL`,
		time.Now(), itemID)
	if err != nil {
		return fmt.Errorf("failed to mark queue item %d processed: %w", itemID, err)
	}
	return checkAffectedRows(result, ErrQueueItemNotFound)
}

func (r *postgresQueueRepository) RecordFailure(ctx context.Context, exec SQLExecutor, itemID int, cause string) error {
	result, err := r.getExecutor(exec).ExecContext(ctx,
		`UPDATE rating_queue SET attempts = attempts + 1, last_error = $1 WHERE id = $2`,
		cause, itemID)
	if err != nil {
		return fmt.Errorf("failed to record failure for queue item %d: %w", itemID, err)
	}
	return checkAffectedRows(result, ErrQueueItemNotFound)
}
