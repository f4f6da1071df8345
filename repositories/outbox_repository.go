package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NxTech4021/dl-backend-sub004/models"
)

var ErrOutboxEventNotFound = errors.New("outbox event not found")

type OutboxRepository interface {
	Append(ctx context.Context, exec SQLExecutor, event *models.OutboxEvent) error
	ListUnpublished(ctx context.Context, exec SQLExecutor, limit int) ([]*models.OutboxEvent, error)
	MarkPublished(ctx context.Context, exec SQLExecutor, eventID int) error
}

type postgresOutboxRepository struct {
	db *sql.DB
}

func NewPostgresOutboxRepository(db *sql.DB) OutboxRepository {
	return &postgresOutboxRepository{db: db}
}

func (r *postgresOutboxRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresOutboxRepository) Append(ctx context.Context, exec SQLExecutor, event *models.OutboxEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO outbox_events (type, room, payload, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		event.Type, event.Room, []byte(event.Payload), event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to append outbox event %s: %w", event.Type, err)
	}
	return nil
}

func (r *postgresOutboxRepository) ListUnpublished(ctx context.Context, exec SQLExecutor, limit int) ([]*models.OutboxEvent, error) {
	query := `
		SELECT id, type, room, payload, created_at, published_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1`
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished outbox events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.OutboxEvent, 0)
	for rows.Next() {
		e := &models.OutboxEvent{}
		var payload []byte
		if scanErr := rows.Scan(&e.ID, &e.Type, &e.Room, &payload, &e.CreatedAt, &e.PublishedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", scanErr)
		}
		e.Payload = payload
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during outbox rows iteration: %w", err)
	}
	return events, nil
}

func (r *postgresOutboxRepository) MarkPublished(ctx context.Context, exec SQLExecutor, eventID int) error {
	result, err := r.getExecutor(exec).ExecContext(ctx,
		`UPDATE outbox_events SET published_at = $1 WHERE id = $2 AND published_at IS NULL`,
		time.Now(), eventID)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event %d published: %w", eventID, err)
	}
	return checkAffectedRows(result, ErrOutboxEventNotFound)
}
