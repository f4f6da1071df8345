package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/NxTech4021/dl-backend-sub004/realtime"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
)

// OutboxWorker publishes committed outbox events to websocket rooms.
// Delivery is at-least-once: an event is marked published only after the
// broadcast, so a crash in between replays it on the next tick.
type OutboxWorker struct {
	outbox repositories.OutboxRepository
	hub    *realtime.Hub
	logger *slog.Logger

	interval  time.Duration
	batchSize int
}

func NewOutboxWorker(outbox repositories.OutboxRepository, hub *realtime.Hub, logger *slog.Logger, interval time.Duration, batchSize int) *OutboxWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxWorker{outbox: outbox, hub: hub, logger: logger, interval: interval, batchSize: batchSize}
}

func (w *OutboxWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbox worker started", "interval", w.interval, "batch_size", w.batchSize)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if _, err := w.PublishOnce(ctx); err != nil {
				w.logger.Error("outbox publish failed", "error", err)
			}
		}
	}
}

// PublishOnce drains one batch of unpublished events in commit order.
func (w *OutboxWorker) PublishOnce(ctx context.Context) (int, error) {
	events, err := w.outbox.ListUnpublished(ctx, nil, w.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		w.hub.BroadcastToRoom(event.Room, realtime.Message{
			Type:    string(event.Type),
			Payload: event.Payload,
		})
		if err = w.outbox.MarkPublished(ctx, nil, event.ID); err != nil {
			// Stop the batch so ordering within the room is preserved.
			return published, err
		}
		published++
	}
	return published, nil
}
