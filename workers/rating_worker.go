package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
	"github.com/NxTech4021/dl-backend-sub004/services"
)

// RatingWorker drains the durable rating queue. Items are grouped by
// (scope, game type) partition; partitions run concurrently while items
// inside one partition run strictly in (match_date, match_id) order, which
// the engine requires. A failing item halts its partition until the next
// tick so ordering is never violated by retries.
type RatingWorker struct {
	tx           repositories.TxRunner
	queue        repositories.QueueRepository
	matches      repositories.MatchRepository
	participants repositories.ParticipantRepository
	ratings      repositories.RatingRepository
	outbox       repositories.OutboxRepository
	engine       *services.RatingEngine
	logger       *slog.Logger

	interval  time.Duration
	batchSize int
}

func NewRatingWorker(
	tx repositories.TxRunner,
	queue repositories.QueueRepository,
	matches repositories.MatchRepository,
	participants repositories.ParticipantRepository,
	ratings repositories.RatingRepository,
	outbox repositories.OutboxRepository,
	engine *services.RatingEngine,
	logger *slog.Logger,
	interval time.Duration,
	batchSize int,
) *RatingWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RatingWorker{
		tx:           tx,
		queue:        queue,
		matches:      matches,
		participants: participants,
		ratings:      ratings,
		outbox:       outbox,
		engine:       engine,
		logger:       logger,
		interval:     interval,
		batchSize:    batchSize,
	}
}

func (w *RatingWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("rating worker started", "interval", w.interval, "batch_size", w.batchSize)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("rating worker stopped")
			return
		case <-ticker.C:
			if _, err := w.DrainOnce(ctx); err != nil {
				w.logger.Error("rating queue drain failed", "error", err)
			}
		}
	}
}

type queuePartition struct {
	scopeType models.ScopeType
	scopeID   int
	gameType  models.GameType
}

// DrainOnce processes one batch of pending queue items and returns how many
// were applied.
func (w *RatingWorker) DrainOnce(ctx context.Context) (int, error) {
	items, err := w.queue.ListPending(ctx, nil, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	// ListPending order is (match_date, match_id), appending preserves it
	// per partition.
	grouped := make(map[queuePartition][]*models.RatingQueueItem)
	for _, item := range items {
		key := queuePartition{scopeType: item.Scope.Type, scopeID: item.Scope.ID, gameType: item.GameType}
		grouped[key] = append(grouped[key], item)
	}

	counts := make(chan int, len(grouped))
	g, gctx := errgroup.WithContext(ctx)
	for _, partitionItems := range grouped {
		partitionItems := partitionItems
		g.Go(func() error {
			counts <- w.drainPartition(gctx, partitionItems)
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return 0, err
	}
	close(counts)

	processed := 0
	for n := range counts {
		processed += n
	}
	return processed, nil
}

func (w *RatingWorker) drainPartition(ctx context.Context, items []*models.RatingQueueItem) int {
	processed := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return processed
		}
		if err := w.processItem(ctx, item); err != nil {
			if errors.Is(err, services.ErrOutOfOrderApply) {
				w.logger.Error("rating queue item violates partition ordering, halting partition",
					"item_id", item.ID, "match_id", item.MatchID,
					"scope_type", item.Scope.Type, "scope_id", item.Scope.ID, "error", err)
			} else {
				w.logger.Warn("rating queue item failed, halting partition until next tick",
					"item_id", item.ID, "match_id", item.MatchID, "error", err)
			}
			if recErr := w.queue.RecordFailure(ctx, nil, item.ID, err.Error()); recErr != nil {
				w.logger.Error("failed to record queue item failure", "item_id", item.ID, "error", recErr)
			}
			return processed
		}
		processed++
	}
	return processed
}

func (w *RatingWorker) processItem(ctx context.Context, item *models.RatingQueueItem) error {
	return w.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		match, err := w.matches.GetByIDForUpdate(ctx, exec, item.MatchID)
		if err != nil {
			return err
		}
		participants, err := w.participants.ListAcceptedByMatch(ctx, exec, item.MatchID)
		if err != nil {
			return err
		}

		entries, err := w.engine.ApplyMatch(ctx, exec, w.ratings, match, participants)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrAlreadyProcessed):
				// Another replica or a recalculation got there first.
				return w.queue.MarkProcessed(ctx, exec, item.ID)
			case errors.Is(err, services.ErrNotRatingEligible),
				errors.Is(err, services.ErrDisputePending),
				errors.Is(err, services.ErrMissingParticipants):
				// The match left the rated state after being enqueued, or
				// its roster never had enough accepted players per side.
				// The item can never succeed, so retire it instead of
				// wedging the partition.
				w.logger.Warn("retiring rating queue item for ineligible match",
					"item_id", item.ID, "match_id", item.MatchID, "error", err)
				return w.queue.MarkProcessed(ctx, exec, item.ID)
			default:
				return err
			}
		}

		if err = w.queue.MarkProcessed(ctx, exec, item.ID); err != nil {
			return err
		}
		return w.appendRatingEvent(ctx, exec, match, entries)
	})
}

func (w *RatingWorker) appendRatingEvent(ctx context.Context, exec repositories.SQLExecutor, match *models.Match, entries []*models.RatingHistory) error {
	type deltaPayload struct {
		PlayerRatingID int     `json:"player_rating_id"`
		RatingAfter    float64 `json:"rating_after"`
		Delta          float64 `json:"delta"`
	}
	deltas := make([]deltaPayload, 0, len(entries))
	for _, e := range entries {
		deltas = append(deltas, deltaPayload{PlayerRatingID: e.PlayerRatingID, RatingAfter: e.RatingAfter, Delta: e.Delta})
	}
	payload, err := json.Marshal(map[string]interface{}{"match_id": match.ID, "deltas": deltas})
	if err != nil {
		return fmt.Errorf("failed to encode rating event payload: %w", err)
	}
	return w.outbox.Append(ctx, exec, &models.OutboxEvent{
		Type:    models.EventRatingUpdated,
		Room:    services.EventRoom(match),
		Payload: payload,
	})
}
