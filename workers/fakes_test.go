package workers

import (
	"context"
	"sort"
	"time"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
)

// Компактные in-memory фейки только под нужды воркеров.

type stubTxRunner struct{}

func (stubTxRunner) RunInTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	return fn(nil)
}

type stubMatchRepo struct {
	matches map[int]*models.Match
}

func (r *stubMatchRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Match, error) {
	m, ok := r.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *stubMatchRepo) GetByIDForUpdate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Match, error) {
	return r.GetByID(ctx, exec, id)
}

func (r *stubMatchRepo) Update(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error {
	copied := *match
	r.matches[match.ID] = &copied
	return nil
}

func (r *stubMatchRepo) ListRatingEligible(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType) ([]*models.Match, error) {
	return nil, nil
}

type stubParticipantRepo struct {
	byMatch map[int][]*models.MatchParticipant
}

func (r *stubParticipantRepo) ListByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) ([]*models.MatchParticipant, error) {
	return r.byMatch[matchID], nil
}

func (r *stubParticipantRepo) ListAcceptedByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) ([]*models.MatchParticipant, error) {
	return r.byMatch[matchID], nil
}

type stubQueueRepo struct {
	items   []*models.RatingQueueItem
	matches *stubMatchRepo
}

func (r *stubQueueRepo) Enqueue(ctx context.Context, exec repositories.SQLExecutor, item *models.RatingQueueItem) error {
	item.ID = len(r.items) + 1
	r.items = append(r.items, item)
	return nil
}

func (r *stubQueueRepo) ListPending(ctx context.Context, exec repositories.SQLExecutor, limit int) ([]*models.RatingQueueItem, error) {
	pending := make([]*models.RatingQueueItem, 0)
	for _, item := range r.items {
		if item.ProcessedAt == nil {
			pending = append(pending, item)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		di := r.matchDate(pending[i].MatchID)
		dj := r.matchDate(pending[j].MatchID)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return pending[i].MatchID < pending[j].MatchID
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *stubQueueRepo) matchDate(matchID int) time.Time {
	if m, ok := r.matches.matches[matchID]; ok {
		return m.MatchDate
	}
	return time.Time{}
}

func (r *stubQueueRepo) MarkProcessed(ctx context.Context, exec repositories.SQLExecutor, itemID int) error {
	for _, item := range r.items {
		if item.ID == itemID {
			now := time.Now()
			item.ProcessedAt = &now
			return nil
		}
	}
	return repositories.ErrQueueItemNotFound
}

func (r *stubQueueRepo) RecordFailure(ctx context.Context, exec repositories.SQLExecutor, itemID int, cause string) error {
	for _, item := range r.items {
		if item.ID == itemID {
			item.Attempts++
			item.LastError = &cause
			return nil
		}
	}
	return repositories.ErrQueueItemNotFound
}

type stubOutboxRepo struct {
	events []*models.OutboxEvent
}

func (r *stubOutboxRepo) Append(ctx context.Context, exec repositories.SQLExecutor, event *models.OutboxEvent) error {
	event.ID = len(r.events) + 1
	r.events = append(r.events, event)
	return nil
}

func (r *stubOutboxRepo) ListUnpublished(ctx context.Context, exec repositories.SQLExecutor, limit int) ([]*models.OutboxEvent, error) {
	unpublished := make([]*models.OutboxEvent, 0)
	for _, e := range r.events {
		if e.PublishedAt == nil {
			unpublished = append(unpublished, e)
		}
		if len(unpublished) == limit {
			break
		}
	}
	return unpublished, nil
}

func (r *stubOutboxRepo) MarkPublished(ctx context.Context, exec repositories.SQLExecutor, eventID int) error {
	for _, e := range r.events {
		if e.ID == eventID {
			now := time.Now()
			e.PublishedAt = &now
			return nil
		}
	}
	return repositories.ErrOutboxEventNotFound
}

// stubRatingRepo is just enough of RatingRepository for the engine to apply
// matches: get-or-create, save, history with ordering checks.
type stubRatingRepo struct {
	rows    map[int]*models.PlayerRating
	history []*models.RatingHistory
	matches *stubMatchRepo
	nextID  int
}

func newStubRatingRepo(matches *stubMatchRepo) *stubRatingRepo {
	return &stubRatingRepo{rows: make(map[int]*models.PlayerRating), matches: matches, nextID: 1}
}

func (r *stubRatingRepo) GetOrCreateForUpdate(ctx context.Context, exec repositories.SQLExecutor, playerID int, scope models.RatingScope, sport models.Sport, gameType models.GameType, seed repositories.RatingSeed) (*models.PlayerRating, error) {
	for _, pr := range r.rows {
		if pr.PlayerID == playerID && pr.Scope == scope && pr.GameType == gameType {
			return pr, nil
		}
	}
	pr := &models.PlayerRating{
		ID: r.nextID, PlayerID: playerID, Scope: scope, Sport: sport, GameType: gameType,
		Rating: seed.Rating, Deviation: seed.Deviation, Volatility: seed.Volatility,
		IsProvisional: true, PeakRating: seed.Rating, LowestRating: seed.Rating,
	}
	r.nextID++
	r.rows[pr.ID] = pr
	return pr, nil
}

func (r *stubRatingRepo) GetByPlayer(ctx context.Context, exec repositories.SQLExecutor, playerID int, scope models.RatingScope, gameType models.GameType) (*models.PlayerRating, error) {
	return nil, repositories.ErrPlayerRatingNotFound
}

func (r *stubRatingRepo) ListByPartition(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType) ([]*models.PlayerRating, error) {
	return nil, nil
}

func (r *stubRatingRepo) ListByPlayer(ctx context.Context, exec repositories.SQLExecutor, playerID int) ([]*models.PlayerRating, error) {
	return nil, nil
}

func (r *stubRatingRepo) Save(ctx context.Context, exec repositories.SQLExecutor, rating *models.PlayerRating) error {
	r.rows[rating.ID] = rating
	return nil
}

func (r *stubRatingRepo) ResetPartition(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType, seed repositories.RatingSeed) error {
	return nil
}

func (r *stubRatingRepo) AppendHistory(ctx context.Context, exec repositories.SQLExecutor, entry *models.RatingHistory) error {
	entry.ID = len(r.history) + 1
	r.history = append(r.history, entry)
	return nil
}

func (r *stubRatingRepo) ListHistoryByRating(ctx context.Context, exec repositories.SQLExecutor, playerRatingID int) ([]*models.RatingHistory, error) {
	return nil, nil
}

func (r *stubRatingRepo) ListHistoryByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) ([]*models.RatingHistory, error) {
	return nil, nil
}

func (r *stubRatingRepo) HasMatchHistory(ctx context.Context, exec repositories.SQLExecutor, matchID int, scope models.RatingScope, gameType models.GameType) (bool, error) {
	for _, h := range r.history {
		if h.MatchID != nil && *h.MatchID == matchID {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubRatingRepo) LastAppliedMatchDate(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType) (*time.Time, error) {
	var last *time.Time
	for _, h := range r.history {
		if h.MatchID == nil {
			continue
		}
		m, ok := r.matches.matches[*h.MatchID]
		if !ok {
			continue
		}
		if last == nil || m.MatchDate.After(*last) {
			d := m.MatchDate
			last = &d
		}
	}
	return last, nil
}

func (r *stubRatingRepo) DeleteHistoryForPartition(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType) error {
	r.history = nil
	return nil
}
