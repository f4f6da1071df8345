package services

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
	"github.com/NxTech4021/dl-backend-sub004/storage"
)

// fakeTxRunner runs the function directly; the in-memory fakes have no
// transactions to manage.
type fakeTxRunner struct{}

func (fakeTxRunner) RunInTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	return fn(nil)
}

type fakeMatchRepo struct {
	matches map[int]*models.Match
}

func newFakeMatchRepo(matches ...*models.Match) *fakeMatchRepo {
	r := &fakeMatchRepo{matches: make(map[int]*models.Match)}
	for _, m := range matches {
		r.matches[m.ID] = m
	}
	return r
}

func (r *fakeMatchRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Match, error) {
	m, ok := r.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *fakeMatchRepo) GetByIDForUpdate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Match, error) {
	return r.GetByID(ctx, exec, id)
}

func (r *fakeMatchRepo) Update(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error {
	if _, ok := r.matches[match.ID]; !ok {
		return repositories.ErrMatchNotFound
	}
	copied := *match
	r.matches[match.ID] = &copied
	return nil
}

func (r *fakeMatchRepo) ListRatingEligible(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType) ([]*models.Match, error) {
	eligible := make([]*models.Match, 0)
	for _, m := range r.matches {
		if m.IsFriendly || m.GameType != gameType {
			continue
		}
		if m.Status != models.MatchStatusCompleted && m.Status != models.MatchStatusWalkover {
			continue
		}
		matchScope, ok := m.RatingScope()
		if !ok || matchScope != scope {
			continue
		}
		copied := *m
		eligible = append(eligible, &copied)
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].MatchDate.Equal(eligible[j].MatchDate) {
			return eligible[i].MatchDate.Before(eligible[j].MatchDate)
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible, nil
}

type fakeParticipantRepo struct {
	byMatch map[int][]*models.MatchParticipant
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{byMatch: make(map[int][]*models.MatchParticipant)}
}

func (r *fakeParticipantRepo) add(matchID, userID int, side models.Side) {
	r.byMatch[matchID] = append(r.byMatch[matchID], &models.MatchParticipant{
		ID:      len(r.byMatch[matchID]) + matchID*100,
		MatchID: matchID,
		UserID:  userID,
		Side:    side,
		Status:  models.ParticipantAccepted,
	})
}

func (r *fakeParticipantRepo) ListByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) ([]*models.MatchParticipant, error) {
	return r.byMatch[matchID], nil
}

func (r *fakeParticipantRepo) ListAcceptedByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) ([]*models.MatchParticipant, error) {
	accepted := make([]*models.MatchParticipant, 0)
	for _, p := range r.byMatch[matchID] {
		if p.Status == models.ParticipantAccepted {
			accepted = append(accepted, p)
		}
	}
	return accepted, nil
}

type fakeScoreRepo struct {
	byMatch map[int][]*models.ScoreEntry
}

func newFakeScoreRepo() *fakeScoreRepo {
	return &fakeScoreRepo{byMatch: make(map[int][]*models.ScoreEntry)}
}

func (r *fakeScoreRepo) ListByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) ([]*models.ScoreEntry, error) {
	return r.byMatch[matchID], nil
}

func (r *fakeScoreRepo) ReplaceForMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int, entries []*models.ScoreEntry) error {
	for i, e := range entries {
		e.ID = i + 1
		e.MatchID = matchID
	}
	r.byMatch[matchID] = entries
	return nil
}

func (r *fakeScoreRepo) DeleteByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) error {
	delete(r.byMatch, matchID)
	return nil
}

type fakeDisputeRepo struct {
	disputes []*models.Dispute
	nextID   int
}

func newFakeDisputeRepo() *fakeDisputeRepo {
	return &fakeDisputeRepo{nextID: 1}
}

func (r *fakeDisputeRepo) Create(ctx context.Context, exec repositories.SQLExecutor, dispute *models.Dispute) error {
	dispute.ID = r.nextID
	r.nextID++
	if dispute.CreatedAt.IsZero() {
		dispute.CreatedAt = time.Now()
	}
	r.disputes = append(r.disputes, dispute)
	return nil
}

func (r *fakeDisputeRepo) GetOpenByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.Dispute, error) {
	for _, d := range r.disputes {
		if d.MatchID == matchID && d.Status == models.DisputeOpen {
			return d, nil
		}
	}
	return nil, repositories.ErrDisputeNotFound
}

func (r *fakeDisputeRepo) Resolve(ctx context.Context, exec repositories.SQLExecutor, disputeID int, resolvedBy int, note string) error {
	for _, d := range r.disputes {
		if d.ID == disputeID && d.Status == models.DisputeOpen {
			now := time.Now()
			d.Status = models.DisputeResolved
			d.ResolvedBy = &resolvedBy
			d.ResolutionNote = &note
			d.ResolvedAt = &now
			return nil
		}
	}
	return repositories.ErrDisputeNotFound
}

func (r *fakeDisputeRepo) ListOpen(ctx context.Context, exec repositories.SQLExecutor) ([]*models.Dispute, error) {
	open := make([]*models.Dispute, 0)
	for _, d := range r.disputes {
		if d.Status == models.DisputeOpen {
			open = append(open, d)
		}
	}
	return open, nil
}

type fakeQueueRepo struct {
	items   []*models.RatingQueueItem
	matches *fakeMatchRepo
	nextID  int
}

func newFakeQueueRepo(matches *fakeMatchRepo) *fakeQueueRepo {
	return &fakeQueueRepo{matches: matches, nextID: 1}
}

func (r *fakeQueueRepo) Enqueue(ctx context.Context, exec repositories.SQLExecutor, item *models.RatingQueueItem) error {
	for _, existing := range r.items {
		if existing.MatchID == item.MatchID {
			return nil
		}
	}
	item.ID = r.nextID
	r.nextID++
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	r.items = append(r.items, item)
	return nil
}

func (r *fakeQueueRepo) ListPending(ctx context.Context, exec repositories.SQLExecutor, limit int) ([]*models.RatingQueueItem, error) {
	pending := make([]*models.RatingQueueItem, 0)
	for _, item := range r.items {
		if item.ProcessedAt == nil {
			pending = append(pending, item)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		di := r.matches.matches[pending[i].MatchID].MatchDate
		dj := r.matches.matches[pending[j].MatchID].MatchDate
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

func (r *fakeQueueRepo) MarkProcessed(ctx context.Context, exec repositories.SQLExecutor, itemID int) error {
	for _, item := range r.items {
		if item.ID == itemID && item.ProcessedAt == nil {
			now := time.Now()
			item.ProcessedAt = &now
			return nil
		}
	}
	return repositories.ErrQueueItemNotFound
}

func (r *fakeQueueRepo) RecordFailure(ctx context.Context, exec repositories.SQLExecutor, itemID int, cause string) error {
	for _, item := range r.items {
		if item.ID == itemID {
			item.Attempts++
			item.LastError = &cause
			return nil
		}
	}
	return repositories.ErrQueueItemNotFound
}

type fakeOutboxRepo struct {
	events []*models.OutboxEvent
	nextID int
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{nextID: 1}
}

func (r *fakeOutboxRepo) Append(ctx context.Context, exec repositories.SQLExecutor, event *models.OutboxEvent) error {
	event.ID = r.nextID
	r.nextID++
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.events = append(r.events, event)
	return nil
}

func (r *fakeOutboxRepo) ListUnpublished(ctx context.Context, exec repositories.SQLExecutor, limit int) ([]*models.OutboxEvent, error) {
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

func (r *fakeOutboxRepo) MarkPublished(ctx context.Context, exec repositories.SQLExecutor, eventID int) error {
	for _, e := range r.events {
		if e.ID == eventID && e.PublishedAt == nil {
			now := time.Now()
			e.PublishedAt = &now
			return nil
		}
	}
	return repositories.ErrOutboxEventNotFound
}

func (r *fakeOutboxRepo) typesSeen() []models.EventType {
	types := make([]models.EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

// fakeRatingRepo is a full in-memory RatingRepository, shared between the
// engine, lifecycle and recalculation tests.
type fakeRatingRepo struct {
	rows       map[int]*models.PlayerRating
	history    []*models.RatingHistory
	matches    *fakeMatchRepo
	nextRowID  int
	nextHistID int
}

func newFakeRatingRepo(matches *fakeMatchRepo) *fakeRatingRepo {
	return &fakeRatingRepo{
		rows:      make(map[int]*models.PlayerRating),
		matches:   matches,
		nextRowID: 1, nextHistID: 1,
	}
}

func (r *fakeRatingRepo) seedRow(playerID int, scope models.RatingScope, sport models.Sport, gameType models.GameType, rating, deviation, volatility float64) *models.PlayerRating {
	pr := &models.PlayerRating{
		ID:            r.nextRowID,
		PlayerID:      playerID,
		Scope:         scope,
		Sport:         sport,
		GameType:      gameType,
		Rating:        rating,
		Deviation:     deviation,
		Volatility:    volatility,
		IsProvisional: true,
		PeakRating:    rating,
		LowestRating:  rating,
		UpdatedAt:     time.Now(),
	}
	r.nextRowID++
	r.rows[pr.ID] = pr
	return pr
}

func (r *fakeRatingRepo) find(playerID int, scope models.RatingScope, gameType models.GameType) *models.PlayerRating {
	for _, pr := range r.rows {
		if pr.PlayerID == playerID && pr.Scope == scope && pr.GameType == gameType {
			return pr
		}
	}
	return nil
}

func (r *fakeRatingRepo) GetOrCreateForUpdate(ctx context.Context, exec repositories.SQLExecutor, playerID int, scope models.RatingScope, sport models.Sport, gameType models.GameType, seed repositories.RatingSeed) (*models.PlayerRating, error) {
	if pr := r.find(playerID, scope, gameType); pr != nil {
		return pr, nil
	}
	return r.seedRow(playerID, scope, sport, gameType, seed.Rating, seed.Deviation, seed.Volatility), nil
}

func (r *fakeRatingRepo) GetByPlayer(ctx context.Context, exec repositories.SQLExecutor, playerID int, scope models.RatingScope, gameType models.GameType) (*models.PlayerRating, error) {
	if pr := r.find(playerID, scope, gameType); pr != nil {
		return pr, nil
	}
	return nil, repositories.ErrPlayerRatingNotFound
}

func (r *fakeRatingRepo) ListByPartition(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType) ([]*models.PlayerRating, error) {
	out := make([]*models.PlayerRating, 0)
	for _, pr := range r.rows {
		if pr.Scope == scope && pr.GameType == gameType {
			copied := *pr
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (r *fakeRatingRepo) ListByPlayer(ctx context.Context, exec repositories.SQLExecutor, playerID int) ([]*models.PlayerRating, error) {
	out := make([]*models.PlayerRating, 0)
	for _, pr := range r.rows {
		if pr.PlayerID == playerID {
			copied := *pr
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRatingRepo) Save(ctx context.Context, exec repositories.SQLExecutor, rating *models.PlayerRating) error {
	if _, ok := r.rows[rating.ID]; !ok {
		return repositories.ErrPlayerRatingNotFound
	}
	rating.UpdatedAt = time.Now()
	r.rows[rating.ID] = rating
	return nil
}

func (r *fakeRatingRepo) ResetPartition(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType, seed repositories.RatingSeed) error {
	for _, pr := range r.rows {
		if pr.Scope != scope || pr.GameType != gameType {
			continue
		}
		pr.Rating = seed.Rating
		pr.Deviation = seed.Deviation
		pr.Volatility = seed.Volatility
		pr.MatchesPlayed = 0
		pr.IsProvisional = true
		pr.PeakRating = seed.Rating
		pr.PeakAt = nil
		pr.LowestRating = seed.Rating
		pr.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeRatingRepo) AppendHistory(ctx context.Context, exec repositories.SQLExecutor, entry *models.RatingHistory) error {
	entry.ID = r.nextHistID
	r.nextHistID++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.history = append(r.history, entry)
	return nil
}

func (r *fakeRatingRepo) ListHistoryByRating(ctx context.Context, exec repositories.SQLExecutor, playerRatingID int) ([]*models.RatingHistory, error) {
	out := make([]*models.RatingHistory, 0)
	for _, h := range r.history {
		if h.PlayerRatingID == playerRatingID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *fakeRatingRepo) ListHistoryByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) ([]*models.RatingHistory, error) {
	out := make([]*models.RatingHistory, 0)
	for _, h := range r.history {
		if h.MatchID != nil && *h.MatchID == matchID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *fakeRatingRepo) HasMatchHistory(ctx context.Context, exec repositories.SQLExecutor, matchID int, scope models.RatingScope, gameType models.GameType) (bool, error) {
	for _, h := range r.history {
		if h.MatchID == nil || *h.MatchID != matchID || h.Reason == models.ReasonAdjustment {
			continue
		}
		if pr, ok := r.rows[h.PlayerRatingID]; ok && pr.Scope == scope && pr.GameType == gameType {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRatingRepo) LastAppliedMatchDate(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType) (*time.Time, error) {
	var last *time.Time
	for _, h := range r.history {
		if h.MatchID == nil || h.Reason == models.ReasonAdjustment {
			continue
		}
		pr, ok := r.rows[h.PlayerRatingID]
		if !ok || pr.Scope != scope || pr.GameType != gameType {
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

func (r *fakeRatingRepo) DeleteHistoryForPartition(ctx context.Context, exec repositories.SQLExecutor, scope models.RatingScope, gameType models.GameType) error {
	kept := r.history[:0]
	for _, h := range r.history {
		pr, ok := r.rows[h.PlayerRatingID]
		if ok && pr.Scope == scope && pr.GameType == gameType {
			continue
		}
		kept = append(kept, h)
	}
	r.history = kept
	return nil
}

type fakeRecalcRepo struct {
	mu     sync.Mutex
	jobs   map[int]*models.RatingRecalculation
	nextID int
}

func newFakeRecalcRepo() *fakeRecalcRepo {
	return &fakeRecalcRepo{jobs: make(map[int]*models.RatingRecalculation), nextID: 1}
}

func (r *fakeRecalcRepo) Create(ctx context.Context, exec repositories.SQLExecutor, job *models.RatingRecalculation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = r.nextID
	r.nextID++
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *fakeRecalcRepo) GetByPublicID(ctx context.Context, exec repositories.SQLExecutor, publicID uuid.UUID) (*models.RatingRecalculation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.PublicID == publicID {
			copied := *job
			return &copied, nil
		}
	}
	return nil, repositories.ErrRecalculationNotFound
}

func (r *fakeRecalcRepo) GetByIDForUpdate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.RatingRecalculation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, repositories.ErrRecalculationNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *fakeRecalcRepo) Update(ctx context.Context, exec repositories.SQLExecutor, job *models.RatingRecalculation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return repositories.ErrRecalculationNotFound
	}
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *fakeRecalcRepo) FailOverduePending(ctx context.Context, exec repositories.SQLExecutor, cutoff time.Time, cause string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	failed := 0
	for _, job := range r.jobs {
		if job.Status == models.RecalcStatusPending && job.CreatedAt.Before(cutoff) {
			now := time.Now()
			job.Status = models.RecalcStatusFailed
			job.LastError = &cause
			job.FailedAt = &now
			failed++
		}
	}
	return failed, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: make(map[string][]byte)}
}

func (u *fakeUploader) Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*storage.UploadResult, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.objects[key] = buf.Bytes()
	u.mu.Unlock()
	return &storage.UploadResult{Key: key, Location: "https://cdn.test/" + key}, nil
}

func (u *fakeUploader) Delete(ctx context.Context, key string) error {
	u.mu.Lock()
	delete(u.objects, key)
	u.mu.Unlock()
	return nil
}

func (u *fakeUploader) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}
