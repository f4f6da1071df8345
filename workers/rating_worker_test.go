package workers

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
	"github.com/NxTech4021/dl-backend-sub004/services"
)

type workerFixture struct {
	worker  *RatingWorker
	matches *stubMatchRepo
	queue   *stubQueueRepo
	ratings *stubRatingRepo
	outbox  *stubOutboxRepo
}

func newWorkerFixture() *workerFixture {
	matches := &stubMatchRepo{matches: make(map[int]*models.Match)}
	participants := &stubParticipantRepo{byMatch: make(map[int][]*models.MatchParticipant)}
	queue := &stubQueueRepo{matches: matches}
	ratings := newStubRatingRepo(matches)
	outbox := &stubOutboxRepo{}

	seed := repositories.RatingSeed{Rating: 1500, Deviation: 350, Volatility: 0.06}
	engine := services.NewRatingEngine(services.NewGlicko2Model(services.Glicko2Config{}), services.EngineConfig{
		Seed:                 seed,
		ProvisionalThreshold: 10,
		WalkoverWeight:       0.25,
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	worker := NewRatingWorker(stubTxRunner{}, queue, matches, participants, ratings, outbox, engine, logger, time.Second, 100)
	return &workerFixture{worker: worker, matches: matches, queue: queue, ratings: ratings, outbox: outbox}
}

func (f *workerFixture) addCompletedMatch(id, divisionID int, date time.Time, playerA, playerB int) {
	outcome := models.OutcomeSideA
	f.matches.matches[id] = &models.Match{
		ID:         id,
		Sport:      models.SportTennis,
		GameType:   models.GameTypeSingles,
		DivisionID: &divisionID,
		MatchDate:  date,
		Status:     models.MatchStatusCompleted,
		Outcome:    &outcome,
	}
	participants := f.worker.participants.(*stubParticipantRepo)
	participants.byMatch[id] = []*models.MatchParticipant{
		{ID: id*10 + 1, MatchID: id, UserID: playerA, Side: models.SideA, Status: models.ParticipantAccepted},
		{ID: id*10 + 2, MatchID: id, UserID: playerB, Side: models.SideB, Status: models.ParticipantAccepted},
	}
}

func (f *workerFixture) enqueue(matchID int) *models.RatingQueueItem {
	m := f.matches.matches[matchID]
	scope, _ := m.RatingScope()
	item := &models.RatingQueueItem{MatchID: matchID, Scope: scope, GameType: m.GameType}
	_ = f.queue.Enqueue(context.Background(), nil, item)
	return item
}

func TestDrainOnceProcessesPartitionInDateOrder(t *testing.T) {
	f := newWorkerFixture()
	day1 := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

	// Поздний матч попадает в очередь первым.
	f.addCompletedMatch(1, 7, day1.Add(24*time.Hour), 1, 2)
	f.addCompletedMatch(2, 7, day1, 1, 2)
	f.enqueue(1)
	f.enqueue(2)

	processed, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	for _, item := range f.queue.items {
		assert.NotNil(t, item.ProcessedAt)
	}
	assert.Len(t, f.ratings.history, 4)
	require.Len(t, f.outbox.events, 2)
	for _, e := range f.outbox.events {
		assert.Equal(t, models.EventRatingUpdated, e.Type)
		assert.Equal(t, "division:7", e.Room)
	}
}

func TestDrainOncePartitionsAreIndependent(t *testing.T) {
	f := newWorkerFixture()
	date := time.Now().UTC()

	f.addCompletedMatch(1, 7, date, 1, 2)
	f.addCompletedMatch(2, 8, date, 3, 4)
	f.enqueue(1)
	f.enqueue(2)

	processed, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
}

func TestDrainOnceHaltsPartitionOnFailure(t *testing.T) {
	f := newWorkerFixture()
	day1 := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

	f.addCompletedMatch(2, 7, day1.Add(24*time.Hour), 1, 2)
	valid := f.enqueue(2)

	// Элемент без матча встаёт в начало раздела и роняет его.
	ghost := &models.RatingQueueItem{MatchID: 999, Scope: models.RatingScope{Type: models.ScopeDivision, ID: 7}, GameType: models.GameTypeSingles}
	_ = f.queue.Enqueue(context.Background(), nil, ghost)

	processed, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	assert.Equal(t, 1, ghost.Attempts)
	require.NotNil(t, ghost.LastError)
	assert.Nil(t, ghost.ProcessedAt)
	assert.Nil(t, valid.ProcessedAt)
	assert.Empty(t, f.ratings.history)
}

func TestDrainOnceRetiresDisputedMatch(t *testing.T) {
	f := newWorkerFixture()

	f.addCompletedMatch(1, 7, time.Now().UTC(), 1, 2)
	f.matches.matches[1].IsDisputed = true
	item := f.enqueue(1)

	processed, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	assert.NotNil(t, item.ProcessedAt)
	assert.Empty(t, f.ratings.history)
	assert.Empty(t, f.outbox.events)
}

// Парный walkover с неполным составом никогда не станет оцениваемым;
// такой элемент списывается и не блокирует матчи позади него.
func TestDrainOnceRetiresShortRosterWalkover(t *testing.T) {
	f := newWorkerFixture()
	day1 := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	divisionID := 7

	outcome := models.OutcomeSideA
	f.matches.matches[1] = &models.Match{
		ID:         1,
		Sport:      models.SportPadel,
		GameType:   models.GameTypeDoubles,
		DivisionID: &divisionID,
		MatchDate:  day1,
		Status:     models.MatchStatusWalkover,
		IsWalkover: true,
		Outcome:    &outcome,
	}
	participants := f.worker.participants.(*stubParticipantRepo)
	participants.byMatch[1] = []*models.MatchParticipant{
		{ID: 11, MatchID: 1, UserID: 1, Side: models.SideA, Status: models.ParticipantAccepted},
		{ID: 12, MatchID: 1, UserID: 3, Side: models.SideB, Status: models.ParticipantAccepted},
	}
	short := f.enqueue(1)

	full := models.OutcomeSideB
	f.matches.matches[2] = &models.Match{
		ID:         2,
		Sport:      models.SportPadel,
		GameType:   models.GameTypeDoubles,
		DivisionID: &divisionID,
		MatchDate:  day1.Add(24 * time.Hour),
		Status:     models.MatchStatusCompleted,
		Outcome:    &full,
	}
	participants.byMatch[2] = []*models.MatchParticipant{
		{ID: 21, MatchID: 2, UserID: 1, Side: models.SideA, Status: models.ParticipantAccepted},
		{ID: 22, MatchID: 2, UserID: 2, Side: models.SideA, Status: models.ParticipantAccepted},
		{ID: 23, MatchID: 2, UserID: 3, Side: models.SideB, Status: models.ParticipantAccepted},
		{ID: 24, MatchID: 2, UserID: 4, Side: models.SideB, Status: models.ParticipantAccepted},
	}
	valid := f.enqueue(2)

	processed, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	assert.NotNil(t, short.ProcessedAt)
	assert.NotNil(t, valid.ProcessedAt)

	// Рейтинг получили только участники полного матча.
	assert.Len(t, f.ratings.history, 4)
	require.Len(t, f.outbox.events, 1)
	assert.Equal(t, models.EventRatingUpdated, f.outbox.events[0].Type)
}

func TestDrainOnceIdempotentAcrossTicks(t *testing.T) {
	f := newWorkerFixture()

	f.addCompletedMatch(1, 7, time.Now().UTC(), 1, 2)
	f.enqueue(1)

	processed, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	processed, err = f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Len(t, f.ratings.history, 2)
}
