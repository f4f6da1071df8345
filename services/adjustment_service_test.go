package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
)

type fakeAdjustmentRepo struct {
	adjustments []*models.RatingAdjustment
}

func (r *fakeAdjustmentRepo) Create(ctx context.Context, exec repositories.SQLExecutor, adjustment *models.RatingAdjustment) error {
	adjustment.ID = len(r.adjustments) + 1
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now()
	}
	r.adjustments = append(r.adjustments, adjustment)
	return nil
}

func TestAdjust(t *testing.T) {
	matches := newFakeMatchRepo()
	ratings := newFakeRatingRepo(matches)
	adjustments := &fakeAdjustmentRepo{}
	outbox := newFakeOutboxRepo()
	svc := NewAdjustmentService(fakeTxRunner{}, ratings, adjustments, outbox, testSeed)

	scope := models.RatingScope{Type: models.ScopeDivision, ID: 7}
	ratings.seedRow(1, scope, models.SportTennis, models.GameTypeSingles, 1500, 80, 0.06)

	pr, err := svc.Adjust(context.Background(), 50, 1, scope, models.GameTypeSingles, -35, "sandbagging review")
	require.NoError(t, err)
	assert.Equal(t, 1465.0, pr.Rating)
	assert.Equal(t, 1465.0, pr.LowestRating)

	require.Len(t, ratings.history, 1)
	entry := ratings.history[0]
	assert.Equal(t, models.ReasonAdjustment, entry.Reason)
	assert.Equal(t, 1500.0, entry.RatingBefore)
	assert.Equal(t, 1465.0, entry.RatingAfter)
	assert.Equal(t, -35.0, entry.Delta)
	assert.Nil(t, entry.MatchID)

	require.Len(t, adjustments.adjustments, 1)
	assert.Equal(t, 50, adjustments.adjustments[0].AdminID)
	assert.Equal(t, "sandbagging review", adjustments.adjustments[0].Note)

	assert.Equal(t, []models.EventType{models.EventRatingUpdated}, outbox.typesSeen())
}

func TestAdjustUnknownRating(t *testing.T) {
	ratings := newFakeRatingRepo(newFakeMatchRepo())
	svc := NewAdjustmentService(fakeTxRunner{}, ratings, &fakeAdjustmentRepo{}, newFakeOutboxRepo(), testSeed)

	scope := models.RatingScope{Type: models.ScopeDivision, ID: 7}
	_, err := svc.Adjust(context.Background(), 50, 1, scope, models.GameTypeSingles, 10, "typo fix")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, ratings.history)
}

// После ручной правки цепочка истории остаётся непрерывной: движок
// стартует со скорректированного значения.
func TestAdjustKeepsHistoryChainContinuous(t *testing.T) {
	match := divisionMatch(1, 7, models.GameTypeSingles, time.Now().UTC().Add(time.Hour), models.OutcomeSideA)
	matches := newFakeMatchRepo(match)
	ratings := newFakeRatingRepo(matches)
	svc := NewAdjustmentService(fakeTxRunner{}, ratings, &fakeAdjustmentRepo{}, newFakeOutboxRepo(), testSeed)

	scope, _ := match.RatingScope()
	row := ratings.seedRow(1, scope, models.SportTennis, models.GameTypeSingles, 1500, 80, 0.06)
	ratings.seedRow(2, scope, models.SportTennis, models.GameTypeSingles, 1500, 80, 0.06)

	adjusted, err := svc.Adjust(context.Background(), 50, 1, scope, models.GameTypeSingles, 25, "seeding correction")
	require.NoError(t, err)

	_, err = newTestEngine().ApplyMatch(context.Background(), nil, ratings, match, singlesParticipants(1, 1, 2))
	require.NoError(t, err)

	chain, err := ratings.ListHistoryByRating(context.Background(), nil, row.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, adjusted.Rating, chain[0].RatingAfter)
	assert.Equal(t, chain[0].RatingAfter, chain[1].RatingBefore)
}
