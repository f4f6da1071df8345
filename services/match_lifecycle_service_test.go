package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NxTech4021/dl-backend-sub004/models"
)

type lifecycleFixture struct {
	svc          MatchLifecycleService
	matches      *fakeMatchRepo
	participants *fakeParticipantRepo
	scores       *fakeScoreRepo
	disputes     *fakeDisputeRepo
	queue        *fakeQueueRepo
	outbox       *fakeOutboxRepo
}

func newLifecycleFixture(matchList ...*models.Match) *lifecycleFixture {
	matches := newFakeMatchRepo(matchList...)
	participants := newFakeParticipantRepo()
	scores := newFakeScoreRepo()
	disputes := newFakeDisputeRepo()
	queue := newFakeQueueRepo(matches)
	outbox := newFakeOutboxRepo()

	for _, m := range matchList {
		participants.add(m.ID, 1, models.SideA)
		participants.add(m.ID, 2, models.SideB)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &lifecycleFixture{
		svc:          NewMatchLifecycleService(fakeTxRunner{}, matches, participants, scores, disputes, queue, outbox, logger),
		matches:      matches,
		participants: participants,
		scores:       scores,
		disputes:     disputes,
		queue:        queue,
		outbox:       outbox,
	}
}

func scheduledMatch(id int) *models.Match {
	divisionID := 7
	return &models.Match{
		ID:         id,
		Sport:      models.SportTennis,
		GameType:   models.GameTypeSingles,
		DivisionID: &divisionID,
		MatchDate:  time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC),
		Status:     models.MatchStatusScheduled,
	}
}

func straightSets() []models.ScoreInput {
	return []models.ScoreInput{
		{SideA: 6, SideB: 3},
		{SideA: 6, SideB: 4},
	}
}

func TestSubmitResult(t *testing.T) {
	f := newLifecycleFixture(scheduledMatch(1))

	match, err := f.svc.SubmitResult(context.Background(), 1, 1, straightSets())
	require.NoError(t, err)

	assert.Equal(t, models.MatchStatusOngoing, match.Status)
	require.NotNil(t, match.SideAScore)
	assert.Equal(t, 2, *match.SideAScore)
	assert.Equal(t, 0, *match.SideBScore)
	require.NotNil(t, match.ResultSubmittedBy)
	assert.Equal(t, 1, *match.ResultSubmittedBy)
	assert.Len(t, f.scores.byMatch[1], 2)
	assert.Equal(t, []models.EventType{models.EventResultSubmitted}, f.outbox.typesSeen())
}

func TestSubmitResultGuards(t *testing.T) {
	t.Run("not a participant", func(t *testing.T) {
		f := newLifecycleFixture(scheduledMatch(1))
		_, err := f.svc.SubmitResult(context.Background(), 1, 99, straightSets())
		require.ErrorIs(t, err, ErrNotParticipant)
	})

	t.Run("wrong state", func(t *testing.T) {
		m := scheduledMatch(1)
		m.Status = models.MatchStatusOngoing
		f := newLifecycleFixture(m)
		_, err := f.svc.SubmitResult(context.Background(), 1, 1, straightSets())
		require.ErrorIs(t, err, ErrInvalidMatchState)
	})

	t.Run("invalid scores", func(t *testing.T) {
		f := newLifecycleFixture(scheduledMatch(1))
		_, err := f.svc.SubmitResult(context.Background(), 1, 1, nil)
		require.ErrorIs(t, err, ErrScoreRequired)
		assert.Equal(t, models.MatchStatusScheduled, f.matches.matches[1].Status)
	})

	t.Run("missing match", func(t *testing.T) {
		f := newLifecycleFixture()
		_, err := f.svc.SubmitResult(context.Background(), 42, 1, straightSets())
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestConfirmResultAccept(t *testing.T) {
	f := newLifecycleFixture(scheduledMatch(1))

	_, err := f.svc.SubmitResult(context.Background(), 1, 1, straightSets())
	require.NoError(t, err)

	match, err := f.svc.ConfirmResult(context.Background(), 1, 2, true, "")
	require.NoError(t, err)

	assert.Equal(t, models.MatchStatusCompleted, match.Status)
	require.NotNil(t, match.Outcome)
	assert.Equal(t, models.OutcomeSideA, *match.Outcome)
	require.NotNil(t, match.ResultConfirmedBy)
	assert.Equal(t, 2, *match.ResultConfirmedBy)

	// Завершённый матч попадает в очередь ровно один раз.
	require.Len(t, f.queue.items, 1)
	assert.Equal(t, 1, f.queue.items[0].MatchID)
	assert.Equal(t, []models.EventType{models.EventResultSubmitted, models.EventMatchCompleted}, f.outbox.typesSeen())
}

func TestConfirmResultSelfConfirmation(t *testing.T) {
	f := newLifecycleFixture(scheduledMatch(1))

	_, err := f.svc.SubmitResult(context.Background(), 1, 1, straightSets())
	require.NoError(t, err)

	_, err = f.svc.ConfirmResult(context.Background(), 1, 1, true, "")
	require.ErrorIs(t, err, ErrSelfConfirmation)
	assert.Empty(t, f.queue.items)
}

func TestConfirmResultReject(t *testing.T) {
	f := newLifecycleFixture(scheduledMatch(1))

	_, err := f.svc.SubmitResult(context.Background(), 1, 1, straightSets())
	require.NoError(t, err)

	match, err := f.svc.ConfirmResult(context.Background(), 1, 2, false, "score was 6-4 6-4")
	require.NoError(t, err)

	assert.Equal(t, models.MatchStatusScheduled, match.Status)
	assert.True(t, match.IsDisputed)
	assert.Nil(t, match.Outcome)
	assert.Nil(t, match.SideAScore)
	assert.Nil(t, match.ResultSubmittedBy)
	assert.Empty(t, f.scores.byMatch[1])
	assert.Empty(t, f.queue.items)

	open, err := f.disputes.ListOpen(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 2, open[0].OpenedBy)
	assert.Equal(t, "score was 6-4 6-4", open[0].Reason)
	assert.Equal(t, []models.EventType{models.EventResultSubmitted, models.EventMatchDisputed}, f.outbox.typesSeen())
}

func TestSubmitWalkover(t *testing.T) {
	f := newLifecycleFixture(scheduledMatch(1))

	match, err := f.svc.SubmitWalkover(context.Background(), 1, 1, 2, "no show")
	require.NoError(t, err)

	assert.Equal(t, models.MatchStatusWalkover, match.Status)
	assert.True(t, match.IsWalkover)
	require.NotNil(t, match.DefaultingSide)
	assert.Equal(t, models.SideB, *match.DefaultingSide)
	require.NotNil(t, match.Outcome)
	assert.Equal(t, models.OutcomeSideA, *match.Outcome)
	require.Len(t, f.queue.items, 1)
	assert.Equal(t, []models.EventType{models.EventMatchWalkover}, f.outbox.typesSeen())
}

func TestSubmitWalkoverDefaulterMustBeParticipant(t *testing.T) {
	f := newLifecycleFixture(scheduledMatch(1))

	_, err := f.svc.SubmitWalkover(context.Background(), 1, 1, 99, "no show")
	require.ErrorIs(t, err, ErrNotParticipant)
	assert.Equal(t, models.MatchStatusScheduled, f.matches.matches[1].Status)
}

func TestCancelAndUnfinished(t *testing.T) {
	t.Run("cancel scheduled", func(t *testing.T) {
		f := newLifecycleFixture(scheduledMatch(1))
		match, err := f.svc.CancelMatch(context.Background(), 1, 1)
		require.NoError(t, err)
		assert.Equal(t, models.MatchStatusCancelled, match.Status)
		assert.Empty(t, f.queue.items)
	})

	t.Run("cancel completed is rejected", func(t *testing.T) {
		m := scheduledMatch(1)
		m.Status = models.MatchStatusCompleted
		f := newLifecycleFixture(m)
		_, err := f.svc.CancelMatch(context.Background(), 1, 1)
		require.ErrorIs(t, err, ErrInvalidMatchState)
	})

	t.Run("unfinished from ongoing", func(t *testing.T) {
		m := scheduledMatch(1)
		m.Status = models.MatchStatusOngoing
		f := newLifecycleFixture(m)
		match, err := f.svc.MarkUnfinished(context.Background(), 1, 1)
		require.NoError(t, err)
		assert.Equal(t, models.MatchStatusUnfinished, match.Status)
	})

	t.Run("unfinished from scheduled is rejected", func(t *testing.T) {
		f := newLifecycleFixture(scheduledMatch(1))
		_, err := f.svc.MarkUnfinished(context.Background(), 1, 1)
		require.ErrorIs(t, err, ErrInvalidMatchState)
	})
}

func TestResolveDisputeReplay(t *testing.T) {
	f := newLifecycleFixture(scheduledMatch(1))

	_, err := f.svc.SubmitResult(context.Background(), 1, 1, straightSets())
	require.NoError(t, err)
	_, err = f.svc.ConfirmResult(context.Background(), 1, 2, false, "wrong score")
	require.NoError(t, err)

	err = f.svc.ResolveDisputeReplay(context.Background(), 1, 50, "talked to both players")
	require.NoError(t, err)

	assert.False(t, f.matches.matches[1].IsDisputed)
	assert.Equal(t, models.MatchStatusScheduled, f.matches.matches[1].Status)

	open, err := f.disputes.ListOpen(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestResolveDisputeReplayWithoutDispute(t *testing.T) {
	f := newLifecycleFixture(scheduledMatch(1))

	err := f.svc.ResolveDisputeReplay(context.Background(), 1, 50, "nothing to resolve")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestForceComplete(t *testing.T) {
	f := newLifecycleFixture(scheduledMatch(1))

	_, err := f.svc.SubmitResult(context.Background(), 1, 1, straightSets())
	require.NoError(t, err)
	_, err = f.svc.ConfirmResult(context.Background(), 1, 2, false, "wrong score")
	require.NoError(t, err)

	match, err := f.svc.ForceComplete(context.Background(), 1, 50, models.OutcomeSideB, "evidence from club")
	require.NoError(t, err)

	assert.Equal(t, models.MatchStatusCompleted, match.Status)
	assert.False(t, match.IsDisputed)
	require.NotNil(t, match.Outcome)
	assert.Equal(t, models.OutcomeSideB, *match.Outcome)
	require.NotNil(t, match.ResultForcedBy)
	assert.Equal(t, 50, *match.ResultForcedBy)

	require.Len(t, f.queue.items, 1)

	types := f.outbox.typesSeen()
	assert.Equal(t, models.EventMatchCompleted, types[len(types)-1])

	open, err := f.disputes.ListOpen(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, open)
}
