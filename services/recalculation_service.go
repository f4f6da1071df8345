package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
	"github.com/NxTech4021/dl-backend-sub004/storage"
)

// ratingPartition is one independent (scope, game type) rating space. A
// recalculation job expands into one or more partitions and every partition
// is rebuilt in full.
type ratingPartition struct {
	Scope    models.RatingScope
	GameType models.GameType
}

type RecalcConfig struct {
	Seed repositories.RatingSeed
	// PreviewTimeout bounds the wall clock of one preview run. A preview
	// that exceeds it transitions the job to FAILED without touching live
	// rows.
	PreviewTimeout time.Duration
}

type RecalculationService interface {
	Request(ctx context.Context, scope models.RecalcScope, targetID, requestedBy int) (*models.RatingRecalculation, error)
	// RunPreview executes the preview phase of a PENDING job. The caller
	// usually runs it in its own goroutine; Cancel aborts it cooperatively.
	RunPreview(ctx context.Context, jobID int) error
	Apply(ctx context.Context, publicID uuid.UUID) (*models.RatingRecalculation, error)
	Cancel(ctx context.Context, publicID uuid.UUID) (*models.RatingRecalculation, error)
	Get(ctx context.Context, publicID uuid.UUID) (*models.RatingRecalculation, error)
	// FailOverdue fails PENDING jobs whose preview never finished within
	// maxAge. The scheduler calls this periodically.
	FailOverdue(ctx context.Context, maxAge time.Duration) (int, error)
}

type recalculationService struct {
	tx           repositories.TxRunner
	recalcs      repositories.RecalculationRepository
	matches      repositories.MatchRepository
	participants repositories.ParticipantRepository
	ratings      repositories.RatingRepository
	outbox       repositories.OutboxRepository
	engine       *RatingEngine
	archive      storage.FileUploader
	cfg          RecalcConfig
	logger       *slog.Logger

	cancelMu sync.Mutex
	cancels  map[int]context.CancelFunc
}

func NewRecalculationService(
	tx repositories.TxRunner,
	recalcs repositories.RecalculationRepository,
	matches repositories.MatchRepository,
	participants repositories.ParticipantRepository,
	ratings repositories.RatingRepository,
	outbox repositories.OutboxRepository,
	engine *RatingEngine,
	archive storage.FileUploader,
	cfg RecalcConfig,
	logger *slog.Logger,
) RecalculationService {
	if cfg.PreviewTimeout <= 0 {
		cfg.PreviewTimeout = 5 * time.Minute
	}
	return &recalculationService{
		tx:           tx,
		recalcs:      recalcs,
		matches:      matches,
		participants: participants,
		ratings:      ratings,
		outbox:       outbox,
		engine:       engine,
		archive:      archive,
		cfg:          cfg,
		logger:       logger,
		cancels:      make(map[int]context.CancelFunc),
	}
}

func (s *recalculationService) Request(ctx context.Context, scope models.RecalcScope, targetID, requestedBy int) (*models.RatingRecalculation, error) {
	switch scope {
	case models.RecalcScopeMatch, models.RecalcScopePlayer, models.RecalcScopeDivision, models.RecalcScopeSeason:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecalcScope, scope)
	}
	if scope == models.RecalcScopeMatch {
		match, err := s.matches.GetByID(ctx, nil, targetID)
		if err != nil {
			return nil, err
		}
		if _, ok := match.RatingScope(); !ok || match.IsFriendly {
			return nil, fmt.Errorf("%w: match %d is not rating eligible", ErrNotRatingEligible, targetID)
		}
	}

	job := &models.RatingRecalculation{
		PublicID:    uuid.New(),
		Scope:       scope,
		TargetID:    targetID,
		Status:      models.RecalcStatusPending,
		RequestedBy: requestedBy,
		CreatedAt:   time.Now(),
	}
	if err := s.recalcs.Create(ctx, nil, job); err != nil {
		return nil, err
	}
	s.logger.Info("recalculation requested",
		"job_id", job.ID, "public_id", job.PublicID, "scope", scope, "target_id", targetID)
	return job, nil
}

func (s *recalculationService) Get(ctx context.Context, publicID uuid.UUID) (*models.RatingRecalculation, error) {
	return s.recalcs.GetByPublicID(ctx, nil, publicID)
}

func (s *recalculationService) FailOverdue(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.recalcs.FailOverduePending(ctx, nil, time.Now().Add(-maxAge), "preview deadline exceeded")
}

// RunPreview replays every partition of the job into scratch state, archives
// the full per-player payload and stores a summary on the job row. Live
// rating rows are only ever read here.
func (s *recalculationService) RunPreview(ctx context.Context, jobID int) error {
	job, err := s.claimPending(ctx, jobID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.PreviewTimeout)
	s.registerCancel(jobID, cancel)
	defer func() {
		s.unregisterCancel(jobID)
		cancel()
	}()

	deltas, replayed, err := s.replayAll(runCtx, job)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Cancel already moved the job out of PENDING. Nothing to record.
			s.logger.Info("recalculation preview cancelled", "job_id", jobID)
			return nil
		}
		cause := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			cause = fmt.Sprintf("preview exceeded %s", s.cfg.PreviewTimeout)
		}
		return s.markFailed(ctx, jobID, cause)
	}

	summary := summarize(deltas, replayed)
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return s.markFailed(ctx, jobID, fmt.Sprintf("failed to encode summary: %v", err))
	}

	payload, err := json.Marshal(deltas)
	if err != nil {
		return s.markFailed(ctx, jobID, fmt.Sprintf("failed to encode preview payload: %v", err))
	}
	key := storage.RecalculationArchiveKey(job.PublicID)
	if _, err = s.archive.Upload(runCtx, key, "application/json", bytes.NewReader(payload)); err != nil {
		return s.markFailed(ctx, jobID, fmt.Sprintf("failed to archive preview: %v", err))
	}

	return s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		locked, lockErr := s.recalcs.GetByIDForUpdate(ctx, exec, jobID)
		if lockErr != nil {
			return lockErr
		}
		if locked.Status != models.RecalcStatusPending {
			// Cancelled or swept while we were computing. The archive stays
			// behind but the job state wins.
			return nil
		}
		now := time.Now()
		summaryStr := string(summaryJSON)
		locked.Status = models.RecalcStatusPreviewReady
		locked.AffectedPlayers = summary.AffectedPlayers
		locked.PreviewSummary = &summaryStr
		locked.ArchiveKey = &key
		locked.PreviewedAt = &now
		if updErr := s.recalcs.Update(ctx, exec, locked); updErr != nil {
			return updErr
		}
		s.logger.Info("recalculation preview ready",
			"job_id", jobID, "affected_players", summary.AffectedPlayers, "matches_replayed", summary.MatchesReplayed)
		return nil
	})
}

func (s *recalculationService) claimPending(ctx context.Context, jobID int) (*models.RatingRecalculation, error) {
	var job *models.RatingRecalculation
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		locked, lockErr := s.recalcs.GetByIDForUpdate(ctx, exec, jobID)
		if lockErr != nil {
			return lockErr
		}
		if locked.Status != models.RecalcStatusPending {
			return fmt.Errorf("%w: job %d is %s", ErrRecalcTerminal, jobID, locked.Status)
		}
		job = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *recalculationService) replayAll(ctx context.Context, job *models.RatingRecalculation) ([]models.PreviewPlayerDelta, int, error) {
	partitions, err := s.resolvePartitions(ctx, nil, job.Scope, job.TargetID)
	if err != nil {
		return nil, 0, err
	}

	type partResult struct {
		deltas   []models.PreviewPlayerDelta
		replayed int
	}
	results := make([]partResult, len(partitions))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range partitions {
		i, p := i, p
		g.Go(func() error {
			deltas, replayed, perr := s.previewPartition(gctx, p)
			if perr != nil {
				return perr
			}
			results[i] = partResult{deltas: deltas, replayed: replayed}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, 0, err
	}

	all := make([]models.PreviewPlayerDelta, 0)
	total := 0
	for _, r := range results {
		all = append(all, r.deltas...)
		total += r.replayed
	}
	return all, total, nil
}

func (s *recalculationService) previewPartition(ctx context.Context, p ratingPartition) ([]models.PreviewPlayerDelta, int, error) {
	live, err := s.ratings.ListByPartition(ctx, nil, p.Scope, p.GameType)
	if err != nil {
		return nil, 0, err
	}
	matches, err := s.matches.ListRatingEligible(ctx, nil, p.Scope, p.GameType)
	if err != nil {
		return nil, 0, err
	}

	scratch := newScratchRatingStore()
	replayed := 0
	for _, m := range matches {
		if err = ctx.Err(); err != nil {
			return nil, 0, err
		}
		parts, perr := s.participants.ListAcceptedByMatch(ctx, nil, m.ID)
		if perr != nil {
			return nil, 0, perr
		}
		if _, aerr := s.engine.ApplyMatch(ctx, nil, scratch, m, parts); aerr != nil {
			if IsStateConflict(aerr) || IsValidationError(aerr) {
				s.logger.Warn("skipping match during preview replay", "match_id", m.ID, "error", aerr)
				continue
			}
			return nil, 0, aerr
		}
		replayed++
	}

	return diffPartition(p, live, scratch, s.cfg.Seed), replayed, nil
}

// diffPartition compares replayed scratch state against live rows. Live rows
// no replayed match reached still appear, since apply would reset them to
// seed values.
func diffPartition(p ratingPartition, live []*models.PlayerRating, scratch *scratchRatingStore, seed repositories.RatingSeed) []models.PreviewPlayerDelta {
	liveByPlayer := make(map[int]*models.PlayerRating, len(live))
	for _, pr := range live {
		liveByPlayer[pr.PlayerID] = pr
	}

	deltas := make([]models.PreviewPlayerDelta, 0, len(live))
	seen := make(map[int]bool)
	for _, pr := range scratch.finalRatings() {
		before := seed.Rating
		if lr, ok := liveByPlayer[pr.PlayerID]; ok {
			before = lr.Rating
		}
		seen[pr.PlayerID] = true
		deltas = append(deltas, models.PreviewPlayerDelta{
			PlayerID:     pr.PlayerID,
			Scope:        p.Scope,
			GameType:     p.GameType,
			RatingBefore: before,
			RatingAfter:  pr.Rating,
			Delta:        pr.Rating - before,
		})
	}
	for _, lr := range live {
		if seen[lr.PlayerID] {
			continue
		}
		deltas = append(deltas, models.PreviewPlayerDelta{
			PlayerID:     lr.PlayerID,
			Scope:        p.Scope,
			GameType:     p.GameType,
			RatingBefore: lr.Rating,
			RatingAfter:  seed.Rating,
			Delta:        seed.Rating - lr.Rating,
		})
	}
	return deltas
}

func summarize(deltas []models.PreviewPlayerDelta, replayed int) models.PreviewSummary {
	summary := models.PreviewSummary{MatchesReplayed: replayed}
	var sum float64
	for _, d := range deltas {
		abs := math.Abs(d.Delta)
		if abs > 1e-9 {
			summary.AffectedPlayers++
		}
		sum += abs
		if abs > summary.MaxDelta {
			summary.MaxDelta = abs
		}
	}
	if len(deltas) > 0 {
		summary.AverageDelta = sum / float64(len(deltas))
	}
	return summary
}

// Apply rebuilds every partition of a PREVIEW_READY job inside one
// transaction: history wiped, ratings reset to seed, eligible matches
// replayed in order. Manual adjustments are deliberately not re-applied.
func (s *recalculationService) Apply(ctx context.Context, publicID uuid.UUID) (*models.RatingRecalculation, error) {
	job, err := s.recalcs.GetByPublicID(ctx, nil, publicID)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		locked, lockErr := s.recalcs.GetByIDForUpdate(ctx, exec, job.ID)
		if lockErr != nil {
			return lockErr
		}
		switch locked.Status {
		case models.RecalcStatusPreviewReady:
		case models.RecalcStatusPending:
			return fmt.Errorf("%w: job %d has no preview yet", ErrRecalcNotPreviewed, job.ID)
		default:
			return fmt.Errorf("%w: job %d is %s", ErrRecalcTerminal, job.ID, locked.Status)
		}

		partitions, perr := s.resolvePartitions(ctx, exec, locked.Scope, locked.TargetID)
		if perr != nil {
			return perr
		}

		affected := make(map[int]bool)
		for _, p := range partitions {
			if aerr := s.applyPartition(ctx, exec, p, affected); aerr != nil {
				return aerr
			}
			event := &models.OutboxEvent{
				Type:    models.EventRecalcApplied,
				Room:    partitionRoom(p.Scope),
				Payload: mustJSON(map[string]interface{}{"public_id": locked.PublicID, "scope_type": p.Scope.Type, "scope_id": p.Scope.ID, "game_type": p.GameType}),
			}
			if oerr := s.outbox.Append(ctx, exec, event); oerr != nil {
				return oerr
			}
		}

		now := time.Now()
		locked.Status = models.RecalcStatusApplied
		locked.AffectedPlayers = len(affected)
		locked.AppliedAt = &now
		return s.recalcs.Update(ctx, exec, locked)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrRollbackFailed) {
			s.logger.Error("recalculation apply could not roll back", "job_id", job.ID, "error", err)
			_ = s.markFailed(ctx, job.ID, err.Error())
			return nil, fmt.Errorf("%w: job %d: %v", ErrRecalcRollbackFailed, job.ID, err)
		}
		if !IsStateConflict(err) && !errors.Is(err, ErrNotFound) {
			s.recordError(ctx, job.ID, err.Error())
		}
		return nil, err
	}

	applied, err := s.recalcs.GetByPublicID(ctx, nil, publicID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("recalculation applied", "job_id", applied.ID, "affected_players", applied.AffectedPlayers)
	return applied, nil
}

func (s *recalculationService) applyPartition(ctx context.Context, exec repositories.SQLExecutor, p ratingPartition, affected map[int]bool) error {
	liveBefore, err := s.ratings.ListByPartition(ctx, exec, p.Scope, p.GameType)
	if err != nil {
		return err
	}
	if err = s.ratings.DeleteHistoryForPartition(ctx, exec, p.Scope, p.GameType); err != nil {
		return err
	}
	if err = s.ratings.ResetPartition(ctx, exec, p.Scope, p.GameType, s.cfg.Seed); err != nil {
		return err
	}

	matches, err := s.matches.ListRatingEligible(ctx, exec, p.Scope, p.GameType)
	if err != nil {
		return err
	}

	touched := make(map[int]bool)
	for _, m := range matches {
		if err = ctx.Err(); err != nil {
			return err
		}
		parts, perr := s.participants.ListAcceptedByMatch(ctx, exec, m.ID)
		if perr != nil {
			return perr
		}
		entries, aerr := s.engine.ApplyMatch(ctx, exec, s.ratings, m, parts)
		if aerr != nil {
			if IsStateConflict(aerr) || IsValidationError(aerr) {
				s.logger.Warn("skipping match during apply replay", "match_id", m.ID, "error", aerr)
				continue
			}
			return aerr
		}
		for _, pt := range parts {
			affected[pt.UserID] = true
		}
		for _, e := range entries {
			touched[e.PlayerRatingID] = true
		}
	}

	// Rows untouched by the replay were still reset to seed; record that so
	// the history chain explains the current value.
	for _, old := range liveBefore {
		if touched[old.ID] {
			continue
		}
		affected[old.PlayerID] = true
		entry := &models.RatingHistory{
			PlayerRatingID: old.ID,
			RatingBefore:   old.Rating,
			RatingAfter:    s.cfg.Seed.Rating,
			Delta:          s.cfg.Seed.Rating - old.Rating,
			DevBefore:      old.Deviation,
			DevAfter:       s.cfg.Seed.Deviation,
			Reason:         models.ReasonRecalculation,
			CreatedAt:      time.Now(),
		}
		if herr := s.ratings.AppendHistory(ctx, exec, entry); herr != nil {
			return herr
		}
	}
	return nil
}

func (s *recalculationService) Cancel(ctx context.Context, publicID uuid.UUID) (*models.RatingRecalculation, error) {
	job, err := s.recalcs.GetByPublicID(ctx, nil, publicID)
	if err != nil {
		return nil, err
	}

	var cancelled *models.RatingRecalculation
	err = s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		locked, lockErr := s.recalcs.GetByIDForUpdate(ctx, exec, job.ID)
		if lockErr != nil {
			return lockErr
		}
		switch locked.Status {
		case models.RecalcStatusPending, models.RecalcStatusPreviewReady:
		default:
			return fmt.Errorf("%w: job %d is %s", ErrRecalcNotCancelable, job.ID, locked.Status)
		}
		now := time.Now()
		locked.Status = models.RecalcStatusCancelled
		locked.CancelledAt = &now
		if updErr := s.recalcs.Update(ctx, exec, locked); updErr != nil {
			return updErr
		}
		cancelled = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Interrupt an in-flight preview after the status flip commits.
	s.cancelMu.Lock()
	if cancel, ok := s.cancels[job.ID]; ok {
		cancel()
	}
	s.cancelMu.Unlock()

	s.logger.Info("recalculation cancelled", "job_id", job.ID)
	return cancelled, nil
}

func (s *recalculationService) resolvePartitions(ctx context.Context, exec repositories.SQLExecutor, scope models.RecalcScope, targetID int) ([]ratingPartition, error) {
	switch scope {
	case models.RecalcScopeMatch:
		match, err := s.matches.GetByID(ctx, exec, targetID)
		if err != nil {
			return nil, err
		}
		ratingScope, ok := match.RatingScope()
		if !ok {
			return nil, fmt.Errorf("%w: match %d has no division or season", ErrNotRatingEligible, targetID)
		}
		return []ratingPartition{{Scope: ratingScope, GameType: match.GameType}}, nil

	case models.RecalcScopePlayer:
		ratings, err := s.ratings.ListByPlayer(ctx, exec, targetID)
		if err != nil {
			return nil, err
		}
		seen := make(map[ratingPartition]bool)
		partitions := make([]ratingPartition, 0, len(ratings))
		for _, pr := range ratings {
			p := ratingPartition{Scope: pr.Scope, GameType: pr.GameType}
			if !seen[p] {
				seen[p] = true
				partitions = append(partitions, p)
			}
		}
		return partitions, nil

	case models.RecalcScopeDivision, models.RecalcScopeSeason:
		scopeType := models.ScopeDivision
		if scope == models.RecalcScopeSeason {
			scopeType = models.ScopeSeason
		}
		ratingScope := models.RatingScope{Type: scopeType, ID: targetID}
		return []ratingPartition{
			{Scope: ratingScope, GameType: models.GameTypeSingles},
			{Scope: ratingScope, GameType: models.GameTypeDoubles},
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidRecalcScope, scope)
}

func (s *recalculationService) registerCancel(jobID int, cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancels[jobID] = cancel
	s.cancelMu.Unlock()
}

func (s *recalculationService) unregisterCancel(jobID int) {
	s.cancelMu.Lock()
	delete(s.cancels, jobID)
	s.cancelMu.Unlock()
}

func (s *recalculationService) markFailed(ctx context.Context, jobID int, cause string) error {
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		locked, lockErr := s.recalcs.GetByIDForUpdate(ctx, exec, jobID)
		if lockErr != nil {
			return lockErr
		}
		if locked.Status == models.RecalcStatusApplied || locked.Status == models.RecalcStatusCancelled {
			return nil
		}
		now := time.Now()
		locked.Status = models.RecalcStatusFailed
		locked.LastError = &cause
		locked.FailedAt = &now
		return s.recalcs.Update(ctx, exec, locked)
	})
	if err != nil {
		s.logger.Error("failed to mark recalculation as failed", "job_id", jobID, "error", err)
		return err
	}
	s.logger.Warn("recalculation failed", "job_id", jobID, "cause", cause)
	return nil
}

func (s *recalculationService) recordError(ctx context.Context, jobID int, cause string) {
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		locked, lockErr := s.recalcs.GetByIDForUpdate(ctx, exec, jobID)
		if lockErr != nil {
			return lockErr
		}
		locked.LastError = &cause
		return s.recalcs.Update(ctx, exec, locked)
	})
	if err != nil {
		s.logger.Error("failed to record recalculation error", "job_id", jobID, "error", err)
	}
}

func partitionRoom(scope models.RatingScope) string {
	return fmt.Sprintf("%s:%d", scope.Type, scope.ID)
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
