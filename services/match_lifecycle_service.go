package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NxTech4021/dl-backend-sub004/models"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
)

// MatchLifecycleService owns every lifecycle transition of a match after
// creation. All guards run before any mutation; a violated guard returns a
// typed error and leaves the row untouched.
type MatchLifecycleService interface {
	GetMatch(ctx context.Context, matchID int) (*models.Match, error)
	SubmitResult(ctx context.Context, matchID, submitterID int, scores []models.ScoreInput) (*models.Match, error)
	ConfirmResult(ctx context.Context, matchID, confirmerID int, accept bool, disputeReason string) (*models.Match, error)
	SubmitWalkover(ctx context.Context, matchID, reporterID, defaultingPlayerID int, reason string) (*models.Match, error)
	CancelMatch(ctx context.Context, matchID, actorID int) (*models.Match, error)
	MarkUnfinished(ctx context.Context, matchID, actorID int) (*models.Match, error)
	// ResolveDisputeReplay closes the dispute and leaves the match SCHEDULED
	// so the participants can go through submit/confirm again.
	ResolveDisputeReplay(ctx context.Context, matchID, adminID int, note string) error
	// ForceComplete closes the dispute by administrator fiat: the match goes
	// straight to COMPLETED with the supplied outcome and a provenance mark.
	ForceComplete(ctx context.Context, matchID, adminID int, outcome models.MatchOutcome, note string) (*models.Match, error)
	ListOpenDisputes(ctx context.Context) ([]*models.Dispute, error)
}

type matchLifecycleService struct {
	tx              repositories.TxRunner
	matchRepo       repositories.MatchRepository
	participantRepo repositories.ParticipantRepository
	scoreRepo       repositories.ScoreRepository
	disputeRepo     repositories.DisputeRepository
	queueRepo       repositories.QueueRepository
	outboxRepo      repositories.OutboxRepository
	logger          *slog.Logger
}

func NewMatchLifecycleService(
	tx repositories.TxRunner,
	matchRepo repositories.MatchRepository,
	participantRepo repositories.ParticipantRepository,
	scoreRepo repositories.ScoreRepository,
	disputeRepo repositories.DisputeRepository,
	queueRepo repositories.QueueRepository,
	outboxRepo repositories.OutboxRepository,
	logger *slog.Logger,
) MatchLifecycleService {
	return &matchLifecycleService{
		tx:              tx,
		matchRepo:       matchRepo,
		participantRepo: participantRepo,
		scoreRepo:       scoreRepo,
		disputeRepo:     disputeRepo,
		queueRepo:       queueRepo,
		outboxRepo:      outboxRepo,
		logger:          logger,
	}
}

func (s *matchLifecycleService) GetMatch(ctx context.Context, matchID int) (*models.Match, error) {
	match, err := s.matchRepo.GetByID(ctx, nil, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, fmt.Errorf("%w: match %d", ErrNotFound, matchID)
		}
		return nil, err
	}
	return match, nil
}

func (s *matchLifecycleService) SubmitResult(ctx context.Context, matchID, submitterID int, scores []models.ScoreInput) (*models.Match, error) {
	var match *models.Match
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		match, txErr = s.lockMatch(ctx, exec, matchID)
		if txErr != nil {
			return txErr
		}
		if match.Status != models.MatchStatusScheduled {
			return fmt.Errorf("%w: cannot submit result while %s", ErrInvalidMatchState, match.Status)
		}
		if txErr = s.requireAcceptedParticipant(ctx, exec, matchID, submitterID); txErr != nil {
			return txErr
		}

		result, entries, txErr := ValidateScores(ScoreKindForSport(match.Sport), scores)
		if txErr != nil {
			return txErr
		}
		if txErr = s.scoreRepo.ReplaceForMatch(ctx, exec, matchID, entries); txErr != nil {
			return txErr
		}

		now := time.Now()
		match.Status = models.MatchStatusOngoing
		match.SideAScore = &result.SideA
		match.SideBScore = &result.SideB
		match.ResultSubmittedBy = &submitterID
		match.ResultSubmittedAt = &now
		if txErr = s.matchRepo.Update(ctx, exec, match); txErr != nil {
			return txErr
		}

		return s.appendEvent(ctx, exec, models.EventResultSubmitted, match, map[string]interface{}{
			"match_id":     match.ID,
			"submitted_by": submitterID,
			"side_a":       result.SideA,
			"side_b":       result.SideB,
		})
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (s *matchLifecycleService) ConfirmResult(ctx context.Context, matchID, confirmerID int, accept bool, disputeReason string) (*models.Match, error) {
	var match *models.Match
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		match, txErr = s.lockMatch(ctx, exec, matchID)
		if txErr != nil {
			return txErr
		}
		if match.Status != models.MatchStatusOngoing {
			return fmt.Errorf("%w: cannot confirm result while %s", ErrInvalidMatchState, match.Status)
		}
		if txErr = s.requireAcceptedParticipant(ctx, exec, matchID, confirmerID); txErr != nil {
			return txErr
		}
		if match.ResultSubmittedBy != nil && *match.ResultSubmittedBy == confirmerID {
			return ErrSelfConfirmation
		}

		if accept {
			return s.completeConfirmed(ctx, exec, match, confirmerID)
		}
		return s.rejectAndDispute(ctx, exec, match, confirmerID, disputeReason)
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (s *matchLifecycleService) completeConfirmed(ctx context.Context, exec repositories.SQLExecutor, match *models.Match, confirmerID int) error {
	entries, err := s.scoreRepo.ListByMatch(ctx, exec, match.ID)
	if err != nil {
		return err
	}
	inputs := make([]models.ScoreInput, 0, len(entries))
	for _, e := range entries {
		inputs = append(inputs, models.ScoreInput{SideA: e.SideA, SideB: e.SideB, TiebreakA: e.TiebreakA, TiebreakB: e.TiebreakB})
	}
	result, _, err := ValidateScores(ScoreKindForSport(match.Sport), inputs)
	if err != nil {
		return err
	}

	now := time.Now()
	match.Status = models.MatchStatusCompleted
	match.Outcome = &result.Outcome
	match.SideAScore = &result.SideA
	match.SideBScore = &result.SideB
	match.ResultConfirmedBy = &confirmerID
	match.ResultConfirmedAt = &now
	if err = s.matchRepo.Update(ctx, exec, match); err != nil {
		return err
	}
	if err = s.enqueueRating(ctx, exec, match); err != nil {
		return err
	}
	return s.appendEvent(ctx, exec, models.EventMatchCompleted, match, map[string]interface{}{
		"match_id":     match.ID,
		"confirmed_by": confirmerID,
		"outcome":      result.Outcome,
	})
}

// rejectAndDispute rolls the match back to SCHEDULED and opens a dispute in
// the same transaction, so no transient completed state is ever observable
// and no rating history can exist while the dispute is open.
func (s *matchLifecycleService) rejectAndDispute(ctx context.Context, exec repositories.SQLExecutor, match *models.Match, confirmerID int, reason string) error {
	if err := s.scoreRepo.DeleteByMatch(ctx, exec, match.ID); err != nil {
		return err
	}

	match.Status = models.MatchStatusScheduled
	match.SideAScore = nil
	match.SideBScore = nil
	match.Outcome = nil
	match.ResultSubmittedBy = nil
	match.ResultSubmittedAt = nil
	match.ResultConfirmedBy = nil
	match.ResultConfirmedAt = nil
	match.IsDisputed = true
	if err := s.matchRepo.Update(ctx, exec, match); err != nil {
		return err
	}

	dispute := &models.Dispute{MatchID: match.ID, OpenedBy: confirmerID, Reason: reason}
	if err := s.disputeRepo.Create(ctx, exec, dispute); err != nil {
		return err
	}
	s.logger.Info("match result rejected, dispute opened",
		slog.Int("match_id", match.ID), slog.Int("dispute_id", dispute.ID), slog.Int("opened_by", confirmerID))

	return s.appendEvent(ctx, exec, models.EventMatchDisputed, match, map[string]interface{}{
		"match_id":   match.ID,
		"dispute_id": dispute.ID,
		"opened_by":  confirmerID,
	})
}

func (s *matchLifecycleService) SubmitWalkover(ctx context.Context, matchID, reporterID, defaultingPlayerID int, reason string) (*models.Match, error) {
	var match *models.Match
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		match, txErr = s.lockMatch(ctx, exec, matchID)
		if txErr != nil {
			return txErr
		}
		if match.Status != models.MatchStatusScheduled && match.Status != models.MatchStatusOngoing {
			return fmt.Errorf("%w: cannot record walkover while %s", ErrInvalidMatchState, match.Status)
		}
		if txErr = s.requireAcceptedParticipant(ctx, exec, matchID, reporterID); txErr != nil {
			return txErr
		}

		participants, txErr := s.participantRepo.ListAcceptedByMatch(ctx, exec, matchID)
		if txErr != nil {
			return txErr
		}
		var defaultingSide *models.Side
		for _, p := range participants {
			if p.UserID == defaultingPlayerID {
				side := p.Side
				defaultingSide = &side
				break
			}
		}
		if defaultingSide == nil {
			return fmt.Errorf("%w: defaulting player %d", ErrNotParticipant, defaultingPlayerID)
		}

		outcome := models.OutcomeForWinner(defaultingSide.Opposite())
		match.Status = models.MatchStatusWalkover
		match.IsWalkover = true
		match.DefaultingSide = defaultingSide
		match.Outcome = &outcome
		match.SideAScore = nil
		match.SideBScore = nil
		if txErr = s.matchRepo.Update(ctx, exec, match); txErr != nil {
			return txErr
		}
		if txErr = s.enqueueRating(ctx, exec, match); txErr != nil {
			return txErr
		}
		return s.appendEvent(ctx, exec, models.EventMatchWalkover, match, map[string]interface{}{
			"match_id":        match.ID,
			"reported_by":     reporterID,
			"defaulting_side": *defaultingSide,
			"reason":          reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (s *matchLifecycleService) CancelMatch(ctx context.Context, matchID, actorID int) (*models.Match, error) {
	return s.terminalNonRated(ctx, matchID, actorID, models.MatchStatusScheduled, models.MatchStatusCancelled)
}

func (s *matchLifecycleService) MarkUnfinished(ctx context.Context, matchID, actorID int) (*models.Match, error) {
	return s.terminalNonRated(ctx, matchID, actorID, models.MatchStatusOngoing, models.MatchStatusUnfinished)
}

func (s *matchLifecycleService) terminalNonRated(ctx context.Context, matchID, actorID int, from, to models.MatchStatus) (*models.Match, error) {
	var match *models.Match
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		match, txErr = s.lockMatch(ctx, exec, matchID)
		if txErr != nil {
			return txErr
		}
		if match.Status != from {
			return fmt.Errorf("%w: cannot move %s match to %s", ErrInvalidMatchState, match.Status, to)
		}
		if txErr = s.requireAcceptedParticipant(ctx, exec, matchID, actorID); txErr != nil {
			return txErr
		}
		match.Status = to
		return s.matchRepo.Update(ctx, exec, match)
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (s *matchLifecycleService) ResolveDisputeReplay(ctx context.Context, matchID, adminID int, note string) error {
	return s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		match, err := s.lockMatch(ctx, exec, matchID)
		if err != nil {
			return err
		}
		dispute, err := s.openDispute(ctx, exec, matchID)
		if err != nil {
			return err
		}
		if err = s.disputeRepo.Resolve(ctx, exec, dispute.ID, adminID, note); err != nil {
			return err
		}
		match.IsDisputed = false
		return s.matchRepo.Update(ctx, exec, match)
	})
}

func (s *matchLifecycleService) ForceComplete(ctx context.Context, matchID, adminID int, outcome models.MatchOutcome, note string) (*models.Match, error) {
	var match *models.Match
	err := s.tx.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		match, txErr = s.lockMatch(ctx, exec, matchID)
		if txErr != nil {
			return txErr
		}
		dispute, txErr := s.openDispute(ctx, exec, matchID)
		if txErr != nil {
			return txErr
		}
		if txErr = s.disputeRepo.Resolve(ctx, exec, dispute.ID, adminID, note); txErr != nil {
			return txErr
		}

		now := time.Now()
		match.Status = models.MatchStatusCompleted
		match.Outcome = &outcome
		match.IsDisputed = false
		match.ResultForcedBy = &adminID
		match.ResultConfirmedBy = &adminID
		match.ResultConfirmedAt = &now
		if txErr = s.matchRepo.Update(ctx, exec, match); txErr != nil {
			return txErr
		}
		if txErr = s.enqueueRating(ctx, exec, match); txErr != nil {
			return txErr
		}
		return s.appendEvent(ctx, exec, models.EventMatchCompleted, match, map[string]interface{}{
			"match_id":  match.ID,
			"forced_by": adminID,
			"outcome":   outcome,
		})
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (s *matchLifecycleService) ListOpenDisputes(ctx context.Context) ([]*models.Dispute, error) {
	return s.disputeRepo.ListOpen(ctx, nil)
}

func (s *matchLifecycleService) lockMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.Match, error) {
	match, err := s.matchRepo.GetByIDForUpdate(ctx, exec, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, fmt.Errorf("%w: match %d", ErrNotFound, matchID)
		}
		return nil, err
	}
	return match, nil
}

func (s *matchLifecycleService) openDispute(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.Dispute, error) {
	dispute, err := s.disputeRepo.GetOpenByMatch(ctx, exec, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrDisputeNotFound) {
			return nil, fmt.Errorf("%w: no open dispute for match %d", ErrNotFound, matchID)
		}
		return nil, err
	}
	return dispute, nil
}

func (s *matchLifecycleService) requireAcceptedParticipant(ctx context.Context, exec repositories.SQLExecutor, matchID, userID int) error {
	participants, err := s.participantRepo.ListAcceptedByMatch(ctx, exec, matchID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if p.UserID == userID {
			return nil
		}
	}
	return fmt.Errorf("%w: user %d in match %d", ErrNotParticipant, userID, matchID)
}

func (s *matchLifecycleService) enqueueRating(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error {
	scope, ok := match.RatingScope()
	if !ok || match.IsFriendly {
		// Friendly matches finish their lifecycle but never reach the engine.
		return nil
	}
	return s.queueRepo.Enqueue(ctx, exec, &models.RatingQueueItem{
		MatchID:  match.ID,
		Scope:    scope,
		GameType: match.GameType,
	})
}

func (s *matchLifecycleService) appendEvent(ctx context.Context, exec repositories.SQLExecutor, eventType models.EventType, match *models.Match, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return s.outboxRepo.Append(ctx, exec, &models.OutboxEvent{
		Type:    eventType,
		Room:    EventRoom(match),
		Payload: body,
	})
}

// EventRoom picks the websocket room for a match's events: the division or
// season room for league play, a per-match room for friendlies.
func EventRoom(match *models.Match) string {
	if scope, ok := match.RatingScope(); ok {
		return fmt.Sprintf("%s:%d", scope.Type, scope.ID)
	}
	return fmt.Sprintf("match:%d", match.ID)
}
