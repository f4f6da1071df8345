package services

import "errors"

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ресурс не найден (универсальная)
	ErrNotFound = errors.New("requested resource not found")

	// Ошибки валидации (отклоняются до любого изменения состояния)
	ErrInvalidScore        = errors.New("score entries are malformed or inconsistent")
	ErrScoreRequired       = errors.New("at least one score entry is required")
	ErrMissingParticipants = errors.New("match does not have the required accepted participants")
	ErrInvalidRecalcScope  = errors.New("invalid recalculation scope")

	// Конфликты состояния (ошибка клиента или воркфлоу, не данных)
	ErrInvalidMatchState   = errors.New("operation not allowed in the current match state")
	ErrNotParticipant      = errors.New("user is not an accepted participant of the match")
	ErrSelfConfirmation    = errors.New("result cannot be confirmed by the player who submitted it")
	ErrAlreadyProcessed    = errors.New("match already has rating history in this scope")
	ErrNotRatingEligible   = errors.New("match is not rating-eligible")
	ErrRecalcNotCancelable = errors.New("recalculation can only be cancelled while pending or preview-ready")
	ErrRecalcNotPreviewed  = errors.New("recalculation has no preview to apply")
	ErrRecalcTerminal      = errors.New("recalculation is already terminal")

	// Нарушения инвариантов: логируются громко, не ретраятся молча
	ErrOutOfOrderApply = errors.New("match predates already-applied history in this scope")
	ErrDisputePending  = errors.New("match has an open dispute")

	// ErrRecalcRollbackFailed is the fatal case: an apply transaction could
	// not be rolled back cleanly. Requires operator intervention.
	ErrRecalcRollbackFailed = errors.New("recalculation apply rollback failed")
)

// IsValidationError reports whether the caller can recover by resubmitting
// corrected input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidScore) ||
		errors.Is(err, ErrScoreRequired) ||
		errors.Is(err, ErrMissingParticipants) ||
		errors.Is(err, ErrInvalidRecalcScope)
}

// IsStateConflict reports a workflow bug on the caller's side: the command
// was rejected before any state change.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrInvalidMatchState) ||
		errors.Is(err, ErrNotParticipant) ||
		errors.Is(err, ErrSelfConfirmation) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrNotRatingEligible) ||
		errors.Is(err, ErrRecalcNotCancelable) ||
		errors.Is(err, ErrRecalcNotPreviewed) ||
		errors.Is(err, ErrRecalcTerminal)
}

// IsConsistencyViolation reports that the caller broke an engine invariant.
// These must be surfaced loudly, never silently retried.
func IsConsistencyViolation(err error) bool {
	return errors.Is(err, ErrOutOfOrderApply) ||
		errors.Is(err, ErrDisputePending)
}
