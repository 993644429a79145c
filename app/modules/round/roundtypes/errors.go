package roundtypes

import "errors"

// Error taxonomy for round and settlement operations. Validation failures
// are returned synchronously to callers and never retried automatically;
// payout-time business failures are recorded per entry instead (see
// PayoutEntry), so none of them appear here.
var (
	// ErrInvalidInput marks a malformed request (missing wallet, bad side).
	ErrInvalidInput = errors.New("invalid input")

	// ErrRoundClosed is returned for predictions outside the OPEN phase.
	ErrRoundClosed = errors.New("predictions are closed")

	// ErrDuplicatePrediction is returned when a wallet already holds an
	// entry for the live round.
	ErrDuplicatePrediction = errors.New("wallet already predicted this round")

	// ErrInvalidTransition marks a lifecycle call whose phase precondition
	// does not hold (lock on a locked round, reset before settling, ...).
	ErrInvalidTransition = errors.New("invalid round transition")

	// ErrInvalidResult marks an oracle report that fails game-rule
	// validation (unknown winner, winning score below threshold).
	ErrInvalidResult = errors.New("invalid result")

	// ErrStaleResult marks an oracle report for a round that already moved
	// on (id mismatch or phase past LOCKED).
	ErrStaleResult = errors.New("stale result")

	// ErrStorageUnavailable wraps ledger failures. Fatal for the in-flight
	// operation; the caller must not proceed as if state was persisted.
	ErrStorageUnavailable = errors.New("ledger store unavailable")
)
