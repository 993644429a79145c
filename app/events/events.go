// Package events defines the round lifecycle topics and payloads published
// on the event bus. Consumers outside this process (stream overlay,
// notification workers) subscribe to the same topics over NATS.
package events

import "github.com/streamside-labs/sidepool/app/modules/round/roundtypes"

const (
	PredictionRecorded = "round.prediction.recorded"
	RoundLocked        = "round.locked"
	ResultRecorded     = "round.result.recorded"
	RoundSettled       = "round.settled"
	RoundVoided        = "round.voided"
	RoundReset         = "round.reset"
)

// Topics lists every lifecycle topic, in publish order within a round.
func Topics() []string {
	return []string{
		PredictionRecorded,
		RoundLocked,
		ResultRecorded,
		RoundSettled,
		RoundVoided,
		RoundReset,
	}
}

// PredictionRecordedPayload is published after a prediction is persisted.
// It carries aggregate counts, not the wallet's choice.
type PredictionRecordedPayload struct {
	RoundID string            `json:"roundId"`
	Counts  roundtypes.Counts `json:"counts"`
}

// RoundLockedPayload is published when a round stops accepting predictions.
type RoundLockedPayload struct {
	RoundID  string `json:"roundId"`
	LockTime int64  `json:"lockTime"`
}

// ResultRecordedPayload is published when an oracle-confirmed outcome
// becomes authoritative.
type ResultRecordedPayload struct {
	RoundID string           `json:"roundId"`
	Winner  roundtypes.Side  `json:"winner"`
	Score   roundtypes.Score `json:"score"`
}

// RoundSettledPayload is published after settlement persists its manifest.
type RoundSettledPayload struct {
	RoundID           string `json:"roundId"`
	TotalRewards      int64  `json:"totalRewards"`
	WinnerCount       int    `json:"winnerCount"`
	SuccessfulPayouts int    `json:"successfulPayouts"`
	Held              bool   `json:"held,omitempty"`
}

// RoundVoidedPayload is published when a round resolves with no winner.
type RoundVoidedPayload struct {
	RoundID string `json:"roundId"`
	Reason  string `json:"reason"`
}

// RoundResetPayload is published when a fresh round replaces a settled one.
type RoundResetPayload struct {
	PreviousID string `json:"previousId"`
	NewRoundID string `json:"newRoundId"`
}
