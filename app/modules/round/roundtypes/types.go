package roundtypes

import "time"

// Side is a team a wallet can back for a round.
type Side string

const (
	SidePurple Side = "purple"
	SideYellow Side = "yellow"
)

// Valid reports whether s is one of the playable sides.
func (s Side) Valid() bool {
	return s == SidePurple || s == SideYellow
}

// Phase represents the lifecycle state of a round.
type Phase string

const (
	PhaseOpen     Phase = "OPEN"
	PhaseLocked   Phase = "LOCKED"
	PhaseSettling Phase = "SETTLING"
)

// Score is the running goal count per side.
type Score struct {
	Purple int `json:"purple"`
	Yellow int `json:"yellow"`
}

// ForSide returns the goal count recorded for the given side.
func (s Score) ForSide(side Side) int {
	if side == SidePurple {
		return s.Purple
	}
	return s.Yellow
}

// Prediction is a wallet's single, irrevocable side choice for one round.
type Prediction struct {
	Wallet    string `json:"wallet"`
	Side      Side   `json:"side"`
	Timestamp int64  `json:"timestamp"`
}

// Round is one play of the game, from open predictions through settlement.
// Predictions is keyed by wallet; entries are only added while the round is
// OPEN and are never mutated or removed.
type Round struct {
	ID          string                `json:"id"`
	Phase       Phase                 `json:"phase"`
	StartTime   int64                 `json:"startTime"`
	LockTime    int64                 `json:"lockTime,omitempty"`
	EndTime     int64                 `json:"endTime,omitempty"`
	Score       Score                 `json:"score"`
	Winner      Side                  `json:"winner,omitempty"`
	Predictions map[string]Prediction `json:"predictions"`
}

// Clone returns a deep copy of the round, safe to hand to settlement while
// the manager keeps mutating its own copy.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	out := *r
	out.Predictions = make(map[string]Prediction, len(r.Predictions))
	for w, p := range r.Predictions {
		out.Predictions[w] = p
	}
	return &out
}

// Counts holds per-side prediction tallies.
type Counts struct {
	Purple int `json:"purple"`
	Yellow int `json:"yellow"`
}

// Total returns the combined prediction count.
func (c Counts) Total() int {
	return c.Purple + c.Yellow
}

// StateProjection is the public read view of the live round. It carries
// aggregate counts only, never wallet-level choices.
type StateProjection struct {
	RoundID   string `json:"roundId"`
	Phase     Phase  `json:"phase"`
	Score     Score  `json:"score"`
	Counts    Counts `json:"counts"`
	IsLocked  bool   `json:"isLocked"`
	LockTime  int64  `json:"lockTime,omitempty"`
	StartTime int64  `json:"startTime"`
}

// Health is the read-only diagnostic view of the round manager.
type Health struct {
	RoundID     string `json:"roundId"`
	Phase       Phase  `json:"phase"`
	Predictions int    `json:"predictionsCount"`
	AgeMillis   int64  `json:"uptime"`
}

// PayoutStatus tracks one promised transfer through disbursement.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutSent    PayoutStatus = "sent"
	PayoutFailed  PayoutStatus = "failed"
)

// PayoutEntry is one promised transfer inside a manifest. Status moves
// pending->sent or pending->failed exactly once and never reverts.
type PayoutEntry struct {
	Wallet string       `json:"wallet"`
	Amount int64        `json:"amount"`
	Status PayoutStatus `json:"status"`
	Txid   string       `json:"txid,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// PayoutManifest is the durable record of what was promised and what
// happened for one round's settlement. Once persisted with CompletedAt set
// it is only ever touched again by the failed-entry retry path.
type PayoutManifest struct {
	RoundID         string        `json:"roundId"`
	TotalRewards    int64         `json:"totalRewards"`
	WinnerCount     int           `json:"winnerCount"`
	PerWalletAmount int64         `json:"perWalletAmount"`
	Entries         []PayoutEntry `json:"entries"`
	CompletedAt     int64         `json:"completedAt,omitempty"`
}

// RoundHistory is the public, append-only summary of a finished round.
type RoundHistory struct {
	ID               string   `json:"id"`
	Winner           Side     `json:"winner,omitempty"`
	StartTime        int64    `json:"startTime"`
	EndTime          int64    `json:"endTime"`
	TotalPredictions int      `json:"totalPredictions"`
	WinnerCount      int      `json:"winnerCount"`
	ClaimedRewards   int64    `json:"claimedRewards"`
	PerWalletPayout  int64    `json:"perWalletPayout"`
	PayoutTxids      []string `json:"payoutTxids"`
	Voided           bool     `json:"voided,omitempty"`
	VoidReason       string   `json:"voidReason,omitempty"`
}

// PendingAccumulation records a dust-held round: winners identified but the
// per-wallet split was below the viable payout, so rewards roll forward in
// the treasury for a future claim.
type PendingAccumulation struct {
	RoundID   string   `json:"roundId"`
	Winners   []string `json:"winners"`
	Rewards   int64    `json:"rewards"`
	ExpiresAt int64    `json:"expiresAt"`
}

// NowMillis is the timestamp convention used across round records.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
