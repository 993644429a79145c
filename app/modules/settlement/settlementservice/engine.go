// Package settlementservice turns a confirmed round outcome into a reward
// distribution: claim pooled rewards, split across correct predictors,
// disburse in batches, and persist an immutable manifest plus history
// record before the round resets.
package settlementservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamside-labs/sidepool/app/events"
	"github.com/streamside-labs/sidepool/app/modules/round/roundtypes"
	"github.com/streamside-labs/sidepool/config"
	"github.com/streamside-labs/sidepool/internal/chain"
	"github.com/streamside-labs/sidepool/internal/eventbus"
	"github.com/streamside-labs/sidepool/internal/ledger"
	"github.com/streamside-labs/sidepool/internal/observability"
)

// RoundManager is the slice of the round manager settlement depends on.
// Settlement works off the snapshot; after Reset the manager's live round
// is a new one and settlement never looks back.
type RoundManager interface {
	Snapshot(ctx context.Context) (*roundtypes.Round, error)
	Reset(ctx context.Context) (previousID, newID string, err error)
}

// Summary reports what one settlement run did.
type Summary struct {
	RoundID           string                     `json:"roundId"`
	TotalRewards      int64                      `json:"totalRewards"`
	Winners           int                        `json:"winners"`
	SuccessfulPayouts int                        `json:"successfulPayouts"`
	Held              bool                       `json:"held,omitempty"`
	Manifest          *roundtypes.PayoutManifest `json:"manifest,omitempty"`
}

// Engine runs the settlement pipeline for rounds in the SETTLING phase.
type Engine struct {
	rounds    RoundManager
	store     ledger.Store
	claimant  chain.RewardsClaimant
	disburser *Disburser
	bus       *eventbus.EventBus
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *observability.Metrics
	game      config.GameConfig
	chainCfg  config.ChainConfig
	now       func() int64
}

// NewEngine wires a settlement engine.
func NewEngine(
	rounds RoundManager,
	store ledger.Store,
	claimant chain.RewardsClaimant,
	disburser *Disburser,
	bus *eventbus.EventBus,
	game config.GameConfig,
	chainCfg config.ChainConfig,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		rounds:    rounds,
		store:     store,
		claimant:  claimant,
		disburser: disburser,
		bus:       bus,
		logger:    logger,
		tracer:    otel.Tracer("sidepool/settlement"),
		metrics:   metrics,
		game:      game,
		chainCfg:  chainCfg,
		now:       roundtypes.NowMillis,
	}
}

// Settle runs the full pipeline for the current SETTLING round. Payout
// failures are carried in the manifest, not returned; an error here means
// the round was not in settlement or the ledger refused a durable write, in
// which case the round is deliberately left un-reset so a restart can
// settle it again.
func (e *Engine) Settle(ctx context.Context) (*Summary, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.settle")
	defer span.End()

	snapshot, err := e.rounds.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snapshot.Phase != roundtypes.PhaseSettling {
		return nil, fmt.Errorf("%w: round %s in phase %s, not SETTLING",
			roundtypes.ErrInvalidTransition, snapshot.ID, snapshot.Phase)
	}

	e.logger.Info("starting settlement", slog.String("round_id", snapshot.ID))

	claimed, err := e.claimant.Claim(ctx, e.chainCfg.TokenMint, e.chainCfg.TreasuryAddress)
	if err != nil {
		// Claim failures are logged, never thrown: unclaimed rewards stay
		// pooled and roll into a future round's claim.
		e.logger.Warn("rewards claim failed, proceeding with zero",
			slog.String("round_id", snapshot.ID),
			slog.Any("error", err))
		claimed = 0
	}
	e.logger.Info("rewards claimed",
		slog.String("round_id", snapshot.ID),
		slog.Int64("lamports", claimed))

	winners := winningWallets(snapshot)
	e.logger.Info("winner set computed",
		slog.String("round_id", snapshot.ID),
		slog.Int("winners", len(winners)))

	if len(winners) == 0 {
		if err := e.resetRound(ctx, snapshot.ID); err != nil {
			return nil, err
		}
		return &Summary{RoundID: snapshot.ID, TotalRewards: claimed, Winners: 0}, nil
	}

	perWallet := claimed / int64(len(winners))
	if perWallet < e.game.MinimumPayout {
		return e.holdForAccumulation(ctx, snapshot, winners, claimed, perWallet)
	}

	manifest := &roundtypes.PayoutManifest{
		RoundID:         snapshot.ID,
		TotalRewards:    claimed,
		WinnerCount:     len(winners),
		PerWalletAmount: perWallet,
		Entries:         make([]roundtypes.PayoutEntry, 0, len(winners)),
	}
	for _, wallet := range winners {
		manifest.Entries = append(manifest.Entries, roundtypes.PayoutEntry{
			Wallet: wallet,
			Amount: perWallet,
			Status: roundtypes.PayoutPending,
		})
	}

	manifest.Entries = e.disburser.Disburse(ctx, manifest.Entries)
	manifest.CompletedAt = e.now()

	if err := e.persistManifest(ctx, manifest); err != nil {
		return nil, err
	}
	if err := e.persistHistory(ctx, snapshot, manifest); err != nil {
		return nil, err
	}

	if err := e.resetRound(ctx, snapshot.ID); err != nil {
		return nil, err
	}

	sent := 0
	for _, entry := range manifest.Entries {
		switch entry.Status {
		case roundtypes.PayoutSent:
			sent++
			e.metrics.PayoutsSent.Inc()
			e.metrics.LamportsDisbursed.Add(float64(entry.Amount))
		case roundtypes.PayoutFailed:
			e.metrics.PayoutsFailed.Inc()
		}
	}
	e.metrics.RoundsSettled.Inc()

	e.publish(events.RoundSettled, events.RoundSettledPayload{
		RoundID:           snapshot.ID,
		TotalRewards:      claimed,
		WinnerCount:       len(winners),
		SuccessfulPayouts: sent,
	})
	e.logger.Info("settlement completed",
		slog.String("round_id", snapshot.ID),
		slog.Int("winners", len(winners)),
		slog.Int("successful_payouts", sent))

	return &Summary{
		RoundID:           snapshot.ID,
		TotalRewards:      claimed,
		Winners:           len(winners),
		SuccessfulPayouts: sent,
		Manifest:          manifest,
	}, nil
}

// holdForAccumulation defers a dust-sized split: the winners and claimed
// amount are recorded, the round resets, and the rewards roll forward via
// the treasury balance into a future claim.
func (e *Engine) holdForAccumulation(ctx context.Context, snapshot *roundtypes.Round, winners []string, claimed, perWallet int64) (*Summary, error) {
	e.logger.Info("per-wallet amount below dust threshold, holding",
		slog.String("round_id", snapshot.ID),
		slog.Int64("per_wallet", perWallet),
		slog.Int64("dust_threshold", e.game.MinimumPayout))

	pending := roundtypes.PendingAccumulation{
		RoundID:   snapshot.ID,
		Winners:   winners,
		Rewards:   claimed,
		ExpiresAt: e.now() + e.game.PendingTTL.Milliseconds(),
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pending accumulation: %w", err)
	}
	if err := e.store.Put(ctx, ledger.PendingKey(snapshot.ID), data); err != nil {
		return nil, fmt.Errorf("%w: %v", roundtypes.ErrStorageUnavailable, err)
	}

	if err := e.resetRound(ctx, snapshot.ID); err != nil {
		return nil, err
	}

	e.metrics.RoundsHeld.Inc()
	e.publish(events.RoundSettled, events.RoundSettledPayload{
		RoundID:      snapshot.ID,
		TotalRewards: claimed,
		WinnerCount:  len(winners),
		Held:         true,
	})
	return &Summary{
		RoundID:      snapshot.ID,
		TotalRewards: claimed,
		Winners:      len(winners),
		Held:         true,
	}, nil
}

// RetryResult reports a manifest retry run.
type RetryResult struct {
	RoundID string `json:"roundId"`
	Retried int    `json:"retried"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
}

// RetryPayouts re-runs disbursement for only the failed entries of a
// persisted manifest and merges results back by wallet. Entries already
// sent are never resubmitted. Safe to invoke repeatedly.
func (e *Engine) RetryPayouts(ctx context.Context, roundID string) (*RetryResult, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.retry_payouts")
	defer span.End()

	manifest, err := e.LoadManifest(ctx, roundID)
	if err != nil {
		return nil, err
	}

	var failed []roundtypes.PayoutEntry
	for _, entry := range manifest.Entries {
		if entry.Status == roundtypes.PayoutFailed {
			failed = append(failed, entry)
		}
	}
	if len(failed) == 0 {
		e.logger.Info("no failed payouts to retry", slog.String("round_id", roundID))
		return &RetryResult{RoundID: roundID}, nil
	}

	e.logger.Info("retrying failed payouts",
		slog.String("round_id", roundID),
		slog.Int("failed", len(failed)))

	retried := e.disburser.Disburse(ctx, failed)

	byWallet := make(map[string]roundtypes.PayoutEntry, len(retried))
	for _, entry := range retried {
		byWallet[entry.Wallet] = entry
	}
	result := &RetryResult{RoundID: roundID, Retried: len(retried)}
	for i := range manifest.Entries {
		if manifest.Entries[i].Status != roundtypes.PayoutFailed {
			continue
		}
		if updated, ok := byWallet[manifest.Entries[i].Wallet]; ok {
			manifest.Entries[i] = updated
		}
	}
	for _, entry := range retried {
		switch entry.Status {
		case roundtypes.PayoutSent:
			result.Sent++
			e.metrics.PayoutsSent.Inc()
			e.metrics.LamportsDisbursed.Add(float64(entry.Amount))
		case roundtypes.PayoutFailed:
			result.Failed++
		}
	}

	if err := e.persistManifest(ctx, manifest); err != nil {
		return nil, err
	}

	e.logger.Info("retry completed",
		slog.String("round_id", roundID),
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed))
	return result, nil
}

// LoadManifest reads a round's persisted payout manifest.
func (e *Engine) LoadManifest(ctx context.Context, roundID string) (*roundtypes.PayoutManifest, error) {
	data, err := e.store.Get(ctx, ledger.ManifestKey(roundID))
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("no manifest found for round %s", roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", roundtypes.ErrStorageUnavailable, err)
	}
	var manifest roundtypes.PayoutManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest for round %s: %w", roundID, err)
	}
	return &manifest, nil
}

func (e *Engine) persistManifest(ctx context.Context, manifest *roundtypes.PayoutManifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := e.store.Put(ctx, ledger.ManifestKey(manifest.RoundID), data); err != nil {
		return fmt.Errorf("%w: %v", roundtypes.ErrStorageUnavailable, err)
	}
	return nil
}

func (e *Engine) persistHistory(ctx context.Context, snapshot *roundtypes.Round, manifest *roundtypes.PayoutManifest) error {
	history := roundtypes.RoundHistory{
		ID:               snapshot.ID,
		Winner:           snapshot.Winner,
		StartTime:        snapshot.StartTime,
		EndTime:          snapshot.EndTime,
		TotalPredictions: len(snapshot.Predictions),
		WinnerCount:      manifest.WinnerCount,
		ClaimedRewards:   manifest.TotalRewards,
		PerWalletPayout:  manifest.PerWalletAmount,
		PayoutTxids:      distinctTxids(manifest.Entries),
	}
	if history.EndTime == 0 {
		history.EndTime = e.now()
	}

	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := e.store.Put(ctx, ledger.HistoryKey(snapshot.ID), data); err != nil {
		return fmt.Errorf("%w: %v", roundtypes.ErrStorageUnavailable, err)
	}
	e.logger.Info("history saved", slog.String("round_id", snapshot.ID))
	return nil
}

func (e *Engine) resetRound(ctx context.Context, roundID string) error {
	previousID, newID, err := e.rounds.Reset(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset round %s: %w", roundID, err)
	}
	e.logger.Info("round advanced after settlement",
		slog.String("previous_id", previousID),
		slog.String("new_round_id", newID))
	return nil
}

func (e *Engine) publish(topic string, payload any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(topic, payload); err != nil {
		e.logger.Error("failed to publish settlement event",
			slog.String("topic", topic),
			slog.Any("error", err))
	}
}

// winningWallets returns the wallets that backed the recorded winner,
// sorted so batching is deterministic.
func winningWallets(round *roundtypes.Round) []string {
	var winners []string
	for wallet, prediction := range round.Predictions {
		if prediction.Side == round.Winner {
			winners = append(winners, wallet)
		}
	}
	sort.Strings(winners)
	return winners
}

func distinctTxids(entries []roundtypes.PayoutEntry) []string {
	seen := make(map[string]struct{})
	var txids []string
	for _, entry := range entries {
		if entry.Txid == "" {
			continue
		}
		if _, ok := seen[entry.Txid]; ok {
			continue
		}
		seen[entry.Txid] = struct{}{}
		txids = append(txids, entry.Txid)
	}
	return txids
}
