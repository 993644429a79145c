// Package roundservice owns the single authoritative Round record. All
// transitions go through the Manager, which serializes them so no two
// operations ever observe overlapping intermediate state.
package roundservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamside-labs/sidepool/app/events"
	"github.com/streamside-labs/sidepool/app/modules/round/roundtypes"
	"github.com/streamside-labs/sidepool/config"
	"github.com/streamside-labs/sidepool/internal/eventbus"
	"github.com/streamside-labs/sidepool/internal/ledger"
	"github.com/streamside-labs/sidepool/internal/observability"
)

// Manager is the sole writer of the live Round. A mutex covers the
// in-memory mutation and the synchronous persist; it is never held across
// event publishing or any other network call.
type Manager struct {
	mu      sync.Mutex
	round   *roundtypes.Round
	store   ledger.Store
	bus     *eventbus.EventBus
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics
	cfg     config.GameConfig

	// overridable in tests
	now   func() int64
	newID func() string
}

// NewManager returns a round manager persisting through store. The round is
// loaded lazily on first use.
func NewManager(store ledger.Store, bus *eventbus.EventBus, cfg config.GameConfig, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		bus:     bus,
		logger:  logger,
		tracer:  otel.Tracer("sidepool/round"),
		metrics: metrics,
		cfg:     cfg,
		now:     roundtypes.NowMillis,
		newID:   func() string { return "round_" + uuid.NewString() },
	}
}

// ensureRound loads the persisted round, creating a fresh OPEN round when
// none exists. Caller must hold m.mu.
func (m *Manager) ensureRound(ctx context.Context) error {
	if m.round != nil {
		return nil
	}

	data, err := m.store.Get(ctx, ledger.KeyCurrentRound)
	switch {
	case err == nil:
		var stored roundtypes.Round
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to decode stored round: %w", err)
		}
		if stored.Predictions == nil {
			stored.Predictions = make(map[string]roundtypes.Prediction)
		}
		m.round = &stored
		m.logger.Info("restored persisted round",
			slog.String("round_id", stored.ID),
			slog.String("phase", string(stored.Phase)),
			slog.Int("predictions", len(stored.Predictions)))
		return nil
	case errors.Is(err, ledger.ErrNotFound):
		fresh := m.freshRound()
		if err := m.persist(ctx, fresh); err != nil {
			return err
		}
		m.round = fresh
		m.logger.Info("created fresh round", slog.String("round_id", fresh.ID))
		return nil
	default:
		return fmt.Errorf("%w: %v", roundtypes.ErrStorageUnavailable, err)
	}
}

func (m *Manager) freshRound() *roundtypes.Round {
	return &roundtypes.Round{
		ID:          m.newID(),
		Phase:       roundtypes.PhaseOpen,
		StartTime:   m.now(),
		Predictions: make(map[string]roundtypes.Prediction),
	}
}

// persist writes the round synchronously. A success response is only ever
// returned to a caller after this succeeds, so a crash after responding
// never loses the mutation.
func (m *Manager) persist(ctx context.Context, round *roundtypes.Round) error {
	data, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("failed to encode round: %w", err)
	}
	if err := m.store.Put(ctx, ledger.KeyCurrentRound, data); err != nil {
		return fmt.Errorf("%w: %v", roundtypes.ErrStorageUnavailable, err)
	}
	return nil
}

// publish pushes a lifecycle event after the lock is released. Publish
// failures are logged, never surfaced; the state transition already
// happened.
func (m *Manager) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(topic, payload); err != nil {
		m.logger.Error("failed to publish lifecycle event",
			slog.String("topic", topic),
			slog.Any("error", err))
	}
}

// Predict records a wallet's one-time side choice for the live round.
func (m *Manager) Predict(ctx context.Context, wallet string, side roundtypes.Side) (*roundtypes.Prediction, error) {
	ctx, span := m.tracer.Start(ctx, "round.predict")
	defer span.End()

	if wallet == "" || !side.Valid() {
		m.metrics.PredictionsRejected.WithLabelValues("invalid_input").Inc()
		return nil, fmt.Errorf("%w: missing wallet or side", roundtypes.ErrInvalidInput)
	}

	m.mu.Lock()
	prediction, counts, roundID, err := m.predictLocked(ctx, wallet, side)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.metrics.PredictionsAccepted.Inc()
	m.publish(events.PredictionRecorded, events.PredictionRecordedPayload{
		RoundID: roundID,
		Counts:  counts,
	})
	return prediction, nil
}

func (m *Manager) predictLocked(ctx context.Context, wallet string, side roundtypes.Side) (*roundtypes.Prediction, roundtypes.Counts, string, error) {
	if err := m.ensureRound(ctx); err != nil {
		return nil, roundtypes.Counts{}, "", err
	}

	if m.round.Phase != roundtypes.PhaseOpen {
		m.metrics.PredictionsRejected.WithLabelValues("round_closed").Inc()
		return nil, roundtypes.Counts{}, "", roundtypes.ErrRoundClosed
	}
	if _, exists := m.round.Predictions[wallet]; exists {
		m.metrics.PredictionsRejected.WithLabelValues("duplicate").Inc()
		return nil, roundtypes.Counts{}, "", roundtypes.ErrDuplicatePrediction
	}

	prediction := roundtypes.Prediction{
		Wallet:    wallet,
		Side:      side,
		Timestamp: m.now(),
	}

	// Mutate a copy so a failed persist leaves the live round untouched.
	next := m.round.Clone()
	next.Predictions[wallet] = prediction
	if err := m.persist(ctx, next); err != nil {
		return nil, roundtypes.Counts{}, "", err
	}
	m.round = next

	return &prediction, countPredictions(next), next.ID, nil
}

// Lock stops the round from accepting predictions. Calling it again once
// locked fails rather than silently succeeding.
func (m *Manager) Lock(ctx context.Context) (int64, error) {
	m.mu.Lock()
	lockTime, roundID, err := m.lockLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}

	m.logger.Info("round locked", slog.String("round_id", roundID))
	m.publish(events.RoundLocked, events.RoundLockedPayload{
		RoundID:  roundID,
		LockTime: lockTime,
	})
	return lockTime, nil
}

func (m *Manager) lockLocked(ctx context.Context) (int64, string, error) {
	if err := m.ensureRound(ctx); err != nil {
		return 0, "", err
	}
	if m.round.Phase != roundtypes.PhaseOpen {
		return 0, "", fmt.Errorf("%w: cannot lock round in phase %s", roundtypes.ErrInvalidTransition, m.round.Phase)
	}

	next := m.round.Clone()
	next.Phase = roundtypes.PhaseLocked
	next.LockTime = m.now()
	if err := m.persist(ctx, next); err != nil {
		return 0, "", err
	}
	m.round = next
	return next.LockTime, next.ID, nil
}

// RecordResult makes an oracle-confirmed outcome authoritative and moves
// the round into settlement. The winner must hold a score at or above the
// win threshold; this is the invariant's last line of defense even though
// the oracle gateway validates first.
func (m *Manager) RecordResult(ctx context.Context, winner roundtypes.Side, score roundtypes.Score) error {
	ctx, span := m.tracer.Start(ctx, "round.record_result")
	defer span.End()

	if !winner.Valid() {
		return fmt.Errorf("%w: unknown side %q", roundtypes.ErrInvalidResult, winner)
	}
	if score.Purple < 0 || score.Yellow < 0 {
		return fmt.Errorf("%w: negative score", roundtypes.ErrInvalidResult)
	}
	if score.ForSide(winner) < m.cfg.WinThreshold {
		return fmt.Errorf("%w: winning side score %d below threshold %d",
			roundtypes.ErrInvalidResult, score.ForSide(winner), m.cfg.WinThreshold)
	}

	m.mu.Lock()
	roundID, err := m.recordResultLocked(ctx, winner, score)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.logger.Info("result recorded",
		slog.String("round_id", roundID),
		slog.String("winner", string(winner)),
		slog.Int("purple", score.Purple),
		slog.Int("yellow", score.Yellow))
	m.publish(events.ResultRecorded, events.ResultRecordedPayload{
		RoundID: roundID,
		Winner:  winner,
		Score:   score,
	})
	return nil
}

func (m *Manager) recordResultLocked(ctx context.Context, winner roundtypes.Side, score roundtypes.Score) (string, error) {
	if err := m.ensureRound(ctx); err != nil {
		return "", err
	}
	if m.round.Phase != roundtypes.PhaseLocked {
		return "", fmt.Errorf("%w: cannot record result in phase %s", roundtypes.ErrInvalidTransition, m.round.Phase)
	}

	next := m.round.Clone()
	next.Winner = winner
	next.Score = score
	next.EndTime = m.now()
	next.Phase = roundtypes.PhaseSettling
	if err := m.persist(ctx, next); err != nil {
		return "", err
	}
	m.round = next
	return next.ID, nil
}

// Reset replaces a settling round with a fresh OPEN one and returns both
// ids so collaborators can correlate history.
func (m *Manager) Reset(ctx context.Context) (previousID, newID string, err error) {
	ctx, span := m.tracer.Start(ctx, "round.reset")
	defer span.End()

	m.mu.Lock()
	previousID, newID, err = m.resetLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return "", "", err
	}

	m.logger.Info("round reset",
		slog.String("previous_id", previousID),
		slog.String("new_round_id", newID))
	m.publish(events.RoundReset, events.RoundResetPayload{
		PreviousID: previousID,
		NewRoundID: newID,
	})
	return previousID, newID, nil
}

func (m *Manager) resetLocked(ctx context.Context) (string, string, error) {
	if err := m.ensureRound(ctx); err != nil {
		return "", "", err
	}
	if m.round.Phase != roundtypes.PhaseSettling {
		return "", "", fmt.Errorf("%w: cannot reset round in phase %s", roundtypes.ErrInvalidTransition, m.round.Phase)
	}

	previousID := m.round.ID
	fresh := m.freshRound()
	if err := m.persist(ctx, fresh); err != nil {
		return "", "", err
	}
	m.round = fresh
	return previousID, fresh.ID, nil
}

// VoidOutcome reports what Void did.
type VoidOutcome struct {
	Voided     bool
	PreviousID string
	NewRoundID string
}

// Void abandons a LOCKED round without recording a winner and starts a
// fresh one. When roundID no longer names the live round, or the round has
// already moved past LOCKED, this is a no-op with Voided=false; the caller
// decides how loudly to report that.
func (m *Manager) Void(ctx context.Context, roundID string) (*VoidOutcome, error) {
	m.mu.Lock()
	outcome, err := m.voidLocked(ctx, roundID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if outcome.Voided {
		m.publish(events.RoundReset, events.RoundResetPayload{
			PreviousID: outcome.PreviousID,
			NewRoundID: outcome.NewRoundID,
		})
	}
	return outcome, nil
}

func (m *Manager) voidLocked(ctx context.Context, roundID string) (*VoidOutcome, error) {
	if err := m.ensureRound(ctx); err != nil {
		return nil, err
	}
	if m.round.ID != roundID || m.round.Phase != roundtypes.PhaseLocked {
		return &VoidOutcome{Voided: false, PreviousID: m.round.ID}, nil
	}

	previousID := m.round.ID
	fresh := m.freshRound()
	if err := m.persist(ctx, fresh); err != nil {
		return nil, err
	}
	m.round = fresh
	return &VoidOutcome{Voided: true, PreviousID: previousID, NewRoundID: fresh.ID}, nil
}

// CurrentState returns the public read projection of the live round.
// Per-side counts are computed by scanning predictions; wallet identities
// never leave the manager through this path.
func (m *Manager) CurrentState(ctx context.Context) (*roundtypes.StateProjection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureRound(ctx); err != nil {
		return nil, err
	}

	return &roundtypes.StateProjection{
		RoundID:   m.round.ID,
		Phase:     m.round.Phase,
		Score:     m.round.Score,
		Counts:    countPredictions(m.round),
		IsLocked:  m.round.Phase != roundtypes.PhaseOpen,
		LockTime:  m.round.LockTime,
		StartTime: m.round.StartTime,
	}, nil
}

// Snapshot returns a deep copy of the live round for settlement to work
// from. Settlement never touches manager state after this.
func (m *Manager) Snapshot(ctx context.Context) (*roundtypes.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureRound(ctx); err != nil {
		return nil, err
	}
	return m.round.Clone(), nil
}

// Health returns the read-only diagnostic view.
func (m *Manager) Health(ctx context.Context) (*roundtypes.Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureRound(ctx); err != nil {
		return nil, err
	}

	return &roundtypes.Health{
		RoundID:     m.round.ID,
		Phase:       m.round.Phase,
		Predictions: len(m.round.Predictions),
		AgeMillis:   m.now() - m.round.StartTime,
	}, nil
}

func countPredictions(round *roundtypes.Round) roundtypes.Counts {
	var counts roundtypes.Counts
	for _, p := range round.Predictions {
		switch p.Side {
		case roundtypes.SidePurple:
			counts.Purple++
		case roundtypes.SideYellow:
			counts.Yellow++
		}
	}
	return counts
}
