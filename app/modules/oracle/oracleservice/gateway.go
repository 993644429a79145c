// Package oracleservice validates inbound oracle reports before they can
// touch round state. Oracle input is vision-derived and untrusted; this is
// the one boundary protecting settlement from a single bad frame read.
package oracleservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streamside-labs/sidepool/app/events"
	"github.com/streamside-labs/sidepool/app/modules/round/roundservice"
	"github.com/streamside-labs/sidepool/app/modules/round/roundtypes"
	"github.com/streamside-labs/sidepool/app/modules/settlement/settlementservice"
	"github.com/streamside-labs/sidepool/config"
	"github.com/streamside-labs/sidepool/internal/eventbus"
	"github.com/streamside-labs/sidepool/internal/ledger"
	"github.com/streamside-labs/sidepool/internal/observability"
)

// Terminal-failure signals an oracle may report instead of a result.
const (
	StatusTimeout = "timeout"
	StatusError   = "error"
)

// Report is an inbound oracle observation.
type Report struct {
	RoundID    string            `json:"roundId"`
	Winner     roundtypes.Side   `json:"winner,omitempty"`
	Score      *roundtypes.Score `json:"score,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Status     string            `json:"status,omitempty"`
	Manual     bool              `json:"manual,omitempty"`
}

// Outcome is the combined result of report validation plus whatever action
// it triggered.
type Outcome struct {
	Action     string                     `json:"action"` // settled | voided
	Reason     string                     `json:"reason,omitempty"`
	Winner     roundtypes.Side            `json:"winner,omitempty"`
	Score      *roundtypes.Score          `json:"score,omitempty"`
	Settlement *settlementservice.Summary `json:"settlement,omitempty"`
}

// RoundManager is the slice of the round manager the gateway needs.
type RoundManager interface {
	CurrentState(ctx context.Context) (*roundtypes.StateProjection, error)
	RecordResult(ctx context.Context, winner roundtypes.Side, score roundtypes.Score) error
	Void(ctx context.Context, roundID string) (*roundservice.VoidOutcome, error)
}

// Settler runs settlement for the round that just recorded a result.
type Settler interface {
	Settle(ctx context.Context) (*settlementservice.Summary, error)
}

// Gateway validates oracle reports and drives the result or void path.
// Pure validation plus dispatch; it holds no state of its own.
type Gateway struct {
	rounds  RoundManager
	settler Settler
	store   ledger.Store
	bus     *eventbus.EventBus
	logger  *slog.Logger
	metrics *observability.Metrics
	game    config.GameConfig
	now     func() int64
}

// NewGateway wires an oracle gateway.
func NewGateway(rounds RoundManager, settler Settler, store ledger.Store, bus *eventbus.EventBus, game config.GameConfig, metrics *observability.Metrics, logger *slog.Logger) *Gateway {
	return &Gateway{
		rounds:  rounds,
		settler: settler,
		store:   store,
		bus:     bus,
		logger:  logger,
		metrics: metrics,
		game:    game,
		now:     roundtypes.NowMillis,
	}
}

// HandleReport validates a report and either records the result and settles
// synchronously, or voids the round. Validation failures return an error
// from the roundtypes taxonomy and leave all state untouched.
func (g *Gateway) HandleReport(ctx context.Context, report Report) (*Outcome, error) {
	g.logger.Info("oracle report received",
		slog.String("round_id", report.RoundID),
		slog.String("winner", string(report.Winner)),
		slog.String("status", report.Status),
		slog.Float64("confidence", report.Confidence),
		slog.Bool("manual", report.Manual))

	if report.Status == StatusTimeout || report.Status == StatusError {
		g.voidRound(ctx, report.RoundID, "oracle "+report.Status)
		return &Outcome{Action: "voided", Reason: report.Status}, nil
	}

	if report.RoundID == "" || report.Winner == "" || report.Score == nil {
		return nil, fmt.Errorf("%w: missing required result data", roundtypes.ErrInvalidResult)
	}
	if !report.Winner.Valid() {
		return nil, fmt.Errorf("%w: unknown winner %q", roundtypes.ErrInvalidResult, report.Winner)
	}
	if report.Score.ForSide(report.Winner) < g.game.WinThreshold {
		return nil, fmt.Errorf("%w: winner must have score of %d or more",
			roundtypes.ErrInvalidResult, g.game.WinThreshold)
	}

	// A low-confidence win is never trusted; it degrades to a void, not an
	// error. Manual reports bypass the gate.
	if !report.Manual && report.Confidence > 0 && report.Confidence < g.game.ConfidenceThreshold {
		g.logger.Info("low confidence result, treating as void",
			slog.String("round_id", report.RoundID),
			slog.Float64("confidence", report.Confidence),
			slog.Float64("threshold", g.game.ConfidenceThreshold))
		g.voidRound(ctx, report.RoundID, "low_confidence")
		return &Outcome{Action: "voided", Reason: "low_confidence"}, nil
	}

	state, err := g.rounds.CurrentState(ctx)
	if err != nil {
		return nil, err
	}
	if state.RoundID != report.RoundID {
		return nil, fmt.Errorf("%w: report names round %s, live round is %s",
			roundtypes.ErrStaleResult, report.RoundID, state.RoundID)
	}
	if state.Phase != roundtypes.PhaseLocked {
		return nil, fmt.Errorf("%w: round %s in phase %s, not LOCKED",
			roundtypes.ErrStaleResult, state.RoundID, state.Phase)
	}

	if err := g.rounds.RecordResult(ctx, report.Winner, *report.Score); err != nil {
		return nil, err
	}

	summary, err := g.settler.Settle(ctx)
	if err != nil {
		return nil, fmt.Errorf("settlement failed for round %s: %w", report.RoundID, err)
	}

	return &Outcome{
		Action:     "settled",
		Winner:     report.Winner,
		Score:      report.Score,
		Settlement: summary,
	}, nil
}

// voidRound writes a voided history record and replaces the round if it is
// still LOCKED. Voiding is a normal terminal outcome, so failures here are
// logged, never raised; restart recovery from the persisted round is the
// backstop.
func (g *Gateway) voidRound(ctx context.Context, roundID, reason string) {
	state, err := g.rounds.CurrentState(ctx)
	if err != nil {
		g.logger.Error("failed to read state while voiding",
			slog.String("round_id", roundID),
			slog.Any("error", err))
		return
	}

	if state.RoundID != roundID || state.Phase != roundtypes.PhaseLocked {
		g.logger.Warn("void requested for round that already moved on",
			slog.String("requested_round_id", roundID),
			slog.String("live_round_id", state.RoundID),
			slog.String("live_phase", string(state.Phase)))
		return
	}

	history := roundtypes.RoundHistory{
		ID:               roundID,
		StartTime:        state.StartTime,
		EndTime:          g.now(),
		TotalPredictions: state.Counts.Total(),
		PayoutTxids:      []string{},
		Voided:           true,
		VoidReason:       reason,
	}
	data, err := json.Marshal(history)
	if err != nil {
		g.logger.Error("failed to encode void history", slog.Any("error", err))
		return
	}
	if err := g.store.Put(ctx, ledger.VoidHistoryKey(roundID), data); err != nil {
		g.logger.Error("failed to persist void history",
			slog.String("round_id", roundID),
			slog.Any("error", err))
		return
	}

	outcome, err := g.rounds.Void(ctx, roundID)
	if err != nil {
		g.logger.Error("failed to void round",
			slog.String("round_id", roundID),
			slog.Any("error", err))
		return
	}
	if !outcome.Voided {
		g.logger.Warn("round moved on before void completed",
			slog.String("round_id", roundID))
		return
	}

	g.metrics.RoundsVoided.Inc()
	if g.bus != nil {
		if err := g.bus.Publish(events.RoundVoided, events.RoundVoidedPayload{
			RoundID: roundID,
			Reason:  reason,
		}); err != nil {
			g.logger.Error("failed to publish void event", slog.Any("error", err))
		}
	}
	g.logger.Info("round voided",
		slog.String("round_id", roundID),
		slog.String("reason", reason),
		slog.String("new_round_id", outcome.NewRoundID))
}
