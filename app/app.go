// Package app wires the sidepool engine: ledger store, event bus, chain
// clients, services, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/streamside-labs/sidepool/app/events"
	"github.com/streamside-labs/sidepool/app/handlers"
	"github.com/streamside-labs/sidepool/app/modules/oracle/oracleservice"
	"github.com/streamside-labs/sidepool/app/modules/round/roundservice"
	"github.com/streamside-labs/sidepool/app/modules/settlement/settlementservice"
	"github.com/streamside-labs/sidepool/config"
	"github.com/streamside-labs/sidepool/internal/chain"
	"github.com/streamside-labs/sidepool/internal/eventbus"
	"github.com/streamside-labs/sidepool/internal/ledger"
	"github.com/streamside-labs/sidepool/internal/observability"
)

// App holds the wired engine.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   ledger.Store
	bus     *eventbus.EventBus
	metrics *observability.Metrics

	Rounds  *roundservice.Manager
	Gateway *oracleservice.Gateway
	Engine  *settlementservice.Engine
	History *roundservice.HistoryReader

	registry *prometheus.Registry
	server   *http.Server
}

// New constructs the application from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	store, err := newLedgerStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	bus, err := newEventBus(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observability.New(registry)

	transferClient := chain.NewClient(cfg.Chain.SignerURL, logger)
	claimer := chain.NewClaimer(cfg.Chain.ClaimAPIURL, cfg.Chain.ClaimAPIKey, transferClient, logger)

	rounds := roundservice.NewManager(store, bus, cfg.Game, metrics, logger)
	disburser := settlementservice.NewDisburser(transferClient, cfg.Chain.TreasuryAddress, cfg.Game, logger)
	engine := settlementservice.NewEngine(rounds, store, claimer, disburser, bus, cfg.Game, cfg.Chain, metrics, logger)
	gateway := oracleservice.NewGateway(rounds, engine, store, bus, cfg.Game, metrics, logger)
	history := roundservice.NewHistoryReader(store, cfg.Game.HistoryPageSize, logger)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		bus:      bus,
		metrics:  metrics,
		Rounds:   rounds,
		Gateway:  gateway,
		Engine:   engine,
		History:  history,
		registry: registry,
	}

	h := handlers.New(rounds, gateway, engine, history, logger)
	a.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newRouter(h, cfg.Oracle.JWTSecret, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func newLedgerStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledger.Store, error) {
	switch cfg.Ledger.Backend {
	case "memory":
		logger.Warn("using in-memory ledger store, state will not survive restarts")
		return ledger.NewMemoryStore(), nil
	case "nats":
		return ledger.NewNATSStore(cfg.NATS.URL, cfg.Ledger.Bucket, logger)
	case "postgres":
		return ledger.NewBunStore(ctx, cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

func newEventBus(cfg *config.Config, logger *slog.Logger) (*eventbus.EventBus, error) {
	if cfg.NATS.URL != "" {
		return eventbus.NewNATS(cfg.NATS.URL, logger)
	}
	return eventbus.NewGoChannel(logger), nil
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.runLifecycleListener(ctx, events.Topics()); err != nil {
		return fmt.Errorf("failed to start lifecycle listener: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.cfg.HTTP.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close releases the ledger and event bus.
func (a *App) Close() error {
	if err := a.bus.Close(); err != nil {
		a.logger.Error("failed to close event bus", slog.Any("error", err))
	}
	return a.store.Close()
}
