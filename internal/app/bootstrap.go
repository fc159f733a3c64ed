package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trader_go/internal/engine"
	"trader_go/internal/execution"
	"trader_go/internal/infra"
	"trader_go/internal/infra/storage"
	"trader_go/internal/portfolio"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Database  *storage.SqliteDatabase
	Portfolio *portfolio.Portfolio
	Engine    *engine.ExecutionEngine
	Clients   []*execution.LiveClient
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB, engine)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Trader Go...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize execution database
	db, err := storage.NewSqliteDatabase("")
	if err != nil {
		return err
	}
	b.Database = db
	slog.Info("✅ Execution database initialized")

	// 4. Portfolio projection + engine
	b.Portfolio = portfolio.NewPortfolio(db)
	b.Engine = engine.NewExecutionEngine(engine.Config{
		QSize:                 cfg.Engine.QSize,
		ReconcileTimeout:      time.Duration(cfg.Reconciliation.TimeoutSecs) * time.Second,
		ReconcilePollInterval: time.Duration(cfg.Reconciliation.PollIntervalMS) * time.Millisecond,
	}, db, b.Portfolio, infra.NewRealClock())
	slog.Info("✅ Execution engine ready")

	return nil
}

// StartTrading connects venue clients, starts the engine and runs the
// startup reconciliation. The engine accepts no commands until the
// recovered cache converges with every venue.
func (b *Bootstrap) StartTrading(ctx context.Context) error {
	clock := infra.NewRealClock()
	for _, venueCfg := range b.Config.Venues {
		client := execution.NewLiveClient(venueCfg, b.Engine.Process, clock)
		if err := b.Engine.RegisterClient(client); err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			return err
		}
		b.Clients = append(b.Clients, client)
		slog.Info("✅ Venue client connected", slog.String("venue", venueCfg.Name))
	}

	if err := b.Engine.Start(ctx); err != nil {
		return err
	}

	if b.Engine.IsDegraded() {
		timeout := time.Duration(b.Config.Reconciliation.TimeoutSecs) * time.Second
		if !b.Engine.ReconcileState(timeout) {
			return fmt.Errorf("startup reconciliation failed within %s", timeout)
		}
		slog.Info("✅ Startup reconciliation complete")
	}

	return nil
}

// Shutdown stops the engine and disconnects the venue clients.
func (b *Bootstrap) Shutdown() {
	if b.Engine != nil {
		b.Engine.Stop()
		b.Engine.Dispose()
	}
	for _, client := range b.Clients {
		client.Disconnect()
	}
	slog.Info("👋 Shutdown complete")
}
