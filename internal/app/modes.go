package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gavelhq/gavel/internal/auction"
	"github.com/gavelhq/gavel/internal/pipeline"
	"github.com/gavelhq/gavel/internal/server"
	"github.com/gavelhq/gavel/internal/server/handler"
	"github.com/gavelhq/gavel/internal/server/ws"
	"github.com/gavelhq/gavel/internal/settlement"
)

// buildEngine assembles the bid admission engine with its optional
// dependencies attached.
func (a *App) buildEngine(deps *Dependencies) *auction.Engine {
	sink := auction.NewPublisher(deps.SignalBus, a.logger)
	engine := auction.NewEngine(
		deps.AuctionStore, deps.BidLedger, deps.LockManager, sink,
		a.cfg.Engine.LockWait.Duration, a.cfg.Engine.LockTTL.Duration,
		a.logger,
	)
	engine.SetPriceCache(deps.PriceCache)
	engine.SetAuditStore(deps.AuditStore)
	if a.cfg.Engine.BidRateLimit > 0 {
		engine.SetRateLimiter(deps.RateLimiter, a.cfg.Engine.BidRateLimit, a.cfg.Engine.BidRateWindow.Duration)
	}
	return engine
}

// buildSettlement assembles the settlement service against the configured
// payment gateway.
func (a *App) buildSettlement(deps *Dependencies) *settlement.Service {
	gateway := settlement.NewHTTPGateway(a.cfg.Payment.GatewayURL, a.cfg.Payment.APIKey)
	svc := settlement.NewService(
		deps.SettlementStore, deps.AuctionStore, gateway,
		a.cfg.Payment.Currency,
		a.cfg.Payment.RetryInterval.Duration, a.cfg.Payment.RetryBatch,
		a.logger,
	)
	svc.SetAuditStore(deps.AuditStore)
	if deps.Notifier != nil {
		svc.SetNotifier(deps.Notifier)
	}
	return svc
}

// buildCloser assembles the sweep that ends expired auctions, with settlement
// initiation attached.
func (a *App) buildCloser(deps *Dependencies, settler *settlement.Service) *auction.Closer {
	sink := auction.NewPublisher(deps.SignalBus, a.logger)
	closer := auction.NewCloser(
		deps.AuctionStore, deps.BidLedger, deps.LockManager, sink,
		a.cfg.Closer.SweepInterval.Duration, a.cfg.Closer.AuctionTimeout.Duration,
		a.cfg.Closer.BatchSize,
		a.cfg.Engine.LockWait.Duration, a.cfg.Engine.LockTTL.Duration,
		a.logger,
	)
	closer.SetPriceCache(deps.PriceCache)
	closer.SetAuditStore(deps.AuditStore)
	if settler != nil {
		closer.SetSettlementInitiator(settler)
	}
	return closer
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	engine *auction.Engine,
	settler *settlement.Service,
) {
	lifecycle := auction.NewService(deps.AuctionStore, a.logger)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger),
		Auctions:    handler.NewAuctionHandler(lifecycle, engine, deps.AuctionStore, deps.BidLedger, a.logger),
		Bids:        handler.NewBidHandler(engine, deps.BidLedger, a.logger),
		Settlements: handler.NewSettlementHandler(settler, deps.SettlementStore, a.logger),
		Admin:       handler.NewAdminHandler(lifecycle, deps.AuctionStore, deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminAPIKey: a.cfg.Server.AdminAPIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startWorkers adds the closer sweep, settlement retry worker, and archival
// cron to the given errgroup via the pipeline orchestrator.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, settler *settlement.Service) {
	closer := a.buildCloser(deps, settler)

	orch := pipeline.NewOrchestrator(closer, a.logger)
	orch.SetSettlementWorker(settler)
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		orch.SetArchiver(archiver, a.cfg.Archive.Cron)
	}

	g.Go(func() error {
		return orch.Run(ctx)
	})
}

// APIMode serves the HTTP API and WebSocket hub without running the closer
// sweep, for deployments that run sweeps in a separate process.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)

	engine := a.buildEngine(deps)
	settler := a.buildSettlement(deps)
	a.startHTTPServer(ctx, g, deps, engine, settler)

	return g.Wait()
}

// SweepMode runs the closer sweep, settlement retries, and archival without
// serving the HTTP API.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")

	g, ctx := errgroup.WithContext(ctx)

	settler := a.buildSettlement(deps)
	a.startWorkers(ctx, g, deps, settler)

	return g.Wait()
}

// FullMode starts all subsystems: the HTTP API, WebSocket hub, closer sweep,
// settlement retries, and archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	engine := a.buildEngine(deps)
	settler := a.buildSettlement(deps)

	a.startWorkers(ctx, g, deps, settler)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, engine, settler)
	}

	return g.Wait()
}
