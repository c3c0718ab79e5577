// Package pipeline coordinates the background workers: the auction closer
// sweep, the settlement retry loop, and cold-storage archival.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/gavelhq/gavel/internal/auction"
	"github.com/gavelhq/gavel/internal/settlement"
)

// Orchestrator manages the background goroutines. The closer is mandatory;
// the settlement worker and archiver run only when configured.
type Orchestrator struct {
	closer      *auction.Closer
	settler     *settlement.Service
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator around the closer sweep.
func NewOrchestrator(closer *auction.Closer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		closer: closer,
		logger: logger.With(slog.String("component", "pipeline")),
	}
}

// SetSettlementWorker adds the settlement retry loop to the run set.
func (o *Orchestrator) SetSettlementWorker(settler *settlement.Service) {
	o.settler = settler
}

// SetArchiver adds cold-storage archival on the given cron schedule.
func (o *Orchestrator) SetArchiver(archiver *Archiver, cron string) {
	o.archiver = archiver
	o.archiveCron = cron
}

// Run starts every configured worker as a concurrent goroutine using an
// errgroup. Each goroutine respects ctx cancellation. If any goroutine
// returns a non-context error, the errgroup cancels the shared context and
// Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting",
		slog.Bool("settlement_worker", o.settler != nil),
		slog.Bool("archiver", o.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.closer.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("closer: %w", err)
	})

	if o.settler != nil {
		g.Go(func() error {
			err := o.settler.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("settlement worker: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline stopped cleanly")
	return nil
}
