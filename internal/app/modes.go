package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmelnik/polysync/internal/domain"
	"github.com/dmelnik/polysync/internal/pipeline"
)

// SyncMode runs one synchronization pass and exits.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	unlock, err := a.acquireLock(ctx, deps)
	if err != nil {
		return fmt.Errorf("sync mode: %w", err)
	}
	if unlock != nil {
		defer unlock()
	}

	summary, err := deps.Orchestrator.Run(ctx, a.runOptions(deps))
	if err != nil {
		return fmt.Errorf("sync mode: %w", err)
	}

	a.exportSnapshot(ctx, deps, summary)
	return nil
}

// WatchMode runs synchronization passes on a fixed interval until the
// context is cancelled. A pass that fails, or finds the lock held by
// another instance, is logged and the loop continues.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Sync.Interval.Duration
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.watchPass(ctx, deps); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.WarnContext(ctx, "sync pass failed",
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) watchPass(ctx context.Context, deps *Dependencies) error {
	unlock, err := a.acquireLock(ctx, deps)
	if errors.Is(err, domain.ErrLockHeld) {
		a.logger.InfoContext(ctx, "another instance holds the run lock, skipping pass")
		return nil
	}
	if err != nil {
		return err
	}
	if unlock != nil {
		defer unlock()
	}

	summary, err := deps.Orchestrator.Run(ctx, a.runOptions(deps))
	if err != nil {
		return err
	}

	a.exportSnapshot(ctx, deps, summary)
	return nil
}

// acquireLock takes the per-market run lock when a lock manager is wired.
// It returns a nil unlock when locking is disabled.
func (a *App) acquireLock(ctx context.Context, deps *Dependencies) (func(), error) {
	if deps.LockManager == nil {
		return nil, nil
	}
	return deps.LockManager.Acquire(ctx, "sync:"+deps.MarketID, a.cfg.Sync.LockTTL.Duration)
}

func (a *App) runOptions(deps *Dependencies) pipeline.Options {
	source, _ := pipeline.ParseSource(a.cfg.Sync.Source)
	return pipeline.Options{
		Source:        source,
		MarketID:      deps.MarketID,
		MaxTrades:     a.cfg.Sync.MaxTrades,
		MaxIterations: a.cfg.Sync.MaxIterations,
		FromBlock:     uint64(a.cfg.Chain.FromBlock),
	}
}

// exportSnapshot uploads a post-run CSV snapshot when export is enabled.
// Export failures never fail the run that produced the data.
func (a *App) exportSnapshot(ctx context.Context, deps *Dependencies, summary pipeline.Summary) {
	if deps.Exporter == nil {
		return
	}
	if summary.Stored == 0 {
		a.logger.InfoContext(ctx, "no new trades stored, skipping snapshot export")
		return
	}
	if _, _, err := deps.Exporter.Export(ctx, deps.MarketID); err != nil {
		a.logger.WarnContext(ctx, "snapshot export failed",
			slog.String("error", err.Error()),
		)
	}
}
