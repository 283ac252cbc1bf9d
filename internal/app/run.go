package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/spx0dte/internal/engine"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
	"github.com/Rajchodisetti/spx0dte/internal/server"
)

// Once evaluates the current snapshot a single time.
func (a *App) Once(ctx context.Context) (*engine.Result, error) {
	snap, err := market.LoadSnapshot(a.Config.Snapshot.Path)
	if err != nil {
		return nil, err
	}
	return a.Engine.Tick(ctx, snap)
}

// Run ticks on the configured interval and serves the ops API until ctx is
// cancelled or either goroutine fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.tickLoop(ctx)
	})
	if a.Config.Server.Enabled {
		srv := server.New(a.Engine, server.Config{
			Addr:               a.Config.Server.Addr,
			SlackSigningSecret: a.Config.Server.SlackSigningSecret,
			SlackAllowedUsers:  a.Config.Server.SlackAllowedUsers,
		})
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}
	return g.Wait()
}

func (a *App) tickLoop(ctx context.Context) error {
	interval := time.Duration(a.Config.Snapshot.IntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	observ.Log("tick_loop_start", map[string]any{"snapshot": a.Config.Snapshot.Path, "interval_s": interval.Seconds()})
	var lastSeen time.Time
	for {
		lastSeen = a.step(ctx, lastSeen)
		select {
		case <-ctx.Done():
			observ.Log("tick_loop_stop", nil)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// step runs one tick unless the snapshot has not moved since lastSeen. Load and
// tick failures are logged and retried on the next interval.
func (a *App) step(ctx context.Context, lastSeen time.Time) time.Time {
	snap, err := market.LoadSnapshot(a.Config.Snapshot.Path)
	if err != nil {
		observ.Error("snapshot_load_failed", err, map[string]any{"path": a.Config.Snapshot.Path})
		observ.IncCounter("snapshot_load_failures_total", nil)
		return lastSeen
	}
	if !lastSeen.IsZero() && snap.Timestamp.Equal(lastSeen) {
		observ.Debug("snapshot_unchanged", map[string]any{"timestamp": snap.Timestamp})
		return lastSeen
	}
	if _, err := a.Engine.Tick(ctx, snap); err != nil {
		observ.Error("tick_failed", fmt.Errorf("tick: %w", err), nil)
		return lastSeen
	}
	return snap.Timestamp
}
