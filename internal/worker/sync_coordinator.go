package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/labsync/internal/connectivity"
	"github.com/hyperengineering/labsync/internal/remote"
	"github.com/hyperengineering/labsync/internal/sync"
)

// Default trigger timings.
const (
	DefaultSyncInterval = 30 * time.Second
	DefaultDebounce     = 500 * time.Millisecond
	watchRetryDelay     = 5 * time.Second
)

// Syncer runs sync passes. *sync.Engine implements it.
type Syncer interface {
	Pass(ctx context.Context) (sync.PassResult, error)
}

// Refresher re-reads cached tables from the remote.
type Refresher interface {
	RefreshAll(ctx context.Context) error
	RefreshTable(ctx context.Context, table string) error
}

// SyncCoordinatorConfig holds the trigger timings.
type SyncCoordinatorConfig struct {
	Interval time.Duration
	Debounce time.Duration
}

// SyncCoordinator decides when sync passes run: on reconnect, on an
// interval, shortly after local mutations, on remote change events, and on
// explicit request. Every trigger converges on the engine's single-flight
// guard.
type SyncCoordinator struct {
	engine    Syncer
	refresher Refresher
	monitor   *connectivity.Monitor
	watcher   remote.Watcher
	interval  time.Duration
	debounce  time.Duration

	kick chan struct{}
}

// NewSyncCoordinator creates a coordinator. watcher may be nil.
func NewSyncCoordinator(
	engine Syncer,
	refresher Refresher,
	monitor *connectivity.Monitor,
	watcher remote.Watcher,
	cfg SyncCoordinatorConfig,
) *SyncCoordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSyncInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &SyncCoordinator{
		engine:    engine,
		refresher: refresher,
		monitor:   monitor,
		watcher:   watcher,
		interval:  cfg.Interval,
		debounce:  cfg.Debounce,
		kick:      make(chan struct{}, 1),
	}
}

// NotifyEnqueued schedules a debounced pass. It never blocks.
func (c *SyncCoordinator) NotifyEnqueued() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// SyncNow runs a pass immediately. A pass already in progress counts as
// success; ErrOffline and ErrNoRemote are returned to the caller.
func (c *SyncCoordinator) SyncNow(ctx context.Context) (sync.PassResult, error) {
	res, err := c.engine.Pass(ctx)
	if errors.Is(err, sync.ErrPassInProgress) {
		return res, nil
	}
	return res, err
}

// Run starts the coordinator loop.
func (c *SyncCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sync-coordinator",
		"action", "worker_started",
		"interval", c.interval.String(),
		"debounce", c.debounce.String(),
	)

	online, unsubscribe := c.monitor.Subscribe()
	defer unsubscribe()

	changes := make(chan remote.Change, 64)
	if c.watcher != nil {
		go c.watchLoop(ctx, changes)
	}

	// Catch up on whatever was queued while the process was down.
	if c.monitor.IsOnline() {
		c.reconnected(ctx)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	debounce := time.NewTimer(c.debounce)
	stopTimer(debounce)
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sync-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			if c.monitor.IsOnline() {
				c.runPass(ctx, "interval")
			}
		case <-c.kick:
			stopTimer(debounce)
			debounce.Reset(c.debounce)
		case <-debounce.C:
			if c.monitor.IsOnline() {
				c.runPass(ctx, "enqueue")
			}
		case up, ok := <-online:
			if !ok {
				return
			}
			if up {
				c.reconnected(ctx)
			}
		case ch := <-changes:
			c.refreshTable(ctx, ch.Table)
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// reconnected replays the queue and then refreshes every table, so the
// refresh sees the remote with local changes applied.
func (c *SyncCoordinator) reconnected(ctx context.Context) {
	c.runPass(ctx, "reconnect")
	if err := c.refresher.RefreshAll(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("refresh after reconnect failed",
			"component", "worker",
			"worker", "sync-coordinator",
			"action", "refresh_failed",
			"error", err,
		)
	}
}

func (c *SyncCoordinator) runPass(ctx context.Context, trigger string) {
	_, err := c.engine.Pass(ctx)
	switch {
	case err == nil:
	case errors.Is(err, sync.ErrOffline), errors.Is(err, sync.ErrPassInProgress), errors.Is(err, sync.ErrNoRemote):
		slog.Debug("sync pass skipped",
			"component", "worker",
			"worker", "sync-coordinator",
			"trigger", trigger,
			"reason", err.Error(),
		)
	case ctx.Err() != nil:
		// Shutting down.
	default:
		slog.Warn("sync pass finished with errors",
			"component", "worker",
			"worker", "sync-coordinator",
			"action", "pass_failed",
			"trigger", trigger,
			"error", err,
		)
	}
}

func (c *SyncCoordinator) refreshTable(ctx context.Context, table string) {
	if !c.monitor.IsOnline() {
		return
	}
	if err := c.refresher.RefreshTable(ctx, table); err != nil && ctx.Err() == nil {
		slog.Debug("refresh on remote change failed",
			"component", "worker",
			"worker", "sync-coordinator",
			"table", table,
			"error", err,
		)
	}
}

// watchLoop keeps a change-feed subscription open while online,
// reconnecting after failures.
func (c *SyncCoordinator) watchLoop(ctx context.Context, out chan<- remote.Change) {
	transitions, unsubscribe := c.monitor.Subscribe()
	defer unsubscribe()

	for ctx.Err() == nil {
		if !c.monitor.IsOnline() {
			select {
			case <-ctx.Done():
				return
			case <-transitions:
			}
			continue
		}

		feed, err := c.watcher.Watch(ctx)
		if err != nil {
			slog.Debug("change feed unavailable",
				"component", "worker",
				"worker", "sync-coordinator",
				"error", err,
			)
		} else {
			for ch := range feed {
				select {
				case out <- ch:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-transitions:
		case <-time.After(watchRetryDelay):
		}
	}
}
