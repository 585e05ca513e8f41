package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"hashhost/internal/core"
)

// DefaultWindow is the quiet period that collapses duplicate mount notifications.
const DefaultWindow = time.Second

// Sweeper runs every eligible script of a directory.
type Sweeper interface {
	Sweep(ctx context.Context, dir string, mode core.Mode) error
}

// Debouncer coalesces bursts of mount events into single sweeps. It is
// idle until the first matching event, then armed with the time of the
// last sweep it triggered.
type Debouncer struct {
	sweeper Sweeper
	logger  *slog.Logger
	window  time.Duration

	armed bool
	last  time.Time
}

// NewDebouncer creates a debouncer with DefaultWindow.
func NewDebouncer(sweeper Sweeper, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Debouncer{sweeper: sweeper, logger: logger, window: DefaultWindow}
}

// Allow reports whether an event at ts should trigger a sweep and records
// it as the last trigger if so. Only events more than one window after the
// last trigger pass.
func (d *Debouncer) Allow(ts time.Time) bool {
	if d.armed && ts.Sub(d.last) <= d.window {
		return false
	}
	d.armed = true
	d.last = ts
	return true
}

// Run consumes source until it closes or ctx is cancelled, sweeping dir in
// detached mode whenever mountPoint is newly mounted. Scripts are spawned
// without waiting so a slow script never delays the next event.
func (d *Debouncer) Run(ctx context.Context, source Source, mountPoint, dir string) error {
	events, err := source.Events(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to mount events: %w", err)
	}
	mountPoint = filepath.Clean(mountPoint)
	d.logger.Info("watching for mounts", "mount_point", mountPoint, "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !ev.HasMounted(mountPoint) {
				continue
			}
			if !d.Allow(ev.Time) {
				d.logger.Debug("debounced mount event", "source", ev.Source, "at", ev.Time)
				continue
			}
			d.logger.Info("mount detected, sweeping", "source", ev.Source, "mount_point", mountPoint)
			if err := d.sweeper.Sweep(ctx, dir, core.ModeDetach); err != nil {
				d.logger.Error("sweep", "dir", dir, "err", err)
			}
		}
	}
}
