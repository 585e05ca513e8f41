// Package watch turns mount notifications into directory sweeps.
//
// Event sources deliver Events on a channel; the Debouncer is the single
// consumer and the only place that triggers sweeps in watch mode.
package watch

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// ErrUnsupported is returned by the mount source on platforms without a backend.
var ErrUnsupported = errors.New("mount watching is not supported on this platform")

// Event reports a change in the set of mounted filesystems.
type Event struct {
	Time      time.Time
	Mounted   []string
	Unmounted []string
	// Source names the backend that produced the event ("mount", "schedule").
	Source string
}

// HasMounted reports whether point is among the newly mounted filesystems.
func (e Event) HasMounted(point string) bool {
	point = filepath.Clean(point)
	return slices.ContainsFunc(e.Mounted, func(m string) bool {
		return filepath.Clean(m) == point
	})
}

// Source produces mount events until ctx is cancelled, then closes the channel.
type Source interface {
	Events(ctx context.Context) (<-chan Event, error)
}

type merged []Source

// Merge fans several sources into one. The merged channel closes once every
// source channel has closed.
func Merge(sources ...Source) Source {
	return merged(sources)
}

func (m merged) Events(ctx context.Context) (<-chan Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	channels := make([]<-chan Event, 0, len(m))
	for _, source := range m {
		ch, err := source.Events(ctx)
		if err != nil {
			cancel()
			return nil, err
		}
		channels = append(channels, ch)
	}

	out := make(chan Event)
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range ch {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()
	return out, nil
}
