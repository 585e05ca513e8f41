package watch

import (
	"context"
	"path/filepath"
	"time"
)

// TriggerSource turns on-demand sweep requests into events, so they pass
// through the same debounce gate as mount notifications.
type TriggerSource struct {
	target   string
	source   string
	requests chan time.Time
}

// NewTriggerSource announces target for every accepted request. name is
// reported as the event source ("api", "mcp").
func NewTriggerSource(target, name string) *TriggerSource {
	return &TriggerSource{
		target:   filepath.Clean(target),
		source:   name,
		requests: make(chan time.Time, 1),
	}
}

// Trigger queues a request. It reports false when one is already pending.
func (s *TriggerSource) Trigger() bool {
	select {
	case s.requests <- time.Now():
		return true
	default:
		return false
	}
}

func (s *TriggerSource) Events(ctx context.Context) (<-chan Event, error) {
	events := make(chan Event)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ts := <-s.requests:
				ev := Event{Time: ts, Mounted: []string{s.target}, Source: s.source}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}
