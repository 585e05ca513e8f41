//go:build !linux

package watch

import (
	"context"
	"log/slog"
)

// Supported reports whether this platform has a mount backend.
const Supported = false

// DisabledSource stands in for the mount source where no backend exists.
type DisabledSource struct{}

// NewMountSource returns the mount source for this platform.
func NewMountSource(logger *slog.Logger) (Source, error) {
	return DisabledSource{}, nil
}

func (DisabledSource) Events(ctx context.Context) (<-chan Event, error) {
	return nil, ErrUnsupported
}
