//go:build linux

package watch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

const mountInfoPath = "/proc/self/mountinfo"

// MountSource watches the kernel mount table. The kernel flags
// /proc/self/mountinfo with POLLPRI|POLLERR whenever the table changes;
// each change is diffed against the previous snapshot.
type MountSource struct {
	path   string
	logger *slog.Logger
}

// Supported reports whether this platform has a mount backend.
const Supported = true

// NewMountSource returns the mount source for this platform.
func NewMountSource(logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MountSource{path: mountInfoPath, logger: logger}, nil
}

func (s *MountSource) Events(ctx context.Context) (<-chan Event, error) {
	fd, err := unix.Open(s.path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	data, err := readFromStart(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	current, err := parseMountInfo(data)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	events := make(chan Event)
	go s.pollLoop(ctx, fd, current, events)
	return events, nil
}

// pollLoop uses poll(2) with a 100ms timeout so the goroutine notices
// cancellation without spinning.
func (s *MountSource) pollLoop(ctx context.Context, fd int, current map[string]struct{}, events chan<- Event) {
	defer close(events)
	defer unix.Close(fd)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		descriptors := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLPRI}}
		count, err := unix.Poll(descriptors, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			s.logger.Error("poll mount table", "err", err)
			return
		}
		if count == 0 || descriptors[0].Revents&(unix.POLLPRI|unix.POLLERR) == 0 {
			continue
		}

		data, err := readFromStart(fd)
		if err != nil {
			s.logger.Error("read mount table", "err", err)
			return
		}
		next, err := parseMountInfo(data)
		if err != nil {
			s.logger.Error("parse mount table", "err", err)
			continue
		}
		mounted, unmounted := diffMounts(current, next)
		current = next
		if len(mounted) == 0 && len(unmounted) == 0 {
			continue
		}
		s.logger.Debug("mount table changed", "mounted", mounted, "unmounted", unmounted)

		ev := Event{Time: time.Now(), Mounted: mounted, Unmounted: unmounted, Source: "mount"}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// readFromStart rereads the whole file, which also clears the pending
// POLLPRI condition.
func readFromStart(fd int) ([]byte, error) {
	if _, err := unix.Seek(fd, 0, io.SeekStart); err != nil {
		return nil, err
	}
	var data []byte
	buffer := make([]byte, 64*1024)
	for {
		n, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, err
		}
		if n == 0 {
			return data, nil
		}
		data = append(data, buffer[:n]...)
	}
}

// parseMountInfo returns the set of mount points in mountinfo content.
func parseMountInfo(data []byte) (map[string]struct{}, error) {
	infos, err := mountinfo.GetMountsFromReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, err
	}
	points := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		points[info.Mountpoint] = struct{}{}
	}
	return points, nil
}
