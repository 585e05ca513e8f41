package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron ensures the expression is a valid 5-field cron definition and returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		times = append(times, next)
	}
	return times
}

// ScheduleSource re-announces a mount point on a cron schedule, so a
// volume that stayed mounted is still swept periodically.
type ScheduleSource struct {
	schedule cron.Schedule
	target   string
	location *time.Location
}

// NewScheduleSource parses expr and announces target on every tick.
func NewScheduleSource(expr, target string, location *time.Location) (*ScheduleSource, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	if location == nil {
		location = time.UTC
	}
	return &ScheduleSource{schedule: schedule, target: filepath.Clean(target), location: location}, nil
}

func (s *ScheduleSource) Events(ctx context.Context) (<-chan Event, error) {
	events := make(chan Event)
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.location),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		ev := Event{Time: time.Now(), Mounted: []string{s.target}, Source: "schedule"}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}))
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		close(events)
	}()
	return events, nil
}
