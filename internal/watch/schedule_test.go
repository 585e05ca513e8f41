package watch

import (
	"context"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	if _, err := ParseCron("*/5 * * * *"); err != nil {
		t.Fatalf("ParseCron: %v", err)
	}
	for _, expr := range []string{"@hourly", "* * *", "61 * * * *"} {
		if _, err := ParseCron(expr); err == nil {
			t.Errorf("ParseCron(%q) succeeded, want error", expr)
		}
	}
}

func TestNextOccurrences(t *testing.T) {
	schedule, err := ParseCron("0 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)
	got := NextOccurrences(schedule, base, 3)
	want := []time.Time{
		time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d times, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d=%v, want %v", i, got[i], want[i])
		}
	}
}

func TestScheduleSource_ClosesOnCancel(t *testing.T) {
	source, err := NewScheduleSource("* * * * *", "/media/usb0/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if source.target != "/media/usb0" {
		t.Errorf("target=%q, want cleaned path", source.target)
	}
	ctx, cancel := context.WithCancel(context.Background())
	events, err := source.Events(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("schedule source did not close its channel")
		}
	}
}
