package watch

import (
	"context"
	"testing"
	"time"

	"hashhost/internal/core"
)

func TestTriggerSource_RequestsShareTheDebounceWindow(t *testing.T) {
	trigger := NewTriggerSource("/media/usb", "api")
	sweeper := &countingSweeper{}
	d := NewDebouncer(sweeper, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, trigger, "/media/usb", "/media/usb") }()

	for i := 0; i < 3; i++ {
		trigger.Trigger()
		time.Sleep(20 * time.Millisecond)
	}
	deadline := time.Now().Add(5 * time.Second)
	for sweeper.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no sweep triggered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if got := sweeper.count(); got != 1 {
		t.Fatalf("sweeps=%d, want 1", got)
	}
	if sweeper.modes[0] != core.ModeDetach {
		t.Errorf("mode=%s, want detach", sweeper.modes[0])
	}
}

func TestTriggerSource_PendingRequestIsNotDuplicated(t *testing.T) {
	trigger := NewTriggerSource("/media/usb", "api")
	if !trigger.Trigger() {
		t.Fatal("first request rejected")
	}
	if trigger.Trigger() {
		t.Fatal("second request queued while the first is pending")
	}
}

func TestTriggerSource_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events, err := NewTriggerSource("/media/usb", "api").Events(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("trigger source did not close its channel")
	}
}
