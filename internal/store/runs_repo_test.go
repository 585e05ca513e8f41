package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"hashhost/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), dir)
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		s.Close()
	}
}

func TestInsertAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	ended := started.Add(2 * time.Second)
	code := 0
	run := &core.Run{
		ID:         core.NewID(),
		Script:     "deploy",
		ScriptPath: "/media/usb0/deploy.ha.sh",
		Digest:     "abc123",
		Dir:        "/media/usb0/deploy-run-2026-04-01-08-00-00",
		Mode:       core.ModeWait,
		Status:     core.RunStatusCompleted,
		ExitCode:   &code,
		StartedAt:  started,
		EndedAt:    &ended,
	}
	if err := s.InsertRun(ctx, run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Script != "deploy" || got.Dir != run.Dir || got.Mode != core.ModeWait || got.Status != core.RunStatusCompleted {
		t.Errorf("GetRun=%+v", got)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("ExitCode=%v, want 0", got.ExitCode)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("EndedAt=%v, want %v", got.EndedAt, ended)
	}
	if got.Error != nil {
		t.Errorf("Error=%q, want nil", *got.Error)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err=%v, want ErrRunNotFound", err)
	}
}

func TestMarkRunCompleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := &core.Run{
		ID:         core.NewID(),
		Script:     "bg",
		ScriptPath: "/tmp/bg.ha.sh",
		Dir:        "/tmp/bg-run-x",
		Mode:       core.ModeDetach,
		Status:     core.RunStatusRunning,
		StartedAt:  time.Now(),
	}
	if err := s.InsertRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	code := 2
	if err := s.MarkRunCompleted(ctx, run.ID, core.RunStatusCompleted, time.Now(), &code, nil); err != nil {
		t.Fatalf("MarkRunCompleted: %v", err)
	}
	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.RunStatusCompleted || got.ExitCode == nil || *got.ExitCode != 2 || got.EndedAt == nil {
		t.Errorf("after completion: %+v", got)
	}

	if err := s.MarkRunCompleted(ctx, "missing", core.RunStatusFailed, time.Now(), nil, nil); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err=%v, want ErrRunNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for i, name := range []string{"a", "b", "a"} {
		run := &core.Run{
			ID:         core.NewID(),
			Script:     name,
			ScriptPath: "/tmp/" + name + ".ha.sh",
			Dir:        "/tmp/" + name,
			Mode:       core.ModeWait,
			Status:     core.RunStatusCompleted,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListRuns(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d runs, want 3", len(all))
	}
	if !all[0].StartedAt.After(all[1].StartedAt) {
		t.Error("runs are not ordered newest first")
	}

	onlyA, err := s.ListRuns(ctx, "a", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyA) != 2 {
		t.Errorf("got %d runs for a, want 2", len(onlyA))
	}

	page, err := s.ListRuns(ctx, "", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].Script != "b" {
		t.Errorf("page=%+v, want the b run", page)
	}
}
