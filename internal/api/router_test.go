package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hashhost/internal/core"
	"hashhost/internal/store"
	"hashhost/internal/watch"
)

type fakeRuns struct {
	runs map[string]*core.Run
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (*core.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeRuns) ListRuns(_ context.Context, script string, limit, offset int) ([]*core.Run, error) {
	var out []*core.Run
	for _, run := range f.runs {
		if script == "" || run.Script == script {
			out = append(out, run)
		}
	}
	return out, nil
}

type fakeTrigger struct {
	calls int
}

func (f *fakeTrigger) Trigger() bool {
	f.calls++
	return f.calls == 1
}

type countingSweeper struct {
	mu    sync.Mutex
	modes []core.Mode
}

func (c *countingSweeper) Sweep(_ context.Context, dir string, mode core.Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes = append(c.modes, mode)
	return nil
}

func (c *countingSweeper) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.modes)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, token string) (*Server, *fakeTrigger) {
	t.Helper()
	runDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(runDir, core.StdoutLog), []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(runDir, core.StderrLog), []byte{0x28, 0xb5, 0x2f, 0xfd, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}
	code := 0
	runs := &fakeRuns{runs: map[string]*core.Run{
		"r1": {
			ID:        "r1",
			Script:    "deploy",
			Dir:       runDir,
			Mode:      core.ModeWait,
			Status:    core.RunStatusCompleted,
			ExitCode:  &code,
			StartedAt: time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC),
		},
	}}
	trigger := &fakeTrigger{}
	return NewServer(":0", token, runs, trigger, "/media/usb", testLogger(), time.UTC), trigger
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	h := srv.Handler()
	if rec := do(t, h, http.MethodGet, "/v1/runs", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status=%d, want 401", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/runs", "", map[string]string{"Authorization": "Bearer secret"}); rec.Code != http.StatusOK {
		t.Errorf("bearer: status=%d, want 200", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/runs?token=secret", "", nil); rec.Code != http.StatusOK {
		t.Errorf("query token: status=%d, want 200", rec.Code)
	}
}

func TestRuns(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/v1/runs?script=deploy", "", nil)
	var list []runResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "r1" || list[0].StartedAt != "2024-03-05T14:07:09Z" {
		t.Fatalf("list=%+v", list)
	}

	if rec := do(t, h, http.MethodGet, "/v1/runs/r1", "", nil); rec.Code != http.StatusOK {
		t.Errorf("get: status=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/runs/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing: status=%d, want 404", rec.Code)
	}
}

func TestRunLog(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/v1/runs/r1/log?tail=2", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "two\nthree\n" {
		t.Errorf("tail: status=%d body=%q", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/v1/runs/r1/log?name=stderr&tail=1", "", nil)
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("encoded log content type=%q", ct)
	}
	if rec.Body.Len() != 5 {
		t.Errorf("encoded log returned %d bytes, want 5", rec.Body.Len())
	}

	if rec := do(t, h, http.MethodGet, "/v1/runs/r1/log?name=error", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("absent error.log: status=%d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/runs/r1/log?name=../etc", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad name: status=%d, want 400", rec.Code)
	}
}

func TestRunsWithoutLedger(t *testing.T) {
	srv := NewServer(":0", "", nil, &fakeTrigger{}, "/media/usb", testLogger(), time.UTC)
	if rec := do(t, srv.Handler(), http.MethodGet, "/v1/runs", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status=%d, want 503", rec.Code)
	}
}

func TestSweep(t *testing.T) {
	srv, trigger := newTestServer(t, "")
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/sweep", "", nil)
	var resp sweepResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusAccepted || !resp.Queued || resp.Dir != "/media/usb" {
		t.Fatalf("status=%d resp=%+v", rec.Code, resp)
	}

	rec = do(t, h, http.MethodPost, "/v1/sweep", "", nil)
	resp = sweepResponse{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Queued {
		t.Error("second request should be absorbed by the pending one")
	}
	if trigger.calls != 2 {
		t.Errorf("trigger calls=%d, want 2", trigger.calls)
	}
}

func TestSweep_WithoutWatchSession(t *testing.T) {
	srv := NewServer(":0", "", nil, nil, "", testLogger(), time.UTC)
	if rec := do(t, srv.Handler(), http.MethodPost, "/v1/sweep", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status=%d, want 503", rec.Code)
	}
}

func TestSweep_RequestsAreDebounced(t *testing.T) {
	trigger := watch.NewTriggerSource("/media/usb", "api")
	sweeper := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watch.NewDebouncer(sweeper, testLogger()).Run(ctx, trigger, "/media/usb", "/media/usb")
	}()

	h := NewServer(":0", "", nil, trigger, "/media/usb", testLogger(), time.UTC).Handler()
	for i := 0; i < 3; i++ {
		if rec := do(t, h, http.MethodPost, "/v1/sweep", "", nil); rec.Code != http.StatusAccepted {
			t.Fatalf("post %d: status=%d", i, rec.Code)
		}
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

func TestSchedulePreview(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/schedule/preview", `{"expr":"0 9 * * *","now":"2024-03-05T10:00:00Z","count":2}`, nil)
	var resp schedulePreviewResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	want := []string{"2024-03-06T09:00:00Z", "2024-03-07T09:00:00Z"}
	if !resp.Valid || len(resp.NextTimes) != 2 || resp.NextTimes[0] != want[0] || resp.NextTimes[1] != want[1] {
		t.Errorf("resp=%+v", resp)
	}

	rec = do(t, h, http.MethodPost, "/v1/schedule/preview", `{"expr":"@daily"}`, nil)
	resp = schedulePreviewResponse{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Valid {
		t.Error("descriptor expressions should be rejected")
	}
}
