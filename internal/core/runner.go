package core

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/semaphore"
)

const (
	runDirTimeLayout = "2006-01-02-15-04-05"

	StdoutLog = "stdout.log"
	StderrLog = "stderr.log"
	ErrorLog  = "error.log"
)

// Ledger records run attempts. It is an audit trail only.
type Ledger interface {
	InsertRun(ctx context.Context, run *Run) error
	MarkRunCompleted(ctx context.Context, id string, status RunStatus, endedAt time.Time, exitCode *int, errMsg *string) error
}

// Notifier delivers a short message about a failed run.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Runner executes scripts and records every attempt in its own run directory.
type Runner struct {
	settings Settings
	ledger   Ledger
	notifier Notifier
	logger   *slog.Logger
	slots    *semaphore.Weighted

	now func() time.Time
}

// NewRunner creates a runner. ledger and notifier may be nil.
func NewRunner(settings Settings, ledger Ledger, notifier Notifier, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Runner{
		settings: settings,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	if settings.MaxDetached > 0 {
		r.slots = semaphore.NewWeighted(int64(settings.MaxDetached))
	}
	return r
}

// Settings returns the runner configuration.
func (r *Runner) Settings() Settings { return r.settings }

// Execute runs the script at path. Failures that happen after the run
// directory exists are also written to error.log inside it. The returned
// Run is nil only when no run directory could be created.
func (r *Runner) Execute(ctx context.Context, path string, mode Mode) (*Run, error) {
	script, err := LoadScript(path)
	if err != nil {
		return nil, err
	}
	startedAt := r.now().UTC()
	dir, err := createRunDir(script, startedAt)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:         NewID(),
		Script:     script.Name(),
		ScriptPath: script.Path(),
		Dir:        dir,
		Mode:       mode,
		Status:     RunStatusRunning,
		StartedAt:  startedAt,
	}
	logger := r.logger.With("script", run.Script, "run_dir", dir)
	logger.Info("run started", "mode", mode)

	if err := r.run(ctx, script, run, mode); err != nil {
		r.fail(ctx, logger, run, err)
		return run, err
	}
	if mode == ModeWait {
		r.record(ctx, logger, run)
		logger.Info("run completed", "exit_code", *run.ExitCode)
	}
	return run, nil
}

func (r *Runner) run(ctx context.Context, script *Script, run *Run, mode Mode) error {
	raw, err := readScript(script)
	if err != nil {
		return err
	}
	digest := blake3.Sum256(raw)
	run.Digest = hex.EncodeToString(digest[:])

	env := r.environ(script, run.Dir)

	var decoded bytes.Buffer
	if err := Transform(ctx, bytes.NewReader(raw), &decoded, r.settings.Decoder, env); err != nil {
		if errors.Is(err, ErrTransformFailed) {
			return fmt.Errorf("%w: %w", ErrDecodeFailed, err)
		}
		return fmt.Errorf("decode script: %w", err)
	}
	if !utf8.Valid(decoded.Bytes()) {
		return fmt.Errorf("%w: %s: decoded script is not UTF-8 text", ErrUnsupportedScript, script.Path())
	}
	text := decoded.String()

	if mode == ModeDetach {
		return r.spawn(ctx, text, run, env)
	}

	out, err := runCaptured(ctx, text, run.Dir, env)
	if err != nil {
		return err
	}
	run.ExitCode = &out.exitCode
	if err := r.writeLog(ctx, run.Dir, StdoutLog, out.stdout, env); err != nil {
		return err
	}
	return r.writeLog(ctx, run.Dir, StderrLog, out.stderr, env)
}

// spawn starts the script without waiting for it. A reaper goroutine
// collects the exit status so the process never lingers as a zombie.
func (r *Runner) spawn(ctx context.Context, text string, run *Run, env []string) error {
	if r.slots != nil && !r.slots.TryAcquire(1) {
		return fmt.Errorf("%w (%d running)", ErrConcurrencyLimit, r.settings.MaxDetached)
	}
	cmd, err := spawnDetached(text, run.Dir, env)
	if err != nil {
		r.release()
		return err
	}
	r.record(ctx, r.logger, run)
	r.logger.Info("script spawned", "script", run.Script, "pid", cmd.Process.Pid)

	ledgerCtx := context.WithoutCancel(ctx)
	go func() {
		defer r.release()
		waitErr := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		status := RunStatusCompleted
		var errMsg *string
		if code < 0 && waitErr != nil {
			status = RunStatusFailed
			msg := waitErr.Error()
			errMsg = &msg
		}
		r.logger.Info("detached script exited", "script", run.Script, "run_dir", run.Dir, "exit_code", code)
		if r.ledger != nil {
			if err := r.ledger.MarkRunCompleted(ledgerCtx, run.ID, status, r.now().UTC(), &code, errMsg); err != nil {
				r.logger.Warn("mark run completed", "run_id", run.ID, "err", err)
			}
		}
	}()
	return nil
}

func (r *Runner) release() {
	if r.slots != nil {
		r.slots.Release(1)
	}
}

// writeLog encodes a non-empty stream and stores it in the run directory.
// Nothing is created when the encoder fails.
func (r *Runner) writeLog(ctx context.Context, dir, name string, data []byte, env []string) error {
	if len(data) == 0 {
		return nil
	}
	var encoded bytes.Buffer
	if err := Transform(ctx, bytes.NewReader(data), &encoded, r.settings.Encoder, env); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), encoded.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, logger *slog.Logger, run *Run, cause error) {
	logger.Error("run failed", "err", cause)
	msg := cause.Error()
	if err := os.WriteFile(filepath.Join(run.Dir, ErrorLog), []byte(msg+"\n"), 0o644); err != nil {
		logger.Error("write error log", "err", err)
	}
	run.Status = RunStatusFailed
	run.Error = &msg
	endedAt := r.now().UTC()
	run.EndedAt = &endedAt
	r.save(ctx, logger, run)

	if r.notifier != nil {
		title := fmt.Sprintf("%s: %s failed", r.settings.HostID, run.Script)
		if err := r.notifier.Send(ctx, title, msg); err != nil {
			logger.Warn("send failure notification", "err", err)
		}
	}
}

// record stores a run that reached its script. Wait-mode runs are final at
// this point, detached ones are completed later by the reaper.
func (r *Runner) record(ctx context.Context, logger *slog.Logger, run *Run) {
	if run.Mode == ModeWait {
		run.Status = RunStatusCompleted
		endedAt := r.now().UTC()
		run.EndedAt = &endedAt
	}
	r.save(ctx, logger, run)
}

func (r *Runner) save(ctx context.Context, logger *slog.Logger, run *Run) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.InsertRun(ctx, run); err != nil {
		logger.Warn("record run", "run_id", run.ID, "err", err)
	}
}

func (r *Runner) environ(script *Script, runDir string) []string {
	return append(os.Environ(),
		"HASH_HOST="+r.settings.HostID,
		"HASH_DECODER="+r.settings.Decoder,
		"HASH_ENCODER="+r.settings.Encoder,
		"HASH_SCRIPT="+script.Name(),
		"HASH_SCRIPT_PATH="+script.Path(),
		"HASH_RUN_DIR="+runDir,
	)
}

// readScript loads the script body, refusing anything over MaxScriptSize.
func readScript(script *Script) ([]byte, error) {
	file, err := os.Open(script.Path())
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat script: %w", err)
	}
	if info.Size() > MaxScriptSize {
		return nil, fmt.Errorf("%w: %s: %d bytes exceeds the %d byte limit",
			ErrUnsupportedScript, script.Path(), info.Size(), MaxScriptSize)
	}
	raw, err := io.ReadAll(io.LimitReader(file, MaxScriptSize+1))
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	if len(raw) > MaxScriptSize {
		return nil, fmt.Errorf("%w: %s: grew past the %d byte limit", ErrUnsupportedScript, script.Path(), MaxScriptSize)
	}
	return raw, nil
}

// RunDirName returns the base name of the run directory for a script
// started at t.
func RunDirName(name string, t time.Time) string {
	return name + "-run-" + t.UTC().Format(runDirTimeLayout)
}

// createRunDir makes a fresh run directory next to the script. A name taken
// by a run started in the same second gets a numeric suffix.
func createRunDir(script *Script, startedAt time.Time) (string, error) {
	base := filepath.Join(script.Dir(), RunDirName(script.Name(), startedAt))
	dir := base
	for attempt := 1; ; attempt++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create run dir: %w", err)
		}
		dir = base + "-" + strconv.Itoa(attempt)
	}
}
