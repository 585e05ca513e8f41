package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hashhost/internal/core"
)

var ErrRunNotFound = errors.New("run not found")

var _ core.Ledger = (*Store)(nil)

const runColumns = `id, script, script_path, digest, run_dir, mode, status, exit_code, error, started_at, ended_at`

func (s *Store) InsertRun(ctx context.Context, run *core.Run) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, script, script_path, digest, run_dir, mode, status, exit_code, error, started_at, ended_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Script, run.ScriptPath, run.Digest, run.Dir, string(run.Mode), string(run.Status),
		nullableInt(run.ExitCode), nullableString(run.Error),
		run.StartedAt.UTC().Format(time.RFC3339Nano), nullableTime(run.EndedAt),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) MarkRunCompleted(ctx context.Context, id string, status core.RunStatus, endedAt time.Time, exitCode *int, errMsg *string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, ended_at = ?, exit_code = ?, error = ?
		WHERE id = ?
	`, string(status), endedAt.UTC().Format(time.RFC3339Nano), nullableInt(exitCode), nullableString(errMsg), id)
	if err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first. An empty script matches every script.
func (s *Store) ListRuns(ctx context.Context, script string, limit, offset int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE ? = '' OR script = ?
		ORDER BY started_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`, script, script, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*core.Run, error) {
	var (
		run       core.Run
		mode      string
		status    string
		exitCode  sql.NullInt64
		errMsg    sql.NullString
		startedAt string
		endedAt   sql.NullString
	)
	if err := scanner.Scan(&run.ID, &run.Script, &run.ScriptPath, &run.Digest, &run.Dir,
		&mode, &status, &exitCode, &errMsg, &startedAt, &endedAt); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Mode = core.Mode(mode)
	run.Status = core.RunStatus(status)
	run.StartedAt = mustParseTime(startedAt)
	if endedAt.Valid {
		t := mustParseTime(endedAt.String)
		run.EndedAt = &t
	}
	if exitCode.Valid {
		val := int(exitCode.Int64)
		run.ExitCode = &val
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return &run, nil
}

func mustParseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		panic(fmt.Sprintf("invalid stored time %q: %v", value, err))
	}
	return t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
