package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"hashhost/internal/core"
	"hashhost/internal/store"

	"github.com/go-chi/chi/v5"
)

type runResponse struct {
	ID         string  `json:"id"`
	Script     string  `json:"script"`
	ScriptPath string  `json:"script_path"`
	Digest     string  `json:"digest,omitempty"`
	RunDir     string  `json:"run_dir"`
	Mode       string  `json:"mode"`
	Status     string  `json:"status"`
	ExitCode   *int    `json:"exit_code,omitempty"`
	Error      *string `json:"error,omitempty"`
	StartedAt  string  `json:"started_at"`
	EndedAt    *string `json:"ended_at,omitempty"`
}

var logNames = map[string]string{
	"stdout": core.StdoutLog,
	"stderr": core.StderrLog,
	"error":  core.ErrorLog,
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseIntDefault(query.Get("limit"), 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	offset := parseIntDefault(query.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	runs, err := s.runs.ListRuns(r.Context(), strings.TrimSpace(query.Get("script")), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}
	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

// handleRunLog serves one artifact of the run directory. Text logs honour
// ?tail=N; encoded logs are returned as raw bytes.
func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "stdout"
	}
	file, ok := logNames[name]
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "name must be stdout, stderr or error")
		return
	}

	data, err := os.ReadFile(filepath.Join(run.Dir, file))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "not_found", "log not found")
		} else {
			s.logger.Error("read log", "run_id", run.ID, "file", file, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to read log")
		}
		return
	}
	if !utf8.Valid(data) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(tailLines(data, parseIntDefault(r.URL.Query().Get("tail"), 0)))
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*core.Run, bool) {
	runID := chi.URLParam(r, "runID")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
		} else {
			s.logger.Error("get run", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load run")
		}
		return nil, false
	}
	return run, true
}

func runToResponse(run *core.Run) runResponse {
	var ended *string
	if run.EndedAt != nil {
		formatted := run.EndedAt.UTC().Format(time.RFC3339)
		ended = &formatted
	}
	return runResponse{
		ID:         run.ID,
		Script:     run.Script,
		ScriptPath: run.ScriptPath,
		Digest:     run.Digest,
		RunDir:     run.Dir,
		Mode:       string(run.Mode),
		Status:     string(run.Status),
		ExitCode:   run.ExitCode,
		Error:      run.Error,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:    ended,
	}
}

// tailLines keeps the last n lines of data; n <= 0 keeps everything.
func tailLines(data []byte, n int) []byte {
	if n <= 0 {
		return data
	}
	text := strings.TrimSuffix(string(data), "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}
