package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"hashhost/internal/core"
	"hashhost/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Runner executes scripts and sweeps directories.
type Runner interface {
	Execute(ctx context.Context, path string, mode core.Mode) (*core.Run, error)
	Sweep(ctx context.Context, dir string, mode core.Mode) error
}

// RunStore is the read side of the run ledger.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*core.Run, error)
	ListRuns(ctx context.Context, script string, limit, offset int) ([]*core.Run, error)
}

// MCPServer exposes the script directory as MCP tools.
type MCPServer struct {
	runner  Runner
	runs    RunStore
	dir     string
	version string
	logger  *slog.Logger
}

// NewMCPServer creates a server rooted at dir. runs may be nil when no
// ledger is configured.
func NewMCPServer(runner Runner, runs RunStore, dir, version string, logger *slog.Logger) *MCPServer {
	return &MCPServer{
		runner:  runner,
		runs:    runs,
		dir:     dir,
		version: version,
		logger:  logger,
	}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"hash",
		s.version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio", "dir", s.dir)
	return server.ServeStdio(mcpServer)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("hash_run_script",
		mcp.WithDescription("Run one "+core.ScriptSuffix+" script from the host directory and wait for it to finish"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("File name of the script inside the host directory, e.g. deploy"+core.ScriptSuffix),
		),
	), s.handleRunScript)

	mcpServer.AddTool(mcp.NewTool("hash_sweep",
		mcp.WithDescription("Run every eligible script of the host directory"),
		mcp.WithString("mode",
			mcp.Description("wait for each script, or detach and return immediately (default)"),
			mcp.Enum(string(core.ModeWait), string(core.ModeDetach)),
		),
	), s.handleSweep)

	mcpServer.AddTool(mcp.NewTool("hash_list_runs",
		mcp.WithDescription("List recorded runs, most recent first"),
		mcp.WithString("script",
			mcp.Description("Only runs of this script name (without the suffix)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of runs to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListRuns)

	mcpServer.AddTool(mcp.NewTool("hash_get_run_log",
		mcp.WithDescription("Read stdout.log, stderr.log or error.log of a run"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run ID"),
		),
		mcp.WithString("name",
			mcp.Description("Which log to read, default stdout"),
			mcp.Enum("stdout", "stderr", "error"),
		),
		mcp.WithNumber("tail",
			mcp.Description("Return only the last N lines"),
			mcp.Min(0),
		),
	), s.handleGetRunLog)
}

func (s *MCPServer) handleRunScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(mcp.ParseString(request, "name", ""))
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return mcp.NewToolResultError("name must be a plain file name inside the host directory"), nil
	}

	run, err := s.runner.Execute(ctx, filepath.Join(s.dir, name), core.ModeWait)
	if err != nil {
		if run == nil {
			return mcp.NewToolResultError(fmt.Sprintf("run %s: %v", name, err)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("run %s failed: %v\nrun dir: %s", name, err, run.Dir)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "run %s completed\n", run.ID)
	fmt.Fprintf(&b, "run dir: %s\n", run.Dir)
	if run.ExitCode != nil {
		fmt.Fprintf(&b, "exit code: %d\n", *run.ExitCode)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleSweep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode := core.Mode(mcp.ParseString(request, "mode", string(core.ModeDetach)))
	if mode != core.ModeWait && mode != core.ModeDetach {
		return mcp.NewToolResultError(fmt.Sprintf("unknown mode: %s", mode)), nil
	}
	if err := s.runner.Sweep(ctx, s.dir, mode); err != nil {
		s.logger.Error("sweep", "dir", s.dir, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("sweep %s: %v", s.dir, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("swept %s (%s)", s.dir, mode)), nil
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runs == nil {
		return mcp.NewToolResultError("run ledger is not configured (set --state-dir)"), nil
	}
	script := mcp.ParseString(request, "script", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	runs, err := s.runs.ListRuns(ctx, script, limit, 0)
	if err != nil {
		s.logger.Error("list runs", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("list runs: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("no runs recorded"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d runs:\n\n", len(runs))
	for _, run := range runs {
		fmt.Fprintf(&b, "%s  %s  %s  %s\n", run.ID, run.Script, run.Status, run.StartedAt.UTC().Format("2006-01-02 15:04:05"))
		if run.ExitCode != nil {
			fmt.Fprintf(&b, "  exit code: %d\n", *run.ExitCode)
		}
		if run.Error != nil {
			fmt.Fprintf(&b, "  error: %s\n", truncateString(*run.Error, 120))
		}
		fmt.Fprintf(&b, "  run dir: %s\n", run.Dir)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetRunLog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runs == nil {
		return mcp.NewToolResultError("run ledger is not configured (set --state-dir)"), nil
	}
	runID := mcp.ParseString(request, "run_id", "")
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("run not found: %s", runID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("get run: %v", err)), nil
	}

	var file string
	switch mcp.ParseString(request, "name", "stdout") {
	case "stdout":
		file = core.StdoutLog
	case "stderr":
		file = core.StderrLog
	case "error":
		file = core.ErrorLog
	default:
		return mcp.NewToolResultError("name must be stdout, stderr or error"), nil
	}

	data, err := os.ReadFile(filepath.Join(run.Dir, file))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mcp.NewToolResultText(fmt.Sprintf("%s is empty or was not written", file)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("read %s: %v", file, err)), nil
	}
	if !utf8.Valid(data) {
		return mcp.NewToolResultText(fmt.Sprintf("%s is encoded (%d bytes); decode it on the host", file, len(data))), nil
	}

	text := string(data)
	if tail := int(mcp.ParseFloat64(request, "tail", 0)); tail > 0 {
		lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
		if len(lines) > tail {
			lines = lines[len(lines)-tail:]
		}
		text = strings.Join(lines, "\n")
	}
	return mcp.NewToolResultText(text), nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
