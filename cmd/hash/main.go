package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"hashhost/internal/api"
	"hashhost/internal/config"
	"hashhost/internal/core"
	"hashhost/internal/logging"
	hashmcp "hashhost/internal/mcp"
	"hashhost/internal/notify"
	"hashhost/internal/store"
	"hashhost/internal/watch"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "hash [flags] <path>",
		Short:        "Headless autorun",
		Long:         "Runs " + core.ScriptSuffix + " scripts from a file or directory, optionally whenever removable media is mounted.",
		Args:         cobra.ExactArgs(1),
		Version:      config.Version,
		SilenceUsage: true,
		RunE:         runRoot,
	}
	config.BindFlags(rootCmd.PersistentFlags())
	if !watch.Supported {
		_ = rootCmd.PersistentFlags().MarkHidden("watch")
	}

	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newMCPCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// host bundles the collaborators shared by every command.
type host struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	runner *core.Runner
}

func newHost(cmd *cobra.Command) (*host, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, nil)
	h := &host{cfg: cfg, logger: logger}

	var ledger core.Ledger
	if cfg.StateDir != "" {
		st, err := store.Open(cmd.Context(), cfg.StateDir)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		h.store = st
		ledger = st
	}

	var notifier core.Notifier
	if cfg.BarkURL != "" {
		bark, err := notify.NewBarkNotifier(cfg.BarkURL, "hash")
		if err != nil {
			h.Close()
			return nil, err
		}
		notifier = bark
	}

	h.runner = core.NewRunner(core.Settings{
		HostID:      cfg.HostID,
		Decoder:     cfg.Decoder,
		Encoder:     cfg.Encoder,
		MaxDetached: cfg.MaxDetached,
	}, ledger, notifier, logger)
	return h, nil
}

// runStore returns the ledger as a read interface, or nil without one.
func (h *host) runStore() api.RunStore {
	if h.store == nil {
		return nil
	}
	return h.store
}

func (h *host) Close() {
	if h.store != nil {
		if err := h.store.Close(); err != nil {
			h.logger.Warn("close ledger", "err", err)
		}
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	h, err := newHost(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return h.start(ctx, args[0])
}

// start runs a single script, sweeps a directory, or watches it. Anything
// that is not a directory goes to the runner, which classifies it.
func (h *host) start(ctx context.Context, path string) error {
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		_, err := h.runner.Execute(ctx, path, core.ModeWait)
		return err
	}
	if !h.cfg.Watch {
		return h.runner.Sweep(ctx, path, core.ModeWait)
	}
	return h.watch(ctx, path)
}

// resolveMountPoint defaults the mount point to dir and makes it absolute,
// since mountinfo lists absolute paths only.
func resolveMountPoint(configured, dir string) (string, error) {
	if configured == "" {
		configured = dir
	}
	abs, err := filepath.Abs(configured)
	if err != nil {
		return "", fmt.Errorf("resolve mount point: %w", err)
	}
	return abs, nil
}

// watch sweeps dir whenever its mount point is mounted, the schedule fires
// or the status API asks for it, until a termination signal arrives. All
// three are events for the one debounce loop.
func (h *host) watch(ctx context.Context, dir string) error {
	mountPoint, err := resolveMountPoint(h.cfg.MountPoint, dir)
	if err != nil {
		return err
	}

	var sources []watch.Source
	if watch.Supported {
		mounts, err := watch.NewMountSource(h.logger)
		if err != nil {
			return err
		}
		sources = append(sources, mounts)
	}
	if h.cfg.Schedule != "" {
		schedule, err := watch.NewScheduleSource(h.cfg.Schedule, mountPoint, time.Local)
		if err != nil {
			return err
		}
		sources = append(sources, schedule)
	}
	if len(sources) == 0 {
		h.logger.Warn("mount watching is not supported on this platform, sweeping once")
		return h.runner.Sweep(ctx, dir, core.ModeWait)
	}

	if h.cfg.Addr != "" {
		trigger := watch.NewTriggerSource(mountPoint, "api")
		sources = append(sources, trigger)
		server := api.NewServer(h.cfg.Addr, h.cfg.AuthToken, h.runStore(), trigger, dir, h.logger, time.Local)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.logger.Error("server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), h.cfg.ShutdownGrace)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				h.logger.Error("server shutdown", "err", err)
			}
		}()
	}

	err = watch.NewDebouncer(h.runner, h.logger).Run(ctx, watch.Merge(sources...), mountPoint, dir)
	if errors.Is(err, context.Canceled) {
		h.logger.Info("shutdown complete")
		return nil
	}
	return err
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs (needs --state-dir)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			script, _ := cmd.Flags().GetString("script")
			limit, _ := cmd.Flags().GetInt("limit")

			h, err := newHost(cmd)
			if err != nil {
				return err
			}
			defer h.Close()
			if h.store == nil {
				return errors.New("no run ledger: set --state-dir or HASH_STATE_DIR")
			}

			runs, err := h.store.ListRuns(cmd.Context(), script, limit, 0)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSCRIPT\tMODE\tSTATUS\tEXIT\tSTARTED\tRUN DIR")
			for _, run := range runs {
				exit := "-"
				if run.ExitCode != nil {
					exit = fmt.Sprint(*run.ExitCode)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", run.ID, run.Script, run.Mode, run.Status,
					exit, run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.Dir)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringP("script", "s", "", "Only runs of this script name")
	cmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	return cmd
}

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp <dir>",
		Short: "Serve the script directory as MCP tools on stdio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHost(cmd)
			if err != nil {
				return err
			}
			defer h.Close()

			info, err := os.Stat(args[0])
			if err != nil || !info.IsDir() {
				return fmt.Errorf("not a directory: %s", args[0])
			}
			var runs hashmcp.RunStore
			if h.store != nil {
				runs = h.store
			}
			return hashmcp.NewMCPServer(h.runner, runs, args[0], config.Version, h.logger).Run()
		},
	}
}
