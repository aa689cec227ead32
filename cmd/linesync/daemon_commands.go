package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"linesync/internal/api"
	"linesync/internal/daemonctl"
	"linesync/internal/daemonrun"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the linesync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx), 10*time.Second)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the linesync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg := ctx.configValue()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), daemonrun.PIDPath(cfg), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, connectivity and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var development bool
	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the linesync daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(cfg),
				Development: development,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in log output")
	return cmd
}

func renderStatus(out io.Writer, status *api.DaemonStatus) {
	p := newPalette(out)

	for _, line := range renderSectionHeader(p, "Daemon") {
		fmt.Fprintln(out, line)
	}
	if status.Running {
		fmt.Fprintln(out, renderStatusLine(p, "linesync", statusOK, "Running (pid "+strconv.Itoa(status.PID)+")"))
	} else {
		fmt.Fprintln(out, renderStatusLine(p, "linesync", statusWarn, "Not running (run `linesync start`)"))
	}
	fmt.Fprintln(out, renderStatusLine(p, "Backend", connectivityKind(status.Connectivity), connectivityDetail(status)))
	if status.Running {
		feed := "Disconnected"
		kind := statusWarn
		if status.RealtimeConnected {
			feed, kind = "Connected", statusOK
		} else if len(status.WatchLines) == 0 {
			feed, kind = "No watch lines configured", statusInfo
		}
		fmt.Fprintln(out, renderStatusLine(p, "Change feed", kind, feed))
	}
	if status.LastFlush != nil {
		fmt.Fprintln(out, renderStatusLine(p, "Last flush", statusInfo, flushDetail(*status.LastFlush)))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader(p, "Checks") {
		fmt.Fprintln(out, line)
	}
	for _, check := range status.Preflight {
		kind := statusOK
		switch {
		case !check.Passed && check.Warning:
			kind = statusWarn
		case !check.Passed:
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(p, check.Name, kind, check.Detail))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader(p, "Queue") {
		fmt.Fprintln(out, line)
	}
	q := status.Queue
	if q.Total == 0 && q.PendingMutations == 0 && q.FailedMutations == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	rows := [][]string{
		{"pending", strconv.Itoa(q.Pending)},
		{"photo_pending", strconv.Itoa(q.PhotoPending)},
		{"failed", strconv.Itoa(q.Failed)},
		{"mutations pending", strconv.Itoa(q.PendingMutations)},
		{"mutations failed", strconv.Itoa(q.FailedMutations)},
	}
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func connectivityKind(state string) statusKind {
	switch state {
	case "online":
		return statusOK
	case "offline":
		return statusWarn
	default:
		return statusInfo
	}
}

func connectivityDetail(status *api.DaemonStatus) string {
	detail := status.Connectivity
	if detail == "" {
		detail = "unknown"
	}
	if status.ConnectivitySince != "" {
		if since, err := time.Parse(time.RFC3339, status.ConnectivitySince); err == nil {
			detail += " since " + humanize.Time(since)
		}
	}
	return detail
}

func flushDetail(f api.FlushSummary) string {
	if f.Skipped {
		return "skipped (another flush was running)"
	}
	return fmt.Sprintf("%d synced, %d pending, %d photo pending, %d failed, %d mutations applied",
		f.Synced, f.Pending, f.PhotoPending, f.Failed, f.MutationsApplied)
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{ConfigPath: ctx.configPath()}
	if cfg := ctx.configValue(); cfg != nil && cfg.Paths.LogDir != "" {
		opts.OutputPath = filepath.Join(cfg.Paths.LogDir, "linesyncd.out")
	}
	if ctx.logLevelFlag != nil {
		opts.LogLevel = *ctx.logLevelFlag
	}
	return opts
}
