package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/daemon"
	"github.com/tabsense/tabsense/internal/logging"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background indexing daemon",
		Long: `The daemon owns the embedding model and the vector index. It listens
on a Unix socket under the profile directory and serves search, index
and tab-event requests from the CLI, the MCP server and the browser
collaborator.

Keeping the model loaded in one process is what makes searches instant;
without the daemon every command would pay the model load cost.

Examples:
  tabsense daemon start      # Start daemon in background
  tabsense daemon start -f   # Run in foreground (for debugging)
  tabsense daemon status     # Check if daemon is running
  tabsense daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the indexing daemon.

By default the daemon detaches and runs in the background. Use
--foreground to keep it attached for debugging; logs then also go to
stderr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStart(cmd.Context(), cmd, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long:  `Send SIGTERM to the daemon for a graceful shutdown, escalating to SIGKILL if it does not exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStop(cmd)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show whether the daemon is running, its process ID, uptime, engine
state and index totals.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// loadDaemonConfig resolves the daemon settings from the active
// profile, falling back to defaults when no config file exists yet.
func loadDaemonConfig() (daemon.Config, *config.Config) {
	profile := logging.ProfileDir()
	appCfg, err := config.Load(profile)
	if err != nil {
		appCfg = config.NewConfig()
	}
	return daemon.FromConfig(appCfg), appCfg
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, foreground bool) error {
	w := cmd.OutOrStdout()
	cfg, appCfg := loadDaemonConfig()

	client := daemon.NewClient(cfg)
	if client.IsRunning() {
		fmt.Fprintln(w, "Daemon is already running")
		return nil
	}

	if foreground {
		logCfg := logging.DefaultConfig()
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
		if logger, cleanup, err := logging.Setup(logCfg); err == nil {
			slog.SetDefault(logger)
			defer cleanup()
		}

		fmt.Fprintln(w, "Starting daemon in foreground...")
		fmt.Fprintf(w, "  Socket: %s\n", cfg.SocketPath)
		fmt.Fprintf(w, "  Logs:   %s\n", logging.DaemonLogPath())
		fmt.Fprintln(w, "Press Ctrl+C to stop")

		d, err := daemon.NewDaemon(cfg, daemon.WithAppConfig(appCfg))
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}
		return d.Start(ctx)
	}

	fmt.Fprintln(w, "Starting daemon in background...")

	// Re-execute self with the foreground flag, detached from this
	// session.
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "daemon", "start", "--foreground")
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child if it exits prematurely instead of leaving a
	// zombie behind while we poll the socket.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 50; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			fmt.Fprintf(w, "Daemon started (pid: %d)\n", bgCmd.Process.Pid)
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

func runDaemonStop(cmd *cobra.Command) error {
	w := cmd.OutOrStdout()
	cfg, _ := loadDaemonConfig()

	pidFile := daemon.NewPIDFile(cfg.PIDPath)

	if !pidFile.IsRunning() {
		fmt.Fprintln(w, "Daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			fmt.Fprintf(w, "Daemon stopped (was pid: %d)\n", pid)
			return nil
		}
	}

	fmt.Fprintln(w, "Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}

	fmt.Fprintln(w, "Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	w := cmd.OutOrStdout()
	cfg, _ := loadDaemonConfig()

	client := daemon.NewClient(cfg)

	if !client.IsRunning() {
		if jsonOutput {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(daemon.StatusResult{Running: false})
		}
		fmt.Fprintln(w, "Daemon is not running")
		fmt.Fprintln(w, "Run 'tabsense daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintln(w, "Daemon is running")
	fmt.Fprintf(w, "  PID:       %d\n", status.PID)
	fmt.Fprintf(w, "  Uptime:    %s\n", status.Uptime)
	fmt.Fprintf(w, "  Engine:    %s/%s (%s)\n", status.Engine.Provider, status.Engine.Model, status.Engine.State)
	fmt.Fprintf(w, "  Tabs:      %d (%d chunks)\n", status.Index.TotalOwners, status.Index.TotalDocuments)
	fmt.Fprintf(w, "  Socket:    %s\n", status.Socket)

	return nil
}
