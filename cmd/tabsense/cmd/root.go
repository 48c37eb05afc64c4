// Package cmd provides the CLI commands for tabsense.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/pkg/version"
)

// Debug logging flag, shared by all commands.
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the tabsense CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabsense",
		Short: "On-device semantic search over open browser tabs",
		Long: `Tabsense indexes the text of open browser tabs on-device and answers
"which open tabs are about X" with ranked snippets. Nothing leaves the
machine: embeddings are computed locally and stored in a per-profile
vector index.

A background daemon owns the embedding model and the index; the CLI and
the MCP server are thin clients of its Unix socket.

Run 'tabsense init' once to set up a profile, then 'tabsense daemon
start' to bring the index online.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			// Bare invocation serves MCP over stdio so "tabsense" works
			// as a server command in MCP client configurations.
			return runServe(cmd.Context(), "stdio")
		},
	}

	cmd.SetVersionTemplate("tabsense version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"Enable debug logging to <profile>/logs/")
	cmd.PersistentPreRunE = startDebugLogging
	cmd.PersistentPostRunE = stopDebugLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newCompactCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startDebugLogging wires --debug into a file logger before any
// subcommand runs. Commands that need their own logging profile (serve,
// daemon start) install it on top of this.
func startDebugLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled",
		slog.String("log_file", logging.DaemonLogPath()))
	return nil
}

func stopDebugLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
