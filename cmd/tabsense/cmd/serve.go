package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/daemon"
	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP tool server",
		Long: `Run the MCP server that exposes tab search to AI clients.

The server speaks the Model Context Protocol over stdio and forwards
every tool call to the tabsense daemon. Tools: tabs_search, tabs_index,
tabs_remove, tabs_rebuild, tabs_stats.

The daemon must be running ('tabsense daemon start'); tool calls report
a clear error when it is not.`,
		Example: `  # Serve MCP over stdio (for MCP client configuration)
  tabsense serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport (only stdio is supported)")

	return cmd
}

func runServe(ctx context.Context, transport string) error {
	// MCP uses stdout exclusively for JSON-RPC; logs must go to the
	// server log file only.
	cleanup, err := logging.SetupMCPMode()
	if err == nil {
		defer cleanup()
	}

	profile := logging.ProfileDir()
	cfg, err := config.Load(profile)
	if err != nil {
		cfg = config.NewConfig()
	}

	client := daemon.NewClient(daemon.FromConfig(cfg))

	server, err := mcp.NewServer(client, cfg)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() { _ = server.Close() }()

	return server.Serve(ctx, transport)
}
