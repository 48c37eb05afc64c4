package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/async"
	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/daemon"
	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool
	var noColor bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and index health",
		Long: `Show whether the daemon is running, which embedding engine it is
serving, and how much of the tab set is indexed. A rebuild in progress
is reported with its stage and percentage.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput, noColor)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput, noColor bool) error {
	profile := logging.ProfileDir()
	cfg, err := config.Load(profile)
	if err != nil {
		cfg = config.NewConfig()
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())

	client := daemon.NewClient(daemon.FromConfig(cfg))
	if !client.IsRunning() {
		info := ui.StatusInfo{Running: false}
		if jsonOutput {
			return renderer.RenderJSON(info)
		}
		return renderer.Render(info)
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	info := statusInfoFrom(status)
	if jsonOutput {
		return renderer.RenderJSON(info)
	}

	if err := renderer.Render(info); err != nil {
		return err
	}

	// A rebuild in flight is worth a line of its own.
	if snap, ok := async.ReadStatus(profile); ok && async.RebuildStatus(snap.Status) == async.StatusRebuilding {
		fmt.Fprintf(cmd.OutOrStdout(), "\n  Rebuild: %s (%.0f%%)\n", snap.Stage, snap.ProgressPct)
	}

	return nil
}

// statusInfoFrom flattens the daemon's status result into the fields
// the status renderer displays.
func statusInfoFrom(status *daemon.StatusResult) ui.StatusInfo {
	return ui.StatusInfo{
		Running: status.Running,
		PID:     status.PID,
		Socket:  status.Socket,
		Uptime:  status.Uptime,

		Provider:    status.Engine.Provider,
		Model:       status.Engine.Model,
		Dimensions:  status.Engine.Dimensions,
		EngineState: status.Engine.State,
		EngineError: status.Engine.Error,

		TotalDocuments: status.Index.TotalDocuments,
		TotalOwners:    status.Index.TotalOwners,
		IndexSizeBytes: status.Index.IndexSizeBytes,
	}
}
