package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/async"
	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/internal/ui"
)

// rebuildPollInterval is how often the CLI re-reads the progress file
// the daemon writes during a rebuild.
const rebuildPollInterval = 200 * time.Millisecond

// rebuildOptions holds CLI flags for rebuild.
type rebuildOptions struct {
	plain   bool
	noColor bool
	wait    bool
}

func newRebuildCmd() *cobra.Command {
	var opts rebuildOptions

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from stored snapshots",
		Long: `Drop the vector index and re-derive it from the tab snapshots the
daemon holds.

Search stays available during the rebuild and serves the old index
until the new one is ready. Use this after changing the embedding
model or chunking settings, or when the index looks wrong.`,
		Example: `  tabsense rebuild
  tabsense rebuild --wait=false   # kick it off and return immediately`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRebuild(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain text progress (no TUI)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&opts.wait, "wait", true, "Wait for the rebuild to finish")

	return cmd
}

func runRebuild(ctx context.Context, cmd *cobra.Command, opts rebuildOptions) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}

	if err := client.Rebuild(ctx); err != nil {
		return fmt.Errorf("failed to start rebuild: %w", err)
	}

	if !opts.wait {
		fmt.Fprintln(cmd.OutOrStdout(), "Rebuild started")
		return nil
	}

	return watchRebuild(ctx, cmd, opts)
}

// watchRebuild follows the daemon's progress file until the rebuild
// finishes, rendering through the terminal-aware renderer.
func watchRebuild(ctx context.Context, cmd *cobra.Command, opts rebuildOptions) error {
	profile := logging.ProfileDir()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(opts.noColor || ui.DetectNoColor()),
		ui.WithProfileDir(profile),
	))
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start progress display: %w", err)
	}
	defer func() { _ = renderer.Stop() }()

	start := time.Now()
	ticker := time.NewTicker(rebuildPollInterval)
	defer ticker.Stop()

	// The status file may still hold the previous run's terminal state
	// for a moment after the RPC returns; skip those until the daemon
	// has written a fresh "rebuilding" snapshot.
	sawRunning := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		snap, ok := async.ReadStatus(profile)
		if !ok {
			continue
		}

		switch async.RebuildStatus(snap.Status) {
		case async.StatusRebuilding:
			sawRunning = true
			renderer.UpdateProgress(progressEventFrom(snap))

		case async.StatusError:
			if !sawRunning && time.Since(start) < 2*time.Second {
				continue
			}
			renderer.AddError(ui.ErrorEvent{Err: fmt.Errorf("%s", snap.ErrorMessage)})
			_ = renderer.Stop()
			return fmt.Errorf("rebuild failed: %s", snap.ErrorMessage)

		case async.StatusReady:
			if !sawRunning && time.Since(start) < 2*time.Second {
				continue
			}
			renderer.Complete(ui.CompletionStats{
				Tabs:     snap.TabsTotal,
				Chunks:   snap.ChunksIndexed,
				Duration: time.Since(start),
			})
			return nil
		}
	}
}

// progressEventFrom maps a progress file snapshot onto a renderer
// event. Loading and chunking count tabs, embedding and indexing
// count chunks.
func progressEventFrom(snap async.Snapshot) ui.ProgressEvent {
	stage := stageFrom(async.RebuildStage(snap.Stage))
	ev := ui.ProgressEvent{Stage: stage}

	switch stage {
	case ui.StageLoading, ui.StageChunking:
		ev.Current = snap.TabsProcessed
		ev.Total = snap.TabsTotal
	default:
		ev.Current = snap.ChunksIndexed
		ev.Total = snap.ChunksTotal
	}
	return ev
}

func stageFrom(s async.RebuildStage) ui.Stage {
	switch s {
	case async.StageLoading:
		return ui.StageLoading
	case async.StageChunking:
		return ui.StageChunking
	case async.StageEmbedding:
		return ui.StageEmbedding
	case async.StageIndexing:
		return ui.StageIndexing
	default:
		return ui.StageLoading
	}
}
