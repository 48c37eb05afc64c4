package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/daemon"
	"github.com/tabsense/tabsense/internal/embed"
	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/internal/vector"
)

func newCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Rebuild the index graph without soft-deleted entries",
		Long: `Rewrite the vector index graph, dropping entries that were removed
but still occupy graph nodes.

The daemon compacts automatically when deletions accumulate; this
command forces a compaction while the daemon is stopped, for example
before backing up the profile directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompact(cmd.Context(), cmd)
		},
	}

	return cmd
}

func runCompact(ctx context.Context, cmd *cobra.Command) error {
	w := cmd.OutOrStdout()
	profile := logging.ProfileDir()

	cfg, err := config.Load(profile)
	if err != nil {
		cfg = config.NewConfig()
	}

	// The daemon holds the index file open; compacting underneath it
	// would corrupt the graph.
	client := daemon.NewClient(daemon.FromConfig(cfg))
	if client.IsRunning() {
		return fmt.Errorf("daemon is running - stop it first with 'tabsense daemon stop'")
	}

	kv, err := vector.OpenStore(filepath.Join(profile, "index.db"))
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer func() { _ = kv.Close() }()

	dims := cfg.Embeddings.Dimensions
	if dims <= 0 {
		dims = embed.DefaultDimensions
	}
	vcfg := vector.DefaultConfig(dims)
	vcfg.AutoCleanup = false
	index, err := vector.NewIndex(kv, vcfg)
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}
	defer func() { _ = index.Close() }()

	fmt.Fprintln(w, "Compacting index...")
	removed, err := index.Compact(ctx)
	if err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}

	fmt.Fprintf(w, "Compaction complete, dropped %d dead entries\n", removed)
	return nil
}
