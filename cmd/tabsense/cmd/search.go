package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/daemon"
	"github.com/tabsense/tabsense/internal/embed"
	"github.com/tabsense/tabsense/internal/indexer"
	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/internal/tabs"
	"github.com/tabsense/tabsense/internal/vector"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	topK   int
	format string // "text", "json"
	local  bool   // force local search (bypass daemon)
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed tabs",
		Long: `Search open tabs by meaning, not exact words.

The query is embedded and matched against every indexed chunk; each tab
appears at most once, represented by its best-matching chunk.

Normally the query goes to the daemon, which holds the loaded model.
With --local (or when the daemon is down) the index is opened read-only
in this process instead; that pays the engine startup cost and requires
the daemon to not hold the index open.`,
		Example: `  tabsense search "flight booking confirmation"
  tabsense search "that article about beekeeping" -n 5
  tabsense search "rust lifetimes" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "limit", "n", indexer.DefaultTopK, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Search in-process (bypass daemon)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.topK))

	profile := logging.ProfileDir()
	cfg, err := config.Load(profile)
	if err != nil {
		cfg = config.NewConfig()
	}

	client := daemon.NewClient(daemon.FromConfig(cfg))
	if !opts.local && client.IsRunning() {
		results, err := client.Search(ctx, query, opts.topK)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		slog.Info("search_complete", slog.String("mode", "daemon"), slog.Int("results", len(results)))
		return formatResults(cmd, query, results, opts.format)
	}

	slog.Info("search_using_local")
	return runLocalSearch(ctx, cmd, profile, cfg, query, opts)
}

// runLocalSearch opens the profile's index directly. Only valid while
// the daemon is down: bbolt admits one process at a time.
func runLocalSearch(ctx context.Context, cmd *cobra.Command, profile string, cfg *config.Config, query string, opts searchOptions) error {
	engine, err := embed.NewLocalEngine(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("failed to create embedding engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	if err := engine.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize embedding engine: %w", err)
	}

	kv, err := vector.OpenStore(filepath.Join(profile, "index.db"))
	if err != nil {
		return fmt.Errorf("failed to open index (is the daemon running? use the daemon path instead): %w", err)
	}
	defer func() { _ = kv.Close() }()

	vcfg := vector.DefaultConfig(engine.Dimensions())
	vcfg.AutoCleanup = false // read-only use; never evict from a search
	index, err := vector.NewIndex(kv, vcfg)
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}
	defer func() { _ = index.Close() }()

	registry := tabs.NewRegistry()
	xer, err := indexer.New(indexer.Deps{
		Engine:    engine,
		Index:     index,
		Extractor: tabs.NewRegistryExtractor(registry),
		Owners:    registry,
	}, cfg.Indexer)
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}

	results, err := xer.Search(ctx, query, opts.topK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Info("search_complete", slog.String("mode", "local"), slog.Int("results", len(results)))

	return formatResults(cmd, query, results, opts.format)
}

// formatResults renders ranked hits as text or JSON.
func formatResults(cmd *cobra.Command, query string, results []indexer.Result, format string) error {
	w := cmd.OutOrStdout()

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintf(w, "No results found for %q\n", query)
		return nil
	}

	fmt.Fprintf(w, "Found %d results for %q:\n\n", len(results), query)
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = r.URL
		}
		fmt.Fprintf(w, "%d. %s (similarity: %.2f)\n", i+1, title, r.Similarity)
		if r.URL != "" {
			fmt.Fprintf(w, "   %s\n", r.URL)
		}
		if snippet := firstLines(r.Snippet, 3); snippet != "" {
			for _, line := range strings.Split(snippet, "\n") {
				fmt.Fprintf(w, "   %s\n", line)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

// firstLines returns at most n non-empty leading lines of s.
func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
