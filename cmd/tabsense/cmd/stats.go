package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/indexer"
	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/internal/telemetry"
	"github.com/tabsense/tabsense/internal/ui"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and query telemetry",
		Long:  `Display statistics about the index and local query patterns.`,
	}

	cmd.AddCommand(newStatsIndexCmd())
	cmd.AddCommand(newStatsQueriesCmd())

	return cmd
}

func newStatsIndexCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Show index totals",
		Long:  `Display how many tabs and chunks are indexed and how large the index file is.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatsIndex(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newStatsQueriesCmd() *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Show query pattern statistics",
		Long: `Display query pattern telemetry including:
  - Query shape distribution (keyword/phrase/question)
  - Top query terms
  - Zero-result queries
  - Latency distribution

All of this is computed and stored on-device; nothing is uploaded.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatsQueries(cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	return cmd
}

func runStatsIndex(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	printIndexStats(cmd, stats)
	return nil
}

func printIndexStats(cmd *cobra.Command, stats indexer.Stats) {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Index")
	fmt.Fprintf(w, "  Tabs:    %d\n", stats.TotalOwners)
	fmt.Fprintf(w, "  Chunks:  %d\n", stats.TotalDocuments)
	fmt.Fprintf(w, "  Size:    %s\n", ui.FormatBytes(stats.IndexSizeBytes))
	state := "ready"
	switch {
	case stats.Initializing:
		state = "initializing"
	case !stats.Ready:
		state = "not ready"
	}
	fmt.Fprintf(w, "  Engine:  %s\n", state)
}

// statsQueriesOutput is the JSON output format for query stats.
type statsQueriesOutput struct {
	Summary             statsQueriesSummary   `json:"summary"`
	ShapeCounts         map[string]int64      `json:"shape_counts"`
	TopTerms            []telemetry.TermCount `json:"top_terms"`
	ZeroResultQueries   []string              `json:"zero_result_queries"`
	LatencyDistribution map[string]int64      `json:"latency_distribution"`
}

type statsQueriesSummary struct {
	TotalQueries  int64   `json:"total_queries"`
	ZeroResultPct float64 `json:"zero_result_pct"`
}

func runStatsQueries(cmd *cobra.Command, jsonOutput bool, days int) error {
	profile := logging.ProfileDir()
	dbPath := filepath.Join(profile, "telemetry.db")

	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no telemetry recorded yet in %s\nRun some searches first", profile)
	}

	store, err := telemetry.OpenMetricsStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open metrics store: %w", err)
	}
	defer func() { _ = store.Close() }()

	output, err := collectQueryStats(store, days)
	if err != nil {
		return fmt.Errorf("failed to get query stats: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(output)
	}

	printQueryStats(cmd, output)
	return nil
}

func collectQueryStats(store *telemetry.SQLiteMetricsStore, days int) (*statsQueriesOutput, error) {
	// Daily aggregates are keyed by YYYY-MM-DD.
	to := time.Now().Format("2006-01-02")
	from := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	topTerms, err := store.GetTopTerms(10)
	if err != nil {
		return nil, fmt.Errorf("get top terms: %w", err)
	}

	zeroResults, err := store.GetZeroResultQueries(10)
	if err != nil {
		return nil, fmt.Errorf("get zero-result queries: %w", err)
	}

	shapes, err := store.GetShapeCounts(from, to)
	if err != nil {
		return nil, fmt.Errorf("get shape counts: %w", err)
	}

	latency, err := store.GetLatencyCounts(from, to)
	if err != nil {
		return nil, fmt.Errorf("get latency counts: %w", err)
	}

	out := &statsQueriesOutput{
		ShapeCounts:         make(map[string]int64, len(shapes)),
		TopTerms:            topTerms,
		ZeroResultQueries:   zeroResults,
		LatencyDistribution: make(map[string]int64, len(latency)),
	}

	var total int64
	for shape, count := range shapes {
		out.ShapeCounts[string(shape)] = count
		total += count
	}
	for bucket, count := range latency {
		out.LatencyDistribution[string(bucket)] = count
	}

	out.Summary.TotalQueries = total
	if total > 0 {
		out.Summary.ZeroResultPct = float64(len(zeroResults)) / float64(total) * 100
	}

	return out, nil
}

func printQueryStats(cmd *cobra.Command, output *statsQueriesOutput) {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Query Statistics")
	fmt.Fprintf(w, "  Total queries: %d\n", output.Summary.TotalQueries)
	fmt.Fprintf(w, "  Zero results:  %.1f%%\n\n", output.Summary.ZeroResultPct)

	if len(output.ShapeCounts) > 0 {
		fmt.Fprintln(w, "Query shapes")
		for _, shape := range []string{"keyword", "phrase", "question"} {
			if count, ok := output.ShapeCounts[shape]; ok {
				fmt.Fprintf(w, "  %-10s %d\n", shape, count)
			}
		}
		fmt.Fprintln(w)
	}

	if len(output.TopTerms) > 0 {
		fmt.Fprintln(w, "Top terms")
		for _, tc := range output.TopTerms {
			fmt.Fprintf(w, "  %-20s %d\n", tc.Term, tc.Count)
		}
		fmt.Fprintln(w)
	}

	if len(output.ZeroResultQueries) > 0 {
		fmt.Fprintln(w, "Recent zero-result queries")
		for _, q := range output.ZeroResultQueries {
			fmt.Fprintf(w, "  %q\n", q)
		}
		fmt.Fprintln(w)
	}

	if len(output.LatencyDistribution) > 0 {
		fmt.Fprintln(w, "Latency")
		labels := []struct{ bucket, label string }{
			{"p10", "<10ms"},
			{"p50", "10-50ms"},
			{"p100", "50-100ms"},
			{"p500", "100-500ms"},
			{"p1000", ">=500ms"},
		}
		for _, l := range labels {
			if count, ok := output.LatencyDistribution[l.bucket]; ok {
				fmt.Fprintf(w, "  %-10s %d\n", l.label, count)
			}
		}
	}
}
