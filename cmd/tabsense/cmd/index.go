package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/daemon"
	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/internal/tabs"
)

// indexOptions holds CLI flags for manual tab injection.
type indexOptions struct {
	url       string
	title     string
	textFile  string
	fromStdin bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <owner-id>",
		Short: "Index one tab",
		Long: `Ask the daemon to index a tab.

Normally the browser collaborator delivers tab snapshots over the
socket and indexing happens automatically. This command exists for the
manual path: with --url/--title and --text-file (or --stdin) it first
delivers a snapshot as a content-stable event, then requests indexing.
Without snapshot flags it indexes whatever snapshot the daemon already
holds for the owner.`,
		Example: `  # Index the snapshot the daemon already has for tab-42
  tabsense index tab-42

  # Deliver a snapshot and index it
  tabsense index tab-42 --url https://example.org/a --title "Article" --text-file a.txt

  # Snapshot text from stdin
  cat page.txt | tabsense index tab-42 --url https://example.org/a --stdin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Tab URL for the injected snapshot")
	cmd.Flags().StringVar(&opts.title, "title", "", "Tab title for the injected snapshot")
	cmd.Flags().StringVar(&opts.textFile, "text-file", "", "File with the extracted page text")
	cmd.Flags().BoolVar(&opts.fromStdin, "stdin", false, "Read the extracted page text from stdin")

	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <owner-id>",
		Short: "Remove one tab from the index",
		Long: `Remove all indexed chunks belonging to a tab.

Removing an already-absent tab is a no-op, so this is safe to call
from close hooks without checking first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), cmd, args[0])
		},
	}
}

// dialDaemon returns a connected client or a uniform "not running"
// error shared by the index-side commands.
func dialDaemon() (*daemon.Client, error) {
	profile := logging.ProfileDir()
	cfg, err := config.Load(profile)
	if err != nil {
		cfg = config.NewConfig()
	}
	client := daemon.NewClient(daemon.FromConfig(cfg))
	if !client.IsRunning() {
		return nil, fmt.Errorf("daemon is not running - start it with 'tabsense daemon start'")
	}
	return client, nil
}

func runIndex(ctx context.Context, cmd *cobra.Command, ownerID string, opts indexOptions) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}

	text, err := readSnapshotText(opts)
	if err != nil {
		return err
	}

	// A snapshot on the command line is delivered ahead of the index
	// request, exactly as the browser collaborator would.
	if text != "" || opts.url != "" {
		if opts.url == "" {
			return fmt.Errorf("--url is required when injecting snapshot text")
		}
		ev := daemon.TabEventParams{
			Kind:    string(tabs.EventContentStable),
			OwnerID: ownerID,
			Snapshot: &daemon.TabSnapshot{
				URL:        opts.url,
				Title:      opts.title,
				Text:       text,
				CapturedAt: time.Now(),
			},
		}
		if err := client.PublishEvent(ctx, ev); err != nil {
			return fmt.Errorf("failed to deliver snapshot: %w", err)
		}
	}

	if err := client.IndexTab(ctx, ownerID); err != nil {
		return fmt.Errorf("failed to index tab: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Indexed tab %s\n", ownerID)
	return nil
}

func runRemove(ctx context.Context, cmd *cobra.Command, ownerID string) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}

	if err := client.RemoveTab(ctx, ownerID); err != nil {
		return fmt.Errorf("failed to remove tab: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed tab %s\n", ownerID)
	return nil
}

func readSnapshotText(opts indexOptions) (string, error) {
	if opts.textFile != "" && opts.fromStdin {
		return "", fmt.Errorf("--text-file and --stdin are mutually exclusive")
	}
	if opts.textFile != "" {
		data, err := os.ReadFile(opts.textFile)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", opts.textFile, err)
		}
		return string(data), nil
	}
	if opts.fromStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	return "", nil
}
