package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/embed"
	"github.com/tabsense/tabsense/internal/lifecycle"
	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/internal/preflight"
)

func newInitCmd() *cobra.Command {
	var (
		offline bool
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Set up the tabsense profile",
		Long: `Set up the profile directory and verify the machine can run tabsense.

This command:
1. Creates the profile directory (~/.tabsense or $TABSENSE_PROFILE)
2. Runs the system checks (disk, memory, embedding backend)
3. Prepares the configured embedding backend: downloads the ONNX model
   files, or pulls the Ollama model, depending on the provider

With --offline no downloads happen and the static embedding fallback is
assumed. Run 'tabsense daemon start' afterwards to bring the index
online.`,
		Example: `  tabsense init
  tabsense init --offline`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.Context(), cmd, offline, force)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Skip downloads, use static embeddings")
	cmd.Flags().BoolVar(&force, "force", false, "Re-run checks even if they passed recently")

	return cmd
}

func runInit(ctx context.Context, cmd *cobra.Command, offline, force bool) error {
	w := cmd.OutOrStdout()
	profile := logging.ProfileDir()

	if err := os.MkdirAll(profile, 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	fmt.Fprintf(w, "Profile: %s\n\n", profile)

	cfg, err := config.Load(profile)
	if err != nil {
		cfg = config.NewConfig()
	}

	if force {
		_ = preflight.ClearMarker(profile)
	}

	if preflight.NeedsCheck(profile) {
		checker := preflight.New(
			preflight.WithOffline(offline),
			preflight.WithOutput(w),
			preflight.WithEmbeddings(cfg.Embeddings),
		)
		results := checker.RunAll(ctx, profile)
		checker.PrintResults(results)
		if checker.HasCriticalFailures(results) {
			return fmt.Errorf("system check failed - fix the errors above and re-run 'tabsense init'")
		}
		if err := preflight.MarkPassed(profile); err != nil {
			return fmt.Errorf("failed to record check result: %w", err)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "System checks passed recently, skipping (use --force to re-run)")
	}

	if !offline {
		if err := ensureEmbedder(ctx, cmd, cfg); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, "Offline mode: static embeddings will be used")
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Setup complete. Next steps:")
	fmt.Fprintln(w, "  tabsense daemon start   # bring the index online")
	fmt.Fprintln(w, "  tabsense status         # check daemon health")
	fmt.Fprintln(w, "  tabsense search <query> # search your tabs")
	return nil
}

// ensureEmbedder prepares the configured embedding backend so the
// first daemon start does not stall on a download.
func ensureEmbedder(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	w := cmd.OutOrStdout()

	switch cfg.Embeddings.Provider {
	case "ollama":
		return ensureOllama(ctx, cmd, cfg)

	case "static":
		fmt.Fprintln(w, "Static embeddings configured, nothing to download")
		return nil

	default:
		// onnx, or auto-detection that will prefer onnx.
		fmt.Fprintln(w, "Checking ONNX model files...")
		mgr := embed.NewModelManager(cfg.Embeddings)
		if mgr.ModelExists() {
			fmt.Fprintln(w, "Model files present")
			return nil
		}
		fmt.Fprintln(w, "Downloading model files (one-time)...")
		if _, err := mgr.EnsureModel(ctx); err != nil {
			fmt.Fprintf(w, "Model download failed: %v\n", err)
			fmt.Fprintln(w, "The daemon will fall back to static embeddings until the model is available.")
			return nil
		}
		fmt.Fprintln(w, "Model ready")
		return nil
	}
}

func ensureOllama(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	w := cmd.OutOrStdout()
	mgr := lifecycle.NewOllamaManagerWithHost(cfg.Embeddings.OllamaHost)

	status, err := mgr.Status(ctx, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("failed to check Ollama: %w", err)
	}

	if !status.Installed {
		if lifecycle.IsTTY() {
			choice, err := lifecycle.PromptNoEmbedder(w, cmd.InOrStdin())
			if err == nil && choice == lifecycle.ChoiceShowInstall {
				lifecycle.ShowInstallInstructions(w)
			}
		} else {
			lifecycle.ShowInstallInstructions(w)
		}
		fmt.Fprintln(w, "Continuing with static embeddings until Ollama is available.")
		return nil
	}

	// EnsureReady starts the server and pulls the model when missing.
	opts := lifecycle.DefaultEnsureOpts()
	opts.Stdout = w
	opts.ProgressFunc = lifecycle.CreatePullProgressFunc(w)
	if err := mgr.EnsureReady(ctx, cfg.Embeddings.Model, opts); err != nil {
		fmt.Fprintf(w, "Ollama not ready: %v\n", err)
		fmt.Fprintln(w, "The daemon will fall back to static embeddings until it is.")
		return nil
	}

	fmt.Fprintf(w, "Ollama ready with model %s\n", cfg.Embeddings.Model)
	return nil
}
