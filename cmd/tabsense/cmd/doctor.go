package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics against the active profile.

Checks:
  - Disk space (100MB minimum)
  - Memory availability (1GB minimum)
  - Profile write permissions
  - File descriptor limits
  - ONNX runtime library presence
  - Embedding backend readiness (model files or Ollama reachability)

Embedder checks are warnings, not failures: when the configured backend
is unavailable the daemon falls back to static embeddings.`,
		Example: `  tabsense doctor
  tabsense doctor --verbose
  tabsense doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput, offline)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip checks that need the network")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput, offline bool) error {
	ctx := cmd.Context()
	profile := logging.ProfileDir()

	cfg, err := config.Load(profile)
	if err != nil {
		cfg = config.NewConfig()
	}

	checker := preflight.New(
		preflight.WithOffline(offline),
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithEmbeddings(cfg.Embeddings),
	)

	results := checker.RunAll(ctx, profile)

	if jsonOutput {
		return printDoctorJSON(cmd, checker, results)
	}

	checker.PrintResults(results)

	if !preflight.NeedsCheck(profile) {
		if age := preflight.MarkerAge(profile); age > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\nLast successful check: %s ago\n", formatDuration(age))
		}
	}

	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}

	return nil
}

// doctorOutput is the JSON shape of the doctor report.
type doctorOutput struct {
	Status   string        `json:"status"`
	Checks   []doctorCheck `json:"checks"`
	Warnings []string      `json:"warnings,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
}

// doctorCheck is one check with its status spelled out instead of the
// internal enum value.
type doctorCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func printDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	output := doctorOutput{
		Status: checker.SummaryStatus(results),
		Checks: make([]doctorCheck, len(results)),
	}

	for i, r := range results {
		output.Checks[i] = doctorCheck{
			Name:     r.Name,
			Status:   r.Status.String(),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}

		if r.IsCritical() {
			output.Errors = append(output.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			output.Warnings = append(output.Warnings, r.Name+": "+r.Message)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		return err
	}

	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}
	return nil
}

// formatDuration renders an age in the largest sensible unit.
func formatDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
