package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tabsense/tabsense/configs"
	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/internal/validation"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the user and profile configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/tabsense/config.yaml)
  3. Profile config (<profile>/config.yaml)
  4. Environment variables (TABSENSE_*)

'config set' writes to the profile config; the running daemon picks
the change up without a restart.`,
		Example: `  tabsense config init
  tabsense config show
  tabsense config get embeddings.provider
  tabsense config set indexer.settle_delay 3s`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file",
		Long: `Create the user configuration file from the commented template.

The file is created at ~/.config/tabsense/config.yaml (or under
$XDG_CONFIG_HOME when set). With --force the existing file is backed
up first and then replaced.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration (a backup is kept)")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging defaults, the user config, the
profile config and TABSENSE_* environment variables. Use --source to
inspect one layer on its own.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print config file paths",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "user:    %s\n", config.GetUserConfigPath())
			fmt.Fprintf(w, "profile: %s\n", config.ProfileConfigPath(logging.ProfileDir()))
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one effective config value",
		Example: `  tabsense config get embeddings.provider
  tabsense config get chunking.chunk_size`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(cmd, args[0])
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one profile config value",
		Long: `Validate and write one setting to the profile config file.

Settable keys:
  ` + strings.Join(validation.Keys(), "\n  "),
		Example: `  tabsense config set embeddings.provider ollama
  tabsense config set indexer.settle_delay 3s
  tabsense config set index.retention_days 2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(cmd, args[0], args[1])
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	w := cmd.OutOrStdout()
	path := config.GetUserConfigPath()

	if config.UserConfigExists() && !force {
		fmt.Fprintf(w, "Config already exists at %s\n", path)
		fmt.Fprintln(w, "Use --force to overwrite (a backup will be kept)")
		return nil
	}

	if config.UserConfigExists() {
		backup, err := config.BackupUserConfig()
		if err != nil {
			return fmt.Errorf("failed to back up existing config: %w", err)
		}
		fmt.Fprintf(w, "Backed up existing config to %s\n", backup)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.UserConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(w, "Created %s\n", path)
	fmt.Fprintln(w, "Edit it to change the embedding backend, chunking or eviction settings.")
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	var (
		cfg *config.Config
		err error
	)

	switch source {
	case "merged":
		cfg, err = config.Load(logging.ProfileDir())
	case "user":
		cfg, err = config.LoadUserConfig()
	case "defaults":
		cfg = config.NewConfig()
	default:
		return fmt.Errorf("unknown source %q (expected merged, user or defaults)", source)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func runConfigGet(cmd *cobra.Command, key string) error {
	cfg, err := config.Load(logging.ProfileDir())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Round-trip through YAML so keys match the file syntax.
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	value, ok := lookupKey(tree, validation.NormalizeKey(key))
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%v\n", value)
	return nil
}

func runConfigSet(cmd *cobra.Command, key, value string) error {
	key = validation.NormalizeKey(key)

	if err := validation.CheckSetting(key, value); err != nil {
		if hint := validation.Hint(key); hint != "" {
			return fmt.Errorf("%w\nExpected: %s", err, hint)
		}
		return err
	}

	path := config.ProfileConfigPath(logging.ProfileDir())
	tree := make(map[string]any)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	setKey(tree, key, coerceScalar(value))

	if _, err := config.BackupConfigFile(path); err != nil {
		return fmt.Errorf("failed to back up config: %w", err)
	}

	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
	return nil
}

// lookupKey resolves a dotted key against a nested YAML map.
func lookupKey(tree map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	var node any = tree
	for _, part := range parts {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// coerceScalar types a command-line value so the written YAML matches
// what the config loader expects. "15" has to land as an int, not a
// quoted string.
func coerceScalar(value string) any {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// setKey writes a dotted key into a nested YAML map, creating
// intermediate maps as needed.
func setKey(tree map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	node := tree
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}
