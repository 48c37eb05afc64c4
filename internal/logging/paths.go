package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// ProfileDir returns the tabsense profile directory, honoring TABSENSE_PROFILE.
// Falls back to the temp directory if the home directory is unavailable.
func ProfileDir() string {
	if p := os.Getenv("TABSENSE_PROFILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".tabsense")
	}
	return filepath.Join(home, ".tabsense")
}

// DefaultLogDir returns the log directory under the profile (<profile>/logs/).
func DefaultLogDir() string {
	return filepath.Join(ProfileDir(), "logs")
}

// DaemonLogPath returns the daemon log path.
func DaemonLogPath() string {
	return filepath.Join(DefaultLogDir(), "daemon.log")
}

// ServerLogPath returns the MCP server log path.
func ServerLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceDaemon is the indexing daemon logs (default).
	LogSourceDaemon LogSource = "daemon"
	// LogSourceServer is the MCP server logs.
	LogSourceServer LogSource = "server"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFileBySource finds log files based on the source type.
// An explicit path takes precedence. Returns the paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceDaemon:
		p := DaemonLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceServer:
		p := ServerLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceAll:
		daemonPath := DaemonLogPath()
		serverPath := ServerLogPath()
		checked = append(checked, daemonPath, serverPath)

		if _, err := os.Stat(daemonPath); err == nil {
			paths = append(paths, daemonPath)
		}
		if _, err := os.Stat(serverPath); err == nil {
			paths = append(paths, serverPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: daemon, server, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "server":
		return LogSourceServer
	case "all":
		return LogSourceAll
	default:
		return LogSourceDaemon
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// getLogHint returns a helpful message on how to generate logs for the given source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceDaemon:
		return "To generate daemon logs:\n  tabsense daemon"
	case LogSourceServer:
		return "To generate MCP server logs:\n  tabsense serve"
	case LogSourceAll:
		return "To generate logs:\n  daemon: tabsense daemon\n  server: tabsense serve"
	default:
		return ""
	}
}
