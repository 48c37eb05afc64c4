// Package daemon hosts the long-lived tabsense process. It owns the
// embedding engine, the vector index and the content indexer for one
// profile, and serves them to thin CLI and MCP clients over a Unix
// domain socket speaking JSON-RPC 2.0.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/logging"
)

// Config holds the daemon's process-level settings. Application
// behavior (engine, index, indexer) comes from the profile
// configuration; this covers the socket, the pidfile and timeouts.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: <profile>/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: <profile>/daemon.pid
	PIDPath string

	// Timeout is the maximum duration for one client round-trip.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod bounds the wait for in-flight connections
	// during shutdown. Default: 10s
	ShutdownGracePeriod time.Duration
}

// DefaultConfig returns a Config rooted in the active profile.
func DefaultConfig() Config {
	profile := logging.ProfileDir()
	return Config{
		SocketPath:          filepath.Join(profile, "daemon.sock"),
		PIDPath:             filepath.Join(profile, "daemon.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// FromConfig derives daemon settings from the profile configuration,
// filling anything unset with profile-rooted defaults.
func FromConfig(appCfg *config.Config) Config {
	cfg := DefaultConfig()
	if appCfg == nil {
		return cfg
	}
	if appCfg.Daemon.SocketPath != "" {
		cfg.SocketPath = appCfg.Daemon.SocketPath
	}
	cfg.Timeout = appCfg.Daemon.RequestTimeoutDuration()
	return cfg
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the directories holding the socket and PID files.
func (c Config) EnsureDir() error {
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	pidDir := filepath.Dir(c.PIDPath)
	if pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0o755); err != nil {
			return fmt.Errorf("failed to create PID directory: %w", err)
		}
	}
	return nil
}
