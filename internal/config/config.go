package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tabsense configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Indexer    IndexerConfig    `yaml:"indexer" json:"indexer"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Daemon     DaemonConfig     `yaml:"daemon" json:"daemon"`
	Compaction CompactionConfig `yaml:"compaction" json:"compaction"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend.
	// Options: "onnx", "ollama", "static", or empty for auto-detection
	// (onnx when the runtime library is loadable, then ollama, then static).
	Provider string `yaml:"provider" json:"provider"`

	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"` // 0 = auto-detect from provider
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	// ONNX settings (used when provider is "onnx" or auto-detected)
	ModelPath     string `yaml:"model_path" json:"model_path"`         // exported model file
	TokenizerPath string `yaml:"tokenizer_path" json:"tokenizer_path"` // vocabulary file

	// Ollama settings (used when provider is "ollama")
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"` // empty uses http://localhost:11434

	ModelDownloadTimeout time.Duration `yaml:"model_download_timeout" json:"model_download_timeout"`

	// Memo sizes. The tokenization memo is deliberately smaller than
	// the embedding memo: token slices are cheap to recompute, vectors
	// are not.
	TokenCacheSize     int `yaml:"token_cache_size" json:"token_cache_size"`
	EmbeddingCacheSize int `yaml:"embedding_cache_size" json:"embedding_cache_size"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	// Capacity is the document count that triggers oldest-first
	// eviction. 0 disables the capacity trigger.
	Capacity int `yaml:"capacity" json:"capacity"`

	// HNSW graph parameters.
	M              int `yaml:"m" json:"m"`
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`
	EfSearch       int `yaml:"ef_search" json:"ef_search"`

	// RetentionDays evicts documents older than this many days.
	// 0 disables the retention trigger.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// AutoCleanup runs the capacity and retention triggers after each
	// insertion.
	AutoCleanup bool `yaml:"auto_cleanup" json:"auto_cleanup"`

	// PersistEvery throttles graph persistence to every N insertions.
	// The document mapping is persisted on every insertion regardless.
	PersistEvery int `yaml:"persist_every" json:"persist_every"`
}

// IndexerConfig configures the content indexer.
type IndexerConfig struct {
	// AutoIndex enables indexing driven by tab lifecycle events.
	AutoIndex bool `yaml:"auto_index" json:"auto_index"`

	// MaxChunksPerDoc caps chunks per document to bound index growth.
	MaxChunksPerDoc int `yaml:"max_chunks_per_doc" json:"max_chunks_per_doc"`

	// SettleDelay is how long a tab's content must stay stable before
	// it is indexed (e.g. "2s").
	SettleDelay string `yaml:"settle_delay" json:"settle_delay"`

	// DedupOverfetch multiplies topK when querying the vector index so
	// owner-level deduplication still fills the requested result count.
	DedupOverfetch int `yaml:"dedup_overfetch" json:"dedup_overfetch"`

	// SkipDuplicates skips tabs whose (url, title) pair was already
	// indexed in this process.
	SkipDuplicates bool `yaml:"skip_duplicates" json:"skip_duplicates"`

	// DenySchemes lists URL schemes that are never indexed, merged on
	// top of the built-in privileged schemes.
	DenySchemes []string `yaml:"deny_schemes" json:"deny_schemes"`
}

// ChunkingConfig configures the text chunker.
type ChunkingConfig struct {
	MaxWordsPerChunk   int `yaml:"max_words_per_chunk" json:"max_words_per_chunk"`
	SentenceOverlap    int `yaml:"sentence_overlap" json:"sentence_overlap"`
	WindowOverlapWords int `yaml:"window_overlap_words" json:"window_overlap_words"`
	MinChunkChars      int `yaml:"min_chunk_chars" json:"min_chunk_chars"`
}

// DaemonConfig configures the background daemon.
type DaemonConfig struct {
	// SocketPath is the Unix socket the daemon listens on.
	// Empty uses <profile>/daemon.sock.
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	// RequestTimeout bounds a single RPC round-trip (e.g. "30s").
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// CompactionConfig configures background compaction of the vector
// index. Removals are logical, so orphaned graph nodes accumulate
// until an idle-time rebuild drops them.
type CompactionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// OrphanThreshold is the orphans/graph-nodes ratio above which
	// compaction becomes eligible.
	OrphanThreshold float64 `yaml:"orphan_threshold" json:"orphan_threshold"`

	// MinOrphanCount is the minimum absolute orphan count; below it
	// compaction never runs, avoiding churn on small indexes.
	MinOrphanCount int `yaml:"min_orphan_count" json:"min_orphan_count"`

	// IdleTimeout is how long the index must go without searches
	// before compaction may start (e.g. "30s").
	IdleTimeout string `yaml:"idle_timeout" json:"idle_timeout"`

	// Cooldown is the minimum gap between compactions (e.g. "1h").
	Cooldown string `yaml:"cooldown" json:"cooldown"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// TelemetryConfig configures local search telemetry.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// SampleSize is the number of recent queries kept in memory for
	// latency percentiles.
	SampleSize int `yaml:"sample_size" json:"sample_size"`
}

// defaultDenySchemes are privileged URL schemes that are never indexed.
var defaultDenySchemes = []string{
	"chrome://",
	"chrome-extension://",
	"about:",
	"edge://",
	"devtools://",
	"view-source:",
}

// DefaultDenySchemes returns the built-in privileged URL schemes that
// are never indexed regardless of configuration.
func DefaultDenySchemes() []string {
	return slices.Clone(defaultDenySchemes)
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Embeddings: EmbeddingsConfig{
			Provider:             "", // Empty triggers auto-detection: ONNX → Ollama → Static
			Model:                "all-MiniLM-L6-v2",
			Dimensions:           0, // Auto-detect from embedder
			BatchSize:            32,
			ModelPath:            "", // Empty uses <profile>/models/<model>.onnx
			TokenizerPath:        "", // Empty uses <profile>/models/vocab.txt
			OllamaHost:           "", // Empty uses default http://localhost:11434
			ModelDownloadTimeout: 10 * time.Minute,
			TokenCacheSize:       256,
			EmbeddingCacheSize:   1024,
		},
		Index: IndexConfig{
			Capacity:       10000,
			M:              16,
			EfConstruction: 200,
			EfSearch:       64,
			RetentionDays:  30,
			AutoCleanup:    true,
			PersistEvery:   8,
		},
		Indexer: IndexerConfig{
			AutoIndex:       true,
			MaxChunksPerDoc: 32,
			SettleDelay:     "2s",
			DedupOverfetch:  3,
			SkipDuplicates:  true,
			DenySchemes:     defaultDenySchemes,
		},
		Chunking: ChunkingConfig{
			MaxWordsPerChunk:   120,
			SentenceOverlap:    1,
			WindowOverlapWords: 10,
			MinChunkChars:      20,
		},
		Daemon: DaemonConfig{
			SocketPath:     "", // Empty uses <profile>/daemon.sock
			RequestTimeout: "30s",
			LogLevel:       "info",
		},
		Compaction: CompactionConfig{
			Enabled:         true,
			OrphanThreshold: 0.2,
			MinOrphanCount:  64,
			IdleTimeout:     "30s",
			Cooldown:        "1h",
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "debug", // Debug by default to aid troubleshooting
		},
		Telemetry: TelemetryConfig{
			Enabled:    true,
			SampleSize: 512,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/tabsense/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/tabsense/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tabsense", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "tabsense", "config.yaml")
	}
	return filepath.Join(home, ".config", "tabsense", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// ProfileConfigPath returns the path of the per-profile configuration
// file inside the given profile directory.
func ProfileConfigPath(profileDir string) string {
	return filepath.Join(profileDir, "config.yaml")
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration for the given profile directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/tabsense/config.yaml)
//  3. Profile config (<profile>/config.yaml)
//  4. Environment variables (TABSENSE_*)
func Load(profileDir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: Load profile config (overrides user config)
	profilePath := ProfileConfigPath(profileDir)
	if fileExists(profilePath) {
		if err := cfg.loadYAML(profilePath); err != nil {
			return nil, err
		}
	}

	// Step 3: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 4: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Merge parsed values with defaults (only non-zero values)
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.ModelPath != "" {
		c.Embeddings.ModelPath = other.Embeddings.ModelPath
	}
	if other.Embeddings.TokenizerPath != "" {
		c.Embeddings.TokenizerPath = other.Embeddings.TokenizerPath
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.ModelDownloadTimeout != 0 {
		c.Embeddings.ModelDownloadTimeout = other.Embeddings.ModelDownloadTimeout
	}
	if other.Embeddings.TokenCacheSize != 0 {
		c.Embeddings.TokenCacheSize = other.Embeddings.TokenCacheSize
	}
	if other.Embeddings.EmbeddingCacheSize != 0 {
		c.Embeddings.EmbeddingCacheSize = other.Embeddings.EmbeddingCacheSize
	}

	// Index
	if other.Index.Capacity != 0 {
		c.Index.Capacity = other.Index.Capacity
	}
	if other.Index.M != 0 {
		c.Index.M = other.Index.M
	}
	if other.Index.EfConstruction != 0 {
		c.Index.EfConstruction = other.Index.EfConstruction
	}
	if other.Index.EfSearch != 0 {
		c.Index.EfSearch = other.Index.EfSearch
	}
	if other.Index.RetentionDays != 0 {
		c.Index.RetentionDays = other.Index.RetentionDays
	}
	// AutoCleanup is boolean - only merge when some index setting was set,
	// since yaml.Unmarshal cannot distinguish "absent" from "false"
	if other.Index.Capacity != 0 || other.Index.RetentionDays != 0 {
		c.Index.AutoCleanup = other.Index.AutoCleanup
	}
	if other.Index.PersistEvery != 0 {
		c.Index.PersistEvery = other.Index.PersistEvery
	}

	// Indexer
	if other.Indexer.MaxChunksPerDoc != 0 {
		c.Indexer.MaxChunksPerDoc = other.Indexer.MaxChunksPerDoc
	}
	if other.Indexer.SettleDelay != "" {
		c.Indexer.SettleDelay = other.Indexer.SettleDelay
	}
	if other.Indexer.DedupOverfetch != 0 {
		c.Indexer.DedupOverfetch = other.Indexer.DedupOverfetch
	}
	// AutoIndex/SkipDuplicates are booleans; merge only when the section
	// carries another explicit setting
	if other.Indexer.MaxChunksPerDoc != 0 || other.Indexer.SettleDelay != "" ||
		other.Indexer.DedupOverfetch != 0 || len(other.Indexer.DenySchemes) > 0 {
		c.Indexer.AutoIndex = other.Indexer.AutoIndex
		c.Indexer.SkipDuplicates = other.Indexer.SkipDuplicates
	}
	if len(other.Indexer.DenySchemes) > 0 {
		// Merge with defaults rather than replace
		c.Indexer.DenySchemes = append(c.Indexer.DenySchemes, other.Indexer.DenySchemes...)
	}

	// Chunking
	if other.Chunking.MaxWordsPerChunk != 0 {
		c.Chunking.MaxWordsPerChunk = other.Chunking.MaxWordsPerChunk
	}
	if other.Chunking.SentenceOverlap != 0 {
		c.Chunking.SentenceOverlap = other.Chunking.SentenceOverlap
	}
	if other.Chunking.WindowOverlapWords != 0 {
		c.Chunking.WindowOverlapWords = other.Chunking.WindowOverlapWords
	}
	if other.Chunking.MinChunkChars != 0 {
		c.Chunking.MinChunkChars = other.Chunking.MinChunkChars
	}

	// Daemon
	if other.Daemon.SocketPath != "" {
		c.Daemon.SocketPath = other.Daemon.SocketPath
	}
	if other.Daemon.RequestTimeout != "" {
		c.Daemon.RequestTimeout = other.Daemon.RequestTimeout
	}
	if other.Daemon.LogLevel != "" {
		c.Daemon.LogLevel = other.Daemon.LogLevel
	}

	// Compaction
	if other.Compaction.OrphanThreshold != 0 {
		c.Compaction.OrphanThreshold = other.Compaction.OrphanThreshold
	}
	if other.Compaction.MinOrphanCount != 0 {
		c.Compaction.MinOrphanCount = other.Compaction.MinOrphanCount
	}
	if other.Compaction.IdleTimeout != "" {
		c.Compaction.IdleTimeout = other.Compaction.IdleTimeout
	}
	if other.Compaction.Cooldown != "" {
		c.Compaction.Cooldown = other.Compaction.Cooldown
	}
	// Enabled is boolean; merge only when the section carries another
	// explicit setting
	if other.Compaction.OrphanThreshold != 0 || other.Compaction.MinOrphanCount != 0 ||
		other.Compaction.IdleTimeout != "" || other.Compaction.Cooldown != "" {
		c.Compaction.Enabled = other.Compaction.Enabled
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Telemetry
	if other.Telemetry.SampleSize != 0 {
		c.Telemetry.Enabled = other.Telemetry.Enabled
		c.Telemetry.SampleSize = other.Telemetry.SampleSize
	}
}

// applyEnvOverrides applies TABSENSE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TABSENSE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// TABSENSE_EMBEDDER is an alias for TABSENSE_EMBEDDINGS_PROVIDER
	if v := os.Getenv("TABSENSE_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("TABSENSE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("TABSENSE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("TABSENSE_MODEL_PATH"); v != "" {
		c.Embeddings.ModelPath = v
	}

	if v := os.Getenv("TABSENSE_INDEX_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Index.Capacity = n
		}
	}
	if v := os.Getenv("TABSENSE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Index.RetentionDays = n
		}
	}

	if v := os.Getenv("TABSENSE_AUTO_INDEX"); v != "" {
		c.Indexer.AutoIndex = strings.ToLower(v) == "true" || v == "1"
	}

	if v := os.Getenv("TABSENSE_SOCKET"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("TABSENSE_LOG_LEVEL"); v != "" {
		c.Daemon.LogLevel = v
		c.Server.LogLevel = v
	}
	if v := os.Getenv("TABSENSE_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	// Validate provider (empty string allowed for auto-detection)
	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"onnx": true, "ollama": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'onnx', 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.TokenCacheSize <= 0 {
		return fmt.Errorf("embeddings.token_cache_size must be positive, got %d", c.Embeddings.TokenCacheSize)
	}
	if c.Embeddings.EmbeddingCacheSize <= 0 {
		return fmt.Errorf("embeddings.embedding_cache_size must be positive, got %d", c.Embeddings.EmbeddingCacheSize)
	}

	// Validate index parameters
	if c.Index.Capacity < 0 {
		return fmt.Errorf("index.capacity must be non-negative, got %d", c.Index.Capacity)
	}
	if c.Index.M <= 0 {
		return fmt.Errorf("index.m must be positive, got %d", c.Index.M)
	}
	if c.Index.EfConstruction < c.Index.M {
		return fmt.Errorf("index.ef_construction must be >= index.m, got %d < %d", c.Index.EfConstruction, c.Index.M)
	}
	if c.Index.EfSearch <= 0 {
		return fmt.Errorf("index.ef_search must be positive, got %d", c.Index.EfSearch)
	}
	if c.Index.RetentionDays < 0 {
		return fmt.Errorf("index.retention_days must be non-negative, got %d", c.Index.RetentionDays)
	}
	if c.Index.PersistEvery <= 0 {
		return fmt.Errorf("index.persist_every must be positive, got %d", c.Index.PersistEvery)
	}

	// Validate indexer parameters
	if c.Indexer.MaxChunksPerDoc <= 0 {
		return fmt.Errorf("indexer.max_chunks_per_doc must be positive, got %d", c.Indexer.MaxChunksPerDoc)
	}
	if c.Indexer.DedupOverfetch < 1 {
		return fmt.Errorf("indexer.dedup_overfetch must be at least 1, got %d", c.Indexer.DedupOverfetch)
	}
	if _, err := time.ParseDuration(c.Indexer.SettleDelay); err != nil {
		return fmt.Errorf("indexer.settle_delay is not a valid duration: %s", c.Indexer.SettleDelay)
	}

	// Validate chunking parameters
	if c.Chunking.MaxWordsPerChunk <= 0 {
		return fmt.Errorf("chunking.max_words_per_chunk must be positive, got %d", c.Chunking.MaxWordsPerChunk)
	}
	if c.Chunking.WindowOverlapWords >= c.Chunking.MaxWordsPerChunk {
		return fmt.Errorf("chunking.window_overlap_words must be below max_words_per_chunk, got %d >= %d",
			c.Chunking.WindowOverlapWords, c.Chunking.MaxWordsPerChunk)
	}

	// Validate daemon parameters
	if _, err := time.ParseDuration(c.Daemon.RequestTimeout); err != nil {
		return fmt.Errorf("daemon.request_timeout is not a valid duration: %s", c.Daemon.RequestTimeout)
	}

	// Validate compaction parameters
	if c.Compaction.OrphanThreshold < 0 || c.Compaction.OrphanThreshold > 1 {
		return fmt.Errorf("compaction.orphan_threshold must be between 0 and 1, got %g", c.Compaction.OrphanThreshold)
	}
	if c.Compaction.MinOrphanCount < 0 {
		return fmt.Errorf("compaction.min_orphan_count must be non-negative, got %d", c.Compaction.MinOrphanCount)
	}
	if _, err := time.ParseDuration(c.Compaction.IdleTimeout); err != nil {
		return fmt.Errorf("compaction.idle_timeout is not a valid duration: %s", c.Compaction.IdleTimeout)
	}
	if _, err := time.ParseDuration(c.Compaction.Cooldown); err != nil {
		return fmt.Errorf("compaction.cooldown is not a valid duration: %s", c.Compaction.Cooldown)
	}

	// Validate transport
	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}

	// Validate log levels
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Daemon.LogLevel)] {
		return fmt.Errorf("daemon.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Daemon.LogLevel)
	}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// SettleDelayDuration returns the parsed settle delay, falling back to
// 2s when the configured value does not parse.
func (c *IndexerConfig) SettleDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.SettleDelay)
	if err != nil || d < 0 {
		return 2 * time.Second
	}
	return d
}

// RequestTimeoutDuration returns the parsed request timeout, falling
// back to 30s when the configured value does not parse.
func (c *DaemonConfig) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// RetentionWindow returns the retention period as a duration.
// Zero means retention eviction is disabled.
func (c *IndexConfig) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// IdleTimeoutDuration returns the parsed idle timeout, falling back to
// 30s when the configured value does not parse.
func (c *CompactionConfig) IdleTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// CooldownDuration returns the parsed cooldown, falling back to 1h
// when the configured value does not parse.
func (c *CompactionConfig) CooldownDuration() time.Duration {
	d, err := time.ParseDuration(c.Cooldown)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Index.PersistEvery == 0 {
		c.Index.PersistEvery = defaults.Index.PersistEvery
		added = append(added, "index.persist_every")
	}
	if c.Indexer.DedupOverfetch == 0 {
		c.Indexer.DedupOverfetch = defaults.Indexer.DedupOverfetch
		added = append(added, "indexer.dedup_overfetch")
	}
	if c.Indexer.SettleDelay == "" {
		c.Indexer.SettleDelay = defaults.Indexer.SettleDelay
		added = append(added, "indexer.settle_delay")
	}
	if c.Embeddings.TokenCacheSize == 0 {
		c.Embeddings.TokenCacheSize = defaults.Embeddings.TokenCacheSize
		added = append(added, "embeddings.token_cache_size")
	}
	if c.Embeddings.EmbeddingCacheSize == 0 {
		c.Embeddings.EmbeddingCacheSize = defaults.Embeddings.EmbeddingCacheSize
		added = append(added, "embeddings.embedding_cache_size")
	}
	if c.Telemetry.SampleSize == 0 {
		c.Telemetry.SampleSize = defaults.Telemetry.SampleSize
		added = append(added, "telemetry.sample_size")
	}
	if c.Compaction.IdleTimeout == "" {
		c.Compaction = defaults.Compaction
		added = append(added, "compaction")
	}

	return added
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
