package validation

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsense/tabsense/internal/errors"
)

func TestCheckQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{
			name:  "plain query",
			query: "that article about hnsw graphs",
		},
		{
			name:  "multiline query",
			query: "error message:\nsegmentation fault",
		},
		{
			name:  "exactly max length",
			query: strings.Repeat("q", MaxQueryLength),
		},
		{
			name:  "multibyte runes counted as runes not bytes",
			query: strings.Repeat("世", MaxQueryLength),
		},
		{
			name:    "empty",
			query:   "",
			wantErr: true,
		},
		{
			name:    "whitespace only",
			query:   "   \t\n",
			wantErr: true,
		},
		{
			name:    "one over max length",
			query:   strings.Repeat("q", MaxQueryLength+1),
			wantErr: true,
		},
		{
			name:    "invalid utf8",
			query:   "caf\xff\xfe",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckQuery(tt.query)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckQuery_ReturnsValidationCode(t *testing.T) {
	err := CheckQuery("")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestCheckOwnerID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{
			name: "tab style",
			id:   "tab-42",
		},
		{
			name: "uuid style",
			id:   "550e8400-e29b-41d4-a716-446655440000",
		},
		{
			name: "spaces allowed",
			id:   "window 3 tab 7",
		},
		{
			name: "exactly max length",
			id:   strings.Repeat("a", MaxOwnerIDLength),
		},
		{
			name:    "empty",
			id:      "",
			wantErr: true,
		},
		{
			name:    "one over max length",
			id:      strings.Repeat("a", MaxOwnerIDLength+1),
			wantErr: true,
		},
		{
			name:    "embedded newline",
			id:      "tab\n42",
			wantErr: true,
		},
		{
			name:    "embedded nul",
			id:      "tab\x0042",
			wantErr: true,
		},
		{
			name:    "embedded tab",
			id:      "tab\t42",
			wantErr: true,
		},
		{
			name:    "invalid utf8",
			id:      "tab-\xff",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckOwnerID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckTopK(t *testing.T) {
	assert.NoError(t, CheckTopK(0), "zero means default")
	assert.NoError(t, CheckTopK(1))
	assert.NoError(t, CheckTopK(10))
	assert.NoError(t, CheckTopK(MaxTopK))

	assert.Error(t, CheckTopK(-1))
	assert.Error(t, CheckTopK(MaxTopK+1))
}

func TestCheckSetting_Accepts(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"embeddings.provider", "ollama"},
		{"embeddings.provider", "ONNX"},
		{"embeddings.provider", ""},
		{"embeddings.model", "all-MiniLM-L6-v2"},
		{"embeddings.dimensions", "0"},
		{"embeddings.dimensions", "384"},
		{"embeddings.batch_size", "32"},
		{"embeddings.ollama_host", "http://remote-box:11434"},
		{"embeddings.ollama_host", ""},
		{"embeddings.model_download_timeout", "5m"},
		{"index.capacity", "0"},
		{"index.retention_days", "30"},
		{"indexer.auto_index", "true"},
		{"indexer.auto_index", "1"},
		{"indexer.settle_delay", "1500ms"},
		{"indexer.deny_schemes", "file,data,chrome-extension"},
		{"indexer.deny_schemes", ""},
		{"chunking.max_words_per_chunk", "220"},
		{"daemon.request_timeout", "30s"},
		{"daemon.log_level", "warn"},
		{"compaction.orphan_threshold", "0.25"},
		{"compaction.cooldown", "1h"},
		{"server.transport", "stdio"},
		{"telemetry.enabled", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			assert.NoError(t, CheckSetting(tt.key, tt.value))
		})
	}
}

func TestCheckSetting_Rejects(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"embeddings.provider", "bleve"},
		{"embeddings.provider", "auto"},
		{"embeddings.model", ""},
		{"embeddings.dimensions", "-1"},
		{"embeddings.dimensions", "many"},
		{"embeddings.batch_size", "0"},
		{"embeddings.ollama_host", "localhost:11434"},
		{"embeddings.ollama_host", "ftp://files.example.com"},
		{"embeddings.model_download_timeout", "-5m"},
		{"indexer.settle_delay", "soon"},
		{"indexer.deny_schemes", "9http"},
		{"indexer.deny_schemes", "fi le"},
		{"daemon.log_level", "quiet"},
		{"daemon.socket_path", "/tmp/bad\nsock"},
		{"compaction.orphan_threshold", "1.5"},
		{"server.transport", "http"},
		{"telemetry.sample_size", "0"},
		{"embeddings.quantization", "int8"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := CheckSetting(tt.key, tt.value)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
		})
	}
}

func TestCheckSetting_UnknownKeyMessage(t *testing.T) {
	err := CheckSetting("search.hybrid", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.Contains(t, err.Error(), "search.hybrid")
}

func TestCheckSetting_RejectionNamesKeyAndValue(t *testing.T) {
	err := CheckSetting("daemon.log_level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon.log_level")
	assert.Contains(t, err.Error(), `"loud"`)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "embeddings.provider", NormalizeKey("  Embeddings.Provider "))
	assert.Equal(t, "index.m", NormalizeKey("index.m"))
}

func TestHint(t *testing.T) {
	assert.NotEmpty(t, Hint("embeddings.provider"))
	assert.NotEmpty(t, Hint("Daemon.Log_Level"), "hint lookup normalizes the key")
	assert.Empty(t, Hint("no.such.key"))
}

func TestKeys(t *testing.T) {
	keys := Keys()

	assert.True(t, sort.StringsAreSorted(keys))
	assert.Len(t, keys, len(settingRules))
	assert.Contains(t, keys, "embeddings.provider")
	assert.Contains(t, keys, "index.capacity")
	assert.Contains(t, keys, "telemetry.enabled")

	// Every settable key carries a usable rule and a hint for the CLI.
	for _, k := range keys {
		assert.NotNil(t, settingRules[k].check, "rule for %s", k)
		assert.NotEmpty(t, settingRules[k].hint, "hint for %s", k)
	}
}
