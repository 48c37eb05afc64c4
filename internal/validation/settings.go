package validation

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tabsense/tabsense/internal/errors"
)

// CheckSetting validates one config value for `tabsense config set`
// before it is written to the profile's config file. Rules are
// per-key; cross-key constraints (ef_construction >= m, chunk overlap
// below chunk size) stay in config.Validate, which runs on the merged
// file before anything is persisted.
func CheckSetting(key, value string) error {
	rule, ok := settingRules[NormalizeKey(key)]
	if !ok {
		return errors.ValidationError(fmt.Sprintf("unknown config key %q", key), nil)
	}
	if err := rule.check(value); err != nil {
		return errors.ValidationError(fmt.Sprintf("cannot set %s to %q: %v", key, value, err), err)
	}
	return nil
}

// NormalizeKey canonicalizes a config key as typed on the command
// line.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Hint describes the accepted values for a config key, or "" when the
// key is unknown. `tabsense config set` prints it alongside a
// rejection.
func Hint(key string) string {
	return settingRules[NormalizeKey(key)].hint
}

// Keys returns every settable config key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(settingRules))
	for k := range settingRules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type settingRule struct {
	check func(value string) error
	hint  string
}

var settingRules = map[string]settingRule{
	"embeddings.provider": {
		check: optional(enumOf("onnx", "ollama", "static")),
		hint:  "onnx, ollama, static, or empty for auto-detection",
	},
	"embeddings.model":                  {nonEmptyValue, "model name, e.g. all-MiniLM-L6-v2"},
	"embeddings.dimensions":             {intAtLeast(0), "0 for auto-detect, or the provider's vector width"},
	"embeddings.batch_size":             {intAtLeast(1), "texts per embedding call"},
	"embeddings.model_path":             {pathValue, "path to the exported model file, empty for the default"},
	"embeddings.tokenizer_path":         {pathValue, "path to the vocabulary file, empty for the default"},
	"embeddings.ollama_host":            {optional(httpURL), "http(s) URL, empty for http://localhost:11434"},
	"embeddings.model_download_timeout": {durationValue, "duration like 5m"},
	"embeddings.token_cache_size":       {intAtLeast(1), "tokenization memo entries"},
	"embeddings.embedding_cache_size":   {intAtLeast(1), "embedding memo entries"},

	"index.capacity":        {intAtLeast(0), "documents before oldest-first eviction, 0 to disable"},
	"index.m":               {intAtLeast(1), "HNSW connectivity"},
	"index.ef_construction": {intAtLeast(1), "HNSW build-time beam width"},
	"index.ef_search":       {intAtLeast(1), "HNSW query-time beam width"},
	"index.retention_days":  {intAtLeast(0), "days before age eviction, 0 to disable"},
	"index.auto_cleanup":    {boolValue, "true or false"},
	"index.persist_every":   {intAtLeast(1), "insertions between graph snapshots"},

	"indexer.auto_index":         {boolValue, "true or false"},
	"indexer.max_chunks_per_doc": {intAtLeast(1), "chunk cap per document"},
	"indexer.settle_delay":       {durationValue, "duration like 2s"},
	"indexer.dedup_overfetch":    {intAtLeast(1), "overfetch multiplier for deduplication"},
	"indexer.skip_duplicates":    {boolValue, "true or false"},
	"indexer.deny_schemes":       {schemeList, "comma-separated URL schemes, e.g. file,data"},

	"chunking.max_words_per_chunk":  {intAtLeast(1), "words per chunk"},
	"chunking.sentence_overlap":     {intAtLeast(0), "sentences carried between chunks"},
	"chunking.window_overlap_words": {intAtLeast(0), "overlap for the word-window fallback"},
	"chunking.min_chunk_chars":      {intAtLeast(0), "chunks shorter than this are dropped"},

	"daemon.socket_path":     {pathValue, "Unix socket path, empty for <profile>/daemon.sock"},
	"daemon.request_timeout": {durationValue, "duration like 30s"},
	"daemon.log_level":       {enumOf("debug", "info", "warn", "error"), "debug, info, warn, or error"},

	"compaction.enabled":          {boolValue, "true or false"},
	"compaction.orphan_threshold": {ratioValue, "orphan ratio between 0 and 1"},
	"compaction.min_orphan_count": {intAtLeast(0), "minimum orphans before compaction"},
	"compaction.idle_timeout":     {durationValue, "duration like 30s"},
	"compaction.cooldown":         {durationValue, "duration like 1h"},

	"server.transport": {enumOf("stdio"), "stdio"},
	"server.log_level": {enumOf("debug", "info", "warn", "error"), "debug, info, warn, or error"},

	"telemetry.enabled":     {boolValue, "true or false"},
	"telemetry.sample_size": {intAtLeast(1), "recent queries kept for latency percentiles"},
}

// optional passes an empty value through; config semantics treat empty
// as "use the default".
func optional(check func(string) error) func(string) error {
	return func(value string) error {
		if value == "" {
			return nil
		}
		return check(value)
	}
}

func enumOf(allowed ...string) func(string) error {
	return func(value string) error {
		lower := strings.ToLower(value)
		for _, a := range allowed {
			if lower == a {
				return nil
			}
		}
		return fmt.Errorf("must be %s", joinQuoted(allowed))
	}
}

func intAtLeast(min int) func(string) error {
	return func(value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("must be a whole number")
		}
		if n < min {
			return fmt.Errorf("must be at least %d", min)
		}
		return nil
	}
}

func boolValue(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func durationValue(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration like 2s or 5m")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func ratioValue(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}

func httpURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return fmt.Errorf("must be an http or https URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https, not %s", u.Scheme)
	}
	return nil
}

func nonEmptyValue(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

// pathValue accepts any printable path, including empty for the
// built-in default. Existence is not checked here; the file may be
// created later.
func pathValue(value string) error {
	for _, r := range value {
		if unicode.IsControl(r) {
			return fmt.Errorf("contains control characters")
		}
	}
	return nil
}

// schemeList validates a comma-separated list of URL schemes against
// the RFC 3986 scheme grammar.
func schemeList(value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	for _, s := range strings.Split(value, ",") {
		if err := checkScheme(strings.TrimSpace(s)); err != nil {
			return err
		}
	}
	return nil
}

func checkScheme(s string) error {
	if s == "" {
		return fmt.Errorf("empty scheme in list")
	}
	for i, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return fmt.Errorf("%q is not a valid URL scheme", s)
		}
	}
	return nil
}

func joinQuoted(vals []string) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = "'" + v + "'"
	}
	switch len(quoted) {
	case 1:
		return quoted[0]
	case 2:
		return quoted[0] + " or " + quoted[1]
	default:
		return strings.Join(quoted[:len(quoted)-1], ", ") + ", or " + quoted[len(quoted)-1]
	}
}
