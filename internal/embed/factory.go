package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tabsense/tabsense/internal/config"
)

// ProviderType selects an embedding backend.
type ProviderType string

const (
	// ProviderONNX runs the bundled sentence-transformer through ONNX
	// Runtime. Requires a CGO build and the exported model on disk.
	ProviderONNX ProviderType = "onnx"

	// ProviderOllama uses a local Ollama server for embeddings.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses deterministic hash-based embeddings. Always
	// available; quality is well below a real model, but search still
	// ranks lexically similar pages together.
	ProviderStatic ProviderType = "static"

	// ProviderAuto probes onnx, then ollama, then falls back to static.
	ProviderAuto ProviderType = ""
)

// NewEmbedder creates an embedder for the resolved configuration.
// Provider selection and env overrides are settled by the config layer
// before this is called; an explicitly configured provider fails hard
// when unavailable rather than silently substituting another backend.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	switch ParseProvider(cfg.Provider) {
	case ProviderONNX:
		return newONNXFromConfig(ctx, cfg)
	case ProviderOllama:
		return newOllamaFromConfig(ctx, cfg)
	case ProviderStatic:
		return NewStaticEmbedder(), nil
	default:
		return detectEmbedder(ctx, cfg)
	}
}

// detectEmbedder picks the best available backend. The onnx probe only
// accepts a model already on disk; auto-detection never blocks startup
// on a model download (run `tabsense init` or set provider: onnx for
// that).
func detectEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	if ONNXAvailable() && modelOnDisk(cfg) {
		embedder, err := newONNXFromConfig(ctx, cfg)
		if err == nil {
			slog.Info("auto-detected onnx embedding provider",
				slog.String("model", embedder.ModelName()))
			return embedder, nil
		}
		slog.Warn("onnx model present but failed to load, trying ollama", slog.Any("error", err))
	}

	if embedder, err := newOllamaFromConfig(ctx, cfg); err == nil {
		slog.Info("auto-detected ollama embedding provider",
			slog.String("model", embedder.ModelName()))
		return embedder, nil
	}

	slog.Warn("no embedding model available, using hash-based fallback",
		slog.String("hint", "run 'tabsense init' to download the bundled model, or start ollama"))
	return NewStaticEmbedder(), nil
}

func newONNXFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	if !ONNXAvailable() {
		return nil, fmt.Errorf("onnx provider unavailable: built without CGO\n\nTo fix:\n  1. Install a CGO-enabled build of tabsense\n  2. Or use Ollama: set embeddings.provider: ollama\n  3. Or use hash-based search: set embeddings.provider: static")
	}

	modelPath := cfg.ModelPath
	vocabPath := cfg.TokenizerPath
	if modelPath == "" || vocabPath == "" {
		mgr := NewModelManager(cfg)
		paths, err := mgr.EnsureModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("onnx model unavailable: %w\n\nTo fix:\n  1. Run: tabsense init\n  2. Or set embeddings.model_path to an exported ONNX model", err)
		}
		if modelPath == "" {
			modelPath = paths.Model
		}
		if vocabPath == "" {
			vocabPath = paths.Vocab
		}
	}

	tokenizer, err := NewMemoTokenizer(NewWordTokenizer(), cfg.TokenCacheSize)
	if err != nil {
		return nil, err
	}

	return NewONNXEmbedder(modelPath, cfg.Model, tokenizer, cfg.Dimensions, DefaultMaxTokens)
}

func newOllamaFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	ollamaCfg := DefaultOllamaConfig()
	if cfg.OllamaHost != "" {
		ollamaCfg.Host = cfg.OllamaHost
	}
	if cfg.Model != "" && isOllamaModelName(cfg.Model) {
		ollamaCfg.Model = cfg.Model
	}
	if cfg.Dimensions > 0 {
		ollamaCfg.Dimensions = cfg.Dimensions
	}
	if cfg.BatchSize > 0 {
		ollamaCfg.BatchSize = cfg.BatchSize
	}

	embedder, err := NewOllamaEmbedder(ctx, ollamaCfg)
	if err != nil {
		return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or run 'tabsense init' to use the bundled onnx model\n  3. Or use hash-based search: set embeddings.provider: static", err)
	}
	return embedder, nil
}

// isOllamaModelName reports whether a model name can be pulled from an
// Ollama registry. Names with a tag separator always qualify; exported
// file names like all-MiniLM-L6-v2 do not.
func isOllamaModelName(model string) bool {
	if strings.Contains(model, ":") {
		return true
	}
	lower := strings.ToLower(model)
	if strings.HasSuffix(lower, ".onnx") || strings.HasSuffix(lower, ".gguf") {
		return false
	}
	// The bundled sentence-transformer names are not Ollama models.
	if strings.Contains(lower, "minilm-l") || strings.Contains(lower, "-v1.") || strings.Contains(lower, "-v2.") {
		return false
	}
	return true
}

func modelOnDisk(cfg config.EmbeddingsConfig) bool {
	modelPath := cfg.ModelPath
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	info, err := os.Stat(modelPath)
	return err == nil && info.Size() > 0
}

// ParseProvider converts a config string to a ProviderType. Unknown
// values fall back to auto-detection; Validate already rejects them at
// config load.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "onnx":
		return ProviderONNX
	case "ollama":
		return ProviderOllama
	case "static":
		return ProviderStatic
	default:
		return ProviderAuto
	}
}

// String returns the string representation of ProviderType.
func (p ProviderType) String() string {
	if p == ProviderAuto {
		return "auto"
	}
	return string(p)
}

// ValidProviders returns all selectable provider names.
func ValidProviders() []string {
	return []string{
		string(ProviderONNX),
		string(ProviderOllama),
		string(ProviderStatic),
	}
}

// IsValidProvider checks if a provider name is selectable. The empty
// string (auto) is handled by config validation separately.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo describes an embedder for status output.
type EmbedderInfo struct {
	Provider   ProviderType `json:"provider"`
	Model      string       `json:"model"`
	Dimensions int          `json:"dimensions"`
	Available  bool         `json:"available"`
}

// GetInfo inspects an embedder.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	switch embedder.(type) {
	case *ONNXEmbedder:
		info.Provider = ProviderONNX
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	case *StaticEmbedder:
		info.Provider = ProviderStatic
	default:
		info.Provider = ProviderStatic
	}
	return info
}

// MustNewEmbedder creates an embedder and panics on failure. Use only
// in tests and initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) Embedder {
	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
