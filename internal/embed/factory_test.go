package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsense/tabsense/internal/config"
)

// ============================================================================
// Provider Parsing
// ============================================================================

func TestParseProvider(t *testing.T) {
	tests := []struct {
		input string
		want  ProviderType
	}{
		{"onnx", ProviderONNX},
		{"ONNX", ProviderONNX},
		{"ollama", ProviderOllama},
		{"Ollama", ProviderOllama},
		{"static", ProviderStatic},
		{" static ", ProviderStatic},
		{"", ProviderAuto},
		{"something-else", ProviderAuto},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseProvider(tt.input))
		})
	}
}

func TestProviderType_String(t *testing.T) {
	assert.Equal(t, "onnx", ProviderONNX.String())
	assert.Equal(t, "ollama", ProviderOllama.String())
	assert.Equal(t, "static", ProviderStatic.String())
	assert.Equal(t, "auto", ProviderAuto.String())
}

func TestIsValidProvider(t *testing.T) {
	assert.True(t, IsValidProvider("onnx"))
	assert.True(t, IsValidProvider("OLLAMA"))
	assert.True(t, IsValidProvider("static"))

	assert.False(t, IsValidProvider(""))
	assert.False(t, IsValidProvider("mlx"))
	assert.False(t, IsValidProvider("openai"))
}

func TestValidProviders(t *testing.T) {
	providers := ValidProviders()
	assert.ElementsMatch(t, []string{"onnx", "ollama", "static"}, providers)
}

// ============================================================================
// Ollama Model Name Detection
// ============================================================================

func TestIsOllamaModelName(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"all-minilm", true},
		{"nomic-embed-text", true},
		{"qwen3-embedding:8b", true},
		{"mxbai-embed-large:latest", true},
		{"all-MiniLM-L6-v2", false},
		{"model.onnx", false},
		{"nomic-embed-text-v1.5.Q8_0.gguf", false},
		{"bge-small-en-v1.5", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, isOllamaModelName(tt.model))
		})
	}
}

// ============================================================================
// Construction
// ============================================================================

func TestNewEmbedder_StaticProvider(t *testing.T) {
	// Given: static provider selected explicitly
	cfg := config.EmbeddingsConfig{Provider: "static"}

	// When: I create an embedder
	embedder, err := NewEmbedder(context.Background(), cfg)

	// Then: the hash-based embedder comes back
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	_, ok := embedder.(*StaticEmbedder)
	assert.True(t, ok, "expected *StaticEmbedder, got %T", embedder)
	assert.Equal(t, StaticDimensions, embedder.Dimensions())
}

func TestNewEmbedder_ONNXWithoutCGO_FailsHard(t *testing.T) {
	if ONNXAvailable() {
		t.Skip("built with CGO; explicit onnx selection would attempt a model load")
	}

	// Given: onnx selected explicitly in a build without CGO
	cfg := config.EmbeddingsConfig{Provider: "onnx"}

	// When: I create an embedder
	_, err := NewEmbedder(context.Background(), cfg)

	// Then: the error names the problem instead of silently substituting
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CGO")
}

func TestNewEmbedder_AutoFallsBackToStatic(t *testing.T) {
	// Given: no model on disk and no reachable Ollama server
	t.Setenv("TABSENSE_PROFILE", t.TempDir())
	cfg := config.EmbeddingsConfig{
		Provider:   "",
		OllamaHost: "http://127.0.0.1:1",
	}

	// When: auto-detection runs
	embedder, err := NewEmbedder(context.Background(), cfg)

	// Then: the static fallback is selected rather than failing
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	_, ok := embedder.(*StaticEmbedder)
	assert.True(t, ok, "expected static fallback, got %T", embedder)
}

func TestGetInfo_Static(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	info := GetInfo(context.Background(), embedder)

	assert.Equal(t, ProviderStatic, info.Provider)
	assert.Equal(t, "static", info.Model)
	assert.Equal(t, StaticDimensions, info.Dimensions)
	assert.True(t, info.Available)
}

func TestMustNewEmbedder_PanicsOnFailure(t *testing.T) {
	if ONNXAvailable() {
		t.Skip("built with CGO; explicit onnx selection would attempt a model load")
	}

	assert.Panics(t, func() {
		MustNewEmbedder(context.Background(), config.EmbeddingsConfig{Provider: "onnx"})
	})
}
