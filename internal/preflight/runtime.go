package preflight

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/ebitengine/purego"

	"github.com/tabsense/tabsense/internal/embed"
)

// onnxProbeSymbol is the entry point every onnxruntime build exports.
// Resolving it proves the loaded library really is ONNX Runtime and
// not a name collision.
const onnxProbeSymbol = "OrtGetApiBase"

// onnxRuntimeCandidates returns the shared library names tried when
// probing for ONNX Runtime. Plain names go through the system loader,
// matching how the embedding engine resolves the library.
func onnxRuntimeCandidates() []string {
	if runtime.GOOS == "darwin" {
		return []string{"onnxruntime.dylib", "libonnxruntime.dylib"}
	}
	return []string{"onnxruntime.so", "libonnxruntime.so", "libonnxruntime.so.1"}
}

// CheckONNXRuntime probes for the onnxruntime shared library with a
// dlopen, without spinning up an inference session. The probe needs no
// CGO, so even a CGO-less binary can report whether the library is
// installed.
func (c *Checker) CheckONNXRuntime() CheckResult {
	lib, err := probeONNXRuntime()
	return c.onnxRuntimeResult(lib, err, embed.ONNXAvailable())
}

// probeONNXRuntime tries each candidate name and returns the first
// that loads and exports the ONNX Runtime API entry point.
func probeONNXRuntime() (string, error) {
	var lastErr error
	for _, name := range onnxRuntimeCandidates() {
		err := probeLibrary(name, onnxProbeSymbol)
		if err == nil {
			return name, nil
		}
		lastErr = err
	}
	return "", lastErr
}

// probeLibrary dlopens a library, optionally resolves a symbol, and
// closes it again.
func probeLibrary(name, symbol string) error {
	lib, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return err
	}
	defer func() { _ = purego.Dlclose(lib) }()

	if symbol == "" {
		return nil
	}
	if _, err := purego.Dlsym(lib, symbol); err != nil {
		return fmt.Errorf("loaded %s but symbol %s is missing: %w", name, symbol, err)
	}
	return nil
}

// onnxRuntimeResult classifies the probe outcome. The check is only
// required when the config pins the onnx provider; in auto mode a
// missing runtime just means the engine falls back to Ollama or the
// static embedder.
func (c *Checker) onnxRuntimeResult(lib string, probeErr error, cgoCapable bool) CheckResult {
	result := CheckResult{
		Name:     "onnx_runtime",
		Required: strings.EqualFold(c.embeddings.Provider, "onnx"),
	}

	switch {
	case probeErr != nil && result.Required:
		result.Status = StatusFail
		result.Message = "ONNX Runtime library not found"
		result.Details = "Install onnxruntime or set embeddings.provider to ollama or static"
	case probeErr != nil:
		result.Status = StatusWarn
		result.Message = "ONNX Runtime library not found (auto-detection will try Ollama, then static)"
	case !cgoCapable && result.Required:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is installed but this build cannot load it (compiled without CGO)", lib)
		result.Details = "Install a CGO-enabled tabsense build or set embeddings.provider to ollama or static"
	case !cgoCapable:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s is installed but this build cannot load it (compiled without CGO)", lib)
	default:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("ONNX Runtime loadable (%s)", lib)
	}
	return result
}
