package preflight

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tabsense/tabsense/internal/config"
)

// systemLibc returns a library every supported platform ships, the
// same one the probe design was validated against.
func systemLibc(t *testing.T) string {
	t.Helper()
	switch runtime.GOOS {
	case "darwin":
		return "/usr/lib/libSystem.B.dylib"
	case "linux":
		return "libc.so.6"
	default:
		t.Skipf("no known system library for %s", runtime.GOOS)
		return ""
	}
}

func TestProbeLibrary_SystemLibc(t *testing.T) {
	// Given: the platform libc
	lib := systemLibc(t)

	// When: probing it for a symbol every libc exports
	err := probeLibrary(lib, "getpid")

	// Then: the probe succeeds
	assert.NoError(t, err)
}

func TestProbeLibrary_NoSymbolCheck(t *testing.T) {
	// Given: the platform libc
	lib := systemLibc(t)

	// When: probing without a symbol
	err := probeLibrary(lib, "")

	// Then: the dlopen alone succeeds
	assert.NoError(t, err)
}

func TestProbeLibrary_MissingLibrary(t *testing.T) {
	// When: probing a library that cannot exist
	err := probeLibrary("libtabsense-no-such-library.so", "")

	// Then: the probe fails
	assert.Error(t, err)
}

func TestProbeLibrary_MissingSymbol(t *testing.T) {
	// Given: the platform libc, which loads but is not ONNX Runtime
	lib := systemLibc(t)

	// When: probing it for the ONNX Runtime entry point
	err := probeLibrary(lib, onnxProbeSymbol)

	// Then: the symbol check rejects it
	assert.Error(t, err)
	assert.Contains(t, err.Error(), onnxProbeSymbol)
}

func TestChecker_OnnxRuntimeResult_Classification(t *testing.T) {
	probeErr := errors.New("dlopen failed")

	tests := []struct {
		name       string
		provider   string
		lib        string
		probeErr   error
		cgoCapable bool
		wantStatus CheckStatus
		wantReq    bool
	}{
		{
			name:       "auto mode with missing library warns",
			provider:   "",
			probeErr:   probeErr,
			cgoCapable: true,
			wantStatus: StatusWarn,
			wantReq:    false,
		},
		{
			name:       "pinned onnx with missing library fails",
			provider:   "onnx",
			probeErr:   probeErr,
			cgoCapable: true,
			wantStatus: StatusFail,
			wantReq:    true,
		},
		{
			name:       "auto mode with loadable library passes",
			provider:   "",
			lib:        "onnxruntime.so",
			cgoCapable: true,
			wantStatus: StatusPass,
			wantReq:    false,
		},
		{
			name:       "pinned onnx with loadable library passes",
			provider:   "onnx",
			lib:        "onnxruntime.so",
			cgoCapable: true,
			wantStatus: StatusPass,
			wantReq:    true,
		},
		{
			name:       "loadable library without cgo warns",
			provider:   "",
			lib:        "onnxruntime.so",
			cgoCapable: false,
			wantStatus: StatusWarn,
			wantReq:    false,
		},
		{
			name:       "pinned onnx without cgo fails",
			provider:   "onnx",
			lib:        "onnxruntime.so",
			cgoCapable: false,
			wantStatus: StatusFail,
			wantReq:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(WithEmbeddings(config.EmbeddingsConfig{Provider: tt.provider}))
			result := checker.onnxRuntimeResult(tt.lib, tt.probeErr, tt.cgoCapable)

			assert.Equal(t, "onnx_runtime", result.Name)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantReq, result.Required)
			assert.NotEmpty(t, result.Message)
		})
	}
}

func TestChecker_CheckONNXRuntime_ResultShape(t *testing.T) {
	// The library may or may not be installed on the test machine, so
	// only the result shape is asserted.
	checker := New()
	result := checker.CheckONNXRuntime()

	assert.Equal(t, "onnx_runtime", result.Name)
	assert.False(t, result.Required)
	assert.NotEmpty(t, result.Message)
}

func TestOnnxRuntimeCandidates_PlatformSpecific(t *testing.T) {
	candidates := onnxRuntimeCandidates()
	assert.NotEmpty(t, candidates)

	for _, name := range candidates {
		if runtime.GOOS == "darwin" {
			assert.Contains(t, name, ".dylib")
		} else {
			assert.Contains(t, name, ".so")
		}
	}
}
