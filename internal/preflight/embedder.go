package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tabsense/tabsense/internal/embed"
)

// MinModelDiskSpaceBytes is the free space wanted before the model
// download (~90MB model plus headroom for the index files).
const MinModelDiskSpaceBytes = 256 * 1024 * 1024

// ollamaProbeTimeout bounds the Ollama reachability probe. Doctor
// should answer quickly even when nothing listens on the port.
const ollamaProbeTimeout = 2 * time.Second

// CheckEmbedder verifies the configured embedding backend is usable:
// model files on disk for onnx, a reachable server for ollama, nothing
// at all for static.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	switch strings.ToLower(c.embeddings.Provider) {
	case "static":
		return CheckResult{
			Name:    "embedder",
			Status:  StatusPass,
			Message: "Static embedder ready (hash-based, no model needed)",
		}
	case "ollama":
		return c.checkOllamaReachable(ctx)
	default:
		// onnx or auto-detection, both want the exported model on disk.
		return c.checkModelFilesAt(embed.DefaultModelsDir())
	}
}

// checkModelFilesAt reports whether the exported model and vocabulary
// are present under dir. Split out so tests can point at a temp dir.
func (c *Checker) checkModelFilesAt(dir string) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false, // Auto-detection falls back to ollama or static
	}

	modelInfo, modelErr := os.Stat(filepath.Join(dir, embed.DefaultModelFile))
	_, vocabErr := os.Stat(filepath.Join(dir, embed.DefaultVocabFile))

	if modelErr != nil || vocabErr != nil {
		result.Status = StatusWarn
		result.Message = "Model not downloaded (run 'tabsense init' to fetch it)"
		result.Details = fmt.Sprintf("Model directory: %s", dir)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("Model downloaded (%s)", formatBytes(uint64(modelInfo.Size())))
	result.Details = fmt.Sprintf("Model directory: %s", dir)
	return result
}

// checkOllamaReachable probes the Ollama API with a short timeout.
// A pinned ollama provider cannot fall back, so unreachability is a
// critical failure here.
func (c *Checker) checkOllamaReachable(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: true,
	}

	host := c.embeddings.OllamaHost
	if host == "" {
		host = embed.DefaultOllamaHost
	}

	if c.offline {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Skipped in offline mode (expecting Ollama at %s)", host)
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	url := strings.TrimRight(host, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("Invalid Ollama host %q: %v", host, err)
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("Ollama not reachable at %s", host)
		result.Details = "Start it with 'ollama serve' or set embeddings.provider to static"
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("Ollama at %s answered %s", host, resp.Status)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("Ollama reachable at %s", host)
	return result
}

// CheckEmbedderDiskSpace checks there is room for the model download
// under the profile directory.
func (c *Checker) CheckEmbedderDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "embedder_disk_space",
		Required: false,
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Cannot check disk space: %v", err)
		return result
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)

	if availableBytes < MinModelDiskSpaceBytes {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s available (model download needs ~90 MB)", formatBytes(availableBytes))
		result.Details = "Free up disk space or set embeddings.provider to static"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s available for model download", formatBytes(availableBytes))
	return result
}
