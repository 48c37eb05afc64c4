package embed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/logging"
)

const (
	// DefaultModelFile is the exported ONNX sentence-transformer
	// bundled by `tabsense init`.
	DefaultModelFile = "all-MiniLM-L6-v2.onnx"

	// DefaultVocabFile is the wordpiece vocabulary matching the model.
	DefaultVocabFile = "vocab.txt"

	// DefaultModelURL is the HuggingFace URL for the exported model.
	DefaultModelURL = "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/onnx/model.onnx"

	// DefaultVocabURL is the HuggingFace URL for the vocabulary.
	DefaultVocabURL = "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/vocab.txt"

	// DefaultModelSize is the approximate fp32 export size (~90MB),
	// used for progress reporting when the server omits Content-Length.
	DefaultModelSize = 90 * 1024 * 1024

	// DefaultDownloadTimeout bounds a model download when the config
	// does not set one.
	DefaultDownloadTimeout = 10 * time.Minute
)

// ModelPaths holds the on-disk locations of a downloaded model.
type ModelPaths struct {
	Model string
	Vocab string
}

// ModelManager downloads and caches the ONNX embedding model under
// <profile>/models. Concurrent processes coordinate through a file
// lock so only one performs the download.
type ModelManager struct {
	modelsDir string
	timeout   time.Duration
	mu        sync.Mutex

	// ProgressFn, when set, receives download progress callbacks.
	ProgressFn func(file string, downloaded, total int64)
}

// NewModelManager creates a model manager for the profile's models
// directory.
func NewModelManager(cfg config.EmbeddingsConfig) *ModelManager {
	timeout := cfg.ModelDownloadTimeout
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	return &ModelManager{
		modelsDir: DefaultModelsDir(),
		timeout:   timeout,
	}
}

// DefaultModelsDir returns the profile models directory.
func DefaultModelsDir() string {
	return filepath.Join(logging.ProfileDir(), "models")
}

// DefaultModelPath returns where the bundled model lives on disk.
func DefaultModelPath() string {
	return filepath.Join(DefaultModelsDir(), DefaultModelFile)
}

// DefaultVocabPath returns where the bundled vocabulary lives on disk.
func DefaultVocabPath() string {
	return filepath.Join(DefaultModelsDir(), DefaultVocabFile)
}

// Paths returns the manager's model and vocabulary paths.
func (m *ModelManager) Paths() ModelPaths {
	return ModelPaths{
		Model: filepath.Join(m.modelsDir, DefaultModelFile),
		Vocab: filepath.Join(m.modelsDir, DefaultVocabFile),
	}
}

// ModelExists checks whether both model files are present and
// non-empty.
func (m *ModelManager) ModelExists() bool {
	paths := m.Paths()
	return fileNonEmpty(paths.Model) && fileNonEmpty(paths.Vocab)
}

// EnsureModel makes the model available, downloading missing files.
// Safe to call from multiple processes; the download happens once.
func (m *ModelManager) EnsureModel(ctx context.Context) (ModelPaths, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := m.Paths()
	if fileNonEmpty(paths.Model) && fileNonEmpty(paths.Vocab) {
		return paths, nil
	}

	if err := os.MkdirAll(m.modelsDir, 0o755); err != nil {
		return ModelPaths{}, fmt.Errorf("failed to create models directory: %w", err)
	}

	lock := NewFileLock(m.modelsDir)
	if err := lock.Lock(); err != nil {
		return ModelPaths{}, fmt.Errorf("failed to acquire download lock: %w", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to release download lock", slog.Any("error", err))
		}
	}()

	// Another process may have finished while we waited on the lock.
	if fileNonEmpty(paths.Model) && fileNonEmpty(paths.Vocab) {
		return paths, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if !fileNonEmpty(paths.Vocab) {
		err := DownloadWithRetry(ctx, DefaultRetryConfig(), func() error {
			return m.downloadFile(ctx, DefaultVocabURL, paths.Vocab, 0)
		})
		if err != nil {
			return ModelPaths{}, fmt.Errorf("failed to download vocabulary: %w", err)
		}
	}

	if !fileNonEmpty(paths.Model) {
		slog.Info("downloading embedding model",
			slog.String("file", DefaultModelFile),
			slog.String("dir", m.modelsDir))
		err := DownloadWithRetry(ctx, DefaultRetryConfig(), func() error {
			return m.downloadFile(ctx, DefaultModelURL, paths.Model, DefaultModelSize)
		})
		if err != nil {
			return ModelPaths{}, fmt.Errorf("failed to download model: %w", err)
		}
	}

	return paths, nil
}

// DeleteModel removes the cached model files.
func (m *ModelManager) DeleteModel() error {
	paths := m.Paths()
	if err := os.Remove(paths.Model); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(paths.Vocab); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// downloadFile fetches url into destPath via a temp file and atomic
// rename, so a partial download never masquerades as a model.
func (m *ModelManager) downloadFile(ctx context.Context, url, destPath string, fallbackSize int64) error {
	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "tabsense/1.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	totalSize := resp.ContentLength
	if totalSize <= 0 {
		totalSize = fallbackSize
	}

	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write: %w", writeErr)
			}
			downloaded += int64(n)
			if m.ProgressFn != nil {
				m.ProgressFn(filepath.Base(destPath), downloaded, totalSize)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("failed to read: %w", readErr)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
