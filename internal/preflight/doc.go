// Package preflight validates the host environment before the daemon
// starts indexing.
//
// The package checks:
//   - Disk space under the profile directory (minimum 100MB)
//   - Available memory (minimum 1GB)
//   - Write permissions in the profile directory
//   - File descriptor limits (minimum 1024)
//   - The onnxruntime shared library (dlopen probe)
//   - The configured embedding backend (model files or Ollama reachability)
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(preflight.WithEmbeddings(cfg.Embeddings))
//	results := checker.RunAll(ctx, logging.ProfileDir())
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
