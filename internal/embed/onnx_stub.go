//go:build !cgo
// +build !cgo

package embed

import (
	"context"
	"errors"
)

// ONNXEmbedder stub type when built without CGO (see onnx.go for the
// real implementation).
type ONNXEmbedder struct{}

var errONNXUnavailable = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime installed")

// ONNXAvailable reports whether this build can host an ONNX session.
func ONNXAvailable() bool { return false }

// NewONNXEmbedder returns an error when built without CGO.
func NewONNXEmbedder(_, _ string, _ Tokenizer, _, _ int) (*ONNXEmbedder, error) {
	return nil, errONNXUnavailable
}

// Embed always fails on non-CGO builds.
func (e *ONNXEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, errONNXUnavailable
}

// EmbedBatch always fails on non-CGO builds.
func (e *ONNXEmbedder) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, errONNXUnavailable
}

// Dimensions returns zero on non-CGO builds.
func (e *ONNXEmbedder) Dimensions() int { return 0 }

// ModelName returns the stub identifier.
func (e *ONNXEmbedder) ModelName() string { return "onnx-unavailable" }

// Available is always false on non-CGO builds.
func (e *ONNXEmbedder) Available(_ context.Context) bool { return false }

// Close is a no-op on non-CGO builds.
func (e *ONNXEmbedder) Close() error { return nil }
