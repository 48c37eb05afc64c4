package embed

import (
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"

	"github.com/tabsense/tabsense/internal/errors"
)

// Similarity computes the cosine similarity of two embeddings.
// Both vectors must have the same non-zero length. The result is in
// [-1, 1]; engine outputs are L2-normalized, so for those this is the
// plain dot product.
func Similarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, errors.New(errors.ErrCodeInvalidVector, "cannot compare empty vectors", nil)
	}
	if len(a) != len(b) {
		return 0, errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("vector dimensions differ: %d vs %d", len(a), len(b)), nil)
	}

	na := norm(a)
	nb := norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}

	return float64(dotProduct(a, b)) / (na * nb), nil
}

// SimilarityBatch computes the cosine similarity of query against every
// candidate. Candidates with a mismatched dimension fail the whole call.
func SimilarityBatch(query []float32, candidates [][]float32) ([]float64, error) {
	if len(query) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidVector, "cannot compare empty query vector", nil)
	}

	results := make([]float64, len(candidates))
	nq := norm(query)
	for i, candidate := range candidates {
		if len(candidate) != len(query) {
			return nil, errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("candidate %d dimension %d differs from query dimension %d", i, len(candidate), len(query)), nil)
		}
		nc := norm(candidate)
		if nq == 0 || nc == 0 {
			results[i] = 0
			continue
		}
		results[i] = float64(dotProduct(query, candidate)) / (nq * nc)
	}
	return results, nil
}

// SimilarityMatrix computes pairwise cosine similarities between two
// vector sets: result[i][j] = similarity(a[i], b[j]).
func SimilarityMatrix(a, b [][]float32) ([][]float64, error) {
	matrix := make([][]float64, len(a))
	for i, row := range a {
		similarities, err := SimilarityBatch(row, b)
		if err != nil {
			return nil, err
		}
		matrix[i] = similarities
	}
	return matrix, nil
}

// dotProduct prefers the SIMD-accelerated path and falls back to the
// scalar loop if it fails. vek dispatches to vector instructions when
// the CPU supports them and to its own scalar code otherwise; the
// recover guard covers the remaining failure modes so callers always
// get a result.
func dotProduct(a, b []float32) (dot float32) {
	defer func() {
		if r := recover(); r != nil {
			dot = scalarDot(a, b)
		}
	}()
	return vek32.Dot(a, b)
}

// scalarDot is the scalar reference implementation. The accelerated
// path must agree with it within 1e-5.
func scalarDot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// norm returns the Euclidean norm.
func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
