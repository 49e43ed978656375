// Package embed turns chunk text into vectors. The Gateway wraps a concrete
// Embedder with batching, retry and rate limiting so callers see a single
// blocking call with a stable error surface.
package embed

import (
	"context"
	"errors"
	"math"
)

// ErrEmbeddingUnavailable indicates the embedding backend kept failing
// after retries. Sync treats it as fatal for the current run and leaves
// previously indexed content untouched.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// Embedder produces one vector per input text. Implementations return
// vectors of a fixed dimension reported by Dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// Normalize scales v to unit length in place. Unit vectors make cosine
// similarity a plain dot product.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
