package search

import (
	"context"
	"hash/fnv"
	"math"

	chromem "github.com/philippgille/chromem-go"

	"github.com/starford/vaultkeeper/internal/index"
)

// DefaultDimensions is the vector size of the hashing embedder.
const DefaultDimensions = 512

// HashingEmbedder returns an offline embedding function: every search term
// is hashed into one of dims buckets with a hash-derived sign and the
// vector is normalized. Texts sharing terms score high; nothing leaves the
// process.
func HashingEmbedder(dims int) chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		terms := index.Terms(text)
		if len(terms) == 0 {
			vec[0] = 1
			return vec, nil
		}
		for _, t := range terms {
			h := fnv.New64a()
			h.Write([]byte(t))
			sum := h.Sum64()
			sign := float32(1)
			if sum>>63 == 1 {
				sign = -1
			}
			vec[sum%uint64(dims)] += sign
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
		return vec, nil
	}
}
