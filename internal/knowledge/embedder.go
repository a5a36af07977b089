package knowledge

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder generates vector embeddings from text for semantic retrieval.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int
}

// hashDimension matches the bge-small family so a hash index can later be
// swapped for a real model without re-creating collections.
const hashDimension = 384

// HashEmbedder is a deterministic, dependency-free embedder: each token
// hashes into a bucket of a fixed-size vector, L2-normalized. It captures
// keyword overlap (the minimum retrieval bar) rather than semantics, runs
// offline, and always produces identical vectors for identical text.
type HashEmbedder struct{}

// NewHashEmbedder creates the deterministic token-hash embedder.
func NewHashEmbedder() *HashEmbedder { return &HashEmbedder{} }

func (e *HashEmbedder) Dimension() int { return hashDimension }

func (e *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = embedTokens(t)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return embedTokens(text), nil
}

func embedTokens(text string) []float32 {
	vec := make([]float32, hashDimension)
	for tok := range queryTokens(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%hashDimension] += 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
