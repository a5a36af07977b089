//go:build cgo

package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedConfig configures the local ONNX embedder.
type FastEmbedConfig struct {
	// Model is the embedding model name. Default: BAAI/bge-small-en-v1.5.
	Model string

	// CacheDir caches downloaded model files.
	CacheDir string

	// MaxLength is the maximum input sequence length. Default: 512.
	MaxLength int
}

// FastEmbedder generates embeddings with a local ONNX model. Requires CGO;
// non-CGO builds get the stub in fastembed_nocgo.go and should fall back to
// HashEmbedder.
type FastEmbedder struct {
	model     *fastembed.FlagEmbedding
	dimension int
	mu        sync.RWMutex
}

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

var fastEmbedDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGEBaseENV15:  768,
	fastembed.AllMiniLML6V2: 384,
}

// NewFastEmbedder initializes the ONNX model, downloading it on first use.
func NewFastEmbedder(cfg FastEmbedConfig) (*FastEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-small-en-v1.5"
	}
	model, ok := fastEmbedModels[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("unsupported embedding model %q", cfg.Model)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}

	return &FastEmbedder{model: flagEmbed, dimension: fastEmbedDimensions[model]}, nil
}

func (e *FastEmbedder) Dimension() int { return e.dimension }

// EmbedDocuments embeds texts with the "passage: " prefix BGE models expect.
func (e *FastEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	embeddings, err := e.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	return embeddings, nil
}

// EmbedQuery embeds a query with the "query: " prefix.
func (e *FastEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	embedding, err := e.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return embedding, nil
}

// Close releases the ONNX session.
func (e *FastEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		e.model.Destroy()
		e.model = nil
	}
	return nil
}
