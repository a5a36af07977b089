//go:build !cgo

package knowledge

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned when the binary was built without
// CGO. Use HashEmbedder instead.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (built without CGO)")

// FastEmbedConfig configures the local ONNX embedder.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedder is a stub for non-CGO builds.
type FastEmbedder struct{}

// NewFastEmbedder returns ErrFastEmbedNotAvailable without CGO.
func NewFastEmbedder(_ FastEmbedConfig) (*FastEmbedder, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbedder) Dimension() int { return 0 }

func (e *FastEmbedder) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbedder) Close() error { return nil }
