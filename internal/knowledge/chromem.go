package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const learningsCollection = "dispatchd_learnings"

// ChromemIndex is a SimilarityIndex backed by the chromem-go embedded
// vector database. Persistent, pure Go, no external service: the same
// default the store's keyword fallback assumes, upgraded to
// nearest-neighbor retrieval when an Embedder is available.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	logger     *zap.Logger
}

// NewChromemIndex opens (or creates) a persistent index at path.
func NewChromemIndex(path string, embedder Embedder, logger *zap.Logger) (*ChromemIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(learningsCollection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", learningsCollection, err)
	}

	logger.Info("chromem index opened",
		zap.String("path", path),
		zap.Int("dimension", embedder.Dimension()),
		zap.Int("documents", collection.Count()))

	return &ChromemIndex{db: db, collection: collection, embedder: embedder, logger: logger}, nil
}

// Upsert adds or replaces a learning document.
func (c *ChromemIndex) Upsert(ctx context.Context, l Learning) error {
	doc := chromem.Document{
		ID:      l.ID,
		Content: l.Summary + "\n\n" + l.Content,
		Metadata: map[string]string{
			"category":   l.Category,
			"summary":    l.Summary,
			"tags":       strings.Join(l.Tags, ","),
			"source":     l.Source,
			"source_ids": strings.Join(l.SourceIDs, ","),
			"created_at": l.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := c.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("adding document %s: %w", l.ID, err)
	}
	return nil
}

// Query performs similarity search, filtering by tags and threshold.
func (c *ChromemIndex) Query(ctx context.Context, query string, tags []string, k int, threshold float64) ([]Excerpt, error) {
	count := c.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}

	// Over-fetch so a tag filter applied post-search still fills k slots.
	n := k * 4
	if n > count {
		n = count
	}

	results, err := c.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	var out []Excerpt
	for _, r := range results {
		if float64(r.Similarity) < threshold {
			continue
		}
		l := resultToLearning(r)
		if !hasAnyTag(l, tags) {
			continue
		}
		out = append(out, Excerpt{Learning: l, Score: float64(r.Similarity)})
	}
	rankExcerpts(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Remove deletes learnings by ID.
func (c *ChromemIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

func resultToLearning(r chromem.Result) Learning {
	l := Learning{
		ID:       r.ID,
		Category: r.Metadata["category"],
		Summary:  r.Metadata["summary"],
		Source:   r.Metadata["source"],
	}

	// Content was stored as "summary\n\ncontent"; strip the prefix back off.
	l.Content = r.Content
	if prefix := l.Summary + "\n\n"; strings.HasPrefix(r.Content, prefix) {
		l.Content = strings.TrimPrefix(r.Content, prefix)
	}

	if tags := r.Metadata["tags"]; tags != "" {
		l.Tags = strings.Split(tags, ",")
	}
	if srcs := r.Metadata["source_ids"]; srcs != "" {
		l.SourceIDs = strings.Split(srcs, ",")
	}
	if ts, err := time.Parse(time.RFC3339Nano, r.Metadata["created_at"]); err == nil {
		l.CreatedAt = ts
	}
	return l
}
