package knowledge

import (
	"context"
	"sort"
	"strings"
)

// SimilarityIndex ranks learnings against a free-text query.
//
// The store works against this interface so keyword matching and semantic
// nearest-neighbor retrieval are interchangeable. Implementations must
// return results ordered by descending score, ties broken by recency
// (newest first).
type SimilarityIndex interface {
	// Upsert adds or replaces a learning in the index.
	Upsert(ctx context.Context, l Learning) error

	// Query returns up to k learnings relevant to the query, optionally
	// restricted to those carrying at least one of the given tags.
	// Results below threshold are omitted.
	Query(ctx context.Context, query string, tags []string, k int, threshold float64) ([]Excerpt, error)

	// Remove deletes learnings by ID. Unknown IDs are ignored.
	Remove(ctx context.Context, ids []string) error
}

// queryTokens tokenizes retrieval queries. Shorter threshold than file
// scoring so terse domain terms ("sql", "xss") still match tags.
func queryTokens(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(w) >= 3 {
			out[w] = true
		}
	}
	return out
}

// KeywordScore is the minimum-bar relevance function: token overlap between
// query and summary+content, plus a strong bonus per tag that appears in
// the query. Range is not normalized; callers compare scores relatively.
func KeywordScore(l Learning, query string) float64 {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return 0
	}

	score := 0.0
	text := queryTokens(l.Summary + " " + l.Content)
	for tok := range tokens {
		if text[tok] {
			score += 1.0
		}
	}
	for _, tag := range l.Tags {
		if tokens[strings.ToLower(tag)] {
			score += 2.0
		}
	}
	return score
}

func hasAnyTag(l Learning, tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	have := make(map[string]bool, len(l.Tags))
	for _, t := range l.Tags {
		have[strings.ToLower(t)] = true
	}
	for _, t := range tags {
		if have[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// rankExcerpts orders by descending score, then recency (newest first),
// then ID for a total order.
func rankExcerpts(out []Excerpt) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Learning.CreatedAt.Equal(out[j].Learning.CreatedAt) {
			return out[i].Learning.CreatedAt.After(out[j].Learning.CreatedAt)
		}
		return out[i].Learning.ID < out[j].Learning.ID
	})
}
