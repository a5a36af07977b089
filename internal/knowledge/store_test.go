package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil, zap.NewNop())
	require.NoError(t, err)
	return s
}

func mustLearning(t *testing.T, category, summary, content string, tags ...string) *Learning {
	t.Helper()
	l, err := NewLearning(category, summary, content, "test", tags)
	require.NoError(t, err)
	return l
}

func TestSaveAndRetrieve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := mustLearning(t, "security", "Parameterize SQL queries",
		"Always bind parameters instead of string interpolation in SQL statements.",
		"sql", "security")
	id, err := s.Save(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, l.ID, id)

	got := s.Retrieve(ctx, "fix SQL injection in login", nil, 5)
	require.Len(t, got, 1)
	assert.Equal(t, l.ID, got[0].Learning.ID)
	assert.Greater(t, got[0].Score, 0.0)
}

func TestSaveValidates(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Save(context.Background(), &Learning{ID: "not-a-uuid"})
	require.Error(t, err)

	_, err = s.Save(context.Background(), nil)
	require.ErrorIs(t, err, ErrStorage)
}

func TestFilenameEncodesIDAndCategory(t *testing.T) {
	s := newTestStore(t)

	l := mustLearning(t, "Code Review", "Check error wrapping", "Wrap errors with %w.")
	_, err := s.Save(context.Background(), l)
	require.NoError(t, err)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if e.Name() == l.ID+"-code-review.json" {
			found = true
		}
	}
	assert.True(t, found, "expected record file named {id}-{category}.json")
}

func TestConcurrentSavesLoseNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l := mustLearning(t, "work",
				fmt.Sprintf("Learning number %d about goroutines", n),
				fmt.Sprintf("Worker %d codified this independently.", n),
				"concurrency")
			_, err := s.Save(ctx, l)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, workers, "every concurrent save must be retrievable")

	// Concurrent digest regeneration leaves one intact digest and no
	// stray scratch files.
	data, err := os.ReadFile(filepath.Join(s.Dir(), SummaryDocName))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Knowledge Base"))
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		name := e.Name()
		assert.False(t, name != SummaryDocName && strings.HasPrefix(name, SummaryDocName),
			"leftover digest scratch file %s", name)
	}
}

func TestRetrieveTagFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, mustLearning(t, "security", "Escape HTML output", "Escape all templated output.", "xss"))
	require.NoError(t, err)
	_, err = s.Save(ctx, mustLearning(t, "perf", "Pool database connections", "Reuse connections for database throughput.", "database"))
	require.NoError(t, err)

	got := s.Retrieve(ctx, "escape output templates database", []string{"xss"}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "Escape HTML output", got[0].Learning.Summary)
}

func TestRetrieveMissingStoreReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.RemoveAll(s.Dir()))

	got := s.Retrieve(context.Background(), "anything", nil, 5)
	assert.Empty(t, got, "retrieve on missing store must be empty, not an error")
}

func TestRetrieveMaxResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Save(ctx, mustLearning(t, "work",
			fmt.Sprintf("Caching strategy variant %d", i),
			"Cache expensive lookups near the caller.", "cache"))
		require.NoError(t, err)
	}

	got := s.Retrieve(ctx, "caching strategy", nil, 3)
	assert.Len(t, got, 3)
}

func TestSummaryDocRegenerated(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Save(context.Background(), mustLearning(t, "security", "Validate all inputs", "Validate at trust boundaries.", "validation"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.Dir(), SummaryDocName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Validate all inputs")
	assert.Contains(t, string(data), "security")
}

func TestSummaryDocFailureDoesNotFailSave(t *testing.T) {
	s := newTestStore(t)

	// Make the summary doc path unwritable by occupying it with a directory.
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), SummaryDocName), 0o755))

	_, err := s.Save(context.Background(), mustLearning(t, "work", "Still saves", "The append must survive digest failure."))
	assert.NoError(t, err, "summary regeneration failure must not roll back the save")
}

func TestKeywordScoreTagMatch(t *testing.T) {
	l := Learning{
		Summary: "Parameterize queries",
		Content: "Use bound parameters.",
		Tags:    []string{"sql", "security"},
	}
	score := KeywordScore(l, "fix SQL injection in login")
	assert.Greater(t, score, 0.0, "short tag tokens like sql must still match")

	unrelated := Learning{Summary: "Rotate log files", Content: "Use size-based rotation."}
	assert.Equal(t, 0.0, KeywordScore(unrelated, "fix SQL injection in login"))
}

func TestRetrievalOrderStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Save(ctx, mustLearning(t, "work",
			fmt.Sprintf("Identical relevance record %c", 'a'+rune(i)),
			"retry transient failures with backoff", "retry"))
		require.NoError(t, err)
	}

	first := s.Retrieve(ctx, "retry transient failures", nil, 3)
	second := s.Retrieve(ctx, "retry transient failures", nil, 3)
	require.Len(t, first, 3)
	for i := range first {
		assert.Equal(t, first[i].Learning.ID, second[i].Learning.ID, "equal-score ordering must be stable")
	}
	// Newest first on equal scores.
	assert.True(t, !first[0].Learning.CreatedAt.Before(first[2].Learning.CreatedAt))
}

func TestRecordsAreImmutableOnDisk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := mustLearning(t, "work", "First version", "Original content.")
	_, err := s.Save(ctx, l)
	require.NoError(t, err)

	raw, err := os.ReadFile(s.recordPath(*l))
	require.NoError(t, err)

	// A second, corrected learning is a new record, not an edit.
	l2 := mustLearning(t, "work", "Second version", "Corrected content.")
	_, err = s.Save(ctx, l2)
	require.NoError(t, err)

	rawAgain, err := os.ReadFile(s.recordPath(*l))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(rawAgain), "Original content."))
	assert.Equal(t, raw, rawAgain)
}
