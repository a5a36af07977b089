package knowledge

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	a := Learning{Summary: "Parameterize SQL queries", Content: "Bind parameters for all SQL.", Tags: []string{"sql"}}
	b := Learning{Summary: "Parameterize SQL queries always", Content: "Bind parameters for all SQL statements.", Tags: []string{"sql"}}
	c := Learning{Summary: "Rotate log files", Content: "Size-based log rotation.", Tags: []string{"ops"}}

	assert.Greater(t, Similarity(a, b), 0.6)
	assert.Less(t, Similarity(a, c), 0.2)
	assert.Equal(t, Similarity(a, b), Similarity(b, a))
}

func TestCompactMergesDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dup1 := mustLearning(t, "security", "Parameterize SQL queries", "Bind parameters for all SQL statements.", "sql")
	dup2 := mustLearning(t, "security", "Parameterize SQL queries", "Bind parameters for all SQL statements everywhere.", "sql")
	distinct := mustLearning(t, "ops", "Rotate log files", "Use size-based log rotation.", "logging")
	for _, l := range []*Learning{dup1, dup2, distinct} {
		_, err := s.Save(ctx, l)
		require.NoError(t, err)
	}

	report, err := s.Compact(ctx, CompactionOptions{SimilarityThreshold: 0.5, MaxClusterSize: 4})
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalExamined)
	assert.Equal(t, 1, report.ClustersFound)
	require.Len(t, report.Created, 1)
	assert.ElementsMatch(t, []string{dup1.ID, dup2.ID}, report.Superseded)

	remaining, err := s.List()
	require.NoError(t, err)
	assert.Len(t, remaining, 2, "two duplicates replaced by one merged record")

	var merged *Learning
	for i := range remaining {
		if remaining[i].Source == "gardening" {
			merged = &remaining[i]
		}
	}
	require.NotNil(t, merged)
	assert.ElementsMatch(t, []string{dup1.ID, dup2.ID}, merged.SourceIDs)
	assert.Contains(t, merged.Tags, "sql")
}

func TestCompactDryRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Save(ctx, mustLearning(t, "work", "Retry with backoff", "Retry transient failures with exponential backoff.", "retry"))
		require.NoError(t, err)
	}

	report, err := s.Compact(ctx, CompactionOptions{SimilarityThreshold: 0.5, MaxClusterSize: 4, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ClustersFound)
	assert.Empty(t, report.Created)

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 2, "dry run must not modify the store")
}

func TestCompactRejectsBadThreshold(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Compact(context.Background(), CompactionOptions{SimilarityThreshold: 0})
	assert.Error(t, err)
	_, err = s.Compact(context.Background(), CompactionOptions{SimilarityThreshold: 1.5})
	assert.Error(t, err)
}

func TestSupersededExcludedFromRetrieval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dup1 := mustLearning(t, "security", "Parameterize SQL queries", "Bind parameters.", "sql")
	dup2 := mustLearning(t, "security", "Parameterize SQL queries", "Bind parameters always.", "sql")
	for _, l := range []*Learning{dup1, dup2} {
		_, err := s.Save(ctx, l)
		require.NoError(t, err)
	}

	_, err := s.Compact(ctx, CompactionOptions{SimilarityThreshold: 0.5, MaxClusterSize: 4})
	require.NoError(t, err)

	got := s.Retrieve(ctx, "sql parameterize queries", nil, 10)
	for _, e := range got {
		assert.NotEqual(t, dup1.ID, e.Learning.ID, "superseded learning must not be retrieved")
		assert.NotEqual(t, dup2.ID, e.Learning.ID, "superseded learning must not be retrieved")
	}
	require.Len(t, got, 1)
}

func TestSavesDuringCompactionNotLost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Save(ctx, mustLearning(t, "work", "Retry with backoff", "Retry transient failures.", "retry"))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := s.Compact(ctx, CompactionOptions{SimilarityThreshold: 0.5, MaxClusterSize: 4})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := s.Save(ctx, mustLearning(t, "ops", "Independent insight", "Saved while gardening runs.", "fresh"))
		assert.NoError(t, err)
	}()
	wg.Wait()

	all, err := s.List()
	require.NoError(t, err)

	var foundFresh bool
	for _, l := range all {
		if l.Summary == "Independent insight" {
			foundFresh = true
		}
	}
	assert.True(t, foundFresh, "a save concurrent with compaction must land before or after the swap, never be lost")
}
