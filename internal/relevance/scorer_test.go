package relevance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want Category
	}{
		{"internal/auth/login.go", CategorySource},
		{"app/models/user.rb", CategorySource},
		{"config/settings.yaml", CategoryConfig},
		{"docs/architecture.md", CategoryDocs},
		{"dist/bundle.min.map", CategoryGenerated},
		{"assets/logo.png", CategoryGenerated},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.path))
		})
	}
}

func TestCategoryWeightOrdering(t *testing.T) {
	assert.Greater(t, CategorySource.Weight(), CategoryConfig.Weight())
	assert.Greater(t, CategoryConfig.Weight(), CategoryDocs.Weight())
	assert.Greater(t, CategoryDocs.Weight(), CategoryGenerated.Weight())
}

func TestScoreCriticalFiles(t *testing.T) {
	s := NewScorer(nil)

	assert.Equal(t, 1.0, s.Score("README.md", "", "anything at all"))
	assert.Equal(t, 1.0, s.Score("sub/dir/go.mod", "", "unrelated task"))
	assert.Less(t, s.Score("main.go", "", "unrelated task"), 1.0)
}

func TestScoreKeywordOverlap(t *testing.T) {
	s := NewScorer(nil)
	task := "fix SQL injection in login handler"

	loginScore := s.Score("internal/auth/login.go", "", task)
	otherScore := s.Score("internal/render/chart.go", "", task)
	assert.Greater(t, loginScore, otherScore)
}

func TestScoreContentSample(t *testing.T) {
	s := NewScorer(nil)
	task := "harden session cookie handling"

	with := s.Score("web/middleware.go", "func setSessionCookie(w http.ResponseWriter)", task)
	without := s.Score("web/middleware.go", "package web", task)
	assert.Greater(t, with, without)
}

func TestScoreDeterministic(t *testing.T) {
	s := NewScorer(nil)
	task := "refactor worker pool shutdown"

	first := s.Score("internal/pool/worker.go", "type Pool struct", task)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, s.Score("internal/pool/worker.go", "type Pool struct", task))
	}
}

func TestScoreCapped(t *testing.T) {
	s := NewScorer(nil)
	// Pile up every bonus; non-critical files must stay below 1.0.
	task := "worker pool shutdown refactor internal"
	score := s.Score("internal/worker/pool_shutdown_refactor.go", "worker pool shutdown refactor", task)
	assert.LessOrEqual(t, score, maxScore)
}

func TestSortRankedTieBreak(t *testing.T) {
	items := []Ranked{
		{Path: "zzz/long/path/file.go", Score: 0.5},
		{Path: "b.go", Score: 0.5},
		{Path: "a.go", Score: 0.5},
		{Path: "top.go", Score: 0.9},
	}
	SortRanked(items)

	assert.Equal(t, "top.go", items[0].Path)
	assert.Equal(t, "a.go", items[1].Path)
	assert.Equal(t, "b.go", items[2].Path)
	assert.Equal(t, "zzz/long/path/file.go", items[3].Path)
}

func TestKeywordsFiltersShortWords(t *testing.T) {
	kws := Keywords("fix the SQL bug in api now")
	assert.NotContains(t, kws, "the")
	assert.NotContains(t, kws, "sql") // three chars, below threshold
	assert.NotContains(t, kws, "api")
}
