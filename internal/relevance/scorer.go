// Package relevance scores candidate context items against a task description.
//
// Scoring is a pure function of (path, content sample, task): no I/O, no
// caching, fully deterministic. Identical inputs always produce identical
// scores, and the tie-break ordering is total, so ranked candidate lists
// are reproducible across runs.
package relevance

import (
	"path/filepath"
	"sort"
	"strings"
)

// Category classifies a file for prior weighting. Source code outranks
// configuration, which outranks documentation, which outranks generated
// or binary assets.
type Category int

const (
	CategoryGenerated Category = iota
	CategoryDocs
	CategoryConfig
	CategorySource
)

// Weight returns the prior multiplier for the category. Strictly ordered:
// source > config > docs > generated.
func (c Category) Weight() float64 {
	switch c {
	case CategorySource:
		return 1.0
	case CategoryConfig:
		return 0.8
	case CategoryDocs:
		return 0.6
	default:
		return 0.2
	}
}

func (c Category) String() string {
	switch c {
	case CategorySource:
		return "source"
	case CategoryConfig:
		return "config"
	case CategoryDocs:
		return "docs"
	default:
		return "generated"
	}
}

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".jsx": true, ".rb": true, ".rs": true, ".java": true, ".kt": true,
	".c": true, ".h": true, ".cpp": true, ".sql": true,
}

var configExtensions = map[string]bool{
	".yaml": true, ".yml": true, ".toml": true, ".json": true,
	".ini": true, ".env": true,
}

var docExtensions = map[string]bool{
	".md": true, ".rst": true, ".txt": true, ".adoc": true,
}

// Classify returns the category for a file path based on its extension.
// Unknown extensions classify as generated (lowest prior).
func Classify(path string) Category {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case sourceExtensions[ext]:
		return CategorySource
	case configExtensions[ext]:
		return CategoryConfig
	case docExtensions[ext]:
		return CategoryDocs
	default:
		return CategoryGenerated
	}
}

// DefaultCriticalFiles is the allowlist of files included in every bundle
// regardless of score: build manifests and top-level project docs.
var DefaultCriticalFiles = []string{
	"README.md",
	"go.mod",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
	"Makefile",
	"requirements.txt",
	"Gemfile",
}

const (
	baseScore       = 0.1
	criticalScore   = 1.0
	overlapBonus    = 0.3
	perKeywordBonus = 0.1
	contentBonus    = 0.1
	maxScore        = 0.95
	minKeywordLen   = 4
)

// Scorer computes relevance scores. Zero-value is not usable; use NewScorer.
type Scorer struct {
	critical map[string]bool
}

// NewScorer creates a scorer with the given critical-files allowlist.
// Pass nil to use DefaultCriticalFiles.
func NewScorer(criticalFiles []string) *Scorer {
	if criticalFiles == nil {
		criticalFiles = DefaultCriticalFiles
	}
	critical := make(map[string]bool, len(criticalFiles))
	for _, f := range criticalFiles {
		critical[f] = true
	}
	return &Scorer{critical: critical}
}

// IsCritical reports whether the file's base name is on the critical allowlist.
func (s *Scorer) IsCritical(path string) bool {
	return s.critical[filepath.Base(path)]
}

// Score computes the relevance of a file against a task description.
//
// Critical files score a fixed 1.0. Everything else combines a base score,
// keyword overlap between the task and the path, a content-sample match
// bonus, and the category prior multiplier. Result is clamped to 0.95 so
// only critical files can reach 1.0.
func (s *Scorer) Score(path, contentSample, task string) float64 {
	if s.IsCritical(path) {
		return criticalScore
	}

	score := baseScore

	taskKeywords := Keywords(task)
	pathKeywords := Keywords(pathText(path))

	overlap := 0
	for kw := range taskKeywords {
		if pathKeywords[kw] {
			overlap++
		}
	}
	if overlap > 0 {
		score += overlapBonus + perKeywordBonus*float64(overlap)
	}

	if contentSample != "" && len(taskKeywords) > 0 {
		sample := strings.ToLower(contentSample)
		for kw := range taskKeywords {
			if strings.Contains(sample, kw) {
				score += contentBonus
				break
			}
		}
	}

	score *= Classify(path).Weight()

	if score > maxScore {
		score = maxScore
	}
	return score
}

// Keywords extracts lowercase keywords of at least four characters from text.
func Keywords(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(w) >= minKeywordLen {
			out[w] = true
		}
	}
	return out
}

// pathText flattens a path into space-separated words for keyword extraction.
func pathText(path string) string {
	r := strings.NewReplacer("/", " ", "\\", " ", "_", " ", "-", " ", ".", " ")
	return r.Replace(path)
}

// Ranked pairs a path with its score for deterministic ordering.
type Ranked struct {
	Path  string
	Score float64
}

// SortRanked orders by descending score; ties break by shorter path first,
// then lexicographic path order. The ordering is total, which makes ranked
// lists byte-reproducible for identical inputs.
func SortRanked(items []Ranked) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if len(items[i].Path) != len(items[j].Path) {
			return len(items[i].Path) < len(items[j].Path)
		}
		return items[i].Path < items[j].Path
	})
}
