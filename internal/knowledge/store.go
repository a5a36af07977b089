package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	supersededSuffix = ".superseded.json"
	recordSuffix     = ".json"

	// SummaryDocName is the derived human-readable digest regenerated
	// after each save. Best-effort: failures never roll back a save.
	SummaryDocName = "KNOWLEDGE.md"
)

var categorySanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// Store is a durable, append-only store of learnings.
//
// Each learning is one immutable JSON file named {id}-{category}.json,
// written with a temp-file-then-rename so concurrent saves from multiple
// workers are independent atomic appends, never read-modify-write of a
// shared file. Compaction takes the write lock, so in-flight saves land
// either entirely before or entirely after a compaction pass.
type Store struct {
	dir    string
	index  SimilarityIndex
	logger *zap.Logger

	// mu serializes compaction against saves. Saves share the read side;
	// Compact holds the write side for its snapshot-merge-swap.
	mu sync.RWMutex
}

// NewStore creates a store rooted at dir, creating it if needed.
// index may be nil, in which case retrieval falls back to keyword scoring
// over the on-disk records.
func NewStore(dir string, index SimilarityIndex, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: store directory cannot be empty", ErrStorage)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrStorage, dir, err)
	}
	return &Store{dir: dir, index: index, logger: logger}, nil
}

// Save appends a new immutable learning and returns its ID.
//
// Safe under concurrent calls: every save writes its own file atomically.
// Index updates and summary regeneration are best-effort side effects;
// only the durable append itself can fail the call.
func (s *Store) Save(ctx context.Context, l *Learning) (string, error) {
	if l == nil {
		return "", fmt.Errorf("%w: nil learning", ErrStorage)
	}
	if err := l.Validate(); err != nil {
		return "", fmt.Errorf("validating learning: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.writeRecord(*l); err != nil {
		return "", err
	}

	if s.index != nil {
		if err := s.index.Upsert(ctx, *l); err != nil {
			s.logger.Warn("index upsert failed, record saved on disk",
				zap.String("id", l.ID), zap.Error(err))
		}
	}

	if err := s.regenerateSummaryLocked(); err != nil {
		s.logger.Warn("summary doc regeneration failed", zap.Error(err))
	}

	s.logger.Info("learning saved",
		zap.String("id", l.ID),
		zap.String("category", l.Category),
		zap.Strings("tags", l.Tags))

	return l.ID, nil
}

// Retrieve returns up to max learnings ranked by relevance to the query.
//
// Never returns an error: a corrupt or missing store logs and yields an
// empty result, since knowledge unavailability must not block execution.
func (s *Store) Retrieve(ctx context.Context, query string, tags []string, max int) []Excerpt {
	if max <= 0 {
		return nil
	}

	if s.index != nil {
		out, err := s.index.Query(ctx, query, tags, max, 0)
		if err == nil {
			return out
		}
		s.logger.Warn("similarity index query failed, falling back to keyword scan", zap.Error(err))
	}

	learnings, err := s.List()
	if err != nil {
		s.logger.Warn("knowledge retrieval unavailable", zap.Error(err))
		return nil
	}

	var out []Excerpt
	for _, l := range learnings {
		if !hasAnyTag(l, tags) {
			continue
		}
		score := KeywordScore(l, query)
		if score <= 0 {
			continue
		}
		out = append(out, Excerpt{Learning: l, Score: score})
	}
	rankExcerpts(out)
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// List loads all active (non-superseded) learnings from disk.
func (s *Store) List() ([]Learning, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrStorage, s.dir, err)
	}

	var out []Learning
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordSuffix) || strings.HasSuffix(name, supersededSuffix) {
			continue
		}
		l, err := s.readRecord(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable learning record",
				zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) recordPath(l Learning) string {
	cat := categorySanitizer.ReplaceAllString(strings.ToLower(l.Category), "-")
	cat = strings.Trim(cat, "-")
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s%s", l.ID, cat, recordSuffix))
}

// writeRecord performs the atomic temp-write-then-rename append.
func (s *Store) writeRecord(l Learning) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding learning %s: %v", ErrStorage, l.ID, err)
	}

	path := s.recordPath(l)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrStorage, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: committing %s: %v", ErrStorage, path, err)
	}
	return nil
}

func (s *Store) readRecord(path string) (Learning, error) {
	var l Learning
	data, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	if err := json.Unmarshal(data, &l); err != nil {
		return l, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return l, nil
}

// regenerateSummaryLocked rewrites the digest document. Caller holds mu.
func (s *Store) regenerateSummaryLocked() error {
	learnings, err := s.List()
	if err != nil {
		return err
	}

	byCategory := make(map[string][]Learning)
	for _, l := range learnings {
		byCategory[l.Category] = append(byCategory[l.Category], l)
	}

	var b strings.Builder
	b.WriteString("# Knowledge Base\n\n")
	fmt.Fprintf(&b, "%d learnings.\n", len(learnings))
	for _, cat := range sortedKeys(byCategory) {
		fmt.Fprintf(&b, "\n## %s\n\n", cat)
		group := byCategory[cat]
		rankByRecency(group)
		for _, l := range group {
			fmt.Fprintf(&b, "- %s", l.Summary)
			if len(l.Tags) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(l.Tags, ", "))
			}
			b.WriteString("\n")
		}
	}

	// Unique tmp name: concurrent saves regenerate under the read lock and
	// must not interleave writes into a shared scratch file.
	f, err := os.CreateTemp(s.dir, SummaryDocName+".*")
	if err != nil {
		return err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	if err := os.Rename(f.Name(), filepath.Join(s.dir, SummaryDocName)); err != nil {
		os.Remove(f.Name())
		return err
	}
	return nil
}

func sortedKeys(m map[string][]Learning) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func rankByRecency(ls []Learning) {
	sort.SliceStable(ls, func(i, j int) bool {
		return ls[i].CreatedAt.After(ls[j].CreatedAt)
	})
}
