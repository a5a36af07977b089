package knowledge

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CompactionOptions configures a gardening pass.
type CompactionOptions struct {
	// SimilarityThreshold is the minimum pairwise similarity (0-1) for two
	// learnings to be considered duplicates. What counts as a duplicate is
	// deliberately configuration, not a fixed constant.
	SimilarityThreshold float64

	// MaxClusterSize caps how many learnings merge into one record.
	MaxClusterSize int

	// DryRun reports clusters without writing or superseding anything.
	DryRun bool
}

// DefaultCompactionOptions returns the standard gardening configuration.
func DefaultCompactionOptions() CompactionOptions {
	return CompactionOptions{
		SimilarityThreshold: 0.8,
		MaxClusterSize:      8,
	}
}

// CompactionReport summarizes a gardening pass.
type CompactionReport struct {
	TotalExamined int           `json:"total_examined"`
	ClustersFound int           `json:"clusters_found"`
	Created       []string      `json:"created,omitempty"`
	Superseded    []string      `json:"superseded,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Compact merges near-duplicate learnings into fewer, higher-quality ones.
//
// Snapshot-then-merge-then-swap: the pass snapshots the active records
// under the write lock, so saves in flight land either before the snapshot
// or after the swap, never inside it. Superseded records are renamed, not
// deleted, preserving the no-destructive-edit invariant; the merged record
// lists them in SourceIDs.
func (s *Store) Compact(ctx context.Context, opts CompactionOptions) (*CompactionReport, error) {
	if opts.SimilarityThreshold <= 0 || opts.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in (0, 1], got %v", opts.SimilarityThreshold)
	}
	if opts.MaxClusterSize < 2 {
		opts.MaxClusterSize = DefaultCompactionOptions().MaxClusterSize
	}

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.List()
	if err != nil {
		return nil, fmt.Errorf("snapshotting store: %w", err)
	}

	clusters := clusterBySimilarity(snapshot, opts.SimilarityThreshold, opts.MaxClusterSize)

	report := &CompactionReport{
		TotalExamined: len(snapshot),
		ClustersFound: len(clusters),
	}

	if opts.DryRun {
		report.Duration = time.Since(start)
		return report, nil
	}

	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		merged := mergeCluster(cluster)
		if err := s.writeRecord(*merged); err != nil {
			return nil, fmt.Errorf("writing merged learning: %w", err)
		}
		report.Created = append(report.Created, merged.ID)

		if s.index != nil {
			if err := s.index.Upsert(ctx, *merged); err != nil {
				s.logger.Warn("index upsert for merged learning failed", zap.Error(err))
			}
		}

		for _, src := range cluster {
			if err := s.supersede(src); err != nil {
				s.logger.Warn("failed to mark learning superseded",
					zap.String("id", src.ID), zap.Error(err))
				continue
			}
			report.Superseded = append(report.Superseded, src.ID)
		}

		if s.index != nil {
			ids := make([]string, len(cluster))
			for i, src := range cluster {
				ids[i] = src.ID
			}
			if err := s.index.Remove(ctx, ids); err != nil {
				s.logger.Warn("index removal of superseded learnings failed", zap.Error(err))
			}
		}
	}

	if err := s.regenerateSummaryLocked(); err != nil {
		s.logger.Warn("summary doc regeneration failed after compaction", zap.Error(err))
	}

	report.Duration = time.Since(start)
	s.logger.Info("gardening pass complete",
		zap.Int("examined", report.TotalExamined),
		zap.Int("clusters", report.ClustersFound),
		zap.Int("created", len(report.Created)),
		zap.Int("superseded", len(report.Superseded)))

	return report, nil
}

// supersede renames a record so retrieval skips it. The content survives.
func (s *Store) supersede(l Learning) error {
	path := s.recordPath(l)
	return os.Rename(path, strings.TrimSuffix(path, recordSuffix)+supersededSuffix)
}

// Similarity is the keyword-set Jaccard index over summary, content, and
// tags. Cheap, deterministic, and symmetric; semantic implementations can
// replace it via the SimilarityIndex without touching this pass.
func Similarity(a, b Learning) float64 {
	sa := learningTokens(a)
	sb := learningTokens(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}

	intersection := 0
	for tok := range sa {
		if sb[tok] {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	return float64(intersection) / float64(union)
}

func learningTokens(l Learning) map[string]bool {
	toks := queryTokens(l.Summary + " " + l.Content)
	for _, t := range l.Tags {
		toks[strings.ToLower(t)] = true
	}
	return toks
}

// clusterBySimilarity greedily groups learnings whose pairwise similarity
// to the cluster seed meets the threshold. Only clusters of two or more
// are worth merging.
func clusterBySimilarity(learnings []Learning, threshold float64, maxSize int) [][]Learning {
	used := make(map[string]bool, len(learnings))
	var clusters [][]Learning

	for i, seed := range learnings {
		if used[seed.ID] {
			continue
		}
		cluster := []Learning{seed}
		for _, candidate := range learnings[i+1:] {
			if used[candidate.ID] || len(cluster) >= maxSize {
				continue
			}
			if Similarity(seed, candidate) >= threshold {
				cluster = append(cluster, candidate)
			}
		}
		if len(cluster) >= 2 {
			for _, m := range cluster {
				used[m.ID] = true
			}
			clusters = append(clusters, cluster)
		}
	}
	return clusters
}

// mergeCluster synthesizes one learning from a cluster. The newest member
// provides the summary; contents concatenate oldest-first so the merged
// record reads chronologically; tags union.
func mergeCluster(cluster []Learning) *Learning {
	newest := cluster[0]
	for _, l := range cluster[1:] {
		if l.CreatedAt.After(newest.CreatedAt) {
			newest = l
		}
	}

	ordered := make([]Learning, len(cluster))
	copy(ordered, cluster)
	rankByRecency(ordered)
	// rankByRecency sorts newest-first; reverse for chronological reading.
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}

	var content strings.Builder
	tagSet := make(map[string]bool)
	sourceIDs := make([]string, 0, len(ordered))
	for i, l := range ordered {
		if i > 0 {
			content.WriteString("\n\n---\n\n")
		}
		content.WriteString(l.Content)
		for _, t := range l.Tags {
			tagSet[strings.ToLower(t)] = true
		}
		sourceIDs = append(sourceIDs, l.ID)
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	merged, _ := NewLearning(newest.Category, newest.Summary, content.String(), "gardening", tags)
	merged.SourceIDs = sourceIDs
	return merged
}
