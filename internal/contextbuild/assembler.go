package contextbuild

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/ignore"
	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
	"github.com/fyrsmithlabs/dispatchd/internal/relevance"
	"github.com/fyrsmithlabs/dispatchd/internal/tokens"
)

const (
	// defaultKnowledgeShare is the fraction of the total budget reserved
	// for retrieved knowledge excerpts.
	defaultKnowledgeShare = 0.15

	// defaultMaxFileSize skips files too large to be useful context.
	defaultMaxFileSize = 1 << 20 // 1 MiB

	// contentSampleSize is how much of a candidate file is read for the
	// content-match bonus during ranking.
	contentSampleSize = 1024

	defaultMaxLearnings = 5
)

// AssemblerOptions tune context assembly. Zero values take defaults.
type AssemblerOptions struct {
	Budget         int
	Reserve        int
	KnowledgeShare float64
	MaxLearnings   int
	MaxFileSize    int64
	CriticalFiles  []string
	OverrunPolicy  OverrunPolicy
}

func (o *AssemblerOptions) withDefaults() {
	if o.KnowledgeShare <= 0 || o.KnowledgeShare >= 1 {
		o.KnowledgeShare = defaultKnowledgeShare
	}
	if o.MaxLearnings <= 0 {
		o.MaxLearnings = defaultMaxLearnings
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = defaultMaxFileSize
	}
}

// Assembler builds context bundles from a work tree and a knowledge store.
type Assembler struct {
	root      string
	opts      AssemblerOptions
	estimator tokens.Estimator
	scorer    *relevance.Scorer
	store     *knowledge.Store
	budgeter  *Budgeter
	logger    *zap.Logger
}

// NewAssembler creates an assembler rooted at the given work tree. The
// knowledge store may be nil, in which case bundles carry no excerpts.
func NewAssembler(root string, store *knowledge.Store, opts AssemblerOptions, logger *zap.Logger) (*Assembler, error) {
	if opts.Budget <= 0 || opts.Reserve < 0 || opts.Reserve >= opts.Budget {
		return nil, fmt.Errorf("%w: budget=%d reserve=%d", ErrBadBudget, opts.Budget, opts.Reserve)
	}
	opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	est := tokens.NewHeuristic(tokens.FamilyGeneric)
	return &Assembler{
		root:      root,
		opts:      opts,
		estimator: est,
		scorer:    relevance.NewScorer(opts.CriticalFiles),
		store:     store,
		budgeter:  NewBudgeter(est, opts.OverrunPolicy, logger),
		logger:    logger.Named("contextbuild"),
	}, nil
}

// Build assembles a bundle for the given task description and tags.
//
// The pipeline: scan the tree through the ignore denylist collecting
// metadata only, rank by relevance, retrieve knowledge under its sub-budget,
// then lazily load and scrub file content in rank order while the budgeter
// fills what remains. Knowledge retrieval is best-effort and never fails
// the build.
func (a *Assembler) Build(ctx context.Context, task string, tags []string) (*Bundle, error) {
	candidates, err := a.scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning work tree: %w", err)
	}

	excerpts, knowledgeTokens := a.retrieveKnowledge(ctx, task, tags)

	items := a.rank(ctx, candidates, task)

	fileBudget := a.opts.Budget - knowledgeTokens
	if fileBudget <= a.opts.Reserve {
		// Knowledge share can never starve critical files this far; if it
		// somehow does, drop the excerpts rather than the tree.
		excerpts, knowledgeTokens = nil, 0
		fileBudget = a.opts.Budget
	}

	bundle, err := a.budgeter.Select(items, fileBudget, a.opts.Reserve)
	if err != nil {
		return nil, err
	}
	bundle.KnowledgeExcerpts = excerpts
	bundle.TotalTokens += knowledgeTokens

	a.logger.Debug("assembled bundle",
		zap.Int("candidates", len(candidates)),
		zap.Int("included", len(bundle.Items)),
		zap.Int("excerpts", len(excerpts)),
		zap.Int("total_tokens", bundle.TotalTokens),
		zap.Bool("truncated", bundle.Truncated))
	return bundle, nil
}

// candidate is tree metadata collected in the first pass. Content stays on
// disk until the item is actually ranked into contention.
type candidate struct {
	rel  string
	size int64
}

func (a *Assembler) scan(ctx context.Context) ([]candidate, error) {
	matcher, err := ignore.ForTree(a.root)
	if err != nil {
		return nil, err
	}

	var out []candidate
	err = filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(a.root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matcher.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil // raced with a delete, skip
		}
		if info.Size() > a.opts.MaxFileSize {
			return nil
		}
		out = append(out, candidate{rel: rel, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rank scores candidates and loads content for those worth considering.
// Critical files load eagerly; scored files load a small sample for the
// content bonus, then full content, in rank order.
func (a *Assembler) rank(ctx context.Context, candidates []candidate, task string) []Item {
	ranked := make([]relevance.Ranked, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, relevance.Ranked{
			Path:  c.rel,
			Score: a.scorer.Score(c.rel, a.sample(c.rel), task),
		})
	}
	relevance.SortRanked(ranked)

	items := make([]Item, 0, len(ranked))
	for _, r := range ranked {
		if ctx.Err() != nil {
			break
		}
		tier := TierScored
		if a.scorer.IsCritical(r.Path) {
			tier = TierCritical
		}
		content, err := a.load(r.Path)
		if err != nil {
			a.logger.Warn("skipping unreadable file", zap.String("path", r.Path), zap.Error(err))
			continue
		}
		items = append(items, Item{
			Path:    r.Path,
			Content: content,
			Tokens:  a.estimator.Estimate(content),
			Score:   r.Score,
			Tier:    tier,
		})
	}
	return items
}

// sample reads the head of a file for the content-match bonus. Errors are
// ignored; a missing sample just forgoes the bonus.
func (a *Assembler) sample(rel string) string {
	f, err := os.Open(filepath.Join(a.root, filepath.FromSlash(rel)))
	if err != nil {
		return ""
	}
	defer f.Close()
	buf := make([]byte, contentSampleSize)
	n, _ := f.Read(buf)
	return string(buf[:n])
}

func (a *Assembler) load(rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(a.root, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	return Scrub(string(data)), nil
}

// retrieveKnowledge fills the knowledge sub-budget with excerpts. Retrieval
// never errors; a failing store yields an empty excerpt list.
func (a *Assembler) retrieveKnowledge(ctx context.Context, task string, tags []string) ([]knowledge.Excerpt, int) {
	if a.store == nil {
		return nil, 0
	}
	subBudget := int(float64(a.opts.Budget) * a.opts.KnowledgeShare)
	if subBudget <= 0 {
		return nil, 0
	}

	var included []knowledge.Excerpt
	used := 0
	for _, ex := range a.store.Retrieve(ctx, task, tags, a.opts.MaxLearnings) {
		cost := a.estimator.Estimate(ex.Learning.Summary + "\n\n" + ex.Learning.Content)
		if used+cost > subBudget {
			continue
		}
		included = append(included, ex)
		used += cost
	}
	return included, used
}

// RenderText flattens a bundle into a single prompt-ready document. Sections
// appear in a fixed order so identical bundles render byte-identically.
func RenderText(b *Bundle) string {
	var sb strings.Builder
	if len(b.KnowledgeExcerpts) > 0 {
		sb.WriteString("# Relevant learnings\n\n")
		for _, ex := range b.KnowledgeExcerpts {
			fmt.Fprintf(&sb, "## %s\n\n%s\n\n", ex.Learning.Summary, ex.Learning.Content)
		}
	}
	for _, it := range b.Items {
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", it.Path, it.Content)
	}
	return sb.String()
}
