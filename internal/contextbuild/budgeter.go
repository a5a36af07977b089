package contextbuild

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/tokens"
)

// OverrunPolicy controls what happens when critical items alone exceed the
// usable budget.
type OverrunPolicy string

const (
	// OverrunWarn includes the critical items anyway and records a warning.
	OverrunWarn OverrunPolicy = "warn"

	// OverrunFail rejects the bundle with ErrBudgetExceeded.
	OverrunFail OverrunPolicy = "fail"
)

// Budgeter fills a token budget from tiered candidate items.
type Budgeter struct {
	estimator tokens.Estimator
	policy    OverrunPolicy
	logger    *zap.Logger
}

// NewBudgeter returns a Budgeter using the given estimator. A nil logger is
// replaced with a no-op one.
func NewBudgeter(est tokens.Estimator, policy OverrunPolicy, logger *zap.Logger) *Budgeter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == "" {
		policy = OverrunWarn
	}
	return &Budgeter{estimator: est, policy: policy, logger: logger}
}

// Select fills budget-reserve tokens from items. Critical items are always
// included; scored items are admitted greedily in rank order until one does
// not fit, at which point selection stops. When the first scored item alone
// exceeds the remaining room and nothing scored has been admitted yet, its
// content is truncated to fit rather than dropped.
//
// Excluded-tier items are never admitted. The returned bundle's items are
// ordered critical first (by path), then scored by rank.
func (b *Budgeter) Select(items []Item, budget, reserve int) (*Bundle, error) {
	if budget <= 0 || reserve < 0 || reserve >= budget {
		return nil, fmt.Errorf("%w: budget=%d reserve=%d", ErrBadBudget, budget, reserve)
	}
	usable := budget - reserve

	var critical, scored []Item
	for _, it := range items {
		if it.Tokens == 0 && it.Content != "" {
			it.Tokens = b.estimator.Estimate(it.Content)
		}
		switch it.Tier {
		case TierCritical:
			critical = append(critical, it)
		case TierScored:
			scored = append(scored, it)
		}
	}

	sort.SliceStable(critical, func(i, j int) bool {
		return critical[i].Path < critical[j].Path
	})
	sortByRank(scored)

	bundle := &Bundle{}
	total := 0
	for _, it := range critical {
		total += it.Tokens
		bundle.Items = append(bundle.Items, it)
	}

	if total > usable {
		msg := fmt.Sprintf("critical items use %d of %d usable tokens", total, usable)
		if b.policy == OverrunFail {
			return nil, fmt.Errorf("%w: %s", ErrBudgetExceeded, msg)
		}
		b.logger.Warn("critical tier exceeds budget",
			zap.Int("critical_tokens", total),
			zap.Int("usable_tokens", usable))
		bundle.Truncated = true
		bundle.Warnings = append(bundle.Warnings, msg)
		bundle.TotalTokens = total
		return bundle, nil
	}

	admitted := 0
	for _, it := range scored {
		if total+it.Tokens <= usable {
			total += it.Tokens
			bundle.Items = append(bundle.Items, it)
			admitted++
			continue
		}
		if admitted == 0 && total < usable {
			trimmed := b.truncate(it, usable-total)
			if trimmed.Tokens > 0 {
				total += trimmed.Tokens
				bundle.Items = append(bundle.Items, trimmed)
			}
		}
		bundle.Truncated = true
		bundle.Warnings = append(bundle.Warnings,
			fmt.Sprintf("scored item %s did not fit, selection stopped", it.Path))
		break
	}

	bundle.TotalTokens = total
	return bundle, nil
}

// truncate cuts an item's content so its estimate fits maxTokens. The cut is
// proportional with a re-estimate loop since the estimator is not exactly
// invertible.
func (b *Budgeter) truncate(it Item, maxTokens int) Item {
	content := it.Content
	est := b.estimator.Estimate(content)
	for est > maxTokens && len(content) > 0 {
		// Shrink proportionally, then nibble if the estimate is sticky.
		keep := len(content) * maxTokens / est
		if keep >= len(content) {
			keep = len(content) - 1
		}
		content = strings.ToValidUTF8(content[:keep], "")
		est = b.estimator.Estimate(content)
	}
	it.Content = content
	it.Tokens = est
	it.Truncated = true
	return it
}

// sortByRank orders scored items by descending score, then shorter path,
// then lexicographic path. The total order keeps selection deterministic.
func sortByRank(items []Item) {
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
