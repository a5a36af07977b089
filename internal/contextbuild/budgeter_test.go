package contextbuild

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dispatchd/internal/tokens"
)

func newTestBudgeter(policy OverrunPolicy) *Budgeter {
	return NewBudgeter(tokens.NewHeuristic(tokens.FamilyGeneric), policy, nil)
}

func TestSelectRespectsBudget(t *testing.T) {
	b := newTestBudgeter(OverrunWarn)
	items := []Item{
		{Path: "a.go", Tokens: 100, Score: 0.9, Tier: TierScored},
		{Path: "b.go", Tokens: 300, Score: 0.8, Tier: TierScored},
		{Path: "c.go", Tokens: 400, Score: 0.7, Tier: TierScored},
		{Path: "go.mod", Tokens: 50, Tier: TierCritical},
	}

	bundle, err := b.Select(items, 1000, 200)
	require.NoError(t, err)

	assert.LessOrEqual(t, bundle.TotalTokens, 800)
	// Critical first, then by rank until c.go (400) no longer fits.
	require.Len(t, bundle.Items, 3)
	assert.Equal(t, "go.mod", bundle.Items[0].Path)
	assert.Equal(t, "a.go", bundle.Items[1].Path)
	assert.Equal(t, "b.go", bundle.Items[2].Path)
	assert.True(t, bundle.Truncated)
}

func TestSelectCriticalOverrun(t *testing.T) {
	b := newTestBudgeter(OverrunWarn)
	items := []Item{
		{Path: "README.md", Tokens: 900, Tier: TierCritical},
		{Path: "main.go", Tokens: 500, Score: 0.9, Tier: TierScored},
	}

	bundle, err := b.Select(items, 1000, 200)
	require.NoError(t, err)

	// Critical exceeds the 800 usable tokens: included anyway with a
	// warning, and no scored item rides along.
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "README.md", bundle.Items[0].Path)
	assert.Equal(t, 900, bundle.TotalTokens)
	assert.True(t, bundle.Truncated)
	require.NotEmpty(t, bundle.Warnings)
	assert.Contains(t, bundle.Warnings[0], "critical")
}

func TestSelectCriticalOverrunFailPolicy(t *testing.T) {
	b := newTestBudgeter(OverrunFail)
	items := []Item{{Path: "README.md", Tokens: 900, Tier: TierCritical}}

	_, err := b.Select(items, 1000, 200)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestSelectTruncatesHeadItemWhenNothingFits(t *testing.T) {
	b := newTestBudgeter(OverrunWarn)
	content := strings.Repeat("word ", 2000)
	items := []Item{
		{Path: "big.go", Content: content, Score: 0.9, Tier: TierScored},
	}

	bundle, err := b.Select(items, 300, 50)
	require.NoError(t, err)

	require.Len(t, bundle.Items, 1)
	assert.True(t, bundle.Items[0].Truncated)
	assert.LessOrEqual(t, bundle.Items[0].Tokens, 250)
	assert.Greater(t, bundle.Items[0].Tokens, 0)
	assert.True(t, bundle.Truncated)
}

func TestSelectStopsAtFirstMisfit(t *testing.T) {
	b := newTestBudgeter(OverrunWarn)
	items := []Item{
		{Path: "a.go", Tokens: 400, Score: 0.9, Tier: TierScored},
		{Path: "b.go", Tokens: 500, Score: 0.8, Tier: TierScored},
		// Would fit, but selection stops at b.go rather than skipping ahead.
		{Path: "c.go", Tokens: 10, Score: 0.7, Tier: TierScored},
	}

	bundle, err := b.Select(items, 1000, 200)
	require.NoError(t, err)
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "a.go", bundle.Items[0].Path)
}

func TestSelectExcludedTierNeverAdmitted(t *testing.T) {
	b := newTestBudgeter(OverrunWarn)
	items := []Item{
		{Path: "bin/blob", Tokens: 10, Score: 0.99, Tier: TierExcluded},
		{Path: "a.go", Tokens: 10, Score: 0.1, Tier: TierScored},
	}

	bundle, err := b.Select(items, 1000, 200)
	require.NoError(t, err)
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "a.go", bundle.Items[0].Path)
}

func TestSelectBadBudget(t *testing.T) {
	b := newTestBudgeter(OverrunWarn)
	_, err := b.Select(nil, 100, 100)
	require.ErrorIs(t, err, ErrBadBudget)
	_, err = b.Select(nil, 0, 0)
	require.ErrorIs(t, err, ErrBadBudget)
}

func TestSelectDeterministicTieBreak(t *testing.T) {
	b := newTestBudgeter(OverrunWarn)
	items := []Item{
		{Path: "z.go", Tokens: 10, Score: 0.5, Tier: TierScored},
		{Path: "a.go", Tokens: 10, Score: 0.5, Tier: TierScored},
		{Path: "dir/m.go", Tokens: 10, Score: 0.5, Tier: TierScored},
	}

	first, err := b.Select(items, 1000, 200)
	require.NoError(t, err)
	second, err := b.Select(items, 1000, 200)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "a.go", first.Items[0].Path)
	assert.Equal(t, "z.go", first.Items[1].Path)
	assert.Equal(t, "dir/m.go", first.Items[2].Path)
}
