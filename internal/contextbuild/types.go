// Package contextbuild assembles token-bounded context bundles for work
// units.
//
// A bundle combines relevance-ranked file content from the work tree with
// retrieved knowledge excerpts, under a hard token budget. Assembly is
// deterministic: identical tree state and knowledge content always produce
// byte-identical bundles.
package contextbuild

import (
	"errors"

	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
)

// Common errors for context assembly.
var (
	ErrBadBudget      = errors.New("budget must exceed reserve")
	ErrBudgetExceeded = errors.New("critical items exceed budget")
)

// Tier partitions candidate items.
type Tier int

const (
	// TierExcluded items never enter a bundle.
	TierExcluded Tier = iota

	// TierScored items compete for budget by relevance rank.
	TierScored

	// TierCritical items are always included regardless of score.
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierScored:
		return "scored"
	default:
		return "excluded"
	}
}

// Item is one candidate piece of context. Content is loaded lazily by the
// assembler; Score is recomputed per task and never cached across tasks.
type Item struct {
	Path      string  `json:"path"`
	Content   string  `json:"content"`
	Tokens    int     `json:"tokens"`
	Score     float64 `json:"score"`
	Tier      Tier    `json:"tier"`
	Truncated bool    `json:"truncated,omitempty"`
}

// Bundle is the materialized context handed to an agent executor for one
// work unit. Ephemeral: rebuilt per execution, never persisted.
type Bundle struct {
	// Items are the file items actually included, critical first, then
	// scored in rank order.
	Items []Item `json:"items"`

	// KnowledgeExcerpts are retrieved learnings with provenance.
	KnowledgeExcerpts []knowledge.Excerpt `json:"knowledge_excerpts,omitempty"`

	// TotalTokens is the estimated size of everything included.
	TotalTokens int `json:"total_tokens"`

	// Truncated reports budget pressure: a critical overrun or a
	// truncated/dropped scored item.
	Truncated bool `json:"truncated"`

	// Warnings carries human-readable budget diagnostics.
	Warnings []string `json:"warnings,omitempty"`
}
