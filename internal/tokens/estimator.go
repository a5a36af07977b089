// Package tokens provides approximate token counting for context budgeting.
//
// Estimates are heuristic (characters divided by a per-model-family ratio)
// rather than exact tokenizer output. The error bound is roughly ±20% against
// a real tokenizer; the divisor is chosen so the estimate errs high, since an
// overestimate wastes a little budget while an underestimate overruns the
// model's context window at execution time.
package tokens

import (
	"strings"
	"unicode"
)

// Estimator maps raw text to an approximate token count.
//
// Implementations must be pure: deterministic for a given input, no I/O,
// cheap enough to call thousands of times per context build.
type Estimator interface {
	// Estimate returns an approximate token count for text. Always >= 0,
	// monotonic in text length.
	Estimate(text string) int
}

// ModelFamily selects the chars-per-token ratio used by Heuristic.
type ModelFamily string

const (
	// FamilyGPT covers OpenAI-style BPE tokenizers (~4 chars/token on code).
	FamilyGPT ModelFamily = "gpt"

	// FamilyClaude covers Anthropic tokenizers (slightly denser on prose).
	FamilyClaude ModelFamily = "claude"

	// FamilyGeneric is the conservative default for unknown models.
	FamilyGeneric ModelFamily = "generic"
)

// charsPerToken holds the divisor per model family. Lower divisor means
// higher (more conservative) estimates.
var charsPerToken = map[ModelFamily]int{
	FamilyGPT:     4,
	FamilyClaude:  4,
	FamilyGeneric: 3,
}

// Heuristic estimates token counts from character length.
type Heuristic struct {
	divisor int
}

// NewHeuristic creates an estimator for the given model family.
// Unknown families fall back to the generic (most conservative) ratio.
func NewHeuristic(family ModelFamily) *Heuristic {
	div, ok := charsPerToken[family]
	if !ok {
		div = charsPerToken[FamilyGeneric]
	}
	return &Heuristic{divisor: div}
}

// Estimate returns len(text)/divisor rounded up, plus a correction for
// whitespace-heavy text. Non-ASCII runes count double since most BPE
// vocabularies split them into multiple tokens.
func (h *Heuristic) Estimate(text string) int {
	if text == "" {
		return 0
	}

	chars := 0
	for _, r := range text {
		if r > unicode.MaxASCII {
			chars += 2
		} else {
			chars++
		}
	}

	// Round up so estimates never undercount short strings to zero.
	estimate := (chars + h.divisor - 1) / h.divisor

	// Runs of whitespace collapse to single tokens in real tokenizers, but
	// newline-dense text (code, tables) tokenizes worse than prose. Count
	// lines as a floor: one token per non-empty line minimum.
	lines := strings.Count(text, "\n") + 1
	if estimate < lines {
		estimate = lines
	}

	return estimate
}
