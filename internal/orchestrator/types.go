// Package orchestrator runs batches of work units through claim, context
// assembly, execution and completion.
//
// A run resolves its selection pattern once, fans units out to a bounded
// worker pool, and contains every per-unit failure: one bad unit never
// aborts the batch. Cancellation stops new units from starting while the
// ones already running finish and record their outcome.
package orchestrator

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
	"github.com/fyrsmithlabs/dispatchd/internal/registry"
	"github.com/fyrsmithlabs/dispatchd/internal/workspace"
)

// Errors for orchestration runs.
var (
	ErrNoExecutor   = errors.New("no executor configured")
	ErrEmptyPattern = errors.New("selection pattern matched no units")
	ErrBadPattern   = errors.New("invalid selection pattern")
)

// PatternKind discriminates the selection variants.
type PatternKind string

const (
	PatternByID       PatternKind = "by_id"
	PatternByTag      PatternKind = "by_tag"
	PatternByPriority PatternKind = "by_priority"
)

// Pattern selects which ready units a run processes. Construct with ByID,
// ByTag or ByPriority; the zero value is invalid.
type Pattern struct {
	Kind     PatternKind
	IDs      []string
	Tag      string
	Priority registry.Priority
}

// ByID selects specific units.
func ByID(ids ...string) Pattern {
	return Pattern{Kind: PatternByID, IDs: ids}
}

// ByTag selects every ready unit carrying the tag.
func ByTag(tag string) Pattern {
	return Pattern{Kind: PatternByTag, Tag: tag}
}

// ByPriority selects every ready unit at the given priority.
func ByPriority(p registry.Priority) Pattern {
	return Pattern{Kind: PatternByPriority, Priority: p}
}

func (p Pattern) validate() error {
	switch p.Kind {
	case PatternByID:
		if len(p.IDs) == 0 {
			return errors.New("by-id pattern needs at least one id")
		}
	case PatternByTag:
		if p.Tag == "" {
			return errors.New("by-tag pattern needs a tag")
		}
	case PatternByPriority:
		if !p.Priority.Valid() {
			return errors.New("by-priority pattern needs a valid priority")
		}
	default:
		return errors.New("unknown pattern kind")
	}
	return nil
}

// Outcome is the terminal disposition of one unit within a run.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDryRun   Outcome = "dry_run"
)

// FailureKind classifies what went wrong with a unit.
type FailureKind string

const (
	FailValidation FailureKind = "validation"
	FailClaim      FailureKind = "claim_conflict"
	FailExecutor   FailureKind = "executor"
	FailStorage    FailureKind = "storage"
	FailIsolation  FailureKind = "isolation"
)

// classifyFailure maps an error onto the failure taxonomy.
func classifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, registry.ErrAlreadyClaimed):
		return FailClaim
	case errors.Is(err, registry.ErrValidation),
		errors.Is(err, registry.ErrInvalidTransition),
		errors.Is(err, registry.ErrTerminalState):
		return FailValidation
	case errors.Is(err, workspace.ErrIsolation),
		errors.Is(err, workspace.ErrWorkspaceBusy):
		return FailIsolation
	case errors.Is(err, knowledge.ErrStorage):
		return FailStorage
	default:
		return FailExecutor
	}
}

// UnitResult is one unit's outcome within a run.
type UnitResult struct {
	UnitID      string        `json:"unit_id"`
	Title       string        `json:"title"`
	Outcome     Outcome       `json:"outcome"`
	Failure     FailureKind   `json:"failure,omitempty"`
	Err         string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	TotalTokens int           `json:"total_tokens,omitempty"`
	Truncated   bool          `json:"truncated,omitempty"`
	Branch      string        `json:"branch,omitempty"`
	Learnings   int           `json:"learnings,omitempty"`
}

// RunReport summarizes a run. Results appear in completion order, which is
// nondeterministic under concurrency.
type RunReport struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Results    []UnitResult  `json:"results"`
	Complete   int           `json:"complete"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	DryRun     bool          `json:"dry_run,omitempty"`
}
