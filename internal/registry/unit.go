// Package registry is the durable system of record for work units.
//
// Each unit lives in its own markdown file with YAML frontmatter; the
// lifecycle status is encoded in the file name, so a status transition is a
// rename. Renames are atomic on POSIX filesystems, which is what makes
// concurrent claims safe: exactly one claimer's rename succeeds, every
// other racer loses with ErrAlreadyClaimed.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Errors for registry operations.
var (
	ErrNotFound          = errors.New("work unit not found")
	ErrAlreadyClaimed    = errors.New("work unit already claimed")
	ErrTerminalState     = errors.New("work unit is in a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("invalid work unit")
	ErrCorruptRecord     = errors.New("corrupt work unit record")
)

// Kind classifies where a unit came from.
type Kind string

const (
	KindFinding  Kind = "finding"
	KindPlanStep Kind = "plan-step"
	KindAdHoc    Kind = "ad-hoc"
)

func (k Kind) Valid() bool {
	switch k {
	case KindFinding, KindPlanStep, KindAdHoc:
		return true
	}
	return false
}

// Status is the lifecycle state of a unit. The string form appears in file
// names, so no status token may contain a hyphen.
type Status string

const (
	StatusPending    Status = "pending"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusAbandoned  Status = "abandoned"
)

var allStatuses = []Status{
	StatusPending, StatusReady, StatusInProgress,
	StatusComplete, StatusFailed, StatusAbandoned,
}

func (s Status) Valid() bool {
	for _, st := range allStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether the status accepts no further transitions.
// Retrying a failed unit means creating a new one; the failed record stays
// as the audit trail.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusAbandoned
}

// transitions is the allowed lifecycle graph. Abandonment is reachable from
// every non-terminal state and handled separately in CanTransition.
var transitions = map[Status][]Status{
	StatusPending:    {StatusReady},
	StatusReady:      {StatusInProgress},
	StatusInProgress: {StatusComplete, StatusFailed},
}

// CanTransition reports whether from -> to is a legal step. A transition to
// the current status is always legal (and a no-op at the registry level).
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == StatusAbandoned {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority orders units for selection. P1 is most urgent.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

func (p Priority) Valid() bool {
	return p == PriorityP1 || p == PriorityP2 || p == PriorityP3
}

// rank maps priority to a sortable integer, lower is more urgent.
func (p Priority) rank() int {
	switch p {
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	default:
		return 3
	}
}

// LogEntry is one append-only work-log line recorded on a transition.
type LogEntry struct {
	At   time.Time `yaml:"at"`
	From Status    `yaml:"from"`
	To   Status    `yaml:"to"`
	By   string    `yaml:"by,omitempty"`
	Note string    `yaml:"note,omitempty"`
}

// WorkUnit is one trackable piece of work. The Body carries the free-form
// markdown description; everything else is structured frontmatter.
type WorkUnit struct {
	ID        string            `yaml:"id"`
	Title     string            `yaml:"title"`
	Kind      Kind              `yaml:"kind"`
	Status    Status            `yaml:"status"`
	Priority  Priority          `yaml:"priority"`
	Tags      []string          `yaml:"tags,omitempty"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`
	ClaimedBy string            `yaml:"claimed_by,omitempty"`
	CreatedAt time.Time         `yaml:"created_at"`
	UpdatedAt time.Time         `yaml:"updated_at"`
	Log       []LogEntry        `yaml:"log,omitempty"`

	Body string `yaml:"-"`
}

// Validate checks the fields a caller controls. ID and timestamps are
// assigned by the registry on Create.
func (u *WorkUnit) Validate() error {
	if strings.TrimSpace(u.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrValidation)
	}
	if !u.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, u.Kind)
	}
	if !u.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, u.Priority)
	}
	if u.Status != "" && !u.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, u.Status)
	}
	return nil
}

// HasTag reports whether the unit carries the given tag (case-insensitive).
func (u *WorkUnit) HasTag(tag string) bool {
	for _, t := range u.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLen = 40

// Slug derives the file-name fragment from a title: lowercase alphanumeric
// runs joined by hyphens, capped so file names stay short.
func Slug(title string) string {
	s := slugPattern.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	if s == "" {
		s = "unit"
	}
	return s
}
