package knowledge

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors for knowledge operations.
var (
	ErrStorage         = errors.New("knowledge storage error")
	ErrEmptySummary    = errors.New("learning summary cannot be empty")
	ErrEmptyContent    = errors.New("learning content cannot be empty")
	ErrInvalidCategory = errors.New("learning category cannot be empty")
	ErrNotFound        = errors.New("learning not found")
)

// Learning is a codified, reusable fact derived from a completed work unit.
//
// Learnings are immutable once saved. Gardening never edits a record in
// place: compaction writes a new merged learning that lists its sources,
// and the sources are marked superseded on disk. This keeps concurrent
// codification from multiple workers safe without coordination.
type Learning struct {
	// ID is the unique learning identifier (UUID).
	ID string `json:"id"`

	// Category groups learnings for filename encoding and browsing
	// (e.g. "code-review", "work", "security").
	Category string `json:"category"`

	// Summary is a one-line description used in digests and retrieval.
	Summary string `json:"summary"`

	// Content is the full codified fact.
	Content string `json:"content"`

	// Tags label the learning for retrieval filtering.
	Tags []string `json:"tags,omitempty"`

	// Source identifies the work unit that produced this learning.
	Source string `json:"source,omitempty"`

	// SourceIDs lists learnings merged into this one during gardening.
	SourceIDs []string `json:"source_ids,omitempty"`

	// CreatedAt is when the learning was codified.
	CreatedAt time.Time `json:"created_at"`
}

// NewLearning creates a validated learning with a generated UUID.
func NewLearning(category, summary, content, source string, tags []string) (*Learning, error) {
	l := &Learning{
		ID:        uuid.New().String(),
		Category:  category,
		Summary:   summary,
		Content:   content,
		Tags:      tags,
		Source:    source,
		CreatedAt: time.Now(),
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Validate checks required fields.
func (l *Learning) Validate() error {
	if l.ID == "" {
		return errors.New("learning ID cannot be empty")
	}
	if _, err := uuid.Parse(l.ID); err != nil {
		return fmt.Errorf("invalid learning ID: %w", err)
	}
	if l.Category == "" {
		return ErrInvalidCategory
	}
	if l.Summary == "" {
		return ErrEmptySummary
	}
	if l.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// Excerpt is a retrieved learning with provenance for a context bundle.
type Excerpt struct {
	Learning Learning `json:"learning"`
	Score    float64  `json:"score"`
}
