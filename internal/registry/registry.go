package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Registry stores work units as files under a single directory.
//
// All mutation goes through rename or write-then-rename, so readers never
// observe a half-written unit and claim races resolve to a single winner
// without any lock file.
type Registry struct {
	dir    string
	logger *zap.Logger
	clock  func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// NewRegistry opens (creating if needed) a unit directory.
func NewRegistry(dir string, logger *zap.Logger, opts ...Option) (*Registry, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: unit directory cannot be empty", ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating unit directory: %w", err)
	}
	r := &Registry{
		dir:    dir,
		logger: logger.Named("registry"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Dir returns the unit directory.
func (r *Registry) Dir() string { return r.dir }

// Create persists a new unit. The registry assigns the ID and timestamps;
// an empty status defaults to pending.
func (r *Registry) Create(ctx context.Context, u *WorkUnit) (*WorkUnit, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if u.Status == "" {
		u.Status = StatusPending
	}

	// Retry on ID collision: two concurrent creates can scan the same max.
	for attempt := 0; attempt < 10; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := r.nextID()
		if err != nil {
			return nil, err
		}
		unit := *u
		unit.ID = next
		now := r.clock().UTC().Truncate(time.Second)
		unit.CreatedAt = now
		unit.UpdatedAt = now

		if err := r.writeNew(&unit); err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, err
		}
		r.logger.Info("created work unit",
			zap.String("id", unit.ID),
			zap.String("kind", string(unit.Kind)),
			zap.String("priority", string(unit.Priority)))
		return &unit, nil
	}
	return nil, fmt.Errorf("allocating unit id: too many collisions")
}

// Get loads a unit by ID.
func (r *Registry) Get(id string) (*WorkUnit, error) {
	path, _, err := r.find(id)
	if err != nil {
		return nil, err
	}
	return r.read(path)
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status   Status
	Kind     Kind
	Priority Priority
	Tags     []string
}

func (f Filter) matches(u *WorkUnit) bool {
	if f.Status != "" && u.Status != f.Status {
		return false
	}
	if f.Kind != "" && u.Kind != f.Kind {
		return false
	}
	if f.Priority != "" && u.Priority != f.Priority {
		return false
	}
	for _, tag := range f.Tags {
		if !u.HasTag(tag) {
			return false
		}
	}
	return true
}

// List returns matching units ordered by priority rank, then ID. Corrupt
// files are skipped with a warning rather than failing the listing.
func (r *Registry) List(filter Filter) ([]*WorkUnit, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("reading unit directory: %w", err)
	}

	var out []*WorkUnit
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		if _, _, err := ParseFileName(e.Name()); err != nil {
			continue
		}
		u, err := r.read(filepath.Join(r.dir, e.Name()))
		if err != nil {
			r.logger.Warn("skipping corrupt unit file",
				zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		if filter.matches(u) {
			out = append(out, u)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.rank() != out[j].Priority.rank() {
			return out[i].Priority.rank() < out[j].Priority.rank()
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Claim moves a ready unit to in_progress for the named owner. Exactly one
// concurrent claimer wins; the rest get ErrAlreadyClaimed. The rename is
// the claim: the source file stops existing the instant a winner appears.
func (r *Registry) Claim(ctx context.Context, id, owner string) (*WorkUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, status, err := r.find(id)
	if err != nil {
		return nil, err
	}
	if status != StatusReady {
		if status == StatusInProgress {
			return nil, fmt.Errorf("%w: unit %s", ErrAlreadyClaimed, id)
		}
		return nil, fmt.Errorf("%w: unit %s is %s, want ready", ErrInvalidTransition, id, status)
	}

	u, err := r.read(path)
	if err != nil {
		// A racer renamed the file between find and read.
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unit %s", ErrAlreadyClaimed, id)
		}
		return nil, err
	}
	u.Status = StatusInProgress
	u.ClaimedBy = owner
	now := r.clock().UTC().Truncate(time.Second)
	u.UpdatedAt = now
	u.Log = append(u.Log, LogEntry{
		At: now, From: StatusReady, To: StatusInProgress, By: owner, Note: "claimed",
	})

	newPath := filepath.Join(r.dir, FileName(u))
	if err := os.Rename(path, newPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: unit %s", ErrAlreadyClaimed, id)
		}
		return nil, fmt.Errorf("claiming unit %s: %w", id, err)
	}

	// The claim is won; recording owner and log is best-effort follow-up.
	if err := r.overwrite(newPath, u); err != nil {
		r.logger.Warn("claim metadata write failed",
			zap.String("id", id), zap.Error(err))
	}
	r.logger.Info("claimed work unit", zap.String("id", id), zap.String("owner", owner))
	return u, nil
}

// Transition moves a unit to a new status with an optional note. A
// transition to the current status is an idempotent no-op. Terminal units
// reject every transition with ErrTerminalState.
func (r *Registry) Transition(ctx context.Context, id string, to Status, note string) (*WorkUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	path, from, err := r.find(id)
	if err != nil {
		return nil, err
	}
	if from == to {
		return r.read(path)
	}
	if from.Terminal() {
		return nil, fmt.Errorf("%w: unit %s is %s", ErrTerminalState, id, from)
	}
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	u, err := r.read(path)
	if err != nil {
		return nil, err
	}
	now := r.clock().UTC().Truncate(time.Second)
	u.Status = to
	u.UpdatedAt = now
	if to == StatusReady {
		u.ClaimedBy = ""
	}
	u.Log = append(u.Log, LogEntry{At: now, From: from, To: to, By: u.ClaimedBy, Note: note})

	newPath := filepath.Join(r.dir, FileName(u))
	if err := r.overwrite(path, u); err != nil {
		return nil, err
	}
	if err := os.Rename(path, newPath); err != nil {
		return nil, fmt.Errorf("transitioning unit %s: %w", id, err)
	}
	r.logger.Info("transitioned work unit",
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return u, nil
}

// find locates the unit file for an ID by scanning the directory.
func (r *Registry) find(id string) (path string, status Status, err error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return "", "", fmt.Errorf("reading unit directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		gotID, gotStatus, parseErr := ParseFileName(e.Name())
		if parseErr != nil {
			continue
		}
		if gotID == id {
			return filepath.Join(r.dir, e.Name()), gotStatus, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

// nextID scans existing files for the highest numeric ID and returns the
// next one, zero-padded.
func (r *Registry) nextID() (string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return "", fmt.Errorf("reading unit directory: %w", err)
	}
	max := 0
	for _, e := range entries {
		id, _, parseErr := ParseFileName(e.Name())
		if parseErr != nil {
			continue
		}
		if n, convErr := strconv.Atoi(id); convErr == nil && n > max {
			max = n
		}
	}
	return FormatID(max + 1), nil
}

// writeNew creates a unit file, failing if the name already exists.
func (r *Registry) writeNew(u *WorkUnit) error {
	data, err := Encode(u)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(r.dir, FileName(u)), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing unit %s: %w", u.ID, err)
	}
	return f.Close()
}

// overwrite atomically replaces a unit file's content via tmp and rename.
func (r *Registry) overwrite(path string, u *WorkUnit) error {
	data, err := Encode(u)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing unit %s: %w", u.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing unit %s: %w", u.ID, err)
	}
	return nil
}

// read loads a unit file. The file name, not the frontmatter, is the
// authority on status: a claim commits with a rename and updates the
// content afterwards, so the frontmatter can briefly lag the name.
func (r *Registry) read(path string) (*WorkUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("reading unit file: %w", err)
	}
	u, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if _, status, perr := ParseFileName(filepath.Base(path)); perr == nil {
		u.Status = status
	}
	return u, nil
}
