// Package workspace controls where a work unit executes.
//
// In-place mode runs the executor directly in the primary work tree,
// guarded by a lock file so only one unit touches the tree at a time.
// Isolated mode gives each unit a throwaway clone; completed work is
// integrated back as a branch on the primary repository and the clone is
// always destroyed, success or not.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Errors for workspace operations.
var (
	ErrIsolation     = errors.New("workspace isolation failed")
	ErrWorkspaceBusy = errors.New("workspace is busy")
	ErrBadMode       = errors.New("unknown workspace mode")
)

// Mode selects the execution strategy.
type Mode string

const (
	ModeInPlace  Mode = "in_place"
	ModeIsolated Mode = "isolated"
)

func (m Mode) Valid() bool {
	return m == ModeInPlace || m == ModeIsolated
}

// lockFileName guards the primary tree in in-place mode.
const lockFileName = ".dispatchd.lock"

// Manager hands out workspace leases.
type Manager struct {
	root   string
	mode   Mode
	collab Collaborator
	logger *zap.Logger

	// inproc backs the filesystem lock for in-place mode so same-process
	// contenders fail fast without touching the disk.
	inproc sync.Mutex
}

// NewManager creates a manager rooted at the primary work tree. Isolated
// mode requires a collaborator.
func NewManager(root string, mode Mode, collab Collaborator, logger *zap.Logger) (*Manager, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadMode, mode)
	}
	if mode == ModeIsolated && collab == nil {
		return nil, fmt.Errorf("%w: isolated mode needs a collaborator", ErrIsolation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		root:   root,
		mode:   mode,
		collab: collab,
		logger: logger.Named("workspace"),
	}, nil
}

// Root returns the primary work tree.
func (m *Manager) Root() string { return m.root }

// Lease is exclusive access to a directory for one unit's execution. Every
// acquired lease must be released exactly once; Release is idempotent so a
// deferred release after an explicit one is harmless.
type Lease struct {
	UnitID string
	Dir    string
	Branch string

	mgr      *Manager
	mode     Mode
	mu       sync.Mutex
	released bool
}

// Acquire obtains a workspace for the unit. In-place leases point at the
// primary tree and fail with ErrWorkspaceBusy when it is already leased;
// isolated leases point at a fresh clone.
func (m *Manager) Acquire(ctx context.Context, unitID string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch m.mode {
	case ModeInPlace:
		return m.acquireInPlace(unitID)
	case ModeIsolated:
		return m.acquireIsolated(ctx, unitID)
	}
	return nil, fmt.Errorf("%w: %q", ErrBadMode, m.mode)
}

func (m *Manager) acquireInPlace(unitID string) (*Lease, error) {
	if !m.inproc.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceBusy, m.root)
	}

	lockPath := filepath.Join(m.root, lockFileName)
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		m.inproc.Unlock()
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s held by another process", ErrWorkspaceBusy, m.root)
		}
		return nil, fmt.Errorf("%w: creating lock: %v", ErrIsolation, err)
	}
	fmt.Fprintln(f, unitID)
	f.Close()

	m.logger.Debug("acquired in-place lease", zap.String("unit", unitID))
	return &Lease{UnitID: unitID, Dir: m.root, mgr: m, mode: ModeInPlace}, nil
}

func (m *Manager) acquireIsolated(ctx context.Context, unitID string) (*Lease, error) {
	dir, branch, err := m.collab.Prepare(ctx, m.root, unitID)
	if err != nil {
		return nil, fmt.Errorf("%w: preparing clone for unit %s: %v", ErrIsolation, unitID, err)
	}
	m.logger.Debug("acquired isolated lease",
		zap.String("unit", unitID),
		zap.String("dir", dir),
		zap.String("branch", branch))
	return &Lease{UnitID: unitID, Dir: dir, Branch: branch, mgr: m, mode: ModeIsolated}, nil
}

// Release frees the lease. For isolated leases, success integrates the
// work back first; the clone is destroyed regardless of outcome. Calling
// Release twice is a no-op.
func (l *Lease) Release(ctx context.Context, success bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true

	switch l.mode {
	case ModeInPlace:
		err := os.Remove(filepath.Join(l.mgr.root, lockFileName))
		l.mgr.inproc.Unlock()
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: removing lock: %v", ErrIsolation, err)
		}
		return nil

	case ModeIsolated:
		var integrateErr error
		if success {
			if err := l.mgr.collab.Integrate(ctx, l.Dir, l.Branch); err != nil {
				integrateErr = fmt.Errorf("%w: integrating unit %s: %v", ErrIsolation, l.UnitID, err)
			}
		}
		if err := l.mgr.collab.Destroy(l.Dir); err != nil {
			l.mgr.logger.Warn("destroying clone failed",
				zap.String("unit", l.UnitID), zap.Error(err))
		}
		return integrateErr
	}
	return nil
}
