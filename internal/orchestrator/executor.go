package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/dispatchd/internal/contextbuild"
	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
	"github.com/fyrsmithlabs/dispatchd/internal/registry"
)

// Execution is everything an executor needs to work on one unit.
type Execution struct {
	Unit *registry.WorkUnit

	// Bundle is the assembled context for the unit.
	Bundle *contextbuild.Bundle

	// WorkDir is the directory the executor operates in. In isolated mode
	// it is a throwaway clone, otherwise the primary tree.
	WorkDir string
}

// Result is what an executor hands back on success.
type Result struct {
	// Summary is a short human-readable account of what was done.
	Summary string

	// Learnings are knowledge candidates codified from the execution.
	// Persisting them is best-effort; failures never fail the unit.
	Learnings []*knowledge.Learning
}

// Executor performs the actual work for a unit. Implementations live
// outside this module; the orchestrator only cares that Execute respects
// the context and reports an error on failure.
type Executor interface {
	Execute(ctx context.Context, ex Execution) (*Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, ex Execution) (*Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, ex Execution) (*Result, error) {
	return f(ctx, ex)
}

// WithTimeout bounds each execution. A zero timeout returns the executor
// unchanged.
func WithTimeout(exec Executor, timeout time.Duration) Executor {
	if timeout <= 0 {
		return exec
	}
	return ExecutorFunc(func(ctx context.Context, ex Execution) (*Result, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		res, err := exec.Execute(ctx, ex)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("execution timed out after %s: %w", timeout, err)
		}
		return res, err
	})
}
