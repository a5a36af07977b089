package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	return r
}

func newUnit(title string) *WorkUnit {
	return &WorkUnit{
		Title:    title,
		Kind:     KindFinding,
		Priority: PriorityP2,
		Body:     "Details for " + title + "\n",
	}
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Create(ctx, newUnit("first task"))
	require.NoError(t, err)
	second, err := r.Create(ctx, newUnit("second task"))
	require.NoError(t, err)

	assert.Equal(t, "001", first.ID)
	assert.Equal(t, "002", second.ID)
	assert.Equal(t, StatusPending, first.Status)

	// File name encodes id, status and slug.
	_, err = os.Stat(filepath.Join(r.Dir(), "001-pending-first-task.md"))
	require.NoError(t, err)
}

func TestCreateValidates(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, &WorkUnit{Kind: KindFinding, Priority: PriorityP1})
	require.ErrorIs(t, err, ErrValidation)

	_, err = r.Create(ctx, &WorkUnit{Title: "x", Kind: "bogus", Priority: PriorityP1})
	require.ErrorIs(t, err, ErrValidation)

	_, err = r.Create(ctx, &WorkUnit{Title: "x", Kind: KindAdHoc, Priority: "P9"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestRoundTripPreservesUnit(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	in := newUnit("fix auth token refresh")
	in.Tags = []string{"auth", "bug"}
	in.Metadata = map[string]string{"source": "review-17"}
	created, err := r.Create(ctx, in)
	require.NoError(t, err)

	got, err := r.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, got.Title)
	assert.Equal(t, created.Tags, got.Tags)
	assert.Equal(t, created.Metadata, got.Metadata)
	assert.Equal(t, created.Body, got.Body)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
}

func TestListFiltersAndOrders(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	low := newUnit("low priority chore")
	low.Priority = PriorityP3
	_, err := r.Create(ctx, low)
	require.NoError(t, err)

	urgent := newUnit("urgent fix")
	urgent.Priority = PriorityP1
	urgent.Tags = []string{"prod"}
	_, err = r.Create(ctx, urgent)
	require.NoError(t, err)

	all, err := r.List(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "urgent fix", all[0].Title)

	tagged, err := r.List(Filter{Tags: []string{"prod"}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "urgent fix", tagged[0].Title)

	none, err := r.List(Filter{Status: StatusComplete})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListSkipsCorruptFiles(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Create(ctx, newUnit("good unit"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(
		filepath.Join(r.Dir(), "099-pending-bad.md"), []byte("no frontmatter"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(r.Dir(), "notes.txt"), []byte("unrelated"), 0o644))

	all, err := r.List(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "good unit", all[0].Title)
}

func TestTransitionLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	u, err := r.Create(ctx, newUnit("lifecycle"))
	require.NoError(t, err)

	u, err = r.Transition(ctx, u.ID, StatusReady, "triaged")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, u.Status)

	claimed, err := r.Claim(ctx, u.ID, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, claimed.Status)
	assert.Equal(t, "worker-1", claimed.ClaimedBy)

	done, err := r.Transition(ctx, u.ID, StatusComplete, "merged")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, done.Status)

	// The work log recorded every step.
	require.Len(t, done.Log, 3)
	assert.Equal(t, StatusReady, done.Log[0].To)
	assert.Equal(t, StatusInProgress, done.Log[1].To)
	assert.Equal(t, StatusComplete, done.Log[2].To)
	assert.Equal(t, "merged", done.Log[2].Note)
}

func TestTransitionIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	u, err := r.Create(ctx, newUnit("idempotent"))
	require.NoError(t, err)

	again, err := r.Transition(ctx, u.ID, StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)
	assert.Empty(t, again.Log, "no-op transition must not append a log entry")
}

func TestTransitionTerminalRejected(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	u, err := r.Create(ctx, newUnit("terminal"))
	require.NoError(t, err)
	_, err = r.Transition(ctx, u.ID, StatusAbandoned, "out of scope")
	require.NoError(t, err)

	_, err = r.Transition(ctx, u.ID, StatusReady, "")
	require.ErrorIs(t, err, ErrTerminalState)
}

func TestTransitionInvalidStep(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	u, err := r.Create(ctx, newUnit("invalid step"))
	require.NoError(t, err)

	_, err = r.Transition(ctx, u.ID, StatusComplete, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionFailedIsTerminal(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	u, err := r.Create(ctx, newUnit("doomed"))
	require.NoError(t, err)
	_, err = r.Transition(ctx, u.ID, StatusReady, "")
	require.NoError(t, err)
	_, err = r.Claim(ctx, u.ID, "worker-1")
	require.NoError(t, err)
	_, err = r.Transition(ctx, u.ID, StatusFailed, "executor crashed")
	require.NoError(t, err)

	_, err = r.Transition(ctx, u.ID, StatusReady, "requeued")
	require.ErrorIs(t, err, ErrTerminalState)
	_, err = r.Transition(ctx, u.ID, StatusAbandoned, "")
	require.ErrorIs(t, err, ErrTerminalState)

	got, err := r.Get(u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestFileNameStatusWinsOverFrontmatter(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	u, err := r.Create(ctx, newUnit("mid claim"))
	require.NoError(t, err)
	u, err = r.Transition(ctx, u.ID, StatusReady, "")
	require.NoError(t, err)

	// Recreate the moment between a claimer's rename and its frontmatter
	// update: the file carries the new status, the content the old one.
	renamed := *u
	renamed.Status = StatusInProgress
	require.NoError(t, os.Rename(
		filepath.Join(r.Dir(), FileName(u)),
		filepath.Join(r.Dir(), FileName(&renamed))))

	got, err := r.Get(u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)

	ready, err := r.List(Filter{Status: StatusReady})
	require.NoError(t, err)
	assert.Empty(t, ready, "a claimed unit must not list as ready")
}

func TestClaimExactlyOneWinner(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	u, err := r.Create(ctx, newUnit("contended"))
	require.NoError(t, err)
	_, err = r.Transition(ctx, u.ID, StatusReady, "")
	require.NoError(t, err)

	const claimers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	losers := 0

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := r.Claim(ctx, u.ID, fmt.Sprintf("worker-%d", n))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case assert.ErrorIs(t, err, ErrAlreadyClaimed):
				losers++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, claimers-1, losers)

	got, err := r.Get(u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
}

func TestClaimRequiresReady(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	u, err := r.Create(ctx, newUnit("not ready"))
	require.NoError(t, err)

	_, err = r.Claim(ctx, u.ID, "worker-1")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGetNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get("404")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentCreatesUniqueIDs(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	const creators = 8
	var wg sync.WaitGroup
	ids := make(chan string, creators)
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			u, err := r.Create(ctx, newUnit(fmt.Sprintf("parallel unit %d", n)))
			if assert.NoError(t, err) {
				ids <- u.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, creators)
}

func TestWatchReportsTransitions(t *testing.T) {
	r := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := r.Watch(ctx)
	require.NoError(t, err)

	u, err := r.Create(ctx, newUnit("watched"))
	require.NoError(t, err)
	_, err = r.Transition(ctx, u.ID, StatusReady, "")
	require.NoError(t, err)

	deadline := time.After(3 * time.Second)
	sawReady := false
	for !sawReady {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed early")
			if ev.ID == u.ID && ev.Status == StatusReady {
				sawReady = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for ready event")
		}
	}
}
