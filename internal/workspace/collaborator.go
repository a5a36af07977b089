package workspace

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Collaborator abstracts the version-control operations isolation needs.
type Collaborator interface {
	// Prepare creates an isolated working directory for the unit and
	// returns its path and the branch the work happens on.
	Prepare(ctx context.Context, baseRepo, unitID string) (dir, branch string, err error)

	// Integrate lands the clone's changes back on the base repository as
	// the given branch. A clean worktree integrates as a no-op.
	Integrate(ctx context.Context, dir, branch string) error

	// Destroy removes the isolated directory.
	Destroy(dir string) error
}

// GitCollaborator implements Collaborator with full local clones. Each unit
// works on its own branch; Integrate pushes that branch back to the base
// repository, where it waits for review rather than touching the checked-out
// tree.
type GitCollaborator struct {
	// TempDir overrides where clones are created. Empty uses the system
	// temp directory.
	TempDir string

	// Author identifies integration commits. Zero value uses a default.
	AuthorName  string
	AuthorEmail string
}

const (
	defaultAuthorName  = "dispatchd"
	defaultAuthorEmail = "dispatchd@localhost"
	branchPrefix       = "dispatchd/unit-"
)

var branchUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._/-]+`)

// BranchName derives a valid git branch name for a unit.
func BranchName(unitID string) string {
	safe := branchUnsafe.ReplaceAllString(unitID, "-")
	safe = strings.Trim(safe, "-./")
	if safe == "" {
		safe = "unknown"
	}
	return branchPrefix + safe
}

func (g *GitCollaborator) Prepare(ctx context.Context, baseRepo, unitID string) (string, string, error) {
	if _, err := git.PlainOpen(baseRepo); err != nil {
		return "", "", fmt.Errorf("opening base repository %s: %w", baseRepo, err)
	}

	dir, err := os.MkdirTemp(g.TempDir, "dispatchd-unit-*")
	if err != nil {
		return "", "", fmt.Errorf("creating clone directory: %w", err)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: baseRepo})
	if err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("cloning %s: %w", baseRepo, err)
	}

	branch := BranchName(unitID)
	wt, err := repo.Worktree()
	if err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: true,
	}); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("creating branch %s: %w", branch, err)
	}
	return dir, branch, nil
}

func (g *GitCollaborator) Integrate(ctx context.Context, dir, branch string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("opening clone: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("reading clone status: %w", err)
	}
	if !status.IsClean() {
		if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			return fmt.Errorf("staging changes: %w", err)
		}
		name, email := g.AuthorName, g.AuthorEmail
		if name == "" {
			name = defaultAuthorName
		}
		if email == "" {
			email = defaultAuthorEmail
		}
		if _, err := wt.Commit(fmt.Sprintf("work on %s", branch), &git.CommitOptions{
			Author: &object.Signature{Name: name, Email: email, When: time.Now()},
		}); err != nil {
			return fmt.Errorf("committing changes: %w", err)
		}
	}

	spec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{spec},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("pushing branch %s: %w", branch, err)
	}
	return nil
}

func (g *GitCollaborator) Destroy(dir string) error {
	return os.RemoveAll(dir)
}
