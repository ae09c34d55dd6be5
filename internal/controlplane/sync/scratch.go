package sync

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sudocode/controlplane/internal/controlplane/gitsurface"
)

// scratchWorktree creates a disposable worktree on a fresh branch rooted at
// baseRef, used by preview (to simulate a landing) and by the squash/stage
// strategies (to build the landed tree before moving any real ref). The
// returned cleanup always removes the worktree directory and the branch,
// regardless of what the caller did inside it.
func (e *Engine) scratchWorktree(ctx context.Context, branch, baseRef string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "controlplane-sync-*")
	if err != nil {
		return "", nil, err
	}
	// git worktree add refuses to create the leaf directory itself when it
	// already exists, even empty, so hand it a path one level down.
	dir = filepath.Join(dir, branchSafe(branch))

	if err := e.git.WorktreeAdd(ctx, dir, branch, baseRef); err != nil {
		return "", nil, err
	}

	cleanup := func() {
		_ = e.git.WorktreeRemove(ctx, dir)
		_ = e.git.DeleteBranch(ctx, branch)
	}
	return dir, cleanup, nil
}

func branchSafe(branch string) string {
	return "wt-" + filepath.Base(branch)
}
