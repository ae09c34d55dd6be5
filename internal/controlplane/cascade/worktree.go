package cascade

import (
	"context"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/gitsurface"
	"github.com/sudocode/controlplane/internal/controlplane/worktree"
)

// manager is the subset of *worktree.Manager the checker needs.
type manager interface {
	Exists(ctx context.Context, streamID string) (bool, error)
}

// StreamWorktreeChecker implements WorktreeChecker over a worktree manager
// and a git operator: a stream's worktree must both be registered (Exists)
// and have no uncommitted modifications before cascade will rebase it.
type StreamWorktreeChecker struct {
	manager manager
	git     *gitsurface.Operator
}

// NewStreamWorktreeChecker builds a WorktreeChecker from a worktree manager
// and a git operator rooted at the project.
func NewStreamWorktreeChecker(manager *worktree.Manager, git *gitsurface.Operator) *StreamWorktreeChecker {
	return &StreamWorktreeChecker{manager: manager, git: git}
}

var _ WorktreeChecker = (*StreamWorktreeChecker)(nil)

// WorktreeStatus reports whether stream's worktree is registered and clean.
func (c *StreamWorktreeChecker) WorktreeStatus(ctx context.Context, stream *domain.Stream) (bool, bool, error) {
	exists, err := c.manager.Exists(ctx, stream.ID)
	if err != nil {
		return false, false, err
	}
	if !exists || stream.WorktreePath == nil {
		return false, false, nil
	}
	clean, err := c.git.IsClean(ctx, *stream.WorktreePath)
	if err != nil {
		return true, false, err
	}
	return true, clean, nil
}
