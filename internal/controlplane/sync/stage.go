package sync

import (
	"context"
)

// Stage applies the stream's resulting file changes into target's working
// tree without creating a commit or moving target's ref, for a caller that
// wants to inspect or run checks against the landed state before it becomes
// real history.
func (e *Engine) Stage(ctx context.Context, execID, target string) error {
	stream, err := e.streamForExecution(ctx, execID)
	if err != nil {
		return err
	}

	if err := ensureClean(ctx, e.git, e.repoRoot); err != nil {
		return err
	}

	base, err := e.git.MergeBase(ctx, target, stream.HeadCommit)
	if err != nil {
		return err
	}
	commits, err := e.git.CommitsBetween(ctx, base, stream.HeadCommit)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		return nil
	}

	scratchBranch := "sync-stage/" + stream.ID
	dir, cleanup, err := e.scratchWorktree(ctx, scratchBranch, target)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := e.cherryPickWithStructuredMerge(ctx, dir, base, target, stream.HeadCommit, commits); err != nil {
		return err
	}

	return e.git.ApplyTreeToWorkingDir(ctx, e.repoRoot, scratchBranch)
}
