package sync

import (
	"context"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

// Preserve lands execution's stream onto target without squashing: if the
// stream is already a descendant of target, target is simply fast-forwarded
// to the stream tip; otherwise the stream's own worktree is rebased onto
// target first, with the same inline structured-file auto-merge, and target
// is fast-forwarded to the rebased tip.
func (e *Engine) Preserve(ctx context.Context, execID, target string) (string, error) {
	execution, err := e.store.GetExecution(ctx, execID)
	if err != nil {
		return "", err
	}
	stream, err := e.store.GetStream(ctx, execution.StreamID)
	if err != nil {
		return "", err
	}

	if err := ensureClean(ctx, e.git, e.repoRoot); err != nil {
		return "", err
	}
	if err := e.recordSafetyTag(ctx, safetyTagName(stream.ID), stream.HeadCommit); err != nil {
		return "", err
	}

	targetCommit, err := e.git.ResolveRef(ctx, e.repoRoot, target)
	if err != nil {
		return "", err
	}
	base, err := e.git.MergeBase(ctx, target, stream.HeadCommit)
	if err != nil {
		return "", err
	}

	tip := stream.HeadCommit
	if base != targetCommit {
		tip, err = e.rebaseStreamOnto(ctx, stream, target, base)
		if err != nil {
			return "", err
		}
	}

	if err := e.git.Checkout(ctx, e.repoRoot, target); err != nil {
		return "", err
	}
	if err := e.git.FastForward(ctx, e.repoRoot, tip); err != nil {
		return "", err
	}
	afterCommit, err := e.git.HeadCommit(ctx, e.repoRoot)
	if err != nil {
		return "", err
	}

	if err := e.finishLanding(ctx, execution, stream, target, afterCommit); err != nil {
		return "", err
	}
	return afterCommit, nil
}

// rebaseStreamOnto rebases stream's own worktree onto target, resolving
// structured-file conflicts inline, and returns the rebased tip commit. On
// an unresolvable code conflict the worktree is restored from the stream's
// safety tag and no ref (other than the stream's own branch, already
// untouched) moves.
func (e *Engine) rebaseStreamOnto(ctx context.Context, stream *domain.Stream, target, base string) (string, error) {
	if stream.WorktreePath == nil {
		return "", &DirtyWorkingTreeError{Dir: "(no worktree for stream " + stream.ID + ")"}
	}
	dir := *stream.WorktreePath

	if err := ensureClean(ctx, e.git, dir); err != nil {
		return "", err
	}

	if err := e.git.RebaseOnto(ctx, dir, target); err != nil {
		if rerr := e.continueRebaseWithStructuredMerge(ctx, dir, base, target, stream.HeadCommit); rerr != nil {
			_ = e.git.RebaseAbort(ctx, dir)
			_ = e.git.RestoreFromSafetyTag(ctx, dir, safetyTagName(stream.ID))
			return "", rerr
		}
	}

	return e.git.HeadCommit(ctx, dir)
}

// RebaseStreamOnto rebases streamID's own worktree onto newBase (a branch
// name or a bare commit), persists the stream's new head on success, and
// leaves the stream's branch untouched on a code conflict. It never moves
// newBase itself and never looks at an execution, so the cascade engine can
// drive it directly for each dependent stream without routing through a
// landing strategy.
func (e *Engine) RebaseStreamOnto(ctx context.Context, streamID, newBase string) (string, error) {
	stream, err := e.store.GetStream(ctx, streamID)
	if err != nil {
		return "", err
	}
	if err := e.recordSafetyTag(ctx, safetyTagName(stream.ID), stream.HeadCommit); err != nil {
		return "", err
	}
	base, err := e.git.MergeBase(ctx, newBase, stream.HeadCommit)
	if err != nil {
		return "", err
	}
	tip, err := e.rebaseStreamOnto(ctx, stream, newBase, base)
	if err != nil {
		return "", err
	}
	stream.HeadCommit = tip
	if err := e.store.UpdateStream(ctx, stream); err != nil {
		return "", err
	}
	return tip, nil
}

func (e *Engine) continueRebaseWithStructuredMerge(ctx context.Context, dir, base, target, streamRef string) error {
	for {
		conflicted, err := e.git.ConflictedFiles(ctx, dir)
		if err != nil {
			return err
		}
		if resolveErr := e.resolveStructuredConflicts(ctx, dir, base, target, streamRef, conflicted); resolveErr != nil {
			return resolveErr
		}
		if err := e.git.RebaseContinue(ctx, dir); err == nil {
			return nil
		} else if !e.hasConflictedFiles(ctx, dir) {
			return err
		}
	}
}
