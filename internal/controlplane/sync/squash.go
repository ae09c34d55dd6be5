package sync

import (
	"context"
	"fmt"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

// Squash lands execution's stream onto target as a single new commit:
// cherry-pick the stream's range onto a scratch branch rooted at target,
// auto-resolving structured-file conflicts as they're hit, then collapse the
// range to one commit and fast-forward target onto it.
func (e *Engine) Squash(ctx context.Context, execID, target, message string) (string, error) {
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

	base, err := e.git.MergeBase(ctx, target, stream.HeadCommit)
	if err != nil {
		return "", err
	}
	commits, err := e.git.CommitsBetween(ctx, base, stream.HeadCommit)
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return target, nil
	}

	scratchBranch := "sync-squash/" + stream.ID
	dir, cleanup, err := e.scratchWorktree(ctx, scratchBranch, target)
	if err != nil {
		return "", err
	}
	defer cleanup()

	if err := e.cherryPickWithStructuredMerge(ctx, dir, base, target, stream.HeadCommit, commits); err != nil {
		return "", err
	}

	if err := e.git.ResetSoft(ctx, dir, target); err != nil {
		return "", err
	}
	if message == "" {
		message = fmt.Sprintf("land %s onto %s", stream.ID, target)
	}
	if _, err := e.git.CommitTree(ctx, dir, message); err != nil {
		return "", err
	}

	if err := e.git.Checkout(ctx, e.repoRoot, target); err != nil {
		return "", err
	}
	if err := e.git.FastForward(ctx, e.repoRoot, scratchBranch); err != nil {
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

// cherryPickWithStructuredMerge applies commits onto dir (already checked
// out at some base), resolving any structured-file conflict inline and
// continuing, aborting and returning a *CodeConflictError on the first
// conflict outside the structured directory.
func (e *Engine) cherryPickWithStructuredMerge(ctx context.Context, dir, base, targetRef, streamRef string, commits []string) error {
	if err := e.git.CherryPick(ctx, dir, commits); err == nil {
		return nil
	}

	for {
		conflicted, err := e.git.ConflictedFiles(ctx, dir)
		if err != nil {
			_ = e.git.CherryPickAbort(ctx, dir)
			return err
		}
		if resolveErr := e.resolveStructuredConflicts(ctx, dir, base, targetRef, streamRef, conflicted); resolveErr != nil {
			_ = e.git.CherryPickAbort(ctx, dir)
			return resolveErr
		}
		if err := e.git.CherryPickContinue(ctx, dir); err == nil {
			return nil
		} else if !e.hasConflictedFiles(ctx, dir) {
			_ = e.git.CherryPickAbort(ctx, dir)
			return err
		}
	}
}

func (e *Engine) hasConflictedFiles(ctx context.Context, dir string) bool {
	files, err := e.git.ConflictedFiles(ctx, dir)
	return err == nil && len(files) > 0
}

func safetyTagName(streamID string) string {
	return "safety/sync/" + streamID
}

func (e *Engine) finishLanding(ctx context.Context, execution *domain.Execution, stream *domain.Stream, target, afterCommit string) error {
	execution.AfterCommit = afterCommit
	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return err
	}
	stream.State = domain.StreamLanded
	stream.HeadCommit = afterCommit
	if err := e.store.UpdateStream(ctx, stream); err != nil {
		return err
	}
	if e.cascade != nil {
		if err := e.cascade.OnStreamLanded(ctx, stream.ID, target, afterCommit); err != nil {
			e.log.WithError(err).Warn("cascade trigger failed after landing")
		}
	}
	return nil
}
