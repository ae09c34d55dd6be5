package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

// Strategy names a sync landing strategy promote() can drive.
type Strategy string

const (
	StrategySquash   Strategy = "squash"
	StrategyPreserve Strategy = "preserve"
)

// PromoteOptions configures a promote call.
type PromoteOptions struct {
	// Strategy selects the landing strategy; empty means squash.
	Strategy Strategy
	// Message is the commit message for a squash landing.
	Message string
	// Force bypasses the approved-state gate, the blocking-dependency gate
	// and the running-execution gate.
	Force bool
}

// Promote integrates issueID's current checkpoint into its stream's target
// branch. Gates run in order: missing checkpoint, then approval state, then
// blocking dependencies, then an owning execution that is still
// preparing/pending/running. On success the sync engine's own landing logic has
// already triggered the cascade rebase of dependents.
func (e *Engine) Promote(ctx context.Context, issueID string, opts PromoteOptions) (*domain.Checkpoint, error) {
	unlock := e.locks.lock(issueID)
	defer unlock()

	cp, err := e.store.GetCurrentCheckpoint(ctx, issueID)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, &domain.ValidationError{Field: "checkpoint", Reason: "issue has no current checkpoint"}
		}
		return nil, err
	}

	if cp.ReviewState != domain.ReviewApproved && !opts.Force {
		return nil, &domain.ConflictError{Reason: "checkpoint is not approved"}
	}

	if !opts.Force {
		blockedBy, err := e.unlandedBlockers(ctx, issueID)
		if err != nil {
			return nil, err
		}
		if len(blockedBy) > 0 {
			return nil, &domain.ConflictError{Reason: "blocked by unlanded dependencies", BlockedBy: blockedBy}
		}
	}

	execution, err := e.store.GetExecution(ctx, cp.ExecutionID)
	if err != nil {
		return nil, err
	}
	// A parked persistent session (waiting/paused) is not actively mutating
	// the worktree and may land; an execution still preparing/pending/running
	// owns the worktree exclusively and must finish or park first.
	if !opts.Force && (execution.Status == domain.ExecPreparing || execution.Status == domain.ExecPending || execution.Status == domain.ExecRunning) {
		return nil, &domain.ConflictError{Reason: "owning execution is still running"}
	}
	stream, err := e.store.GetStream(ctx, execution.StreamID)
	if err != nil {
		return nil, err
	}

	afterCommit, err := e.land(ctx, cp, stream.TargetBranch, opts)
	if err != nil {
		return nil, err
	}

	cp.Landed = true
	if err := e.store.UpdateCheckpoint(ctx, cp); err != nil {
		return nil, err
	}

	e.log.WithIssueID(issueID).WithFields(zap.String("after_commit", afterCommit)).Info("checkpoint promoted")
	return cp, nil
}

func (e *Engine) land(ctx context.Context, cp *domain.Checkpoint, target string, opts PromoteOptions) (string, error) {
	switch opts.Strategy {
	case StrategyPreserve:
		return e.sync.Preserve(ctx, cp.ExecutionID, target)
	case StrategySquash, "":
		message := opts.Message
		if message == "" {
			message = cp.Message
		}
		return e.sync.Squash(ctx, cp.ExecutionID, target, message)
	default:
		return "", fmt.Errorf("unknown promote strategy %q", opts.Strategy)
	}
}

// unlandedBlockers returns the issue ids that block issueID (edge
// blocks(X, issueID)) and have no landed checkpoint yet.
func (e *Engine) unlandedBlockers(ctx context.Context, issueID string) ([]string, error) {
	rels, err := e.store.ListRelationshipsTo(ctx, issueID, domain.RelationBlocks)
	if err != nil {
		return nil, err
	}
	var blocked []string
	for _, rel := range rels {
		landed, err := e.hasLandedCheckpoint(ctx, rel.FromID)
		if err != nil {
			return nil, err
		}
		if !landed {
			blocked = append(blocked, rel.FromID)
		}
	}
	return blocked, nil
}

func (e *Engine) hasLandedCheckpoint(ctx context.Context, issueID string) (bool, error) {
	checkpoints, err := e.store.ListCheckpoints(ctx, issueID)
	if err != nil {
		return false, err
	}
	for _, cp := range checkpoints {
		if cp.Landed {
			return true, nil
		}
	}
	return false, nil
}
