package checkpoint

import (
	"context"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

// ReviewAction is a caller-requested review transition.
type ReviewAction string

const (
	ActionApprove        ReviewAction = "approve"
	ActionRequestChanges ReviewAction = "request_changes"
	ActionReset          ReviewAction = "reset"
)

// reviewTransitions is the explicit (fromState, action) -> toState table.
// Any pair not present here is rejected as invalid.
var reviewTransitions = map[domain.ReviewState]map[ReviewAction]domain.ReviewState{
	domain.ReviewPending: {
		ActionApprove:        domain.ReviewApproved,
		ActionRequestChanges: domain.ReviewChangesRequested,
	},
	domain.ReviewApproved: {
		ActionReset: domain.ReviewPending,
	},
	domain.ReviewChangesRequested: {
		ActionReset: domain.ReviewPending,
	},
}

// Review applies a review action to issueID's current checkpoint, enforcing
// the pending/approved/changes_requested state machine. Transitions for one
// issue are serialized; concurrent reviews on different issues never block
// each other.
func (e *Engine) Review(ctx context.Context, issueID string, action ReviewAction, reviewer, notes string) (*domain.Checkpoint, error) {
	unlock := e.locks.lock(issueID)
	defer unlock()

	cp, err := e.store.GetCurrentCheckpoint(ctx, issueID)
	if err != nil {
		return nil, err
	}

	next, ok := reviewTransitions[cp.ReviewState][action]
	if !ok {
		return nil, &domain.ValidationError{
			Field:  "action",
			Reason: string(action) + " is not valid from state " + string(cp.ReviewState),
		}
	}

	cp.ReviewState = next
	cp.Reviewer = reviewer
	cp.Notes = notes
	if err := e.store.UpdateCheckpoint(ctx, cp); err != nil {
		return nil, err
	}

	e.log.WithIssueID(issueID).Info("checkpoint reviewed")
	return cp, nil
}
