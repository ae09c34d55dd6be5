package exportimport

import (
	"context"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/mergequeue"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
)

// Status is a point-in-time snapshot of a target branch's merge queue plus
// every open issue's current checkpoint, printed by `controlplane-cli status`.
type Status struct {
	Target      string
	Queue       []*domain.MergeQueueEntry
	Checkpoints []IssueCheckpoint
}

// IssueCheckpoint pairs an issue with its currently-promoted checkpoint, if
// any.
type IssueCheckpoint struct {
	IssueID    string
	IssueTitle string
	Checkpoint *domain.Checkpoint
}

// BuildStatus gathers the merge queue for target and the current checkpoint
// of every open/in-progress issue.
func BuildStatus(ctx context.Context, repo repository.Repository, queue *mergequeue.Queue, target string) (Status, error) {
	entries, err := queue.List(ctx, target)
	if err != nil {
		return Status{}, err
	}

	issues, err := repo.ListIssues(ctx, repository.IssueFilter{})
	if err != nil {
		return Status{}, err
	}

	var checkpoints []IssueCheckpoint
	for _, issue := range issues {
		if issue.Status == domain.IssueClosed {
			continue
		}
		cp, err := repo.GetCurrentCheckpoint(ctx, issue.ID)
		if err != nil {
			cp = nil
		}
		checkpoints = append(checkpoints, IssueCheckpoint{
			IssueID:    issue.ID,
			IssueTitle: issue.Title,
			Checkpoint: cp,
		})
	}

	return Status{Target: target, Queue: entries, Checkpoints: checkpoints}, nil
}
