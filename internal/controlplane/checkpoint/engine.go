// Package checkpoint implements the review/promote gate: a checkpoint names
// a reviewable stream tip, review moves it through pending/approved/
// changes_requested, and promote integrates an approved checkpoint into its
// issue's target branch via the sync engine.
package checkpoint

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/gitsurface"
)

// Engine is the checkpoint/review/promote gate.
type Engine struct {
	store   Store
	git     *gitsurface.Operator
	queue   Enqueuer
	sync    Strategist
	locks   *issueLocks
	log     *logger.Logger
	enqueue bool
}

// NewEngine constructs a checkpoint engine. queueEnabled mirrors
// config.MergeQueueConfig.Enabled: when false, createCheckpoint's
// autoEnqueue is ignored even if the caller asks for it.
func NewEngine(store Store, git *gitsurface.Operator, queue Enqueuer, strategist Strategist, queueEnabled bool, log *logger.Logger) *Engine {
	return &Engine{
		store:   store,
		git:     git,
		queue:   queue,
		sync:    strategist,
		locks:   newIssueLocks(),
		log:     log.WithFields(zap.String("component", "checkpoint")),
		enqueue: queueEnabled,
	}
}

// CreateCheckpoint records execID's stream tip as the current checkpoint for
// its issue, computing diff stats against the stream's base commit. When
// autoEnqueue is true and the merge queue is enabled, the execution is also
// enqueued against its stream's target branch.
func (e *Engine) CreateCheckpoint(ctx context.Context, execID, message string, autoEnqueue bool) (*domain.Checkpoint, error) {
	execution, err := e.store.GetExecution(ctx, execID)
	if err != nil {
		return nil, err
	}
	stream, err := e.store.GetStream(ctx, execution.StreamID)
	if err != nil {
		return nil, err
	}
	if execution.IssueID == nil {
		return nil, &domain.ValidationError{Field: "execution", Reason: "execution has no associated issue"}
	}
	issueID := *execution.IssueID

	stats, err := e.git.DiffStat(ctx, stream.BaseCommit, stream.HeadCommit)
	if err != nil {
		return nil, err
	}

	cp := &domain.Checkpoint{
		ID:          newCheckpointID(),
		IssueID:     issueID,
		ExecutionID: execID,
		CommitSHA:   stream.HeadCommit,
		Message:     message,
		Stats: domain.CheckpointStats{
			ChangedFiles: stats.FilesChanged,
			Additions:    stats.Insertions,
			Deletions:    stats.Deletions,
		},
		ReviewState: domain.ReviewPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	if err := e.store.SetCurrentCheckpoint(ctx, issueID, cp.ID); err != nil {
		return nil, err
	}

	if autoEnqueue && e.enqueue && e.queue != nil {
		if _, err := e.queue.Enqueue(ctx, execID, stream.TargetBranch, "", 0); err != nil {
			return nil, err
		}
	}

	e.log.WithIssueID(issueID).WithExecutionID(execID).Info("checkpoint created")
	return cp, nil
}
