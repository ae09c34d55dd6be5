package checkpoint

import (
	"context"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/mergequeue"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
	syncengine "github.com/sudocode/controlplane/internal/controlplane/sync"
)

// Store is the subset of repository.Repository the checkpoint engine needs.
type Store interface {
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)
	GetStream(ctx context.Context, id string) (*domain.Stream, error)

	CreateCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*domain.Checkpoint, error)
	GetCurrentCheckpoint(ctx context.Context, issueID string) (*domain.Checkpoint, error)
	SetCurrentCheckpoint(ctx context.Context, issueID, checkpointID string) error
	UpdateCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error
	ListCheckpoints(ctx context.Context, issueID string) ([]*domain.Checkpoint, error)

	ListRelationshipsTo(ctx context.Context, entityID string, label domain.RelationType) ([]*domain.Relationship, error)
}

var _ Store = repository.Repository(nil)

// Enqueuer is the subset of mergequeue.Queue createCheckpoint's autoEnqueue
// needs, kept as an interface to avoid importing mergequeue for its
// scheduling internals.
type Enqueuer interface {
	Enqueue(ctx context.Context, execID, target, agentID string, priority int) (*domain.MergeQueueEntry, error)
}

var _ Enqueuer = (*mergequeue.Queue)(nil)

// Strategist is the subset of sync.Engine promote drives. Stage is
// deliberately excluded: it never creates a commit or moves target's ref,
// so it does not constitute a landing a checkpoint can be marked against —
// it stays reachable only through the execution-scoped sync route.
type Strategist interface {
	Squash(ctx context.Context, execID, target, message string) (string, error)
	Preserve(ctx context.Context, execID, target string) (string, error)
}

var _ Strategist = (*syncengine.Engine)(nil)
