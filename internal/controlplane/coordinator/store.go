package coordinator

import (
	"context"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/gitsurface"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
	"github.com/sudocode/controlplane/internal/controlplane/worktree"
)

// Store is the subset of repository.Repository the execution coordinator needs.
type Store interface {
	GetIssue(ctx context.Context, id string) (*domain.Issue, error)

	CreateStream(ctx context.Context, stream *domain.Stream) error
	GetStream(ctx context.Context, id string) (*domain.Stream, error)
	GetActiveStreamByIssue(ctx context.Context, issueID string) (*domain.Stream, error)
	UpdateStream(ctx context.Context, stream *domain.Stream) error

	CreateExecution(ctx context.Context, execution *domain.Execution) error
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)
	UpdateExecution(ctx context.Context, execution *domain.Execution) error
	ListExecutions(ctx context.Context, filter repository.ExecutionFilter) ([]*domain.Execution, error)
	GetRunningExecutionForStream(ctx context.Context, streamID string) (*domain.Execution, error)
}

var _ Store = repository.Repository(nil)

// WorktreeProvider acquires a directory for a stream. Satisfied by
// *worktree.Manager; kept narrow so tests can fake it.
type WorktreeProvider interface {
	Acquire(ctx context.Context, streamID, targetBranch string) (string, error)
}

var _ WorktreeProvider = (*worktree.Manager)(nil)

// GitProvider is the subset of gitsurface.Operator the coordinator needs to
// resolve ref tips when allocating a stream.
type GitProvider interface {
	ResolveRef(ctx context.Context, dir, ref string) (string, error)
	HeadCommit(ctx context.Context, dir string) (string, error)
}

var _ GitProvider = (*gitsurface.Operator)(nil)
