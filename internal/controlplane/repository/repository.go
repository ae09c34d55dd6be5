// Package repository defines the single interface business logic uses to
// reach persistent storage. One implementation, SQLStore in this package,
// serves both the sqlite and postgres drivers; Open selects the driver by
// configuration.
package repository

import (
	"context"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

// IssueFilter narrows ListIssues.
type IssueFilter struct {
	Status *domain.IssueStatus
	Parent *string
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	IssueID *string
	StreamID *string
	Status   *domain.ExecutionStatus
}

// Repository is the only path business logic uses to reach persistence.
type Repository interface {
	// Issues
	CreateIssue(ctx context.Context, issue *domain.Issue) error
	GetIssue(ctx context.Context, id string) (*domain.Issue, error)
	GetIssueByUUID(ctx context.Context, uuid string) (*domain.Issue, error)
	UpdateIssue(ctx context.Context, issue *domain.Issue) error
	DeleteIssue(ctx context.Context, id string) error
	ListIssues(ctx context.Context, filter IssueFilter) ([]*domain.Issue, error)

	// Specs
	CreateSpec(ctx context.Context, spec *domain.Spec) error
	GetSpec(ctx context.Context, id string) (*domain.Spec, error)
	UpdateSpec(ctx context.Context, spec *domain.Spec) error
	DeleteSpec(ctx context.Context, id string) error
	ListSpecs(ctx context.Context) ([]*domain.Spec, error)

	// Relationships
	CreateRelationship(ctx context.Context, rel *domain.Relationship) error
	GetRelationship(ctx context.Context, id string) (*domain.Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error
	ListRelationshipsFrom(ctx context.Context, entityID string, label domain.RelationType) ([]*domain.Relationship, error)
	ListRelationshipsTo(ctx context.Context, entityID string, label domain.RelationType) ([]*domain.Relationship, error)
	ListAllRelationships(ctx context.Context) ([]*domain.Relationship, error)

	// Feedback
	CreateFeedback(ctx context.Context, feedback *domain.Feedback) error
	ListFeedback(ctx context.Context, toID string) ([]*domain.Feedback, error)

	// Streams
	CreateStream(ctx context.Context, stream *domain.Stream) error
	GetStream(ctx context.Context, id string) (*domain.Stream, error)
	GetActiveStreamByIssue(ctx context.Context, issueID string) (*domain.Stream, error)
	UpdateStream(ctx context.Context, stream *domain.Stream) error
	ListDependentStreams(ctx context.Context, issueID string) ([]*domain.Stream, error)
	ListAllActiveStreams(ctx context.Context) ([]*domain.Stream, error)

	// Executions
	CreateExecution(ctx context.Context, execution *domain.Execution) error
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)
	UpdateExecution(ctx context.Context, execution *domain.Execution) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*domain.Execution, error)
	GetRunningExecutionForStream(ctx context.Context, streamID string) (*domain.Execution, error)

	// Checkpoints
	CreateCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*domain.Checkpoint, error)
	GetCurrentCheckpoint(ctx context.Context, issueID string) (*domain.Checkpoint, error)
	SetCurrentCheckpoint(ctx context.Context, issueID, checkpointID string) error
	UpdateCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error
	ListCheckpoints(ctx context.Context, issueID string) ([]*domain.Checkpoint, error)

	// Merge queue
	EnqueueMergeEntry(ctx context.Context, entry *domain.MergeQueueEntry) error
	GetMergeEntry(ctx context.Context, target, execID string) (*domain.MergeQueueEntry, error)
	UpdateMergeEntry(ctx context.Context, entry *domain.MergeQueueEntry) error
	DeleteMergeEntry(ctx context.Context, target, execID string) error
	ListMergeEntries(ctx context.Context, target string) ([]*domain.MergeQueueEntry, error)

	// Safety tags
	CreateSafetyTag(ctx context.Context, tag *domain.SafetyTag) error
	GetSafetyTag(ctx context.Context, name string) (*domain.SafetyTag, error)

	Close() error
}
