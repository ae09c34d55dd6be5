// Package domain holds the core entities of the control plane: issues, specs,
// relationships, feedback, streams, executions, checkpoints, merge-queue
// entries and safety tags.
package domain

import "time"

// IssueStatus is the lifecycle state of an issue.
type IssueStatus string

const (
	IssueOpen       IssueStatus = "open"
	IssueInProgress IssueStatus = "in_progress"
	IssueBlocked    IssueStatus = "blocked"
	IssueClosed     IssueStatus = "closed"
)

// Issue is a user-visible unit of work.
type Issue struct {
	ID        string // stable, human-readable, assigned monotonically
	UUID      string // immutable
	Title     string
	Content   string
	Status    IssueStatus
	Priority  int
	ParentID  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Spec has the same shape as Issue but anchors to a file path and carries no
// status or feedback.
type Spec struct {
	ID        string
	UUID      string
	Title     string
	Content   string
	FilePath  string
	ParentID  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RelationType labels a directed edge between two entities.
type RelationType string

const (
	RelationBlocks    RelationType = "blocks"
	RelationDependsOn RelationType = "depends-on"
	RelationImplements RelationType = "implements"
	RelationReferences RelationType = "references"
	RelationRelated   RelationType = "related"
)

// EntityKind distinguishes which table a relationship endpoint belongs to.
type EntityKind string

const (
	EntityIssue EntityKind = "issue"
	EntitySpec  EntityKind = "spec"
)

// Relationship is a directed labeled edge between two entities.
type Relationship struct {
	ID       string
	UUID     string
	FromID   string
	FromType EntityKind
	ToID     string
	ToType   EntityKind
	Type     RelationType
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FeedbackType classifies a Feedback record.
type FeedbackType string

const (
	FeedbackComment         FeedbackType = "comment"
	FeedbackSuggestion      FeedbackType = "suggestion"
	FeedbackApproval        FeedbackType = "approval"
	FeedbackRequestChanges  FeedbackType = "request_changes"
)

// Feedback is keyed by (from-entity, to-entity).
type Feedback struct {
	ID        string
	UUID      string
	FromID    string
	ToID      string
	Type      FeedbackType
	Content   string
	Dismissed bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StreamState is the lifecycle state of a Stream.
type StreamState string

const (
	StreamActive    StreamState = "active"
	StreamWaiting   StreamState = "waiting"
	StreamPaused    StreamState = "paused"
	StreamLanded    StreamState = "landed"
	StreamAbandoned StreamState = "abandoned"
)

// Stream is a long-lived branch of work attached to one issue.
type Stream struct {
	ID           string
	IssueID      string
	TargetBranch string
	BaseCommit   string
	HeadCommit   string
	State        StreamState
	WorktreePath *string
	Position     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExecutionMode distinguishes worktree-isolated from project-root executions.
type ExecutionMode string

const (
	ModeWorktree ExecutionMode = "worktree"
	ModeLocal    ExecutionMode = "local"
)

// ValidExecutionMode reports whether mode is a known ExecutionMode.
func ValidExecutionMode(mode ExecutionMode) bool {
	switch mode {
	case ModeWorktree, ModeLocal:
		return true
	default:
		return false
	}
}

// SessionMode distinguishes a discrete execution, which runs one prompt to
// a terminal status and closes its agent session, from a persistent one,
// which parks the session between turns awaiting further prompts.
type SessionMode string

const (
	SessionDiscrete   SessionMode = "discrete"
	SessionPersistent SessionMode = "persistent"
)

// ValidSessionMode reports whether mode is a known SessionMode.
func ValidSessionMode(mode SessionMode) bool {
	switch mode {
	case SessionDiscrete, SessionPersistent:
		return true
	default:
		return false
	}
}

// SessionEndMode selects which non-terminal status a persistent execution
// parks in between turns. "waiting" is subject to the execution's idle
// timer; "paused" is not and is left by sendPrompt, endSession, cancel, or
// (with EndOnDisconnect) the last subscriber disconnecting.
type SessionEndMode string

const (
	SessionEndWaiting SessionEndMode = "waiting"
	SessionEndPaused  SessionEndMode = "paused"
)

// ValidSessionEndMode reports whether mode is a known SessionEndMode.
func ValidSessionEndMode(mode SessionEndMode) bool {
	switch mode {
	case SessionEndWaiting, SessionEndPaused:
		return true
	default:
		return false
	}
}

// ExecutionStatus is an execution's place in its run lifecycle.
type ExecutionStatus string

const (
	ExecPreparing ExecutionStatus = "preparing"
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecWaiting   ExecutionStatus = "waiting"
	ExecPaused    ExecutionStatus = "paused"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecStopped   ExecutionStatus = "stopped"
	ExecCrashed   ExecutionStatus = "crashed"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecCompleted, ExecFailed, ExecStopped, ExecCrashed:
		return true
	default:
		return false
	}
}

// Execution is one run of an agent against a stream.
type Execution struct {
	ID              string
	StreamID        string
	IssueID         *string
	AgentKind       string
	Mode            ExecutionMode
	Prompt          string
	ParentExecID    *string
	SessionID       *string
	BeforeCommit    string
	AfterCommit     string
	Status          ExecutionStatus
	ErrorMessage    string

	// SessionMode governs whether the agent session is discarded after one
	// turn (SessionDiscrete, the default) or parked for further prompts
	// (SessionPersistent). SessionEndMode picks which parked status a
	// persistent execution settles into between turns.
	SessionMode     SessionMode
	SessionEndMode  SessionEndMode
	// IdleTimeoutMS auto-ends a persistent execution after this many
	// milliseconds spent in ExecWaiting with no sendPrompt/endSession. Zero
	// disables the timer (the default); it never fires while ExecPaused.
	IdleTimeoutMS   int
	// EndOnDisconnect auto-ends a persistent execution once its last
	// transport subscriber disconnects while parked.
	EndOnDisconnect bool

	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// ReviewState is the checkpoint review state machine.
type ReviewState string

const (
	ReviewPending          ReviewState = "pending"
	ReviewApproved         ReviewState = "approved"
	ReviewChangesRequested ReviewState = "changes_requested"
)

// CheckpointStats summarizes a checkpoint's diff against its stream's base.
type CheckpointStats struct {
	ChangedFiles int
	Additions    int
	Deletions    int
}

// Checkpoint is a named tip of a stream presented for review.
type Checkpoint struct {
	ID          string
	IssueID     string
	ExecutionID string
	CommitSHA   string
	Message     string
	Stats       CheckpointStats
	ReviewState ReviewState
	Reviewer    string
	Notes       string
	Landed      bool
	CreatedAt   time.Time
}

// QueueEntryStatus is the lifecycle of a merge-queue entry.
type QueueEntryStatus string

const (
	QueuePending  QueueEntryStatus = "pending"
	QueueMerging  QueueEntryStatus = "merging"
	QueueFailed   QueueEntryStatus = "failed"
	QueueLanded   QueueEntryStatus = "landed"
	QueueCancelled QueueEntryStatus = "cancelled"
)

// MergeQueueEntry is (target branch, execution id) plus queue bookkeeping.
type MergeQueueEntry struct {
	ExecutionID string
	Target      string
	Status      QueueEntryStatus
	Position    int
	Priority    int
	AgentID     string
	InsertedAt  time.Time
}

// SafetyTag is a named git ref pointing at a commit, used to recover after
// destructive operations.
type SafetyTag struct {
	Name      string
	Commit    string
	CreatedAt time.Time
}
