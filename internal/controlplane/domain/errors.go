package domain

import "fmt"

// ValidationError reports a bad input; no state change results.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown execution/issue/checkpoint/etc.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// MissingDependencyError reports an undiscoverable agent binary or tool server.
type MissingDependencyError struct {
	Name    string
	Message string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing dependency %q: %s", e.Name, e.Message)
}

// ConflictError reports a merge-queue/review-gate conflict, e.g. a promote
// blocked by an unlanded dependency.
type ConflictError struct {
	Reason    string
	BlockedBy []string
}

func (e *ConflictError) Error() string {
	if len(e.BlockedBy) > 0 {
		return fmt.Sprintf("conflict: %s (blocked_by=%v)", e.Reason, e.BlockedBy)
	}
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// ProcessFailureKind distinguishes the flavor of a process-level failure.
type ProcessFailureKind string

const (
	ProcessSpawnFailed ProcessFailureKind = "spawn_failed"
	ProcessTimeout     ProcessFailureKind = "timeout"
	ProcessCrashed     ProcessFailureKind = "crashed"
)

// ProcessError reports a process-level failure; the execution it belongs to
// moves to a terminal status with this as the cause.
type ProcessError struct {
	Kind       ProcessFailureKind
	LastStderr string
	Cause      error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process %s: %s", e.Kind, e.LastStderr)
}

func (e *ProcessError) Unwrap() error { return e.Cause }

// GitFailureError reports a non-zero git subprocess exit during sync or
// cascade. The caller is expected to have already rolled back via safety tag.
type GitFailureError struct {
	Operation string
	Output    string
	Cause     error
}

func (e *GitFailureError) Error() string {
	return fmt.Sprintf("git %s failed: %s", e.Operation, e.Output)
}

func (e *GitFailureError) Unwrap() error { return e.Cause }

// StructuredMergeWarning records a single skipped relationship during import
// because it referenced an entity that does not exist locally. It is
// collected, not thrown.
type StructuredMergeWarning struct {
	RecordUUID string
	Reason     string
}

func (w StructuredMergeWarning) String() string {
	return fmt.Sprintf("%s: %s", w.RecordUUID, w.Reason)
}
