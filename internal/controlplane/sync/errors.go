package sync

import "fmt"

// CodeConflictError reports a conflict outside the project's structured-file
// directory, which the merger cannot auto-resolve and which therefore
// requires a human to pick a strategy or resolve it by hand.
type CodeConflictError struct {
	Files []string
}

func (e *CodeConflictError) Error() string {
	return fmt.Sprintf("code conflict in %v, requires manual resolution", e.Files)
}

// DirtyWorkingTreeError reports that a landing target (or a dependent's
// worktree, from the cascade engine) has modified, staged or untracked files.
type DirtyWorkingTreeError struct {
	Dir string
}

func (e *DirtyWorkingTreeError) Error() string {
	return fmt.Sprintf("%s has uncommitted changes", e.Dir)
}
