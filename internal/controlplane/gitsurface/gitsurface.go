// Package gitsurface wraps the git subprocess operations the sync and
// cascade engines need: worktree lifecycle, safety tags, merge-base/diff
// introspection, and the primitives a squash/preserve/rebase strategy is
// built from.
package gitsurface

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

var validBranchNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*$`)

func isValidBranchName(branch string) bool {
	if branch == "" || len(branch) > 255 || strings.Contains(branch, "..") {
		return false
	}
	return validBranchNameRegex.MatchString(branch)
}

// Operator executes git subprocess operations against one repository
// checkout (either the bare project root or a worktree directory).
type Operator struct {
	repoRoot string
	log      *logger.Logger
}

// New returns an Operator rooted at repoRoot.
func New(repoRoot string, log *logger.Logger) *Operator {
	return &Operator{repoRoot: repoRoot, log: log.WithFields(zap.String("component", "gitsurface"))}
}

func (o *Operator) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	output := stdout.String()
	if err != nil {
		return output, &domain.GitFailureError{
			Operation: strings.Join(args, " "),
			Output:    strings.TrimSpace(stderr.String()),
			Cause:     err,
		}
	}
	return output, nil
}

// DiffStats aggregates commit-range diff statistics.
type DiffStats struct {
	FilesChanged int
	Insertions   int
	Deletions    int
}

// MergeBase returns the merge-base commit of a and b.
func (o *Operator) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := o.run(ctx, o.repoRoot, "merge-base", a, b)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CommitsBetween lists commit SHAs reachable from to but not from, oldest
// first — the set a stream range lands.
func (o *Operator) CommitsBetween(ctx context.Context, from, to string) ([]string, error) {
	out, err := o.run(ctx, o.repoRoot, "rev-list", "--reverse", from+".."+to)
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// DiffStat computes aggregate added/changed/deleted file stats between two
// refs by parsing numstat output.
func (o *Operator) DiffStat(ctx context.Context, from, to string) (DiffStats, error) {
	out, err := o.run(ctx, o.repoRoot, "diff", "--numstat", from, to)
	if err != nil {
		return DiffStats{}, err
	}
	var stats DiffStats
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		stats.FilesChanged++
		if n, err := strconv.Atoi(fields[0]); err == nil {
			stats.Insertions += n
		}
		if n, err := strconv.Atoi(fields[1]); err == nil {
			stats.Deletions += n
		}
	}
	return stats, nil
}

// IsClean reports whether dir's working tree has no modified, staged or
// untracked files.
func (o *Operator) IsClean(ctx context.Context, dir string) (bool, error) {
	out, err := o.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// HeadCommit returns the current HEAD commit SHA in dir.
func (o *Operator) HeadCommit(ctx context.Context, dir string) (string, error) {
	return o.ResolveRef(ctx, dir, "HEAD")
}

// ResolveRef resolves any ref (branch, tag, HEAD, or SHA) to its commit SHA.
func (o *Operator) ResolveRef(ctx context.Context, dir, ref string) (string, error) {
	out, err := o.run(ctx, dir, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CreateSafetyTag tags commit under name, overwriting any prior tag of the
// same name, so an operation can be rolled back by resetting to it.
func (o *Operator) CreateSafetyTag(ctx context.Context, name, commit string) (*domain.SafetyTag, error) {
	if _, err := o.run(ctx, o.repoRoot, "tag", "-f", name, commit); err != nil {
		return nil, err
	}
	return &domain.SafetyTag{Name: name, Commit: commit}, nil
}

// RestoreFromSafetyTag hard-resets dir's current branch to tag's commit,
// used to roll back a failed sync or cascade operation.
func (o *Operator) RestoreFromSafetyTag(ctx context.Context, dir, tagName string) error {
	_, err := o.run(ctx, dir, "reset", "--hard", tagName)
	return err
}

// WorktreeAdd creates a new worktree at path on a fresh branch from baseRef.
func (o *Operator) WorktreeAdd(ctx context.Context, path, branch, baseRef string) error {
	if !isValidBranchName(branch) {
		return fmt.Errorf("invalid branch name %q", branch)
	}
	_, err := o.run(ctx, o.repoRoot, "worktree", "add", "-b", branch, path, baseRef)
	return err
}

// WorktreeRemove removes the worktree at path, forcing removal of any
// uncommitted state in it.
func (o *Operator) WorktreeRemove(ctx context.Context, path string) error {
	_, err := o.run(ctx, o.repoRoot, "worktree", "remove", "--force", path)
	return err
}

// ListWorktrees returns the paths of all registered worktrees.
func (o *Operator) ListWorktrees(ctx context.Context) ([]string, error) {
	out, err := o.run(ctx, o.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// CherryPick applies commits onto dir's current branch, in order, stopping
// and leaving the worktree in a conflicted state on the first failure.
func (o *Operator) CherryPick(ctx context.Context, dir string, commits []string) error {
	if len(commits) == 0 {
		return nil
	}
	args := append([]string{"cherry-pick"}, commits...)
	_, err := o.run(ctx, dir, args...)
	return err
}

// CherryPickAbort aborts an in-progress cherry-pick.
func (o *Operator) CherryPickAbort(ctx context.Context, dir string) error {
	_, err := o.run(ctx, dir, "cherry-pick", "--abort")
	return err
}

// CherryPickContinue resumes a cherry-pick whose conflicts have all been
// staged by the caller.
func (o *Operator) CherryPickContinue(ctx context.Context, dir string) error {
	_, err := o.run(ctx, dir, "-c", "core.editor=true", "cherry-pick", "--continue")
	return err
}

// RebaseOnto rebases dir's current branch onto newBase.
func (o *Operator) RebaseOnto(ctx context.Context, dir, newBase string) error {
	_, err := o.run(ctx, dir, "rebase", newBase)
	return err
}

// RebaseContinue resumes a rebase whose conflicts have all been staged by
// the caller.
func (o *Operator) RebaseContinue(ctx context.Context, dir string) error {
	_, err := o.run(ctx, dir, "-c", "core.editor=true", "rebase", "--continue")
	return err
}

// RebaseAbort aborts an in-progress rebase.
func (o *Operator) RebaseAbort(ctx context.Context, dir string) error {
	_, err := o.run(ctx, dir, "rebase", "--abort")
	return err
}

// DeleteBranch force-deletes a local branch, used to clean up the temporary
// branches a sync strategy builds on.
func (o *Operator) DeleteBranch(ctx context.Context, branch string) error {
	_, err := o.run(ctx, o.repoRoot, "branch", "-D", branch)
	return err
}

// ApplyTreeToWorkingDir brings dir's working tree in line with ref's content
// without creating a commit or moving any ref, used by the stage strategy.
func (o *Operator) ApplyTreeToWorkingDir(ctx context.Context, dir, ref string) error {
	if _, err := o.run(ctx, dir, "checkout", ref, "--", "."); err != nil {
		return err
	}
	_, err := o.run(ctx, dir, "reset", "--mixed", "HEAD")
	return err
}

// ConflictedFiles lists paths currently in a conflicted (unmerged) state.
func (o *Operator) ConflictedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := o.run(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ReadBlob reads path's content at ref, returning ("", nil) if the path did
// not exist at that ref.
func (o *Operator) ReadBlob(ctx context.Context, dir, ref, path string) (string, error) {
	out, err := o.run(ctx, dir, "show", ref+":"+path)
	if err != nil {
		if gf, ok := err.(*domain.GitFailureError); ok && strings.Contains(gf.Output, "does not exist") {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// WriteResolvedBlob writes content over path in dir's working tree and
// stages it, used after the structured-file merger resolves a conflict.
func (o *Operator) WriteResolvedBlob(ctx context.Context, dir, path, content string) error {
	full := dir + "/" + path
	if err := writeFile(full, content); err != nil {
		return err
	}
	_, err := o.run(ctx, dir, "add", "--", path)
	return err
}

// CommitTree creates a single commit on dir's current branch with the given
// tree-equal-to-working-copy content and message, used to squash-collapse a
// cherry-picked range into one commit.
func (o *Operator) CommitTree(ctx context.Context, dir, message string) (string, error) {
	if _, err := o.run(ctx, dir, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := o.run(ctx, dir, "commit", "--allow-empty", "-m", message); err != nil {
		return "", err
	}
	return o.HeadCommit(ctx, dir)
}

// ResetSoft resets dir's current branch pointer to ref without touching the
// working tree or index, used to collapse a cherry-picked range before
// recommitting it as one commit.
func (o *Operator) ResetSoft(ctx context.Context, dir, ref string) error {
	_, err := o.run(ctx, dir, "reset", "--soft", ref)
	return err
}

// FastForward moves dir's branch to point at ref; it must already be an
// ancestor of ref (verified by the caller via MergeBase).
func (o *Operator) FastForward(ctx context.Context, dir, ref string) error {
	_, err := o.run(ctx, dir, "merge", "--ff-only", ref)
	return err
}

// Checkout switches dir's working tree to ref.
func (o *Operator) Checkout(ctx context.Context, dir, ref string) error {
	_, err := o.run(ctx, dir, "checkout", ref)
	return err
}

// StructuredFilePath reports whether path lies under the project's
// structured-file directory, where the merger auto-resolves conflicts.
func StructuredFilePath(path string, structuredDir string) bool {
	return strings.HasPrefix(path, strings.TrimSuffix(structuredDir, "/")+"/")
}
