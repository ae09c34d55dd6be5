// Package sync computes landing previews and executes the squash, preserve,
// and stage strategies that move a stream's commits onto its target branch,
// auto-resolving conflicts confined to the project's structured-file
// directory and deferring everything else to the caller.
package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/common/config"
	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/gitsurface"
	"github.com/sudocode/controlplane/internal/controlplane/merge"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
)

// CascadeHook is notified after a successful landing so the cascade engine
// can rebase dependent streams. Defined here rather than imported from the
// cascade package to avoid an import cycle (cascade, in turn, drives sync's
// strategies against each dependent).
type CascadeHook interface {
	OnStreamLanded(ctx context.Context, streamID, target, newTip string) error
}

// Store is the subset of repository.Repository the sync engine needs.
type Store interface {
	GetStream(ctx context.Context, id string) (*domain.Stream, error)
	UpdateStream(ctx context.Context, stream *domain.Stream) error
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)
	UpdateExecution(ctx context.Context, execution *domain.Execution) error
	CreateSafetyTag(ctx context.Context, tag *domain.SafetyTag) error
}

var _ Store = repository.Repository(nil)

// Engine computes previews and lands streams against their target branch.
type Engine struct {
	cfg      config.SyncConfig
	store    Store
	git      *gitsurface.Operator
	repoRoot string
	log      *logger.Logger
	cascade  CascadeHook
}

// NewEngine constructs a sync engine operating against repoRoot, the
// project's primary checkout (the one landings fast-forward).
func NewEngine(cfg config.SyncConfig, repoRoot string, store Store, git *gitsurface.Operator, log *logger.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		git:      git,
		repoRoot: repoRoot,
		log:      log.WithFields(zap.String("component", "sync")),
	}
}

// SetCascadeHook registers the callback invoked after a successful landing.
// Optional: a nil hook (the default) means landings never cascade.
func (e *Engine) SetCascadeHook(hook CascadeHook) {
	e.cascade = hook
}

// ConflictReport classifies the conflicts a landing would hit, without ever
// touching a real ref.
type ConflictReport struct {
	StructuredFiles []string
	CodeFiles       []string
}

// HasCodeConflicts reports whether a strategy choice/manual resolution would
// be required, as opposed to silently auto-resolving everything.
func (r ConflictReport) HasCodeConflicts() bool {
	return len(r.CodeFiles) > 0
}

// PreviewResult is the outcome of preview(execId, target): never mutates
// refs, purely informational.
type PreviewResult struct {
	Commits   []string
	Stats     gitsurface.DiffStats
	Conflicts ConflictReport
}

// Preview computes the commits execution's stream would land onto target,
// their aggregate diff stats, and a conflict report, without moving any ref.
func (e *Engine) Preview(ctx context.Context, execID, target string) (*PreviewResult, error) {
	stream, err := e.streamForExecution(ctx, execID)
	if err != nil {
		return nil, err
	}

	base, err := e.git.MergeBase(ctx, target, stream.HeadCommit)
	if err != nil {
		return nil, err
	}
	commits, err := e.git.CommitsBetween(ctx, base, stream.HeadCommit)
	if err != nil {
		return nil, err
	}
	stats, err := e.git.DiffStat(ctx, base, stream.HeadCommit)
	if err != nil {
		return nil, err
	}

	conflicts, err := e.simulateConflicts(ctx, stream, target, base, commits)
	if err != nil {
		return nil, err
	}

	return &PreviewResult{Commits: commits, Stats: stats, Conflicts: conflicts}, nil
}

func (e *Engine) streamForExecution(ctx context.Context, execID string) (*domain.Stream, error) {
	execution, err := e.store.GetExecution(ctx, execID)
	if err != nil {
		return nil, err
	}
	return e.store.GetStream(ctx, execution.StreamID)
}

// simulateConflicts cherry-picks commits onto a disposable worktree rooted
// at target, classifies any conflicted paths, then discards the worktree and
// the scratch branch without ever touching target or the stream's own
// worktree, so a preview never moves a ref its caller can observe.
func (e *Engine) simulateConflicts(ctx context.Context, stream *domain.Stream, target, base string, commits []string) (ConflictReport, error) {
	if len(commits) == 0 {
		return ConflictReport{}, nil
	}

	scratchBranch := "sync-preview/" + stream.ID
	scratchDir, cleanup, err := e.scratchWorktree(ctx, scratchBranch, target)
	if err != nil {
		return ConflictReport{}, err
	}
	defer cleanup()

	if err := e.git.CherryPick(ctx, scratchDir, commits); err != nil {
		conflicted, lerr := e.git.ConflictedFiles(ctx, scratchDir)
		_ = e.git.CherryPickAbort(ctx, scratchDir)
		if lerr != nil {
			return ConflictReport{}, lerr
		}
		return e.classifyConflicts(conflicted), nil
	}
	return ConflictReport{}, nil
}

func (e *Engine) classifyConflicts(files []string) ConflictReport {
	var report ConflictReport
	for _, f := range files {
		if gitsurface.StructuredFilePath(f, e.cfg.StructuredDir) {
			report.StructuredFiles = append(report.StructuredFiles, f)
		} else {
			report.CodeFiles = append(report.CodeFiles, f)
		}
	}
	return report
}

// resolveStructuredConflicts reads each conflicted structured file's content
// at base/target/stream, three-way merges the records, and writes/stages the
// resolved blob, leaving the caller to continue the cherry-pick or rebase.
// It returns a CodeConflictError without touching anything if any conflicted
// path falls outside the structured directory.
func (e *Engine) resolveStructuredConflicts(ctx context.Context, dir, base, target, streamRef string, conflicted []string) error {
	report := e.classifyConflicts(conflicted)
	if report.HasCodeConflicts() {
		return &CodeConflictError{Files: report.CodeFiles}
	}

	for _, path := range report.StructuredFiles {
		baseContent, err := e.git.ReadBlob(ctx, dir, base, path)
		if err != nil {
			return err
		}
		oursContent, err := e.git.ReadBlob(ctx, dir, target, path)
		if err != nil {
			return err
		}
		theirsContent, err := e.git.ReadBlob(ctx, dir, streamRef, path)
		if err != nil {
			return err
		}

		baseRecs, err := merge.DecodeLines([]byte(baseContent))
		if err != nil {
			return fmt.Errorf("decoding %s at base: %w", path, err)
		}
		oursRecs, err := merge.DecodeLines([]byte(oursContent))
		if err != nil {
			return fmt.Errorf("decoding %s at target: %w", path, err)
		}
		theirsRecs, err := merge.DecodeLines([]byte(theirsContent))
		if err != nil {
			return fmt.Errorf("decoding %s at stream head: %w", path, err)
		}

		result := merge.ThreeWayMerge(baseRecs, oursRecs, theirsRecs)
		encoded, err := merge.EncodeLines(result.Merged)
		if err != nil {
			return fmt.Errorf("encoding merged %s: %w", path, err)
		}
		if len(result.Conflicts) > 0 {
			e.log.WithFields(zap.String("path", path), zap.Int("tie_breaks", len(result.Conflicts))).
				Debug("structured merge applied tie-break rules")
		}
		if err := e.git.WriteResolvedBlob(ctx, dir, path, string(encoded)); err != nil {
			return err
		}
	}
	return nil
}

// recordSafetyTag creates the git ref and persists its row, so the tag
// survives a process restart as well as the current operation.
func (e *Engine) recordSafetyTag(ctx context.Context, name, commit string) error {
	tag, err := e.git.CreateSafetyTag(ctx, name, commit)
	if err != nil {
		return err
	}
	return e.store.CreateSafetyTag(ctx, tag)
}

func ensureClean(ctx context.Context, git *gitsurface.Operator, dir string) error {
	clean, err := git.IsClean(ctx, dir)
	if err != nil {
		return err
	}
	if !clean {
		return &DirtyWorkingTreeError{Dir: dir}
	}
	return nil
}
