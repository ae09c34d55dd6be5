// Package cascade rebases a landed stream's dependents onto its new target
// tip: a topological walk of the issue dependency graph, fanning out across
// independent dependents while keeping every git operation on a single
// dependent's worktree serial.
package cascade

import (
	"context"
	stdsync "sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sudocode/controlplane/internal/common/config"
	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
	"github.com/sudocode/controlplane/internal/controlplane/sync"
)

// Result classifies what happened to one dependent stream during a cascade.
type Result string

const (
	ResultRebased  Result = "rebased"
	ResultSkipped  Result = "skipped"
	ResultConflict Result = "conflict"
)

// AffectedStream is one entry of a cascade report.
type AffectedStream struct {
	StreamID      string
	IssueID       string
	Result        Result
	Reason        string
	ConflictFiles []string
	// NewTip is the dependent's rebased head commit; only set when Result
	// is ResultRebased, and used to seed the next cascade level.
	NewTip string
}

// Report is the aggregate outcome of one cascade run.
type Report struct {
	TriggeredBy string
	Affected    []AffectedStream
	Complete    bool
}

// Store is the subset of repository.Repository the cascade engine needs.
type Store interface {
	GetStream(ctx context.Context, id string) (*domain.Stream, error)
	ListDependentStreams(ctx context.Context, issueID string) ([]*domain.Stream, error)
}

var _ Store = repository.Repository(nil)

// Rebaser rebases one dependent stream onto a new base, auto-merging
// structured-file conflicts and rolling back on a code conflict. Satisfied
// by *sync.Engine; kept as an interface so tests can fake it.
type Rebaser interface {
	RebaseStreamOnto(ctx context.Context, streamID, newBase string) (newTip string, err error)
}

var _ Rebaser = (*sync.Engine)(nil)

// WorktreeChecker reports whether a stream's worktree is present and clean,
// used to classify a dependent as skipped before attempting a rebase.
type WorktreeChecker interface {
	WorktreeStatus(ctx context.Context, stream *domain.Stream) (exists, clean bool, err error)
}

// Engine walks the dependency graph from a just-landed stream and rebases
// every dependent it finds, one topological level at a time.
type Engine struct {
	cfg      config.CascadeConfig
	store    Store
	rebaser  Rebaser
	worktree WorktreeChecker
	log      *logger.Logger
}

// NewEngine constructs a cascade engine.
func NewEngine(cfg config.CascadeConfig, store Store, rebaser Rebaser, worktree WorktreeChecker, log *logger.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		rebaser:  rebaser,
		worktree: worktree,
		log:      log.WithFields(zap.String("component", "cascade")),
	}
}

var _ sync.CascadeHook = (*Engine)(nil)

// OnStreamLanded implements sync.CascadeHook: it is invoked by the sync
// engine immediately after a successful landing.
func (e *Engine) OnStreamLanded(ctx context.Context, streamID, target, newTip string) error {
	if !e.cfg.Enabled {
		return nil
	}
	_, err := e.Run(ctx, streamID, newTip)
	return err
}

type pendingRebase struct {
	issueID string
	newBase string
}

// Run rebases every stream transitively dependent on triggeredByStreamID's
// issue, breadth-first: each level is rebased concurrently (bounded by
// cfg.MaxConcurrency), and the next level only starts once the level above
// it has produced its own new tips, so a chain A -> B -> C always rebases B
// onto A's result before rebasing C onto B's.
func (e *Engine) Run(ctx context.Context, triggeredByStreamID, newTip string) (*Report, error) {
	landed, err := e.store.GetStream(ctx, triggeredByStreamID)
	if err != nil {
		return nil, err
	}

	report := &Report{TriggeredBy: triggeredByStreamID, Complete: true}
	visited := map[string]bool{landed.ID: true}
	queue := []pendingRebase{{issueID: landed.IssueID, newBase: newTip}}

	limit := e.cfg.MaxConcurrency
	if limit <= 0 {
		limit = 4
	}

	for len(queue) > 0 {
		batch := queue
		queue = nil

		var mu stdsync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)

		for _, pending := range batch {
			pending := pending
			deps, err := e.store.ListDependentStreams(ctx, pending.issueID)
			if err != nil {
				report.Complete = false
				continue
			}
			for _, dep := range deps {
				dep := dep
				mu.Lock()
				already := visited[dep.ID]
				visited[dep.ID] = true
				mu.Unlock()
				if already {
					continue
				}

				g.Go(func() error {
					affected := e.rebaseOne(gctx, dep, pending.newBase)

					mu.Lock()
					report.Affected = append(report.Affected, affected)
					if affected.Result == ResultRebased {
						queue = append(queue, pendingRebase{issueID: dep.IssueID, newBase: affected.NewTip})
					}
					mu.Unlock()
					return nil
				})
			}
		}

		if err := g.Wait(); err != nil {
			report.Complete = false
		}
	}

	return report, nil
}

// rebaseOne classifies and attempts a single dependent's rebase. It never
// returns an error: every outcome (including an unexpected git failure) is
// reported as a classified AffectedStream instead, matching the contract
// that a cascade never aborts partway through, only reports and moves on.
func (e *Engine) rebaseOne(ctx context.Context, dep *domain.Stream, newBase string) AffectedStream {
	entry := AffectedStream{StreamID: dep.ID, IssueID: dep.IssueID}

	if dep.State == domain.StreamAbandoned {
		entry.Result = ResultSkipped
		entry.Reason = "stream abandoned"
		return entry
	}

	exists, clean, err := e.worktree.WorktreeStatus(ctx, dep)
	if err != nil {
		entry.Result = ResultConflict
		entry.Reason = err.Error()
		return entry
	}
	if !exists {
		entry.Result = ResultSkipped
		entry.Reason = "worktree missing"
		return entry
	}
	if !clean {
		entry.Result = ResultSkipped
		entry.Reason = "worktree dirty"
		return entry
	}

	newTip, err := e.rebaser.RebaseStreamOnto(ctx, dep.ID, newBase)
	if err != nil {
		entry.Result = ResultConflict
		if conflictErr, ok := asCodeConflict(err); ok {
			entry.ConflictFiles = conflictErr.Files
		}
		entry.Reason = err.Error()
		return entry
	}

	entry.Result = ResultRebased
	entry.NewTip = newTip
	return entry
}

func asCodeConflict(err error) (*sync.CodeConflictError, bool) {
	conflictErr, ok := err.(*sync.CodeConflictError)
	return conflictErr, ok
}
