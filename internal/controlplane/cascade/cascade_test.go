package cascade

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sudocode/controlplane/internal/common/config"
	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/gitsurface"
	syncengine "github.com/sudocode/controlplane/internal/controlplane/sync"
)

type fakeStore struct {
	mu      sync.Mutex
	streams map[string]*domain.Stream
	// deps maps issueID -> dependent streams, mimicking the dependency graph
	// edges ListDependentStreams would read from the relationship table.
	deps       map[string][]*domain.Stream
	safetyTags map[string]*domain.SafetyTag
	// listDependentCalls counts ListDependentStreams calls.
	listDependentCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		streams:    make(map[string]*domain.Stream),
		deps:       make(map[string][]*domain.Stream),
		safetyTags: make(map[string]*domain.SafetyTag),
	}
}

func (s *fakeStore) GetStream(ctx context.Context, id string) (*domain.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "stream", ID: id}
	}
	cp := *st
	return &cp, nil
}

func (s *fakeStore) UpdateStream(ctx context.Context, stream *domain.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *stream
	s.streams[stream.ID] = &cp
	return nil
}

func (s *fakeStore) ListDependentStreams(ctx context.Context, issueID string) ([]*domain.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listDependentCalls++
	return s.deps[issueID], nil
}

func (s *fakeStore) CreateSafetyTag(ctx context.Context, tag *domain.SafetyTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tag
	s.safetyTags[tag.Name] = &cp
	return nil
}

// fakeExecutionStore supplies the extra sync.Store methods syncengine.Engine
// needs beyond what cascade itself calls.
type fakeExecutionStore struct {
	*fakeStore
	executions map[string]*domain.Execution
}

func (s *fakeExecutionStore) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	ex, ok := s.executions[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "execution", ID: id}
	}
	cp := *ex
	return &cp, nil
}

func (s *fakeExecutionStore) UpdateExecution(ctx context.Context, execution *domain.Execution) error {
	cp := *execution
	s.executions[execution.ID] = &cp
	return nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func writeAndCommit(t *testing.T, dir, path, content, message string) string {
	t.Helper()
	full := filepath.Join(dir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", message)
	return headOf(t, dir)
}

func headOf(t *testing.T, dir string) string {
	t.Helper()
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	return string(out[:len(out)-1])
}

// newStreamWorktree branches a new worktree for streamID off base.
func newStreamWorktree(t *testing.T, repoRoot, streamID, base string) string {
	t.Helper()
	dir := t.TempDir()
	run(t, repoRoot, "worktree", "add", "-b", "stream/"+streamID, dir, base)
	return dir
}

// fixture builds a main-line repo plus a rebaser/worktree-checker pair wired
// to a real gitsurface.Operator, and a fake store the test populates with
// streams and dependency edges.
type fixture struct {
	repoRoot string
	store    *fakeExecutionStore
	syncEng  *syncengine.Engine
	git      *gitsurface.Operator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repoRoot := t.TempDir()
	run(t, repoRoot, "init", "-b", "main")
	run(t, repoRoot, "config", "user.email", "test@example.com")
	run(t, repoRoot, "config", "user.name", "test")
	writeAndCommit(t, repoRoot, "app.go", "package app\n", "initial")

	store := &fakeExecutionStore{fakeStore: newFakeStore(), executions: make(map[string]*domain.Execution)}
	git := gitsurface.New(repoRoot, newTestLogger(t))
	syncCfg := config.SyncConfig{StructuredDir: ".controlplane", DefaultStrategy: "squash"}
	syncEng := syncengine.NewEngine(syncCfg, repoRoot, store, git, newTestLogger(t))

	return &fixture{repoRoot: repoRoot, store: store, syncEng: syncEng, git: git}
}

// realWorktreeChecker reports a stream as present/clean purely by checking
// disk state, since these tests never go through worktree.Manager.
type realWorktreeChecker struct {
	git *gitsurface.Operator
}

func (c *realWorktreeChecker) WorktreeStatus(ctx context.Context, stream *domain.Stream) (bool, bool, error) {
	if stream.WorktreePath == nil {
		return false, false, nil
	}
	if _, err := os.Stat(*stream.WorktreePath); os.IsNotExist(err) {
		return false, false, nil
	}
	clean, err := c.git.IsClean(ctx, *stream.WorktreePath)
	if err != nil {
		return true, false, err
	}
	return true, clean, nil
}

func newEngine(t *testing.T, f *fixture, cfg config.CascadeConfig) *Engine {
	return NewEngine(cfg, f.store, f.syncEng, &realWorktreeChecker{git: f.git}, newTestLogger(t))
}

func TestRunRebasesDirectDependentOntoNewTip(t *testing.T) {
	f := newFixture(t)

	baseHead := headOf(t, f.repoRoot)
	landedHead := writeAndCommit(t, f.repoRoot, "app.go", "package app\n\nfunc Landed() {}\n", "landed work")

	depDir := newStreamWorktree(t, f.repoRoot, "dep-1", baseHead)
	depHead := writeAndCommit(t, depDir, "dep.go", "package app\n\nfunc Dep() {}\n", "dependent work")

	f.store.streams["landed-1"] = &domain.Stream{ID: "landed-1", IssueID: "issue-1", HeadCommit: landedHead, State: domain.StreamLanded}
	f.store.streams["dep-1"] = &domain.Stream{ID: "dep-1", IssueID: "issue-2", HeadCommit: depHead, WorktreePath: &depDir, State: domain.StreamActive}
	f.store.deps["issue-1"] = []*domain.Stream{f.store.streams["dep-1"]}

	eng := newEngine(t, f, config.CascadeConfig{Enabled: true, MaxConcurrency: 4})
	report, err := eng.Run(context.Background(), "landed-1", landedHead)
	require.NoError(t, err)
	require.True(t, report.Complete)
	require.Len(t, report.Affected, 1)
	require.Equal(t, ResultRebased, report.Affected[0].Result)
	require.NotEmpty(t, report.Affected[0].NewTip)

	updated, err := f.store.GetStream(context.Background(), "dep-1")
	require.NoError(t, err)
	require.Equal(t, report.Affected[0].NewTip, updated.HeadCommit)

	log := run(t, depDir, "log", "--oneline")
	require.Contains(t, log, "landed work")
	require.Contains(t, log, "dependent work")
}

func TestRunSkipsAbandonedDependent(t *testing.T) {
	f := newFixture(t)
	baseHead := headOf(t, f.repoRoot)
	landedHead := writeAndCommit(t, f.repoRoot, "app.go", "package app\n\nfunc Landed() {}\n", "landed work")

	f.store.streams["landed-1"] = &domain.Stream{ID: "landed-1", IssueID: "issue-1", HeadCommit: landedHead}
	f.store.streams["dep-1"] = &domain.Stream{ID: "dep-1", IssueID: "issue-2", HeadCommit: baseHead, State: domain.StreamAbandoned}
	f.store.deps["issue-1"] = []*domain.Stream{f.store.streams["dep-1"]}

	eng := newEngine(t, f, config.CascadeConfig{Enabled: true, MaxConcurrency: 4})
	report, err := eng.Run(context.Background(), "landed-1", landedHead)
	require.NoError(t, err)
	require.Len(t, report.Affected, 1)
	require.Equal(t, ResultSkipped, report.Affected[0].Result)
	require.Equal(t, "stream abandoned", report.Affected[0].Reason)
}

func TestRunSkipsDependentWithDirtyWorktree(t *testing.T) {
	f := newFixture(t)
	baseHead := headOf(t, f.repoRoot)
	landedHead := writeAndCommit(t, f.repoRoot, "app.go", "package app\n\nfunc Landed() {}\n", "landed work")

	depDir := newStreamWorktree(t, f.repoRoot, "dep-1", baseHead)
	require.NoError(t, os.WriteFile(filepath.Join(depDir, "dirty.txt"), []byte("uncommitted"), 0o644))

	f.store.streams["landed-1"] = &domain.Stream{ID: "landed-1", IssueID: "issue-1", HeadCommit: landedHead}
	f.store.streams["dep-1"] = &domain.Stream{ID: "dep-1", IssueID: "issue-2", HeadCommit: baseHead, WorktreePath: &depDir, State: domain.StreamActive}
	f.store.deps["issue-1"] = []*domain.Stream{f.store.streams["dep-1"]}

	eng := newEngine(t, f, config.CascadeConfig{Enabled: true, MaxConcurrency: 4})
	report, err := eng.Run(context.Background(), "landed-1", landedHead)
	require.NoError(t, err)
	require.Len(t, report.Affected, 1)
	require.Equal(t, ResultSkipped, report.Affected[0].Result)
	require.Equal(t, "worktree dirty", report.Affected[0].Reason)
}

func TestRunSkipsDependentWithMissingWorktree(t *testing.T) {
	f := newFixture(t)
	baseHead := headOf(t, f.repoRoot)
	landedHead := writeAndCommit(t, f.repoRoot, "app.go", "package app\n\nfunc Landed() {}\n", "landed work")

	missing := filepath.Join(t.TempDir(), "gone")
	f.store.streams["landed-1"] = &domain.Stream{ID: "landed-1", IssueID: "issue-1", HeadCommit: landedHead}
	f.store.streams["dep-1"] = &domain.Stream{ID: "dep-1", IssueID: "issue-2", HeadCommit: baseHead, WorktreePath: &missing, State: domain.StreamActive}
	f.store.deps["issue-1"] = []*domain.Stream{f.store.streams["dep-1"]}

	eng := newEngine(t, f, config.CascadeConfig{Enabled: true, MaxConcurrency: 4})
	report, err := eng.Run(context.Background(), "landed-1", landedHead)
	require.NoError(t, err)
	require.Len(t, report.Affected, 1)
	require.Equal(t, ResultSkipped, report.Affected[0].Result)
	require.Equal(t, "worktree missing", report.Affected[0].Reason)
}

func TestRunReportsConflictWithoutMovingDependentBranch(t *testing.T) {
	f := newFixture(t)
	baseHead := headOf(t, f.repoRoot)
	landedHead := writeAndCommit(t, f.repoRoot, "app.go", "package app\n\nconst V = 1\n", "landed edit")

	depDir := newStreamWorktree(t, f.repoRoot, "dep-1", baseHead)
	depHead := writeAndCommit(t, depDir, "app.go", "package app\n\nconst V = 2\n", "conflicting dependent edit")

	f.store.streams["landed-1"] = &domain.Stream{ID: "landed-1", IssueID: "issue-1", HeadCommit: landedHead}
	f.store.streams["dep-1"] = &domain.Stream{ID: "dep-1", IssueID: "issue-2", HeadCommit: depHead, WorktreePath: &depDir, State: domain.StreamActive}
	f.store.deps["issue-1"] = []*domain.Stream{f.store.streams["dep-1"]}

	eng := newEngine(t, f, config.CascadeConfig{Enabled: true, MaxConcurrency: 4})
	report, err := eng.Run(context.Background(), "landed-1", landedHead)
	require.NoError(t, err)
	require.Len(t, report.Affected, 1)
	require.Equal(t, ResultConflict, report.Affected[0].Result)

	updated, err := f.store.GetStream(context.Background(), "dep-1")
	require.NoError(t, err)
	require.Equal(t, depHead, updated.HeadCommit, "a conflicted rebase must not move the dependent's recorded head")
	require.Equal(t, depHead, headOf(t, depDir), "a conflicted rebase must leave the dependent's branch untouched")
}

func TestRunCascadesThroughTwoLevels(t *testing.T) {
	f := newFixture(t)
	baseHead := headOf(t, f.repoRoot)
	landedHead := writeAndCommit(t, f.repoRoot, "app.go", "package app\n\nfunc Landed() {}\n", "landed work")

	midDir := newStreamWorktree(t, f.repoRoot, "mid-1", baseHead)
	midHead := writeAndCommit(t, midDir, "mid.go", "package app\n\nfunc Mid() {}\n", "mid work")

	leafDir := newStreamWorktree(t, f.repoRoot, "leaf-1", midHead)
	leafHead := writeAndCommit(t, leafDir, "leaf.go", "package app\n\nfunc Leaf() {}\n", "leaf work")

	f.store.streams["landed-1"] = &domain.Stream{ID: "landed-1", IssueID: "issue-1", HeadCommit: landedHead}
	f.store.streams["mid-1"] = &domain.Stream{ID: "mid-1", IssueID: "issue-2", HeadCommit: midHead, WorktreePath: &midDir, State: domain.StreamActive}
	f.store.streams["leaf-1"] = &domain.Stream{ID: "leaf-1", IssueID: "issue-3", HeadCommit: leafHead, WorktreePath: &leafDir, State: domain.StreamActive}
	f.store.deps["issue-1"] = []*domain.Stream{f.store.streams["mid-1"]}
	f.store.deps["issue-2"] = []*domain.Stream{f.store.streams["leaf-1"]}

	eng := newEngine(t, f, config.CascadeConfig{Enabled: true, MaxConcurrency: 4})
	report, err := eng.Run(context.Background(), "landed-1", landedHead)
	require.NoError(t, err)
	require.Len(t, report.Affected, 2)
	for _, a := range report.Affected {
		require.Equal(t, ResultRebased, a.Result)
	}

	leafLog := run(t, leafDir, "log", "--oneline")
	require.Contains(t, leafLog, "landed work")
	require.Contains(t, leafLog, "mid work")
	require.Contains(t, leafLog, "leaf work")
}

func TestOnStreamLandedNoopWhenDisabled(t *testing.T) {
	f := newFixture(t)
	landedHead := writeAndCommit(t, f.repoRoot, "app.go", "package app\n\nfunc Landed() {}\n", "landed work")
	f.store.streams["landed-1"] = &domain.Stream{ID: "landed-1", IssueID: "issue-1", HeadCommit: landedHead}

	f.store.deps["issue-1"] = nil
	eng := newEngine(t, f, config.CascadeConfig{Enabled: false, MaxConcurrency: 4})
	err := eng.OnStreamLanded(context.Background(), "landed-1", "main", landedHead)
	require.NoError(t, err)
	called := f.store.listDependentCalls > 0
	require.False(t, called, "a disabled cascade must never call ListDependentStreams")
}
