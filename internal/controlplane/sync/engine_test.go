package sync

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
)

type fakeStore struct {
	mu         sync.Mutex
	streams    map[string]*domain.Stream
	executions map[string]*domain.Execution
	safetyTags map[string]*domain.SafetyTag
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		streams:    make(map[string]*domain.Stream),
		executions: make(map[string]*domain.Execution),
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

func (s *fakeStore) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.executions[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "execution", ID: id}
	}
	cp := *ex
	return &cp, nil
}

func (s *fakeStore) UpdateExecution(ctx context.Context, execution *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *execution
	s.executions[execution.ID] = &cp
	return nil
}

func (s *fakeStore) CreateSafetyTag(ctx context.Context, tag *domain.SafetyTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tag
	s.safetyTags[tag.Name] = &cp
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

// syncFixture builds a main-line repo with a code file, branches a stream
// off it, and returns (repoRoot, streamWorktree).
func syncFixture(t *testing.T) (string, string) {
	t.Helper()
	repoRoot := t.TempDir()
	run(t, repoRoot, "init", "-b", "main")
	run(t, repoRoot, "config", "user.email", "test@example.com")
	run(t, repoRoot, "config", "user.name", "test")
	writeAndCommit(t, repoRoot, "app.go", "package app\n", "initial")

	streamDir := t.TempDir()
	run(t, repoRoot, "worktree", "add", "-b", "stream/issue-1", streamDir, "main")
	return repoRoot, streamDir
}

func newEngine(t *testing.T, repoRoot string, store *fakeStore) *Engine {
	git := gitsurface.New(repoRoot, newTestLogger(t))
	cfg := config.SyncConfig{StructuredDir: ".controlplane", DefaultStrategy: "squash"}
	return NewEngine(cfg, repoRoot, store, git, newTestLogger(t))
}

func TestPreviewListsCommitsAndStatsWithoutMovingRefs(t *testing.T) {
	repoRoot, streamDir := syncFixture(t)
	streamHead := writeAndCommit(t, streamDir, "feature.go", "package app\n\nfunc Feature() {}\n", "add feature")

	store := newFakeStore()
	store.streams["stream-1"] = &domain.Stream{ID: "stream-1", TargetBranch: "main", HeadCommit: streamHead, WorktreePath: &streamDir}
	store.executions["exec-1"] = &domain.Execution{ID: "exec-1", StreamID: "stream-1"}

	beforeHead := headOf(t, repoRoot)
	engine := newEngine(t, repoRoot, store)
	preview, err := engine.Preview(context.Background(), "exec-1", "main")
	require.NoError(t, err)

	require.Len(t, preview.Commits, 1)
	require.Equal(t, 1, preview.Stats.FilesChanged)
	require.False(t, preview.Conflicts.HasCodeConflicts())
	require.Equal(t, beforeHead, headOf(t, repoRoot), "preview must never move target's ref")
}

func TestSquashLandsAsSingleCommitAndFastForwardsTarget(t *testing.T) {
	repoRoot, streamDir := syncFixture(t)
	writeAndCommit(t, streamDir, "feature.go", "package app\n\nfunc One() {}\n", "first")
	streamHead := writeAndCommit(t, streamDir, "feature.go", "package app\n\nfunc One() {}\nfunc Two() {}\n", "second")

	store := newFakeStore()
	store.streams["stream-1"] = &domain.Stream{ID: "stream-1", TargetBranch: "main", HeadCommit: streamHead, WorktreePath: &streamDir}
	store.executions["exec-1"] = &domain.Execution{ID: "exec-1", StreamID: "stream-1"}

	engine := newEngine(t, repoRoot, store)
	afterCommit, err := engine.Squash(context.Background(), "exec-1", "main", "land stream-1")
	require.NoError(t, err)
	require.Equal(t, afterCommit, headOf(t, repoRoot))

	log := run(t, repoRoot, "log", "--oneline", "main")
	require.Len(t, splitNonEmpty(log), 2, "squash must collapse both stream commits into one")

	ex, err := store.GetExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Equal(t, afterCommit, ex.AfterCommit)

	st, err := store.GetStream(context.Background(), "stream-1")
	require.NoError(t, err)
	require.Equal(t, domain.StreamLanded, st.State)
}

func TestSquashAutoResolvesStructuredFileConflict(t *testing.T) {
	repoRoot, streamDir := syncFixture(t)
	writeAndCommit(t, repoRoot, ".controlplane/issues.jsonl",
		`{"id":"1","uuid":"u1","title":"a","updated_at":"2024-01-01T00:00:00Z"}`+"\n", "seed issues")
	run(t, streamDir, "merge", "--ff-only", "main")

	writeAndCommit(t, repoRoot, ".controlplane/issues.jsonl",
		`{"id":"1","uuid":"u1","title":"a (edited on main)","updated_at":"2024-01-02T00:00:00Z"}`+"\n", "edit on main")

	streamHead := writeAndCommit(t, streamDir, ".controlplane/issues.jsonl",
		`{"id":"1","uuid":"u1","title":"a (edited on stream)","updated_at":"2024-01-03T00:00:00Z"}`+"\n", "edit on stream")

	store := newFakeStore()
	store.streams["stream-1"] = &domain.Stream{ID: "stream-1", TargetBranch: "main", HeadCommit: streamHead, WorktreePath: &streamDir}
	store.executions["exec-1"] = &domain.Execution{ID: "exec-1", StreamID: "stream-1"}

	engine := newEngine(t, repoRoot, store)
	_, err := engine.Squash(context.Background(), "exec-1", "main", "land stream-1")
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(repoRoot, ".controlplane/issues.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(content), "edited on stream", "the later updated_at should win the scalar conflict")
}

func TestSquashReportsCodeConflictWithoutLanding(t *testing.T) {
	repoRoot, streamDir := syncFixture(t)
	writeAndCommit(t, repoRoot, "app.go", "package app\n\nconst V = 1\n", "main edit")
	streamHead := writeAndCommit(t, streamDir, "app.go", "package app\n\nconst V = 2\n", "stream edit")

	store := newFakeStore()
	store.streams["stream-1"] = &domain.Stream{ID: "stream-1", TargetBranch: "main", HeadCommit: streamHead, WorktreePath: &streamDir}
	store.executions["exec-1"] = &domain.Execution{ID: "exec-1", StreamID: "stream-1"}

	beforeHead := headOf(t, repoRoot)
	engine := newEngine(t, repoRoot, store)
	_, err := engine.Squash(context.Background(), "exec-1", "main", "")
	require.Error(t, err)
	var conflictErr *CodeConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Equal(t, beforeHead, headOf(t, repoRoot), "a failed landing must not move target")
}

func TestPreserveFastForwardsWhenStreamIsAlreadyAhead(t *testing.T) {
	repoRoot, streamDir := syncFixture(t)
	streamHead := writeAndCommit(t, streamDir, "feature.go", "package app\n\nfunc Feature() {}\n", "add feature")

	store := newFakeStore()
	store.streams["stream-1"] = &domain.Stream{ID: "stream-1", TargetBranch: "main", HeadCommit: streamHead, WorktreePath: &streamDir}
	store.executions["exec-1"] = &domain.Execution{ID: "exec-1", StreamID: "stream-1"}

	engine := newEngine(t, repoRoot, store)
	afterCommit, err := engine.Preserve(context.Background(), "exec-1", "main")
	require.NoError(t, err)
	require.Equal(t, streamHead, afterCommit)
	require.Equal(t, streamHead, headOf(t, repoRoot))
}

func TestStageAppliesChangesWithoutMovingTarget(t *testing.T) {
	repoRoot, streamDir := syncFixture(t)
	streamHead := writeAndCommit(t, streamDir, "feature.go", "package app\n\nfunc Feature() {}\n", "add feature")

	store := newFakeStore()
	store.streams["stream-1"] = &domain.Stream{ID: "stream-1", TargetBranch: "main", HeadCommit: streamHead, WorktreePath: &streamDir}
	store.executions["exec-1"] = &domain.Execution{ID: "exec-1", StreamID: "stream-1"}

	beforeHead := headOf(t, repoRoot)
	engine := newEngine(t, repoRoot, store)
	err := engine.Stage(context.Background(), "exec-1", "main")
	require.NoError(t, err)

	require.Equal(t, beforeHead, headOf(t, repoRoot), "stage must never move target's ref")
	content, err := os.ReadFile(filepath.Join(repoRoot, "feature.go"))
	require.NoError(t, err)
	require.Contains(t, string(content), "func Feature()")

	clean, err := gitsurface.New(repoRoot, newTestLogger(t)).IsClean(context.Background(), repoRoot)
	require.NoError(t, err)
	require.False(t, clean, "stage leaves the change unstaged/uncommitted in the working tree")
}

func splitNonEmpty(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == '\n' {
			if cur != "" {
				out = append(out, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
