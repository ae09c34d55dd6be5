package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/gitsurface"
)

type fakeStore struct {
	mu      sync.Mutex
	streams map[string]*domain.Stream
}

func newFakeStore() *fakeStore {
	return &fakeStore{streams: make(map[string]*domain.Stream)}
}

func (s *fakeStore) GetStream(ctx context.Context, id string) (*domain.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return nil, os.ErrNotExist
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

func (s *fakeStore) ListAllActiveStreams(ctx context.Context) ([]*domain.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		cp := *st
		out = append(out, &cp)
	}
	return out, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func newTestManager(t *testing.T) (*Manager, *fakeStore, string) {
	repoRoot := initRepo(t)
	store := newFakeStore()
	store.streams["stream-1"] = &domain.Stream{ID: "stream-1", IssueID: "issue-1", TargetBranch: "main"}

	cfg := Config{BasePath: filepath.Join(t.TempDir(), "worktrees")}
	git := gitsurface.New(repoRoot, newTestLogger(t))
	mgr, err := NewManager(cfg, repoRoot, store, git, newTestLogger(t))
	require.NoError(t, err)
	return mgr, store, repoRoot
}

func TestAcquireCreatesWorktreeAndPersistsPath(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	path, err := mgr.Acquire(ctx, "stream-1", "main")
	require.NoError(t, err)
	require.DirExists(t, path)

	st, err := store.GetStream(ctx, "stream-1")
	require.NoError(t, err)
	require.NotNil(t, st.WorktreePath)
	require.Equal(t, path, *st.WorktreePath)
}

func TestAcquireIsIdempotent(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	path1, err := mgr.Acquire(ctx, "stream-1", "main")
	require.NoError(t, err)
	path2, err := mgr.Acquire(ctx, "stream-1", "main")
	require.NoError(t, err)
	require.Equal(t, path1, path2)
}

func TestAcquireConcurrentCallsCollapseToOneCreation(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	const n = 8
	paths := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = mgr.Acquire(ctx, "stream-1", "main")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, paths[0], paths[i])
	}
}

func TestDeleteRemovesWorktreeAndClearsPath(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	path, err := mgr.Acquire(ctx, "stream-1", "main")
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, "stream-1"))
	require.NoDirExists(t, path)

	st, err := store.GetStream(ctx, "stream-1")
	require.NoError(t, err)
	require.Nil(t, st.WorktreePath)
}

func TestExistsReflectsActualDirectory(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	ok, err := mgr.Exists(ctx, "stream-1")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = mgr.Acquire(ctx, "stream-1", "main")
	require.NoError(t, err)

	ok, err = mgr.Exists(ctx, "stream-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPropagateAgentConfigSkipsMissingSource(t *testing.T) {
	mgr, _, repoRoot := newTestManager(t)
	ctx := context.Background()

	path, err := mgr.Acquire(ctx, "stream-1", "main")
	require.NoError(t, err)

	require.NoError(t, mgr.PropagateAgentConfig(repoRoot, path, []string{".claude", ".nonexistent"}))
}

func TestPropagateAgentConfigCopiesFile(t *testing.T) {
	mgr, _, repoRoot := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, ".agentrc"), []byte("config"), 0o644))

	path, err := mgr.Acquire(ctx, "stream-1", "main")
	require.NoError(t, err)

	require.NoError(t, mgr.PropagateAgentConfig(repoRoot, path, []string{".agentrc"}))
	data, err := os.ReadFile(filepath.Join(path, ".agentrc"))
	require.NoError(t, err)
	require.Equal(t, "config", string(data))
}
