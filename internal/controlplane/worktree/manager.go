// Package worktree allocates and reclaims the per-stream git worktrees that
// agent executions run inside.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/gitsurface"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
)

// Store is the subset of repository persistence the worktree manager needs.
type Store interface {
	GetStream(ctx context.Context, id string) (*domain.Stream, error)
	UpdateStream(ctx context.Context, stream *domain.Stream) error
	ListAllActiveStreams(ctx context.Context) ([]*domain.Stream, error)
}

var _ Store = repository.Repository(nil)

// Manager handles git worktree lifecycle for concurrent agent executions.
type Manager struct {
	config   Config
	log      *logger.Logger
	store    Store
	git      *gitsurface.Operator
	repoRoot string

	acquireGroup singleflight.Group
}

// NewManager constructs a worktree manager rooted at repoRoot, whose
// worktrees are created under cfg.BasePath.
func NewManager(cfg Config, repoRoot string, store Store, git *gitsurface.Operator, log *logger.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worktree config: %w", err)
	}
	basePath, err := cfg.ExpandedBasePath()
	if err != nil {
		return nil, fmt.Errorf("expanding worktree base path: %w", err)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating worktree base directory: %w", err)
	}
	return &Manager{
		config:   cfg,
		log:      log.WithFields(zap.String("component", "worktree-manager")),
		store:    store,
		git:      git,
		repoRoot: repoRoot,
	}, nil
}

// Acquire returns the worktree path for streamID, creating it on a fresh
// branch from targetBranch if the stream does not already have one.
// Concurrent calls for the same stream collapse onto a single creation via
// singleflight, keyed on streamID.
func (m *Manager) Acquire(ctx context.Context, streamID, targetBranch string) (string, error) {
	v, err, _ := m.acquireGroup.Do(streamID, func() (interface{}, error) {
		return m.acquireLocked(ctx, streamID, targetBranch)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) acquireLocked(ctx context.Context, streamID, targetBranch string) (string, error) {
	stream, err := m.store.GetStream(ctx, streamID)
	if err != nil {
		return "", fmt.Errorf("loading stream %s: %w", streamID, err)
	}
	if stream.WorktreePath != nil {
		if m.isValidWorktree(*stream.WorktreePath) {
			return *stream.WorktreePath, nil
		}
		m.log.WithFields(zap.String("path", *stream.WorktreePath)).Warn("worktree path recorded but missing, recreating")
	}

	path, err := m.config.PathFor(streamID)
	if err != nil {
		return "", err
	}
	if m.isInsideAnotherWorktree(path) {
		return "", fmt.Errorf("refusing to create worktree inside another worktree: %s", path)
	}
	branch := m.config.BranchName(streamID)

	if err := m.git.WorktreeAdd(ctx, path, branch, targetBranch); err != nil {
		return "", fmt.Errorf("creating worktree for stream %s: %w", streamID, err)
	}

	stream.WorktreePath = &path
	if err := m.store.UpdateStream(ctx, stream); err != nil {
		_ = m.git.WorktreeRemove(ctx, path)
		return "", fmt.Errorf("persisting worktree path: %w", err)
	}
	m.log.WithStreamID(streamID).WithFields(zap.String("path", path), zap.String("branch", branch)).Info("worktree acquired")
	return path, nil
}

// Exists reports whether streamID currently has a worktree directory on disk.
func (m *Manager) Exists(ctx context.Context, streamID string) (bool, error) {
	stream, err := m.store.GetStream(ctx, streamID)
	if err != nil {
		return false, err
	}
	if stream.WorktreePath == nil {
		return false, nil
	}
	return m.isValidWorktree(*stream.WorktreePath), nil
}

// Delete removes streamID's worktree directory and clears the recorded
// path. Safe to call when no worktree exists.
func (m *Manager) Delete(ctx context.Context, streamID string) error {
	stream, err := m.store.GetStream(ctx, streamID)
	if err != nil {
		return err
	}
	if stream.WorktreePath == nil {
		return nil
	}
	path := *stream.WorktreePath
	if path == m.repoRoot {
		return fmt.Errorf("refusing to remove the project root as a worktree")
	}
	if err := m.git.WorktreeRemove(ctx, path); err != nil {
		m.log.WithFields(zap.Error(err)).Warn("git worktree remove failed, forcing directory removal")
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("removing worktree directory: %w", rmErr)
		}
	}
	stream.WorktreePath = nil
	return m.store.UpdateStream(ctx, stream)
}

// PropagateAgentConfig copies the named dot-directory config files from
// projectRoot into worktreePath, ignoring any that don't exist at the
// source.
func (m *Manager) PropagateAgentConfig(projectRoot, worktreePath string, relPaths []string) error {
	for _, rel := range relPaths {
		src := filepath.Join(projectRoot, rel)
		info, err := os.Stat(src)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", src, err)
		}
		dst := filepath.Join(worktreePath, rel)
		if info.IsDir() {
			if err := copyDir(src, dst); err != nil {
				return fmt.Errorf("copying config dir %s: %w", rel, err)
			}
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("copying config file %s: %w", rel, err)
		}
	}
	return nil
}

// List returns the worktree paths of every active stream.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	streams, err := m.store.ListAllActiveStreams(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, s := range streams {
		if s.WorktreePath != nil {
			paths = append(paths, *s.WorktreePath)
		}
	}
	return paths, nil
}

// ReconcileOrphans removes worktree directories under the base path that no
// active stream references, run once at startup.
func (m *Manager) ReconcileOrphans(ctx context.Context) error {
	basePath, err := m.config.ExpandedBasePath()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(basePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	referenced := make(map[string]bool)
	streams, err := m.store.ListAllActiveStreams(ctx)
	if err != nil {
		return err
	}
	for _, s := range streams {
		if s.WorktreePath != nil {
			referenced[filepath.Base(*s.WorktreePath)] = true
		}
	}

	for _, entry := range entries {
		if !entry.IsDir() || referenced[entry.Name()] {
			continue
		}
		path := filepath.Join(basePath, entry.Name())
		m.log.WithFields(zap.String("path", path)).Info("removing orphaned worktree")
		if err := m.git.WorktreeRemove(ctx, path); err != nil {
			_ = os.RemoveAll(path)
		}
	}
	return nil
}

func (m *Manager) isValidWorktree(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && (info.Mode().IsRegular() || info.IsDir())
}

func (m *Manager) isInsideAnotherWorktree(path string) bool {
	basePath, err := m.config.ExpandedBasePath()
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(basePath, path)
	if err != nil {
		return false
	}
	return strings.Contains(rel, string(filepath.Separator))
}
