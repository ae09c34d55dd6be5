package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config holds configuration for the worktree manager.
type Config struct {
	// BasePath is the base directory for worktree storage. Supports ~
	// expansion for home directory.
	BasePath string `mapstructure:"basePath"`

	// BranchPrefix is the prefix used for stream branch names.
	BranchPrefix string `mapstructure:"branchPrefix"`
}

const DefaultBranchPrefix = "stream/"

func (c *Config) Validate() error {
	if c.BranchPrefix == "" {
		c.BranchPrefix = DefaultBranchPrefix
	}
	if c.BasePath == "" {
		c.BasePath = "~/.controlplane/worktrees"
	}
	return nil
}

// ExpandedBasePath expands a leading ~/ to the user's home directory.
func (c *Config) ExpandedBasePath() (string, error) {
	path := c.BasePath
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

// PathFor returns the full worktree directory for a stream id.
func (c *Config) PathFor(streamID string) (string, error) {
	basePath, err := c.ExpandedBasePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(basePath, streamID), nil
}

// BranchName returns the branch name for a stream id.
func (c *Config) BranchName(streamID string) string {
	return c.BranchPrefix + streamID
}

var branchCharRegex = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)

// ValidateBranchPrefix ensures a prefix contains only safe branch characters.
func ValidateBranchPrefix(prefix string) error {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return nil
	}
	if !branchCharRegex.MatchString(trimmed) || strings.Contains(trimmed, "..") {
		return fmt.Errorf("invalid branch prefix %q", prefix)
	}
	return nil
}
