// Package cli builds the controlplane-cli command tree: export and import
// the structured append-only files the sync engine merges, and print a
// point-in-time status snapshot of a target branch.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sudocode/controlplane/internal/common/config"
	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/mergequeue"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
)

// SilentError marks an error whose message has already been printed by the
// command that produced it, so main need not print it again.
type SilentError struct{ Err error }

func (e *SilentError) Error() string { return e.Err.Error() }
func (e *SilentError) Unwrap() error { return e.Err }

// UsageError marks a rejected invocation (an unknown --kind value) rather
// than an internal failure, so main can exit 1 instead of 2.
type UsageError struct{ Err error }

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

var configPath string

// NewRootCmd builds the controlplane-cli root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "controlplane-cli",
		Short:         "Inspect and round-trip control plane data out of process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (defaults to env/standard locations)")

	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

// openRepository loads config and opens the repository exactly once per
// command invocation; callers are responsible for closing it.
func openRepository() (*config.Config, repository.Repository, *logger.Logger, error) {
	cfg, err := config.LoadWithPath(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	repo, err := repository.Open(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening repository: %w", err)
	}
	return cfg, repo, log, nil
}

func openQueue(repo repository.Repository) *mergequeue.Queue {
	return mergequeue.New(repo)
}
