package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sudocode/controlplane/internal/controlplane/exportimport"
	"github.com/sudocode/controlplane/internal/controlplane/merge"
)

func newImportCmd() *cobra.Command {
	var inDir string
	var kind string
	var resolveCollisions bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Round-trip structured files back into the store, honoring --resolve-collisions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd, inDir, kind, resolveCollisions)
		},
	}
	cmd.Flags().StringVar(&inDir, "dir", "", "directory to read the structured files from (defaults to the configured structured-file directory)")
	cmd.Flags().StringVar(&kind, "kind", "", "restrict import to one entity kind (issues, specs, relationships, feedback); empty imports all")
	cmd.Flags().BoolVar(&resolveCollisions, "resolve-collisions", false, "renumber colliding incoming records instead of skipping them")

	return cmd
}

func runImport(cmd *cobra.Command, inDir, kindFlag string, resolveCollisions bool) error {
	cfg, repo, log, err := openRepository()
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return &SilentError{Err: err}
	}
	defer repo.Close()
	defer log.Sync()

	if inDir == "" {
		inDir = cfg.Sync.StructuredDir
	}

	kinds, err := kindsFor(kindFlag)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return &UsageError{Err: err}
	}

	ctx := context.Background()
	for _, k := range kinds {
		path := filepath.Join(inDir, string(k)+".jsonl")
		content, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "skipping %s: no such file\n", path)
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		result, err := exportimport.Import(ctx, repo, k, content, resolveCollisions)
		if err != nil {
			return fmt.Errorf("importing %s: %w", k, err)
		}

		added, updated, deleted := 0, 0, 0
		for _, change := range result.Changes {
			switch change.Kind {
			case merge.ChangeAdded:
				added++
			case merge.ChangeUpdated:
				updated++
			case merge.ChangeDeleted:
				deleted++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d added, %d updated, %d deleted, %d collisions\n",
			k, added, updated, deleted, len(result.Collisions))
		for _, collision := range result.Collisions {
			if collision.NewID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  collision on %s: incoming renumbered to %s\n", collision.StableID, collision.NewID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "  collision on %s: skipped (pass --resolve-collisions to renumber)\n", collision.StableID)
			}
		}
	}
	return nil
}
