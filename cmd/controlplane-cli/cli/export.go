package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sudocode/controlplane/internal/controlplane/exportimport"
)

func newExportCmd() *cobra.Command {
	var outDir string
	var kind string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the structured files (issues, specs, relationships, feedback) from the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, outDir, kind)
		},
	}
	cmd.Flags().StringVar(&outDir, "dir", "", "directory to write the structured files into (defaults to the configured structured-file directory)")
	cmd.Flags().StringVar(&kind, "kind", "", "restrict export to one entity kind (issues, specs, relationships, feedback); empty exports all")

	return cmd
}

func runExport(cmd *cobra.Command, outDir, kindFlag string) error {
	cfg, repo, log, err := openRepository()
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return &SilentError{Err: err}
	}
	defer repo.Close()
	defer log.Sync()

	if outDir == "" {
		outDir = cfg.Sync.StructuredDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	kinds, err := kindsFor(kindFlag)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return &UsageError{Err: err}
	}

	ctx := context.Background()
	for _, k := range kinds {
		content, err := exportimport.Export(ctx, repo, k)
		if err != nil {
			return fmt.Errorf("exporting %s: %w", k, err)
		}
		path := filepath.Join(outDir, string(k)+".jsonl")
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	}
	return nil
}

func kindsFor(kindFlag string) ([]exportimport.Kind, error) {
	if kindFlag == "" {
		return exportimport.AllKinds, nil
	}
	for _, k := range exportimport.AllKinds {
		if string(k) == kindFlag {
			return []exportimport.Kind{k}, nil
		}
	}
	return nil, fmt.Errorf("unknown entity kind %q", kindFlag)
}
