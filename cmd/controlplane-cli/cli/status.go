package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sudocode/controlplane/internal/controlplane/exportimport"
)

func newStatusCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print merge-queue and checkpoint state for a target branch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, target)
		},
	}
	cmd.Flags().StringVar(&target, "target", "main", "target branch whose merge queue and checkpoints to report")

	return cmd
}

func runStatus(cmd *cobra.Command, target string) error {
	_, repo, log, err := openRepository()
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return &SilentError{Err: err}
	}
	defer repo.Close()
	defer log.Sync()

	queue := openQueue(repo)
	status, err := exportimport.BuildStatus(context.Background(), repo, queue, target)
	if err != nil {
		return fmt.Errorf("building status: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "target: %s\n", status.Target)
	fmt.Fprintf(w, "merge queue (%d entries):\n", len(status.Queue))
	for _, entry := range status.Queue {
		fmt.Fprintf(w, "  [%d] execution %s  status=%s  priority=%d  agent=%s\n",
			entry.Position, entry.ExecutionID, entry.Status, entry.Priority, entry.AgentID)
	}

	fmt.Fprintf(w, "open issues (%d):\n", len(status.Checkpoints))
	for _, ic := range status.Checkpoints {
		if ic.Checkpoint == nil {
			fmt.Fprintf(w, "  %s %q: no checkpoint yet\n", ic.IssueID, ic.IssueTitle)
			continue
		}
		cp := ic.Checkpoint
		fmt.Fprintf(w, "  %s %q: checkpoint %s (%s, review=%s, landed=%t)\n",
			ic.IssueID, ic.IssueTitle, cp.ID, cp.CommitSHA, cp.ReviewState, cp.Landed)
	}
	return nil
}
