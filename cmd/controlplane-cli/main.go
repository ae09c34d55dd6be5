// Package main is the controlplane-cli entry point: an out-of-process tool
// for exporting/importing the structured append-only files and printing
// merge-queue/checkpoint status, built against the same repository the
// control plane server uses.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sudocode/controlplane/cmd/controlplane-cli/cli"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rootCmd := cli.NewRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		os.Exit(0)
	}

	var silent *cli.SilentError
	var usage *cli.UsageError
	if !errors.As(err, &silent) && !errors.As(err, &usage) {
		fmt.Fprintln(rootCmd.OutOrStderr(), err)
	}
	os.Exit(exitCodeFor(err))
}

// exitCodeFor maps a command failure to the exit codes CLI tooling outside
// the core engine uses: 1 for a rejected invocation (an unknown --kind
// value), 2 for anything else
// (cobra's own pre-RunE argument errors included, since those also mean the
// command never got to do real work).
func exitCodeFor(err error) int {
	var usage *cli.UsageError
	if errors.As(err, &usage) {
		return 1
	}
	return 2
}
