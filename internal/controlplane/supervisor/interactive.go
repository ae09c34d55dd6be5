package supervisor

import (
	"io"
	"os/exec"
)

// PtyHandle abstracts pty operations across Unix (creack/pty) and Windows
// (conpty), mirroring the split used for the agent process runner.
type PtyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}

// StartInteractive starts cfg's command attached to a pty of the given
// dimensions rather than plain stdio pipes, for executions that request an
// interactive terminal session.
func StartInteractive(cfg Config, cols, rows int) (*exec.Cmd, PtyHandle, error) {
	cmd := exec.Command(cfg.Executable, cfg.Args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = cfg.Env
	handle, err := startPTYWithSize(cmd, cols, rows)
	if err != nil {
		return nil, nil, err
	}
	return cmd, handle, nil
}
