//go:build windows

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/UserExistsError/conpty"
)

type windowsPTY struct {
	cpty *conpty.ConPty
}

func (p *windowsPTY) Read(b []byte) (int, error)  { return p.cpty.Read(b) }
func (p *windowsPTY) Write(b []byte) (int, error) { return p.cpty.Write(b) }
func (p *windowsPTY) Close() error                { return p.cpty.Close() }

func (p *windowsPTY) Resize(cols, rows uint16) error {
	return p.cpty.Resize(int(cols), int(rows))
}

func startPTYWithSize(cmd *exec.Cmd, cols, rows int) (PtyHandle, error) {
	cmdLine := strings.Join(cmd.Args, " ")

	opts := []conpty.ConPtyOption{conpty.ConPtyDimensions(cols, rows)}
	if cmd.Dir != "" {
		opts = append(opts, conpty.ConPtyWorkDir(cmd.Dir))
	}
	if cmd.Env != nil {
		opts = append(opts, conpty.ConPtyEnv(cmd.Env))
	}

	cpty, err := conpty.Start(cmdLine, opts...)
	if err != nil {
		return nil, err
	}

	pid := cpty.Pid()
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		_ = cpty.Close()
		return nil, fmt.Errorf("finding conpty process %d: %w", pid, err)
	}
	cmd.Process = proc

	return &windowsPTY{cpty: cpty}, nil
}
