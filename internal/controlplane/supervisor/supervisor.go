// Package supervisor runs and tracks the agent subprocess for one execution:
// spawn, stream stdout/stderr, enforce a timeout via SIGTERM/SIGKILL, and
// report exit status.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

// termSignal abstracts the graceful-vs-forceful termination signal across
// platforms, since the underlying OS signal constants differ.
type termSignal int

const (
	sigTerm termSignal = iota
	sigKill
)

// Status is a process's lifecycle state.
type Status string

const (
	StatusSpawning  Status = "spawning"
	StatusBusy      Status = "busy"
	StatusCompleted Status = "completed"
	StatusCrashed   Status = "crashed"
)

// Config describes one process to run.
type Config struct {
	Executable string
	Args       []string
	WorkingDir string
	Env        []string
	Timeout    time.Duration // zero means no timeout
}

const (
	defaultSpawnBound  = 5 * time.Second
	defaultGraceWindow = 2 * time.Second
	defaultBufferBytes = 2 * 1024 * 1024
)

// OutputChunk is one piece of captured stdout/stderr.
type OutputChunk struct {
	Stream    string
	Data      string
	Timestamp time.Time
}

// Process tracks one supervised subprocess.
type Process struct {
	ExecutionID string
	cfg         Config
	log         *logger.Logger

	cmd      *exec.Cmd
	status   atomic.Value // Status
	pid      atomic.Int64
	exitCode atomic.Int32
	signal   atomic.Value // string

	buffer     *ringBuffer
	stopOnce   sync.Once
	stopSignal chan struct{}
	doneCh     chan struct{}
}

func (p *Process) Status() Status    { return p.status.Load().(Status) }
func (p *Process) PID() int          { return int(p.pid.Load()) }
func (p *Process) ExitCode() int     { return int(p.exitCode.Load()) }
func (p *Process) Output() []OutputChunk { return p.buffer.snapshot() }

// Signal reports the terminating signal's name, if the process was killed
// by one.
func (p *Process) Signal() string {
	if v := p.signal.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Done returns a channel closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.doneCh }

// Metrics aggregates counts across every process a Supervisor has spawned.
type Metrics struct {
	Spawned   int64
	Completed int64
	Failed    int64
	Active    int64
}

// Supervisor spawns and tracks agent subprocesses.
type Supervisor struct {
	log *logger.Logger

	mu        sync.RWMutex
	processes map[string]*Process

	spawned   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New constructs a Supervisor.
func New(log *logger.Logger) *Supervisor {
	return &Supervisor{
		log:       log.WithFields(zap.String("component", "supervisor")),
		processes: make(map[string]*Process),
	}
}

// Metrics returns a snapshot of aggregate process counters.
func (s *Supervisor) Metrics() Metrics {
	s.mu.RLock()
	active := int64(len(s.processes))
	s.mu.RUnlock()
	return Metrics{
		Spawned:   s.spawned.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Active:    active,
	}
}

// Spawn starts executionID's process per cfg and returns immediately; the
// process streams output and reports exit asynchronously. Returns a
// domain.ProcessError of kind ProcessSpawnFailed if the process cannot be
// started or no pid is assigned.
func (s *Supervisor) Spawn(ctx context.Context, executionID string, cfg Config) (*Process, error) {
	if cfg.Executable == "" {
		return nil, fmt.Errorf("executable is required")
	}

	cmd := exec.Command(cfg.Executable, cfg.Args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = cfg.Env
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stderr: %w", err)
	}

	proc := &Process{
		ExecutionID: executionID,
		cfg:         cfg,
		log:         s.log.WithExecutionID(executionID),
		cmd:         cmd,
		buffer:      newRingBuffer(defaultBufferBytes),
		stopSignal:  make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	proc.status.Store(StatusSpawning)
	proc.exitCode.Store(-1)

	spawnCtx, cancel := context.WithTimeout(ctx, defaultSpawnBound)
	defer cancel()

	if err := cmd.Start(); err != nil {
		s.failed.Add(1)
		return nil, &domain.ProcessError{Kind: domain.ProcessSpawnFailed, LastStderr: err.Error(), Cause: err}
	}
	select {
	case <-spawnCtx.Done():
		_ = cmd.Process.Kill()
		s.failed.Add(1)
		return nil, &domain.ProcessError{Kind: domain.ProcessSpawnFailed, Cause: spawnCtx.Err()}
	default:
	}
	if cmd.Process == nil {
		s.failed.Add(1)
		return nil, &domain.ProcessError{Kind: domain.ProcessSpawnFailed, Cause: fmt.Errorf("no pid assigned")}
	}

	proc.pid.Store(int64(cmd.Process.Pid))
	proc.status.Store(StatusBusy)
	s.spawned.Add(1)

	s.mu.Lock()
	s.processes[executionID] = proc
	s.mu.Unlock()

	go s.streamOutput(proc, stdout, "stdout")
	go s.streamOutput(proc, stderr, "stderr")
	go s.wait(proc, cfg.Timeout)

	return proc, nil
}

// Get returns the process tracked for executionID, if any.
func (s *Supervisor) Get(executionID string) (*Process, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[executionID]
	return p, ok
}

// Terminate cancels executionID's process: idempotent, moves through
// signal → wait grace → kill. Returns once the process has exited, or once
// the kill is sent after the grace window or ctx ends; completion is
// observed via Process.Done().
func (s *Supervisor) Terminate(ctx context.Context, executionID string) error {
	proc, ok := s.Get(executionID)
	if !ok {
		return nil
	}
	proc.stopOnce.Do(func() { close(proc.stopSignal) })
	terminateProcessGroup(proc.cmd, sigTerm)

	grace := defaultGraceWindow
	if proc.cfg.Timeout > 0 && proc.cfg.Timeout < grace {
		grace = proc.cfg.Timeout
	}
	select {
	case <-ctx.Done():
		terminateProcessGroup(proc.cmd, sigKill)
	case <-time.After(grace):
		terminateProcessGroup(proc.cmd, sigKill)
	case <-proc.doneCh:
	}
	return nil
}

func (s *Supervisor) wait(proc *Process, timeout time.Duration) {
	exitCh := make(chan error, 1)
	go func() { exitCh <- proc.cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-exitCh:
		s.finish(proc, err)
	case <-timeoutCh:
		terminateProcessGroup(proc.cmd, sigTerm)
		select {
		case err := <-exitCh:
			s.finish(proc, err)
		case <-time.After(defaultGraceWindow):
			terminateProcessGroup(proc.cmd, sigKill)
			s.finish(proc, <-exitCh)
		}
	}
}

func (s *Supervisor) finish(proc *Process, waitErr error) {
	proc.exitCode.Store(int32(exitCodeOf(waitErr)))
	if sig := signalOf(waitErr); sig != "" {
		proc.signal.Store(sig)
	}
	if waitErr != nil {
		proc.status.Store(StatusCrashed)
		s.failed.Add(1)
	} else {
		proc.status.Store(StatusCompleted)
		s.completed.Add(1)
	}

	s.mu.Lock()
	delete(s.processes, proc.ExecutionID)
	s.mu.Unlock()
	close(proc.doneCh)

	proc.log.WithFields(zap.String("status", string(proc.Status())), zap.Int("exit_code", proc.ExitCode())).
		Info("process exited")
}

func (s *Supervisor) streamOutput(proc *Process, r interface {
	Read([]byte) (int, error)
}, stream string) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-proc.stopSignal:
			return
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			proc.buffer.append(OutputChunk{Stream: stream, Data: string(buf[:n]), Timestamp: time.Now()})
		}
		if err != nil {
			return
		}
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func signalOf(err error) string {
	var exitErr *exec.ExitError
	if !asExitError(err, &exitErr) {
		return ""
	}
	return signalFromExitError(exitErr)
}
