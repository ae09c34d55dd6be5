package agentsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/coordinator"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/events/bus"
)

// EventPublisher is the subset of bus.EventBus the driver needs to stream
// session updates out to subscribers (the websocket hub, ultimately).
type EventPublisher interface {
	Publish(ctx context.Context, subject string, event *bus.Event) error
}

var _ EventPublisher = (*bus.MemoryEventBus)(nil)
var _ EventPublisher = (*bus.NATSEventBus)(nil)

// ExecutionUpdater persists an execution's status transitions. Satisfied by
// coordinator.Store; narrowed so driver tests don't need a full fake store.
type ExecutionUpdater interface {
	UpdateExecution(ctx context.Context, execution *domain.Execution) error
}

// HeadCommitReader reads the current commit of a worktree. Satisfied by
// coordinator.GitProvider.
type HeadCommitReader interface {
	HeadCommit(ctx context.Context, dir string) (string, error)
}

// DisconnectWatcher lets the driver learn when an execution's last transport
// subscriber has gone away, so a persistent session configured with
// endOnDisconnect can end itself instead of parking forever. Satisfied by
// transport.Hub.
type DisconnectWatcher interface {
	// OnLastUnsubscribe arranges for cb to run once execID has no
	// subscribers left. Implementations fire at most once per call.
	OnLastUnsubscribe(execID string, cb func())
}

// parkSignal is the set of channels a parked persistent execution selects
// on: a resume with new prompt text, or an unconditional end.
type parkSignal struct {
	resume chan string
	end    chan struct{}
}

// Driver implements coordinator.Driver: it spawns the agent, runs turns,
// streams updates onto the event bus, and persists status transitions. A
// discrete-mode execution runs exactly one turn to a terminal status. A
// persistent-mode execution parks in waiting/paused between turns and is
// resumed by SendPrompt or closed by EndSession, an idle timeout, or the
// transport's last-subscriber-disconnect signal.
type Driver struct {
	store ExecutionUpdater
	git   HeadCommitReader
	bus   EventPublisher
	log   *logger.Logger

	disconnectWatcher DisconnectWatcher

	mu       sync.Mutex
	sessions map[string]coordinator.Session
	parked   map[string]*parkSignal
}

// NewDriver constructs an agent session driver.
func NewDriver(store ExecutionUpdater, git HeadCommitReader, publisher EventPublisher, log *logger.Logger) *Driver {
	return &Driver{
		store:    store,
		git:      git,
		bus:      publisher,
		log:      log.WithFields(zap.String("component", "agentsession")),
		sessions: make(map[string]coordinator.Session),
		parked:   make(map[string]*parkSignal),
	}
}

// SetDisconnectWatcher wires the transport layer's subscriber tracking into
// the driver so endOnDisconnect executions can be ended automatically. Nil
// is the default (no-op): endOnDisconnect is then never triggered.
func (d *Driver) SetDisconnectWatcher(w DisconnectWatcher) {
	d.disconnectWatcher = w
}

// Drive runs execution to completion, transitioning pending -> running ->
// {completed, failed}, or, for a persistent session, running -> waiting/
// paused -> running (repeated per resumed turn) -> {completed, failed}.
// Preparation failures (agent spawn, session creation) go straight to
// failed, matching a preparing execution that never reached a live session.
func (d *Driver) Drive(ctx context.Context, execution *domain.Execution, agentCtor coordinator.AgentConstructor, spawn coordinator.SpawnConfig) {
	execution.Status = domain.ExecPending
	d.persist(ctx, execution)

	agent, err := agentCtor(ctx, spawn)
	if err != nil {
		d.fail(ctx, execution, fmt.Errorf("spawning agent: %w", err))
		return
	}
	defer agent.Close()

	execution.Status = domain.ExecRunning
	now := time.Now().UTC()
	execution.StartedAt = &now
	d.persist(ctx, execution)

	session, err := d.openSession(ctx, agent, execution, spawn)
	if err != nil {
		d.fail(ctx, execution, fmt.Errorf("opening session: %w", err))
		return
	}

	sessionID := session.ID()
	execution.SessionID = &sessionID
	d.persist(ctx, execution)

	d.registerSession(execution.ID, session)
	defer d.unregisterSession(execution.ID)

	// Everything from here on is bracketed by RUN_STARTED/RUN_FINISHED: a
	// spawn or session-open failure above never reached a live run, so it
	// gets no framing events, only the plain status transition to failed.
	d.publish(ctx, execution.ID, coordinator.SessionUpdate{Type: "RUN_STARTED", SessionID: sessionID})
	defer d.publish(ctx, execution.ID, coordinator.SessionUpdate{Type: "RUN_FINISHED", SessionID: sessionID})

	prompt := execution.Prompt
	for {
		if err := d.runTurn(ctx, execution, session, prompt); err != nil {
			d.fail(ctx, execution, err)
			return
		}

		if execution.SessionMode != domain.SessionPersistent {
			break
		}

		resumeText, ended := d.park(ctx, execution, session)
		if ended {
			break
		}
		prompt = resumeText
	}

	after, err := d.git.HeadCommit(ctx, spawn.WorkDir)
	if err != nil {
		d.fail(ctx, execution, fmt.Errorf("reading head commit: %w", err))
		return
	}
	execution.AfterCommit = after
	execution.Status = domain.ExecCompleted
	completedAt := time.Now().UTC()
	execution.CompletedAt = &completedAt
	d.persist(ctx, execution)
}

// runTurn sends prompt to session, forwards every update verbatim, and
// returns the turn's terminal error, if any (a sent-prompt failure or a
// turn_complete carrying an error payload).
func (d *Driver) runTurn(ctx context.Context, execution *domain.Execution, session coordinator.Session, prompt string) error {
	updates, err := session.Prompt(ctx, prompt)
	if err != nil {
		return fmt.Errorf("sending prompt: %w", err)
	}

	var turnErr error
	for update := range updates {
		d.publish(ctx, execution.ID, update)
		if update.Type == "turn_complete" {
			if e, ok := update.Payload.(error); ok {
				turnErr = e
			}
		}
	}
	return turnErr
}

// park settles a persistent execution into waiting or paused (per its
// SessionEndMode) between turns and blocks until SendPrompt, EndSession, an
// idle timeout (waiting only), a last-subscriber disconnect (if configured),
// or context cancellation resolves it. It returns the resumed prompt text,
// or ended=true if the session should now close.
func (d *Driver) park(ctx context.Context, execution *domain.Execution, session coordinator.Session) (resumeText string, ended bool) {
	endMode := execution.SessionEndMode
	if endMode == "" {
		endMode = domain.SessionEndWaiting
	}

	status := domain.ExecWaiting
	eventType := "session_waiting"
	if endMode == domain.SessionEndPaused {
		status = domain.ExecPaused
		eventType = "session_paused"
	}
	execution.Status = status
	d.persist(ctx, execution)
	d.publish(ctx, execution.ID, coordinator.SessionUpdate{Type: eventType, SessionID: session.ID()})

	signal := &parkSignal{resume: make(chan string, 1), end: make(chan struct{}, 1)}
	d.registerParked(execution.ID, signal)
	defer d.unregisterParked(execution.ID)

	var idleCh <-chan time.Time
	if status == domain.ExecWaiting && execution.IdleTimeoutMS > 0 {
		timer := time.NewTimer(time.Duration(execution.IdleTimeoutMS) * time.Millisecond)
		defer timer.Stop()
		idleCh = timer.C
	}

	if execution.EndOnDisconnect && d.disconnectWatcher != nil {
		d.disconnectWatcher.OnLastUnsubscribe(execution.ID, func() {
			select {
			case signal.end <- struct{}{}:
			default:
			}
		})
	}

	select {
	case text := <-signal.resume:
		execution.Status = domain.ExecRunning
		d.persist(ctx, execution)
		return text, false
	case <-signal.end:
		d.log.WithExecutionID(execution.ID).Info("ending persistent session")
		d.publish(ctx, execution.ID, coordinator.SessionUpdate{Type: "session_ended", SessionID: session.ID()})
		return "", true
	case <-idleCh:
		d.log.WithExecutionID(execution.ID).Info("ending persistent session after idle timeout")
		d.publish(ctx, execution.ID, coordinator.SessionUpdate{Type: "session_ended", SessionID: session.ID()})
		return "", true
	case <-ctx.Done():
		return "", true
	}
}

// SendPrompt resumes a parked execution with a new turn. The caller
// (coordinator.Engine) has already checked the execution is waiting/paused;
// a missing parked entry means it raced to a terminal state in the meantime.
func (d *Driver) SendPrompt(ctx context.Context, execID, text string) error {
	d.mu.Lock()
	signal, ok := d.parked[execID]
	d.mu.Unlock()
	if !ok {
		return &domain.NotFoundError{Kind: "parked execution", ID: execID}
	}
	select {
	case signal.resume <- text:
		return nil
	default:
		return fmt.Errorf("execution %s is already resuming", execID)
	}
}

// EndSession closes a parked execution without running another turn. A
// missing parked entry (already resumed, already ended) is a no-op.
func (d *Driver) EndSession(ctx context.Context, execID string) error {
	d.mu.Lock()
	signal, ok := d.parked[execID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case signal.end <- struct{}{}:
	default:
	}
	return nil
}

func (d *Driver) registerParked(execID string, signal *parkSignal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parked[execID] = signal
}

func (d *Driver) unregisterParked(execID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.parked, execID)
}

func (d *Driver) openSession(ctx context.Context, agent coordinator.Agent, execution *domain.Execution, spawn coordinator.SpawnConfig) (coordinator.Session, error) {
	if execution.SessionID != nil {
		return agent.LoadSession(ctx, *execution.SessionID, spawn.WorkDir)
	}
	return agent.CreateSession(ctx, spawn.WorkDir, spawn.MCPServers)
}

func (d *Driver) fail(ctx context.Context, execution *domain.Execution, err error) {
	execution.Status = domain.ExecFailed
	execution.ErrorMessage = err.Error()
	completedAt := time.Now().UTC()
	execution.CompletedAt = &completedAt
	d.persist(ctx, execution)
	d.log.WithExecutionID(execution.ID).Error("execution failed", zap.Error(err))
}

func (d *Driver) persist(ctx context.Context, execution *domain.Execution) {
	if err := d.store.UpdateExecution(ctx, execution); err != nil {
		d.log.WithExecutionID(execution.ID).Error("failed to persist execution status", zap.Error(err))
	}
}

func (d *Driver) publish(ctx context.Context, execID string, update coordinator.SessionUpdate) {
	if d.bus == nil {
		return
	}
	event := bus.NewEvent(update.Type, "agentsession", map[string]interface{}{
		"executionId": execID,
		"sessionId":   update.SessionID,
		"payload":     update.Payload,
	})
	if err := d.bus.Publish(ctx, "executions."+execID+".updates", event); err != nil {
		d.log.WithExecutionID(execID).Warn("failed to publish session update", zap.Error(err))
	}
}

func (d *Driver) registerSession(execID string, session coordinator.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[execID] = session
}

func (d *Driver) unregisterSession(execID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, execID)
}

// Cancel forwards to the live session if one is registered for execID; a
// missing entry means the execution already finished, so this is a no-op.
// A parked execution is also unblocked, since its session is still live.
func (d *Driver) Cancel(ctx context.Context, execID string) error {
	d.mu.Lock()
	session, ok := d.sessions[execID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	_ = d.EndSession(ctx, execID)
	return session.Cancel(ctx)
}

var _ coordinator.Driver = (*Driver)(nil)
