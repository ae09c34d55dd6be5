// Package coordinator implements the execution coordinator: createExecution
// and createFollowUp validate inputs, allocate a stream and a worktree, and
// hand off to the agent session driver; everything past that hand-off
// (status transitions, streaming, coalescence) belongs to the driver.
package coordinator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
)

// Driver is the agent session driver the coordinator hands a prepared
// execution to. Drive should not return until the session's first turn
// completes (or the session parks in waiting/paused for a persistent
// session); it owns every status transition past preparing.
type Driver interface {
	Drive(ctx context.Context, execution *domain.Execution, agent AgentConstructor, spawn SpawnConfig)
	Cancel(ctx context.Context, execID string) error
	// SendPrompt resumes a persistent execution parked in waiting/paused
	// with a new turn. The caller (Engine) has already checked status.
	SendPrompt(ctx context.Context, execID, text string) error
	// EndSession closes out a persistent execution parked in waiting/paused
	// without running another turn.
	EndSession(ctx context.Context, execID string) error
}

// ExecutionConfig is the caller-supplied configuration for a new execution:
// worktree vs. local mode, model selection, target branch, MCP servers
// already configured on the caller's side, and the persistent-session
// knobs (sessionMode/sessionEndMode/idle timeout/endOnDisconnect).
type ExecutionConfig struct {
	Mode            domain.ExecutionMode
	Model           string
	TargetBranch    string
	MCPServers      []MCPServer
	AgentConfigPath string
	Timeout         time.Duration

	SessionMode     domain.SessionMode
	SessionEndMode  domain.SessionEndMode
	IdleTimeout     time.Duration
	EndOnDisconnect bool
}

// Engine is the execution coordinator.
type Engine struct {
	store       Store
	worktree    WorktreeProvider
	git         GitProvider
	registry    *Registry
	mcp         *MCPInjector
	driver      Driver
	projectRoot string
	defaultRef  string
	log         *logger.Logger
}

// NewEngine constructs the execution coordinator. projectRoot is used as the
// working directory for mode=local executions and as the directory resolved
// refs are read against; defaultRef is the branch a new stream targets when
// the caller does not name one (e.g. "main").
func NewEngine(store Store, worktree WorktreeProvider, git GitProvider, registry *Registry, mcp *MCPInjector, driver Driver, projectRoot, defaultRef string, log *logger.Logger) *Engine {
	return &Engine{
		store:       store,
		worktree:    worktree,
		git:         git,
		registry:    registry,
		mcp:         mcp,
		driver:      driver,
		projectRoot: projectRoot,
		defaultRef:  defaultRef,
		log:         log.WithFields(zap.String("component", "coordinator")),
	}
}

// CreateExecution validates issueID (if given), allocates or reuses the
// issue's stream, acquires a worktree (or the project root for mode=local),
// resolves MCP injection, persists the execution in preparing, and hands it
// to the driver asynchronously. It returns as soon as the execution is
// persisted; the driver continues the lifecycle in the background.
func (e *Engine) CreateExecution(ctx context.Context, issueID *string, prompt, agentKind string, cfg ExecutionConfig) (*domain.Execution, error) {
	if prompt == "" {
		return nil, &domain.ValidationError{Field: "prompt", Reason: "prompt is required"}
	}
	constructor, ok := e.registry.Lookup(agentKind)
	if !ok {
		return nil, &domain.ValidationError{Field: "agentKind", Reason: "unknown agent kind " + agentKind}
	}
	if cfg.Mode != "" && !domain.ValidExecutionMode(cfg.Mode) {
		return nil, &domain.ValidationError{Field: "mode", Reason: "unknown execution mode " + string(cfg.Mode)}
	}
	if cfg.SessionMode != "" && !domain.ValidSessionMode(cfg.SessionMode) {
		return nil, &domain.ValidationError{Field: "sessionMode", Reason: "unknown session mode " + string(cfg.SessionMode)}
	}
	if cfg.SessionEndMode != "" && !domain.ValidSessionEndMode(cfg.SessionEndMode) {
		return nil, &domain.ValidationError{Field: "sessionEndMode", Reason: "unknown session end mode " + string(cfg.SessionEndMode)}
	}
	if issueID != nil {
		if _, err := e.store.GetIssue(ctx, *issueID); err != nil {
			return nil, err
		}
	}

	stream, err := e.allocateStream(ctx, issueID, cfg.TargetBranch)
	if err != nil {
		return nil, err
	}

	mode := cfg.Mode
	if mode == "" {
		mode = domain.ModeWorktree
	}
	workdir := e.projectRoot
	if mode == domain.ModeWorktree {
		workdir, err = e.worktree.Acquire(ctx, stream.ID, stream.TargetBranch)
		if err != nil {
			return nil, err
		}
	}

	before, err := e.git.HeadCommit(ctx, workdir)
	if err != nil {
		return nil, err
	}

	mcpServers, err := e.mcp.EnsureConfigured(ctx, cfg.AgentConfigPath, cfg.MCPServers)
	if err != nil {
		return nil, err
	}

	sessionMode := cfg.SessionMode
	if sessionMode == "" {
		sessionMode = domain.SessionDiscrete
	}
	sessionEndMode := cfg.SessionEndMode
	if sessionEndMode == "" {
		sessionEndMode = domain.SessionEndWaiting
	}

	execution := &domain.Execution{
		ID:              newExecutionID(),
		StreamID:        stream.ID,
		IssueID:         issueID,
		AgentKind:       agentKind,
		Mode:            mode,
		Prompt:          prompt,
		BeforeCommit:    before,
		Status:          domain.ExecPreparing,
		SessionMode:     sessionMode,
		SessionEndMode:  sessionEndMode,
		IdleTimeoutMS:   int(cfg.IdleTimeout.Milliseconds()),
		EndOnDisconnect: cfg.EndOnDisconnect,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return nil, err
	}

	spawn := SpawnConfig{WorkDir: workdir, Model: cfg.Model, MCPServers: mcpServers}
	e.log.WithExecutionID(execution.ID).Info("execution prepared")
	go e.driver.Drive(context.WithoutCancel(ctx), execution, constructor, spawn)

	return execution, nil
}

// CreateFollowUp requires parent to be terminal-non-failure or parked
// (waiting/paused), and reuses its stream, worktree, and agent kind.
func (e *Engine) CreateFollowUp(ctx context.Context, parentExecID, feedback string) (*domain.Execution, error) {
	parent, err := e.store.GetExecution(ctx, parentExecID)
	if err != nil {
		return nil, err
	}
	if !followUpEligible(parent.Status) {
		return nil, &domain.ValidationError{Field: "parentExecId", Reason: "parent execution is not in a followable state"}
	}
	constructor, ok := e.registry.Lookup(parent.AgentKind)
	if !ok {
		return nil, &domain.ValidationError{Field: "agentKind", Reason: "unknown agent kind " + parent.AgentKind}
	}

	stream, err := e.store.GetStream(ctx, parent.StreamID)
	if err != nil {
		return nil, err
	}

	workdir := e.projectRoot
	if parent.Mode == domain.ModeWorktree {
		workdir, err = e.worktree.Acquire(ctx, stream.ID, stream.TargetBranch)
		if err != nil {
			return nil, err
		}
	}
	before, err := e.git.HeadCommit(ctx, workdir)
	if err != nil {
		return nil, err
	}

	execution := &domain.Execution{
		ID:              newExecutionID(),
		StreamID:        parent.StreamID,
		IssueID:         parent.IssueID,
		AgentKind:       parent.AgentKind,
		Mode:            parent.Mode,
		Prompt:          feedback,
		ParentExecID:    &parent.ID,
		SessionID:       parent.SessionID,
		BeforeCommit:    before,
		Status:          domain.ExecPreparing,
		SessionMode:     parent.SessionMode,
		SessionEndMode:  parent.SessionEndMode,
		IdleTimeoutMS:   parent.IdleTimeoutMS,
		EndOnDisconnect: parent.EndOnDisconnect,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return nil, err
	}

	spawn := SpawnConfig{WorkDir: workdir}
	go e.driver.Drive(context.WithoutCancel(ctx), execution, constructor, spawn)

	return execution, nil
}

func followUpEligible(status domain.ExecutionStatus) bool {
	if status == domain.ExecWaiting || status == domain.ExecPaused {
		return true
	}
	return status.Terminal() && status != domain.ExecFailed && status != domain.ExecCrashed
}

// Cancel is idempotent: a terminal execution is a no-op. Otherwise it
// delegates to the driver, which unblocks a parked session and forwards the
// cancel to the live agent session. No grace period or forced kill of the
// agent process follows.
func (e *Engine) Cancel(ctx context.Context, execID string) error {
	execution, err := e.store.GetExecution(ctx, execID)
	if err != nil {
		return err
	}
	if execution.Status.Terminal() {
		return nil
	}
	return e.driver.Cancel(ctx, execID)
}

// SendPrompt resumes a persistent execution that is parked in waiting or
// paused with a new turn. Any other status is rejected.
func (e *Engine) SendPrompt(ctx context.Context, execID, text string) error {
	if text == "" {
		return &domain.ValidationError{Field: "text", Reason: "text is required"}
	}
	execution, err := e.store.GetExecution(ctx, execID)
	if err != nil {
		return err
	}
	if execution.Status != domain.ExecWaiting && execution.Status != domain.ExecPaused {
		return &domain.ValidationError{Field: "execId", Reason: "execution is not parked waiting for a prompt"}
	}
	return e.driver.SendPrompt(ctx, execID, text)
}

// EndSession closes out a persistent execution parked in waiting or paused
// without running another turn. It is idempotent: a terminal execution is a
// no-op, matching Cancel's idempotency contract.
func (e *Engine) EndSession(ctx context.Context, execID string) error {
	execution, err := e.store.GetExecution(ctx, execID)
	if err != nil {
		return err
	}
	if execution.Status.Terminal() {
		return nil
	}
	if execution.Status != domain.ExecWaiting && execution.Status != domain.ExecPaused {
		return &domain.ValidationError{Field: "execId", Reason: "execution is not parked in a persistent session"}
	}
	return e.driver.EndSession(ctx, execID)
}

// Get returns one execution by id.
func (e *Engine) Get(ctx context.Context, execID string) (*domain.Execution, error) {
	return e.store.GetExecution(ctx, execID)
}

// List returns executions matching filter.
func (e *Engine) List(ctx context.Context, filter repository.ExecutionFilter) ([]*domain.Execution, error) {
	return e.store.ListExecutions(ctx, filter)
}

// Chain returns the follow-up chain execID belongs to, root first, walking
// up to the root via ParentExecID and back down through the linear
// follow-up sequence within the root's stream.
func (e *Engine) Chain(ctx context.Context, execID string) ([]*domain.Execution, error) {
	start, err := e.store.GetExecution(ctx, execID)
	if err != nil {
		return nil, err
	}

	siblings, err := e.store.ListExecutions(ctx, repository.ExecutionFilter{StreamID: &start.StreamID})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Execution, len(siblings))
	childOf := make(map[string]*domain.Execution, len(siblings))
	for _, ex := range siblings {
		byID[ex.ID] = ex
		if ex.ParentExecID != nil {
			childOf[*ex.ParentExecID] = ex
		}
	}

	root := start
	for root.ParentExecID != nil {
		parent, ok := byID[*root.ParentExecID]
		if !ok {
			break
		}
		root = parent
	}

	chain := []*domain.Execution{root}
	for cur := root; ; {
		next, ok := childOf[cur.ID]
		if !ok {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	return chain, nil
}

func (e *Engine) allocateStream(ctx context.Context, issueID *string, targetBranch string) (*domain.Stream, error) {
	ref := targetBranch
	if ref == "" {
		ref = e.defaultRef
	}

	if issueID == nil {
		return e.createStream(ctx, "", ref)
	}

	existing, err := e.store.GetActiveStreamByIssue(ctx, *issueID)
	if err == nil {
		return existing, nil
	}
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}
	return e.createStream(ctx, *issueID, ref)
}

func (e *Engine) createStream(ctx context.Context, issueID, targetBranch string) (*domain.Stream, error) {
	tip, err := e.git.ResolveRef(ctx, e.projectRoot, targetBranch)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	stream := &domain.Stream{
		ID:           newStreamID(),
		IssueID:      issueID,
		TargetBranch: targetBranch,
		BaseCommit:   tip,
		HeadCommit:   tip,
		State:        domain.StreamActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateStream(ctx, stream); err != nil {
		return nil, err
	}
	return stream, nil
}
