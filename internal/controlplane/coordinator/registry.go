package coordinator

import (
	"context"
	stdsync "sync"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

// SessionUpdate is one frame of an agent session's update stream: an
// agent_message_chunk, tool_call, tool_call_update, or session-control
// frame. Unknown discriminators are forwarded opaquely by the driver.
type SessionUpdate struct {
	Type      string
	SessionID string
	Payload   any
}

// Session is one running conversation with a spawned agent. It is a lazy,
// finite, non-restartable sequence of updates plus a cancellation token.
type Session interface {
	ID() string
	Cwd() string
	Prompt(ctx context.Context, text string) (<-chan SessionUpdate, error)
	Cancel(ctx context.Context) error
}

// Agent is the capability interface every agent kind exposes once spawned,
// independent of the wire protocol backing it (ACP for most kinds, the
// GitHub Copilot SDK for "copilot").
type Agent interface {
	Capabilities() map[string]bool
	CreateSession(ctx context.Context, workdir string, mcpServers []MCPServer) (Session, error)
	LoadSession(ctx context.Context, id, workdir string) (Session, error)
	Close() error
	IsRunning() bool
}

// MCPServer is a single MCP server entry passed to session creation, e.g.
// the injected {name: "sudocode-mcp", command: "sudocode-mcp"} entry.
type MCPServer struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// SpawnConfig carries per-execution parameters an agent constructor needs to
// bring an Agent up: the working directory, model selection, and any
// already-resolved MCP servers.
type SpawnConfig struct {
	WorkDir    string
	Model      string
	MCPServers []MCPServer
}

// AgentConstructor builds a fresh Agent for one execution. Implementations
// live in the agent session driver, which registers them by kind at startup.
type AgentConstructor func(ctx context.Context, cfg SpawnConfig) (Agent, error)

// Registry maps an agent kind string ("claude-code", "codex", "copilot",
// "cursor", "gemini", "opencode", ...) to the constructor of its capability
// interface. Every built-in kind is backed by the ACP adapter except
// "copilot", which speaks the GitHub Copilot SDK behind the same interface.
type Registry struct {
	mu           stdsync.RWMutex
	constructors map[string]AgentConstructor
}

// NewRegistry constructs an empty agent-kind registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]AgentConstructor)}
}

// Register associates kind with constructor, overwriting any prior entry.
func (r *Registry) Register(kind string, constructor AgentConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[kind] = constructor
}

// Lookup returns kind's constructor, or false if no agent kind was
// registered under that name.
func (r *Registry) Lookup(kind string) (AgentConstructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.constructors[kind]
	return c, ok
}

// Known reports every registered agent kind.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.constructors))
	for kind := range r.constructors {
		kinds = append(kinds, kind)
	}
	return kinds
}

// BuiltinKinds are the agent kinds the coordinator knows by name; the driver
// registers a constructor for each at startup (ACP-backed for all but
// "copilot").
var BuiltinKinds = []string{"claude-code", "codex", "copilot", "cursor", "gemini", "opencode"}

func (r *Registry) validate(kind string) error {
	if _, ok := r.Lookup(kind); !ok {
		return &domain.ValidationError{Field: "agentKind", Reason: "unknown agent kind " + kind}
	}
	return nil
}
