package agentsession

import (
	"context"
	"fmt"
	"sync"

	gocopilot "github.com/github/copilot-sdk/go"
	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/coordinator"
	"github.com/sudocode/controlplane/pkg/copilot"
)

// copilotAgent wraps pkg/copilot.Client in coordinator.Agent. Unlike the ACP
// kinds, the underlying SDK owns its own subprocess lifecycle; one
// copilotAgent carries at most one session, matching the ACP kinds'
// one-process-per-execution model.
type copilotAgent struct {
	client *copilot.Client
	log    *logger.Logger
}

// NewCopilotAgentConstructor returns a coordinator.AgentConstructor backed by
// the GitHub Copilot SDK. cliURL is empty to let the SDK spawn its own CLI
// process, or set to connect to an externally managed CLI server.
func NewCopilotAgentConstructor(cliURL string, log *logger.Logger) coordinator.AgentConstructor {
	return func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) {
		client := copilot.NewClient(copilot.ClientConfig{CLIUrl: cliURL, Model: cfg.Model}, log)
		if err := client.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting copilot client: %w", err)
		}
		return &copilotAgent{client: client, log: log.WithFields(zap.String("agent_binary", "copilot"))}, nil
	}
}

func (a *copilotAgent) Capabilities() map[string]bool {
	return map[string]bool{"loadSession": true, "promptCapability": true}
}

func (a *copilotAgent) CreateSession(ctx context.Context, workdir string, mcpServers []coordinator.MCPServer) (coordinator.Session, error) {
	id, err := a.client.CreateSession(ctx, toCopilotServers(mcpServers))
	if err != nil {
		return nil, err
	}
	return a.newSession(id, workdir), nil
}

func (a *copilotAgent) LoadSession(ctx context.Context, id, workdir string) (coordinator.Session, error) {
	if err := a.client.ResumeSession(ctx, id, nil); err != nil {
		return nil, err
	}
	return a.newSession(id, workdir), nil
}

func (a *copilotAgent) newSession(id, workdir string) *copilotSession {
	s := &copilotSession{agent: a, id: id, cwd: workdir}
	a.client.SetEventHandler(s.onEvent)
	return s
}

func (a *copilotAgent) IsRunning() bool {
	return a.client.IsStarted()
}

func (a *copilotAgent) Close() error {
	return a.client.Stop()
}

func toCopilotServers(servers []coordinator.MCPServer) map[string]copilot.MCPServerConfig {
	if len(servers) == 0 {
		return nil
	}
	out := make(map[string]copilot.MCPServerConfig, len(servers))
	for _, s := range servers {
		out[s.Name] = copilot.MCPServerConfig{Command: s.Command, Args: s.Args}
	}
	return out
}

// copilotSession converts SDK session events into coordinator.SessionUpdate
// frames, coalescing deltas the same way the ACP sessions do.
type copilotSession struct {
	agent *copilotAgent
	id    string
	cwd   string

	mu      sync.Mutex
	current chan coordinator.SessionUpdate
	message string
}

func (s *copilotSession) ID() string  { return s.id }
func (s *copilotSession) Cwd() string { return s.cwd }

func (s *copilotSession) Prompt(ctx context.Context, text string) (<-chan coordinator.SessionUpdate, error) {
	out := make(chan coordinator.SessionUpdate, 64)
	s.mu.Lock()
	s.current = out
	s.message = ""
	s.mu.Unlock()

	if _, err := s.agent.client.Send(ctx, text); err != nil {
		close(out)
		return nil, err
	}
	return out, nil
}

func (s *copilotSession) onEvent(event gocopilot.SessionEvent) {
	s.mu.Lock()
	out := s.current
	s.mu.Unlock()
	if out == nil {
		return
	}

	switch event.Type {
	case gocopilot.AssistantMessageDelta:
		s.mu.Lock()
		s.message += event.Data.Text
		s.mu.Unlock()
		out <- coordinator.SessionUpdate{Type: "agent_message_chunk", SessionID: s.id, Payload: event.Data.Text}

	case gocopilot.ToolExecutionStart:
		out <- coordinator.SessionUpdate{Type: "tool_call", SessionID: s.id, Payload: event.Data}

	case gocopilot.ToolExecutionProgress:
		out <- coordinator.SessionUpdate{Type: "tool_call_update", SessionID: s.id, Payload: event.Data}

	case gocopilot.ToolExecutionComplete:
		out <- coordinator.SessionUpdate{Type: "tool_call_complete", SessionID: s.id, Payload: event.Data}

	case gocopilot.AssistantTurnEnd, gocopilot.SessionIdle:
		s.mu.Lock()
		final := s.message
		s.current = nil
		s.mu.Unlock()
		if final != "" {
			out <- coordinator.SessionUpdate{Type: "agent_message_complete", SessionID: s.id, Payload: final}
		}
		out <- coordinator.SessionUpdate{Type: "turn_complete", SessionID: s.id, Payload: nil}
		close(out)

	case gocopilot.SessionError:
		out <- coordinator.SessionUpdate{Type: "turn_complete", SessionID: s.id, Payload: fmt.Errorf("copilot session error: %v", event.Data)}
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		close(out)
	}
}

func (s *copilotSession) Cancel(ctx context.Context) error {
	return s.agent.client.Abort(ctx)
}

var _ coordinator.Agent = (*copilotAgent)(nil)
var _ coordinator.Session = (*copilotSession)(nil)
