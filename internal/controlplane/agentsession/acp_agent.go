// Package agentsession implements coordinator.Agent/coordinator.Session for
// every built-in agent kind, and the coordinator.Driver that runs a prepared
// execution to completion. Every kind speaks ACP except "copilot", which
// speaks the GitHub Copilot SDK behind the same capability interface.
package agentsession

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	acpclient "github.com/sudocode/controlplane/internal/agentctl/server/acp"
	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/coordinator"
)

// acpAgent spawns one agent subprocess and speaks ACP to it over its
// stdin/stdout. One acpAgent is created per execution; it carries exactly
// one session for the lifetime of the process.
type acpAgent struct {
	binary string
	args   []string

	cmd           *exec.Cmd
	stdin         io.WriteCloser
	log           *logger.Logger
	client        *acpclient.Client
	conn          *acp.ClientSideConnection
	notifications chan acp.SessionNotification

	mu           sync.Mutex
	capabilities acp.AgentCapabilities
}

// NewACPAgentConstructor returns a coordinator.AgentConstructor that spawns
// binary (with args appended) and performs the ACP initialize handshake
// before returning. args is typically empty; some agent kinds require a
// fixed subcommand (e.g. "acp") to switch into ACP mode.
func NewACPAgentConstructor(binary string, args []string, log *logger.Logger) coordinator.AgentConstructor {
	return func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) {
		a := &acpAgent{binary: binary, args: args, log: log.WithFields(zap.String("agent_binary", binary))}
		if err := a.start(ctx, cfg); err != nil {
			return nil, err
		}
		return a, nil
	}
}

func (a *acpAgent) start(ctx context.Context, cfg coordinator.SpawnConfig) error {
	a.cmd = exec.CommandContext(ctx, a.binary, a.args...)
	a.cmd.Dir = cfg.WorkDir
	a.cmd.Env = append(os.Environ(), envPairs(cfg.Model)...)

	stdin, err := a.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("wiring stdin for %s: %w", a.binary, err)
	}
	stdout, err := a.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("wiring stdout for %s: %w", a.binary, err)
	}
	a.cmd.Stderr = os.Stderr
	a.stdin = stdin

	if err := a.cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", a.binary, err)
	}

	a.notifications = make(chan acp.SessionNotification, 256)
	a.client = acpclient.NewClient(
		acpclient.WithLogger(a.log.Zap()),
		acpclient.WithWorkspaceRoot(cfg.WorkDir),
		acpclient.WithUpdateHandler(a.onNotification),
	)
	a.conn = acp.NewClientSideConnection(a.client, stdin, stdout)

	resp, err := a.conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientInfo:      &acp.Implementation{Name: "sudocode-controlplane", Version: "1.0.0"},
	})
	if err != nil {
		_ = a.cmd.Process.Kill()
		return fmt.Errorf("ACP initialize handshake with %s failed: %w", a.binary, err)
	}
	a.mu.Lock()
	a.capabilities = resp.AgentCapabilities
	a.mu.Unlock()

	return nil
}

func (a *acpAgent) onNotification(n acp.SessionNotification) {
	select {
	case a.notifications <- n:
	default:
		a.log.Warn("notification buffer full, dropping update")
	}
}

func envPairs(model string) []string {
	if model == "" {
		return nil
	}
	return []string{"SUDOCODE_AGENT_MODEL=" + model}
}

func (a *acpAgent) Capabilities() map[string]bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]bool{
		"loadSession":      a.capabilities.LoadSession,
		"promptCapability": true,
	}
}

func (a *acpAgent) CreateSession(ctx context.Context, workdir string, mcpServers []coordinator.MCPServer) (coordinator.Session, error) {
	resp, err := a.conn.NewSession(ctx, acp.NewSessionRequest{
		Cwd:        workdir,
		McpServers: toACPServers(mcpServers),
	})
	if err != nil {
		return nil, fmt.Errorf("creating ACP session: %w", err)
	}
	return &acpSession{agent: a, id: string(resp.SessionId), cwd: workdir}, nil
}

func (a *acpAgent) LoadSession(ctx context.Context, id, workdir string) (coordinator.Session, error) {
	a.mu.Lock()
	supportsLoad := a.capabilities.LoadSession
	a.mu.Unlock()
	if !supportsLoad {
		return nil, fmt.Errorf("%s does not support session resumption", a.binary)
	}
	if _, err := a.conn.LoadSession(ctx, acp.LoadSessionRequest{SessionId: acp.SessionId(id)}); err != nil {
		return nil, fmt.Errorf("loading ACP session %s: %w", id, err)
	}
	return &acpSession{agent: a, id: id, cwd: workdir}, nil
}

func (a *acpAgent) IsRunning() bool {
	return a.cmd != nil && a.cmd.ProcessState == nil
}

func (a *acpAgent) Close() error {
	if a.stdin != nil {
		_ = a.stdin.Close()
	}
	if a.cmd == nil || a.cmd.Process == nil {
		return nil
	}
	return a.cmd.Wait()
}

func toACPServers(servers []coordinator.MCPServer) []acp.McpServer {
	out := make([]acp.McpServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, acp.McpServer{
			Stdio: &acp.McpServerStdio{
				Name:    s.Name,
				Command: s.Command,
				Args:    append([]string{}, s.Args...),
			},
		})
	}
	return out
}

var _ coordinator.Agent = (*acpAgent)(nil)
