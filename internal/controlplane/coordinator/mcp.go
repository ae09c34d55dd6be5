package coordinator

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

// toolServerName is the well-known MCP entry the coordinator injects into an
// execution's agent configuration when neither the caller's servers nor the
// user's agent config already register it.
const toolServerName = "sudocode-mcp"

// userMCPConfig is the minimal shape of an agent's on-disk MCP configuration
// the injector needs to read: a map of server name to arbitrary definition.
type userMCPConfig struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

// MCPInjector decides whether an execution's agent config already registers
// the control plane's tool server, and if not, whether the binary is
// discoverable and willing to speak MCP.
type MCPInjector struct {
	lookPath  func(string) (string, error)
	handshake func(ctx context.Context, command string) error
}

// NewMCPInjector builds an injector using the real PATH lookup and a
// mark3labs/mcp-go list-tools handshake.
func NewMCPInjector() *MCPInjector {
	return &MCPInjector{
		lookPath:  exec.LookPath,
		handshake: handshakeListTools,
	}
}

// EnsureConfigured returns servers with the well-known sudocode-mcp entry
// appended unless it is already present, either in configPath (the user's
// own agent config, read best-effort) or in servers itself. A read/parse
// failure on configPath is treated as "already configured" and never blocks
// execution creation. A missing or unresponsive binary fails with
// domain.MissingDependencyError.
func (m *MCPInjector) EnsureConfigured(ctx context.Context, configPath string, servers []MCPServer) ([]MCPServer, error) {
	for _, s := range servers {
		if s.Name == toolServerName {
			return servers, nil
		}
	}

	if configPath != "" && userConfigRegistersToolServer(configPath) {
		return servers, nil
	}

	path, err := m.lookPath(toolServerName)
	if err != nil {
		return nil, &domain.MissingDependencyError{
			Name:    toolServerName,
			Message: "install sudocode-mcp and ensure it is on PATH",
		}
	}

	if m.handshake != nil {
		if err := m.handshake(ctx, path); err != nil {
			return nil, &domain.MissingDependencyError{
				Name:    toolServerName,
				Message: "sudocode-mcp did not respond to a list-tools handshake",
			}
		}
	}

	return append(append([]MCPServer{}, servers...), MCPServer{Name: toolServerName, Command: toolServerName}), nil
}

// userConfigRegistersToolServer reports whether the user's own agent config
// already lists the tool server. Any error reading or parsing the file is
// treated as "assume configured": detection failures here must never block
// execution creation.
func userConfigRegistersToolServer(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	var cfg userMCPConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return true
	}
	_, ok := cfg.MCPServers[toolServerName]
	return ok
}

// handshakeListTools performs a lightweight MCP handshake against command:
// initialize, then list-tools. Any failure is surfaced to the caller, which
// treats it the same as the binary not being discoverable at all.
func handshakeListTools(ctx context.Context, command string) error {
	client, err := mcpclient.NewStdioMCPClient(command, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "sudocode-controlplane", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		return err
	}
	if _, err := client.ListTools(ctx, mcp.ListToolsRequest{}); err != nil {
		return err
	}
	return nil
}
