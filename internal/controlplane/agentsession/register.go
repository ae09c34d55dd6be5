package agentsession

import (
	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/coordinator"
)

// BinaryOverrides lets deployments add fixed CLI args for an ACP-backed
// agent kind (e.g. to switch it into ACP mode). The binary name itself
// always comes from defaultBinaries.
type BinaryOverrides map[string][]string

// defaultBinaries maps each ACP-backed built-in kind to its CLI entry point.
var defaultBinaries = map[string]string{
	"claude-code": "claude-code-acp",
	"codex":       "codex",
	"cursor":      "cursor-agent",
	"gemini":      "gemini",
	"opencode":    "opencode",
}

// RegisterBuiltins registers a constructor for every kind in
// coordinator.BuiltinKinds: ACP for all but "copilot", which is backed by
// the GitHub Copilot SDK. copilotCLIURL is passed through to the Copilot
// constructor; empty lets the SDK manage its own CLI subprocess.
func RegisterBuiltins(registry *coordinator.Registry, overrides BinaryOverrides, copilotCLIURL string, log *logger.Logger) {
	for kind, binary := range defaultBinaries {
		args := overrides[kind]
		registry.Register(kind, NewACPAgentConstructor(binary, args, log))
	}
	registry.Register("copilot", NewCopilotAgentConstructor(copilotCLIURL, log))
}
