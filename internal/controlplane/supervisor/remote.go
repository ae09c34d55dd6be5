package supervisor

import (
	"context"
	"fmt"
	"time"

	sprites "github.com/superfly/sprites-go"
	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/common/logger"
)

const (
	remoteStepTimeout   = 120 * time.Second
	remoteSpriteNamePfx = "controlplane-"
)

// RemoteBackend runs an execution's agent process inside a managed remote
// sandbox instead of a local subprocess. No config setting selects it and
// no other component constructs it.
type RemoteBackend struct {
	log    *logger.Logger
	client *sprites.Client
}

// NewRemoteBackend constructs a backend authenticated with apiToken.
func NewRemoteBackend(apiToken string, log *logger.Logger) *RemoteBackend {
	return &RemoteBackend{
		log:    log.WithFields(zap.String("component", "remote-backend")),
		client: sprites.New(apiToken),
	}
}

// RemoteProcess is a handle to a command running inside a remote sandbox.
type RemoteProcess struct {
	sprite *sprites.Sprite
	name   string
}

// Spawn creates a sandbox for executionID (if one doesn't already exist
// under that name) and starts cfg's command inside it.
func (b *RemoteBackend) Spawn(ctx context.Context, executionID string, cfg Config) (*RemoteProcess, error) {
	name := remoteSpriteNamePfx + executionID

	stepCtx, cancel := context.WithTimeout(ctx, remoteStepTimeout)
	defer cancel()

	sprite, err := b.client.CreateSprite(stepCtx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("creating remote sandbox %s: %w", name, err)
	}

	args := append([]string{cfg.Executable}, cfg.Args...)
	if _, err := sprite.CommandContext(stepCtx, args[0], args[1:]...).Output(); err != nil {
		return nil, fmt.Errorf("starting remote process in %s: %w", name, err)
	}

	b.log.WithFields(zap.String("sandbox", name)).Info("remote process spawned")
	return &RemoteProcess{sprite: sprite, name: name}, nil
}

// Destroy tears down the sandbox backing proc.
func (b *RemoteBackend) Destroy(ctx context.Context, proc *RemoteProcess) error {
	return proc.sprite.Destroy()
}
