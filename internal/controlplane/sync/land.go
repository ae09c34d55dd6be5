package sync

import (
	"context"
	"fmt"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/mergequeue"
)

var _ mergequeue.Lander = (*Engine)(nil)

// Land implements mergequeue.Lander: it lands entry's execution against its
// target using the engine's configured default strategy, so the merge queue
// can advance its head without knowing anything about git.
func (e *Engine) Land(ctx context.Context, entry *domain.MergeQueueEntry) (string, error) {
	switch e.cfg.DefaultStrategy {
	case "preserve":
		return e.Preserve(ctx, entry.ExecutionID, entry.Target)
	case "squash", "":
		return e.Squash(ctx, entry.ExecutionID, entry.Target, "")
	default:
		return "", fmt.Errorf("unknown sync strategy %q", e.cfg.DefaultStrategy)
	}
}
