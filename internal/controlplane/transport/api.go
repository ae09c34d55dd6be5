package transport

import (
	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/cascade"
	"github.com/sudocode/controlplane/internal/controlplane/checkpoint"
	"github.com/sudocode/controlplane/internal/controlplane/coordinator"
	"github.com/sudocode/controlplane/internal/controlplane/mergequeue"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
	syncengine "github.com/sudocode/controlplane/internal/controlplane/sync"
	"github.com/sudocode/controlplane/internal/controlplane/worktree"
)

// API bundles every engine the control plane exposes over HTTP/WebSocket.
// Handlers hold a reference to it rather than individual engines so adding a
// new route never requires touching unrelated handler constructors.
type API struct {
	coordinator *coordinator.Engine
	sync        *syncengine.Engine
	checkpoint  *checkpoint.Engine
	cascade     *cascade.Engine
	queue       *mergequeue.Queue
	worktree    *worktree.Manager
	repo        repository.Repository
	hub         *Hub
	log         *logger.Logger
}

// NewAPI wires the engines already constructed by the composition root into
// a single dependency bag for the route handlers.
func NewAPI(
	coord *coordinator.Engine,
	sync *syncengine.Engine,
	cp *checkpoint.Engine,
	casc *cascade.Engine,
	queue *mergequeue.Queue,
	wt *worktree.Manager,
	repo repository.Repository,
	hub *Hub,
	log *logger.Logger,
) *API {
	return &API{
		coordinator: coord,
		sync:        sync,
		checkpoint:  cp,
		cascade:     casc,
		queue:       queue,
		worktree:    wt,
		repo:        repo,
		hub:         hub,
		log:         log,
	}
}
