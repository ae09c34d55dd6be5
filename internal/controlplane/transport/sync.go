package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

// SyncHandlers serves the /executions/{id}/sync and /executions/{id}/worktree routes.
type SyncHandlers struct {
	api *API
}

func (h *SyncHandlers) preview(c *gin.Context) {
	target := c.Query("target")
	if target == "" {
		fail(c, h.api.log, &domain.ValidationError{Field: "target", Reason: "required"})
		return
	}
	result, err := h.api.sync.Preview(c.Request.Context(), c.Param("id"), target)
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, result)
}

type syncActionRequest struct {
	Target  string `json:"target" binding:"required"`
	Message string `json:"message"`
}

func (h *SyncHandlers) squash(c *gin.Context) {
	var req syncActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	afterCommit, err := h.api.sync.Squash(c.Request.Context(), c.Param("id"), req.Target, req.Message)
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"afterCommit": afterCommit})
}

func (h *SyncHandlers) preserve(c *gin.Context) {
	var req syncActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	afterCommit, err := h.api.sync.Preserve(c.Request.Context(), c.Param("id"), req.Target)
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"afterCommit": afterCommit})
}

func (h *SyncHandlers) stage(c *gin.Context) {
	var req syncActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if err := h.api.sync.Stage(c.Request.Context(), c.Param("id"), req.Target); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"staged": true})
}

func (h *SyncHandlers) probeWorktree(c *gin.Context) {
	execution, err := h.api.coordinator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	exists, err := h.api.worktree.Exists(c.Request.Context(), execution.StreamID)
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"exists": exists})
}

func (h *SyncHandlers) removeWorktree(c *gin.Context) {
	execution, err := h.api.coordinator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	if err := h.api.worktree.Delete(c.Request.Context(), execution.StreamID); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"removed": true})
}

func (h *SyncHandlers) mergeQueue(c *gin.Context) {
	entries, err := h.api.queue.List(c.Request.Context(), c.Param("target"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, entries)
}
