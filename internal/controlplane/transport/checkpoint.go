package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sudocode/controlplane/internal/controlplane/checkpoint"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

// CheckpointHandlers serves checkpoint creation, review, and promotion routes.
type CheckpointHandlers struct {
	api *API
}

type createCheckpointRequest struct {
	Message     string `json:"message" binding:"required"`
	AutoEnqueue bool   `json:"autoEnqueue"`
}

func (h *CheckpointHandlers) create(c *gin.Context) {
	var req createCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	cp, err := h.api.checkpoint.CreateCheckpoint(c.Request.Context(), c.Param("id"), req.Message, req.AutoEnqueue)
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusCreated, cp)
}

type reviewRequest struct {
	Action   checkpoint.ReviewAction `json:"action" binding:"required"`
	Reviewer string                  `json:"reviewer"`
	Notes    string                  `json:"notes"`
}

func (h *CheckpointHandlers) review(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	cp, err := h.api.checkpoint.Review(c.Request.Context(), c.Param("id"), req.Action, req.Reviewer, req.Notes)
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, cp)
}

type promoteRequest struct {
	Strategy checkpoint.Strategy `json:"strategy"`
	Message  string              `json:"message"`
	Force    bool                `json:"force"`
}

func (h *CheckpointHandlers) promote(c *gin.Context) {
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	opts := checkpoint.PromoteOptions{Strategy: req.Strategy, Message: req.Message, Force: req.Force}
	cp, err := h.api.checkpoint.Promote(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, cp)
}

func (h *CheckpointHandlers) list(c *gin.Context) {
	checkpoints, err := h.api.repo.ListCheckpoints(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, checkpoints)
}

func (h *CheckpointHandlers) current(c *gin.Context) {
	cp, err := h.api.repo.GetCurrentCheckpoint(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, cp)
}
