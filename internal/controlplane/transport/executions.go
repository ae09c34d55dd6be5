package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sudocode/controlplane/internal/controlplane/coordinator"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
)

// ExecutionHandlers serves the /executions routes.
type ExecutionHandlers struct {
	api *API
}

type createExecutionRequest struct {
	Prompt          string                   `json:"prompt" binding:"required"`
	AgentKind       string                   `json:"agentKind" binding:"required"`
	Mode            domain.ExecutionMode     `json:"mode"`
	Model           string                   `json:"model"`
	TargetBranch    string                   `json:"targetBranch"`
	MCPServers      []coordinator.MCPServer  `json:"mcpServers"`
	AgentConfigPath string                   `json:"agentConfigPath"`
	Timeout         int                      `json:"timeout"` // milliseconds; stored in ExecutionConfig.Timeout, which no component reads
	SessionMode     domain.SessionMode       `json:"sessionMode"`
	SessionEndMode  domain.SessionEndMode    `json:"sessionEndMode"`
	EndOnDisconnect bool                     `json:"endOnDisconnect"`
	IdleTimeout     int                      `json:"idleTimeout"` // milliseconds; 0 disables the idle timer
}

func (h *ExecutionHandlers) create(c *gin.Context) {
	issueID := c.Param("id")
	var req createExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	cfg := coordinator.ExecutionConfig{
		Mode:            req.Mode,
		Model:           req.Model,
		TargetBranch:    req.TargetBranch,
		MCPServers:      req.MCPServers,
		AgentConfigPath: req.AgentConfigPath,
		Timeout:         time.Duration(req.Timeout) * time.Millisecond,
		SessionMode:     req.SessionMode,
		SessionEndMode:  req.SessionEndMode,
		IdleTimeout:     time.Duration(req.IdleTimeout) * time.Millisecond,
		EndOnDisconnect: req.EndOnDisconnect,
	}

	var issueIDPtr *string
	if issueID != "" {
		issueIDPtr = &issueID
	}

	execution, err := h.api.coordinator.CreateExecution(c.Request.Context(), issueIDPtr, req.Prompt, req.AgentKind, cfg)
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusCreated, execution)
}

func (h *ExecutionHandlers) list(c *gin.Context) {
	var filter repository.ExecutionFilter
	if issueID := c.Query("issueId"); issueID != "" {
		filter.IssueID = &issueID
	}
	if streamID := c.Query("streamId"); streamID != "" {
		filter.StreamID = &streamID
	}
	executions, err := h.api.coordinator.List(c.Request.Context(), filter)
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, executions)
}

func (h *ExecutionHandlers) get(c *gin.Context) {
	execution, err := h.api.coordinator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, execution)
}

func (h *ExecutionHandlers) cancel(c *gin.Context) {
	if err := h.api.coordinator.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"cancelled": true})
}

type followUpRequest struct {
	Feedback string `json:"feedback" binding:"required"`
}

func (h *ExecutionHandlers) followUp(c *gin.Context) {
	var req followUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	execution, err := h.api.coordinator.CreateFollowUp(c.Request.Context(), c.Param("id"), req.Feedback)
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusAccepted, execution)
}

type sendPromptRequest struct {
	Text string `json:"text" binding:"required"`
}

// sendPrompt resumes a persistent execution parked in waiting/paused with a
// new turn.
func (h *ExecutionHandlers) sendPrompt(c *gin.Context) {
	var req sendPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if err := h.api.coordinator.SendPrompt(c.Request.Context(), c.Param("id"), req.Text); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"resumed": true})
}

// endSession closes a persistent execution parked in waiting/paused without
// running another turn.
func (h *ExecutionHandlers) endSession(c *gin.Context) {
	if err := h.api.coordinator.EndSession(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"ended": true})
}

func (h *ExecutionHandlers) chain(c *gin.Context) {
	chain, err := h.api.coordinator.Chain(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, chain)
}
