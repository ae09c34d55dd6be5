// Package transport exposes the control plane over HTTP and WebSocket:
// gin routes per resource group and a per-execution websocket hub fanning
// out the internal event bus to subscribers.
package transport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

// envelope is the {success, error, message} response shape every route
// except /healthz uses.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// fail maps a domain error to the recognized kind/status and writes the
// envelope, matching each kind at the boundary with errors.As so a wrapped
// error still resolves to its root kind.
func fail(c *gin.Context, log *logger.Logger, err error) {
	var verr *domain.ValidationError
	var nferr *domain.NotFoundError
	var mderr *domain.MissingDependencyError
	var cferr *domain.ConflictError
	var perr *domain.ProcessError
	var gferr *domain.GitFailureError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, envelope{Success: false, Error: "validation", Message: err.Error()})
	case errors.As(err, &nferr):
		c.JSON(http.StatusNotFound, envelope{Success: false, Error: "not_found", Message: err.Error()})
	case errors.As(err, &mderr):
		c.JSON(http.StatusUnprocessableEntity, envelope{Success: false, Error: "missing_dependency", Message: err.Error()})
	case errors.As(err, &cferr):
		c.JSON(http.StatusConflict, gin.H{
			"success": false, "error": "conflict", "message": err.Error(), "blocked_by": cferr.BlockedBy,
		})
	case errors.As(err, &perr):
		c.JSON(http.StatusUnprocessableEntity, envelope{Success: false, Error: "process_failure", Message: err.Error()})
	case errors.As(err, &gferr):
		c.JSON(http.StatusUnprocessableEntity, envelope{Success: false, Error: "git_failure", Message: err.Error()})
	default:
		log.Error("unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, envelope{Success: false, Error: "internal", Message: "request failed"})
	}
}
