package transport

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes registers every HTTP and WebSocket route the control plane
// exposes onto router, grouped by resource.
func SetupRoutes(router *gin.RouterGroup, api *API) {
	router.GET("/healthz", healthz)

	executions := &ExecutionHandlers{api: api}
	sync := &SyncHandlers{api: api}
	checkpoints := &CheckpointHandlers{api: api}
	ambient := &AmbientHandlers{api: api}

	issues := router.Group("/issues")
	{
		issues.POST("", ambient.createIssue)
		issues.GET("", ambient.listIssues)
		issues.GET("/:id", ambient.getIssue)
		issues.PATCH("/:id", ambient.updateIssue)
		issues.DELETE("/:id", ambient.deleteIssue)

		issues.POST("/:id/executions", executions.create)
		issues.POST("/:id/review", checkpoints.review)
		issues.POST("/:id/promote", checkpoints.promote)
		issues.GET("/:id/checkpoints", checkpoints.list)
		issues.GET("/:id/checkpoint/current", checkpoints.current)
		issues.POST("/:id/feedback", ambient.createFeedback)
		issues.GET("/:id/feedback", ambient.listFeedback)
	}

	specs := router.Group("/specs")
	{
		specs.POST("", ambient.createSpec)
		specs.GET("", ambient.listSpecs)
		specs.GET("/:id", ambient.getSpec)
		specs.PATCH("/:id", ambient.updateSpec)
		specs.DELETE("/:id", ambient.deleteSpec)
	}

	relationships := router.Group("/relationships")
	{
		relationships.POST("", ambient.createRelationship)
		relationships.GET("", ambient.listRelationships)
		relationships.DELETE("/:id", ambient.deleteRelationship)
	}

	execGroup := router.Group("/executions")
	{
		execGroup.GET("", executions.list)
		execGroup.GET("/:id", executions.get)
		execGroup.POST("/:id/cancel", executions.cancel)
		execGroup.POST("/:id/follow-up", executions.followUp)
		execGroup.POST("/:id/prompt", executions.sendPrompt)
		execGroup.POST("/:id/end", executions.endSession)
		execGroup.GET("/:id/chain", executions.chain)

		execGroup.GET("/:id/sync/preview", sync.preview)
		execGroup.POST("/:id/sync/squash", sync.squash)
		execGroup.POST("/:id/sync/preserve", sync.preserve)
		execGroup.POST("/:id/sync/stage", sync.stage)

		execGroup.GET("/:id/worktree", sync.probeWorktree)
		execGroup.DELETE("/:id/worktree", sync.removeWorktree)

		execGroup.POST("/:id/checkpoint", checkpoints.create)

		execGroup.GET("/:id/stream", api.hub.Stream)
	}

	router.GET("/merge-queue/:target", sync.mergeQueue)
}
