package transport

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// TestSetupRoutesRegistersEveryResourceGroup only needs the API's field
// types for handler construction, not working engines, so a zero-value API
// is enough to verify every route path/method pair gets registered.
func TestSetupRoutesRegistersEveryResourceGroup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := &API{hub: NewHub(testLogger(t))}
	SetupRoutes(router.Group("/"), api)

	routes := router.Routes()
	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		seen[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"GET /healthz",
		"POST /issues",
		"GET /issues",
		"GET /issues/:id",
		"PATCH /issues/:id",
		"DELETE /issues/:id",
		"POST /issues/:id/executions",
		"POST /issues/:id/review",
		"POST /issues/:id/promote",
		"GET /issues/:id/checkpoints",
		"GET /issues/:id/checkpoint/current",
		"POST /issues/:id/feedback",
		"GET /issues/:id/feedback",
		"POST /specs",
		"GET /specs",
		"GET /specs/:id",
		"PATCH /specs/:id",
		"DELETE /specs/:id",
		"POST /relationships",
		"GET /relationships",
		"DELETE /relationships/:id",
		"GET /executions",
		"GET /executions/:id",
		"POST /executions/:id/cancel",
		"POST /executions/:id/follow-up",
		"POST /executions/:id/prompt",
		"POST /executions/:id/end",
		"GET /executions/:id/chain",
		"GET /executions/:id/sync/preview",
		"POST /executions/:id/sync/squash",
		"POST /executions/:id/sync/preserve",
		"POST /executions/:id/sync/stage",
		"GET /executions/:id/worktree",
		"DELETE /executions/:id/worktree",
		"POST /executions/:id/checkpoint",
		"GET /executions/:id/stream",
		"GET /merge-queue/:target",
	} {
		assert.True(t, seen[want], "expected route %q to be registered", want)
	}
}
