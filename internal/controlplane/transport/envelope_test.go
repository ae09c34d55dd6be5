package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{})
	require.NoError(t, err)
	return log
}

func recordFail(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fail(c, testLogger(t), err)
	return w
}

func TestFailMapsValidationError(t *testing.T) {
	w := recordFail(t, &domain.ValidationError{Field: "prompt", Reason: "required"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"validation"`)
}

func TestFailMapsNotFoundError(t *testing.T) {
	w := recordFail(t, &domain.NotFoundError{Kind: "execution", ID: "exec-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"not_found"`)
}

func TestFailMapsMissingDependencyError(t *testing.T) {
	w := recordFail(t, &domain.MissingDependencyError{Name: "claude-code-acp", Message: "binary not found"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"missing_dependency"`)
}

func TestFailMapsConflictErrorWithBlockedBy(t *testing.T) {
	w := recordFail(t, &domain.ConflictError{Reason: "dependency unlanded", BlockedBy: []string{"issue-2"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"blocked_by":["issue-2"]`)
}

func TestFailMapsProcessError(t *testing.T) {
	w := recordFail(t, &domain.ProcessError{Kind: domain.ProcessCrashed, LastStderr: "segfault"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"process_failure"`)
}

func TestFailMapsGitFailureError(t *testing.T) {
	w := recordFail(t, &domain.GitFailureError{Operation: "rebase", Output: "conflict"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"git_failure"`)
}

func TestFailMapsUnknownErrorToInternal(t *testing.T) {
	w := recordFail(t, errors.New("unexpected"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"internal"`)
}

func TestFailUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", &domain.NotFoundError{Kind: "issue", ID: "issue-1"})
	w := recordFail(t, wrapped)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOkWritesSuccessEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ok(c, http.StatusOK, gin.H{"hello": "world"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Contains(t, w.Body.String(), `"hello":"world"`)
}
