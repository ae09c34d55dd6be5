package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
)

// AmbientHandlers serves the issue/spec/relationship/feedback CRUD routes
// that sit alongside the execution lifecycle but aren't part of it: the
// durable record of what work exists, independent of any agent run.
type AmbientHandlers struct {
	api *API
}

type issueRequest struct {
	Title    string             `json:"title" binding:"required"`
	Content  string             `json:"content"`
	Status   domain.IssueStatus `json:"status"`
	Priority int                `json:"priority"`
	ParentID *string            `json:"parentId"`
}

func (h *AmbientHandlers) createIssue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	now := time.Now().UTC()
	issue := &domain.Issue{
		ID:        uuid.New().String(),
		UUID:      uuid.New().String(),
		Title:     req.Title,
		Content:   req.Content,
		Status:    req.Status,
		Priority:  req.Priority,
		ParentID:  req.ParentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if issue.Status == "" {
		issue.Status = domain.IssueOpen
	}
	if err := h.api.repo.CreateIssue(c.Request.Context(), issue); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusCreated, issue)
}

func (h *AmbientHandlers) getIssue(c *gin.Context) {
	issue, err := h.api.repo.GetIssue(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, issue)
}

func (h *AmbientHandlers) listIssues(c *gin.Context) {
	var filter repository.IssueFilter
	if status := c.Query("status"); status != "" {
		s := domain.IssueStatus(status)
		filter.Status = &s
	}
	if parent := c.Query("parent"); parent != "" {
		filter.Parent = &parent
	}
	issues, err := h.api.repo.ListIssues(c.Request.Context(), filter)
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, issues)
}

func (h *AmbientHandlers) updateIssue(c *gin.Context) {
	issue, err := h.api.repo.GetIssue(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	issue.Title = req.Title
	issue.Content = req.Content
	if req.Status != "" {
		issue.Status = req.Status
	}
	issue.Priority = req.Priority
	issue.ParentID = req.ParentID
	issue.UpdatedAt = time.Now().UTC()
	if err := h.api.repo.UpdateIssue(c.Request.Context(), issue); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, issue)
}

func (h *AmbientHandlers) deleteIssue(c *gin.Context) {
	if err := h.api.repo.DeleteIssue(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

type specRequest struct {
	Title    string  `json:"title" binding:"required"`
	Content  string  `json:"content"`
	FilePath string  `json:"filePath"`
	ParentID *string `json:"parentId"`
}

func (h *AmbientHandlers) createSpec(c *gin.Context) {
	var req specRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	now := time.Now().UTC()
	spec := &domain.Spec{
		ID:        uuid.New().String(),
		UUID:      uuid.New().String(),
		Title:     req.Title,
		Content:   req.Content,
		FilePath:  req.FilePath,
		ParentID:  req.ParentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.api.repo.CreateSpec(c.Request.Context(), spec); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusCreated, spec)
}

func (h *AmbientHandlers) getSpec(c *gin.Context) {
	spec, err := h.api.repo.GetSpec(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, spec)
}

func (h *AmbientHandlers) listSpecs(c *gin.Context) {
	specs, err := h.api.repo.ListSpecs(c.Request.Context())
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, specs)
}

func (h *AmbientHandlers) updateSpec(c *gin.Context) {
	spec, err := h.api.repo.GetSpec(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	var req specRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	spec.Title = req.Title
	spec.Content = req.Content
	spec.FilePath = req.FilePath
	spec.ParentID = req.ParentID
	spec.UpdatedAt = time.Now().UTC()
	if err := h.api.repo.UpdateSpec(c.Request.Context(), spec); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, spec)
}

func (h *AmbientHandlers) deleteSpec(c *gin.Context) {
	if err := h.api.repo.DeleteSpec(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

type relationshipRequest struct {
	FromID   string              `json:"fromId" binding:"required"`
	FromType domain.EntityKind   `json:"fromType" binding:"required"`
	ToID     string              `json:"toId" binding:"required"`
	ToType   domain.EntityKind   `json:"toType" binding:"required"`
	Type     domain.RelationType `json:"type" binding:"required"`
}

func (h *AmbientHandlers) createRelationship(c *gin.Context) {
	var req relationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	now := time.Now().UTC()
	rel := &domain.Relationship{
		ID:        uuid.New().String(),
		UUID:      uuid.New().String(),
		FromID:    req.FromID,
		FromType:  req.FromType,
		ToID:      req.ToID,
		ToType:    req.ToType,
		Type:      req.Type,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.api.repo.CreateRelationship(c.Request.Context(), rel); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusCreated, rel)
}

func (h *AmbientHandlers) listRelationships(c *gin.Context) {
	if entityID := c.Query("from"); entityID != "" {
		rels, err := h.api.repo.ListRelationshipsFrom(c.Request.Context(), entityID, domain.RelationType(c.Query("type")))
		if err != nil {
			fail(c, h.api.log, err)
			return
		}
		ok(c, http.StatusOK, rels)
		return
	}
	if entityID := c.Query("to"); entityID != "" {
		rels, err := h.api.repo.ListRelationshipsTo(c.Request.Context(), entityID, domain.RelationType(c.Query("type")))
		if err != nil {
			fail(c, h.api.log, err)
			return
		}
		ok(c, http.StatusOK, rels)
		return
	}
	rels, err := h.api.repo.ListAllRelationships(c.Request.Context())
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, rels)
}

func (h *AmbientHandlers) deleteRelationship(c *gin.Context) {
	if err := h.api.repo.DeleteRelationship(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

type feedbackRequest struct {
	ToID    string              `json:"toId" binding:"required"`
	Type    domain.FeedbackType `json:"type" binding:"required"`
	Content string              `json:"content" binding:"required"`
}

func (h *AmbientHandlers) createFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.api.log, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	now := time.Now().UTC()
	feedback := &domain.Feedback{
		ID:        uuid.New().String(),
		UUID:      uuid.New().String(),
		FromID:    c.Param("id"),
		ToID:      req.ToID,
		Type:      req.Type,
		Content:   req.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.api.repo.CreateFeedback(c.Request.Context(), feedback); err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusCreated, feedback)
}

func (h *AmbientHandlers) listFeedback(c *gin.Context) {
	feedback, err := h.api.repo.ListFeedback(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.api.log, err)
		return
	}
	ok(c, http.StatusOK, feedback)
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "controlplane"})
}
