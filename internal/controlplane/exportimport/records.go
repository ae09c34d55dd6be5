package exportimport

import (
	"context"
	"fmt"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/merge"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
)

func issueToRecord(issue *domain.Issue) merge.Record {
	fields := map[string]interface{}{
		"title":    issue.Title,
		"content":  issue.Content,
		"status":   string(issue.Status),
		"priority": issue.Priority,
	}
	if issue.ParentID != nil {
		fields["parent_id"] = *issue.ParentID
	}
	return merge.Record{
		UUID:      issue.UUID,
		StableID:  issue.ID,
		CreatedAt: issue.CreatedAt,
		UpdatedAt: issue.UpdatedAt,
		Fields:    fields,
	}
}

func recordToIssue(rec merge.Record) *domain.Issue {
	issue := &domain.Issue{
		ID:        rec.StableID,
		UUID:      rec.UUID,
		Title:     stringField(rec, "title"),
		Content:   stringField(rec, "content"),
		Status:    domain.IssueStatus(stringField(rec, "status")),
		Priority:  intField(rec, "priority"),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if parent, ok := rec.Fields["parent_id"].(string); ok && parent != "" {
		issue.ParentID = &parent
	}
	return issue
}

func specToRecord(spec *domain.Spec) merge.Record {
	fields := map[string]interface{}{
		"title":    spec.Title,
		"content":  spec.Content,
		"filePath": spec.FilePath,
	}
	if spec.ParentID != nil {
		fields["parent_id"] = *spec.ParentID
	}
	return merge.Record{
		UUID:      spec.UUID,
		StableID:  spec.ID,
		CreatedAt: spec.CreatedAt,
		UpdatedAt: spec.UpdatedAt,
		Fields:    fields,
	}
}

func recordToSpec(rec merge.Record) *domain.Spec {
	spec := &domain.Spec{
		ID:        rec.StableID,
		UUID:      rec.UUID,
		Title:     stringField(rec, "title"),
		Content:   stringField(rec, "content"),
		FilePath:  stringField(rec, "filePath"),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if parent, ok := rec.Fields["parent_id"].(string); ok && parent != "" {
		spec.ParentID = &parent
	}
	return spec
}

func relationshipToRecord(rel *domain.Relationship) merge.Record {
	return merge.Record{
		UUID:      rel.UUID,
		StableID:  rel.ID,
		CreatedAt: rel.CreatedAt,
		UpdatedAt: rel.UpdatedAt,
		Fields: map[string]interface{}{
			"from_id":   rel.FromID,
			"from_type": string(rel.FromType),
			"to_id":     rel.ToID,
			"to_type":   string(rel.ToType),
			"type":      string(rel.Type),
		},
	}
}

func recordToRelationship(rec merge.Record) *domain.Relationship {
	return &domain.Relationship{
		ID:        rec.StableID,
		UUID:      rec.UUID,
		FromID:    stringField(rec, "from_id"),
		FromType:  domain.EntityKind(stringField(rec, "from_type")),
		ToID:      stringField(rec, "to_id"),
		ToType:    domain.EntityKind(stringField(rec, "to_type")),
		Type:      domain.RelationType(stringField(rec, "type")),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func feedbackToRecord(f *domain.Feedback) merge.Record {
	return merge.Record{
		UUID:      f.UUID,
		StableID:  f.ID,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
		Fields: map[string]interface{}{
			"from_id":   f.FromID,
			"to_id":     f.ToID,
			"type":      string(f.Type),
			"content":   f.Content,
			"dismissed": f.Dismissed,
		},
	}
}

func recordToFeedback(rec merge.Record) *domain.Feedback {
	return &domain.Feedback{
		ID:        rec.StableID,
		UUID:      rec.UUID,
		FromID:    stringField(rec, "from_id"),
		ToID:      stringField(rec, "to_id"),
		Type:      domain.FeedbackType(stringField(rec, "type")),
		Content:   stringField(rec, "content"),
		Dismissed: boolField(rec, "dismissed"),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func stringField(rec merge.Record, key string) string {
	s, _ := rec.Fields[key].(string)
	return s
}

func boolField(rec merge.Record, key string) bool {
	b, _ := rec.Fields[key].(bool)
	return b
}

// intField handles both plain ints (set by this package's own exporters) and
// float64 (what encoding/json decodes untyped numbers into, the shape an
// imported file actually arrives in).
func intField(rec merge.Record, key string) int {
	switch v := rec.Fields[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func createFromRecord(ctx context.Context, repo repository.Repository, kind Kind, rec merge.Record) error {
	switch kind {
	case KindIssue:
		return repo.CreateIssue(ctx, recordToIssue(rec))
	case KindSpec:
		return repo.CreateSpec(ctx, recordToSpec(rec))
	case KindRelationship:
		return repo.CreateRelationship(ctx, recordToRelationship(rec))
	case KindFeedback:
		return repo.CreateFeedback(ctx, recordToFeedback(rec))
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}
}

func updateFromRecord(ctx context.Context, repo repository.Repository, kind Kind, rec merge.Record) error {
	switch kind {
	case KindIssue:
		return repo.UpdateIssue(ctx, recordToIssue(rec))
	case KindSpec:
		return repo.UpdateSpec(ctx, recordToSpec(rec))
	case KindRelationship:
		// Relationships are immutable edges: an "update" is a delete-then-
		// recreate under the same UUID/stable id, since Repository exposes
		// no UpdateRelationship.
		if err := repo.DeleteRelationship(ctx, rec.StableID); err != nil {
			return err
		}
		return repo.CreateRelationship(ctx, recordToRelationship(rec))
	case KindFeedback:
		// Feedback has no update or delete path; the updated record is
		// created again.
		return repo.CreateFeedback(ctx, recordToFeedback(rec))
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}
}

func deleteByUUID(ctx context.Context, repo repository.Repository, kind Kind, rec merge.Record) error {
	switch kind {
	case KindIssue:
		return repo.DeleteIssue(ctx, rec.StableID)
	case KindSpec:
		return repo.DeleteSpec(ctx, rec.StableID)
	case KindRelationship:
		return repo.DeleteRelationship(ctx, rec.StableID)
	case KindFeedback:
		// No delete path for feedback; dropped records are left in place.
		return nil
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}
}
