// Package exportimport round-trips ambient entities (issues, specs,
// relationships, feedback) between the repository and the structured
// append-only JSONL files the sync engine merges across branches, the same
// record shape the merge package reconciles during a squash or rebase.
package exportimport

import (
	"context"
	"fmt"

	"github.com/sudocode/controlplane/internal/controlplane/merge"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
)

// Kind names one of the four entity streams this package moves.
type Kind string

const (
	KindIssue        Kind = "issues"
	KindSpec         Kind = "specs"
	KindRelationship Kind = "relationships"
	KindFeedback     Kind = "feedback"
)

// AllKinds lists every entity stream export/import walks, in a stable order.
var AllKinds = []Kind{KindIssue, KindSpec, KindRelationship, KindFeedback}

// Export reads every record of kind from the repository and encodes it as a
// structured-file body (one JSON record per line).
func Export(ctx context.Context, repo repository.Repository, kind Kind) ([]byte, error) {
	records, err := loadRecords(ctx, repo, kind)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", kind, err)
	}
	return merge.EncodeLines(records)
}

// ImportResult reports what happened when importing one entity stream.
type ImportResult struct {
	Kind       Kind
	Changes    []merge.Change
	Collisions []merge.Collision
}

// Import decodes content as a structured-file body for kind, reconciles it
// against the repository's current records, and persists the merged result:
// added/updated records are upserted, deleted records are removed, and
// collisions are resolved per resolveCollisions.
func Import(ctx context.Context, repo repository.Repository, kind Kind, content []byte, resolveCollisions bool) (ImportResult, error) {
	incoming, err := merge.DecodeLines(content)
	if err != nil {
		return ImportResult{}, fmt.Errorf("decoding %s: %w", kind, err)
	}
	existing, err := loadRecords(ctx, repo, kind)
	if err != nil {
		return ImportResult{}, fmt.Errorf("loading existing %s: %w", kind, err)
	}

	result, err := merge.TwoWayReconcile(existing, incoming, resolveCollisions, allocatorFor(kind))
	if err != nil {
		return ImportResult{}, fmt.Errorf("reconciling %s: %w", kind, err)
	}

	if err := applyChanges(ctx, repo, kind, result, existing); err != nil {
		return ImportResult{}, fmt.Errorf("applying %s: %w", kind, err)
	}

	return ImportResult{Kind: kind, Changes: result.Changes, Collisions: result.Collisions}, nil
}

func allocatorFor(kind Kind) merge.IDAllocator {
	switch kind {
	case KindIssue:
		return merge.NextNumberedID("issue")
	case KindSpec:
		return merge.NextNumberedID("spec")
	default:
		return nil
	}
}

func loadRecords(ctx context.Context, repo repository.Repository, kind Kind) ([]merge.Record, error) {
	switch kind {
	case KindIssue:
		issues, err := repo.ListIssues(ctx, repository.IssueFilter{})
		if err != nil {
			return nil, err
		}
		out := make([]merge.Record, len(issues))
		for i, issue := range issues {
			out[i] = issueToRecord(issue)
		}
		return out, nil
	case KindSpec:
		specs, err := repo.ListSpecs(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]merge.Record, len(specs))
		for i, spec := range specs {
			out[i] = specToRecord(spec)
		}
		return out, nil
	case KindRelationship:
		rels, err := repo.ListAllRelationships(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]merge.Record, len(rels))
		for i, rel := range rels {
			out[i] = relationshipToRecord(rel)
		}
		return out, nil
	case KindFeedback:
		// Feedback has no "list all" method on the repository (it's always
		// read scoped to a target entity), so export walks every issue and
		// spec as a possible target.
		var out []merge.Record
		issues, err := repo.ListIssues(ctx, repository.IssueFilter{})
		if err != nil {
			return nil, err
		}
		specs, err := repo.ListSpecs(ctx)
		if err != nil {
			return nil, err
		}
		targets := make([]string, 0, len(issues)+len(specs))
		for _, issue := range issues {
			targets = append(targets, issue.ID)
		}
		for _, spec := range specs {
			targets = append(targets, spec.ID)
		}
		for _, id := range targets {
			items, err := repo.ListFeedback(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, f := range items {
				out = append(out, feedbackToRecord(f))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

func applyChanges(ctx context.Context, repo repository.Repository, kind Kind, result merge.ReconcileResult, existing []merge.Record) error {
	existingByUUID := make(map[string]merge.Record, len(existing))
	for _, rec := range existing {
		existingByUUID[rec.UUID] = rec
	}
	mergedByUUID := make(map[string]merge.Record, len(result.Merged))
	for _, rec := range result.Merged {
		mergedByUUID[rec.UUID] = rec
	}

	for _, change := range result.Changes {
		switch change.Kind {
		case merge.ChangeDeleted:
			if err := deleteByUUID(ctx, repo, kind, existingByUUID[change.UUID]); err != nil {
				return err
			}
		case merge.ChangeAdded:
			if err := createFromRecord(ctx, repo, kind, mergedByUUID[change.UUID]); err != nil {
				return err
			}
		case merge.ChangeUpdated:
			if err := updateFromRecord(ctx, repo, kind, mergedByUUID[change.UUID]); err != nil {
				return err
			}
		}
	}
	return nil
}
