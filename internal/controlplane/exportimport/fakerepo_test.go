package exportimport

import (
	"context"
	"sync"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
)

// stubRepo implements repository.Repository with panicking bodies; fakeRepo
// embeds it and overrides only the entity methods export/import exercises.
type stubRepo struct{}

func (stubRepo) CreateIssue(ctx context.Context, issue *domain.Issue) error { panic("unused") }
func (stubRepo) GetIssue(ctx context.Context, id string) (*domain.Issue, error) {
	panic("unused")
}
func (stubRepo) GetIssueByUUID(ctx context.Context, uuid string) (*domain.Issue, error) {
	panic("unused")
}
func (stubRepo) UpdateIssue(ctx context.Context, issue *domain.Issue) error { panic("unused") }
func (stubRepo) DeleteIssue(ctx context.Context, id string) error          { panic("unused") }
func (stubRepo) ListIssues(ctx context.Context, filter repository.IssueFilter) ([]*domain.Issue, error) {
	panic("unused")
}

func (stubRepo) CreateSpec(ctx context.Context, spec *domain.Spec) error { panic("unused") }
func (stubRepo) GetSpec(ctx context.Context, id string) (*domain.Spec, error) {
	panic("unused")
}
func (stubRepo) UpdateSpec(ctx context.Context, spec *domain.Spec) error { panic("unused") }
func (stubRepo) DeleteSpec(ctx context.Context, id string) error        { panic("unused") }
func (stubRepo) ListSpecs(ctx context.Context) ([]*domain.Spec, error)  { panic("unused") }

func (stubRepo) CreateRelationship(ctx context.Context, rel *domain.Relationship) error {
	panic("unused")
}
func (stubRepo) GetRelationship(ctx context.Context, id string) (*domain.Relationship, error) {
	panic("unused")
}
func (stubRepo) DeleteRelationship(ctx context.Context, id string) error { panic("unused") }
func (stubRepo) ListRelationshipsFrom(ctx context.Context, entityID string, label domain.RelationType) ([]*domain.Relationship, error) {
	panic("unused")
}
func (stubRepo) ListRelationshipsTo(ctx context.Context, entityID string, label domain.RelationType) ([]*domain.Relationship, error) {
	panic("unused")
}
func (stubRepo) ListAllRelationships(ctx context.Context) ([]*domain.Relationship, error) {
	panic("unused")
}

func (stubRepo) CreateFeedback(ctx context.Context, feedback *domain.Feedback) error {
	panic("unused")
}
func (stubRepo) ListFeedback(ctx context.Context, toID string) ([]*domain.Feedback, error) {
	panic("unused")
}

func (stubRepo) CreateStream(ctx context.Context, stream *domain.Stream) error { panic("unused") }
func (stubRepo) GetStream(ctx context.Context, id string) (*domain.Stream, error) {
	panic("unused")
}
func (stubRepo) GetActiveStreamByIssue(ctx context.Context, issueID string) (*domain.Stream, error) {
	panic("unused")
}
func (stubRepo) UpdateStream(ctx context.Context, stream *domain.Stream) error { panic("unused") }
func (stubRepo) ListDependentStreams(ctx context.Context, issueID string) ([]*domain.Stream, error) {
	panic("unused")
}
func (stubRepo) ListAllActiveStreams(ctx context.Context) ([]*domain.Stream, error) {
	panic("unused")
}

func (stubRepo) CreateExecution(ctx context.Context, execution *domain.Execution) error {
	panic("unused")
}
func (stubRepo) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	panic("unused")
}
func (stubRepo) UpdateExecution(ctx context.Context, execution *domain.Execution) error {
	panic("unused")
}
func (stubRepo) ListExecutions(ctx context.Context, filter repository.ExecutionFilter) ([]*domain.Execution, error) {
	panic("unused")
}
func (stubRepo) GetRunningExecutionForStream(ctx context.Context, streamID string) (*domain.Execution, error) {
	panic("unused")
}

func (stubRepo) CreateCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error {
	panic("unused")
}
func (stubRepo) GetCheckpoint(ctx context.Context, id string) (*domain.Checkpoint, error) {
	panic("unused")
}
func (stubRepo) GetCurrentCheckpoint(ctx context.Context, issueID string) (*domain.Checkpoint, error) {
	panic("unused")
}
func (stubRepo) SetCurrentCheckpoint(ctx context.Context, issueID, checkpointID string) error {
	panic("unused")
}
func (stubRepo) UpdateCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error {
	panic("unused")
}
func (stubRepo) ListCheckpoints(ctx context.Context, issueID string) ([]*domain.Checkpoint, error) {
	panic("unused")
}

func (stubRepo) EnqueueMergeEntry(ctx context.Context, entry *domain.MergeQueueEntry) error {
	panic("unused")
}
func (stubRepo) GetMergeEntry(ctx context.Context, target, execID string) (*domain.MergeQueueEntry, error) {
	panic("unused")
}
func (stubRepo) UpdateMergeEntry(ctx context.Context, entry *domain.MergeQueueEntry) error {
	panic("unused")
}
func (stubRepo) DeleteMergeEntry(ctx context.Context, target, execID string) error {
	panic("unused")
}
func (stubRepo) ListMergeEntries(ctx context.Context, target string) ([]*domain.MergeQueueEntry, error) {
	panic("unused")
}

func (stubRepo) CreateSafetyTag(ctx context.Context, tag *domain.SafetyTag) error { panic("unused") }
func (stubRepo) GetSafetyTag(ctx context.Context, name string) (*domain.SafetyTag, error) {
	panic("unused")
}

func (stubRepo) Close() error { panic("unused") }

var _ repository.Repository = stubRepo{}

// fakeRepo is an in-memory repository.Repository stand-in scoped to the
// issue/spec/relationship/feedback methods export/import exercises.
type fakeRepo struct {
	stubRepo
	mu            sync.Mutex
	issues        map[string]*domain.Issue
	specs         map[string]*domain.Spec
	relationships map[string]*domain.Relationship
	feedback      map[string][]*domain.Feedback
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		issues:        make(map[string]*domain.Issue),
		specs:         make(map[string]*domain.Spec),
		relationships: make(map[string]*domain.Relationship),
		feedback:      make(map[string][]*domain.Feedback),
	}
}

func (f *fakeRepo) CreateIssue(ctx context.Context, issue *domain.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues[issue.ID] = issue
	return nil
}

func (f *fakeRepo) UpdateIssue(ctx context.Context, issue *domain.Issue) error {
	return f.CreateIssue(ctx, issue)
}

func (f *fakeRepo) DeleteIssue(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.issues, id)
	return nil
}

func (f *fakeRepo) ListIssues(ctx context.Context, filter repository.IssueFilter) ([]*domain.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Issue
	for _, issue := range f.issues {
		out = append(out, issue)
	}
	return out, nil
}

func (f *fakeRepo) CreateSpec(ctx context.Context, spec *domain.Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs[spec.ID] = spec
	return nil
}

func (f *fakeRepo) UpdateSpec(ctx context.Context, spec *domain.Spec) error {
	return f.CreateSpec(ctx, spec)
}

func (f *fakeRepo) DeleteSpec(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.specs, id)
	return nil
}

func (f *fakeRepo) ListSpecs(ctx context.Context) ([]*domain.Spec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Spec
	for _, spec := range f.specs {
		out = append(out, spec)
	}
	return out, nil
}

func (f *fakeRepo) CreateRelationship(ctx context.Context, rel *domain.Relationship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relationships[rel.ID] = rel
	return nil
}

func (f *fakeRepo) DeleteRelationship(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.relationships, id)
	return nil
}

func (f *fakeRepo) ListAllRelationships(ctx context.Context) ([]*domain.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Relationship
	for _, rel := range f.relationships {
		out = append(out, rel)
	}
	return out, nil
}

func (f *fakeRepo) CreateFeedback(ctx context.Context, feedback *domain.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback[feedback.ToID] = append(f.feedback[feedback.ToID], feedback)
	return nil
}

func (f *fakeRepo) ListFeedback(ctx context.Context, toID string) ([]*domain.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feedback[toID], nil
}

var _ repository.Repository = (*fakeRepo)(nil)
