package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/db/dialect"
)

type checkpointRow struct {
	ID           string    `db:"id"`
	IssueID      string    `db:"issue_id"`
	ExecutionID  string    `db:"execution_id"`
	CommitSHA    string    `db:"commit_sha"`
	Message      string    `db:"message"`
	ChangedFiles int       `db:"changed_files"`
	Additions    int       `db:"additions"`
	Deletions    int       `db:"deletions"`
	ReviewState  string    `db:"review_state"`
	Reviewer     string    `db:"reviewer"`
	Notes        string    `db:"notes"`
	Landed       int       `db:"landed"`
	IsCurrent    int       `db:"is_current"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r checkpointRow) toDomain() *domain.Checkpoint {
	return &domain.Checkpoint{
		ID: r.ID, IssueID: r.IssueID, ExecutionID: r.ExecutionID, CommitSHA: r.CommitSHA, Message: r.Message,
		Stats: domain.CheckpointStats{ChangedFiles: r.ChangedFiles, Additions: r.Additions, Deletions: r.Deletions},
		ReviewState: domain.ReviewState(r.ReviewState), Reviewer: r.Reviewer, Notes: r.Notes,
		Landed: r.Landed != 0, CreatedAt: r.CreatedAt,
	}
}

const checkpointColumns = `id, issue_id, execution_id, commit_sha, message, changed_files, additions, deletions, review_state, reviewer, notes, landed, is_current, created_at`

func (s *SQLStore) CreateCheckpoint(ctx context.Context, c *domain.Checkpoint) error {
	q := s.rebind(`INSERT INTO checkpoints (` + checkpointColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, c.ID, c.IssueID, c.ExecutionID, c.CommitSHA, c.Message,
		c.Stats.ChangedFiles, c.Stats.Additions, c.Stats.Deletions, string(c.ReviewState), c.Reviewer, c.Notes,
		dialect.BoolToInt(c.Landed), 0, c.CreatedAt)
	return err
}

func (s *SQLStore) GetCheckpoint(ctx context.Context, id string) (*domain.Checkpoint, error) {
	var row checkpointRow
	q := s.rebind(`SELECT ` + checkpointColumns + ` FROM checkpoints WHERE id=?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "checkpoint", ID: id}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// GetCurrentCheckpoint returns the checkpoint marked current for issueID.
// At most one current checkpoint exists per issue at a time; with none,
// it returns a NotFoundError.
func (s *SQLStore) GetCurrentCheckpoint(ctx context.Context, issueID string) (*domain.Checkpoint, error) {
	var row checkpointRow
	q := s.rebind(`SELECT ` + checkpointColumns + ` FROM checkpoints WHERE issue_id=? AND is_current=1`)
	if err := s.db.GetContext(ctx, &row, q, issueID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "checkpoint", ID: issueID}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// SetCurrentCheckpoint atomically clears the previous current checkpoint for
// the issue and marks checkpointID as current.
func (s *SQLStore) SetCurrentCheckpoint(ctx context.Context, issueID, checkpointID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE checkpoints SET is_current=0 WHERE issue_id=?`), issueID); err != nil {
		return fmt.Errorf("clearing current checkpoint: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE checkpoints SET is_current=1 WHERE id=? AND issue_id=?`), checkpointID, issueID)
	if err != nil {
		return fmt.Errorf("setting current checkpoint: %w", err)
	}
	if err := requireRowsAffected(res, "checkpoint", checkpointID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) UpdateCheckpoint(ctx context.Context, c *domain.Checkpoint) error {
	q := s.rebind(`UPDATE checkpoints SET review_state=?, reviewer=?, notes=?, landed=? WHERE id=?`)
	res, err := s.db.ExecContext(ctx, q, string(c.ReviewState), c.Reviewer, c.Notes, dialect.BoolToInt(c.Landed), c.ID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "checkpoint", c.ID)
}

func (s *SQLStore) ListCheckpoints(ctx context.Context, issueID string) ([]*domain.Checkpoint, error) {
	var rows []checkpointRow
	q := s.rebind(`SELECT ` + checkpointColumns + ` FROM checkpoints WHERE issue_id=? ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &rows, q, issueID); err != nil {
		return nil, err
	}
	out := make([]*domain.Checkpoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- Merge queue ---

type mergeEntryRow struct {
	Target      string    `db:"target"`
	ExecutionID string    `db:"execution_id"`
	Status      string    `db:"status"`
	Position    int       `db:"position"`
	Priority    int       `db:"priority"`
	AgentID     string    `db:"agent_id"`
	InsertedAt  time.Time `db:"inserted_at"`
}

func (r mergeEntryRow) toDomain() *domain.MergeQueueEntry {
	return &domain.MergeQueueEntry{
		ExecutionID: r.ExecutionID, Target: r.Target, Status: domain.QueueEntryStatus(r.Status),
		Position: r.Position, Priority: r.Priority, AgentID: r.AgentID, InsertedAt: r.InsertedAt,
	}
}

const mergeEntryColumns = `target, execution_id, status, position, priority, agent_id, inserted_at`

func (s *SQLStore) EnqueueMergeEntry(ctx context.Context, e *domain.MergeQueueEntry) error {
	q := s.rebind(`INSERT INTO merge_queue_entries (` + mergeEntryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, e.Target, e.ExecutionID, string(e.Status), e.Position, e.Priority, e.AgentID, e.InsertedAt)
	return err
}

func (s *SQLStore) GetMergeEntry(ctx context.Context, target, execID string) (*domain.MergeQueueEntry, error) {
	var row mergeEntryRow
	q := s.rebind(`SELECT ` + mergeEntryColumns + ` FROM merge_queue_entries WHERE target=? AND execution_id=?`)
	if err := s.db.GetContext(ctx, &row, q, target, execID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "merge_queue_entry", ID: execID}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) UpdateMergeEntry(ctx context.Context, e *domain.MergeQueueEntry) error {
	q := s.rebind(`UPDATE merge_queue_entries SET status=?, position=?, priority=? WHERE target=? AND execution_id=?`)
	res, err := s.db.ExecContext(ctx, q, string(e.Status), e.Position, e.Priority, e.Target, e.ExecutionID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "merge_queue_entry", e.ExecutionID)
}

func (s *SQLStore) DeleteMergeEntry(ctx context.Context, target, execID string) error {
	q := s.rebind(`DELETE FROM merge_queue_entries WHERE target=? AND execution_id=?`)
	_, err := s.db.ExecContext(ctx, q, target, execID)
	return err
}

func (s *SQLStore) ListMergeEntries(ctx context.Context, target string) ([]*domain.MergeQueueEntry, error) {
	var rows []mergeEntryRow
	q := s.rebind(`SELECT ` + mergeEntryColumns + ` FROM merge_queue_entries WHERE target=? ORDER BY priority ASC, position ASC`)
	if err := s.db.SelectContext(ctx, &rows, q, target); err != nil {
		return nil, err
	}
	out := make([]*domain.MergeQueueEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- Safety tags ---

func (s *SQLStore) CreateSafetyTag(ctx context.Context, tag *domain.SafetyTag) error {
	q := s.rebind(`INSERT INTO safety_tags (name, commit_sha, created_at) VALUES (?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, tag.Name, tag.Commit, tag.CreatedAt)
	return err
}

func (s *SQLStore) GetSafetyTag(ctx context.Context, name string) (*domain.SafetyTag, error) {
	var row struct {
		Name      string    `db:"name"`
		Commit    string    `db:"commit_sha"`
		CreatedAt time.Time `db:"created_at"`
	}
	q := s.rebind(`SELECT name, commit_sha, created_at FROM safety_tags WHERE name=?`)
	if err := s.db.GetContext(ctx, &row, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "safety_tag", ID: name}
		}
		return nil, err
	}
	return &domain.SafetyTag{Name: row.Name, Commit: row.Commit, CreatedAt: row.CreatedAt}, nil
}
