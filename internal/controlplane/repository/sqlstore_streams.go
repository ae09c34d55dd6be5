package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

type streamRow struct {
	ID           string         `db:"id"`
	IssueID      string         `db:"issue_id"`
	TargetBranch string         `db:"target_branch"`
	BaseCommit   string         `db:"base_commit"`
	HeadCommit   string         `db:"head_commit"`
	State        string         `db:"state"`
	WorktreePath sql.NullString `db:"worktree_path"`
	Position     int            `db:"position"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r streamRow) toDomain() *domain.Stream {
	st := &domain.Stream{
		ID: r.ID, IssueID: r.IssueID, TargetBranch: r.TargetBranch, BaseCommit: r.BaseCommit,
		HeadCommit: r.HeadCommit, State: domain.StreamState(r.State), Position: r.Position,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.WorktreePath.Valid {
		st.WorktreePath = &r.WorktreePath.String
	}
	return st
}

const streamColumns = `id, issue_id, target_branch, base_commit, head_commit, state, worktree_path, position, created_at, updated_at`

func (s *SQLStore) CreateStream(ctx context.Context, stream *domain.Stream) error {
	q := s.rebind(`INSERT INTO streams (` + streamColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, stream.ID, stream.IssueID, stream.TargetBranch, stream.BaseCommit,
		stream.HeadCommit, string(stream.State), stream.WorktreePath, stream.Position, stream.CreatedAt, stream.UpdatedAt)
	return err
}

func (s *SQLStore) GetStream(ctx context.Context, id string) (*domain.Stream, error) {
	var row streamRow
	q := s.rebind(`SELECT ` + streamColumns + ` FROM streams WHERE id=?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "stream", ID: id}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// GetActiveStreamByIssue returns the stream for an issue that is not
// abandoned; there is at most one such stream per issue.
func (s *SQLStore) GetActiveStreamByIssue(ctx context.Context, issueID string) (*domain.Stream, error) {
	var row streamRow
	q := s.rebind(`SELECT ` + streamColumns + ` FROM streams WHERE issue_id=? AND state != ? ORDER BY created_at DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, q, issueID, string(domain.StreamAbandoned)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "stream", ID: issueID}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) UpdateStream(ctx context.Context, stream *domain.Stream) error {
	q := s.rebind(`UPDATE streams SET target_branch=?, base_commit=?, head_commit=?, state=?, worktree_path=?, position=?, updated_at=? WHERE id=?`)
	res, err := s.db.ExecContext(ctx, q, stream.TargetBranch, stream.BaseCommit, stream.HeadCommit,
		string(stream.State), stream.WorktreePath, stream.Position, stream.UpdatedAt, stream.ID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "stream", stream.ID)
}

// ListDependentStreams returns streams whose issue is linked to issueID via
// a blocks(issueID, _) or depends-on(_, issueID) relationship — the set the
// cascade engine walks after issueID lands.
func (s *SQLStore) ListDependentStreams(ctx context.Context, issueID string) ([]*domain.Stream, error) {
	q := s.rebind(`
		SELECT DISTINCT ` + prefixColumns("st", streamColumns) + `
		FROM streams st
		WHERE st.issue_id IN (
			SELECT to_id FROM relationships WHERE from_id = ? AND type = ?
			UNION
			SELECT from_id FROM relationships WHERE to_id = ? AND type = ?
		)
		AND st.state != ?
		ORDER BY st.created_at ASC`)
	var rows []streamRow
	if err := s.db.SelectContext(ctx, &rows, q,
		issueID, string(domain.RelationBlocks),
		issueID, string(domain.RelationDependsOn),
		string(domain.StreamAbandoned)); err != nil {
		return nil, err
	}
	out := make([]*domain.Stream, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *SQLStore) ListAllActiveStreams(ctx context.Context) ([]*domain.Stream, error) {
	var rows []streamRow
	q := s.rebind(`SELECT ` + streamColumns + ` FROM streams WHERE state != ? ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &rows, q, string(domain.StreamAbandoned)); err != nil {
		return nil, err
	}
	out := make([]*domain.Stream, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
