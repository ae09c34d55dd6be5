package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
)

type executionRow struct {
	ID              string         `db:"id"`
	StreamID        string         `db:"stream_id"`
	IssueID         sql.NullString `db:"issue_id"`
	AgentKind       string         `db:"agent_kind"`
	Mode            string         `db:"mode"`
	Prompt          string         `db:"prompt"`
	ParentExecID    sql.NullString `db:"parent_exec_id"`
	SessionID       sql.NullString `db:"session_id"`
	BeforeCommit    string         `db:"before_commit"`
	AfterCommit     string         `db:"after_commit"`
	Status          string         `db:"status"`
	ErrorMessage    string         `db:"error_message"`
	SessionMode     string         `db:"session_mode"`
	SessionEndMode  string         `db:"session_end_mode"`
	IdleTimeoutMS   int            `db:"idle_timeout_ms"`
	EndOnDisconnect bool           `db:"end_on_disconnect"`
	CreatedAt       time.Time      `db:"created_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
}

func (r executionRow) toDomain() *domain.Execution {
	e := &domain.Execution{
		ID: r.ID, StreamID: r.StreamID, AgentKind: r.AgentKind, Mode: domain.ExecutionMode(r.Mode),
		Prompt: r.Prompt, BeforeCommit: r.BeforeCommit, AfterCommit: r.AfterCommit,
		Status: domain.ExecutionStatus(r.Status), ErrorMessage: r.ErrorMessage, CreatedAt: r.CreatedAt,
		SessionMode: domain.SessionMode(r.SessionMode), SessionEndMode: domain.SessionEndMode(r.SessionEndMode),
		IdleTimeoutMS: r.IdleTimeoutMS, EndOnDisconnect: r.EndOnDisconnect,
	}
	if r.IssueID.Valid {
		e.IssueID = &r.IssueID.String
	}
	if r.ParentExecID.Valid {
		e.ParentExecID = &r.ParentExecID.String
	}
	if r.SessionID.Valid {
		e.SessionID = &r.SessionID.String
	}
	if r.StartedAt.Valid {
		e.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		e.CompletedAt = &r.CompletedAt.Time
	}
	return e
}

const executionColumns = `id, stream_id, issue_id, agent_kind, mode, prompt, parent_exec_id, session_id, before_commit, after_commit, status, error_message, session_mode, session_end_mode, idle_timeout_ms, end_on_disconnect, created_at, started_at, completed_at`

func (s *SQLStore) CreateExecution(ctx context.Context, e *domain.Execution) error {
	q := s.rebind(`INSERT INTO executions (` + executionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, e.ID, e.StreamID, e.IssueID, e.AgentKind, string(e.Mode), e.Prompt,
		e.ParentExecID, e.SessionID, e.BeforeCommit, e.AfterCommit, string(e.Status), e.ErrorMessage,
		string(e.SessionMode), string(e.SessionEndMode), e.IdleTimeoutMS, e.EndOnDisconnect,
		e.CreatedAt, e.StartedAt, e.CompletedAt)
	return err
}

func (s *SQLStore) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	var row executionRow
	q := s.rebind(`SELECT ` + executionColumns + ` FROM executions WHERE id=?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "execution", ID: id}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) UpdateExecution(ctx context.Context, e *domain.Execution) error {
	q := s.rebind(`UPDATE executions SET stream_id=?, issue_id=?, agent_kind=?, mode=?, prompt=?, parent_exec_id=?,
		session_id=?, before_commit=?, after_commit=?, status=?, error_message=?, started_at=?, completed_at=? WHERE id=?`)
	res, err := s.db.ExecContext(ctx, q, e.StreamID, e.IssueID, e.AgentKind, string(e.Mode), e.Prompt, e.ParentExecID,
		e.SessionID, e.BeforeCommit, e.AfterCommit, string(e.Status), e.ErrorMessage, e.StartedAt, e.CompletedAt, e.ID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "execution", e.ID)
}

func (s *SQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	args := []interface{}{}
	if filter.IssueID != nil {
		query += " AND issue_id = ?"
		args = append(args, *filter.IssueID)
	}
	if filter.StreamID != nil {
		query += " AND stream_id = ?"
		args = append(args, *filter.StreamID)
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	query += " ORDER BY created_at ASC"
	var rows []executionRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]*domain.Execution, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// GetRunningExecutionForStream enforces the "every stream is owned by at
// most one running execution" invariant at read time.
func (s *SQLStore) GetRunningExecutionForStream(ctx context.Context, streamID string) (*domain.Execution, error) {
	var row executionRow
	q := s.rebind(`SELECT ` + executionColumns + ` FROM executions WHERE stream_id=? AND status IN (?, ?, ?, ?) ORDER BY created_at DESC LIMIT 1`)
	err := s.db.GetContext(ctx, &row, q, streamID,
		string(domain.ExecPreparing), string(domain.ExecPending), string(domain.ExecRunning), string(domain.ExecWaiting))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "execution", ID: streamID}
		}
		return nil, err
	}
	return row.toDomain(), nil
}
