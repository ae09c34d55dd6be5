// Package repository: sqlstore is the shared sqlx-backed implementation used
// by both the sqlite (default/dev) and postgres (shared deployment) backends.
// Only the driver name, DSN handling and a handful of dialect-sensitive
// fragments (see internal/db/dialect) differ between them.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/db/dialect"
)

// SQLStore is a dialect.SQLite3/dialect.PGX backed Repository.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

var _ Repository = (*SQLStore)(nil)

// NewSQLStore wraps an already-open *sql.DB (opened via internal/db) and
// applies the schema.
func NewSQLStore(rawDB *sql.DB, driver string) (*SQLStore, error) {
	db := sqlx.NewDb(rawDB, driver)
	s := &SQLStore{db: db, driver: driver}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) rebind(query string) string { return s.db.Rebind(query) }

func (s *SQLStore) Close() error { return s.db.Close() }

// --- Issues ---

func (s *SQLStore) CreateIssue(ctx context.Context, issue *domain.Issue) error {
	q := s.rebind(`INSERT INTO issues (id, uuid, title, content, status, priority, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, issue.ID, issue.UUID, issue.Title, issue.Content,
		string(issue.Status), issue.Priority, issue.ParentID, issue.CreatedAt, issue.UpdatedAt)
	return err
}

type issueRow struct {
	ID        string         `db:"id"`
	UUID      string         `db:"uuid"`
	Title     string         `db:"title"`
	Content   string         `db:"content"`
	Status    string         `db:"status"`
	Priority  int            `db:"priority"`
	ParentID  sql.NullString `db:"parent_id"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r issueRow) toDomain() *domain.Issue {
	issue := &domain.Issue{
		ID: r.ID, UUID: r.UUID, Title: r.Title, Content: r.Content,
		Status: domain.IssueStatus(r.Status), Priority: r.Priority,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.ParentID.Valid {
		issue.ParentID = &r.ParentID.String
	}
	return issue
}

func (s *SQLStore) GetIssue(ctx context.Context, id string) (*domain.Issue, error) {
	var row issueRow
	q := s.rebind(`SELECT id, uuid, title, content, status, priority, parent_id, created_at, updated_at FROM issues WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "issue", ID: id}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) GetIssueByUUID(ctx context.Context, uuid string) (*domain.Issue, error) {
	var row issueRow
	q := s.rebind(`SELECT id, uuid, title, content, status, priority, parent_id, created_at, updated_at FROM issues WHERE uuid = ?`)
	if err := s.db.GetContext(ctx, &row, q, uuid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "issue", ID: uuid}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) UpdateIssue(ctx context.Context, issue *domain.Issue) error {
	q := s.rebind(`UPDATE issues SET title=?, content=?, status=?, priority=?, parent_id=?, updated_at=? WHERE id=?`)
	res, err := s.db.ExecContext(ctx, q, issue.Title, issue.Content, string(issue.Status),
		issue.Priority, issue.ParentID, issue.UpdatedAt, issue.ID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "issue", issue.ID)
}

func (s *SQLStore) DeleteIssue(ctx context.Context, id string) error {
	q := s.rebind(`DELETE FROM issues WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *SQLStore) ListIssues(ctx context.Context, filter IssueFilter) ([]*domain.Issue, error) {
	query := `SELECT id, uuid, title, content, status, priority, parent_id, created_at, updated_at FROM issues WHERE 1=1`
	args := []interface{}{}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Parent != nil {
		query += " AND parent_id = ?"
		args = append(args, *filter.Parent)
	}
	query += " ORDER BY created_at ASC"
	var rows []issueRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]*domain.Issue, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- Specs ---

type specRow struct {
	ID        string         `db:"id"`
	UUID      string         `db:"uuid"`
	Title     string         `db:"title"`
	Content   string         `db:"content"`
	FilePath  string         `db:"file_path"`
	ParentID  sql.NullString `db:"parent_id"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r specRow) toDomain() *domain.Spec {
	spec := &domain.Spec{ID: r.ID, UUID: r.UUID, Title: r.Title, Content: r.Content,
		FilePath: r.FilePath, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	if r.ParentID.Valid {
		spec.ParentID = &r.ParentID.String
	}
	return spec
}

func (s *SQLStore) CreateSpec(ctx context.Context, spec *domain.Spec) error {
	q := s.rebind(`INSERT INTO specs (id, uuid, title, content, file_path, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, spec.ID, spec.UUID, spec.Title, spec.Content,
		spec.FilePath, spec.ParentID, spec.CreatedAt, spec.UpdatedAt)
	return err
}

func (s *SQLStore) GetSpec(ctx context.Context, id string) (*domain.Spec, error) {
	var row specRow
	q := s.rebind(`SELECT id, uuid, title, content, file_path, parent_id, created_at, updated_at FROM specs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "spec", ID: id}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) UpdateSpec(ctx context.Context, spec *domain.Spec) error {
	q := s.rebind(`UPDATE specs SET title=?, content=?, file_path=?, parent_id=?, updated_at=? WHERE id=?`)
	res, err := s.db.ExecContext(ctx, q, spec.Title, spec.Content, spec.FilePath, spec.ParentID, spec.UpdatedAt, spec.ID)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, "spec", spec.ID)
}

func (s *SQLStore) DeleteSpec(ctx context.Context, id string) error {
	q := s.rebind(`DELETE FROM specs WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *SQLStore) ListSpecs(ctx context.Context) ([]*domain.Spec, error) {
	var rows []specRow
	q := s.rebind(`SELECT id, uuid, title, content, file_path, parent_id, created_at, updated_at FROM specs ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make([]*domain.Spec, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- Relationships ---

type relationshipRow struct {
	ID        string    `db:"id"`
	UUID      string    `db:"uuid"`
	FromID    string    `db:"from_id"`
	FromType  string    `db:"from_type"`
	ToID      string    `db:"to_id"`
	ToType    string    `db:"to_type"`
	Type      string    `db:"type"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r relationshipRow) toDomain() *domain.Relationship {
	return &domain.Relationship{
		ID: r.ID, UUID: r.UUID, FromID: r.FromID, FromType: domain.EntityKind(r.FromType),
		ToID: r.ToID, ToType: domain.EntityKind(r.ToType), Type: domain.RelationType(r.Type),
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func (s *SQLStore) CreateRelationship(ctx context.Context, rel *domain.Relationship) error {
	q := s.rebind(`INSERT INTO relationships (id, uuid, from_id, from_type, to_id, to_type, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, rel.ID, rel.UUID, rel.FromID, string(rel.FromType),
		rel.ToID, string(rel.ToType), string(rel.Type), rel.CreatedAt, rel.UpdatedAt)
	return err
}

func (s *SQLStore) GetRelationship(ctx context.Context, id string) (*domain.Relationship, error) {
	var row relationshipRow
	q := s.rebind(`SELECT id, uuid, from_id, from_type, to_id, to_type, type, created_at, updated_at FROM relationships WHERE id=?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "relationship", ID: id}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) DeleteRelationship(ctx context.Context, id string) error {
	q := s.rebind(`DELETE FROM relationships WHERE id=?`)
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *SQLStore) ListRelationshipsFrom(ctx context.Context, entityID string, label domain.RelationType) ([]*domain.Relationship, error) {
	query := `SELECT id, uuid, from_id, from_type, to_id, to_type, type, created_at, updated_at FROM relationships WHERE from_id=?`
	args := []interface{}{entityID}
	if label != "" {
		query += " AND type=?"
		args = append(args, string(label))
	}
	var rows []relationshipRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, err
	}
	return relationshipRowsToDomain(rows), nil
}

func (s *SQLStore) ListRelationshipsTo(ctx context.Context, entityID string, label domain.RelationType) ([]*domain.Relationship, error) {
	query := `SELECT id, uuid, from_id, from_type, to_id, to_type, type, created_at, updated_at FROM relationships WHERE to_id=?`
	args := []interface{}{entityID}
	if label != "" {
		query += " AND type=?"
		args = append(args, string(label))
	}
	var rows []relationshipRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, err
	}
	return relationshipRowsToDomain(rows), nil
}

func (s *SQLStore) ListAllRelationships(ctx context.Context) ([]*domain.Relationship, error) {
	var rows []relationshipRow
	q := s.rebind(`SELECT id, uuid, from_id, from_type, to_id, to_type, type, created_at, updated_at FROM relationships ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return relationshipRowsToDomain(rows), nil
}

func relationshipRowsToDomain(rows []relationshipRow) []*domain.Relationship {
	out := make([]*domain.Relationship, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

// --- Feedback ---

type feedbackRow struct {
	ID        string    `db:"id"`
	UUID      string    `db:"uuid"`
	FromID    string    `db:"from_id"`
	ToID      string    `db:"to_id"`
	Type      string    `db:"type"`
	Content   string    `db:"content"`
	Dismissed int       `db:"dismissed"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r feedbackRow) toDomain() *domain.Feedback {
	return &domain.Feedback{
		ID: r.ID, UUID: r.UUID, FromID: r.FromID, ToID: r.ToID,
		Type: domain.FeedbackType(r.Type), Content: r.Content, Dismissed: r.Dismissed != 0,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func (s *SQLStore) CreateFeedback(ctx context.Context, fb *domain.Feedback) error {
	q := s.rebind(`INSERT INTO feedback (id, uuid, from_id, to_id, type, content, dismissed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, fb.ID, fb.UUID, fb.FromID, fb.ToID, string(fb.Type),
		fb.Content, dialect.BoolToInt(fb.Dismissed), fb.CreatedAt, fb.UpdatedAt)
	return err
}

func (s *SQLStore) ListFeedback(ctx context.Context, toID string) ([]*domain.Feedback, error) {
	var rows []feedbackRow
	q := s.rebind(`SELECT id, uuid, from_id, to_id, type, content, dismissed, created_at, updated_at FROM feedback WHERE to_id=? ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &rows, q, toID); err != nil {
		return nil, err
	}
	out := make([]*domain.Feedback, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func requireRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
