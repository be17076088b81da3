package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var commentColumns = []string{
	"id", "document_id", "user_id", "user_name", "user_email", "content",
	"selection_text", "position", "section_id", "status", "replies",
	"created_at", "updated_at",
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) qb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (s *PostgresStore) CreateComment(ctx context.Context, input NewComment) (Comment, error) {
	comment := Comment{
		ID:            uuid.NewString(),
		DocumentID:    input.DocumentID,
		UserID:        input.Author.ID,
		UserName:      input.Author.Name,
		UserEmail:     input.Author.Email,
		Content:       input.Content,
		SelectionText: input.SelectionText,
		Position:      normalizeJSON(input.Position),
		SectionID:     input.SectionID,
		Status:        CommentActive,
		Replies:       []Reply{},
		CreatedAt:     timestamp(),
	}

	query, args, err := s.qb().Insert("comments").
		Columns("id", "document_id", "user_id", "user_name", "user_email", "content",
			"selection_text", "position", "section_id", "status", "created_at").
		Values(comment.ID, comment.DocumentID, comment.UserID, comment.UserName, comment.UserEmail,
			comment.Content, comment.SelectionText, sq.Expr("CAST(? AS JSONB)", jsonParam(comment.Position)),
			comment.SectionID, string(comment.Status), comment.CreatedAt).
		ToSql()
	if err != nil {
		return Comment{}, fmt.Errorf("build insert comment: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

// ListComments returns the document's comments, newest first.
func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	query, args, err := s.qb().Select(commentColumns...).
		From("comments").
		Where(sq.Eq{"document_id": documentID}).
		OrderBy("created_at DESC", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list comments: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// AddReply appends a reply atomically; concurrent replies never overwrite each other.
func (s *PostgresStore) AddReply(ctx context.Context, documentID, commentID string, author Author, content string) (Comment, error) {
	now := timestamp()
	reply := Reply{
		ID:        uuid.NewString(),
		UserID:    author.ID,
		UserName:  author.Name,
		Content:   content,
		CreatedAt: now,
	}
	payload, err := json.Marshal([]Reply{reply})
	if err != nil {
		return Comment{}, fmt.Errorf("marshal reply: %w", err)
	}

	return s.update(ctx, "add reply", documentID, commentID, map[string]any{
		"replies":    sq.Expr("replies || CAST(? AS JSONB)", string(payload)),
		"updated_at": now,
	})
}

func (s *PostgresStore) UpdateComment(ctx context.Context, documentID, commentID, content string) (Comment, error) {
	return s.update(ctx, "update comment", documentID, commentID, map[string]any{
		"content":    content,
		"updated_at": timestamp(),
	})
}

func (s *PostgresStore) ResolveComment(ctx context.Context, documentID, commentID string) (Comment, error) {
	return s.update(ctx, "resolve comment", documentID, commentID, map[string]any{
		"status":     string(CommentResolved),
		"updated_at": timestamp(),
	})
}

func (s *PostgresStore) DeleteComment(ctx context.Context, documentID, commentID string) (bool, error) {
	query, args, err := s.qb().Delete("comments").
		Where(sq.Eq{"id": commentID, "document_id": documentID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete comment: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	return affected > 0, nil
}

// timestamp matches TIMESTAMPTZ precision so returned rows equal what a later
// read produces.
func timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) update(ctx context.Context, op, documentID, commentID string, set map[string]any) (Comment, error) {
	query, args, err := s.qb().Update("comments").
		SetMap(set).
		Where(sq.Eq{"id": commentID, "document_id": documentID}).
		Suffix("RETURNING " + strings.Join(commentColumns, ", ")).
		ToSql()
	if err != nil {
		return Comment{}, fmt.Errorf("build %s: %w", op, err)
	}
	return s.queryOne(ctx, op, query, args)
}

func (s *PostgresStore) queryOne(ctx context.Context, op, query string, args []any) (Comment, error) {
	comment, err := scanComment(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("%s: %w", op, err)
	}
	return comment, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (Comment, error) {
	var (
		comment       Comment
		status        string
		selectionText sql.NullString
		sectionID     sql.NullString
		position      []byte
		replies       []byte
		updatedAt     sql.NullTime
	)
	if err := row.Scan(
		&comment.ID, &comment.DocumentID, &comment.UserID, &comment.UserName, &comment.UserEmail,
		&comment.Content, &selectionText, &position, &sectionID, &status, &replies,
		&comment.CreatedAt, &updatedAt,
	); err != nil {
		return Comment{}, err
	}

	comment.Status = CommentStatus(status)
	if selectionText.Valid {
		comment.SelectionText = &selectionText.String
	}
	if sectionID.Valid {
		comment.SectionID = &sectionID.String
	}
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		comment.UpdatedAt = &t
	}
	comment.CreatedAt = comment.CreatedAt.UTC()
	comment.Position = normalizeJSON(position)
	comment.Replies = []Reply{}
	if len(replies) > 0 {
		if err := json.Unmarshal(replies, &comment.Replies); err != nil {
			return Comment{}, fmt.Errorf("decode replies: %w", err)
		}
	}
	return comment, nil
}

// normalizeJSON maps empty input and JSON null to nil so both store as SQL NULL.
func normalizeJSON(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.RawMessage(trimmed)
}

func jsonParam(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}
