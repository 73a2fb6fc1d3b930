package repositories

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	// ListByContext returns comments oldest first; internal notes only when includeInternal.
	ListByContext(ctx context.Context, kind models.ContextKind, id uuid.UUID, includeInternal bool) ([]*models.Comment, error)
	DeleteByContext(ctx context.Context, kind models.ContextKind, id uuid.UUID) (int64, error)
}

type commentRepo struct {
	db DBTX
}

func NewCommentRepo(db DBTX) CommentRepository {
	return &commentRepo{db: db}
}

const commentColumns = `id, context_kind, context_id, sender_id, sender_name, message, is_internal_note,
	is_external, external_name, external_phone, created_at`

func scanComment(row pgx.Row) (*models.Comment, error) {
	c := &models.Comment{}
	err := row.Scan(&c.ID, &c.ContextKind, &c.ContextID, &c.SenderID, &c.SenderName, &c.Message,
		&c.IsInternalNote, &c.IsExternal, &c.ExternalName, &c.ExternalPhone, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *commentRepo) Create(ctx context.Context, comment *models.Comment) error {
	if comment.ID == uuid.Nil {
		comment.ID = uuid.New()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO comments (`+commentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		comment.ID, string(comment.ContextKind), comment.ContextID, comment.SenderID, comment.SenderName,
		comment.Message, comment.IsInternalNote, comment.IsExternal, comment.ExternalName, comment.ExternalPhone,
		comment.CreatedAt)
	return mapError(err, "comment")
}

func (r *commentRepo) ListByContext(ctx context.Context, kind models.ContextKind, id uuid.UUID, includeInternal bool) ([]*models.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE context_kind = $1 AND context_id = $2`
	if !includeInternal {
		query += ` AND NOT is_internal_note`
	}
	rows, err := r.db.Query(ctx, query+` ORDER BY created_at`, string(kind), id)
	if err != nil {
		return nil, mapError(err, "comment")
	}
	defer rows.Close()

	var out []*models.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *commentRepo) DeleteByContext(ctx context.Context, kind models.ContextKind, id uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM comments WHERE context_kind = $1 AND context_id = $2`, string(kind), id)
	if err != nil {
		return 0, mapError(err, "comment")
	}
	return tag.RowsAffected(), nil
}
