package repositories

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type MediaRepository interface {
	Create(ctx context.Context, media *models.Media) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Media, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.Media, error)
	ListByOwner(ctx context.Context, kind models.ContextKind, ownerID uuid.UUID) ([]*models.Media, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteByOwner removes and returns the owner's rows so their blobs can be released.
	DeleteByOwner(ctx context.Context, kind models.ContextKind, ownerID uuid.UUID) ([]*models.Media, error)
	CountByPublicID(ctx context.Context, publicID string) (int, error)
}

type mediaRepo struct {
	db DBTX
}

func NewMediaRepo(db DBTX) MediaRepository {
	return &mediaRepo{db: db}
}

const mediaColumns = `id, filename, mime_type, size, url, thumbnail_url, public_id, uploaded_by, owner_kind,
	owner_id, tags, is_public, created_at`

func scanMedia(row pgx.Row) (*models.Media, error) {
	m := &models.Media{}
	err := row.Scan(&m.ID, &m.Filename, &m.MimeType, &m.Size, &m.URL, &m.ThumbnailURL, &m.PublicID,
		&m.UploadedBy, &m.OwnerKind, &m.OwnerID, &m.Tags, &m.IsPublic, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *mediaRepo) Create(ctx context.Context, media *models.Media) error {
	if media.ID == uuid.Nil {
		media.ID = uuid.New()
	}
	if media.CreatedAt.IsZero() {
		media.CreatedAt = time.Now().UTC()
	}
	if media.Tags == nil {
		media.Tags = []string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO media (`+mediaColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		media.ID, media.Filename, media.MimeType, media.Size, media.URL, media.ThumbnailURL, media.PublicID,
		media.UploadedBy, string(media.OwnerKind), media.OwnerID, media.Tags, media.IsPublic, media.CreatedAt)
	return mapError(err, "media")
}

func (r *mediaRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	m, err := scanMedia(r.db.QueryRow(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "media")
	}
	return m, nil
}

func (r *mediaRepo) collect(ctx context.Context, query string, args ...any) ([]*models.Media, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "media")
	}
	defer rows.Close()

	var out []*models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *mediaRepo) GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.Media, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.collect(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ANY($1::uuid[])`, uuidStrings(ids))
}

func (r *mediaRepo) ListByOwner(ctx context.Context, kind models.ContextKind, ownerID uuid.UUID) ([]*models.Media, error) {
	return r.collect(ctx, `SELECT `+mediaColumns+` FROM media WHERE owner_kind = $1 AND owner_id = $2
		ORDER BY created_at`, string(kind), ownerID)
}

func (r *mediaRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM media WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "media")
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "media")
	}
	return nil
}

func (r *mediaRepo) DeleteByOwner(ctx context.Context, kind models.ContextKind, ownerID uuid.UUID) ([]*models.Media, error) {
	return r.collect(ctx, `DELETE FROM media WHERE owner_kind = $1 AND owner_id = $2 RETURNING `+mediaColumns,
		string(kind), ownerID)
}

func (r *mediaRepo) CountByPublicID(ctx context.Context, publicID string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM media WHERE public_id = $1`, publicID).Scan(&n); err != nil {
		return 0, mapError(err, "media")
	}
	return n, nil
}
