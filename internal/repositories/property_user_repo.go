package repositories

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PropertyUserRepository persists the access-granting association rows.
type PropertyUserRepository interface {
	Create(ctx context.Context, pu *models.PropertyUser) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PropertyUser, error)
	Update(ctx context.Context, pu *models.PropertyUser) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.PropertyUser, error)
	ListByProperty(ctx context.Context, propertyID uuid.UUID, activeOnly bool) ([]*models.PropertyUser, error)
	ListActive(ctx context.Context, userID, propertyID uuid.UUID) ([]*models.PropertyUser, error)
	// ActivateByUser flips every inactive row of the user to active.
	ActivateByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeactivateByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

type propertyUserRepo struct {
	db DBTX
}

func NewPropertyUserRepo(db DBTX) PropertyUserRepository {
	return &propertyUserRepo{db: db}
}

const propertyUserColumns = `id, user_id, property_id, unit_id, roles, is_active, start_date, end_date, created_at, updated_at`

func scanPropertyUser(row pgx.Row) (*models.PropertyUser, error) {
	pu := &models.PropertyUser{}
	var roles []string
	err := row.Scan(&pu.ID, &pu.UserID, &pu.PropertyID, &pu.UnitID, &roles, &pu.IsActive,
		&pu.StartDate, &pu.EndDate, &pu.CreatedAt, &pu.UpdatedAt)
	if err != nil {
		return nil, err
	}
	set, err := models.ParseRoleSet(roles)
	if err != nil {
		return nil, err
	}
	pu.Roles = set
	return pu, nil
}

func (r *propertyUserRepo) Create(ctx context.Context, pu *models.PropertyUser) error {
	now := time.Now().UTC()
	if pu.ID == uuid.Nil {
		pu.ID = uuid.New()
	}
	if pu.StartDate.IsZero() {
		pu.StartDate = now
	}
	pu.CreatedAt, pu.UpdatedAt = now, now
	_, err := r.db.Exec(ctx, `
		INSERT INTO property_users (id, user_id, property_id, unit_id, roles, is_active, start_date, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pu.ID, pu.UserID, pu.PropertyID, pu.UnitID, pu.Roles.Strings(), pu.IsActive,
		pu.StartDate, pu.EndDate, pu.CreatedAt, pu.UpdatedAt)
	return mapError(err, "property user")
}

func (r *propertyUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PropertyUser, error) {
	pu, err := scanPropertyUser(r.db.QueryRow(ctx, `SELECT `+propertyUserColumns+` FROM property_users WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "property user")
	}
	return pu, nil
}

func (r *propertyUserRepo) Update(ctx context.Context, pu *models.PropertyUser) error {
	pu.UpdatedAt = time.Now().UTC()
	tag, err := r.db.Exec(ctx, `
		UPDATE property_users SET unit_id = $2, roles = $3, is_active = $4, end_date = $5, updated_at = $6
		WHERE id = $1`,
		pu.ID, pu.UnitID, pu.Roles.Strings(), pu.IsActive, pu.EndDate, pu.UpdatedAt)
	if err != nil {
		return mapError(err, "property user")
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "property user")
	}
	return nil
}

func (r *propertyUserRepo) list(ctx context.Context, query string, args ...any) ([]*models.PropertyUser, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "property user")
	}
	defer rows.Close()

	var out []*models.PropertyUser
	for rows.Next() {
		pu, err := scanPropertyUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan property user: %w", err)
		}
		out = append(out, pu)
	}
	return out, rows.Err()
}

func (r *propertyUserRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.PropertyUser, error) {
	return r.list(ctx, `SELECT `+propertyUserColumns+` FROM property_users WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (r *propertyUserRepo) ListByProperty(ctx context.Context, propertyID uuid.UUID, activeOnly bool) ([]*models.PropertyUser, error) {
	query := `SELECT ` + propertyUserColumns + ` FROM property_users WHERE property_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	return r.list(ctx, query+` ORDER BY created_at`, propertyID)
}

func (r *propertyUserRepo) ListActive(ctx context.Context, userID, propertyID uuid.UUID) ([]*models.PropertyUser, error) {
	return r.list(ctx, `SELECT `+propertyUserColumns+` FROM property_users
		WHERE user_id = $1 AND property_id = $2 AND is_active`, userID, propertyID)
}

func (r *propertyUserRepo) ActivateByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE property_users SET is_active = TRUE, updated_at = $2
		WHERE user_id = $1 AND NOT is_active AND end_date IS NULL`, userID, time.Now().UTC())
	if err != nil {
		return 0, mapError(err, "property user")
	}
	return tag.RowsAffected(), nil
}

func (r *propertyUserRepo) DeactivateByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, `UPDATE property_users SET is_active = FALSE, end_date = $2, updated_at = $2
		WHERE user_id = $1 AND is_active`, userID, now)
	if err != nil {
		return 0, mapError(err, "property user")
	}
	return tag.RowsAffected(), nil
}
