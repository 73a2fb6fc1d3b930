package repositories

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PropertyRepository interface {
	CreateProperty(ctx context.Context, property *models.Property) error
	GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error)
	// ListProperties returns every property when ids is nil, else only those ids.
	ListProperties(ctx context.Context, ids []uuid.UUID, limit, offset int) ([]*models.Property, int, error)
	CreateUnit(ctx context.Context, unit *models.Unit) error
	GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error)
	ListUnits(ctx context.Context, propertyID uuid.UUID) ([]*models.Unit, error)
}

type propertyRepo struct {
	db DBTX
}

func NewPropertyRepo(db DBTX) PropertyRepository {
	return &propertyRepo{db: db}
}

const propertyColumns = `id, name, address, city, country, owner_id, created_at, updated_at`

func scanProperty(row pgx.Row) (*models.Property, error) {
	p := &models.Property{}
	if err := row.Scan(&p.ID, &p.Name, &p.Address, &p.City, &p.Country, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *propertyRepo) CreateProperty(ctx context.Context, property *models.Property) error {
	now := time.Now().UTC()
	if property.ID == uuid.Nil {
		property.ID = uuid.New()
	}
	property.CreatedAt, property.UpdatedAt = now, now
	_, err := r.db.Exec(ctx, `
		INSERT INTO properties (id, name, address, city, country, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		property.ID, property.Name, property.Address, property.City, property.Country, property.OwnerID,
		property.CreatedAt, property.UpdatedAt)
	return mapError(err, "property")
}

func (r *propertyRepo) GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	p, err := scanProperty(r.db.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "property")
	}
	return p, nil
}

func (r *propertyRepo) ListProperties(ctx context.Context, ids []uuid.UUID, limit, offset int) ([]*models.Property, int, error) {
	q := &queryBuilder{}
	if ids != nil {
		q.add("id = ANY($%d::uuid[])", uuidStrings(ids))
	}
	where := q.clause()

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM properties`+where, q.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "property")
	}
	rows, err := r.db.Query(ctx, `SELECT `+propertyColumns+` FROM properties`+where+
		` ORDER BY name LIMIT `+q.next(limit)+` OFFSET `+q.next(offset), q.args...)
	if err != nil {
		return nil, 0, mapError(err, "property")
	}
	defer rows.Close()

	var out []*models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan property: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

const unitColumns = `id, property_id, name, status, created_at, updated_at`

func scanUnit(row pgx.Row) (*models.Unit, error) {
	u := &models.Unit{}
	if err := row.Scan(&u.ID, &u.PropertyID, &u.Name, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *propertyRepo) CreateUnit(ctx context.Context, unit *models.Unit) error {
	now := time.Now().UTC()
	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	unit.CreatedAt, unit.UpdatedAt = now, now
	_, err := r.db.Exec(ctx, `
		INSERT INTO units (id, property_id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		unit.ID, unit.PropertyID, unit.Name, string(unit.Status), unit.CreatedAt, unit.UpdatedAt)
	return mapError(err, "unit")
}

func (r *propertyRepo) GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error) {
	u, err := scanUnit(r.db.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "unit")
	}
	return u, nil
}

func (r *propertyRepo) ListUnits(ctx context.Context, propertyID uuid.UUID) ([]*models.Unit, error) {
	rows, err := r.db.Query(ctx, `SELECT `+unitColumns+` FROM units WHERE property_id = $1 ORDER BY name`, propertyID)
	if err != nil {
		return nil, mapError(err, "unit")
	}
	defer rows.Close()

	var out []*models.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
