package repositories

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type VendorRepository interface {
	Create(ctx context.Context, vendor *models.Vendor) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	Update(ctx context.Context, vendor *models.Vendor) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filters models.VendorFilters) ([]*models.Vendor, int, error)
}

type vendorRepo struct {
	db DBTX
}

func NewVendorRepo(db DBTX) VendorRepository {
	return &vendorRepo{db: db}
}

const vendorColumns = `id, name, contact_name, email, phone, services, average_rating, total_ratings,
	total_jobs_completed, property_ids, is_active, created_at, updated_at`

func scanVendor(row pgx.Row) (*models.Vendor, error) {
	v := &models.Vendor{}
	var propertyIDs []byte
	err := row.Scan(&v.ID, &v.Name, &v.ContactName, &v.Email, &v.Phone, &v.Services, &v.AverageRating,
		&v.TotalRatings, &v.TotalJobsCompleted, &propertyIDs, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(propertyIDs, &v.PropertyIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal property_ids: %w", err)
	}
	return v, nil
}

func (r *vendorRepo) Create(ctx context.Context, vendor *models.Vendor) error {
	now := time.Now().UTC()
	if vendor.ID == uuid.Nil {
		vendor.ID = uuid.New()
	}
	vendor.CreatedAt, vendor.UpdatedAt = now, now
	if vendor.Services == nil {
		vendor.Services = []string{}
	}
	propertyIDs, err := marshalJSON(nonNilUUIDs(vendor.PropertyIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal property_ids: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO vendors (id, name, contact_name, email, phone, services, average_rating, total_ratings,
			total_jobs_completed, property_ids, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		vendor.ID, vendor.Name, vendor.ContactName, vendor.Email, vendor.Phone, vendor.Services,
		vendor.AverageRating, vendor.TotalRatings, vendor.TotalJobsCompleted, propertyIDs, vendor.IsActive,
		vendor.CreatedAt, vendor.UpdatedAt)
	return mapError(err, "vendor")
}

func (r *vendorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	v, err := scanVendor(r.db.QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "vendor")
	}
	return v, nil
}

func (r *vendorRepo) Update(ctx context.Context, vendor *models.Vendor) error {
	vendor.UpdatedAt = time.Now().UTC()
	propertyIDs, err := marshalJSON(nonNilUUIDs(vendor.PropertyIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal property_ids: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE vendors SET name = $2, contact_name = $3, email = $4, phone = $5, services = $6,
			average_rating = $7, total_ratings = $8, total_jobs_completed = $9, property_ids = $10,
			is_active = $11, updated_at = $12
		WHERE id = $1`,
		vendor.ID, vendor.Name, vendor.ContactName, vendor.Email, vendor.Phone, vendor.Services,
		vendor.AverageRating, vendor.TotalRatings, vendor.TotalJobsCompleted, propertyIDs, vendor.IsActive,
		vendor.UpdatedAt)
	if err != nil {
		return mapError(err, "vendor")
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "vendor")
	}
	return nil
}

func (r *vendorRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM vendors WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "vendor")
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "vendor")
	}
	return nil
}

func (r *vendorRepo) List(ctx context.Context, filters models.VendorFilters) ([]*models.Vendor, int, error) {
	q := &queryBuilder{}
	if filters.PropertyIDs != nil {
		// property_ids is a JSON array of id strings
		if filters.IncludeUnscoped {
			q.add("(property_ids ?| $%d::text[] OR jsonb_array_length(property_ids) = 0)", uuidStrings(filters.PropertyIDs))
		} else {
			q.add("property_ids ?| $%d::text[]", uuidStrings(filters.PropertyIDs))
		}
	}
	if filters.Service != "" {
		q.add("$%d = ANY(services)", filters.Service)
	}
	if filters.ActiveOnly {
		q.where = append(q.where, "is_active")
	}
	where := q.clause()

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM vendors`+where, q.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "vendor")
	}
	rows, err := r.db.Query(ctx, `SELECT `+vendorColumns+` FROM vendors`+where+
		` ORDER BY name LIMIT `+q.next(filters.Limit)+` OFFSET `+q.next(filters.Offset), q.args...)
	if err != nil {
		return nil, 0, mapError(err, "vendor")
	}
	defer rows.Close()

	var out []*models.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan vendor: %w", err)
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

func nonNilUUIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
