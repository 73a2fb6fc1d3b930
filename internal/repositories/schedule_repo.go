package repositories

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *models.ScheduledMaintenance) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScheduledMaintenance, error)
	GetByPublicTokenHash(ctx context.Context, hash string) (*models.ScheduledMaintenance, error)
	Update(ctx context.Context, s *models.ScheduledMaintenance) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filters models.ScheduleFilters) ([]*models.ScheduledMaintenance, int, error)
	// ListDue returns scheduled rows whose next due date is at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMaintenance, error)
}

type scheduleRepo struct {
	db DBTX
}

func NewScheduleRepo(db DBTX) ScheduleRepository {
	return &scheduleRepo{db: db}
}

const scheduleColumns = `id, title, description, category, priority, status, property_id, unit_id, created_by,
	assigned_to_kind, assigned_to, assigned_by, assigned_at, scheduled_date, recurring, frequency, next_due_date,
	last_executed_at, last_generated_request, media_ids, status_history, public_token_hash, public_link_enabled,
	public_link_expires_at, is_active, version, created_at, updated_at`

func scanSchedule(row pgx.Row) (*models.ScheduledMaintenance, error) {
	s := &models.ScheduledMaintenance{}
	var (
		assigneeKind *string
		assigneeID   *uuid.UUID
		frequency    []byte
		mediaIDs     []byte
		history      []byte
	)
	err := row.Scan(
		&s.ID,
		&s.Title,
		&s.Description,
		&s.Category,
		&s.Priority,
		&s.Status,
		&s.PropertyID,
		&s.UnitID,
		&s.CreatedBy,
		&assigneeKind,
		&assigneeID,
		&s.AssignedBy,
		&s.AssignedAt,
		&s.ScheduledDate,
		&s.Recurring,
		&frequency,
		&s.NextDueDate,
		&s.LastExecutedAt,
		&s.LastGeneratedRequest,
		&mediaIDs,
		&history,
		&s.PublicLink.TokenHash,
		&s.PublicLink.Enabled,
		&s.PublicLink.ExpiresAt,
		&s.IsActive,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if s.AssignedTo, err = models.ParseAssignee(assigneeKind, assigneeID); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(frequency, &s.Frequency); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frequency: %w", err)
	}
	if err := unmarshalJSON(mediaIDs, &s.MediaIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal media_ids: %w", err)
	}
	if err := unmarshalJSON(history, &s.StatusHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status_history: %w", err)
	}
	return s, nil
}

func encodeScheduleJSON(s *models.ScheduledMaintenance) (frequency, media, history []byte, err error) {
	if frequency, err = marshalJSON(s.Frequency); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal frequency: %w", err)
	}
	if media, err = marshalJSON(nonNilUUIDs(s.MediaIDs)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal media_ids: %w", err)
	}
	rows := s.StatusHistory
	if rows == nil {
		rows = []models.StatusChange{}
	}
	if history, err = marshalJSON(rows); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal status_history: %w", err)
	}
	return frequency, media, history, nil
}

func (r *scheduleRepo) Create(ctx context.Context, s *models.ScheduledMaintenance) error {
	now := time.Now().UTC()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = s.CreatedAt
	s.Version = 1

	frequency, media, history, err := encodeScheduleJSON(s)
	if err != nil {
		return err
	}
	kind, assignee := s.AssignedTo.Columns()

	query := `
		INSERT INTO scheduled_maintenance (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28)
	`
	_, err = r.db.Exec(ctx, query,
		s.ID,
		s.Title,
		s.Description,
		s.Category,
		string(s.Priority),
		string(s.Status),
		s.PropertyID,
		s.UnitID,
		s.CreatedBy,
		kind,
		assignee,
		s.AssignedBy,
		s.AssignedAt,
		s.ScheduledDate,
		s.Recurring,
		frequency,
		s.NextDueDate,
		s.LastExecutedAt,
		s.LastGeneratedRequest,
		media,
		history,
		s.PublicLink.TokenHash,
		s.PublicLink.Enabled,
		s.PublicLink.ExpiresAt,
		s.IsActive,
		s.Version,
		s.CreatedAt,
		s.UpdatedAt,
	)
	return mapError(err, "scheduled maintenance")
}

func (r *scheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ScheduledMaintenance, error) {
	s, err := scanSchedule(r.db.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM scheduled_maintenance WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "scheduled maintenance")
	}
	return s, nil
}

func (r *scheduleRepo) GetByPublicTokenHash(ctx context.Context, hash string) (*models.ScheduledMaintenance, error) {
	s, err := scanSchedule(r.db.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM scheduled_maintenance
		WHERE public_token_hash = $1`, hash))
	if err != nil {
		return nil, mapError(err, "scheduled maintenance")
	}
	return s, nil
}

func (r *scheduleRepo) Update(ctx context.Context, s *models.ScheduledMaintenance) error {
	frequency, media, history, err := encodeScheduleJSON(s)
	if err != nil {
		return err
	}
	kind, assignee := s.AssignedTo.Columns()
	updatedAt := time.Now().UTC()

	query := `
		UPDATE scheduled_maintenance SET title = $3, description = $4, category = $5, priority = $6,
			status = $7, unit_id = $8, assigned_to_kind = $9, assigned_to = $10, assigned_by = $11,
			assigned_at = $12, scheduled_date = $13, recurring = $14, frequency = $15, next_due_date = $16,
			last_executed_at = $17, last_generated_request = $18, media_ids = $19, status_history = $20,
			public_token_hash = $21, public_link_enabled = $22, public_link_expires_at = $23, is_active = $24,
			version = version + 1, updated_at = $25
		WHERE id = $1 AND version = $2
	`
	tag, err := r.db.Exec(ctx, query,
		s.ID,
		s.Version,
		s.Title,
		s.Description,
		s.Category,
		string(s.Priority),
		string(s.Status),
		s.UnitID,
		kind,
		assignee,
		s.AssignedBy,
		s.AssignedAt,
		s.ScheduledDate,
		s.Recurring,
		frequency,
		s.NextDueDate,
		s.LastExecutedAt,
		s.LastGeneratedRequest,
		media,
		history,
		s.PublicLink.TokenHash,
		s.PublicLink.Enabled,
		s.PublicLink.ExpiresAt,
		s.IsActive,
		updatedAt,
	)
	if err != nil {
		return mapError(err, "scheduled maintenance")
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	s.Version++
	s.UpdatedAt = updatedAt
	return nil
}

func (r *scheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM scheduled_maintenance WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "scheduled maintenance")
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "scheduled maintenance")
	}
	return nil
}

func (r *scheduleRepo) List(ctx context.Context, filters models.ScheduleFilters) ([]*models.ScheduledMaintenance, int, error) {
	q := &queryBuilder{}
	if filters.PropertyIDs != nil {
		q.add("property_id = ANY($%d::uuid[])", uuidStrings(filters.PropertyIDs))
	}
	if filters.Status != nil {
		q.add("status = $%d", string(*filters.Status))
	}
	if filters.Assignee != nil {
		q.add("assigned_to_kind = $%d", string(filters.Assignee.Kind))
		q.add("assigned_to = $%d", filters.Assignee.ID)
	}
	if v := filters.VisibleTo; v != nil {
		managed := q.next(uuidStrings(v.ManagedProperties))
		user := q.next(v.UserID)
		q.where = append(q.where, fmt.Sprintf(
			"(property_id = ANY(%s::uuid[]) OR created_by = %s OR (assigned_to_kind = 'User' AND assigned_to = %s))",
			managed, user, user))
	}
	where := q.clause()

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM scheduled_maintenance`+where, q.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "scheduled maintenance")
	}
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_maintenance` + where +
		` ORDER BY next_due_date NULLS LAST, created_at DESC LIMIT ` + q.next(filters.Limit) + ` OFFSET ` + q.next(filters.Offset)
	return r.collect(ctx, total, query, q.args...)
}

func (r *scheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMaintenance, error) {
	out, _, err := r.collect(ctx, 0, `SELECT `+scheduleColumns+` FROM scheduled_maintenance
		WHERE status = 'scheduled' AND next_due_date IS NOT NULL AND next_due_date <= $1
		ORDER BY next_due_date LIMIT $2`, now, limit)
	return out, err
}

func (r *scheduleRepo) collect(ctx context.Context, total int, query string, args ...any) ([]*models.ScheduledMaintenance, int, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError(err, "scheduled maintenance")
	}
	defer rows.Close()

	var out []*models.ScheduledMaintenance
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan scheduled maintenance: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}
