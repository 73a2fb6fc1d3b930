package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MaterialisationConstraint guards (schedule, due date) uniqueness.
const MaterialisationConstraint = "requests_materialisation_key"

type RequestRepository interface {
	Create(ctx context.Context, req *models.Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error)
	GetByPublicTokenHash(ctx context.Context, hash string) (*models.Request, error)
	// Update writes every mutable column when req.Version still matches and bumps it.
	Update(ctx context.Context, req *models.Request) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filters models.RequestFilters) ([]*models.Request, int, error)
	// FindOpenGenerated returns a non-closed request generated from the schedule, or nil.
	FindOpenGenerated(ctx context.Context, scheduleID uuid.UUID) (*models.Request, error)
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Request, error)
	// MarkReminded records a reminder for the sweep day; false means one was already sent.
	MarkReminded(ctx context.Context, requestID uuid.UUID, sweepDay time.Time) (bool, error)
	Summary(ctx context.Context, propertyID uuid.UUID) (*models.RequestSummary, error)
}

type requestRepo struct {
	db DBTX
}

func NewRequestRepo(db DBTX) RequestRepository {
	return &requestRepo{db: db}
}

const requestColumns = `id, title, description, category, priority, status, property_id, unit_id, created_by,
	created_by_property_user, assigned_to_kind, assigned_to, assigned_by, assigned_at, resolved_at, feedback,
	media_ids, status_history, public_token_hash, public_link_enabled, public_link_expires_at,
	generated_from_scheduled_maintenance, generated_for_due_date, is_active, version, created_at, updated_at`

func scanRequest(row pgx.Row) (*models.Request, error) {
	req := &models.Request{}
	var (
		assigneeKind *string
		assigneeID   *uuid.UUID
		feedback     []byte
		mediaIDs     []byte
		history      []byte
	)
	err := row.Scan(
		&req.ID,
		&req.Title,
		&req.Description,
		&req.Category,
		&req.Priority,
		&req.Status,
		&req.PropertyID,
		&req.UnitID,
		&req.CreatedBy,
		&req.CreatedByPropertyUser,
		&assigneeKind,
		&assigneeID,
		&req.AssignedBy,
		&req.AssignedAt,
		&req.ResolvedAt,
		&feedback,
		&mediaIDs,
		&history,
		&req.PublicLink.TokenHash,
		&req.PublicLink.Enabled,
		&req.PublicLink.ExpiresAt,
		&req.GeneratedFrom,
		&req.GeneratedForDueDate,
		&req.IsActive,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if req.AssignedTo, err = models.ParseAssignee(assigneeKind, assigneeID); err != nil {
		return nil, err
	}
	if len(feedback) > 0 && string(feedback) != "null" {
		req.Feedback = &models.Feedback{}
		if err := unmarshalJSON(feedback, req.Feedback); err != nil {
			return nil, fmt.Errorf("failed to unmarshal feedback: %w", err)
		}
	}
	if err := unmarshalJSON(mediaIDs, &req.MediaIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal media_ids: %w", err)
	}
	if err := unmarshalJSON(history, &req.StatusHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status_history: %w", err)
	}
	return req, nil
}

type requestJSON struct {
	feedback []byte
	media    []byte
	history  []byte
}

func encodeRequestJSON(req *models.Request) (requestJSON, error) {
	var out requestJSON
	var err error
	if req.Feedback != nil {
		if out.feedback, err = marshalJSON(req.Feedback); err != nil {
			return out, fmt.Errorf("failed to marshal feedback: %w", err)
		}
	}
	if out.media, err = marshalJSON(nonNilUUIDs(req.MediaIDs)); err != nil {
		return out, fmt.Errorf("failed to marshal media_ids: %w", err)
	}
	history := req.StatusHistory
	if history == nil {
		history = []models.StatusChange{}
	}
	if out.history, err = marshalJSON(history); err != nil {
		return out, fmt.Errorf("failed to marshal status_history: %w", err)
	}
	return out, nil
}

func (r *requestRepo) Create(ctx context.Context, req *models.Request) error {
	now := time.Now().UTC()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	req.Version = 1

	enc, err := encodeRequestJSON(req)
	if err != nil {
		return err
	}
	kind, assignee := req.AssignedTo.Columns()

	query := `
		INSERT INTO requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27)
	`
	_, err = r.db.Exec(ctx, query,
		req.ID,
		req.Title,
		req.Description,
		req.Category,
		string(req.Priority),
		string(req.Status),
		req.PropertyID,
		req.UnitID,
		req.CreatedBy,
		req.CreatedByPropertyUser,
		kind,
		assignee,
		req.AssignedBy,
		req.AssignedAt,
		req.ResolvedAt,
		enc.feedback,
		enc.media,
		enc.history,
		req.PublicLink.TokenHash,
		req.PublicLink.Enabled,
		req.PublicLink.ExpiresAt,
		req.GeneratedFrom,
		req.GeneratedForDueDate,
		req.IsActive,
		req.Version,
		req.CreatedAt,
		req.UpdatedAt,
	)
	return mapError(err, "request")
}

func (r *requestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "request")
	}
	return req, nil
}

func (r *requestRepo) GetByPublicTokenHash(ctx context.Context, hash string) (*models.Request, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE public_token_hash = $1`, hash))
	if err != nil {
		return nil, mapError(err, "request")
	}
	return req, nil
}

func (r *requestRepo) Update(ctx context.Context, req *models.Request) error {
	enc, err := encodeRequestJSON(req)
	if err != nil {
		return err
	}
	kind, assignee := req.AssignedTo.Columns()
	updatedAt := time.Now().UTC()

	query := `
		UPDATE requests SET title = $3, description = $4, category = $5, priority = $6, status = $7,
			unit_id = $8, assigned_to_kind = $9, assigned_to = $10, assigned_by = $11, assigned_at = $12,
			resolved_at = $13, feedback = $14, media_ids = $15, status_history = $16, public_token_hash = $17,
			public_link_enabled = $18, public_link_expires_at = $19, is_active = $20,
			version = version + 1, updated_at = $21
		WHERE id = $1 AND version = $2
	`
	tag, err := r.db.Exec(ctx, query,
		req.ID,
		req.Version,
		req.Title,
		req.Description,
		req.Category,
		string(req.Priority),
		string(req.Status),
		req.UnitID,
		kind,
		assignee,
		req.AssignedBy,
		req.AssignedAt,
		req.ResolvedAt,
		enc.feedback,
		enc.media,
		enc.history,
		req.PublicLink.TokenHash,
		req.PublicLink.Enabled,
		req.PublicLink.ExpiresAt,
		req.IsActive,
		updatedAt,
	)
	if err != nil {
		return mapError(err, "request")
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	req.Version++
	req.UpdatedAt = updatedAt
	return nil
}

func (r *requestRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM requests WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "request")
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "request")
	}
	return nil
}

func (r *requestRepo) List(ctx context.Context, filters models.RequestFilters) ([]*models.Request, int, error) {
	q := &queryBuilder{}
	if filters.PropertyIDs != nil {
		q.add("property_id = ANY($%d::uuid[])", uuidStrings(filters.PropertyIDs))
	}
	if filters.Status != nil {
		q.add("status = $%d", string(*filters.Status))
	}
	if filters.Priority != nil {
		q.add("priority = $%d", string(*filters.Priority))
	}
	if filters.Category != "" {
		q.add("category = $%d", filters.Category)
	}
	if filters.CreatedBy != nil {
		q.add("created_by = $%d", *filters.CreatedBy)
	}
	if filters.Assignee != nil {
		q.add("assigned_to_kind = $%d", string(filters.Assignee.Kind))
		q.add("assigned_to = $%d", filters.Assignee.ID)
	}
	if filters.GeneratedFrom != nil {
		q.add("generated_from_scheduled_maintenance = $%d", *filters.GeneratedFrom)
	}
	if v := filters.VisibleTo; v != nil {
		managed := q.next(uuidStrings(v.ManagedProperties))
		user := q.next(v.UserID)
		units := q.next(uuidStrings(v.TenantUnits))
		q.where = append(q.where, fmt.Sprintf(
			"(property_id = ANY(%s::uuid[]) OR created_by = %s OR (assigned_to_kind = 'User' AND assigned_to = %s) OR unit_id = ANY(%s::uuid[]))",
			managed, user, user, units))
	}
	where := q.clause()

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM requests`+where, q.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "request")
	}

	query := `SELECT ` + requestColumns + ` FROM requests` + where +
		` ORDER BY created_at DESC LIMIT ` + q.next(filters.Limit) + ` OFFSET ` + q.next(filters.Offset)
	rows, err := r.db.Query(ctx, query, q.args...)
	if err != nil {
		return nil, 0, mapError(err, "request")
	}
	defer rows.Close()

	var out []*models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

func closedStatusStrings() []string {
	out := make([]string, len(models.ClosedRequestStatuses))
	for i, s := range models.ClosedRequestStatuses {
		out[i] = string(s)
	}
	return out
}

func (r *requestRepo) FindOpenGenerated(ctx context.Context, scheduleID uuid.UUID) (*models.Request, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests
		WHERE generated_from_scheduled_maintenance = $1 AND NOT (status = ANY($2::text[]))
		ORDER BY created_at DESC LIMIT 1`, scheduleID, closedStatusStrings()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err, "request")
	}
	return req, nil
}

func (r *requestRepo) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Request, error) {
	rows, err := r.db.Query(ctx, `SELECT `+requestColumns+` FROM requests
		WHERE status IN ('new', 'assigned') AND created_at < $1
		ORDER BY created_at LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, mapError(err, "request")
	}
	defer rows.Close()

	var out []*models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *requestRepo) MarkReminded(ctx context.Context, requestID uuid.UUID, sweepDay time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `INSERT INTO request_reminders (request_id, sweep_day) VALUES ($1, $2)
		ON CONFLICT (request_id, sweep_day) DO NOTHING`, requestID, sweepDay.Format("2006-01-02"))
	if err != nil {
		return false, mapError(err, "request reminder")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *requestRepo) Summary(ctx context.Context, propertyID uuid.UUID) (*models.RequestSummary, error) {
	summary := &models.RequestSummary{
		PropertyID: propertyID,
		ByStatus:   map[string]int{},
		ByPriority: map[string]int{},
	}
	rows, err := r.db.Query(ctx, `SELECT status, priority, COUNT(*) FROM requests WHERE property_id = $1
		GROUP BY status, priority`, propertyID)
	if err != nil {
		return nil, mapError(err, "request")
	}
	defer rows.Close()
	for rows.Next() {
		var status, priority string
		var count int
		if err := rows.Scan(&status, &priority, &count); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summary.ByStatus[status] += count
		summary.ByPriority[priority] += count
		summary.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var mean *float64
	err = r.db.QueryRow(ctx, `SELECT AVG(EXTRACT(EPOCH FROM (resolved_at - created_at)) / 3600.0)::float8
		FROM requests WHERE property_id = $1 AND resolved_at IS NOT NULL`, propertyID).Scan(&mean)
	if err != nil {
		return nil, mapError(err, "request")
	}
	summary.MeanResolutionHours = mean
	return summary, nil
}
