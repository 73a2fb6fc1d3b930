package repositories

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type AuditLogsRepository interface {
	// Create appends an entry. Inside a transaction it runs under a savepoint so a
	// failed insert never poisons the surrounding business writes.
	Create(ctx context.Context, auditLog *models.AuditLog) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)

	// List audit logs with filtering options
	List(ctx context.Context, filters *models.AuditLogFilters) ([]*models.AuditLog, int, error)

	// ListByResource returns one entity's trail, oldest first
	ListByResource(ctx context.Context, kind string, id uuid.UUID) ([]*models.AuditLog, error)
}

type auditLogsRepo struct {
	db DBTX
}

func NewAuditLogsRepo(db DBTX) AuditLogsRepository {
	return &auditLogsRepo{db: db}
}

const auditColumns = `id, action, actor_id, resource_kind, resource_id, old_value, new_value, ip_address, user_agent,
	external_user_identifier, metadata, status, error_message, description, created_at`

func scanAuditLog(row pgx.Row) (*models.AuditLog, error) {
	a := &models.AuditLog{}
	var oldValue, newValue, metadata []byte
	err := row.Scan(&a.ID, &a.Action, &a.ActorID, &a.ResourceKind, &a.ResourceID, &oldValue, &newValue,
		&a.IPAddress, &a.UserAgent, &a.ExternalUserIdentifier, &metadata, &a.Status, &a.ErrorMessage,
		&a.Description, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(oldValue, &a.OldValue); err != nil {
		return nil, fmt.Errorf("failed to unmarshal old_value: %w", err)
	}
	if err := unmarshalJSON(newValue, &a.NewValue); err != nil {
		return nil, fmt.Errorf("failed to unmarshal new_value: %w", err)
	}
	if err := unmarshalJSON(metadata, &a.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return a, nil
}

func (r *auditLogsRepo) Create(ctx context.Context, auditLog *models.AuditLog) error {
	if auditLog.ID == uuid.Nil {
		auditLog.ID = uuid.New()
	}
	if auditLog.CreatedAt.IsZero() {
		auditLog.CreatedAt = time.Now().UTC()
	}
	if auditLog.Status == "" {
		auditLog.Status = models.AuditSuccess
	}
	if auditLog.Metadata == nil {
		auditLog.Metadata = models.JSONB{}
	}

	// Marshal JSONB fields
	var oldValue, newValue []byte
	var err error
	if auditLog.OldValue != nil {
		if oldValue, err = marshalJSON(auditLog.OldValue); err != nil {
			return fmt.Errorf("failed to marshal old_value: %w", err)
		}
	}
	if auditLog.NewValue != nil {
		if newValue, err = marshalJSON(auditLog.NewValue); err != nil {
			return fmt.Errorf("failed to marshal new_value: %w", err)
		}
	}
	metadata, err := marshalJSON(auditLog.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	// Begin on a pgx.Tx opens a savepoint; on a pool it is a short transaction of its own.
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			auditLog.ID,
			string(auditLog.Action),
			auditLog.ActorID,
			auditLog.ResourceKind,
			auditLog.ResourceID,
			oldValue,
			newValue,
			auditLog.IPAddress,
			auditLog.UserAgent,
			auditLog.ExternalUserIdentifier,
			metadata,
			string(auditLog.Status),
			auditLog.ErrorMessage,
			auditLog.Description,
			auditLog.CreatedAt,
		)
		return err
	})
}

func (r *auditLogsRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	a, err := scanAuditLog(r.db.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "audit log")
	}
	return a, nil
}

func (r *auditLogsRepo) List(ctx context.Context, filters *models.AuditLogFilters) ([]*models.AuditLog, int, error) {
	if filters == nil {
		filters = &models.AuditLogFilters{}
	}
	q := &queryBuilder{}
	if filters.ResourceKind != nil {
		q.add("resource_kind = $%d", *filters.ResourceKind)
	}
	if filters.ResourceID != nil {
		q.add("resource_id = $%d", *filters.ResourceID)
	}
	if filters.Action != nil {
		q.add("action = $%d", string(*filters.Action))
	}
	if filters.ActorID != nil {
		q.add("actor_id = $%d", *filters.ActorID)
	}
	if filters.Status != nil {
		q.add("status = $%d", string(*filters.Status))
	}
	if filters.StartDate != nil {
		q.add("created_at >= $%d", *filters.StartDate)
	}
	if filters.EndDate != nil {
		q.add("created_at <= $%d", *filters.EndDate)
	}
	where := q.clause()

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, q.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "audit log")
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	out, err := r.collect(ctx, `SELECT `+auditColumns+` FROM audit_logs`+where+
		` ORDER BY created_at DESC LIMIT `+q.next(limit)+` OFFSET `+q.next(filters.Offset), q.args...)
	return out, total, err
}

func (r *auditLogsRepo) ListByResource(ctx context.Context, kind string, id uuid.UUID) ([]*models.AuditLog, error) {
	return r.collect(ctx, `SELECT `+auditColumns+` FROM audit_logs
		WHERE resource_kind = $1 AND resource_id = $2 ORDER BY created_at`, kind, id)
}

func (r *auditLogsRepo) collect(ctx context.Context, query string, args ...any) ([]*models.AuditLog, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "audit log")
	}
	defer rows.Close()

	var out []*models.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
