package repositories

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, filters models.NotificationFilters) ([]*models.Notification, int, error)
	MarkRead(ctx context.Context, recipientID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
	DeleteByResource(ctx context.Context, kind string, id uuid.UUID) (int64, error)
}

type notificationRepo struct {
	db DBTX
}

func NewNotificationRepo(db DBTX) NotificationRepository {
	return &notificationRepo{db: db}
}

const notificationColumns = `id, recipient_id, kind, message, link, related_kind, related_id, sender_id, is_read,
	email_payload, sms_payload, created_at`

func scanNotification(row pgx.Row) (*models.Notification, error) {
	n := &models.Notification{}
	var (
		relatedKind *string
		relatedID   *uuid.UUID
		email       []byte
		sms         []byte
	)
	err := row.Scan(&n.ID, &n.RecipientID, &n.Kind, &n.Message, &n.Link, &relatedKind, &relatedID,
		&n.SenderID, &n.IsRead, &email, &sms, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if relatedKind != nil && relatedID != nil {
		n.RelatedResource = &models.ResourceRef{Kind: *relatedKind, ID: *relatedID}
	}
	if len(email) > 0 {
		n.EmailPayload = &models.EmailPayload{}
		if err := unmarshalJSON(email, n.EmailPayload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal email_payload: %w", err)
		}
	}
	if len(sms) > 0 {
		n.SMSPayload = &models.SMSPayload{}
		if err := unmarshalJSON(sms, n.SMSPayload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sms_payload: %w", err)
		}
	}
	return n, nil
}

func (r *notificationRepo) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	var (
		relatedKind *string
		relatedID   *uuid.UUID
		email, sms  []byte
		err         error
	)
	if n.RelatedResource != nil {
		relatedKind, relatedID = &n.RelatedResource.Kind, &n.RelatedResource.ID
	}
	if n.EmailPayload != nil {
		if email, err = marshalJSON(n.EmailPayload); err != nil {
			return fmt.Errorf("failed to marshal email_payload: %w", err)
		}
	}
	if n.SMSPayload != nil {
		if sms, err = marshalJSON(n.SMSPayload); err != nil {
			return fmt.Errorf("failed to marshal sms_payload: %w", err)
		}
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		n.ID, n.RecipientID, string(n.Kind), n.Message, n.Link, relatedKind, relatedID, n.SenderID, n.IsRead,
		email, sms, n.CreatedAt)
	return mapError(err, "notification")
}

func (r *notificationRepo) ListByRecipient(ctx context.Context, recipientID uuid.UUID, filters models.NotificationFilters) ([]*models.Notification, int, error) {
	q := &queryBuilder{}
	q.add("recipient_id = $%d", recipientID)
	if filters.UnreadOnly {
		q.where = append(q.where, "NOT is_read")
	}
	where := q.clause()

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications`+where, q.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "notification")
	}
	rows, err := r.db.Query(ctx, `SELECT `+notificationColumns+` FROM notifications`+where+
		` ORDER BY created_at DESC LIMIT `+q.next(filters.Limit)+` OFFSET `+q.next(filters.Offset), q.args...)
	if err != nil {
		return nil, 0, mapError(err, "notification")
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *notificationRepo) MarkRead(ctx context.Context, recipientID, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_id = $2`,
		id, recipientID)
	if err != nil {
		return mapError(err, "notification")
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "notification")
	}
	return nil
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND NOT is_read`,
		recipientID)
	if err != nil {
		return 0, mapError(err, "notification")
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepo) DeleteByResource(ctx context.Context, kind string, id uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE related_kind = $1 AND related_id = $2`, kind, id)
	if err != nil {
		return 0, mapError(err, "notification")
	}
	return tag.RowsAffected(), nil
}
