package memstore

import (
	"context"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/google/uuid"
)

type commentRepo struct{ s *Store }

func (r *commentRepo) Create(ctx context.Context, comment *models.Comment) error {
	defer r.s.lock(ctx)()
	if comment.ID == uuid.Nil {
		comment.ID = uuid.New()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now()
	}
	r.s.state.comments[comment.ID] = comment.Clone()
	r.s.state.track(comment.ID)
	return nil
}

func (r *commentRepo) ListByContext(ctx context.Context, kind models.ContextKind, id uuid.UUID, includeInternal bool) ([]*models.Comment, error) {
	defer r.s.lock(ctx)()
	var out []*models.Comment
	for _, c := range r.s.state.comments {
		if c.ContextKind != kind || c.ContextID != id {
			continue
		}
		if c.IsInternalNote && !includeInternal {
			continue
		}
		out = append(out, c.Clone())
	}
	sortRows(r.s.state, out, func(c *models.Comment) (time.Time, uuid.UUID) { return c.CreatedAt, c.ID }, false)
	return out, nil
}

func (r *commentRepo) DeleteByContext(ctx context.Context, kind models.ContextKind, id uuid.UUID) (int64, error) {
	defer r.s.lock(ctx)()
	var n int64
	for cid, c := range r.s.state.comments {
		if c.ContextKind == kind && c.ContextID == id {
			delete(r.s.state.comments, cid)
			n++
		}
	}
	return n, nil
}

type mediaRepo struct{ s *Store }

func (r *mediaRepo) Create(ctx context.Context, media *models.Media) error {
	defer r.s.lock(ctx)()
	if media.ID == uuid.Nil {
		media.ID = uuid.New()
	}
	if media.CreatedAt.IsZero() {
		media.CreatedAt = now()
	}
	if media.Tags == nil {
		media.Tags = []string{}
	}
	r.s.state.media[media.ID] = media.Clone()
	r.s.state.track(media.ID)
	return nil
}

func (r *mediaRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	defer r.s.lock(ctx)()
	m, ok := r.s.state.media[id]
	if !ok {
		return nil, common.NotFound("media")
	}
	return m.Clone(), nil
}

func (r *mediaRepo) GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.Media, error) {
	defer r.s.lock(ctx)()
	var out []*models.Media
	for _, id := range ids {
		if m, ok := r.s.state.media[id]; ok {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (r *mediaRepo) owned(kind models.ContextKind, ownerID uuid.UUID) []*models.Media {
	var out []*models.Media
	for _, m := range r.s.state.media {
		if m.OwnerKind == kind && m.OwnerID == ownerID {
			out = append(out, m.Clone())
		}
	}
	sortRows(r.s.state, out, func(m *models.Media) (time.Time, uuid.UUID) { return m.CreatedAt, m.ID }, false)
	return out
}

func (r *mediaRepo) ListByOwner(ctx context.Context, kind models.ContextKind, ownerID uuid.UUID) ([]*models.Media, error) {
	defer r.s.lock(ctx)()
	return r.owned(kind, ownerID), nil
}

func (r *mediaRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.state.media[id]; !ok {
		return common.NotFound("media")
	}
	delete(r.s.state.media, id)
	return nil
}

func (r *mediaRepo) DeleteByOwner(ctx context.Context, kind models.ContextKind, ownerID uuid.UUID) ([]*models.Media, error) {
	defer r.s.lock(ctx)()
	out := r.owned(kind, ownerID)
	for _, m := range out {
		delete(r.s.state.media, m.ID)
	}
	return out, nil
}

func (r *mediaRepo) CountByPublicID(ctx context.Context, publicID string) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, m := range r.s.state.media {
		if m.PublicID == publicID {
			n++
		}
	}
	return n, nil
}

type notificationRepo struct{ s *Store }

func (r *notificationRepo) Create(ctx context.Context, n *models.Notification) error {
	defer r.s.lock(ctx)()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	r.s.state.notifications[n.ID] = n.Clone()
	r.s.state.track(n.ID)
	return nil
}

func (r *notificationRepo) ListByRecipient(ctx context.Context, recipientID uuid.UUID, filters models.NotificationFilters) ([]*models.Notification, int, error) {
	defer r.s.lock(ctx)()
	var out []*models.Notification
	for _, n := range r.s.state.notifications {
		if n.RecipientID != recipientID || (filters.UnreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n.Clone())
	}
	sortRows(r.s.state, out, func(n *models.Notification) (time.Time, uuid.UUID) { return n.CreatedAt, n.ID }, true)
	return page(out, filters.Limit, filters.Offset), len(out), nil
}

func (r *notificationRepo) MarkRead(ctx context.Context, recipientID, id uuid.UUID) error {
	defer r.s.lock(ctx)()
	n, ok := r.s.state.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return common.NotFound("notification")
	}
	n.IsRead = true
	return nil
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	defer r.s.lock(ctx)()
	var count int64
	for _, n := range r.s.state.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (r *notificationRepo) DeleteByResource(ctx context.Context, kind string, id uuid.UUID) (int64, error) {
	defer r.s.lock(ctx)()
	var count int64
	for nid, n := range r.s.state.notifications {
		if n.RelatedResource != nil && n.RelatedResource.Kind == kind && n.RelatedResource.ID == id {
			delete(r.s.state.notifications, nid)
			count++
		}
	}
	return count, nil
}

type auditRepo struct{ s *Store }

func cloneAudit(a *models.AuditLog) *models.AuditLog {
	c := *a
	return &c
}

func (r *auditRepo) Create(ctx context.Context, auditLog *models.AuditLog) error {
	defer r.s.lock(ctx)()
	if auditLog.ID == uuid.Nil {
		auditLog.ID = uuid.New()
	}
	if auditLog.CreatedAt.IsZero() {
		auditLog.CreatedAt = now()
	}
	if auditLog.Status == "" {
		auditLog.Status = models.AuditSuccess
	}
	if auditLog.Metadata == nil {
		auditLog.Metadata = models.JSONB{}
	}
	r.s.state.audit = append(r.s.state.audit, cloneAudit(auditLog))
	return nil
}

func (r *auditRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	defer r.s.lock(ctx)()
	for _, a := range r.s.state.audit {
		if a.ID == id {
			return cloneAudit(a), nil
		}
	}
	return nil, common.NotFound("audit log")
}

func (r *auditRepo) List(ctx context.Context, filters *models.AuditLogFilters) ([]*models.AuditLog, int, error) {
	defer r.s.lock(ctx)()
	if filters == nil {
		filters = &models.AuditLogFilters{}
	}
	var out []*models.AuditLog
	// newest first; the slice is already in append order
	for i := len(r.s.state.audit) - 1; i >= 0; i-- {
		a := r.s.state.audit[i]
		switch {
		case filters.ResourceKind != nil && (a.ResourceKind == nil || *a.ResourceKind != *filters.ResourceKind),
			filters.ResourceID != nil && (a.ResourceID == nil || *a.ResourceID != *filters.ResourceID),
			filters.Action != nil && a.Action != *filters.Action,
			filters.ActorID != nil && (a.ActorID == nil || *a.ActorID != *filters.ActorID),
			filters.Status != nil && a.Status != *filters.Status,
			filters.StartDate != nil && a.CreatedAt.Before(*filters.StartDate),
			filters.EndDate != nil && a.CreatedAt.After(*filters.EndDate):
			continue
		}
		out = append(out, cloneAudit(a))
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(out, limit, filters.Offset), len(out), nil
}

func (r *auditRepo) ListByResource(ctx context.Context, kind string, id uuid.UUID) ([]*models.AuditLog, error) {
	defer r.s.lock(ctx)()
	var out []*models.AuditLog
	for _, a := range r.s.state.audit {
		if a.ResourceKind != nil && *a.ResourceKind == kind && a.ResourceID != nil && *a.ResourceID == id {
			out = append(out, cloneAudit(a))
		}
	}
	return out, nil
}
