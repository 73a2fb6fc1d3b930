package services

import (
	"context"
	"time"

	"fixit/internal/authz"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
)

// entity is a request or a schedule seen through the fields comments, media
// and public links share.
type entity struct {
	request  *models.Request
	schedule *models.ScheduledMaintenance
}

func loadEntity(ctx context.Context, repos *repositories.Repositories, kind models.ContextKind, id uuid.UUID) (*entity, error) {
	switch kind {
	case models.ContextRequest:
		r, err := repos.Requests.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return &entity{request: r}, nil
	case models.ContextSchedule:
		s, err := repos.Schedules.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return &entity{schedule: s}, nil
	}
	return nil, common.Validation("unknown context kind", common.FieldError{Field: "kind", Reason: string(kind)})
}

// loadByTokenHash finds the entity whose public link digest is hash.
func loadByTokenHash(ctx context.Context, repos *repositories.Repositories, kind models.ContextKind, hash string) (*entity, error) {
	switch kind {
	case models.ContextRequest:
		r, err := repos.Requests.GetByPublicTokenHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		return &entity{request: r}, nil
	case models.ContextSchedule:
		s, err := repos.Schedules.GetByPublicTokenHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		return &entity{schedule: s}, nil
	}
	return nil, ErrPublicLinkNotFound
}

func (e *entity) kind() models.ContextKind {
	if e.request != nil {
		return models.ContextRequest
	}
	return models.ContextSchedule
}

func (e *entity) resourceKind() string {
	if e.request != nil {
		return models.ResourceRequest
	}
	return models.ResourceSchedule
}

func (e *entity) id() uuid.UUID {
	if e.request != nil {
		return e.request.ID
	}
	return e.schedule.ID
}

func (e *entity) title() string {
	if e.request != nil {
		return e.request.Title
	}
	return e.schedule.Title
}

func (e *entity) propertyID() uuid.UUID {
	if e.request != nil {
		return e.request.PropertyID
	}
	return e.schedule.PropertyID
}

func (e *entity) unitID() *uuid.UUID {
	if e.request != nil {
		return e.request.UnitID
	}
	return e.schedule.UnitID
}

func (e *entity) createdBy() uuid.UUID {
	if e.request != nil {
		return e.request.CreatedBy
	}
	return e.schedule.CreatedBy
}

func (e *entity) assignee() *models.Assignee {
	if e.request != nil {
		return e.request.AssignedTo
	}
	return e.schedule.AssignedTo
}

func (e *entity) status() string {
	if e.request != nil {
		return string(e.request.Status)
	}
	return string(e.schedule.Status)
}

// silent entities send no further notifications.
func (e *entity) silent() bool {
	if e.request != nil {
		return e.request.Status.Silent()
	}
	return e.schedule.Status == models.ScheduleCanceled
}

func (e *entity) link() *models.PublicLink {
	if e.request != nil {
		return &e.request.PublicLink
	}
	return &e.schedule.PublicLink
}

func (e *entity) mediaIDs() *[]uuid.UUID {
	if e.request != nil {
		return &e.request.MediaIDs
	}
	return &e.schedule.MediaIDs
}

func (e *entity) touch(now time.Time) {
	if e.request != nil {
		e.request.UpdatedAt = now
		return
	}
	e.schedule.UpdatedAt = now
}

func (e *entity) save(ctx context.Context, repos *repositories.Repositories) error {
	if e.request != nil {
		return repos.Requests.Update(ctx, e.request)
	}
	return repos.Schedules.Update(ctx, e.schedule)
}

func (e *entity) auditView() models.JSONB {
	if e.request != nil {
		return e.request.AuditView()
	}
	return e.schedule.AuditView()
}

func (e *entity) target() authz.Target {
	propertyID := e.propertyID()
	createdBy := e.createdBy()
	kind := authz.TargetRequest
	if e.schedule != nil {
		kind = authz.TargetSchedule
	}
	return authz.Target{
		Kind:       kind,
		PropertyID: &propertyID,
		UnitID:     e.unitID(),
		CreatedBy:  &createdBy,
		Assignee:   e.assignee(),
	}
}

func (e *entity) ref() *models.ResourceRef {
	return &models.ResourceRef{Kind: e.resourceKind(), ID: e.id()}
}

// removeID drops id from ids, reporting whether it was present.
func removeID(ids []uuid.UUID, id uuid.UUID) ([]uuid.UUID, bool) {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...), true
		}
	}
	return ids, false
}
