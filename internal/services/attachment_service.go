package services

import (
	"context"
	"fmt"

	"fixit/internal/authz"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
)

// AttachmentService manages the media list of requests and schedules.
type AttachmentService interface {
	UploadMedia(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID, files []FileInput) ([]*models.Media, error)
	DeleteMedia(ctx context.Context, actor authz.Actor, kind models.ContextKind, id, mediaID uuid.UUID) error
	ListMedia(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID) ([]*models.Media, error)
}

type attachmentService struct {
	*EngineDeps
}

func NewAttachmentService(deps *EngineDeps) AttachmentService {
	return &attachmentService{EngineDeps: deps}
}

func mediaFolder(kind models.ContextKind) string {
	if kind == models.ContextSchedule {
		return "scheduled-maintenance"
	}
	return "requests"
}

func (s *attachmentService) UploadMedia(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID, files []FileInput) ([]*models.Media, error) {
	if len(files) == 0 {
		return nil, common.Validation("at least one file is required", common.FieldError{Field: "files", Reason: "required"})
	}
	e, err := loadEntity(ctx, s.Store.Repos(), kind, id)
	if err != nil {
		return nil, err
	}
	if err := s.Authz.Require(ctx, actor, authz.ActionUploadMedia, e.target()); err != nil {
		return nil, err
	}

	handles, err := uploadAll(ctx, s.Media, files, mediaFolder(kind))
	if err != nil {
		return nil, err
	}

	var attached []*models.Media
	err = s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		attached = attached[:0]
		e, err := loadEntity(ctx, repos, kind, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionUploadMedia, e.target()); err != nil {
			return err
		}
		ids := e.mediaIDs()
		for _, h := range handles {
			m, err := s.Media.Attach(ctx, repos, h, kind, id, &actor.ID, false)
			if err != nil {
				return err
			}
			*ids = append(*ids, m.ID)
			attached = append(attached, m)
		}
		e.touch(s.now())
		if err := e.save(ctx, repos); err != nil {
			return err
		}
		entry := auditEntry(models.AuditMediaUpload, &actor.ID, e.resourceKind(), id,
			fmt.Sprintf("%d file(s) attached to %q", len(attached), e.title()))
		entry.Metadata["mediaIds"] = mediaRowIDs(attached)
		s.Audit.Record(ctx, repos, entry)
		return nil
	})
	if err != nil {
		releaseAll(ctx, s.Media, handleIDs(handles))
		return nil, err
	}
	return attached, nil
}

func mediaRowIDs(items []*models.Media) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.ID.String()
	}
	return out
}

func (s *attachmentService) DeleteMedia(ctx context.Context, actor authz.Actor, kind models.ContextKind, id, mediaID uuid.UUID) error {
	var removed *models.Media
	err := s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		e, err := loadEntity(ctx, repos, kind, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionDeleteMedia, e.target()); err != nil {
			return err
		}
		m, err := repos.Media.GetByID(ctx, mediaID)
		if err != nil {
			return err
		}
		if m.OwnerKind != kind || m.OwnerID != id {
			return common.NotFound("media")
		}
		ids := e.mediaIDs()
		*ids, _ = removeID(*ids, mediaID)
		if err := repos.Media.Delete(ctx, mediaID); err != nil {
			return err
		}
		e.touch(s.now())
		if err := e.save(ctx, repos); err != nil {
			return err
		}
		entry := auditEntry(models.AuditMediaDelete, &actor.ID, e.resourceKind(), id,
			fmt.Sprintf("File %q removed from %q", m.Filename, e.title()))
		entry.Metadata["mediaId"] = mediaID.String()
		s.Audit.Record(ctx, repos, entry)
		removed = m
		return nil
	})
	if err != nil {
		return err
	}
	s.Media.Release(ctx, removed.PublicID)
	return nil
}

func (s *attachmentService) ListMedia(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID) ([]*models.Media, error) {
	repos := s.Store.Repos()
	e, err := loadEntity(ctx, repos, kind, id)
	if err != nil {
		return nil, err
	}
	if err := s.Authz.Require(ctx, actor, authz.ActionRead, e.target()); err != nil {
		return nil, err
	}
	items, err := repos.Media.ListByOwner(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	s.Media.Resolve(ctx, items)
	return items, nil
}
