package services

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/authz"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PublicLinkService lets management hand a request or schedule to an
// off-platform vendor.
type PublicLinkService interface {
	EnablePublicLink(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID, ttl *time.Duration) (*PublicLinkGrant, error)
	DisablePublicLink(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID) error
}

type publicLinkService struct {
	*EngineDeps
}

func NewPublicLinkService(deps *EngineDeps) PublicLinkService {
	return &publicLinkService{EngineDeps: deps}
}

// finished entities cannot be handed out any more.
func (e *entity) finished() bool {
	if e.request != nil {
		return e.request.Status.Silent()
	}
	return e.schedule.Status == models.ScheduleCanceled || e.schedule.Status == models.ScheduleCompleted
}

func (s *publicLinkService) EnablePublicLink(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID, ttl *time.Duration) (*PublicLinkGrant, error) {
	var grant *PublicLinkGrant
	var notices *noticeSet
	err := s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		e, err := loadEntity(ctx, repos, kind, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionEnablePublicLink, e.target()); err != nil {
			return err
		}
		if e.finished() {
			return common.StateError(fmt.Sprintf("cannot share a %s %s", e.status(), kind))
		}
		now := s.now()
		before := e.auditView()
		link := e.link()
		token, err := s.Links.Enable(link, now, ttl)
		if err != nil {
			return err
		}
		e.touch(now)
		if err := e.save(ctx, repos); err != nil {
			return err
		}

		entry := auditEntry(models.AuditPublicLinkEnable, &actor.ID, e.resourceKind(), id,
			fmt.Sprintf("Public link enabled for %q", e.title()))
		entry.OldValue = before
		entry.NewValue = e.auditView()
		entry.Metadata["expiresAt"] = link.ExpiresAt.Format(time.RFC3339)
		s.Audit.Record(ctx, repos, entry)

		grant = &PublicLinkGrant{Token: token, URL: s.Links.URL(kind, token), ExpiresAt: *link.ExpiresAt}

		// vendors have no inbox, so the link goes out by email or SMS
		notices = newNoticeSet(&actor.ID, e.ref(), grant.URL)
		if a := e.assignee(); a != nil && a.Kind == models.AssigneeVendor {
			return notices.addAssignee(ctx, repos, a, models.NotifyPublicLinkAssigned,
				fmt.Sprintf("You can update %q at the link below until %s", e.title(), link.ExpiresAt.In(s.location()).Format("2 Jan 2006 15:04")))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"kind":       kind,
		"id":         id,
		"expires_at": grant.ExpiresAt,
	}).Info("public link enabled")
	s.dispatch(ctx, notices)
	return grant, nil
}

func (s *publicLinkService) DisablePublicLink(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID) error {
	return s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		e, err := loadEntity(ctx, repos, kind, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionDisablePublicLink, e.target()); err != nil {
			return err
		}
		link := e.link()
		if !link.Enabled {
			return nil
		}
		before := e.auditView()
		s.Links.Disable(link)
		e.touch(s.now())
		if err := e.save(ctx, repos); err != nil {
			return err
		}
		entry := auditEntry(models.AuditPublicLinkDisable, &actor.ID, e.resourceKind(), id,
			fmt.Sprintf("Public link disabled for %q", e.title()))
		entry.OldValue = before
		entry.NewValue = e.auditView()
		s.Audit.Record(ctx, repos, entry)
		return nil
	})
}
