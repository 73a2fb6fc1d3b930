package services

import (
	"context"
	"fmt"
	"strings"

	"fixit/internal/authz"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
)

const maxCommentLength = 5000

type CommentInput struct {
	Message        string `json:"message"`
	IsInternalNote bool   `json:"isInternalNote"`
}

// CommentService manages the comment log of requests and schedules.
type CommentService interface {
	AddComment(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID, in CommentInput) (*models.Comment, error)
	ListComments(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID) ([]*models.Comment, error)
}

type commentService struct {
	*EngineDeps
}

func NewCommentService(deps *EngineDeps) CommentService {
	return &commentService{EngineDeps: deps}
}

func validateCommentMessage(message string) (string, error) {
	message = strings.TrimSpace(message)
	if err := common.ValidateRequiredString(message, "message", maxCommentLength); err != nil {
		return "", err
	}
	return message, nil
}

func (s *commentService) AddComment(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID, in CommentInput) (*models.Comment, error) {
	message, err := validateCommentMessage(in.Message)
	if err != nil {
		return nil, err
	}
	action := authz.ActionComment
	if in.IsInternalNote {
		action = authz.ActionCommentInternal
	}

	var created *models.Comment
	var notices *noticeSet
	err = s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		e, err := loadEntity(ctx, repos, kind, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, action, e.target()); err != nil {
			return err
		}
		_, name, err := actorName(ctx, repos, actor.ID)
		if err != nil {
			return err
		}
		c := &models.Comment{
			ID:             uuid.New(),
			ContextKind:    kind,
			ContextID:      id,
			SenderID:       uuidPtr(actor.ID),
			SenderName:     name,
			Message:        message,
			IsInternalNote: in.IsInternalNote,
			CreatedAt:      s.now(),
		}
		if err := repos.Comments.Create(ctx, c); err != nil {
			return err
		}

		entry := auditEntry(models.AuditComment, &actor.ID, e.resourceKind(), id,
			fmt.Sprintf("Comment added to %q", e.title()))
		entry.Metadata["commentId"] = c.ID.String()
		entry.Metadata["internal"] = c.IsInternalNote
		s.Audit.Record(ctx, repos, entry)

		notices = newNoticeSet(&actor.ID, e.ref(), s.appLink(kind, id))
		if !c.IsInternalNote && !e.silent() {
			msg := fmt.Sprintf("%s commented on %q", name, e.title())
			if err := notices.addUser(ctx, repos, e.createdBy(), models.NotifyCommentAdded, msg); err != nil {
				return err
			}
			if a := e.assignee(); a != nil && a.Kind == models.AssigneeUser {
				if err := notices.addAssignee(ctx, repos, a, models.NotifyCommentAdded, msg); err != nil {
					return err
				}
			}
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notices)
	return created, nil
}

func (s *commentService) ListComments(ctx context.Context, actor authz.Actor, kind models.ContextKind, id uuid.UUID) ([]*models.Comment, error) {
	repos := s.Store.Repos()
	e, err := loadEntity(ctx, repos, kind, id)
	if err != nil {
		return nil, err
	}
	if err := s.Authz.Require(ctx, actor, authz.ActionRead, e.target()); err != nil {
		return nil, err
	}
	return repos.Comments.ListByContext(ctx, kind, id, s.Authz.Manages(ctx, actor, e.propertyID()))
}
