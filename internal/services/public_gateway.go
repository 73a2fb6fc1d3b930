package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const externalEmailDomain = "external.fixit.local"

// PublicView is what a link holder sees. It carries no principal ids,
// internal notes or contact details.
type PublicView struct {
	Kind            models.ContextKind   `json:"kind"`
	Title           string               `json:"title"`
	Description     string               `json:"description"`
	Category        string               `json:"category"`
	Priority        models.Priority      `json:"priority"`
	Status          string               `json:"status"`
	PropertyName    string               `json:"propertyName"`
	PropertyAddress string               `json:"propertyAddress"`
	UnitName        string               `json:"unitName,omitempty"`
	ScheduledDate   *time.Time           `json:"scheduledDate,omitempty"`
	NextDueDate     *time.Time           `json:"nextDueDate,omitempty"`
	LinkExpiresAt   time.Time            `json:"linkExpiresAt"`
	AllowedStatuses []string             `json:"allowedStatuses"`
	StatusHistory   []PublicStatusChange `json:"statusHistory"`
	Comments        []PublicComment      `json:"comments"`
	Attachments     []PublicAttachment   `json:"attachments"`
	CreatedAt       time.Time            `json:"createdAt"`
}

type PublicStatusChange struct {
	Status        string    `json:"status"`
	ChangedAt     time.Time `json:"changedAt"`
	ChangedByName string    `json:"changedByName,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

type PublicComment struct {
	SenderName string    `json:"senderName"`
	Message    string    `json:"message"`
	IsExternal bool      `json:"isExternal"`
	CreatedAt  time.Time `json:"createdAt"`
}

type PublicAttachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// PublicUpdateInput is what a link holder may send: a status from the public
// alphabet, a comment, or both, always signed with a name and phone number.
type PublicUpdateInput struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Status         string `json:"status"`
	CommentMessage string `json:"commentMessage"`
}

func (in *PublicUpdateInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Status = strings.TrimSpace(in.Status)
	in.CommentMessage = strings.TrimSpace(in.CommentMessage)
	if err := common.ValidateRequiredString(in.Name, "name", 100); err != nil {
		return err
	}
	phone, err := common.ValidatePhone(in.Phone, "phone")
	if err != nil {
		return err
	}
	in.Phone = phone
	if in.Status == "" && in.CommentMessage == "" {
		return common.Validation("a status or a comment is required",
			common.FieldError{Field: "status", Reason: "required"},
			common.FieldError{Field: "commentMessage", Reason: "required"})
	}
	if len(in.CommentMessage) > maxCommentLength {
		return common.Validation("comment is too long", common.FieldError{Field: "commentMessage", Reason: "too long"})
	}
	return nil
}

// PublicGateway serves the unauthenticated link workflow. Every failure to
// resolve a token is the same 404.
type PublicGateway interface {
	View(ctx context.Context, kind models.ContextKind, token string) (*PublicView, error)
	Update(ctx context.Context, kind models.ContextKind, token string, in PublicUpdateInput) (*PublicView, error)
}

type publicGateway struct {
	*EngineDeps
}

func NewPublicGateway(deps *EngineDeps) PublicGateway {
	return &publicGateway{EngineDeps: deps}
}

// open resolves token to a usable entity.
func (g *publicGateway) open(ctx context.Context, repos *repositories.Repositories, kind models.ContextKind, token string) (*entity, error) {
	if !WellFormed(token) {
		return nil, ErrPublicLinkNotFound
	}
	hash := HashPublicToken(token)
	e, err := loadByTokenHash(ctx, repos, kind, hash)
	if errors.Is(err, common.ErrNotFound) {
		return nil, ErrPublicLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	link := e.link()
	if !link.MatchesHash(hash) || !link.Usable(g.now()) {
		return nil, ErrPublicLinkNotFound
	}
	return e, nil
}

func (g *publicGateway) View(ctx context.Context, kind models.ContextKind, token string) (*PublicView, error) {
	repos := g.Store.Repos()
	e, err := g.open(ctx, repos, kind, token)
	if err != nil {
		return nil, err
	}
	return g.project(ctx, repos, e)
}

func (g *publicGateway) project(ctx context.Context, repos *repositories.Repositories, e *entity) (*PublicView, error) {
	property, err := repos.Properties.GetProperty(ctx, e.propertyID())
	if err != nil {
		return nil, err
	}
	view := &PublicView{
		Kind:            e.kind(),
		Title:           e.title(),
		Status:          e.status(),
		PropertyName:    property.Name,
		PropertyAddress: property.Address,
		LinkExpiresAt:   *e.link().ExpiresAt,
	}
	if u := e.unitID(); u != nil {
		unit, err := repos.Properties.GetUnit(ctx, *u)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		if unit != nil {
			view.UnitName = unit.Name
		}
	}

	var history []models.StatusChange
	if r := e.request; r != nil {
		view.Description, view.Category, view.Priority, view.CreatedAt = r.Description, r.Category, r.Priority, r.CreatedAt
		history = r.StatusHistory
		view.AllowedStatuses = publicRequestTargets(r.Status)
	} else {
		s := e.schedule
		view.Description, view.Category, view.Priority, view.CreatedAt = s.Description, s.Category, s.Priority, s.CreatedAt
		view.ScheduledDate = timePtr(s.ScheduledDate)
		view.NextDueDate = s.NextDueDate
		history = s.StatusHistory
		view.AllowedStatuses = publicScheduleTargets(s.Status)
	}
	view.StatusHistory = make([]PublicStatusChange, len(history))
	for i, h := range history {
		view.StatusHistory[i] = PublicStatusChange{Status: h.Status, ChangedAt: h.ChangedAt, ChangedByName: h.ChangedByName, Notes: h.Notes}
	}

	comments, err := repos.Comments.ListByContext(ctx, e.kind(), e.id(), false)
	if err != nil {
		return nil, err
	}
	view.Comments = make([]PublicComment, 0, len(comments))
	for _, c := range comments {
		if c.IsInternalNote {
			continue
		}
		view.Comments = append(view.Comments, PublicComment{SenderName: c.SenderName, Message: c.Message, IsExternal: c.IsExternal, CreatedAt: c.CreatedAt})
	}

	media, err := repos.Media.ListByOwner(ctx, e.kind(), e.id())
	if err != nil {
		return nil, err
	}
	g.Media.Resolve(ctx, media)
	view.Attachments = make([]PublicAttachment, len(media))
	for i, m := range media {
		view.Attachments[i] = PublicAttachment{Filename: m.Filename, MimeType: m.MimeType, Size: m.Size, URL: m.URL}
	}
	return view, nil
}

func publicRequestTargets(s models.RequestStatus) []string {
	switch s {
	case models.RequestAssigned, models.RequestOnHold:
		return []string{string(models.RequestInProgress), string(models.RequestCompleted)}
	case models.RequestInProgress:
		return []string{string(models.RequestCompleted)}
	}
	return []string{}
}

func publicScheduleTargets(s models.ScheduleStatus) []string {
	switch s {
	case models.ScheduleScheduled:
		return []string{string(models.ScheduleInProgress), string(models.ScheduleCompleted)}
	case models.ScheduleInProgress:
		return []string{string(models.ScheduleCompleted)}
	}
	return []string{}
}

// ExternalEmail is the stable address of the synthetic principal behind a phone number.
func ExternalEmail(phone string) string {
	return "external-" + common.DigitsOnly(phone) + "@" + externalEmailDomain
}

// externalPrincipal finds or creates the deactivated user that public-link
// writes are attributed to. It can never log in.
func externalPrincipal(ctx context.Context, repos *repositories.Repositories, name, phone string, now time.Time) (*models.User, error) {
	email := ExternalEmail(phone)
	u, err := repos.Users.GetByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	u = &models.User{
		ID:                      uuid.New(),
		Email:                   email,
		Phone:                   common.StringPtr(phone),
		FirstName:               name,
		Role:                    models.RoleVendor,
		Status:                  models.StatusDeactivated,
		NotificationPreferences: []models.Channel{},
		IsExternal:              true,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := repos.Users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (g *publicGateway) Update(ctx context.Context, kind models.ContextKind, token string, in PublicUpdateInput) (*PublicView, error) {
	if _, err := g.open(ctx, g.Store.Repos(), kind, token); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	notices := []*noticeSet{}
	err := g.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		notices = notices[:0]
		e, err := g.open(ctx, repos, kind, token)
		if err != nil {
			return err
		}
		now := g.now()
		principal, err := externalPrincipal(ctx, repos, in.Name, in.Phone, now)
		if err != nil {
			return err
		}
		by := transitionActor{ID: principal.ID, Name: in.Name, External: common.StringPtr(in.Phone)}

		if in.Status != "" {
			if e.request != nil {
				events, err := publicRequestEvents(e.request.Status, in.Status)
				if err != nil {
					return err
				}
				for _, event := range events {
					n, err := g.transitionRequest(ctx, repos, e.request, event, by, "Updated via public link", nil)
					if err != nil {
						return err
					}
					notices = append(notices, n)
				}
			} else {
				events, err := publicScheduleEvents(e.schedule.Status, in.Status)
				if err != nil {
					return err
				}
				for _, event := range events {
					n, err := g.transitionSchedule(ctx, repos, e.schedule, event, by, "Updated via public link")
					if err != nil {
						return err
					}
					notices = append(notices, n)
				}
			}
		}

		if in.CommentMessage != "" {
			n, err := g.externalComment(ctx, repos, e, by, in)
			if err != nil {
				return err
			}
			notices = append(notices, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.Logger.WithFields(logrus.Fields{
		"kind":    kind,
		"status":  in.Status,
		"comment": in.CommentMessage != "",
	}).Info("public link update applied")
	for _, n := range notices {
		g.dispatch(ctx, n)
	}
	return g.View(ctx, kind, token)
}

func (g *publicGateway) externalComment(ctx context.Context, repos *repositories.Repositories, e *entity, by transitionActor, in PublicUpdateInput) (*noticeSet, error) {
	c := &models.Comment{
		ID:            uuid.New(),
		ContextKind:   e.kind(),
		ContextID:     e.id(),
		SenderID:      uuidPtr(by.ID),
		SenderName:    in.Name,
		Message:       in.CommentMessage,
		IsExternal:    true,
		ExternalName:  common.StringPtr(in.Name),
		ExternalPhone: common.StringPtr(in.Phone),
		CreatedAt:     g.now(),
	}
	if err := repos.Comments.Create(ctx, c); err != nil {
		return nil, err
	}
	entry := auditEntry(models.AuditComment, uuidPtr(by.ID), e.resourceKind(), e.id(),
		fmt.Sprintf("External comment on %q", e.title()))
	entry.ExternalUserIdentifier = by.External
	entry.Metadata["commentId"] = c.ID.String()
	g.Audit.Record(ctx, repos, entry)

	notices := newNoticeSet(uuidPtr(by.ID), e.ref(), g.appLink(e.kind(), e.id()))
	if e.silent() {
		return notices, nil
	}
	msg := fmt.Sprintf("%s commented on %q", in.Name, e.title())
	if err := notices.addUser(ctx, repos, e.createdBy(), models.NotifyCommentAdded, msg); err != nil {
		return nil, err
	}
	if err := notices.addManagement(ctx, repos, e.propertyID(), models.NotifyCommentAdded, msg); err != nil {
		return nil, err
	}
	return notices, nil
}
