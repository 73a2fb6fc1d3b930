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

// Recipient is an addressee resolved from a user or a vendor.
type Recipient struct {
	UserID   *uuid.UUID
	Name     string
	Email    string
	Phone    string
	Channels []models.Channel
}

func (r Recipient) wants(ch models.Channel) bool {
	for _, c := range r.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

func (r Recipient) key() string {
	if r.UserID != nil {
		return r.UserID.String()
	}
	return r.Email + "|" + r.Phone
}

// UserRecipient addresses a registered user by their channel preferences.
func UserRecipient(u *models.User) Recipient {
	id := u.ID
	return Recipient{
		UserID:   &id,
		Name:     u.DisplayName(),
		Email:    u.Email,
		Phone:    common.SafeString(u.Phone),
		Channels: append([]models.Channel(nil), u.NotificationPreferences...),
	}
}

// VendorRecipient addresses a vendor. Vendors have no inbox, so only email
// and SMS are used.
func VendorRecipient(v *models.Vendor) Recipient {
	r := Recipient{Name: v.Name, Email: common.SafeString(v.Email), Phone: common.SafeString(v.Phone)}
	if r.Email != "" {
		r.Channels = append(r.Channels, models.ChannelEmail)
	}
	if r.Phone != "" {
		r.Channels = append(r.Channels, models.ChannelSMS)
	}
	return r
}

// Notice is one message for one recipient, fanned out over their channels.
type Notice struct {
	To      Recipient
	Kind    models.NotificationKind
	Subject string
	Message string
	Link    string
	Related *models.ResourceRef
	Sender  *uuid.UUID
}

// Dispatcher delivers notices once the business write has committed.
type Dispatcher interface {
	Dispatch(ctx context.Context, notices ...Notice)
}

// NotificationService handles all notification-related operations
type NotificationService interface {
	Dispatcher

	// Inbox
	ListNotifications(ctx context.Context, actor authz.Actor, filters models.NotificationFilters) ([]*models.Notification, int, error)
	MarkRead(ctx context.Context, actor authz.Actor, id uuid.UUID) error
	MarkAllRead(ctx context.Context, actor authz.Actor) (int64, error)
}

type notificationService struct {
	store  repositories.Store
	queue  DeliveryQueue
	authz  *authz.Resolver
	audit  AuditLogsService
	logger *logrus.Logger
	clock  func() time.Time
}

// NewNotificationService creates a new notification service
func NewNotificationService(store repositories.Store, queue DeliveryQueue, resolver *authz.Resolver, audit AuditLogsService, logger *logrus.Logger, clock func() time.Time) NotificationService {
	if clock == nil {
		clock = time.Now
	}
	return &notificationService{store: store, queue: queue, authz: resolver, audit: audit, logger: logger, clock: clock}
}

// Dispatch never fails the caller; each channel failure is logged and audited.
func (s *notificationService) Dispatch(ctx context.Context, notices ...Notice) {
	seen := map[string]bool{}
	for _, n := range notices {
		dedupe := n.To.key() + "|" + string(n.Kind)
		if seen[dedupe] {
			continue
		}
		seen[dedupe] = true
		s.dispatchOne(ctx, n)
	}
}

func (s *notificationService) dispatchOne(ctx context.Context, n Notice) {
	log := s.logger.WithFields(logrus.Fields{"kind": n.Kind, "recipient": n.To.key()})
	body := n.Message
	if n.Link != "" {
		body = fmt.Sprintf("%s\n\n%s", n.Message, n.Link)
	}
	subject := n.Subject
	if subject == "" {
		subject = "FixIt: " + n.Message
	}

	var (
		email *models.EmailPayload
		sms   *models.SMSPayload
	)
	if n.To.wants(models.ChannelEmail) && n.To.Email != "" {
		email = &models.EmailPayload{To: n.To.Email, Subject: subject, Body: body}
		s.enqueue(ctx, log, n, Delivery{Channel: models.ChannelEmail, To: email.To, Subject: subject, Body: body})
	}
	if n.To.wants(models.ChannelSMS) && n.To.Phone != "" {
		sms = &models.SMSPayload{To: n.To.Phone, Body: body}
		s.enqueue(ctx, log, n, Delivery{Channel: models.ChannelSMS, To: sms.To, Body: body})
	}

	if n.To.UserID == nil || !n.To.wants(models.ChannelInApp) {
		return
	}
	row := &models.Notification{
		ID:              uuid.New(),
		RecipientID:     *n.To.UserID,
		Kind:            n.Kind,
		Message:         n.Message,
		Link:            common.StringPtr(n.Link),
		RelatedResource: n.Related,
		SenderID:        n.Sender,
		EmailPayload:    email,
		SMSPayload:      sms,
		CreatedAt:       s.clock().UTC(),
	}
	if err := s.store.Repos().Notifications.Create(ctx, row); err != nil {
		log.WithError(err).Error("failed to store in-app notification")
		s.recordFailure(ctx, n, models.ChannelInApp, err)
	}
}

func (s *notificationService) enqueue(ctx context.Context, log *logrus.Entry, n Notice, d Delivery) {
	d.Kind = n.Kind
	d.Related = n.Related
	d.Recipient = n.To.key()
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(ctx, d); err != nil {
		log.WithError(err).WithField("channel", d.Channel).Error("failed to enqueue notification")
		s.recordFailure(ctx, n, d.Channel, err)
	}
}

func (s *notificationService) recordFailure(ctx context.Context, n Notice, ch models.Channel, err error) {
	var (
		kind string
		id   *uuid.UUID
	)
	if n.Related != nil {
		kind = n.Related.Kind
		id = &n.Related.ID
	}
	entry := failureEntry(models.AuditNotificationFailure, n.Sender, kind, id,
		fmt.Sprintf("%s notification %s could not be queued", ch, n.Kind), err)
	entry.Metadata["channel"] = string(ch)
	entry.Metadata["recipient"] = n.To.key()
	s.audit.Record(ctx, nil, entry)
}

func (s *notificationService) ownInbox(ctx context.Context, actor authz.Actor) error {
	return s.authz.Require(ctx, actor, authz.ActionReadOwnNotifications, authz.Target{
		Kind: authz.TargetUser,
		User: &authz.SubjectUser{ID: actor.ID, Role: actor.Role},
	})
}

// ListNotifications returns the actor's own notifications, newest first
func (s *notificationService) ListNotifications(ctx context.Context, actor authz.Actor, filters models.NotificationFilters) ([]*models.Notification, int, error) {
	if err := s.ownInbox(ctx, actor); err != nil {
		return nil, 0, err
	}
	return s.store.Repos().Notifications.ListByRecipient(ctx, actor.ID, filters)
}

func (s *notificationService) MarkRead(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	if err := s.ownInbox(ctx, actor); err != nil {
		return err
	}
	return s.store.Repos().Notifications.MarkRead(ctx, actor.ID, id)
}

func (s *notificationService) MarkAllRead(ctx context.Context, actor authz.Actor) (int64, error) {
	if err := s.ownInbox(ctx, actor); err != nil {
		return 0, err
	}
	return s.store.Repos().Notifications.MarkAllRead(ctx, actor.ID)
}
