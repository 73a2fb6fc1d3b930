package models

import (
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL JSONB document
type JSONB map[string]interface{}

// NotificationKind names the event a notification reports
type NotificationKind string

const (
	NotifyRequestCreated     NotificationKind = "requestCreated"
	NotifyRequestAssigned    NotificationKind = "requestAssigned"
	NotifyRequestStarted     NotificationKind = "requestStarted"
	NotifyRequestOnHold      NotificationKind = "requestOnHold"
	NotifyRequestCompleted   NotificationKind = "requestCompleted"
	NotifyRequestVerified    NotificationKind = "requestVerified"
	NotifyRequestReopened    NotificationKind = "requestReopened"
	NotifyRequestCanceled    NotificationKind = "requestCanceled"
	NotifyRequestReminder    NotificationKind = "requestReminder"
	NotifyCommentAdded       NotificationKind = "commentAdded"
	NotifyScheduleAssigned   NotificationKind = "scheduleAssigned"
	NotifyScheduleGenerated  NotificationKind = "scheduleGenerated"
	NotifyScheduleStatus     NotificationKind = "scheduleStatus"
	NotifyAccountVerify      NotificationKind = "accountVerify"
	NotifyPasswordReset      NotificationKind = "passwordReset"
	NotifyAccountApproved    NotificationKind = "accountApproved"
	NotifyPublicLinkAssigned NotificationKind = "publicLinkAssigned"
)

// ResourceRef points a notification at the entity it concerns
type ResourceRef struct {
	Kind string    `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type SMSPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Notification is an in-app notification row
type Notification struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	RecipientID     uuid.UUID        `json:"recipient" db:"recipient_id"`
	Kind            NotificationKind `json:"kind" db:"kind"`
	Message         string           `json:"message" db:"message"`
	Link            *string          `json:"link,omitempty" db:"link"`
	RelatedResource *ResourceRef     `json:"relatedResource,omitempty" db:"-"`
	SenderID        *uuid.UUID       `json:"sender,omitempty" db:"sender_id"`
	IsRead          bool             `json:"isRead" db:"is_read"`
	EmailPayload    *EmailPayload    `json:"emailPayload,omitempty" db:"email_payload"`
	SMSPayload      *SMSPayload      `json:"smsPayload,omitempty" db:"sms_payload"`
	CreatedAt       time.Time        `json:"createdAt" db:"created_at"`
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	c.Link = cloneString(n.Link)
	c.SenderID = cloneUUID(n.SenderID)
	if n.RelatedResource != nil {
		r := *n.RelatedResource
		c.RelatedResource = &r
	}
	if n.EmailPayload != nil {
		e := *n.EmailPayload
		c.EmailPayload = &e
	}
	if n.SMSPayload != nil {
		s := *n.SMSPayload
		c.SMSPayload = &s
	}
	return &c
}

type NotificationFilters struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}
