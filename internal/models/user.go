package models

import (
	"time"

	"github.com/google/uuid"
)

// GlobalRole is the platform-wide role of a user
type GlobalRole string

const (
	RoleAdmin           GlobalRole = "admin"
	RoleLandlord        GlobalRole = "landlord"
	RolePropertyManager GlobalRole = "propertyManager"
	RoleTenant          GlobalRole = "tenant"
	RoleVendor          GlobalRole = "vendor"
)

func (r GlobalRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleLandlord, RolePropertyManager, RoleTenant, RoleVendor:
		return true
	}
	return false
}

// RegistrationStatus tracks where a user is in onboarding
type RegistrationStatus string

const (
	StatusPendingEmailVerification RegistrationStatus = "pendingEmailVerification"
	StatusPendingInviteAcceptance  RegistrationStatus = "pendingInviteAcceptance"
	StatusActive                   RegistrationStatus = "active"
	StatusDeactivated              RegistrationStatus = "deactivated"
)

func (s RegistrationStatus) Valid() bool {
	switch s {
	case StatusPendingEmailVerification, StatusPendingInviteAcceptance, StatusActive, StatusDeactivated:
		return true
	}
	return false
}

// Channel is a notification delivery channel
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "inApp"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelInApp
}

// DefaultPreferences is applied to new accounts
var DefaultPreferences = []Channel{ChannelEmail, ChannelInApp}

type User struct {
	ID                      uuid.UUID          `json:"id" db:"id"`
	Email                   string             `json:"email" db:"email"`
	Phone                   *string            `json:"phone,omitempty" db:"phone"`
	FirstName               string             `json:"firstName" db:"first_name"`
	LastName                string             `json:"lastName" db:"last_name"`
	PasswordHash            *string            `json:"-" db:"password_hash"` // Never serialize in JSON
	FederatedID             *string            `json:"-" db:"federated_id"`
	Role                    GlobalRole         `json:"role" db:"role"`
	Status                  RegistrationStatus `json:"status" db:"status"`
	NotificationPreferences []Channel          `json:"notificationPreferences" db:"notification_preferences"`
	IsExternal              bool               `json:"isExternal" db:"is_external"`
	CreatedAt               time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt               time.Time          `json:"updatedAt" db:"updated_at"`
}

func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Email
}

// Prefers reports whether the user opted into a channel
func (u *User) Prefers(ch Channel) bool {
	for _, p := range u.NotificationPreferences {
		if p == ch {
			return true
		}
	}
	return false
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Phone = cloneString(u.Phone)
	c.PasswordHash = cloneString(u.PasswordHash)
	c.FederatedID = cloneString(u.FederatedID)
	c.NotificationPreferences = append([]Channel(nil), u.NotificationPreferences...)
	return &c
}

// AuditView is the user shape written to audit old/new values; it never carries credentials.
func (u *User) AuditView() JSONB {
	if u == nil {
		return nil
	}
	return JSONB{
		"id":                      u.ID.String(),
		"email":                   u.Email,
		"firstName":               u.FirstName,
		"lastName":                u.LastName,
		"role":                    string(u.Role),
		"status":                  string(u.Status),
		"notificationPreferences": u.NotificationPreferences,
		"isExternal":              u.IsExternal,
	}
}

// UserFilters narrows the admin user listing
type UserFilters struct {
	Role   *GlobalRole
	Status *RegistrationStatus
	Search string
	Limit  int
	Offset int
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
