package models

import (
	"time"

	"github.com/google/uuid"
)

// ContextKind names the entity family a comment or media row belongs to
type ContextKind string

const (
	ContextRequest  ContextKind = "request"
	ContextSchedule ContextKind = "scheduledMaintenance"
)

func (k ContextKind) Valid() bool { return k == ContextRequest || k == ContextSchedule }

type Comment struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	ContextKind    ContextKind `json:"contextKind" db:"context_kind"`
	ContextID      uuid.UUID   `json:"contextId" db:"context_id"`
	SenderID       *uuid.UUID  `json:"sender,omitempty" db:"sender_id"`
	SenderName     string      `json:"senderName" db:"sender_name"`
	Message        string      `json:"message" db:"message"`
	IsInternalNote bool        `json:"isInternalNote" db:"is_internal_note"`
	IsExternal     bool        `json:"isExternal" db:"is_external"`
	ExternalName   *string     `json:"externalName,omitempty" db:"external_name"`
	ExternalPhone  *string     `json:"externalPhone,omitempty" db:"external_phone"`
	CreatedAt      time.Time   `json:"createdAt" db:"created_at"`
}

func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	out := *c
	out.SenderID = cloneUUID(c.SenderID)
	out.ExternalName = cloneString(c.ExternalName)
	out.ExternalPhone = cloneString(c.ExternalPhone)
	return &out
}

// Media is an opaque handle to a stored blob.
type Media struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	Filename     string      `json:"filename" db:"filename"`
	MimeType     string      `json:"mimeType" db:"mime_type"`
	Size         int64       `json:"size" db:"size"`
	URL          string      `json:"url" db:"url"`
	ThumbnailURL *string     `json:"thumbnailUrl,omitempty" db:"thumbnail_url"`
	PublicID     string      `json:"publicId" db:"public_id"`
	UploadedBy   *uuid.UUID  `json:"uploadedBy,omitempty" db:"uploaded_by"`
	OwnerKind    ContextKind `json:"ownerKind" db:"owner_kind"`
	OwnerID      uuid.UUID   `json:"ownerId" db:"owner_id"`
	Tags         []string    `json:"tags" db:"tags"`
	IsPublic     bool        `json:"isPublic" db:"is_public"`
	CreatedAt    time.Time   `json:"createdAt" db:"created_at"`
}

func (m *Media) Clone() *Media {
	if m == nil {
		return nil
	}
	out := *m
	out.ThumbnailURL = cloneString(m.ThumbnailURL)
	out.UploadedBy = cloneUUID(m.UploadedBy)
	out.Tags = append([]string(nil), m.Tags...)
	return &out
}
