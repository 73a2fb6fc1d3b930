package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is a state of the request lifecycle
type RequestStatus string

const (
	RequestNew        RequestStatus = "new"
	RequestAssigned   RequestStatus = "assigned"
	RequestInProgress RequestStatus = "inProgress"
	RequestOnHold     RequestStatus = "onHold"
	RequestCompleted  RequestStatus = "completed"
	RequestVerified   RequestStatus = "verified"
	RequestCanceled   RequestStatus = "canceled"
	// RequestReopened is accepted in stored data but reopen lands in RequestNew.
	RequestReopened RequestStatus = "reopened"
	RequestArchived RequestStatus = "archived"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestNew, RequestAssigned, RequestInProgress, RequestOnHold, RequestCompleted,
		RequestVerified, RequestCanceled, RequestReopened, RequestArchived:
		return true
	}
	return false
}

// Closed statuses do not block a schedule from generating its next request.
func (s RequestStatus) Closed() bool {
	switch s {
	case RequestCompleted, RequestVerified, RequestCanceled, RequestArchived:
		return true
	}
	return false
}

// Silent statuses emit no further notifications.
func (s RequestStatus) Silent() bool {
	return s == RequestCanceled || s == RequestArchived
}

// ClosedRequestStatuses lists Closed() values for SQL filters
var ClosedRequestStatuses = []RequestStatus{RequestCompleted, RequestVerified, RequestCanceled, RequestArchived}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Feedback struct {
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	SubmittedBy uuid.UUID `json:"submittedBy"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Request is a one-shot maintenance item.
type Request struct {
	ID                    uuid.UUID      `json:"id" db:"id"`
	Title                 string         `json:"title" db:"title"`
	Description           string         `json:"description" db:"description"`
	Category              string         `json:"category" db:"category"`
	Priority              Priority       `json:"priority" db:"priority"`
	Status                RequestStatus  `json:"status" db:"status"`
	PropertyID            uuid.UUID      `json:"property" db:"property_id"`
	UnitID                *uuid.UUID     `json:"unit,omitempty" db:"unit_id"`
	CreatedBy             uuid.UUID      `json:"createdBy" db:"created_by"`
	CreatedByPropertyUser *uuid.UUID     `json:"createdByPropertyUser,omitempty" db:"created_by_property_user"`
	AssignedTo            *Assignee      `json:"assignedTo" db:"-"`
	AssignedBy            *uuid.UUID     `json:"assignedBy,omitempty" db:"assigned_by"`
	AssignedAt            *time.Time     `json:"assignedAt,omitempty" db:"assigned_at"`
	ResolvedAt            *time.Time     `json:"resolvedAt,omitempty" db:"resolved_at"`
	Feedback              *Feedback      `json:"feedback,omitempty" db:"feedback"`
	MediaIDs              []uuid.UUID    `json:"media" db:"media_ids"`
	StatusHistory         []StatusChange `json:"statusHistory" db:"status_history"`
	PublicLink            PublicLink     `json:"publicLink" db:"-"`
	GeneratedFrom         *uuid.UUID     `json:"generatedFromScheduledMaintenance,omitempty" db:"generated_from_scheduled_maintenance"`
	GeneratedForDueDate   *time.Time     `json:"generatedForDueDate,omitempty" db:"generated_for_due_date"`
	IsActive              bool           `json:"isActive" db:"is_active"`
	Version               int            `json:"version" db:"version"`
	CreatedAt             time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time      `json:"updatedAt" db:"updated_at"`
}

// AppendHistory moves the request to status and records the row in one step.
func (r *Request) AppendHistory(status RequestStatus, change StatusChange) {
	r.Status = status
	change.Status = string(status)
	r.StatusHistory = append(r.StatusHistory, change)
}

func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.UnitID = cloneUUID(r.UnitID)
	c.CreatedByPropertyUser = cloneUUID(r.CreatedByPropertyUser)
	c.AssignedTo = r.AssignedTo.Clone()
	c.AssignedBy = cloneUUID(r.AssignedBy)
	c.AssignedAt = cloneTime(r.AssignedAt)
	c.ResolvedAt = cloneTime(r.ResolvedAt)
	if r.Feedback != nil {
		f := *r.Feedback
		c.Feedback = &f
	}
	c.MediaIDs = append([]uuid.UUID(nil), r.MediaIDs...)
	c.StatusHistory = append([]StatusChange(nil), r.StatusHistory...)
	c.PublicLink = r.PublicLink.Clone()
	c.GeneratedFrom = cloneUUID(r.GeneratedFrom)
	c.GeneratedForDueDate = cloneTime(r.GeneratedForDueDate)
	return &c
}

// AuditView is the request shape recorded on audit rows
func (r *Request) AuditView() JSONB {
	if r == nil {
		return nil
	}
	view := JSONB{
		"id":       r.ID.String(),
		"title":    r.Title,
		"category": r.Category,
		"priority": string(r.Priority),
		"status":   string(r.Status),
		"property": r.PropertyID.String(),
		"version":  r.Version,
	}
	if r.UnitID != nil {
		view["unit"] = r.UnitID.String()
	}
	if r.AssignedTo != nil {
		view["assignedTo"] = r.AssignedTo.ID.String()
		view["assignedToKind"] = string(r.AssignedTo.Kind)
	}
	if r.ResolvedAt != nil {
		view["resolvedAt"] = r.ResolvedAt.UTC().Format(time.RFC3339)
	}
	view["publicLinkEnabled"] = r.PublicLink.Enabled
	return view
}

// RequestFilters narrows list queries; visibility scoping is applied by the caller.
type RequestFilters struct {
	PropertyIDs []uuid.UUID
	Status      *RequestStatus
	Priority    *Priority
	Category    string
	CreatedBy   *uuid.UUID
	Assignee    *Assignee
	// VisibleTo restricts to requests the user created, is assigned to, or tenants.
	VisibleTo     *RequestVisibility
	GeneratedFrom *uuid.UUID
	Limit         int
	Offset        int
}

// RequestVisibility expresses the non-management read paths of the resolver
// as a query: rows in ManagedProperties, created by or assigned to UserID, or
// on one of TenantUnits.
type RequestVisibility struct {
	UserID            uuid.UUID
	ManagedProperties []uuid.UUID
	TenantUnits       []uuid.UUID
}

// RequestSummary aggregates counts for reports
type RequestSummary struct {
	PropertyID          uuid.UUID      `json:"property"`
	Total               int            `json:"total"`
	ByStatus            map[string]int `json:"byStatus"`
	ByPriority          map[string]int `json:"byPriority"`
	MeanResolutionHours *float64       `json:"meanResolutionHours,omitempty"`
}
