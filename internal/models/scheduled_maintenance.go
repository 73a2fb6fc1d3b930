package models

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleStatus is a state of a scheduled maintenance task
type ScheduleStatus string

const (
	ScheduleScheduled  ScheduleStatus = "scheduled"
	ScheduleInProgress ScheduleStatus = "inProgress"
	ScheduleCompleted  ScheduleStatus = "completed"
	SchedulePaused     ScheduleStatus = "paused"
	ScheduleCanceled   ScheduleStatus = "canceled"
)

func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleScheduled, ScheduleInProgress, ScheduleCompleted, SchedulePaused, ScheduleCanceled:
		return true
	}
	return false
}

// FrequencyType tags the recurrence rule
type FrequencyType string

const (
	FrequencyOnce    FrequencyType = "once"
	FrequencyDaily   FrequencyType = "daily"
	FrequencyWeekly  FrequencyType = "weekly"
	FrequencyMonthly FrequencyType = "monthly"
	FrequencyYearly  FrequencyType = "yearly"
	FrequencyCustom  FrequencyType = "custom"
)

// Frequency is the recurrence rule of a schedule. DayOfWeek uses 0=Sunday.
type Frequency struct {
	Type        FrequencyType `json:"type"`
	Interval    int           `json:"interval,omitempty"`
	DayOfWeek   *int          `json:"dayOfWeek,omitempty"`
	DayOfMonth  *int          `json:"dayOfMonth,omitempty"`
	MonthOfYear *int          `json:"monthOfYear,omitempty"`
	CustomDays  []int         `json:"customDays,omitempty"`
	EndDate     *time.Time    `json:"endDate,omitempty"`
	Occurrences *int          `json:"occurrences,omitempty"`
}

func (f Frequency) Clone() Frequency {
	c := f
	c.DayOfWeek = cloneInt(f.DayOfWeek)
	c.DayOfMonth = cloneInt(f.DayOfMonth)
	c.MonthOfYear = cloneInt(f.MonthOfYear)
	c.CustomDays = append([]int(nil), f.CustomDays...)
	c.EndDate = cloneTime(f.EndDate)
	c.Occurrences = cloneInt(f.Occurrences)
	return c
}

// ScheduledMaintenance is a periodic task that materialises Requests.
type ScheduledMaintenance struct {
	ID                   uuid.UUID      `json:"id" db:"id"`
	Title                string         `json:"title" db:"title"`
	Description          string         `json:"description" db:"description"`
	Category             string         `json:"category" db:"category"`
	Priority             Priority       `json:"priority" db:"priority"`
	Status               ScheduleStatus `json:"status" db:"status"`
	PropertyID           uuid.UUID      `json:"property" db:"property_id"`
	UnitID               *uuid.UUID     `json:"unit,omitempty" db:"unit_id"`
	CreatedBy            uuid.UUID      `json:"createdBy" db:"created_by"`
	AssignedTo           *Assignee      `json:"assignedTo" db:"-"`
	AssignedBy           *uuid.UUID     `json:"assignedBy,omitempty" db:"assigned_by"`
	AssignedAt           *time.Time     `json:"assignedAt,omitempty" db:"assigned_at"`
	ScheduledDate        time.Time      `json:"scheduledDate" db:"scheduled_date"`
	Recurring            bool           `json:"recurring" db:"recurring"`
	Frequency            Frequency      `json:"frequency" db:"frequency"`
	NextDueDate          *time.Time     `json:"nextDueDate,omitempty" db:"next_due_date"`
	LastExecutedAt       *time.Time     `json:"lastExecutedAt,omitempty" db:"last_executed_at"`
	LastGeneratedRequest *uuid.UUID     `json:"lastGeneratedRequest,omitempty" db:"last_generated_request"`
	MediaIDs             []uuid.UUID    `json:"media" db:"media_ids"`
	StatusHistory        []StatusChange `json:"statusHistory" db:"status_history"`
	PublicLink           PublicLink     `json:"publicLink" db:"-"`
	IsActive             bool           `json:"isActive" db:"is_active"`
	Version              int            `json:"version" db:"version"`
	CreatedAt            time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time      `json:"updatedAt" db:"updated_at"`
}

func (s *ScheduledMaintenance) AppendHistory(status ScheduleStatus, change StatusChange) {
	s.Status = status
	change.Status = string(status)
	s.StatusHistory = append(s.StatusHistory, change)
}

// Repeats reports whether completion re-enters scheduled
func (s *ScheduledMaintenance) Repeats() bool {
	return s.Recurring && s.Frequency.Type != FrequencyOnce
}

func (s *ScheduledMaintenance) Clone() *ScheduledMaintenance {
	if s == nil {
		return nil
	}
	c := *s
	c.UnitID = cloneUUID(s.UnitID)
	c.AssignedTo = s.AssignedTo.Clone()
	c.AssignedBy = cloneUUID(s.AssignedBy)
	c.AssignedAt = cloneTime(s.AssignedAt)
	c.Frequency = s.Frequency.Clone()
	c.NextDueDate = cloneTime(s.NextDueDate)
	c.LastExecutedAt = cloneTime(s.LastExecutedAt)
	c.LastGeneratedRequest = cloneUUID(s.LastGeneratedRequest)
	c.MediaIDs = append([]uuid.UUID(nil), s.MediaIDs...)
	c.StatusHistory = append([]StatusChange(nil), s.StatusHistory...)
	c.PublicLink = s.PublicLink.Clone()
	return &c
}

func (s *ScheduledMaintenance) AuditView() JSONB {
	if s == nil {
		return nil
	}
	view := JSONB{
		"id":        s.ID.String(),
		"title":     s.Title,
		"status":    string(s.Status),
		"property":  s.PropertyID.String(),
		"recurring": s.Recurring,
		"frequency": string(s.Frequency.Type),
		"version":   s.Version,
	}
	if s.NextDueDate != nil {
		view["nextDueDate"] = s.NextDueDate.UTC().Format(time.RFC3339)
	}
	if s.Frequency.Occurrences != nil {
		view["occurrences"] = *s.Frequency.Occurrences
	}
	if s.AssignedTo != nil {
		view["assignedTo"] = s.AssignedTo.ID.String()
		view["assignedToKind"] = string(s.AssignedTo.Kind)
	}
	view["publicLinkEnabled"] = s.PublicLink.Enabled
	return view
}

type ScheduleFilters struct {
	PropertyIDs []uuid.UUID
	Status      *ScheduleStatus
	Assignee    *Assignee
	// VisibleTo mirrors RequestFilters.VisibleTo; schedules have no tenant path.
	VisibleTo *RequestVisibility
	Limit     int
	Offset    int
}
