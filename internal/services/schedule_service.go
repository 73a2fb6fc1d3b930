package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fixit/internal/authz"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/recurrence"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type CreateScheduleInput struct {
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Category      string           `json:"category"`
	Priority      models.Priority  `json:"priority"`
	PropertyID    uuid.UUID        `json:"property"`
	UnitID        *uuid.UUID       `json:"unit"`
	ScheduledDate time.Time        `json:"scheduledDate"`
	Recurring     bool             `json:"recurring"`
	Frequency     models.Frequency `json:"frequency"`
	Assignee      *AssignInput     `json:"assignment,omitempty"`
}

func (in *CreateScheduleInput) validate() error {
	base := CreateRequestInput{
		Title: in.Title, Description: in.Description, Category: in.Category,
		Priority: in.Priority, PropertyID: in.PropertyID, UnitID: in.UnitID,
	}
	if err := base.validate(); err != nil {
		return err
	}
	in.Title, in.Description, in.Category, in.Priority = base.Title, base.Description, base.Category, base.Priority
	if in.ScheduledDate.IsZero() {
		return common.Validation("scheduledDate is required", common.FieldError{Field: "scheduledDate", Reason: "required"})
	}
	if !in.Recurring && in.Frequency.Type == "" {
		in.Frequency.Type = models.FrequencyOnce
	}
	return validateFrequency(in.Frequency, in.Recurring)
}

func validateFrequency(f models.Frequency, recurring bool) error {
	if err := recurrence.Validate(f, recurring); err != nil {
		return common.Validation(err.Error(), common.FieldError{Field: "frequency", Reason: "invalid"})
	}
	return nil
}

type UpdateScheduleInput struct {
	Title         *string           `json:"title"`
	Description   *string           `json:"description"`
	Category      *string           `json:"category"`
	Priority      *models.Priority  `json:"priority"`
	ScheduledDate *time.Time        `json:"scheduledDate"`
	Recurring     *bool             `json:"recurring"`
	Frequency     *models.Frequency `json:"frequency"`
}

func (in UpdateScheduleInput) reschedules() bool {
	return in.ScheduledDate != nil || in.Recurring != nil || in.Frequency != nil
}

type ScheduleQuery struct {
	PropertyID *uuid.UUID
	Status     *models.ScheduleStatus
	Assignee   *models.Assignee
	Page       int
	Limit      int
}

type ScheduleTransitionInput struct {
	Event ScheduleEvent `json:"event"`
	Notes string        `json:"notes"`
}

type ScheduleDetail struct {
	*models.ScheduledMaintenance
	Comments    []*models.Comment `json:"comments"`
	Attachments []*models.Media   `json:"attachments"`
}

type ScheduleService interface {
	ListSchedules(ctx context.Context, actor authz.Actor, q ScheduleQuery) ([]*models.ScheduledMaintenance, int, error)
	GetSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID) (*ScheduleDetail, error)
	CreateSchedule(ctx context.Context, actor authz.Actor, in CreateScheduleInput, files []FileInput) (*models.ScheduledMaintenance, error)
	UpdateSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID, in UpdateScheduleInput) (*models.ScheduledMaintenance, error)
	DeleteSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID) error
	AssignSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID, in AssignInput) (*models.ScheduledMaintenance, error)
	TransitionSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID, in ScheduleTransitionInput) (*models.ScheduledMaintenance, error)
	// CreateRequestFromSchedule materialises the current due date on demand.
	CreateRequestFromSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.Request, error)
}

type scheduleService struct {
	*EngineDeps
}

func NewScheduleService(deps *EngineDeps) ScheduleService {
	return &scheduleService{EngineDeps: deps}
}

func scheduleTarget(s *models.ScheduledMaintenance) authz.Target {
	return (&entity{schedule: s}).target()
}

func (s *scheduleService) ListSchedules(ctx context.Context, actor authz.Actor, q ScheduleQuery) ([]*models.ScheduledMaintenance, int, error) {
	page, limit := common.ValidatePaginationParams(q.Page, q.Limit)
	vis, err := s.Roles.Visibility(ctx, actor)
	if err != nil {
		return nil, 0, err
	}
	filters := models.ScheduleFilters{
		Status:    q.Status,
		Assignee:  q.Assignee,
		VisibleTo: vis,
		Limit:     limit,
		Offset:    (page - 1) * limit,
	}
	if q.PropertyID != nil {
		filters.PropertyIDs = []uuid.UUID{*q.PropertyID}
	}
	return s.Store.Repos().Schedules.List(ctx, filters)
}

func (s *scheduleService) GetSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID) (*ScheduleDetail, error) {
	repos := s.Store.Repos()
	sm, err := repos.Schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Authz.Require(ctx, actor, authz.ActionRead, scheduleTarget(sm)); err != nil {
		return nil, err
	}
	comments, err := repos.Comments.ListByContext(ctx, models.ContextSchedule, id, s.Authz.Manages(ctx, actor, sm.PropertyID))
	if err != nil {
		return nil, err
	}
	media, err := repos.Media.ListByOwner(ctx, models.ContextSchedule, id)
	if err != nil {
		return nil, err
	}
	s.Media.Resolve(ctx, media)
	return &ScheduleDetail{ScheduledMaintenance: sm, Comments: comments, Attachments: media}, nil
}

func (s *scheduleService) CreateSchedule(ctx context.Context, actor authz.Actor, in CreateScheduleInput, files []FileInput) (*models.ScheduledMaintenance, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var assignee *models.Assignee
	if in.Assignee != nil {
		a, err := in.Assignee.Target()
		if err != nil {
			return nil, err
		}
		assignee = a
	}
	first, ok := recurrence.First(in.Frequency, in.ScheduledDate, s.location())
	if !ok {
		return nil, common.Validation("the frequency has no occurrence before its end date",
			common.FieldError{Field: "frequency.endDate", Reason: "no occurrences"})
	}

	repos := s.Store.Repos()
	if err := checkLocation(ctx, repos, in.PropertyID, in.UnitID); err != nil {
		return nil, err
	}
	target := authz.Target{Kind: authz.TargetSchedule, PropertyID: &in.PropertyID, UnitID: in.UnitID}
	if err := s.Authz.Require(ctx, actor, authz.ActionCreate, target); err != nil {
		return nil, err
	}

	handles, err := uploadAll(ctx, s.Media, files, mediaFolder(models.ContextSchedule))
	if err != nil {
		return nil, err
	}

	var created *models.ScheduledMaintenance
	var notices *noticeSet
	err = s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		now := s.now()
		sm := &models.ScheduledMaintenance{
			ID:            uuid.New(),
			Title:         in.Title,
			Description:   in.Description,
			Category:      in.Category,
			Priority:      in.Priority,
			Status:        models.ScheduleScheduled,
			PropertyID:    in.PropertyID,
			UnitID:        in.UnitID,
			CreatedBy:     actor.ID,
			ScheduledDate: in.ScheduledDate.UTC(),
			Recurring:     in.Recurring,
			Frequency:     in.Frequency.Clone(),
			NextDueDate:   timePtr(first.UTC()),
			MediaIDs:      []uuid.UUID{},
			StatusHistory: []models.StatusChange{},
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if assignee != nil {
			if _, err := resolveAssignee(ctx, repos, assignee, sm.PropertyID); err != nil {
				return err
			}
			sm.AssignedTo = assignee.Clone()
			sm.AssignedBy = uuidPtr(actor.ID)
			sm.AssignedAt = timePtr(now)
		}
		if err := repos.Schedules.Create(ctx, sm); err != nil {
			return err
		}
		for _, h := range handles {
			m, err := s.Media.Attach(ctx, repos, h, models.ContextSchedule, sm.ID, &actor.ID, false)
			if err != nil {
				return err
			}
			sm.MediaIDs = append(sm.MediaIDs, m.ID)
		}
		if len(handles) > 0 {
			if err := repos.Schedules.Update(ctx, sm); err != nil {
				return err
			}
		}

		entry := auditEntry(models.AuditCreate, &actor.ID, models.ResourceSchedule, sm.ID,
			fmt.Sprintf("Scheduled maintenance %q created", sm.Title))
		entry.NewValue = sm.AuditView()
		s.Audit.Record(ctx, repos, entry)

		notices = newNoticeSet(&actor.ID, &models.ResourceRef{Kind: models.ResourceSchedule, ID: sm.ID}, s.appLink(models.ContextSchedule, sm.ID))
		if err := notices.addAssignee(ctx, repos, sm.AssignedTo, models.NotifyScheduleAssigned,
			fmt.Sprintf("You have been assigned scheduled maintenance %q", sm.Title)); err != nil {
			return err
		}
		created = sm
		return nil
	})
	if err != nil {
		releaseAll(ctx, s.Media, handleIDs(handles))
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"schedule_id":   created.ID,
		"frequency":     created.Frequency.Type,
		"next_due_date": created.NextDueDate,
	}).Info("scheduled maintenance created")
	s.dispatch(ctx, notices)
	return created, nil
}

func (s *scheduleService) UpdateSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID, in UpdateScheduleInput) (*models.ScheduledMaintenance, error) {
	fields := UpdateRequestInput{Title: in.Title, Description: in.Description, Category: in.Category, Priority: in.Priority}
	if err := fields.validate(); err != nil {
		return nil, err
	}
	var updated *models.ScheduledMaintenance
	err := s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		sm, err := repos.Schedules.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionUpdate, scheduleTarget(sm)); err != nil {
			return err
		}
		if sm.Status == models.ScheduleCanceled || sm.Status == models.ScheduleCompleted {
			return common.StateError(fmt.Sprintf("a %s schedule can no longer be edited", sm.Status))
		}
		before := sm.AuditView()
		if fields.Title != nil {
			sm.Title = *fields.Title
		}
		if fields.Description != nil {
			sm.Description = *fields.Description
		}
		if fields.Category != nil {
			sm.Category = *fields.Category
		}
		if fields.Priority != nil {
			sm.Priority = *fields.Priority
		}
		now := s.now()
		if in.reschedules() {
			if in.ScheduledDate != nil {
				sm.ScheduledDate = in.ScheduledDate.UTC()
			}
			if in.Recurring != nil {
				sm.Recurring = *in.Recurring
			}
			if in.Frequency != nil {
				sm.Frequency = in.Frequency.Clone()
			}
			if !sm.Recurring && sm.Frequency.Type == "" {
				sm.Frequency.Type = models.FrequencyOnce
			}
			if err := validateFrequency(sm.Frequency, sm.Recurring); err != nil {
				return err
			}
			next, ok := recurrence.Next(sm.Frequency, sm.ScheduledDate, now.Add(-time.Nanosecond), s.location())
			if !ok {
				return common.Validation("the frequency has no occurrence left", common.FieldError{Field: "frequency", Reason: "no occurrences"})
			}
			sm.NextDueDate = timePtr(next.UTC())
		}
		sm.UpdatedAt = now
		if err := repos.Schedules.Update(ctx, sm); err != nil {
			return err
		}
		entry := auditEntry(models.AuditUpdate, &actor.ID, models.ResourceSchedule, sm.ID,
			fmt.Sprintf("Scheduled maintenance %q updated", sm.Title))
		entry.OldValue = before
		entry.NewValue = sm.AuditView()
		s.Audit.Record(ctx, repos, entry)
		updated = sm
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *scheduleService) DeleteSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	var removed []*models.Media
	err := s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		sm, err := repos.Schedules.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionDelete, scheduleTarget(sm)); err != nil {
			return err
		}
		removed, err = cascadeDelete(ctx, repos, models.ContextSchedule, id)
		if err != nil {
			return err
		}
		if err := repos.Schedules.Delete(ctx, id); err != nil {
			return err
		}
		entry := auditEntry(models.AuditDelete, &actor.ID, models.ResourceSchedule, id,
			fmt.Sprintf("Scheduled maintenance %q deleted", sm.Title))
		entry.OldValue = sm.AuditView()
		s.Audit.Record(ctx, repos, entry)
		return nil
	})
	if err != nil {
		return err
	}
	releaseAll(ctx, s.Media, mediaIDs(removed))
	return nil
}

// AssignSchedule sets who future generated requests go to. It is not a
// status change, so no history row is written.
func (s *scheduleService) AssignSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID, in AssignInput) (*models.ScheduledMaintenance, error) {
	assignee, err := in.Target()
	if err != nil {
		return nil, err
	}
	var updated *models.ScheduledMaintenance
	var notices *noticeSet
	err = s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		sm, err := repos.Schedules.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionAssign, scheduleTarget(sm)); err != nil {
			return err
		}
		if sm.Status == models.ScheduleCanceled || sm.Status == models.ScheduleCompleted {
			return common.StateError(fmt.Sprintf("cannot change the assignee of a %s schedule", sm.Status))
		}
		updated = sm
		notices = nil
		if sm.AssignedTo.Equal(assignee) {
			return nil
		}
		now := s.now()
		before := sm.AuditView()
		action := models.AuditUnassign
		description := "Unassigned"
		if assignee != nil {
			name, err := resolveAssignee(ctx, repos, assignee, sm.PropertyID)
			if err != nil {
				return err
			}
			sm.AssignedTo, sm.AssignedBy, sm.AssignedAt = assignee, uuidPtr(actor.ID), timePtr(now)
			action = models.AuditAssign
			description = "Assigned to " + name
		} else {
			sm.AssignedTo, sm.AssignedBy, sm.AssignedAt = nil, nil, nil
		}
		if notes := strings.TrimSpace(in.Notes); notes != "" {
			description = notes
		}
		sm.UpdatedAt = now
		if err := repos.Schedules.Update(ctx, sm); err != nil {
			return err
		}
		entry := auditEntry(action, &actor.ID, models.ResourceSchedule, sm.ID, description)
		entry.OldValue = before
		entry.NewValue = sm.AuditView()
		s.Audit.Record(ctx, repos, entry)

		notices = newNoticeSet(&actor.ID, &models.ResourceRef{Kind: models.ResourceSchedule, ID: sm.ID}, s.appLink(models.ContextSchedule, sm.ID))
		return notices.addAssignee(ctx, repos, assignee, models.NotifyScheduleAssigned,
			fmt.Sprintf("You have been assigned scheduled maintenance %q", sm.Title))
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notices)
	return updated, nil
}

func (s *scheduleService) TransitionSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID, in ScheduleTransitionInput) (*models.ScheduledMaintenance, error) {
	t, ok := scheduleTransitions[in.Event]
	if !ok {
		return nil, common.Validation(fmt.Sprintf("unknown schedule event %q", in.Event),
			common.FieldError{Field: "event", Reason: "unknown event"})
	}
	var updated *models.ScheduledMaintenance
	var notices *noticeSet
	err := s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		sm, err := repos.Schedules.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, t.action, scheduleTarget(sm)); err != nil {
			return err
		}
		_, name, err := actorName(ctx, repos, actor.ID)
		if err != nil {
			return err
		}
		notices, err = s.transitionSchedule(ctx, repos, sm, in.Event, transitionActor{ID: actor.ID, Name: name}, in.Notes)
		if err != nil {
			return err
		}
		updated = sm
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notices)
	return updated, nil
}

func (s *scheduleService) CreateRequestFromSchedule(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.Request, error) {
	var result *materialisation
	err := s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		sm, err := repos.Schedules.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionCreate, scheduleTarget(sm)); err != nil {
			return err
		}
		if sm.Status != models.ScheduleScheduled && sm.Status != models.ScheduleInProgress {
			return common.StateError(fmt.Sprintf("cannot generate a request from a %s schedule", sm.Status))
		}
		if sm.NextDueDate == nil {
			return common.StateError("the schedule has no upcoming occurrence")
		}
		_, name, err := actorName(ctx, repos, actor.ID)
		if err != nil {
			return err
		}
		result, err = s.materialise(ctx, repos, sm, &actor.ID, name)
		return err
	})
	if repositories.IsUniqueViolation(err, repositories.MaterialisationConstraint) {
		return nil, common.Conflict("a request for this due date already exists", err)
	}
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, result.notices)
	return result.Request, nil
}
