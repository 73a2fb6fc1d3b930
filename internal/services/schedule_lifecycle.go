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
)

type ScheduleEvent string

const (
	ScheduleBegin  ScheduleEvent = "begin"
	ScheduleFinish ScheduleEvent = "finish"
	SchedulePause  ScheduleEvent = "pause"
	ScheduleResume ScheduleEvent = "resume"
	ScheduleCancel ScheduleEvent = "cancel"
)

type scheduleTransition struct {
	from   []models.ScheduleStatus
	to     models.ScheduleStatus
	action authz.Action
	audit  models.AuditAction
}

var scheduleTransitions = map[ScheduleEvent]scheduleTransition{
	ScheduleBegin: {
		from: []models.ScheduleStatus{models.ScheduleScheduled}, to: models.ScheduleInProgress,
		action: authz.ActionTransitionStatus, audit: models.AuditStart,
	},
	ScheduleFinish: {
		from: []models.ScheduleStatus{models.ScheduleInProgress}, to: models.ScheduleCompleted,
		action: authz.ActionTransitionStatus, audit: models.AuditComplete,
	},
	SchedulePause: {
		from: []models.ScheduleStatus{models.ScheduleScheduled, models.ScheduleInProgress}, to: models.SchedulePaused,
		action: authz.ActionPause, audit: models.AuditPause,
	},
	ScheduleResume: {
		from: []models.ScheduleStatus{models.SchedulePaused}, to: models.ScheduleScheduled,
		action: authz.ActionPause, audit: models.AuditResume,
	},
	ScheduleCancel: {
		from: []models.ScheduleStatus{models.ScheduleScheduled, models.ScheduleInProgress, models.SchedulePaused},
		to:   models.ScheduleCanceled, action: authz.ActionCancel, audit: models.AuditCancel,
	},
}

func ParseScheduleEvent(s string) (ScheduleEvent, error) {
	e := ScheduleEvent(strings.TrimSpace(s))
	if _, ok := scheduleTransitions[e]; !ok {
		return "", common.Validation(fmt.Sprintf("unknown schedule event %q", s),
			common.FieldError{Field: "event", Reason: "unknown event"})
	}
	return e, nil
}

func publicScheduleEvents(current models.ScheduleStatus, target string) ([]ScheduleEvent, error) {
	switch models.ScheduleStatus(target) {
	case models.ScheduleInProgress:
		return []ScheduleEvent{ScheduleBegin}, nil
	case models.ScheduleCompleted:
		if current == models.ScheduleScheduled {
			return []ScheduleEvent{ScheduleBegin, ScheduleFinish}, nil
		}
		return []ScheduleEvent{ScheduleFinish}, nil
	}
	return nil, common.StateError(fmt.Sprintf("status %q cannot be set through a public link", target))
}

func scheduleStatusIn(s models.ScheduleStatus, set []models.ScheduleStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// exhausted reports whether a bounded series has no materialisations left.
func exhausted(f models.Frequency) bool {
	return f.Occurrences != nil && *f.Occurrences <= 0
}

// upcoming returns the first occurrence strictly after after, or nil when the
// series has ended.
func upcoming(s *models.ScheduledMaintenance, after time.Time, loc *time.Location) *time.Time {
	if !s.Repeats() || exhausted(s.Frequency) {
		return nil
	}
	next, ok := recurrence.Next(s.Frequency, s.ScheduledDate, after, loc)
	if !ok {
		return nil
	}
	return &next
}

// lastFinish returns when the schedule last left inProgress by finishing.
func lastFinish(history []models.StatusChange) (time.Time, bool) {
	for i := len(history) - 1; i > 0; i-- {
		if history[i-1].Status != string(models.ScheduleInProgress) {
			continue
		}
		switch models.ScheduleStatus(history[i].Status) {
		case models.ScheduleScheduled, models.ScheduleCompleted:
			return history[i].ChangedAt, true
		}
	}
	return time.Time{}, false
}

// cycleConsumed reports whether a materialisation since the previous finish
// already counted the current occurrence against a bounded series.
func cycleConsumed(s *models.ScheduledMaintenance) bool {
	if s.LastExecutedAt == nil {
		return false
	}
	finished, ok := lastFinish(s.StatusHistory)
	return !ok || s.LastExecutedAt.After(finished)
}

// applyScheduleEvent moves s along event at now and appends the history row.
func applyScheduleEvent(s *models.ScheduledMaintenance, event ScheduleEvent, ch models.StatusChange, loc *time.Location) error {
	t, ok := scheduleTransitions[event]
	if !ok {
		return common.Validation(fmt.Sprintf("unknown schedule event %q", event))
	}
	if !scheduleStatusIn(s.Status, t.from) {
		return common.StateError(fmt.Sprintf("cannot %s a schedule that is %s", event, s.Status))
	}
	now := ch.ChangedAt
	to := t.to

	switch event {
	case ScheduleFinish:
		consumed := cycleConsumed(s)
		s.LastExecutedAt = timePtr(now)
		if s.Repeats() {
			if !consumed && s.Frequency.Occurrences != nil {
				left := *s.Frequency.Occurrences - 1
				s.Frequency.Occurrences = &left
			}
			next := s.NextDueDate
			if next == nil || !next.After(now) || exhausted(s.Frequency) {
				next = upcoming(s, now, loc)
			}
			if next != nil {
				s.NextDueDate = next
				to = models.ScheduleScheduled
				if ch.Notes == "" {
					ch.Notes = "Completed, next due " + next.In(loc).Format("2 Jan 2006")
				}
			} else {
				s.NextDueDate = nil
			}
		} else {
			s.NextDueDate = nil
		}
	case ScheduleResume:
		if s.NextDueDate != nil && s.NextDueDate.Before(now) {
			s.NextDueDate = timePtr(now)
		}
	}
	s.AppendHistory(to, ch)
	return nil
}

// transitionSchedule applies event inside repos' transaction with audit and
// notices. Authorization is the caller's job.
func (d *EngineDeps) transitionSchedule(ctx context.Context, repos *repositories.Repositories, s *models.ScheduledMaintenance, event ScheduleEvent, by transitionActor, notes string) (*noticeSet, error) {
	now := d.now()
	before := s.AuditView()
	from := s.Status
	actorID := by.ID
	if err := applyScheduleEvent(s, event, change(&actorID, by.Name, now, strings.TrimSpace(notes)), d.location()); err != nil {
		return nil, err
	}
	s.UpdatedAt = now
	if err := repos.Schedules.Update(ctx, s); err != nil {
		return nil, err
	}

	t := scheduleTransitions[event]
	entry := auditEntry(t.audit, &actorID, models.ResourceSchedule, s.ID,
		fmt.Sprintf("Scheduled maintenance %q moved from %s to %s", s.Title, from, s.Status))
	entry.OldValue = before
	entry.NewValue = s.AuditView()
	entry.Metadata["event"] = string(event)
	entry.Metadata["from"] = string(from)
	entry.Metadata["to"] = string(s.Status)
	entry.ExternalUserIdentifier = by.External
	d.Audit.Record(ctx, repos, entry)

	notices := newNoticeSet(&actorID, &models.ResourceRef{Kind: models.ResourceSchedule, ID: s.ID}, d.appLink(models.ContextSchedule, s.ID))
	msg := fmt.Sprintf("Scheduled maintenance %q is now %s", s.Title, s.Status)
	if err := notices.addManagement(ctx, repos, s.PropertyID, models.NotifyScheduleStatus, msg); err != nil {
		return nil, err
	}
	if event != ScheduleBegin && event != ScheduleFinish {
		if err := notices.addAssignee(ctx, repos, s.AssignedTo, models.NotifyScheduleStatus, msg); err != nil {
			return nil, err
		}
	}
	return notices, nil
}
