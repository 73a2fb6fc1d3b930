package services

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const systemActorName = "System"

// materialisation is the outcome of one attempt to turn a due schedule into
// a request. Request is nil when the attempt was skipped.
type materialisation struct {
	Request *models.Request
	Skipped bool
	Reason  string
	notices *noticeSet
}

// materialise creates the request for s's current due date inside repos'
// transaction. actor is nil for scheduler runs. While an earlier generated
// request is still open an automatic run advances the schedule without
// creating a request; a manual run reports a conflict instead.
func (d *EngineDeps) materialise(ctx context.Context, repos *repositories.Repositories, s *models.ScheduledMaintenance, actor *uuid.UUID, actorName string) (*materialisation, error) {
	if s.NextDueDate == nil {
		return nil, fmt.Errorf("schedule %s has no due date", s.ID)
	}
	now := d.now()
	due := *s.NextDueDate
	before := s.AuditView()
	if actorName == "" {
		actorName = systemActorName
	}

	open, err := repos.Requests.FindOpenGenerated(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		if actor != nil {
			return nil, errOpenGenerated(open)
		}
		d.advance(s, due, now, false, actorName)
		if err := repos.Schedules.Update(ctx, s); err != nil {
			return nil, err
		}
		entry := auditEntry(models.AuditMaterialiseSkipped, nil, models.ResourceSchedule, s.ID,
			fmt.Sprintf("Skipped %q: generated request is still %s", s.Title, open.Status))
		entry.OldValue = before
		entry.NewValue = s.AuditView()
		entry.Metadata["openRequestId"] = open.ID.String()
		entry.Metadata["dueDate"] = due.Format(time.RFC3339)
		d.Audit.Record(ctx, repos, entry)
		return &materialisation{Skipped: true, Reason: "open request " + open.ID.String()}, nil
	}

	r := &models.Request{
		ID:                  uuid.New(),
		Title:               s.Title,
		Description:         s.Description,
		Category:            s.Category,
		Priority:            s.Priority,
		Status:              models.RequestNew,
		PropertyID:          s.PropertyID,
		UnitID:              s.UnitID,
		CreatedBy:           s.CreatedBy,
		MediaIDs:            []uuid.UUID{},
		StatusHistory:       []models.StatusChange{},
		GeneratedFrom:       uuidPtr(s.ID),
		GeneratedForDueDate: timePtr(due),
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	r.AppendHistory(models.RequestNew, change(actor, actorName, now, "Generated from scheduled maintenance"))
	if s.AssignedTo != nil {
		r.AssignedTo = s.AssignedTo.Clone()
		r.AssignedBy = s.AssignedBy
		if r.AssignedBy == nil {
			r.AssignedBy = actor
		}
		r.AssignedAt = timePtr(now)
		r.AppendHistory(models.RequestAssigned, change(actor, actorName, now, "Assigned from scheduled maintenance"))
	}
	if err := repos.Requests.Create(ctx, r); err != nil {
		return nil, err
	}

	media, err := repos.Media.ListByOwner(ctx, models.ContextSchedule, s.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range media {
		copied := m.Clone()
		copied.ID = uuid.New()
		copied.OwnerKind = models.ContextRequest
		copied.OwnerID = r.ID
		copied.CreatedAt = now
		if err := repos.Media.Create(ctx, copied); err != nil {
			return nil, err
		}
		r.MediaIDs = append(r.MediaIDs, copied.ID)
	}
	if len(media) > 0 {
		if err := repos.Requests.Update(ctx, r); err != nil {
			return nil, err
		}
	}

	d.advance(s, due, now, true, actorName)
	s.LastExecutedAt = timePtr(now)
	s.LastGeneratedRequest = uuidPtr(r.ID)
	if err := repos.Schedules.Update(ctx, s); err != nil {
		return nil, err
	}

	entry := auditEntry(models.AuditMaterialise, actor, models.ResourceSchedule, s.ID,
		fmt.Sprintf("Request generated from %q", s.Title))
	entry.OldValue = before
	entry.NewValue = s.AuditView()
	entry.Metadata["requestId"] = r.ID.String()
	entry.Metadata["scheduleId"] = s.ID.String()
	entry.Metadata["dueDate"] = due.Format(time.RFC3339)
	d.Audit.Record(ctx, repos, entry)

	created := auditEntry(models.AuditCreate, actor, models.ResourceRequest, r.ID,
		fmt.Sprintf("Request %q generated from scheduled maintenance", r.Title))
	created.NewValue = r.AuditView()
	created.Metadata["scheduleId"] = s.ID.String()
	d.Audit.Record(ctx, repos, created)
	if r.AssignedTo != nil {
		assigned := auditEntry(models.AuditAssign, actor, models.ResourceRequest, r.ID,
			fmt.Sprintf("Request %q assigned from scheduled maintenance", r.Title))
		assigned.NewValue = r.AuditView()
		assigned.Metadata["scheduleId"] = s.ID.String()
		d.Audit.Record(ctx, repos, assigned)
	}

	notices := newNoticeSet(actor, &models.ResourceRef{Kind: models.ResourceRequest, ID: r.ID}, d.appLink(models.ContextRequest, r.ID))
	msg := fmt.Sprintf("Scheduled maintenance %q is due", s.Title)
	if err := notices.addAssignee(ctx, repos, r.AssignedTo, models.NotifyScheduleGenerated, msg); err != nil {
		return nil, err
	}
	if err := notices.addManagement(ctx, repos, s.PropertyID, models.NotifyScheduleGenerated, msg); err != nil {
		return nil, err
	}
	return &materialisation{Request: r, notices: notices}, nil
}

// advance moves nextDueDate past due. consumed marks a materialisation that
// counts against a bounded series. A series with nothing left completes.
func (d *EngineDeps) advance(s *models.ScheduledMaintenance, due, now time.Time, consumed bool, actorName string) {
	if consumed && s.Frequency.Occurrences != nil {
		left := *s.Frequency.Occurrences - 1
		s.Frequency.Occurrences = &left
	}
	after := due
	if now.After(after) {
		after = now
	}
	s.NextDueDate = upcoming(s, after, d.location())
	s.UpdatedAt = now
	if s.NextDueDate == nil && s.Status == models.ScheduleScheduled {
		s.AppendHistory(models.ScheduleCompleted, change(nil, actorName, now, "No further occurrences"))
	}
}

func errOpenGenerated(open *models.Request) error {
	return common.Conflict(fmt.Sprintf("request %s generated from this schedule is still %s", open.ID, open.Status), nil)
}

// MaterialiseReport summarises one scheduler pass.
type MaterialiseReport struct {
	Due     int
	Created int
	Skipped int
	Failed  int
}

// MaintenanceRunner is the work the periodic scheduler drives.
type MaintenanceRunner interface {
	MaterialiseDue(ctx context.Context, batch int) (MaterialiseReport, error)
	SendReminders(ctx context.Context, threshold time.Duration, batch int) (int, error)
}

type maintenanceRunner struct {
	*EngineDeps
}

func NewMaintenanceRunner(deps *EngineDeps) MaintenanceRunner {
	return &maintenanceRunner{EngineDeps: deps}
}

// MaterialiseDue processes every due schedule in its own transaction so one
// failure does not hold back the rest of the batch.
func (m *maintenanceRunner) MaterialiseDue(ctx context.Context, batch int) (MaterialiseReport, error) {
	var report MaterialiseReport
	due, err := m.Store.Repos().Schedules.ListDue(ctx, m.now(), batch)
	if err != nil {
		return report, err
	}
	report.Due = len(due)
	for _, candidate := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		log := m.Logger.WithFields(logrus.Fields{"schedule_id": candidate.ID, "title": candidate.Title})

		var result *materialisation
		err := m.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
			s, err := repos.Schedules.GetByID(ctx, candidate.ID)
			if err != nil {
				return err
			}
			// another instance or a manual run got there first
			if s.Status != models.ScheduleScheduled || s.NextDueDate == nil || s.NextDueDate.After(m.now()) {
				result = &materialisation{Skipped: true, Reason: "no longer due"}
				return nil
			}
			result, err = m.materialise(ctx, repos, s, nil, "")
			return err
		})
		switch {
		case repositories.IsUniqueViolation(err, repositories.MaterialisationConstraint):
			report.Skipped++
			log.Debug("request for this due date already exists")
		case err != nil:
			report.Failed++
			log.WithError(err).Error("failed to materialise scheduled maintenance")
		case result.Skipped:
			report.Skipped++
			log.WithField("reason", result.Reason).Info("materialisation skipped")
		default:
			report.Created++
			log.WithField("request_id", result.Request.ID).Info("request generated from schedule")
			m.dispatch(ctx, result.notices)
		}
	}
	return report, nil
}

// SendReminders nudges management and assignees about requests that have sat
// in new or assigned longer than threshold. Each request is reminded at most
// once per sweep day in the application timezone.
func (m *maintenanceRunner) SendReminders(ctx context.Context, threshold time.Duration, batch int) (int, error) {
	now := m.now()
	stale, err := m.Store.Repos().Requests.ListStale(ctx, now.Add(-threshold), batch)
	if err != nil {
		return 0, err
	}
	local := now.In(m.location())
	sweepDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	sent := 0
	for _, r := range stale {
		if r.Status.Silent() {
			continue
		}
		var notices *noticeSet
		err := m.Store.WithinTx(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
			fresh, err := repos.Requests.MarkReminded(ctx, r.ID, sweepDay)
			if err != nil || !fresh {
				return err
			}
			notices = newNoticeSet(nil, &models.ResourceRef{Kind: models.ResourceRequest, ID: r.ID}, m.appLink(models.ContextRequest, r.ID))
			msg := fmt.Sprintf("%q has been waiting since %s", r.Title, r.CreatedAt.In(m.location()).Format("2 Jan 2006"))
			if err := notices.addManagement(ctx, repos, r.PropertyID, models.NotifyRequestReminder, msg); err != nil {
				return err
			}
			return notices.addAssignee(ctx, repos, r.AssignedTo, models.NotifyRequestReminder, msg)
		})
		if err != nil {
			m.Logger.WithError(err).WithField("request_id", r.ID).Warn("failed to send reminder")
			continue
		}
		if notices != nil {
			m.dispatch(ctx, notices)
			sent++
		}
	}
	return sent, nil
}
