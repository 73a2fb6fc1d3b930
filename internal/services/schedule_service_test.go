package services

import (
	"sync"
	"testing"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type ScheduleServiceTestSuite struct {
	engineSuite
}

func TestScheduleServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ScheduleServiceTestSuite))
}

func intPtr(i int) *int { return &i }

// weekly is a Monday 08:00 series anchored at anchor.
func (suite *ScheduleServiceTestSuite) weekly(anchor time.Time, assignee *AssignInput, files ...FileInput) *models.ScheduledMaintenance {
	sm, err := suite.schedules.CreateSchedule(suite.ctx, actor(suite.manager), CreateScheduleInput{
		Title:         "Gutter clean",
		Category:      "exterior",
		PropertyID:    suite.property.ID,
		ScheduledDate: anchor,
		Recurring:     true,
		Frequency:     models.Frequency{Type: models.FrequencyWeekly, Interval: 1, DayOfWeek: intPtr(1)},
		Assignee:      assignee,
	}, files)
	suite.Require().NoError(err)
	return sm
}

func (suite *ScheduleServiceTestSuite) generated(scheduleID uuid.UUID) []*models.Request {
	items, _, err := suite.store.Repos().Requests.List(suite.ctx, models.RequestFilters{GeneratedFrom: &scheduleID})
	suite.Require().NoError(err)
	return items
}

func (suite *ScheduleServiceTestSuite) TestCreate_ComputesFirstDueDate() {
	anchor := time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC) // Wednesday
	sm := suite.weekly(anchor, &AssignInput{Assignee: &suite.tech.ID})

	suite.Equal(models.ScheduleScheduled, sm.Status)
	suite.Require().NotNil(sm.NextDueDate)
	suite.Equal(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), *sm.NextDueDate)
	suite.True(sm.AssignedTo.IsUser(suite.tech.ID))
	suite.Contains(suite.sent.to(suite.tech.ID), models.NotifyScheduleAssigned)
}

func (suite *ScheduleServiceTestSuite) TestCreate_RejectsBadFrequencyAndTenant() {
	_, err := suite.schedules.CreateSchedule(suite.ctx, actor(suite.manager), CreateScheduleInput{
		Title: "Bad", Category: "x", PropertyID: suite.property.ID, ScheduledDate: suite.now,
		Recurring: true, Frequency: models.Frequency{Type: models.FrequencyWeekly, Interval: 1},
	}, nil)
	suite.ErrorIs(err, common.ErrValidation)

	_, err = suite.schedules.CreateSchedule(suite.ctx, actor(suite.tenant), CreateScheduleInput{
		Title: "Mine", Category: "x", PropertyID: suite.property.ID, ScheduledDate: suite.now,
	}, nil)
	suite.ErrorIs(err, common.ErrAuthorization)
}

func (suite *ScheduleServiceTestSuite) TestMaterialiseDue_WeeklyAdvanceAndSkip() {
	sm := suite.weekly(suite.now.Add(-time.Hour), &AssignInput{Assignee: &suite.tech.ID})
	suite.sent.reset()

	report, err := suite.runner.MaterialiseDue(suite.ctx, 50)
	suite.Require().NoError(err)
	suite.Equal(MaterialiseReport{Due: 1, Created: 1}, report)

	reqs := suite.generated(sm.ID)
	suite.Require().Len(reqs, 1)
	first := reqs[0]
	suite.Equal(models.RequestAssigned, first.Status)
	suite.Equal([]string{"new", "assigned"}, historyStatuses(first.StatusHistory))
	suite.Equal(systemActorName, first.StatusHistory[0].ChangedByName)
	suite.Nil(first.StatusHistory[0].ChangedBy)
	suite.Equal(suite.manager.ID, first.CreatedBy)
	suite.Equal(suite.now.Add(-time.Hour), *first.GeneratedForDueDate)
	suite.Contains(suite.sent.to(suite.tech.ID), models.NotifyScheduleGenerated)
	suite.Contains(suite.sent.to(suite.landlord.ID), models.NotifyScheduleGenerated)
	suite.Equal([]models.AuditAction{models.AuditCreate, models.AuditAssign}, suite.auditActions(models.ResourceRequest, first.ID))

	stored := suite.loadSchedule(sm.ID)
	suite.Equal(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), *stored.NextDueDate)
	suite.Equal(first.ID, *stored.LastGeneratedRequest)
	suite.Equal(suite.now, *stored.LastExecutedAt)

	report, err = suite.runner.MaterialiseDue(suite.ctx, 50)
	suite.Require().NoError(err)
	suite.Zero(report.Due)

	// the first request is still open a week later
	suite.advance(7 * 24 * time.Hour)
	report, err = suite.runner.MaterialiseDue(suite.ctx, 50)
	suite.Require().NoError(err)
	suite.Equal(MaterialiseReport{Due: 1, Skipped: 1}, report)
	suite.Len(suite.generated(sm.ID), 1)
	suite.Equal(time.Date(2025, 3, 17, 8, 0, 0, 0, time.UTC), *suite.loadSchedule(sm.ID).NextDueDate)
	suite.Contains(suite.auditActions(models.ResourceSchedule, sm.ID), models.AuditMaterialiseSkipped)

	_, err = suite.transition(suite.manager, first.ID, RequestCancel, "done elsewhere")
	suite.Require().NoError(err)
	suite.advance(7 * 24 * time.Hour)
	report, err = suite.runner.MaterialiseDue(suite.ctx, 50)
	suite.Require().NoError(err)
	suite.Equal(1, report.Created)
	suite.Len(suite.generated(sm.ID), 2)
}

func (suite *ScheduleServiceTestSuite) TestMaterialise_OnceCompletesSchedule() {
	sm, err := suite.schedules.CreateSchedule(suite.ctx, actor(suite.manager), CreateScheduleInput{
		Title: "Boiler service", Category: "heating", PropertyID: suite.property.ID,
		ScheduledDate: suite.now.Add(-time.Minute),
	}, nil)
	suite.Require().NoError(err)
	suite.Equal(models.FrequencyOnce, sm.Frequency.Type)

	report, err := suite.runner.MaterialiseDue(suite.ctx, 10)
	suite.Require().NoError(err)
	suite.Equal(1, report.Created)

	stored := suite.loadSchedule(sm.ID)
	suite.Equal(models.ScheduleCompleted, stored.Status)
	suite.Nil(stored.NextDueDate)
	suite.Equal("No further occurrences", stored.StatusHistory[len(stored.StatusHistory)-1].Notes)

	report, err = suite.runner.MaterialiseDue(suite.ctx, 10)
	suite.Require().NoError(err)
	suite.Zero(report.Due)
}

func (suite *ScheduleServiceTestSuite) TestMaterialise_OccurrencesBoundTheSeries() {
	sm, err := suite.schedules.CreateSchedule(suite.ctx, actor(suite.manager), CreateScheduleInput{
		Title: "Pool check", Category: "pool", PropertyID: suite.property.ID,
		ScheduledDate: suite.now.Add(-time.Hour), Recurring: true,
		Frequency: models.Frequency{Type: models.FrequencyDaily, Interval: 1, Occurrences: intPtr(2)},
	}, nil)
	suite.Require().NoError(err)

	for day := 0; day < 2; day++ {
		report, err := suite.runner.MaterialiseDue(suite.ctx, 10)
		suite.Require().NoError(err)
		suite.Equal(1, report.Created, "day %d", day)
		for _, r := range suite.generated(sm.ID) {
			if !r.Status.Closed() {
				_, err := suite.transition(suite.manager, r.ID, RequestCancel, "")
				suite.Require().NoError(err)
			}
		}
		suite.advance(24 * time.Hour)
	}

	stored := suite.loadSchedule(sm.ID)
	suite.Equal(models.ScheduleCompleted, stored.Status)
	suite.Equal(0, *stored.Frequency.Occurrences)
	suite.Nil(stored.NextDueDate)
	suite.Len(suite.generated(sm.ID), 2)
}

func (suite *ScheduleServiceTestSuite) TestCreateRequestFromSchedule_ConflictWhileOpen() {
	sm := suite.weekly(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), nil)

	r, err := suite.schedules.CreateRequestFromSchedule(suite.ctx, actor(suite.manager), sm.ID)
	suite.Require().NoError(err)
	suite.Equal(models.RequestNew, r.Status)
	suite.Equal(suite.manager.ID, *r.StatusHistory[0].ChangedBy)
	suite.Equal(time.Date(2025, 3, 17, 8, 0, 0, 0, time.UTC), *suite.loadSchedule(sm.ID).NextDueDate)

	_, err = suite.schedules.CreateRequestFromSchedule(suite.ctx, actor(suite.manager), sm.ID)
	suite.ErrorIs(err, common.ErrConflict)

	_, err = suite.schedules.CreateRequestFromSchedule(suite.ctx, actor(suite.tenant), sm.ID)
	suite.ErrorIs(err, common.ErrAuthorization)
}

func (suite *ScheduleServiceTestSuite) TestMaterialise_CopiesMediaAndDeleteKeepsSharedBlob() {
	sm := suite.weekly(suite.now.Add(-time.Hour), nil, pngFile("route.png"))
	suite.Require().Len(sm.MediaIDs, 1)

	_, err := suite.runner.MaterialiseDue(suite.ctx, 10)
	suite.Require().NoError(err)
	reqs := suite.generated(sm.ID)
	suite.Require().Len(reqs, 1)
	suite.Require().Len(reqs[0].MediaIDs, 1)

	original, err := suite.store.Repos().Media.GetByID(suite.ctx, sm.MediaIDs[0])
	suite.Require().NoError(err)
	copied, err := suite.store.Repos().Media.GetByID(suite.ctx, reqs[0].MediaIDs[0])
	suite.Require().NoError(err)
	suite.Equal(original.PublicID, copied.PublicID)
	suite.NotEqual(original.ID, copied.ID)

	suite.Require().NoError(suite.schedules.DeleteSchedule(suite.ctx, actor(suite.landlord), sm.ID))
	suite.True(suite.blobs.Has(original.PublicID))

	orphan := suite.loadRequest(reqs[0].ID)
	suite.Nil(orphan.GeneratedFrom)
}

func (suite *ScheduleServiceTestSuite) TestPauseResumeRollsDueDateForward() {
	sm := suite.weekly(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), nil)

	paused, err := suite.schedules.TransitionSchedule(suite.ctx, actor(suite.manager), sm.ID, ScheduleTransitionInput{Event: SchedulePause})
	suite.Require().NoError(err)
	suite.Equal(models.SchedulePaused, paused.Status)

	suite.advance(14 * 24 * time.Hour)
	report, err := suite.runner.MaterialiseDue(suite.ctx, 10)
	suite.Require().NoError(err)
	suite.Zero(report.Due)

	resumed, err := suite.schedules.TransitionSchedule(suite.ctx, actor(suite.manager), sm.ID, ScheduleTransitionInput{Event: ScheduleResume})
	suite.Require().NoError(err)
	suite.Equal(models.ScheduleScheduled, resumed.Status)
	suite.Equal(suite.now, *resumed.NextDueDate)

	report, err = suite.runner.MaterialiseDue(suite.ctx, 10)
	suite.Require().NoError(err)
	suite.Equal(1, report.Created)

	_, err = suite.schedules.TransitionSchedule(suite.ctx, actor(suite.tech), sm.ID, ScheduleTransitionInput{Event: SchedulePause})
	suite.ErrorIs(err, common.ErrAuthorization)
}

func (suite *ScheduleServiceTestSuite) TestFinishRecurringReentersScheduled() {
	sm := suite.weekly(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), nil)

	_, err := suite.schedules.TransitionSchedule(suite.ctx, actor(suite.manager), sm.ID, ScheduleTransitionInput{Event: ScheduleBegin})
	suite.Require().NoError(err)
	out, err := suite.schedules.TransitionSchedule(suite.ctx, actor(suite.manager), sm.ID, ScheduleTransitionInput{Event: ScheduleFinish})
	suite.Require().NoError(err)

	suite.Equal(models.ScheduleScheduled, out.Status)
	suite.Equal(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), *out.NextDueDate)
	suite.Equal(suite.now, *out.LastExecutedAt)
	suite.Equal([]string{"inProgress", "scheduled"}, historyStatuses(out.StatusHistory))
	suite.Equal("Completed, next due 10 Mar 2025", out.StatusHistory[1].Notes)

	_, err = suite.schedules.TransitionSchedule(suite.ctx, actor(suite.manager), sm.ID, ScheduleTransitionInput{Event: ScheduleFinish})
	suite.ErrorIs(err, common.ErrState)
}

func (suite *ScheduleServiceTestSuite) daily(anchor time.Time, occurrences int) *models.ScheduledMaintenance {
	sm, err := suite.schedules.CreateSchedule(suite.ctx, actor(suite.manager), CreateScheduleInput{
		Title: "Pool check", Category: "pool", PropertyID: suite.property.ID,
		ScheduledDate: anchor, Recurring: true,
		Frequency: models.Frequency{Type: models.FrequencyDaily, Interval: 1, Occurrences: intPtr(occurrences)},
	}, nil)
	suite.Require().NoError(err)
	return sm
}

func (suite *ScheduleServiceTestSuite) finish(id uuid.UUID) *models.ScheduledMaintenance {
	_, err := suite.schedules.TransitionSchedule(suite.ctx, actor(suite.manager), id, ScheduleTransitionInput{Event: ScheduleBegin})
	suite.Require().NoError(err)
	out, err := suite.schedules.TransitionSchedule(suite.ctx, actor(suite.manager), id, ScheduleTransitionInput{Event: ScheduleFinish})
	suite.Require().NoError(err)
	return out
}

func (suite *ScheduleServiceTestSuite) TestFinishCountsDownBoundedSeries() {
	sm := suite.daily(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), 2)

	out := suite.finish(sm.ID)
	suite.Equal(models.ScheduleScheduled, out.Status)
	suite.Equal(1, *out.Frequency.Occurrences)
	suite.NotNil(out.NextDueDate)

	suite.advance(time.Hour)
	out = suite.finish(sm.ID)
	suite.Equal(models.ScheduleCompleted, out.Status)
	suite.Equal(0, *out.Frequency.Occurrences)
	suite.Nil(out.NextDueDate)
	suite.Equal([]string{"inProgress", "scheduled", "inProgress", "completed"}, historyStatuses(out.StatusHistory))

	stored := suite.loadSchedule(sm.ID)
	suite.Equal(models.ScheduleCompleted, stored.Status)
	suite.Nil(stored.NextDueDate)

	report, err := suite.runner.MaterialiseDue(suite.ctx, 10)
	suite.Require().NoError(err)
	suite.Zero(report.Due)
}

func (suite *ScheduleServiceTestSuite) TestFinishAfterMaterialiseCountsOnce() {
	sm := suite.daily(suite.now.Add(-time.Hour), 3)

	report, err := suite.runner.MaterialiseDue(suite.ctx, 10)
	suite.Require().NoError(err)
	suite.Equal(1, report.Created)
	suite.Equal(2, *suite.loadSchedule(sm.ID).Frequency.Occurrences)

	// the generated occurrence is worked and finished
	suite.advance(time.Hour)
	out := suite.finish(sm.ID)
	suite.Equal(models.ScheduleScheduled, out.Status)
	suite.Equal(2, *out.Frequency.Occurrences)
	suite.Equal(time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC), *out.NextDueDate)

	// a second finish with nothing materialised in between uses up a cycle
	suite.advance(time.Hour)
	out = suite.finish(sm.ID)
	suite.Equal(models.ScheduleScheduled, out.Status)
	suite.Equal(1, *out.Frequency.Occurrences)
}

func (suite *ScheduleServiceTestSuite) TestMaterialiseDue_ConcurrentTicksCreateOneRequest() {
	sm := suite.weekly(suite.now.Add(-time.Hour), nil)

	const ticks = 8
	reports := make([]MaterialiseReport, ticks)
	errs := make([]error, ticks)
	var wg sync.WaitGroup
	for i := 0; i < ticks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], errs[i] = suite.runner.MaterialiseDue(suite.ctx, 50)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < ticks; i++ {
		suite.Require().NoError(errs[i])
		suite.Zero(reports[i].Failed)
		created += reports[i].Created
	}
	suite.Equal(1, created)
	suite.Len(suite.generated(sm.ID), 1)
	suite.Equal(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), *suite.loadSchedule(sm.ID).NextDueDate)
}

func (suite *ScheduleServiceTestSuite) TestUpdateRescheduleRecomputesDueDate() {
	sm := suite.weekly(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), nil)
	f := models.Frequency{Type: models.FrequencyWeekly, Interval: 1, DayOfWeek: intPtr(4)}
	out, err := suite.schedules.UpdateSchedule(suite.ctx, actor(suite.manager), sm.ID, UpdateScheduleInput{Frequency: &f})
	suite.Require().NoError(err)
	suite.Equal(time.Date(2025, 3, 13, 8, 0, 0, 0, time.UTC), *out.NextDueDate)
}

func (suite *ScheduleServiceTestSuite) TestSendReminders_OncePerDay() {
	r := suite.newRequest("Stuck window")
	suite.sent.reset()

	sent, err := suite.runner.SendReminders(suite.ctx, 48*time.Hour, 50)
	suite.Require().NoError(err)
	suite.Zero(sent)

	suite.advance(72 * time.Hour)
	sent, err = suite.runner.SendReminders(suite.ctx, 48*time.Hour, 50)
	suite.Require().NoError(err)
	suite.Equal(1, sent)
	suite.Contains(suite.sent.to(suite.manager.ID), models.NotifyRequestReminder)
	suite.Contains(suite.sent.to(suite.landlord.ID), models.NotifyRequestReminder)

	suite.advance(time.Hour)
	sent, err = suite.runner.SendReminders(suite.ctx, 48*time.Hour, 50)
	suite.Require().NoError(err)
	suite.Zero(sent)

	suite.advance(24 * time.Hour)
	sent, err = suite.runner.SendReminders(suite.ctx, 48*time.Hour, 50)
	suite.Require().NoError(err)
	suite.Equal(1, sent)

	_, err = suite.transition(suite.manager, r.ID, RequestCancel, "")
	suite.Require().NoError(err)
	suite.advance(24 * time.Hour)
	sent, err = suite.runner.SendReminders(suite.ctx, 48*time.Hour, 50)
	suite.Require().NoError(err)
	suite.Zero(sent)
}
