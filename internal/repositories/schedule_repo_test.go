package repositories

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ScheduleRepoTestSuite struct {
	suite.Suite
	mock    pgxmock.PgxPoolIface
	repo    ScheduleRepository
	context context.Context
}

func (suite *ScheduleRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock
	suite.repo = NewScheduleRepo(mock)
	suite.context = context.Background()
}

func (suite *ScheduleRepoTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestScheduleRepoTestSuite(t *testing.T) {
	suite.Run(t, new(ScheduleRepoTestSuite))
}

func (suite *ScheduleRepoTestSuite) newSchedule() *models.ScheduledMaintenance {
	day := 15
	due := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	return &models.ScheduledMaintenance{
		Title:         "Boiler service",
		Category:      "hvac",
		Priority:      models.PriorityLow,
		Status:        models.ScheduleScheduled,
		PropertyID:    uuid.New(),
		CreatedBy:     uuid.New(),
		ScheduledDate: due,
		Recurring:     true,
		Frequency:     models.Frequency{Type: models.FrequencyMonthly, Interval: 1, DayOfMonth: &day},
		NextDueDate:   &due,
		IsActive:      true,
	}
}

func (suite *ScheduleRepoTestSuite) TestCreate() {
	s := suite.newSchedule()
	suite.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduled_maintenance (")).
		WithArgs(anyArgs(28)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(suite.T(), suite.repo.Create(suite.context, s))
	assert.NotEqual(suite.T(), uuid.Nil, s.ID)
	assert.Equal(suite.T(), 1, s.Version)
}

func (suite *ScheduleRepoTestSuite) TestUpdate_StaleVersion() {
	s := suite.newSchedule()
	s.ID = uuid.New()
	s.Version = 5
	suite.mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND version = $2")).
		WithArgs(append([]any{s.ID, 5}, anyArgs(23)...)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := suite.repo.Update(suite.context, s)
	assert.True(suite.T(), errors.Is(err, ErrVersionConflict))
	assert.Equal(suite.T(), 5, s.Version)
}

func (suite *ScheduleRepoTestSuite) TestUpdate_Success() {
	s := suite.newSchedule()
	s.ID = uuid.New()
	s.Version = 1
	suite.mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduled_maintenance SET")).
		WithArgs(anyArgs(25)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(suite.T(), suite.repo.Update(suite.context, s))
	assert.Equal(suite.T(), 2, s.Version)
}

func (suite *ScheduleRepoTestSuite) TestDelete_NotFound() {
	id := uuid.New()
	suite.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM scheduled_maintenance")).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := suite.repo.Delete(suite.context, id)
	assert.Equal(suite.T(), common.KindNotFound, common.KindOf(err))
}

func (suite *ScheduleRepoTestSuite) TestListDue_QueryError() {
	now := time.Now().UTC()
	suite.mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'scheduled' AND next_due_date IS NOT NULL AND next_due_date <= $1")).
		WithArgs(now, 50).
		WillReturnError(errors.New("connection reset"))

	out, err := suite.repo.ListDue(suite.context, now, 50)
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), out)
}
