package background

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"fixit/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MockMaintenanceRunner struct {
	mock.Mock
}

func (m *MockMaintenanceRunner) MaterialiseDue(ctx context.Context, batch int) (services.MaterialiseReport, error) {
	args := m.Called(ctx, batch)
	return args.Get(0).(services.MaterialiseReport), args.Error(1)
}

func (m *MockMaintenanceRunner) SendReminders(ctx context.Context, threshold time.Duration, batch int) (int, error) {
	args := m.Called(ctx, threshold, batch)
	return args.Int(0), args.Error(1)
}

type MockJournalReplayer struct {
	mock.Mock
}

func (m *MockJournalReplayer) ReplayJournal(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type JobSchedulerTestSuite struct {
	suite.Suite
	runner  *MockMaintenanceRunner
	journal *MockJournalReplayer
	js      *JobScheduler
}

func (suite *JobSchedulerTestSuite) SetupTest() {
	suite.runner = new(MockMaintenanceRunner)
	suite.journal = new(MockJournalReplayer)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	js, err := NewJobScheduler(suite.runner, suite.journal, NewLocalLocker(), Config{BatchSize: 25}, logger)
	require.NoError(suite.T(), err)
	suite.js = js
}

func (suite *JobSchedulerTestSuite) TearDownTest() {
	_ = suite.js.Stop()
}

func (suite *JobSchedulerTestSuite) TestRegistersEveryJob() {
	status := suite.js.GetJobStatus()
	assert.Equal(suite.T(), 3, status["total_jobs"])
	jobs := status["jobs"].(map[string]interface{})
	assert.Contains(suite.T(), jobs, JobMaterialise)
	assert.Contains(suite.T(), jobs, JobReminders)
	assert.Contains(suite.T(), jobs, JobJournalReplay)
}

func (suite *JobSchedulerTestSuite) TestDefaults() {
	cfg := suite.js.cfg
	assert.Equal(suite.T(), time.Minute, cfg.Tick)
	assert.Equal(suite.T(), time.Hour, cfg.ReminderSweep)
	assert.Equal(suite.T(), 72*time.Hour, cfg.ReminderThreshold)
	assert.Equal(suite.T(), 25, cfg.BatchSize)
	assert.Equal(suite.T(), time.UTC, cfg.Location)
}

func (suite *JobSchedulerTestSuite) TestRunOnceRunsEveryJob() {
	ctx := context.Background()
	suite.journal.On("ReplayJournal", ctx).Return(2, nil).Once()
	suite.runner.On("MaterialiseDue", ctx, 25).Return(services.MaterialiseReport{Due: 2, Created: 1, Skipped: 1}, nil).Once()
	suite.runner.On("SendReminders", ctx, 72*time.Hour, 25).Return(3, nil).Once()

	require.NoError(suite.T(), suite.js.RunOnce(ctx))
	suite.runner.AssertExpectations(suite.T())
	suite.journal.AssertExpectations(suite.T())
}

func (suite *JobSchedulerTestSuite) TestRunOnceKeepsGoingAfterFailure() {
	ctx := context.Background()
	boom := errors.New("database unavailable")
	suite.journal.On("ReplayJournal", ctx).Return(0, nil).Once()
	suite.runner.On("MaterialiseDue", ctx, 25).Return(services.MaterialiseReport{}, boom).Once()
	suite.runner.On("SendReminders", ctx, 72*time.Hour, 25).Return(0, nil).Once()

	err := suite.js.RunOnce(ctx)
	require.Error(suite.T(), err)
	assert.ErrorIs(suite.T(), err, boom)
	suite.runner.AssertExpectations(suite.T())
}

func TestJobSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(JobSchedulerTestSuite))
}

func TestLocalLockerIsExclusivePerKey(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	lock, err := locker.Lock(ctx, JobMaterialise)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, JobMaterialise)
	assert.ErrorIs(t, err, ErrLockHeld)

	other, err := locker.Lock(ctx, JobReminders)
	require.NoError(t, err)
	require.NoError(t, other.Unlock(ctx))

	require.NoError(t, lock.Unlock(ctx))
	require.NoError(t, lock.Unlock(ctx))

	again, err := locker.Lock(ctx, JobMaterialise)
	require.NoError(t, err)
	require.NoError(t, again.Unlock(ctx))
}
