package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"
	"fixit/internal/repositories/memstore"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type mockAuditLogsRepository struct {
	mock.Mock
}

func (m *mockAuditLogsRepository) Create(ctx context.Context, auditLog *models.AuditLog) error {
	return m.Called(ctx, auditLog).Error(0)
}

func (m *mockAuditLogsRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditLog), args.Error(1)
}

func (m *mockAuditLogsRepository) List(ctx context.Context, filters *models.AuditLogFilters) ([]*models.AuditLog, int, error) {
	args := m.Called(ctx, filters)
	return args.Get(0).([]*models.AuditLog), args.Int(1), args.Error(2)
}

func (m *mockAuditLogsRepository) ListByResource(ctx context.Context, kind string, id uuid.UUID) ([]*models.AuditLog, error) {
	args := m.Called(ctx, kind, id)
	return args.Get(0).([]*models.AuditLog), args.Error(1)
}

type AuditLogsServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	store   *memstore.Store
	journal *AuditJournal
	failing *mockAuditLogsRepository
	service AuditLogsService
}

func TestAuditLogsServiceTestSuite(t *testing.T) {
	suite.Run(t, new(AuditLogsServiceTestSuite))
}

func (suite *AuditLogsServiceTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.now = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	suite.store = memstore.New()
	suite.journal = NewAuditJournal(filepath.Join(suite.T().TempDir(), "audit", "journal.jsonl"))
	suite.failing = &mockAuditLogsRepository{}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	suite.service = NewAuditLogsService(suite.store, suite.journal, logger, func() time.Time { return suite.now })
}

// broken returns repositories whose audit table rejects every insert.
func (suite *AuditLogsServiceTestSuite) broken() *repositories.Repositories {
	suite.failing.On("Create", mock.Anything, mock.AnythingOfType("*models.AuditLog")).
		Return(errors.New("connection reset"))
	return &repositories.Repositories{AuditLogs: suite.failing}
}

// journaled counts the rows waiting in the journal file.
func (suite *AuditLogsServiceTestSuite) journaled() int {
	data, err := os.ReadFile(suite.journal.Path())
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	suite.Require().NoError(err)
	return strings.Count(string(data), "\n")
}

func (suite *AuditLogsServiceTestSuite) TestRecord_FillsMetadataFromContext() {
	ctx := common.WithRequestMeta(suite.ctx, common.RequestMeta{
		IPAddress: "10.0.0.7", UserAgent: "curl/8", CorrelationID: "req-42",
	})
	id := uuid.New()
	suite.service.Record(ctx, nil, auditEntry(models.AuditCreate, nil, models.ResourceRequest, id, "created"))

	rows, err := suite.service.GetEntityHistory(suite.ctx, models.ResourceRequest, id)
	suite.Require().NoError(err)
	suite.Require().Len(rows, 1)
	row := rows[0]
	assert.NotEqual(suite.T(), uuid.Nil, row.ID)
	assert.Equal(suite.T(), suite.now, row.CreatedAt)
	assert.Equal(suite.T(), models.AuditSuccess, row.Status)
	assert.Equal(suite.T(), "10.0.0.7", *row.IPAddress)
	assert.Equal(suite.T(), "curl/8", *row.UserAgent)
	assert.Equal(suite.T(), "req-42", row.Metadata["correlationId"])
}

func (suite *AuditLogsServiceTestSuite) TestRecord_FailureIsJournaledAndReplayed() {
	id := uuid.New()
	suite.service.Record(suite.ctx, suite.broken(), auditEntry(models.AuditAssign, nil, models.ResourceRequest, id, "assigned"))
	suite.failing.AssertExpectations(suite.T())

	_, err := os.Stat(suite.journal.Path())
	suite.Require().NoError(err)

	written, err := suite.service.ReplayJournal(suite.ctx)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 1, written)

	rows, err := suite.service.GetEntityHistory(suite.ctx, models.ResourceRequest, id)
	suite.Require().NoError(err)
	suite.Require().Len(rows, 1)
	assert.Equal(suite.T(), models.AuditAssign, rows[0].Action)

	_, err = os.Stat(suite.journal.Path())
	assert.True(suite.T(), errors.Is(err, os.ErrNotExist))
}

func (suite *AuditLogsServiceTestSuite) TestWithinTx_JournalsAfterRollback() {
	repos := suite.broken()
	boom := errors.New("business write failed")
	err := suite.service.WithinTx(suite.ctx, suite.store, func(ctx context.Context, _ *repositories.Repositories) error {
		suite.service.Record(ctx, repos, auditEntry(models.AuditCancel, nil, models.ResourceRequest, uuid.New(), "canceled"))
		// nothing is journaled until the transaction has finished
		_, statErr := os.Stat(suite.journal.Path())
		assert.True(suite.T(), errors.Is(statErr, os.ErrNotExist))
		return boom
	})
	assert.ErrorIs(suite.T(), err, boom)
	assert.Equal(suite.T(), 1, suite.journaled())
}

func (suite *AuditLogsServiceTestSuite) TestReplayJournal_NothingToDo() {
	written, err := suite.service.ReplayJournal(suite.ctx)
	suite.NoError(err)
	suite.Zero(written)
}

func (suite *AuditLogsServiceTestSuite) TestListAuditLogs_FiltersAndClampsLimit() {
	actorID := uuid.New()
	for i := 0; i < 3; i++ {
		suite.service.Record(suite.ctx, nil, auditEntry(models.AuditUpdate, &actorID, models.ResourceVendor, uuid.New(), "updated"))
	}
	suite.service.Record(suite.ctx, nil, auditEntry(models.AuditDelete, nil, models.ResourceVendor, uuid.New(), "deleted"))

	action := models.AuditUpdate
	filters := &models.AuditLogFilters{Action: &action, Limit: 5000}
	rows, total, err := suite.service.ListAuditLogs(suite.ctx, filters)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 3, total)
	assert.Len(suite.T(), rows, 3)
	assert.Equal(suite.T(), 50, filters.Limit)

	rows, total, err = suite.service.ListAuditLogs(suite.ctx, &models.AuditLogFilters{ActorID: &actorID, Limit: 2})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 3, total)
	assert.Len(suite.T(), rows, 2)
}

func (suite *AuditLogsServiceTestSuite) TestListAuditLogs_RejectsInvertedRange() {
	start := suite.now
	end := suite.now.Add(-time.Hour)
	_, _, err := suite.service.ListAuditLogs(suite.ctx, &models.AuditLogFilters{StartDate: &start, EndDate: &end})
	suite.ErrorIs(err, common.ErrValidation)
}

func (suite *AuditLogsServiceTestSuite) TestGetAuditLog_NotFound() {
	_, err := suite.service.GetAuditLog(suite.ctx, uuid.New())
	suite.ErrorIs(err, common.ErrNotFound)
}
