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
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type RequestRepoTestSuite struct {
	suite.Suite
	mock    pgxmock.PgxPoolIface
	repo    RequestRepository
	context context.Context
}

func (suite *RequestRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock
	suite.repo = NewRequestRepo(mock)
	suite.context = context.Background()
}

func (suite *RequestRepoTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestRequestRepoTestSuite(t *testing.T) {
	suite.Run(t, new(RequestRepoTestSuite))
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func newRequest() *models.Request {
	unit := uuid.New()
	return &models.Request{
		Title:      "Leaky tap",
		Category:   "plumbing",
		Priority:   models.PriorityMedium,
		Status:     models.RequestNew,
		PropertyID: uuid.New(),
		UnitID:     &unit,
		CreatedBy:  uuid.New(),
		IsActive:   true,
	}
}

func (suite *RequestRepoTestSuite) TestCreate_AssignsIDAndVersion() {
	req := newRequest()
	suite.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests (")).
		WithArgs(anyArgs(27)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := suite.repo.Create(suite.context, req)
	assert.NoError(suite.T(), err)
	assert.NotEqual(suite.T(), uuid.Nil, req.ID)
	assert.Equal(suite.T(), 1, req.Version)
	assert.Equal(suite.T(), req.CreatedAt, req.UpdatedAt)
}

func (suite *RequestRepoTestSuite) TestCreate_MaterialisationKeyViolation() {
	req := newRequest()
	suite.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests (")).
		WithArgs(anyArgs(27)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: MaterialisationConstraint})

	err := suite.repo.Create(suite.context, req)
	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), common.KindConflict, common.KindOf(err))
	assert.True(suite.T(), IsUniqueViolation(err, MaterialisationConstraint))
	assert.False(suite.T(), IsUniqueViolation(err, "users_email_key"))
}

func (suite *RequestRepoTestSuite) TestUpdate_BumpsVersion() {
	req := newRequest()
	req.ID = uuid.New()
	req.Version = 3
	suite.mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET")).
		WithArgs(append([]any{req.ID, 3}, anyArgs(19)...)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := suite.repo.Update(suite.context, req)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 4, req.Version)
}

func (suite *RequestRepoTestSuite) TestUpdate_StaleVersion() {
	req := newRequest()
	req.ID = uuid.New()
	req.Version = 2
	suite.mock.ExpectExec(regexp.QuoteMeta("UPDATE requests SET")).
		WithArgs(anyArgs(21)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := suite.repo.Update(suite.context, req)
	assert.True(suite.T(), errors.Is(err, ErrVersionConflict))
	assert.Equal(suite.T(), 2, req.Version)
}

func (suite *RequestRepoTestSuite) TestDelete_NotFound() {
	id := uuid.New()
	suite.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM requests WHERE id = $1")).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := suite.repo.Delete(suite.context, id)
	assert.True(suite.T(), errors.Is(err, common.ErrNotFound))
}

func (suite *RequestRepoTestSuite) TestFindOpenGenerated_None() {
	scheduleID := uuid.New()
	suite.mock.ExpectQuery(regexp.QuoteMeta("WHERE generated_from_scheduled_maintenance = $1")).
		WithArgs(scheduleID, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	req, err := suite.repo.FindOpenGenerated(suite.context, scheduleID)
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), req)
}

func (suite *RequestRepoTestSuite) TestMarkReminded_OncePerDay() {
	id := uuid.New()
	day := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("INSERT INTO request_reminders (request_id, sweep_day)")
	suite.mock.ExpectExec(query).WithArgs(id, "2025-03-04").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	suite.mock.ExpectExec(query).WithArgs(id, "2025-03-04").WillReturnResult(pgxmock.NewResult("INSERT", 0))

	first, err := suite.repo.MarkReminded(suite.context, id, day)
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), first)

	second, err := suite.repo.MarkReminded(suite.context, id, day)
	assert.NoError(suite.T(), err)
	assert.False(suite.T(), second)
}

func (suite *RequestRepoTestSuite) TestList_CountFailure() {
	suite.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM requests WHERE status = $1")).
		WithArgs("new").
		WillReturnError(context.DeadlineExceeded)

	status := models.RequestNew
	_, _, err := suite.repo.List(suite.context, models.RequestFilters{Status: &status, Limit: 10})
	assert.Equal(suite.T(), common.KindExternalDependency, common.KindOf(err))
}
