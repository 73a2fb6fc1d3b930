package repositories

import (
	"context"
	"regexp"
	"testing"

	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type UserRepoTestSuite struct {
	suite.Suite
	mock    pgxmock.PgxPoolIface
	repo    UserRepository
	context context.Context
}

func (suite *UserRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock
	suite.repo = NewUserRepo(mock)
	suite.context = context.Background()
}

func (suite *UserRepoTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestUserRepoTestSuite(t *testing.T) {
	suite.Run(t, new(UserRepoTestSuite))
}

func (suite *UserRepoTestSuite) TestGetByEmail_NotFound() {
	suite.mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	user, err := suite.repo.GetByEmail(suite.context, "nobody@example.com")
	assert.Nil(suite.T(), user)
	assert.Equal(suite.T(), common.KindNotFound, common.KindOf(err))
}

func (suite *UserRepoTestSuite) TestCreate_DuplicateEmail() {
	user := &models.User{
		Email:     "pm@example.com",
		FirstName: "Pat",
		LastName:  "Manager",
		Role:      models.RolePropertyManager,
		Status:    models.StatusActive,
	}
	suite.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(anyArgs(13)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	err := suite.repo.Create(suite.context, user)
	assert.Equal(suite.T(), common.KindConflict, common.KindOf(err))
}

func (suite *UserRepoTestSuite) TestUpdatePassword_Missing() {
	id := uuid.New()
	suite.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash")).
		WithArgs(id, "hash", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := suite.repo.UpdatePassword(suite.context, id, "hash")
	assert.Equal(suite.T(), common.KindNotFound, common.KindOf(err))
}
