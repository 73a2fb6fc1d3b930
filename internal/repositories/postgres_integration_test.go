package repositories_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"
	"fixit/testhelpers"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

// PostgresStoreTestSuite runs the repositories against a real database.
type PostgresStoreTestSuite struct {
	suite.Suite
	db       *testhelpers.TestDB
	property *models.Property
	unit     *models.Unit
	manager  *models.User
	ctx      context.Context
}

func TestPostgresStoreTestSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreTestSuite))
}

func (s *PostgresStoreTestSuite) SetupSuite() {
	s.db = testhelpers.SetupTestDB(s.T())
	s.ctx = context.Background()
}

func (s *PostgresStoreTestSuite) TearDownSuite() {
	if s.db != nil {
		s.NoError(s.db.Cleanup())
	}
}

func (s *PostgresStoreTestSuite) SetupTest() {
	s.property, s.unit = testhelpers.SeedProperty(s.T(), s.db)
	s.manager = testhelpers.SeedUser(s.T(), s.db, models.RolePropertyManager)
}

func (s *PostgresStoreTestSuite) TearDownTest() {
	testhelpers.CleanupProperty(s.T(), s.db, s.property.ID)
}

func (s *PostgresStoreTestSuite) newRequest() *models.Request {
	return &models.Request{
		Title:      "Broken window",
		Category:   "glazing",
		Priority:   models.PriorityHigh,
		Status:     models.RequestNew,
		PropertyID: s.property.ID,
		UnitID:     &s.unit.ID,
		CreatedBy:  s.manager.ID,
		IsActive:   true,
	}
}

func (s *PostgresStoreTestSuite) TestMigrateIsRepeatable() {
	s.NoError(repositories.Migrate(s.ctx, s.db.Pool))
}

func (s *PostgresStoreTestSuite) TestRequestRoundTripAndVersioning() {
	repos := s.db.Store.Repos()
	req := s.newRequest()
	s.Require().NoError(repos.Requests.Create(s.ctx, req))
	s.Equal(1, req.Version)

	stale := *req
	now := time.Now().UTC()
	req.AssignedTo = models.UserAssignee(s.manager.ID)
	req.AssignedAt = &now
	req.AppendHistory(models.RequestAssigned, models.StatusChange{ChangedAt: now})
	s.Require().NoError(repos.Requests.Update(s.ctx, req))
	s.Equal(2, req.Version)

	err := repos.Requests.Update(s.ctx, &stale)
	s.ErrorIs(err, repositories.ErrVersionConflict)

	got, err := repos.Requests.GetByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestAssigned, got.Status)
	s.True(got.AssignedTo.IsUser(s.manager.ID))
	s.Len(got.StatusHistory, 1)
}

func (s *PostgresStoreTestSuite) TestPublicTokenLookup() {
	repos := s.db.Store.Repos()
	req := s.newRequest()
	s.Require().NoError(repos.Requests.Create(s.ctx, req))

	hash := uuid.NewString()
	expires := time.Now().Add(time.Hour).UTC()
	req.PublicLink = models.PublicLink{TokenHash: &hash, Enabled: true, ExpiresAt: &expires}
	s.Require().NoError(repos.Requests.Update(s.ctx, req))

	got, err := repos.Requests.GetByPublicTokenHash(s.ctx, hash)
	s.Require().NoError(err)
	s.Equal(req.ID, got.ID)
	s.True(got.PublicLink.Usable(time.Now()))

	_, err = repos.Requests.GetByPublicTokenHash(s.ctx, "unknown")
	s.ErrorIs(err, common.ErrNotFound)
}

func (s *PostgresStoreTestSuite) TestWithinTxRollsBack() {
	req := s.newRequest()
	boom := errors.New("boom")

	err := s.db.Store.WithinTx(s.ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		if err := repos.Requests.Create(ctx, req); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.db.Store.Repos().Requests.GetByID(s.ctx, req.ID)
	s.ErrorIs(err, common.ErrNotFound)
}

func (s *PostgresStoreTestSuite) TestListFiltersByStatus() {
	repos := s.db.Store.Repos()
	for i := 0; i < 3; i++ {
		s.Require().NoError(repos.Requests.Create(s.ctx, s.newRequest()))
	}
	status := models.RequestNew
	rows, total, err := repos.Requests.List(s.ctx, models.RequestFilters{
		PropertyIDs: []uuid.UUID{s.property.ID},
		Status:      &status,
		Limit:       2,
	})
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Len(rows, 2)
}
