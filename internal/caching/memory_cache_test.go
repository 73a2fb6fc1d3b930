package caching

import (
	"context"
	"testing"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type MemoryCacheTestSuite struct {
	suite.Suite
	now   time.Time
	cache *memoryCacheService
	ctx   context.Context
}

func (s *MemoryCacheTestSuite) SetupTest() {
	s.now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.cache = newMemoryCache(func() time.Time { return s.now })
	s.ctx = context.Background()
}

func TestMemoryCacheTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryCacheTestSuite))
}

func (s *MemoryCacheTestSuite) TestPropertyUsers_RoundTripAndInvalidate() {
	userID := uuid.New()
	unit := uuid.New()
	rows := []*models.PropertyUser{{
		ID: uuid.New(), UserID: userID, PropertyID: uuid.New(), UnitID: &unit,
		Roles: models.NewRoleSet(models.PropertyRoleTenant), IsActive: true,
	}}

	_, ok, err := s.cache.GetPropertyUsers(s.ctx, userID)
	s.NoError(err)
	s.False(ok)

	s.NoError(s.cache.SetPropertyUsers(s.ctx, userID, rows, time.Minute))
	got, ok, err := s.cache.GetPropertyUsers(s.ctx, userID)
	s.NoError(err)
	s.True(ok)
	s.Require().Len(got, 1)
	s.True(got[0].Roles.Has(models.PropertyRoleTenant))
	s.Equal(unit, *got[0].UnitID)

	s.NoError(s.cache.InvalidatePropertyUsers(s.ctx, userID))
	_, ok, _ = s.cache.GetPropertyUsers(s.ctx, userID)
	s.False(ok)
}

func (s *MemoryCacheTestSuite) TestPropertyUsers_EmptyListIsAHit() {
	userID := uuid.New()
	s.NoError(s.cache.SetPropertyUsers(s.ctx, userID, nil, time.Minute))
	got, ok, err := s.cache.GetPropertyUsers(s.ctx, userID)
	s.NoError(err)
	s.True(ok)
	s.Empty(got)
}

func (s *MemoryCacheTestSuite) TestEntriesExpire() {
	s.NoError(s.cache.SetString(s.ctx, "verify:abc", "user", time.Minute))
	v, err := s.cache.GetString(s.ctx, "verify:abc")
	s.NoError(err)
	s.Equal("user", v)

	s.now = s.now.Add(time.Minute)
	v, err = s.cache.GetString(s.ctx, "verify:abc")
	s.NoError(err)
	s.Empty(v)
}

func (s *MemoryCacheTestSuite) TestTakeString_IsOneShot() {
	s.NoError(s.cache.SetString(s.ctx, "reset:abc", "user", time.Hour))
	v, err := s.cache.TakeString(s.ctx, "reset:abc")
	s.NoError(err)
	s.Equal("user", v)

	v, err = s.cache.TakeString(s.ctx, "reset:abc")
	s.NoError(err)
	s.Empty(v)
}

func (s *MemoryCacheTestSuite) TestRevokeUserSessions() {
	alice, bob := uuid.New(), uuid.New()
	s.NoError(s.cache.SetSession(s.ctx, "a1", alice, time.Hour))
	s.NoError(s.cache.SetSession(s.ctx, "a2", alice, time.Hour))
	s.NoError(s.cache.SetSession(s.ctx, "b1", bob, time.Hour))

	s.NoError(s.cache.RevokeUserSessions(s.ctx, alice))

	_, ok, _ := s.cache.GetSession(s.ctx, "a1")
	s.False(ok)
	_, ok, _ = s.cache.GetSession(s.ctx, "a2")
	s.False(ok)
	owner, ok, err := s.cache.GetSession(s.ctx, "b1")
	s.NoError(err)
	s.True(ok)
	s.Equal(bob, owner)
}

func (s *MemoryCacheTestSuite) TestDeleteSession() {
	alice := uuid.New()
	s.NoError(s.cache.SetSession(s.ctx, "a1", alice, time.Hour))
	s.NoError(s.cache.DeleteSession(s.ctx, "a1"))
	_, ok, _ := s.cache.GetSession(s.ctx, "a1")
	s.False(ok)
}

func (s *MemoryCacheTestSuite) TestIsRateLimited_WindowResets() {
	for i := 0; i < 3; i++ {
		limited, err := s.cache.IsRateLimited(s.ctx, "ip:1", 3, time.Minute)
		s.NoError(err)
		s.False(limited)
	}
	limited, err := s.cache.IsRateLimited(s.ctx, "ip:1", 3, time.Minute)
	s.NoError(err)
	s.True(limited)

	s.now = s.now.Add(time.Minute + time.Second)
	limited, err = s.cache.IsRateLimited(s.ctx, "ip:1", 3, time.Minute)
	s.NoError(err)
	s.False(limited)
}
