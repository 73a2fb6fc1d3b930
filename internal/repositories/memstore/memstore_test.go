package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRequest(t *testing.T, s *Store) *models.Request {
	t.Helper()
	req := &models.Request{
		Title:      "Leaky tap",
		Category:   "plumbing",
		Priority:   models.PriorityMedium,
		Status:     models.RequestNew,
		PropertyID: uuid.New(),
		CreatedBy:  uuid.New(),
		IsActive:   true,
	}
	require.NoError(t, s.Repos().Requests.Create(context.Background(), req))
	return req
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := seedRequest(t, s)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		loaded, err := repos.Requests.GetByID(ctx, req.ID)
		require.NoError(t, err)
		loaded.Status = models.RequestCanceled
		require.NoError(t, repos.Requests.Update(ctx, loaded))
		require.NoError(t, repos.Comments.Create(ctx, &models.Comment{
			ContextKind: models.ContextRequest, ContextID: req.ID, Message: "gone",
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	after, err := s.Repos().Requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestNew, after.Status)
	assert.Equal(t, 1, after.Version)

	comments, err := s.Repos().Comments.ListByContext(ctx, models.ContextRequest, req.ID, true)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestWithinTx_CommitsAndJoinsNested(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := seedRequest(t, s)

	err := s.WithinTx(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		return s.WithinTx(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
			// the pool-bound repos join the transaction through ctx
			loaded, err := s.Repos().Requests.GetByID(ctx, req.ID)
			if err != nil {
				return err
			}
			loaded.Title = "Dripping tap"
			return repos.Requests.Update(ctx, loaded)
		})
	})
	require.NoError(t, err)

	after, err := s.Repos().Requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dripping tap", after.Title)
	assert.Equal(t, 2, after.Version)
}

func TestWithinTx_CancelledContextAborts(t *testing.T) {
	s := New()
	req := seedRequest(t, s)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithinTx(ctx, func(txCtx context.Context, repos *repositories.Repositories) error {
		loaded, err := repos.Requests.GetByID(txCtx, req.ID)
		require.NoError(t, err)
		loaded.Title = "never"
		require.NoError(t, repos.Requests.Update(txCtx, loaded))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	after, err := s.Repos().Requests.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Leaky tap", after.Title)
}

func TestRequestUpdate_StaleVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := seedRequest(t, s)

	first, _ := s.Repos().Requests.GetByID(ctx, req.ID)
	second, _ := s.Repos().Requests.GetByID(ctx, req.ID)
	require.NoError(t, s.Repos().Requests.Update(ctx, first))
	assert.ErrorIs(t, s.Repos().Requests.Update(ctx, second), repositories.ErrVersionConflict)
}

func TestRequestCreate_MaterialisationKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	scheduleID := uuid.New()
	due := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	mk := func() *models.Request {
		d := due
		sid := scheduleID
		return &models.Request{
			Title: "Boiler", Status: models.RequestNew, Priority: models.PriorityLow,
			PropertyID: uuid.New(), CreatedBy: uuid.New(), GeneratedFrom: &sid, GeneratedForDueDate: &d,
		}
	}
	require.NoError(t, s.Repos().Requests.Create(ctx, mk()))
	err := s.Repos().Requests.Create(ctx, mk())
	assert.Equal(t, common.KindConflict, common.KindOf(err))
	assert.True(t, repositories.IsUniqueViolation(err, repositories.MaterialisationConstraint))
}

func TestUserCreate_UniqueEmail(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Repos().Users.Create(ctx, &models.User{Email: "a@example.com", Role: models.RoleTenant}))
	err := s.Repos().Users.Create(ctx, &models.User{Email: "a@example.com", Role: models.RoleVendor})
	assert.True(t, errors.Is(err, common.ErrConflict))
}

func TestClonesIsolateCallers(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := seedRequest(t, s)

	loaded, err := s.Repos().Requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	loaded.StatusHistory = append(loaded.StatusHistory, models.StatusChange{Status: "mutated"})

	again, err := s.Repos().Requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, again.StatusHistory)
}

func TestRequestList_Visibility(t *testing.T) {
	s := New()
	ctx := context.Background()
	unit := uuid.New()
	own := seedRequest(t, s)
	other := seedRequest(t, s)
	onUnit := &models.Request{
		Title: "Door", Status: models.RequestNew, Priority: models.PriorityLow,
		PropertyID: uuid.New(), UnitID: &unit, CreatedBy: uuid.New(),
	}
	require.NoError(t, s.Repos().Requests.Create(ctx, onUnit))

	out, total, err := s.Repos().Requests.List(ctx, models.RequestFilters{
		VisibleTo: &models.RequestVisibility{UserID: own.CreatedBy, TenantUnits: []uuid.UUID{unit}},
		Limit:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	ids := []uuid.UUID{out[0].ID, out[1].ID}
	assert.Contains(t, ids, own.ID)
	assert.Contains(t, ids, onUnit.ID)
	assert.NotContains(t, ids, other.ID)
}
