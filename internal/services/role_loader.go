package services

import (
	"context"
	"time"

	"fixit/internal/authz"
	"fixit/internal/caching"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RoleLoader resolves a user's property roles from PropertyUser rows. Rows are
// cached per user; every write to a user's rows must call Invalidate.
type RoleLoader struct {
	store  repositories.Store
	cache  caching.CacheService
	ttl    time.Duration
	logger *logrus.Logger
	clock  func() time.Time
}

var _ authz.RoleSource = (*RoleLoader)(nil)

func NewRoleLoader(store repositories.Store, cache caching.CacheService, ttl time.Duration, logger *logrus.Logger, clock func() time.Time) *RoleLoader {
	if clock == nil {
		clock = time.Now
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RoleLoader{store: store, cache: cache, ttl: ttl, logger: logger, clock: clock}
}

func (l *RoleLoader) rows(ctx context.Context, userID uuid.UUID) ([]*models.PropertyUser, error) {
	if l.cache != nil {
		rows, ok, err := l.cache.GetPropertyUsers(ctx, userID)
		if err != nil {
			l.logger.WithError(err).WithField("user_id", userID).Warn("property-user cache read failed")
		} else if ok {
			return rows, nil
		}
	}
	rows, err := l.store.Repos().PropertyUsers.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		if err := l.cache.SetPropertyUsers(ctx, userID, rows, l.ttl); err != nil {
			l.logger.WithError(err).WithField("user_id", userID).Warn("property-user cache write failed")
		}
	}
	return rows, nil
}

func (l *RoleLoader) current(pu *models.PropertyUser, now time.Time) bool {
	return pu.IsActive && (pu.EndDate == nil || pu.EndDate.After(now))
}

// RolesFor unions the roles of the user's current rows for one property.
func (l *RoleLoader) RolesFor(ctx context.Context, userID, propertyID uuid.UUID) (authz.PropertyRoles, error) {
	rows, err := l.rows(ctx, userID)
	if err != nil {
		return authz.PropertyRoles{}, err
	}
	now := l.clock()
	var out authz.PropertyRoles
	for _, pu := range rows {
		if pu.PropertyID != propertyID || !l.current(pu, now) {
			continue
		}
		out.Roles = out.Roles.Union(pu.Roles)
		if pu.Roles.Has(models.PropertyRoleTenant) && pu.UnitID != nil {
			out.TenantUnits = append(out.TenantUnits, *pu.UnitID)
		}
	}
	return out, nil
}

// Visibility turns the actor's roles into a list scope for requests and schedules.
// Admins get nil, meaning unrestricted.
func (l *RoleLoader) Visibility(ctx context.Context, actor authz.Actor) (*models.RequestVisibility, error) {
	if actor.Role == models.RoleAdmin {
		return nil, nil
	}
	rows, err := l.rows(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	now := l.clock()
	vis := &models.RequestVisibility{UserID: actor.ID}
	seen := map[uuid.UUID]bool{}
	for _, pu := range rows {
		if !l.current(pu, now) {
			continue
		}
		if pu.Roles.Intersects(models.ManagementRoles) && !seen[pu.PropertyID] {
			seen[pu.PropertyID] = true
			vis.ManagedProperties = append(vis.ManagedProperties, pu.PropertyID)
		}
		if actor.Role == models.RoleTenant && pu.Roles.Has(models.PropertyRoleTenant) && pu.UnitID != nil {
			vis.TenantUnits = append(vis.TenantUnits, *pu.UnitID)
		}
	}
	return vis, nil
}

// ManagedProperties lists the properties where the user holds a management role.
func (l *RoleLoader) ManagedProperties(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	vis, err := l.Visibility(ctx, authz.Actor{ID: userID})
	if err != nil {
		return nil, err
	}
	return vis.ManagedProperties, nil
}

func (l *RoleLoader) Invalidate(ctx context.Context, userID uuid.UUID) {
	if l.cache == nil {
		return
	}
	if err := l.cache.InvalidatePropertyUsers(ctx, userID); err != nil {
		l.logger.WithError(err).WithField("user_id", userID).Warn("property-user cache invalidation failed")
	}
}
