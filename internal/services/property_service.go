package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fixit/internal/authz"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type PropertyService interface {
	CreateProperty(ctx context.Context, actor authz.Actor, in PropertyInput) (*models.Property, error)
	GetProperty(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.Property, error)
	ListProperties(ctx context.Context, actor authz.Actor, page, limit int) ([]*models.Property, int, error)

	CreateUnit(ctx context.Context, actor authz.Actor, propertyID uuid.UUID, in UnitInput) (*models.Unit, error)
	ListUnits(ctx context.Context, actor authz.Actor, propertyID uuid.UUID) ([]*models.Unit, error)

	AddPropertyUser(ctx context.Context, actor authz.Actor, propertyID uuid.UUID, in PropertyUserInput) (*models.PropertyUser, error)
	DeactivatePropertyUser(ctx context.Context, actor authz.Actor, propertyID, propertyUserID uuid.UUID) error
	Roster(ctx context.Context, actor authz.Actor, propertyID uuid.UUID, activeOnly bool) ([]*models.RosterEntry, error)
}

type PropertyInput struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
}

type UnitInput struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

type PropertyUserInput struct {
	UserID    uuid.UUID  `json:"user"`
	UnitID    *uuid.UUID `json:"unit,omitempty"`
	Roles     []string   `json:"roles"`
	StartDate *time.Time `json:"startDate,omitempty"`
	// Active rows grant access immediately; inactive rows wait for ApproveUser.
	Active bool `json:"isActive"`
}

type propertyService struct {
	store  repositories.Store
	authz  *authz.Resolver
	roles  *RoleLoader
	audit  AuditLogsService
	logger *logrus.Logger
	clock  func() time.Time
}

func NewPropertyService(store repositories.Store, resolver *authz.Resolver, roles *RoleLoader, audit AuditLogsService,
	logger *logrus.Logger, clock func() time.Time) PropertyService {
	if clock == nil {
		clock = time.Now
	}
	return &propertyService{store: store, authz: resolver, roles: roles, audit: audit, logger: logger, clock: clock}
}

func (s *propertyService) now() time.Time { return s.clock().UTC() }

func propertyTarget(id uuid.UUID) authz.Target {
	return authz.Target{Kind: authz.TargetProperty, PropertyID: &id}
}

// CreateProperty makes the creator its landlord.
func (s *propertyService) CreateProperty(ctx context.Context, actor authz.Actor, in PropertyInput) (*models.Property, error) {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleLandlord {
		return nil, common.Forbidden("only landlords can create properties")
	}
	if err := common.ValidateRequiredString(in.Name, "name", 200); err != nil {
		return nil, err
	}
	if err := common.ValidateRequiredString(in.Address, "address", 500); err != nil {
		return nil, err
	}

	now := s.now()
	owner := actor.ID
	property := &models.Property{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(in.Name),
		Address:   strings.TrimSpace(in.Address),
		City:      strings.TrimSpace(in.City),
		Country:   strings.TrimSpace(in.Country),
		OwnerID:   &owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.audit.WithinTx(ctx, s.store, func(ctx context.Context, repos *repositories.Repositories) error {
		if err := repos.Properties.CreateProperty(ctx, property); err != nil {
			return err
		}
		role := models.PropertyRoleLandlord
		if actor.Role == models.RoleAdmin {
			role = models.PropertyRoleAdminAccess
		}
		membership := &models.PropertyUser{
			ID:         uuid.New(),
			UserID:     actor.ID,
			PropertyID: property.ID,
			Roles:      models.NewRoleSet(role),
			IsActive:   true,
			StartDate:  now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := repos.PropertyUsers.Create(ctx, membership); err != nil {
			return err
		}
		entry := auditEntry(models.AuditCreate, uuidPtr(actor.ID), models.ResourceProperty, property.ID,
			fmt.Sprintf("Property %q created", property.Name))
		entry.NewValue = models.JSONB{"name": property.Name, "address": property.Address}
		s.audit.Record(ctx, repos, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.roles.Invalidate(ctx, actor.ID)
	return property, nil
}

func (s *propertyService) GetProperty(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.Property, error) {
	property, err := s.store.Repos().Properties.GetProperty(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin {
		roles, err := s.authz.RolesFor(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		if roles.Roles.Empty() {
			return nil, common.NotFound("property")
		}
	}
	return property, nil
}

// ListProperties shows admins everything and others the properties they belong to.
func (s *propertyService) ListProperties(ctx context.Context, actor authz.Actor, page, limit int) ([]*models.Property, int, error) {
	page, limit = common.ValidatePaginationParams(page, limit)
	offset := pageOffset(page, limit)
	if actor.Role == models.RoleAdmin {
		return s.store.Repos().Properties.ListProperties(ctx, nil, limit, offset)
	}
	rows, err := s.store.Repos().PropertyUsers.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	ids := []uuid.UUID{}
	seen := map[uuid.UUID]bool{}
	for _, pu := range rows {
		if !pu.IsActive || (pu.EndDate != nil && !pu.EndDate.After(now)) || seen[pu.PropertyID] {
			continue
		}
		seen[pu.PropertyID] = true
		ids = append(ids, pu.PropertyID)
	}
	return s.store.Repos().Properties.ListProperties(ctx, ids, limit, offset)
}

func (s *propertyService) CreateUnit(ctx context.Context, actor authz.Actor, propertyID uuid.UUID, in UnitInput) (*models.Unit, error) {
	if err := s.authz.Require(ctx, actor, authz.ActionCreate, propertyTarget(propertyID)); err != nil {
		return nil, err
	}
	if _, err := s.store.Repos().Properties.GetProperty(ctx, propertyID); err != nil {
		return nil, err
	}
	if err := common.ValidateRequiredString(in.Name, "name", 100); err != nil {
		return nil, err
	}
	status := models.UnitVacant
	if in.Status != "" {
		status = models.UnitStatus(in.Status)
		if !status.Valid() {
			return nil, common.Validation("invalid unit status",
				common.FieldError{Field: "status", Reason: "one of vacant, occupied, unavailable"})
		}
	}
	now := s.now()
	unit := &models.Unit{
		ID:         uuid.New(),
		PropertyID: propertyID,
		Name:       strings.TrimSpace(in.Name),
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Repos().Properties.CreateUnit(ctx, unit); err != nil {
		return nil, err
	}
	entry := auditEntry(models.AuditCreate, uuidPtr(actor.ID), models.ResourceUnit, unit.ID,
		fmt.Sprintf("Unit %q added", unit.Name))
	entry.Metadata["propertyId"] = propertyID.String()
	s.audit.Record(ctx, nil, entry)
	return unit, nil
}

func (s *propertyService) ListUnits(ctx context.Context, actor authz.Actor, propertyID uuid.UUID) ([]*models.Unit, error) {
	if _, err := s.GetProperty(ctx, actor, propertyID); err != nil {
		return nil, err
	}
	return s.store.Repos().Properties.ListUnits(ctx, propertyID)
}

// AddPropertyUser grants a user roles on the property. Tenant rows must name
// a unit of this property.
func (s *propertyService) AddPropertyUser(ctx context.Context, actor authz.Actor, propertyID uuid.UUID, in PropertyUserInput) (*models.PropertyUser, error) {
	if err := s.authz.Require(ctx, actor, authz.ActionCreate, propertyTarget(propertyID)); err != nil {
		return nil, err
	}
	roles, err := models.ParseRoleSet(in.Roles)
	if err != nil {
		return nil, common.Validation(err.Error(), common.FieldError{Field: "roles", Reason: "unknown role"})
	}
	if roles.Has(models.PropertyRoleAdminAccess) && actor.Role != models.RoleAdmin {
		return nil, common.Forbidden("only admins can grant admin access")
	}

	repos := s.store.Repos()
	user, err := repos.Users.GetByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if user.IsExternal || user.Status == models.StatusDeactivated {
		return nil, common.StateError("user cannot be added to a property")
	}
	if in.UnitID != nil {
		unit, err := repos.Properties.GetUnit(ctx, *in.UnitID)
		if err != nil {
			return nil, err
		}
		if unit.PropertyID != propertyID {
			return nil, common.Validation("unit does not belong to this property",
				common.FieldError{Field: "unit", Reason: "not in property"})
		}
	}

	now := s.now()
	start := now
	if in.StartDate != nil {
		start = in.StartDate.UTC()
	}
	pu := &models.PropertyUser{
		ID:         uuid.New(),
		UserID:     user.ID,
		PropertyID: propertyID,
		UnitID:     in.UnitID,
		Roles:      roles,
		IsActive:   in.Active && user.Status == models.StatusActive,
		StartDate:  start,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := pu.Validate(); err != nil {
		return nil, common.Validation(err.Error(), common.FieldError{Field: "roles", Reason: err.Error()})
	}
	if err := repos.PropertyUsers.Create(ctx, pu); err != nil {
		return nil, err
	}
	entry := auditEntry(models.AuditCreate, uuidPtr(actor.ID), models.ResourcePropertyUser, pu.ID,
		fmt.Sprintf("%s added to property with roles %s", user.Email, strings.Join(roles.Strings(), ", ")))
	entry.Metadata["propertyId"] = propertyID.String()
	entry.Metadata["userId"] = user.ID.String()
	s.audit.Record(ctx, nil, entry)
	s.roles.Invalidate(ctx, user.ID)
	return pu, nil
}

// DeactivatePropertyUser ends a membership; the row is kept for history.
func (s *propertyService) DeactivatePropertyUser(ctx context.Context, actor authz.Actor, propertyID, propertyUserID uuid.UUID) error {
	if err := s.authz.Require(ctx, actor, authz.ActionDelete, propertyTarget(propertyID)); err != nil {
		return err
	}
	repos := s.store.Repos()
	pu, err := repos.PropertyUsers.GetByID(ctx, propertyUserID)
	if err != nil {
		return err
	}
	if pu.PropertyID != propertyID {
		return common.NotFound("property user")
	}
	if !pu.IsActive && pu.EndDate != nil {
		return nil
	}
	now := s.now()
	pu.IsActive = false
	pu.EndDate = &now
	pu.UpdatedAt = now
	if err := repos.PropertyUsers.Update(ctx, pu); err != nil {
		return err
	}
	entry := auditEntry(models.AuditDelete, uuidPtr(actor.ID), models.ResourcePropertyUser, pu.ID, "Property membership ended")
	entry.Metadata["propertyId"] = propertyID.String()
	entry.Metadata["userId"] = pu.UserID.String()
	s.audit.Record(ctx, nil, entry)
	s.roles.Invalidate(ctx, pu.UserID)
	return nil
}

func (s *propertyService) Roster(ctx context.Context, actor authz.Actor, propertyID uuid.UUID, activeOnly bool) ([]*models.RosterEntry, error) {
	if err := s.authz.Require(ctx, actor, authz.ActionViewRoster, propertyTarget(propertyID)); err != nil {
		return nil, err
	}
	repos := s.store.Repos()
	rows, err := repos.PropertyUsers.ListByProperty(ctx, propertyID, activeOnly)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, pu := range rows {
		ids = append(ids, pu.UserID)
	}
	users, err := repos.Users.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]*models.RosterEntry, 0, len(rows))
	for _, pu := range rows {
		entry := &models.RosterEntry{PropertyUser: *pu}
		if u, ok := byID[pu.UserID]; ok {
			entry.Name = u.DisplayName()
			entry.Email = u.Email
			entry.Role = u.Role
		}
		out = append(out, entry)
	}
	return out, nil
}
