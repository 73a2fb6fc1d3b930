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

type VendorService interface {
	Create(ctx context.Context, actor authz.Actor, in VendorInput) (*models.Vendor, error)
	GetByID(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.Vendor, error)
	Update(ctx context.Context, actor authz.Actor, id uuid.UUID, in VendorInput) (*models.Vendor, error)
	Delete(ctx context.Context, actor authz.Actor, id uuid.UUID) error
	List(ctx context.Context, actor authz.Actor, filters models.VendorFilters) ([]*models.Vendor, int, error)
}

type VendorInput struct {
	Name        string      `json:"name"`
	ContactName string      `json:"contactName"`
	Email       *string     `json:"email,omitempty"`
	Phone       *string     `json:"phone,omitempty"`
	Services    []string    `json:"services"`
	PropertyIDs []uuid.UUID `json:"properties"`
	IsActive    *bool       `json:"isActive,omitempty"`
}

type vendorService struct {
	store  repositories.Store
	authz  *authz.Resolver
	roles  *RoleLoader
	audit  AuditLogsService
	logger *logrus.Logger
	clock  func() time.Time
}

func NewVendorService(store repositories.Store, resolver *authz.Resolver, roles *RoleLoader, audit AuditLogsService,
	logger *logrus.Logger, clock func() time.Time) VendorService {
	if clock == nil {
		clock = time.Now
	}
	return &vendorService{store: store, authz: resolver, roles: roles, audit: audit, logger: logger, clock: clock}
}

// requireScope checks the actor manages every listed property. Vendors with
// no properties are shared across the platform and only admins may write them.
func (s *vendorService) requireScope(ctx context.Context, actor authz.Actor, action authz.Action, propertyIDs []uuid.UUID) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if len(propertyIDs) == 0 {
		return common.Forbidden("only admins can manage vendors shared by every property")
	}
	for _, id := range propertyIDs {
		propertyID := id
		err := s.authz.Require(ctx, actor, action, authz.Target{Kind: authz.TargetVendor, PropertyID: &propertyID})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *vendorService) validate(in VendorInput) (*models.Vendor, error) {
	if err := common.ValidateRequiredString(in.Name, "name", 200); err != nil {
		return nil, err
	}
	v := &models.Vendor{
		Name:        strings.TrimSpace(in.Name),
		ContactName: strings.TrimSpace(in.ContactName),
		Services:    []string{},
		PropertyIDs: []uuid.UUID{},
		IsActive:    true,
	}
	if in.Email != nil && strings.TrimSpace(*in.Email) != "" {
		email, err := common.ValidateEmail(*in.Email, "email")
		if err != nil {
			return nil, err
		}
		v.Email = &email
	}
	if in.Phone != nil && strings.TrimSpace(*in.Phone) != "" {
		phone, err := common.ValidatePhone(*in.Phone, "phone")
		if err != nil {
			return nil, err
		}
		v.Phone = &phone
	}
	if v.Email == nil && v.Phone == nil {
		return nil, common.Validation("a vendor needs an email or a phone number",
			common.FieldError{Field: "email", Reason: "email or phone required"})
	}
	for _, svc := range in.Services {
		if svc = strings.TrimSpace(svc); svc != "" {
			v.Services = append(v.Services, svc)
		}
	}
	seen := map[uuid.UUID]bool{}
	for _, id := range in.PropertyIDs {
		if !seen[id] {
			seen[id] = true
			v.PropertyIDs = append(v.PropertyIDs, id)
		}
	}
	if in.IsActive != nil {
		v.IsActive = *in.IsActive
	}
	return v, nil
}

func (s *vendorService) auditView(v *models.Vendor) models.JSONB {
	ids := make([]string, len(v.PropertyIDs))
	for i, id := range v.PropertyIDs {
		ids[i] = id.String()
	}
	return models.JSONB{
		"name":        v.Name,
		"contactName": v.ContactName,
		"services":    v.Services,
		"properties":  ids,
		"isActive":    v.IsActive,
	}
}

func (s *vendorService) Create(ctx context.Context, actor authz.Actor, in VendorInput) (*models.Vendor, error) {
	vendor, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	if err := s.requireScope(ctx, actor, authz.ActionCreate, vendor.PropertyIDs); err != nil {
		return nil, err
	}
	repos := s.store.Repos()
	for _, id := range vendor.PropertyIDs {
		if _, err := repos.Properties.GetProperty(ctx, id); err != nil {
			return nil, err
		}
	}
	vendor.ID = uuid.New()
	if err := repos.Vendors.Create(ctx, vendor); err != nil {
		return nil, err
	}
	entry := auditEntry(models.AuditCreate, uuidPtr(actor.ID), models.ResourceVendor, vendor.ID,
		fmt.Sprintf("Vendor %q created", vendor.Name))
	entry.NewValue = s.auditView(vendor)
	s.audit.Record(ctx, nil, entry)
	return vendor, nil
}

// readable reports whether a non-admin may see the vendor: global vendors
// are visible to every manager, scoped ones to managers of a listed property.
func (s *vendorService) readable(ctx context.Context, actor authz.Actor, v *models.Vendor) (bool, error) {
	if actor.Role == models.RoleAdmin {
		return true, nil
	}
	managed, err := s.roles.ManagedProperties(ctx, actor.ID)
	if err != nil {
		return false, err
	}
	if len(managed) == 0 {
		return false, nil
	}
	if len(v.PropertyIDs) == 0 {
		return true, nil
	}
	for _, id := range managed {
		if v.ServesProperty(id) {
			return true, nil
		}
	}
	return false, nil
}

func (s *vendorService) GetByID(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.Vendor, error) {
	vendor, err := s.store.Repos().Vendors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.readable(ctx, actor, vendor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NotFound("vendor")
	}
	return vendor, nil
}

func (s *vendorService) Update(ctx context.Context, actor authz.Actor, id uuid.UUID, in VendorInput) (*models.Vendor, error) {
	repos := s.store.Repos()
	existing, err := repos.Vendors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireScope(ctx, actor, authz.ActionUpdate, existing.PropertyIDs); err != nil {
		return nil, err
	}
	next, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	if err := s.requireScope(ctx, actor, authz.ActionUpdate, next.PropertyIDs); err != nil {
		return nil, err
	}
	for _, pid := range next.PropertyIDs {
		if _, err := repos.Properties.GetProperty(ctx, pid); err != nil {
			return nil, err
		}
	}
	before := s.auditView(existing)

	next.ID = existing.ID
	next.AverageRating = existing.AverageRating
	next.TotalRatings = existing.TotalRatings
	next.TotalJobsCompleted = existing.TotalJobsCompleted
	if in.IsActive == nil {
		next.IsActive = existing.IsActive
	}
	if err := repos.Vendors.Update(ctx, next); err != nil {
		return nil, err
	}
	entry := auditEntry(models.AuditUpdate, uuidPtr(actor.ID), models.ResourceVendor, next.ID,
		fmt.Sprintf("Vendor %q updated", next.Name))
	entry.OldValue = before
	entry.NewValue = s.auditView(next)
	s.audit.Record(ctx, nil, entry)
	return next, nil
}

func (s *vendorService) Delete(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	repos := s.store.Repos()
	vendor, err := repos.Vendors.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireScope(ctx, actor, authz.ActionDelete, vendor.PropertyIDs); err != nil {
		return err
	}
	if err := repos.Vendors.Delete(ctx, id); err != nil {
		return err
	}
	entry := auditEntry(models.AuditDelete, uuidPtr(actor.ID), models.ResourceVendor, id,
		fmt.Sprintf("Vendor %q deleted", vendor.Name))
	entry.OldValue = s.auditView(vendor)
	s.audit.Record(ctx, nil, entry)
	return nil
}

// List scopes non-admins to the vendors of the properties they manage plus
// the shared ones.
func (s *vendorService) List(ctx context.Context, actor authz.Actor, filters models.VendorFilters) ([]*models.Vendor, int, error) {
	if filters.Limit <= 0 || filters.Limit > 100 {
		filters.Limit = 20
	}
	if actor.Role != models.RoleAdmin {
		managed, err := s.roles.ManagedProperties(ctx, actor.ID)
		if err != nil {
			return nil, 0, err
		}
		if len(managed) == 0 {
			return []*models.Vendor{}, 0, nil
		}
		if filters.PropertyIDs != nil {
			managed = intersectIDs(managed, filters.PropertyIDs)
		}
		filters.PropertyIDs = managed
		filters.IncludeUnscoped = true
	}
	return s.store.Repos().Vendors.List(ctx, filters)
}

func intersectIDs(a, b []uuid.UUID) []uuid.UUID {
	out := []uuid.UUID{}
	for _, x := range a {
		for _, y := range b {
			if x == y {
				out = append(out, x)
				break
			}
		}
	}
	return out
}
