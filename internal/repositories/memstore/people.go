package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/google/uuid"
)

type userRepo struct{ s *Store }

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	defer r.s.lock(ctx)()
	st := r.s.state
	for _, u := range st.users {
		if u.Email == user.Email {
			return uniqueViolation("user", "users_email_key")
		}
		if user.FederatedID != nil && u.FederatedID != nil && *u.FederatedID == *user.FederatedID {
			return uniqueViolation("user", "users_federated_id_key")
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if _, ok := st.users[user.ID]; ok {
		return uniqueViolation("user", "users_pkey")
	}
	user.CreatedAt = now()
	user.UpdatedAt = user.CreatedAt
	st.users[user.ID] = user.Clone()
	st.track(user.ID)
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	defer r.s.lock(ctx)()
	u, ok := r.s.state.users[id]
	if !ok {
		return nil, common.NotFound("user")
	}
	return u.Clone(), nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	defer r.s.lock(ctx)()
	for _, u := range r.s.state.users {
		if u.Email == email {
			return u.Clone(), nil
		}
	}
	return nil, common.NotFound("user")
}

func (r *userRepo) GetByFederatedID(ctx context.Context, federatedID string) (*models.User, error) {
	defer r.s.lock(ctx)()
	for _, u := range r.s.state.users {
		if u.FederatedID != nil && *u.FederatedID == federatedID {
			return u.Clone(), nil
		}
	}
	return nil, common.NotFound("user")
}

func (r *userRepo) GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.User, error) {
	defer r.s.lock(ctx)()
	var out []*models.User
	for _, id := range ids {
		if u, ok := r.s.state.users[id]; ok {
			out = append(out, u.Clone())
		}
	}
	return out, nil
}

func (r *userRepo) Update(ctx context.Context, user *models.User) error {
	defer r.s.lock(ctx)()
	st := r.s.state
	existing, ok := st.users[user.ID]
	if !ok {
		return common.NotFound("user")
	}
	for id, u := range st.users {
		if id != user.ID && u.Email == user.Email {
			return uniqueViolation("user", "users_email_key")
		}
	}
	user.UpdatedAt = now()
	stored := user.Clone()
	// password_hash is only written by UpdatePassword
	stored.PasswordHash = existing.PasswordHash
	stored.CreatedAt = existing.CreatedAt
	st.users[user.ID] = stored
	return nil
}

func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	defer r.s.lock(ctx)()
	u, ok := r.s.state.users[id]
	if !ok {
		return common.NotFound("user")
	}
	hash := passwordHash
	u.PasswordHash = &hash
	u.UpdatedAt = now()
	return nil
}

func (r *userRepo) List(ctx context.Context, filters models.UserFilters) ([]*models.User, int, error) {
	defer r.s.lock(ctx)()
	search := strings.ToLower(filters.Search)
	var out []*models.User
	for _, u := range r.s.state.users {
		if filters.Role != nil && u.Role != *filters.Role {
			continue
		}
		if filters.Status != nil && u.Status != *filters.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Email+" "+u.FirstName+" "+u.LastName), search) {
			continue
		}
		out = append(out, u.Clone())
	}
	sortRows(r.s.state, out, func(u *models.User) (time.Time, uuid.UUID) { return u.CreatedAt, u.ID }, true)
	return page(out, filters.Limit, filters.Offset), len(out), nil
}

type propertyRepo struct{ s *Store }

func (r *propertyRepo) CreateProperty(ctx context.Context, property *models.Property) error {
	defer r.s.lock(ctx)()
	if property.ID == uuid.Nil {
		property.ID = uuid.New()
	}
	property.CreatedAt = now()
	property.UpdatedAt = property.CreatedAt
	r.s.state.properties[property.ID] = cloneProperty(property)
	r.s.state.track(property.ID)
	return nil
}

func (r *propertyRepo) GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.state.properties[id]
	if !ok {
		return nil, common.NotFound("property")
	}
	return cloneProperty(p), nil
}

func (r *propertyRepo) ListProperties(ctx context.Context, ids []uuid.UUID, limit, offset int) ([]*models.Property, int, error) {
	defer r.s.lock(ctx)()
	var out []*models.Property
	for _, p := range r.s.state.properties {
		if ids != nil && !containsID(ids, p.ID) {
			continue
		}
		out = append(out, cloneProperty(p))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, limit, offset), len(out), nil
}

func (r *propertyRepo) CreateUnit(ctx context.Context, unit *models.Unit) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.state.properties[unit.PropertyID]; !ok {
		return common.NotFound("property")
	}
	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	unit.CreatedAt = now()
	unit.UpdatedAt = unit.CreatedAt
	r.s.state.units[unit.ID] = cloneUnit(unit)
	r.s.state.track(unit.ID)
	return nil
}

func (r *propertyRepo) GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error) {
	defer r.s.lock(ctx)()
	u, ok := r.s.state.units[id]
	if !ok {
		return nil, common.NotFound("unit")
	}
	return cloneUnit(u), nil
}

func (r *propertyRepo) ListUnits(ctx context.Context, propertyID uuid.UUID) ([]*models.Unit, error) {
	defer r.s.lock(ctx)()
	var out []*models.Unit
	for _, u := range r.s.state.units {
		if u.PropertyID == propertyID {
			out = append(out, cloneUnit(u))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type propertyUserRepo struct{ s *Store }

func (r *propertyUserRepo) Create(ctx context.Context, pu *models.PropertyUser) error {
	defer r.s.lock(ctx)()
	if pu.Roles.Has(models.PropertyRoleTenant) && pu.UnitID == nil {
		return common.Validation("tenant role requires a unit", common.FieldError{Field: "unit", Reason: "required"})
	}
	if pu.ID == uuid.Nil {
		pu.ID = uuid.New()
	}
	n := now()
	if pu.StartDate.IsZero() {
		pu.StartDate = n
	}
	pu.CreatedAt, pu.UpdatedAt = n, n
	r.s.state.propertyUsers[pu.ID] = pu.Clone()
	r.s.state.track(pu.ID)
	return nil
}

func (r *propertyUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PropertyUser, error) {
	defer r.s.lock(ctx)()
	pu, ok := r.s.state.propertyUsers[id]
	if !ok {
		return nil, common.NotFound("property user")
	}
	return pu.Clone(), nil
}

func (r *propertyUserRepo) Update(ctx context.Context, pu *models.PropertyUser) error {
	defer r.s.lock(ctx)()
	existing, ok := r.s.state.propertyUsers[pu.ID]
	if !ok {
		return common.NotFound("property user")
	}
	existing.UnitID = pu.UnitID
	existing.Roles = pu.Roles
	existing.IsActive = pu.IsActive
	existing.EndDate = pu.EndDate
	existing.UpdatedAt = now()
	r.s.state.propertyUsers[pu.ID] = existing.Clone()
	pu.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *propertyUserRepo) filter(match func(*models.PropertyUser) bool) []*models.PropertyUser {
	var out []*models.PropertyUser
	for _, pu := range r.s.state.propertyUsers {
		if match(pu) {
			out = append(out, pu.Clone())
		}
	}
	sortRows(r.s.state, out, func(pu *models.PropertyUser) (time.Time, uuid.UUID) { return pu.CreatedAt, pu.ID }, false)
	return out
}

func (r *propertyUserRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.PropertyUser, error) {
	defer r.s.lock(ctx)()
	return r.filter(func(pu *models.PropertyUser) bool { return pu.UserID == userID }), nil
}

func (r *propertyUserRepo) ListByProperty(ctx context.Context, propertyID uuid.UUID, activeOnly bool) ([]*models.PropertyUser, error) {
	defer r.s.lock(ctx)()
	return r.filter(func(pu *models.PropertyUser) bool {
		return pu.PropertyID == propertyID && (!activeOnly || pu.IsActive)
	}), nil
}

func (r *propertyUserRepo) ListActive(ctx context.Context, userID, propertyID uuid.UUID) ([]*models.PropertyUser, error) {
	defer r.s.lock(ctx)()
	return r.filter(func(pu *models.PropertyUser) bool {
		return pu.UserID == userID && pu.PropertyID == propertyID && pu.IsActive
	}), nil
}

func (r *propertyUserRepo) ActivateByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer r.s.lock(ctx)()
	var n int64
	for _, pu := range r.s.state.propertyUsers {
		if pu.UserID == userID && !pu.IsActive && pu.EndDate == nil {
			pu.IsActive = true
			pu.UpdatedAt = now()
			n++
		}
	}
	return n, nil
}

func (r *propertyUserRepo) DeactivateByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer r.s.lock(ctx)()
	var n int64
	t := now()
	for _, pu := range r.s.state.propertyUsers {
		if pu.UserID == userID && pu.IsActive {
			end := t
			pu.IsActive = false
			pu.EndDate = &end
			pu.UpdatedAt = t
			n++
		}
	}
	return n, nil
}

type vendorRepo struct{ s *Store }

func (r *vendorRepo) Create(ctx context.Context, vendor *models.Vendor) error {
	defer r.s.lock(ctx)()
	if vendor.ID == uuid.Nil {
		vendor.ID = uuid.New()
	}
	vendor.CreatedAt = now()
	vendor.UpdatedAt = vendor.CreatedAt
	if vendor.Services == nil {
		vendor.Services = []string{}
	}
	r.s.state.vendors[vendor.ID] = vendor.Clone()
	r.s.state.track(vendor.ID)
	return nil
}

func (r *vendorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	defer r.s.lock(ctx)()
	v, ok := r.s.state.vendors[id]
	if !ok {
		return nil, common.NotFound("vendor")
	}
	return v.Clone(), nil
}

func (r *vendorRepo) Update(ctx context.Context, vendor *models.Vendor) error {
	defer r.s.lock(ctx)()
	existing, ok := r.s.state.vendors[vendor.ID]
	if !ok {
		return common.NotFound("vendor")
	}
	vendor.UpdatedAt = now()
	vendor.CreatedAt = existing.CreatedAt
	r.s.state.vendors[vendor.ID] = vendor.Clone()
	return nil
}

func (r *vendorRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.state.vendors[id]; !ok {
		return common.NotFound("vendor")
	}
	delete(r.s.state.vendors, id)
	return nil
}

func (r *vendorRepo) List(ctx context.Context, filters models.VendorFilters) ([]*models.Vendor, int, error) {
	defer r.s.lock(ctx)()
	var out []*models.Vendor
	for _, v := range r.s.state.vendors {
		if filters.ActiveOnly && !v.IsActive {
			continue
		}
		if filters.PropertyIDs != nil && !servesAny(v, filters.PropertyIDs) &&
			!(filters.IncludeUnscoped && len(v.PropertyIDs) == 0) {
			continue
		}
		if filters.Service != "" && !containsString(v.Services, filters.Service) {
			continue
		}
		out = append(out, v.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, filters.Limit, filters.Offset), len(out), nil
}

func servesAny(v *models.Vendor, ids []uuid.UUID) bool {
	for _, id := range ids {
		if v.ServesProperty(id) {
			return true
		}
	}
	return false
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
