package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Property struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Address   string     `json:"address" db:"address"`
	City      string     `json:"city" db:"city"`
	Country   string     `json:"country" db:"country"`
	OwnerID   *uuid.UUID `json:"ownerId,omitempty" db:"owner_id"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
}

// UnitStatus is the occupancy state of a unit
type UnitStatus string

const (
	UnitVacant      UnitStatus = "vacant"
	UnitOccupied    UnitStatus = "occupied"
	UnitUnavailable UnitStatus = "unavailable"
)

func (s UnitStatus) Valid() bool {
	return s == UnitVacant || s == UnitOccupied || s == UnitUnavailable
}

type Unit struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	PropertyID uuid.UUID  `json:"property" db:"property_id"`
	Name       string     `json:"name" db:"name"`
	Status     UnitStatus `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" db:"updated_at"`
}

// PropertyRole is a per-property role carried by a PropertyUser row
type PropertyRole string

const (
	PropertyRoleLandlord        PropertyRole = "landlord"
	PropertyRolePropertyManager PropertyRole = "propertyManager"
	PropertyRoleTenant          PropertyRole = "tenant"
	PropertyRoleVendorAccess    PropertyRole = "vendorAccess"
	PropertyRoleAdminAccess     PropertyRole = "adminAccess"
)

var propertyRoleOrder = []PropertyRole{
	PropertyRoleLandlord,
	PropertyRolePropertyManager,
	PropertyRoleTenant,
	PropertyRoleVendorAccess,
	PropertyRoleAdminAccess,
}

func (r PropertyRole) bit() RoleSet {
	for i, known := range propertyRoleOrder {
		if known == r {
			return 1 << uint(i)
		}
	}
	return 0
}

func (r PropertyRole) Valid() bool { return r.bit() != 0 }

// RoleSet is a bitset over the five property roles.
type RoleSet uint8

// ManagementRoles satisfy the management predicate
var ManagementRoles = NewRoleSet(PropertyRoleLandlord, PropertyRolePropertyManager, PropertyRoleAdminAccess)

func NewRoleSet(roles ...PropertyRole) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s |= r.bit()
	}
	return s
}

func (s RoleSet) Has(r PropertyRole) bool    { return s&r.bit() != 0 }
func (s RoleSet) Add(r PropertyRole) RoleSet { return s | r.bit() }
func (s RoleSet) Union(o RoleSet) RoleSet    { return s | o }
func (s RoleSet) Intersects(o RoleSet) bool  { return s&o != 0 }
func (s RoleSet) Empty() bool                { return s == 0 }

// Roles lists members in declaration order
func (s RoleSet) Roles() []PropertyRole {
	out := make([]PropertyRole, 0, len(propertyRoleOrder))
	for _, r := range propertyRoleOrder {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Strings is the persisted representation
func (s RoleSet) Strings() []string {
	roles := s.Roles()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// ParseRoleSet rejects unknown role names
func ParseRoleSet(values []string) (RoleSet, error) {
	var s RoleSet
	for _, v := range values {
		r := PropertyRole(v)
		if !r.Valid() {
			return 0, fmt.Errorf("unknown property role %q", v)
		}
		s = s.Add(r)
	}
	return s, nil
}

func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	parsed, err := ParseRoleSet(values)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// PropertyUser is the association that authorises access to a property.
type PropertyUser struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"user" db:"user_id"`
	PropertyID uuid.UUID  `json:"property" db:"property_id"`
	UnitID     *uuid.UUID `json:"unit,omitempty" db:"unit_id"`
	Roles      RoleSet    `json:"roles" db:"roles"`
	IsActive   bool       `json:"isActive" db:"is_active"`
	StartDate  time.Time  `json:"startDate" db:"start_date"`
	EndDate    *time.Time `json:"endDate,omitempty" db:"end_date"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" db:"updated_at"`
}

// Validate enforces that tenant rows carry a unit
func (pu *PropertyUser) Validate() error {
	if pu.Roles.Empty() {
		return fmt.Errorf("at least one role is required")
	}
	if pu.Roles.Has(PropertyRoleTenant) && pu.UnitID == nil {
		return fmt.Errorf("tenant role requires a unit")
	}
	return nil
}

func (pu *PropertyUser) Clone() *PropertyUser {
	if pu == nil {
		return nil
	}
	c := *pu
	c.UnitID = cloneUUID(pu.UnitID)
	c.EndDate = cloneTime(pu.EndDate)
	return &c
}

// RosterEntry is a PropertyUser joined with its user for the roster view
type RosterEntry struct {
	PropertyUser
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Role  GlobalRole `json:"globalRole"`
}
