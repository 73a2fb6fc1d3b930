package authz

import (
	"context"
	"errors"
	"io"
	"testing"

	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type mockRoleSource struct {
	mock.Mock
}

func (m *mockRoleSource) RolesFor(ctx context.Context, userID, propertyID uuid.UUID) (PropertyRoles, error) {
	args := m.Called(ctx, userID, propertyID)
	return args.Get(0).(PropertyRoles), args.Error(1)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDecide(t *testing.T) {
	property := uuid.New()
	unit1, unit2 := uuid.New(), uuid.New()
	tenant := Actor{ID: uuid.New(), Role: models.RoleTenant}
	manager := Actor{ID: uuid.New(), Role: models.RolePropertyManager}
	vendorUser := Actor{ID: uuid.New(), Role: models.RoleVendor}
	admin := Actor{ID: uuid.New(), Role: models.RoleAdmin}

	managerRoles := PropertyRoles{Roles: models.NewRoleSet(models.PropertyRolePropertyManager)}
	tenantRoles := PropertyRoles{Roles: models.NewRoleSet(models.PropertyRoleTenant), TenantUnits: []uuid.UUID{unit2}}
	none := PropertyRoles{}

	onUnit1 := Target{Kind: TargetRequest, PropertyID: &property, UnitID: &unit1, CreatedBy: &manager.ID}
	onUnit2 := Target{Kind: TargetRequest, PropertyID: &property, UnitID: &unit2}
	createdByTenant := Target{Kind: TargetRequest, PropertyID: &property, UnitID: &unit1, CreatedBy: &tenant.ID}
	assignedToVendorUser := Target{Kind: TargetRequest, PropertyID: &property, Assignee: models.UserAssignee(vendorUser.ID)}
	assignedToVendorRecord := Target{Kind: TargetRequest, PropertyID: &property, Assignee: models.VendorAssignee(vendorUser.ID)}

	tests := []struct {
		name    string
		actor   Actor
		action  Action
		target  Target
		roles   PropertyRoles
		allowed bool
	}{
		{"admin can do anything", admin, ActionDelete, onUnit1, none, true},
		{"admin cannot demote self", admin, ActionChangeRole, Target{Kind: TargetUser, User: &SubjectUser{ID: admin.ID, Role: models.RoleAdmin}, NewRole: rolePtr(models.RoleTenant)}, none, false},
		{"admin may keep own admin role", admin, ActionChangeRole, Target{Kind: TargetUser, User: &SubjectUser{ID: admin.ID, Role: models.RoleAdmin}, NewRole: rolePtr(models.RoleAdmin)}, none, true},
		{"admin cannot delete landlord", admin, ActionDelete, Target{Kind: TargetUser, User: &SubjectUser{ID: uuid.New(), Role: models.RoleLandlord}}, none, false},
		{"admin cannot delete other admin", admin, ActionDelete, Target{Kind: TargetUser, User: &SubjectUser{ID: uuid.New(), Role: models.RoleAdmin}}, none, false},
		{"admin can delete tenant", admin, ActionDelete, Target{Kind: TargetUser, User: &SubjectUser{ID: uuid.New(), Role: models.RoleTenant}}, none, true},
		{"self profile", tenant, ActionUpdateOwnProfile, Target{Kind: TargetUser, User: &SubjectUser{ID: tenant.ID}}, none, true},
		{"someone else's profile", tenant, ActionUpdateOwnProfile, Target{Kind: TargetUser, User: &SubjectUser{ID: manager.ID}}, none, false},
		{"manager assigns", manager, ActionAssign, onUnit1, managerRoles, true},
		{"manager enables link", manager, ActionEnablePublicLink, onUnit1, managerRoles, true},
		{"tenant deletes on other unit", tenant, ActionDelete, onUnit1, tenantRoles, false},
		{"tenant creates on own unit", tenant, ActionCreateRequest, Target{Kind: TargetClass, PropertyID: &property, UnitID: &unit2}, tenantRoles, true},
		{"tenant creates on other unit", tenant, ActionCreateRequest, Target{Kind: TargetClass, PropertyID: &property, UnitID: &unit1}, tenantRoles, false},
		{"tenant reads own unit", tenant, ActionRead, onUnit2, tenantRoles, true},
		{"tenant reads other unit", tenant, ActionRead, onUnit1, tenantRoles, false},
		{"creator updates", tenant, ActionUpdate, createdByTenant, tenantRoles, true},
		{"creator verifies", tenant, ActionVerify, createdByTenant, tenantRoles, true},
		{"creator cannot cancel", tenant, ActionCancel, createdByTenant, tenantRoles, false},
		{"creator cannot transition", tenant, ActionTransitionStatus, createdByTenant, tenantRoles, false},
		{"assignee transitions", vendorUser, ActionTransitionStatus, assignedToVendorUser, none, true},
		{"assignee uploads", vendorUser, ActionUploadMedia, assignedToVendorUser, none, true},
		{"assignee cannot verify", vendorUser, ActionVerify, assignedToVendorUser, none, false},
		{"vendor record is not a user assignee", vendorUser, ActionTransitionStatus, assignedToVendorRecord, none, false},
		{"no property scope", manager, ActionRead, Target{Kind: TargetAudit}, managerRoles, false},
		{"unknown action", admin, Action("launchRocket"), onUnit1, none, false},
		{"stranger", manager, ActionRead, onUnit2, none, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.actor, tt.action, tt.target, tt.roles)
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
			if !tt.allowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestDecide_IsTotal(t *testing.T) {
	property := uuid.New()
	actors := []Actor{
		{ID: uuid.New(), Role: models.RoleAdmin},
		{ID: uuid.New(), Role: models.RoleLandlord},
		{ID: uuid.New(), Role: models.RoleTenant},
		{ID: uuid.New(), Role: ""},
	}
	targets := []Target{
		{},
		{Kind: TargetRequest, PropertyID: &property},
		{Kind: TargetUser, User: &SubjectUser{}},
	}
	for _, a := range actors {
		for action := range knownActions {
			for _, target := range targets {
				assert.NotPanics(t, func() {
					Decide(a, action, target, PropertyRoles{})
				})
			}
		}
	}
}

func TestDecision_Err(t *testing.T) {
	assert.NoError(t, Allow().Err())
	err := Deny("nope").Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrAuthorization))
}

type ResolverTestSuite struct {
	suite.Suite
	source   *mockRoleSource
	resolver *Resolver
	ctx      context.Context
}

func (suite *ResolverTestSuite) SetupTest() {
	suite.source = new(mockRoleSource)
	suite.resolver = NewResolver(suite.source, quietLogger())
	suite.ctx = context.Background()
}

func (suite *ResolverTestSuite) TearDownTest() {
	suite.source.AssertExpectations(suite.T())
}

func (suite *ResolverTestSuite) TestLoadsRolesOnce() {
	actor := Actor{ID: uuid.New(), Role: models.RoleLandlord}
	property := uuid.New()
	suite.source.On("RolesFor", suite.ctx, actor.ID, property).
		Return(PropertyRoles{Roles: models.NewRoleSet(models.PropertyRoleLandlord)}, nil).Once()

	d := suite.resolver.Decide(suite.ctx, actor, ActionAssign, Target{Kind: TargetRequest, PropertyID: &property})
	suite.True(d.Allowed)
}

func (suite *ResolverTestSuite) TestLookupFailureDenies() {
	actor := Actor{ID: uuid.New(), Role: models.RoleLandlord}
	property := uuid.New()
	suite.source.On("RolesFor", suite.ctx, actor.ID, property).
		Return(PropertyRoles{}, errors.New("connection reset")).Once()

	err := suite.resolver.Require(suite.ctx, actor, ActionRead, Target{Kind: TargetRequest, PropertyID: &property})
	suite.Error(err)
	suite.Equal(common.KindAuthorization, common.KindOf(err))
}

func (suite *ResolverTestSuite) TestAdminSkipsLookup() {
	actor := Actor{ID: uuid.New(), Role: models.RoleAdmin}
	property := uuid.New()

	d := suite.resolver.Decide(suite.ctx, actor, ActionArchive, Target{Kind: TargetRequest, PropertyID: &property})
	suite.True(d.Allowed)
	suite.True(suite.resolver.Manages(suite.ctx, actor, property))
}

func (suite *ResolverTestSuite) TestManages() {
	actor := Actor{ID: uuid.New(), Role: models.RoleTenant}
	property := uuid.New()
	suite.source.On("RolesFor", suite.ctx, actor.ID, property).
		Return(PropertyRoles{Roles: models.NewRoleSet(models.PropertyRoleTenant)}, nil).Once()

	suite.False(suite.resolver.Manages(suite.ctx, actor, property))
}

func TestResolverTestSuite(t *testing.T) {
	suite.Run(t, new(ResolverTestSuite))
}

func rolePtr(r models.GlobalRole) *models.GlobalRole { return &r }
