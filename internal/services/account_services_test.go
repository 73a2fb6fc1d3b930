package services

import (
	"bytes"
	"testing"
	"time"

	"fixit/internal/authz"
	"fixit/internal/caching"
	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

// AccountServicesTestSuite covers the user, property, vendor and report
// services over the same seeded property the engine tests use.
type AccountServicesTestSuite struct {
	engineSuite
	admin *models.User
	cache caching.CacheService

	users      UserService
	properties PropertyService
	vendors    VendorService
	reports    ReportService
}

func TestAccountServicesTestSuite(t *testing.T) {
	suite.Run(t, new(AccountServicesTestSuite))
}

func (suite *AccountServicesTestSuite) SetupTest() {
	suite.engineSuite.SetupTest()
	suite.admin = suite.seedUser("Ann", models.RoleAdmin)
	suite.cache = caching.NewMemoryCacheService()

	d := suite.deps
	suite.users = NewUserService(d.Store, d.Authz, d.Roles, suite.cache, d.Audit, d.Notifier, d.Logger, d.Clock)
	suite.properties = NewPropertyService(d.Store, d.Authz, d.Roles, d.Audit, d.Logger, d.Clock)
	suite.vendors = NewVendorService(d.Store, d.Authz, d.Roles, d.Audit, d.Logger, d.Clock)
	suite.reports = NewReportService(d.Store, d.Authz, d.Audit, d.Media, time.UTC, "Fixit", d.Logger, d.Clock)
}

// invite creates a pending tenant and a pending membership on the seeded unit.
func (suite *AccountServicesTestSuite) invite(email string) (*models.User, *models.PropertyUser) {
	user, err := suite.users.CreateUser(suite.ctx, actor(suite.admin), CreateUserInput{
		Email: email, FirstName: "Nia", Role: "tenant",
	})
	suite.Require().NoError(err)
	suite.Equal(models.StatusPendingInviteAcceptance, user.Status)

	pu, err := suite.properties.AddPropertyUser(suite.ctx, actor(suite.manager), suite.property.ID, PropertyUserInput{
		UserID: user.ID, UnitID: &suite.unit.ID, Roles: []string{"tenant"}, Active: true,
	})
	suite.Require().NoError(err)
	suite.False(pu.IsActive)
	return user, pu
}

func (suite *AccountServicesTestSuite) TestProfileIsSelfScoped() {
	phone := "0772 123456"
	out, err := suite.users.UpdateProfile(suite.ctx, actor(suite.tenant), ProfileInput{
		LastName: strPtr("Nakato"), Phone: &phone, NotificationPreferences: []string{"sms", "sms", "email"},
	})
	suite.Require().NoError(err)
	suite.Equal("Nakato", out.LastName)
	suite.Equal([]models.Channel{models.ChannelSMS, models.ChannelEmail}, out.NotificationPreferences)

	_, err = suite.users.UpdateProfile(suite.ctx, actor(suite.tenant), ProfileInput{NotificationPreferences: []string{"pigeon"}})
	suite.ErrorIs(err, common.ErrValidation)

	_, err = suite.users.GetUser(suite.ctx, actor(suite.tenant), suite.manager.ID)
	suite.ErrorIs(err, common.ErrAuthorization)
	_, err = suite.users.UpdateUser(suite.ctx, actor(suite.manager), suite.tenant.ID, ProfileInput{FirstName: strPtr("X")})
	suite.ErrorIs(err, common.ErrAuthorization)

	me, err := suite.users.GetProfile(suite.ctx, actor(suite.tenant))
	suite.Require().NoError(err)
	suite.Equal("Nakato", me.LastName)
}

func (suite *AccountServicesTestSuite) TestListUsersIsAdminOnly() {
	_, _, err := suite.users.ListUsers(suite.ctx, actor(suite.landlord), models.UserFilters{})
	suite.ErrorIs(err, common.ErrAuthorization)

	role := models.RoleTenant
	users, total, err := suite.users.ListUsers(suite.ctx, actor(suite.admin), models.UserFilters{Role: &role})
	suite.Require().NoError(err)
	suite.Equal(2, total)
	suite.Len(users, 2)
}

func (suite *AccountServicesTestSuite) TestApproveUser_ManagerActivatesAccountAndMembership() {
	user, pu := suite.invite("nia@fixit.test")

	_, err := suite.users.ApproveUser(suite.ctx, actor(suite.tenant), user.ID)
	suite.ErrorIs(err, common.ErrAuthorization)

	approved, err := suite.users.ApproveUser(suite.ctx, actor(suite.manager), user.ID)
	suite.Require().NoError(err)
	suite.Equal(models.StatusActive, approved.Status)

	row, err := suite.store.Repos().PropertyUsers.GetByID(suite.ctx, pu.ID)
	suite.Require().NoError(err)
	suite.True(row.IsActive)
	suite.Contains(suite.sent.to(user.ID), models.NotifyAccountApproved)
	suite.Contains(suite.auditActions(models.ResourceUser, user.ID), models.AuditApproveUser)

	again, err := suite.users.ApproveUser(suite.ctx, actor(suite.manager), user.ID)
	suite.Require().NoError(err)
	suite.Equal(models.StatusActive, again.Status)

	// the approved tenant can now file a request on their unit
	_, err = suite.requests.CreateRequest(suite.ctx, authz.ActorFor(approved), CreateRequestInput{
		Title: "Door", Category: "carpentry", PropertyID: suite.property.ID, UnitID: &suite.unit.ID,
	}, nil)
	suite.NoError(err)
}

func (suite *AccountServicesTestSuite) TestApproveUser_DeactivatedIsStateError() {
	user, _ := suite.invite("nia@fixit.test")
	suite.Require().NoError(suite.users.DeactivateUser(suite.ctx, actor(suite.admin), user.ID))
	_, err := suite.users.ApproveUser(suite.ctx, actor(suite.admin), user.ID)
	suite.ErrorIs(err, common.ErrState)
}

func (suite *AccountServicesTestSuite) TestDeactivateUser_EndsMembershipsAndSessions() {
	suite.Require().NoError(suite.cache.SetSession(suite.ctx, "session-1", suite.tenant.ID, time.Hour))

	err := suite.users.DeactivateUser(suite.ctx, actor(suite.admin), suite.landlord.ID)
	suite.ErrorIs(err, common.ErrAuthorization)

	suite.Require().NoError(suite.users.DeactivateUser(suite.ctx, actor(suite.admin), suite.tenant.ID))
	stored, err := suite.store.Repos().Users.GetByID(suite.ctx, suite.tenant.ID)
	suite.Require().NoError(err)
	suite.Equal(models.StatusDeactivated, stored.Status)

	rows, err := suite.store.Repos().PropertyUsers.ListActive(suite.ctx, suite.tenant.ID, suite.property.ID)
	suite.Require().NoError(err)
	suite.Empty(rows)

	_, ok, err := suite.cache.GetSession(suite.ctx, "session-1")
	suite.Require().NoError(err)
	suite.False(ok)

	_, err = suite.requests.CreateRequest(suite.ctx, actor(suite.tenant), CreateRequestInput{
		Title: "Door", Category: "carpentry", PropertyID: suite.property.ID, UnitID: &suite.unit.ID,
	}, nil)
	suite.ErrorIs(err, common.ErrAuthorization)
}

func (suite *AccountServicesTestSuite) TestChangeRole() {
	_, err := suite.users.ChangeRole(suite.ctx, actor(suite.manager), suite.tenant.ID, "landlord")
	suite.ErrorIs(err, common.ErrAuthorization)

	_, err = suite.users.ChangeRole(suite.ctx, actor(suite.admin), suite.admin.ID, "tenant")
	suite.ErrorIs(err, common.ErrAuthorization)

	_, err = suite.users.ChangeRole(suite.ctx, actor(suite.admin), suite.tenant.ID, "overlord")
	suite.ErrorIs(err, common.ErrValidation)

	out, err := suite.users.ChangeRole(suite.ctx, actor(suite.admin), suite.tenant.ID, "landlord")
	suite.Require().NoError(err)
	suite.Equal(models.RoleLandlord, out.Role)

	rows, err := suite.store.Repos().AuditLogs.ListByResource(suite.ctx, models.ResourceUser, suite.tenant.ID)
	suite.Require().NoError(err)
	last := rows[len(rows)-1]
	suite.Equal(models.AuditRoleChange, last.Action)
	suite.Equal("tenant", last.OldValue["role"])
	suite.Equal("landlord", last.NewValue["role"])
}

func (suite *AccountServicesTestSuite) TestCreateProperty_CreatorBecomesLandlord() {
	_, err := suite.properties.CreateProperty(suite.ctx, actor(suite.tenant), PropertyInput{Name: "Shack", Address: "1 Road"})
	suite.ErrorIs(err, common.ErrAuthorization)

	p, err := suite.properties.CreateProperty(suite.ctx, actor(suite.landlord), PropertyInput{Name: "Bugolobi Flats", Address: "4 Luthuli Ave"})
	suite.Require().NoError(err)

	list, total, err := suite.properties.ListProperties(suite.ctx, actor(suite.landlord), 1, 10)
	suite.Require().NoError(err)
	suite.Equal(2, total)
	suite.Equal("Bugolobi Flats", list[0].Name)

	unit, err := suite.properties.CreateUnit(suite.ctx, actor(suite.landlord), p.ID, UnitInput{Name: "B2"})
	suite.Require().NoError(err)
	suite.Equal(models.UnitVacant, unit.Status)

	_, err = suite.properties.CreateUnit(suite.ctx, actor(suite.manager), p.ID, UnitInput{Name: "B3"})
	suite.ErrorIs(err, common.ErrAuthorization)
	_, err = suite.properties.GetProperty(suite.ctx, actor(suite.manager), p.ID)
	suite.ErrorIs(err, common.ErrNotFound)

	_, err = suite.properties.AddPropertyUser(suite.ctx, actor(suite.landlord), p.ID, PropertyUserInput{
		UserID: suite.stranger.ID, UnitID: &suite.unit.ID, Roles: []string{"tenant"},
	})
	suite.ErrorIs(err, common.ErrValidation)
	_, err = suite.properties.AddPropertyUser(suite.ctx, actor(suite.landlord), p.ID, PropertyUserInput{
		UserID: suite.stranger.ID, Roles: []string{"tenant"},
	})
	suite.ErrorIs(err, common.ErrValidation)

	_, err = suite.properties.AddPropertyUser(suite.ctx, actor(suite.landlord), p.ID, PropertyUserInput{
		UserID: suite.stranger.ID, UnitID: &unit.ID, Roles: []string{"tenant"}, Active: true,
	})
	suite.Require().NoError(err)
	units, err := suite.properties.ListUnits(suite.ctx, actor(suite.stranger), p.ID)
	suite.Require().NoError(err)
	suite.Len(units, 1)
}

func (suite *AccountServicesTestSuite) TestRosterAndDeactivateMembership() {
	_, err := suite.properties.Roster(suite.ctx, actor(suite.tenant), suite.property.ID, true)
	suite.ErrorIs(err, common.ErrAuthorization)

	roster, err := suite.properties.Roster(suite.ctx, actor(suite.manager), suite.property.ID, true)
	suite.Require().NoError(err)
	suite.Len(roster, 4)

	var tenantRow uuid.UUID
	for _, entry := range roster {
		if entry.UserID == suite.tenant.ID {
			tenantRow = entry.ID
			suite.Equal("Tess", entry.Name)
			suite.Equal(models.RoleTenant, entry.Role)
		}
	}
	suite.Require().NotEqual(uuid.Nil, tenantRow)

	suite.Require().NoError(suite.properties.DeactivatePropertyUser(suite.ctx, actor(suite.manager), suite.property.ID, tenantRow))
	roster, err = suite.properties.Roster(suite.ctx, actor(suite.manager), suite.property.ID, true)
	suite.Require().NoError(err)
	suite.Len(roster, 3)

	_, err = suite.properties.GetProperty(suite.ctx, actor(suite.tenant), suite.property.ID)
	suite.ErrorIs(err, common.ErrNotFound)
}

func (suite *AccountServicesTestSuite) TestVendorScoping() {
	other, err := suite.properties.CreateProperty(suite.ctx, actor(suite.admin), PropertyInput{Name: "Elsewhere", Address: "9 Road"})
	suite.Require().NoError(err)

	_, err = suite.vendors.Create(suite.ctx, actor(suite.manager), VendorInput{Name: "Sparks", Email: strPtr("sparks@test.io")})
	suite.ErrorIs(err, common.ErrAuthorization)
	_, err = suite.vendors.Create(suite.ctx, actor(suite.manager), VendorInput{
		Name: "Sparks", Email: strPtr("sparks@test.io"), PropertyIDs: []uuid.UUID{other.ID},
	})
	suite.ErrorIs(err, common.ErrAuthorization)
	_, err = suite.vendors.Create(suite.ctx, actor(suite.manager), VendorInput{Name: "Nobody", PropertyIDs: []uuid.UUID{suite.property.ID}})
	suite.ErrorIs(err, common.ErrValidation)

	scoped, err := suite.vendors.Create(suite.ctx, actor(suite.manager), VendorInput{
		Name: "Sparks", Email: strPtr("Sparks@Test.io"), Services: []string{"electrical"}, PropertyIDs: []uuid.UUID{suite.property.ID},
	})
	suite.Require().NoError(err)
	suite.Equal("sparks@test.io", *scoped.Email)

	global, err := suite.vendors.Create(suite.ctx, actor(suite.admin), VendorInput{Name: "Citywide", Phone: strPtr("+256700000001")})
	suite.Require().NoError(err)
	hidden, err := suite.vendors.Create(suite.ctx, actor(suite.admin), VendorInput{
		Name: "Far Away", Phone: strPtr("+256700000002"), PropertyIDs: []uuid.UUID{other.ID},
	})
	suite.Require().NoError(err)

	list, total, err := suite.vendors.List(suite.ctx, actor(suite.manager), models.VendorFilters{})
	suite.Require().NoError(err)
	suite.Equal(3, total)
	names := []string{}
	for _, v := range list {
		names = append(names, v.Name)
	}
	suite.Equal([]string{"Citywide", "Juma Plumbing", "Sparks"}, names)

	_, err = suite.vendors.GetByID(suite.ctx, actor(suite.manager), hidden.ID)
	suite.ErrorIs(err, common.ErrNotFound)
	_, err = suite.vendors.GetByID(suite.ctx, actor(suite.manager), global.ID)
	suite.NoError(err)
	_, err = suite.vendors.Update(suite.ctx, actor(suite.manager), global.ID, VendorInput{Name: "Mine now", Phone: strPtr("+256700000001")})
	suite.ErrorIs(err, common.ErrAuthorization)

	tenantList, total, err := suite.vendors.List(suite.ctx, actor(suite.tenant), models.VendorFilters{})
	suite.Require().NoError(err)
	suite.Zero(total)
	suite.Empty(tenantList)

	updated, err := suite.vendors.Update(suite.ctx, actor(suite.manager), scoped.ID, VendorInput{
		Name: "Sparks Ltd", Email: strPtr("sparks@test.io"), PropertyIDs: []uuid.UUID{suite.property.ID},
	})
	suite.Require().NoError(err)
	suite.Equal("Sparks Ltd", updated.Name)
	suite.True(updated.IsActive)

	suite.Require().NoError(suite.vendors.Delete(suite.ctx, actor(suite.manager), scoped.ID))
	suite.Equal([]models.AuditAction{models.AuditCreate, models.AuditUpdate, models.AuditDelete},
		suite.auditActions(models.ResourceVendor, scoped.ID))
}

func (suite *AccountServicesTestSuite) TestRequestSummary() {
	r := suite.newRequest("Leaking sink")
	suite.newRequest("Broken window")
	_, err := suite.transition(suite.manager, r.ID, RequestCancel, "")
	suite.Require().NoError(err)

	_, err = suite.reports.RequestSummary(suite.ctx, actor(suite.tenant), suite.property.ID)
	suite.ErrorIs(err, common.ErrAuthorization)

	summary, err := suite.reports.RequestSummary(suite.ctx, actor(suite.manager), suite.property.ID)
	suite.Require().NoError(err)
	suite.Equal(2, summary.Total)
	suite.Equal(1, summary.ByStatus[string(models.RequestNew)])
	suite.Equal(1, summary.ByStatus[string(models.RequestCanceled)])
	suite.Contains(suite.auditActions(models.ResourceProperty, suite.property.ID), models.AuditReportExport)
}

func (suite *AccountServicesTestSuite) TestWorkOrderPDF() {
	r := suite.newRequest("Leaking sink")
	suite.assignVendor(r.ID)

	_, err := suite.reports.WorkOrderPDF(suite.ctx, actor(suite.tenant), r.ID)
	suite.ErrorIs(err, common.ErrAuthorization)

	doc, err := suite.reports.WorkOrderPDF(suite.ctx, actor(suite.manager), r.ID)
	suite.Require().NoError(err)
	suite.Equal("application/pdf", doc.MimeType)
	suite.Contains(doc.PublicID, "work-orders/")

	data, contentType, ok := suite.blobs.Get(doc.PublicID)
	suite.Require().True(ok)
	suite.Equal("application/pdf", contentType)
	suite.True(bytes.HasPrefix(data, []byte("%PDF-")))
	suite.Contains(suite.auditActions(models.ResourceRequest, r.ID), models.AuditDocumentGenerate)
}
