package services

import (
	"fmt"
	"testing"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/stretchr/testify/suite"
)

type PublicGatewayTestSuite struct {
	engineSuite
}

func TestPublicGatewayTestSuite(t *testing.T) {
	suite.Run(t, new(PublicGatewayTestSuite))
}

// shared returns a vendor-assigned request with an enabled link.
func (suite *PublicGatewayTestSuite) shared() (*models.Request, *PublicLinkGrant) {
	r := suite.newRequest("Leaking sink")
	suite.assignVendor(r.ID)
	suite.sent.reset()
	grant, err := suite.links.EnablePublicLink(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID, nil)
	suite.Require().NoError(err)
	return r, grant
}

func (suite *PublicGatewayTestSuite) TestEnable_SendsLinkToVendor() {
	r, grant := suite.shared()
	suite.Equal(suite.now.Add(7*24*time.Hour), grant.ExpiresAt)
	suite.Equal("https://app.test/requests/public/"+grant.Token, grant.URL)

	out := suite.sent.toAddress("juma@plumbing.test")
	suite.Require().Len(out, 1)
	suite.Equal(models.NotifyPublicLinkAssigned, out[0].Kind)
	suite.Equal(grant.URL, out[0].Link)

	stored := suite.loadRequest(r.ID)
	suite.True(stored.PublicLink.Enabled)
	suite.NotEqual(grant.Token, *stored.PublicLink.TokenHash)

	rows, err := suite.store.Repos().AuditLogs.ListByResource(suite.ctx, models.ResourceRequest, r.ID)
	suite.Require().NoError(err)
	last := rows[len(rows)-1]
	suite.Equal(models.AuditPublicLinkEnable, last.Action)
	for _, v := range last.Metadata {
		suite.NotContains(fmt.Sprint(v), grant.Token)
	}
}

func (suite *PublicGatewayTestSuite) TestEnable_ManagementOnlyAndNotOnFinished() {
	r := suite.newRequest("Tap")
	_, err := suite.links.EnablePublicLink(suite.ctx, actor(suite.tenant), models.ContextRequest, r.ID, nil)
	suite.ErrorIs(err, common.ErrAuthorization)

	_, err = suite.transition(suite.manager, r.ID, RequestCancel, "")
	suite.Require().NoError(err)
	_, err = suite.links.EnablePublicLink(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID, nil)
	suite.ErrorIs(err, common.ErrState)
}

func (suite *PublicGatewayTestSuite) TestEnable_CapsExpiry() {
	r := suite.newRequest("Tap")
	ttl := 90 * 24 * time.Hour
	grant, err := suite.links.EnablePublicLink(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID, &ttl)
	suite.Require().NoError(err)
	suite.Equal(suite.now.Add(30*24*time.Hour), grant.ExpiresAt)
}

func (suite *PublicGatewayTestSuite) TestVendorCompletesThroughLink() {
	r, grant := suite.shared()
	_, err := suite.comments.AddComment(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID,
		CommentInput{Message: "do not pay more than 50k", IsInternalNote: true})
	suite.Require().NoError(err)

	view, err := suite.gateway.View(suite.ctx, models.ContextRequest, grant.Token)
	suite.Require().NoError(err)
	suite.Equal("Leaking sink", view.Title)
	suite.Equal("Kololo Heights", view.PropertyName)
	suite.Equal("A1", view.UnitName)
	suite.Equal(string(models.RequestAssigned), view.Status)
	suite.Equal([]string{"inProgress", "completed"}, view.AllowedStatuses)
	suite.Empty(view.Comments)

	out, err := suite.gateway.Update(suite.ctx, models.ContextRequest, grant.Token, PublicUpdateInput{
		Status: "completed", CommentMessage: "fixed", Name: "Juma", Phone: "+256700111222",
	})
	suite.Require().NoError(err)
	suite.Equal(string(models.RequestCompleted), out.Status)
	suite.Require().Len(out.Comments, 1)
	suite.Equal("fixed", out.Comments[0].Message)
	suite.True(out.Comments[0].IsExternal)

	stored := suite.loadRequest(r.ID)
	suite.Equal(models.RequestCompleted, stored.Status)
	suite.NotNil(stored.ResolvedAt)
	last := stored.StatusHistory[len(stored.StatusHistory)-1]
	suite.Equal("Juma", last.ChangedByName)
	suite.Require().NotNil(last.ChangedBy)

	principal, err := suite.store.Repos().Users.GetByID(suite.ctx, *last.ChangedBy)
	suite.Require().NoError(err)
	suite.Equal("external-256700111222@external.fixit.local", principal.Email)
	suite.True(principal.IsExternal)
	suite.Equal(models.StatusDeactivated, principal.Status)
	for _, u := range []*models.User{suite.landlord, suite.manager, suite.tenant} {
		suite.NotEqual(u.ID, principal.ID)
	}

	rows, err := suite.store.Repos().AuditLogs.ListByResource(suite.ctx, models.ResourceRequest, r.ID)
	suite.Require().NoError(err)
	external := 0
	for _, row := range rows {
		if row.ExternalUserIdentifier != nil {
			suite.Equal("+256700111222", *row.ExternalUserIdentifier)
			external++
		}
	}
	suite.Equal(3, external)
	suite.Contains(suite.sent.to(suite.tenant.ID), models.NotifyRequestCompleted)

	again, err := suite.gateway.View(suite.ctx, models.ContextRequest, grant.Token)
	suite.Require().NoError(err)
	suite.Len(again.Comments, 1)
	suite.Empty(again.AllowedStatuses)
}

func (suite *PublicGatewayTestSuite) TestSamePhoneReusesPrincipal() {
	r, grant := suite.shared()
	for _, msg := range []string{"on my way", "arrived"} {
		_, err := suite.gateway.Update(suite.ctx, models.ContextRequest, grant.Token, PublicUpdateInput{
			CommentMessage: msg, Name: "Juma", Phone: "+256700111222",
		})
		suite.Require().NoError(err)
	}
	comments, err := suite.store.Repos().Comments.ListByContext(suite.ctx, models.ContextRequest, r.ID, true)
	suite.Require().NoError(err)
	suite.Require().Len(comments, 2)
	suite.Equal(*comments[0].SenderID, *comments[1].SenderID)
}

func (suite *PublicGatewayTestSuite) TestRejectsOutsideTheAlphabet() {
	_, grant := suite.shared()
	_, err := suite.gateway.Update(suite.ctx, models.ContextRequest, grant.Token, PublicUpdateInput{
		Status: "verified", Name: "Juma", Phone: "+256700111222",
	})
	suite.ErrorIs(err, common.ErrState)

	_, err = suite.gateway.Update(suite.ctx, models.ContextRequest, grant.Token, PublicUpdateInput{
		Status: "inProgress", Phone: "+256700111222",
	})
	suite.ErrorIs(err, common.ErrValidation)

	_, err = suite.gateway.Update(suite.ctx, models.ContextRequest, grant.Token, PublicUpdateInput{
		Name: "Juma", Phone: "+256700111222",
	})
	suite.ErrorIs(err, common.ErrValidation)
}

func (suite *PublicGatewayTestSuite) TestExpiredDisabledAndRotatedLinksAreNotFound() {
	r, grant := suite.shared()
	body := PublicUpdateInput{CommentMessage: "hello", Name: "Juma", Phone: "+256700111222"}

	_, err := suite.gateway.View(suite.ctx, models.ContextRequest, "not-a-token")
	suite.ErrorIs(err, common.ErrNotFound)
	_, err = suite.gateway.View(suite.ctx, models.ContextSchedule, grant.Token)
	suite.ErrorIs(err, common.ErrNotFound)

	suite.Require().NoError(suite.links.DisablePublicLink(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID))
	_, err = suite.gateway.View(suite.ctx, models.ContextRequest, grant.Token)
	suite.ErrorIs(err, common.ErrNotFound)
	_, err = suite.gateway.Update(suite.ctx, models.ContextRequest, grant.Token, body)
	suite.ErrorIs(err, common.ErrNotFound)

	fresh, err := suite.links.EnablePublicLink(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID, nil)
	suite.Require().NoError(err)
	suite.NotEqual(grant.Token, fresh.Token)
	_, err = suite.gateway.View(suite.ctx, models.ContextRequest, grant.Token)
	suite.ErrorIs(err, common.ErrNotFound)
	_, err = suite.gateway.View(suite.ctx, models.ContextRequest, fresh.Token)
	suite.Require().NoError(err)

	suite.advance(7*24*time.Hour + time.Second)
	_, err = suite.gateway.View(suite.ctx, models.ContextRequest, fresh.Token)
	suite.ErrorIs(err, common.ErrNotFound)
	_, err = suite.gateway.Update(suite.ctx, models.ContextRequest, fresh.Token, body)
	suite.ErrorIs(err, common.ErrNotFound)

	comments, err := suite.store.Repos().Comments.ListByContext(suite.ctx, models.ContextRequest, r.ID, true)
	suite.Require().NoError(err)
	suite.Empty(comments)
}

func (suite *PublicGatewayTestSuite) TestScheduleCompletedThroughLink() {
	sm, err := suite.schedules.CreateSchedule(suite.ctx, actor(suite.manager), CreateScheduleInput{
		Title: "Lift inspection", Category: "lift", PropertyID: suite.property.ID,
		ScheduledDate: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), Recurring: true,
		Frequency: models.Frequency{Type: models.FrequencyWeekly, Interval: 1, DayOfWeek: intPtr(1)},
	}, nil)
	suite.Require().NoError(err)
	grant, err := suite.links.EnablePublicLink(suite.ctx, actor(suite.landlord), models.ContextSchedule, sm.ID, nil)
	suite.Require().NoError(err)
	suite.Equal("https://app.test/scheduled-maintenance/public/"+grant.Token, grant.URL)

	view, err := suite.gateway.View(suite.ctx, models.ContextSchedule, grant.Token)
	suite.Require().NoError(err)
	suite.Equal([]string{"inProgress", "completed"}, view.AllowedStatuses)
	suite.NotNil(view.NextDueDate)

	out, err := suite.gateway.Update(suite.ctx, models.ContextSchedule, grant.Token, PublicUpdateInput{
		Status: "completed", Name: "Ivan", Phone: "+256 772 000111",
	})
	suite.Require().NoError(err)
	suite.Equal(string(models.ScheduleScheduled), out.Status)

	stored := suite.loadSchedule(sm.ID)
	suite.Equal([]string{"inProgress", "scheduled"}, historyStatuses(stored.StatusHistory))
	suite.Equal("Ivan", stored.StatusHistory[1].ChangedByName)
	suite.NotNil(stored.LastExecutedAt)
}
