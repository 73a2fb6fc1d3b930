package services

import (
	"strings"
	"testing"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type RequestServiceTestSuite struct {
	engineSuite
}

func TestRequestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(RequestServiceTestSuite))
}

func (suite *RequestServiceTestSuite) TestCreateAndAssign() {
	r := suite.newRequest("Leaking sink")
	suite.Equal(models.RequestNew, r.Status)
	suite.Equal(models.PriorityMedium, r.Priority)
	suite.Empty(r.StatusHistory)
	suite.Equal(suite.tenant.ID, r.CreatedBy)
	suite.NotNil(r.CreatedByPropertyUser)

	suite.ElementsMatch([]models.NotificationKind{models.NotifyRequestCreated}, suite.sent.to(suite.landlord.ID))
	suite.ElementsMatch([]models.NotificationKind{models.NotifyRequestCreated}, suite.sent.to(suite.manager.ID))
	suite.Empty(suite.sent.to(suite.tenant.ID))

	assigned, err := suite.requests.AssignRequest(suite.ctx, actor(suite.manager), r.ID, AssignInput{Assignee: &suite.tech.ID})
	suite.Require().NoError(err)
	suite.Equal(models.RequestAssigned, assigned.Status)
	suite.True(assigned.AssignedTo.IsUser(suite.tech.ID))
	suite.Require().Len(assigned.StatusHistory, 1)
	suite.Equal("assigned", assigned.StatusHistory[0].Status)
	suite.Equal(suite.manager.ID, *assigned.StatusHistory[0].ChangedBy)
	suite.Equal("Assigned to Tobias", assigned.StatusHistory[0].Notes)
	suite.Contains(suite.sent.to(suite.tech.ID), models.NotifyRequestAssigned)

	suite.Equal([]models.AuditAction{models.AuditCreate, models.AuditAssign}, suite.auditActions(models.ResourceRequest, r.ID))
}

func (suite *RequestServiceTestSuite) TestCreate_Validation() {
	_, err := suite.requests.CreateRequest(suite.ctx, actor(suite.tenant), CreateRequestInput{
		Category: "plumbing", PropertyID: suite.property.ID,
	}, nil)
	suite.ErrorIs(err, common.ErrValidation)

	other := uuid.New()
	_, err = suite.requests.CreateRequest(suite.ctx, actor(suite.tenant), CreateRequestInput{
		Title: "Door", Category: "carpentry", PropertyID: suite.property.ID, UnitID: &other,
	}, nil)
	suite.ErrorIs(err, common.ErrValidation)
}

func (suite *RequestServiceTestSuite) TestCreate_StrangerForbidden() {
	_, err := suite.requests.CreateRequest(suite.ctx, actor(suite.stranger), CreateRequestInput{
		Title: "Not mine", Category: "plumbing", PropertyID: suite.property.ID, UnitID: &suite.unit.ID,
	}, nil)
	suite.ErrorIs(err, common.ErrAuthorization)
}

func (suite *RequestServiceTestSuite) TestCreate_WithMediaStoresBlobs() {
	r, err := suite.requests.CreateRequest(suite.ctx, actor(suite.tenant), CreateRequestInput{
		Title: "Cracked tile", Category: "flooring", PropertyID: suite.property.ID, UnitID: &suite.unit.ID,
	}, []FileInput{pngFile("tile.png")})
	suite.Require().NoError(err)
	suite.Require().Len(r.MediaIDs, 1)

	m, err := suite.store.Repos().Media.GetByID(suite.ctx, r.MediaIDs[0])
	suite.Require().NoError(err)
	suite.Equal("image/png", m.MimeType)
	suite.Equal("tile.png", m.Filename)
	suite.True(suite.blobs.Has(m.PublicID))
}

func (suite *RequestServiceTestSuite) TestCreate_RejectsUnsupportedMedia() {
	_, err := suite.requests.CreateRequest(suite.ctx, actor(suite.tenant), CreateRequestInput{
		Title: "Script", Category: "other", PropertyID: suite.property.ID, UnitID: &suite.unit.ID,
	}, []FileInput{{Filename: "run.sh", Reader: strings.NewReader("#!/bin/sh\necho hi\n")}})
	suite.ErrorIs(err, common.ErrValidation)
}

func (suite *RequestServiceTestSuite) TestAssign_SameAssigneeIsNoop() {
	r := suite.newRequest("Broken hinge")
	suite.assignVendor(r.ID)
	again := suite.assignVendor(r.ID)
	suite.Len(again.StatusHistory, 1)
	suite.Equal([]models.AuditAction{models.AuditCreate, models.AuditAssign}, suite.auditActions(models.ResourceRequest, r.ID))
}

func (suite *RequestServiceTestSuite) TestAssign_Unassign() {
	r := suite.newRequest("Loose socket")
	suite.assignVendor(r.ID)
	out, err := suite.requests.AssignRequest(suite.ctx, actor(suite.manager), r.ID, AssignInput{})
	suite.Require().NoError(err)
	suite.Equal(models.RequestNew, out.Status)
	suite.Nil(out.AssignedTo)
	suite.Equal([]string{"assigned", "new"}, historyStatuses(out.StatusHistory))
	suite.Equal("Unassigned", out.StatusHistory[1].Notes)
}

func (suite *RequestServiceTestSuite) TestAssign_RejectsForeignVendorAndTenantCaller() {
	r := suite.newRequest("Gutter")
	elsewhere := &models.Vendor{Name: "Far Away Ltd", PropertyIDs: []uuid.UUID{uuid.New()}, IsActive: true}
	suite.Require().NoError(suite.store.Repos().Vendors.Create(suite.ctx, elsewhere))

	_, err := suite.requests.AssignRequest(suite.ctx, actor(suite.manager), r.ID, AssignInput{
		Assignee: &elsewhere.ID, Kind: string(models.AssigneeVendor),
	})
	suite.ErrorIs(err, common.ErrValidation)

	_, err = suite.requests.AssignRequest(suite.ctx, actor(suite.tenant), r.ID, AssignInput{Assignee: &suite.tech.ID})
	suite.ErrorIs(err, common.ErrAuthorization)
}

func (suite *RequestServiceTestSuite) TestLifecycle_VendorRatedOnVerify() {
	r := suite.newRequest("Blocked drain")
	suite.assignVendor(r.ID)

	_, err := suite.transition(suite.manager, r.ID, RequestBegin, "")
	suite.Require().NoError(err)
	_, err = suite.transition(suite.manager, r.ID, RequestPause, "waiting for parts")
	suite.Require().NoError(err)
	_, err = suite.transition(suite.manager, r.ID, RequestResume, "")
	suite.Require().NoError(err)

	suite.advance(2 * time.Hour)
	done, err := suite.transition(suite.manager, r.ID, RequestFinish, "")
	suite.Require().NoError(err)
	suite.Equal(models.RequestCompleted, done.Status)
	suite.Require().NotNil(done.ResolvedAt)
	suite.Equal(suite.now, *done.ResolvedAt)
	suite.Contains(suite.sent.to(suite.tenant.ID), models.NotifyRequestCompleted)

	verified, err := suite.requests.TransitionRequest(suite.ctx, actor(suite.tenant), r.ID, TransitionInput{
		Event: RequestVerify, Feedback: &FeedbackInput{Rating: 4, Comment: "quick job"},
	})
	suite.Require().NoError(err)
	suite.Equal(models.RequestVerified, verified.Status)
	suite.Require().NotNil(verified.Feedback)
	suite.Equal(4, verified.Feedback.Rating)
	suite.Equal(suite.tenant.ID, verified.Feedback.SubmittedBy)

	vendor, err := suite.store.Repos().Vendors.GetByID(suite.ctx, suite.vendor.ID)
	suite.Require().NoError(err)
	suite.Equal(1, vendor.TotalJobsCompleted)
	suite.Equal(1, vendor.TotalRatings)
	suite.InDelta(4.0, vendor.AverageRating, 0.0001)
	suite.NotEmpty(suite.sent.toAddress("juma@plumbing.test"))

	suite.Equal([]string{"assigned", "inProgress", "onHold", "inProgress", "completed", "verified"},
		historyStatuses(verified.StatusHistory))

	_, err = suite.requests.SubmitFeedback(suite.ctx, actor(suite.tenant), r.ID, FeedbackInput{Rating: 2})
	suite.ErrorIs(err, common.ErrConflict)

	archived, err := suite.transition(suite.manager, r.ID, RequestArchive, "")
	suite.Require().NoError(err)
	suite.Equal(models.RequestArchived, archived.Status)
}

func (suite *RequestServiceTestSuite) TestSubmitFeedback_AfterVerify() {
	r := suite.newRequest("Peeling paint")
	suite.assignVendor(r.ID)
	for _, e := range []RequestEvent{RequestBegin, RequestFinish} {
		_, err := suite.transition(suite.manager, r.ID, e, "")
		suite.Require().NoError(err)
	}
	_, err := suite.transition(suite.tenant, r.ID, RequestVerify, "")
	suite.Require().NoError(err)

	out, err := suite.requests.SubmitFeedback(suite.ctx, actor(suite.tenant), r.ID, FeedbackInput{Rating: 5})
	suite.Require().NoError(err)
	suite.Equal(5, out.Feedback.Rating)

	vendor, err := suite.store.Repos().Vendors.GetByID(suite.ctx, suite.vendor.ID)
	suite.Require().NoError(err)
	suite.Equal(1, vendor.TotalJobsCompleted)
	suite.InDelta(5.0, vendor.AverageRating, 0.0001)

	_, err = suite.requests.SubmitFeedback(suite.ctx, actor(suite.tenant), r.ID, FeedbackInput{Rating: 9})
	suite.ErrorIs(err, common.ErrValidation)
}

func (suite *RequestServiceTestSuite) TestIllegalTransitionsAreStateErrors() {
	r := suite.newRequest("Window latch")

	_, err := suite.transition(suite.manager, r.ID, RequestFinish, "")
	suite.ErrorIs(err, common.ErrState)
	_, err = suite.transition(suite.manager, r.ID, RequestBegin, "")
	suite.ErrorIs(err, common.ErrState)
	_, err = suite.transition(suite.manager, r.ID, RequestArchive, "")
	suite.ErrorIs(err, common.ErrState)

	_, err = suite.requests.TransitionRequest(suite.ctx, actor(suite.manager), r.ID, TransitionInput{Event: "explode"})
	suite.ErrorIs(err, common.ErrValidation)

	// state is untouched by the rejected attempts
	stored := suite.loadRequest(r.ID)
	suite.Equal(models.RequestNew, stored.Status)
	suite.Empty(stored.StatusHistory)
}

func (suite *RequestServiceTestSuite) TestAssigneeMayWorkButNotCancel() {
	r := suite.newRequest("Smoke alarm")
	_, err := suite.requests.AssignRequest(suite.ctx, actor(suite.manager), r.ID, AssignInput{Assignee: &suite.tech.ID})
	suite.Require().NoError(err)

	_, err = suite.transition(suite.tech, r.ID, RequestBegin, "")
	suite.Require().NoError(err)
	_, err = suite.transition(suite.tech, r.ID, RequestCancel, "")
	suite.ErrorIs(err, common.ErrAuthorization)
	_, err = suite.transition(suite.stranger, r.ID, RequestFinish, "")
	suite.ErrorIs(err, common.ErrAuthorization)
}

func (suite *RequestServiceTestSuite) TestReopenClearsResolutionAndAssignment() {
	r := suite.newRequest("Heater")
	suite.assignVendor(r.ID)
	for _, e := range []RequestEvent{RequestBegin, RequestFinish} {
		_, err := suite.transition(suite.manager, r.ID, e, "")
		suite.Require().NoError(err)
	}

	_, err := suite.transition(suite.manager, r.ID, RequestReopen, "")
	suite.ErrorIs(err, common.ErrValidation)

	suite.sent.reset()
	out, err := suite.transition(suite.manager, r.ID, RequestReopen, "still cold")
	suite.Require().NoError(err)
	suite.Equal(models.RequestNew, out.Status)
	suite.Nil(out.ResolvedAt)
	suite.Nil(out.AssignedTo)
	suite.Equal("Reopened: still cold", out.StatusHistory[len(out.StatusHistory)-1].Notes)
	suite.Contains(suite.sent.to(suite.tenant.ID), models.NotifyRequestReopened)
	suite.NotEmpty(suite.sent.toAddress("juma@plumbing.test"))
}

func (suite *RequestServiceTestSuite) TestCanceledRequestIsSilent() {
	r := suite.newRequest("Fence")
	suite.assignVendor(r.ID)
	_, err := suite.transition(suite.manager, r.ID, RequestCancel, "duplicate")
	suite.Require().NoError(err)

	suite.sent.reset()
	_, err = suite.comments.AddComment(suite.ctx, actor(suite.tenant), models.ContextRequest, r.ID, CommentInput{Message: "ok"})
	suite.Require().NoError(err)
	suite.Zero(suite.sent.count())

	title := "Fence again"
	_, err = suite.requests.UpdateRequest(suite.ctx, actor(suite.manager), r.ID, UpdateRequestInput{Title: &title})
	suite.ErrorIs(err, common.ErrState)
	_, err = suite.transition(suite.manager, r.ID, RequestBegin, "")
	suite.ErrorIs(err, common.ErrState)
}

func (suite *RequestServiceTestSuite) TestTenantCannotDelete() {
	r := suite.newRequest("Ceiling stain")
	err := suite.requests.DeleteRequest(suite.ctx, actor(suite.tenant), r.ID)
	suite.ErrorIs(err, common.ErrAuthorization)
	suite.Equal(models.RequestNew, suite.loadRequest(r.ID).Status)
}

func (suite *RequestServiceTestSuite) TestDeleteCascadesAndReleasesBlobs() {
	r, err := suite.requests.CreateRequest(suite.ctx, actor(suite.tenant), CreateRequestInput{
		Title: "Mould", Category: "cleaning", PropertyID: suite.property.ID, UnitID: &suite.unit.ID,
	}, []FileInput{pngFile("mould.png")})
	suite.Require().NoError(err)
	m, err := suite.store.Repos().Media.GetByID(suite.ctx, r.MediaIDs[0])
	suite.Require().NoError(err)
	_, err = suite.comments.AddComment(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID, CommentInput{Message: "looking", IsInternalNote: true})
	suite.Require().NoError(err)

	suite.Require().NoError(suite.requests.DeleteRequest(suite.ctx, actor(suite.landlord), r.ID))

	_, err = suite.store.Repos().Requests.GetByID(suite.ctx, r.ID)
	suite.ErrorIs(err, common.ErrNotFound)
	comments, err := suite.store.Repos().Comments.ListByContext(suite.ctx, models.ContextRequest, r.ID, true)
	suite.Require().NoError(err)
	suite.Empty(comments)
	media, err := suite.store.Repos().Media.ListByOwner(suite.ctx, models.ContextRequest, r.ID)
	suite.Require().NoError(err)
	suite.Empty(media)
	suite.False(suite.blobs.Has(m.PublicID))

	actions := suite.auditActions(models.ResourceRequest, r.ID)
	suite.Equal(models.AuditDelete, actions[len(actions)-1])
}

func (suite *RequestServiceTestSuite) TestListScopesToVisibility() {
	suite.newRequest("Mine")
	items, total, err := suite.requests.ListRequests(suite.ctx, actor(suite.stranger), RequestQuery{})
	suite.Require().NoError(err)
	suite.Zero(total)
	suite.Empty(items)

	items, total, err = suite.requests.ListRequests(suite.ctx, actor(suite.manager), RequestQuery{})
	suite.Require().NoError(err)
	suite.Equal(1, total)
	suite.Len(items, 1)
}

func (suite *RequestServiceTestSuite) TestCommentsHideInternalNotesFromTenant() {
	r := suite.newRequest("Boiler")
	_, err := suite.comments.AddComment(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID, CommentInput{Message: "vendor overcharges", IsInternalNote: true})
	suite.Require().NoError(err)
	_, err = suite.comments.AddComment(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID, CommentInput{Message: "booked for Tuesday"})
	suite.Require().NoError(err)

	_, err = suite.comments.AddComment(suite.ctx, actor(suite.tenant), models.ContextRequest, r.ID, CommentInput{Message: "secret", IsInternalNote: true})
	suite.ErrorIs(err, common.ErrAuthorization)

	seen, err := suite.comments.ListComments(suite.ctx, actor(suite.tenant), models.ContextRequest, r.ID)
	suite.Require().NoError(err)
	suite.Require().Len(seen, 1)
	suite.Equal("booked for Tuesday", seen[0].Message)

	all, err := suite.comments.ListComments(suite.ctx, actor(suite.landlord), models.ContextRequest, r.ID)
	suite.Require().NoError(err)
	suite.Len(all, 2)

	detail, err := suite.requests.GetRequest(suite.ctx, actor(suite.tenant), r.ID)
	suite.Require().NoError(err)
	suite.Len(detail.Comments, 1)
}

func (suite *RequestServiceTestSuite) TestMediaUploadAndDelete() {
	r := suite.newRequest("Broken tile")
	items, err := suite.media.UploadMedia(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID, []FileInput{pngFile("a.png"), pngFile("b.png")})
	suite.Require().NoError(err)
	suite.Require().Len(items, 2)
	suite.Len(suite.loadRequest(r.ID).MediaIDs, 2)

	err = suite.media.DeleteMedia(suite.ctx, actor(suite.tenant), models.ContextRequest, r.ID, items[0].ID)
	suite.ErrorIs(err, common.ErrAuthorization)

	suite.Require().NoError(suite.media.DeleteMedia(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID, items[0].ID))
	suite.False(suite.blobs.Has(items[0].PublicID))
	suite.True(suite.blobs.Has(items[1].PublicID))
	suite.Equal([]uuid.UUID{items[1].ID}, suite.loadRequest(r.ID).MediaIDs)

	err = suite.media.DeleteMedia(suite.ctx, actor(suite.manager), models.ContextRequest, r.ID, items[0].ID)
	suite.ErrorIs(err, common.ErrNotFound)
}
