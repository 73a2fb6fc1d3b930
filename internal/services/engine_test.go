package services

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"fixit/internal/authz"
	"fixit/internal/models"
	"fixit/internal/repositories/memstore"
	"fixit/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// recordingDispatcher keeps every notice handed over after commit.
type recordingDispatcher struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingDispatcher) Dispatch(_ context.Context, notices ...Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notices...)
}

func (r *recordingDispatcher) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = nil
}

// to returns the kinds addressed to user, in dispatch order.
func (r *recordingDispatcher) to(userID uuid.UUID) []models.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.NotificationKind
	for _, n := range r.notices {
		if n.To.UserID != nil && *n.To.UserID == userID {
			out = append(out, n.Kind)
		}
	}
	return out
}

func (r *recordingDispatcher) toAddress(email string) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.To.Email == email {
			out = append(out, n)
		}
	}
	return out
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 32)...)

func pngFile(name string) FileInput {
	return FileInput{Filename: name, Reader: bytes.NewReader(pngBytes)}
}

// engineSuite wires the request and schedule engines over the in-memory
// store with a clock the tests move by hand.
type engineSuite struct {
	suite.Suite
	ctx   context.Context
	now   time.Time
	store *memstore.Store
	blobs *storage.MemoryStore
	sent  *recordingDispatcher
	deps  *EngineDeps

	property *models.Property
	unit     *models.Unit
	landlord *models.User
	manager  *models.User
	tenant   *models.User
	tech     *models.User
	stranger *models.User
	vendor   *models.Vendor

	requests  RequestService
	schedules ScheduleService
	comments  CommentService
	media     AttachmentService
	links     PublicLinkService
	gateway   PublicGateway
	runner    MaintenanceRunner
}

func (s *engineSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	s.store = memstore.New()
	s.blobs = storage.NewMemoryStore("https://blobs.test")
	s.sent = &recordingDispatcher{}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	clock := func() time.Time { return s.now }
	roles := NewRoleLoader(s.store, nil, time.Minute, logger, clock)

	s.deps = &EngineDeps{
		Store:       s.store,
		Authz:       authz.NewResolver(roles, logger),
		Roles:       roles,
		Audit:       NewAuditLogsService(s.store, nil, logger, clock),
		Notifier:    s.sent,
		Media:       NewMediaService(s.store, s.blobs, 0, time.Second, logger, clock),
		Links:       NewPublicLinks(7*24*time.Hour, 30*24*time.Hour, "https://app.test"),
		Logger:      logger,
		Clock:       clock,
		FrontendURL: "https://app.test",
	}
	s.requests = NewRequestService(s.deps)
	s.schedules = NewScheduleService(s.deps)
	s.comments = NewCommentService(s.deps)
	s.media = NewAttachmentService(s.deps)
	s.links = NewPublicLinkService(s.deps)
	s.gateway = NewPublicGateway(s.deps)
	s.runner = NewMaintenanceRunner(s.deps)

	s.seed()
}

func (s *engineSuite) seed() {
	repos := s.store.Repos()
	s.property = &models.Property{Name: "Kololo Heights", Address: "12 Acacia Ave", City: "Kampala", Country: "UG"}
	s.Require().NoError(repos.Properties.CreateProperty(s.ctx, s.property))
	s.unit = &models.Unit{PropertyID: s.property.ID, Name: "A1", Status: models.UnitOccupied}
	s.Require().NoError(repos.Properties.CreateUnit(s.ctx, s.unit))

	s.landlord = s.seedUser("Lydia", models.RoleLandlord)
	s.manager = s.seedUser("Martin", models.RolePropertyManager)
	s.tenant = s.seedUser("Tess", models.RoleTenant)
	s.tech = s.seedUser("Tobias", models.RoleVendor)
	s.stranger = s.seedUser("Sam", models.RoleTenant)

	s.member(s.landlord, nil, models.PropertyRoleLandlord)
	s.member(s.manager, nil, models.PropertyRolePropertyManager)
	s.member(s.tenant, &s.unit.ID, models.PropertyRoleTenant)
	s.member(s.tech, nil, models.PropertyRoleVendorAccess)

	s.vendor = &models.Vendor{
		Name:        "Juma Plumbing",
		ContactName: "Juma",
		Email:       strPtr("juma@plumbing.test"),
		Phone:       strPtr("+256700111222"),
		PropertyIDs: []uuid.UUID{s.property.ID},
		IsActive:    true,
	}
	s.Require().NoError(repos.Vendors.Create(s.ctx, s.vendor))
}

func (s *engineSuite) seedUser(name string, role models.GlobalRole) *models.User {
	u := &models.User{
		Email:                   name + "@fixit.test",
		FirstName:               name,
		Role:                    role,
		Status:                  models.StatusActive,
		NotificationPreferences: []models.Channel{models.ChannelInApp, models.ChannelEmail},
	}
	s.Require().NoError(s.store.Repos().Users.Create(s.ctx, u))
	return u
}

func (s *engineSuite) member(u *models.User, unitID *uuid.UUID, roles ...models.PropertyRole) {
	pu := &models.PropertyUser{
		UserID:     u.ID,
		PropertyID: s.property.ID,
		UnitID:     unitID,
		Roles:      models.NewRoleSet(roles...),
		IsActive:   true,
	}
	s.Require().NoError(s.store.Repos().PropertyUsers.Create(s.ctx, pu))
}

func actor(u *models.User) authz.Actor { return authz.ActorFor(u) }

func strPtr(s string) *string { return &s }

func (s *engineSuite) advance(d time.Duration) { s.now = s.now.Add(d) }

// newRequest files a request on the seeded unit as the tenant.
func (s *engineSuite) newRequest(title string) *models.Request {
	r, err := s.requests.CreateRequest(s.ctx, actor(s.tenant), CreateRequestInput{
		Title:      title,
		Category:   "plumbing",
		PropertyID: s.property.ID,
		UnitID:     &s.unit.ID,
	}, nil)
	s.Require().NoError(err)
	return r
}

func (s *engineSuite) loadRequest(id uuid.UUID) *models.Request {
	r, err := s.store.Repos().Requests.GetByID(s.ctx, id)
	s.Require().NoError(err)
	return r
}

func (s *engineSuite) loadSchedule(id uuid.UUID) *models.ScheduledMaintenance {
	sm, err := s.store.Repos().Schedules.GetByID(s.ctx, id)
	s.Require().NoError(err)
	return sm
}

func (s *engineSuite) auditActions(kind string, id uuid.UUID) []models.AuditAction {
	rows, err := s.store.Repos().AuditLogs.ListByResource(s.ctx, kind, id)
	s.Require().NoError(err)
	out := make([]models.AuditAction, len(rows))
	for i, row := range rows {
		out[i] = row.Action
	}
	return out
}

func (s *engineSuite) transition(u *models.User, id uuid.UUID, event RequestEvent, notes string) (*models.Request, error) {
	return s.requests.TransitionRequest(s.ctx, actor(u), id, TransitionInput{Event: event, Notes: notes})
}

func (s *engineSuite) assignVendor(id uuid.UUID) *models.Request {
	r, err := s.requests.AssignRequest(s.ctx, actor(s.manager), id, AssignInput{
		Assignee: &s.vendor.ID, Kind: string(models.AssigneeVendor),
	})
	s.Require().NoError(err)
	return r
}

func historyStatuses(h []models.StatusChange) []string {
	out := make([]string, len(h))
	for i, c := range h {
		out[i] = c.Status
	}
	return out
}
