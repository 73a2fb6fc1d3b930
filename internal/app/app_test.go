package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fixit/internal/common"
	"fixit/internal/config"
	"fixit/internal/logging"
	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

const password = "correct-horse-battery"

// syncBuffer lets the test read log output written by delivery goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type envelope struct {
	Success bool             `json:"success"`
	Status  int              `json:"status"`
	Kind    common.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
}

// ScenarioTestSuite drives the assembled router with every collaborator in
// its in-memory mode.
type ScenarioTestSuite struct {
	suite.Suite
	ctx  context.Context
	app  *App
	logs *syncBuffer

	property *models.Property
	unit1    *models.Unit
	unit2    *models.Unit
	manager  *models.User
	tenant2  *models.User
	vendor   *models.Vendor

	managerToken string
	tenantToken  string
}

func TestScenarioTestSuite(t *testing.T) {
	suite.Run(t, new(ScenarioTestSuite))
}

func (s *ScenarioTestSuite) SetupTest() {
	s.ctx = context.Background()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("app_env", config.EnvTest)
	v.Set("audit_journal_path", filepath.Join(s.T().TempDir(), "audit.jsonl"))
	cfg, err := config.FromViper(v)
	s.Require().NoError(err)

	s.logs = &syncBuffer{}
	logger := logging.NewWithOutput(config.LoggingConfig{Level: "info", Format: "json"}, s.logs)
	s.app, err = New(s.ctx, cfg, logger)
	s.Require().NoError(err)

	s.seed()
	s.managerToken = s.login(s.manager.Email)
	s.tenantToken = s.login(s.tenant2.Email)
}

func (s *ScenarioTestSuite) TearDownTest() {
	s.NoError(s.app.Close())
}

func (s *ScenarioTestSuite) seed() {
	repos := s.app.Store.Repos()
	s.property = &models.Property{Name: "Kololo Heights", Address: "12 Acacia Ave", City: "Kampala", Country: "UG"}
	s.Require().NoError(repos.Properties.CreateProperty(s.ctx, s.property))
	s.unit1 = &models.Unit{PropertyID: s.property.ID, Name: "A1", Status: models.UnitOccupied}
	s.Require().NoError(repos.Properties.CreateUnit(s.ctx, s.unit1))
	s.unit2 = &models.Unit{PropertyID: s.property.ID, Name: "A2", Status: models.UnitOccupied}
	s.Require().NoError(repos.Properties.CreateUnit(s.ctx, s.unit2))

	s.manager = s.user("martin@fixit.test", models.RolePropertyManager)
	s.tenant2 = s.user("tess@fixit.test", models.RoleTenant)
	s.member(s.manager, nil, models.PropertyRolePropertyManager)
	s.member(s.tenant2, &s.unit2.ID, models.PropertyRoleTenant)

	email, phone := "juma@plumbing.test", "+256700111222"
	s.vendor = &models.Vendor{
		Name:        "Juma Plumbing",
		Email:       &email,
		Phone:       &phone,
		PropertyIDs: []uuid.UUID{s.property.ID},
		IsActive:    true,
	}
	s.Require().NoError(repos.Vendors.Create(s.ctx, s.vendor))
}

func (s *ScenarioTestSuite) user(email string, role models.GlobalRole) *models.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	s.Require().NoError(err)
	h := string(hash)
	u := &models.User{
		Email:                   email,
		FirstName:               strings.Split(email, "@")[0],
		Role:                    role,
		Status:                  models.StatusActive,
		PasswordHash:            &h,
		NotificationPreferences: []models.Channel{models.ChannelInApp},
	}
	s.Require().NoError(s.app.Store.Repos().Users.Create(s.ctx, u))
	return u
}

func (s *ScenarioTestSuite) member(u *models.User, unitID *uuid.UUID, roles ...models.PropertyRole) {
	s.Require().NoError(s.app.Store.Repos().PropertyUsers.Create(s.ctx, &models.PropertyUser{
		UserID:     u.ID,
		PropertyID: s.property.ID,
		UnitID:     unitID,
		Roles:      models.NewRoleSet(roles...),
		IsActive:   true,
	}))
}

func (s *ScenarioTestSuite) do(method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.app.Echo.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (s *ScenarioTestSuite) login(email string) string {
	rec, env := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var tokens models.TokenResponse
	s.Require().NoError(json.Unmarshal(env.Data, &tokens))
	s.Require().NotEmpty(tokens.AccessToken)
	return tokens.AccessToken
}

func (s *ScenarioTestSuite) createRequest(token string, unit uuid.UUID) (*httptest.ResponseRecorder, *models.Request) {
	rec, env := s.do(http.MethodPost, "/api/requests", token, map[string]any{
		"title":    "Leaky tap",
		"category": "plumbing",
		"priority": "medium",
		"property": s.property.ID,
		"unit":     unit,
	})
	if rec.Code != http.StatusCreated {
		return rec, nil
	}
	var r models.Request
	s.Require().NoError(json.Unmarshal(env.Data, &r))
	return rec, &r
}

// assigned runs the create-and-assign flow and returns the assigned request.
func (s *ScenarioTestSuite) assigned() *models.Request {
	rec, r := s.createRequest(s.managerToken, s.unit1.ID)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := s.do(http.MethodPost, "/api/requests/"+r.ID.String()+"/assign", s.managerToken, map[string]any{
		"assignee": s.vendor.ID,
		"kind":     "Vendor",
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var out models.Request
	s.Require().NoError(json.Unmarshal(env.Data, &out))
	return &out
}

func (s *ScenarioTestSuite) enableLink(id uuid.UUID) string {
	rec, env := s.do(http.MethodPost, "/api/requests/"+id.String()+"/public-link", s.managerToken, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var grant struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &grant))
	s.Require().NotEmpty(grant.Token)
	s.Contains(grant.URL, grant.Token)
	return grant.Token
}

func (s *ScenarioTestSuite) TestCreateAndAssign() {
	rec, r := s.createRequest(s.managerToken, s.unit1.ID)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	s.Equal(models.RequestNew, r.Status)

	rows, err := s.app.Store.Repos().AuditLogs.ListByResource(s.ctx, models.ResourceRequest, r.ID)
	s.Require().NoError(err)
	s.Require().NotEmpty(rows)
	s.Equal(models.AuditCreate, rows[0].Action)

	rec, env := s.do(http.MethodPost, "/api/requests/"+r.ID.String()+"/assign", s.managerToken, map[string]any{
		"assignee": s.vendor.ID,
		"kind":     "Vendor",
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var out models.Request
	s.Require().NoError(json.Unmarshal(env.Data, &out))
	s.Equal(models.RequestAssigned, out.Status)
	s.Len(out.StatusHistory, 1)
	s.Require().NotNil(out.AssignedTo)
	s.Equal(models.AssigneeVendor, out.AssignedTo.Kind)

	s.Eventually(func() bool {
		return strings.Contains(s.logs.String(), "juma@plumbing.test")
	}, 2*time.Second, 20*time.Millisecond, "vendor was not notified")
}

func (s *ScenarioTestSuite) TestPublicLinkVendorCompletes() {
	r := s.assigned()
	rec, _ := s.do(http.MethodPost, "/api/requests/"+r.ID.String()+"/comments", s.managerToken, map[string]any{
		"message":        "do not pay more than 50k",
		"isInternalNote": true,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	token := s.enableLink(r.ID)

	rec, _ = s.do(http.MethodGet, "/api/public/requests/"+token, "", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.NotContains(rec.Body.String(), "50k")
	s.NotContains(rec.Body.String(), s.vendor.ID.String())

	rec, env := s.do(http.MethodPost, "/api/public/requests/"+token, "", map[string]string{
		"status":         "completed",
		"commentMessage": "fixed",
		"name":           "Juma",
		"phone":          "+256700111222",
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var view struct {
		Status string `json:"status"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &view))
	s.Equal(string(models.RequestCompleted), view.Status)

	stored, err := s.app.Store.Repos().Requests.GetByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestCompleted, stored.Status)
	last := stored.StatusHistory[len(stored.StatusHistory)-1]
	s.Equal("Juma", last.ChangedByName)
	s.Require().NotNil(last.ChangedBy)
	principal, err := s.app.Store.Repos().Users.GetByID(s.ctx, *last.ChangedBy)
	s.Require().NoError(err)
	s.Contains(principal.Email, "256700111222")
	s.True(principal.IsExternal)

	rec, _ = s.do(http.MethodGet, "/api/public/requests/"+token, "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "fixed")
	s.NotContains(rec.Body.String(), "50k")
}

func (s *ScenarioTestSuite) TestDisabledLinkIsIndistinguishableFromUnknown() {
	r := s.assigned()
	token := s.enableLink(r.ID)

	rec, _ := s.do(http.MethodDelete, "/api/requests/"+r.ID.String()+"/public-link", s.managerToken, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	viewRec, view := s.do(http.MethodGet, "/api/public/requests/"+token, "", nil)
	updateRec, update := s.do(http.MethodPost, "/api/public/requests/"+token, "", map[string]string{
		"status": "completed", "name": "Juma", "phone": "+256700111222",
	})
	_, unknown := s.do(http.MethodGet, "/api/public/requests/not-a-token", "", nil)

	s.Equal(http.StatusNotFound, viewRec.Code)
	s.Equal(http.StatusNotFound, updateRec.Code)
	s.Equal(view.Message, update.Message)
	s.Equal(view.Message, unknown.Message)
	s.Equal(common.KindNotFound, view.Kind)

	stored, err := s.app.Store.Repos().Requests.GetByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestAssigned, stored.Status)
}

func (s *ScenarioTestSuite) TestTenantOfAnotherUnitCannotDelete() {
	_, r := s.createRequest(s.managerToken, s.unit1.ID)
	s.Require().NotNil(r)

	rec, env := s.do(http.MethodDelete, "/api/requests/"+r.ID.String(), s.tenantToken, nil)
	s.Equal(http.StatusForbidden, rec.Code, rec.Body.String())
	s.Equal(common.KindAuthorization, env.Kind)
	s.False(env.Success)

	rec, own := s.createRequest(s.tenantToken, s.unit2.ID)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	s.Equal(s.unit2.ID, *own.UnitID)
}

func (s *ScenarioTestSuite) TestProtectedRoutesNeedToken() {
	rec, env := s.do(http.MethodGet, "/api/requests", "", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(common.KindAuthentication, env.Kind)

	rec, env = s.do(http.MethodGet, "/api/requests", "garbage", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("invalid or expired token", env.Message)
}

func (s *ScenarioTestSuite) TestHealthAndDocs() {
	rec, _ := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	rec, _ = s.do(http.MethodGet, "/health/ready", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	rec, _ = s.do(http.MethodGet, "/swagger/doc.json", "", nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *ScenarioTestSuite) TestRunOnceOnQuietSystem() {
	s.NoError(s.app.RunOnce(s.ctx))
	status := s.app.Scheduler.GetJobStatus()
	s.Equal(3, status["total_jobs"])
}
