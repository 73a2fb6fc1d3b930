package services

import (
	"context"
	"io"
	"net/url"
	"testing"
	"time"

	"fixit/internal/authz"
	"fixit/internal/caching"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories/memstore"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, raw string) (*FederatedIdentity, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FederatedIdentity), args.Error(1)
}

type AuthServiceTestSuite struct {
	suite.Suite
	ctx    context.Context
	now    time.Time
	store  *memstore.Store
	cache  caching.CacheService
	sent   *recordingDispatcher
	google *mockVerifier
	auth   AuthService
}

func TestAuthServiceTestSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceTestSuite))
}

func (suite *AuthServiceTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.now = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	suite.store = memstore.New()
	suite.cache = caching.NewMemoryCacheService()
	suite.sent = &recordingDispatcher{}
	suite.google = &mockVerifier{}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	clock := func() time.Time { return suite.now }
	roles := NewRoleLoader(suite.store, nil, time.Minute, logger, clock)
	auth, err := NewAuthService(suite.store, suite.cache, suite.sent,
		NewAuditLogsService(suite.store, nil, logger, clock), authz.NewResolver(roles, logger), suite.google,
		AuthConfig{
			Keys:        []SigningKey{{ID: "k2", Secret: []byte("current-secret")}, {ID: "k1", Secret: []byte("previous-secret")}},
			FrontendURL: "https://app.test",
			AppName:     "Fixit",
		}, logger, clock)
	suite.Require().NoError(err)
	suite.auth = auth
}

// tokenFrom pulls the one-time token out of the last link sent to email.
func (suite *AuthServiceTestSuite) tokenFrom(email string, kind models.NotificationKind) string {
	var link string
	for _, n := range suite.sent.toAddress(email) {
		if n.Kind == kind {
			link = n.Link
		}
	}
	suite.Require().NotEmpty(link)
	u, err := url.Parse(link)
	suite.Require().NoError(err)
	return u.Query().Get("token")
}

func (suite *AuthServiceTestSuite) register(email, role string) *models.User {
	user, err := suite.auth.Register(suite.ctx, RegisterInput{
		Email: email, Password: "correct horse", FirstName: "Ada", LastName: "Okello", Role: role,
	})
	suite.Require().NoError(err)
	return user
}

func (suite *AuthServiceTestSuite) actions(id uuid.UUID) []models.AuditAction {
	rows, _, err := suite.store.Repos().AuditLogs.List(suite.ctx, &models.AuditLogFilters{Limit: 100})
	suite.Require().NoError(err)
	var out []models.AuditAction
	for _, row := range rows {
		if row.ResourceID != nil && *row.ResourceID == id {
			out = append(out, row.Action)
		}
	}
	return out
}

func (suite *AuthServiceTestSuite) TestRegister_PendingUntilVerified() {
	user := suite.register("  Ada@Example.com ", "landlord")
	assert.Equal(suite.T(), "ada@example.com", user.Email)
	assert.Equal(suite.T(), models.StatusPendingEmailVerification, user.Status)

	_, err := suite.auth.Login(suite.ctx, "ada@example.com", "correct horse")
	suite.ErrorIs(err, common.ErrAuthentication)

	sent := suite.sent.toAddress("ada@example.com")
	suite.Require().Len(sent, 1)
	assert.Equal(suite.T(), []models.Channel{models.ChannelEmail}, sent[0].To.Channels)
	assert.Contains(suite.T(), sent[0].Link, "https://app.test/verify-email?token=")

	verified, err := suite.auth.VerifyEmail(suite.ctx, suite.tokenFrom("ada@example.com", models.NotifyAccountVerify))
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.StatusActive, verified.Status)

	resp, err := suite.auth.Login(suite.ctx, "ADA@example.com", "correct horse")
	suite.Require().NoError(err)
	assert.Equal(suite.T(), "Bearer", resp.TokenType)
	assert.Equal(suite.T(), 86400, resp.ExpiresIn)
	assert.Contains(suite.T(), suite.actions(user.ID), models.AuditRegister)
	assert.Contains(suite.T(), suite.actions(user.ID), models.AuditEmailVerify)
}

func (suite *AuthServiceTestSuite) TestRegister_Rejections() {
	suite.register("ada@example.com", "tenant")

	_, err := suite.auth.Register(suite.ctx, RegisterInput{
		Email: "ADA@example.com", Password: "correct horse", FirstName: "Ada", Role: "tenant",
	})
	suite.ErrorIs(err, common.ErrConflict)

	_, err = suite.auth.Register(suite.ctx, RegisterInput{
		Email: "root@example.com", Password: "correct horse", FirstName: "Root", Role: "admin",
	})
	suite.ErrorIs(err, common.ErrValidation)

	_, err = suite.auth.Register(suite.ctx, RegisterInput{
		Email: "short@example.com", Password: "short", FirstName: "Short", Role: "tenant",
	})
	suite.ErrorIs(err, common.ErrValidation)
}

func (suite *AuthServiceTestSuite) TestVerifyEmail_TenantWaitsForApprovalAndTokenIsSingleUse() {
	suite.register("tess@example.com", "tenant")
	token := suite.tokenFrom("tess@example.com", models.NotifyAccountVerify)

	user, err := suite.auth.VerifyEmail(suite.ctx, token)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.StatusPendingInviteAcceptance, user.Status)

	_, err = suite.auth.VerifyEmail(suite.ctx, token)
	suite.ErrorIs(err, common.ErrValidation)

	_, err = suite.auth.Login(suite.ctx, "tess@example.com", "correct horse")
	suite.NoError(err)
}

func (suite *AuthServiceTestSuite) TestLogin_WrongPasswordIsAudited() {
	user := suite.register("ada@example.com", "landlord")
	_, err := suite.auth.Login(suite.ctx, "ada@example.com", "wrong password")
	suite.ErrorIs(err, common.ErrAuthentication)
	_, err = suite.auth.Login(suite.ctx, "nobody@example.com", "whatever1")
	suite.ErrorIs(err, common.ErrAuthentication)
	assert.Contains(suite.T(), suite.actions(user.ID), models.AuditLoginFailed)
}

func (suite *AuthServiceTestSuite) TestAccessTokenCarriesClaimsAndKeyID() {
	suite.register("ada@example.com", "landlord")
	_, err := suite.auth.VerifyEmail(suite.ctx, suite.tokenFrom("ada@example.com", models.NotifyAccountVerify))
	suite.Require().NoError(err)
	resp, err := suite.auth.Login(suite.ctx, "ada@example.com", "correct horse")
	suite.Require().NoError(err)

	claims, err := suite.auth.ParseAccessToken(resp.AccessToken)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), resp.UserID, claims.UserID)
	assert.Equal(suite.T(), "landlord", claims.Role)
	assert.Equal(suite.T(), "fixit", claims.Issuer)

	parsed, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, &TokenClaims{})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), "k2", parsed.Header["kid"])

	suite.now = suite.now.Add(25 * time.Hour)
	_, err = suite.auth.ParseAccessToken(resp.AccessToken)
	suite.ErrorIs(err, common.ErrAuthentication)
}

func (suite *AuthServiceTestSuite) TestPreviousKeyStillVerifies() {
	claims := TokenClaims{
		UserID: "u-1",
		Role:   "tenant",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "fixit",
			ExpiresAt: jwt.NewNumericDate(suite.now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(suite.now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString([]byte("previous-secret"))
	suite.Require().NoError(err)

	parsed, err := suite.auth.ParseAccessToken(signed)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), "u-1", parsed.UserID)

	token.Header["kid"] = "unknown"
	forged, err := token.SignedString([]byte("previous-secret"))
	suite.Require().NoError(err)
	_, err = suite.auth.ParseAccessToken(forged)
	suite.ErrorIs(err, common.ErrAuthentication)
}

func (suite *AuthServiceTestSuite) TestRefreshRotatesAndLogoutRevokes() {
	suite.register("ada@example.com", "landlord")
	_, err := suite.auth.VerifyEmail(suite.ctx, suite.tokenFrom("ada@example.com", models.NotifyAccountVerify))
	suite.Require().NoError(err)
	first, err := suite.auth.Login(suite.ctx, "ada@example.com", "correct horse")
	suite.Require().NoError(err)

	second, err := suite.auth.Refresh(suite.ctx, first.RefreshToken)
	suite.Require().NoError(err)
	assert.NotEqual(suite.T(), first.RefreshToken, second.RefreshToken)

	_, err = suite.auth.Refresh(suite.ctx, first.RefreshToken)
	suite.ErrorIs(err, common.ErrAuthentication)

	suite.Require().NoError(suite.auth.Logout(suite.ctx, second.RefreshToken))
	_, err = suite.auth.Refresh(suite.ctx, second.RefreshToken)
	suite.ErrorIs(err, common.ErrAuthentication)
}

func (suite *AuthServiceTestSuite) TestPasswordResetRevokesSessions() {
	user := suite.register("ada@example.com", "landlord")
	_, err := suite.auth.VerifyEmail(suite.ctx, suite.tokenFrom("ada@example.com", models.NotifyAccountVerify))
	suite.Require().NoError(err)
	session, err := suite.auth.Login(suite.ctx, "ada@example.com", "correct horse")
	suite.Require().NoError(err)

	suite.Require().NoError(suite.auth.ForgotPassword(suite.ctx, "nobody@example.com"))
	suite.Require().NoError(suite.auth.ForgotPassword(suite.ctx, "ada@example.com"))
	token := suite.tokenFrom("ada@example.com", models.NotifyPasswordReset)

	suite.ErrorIs(suite.auth.ResetPassword(suite.ctx, token, "tiny"), common.ErrValidation)
	suite.Require().NoError(suite.auth.ResetPassword(suite.ctx, token, "battery staple"))
	suite.ErrorIs(suite.auth.ResetPassword(suite.ctx, token, "battery staple 2"), common.ErrValidation)

	_, err = suite.auth.Refresh(suite.ctx, session.RefreshToken)
	suite.ErrorIs(err, common.ErrAuthentication)
	_, err = suite.auth.Login(suite.ctx, "ada@example.com", "correct horse")
	suite.ErrorIs(err, common.ErrAuthentication)
	_, err = suite.auth.Login(suite.ctx, "ada@example.com", "battery staple")
	suite.NoError(err)
	assert.Contains(suite.T(), suite.actions(user.ID), models.AuditPasswordReset)
}

func (suite *AuthServiceTestSuite) TestChangePassword() {
	user := suite.register("ada@example.com", "landlord")
	a := authz.ActorFor(user)

	err := suite.auth.ChangePassword(suite.ctx, a, "not it", "battery staple")
	suite.ErrorIs(err, common.ErrValidation)
	suite.Require().NoError(suite.auth.ChangePassword(suite.ctx, a, "correct horse", "battery staple"))

	stored, err := suite.store.Repos().Users.GetByID(suite.ctx, user.ID)
	suite.Require().NoError(err)
	suite.True(checkPassword(stored, "battery staple"))
	suite.False(checkPassword(stored, "correct horse"))
}

func (suite *AuthServiceTestSuite) TestGoogleLogin_LinksExistingAccount() {
	user := suite.register("ada@example.com", "landlord")
	suite.google.On("Verify", mock.Anything, "id-token").Return(&FederatedIdentity{
		Subject: "google-123", Email: "Ada@example.com", EmailVerified: true, GivenName: "Ada",
	}, nil).Twice()

	resp, err := suite.auth.GoogleLogin(suite.ctx, GoogleLoginInput{IDToken: "id-token"})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), user.ID.String(), resp.UserID)

	stored, err := suite.store.Repos().Users.GetByID(suite.ctx, user.ID)
	suite.Require().NoError(err)
	suite.Require().NotNil(stored.FederatedID)
	assert.Equal(suite.T(), "google-123", *stored.FederatedID)
	assert.Equal(suite.T(), models.StatusActive, stored.Status)

	again, err := suite.auth.GoogleLogin(suite.ctx, GoogleLoginInput{IDToken: "id-token"})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), user.ID.String(), again.UserID)
	suite.google.AssertExpectations(suite.T())
}

func (suite *AuthServiceTestSuite) TestGoogleLogin_CreatesTenantAndRejectsUnverified() {
	suite.google.On("Verify", mock.Anything, "new").Return(&FederatedIdentity{
		Subject: "google-9", Email: "new@example.com", EmailVerified: true, GivenName: "Nia",
	}, nil)
	suite.google.On("Verify", mock.Anything, "unverified").Return(&FederatedIdentity{
		Subject: "google-10", Email: "x@example.com",
	}, nil)

	resp, err := suite.auth.GoogleLogin(suite.ctx, GoogleLoginInput{IDToken: "new"})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RoleTenant, resp.User.Role)
	assert.Equal(suite.T(), models.StatusPendingInviteAcceptance, resp.User.Status)

	_, err = suite.auth.GoogleLogin(suite.ctx, GoogleLoginInput{IDToken: "unverified"})
	suite.ErrorIs(err, common.ErrAuthentication)
}

func TestAuthService_RequiresSigningKey(t *testing.T) {
	_, err := NewAuthService(nil, nil, nil, nil, nil, nil, AuthConfig{}, logrus.New(), nil)
	require.Error(t, err)
}
