package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"fixit/internal/authz"
	"fixit/internal/caching"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor for stored passwords.
const PasswordCost = 12

const (
	minPasswordLength = 8
	maxPasswordBytes  = 72 // bcrypt ignores anything longer

	verifyKeyPrefix = "verify-email:"
	resetKeyPrefix  = "reset-password:"
)

// AuthService issues and refreshes sessions and owns the credential flows.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	VerifyEmail(ctx context.Context, token string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.TokenResponse, error)
	GoogleLogin(ctx context.Context, in GoogleLoginInput) (*models.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
	ChangePassword(ctx context.Context, actor authz.Actor, oldPassword, newPassword string) error

	// ParseAccessToken validates a bearer token against every accepted key.
	ParseAccessToken(raw string) (*TokenClaims, error)
	// Keyfunc selects the verification key by the token's kid header.
	Keyfunc(token *jwt.Token) (interface{}, error)
}

// SigningKey is one HMAC secret identified by the kid header. The first key
// of AuthConfig.Keys signs; all of them verify.
type SigningKey struct {
	ID     string
	Secret []byte
}

type AuthConfig struct {
	Keys        []SigningKey
	Issuer      string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	VerifyTTL   time.Duration
	ResetTTL    time.Duration
	FrontendURL string
	AppName     string
}

// TokenClaims represents JWT claims
type TokenClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type RegisterInput struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Phone     *string `json:"phone,omitempty"`
	Role      string  `json:"role"`
}

type GoogleLoginInput struct {
	IDToken string `json:"idToken"`
	// Role applies only when the login creates the account; default tenant.
	Role string `json:"role,omitempty"`
}

type authService struct {
	store    repositories.Store
	cache    caching.CacheService
	notifier Dispatcher
	audit    AuditLogsService
	authz    *authz.Resolver
	google   IDTokenVerifier
	cfg      AuthConfig
	keys     map[string][]byte
	logger   *logrus.Logger
	clock    func() time.Time
}

// NewAuthService creates a new authentication service. google may be nil,
// which disables federated login.
func NewAuthService(store repositories.Store, cache caching.CacheService, notifier Dispatcher, audit AuditLogsService,
	resolver *authz.Resolver, google IDTokenVerifier, cfg AuthConfig, logger *logrus.Logger, clock func() time.Time) (AuthService, error) {
	if len(cfg.Keys) == 0 {
		return nil, errors.New("at least one signing key is required")
	}
	keys := make(map[string][]byte, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if k.ID == "" || len(k.Secret) == 0 {
			return nil, errors.New("signing keys need an id and a secret")
		}
		keys[k.ID] = k.Secret
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "fixit"
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.VerifyTTL <= 0 {
		cfg.VerifyTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	if clock == nil {
		clock = time.Now
	}
	return &authService{
		store: store, cache: cache, notifier: notifier, audit: audit, authz: resolver, google: google,
		cfg: cfg, keys: keys, logger: logger, clock: clock,
	}, nil
}

// HashPassword validates and bcrypt-hashes a password.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", common.Validation("password is too short",
			common.FieldError{Field: "password", Reason: fmt.Sprintf("at least %d characters", minPasswordLength)})
	}
	if len(password) > maxPasswordBytes {
		return "", common.Validation("password is too long",
			common.FieldError{Field: "password", Reason: fmt.Sprintf("at most %d bytes", maxPasswordBytes)})
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", common.Internal("failed to hash password", err)
	}
	return string(hash), nil
}

func checkPassword(user *models.User, password string) bool {
	if user.PasswordHash == nil || *user.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)) == nil
}

// generateSecureToken generates a cryptographically secure random token
func generateSecureToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// hashToken creates a SHA-256 hash of the token for secure storage
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *authService) now() time.Time { return s.clock().UTC() }

func (s *authService) frontendLink(path, token string) string {
	return strings.TrimRight(s.cfg.FrontendURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func (s *authService) record(ctx context.Context, action models.AuditAction, user *models.User, description string) {
	entry := auditEntry(action, uuidPtr(user.ID), models.ResourceUser, user.ID, description)
	s.audit.Record(ctx, nil, entry)
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email, err := common.ValidateEmail(in.Email, "email")
	if err != nil {
		return nil, err
	}
	if err := common.ValidateRequiredString(in.FirstName, "firstName", 100); err != nil {
		return nil, err
	}
	if err := common.ValidateOptionalString(&in.LastName, "lastName", 100); err != nil {
		return nil, err
	}
	role := models.GlobalRole(in.Role)
	if !role.Valid() || role == models.RoleAdmin {
		return nil, common.Validation("invalid role", common.FieldError{Field: "role", Reason: "one of landlord, propertyManager, tenant, vendor"})
	}
	var phone *string
	if in.Phone != nil && strings.TrimSpace(*in.Phone) != "" {
		p, err := common.ValidatePhone(*in.Phone, "phone")
		if err != nil {
			return nil, err
		}
		phone = &p
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &models.User{
		ID:                      uuid.New(),
		Email:                   email,
		Phone:                   phone,
		FirstName:               strings.TrimSpace(in.FirstName),
		LastName:                strings.TrimSpace(in.LastName),
		PasswordHash:            &hash,
		Role:                    role,
		Status:                  models.StatusPendingEmailVerification,
		NotificationPreferences: append([]models.Channel(nil), models.DefaultPreferences...),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.store.Repos().Users.Create(ctx, user); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, common.Conflict("an account with this email already exists", err)
		}
		return nil, err
	}
	s.record(ctx, models.AuditRegister, user, fmt.Sprintf("User %s registered as %s", user.Email, user.Role))

	if err := s.sendVerification(ctx, user); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("failed to issue verification token")
	}
	return user, nil
}

// sendVerification stores a one-time token and emails the link carrying it.
func (s *authService) sendVerification(ctx context.Context, user *models.User) error {
	token, err := generateSecureToken()
	if err != nil {
		return err
	}
	if err := s.cache.SetString(ctx, verifyKeyPrefix+hashToken(token), user.ID.String(), s.cfg.VerifyTTL); err != nil {
		return err
	}
	s.notifier.Dispatch(ctx, Notice{
		To:      emailOnly(user),
		Kind:    models.NotifyAccountVerify,
		Subject: "Verify your email address",
		Message: fmt.Sprintf("Welcome to %s. Confirm your email address to activate your account.", s.cfg.AppName),
		Link:    s.frontendLink("/verify-email", token),
	})
	return nil
}

func emailOnly(user *models.User) Recipient {
	id := user.ID
	return Recipient{UserID: &id, Name: user.DisplayName(), Email: user.Email, Channels: []models.Channel{models.ChannelEmail}}
}

// takeToken consumes a one-time token and returns the user it was issued to.
func (s *authService) takeToken(ctx context.Context, prefix, token string) (*models.User, error) {
	invalid := common.Validation("invalid or expired token", common.FieldError{Field: "token", Reason: "invalid or expired"})
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, invalid
	}
	raw, err := s.cache.TakeString(ctx, prefix+hashToken(token))
	if err != nil {
		return nil, common.External("token store unavailable", err)
	}
	if raw == "" {
		return nil, invalid
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, invalid
	}
	user, err := s.store.Repos().Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	return user, nil
}

// VerifyEmail activates landlords and property managers; tenants and vendors
// wait for approval.
func (s *authService) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	user, err := s.takeToken(ctx, verifyKeyPrefix, token)
	if err != nil {
		return nil, err
	}
	if user.Status != models.StatusPendingEmailVerification {
		return user, nil
	}
	user.Status = statusAfterVerification(user.Role)
	user.UpdatedAt = s.now()
	if err := s.store.Repos().Users.Update(ctx, user); err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditEmailVerify, user, fmt.Sprintf("User %s verified their email address", user.Email))
	return user, nil
}

func statusAfterVerification(role models.GlobalRole) models.RegistrationStatus {
	switch role {
	case models.RoleTenant, models.RoleVendor:
		return models.StatusPendingInviteAcceptance
	}
	return models.StatusActive
}

// SessionAllowed rejects accounts that may not hold a session.
func SessionAllowed(user *models.User) error {
	switch {
	case user.IsExternal:
		return common.Unauthenticated("invalid email or password")
	case user.Status == models.StatusDeactivated:
		return common.Unauthenticated("account is deactivated")
	case user.Status == models.StatusPendingEmailVerification:
		return common.Unauthenticated("email address has not been verified")
	}
	return nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*models.TokenResponse, error) {
	invalid := common.Unauthenticated("invalid email or password")
	user, err := s.store.Repos().Users.GetByEmail(ctx, common.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	if !checkPassword(user, password) {
		entry := failureEntry(models.AuditLoginFailed, uuidPtr(user.ID), models.ResourceUser, uuidPtr(user.ID),
			"Failed login attempt", nil)
		s.audit.Record(ctx, nil, entry)
		return nil, invalid
	}
	if err := SessionAllowed(user); err != nil {
		return nil, err
	}
	resp, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditLogin, user, "User logged in")
	return resp, nil
}

func (s *authService) GoogleLogin(ctx context.Context, in GoogleLoginInput) (*models.TokenResponse, error) {
	if s.google == nil {
		return nil, common.NotFound("google login")
	}
	identity, err := s.google.Verify(ctx, in.IDToken)
	if err != nil {
		return nil, err
	}
	if !identity.EmailVerified {
		return nil, common.Unauthenticated("google account email is not verified")
	}

	repos := s.store.Repos()
	user, err := repos.Users.GetByFederatedID(ctx, identity.Subject)
	if errors.Is(err, common.ErrNotFound) {
		user, err = s.linkOrCreateFederated(ctx, identity, in.Role)
	}
	if err != nil {
		return nil, err
	}
	if err := SessionAllowed(user); err != nil {
		return nil, err
	}
	resp, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditLogin, user, "User logged in with Google")
	return resp, nil
}

func (s *authService) linkOrCreateFederated(ctx context.Context, identity *FederatedIdentity, roleName string) (*models.User, error) {
	repos := s.store.Repos()
	email := common.NormalizeEmail(identity.Email)
	subject := identity.Subject
	now := s.now()

	user, err := repos.Users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		user.FederatedID = &subject
		if user.Status == models.StatusPendingEmailVerification {
			user.Status = statusAfterVerification(user.Role)
		}
		user.UpdatedAt = now
		if err := repos.Users.Update(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	role := models.RoleTenant
	if roleName != "" {
		role = models.GlobalRole(roleName)
		if !role.Valid() || role == models.RoleAdmin {
			return nil, common.Validation("invalid role", common.FieldError{Field: "role", Reason: "one of landlord, propertyManager, tenant, vendor"})
		}
	}
	user = &models.User{
		ID:                      uuid.New(),
		Email:                   email,
		FirstName:               identity.GivenName,
		LastName:                identity.FamilyName,
		FederatedID:             &subject,
		Role:                    role,
		Status:                  statusAfterVerification(role),
		NotificationPreferences: append([]models.Channel(nil), models.DefaultPreferences...),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := repos.Users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditRegister, user, fmt.Sprintf("User %s registered with Google as %s", user.Email, user.Role))
	return user, nil
}

// issue signs an access token and opens a refresh session
func (s *authService) issue(ctx context.Context, user *models.User) (*models.TokenResponse, error) {
	now := s.now()
	tokenID := uuid.NewString()
	key := s.cfg.Keys[0]

	claims := TokenClaims{
		UserID: user.ID.String(),
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        tokenID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = key.ID
	signed, err := token.SignedString(key.Secret)
	if err != nil {
		return nil, common.Internal("failed to sign access token", err)
	}

	refresh, err := generateSecureToken()
	if err != nil {
		return nil, common.Internal("failed to generate refresh token", err)
	}
	if err := s.cache.SetSession(ctx, hashToken(refresh), user.ID, s.cfg.RefreshTTL); err != nil {
		return nil, common.External("session store unavailable", err)
	}

	return &models.TokenResponse{
		AccessToken:  signed,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTTL.Seconds()),
		RefreshToken: refresh,
		UserID:       user.ID.String(),
		TokenID:      tokenID,
		IssuedAt:     now,
		User:         user,
	}, nil
}

// Refresh rotates the session: the presented token is revoked and a new pair issued.
func (s *authService) Refresh(ctx context.Context, refreshToken string) (*models.TokenResponse, error) {
	invalid := common.Unauthenticated("invalid refresh token")
	if strings.TrimSpace(refreshToken) == "" {
		return nil, invalid
	}
	sessionID := hashToken(refreshToken)
	userID, ok, err := s.cache.GetSession(ctx, sessionID)
	if err != nil {
		return nil, common.External("session store unavailable", err)
	}
	if !ok {
		return nil, invalid
	}
	if err := s.cache.DeleteSession(ctx, sessionID); err != nil {
		return nil, common.External("session store unavailable", err)
	}
	user, err := s.store.Repos().Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	if err := SessionAllowed(user); err != nil {
		return nil, err
	}
	return s.issue(ctx, user)
}

func (s *authService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	return s.cache.DeleteSession(ctx, hashToken(refreshToken))
}

// ForgotPassword never reveals whether the address is registered.
func (s *authService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.store.Repos().Users.GetByEmail(ctx, common.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.IsExternal || user.Status == models.StatusDeactivated {
		return nil
	}
	token, err := generateSecureToken()
	if err != nil {
		return common.Internal("failed to generate reset token", err)
	}
	if err := s.cache.SetString(ctx, resetKeyPrefix+hashToken(token), user.ID.String(), s.cfg.ResetTTL); err != nil {
		return common.External("token store unavailable", err)
	}
	s.notifier.Dispatch(ctx, Notice{
		To:      emailOnly(user),
		Kind:    models.NotifyPasswordReset,
		Subject: "Reset your password",
		Message: fmt.Sprintf("A password reset was requested for your %s account. The link expires in %s.",
			s.cfg.AppName, s.cfg.ResetTTL),
		Link: s.frontendLink("/reset-password", token),
	})
	return nil
}

// ResetPassword sets a new password and revokes every refresh session of the user.
func (s *authService) ResetPassword(ctx context.Context, token, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user, err := s.takeToken(ctx, resetKeyPrefix, token)
	if err != nil {
		return err
	}
	if err := s.store.Repos().Users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := s.cache.RevokeUserSessions(ctx, user.ID); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("failed to revoke sessions after password reset")
	}
	s.record(ctx, models.AuditPasswordReset, user, "Password reset by email link")
	return nil
}

func (s *authService) ChangePassword(ctx context.Context, actor authz.Actor, oldPassword, newPassword string) error {
	err := s.authz.Require(ctx, actor, authz.ActionChangeOwnPassword, authz.Target{
		Kind: authz.TargetUser,
		User: &authz.SubjectUser{ID: actor.ID, Role: actor.Role},
	})
	if err != nil {
		return err
	}
	user, err := s.store.Repos().Users.GetByID(ctx, actor.ID)
	if err != nil {
		return err
	}
	if !checkPassword(user, oldPassword) {
		return common.Validation("current password is incorrect",
			common.FieldError{Field: "oldPassword", Reason: "does not match"})
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Repos().Users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.record(ctx, models.AuditPasswordChange, user, "Password changed")
	return nil
}

func (s *authService) Keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	kid, _ := token.Header["kid"].(string)
	secret, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return secret, nil
}

func (s *authService) ParseAccessToken(raw string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, s.Keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil || !token.Valid {
		return nil, common.Unauthenticated("invalid or expired token")
	}
	return claims, nil
}
