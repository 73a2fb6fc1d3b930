package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fixit/internal/authz"
	"fixit/internal/caching"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type UserService interface {
	GetProfile(ctx context.Context, actor authz.Actor) (*models.User, error)
	UpdateProfile(ctx context.Context, actor authz.Actor, in ProfileInput) (*models.User, error)

	ListUsers(ctx context.Context, actor authz.Actor, filters models.UserFilters) ([]*models.User, int, error)
	GetUser(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, actor authz.Actor, in CreateUserInput) (*models.User, error)
	UpdateUser(ctx context.Context, actor authz.Actor, id uuid.UUID, in ProfileInput) (*models.User, error)
	DeactivateUser(ctx context.Context, actor authz.Actor, id uuid.UUID) error
	ApproveUser(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.User, error)
	ChangeRole(ctx context.Context, actor authz.Actor, id uuid.UUID, role string) (*models.User, error)
}

// ProfileInput carries optional profile edits; nil fields are left alone.
type ProfileInput struct {
	FirstName               *string  `json:"firstName,omitempty"`
	LastName                *string  `json:"lastName,omitempty"`
	Phone                   *string  `json:"phone,omitempty"`
	NotificationPreferences []string `json:"notificationPreferences,omitempty"`
}

type CreateUserInput struct {
	Email     string  `json:"email"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Phone     *string `json:"phone,omitempty"`
	Role      string  `json:"role"`
	Password  string  `json:"password,omitempty"`
}

type userService struct {
	store    repositories.Store
	authz    *authz.Resolver
	roles    *RoleLoader
	cache    caching.CacheService
	audit    AuditLogsService
	notifier Dispatcher
	logger   *logrus.Logger
	clock    func() time.Time
}

func NewUserService(store repositories.Store, resolver *authz.Resolver, roles *RoleLoader, cache caching.CacheService,
	audit AuditLogsService, notifier Dispatcher, logger *logrus.Logger, clock func() time.Time) UserService {
	if clock == nil {
		clock = time.Now
	}
	return &userService{store: store, authz: resolver, roles: roles, cache: cache, audit: audit, notifier: notifier, logger: logger, clock: clock}
}

func subject(u *models.User) *authz.SubjectUser {
	return &authz.SubjectUser{ID: u.ID, Role: u.Role}
}

func (s *userService) load(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.store.Repos().Users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsExternal {
		return nil, common.NotFound("user")
	}
	return user, nil
}

func (s *userService) GetProfile(ctx context.Context, actor authz.Actor) (*models.User, error) {
	err := s.authz.Require(ctx, actor, authz.ActionReadOwnProfile, authz.Target{
		Kind: authz.TargetUser, User: &authz.SubjectUser{ID: actor.ID, Role: actor.Role},
	})
	if err != nil {
		return nil, err
	}
	return s.store.Repos().Users.GetByID(ctx, actor.ID)
}

func (s *userService) UpdateProfile(ctx context.Context, actor authz.Actor, in ProfileInput) (*models.User, error) {
	err := s.authz.Require(ctx, actor, authz.ActionUpdateOwnProfile, authz.Target{
		Kind: authz.TargetUser, User: &authz.SubjectUser{ID: actor.ID, Role: actor.Role},
	})
	if err != nil {
		return nil, err
	}
	return s.applyProfile(ctx, actor, actor.ID, in)
}

func (s *userService) applyProfile(ctx context.Context, actor authz.Actor, id uuid.UUID, in ProfileInput) (*models.User, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	before := user.AuditView()

	if in.FirstName != nil {
		if err := common.ValidateRequiredString(*in.FirstName, "firstName", 100); err != nil {
			return nil, err
		}
		user.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		if err := common.ValidateOptionalString(in.LastName, "lastName", 100); err != nil {
			return nil, err
		}
		user.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		if strings.TrimSpace(*in.Phone) == "" {
			user.Phone = nil
		} else {
			phone, err := common.ValidatePhone(*in.Phone, "phone")
			if err != nil {
				return nil, err
			}
			user.Phone = &phone
		}
	}
	if in.NotificationPreferences != nil {
		prefs, err := parseChannels(in.NotificationPreferences)
		if err != nil {
			return nil, err
		}
		user.NotificationPreferences = prefs
	}

	user.UpdatedAt = s.clock().UTC()
	if err := s.store.Repos().Users.Update(ctx, user); err != nil {
		return nil, err
	}
	entry := auditEntry(models.AuditUpdate, uuidPtr(actor.ID), models.ResourceUser, user.ID, "Profile updated")
	entry.OldValue = before
	entry.NewValue = user.AuditView()
	s.audit.Record(ctx, nil, entry)
	return user, nil
}

func parseChannels(values []string) ([]models.Channel, error) {
	out := make([]models.Channel, 0, len(values))
	seen := map[models.Channel]bool{}
	for _, v := range values {
		ch := models.Channel(strings.TrimSpace(v))
		if !ch.Valid() {
			return nil, common.Validation(fmt.Sprintf("unknown notification channel %q", v),
				common.FieldError{Field: "notificationPreferences", Reason: "one of email, sms, inApp"})
		}
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out, nil
}

// requireAdmin runs an identity action through the resolver; only admins pass
// for users other than themselves.
func (s *userService) requireAdmin(ctx context.Context, actor authz.Actor, action authz.Action, target *models.User) error {
	t := authz.Target{Kind: authz.TargetUser}
	if target != nil {
		t.User = subject(target)
	}
	if actor.Role != models.RoleAdmin {
		return common.Forbidden("administrator role required")
	}
	return s.authz.Require(ctx, actor, action, t)
}

func (s *userService) ListUsers(ctx context.Context, actor authz.Actor, filters models.UserFilters) ([]*models.User, int, error) {
	if err := s.requireAdmin(ctx, actor, authz.ActionRead, nil); err != nil {
		return nil, 0, err
	}
	filters.Search = common.SanitizeSearchQuery(filters.Search)
	if filters.Limit <= 0 || filters.Limit > 100 {
		filters.Limit = 20
	}
	return s.store.Repos().Users.List(ctx, filters)
}

func (s *userService) GetUser(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.User, error) {
	if actor.ID == id {
		return s.GetProfile(ctx, actor)
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, actor, authz.ActionRead, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser invites an account; it becomes active through ApproveUser.
func (s *userService) CreateUser(ctx context.Context, actor authz.Actor, in CreateUserInput) (*models.User, error) {
	if err := s.requireAdmin(ctx, actor, authz.ActionCreate, nil); err != nil {
		return nil, err
	}
	email, err := common.ValidateEmail(in.Email, "email")
	if err != nil {
		return nil, err
	}
	if err := common.ValidateRequiredString(in.FirstName, "firstName", 100); err != nil {
		return nil, err
	}
	role := models.GlobalRole(in.Role)
	if !role.Valid() {
		return nil, common.Validation("invalid role", common.FieldError{Field: "role", Reason: "unknown role"})
	}
	var phone *string
	if in.Phone != nil && strings.TrimSpace(*in.Phone) != "" {
		p, err := common.ValidatePhone(*in.Phone, "phone")
		if err != nil {
			return nil, err
		}
		phone = &p
	}
	var hash *string
	if in.Password != "" {
		h, err := HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		hash = &h
	}

	now := s.clock().UTC()
	user := &models.User{
		ID:                      uuid.New(),
		Email:                   email,
		Phone:                   phone,
		FirstName:               strings.TrimSpace(in.FirstName),
		LastName:                strings.TrimSpace(in.LastName),
		PasswordHash:            hash,
		Role:                    role,
		Status:                  models.StatusPendingInviteAcceptance,
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
	entry := auditEntry(models.AuditCreate, uuidPtr(actor.ID), models.ResourceUser, user.ID,
		fmt.Sprintf("User %s invited as %s", user.Email, user.Role))
	entry.NewValue = user.AuditView()
	s.audit.Record(ctx, nil, entry)
	return user, nil
}

func (s *userService) UpdateUser(ctx context.Context, actor authz.Actor, id uuid.UUID, in ProfileInput) (*models.User, error) {
	if actor.ID == id {
		return s.UpdateProfile(ctx, actor, in)
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, actor, authz.ActionUpdate, user); err != nil {
		return nil, err
	}
	return s.applyProfile(ctx, actor, id, in)
}

// DeactivateUser soft-deletes: the account is deactivated, its PropertyUser
// rows are ended and its sessions revoked.
func (s *userService) DeactivateUser(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	user, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, actor, authz.ActionDelete, user); err != nil {
		return err
	}
	if user.Status == models.StatusDeactivated {
		return nil
	}
	before := user.AuditView()
	err = s.audit.WithinTx(ctx, s.store, func(ctx context.Context, repos *repositories.Repositories) error {
		user.Status = models.StatusDeactivated
		user.UpdatedAt = s.clock().UTC()
		if err := repos.Users.Update(ctx, user); err != nil {
			return err
		}
		ended, err := repos.PropertyUsers.DeactivateByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		entry := auditEntry(models.AuditDelete, uuidPtr(actor.ID), models.ResourceUser, user.ID,
			fmt.Sprintf("User %s deactivated", user.Email))
		entry.OldValue = before
		entry.NewValue = user.AuditView()
		entry.Metadata["propertyUsersEnded"] = ended
		s.audit.Record(ctx, repos, entry)
		return nil
	})
	if err != nil {
		return err
	}
	s.roles.Invalidate(ctx, user.ID)
	if s.cache != nil {
		if err := s.cache.RevokeUserSessions(ctx, user.ID); err != nil {
			s.logger.WithError(err).WithField("user_id", user.ID).Error("failed to revoke sessions of deactivated user")
		}
	}
	return nil
}

// approvableProperties lists the properties of the user's rows on which the
// actor may approve. Admins get nil with ok=true, meaning every row.
func (s *userService) approvableProperties(ctx context.Context, actor authz.Actor, user *models.User) (map[uuid.UUID]bool, bool, error) {
	if actor.Role == models.RoleAdmin {
		return nil, true, nil
	}
	rows, err := s.store.Repos().PropertyUsers.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, false, err
	}
	allowed := map[uuid.UUID]bool{}
	for _, pu := range rows {
		if allowed[pu.PropertyID] {
			continue
		}
		propertyID := pu.PropertyID
		d := s.authz.Decide(ctx, actor, authz.ActionApproveUser, authz.Target{
			Kind: authz.TargetUser, PropertyID: &propertyID, User: subject(user),
		})
		if d.Allowed {
			allowed[propertyID] = true
		}
	}
	return allowed, len(allowed) > 0, nil
}

// ApproveUser activates the account and its pending PropertyUser rows in one
// transaction. Approving an active user changes nothing.
func (s *userService) ApproveUser(ctx context.Context, actor authz.Actor, id uuid.UUID) (*models.User, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	scope, ok, err := s.approvableProperties(ctx, actor, user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.Forbidden("management role required to approve this user")
	}
	switch user.Status {
	case models.StatusActive:
		return user, nil
	case models.StatusDeactivated:
		return nil, common.StateError("a deactivated account cannot be approved")
	case models.StatusPendingEmailVerification:
		return nil, common.StateError("the user has not verified their email address")
	}

	before := user.AuditView()
	err = s.audit.WithinTx(ctx, s.store, func(ctx context.Context, repos *repositories.Repositories) error {
		user.Status = models.StatusActive
		user.UpdatedAt = s.clock().UTC()
		if err := repos.Users.Update(ctx, user); err != nil {
			return err
		}
		activated, err := s.activateRows(ctx, repos, user.ID, scope)
		if err != nil {
			return err
		}
		entry := auditEntry(models.AuditApproveUser, uuidPtr(actor.ID), models.ResourceUser, user.ID,
			fmt.Sprintf("User %s approved", user.Email))
		entry.OldValue = before
		entry.NewValue = user.AuditView()
		entry.Metadata["propertyUsersActivated"] = activated
		s.audit.Record(ctx, repos, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.roles.Invalidate(ctx, user.ID)
	s.notifier.Dispatch(ctx, Notice{
		To:      UserRecipient(user),
		Kind:    models.NotifyAccountApproved,
		Subject: "Your account has been approved",
		Message: "Your account has been approved. You can now sign in.",
		Related: &models.ResourceRef{Kind: models.ResourceUser, ID: user.ID},
		Sender:  uuidPtr(actor.ID),
	})
	return user, nil
}

func (s *userService) activateRows(ctx context.Context, repos *repositories.Repositories, userID uuid.UUID, scope map[uuid.UUID]bool) (int64, error) {
	if scope == nil {
		return repos.PropertyUsers.ActivateByUser(ctx, userID)
	}
	rows, err := repos.PropertyUsers.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, pu := range rows {
		if pu.IsActive || pu.EndDate != nil || !scope[pu.PropertyID] {
			continue
		}
		pu.IsActive = true
		if err := repos.PropertyUsers.Update(ctx, pu); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *userService) ChangeRole(ctx context.Context, actor authz.Actor, id uuid.UUID, roleName string) (*models.User, error) {
	role := models.GlobalRole(roleName)
	if !role.Valid() {
		return nil, common.Validation("invalid role", common.FieldError{Field: "role", Reason: "unknown role"})
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.authz.Require(ctx, actor, authz.ActionChangeRole, authz.Target{
		Kind: authz.TargetUser, User: subject(user), NewRole: &role,
	})
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}
	before := user.AuditView()
	user.Role = role
	user.UpdatedAt = s.clock().UTC()
	if err := s.store.Repos().Users.Update(ctx, user); err != nil {
		return nil, err
	}
	entry := auditEntry(models.AuditRoleChange, uuidPtr(actor.ID), models.ResourceUser, user.ID,
		fmt.Sprintf("Role of %s changed from %s to %s", user.Email, before["role"], role))
	entry.OldValue = before
	entry.NewValue = user.AuditView()
	s.audit.Record(ctx, nil, entry)
	s.roles.Invalidate(ctx, user.ID)
	return user, nil
}
