// Package authz decides whether an actor may perform an action on a target.
package authz

import (
	"context"

	"fixit/internal/common"
	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Action is drawn from a closed set; anything else is denied.
type Action string

const (
	ActionCreate            Action = "create"
	ActionCreateRequest     Action = "createRequest"
	ActionRead              Action = "read"
	ActionUpdate            Action = "update"
	ActionDelete            Action = "delete"
	ActionAssign            Action = "assign"
	ActionTransitionStatus  Action = "transitionStatus"
	ActionVerify            Action = "verify"
	ActionCancel            Action = "cancel"
	ActionReopen            Action = "reopen"
	ActionArchive           Action = "archive"
	ActionPause             Action = "pause"
	ActionUploadMedia       Action = "uploadMedia"
	ActionDeleteMedia       Action = "deleteMedia"
	ActionComment           Action = "comment"
	ActionCommentInternal   Action = "commentInternal"
	ActionEnablePublicLink  Action = "enablePublicLink"
	ActionDisablePublicLink Action = "disablePublicLink"
	ActionApproveUser       Action = "approveUser"
	ActionChangeRole        Action = "changeRole"
	ActionViewRoster        Action = "viewRoster"
	ActionGenerateDocument  Action = "generateDocument"
	ActionExportReport      Action = "exportReport"

	ActionUpdateOwnProfile     Action = "updateOwnProfile"
	ActionChangeOwnPassword    Action = "changeOwnPassword"
	ActionReadOwnNotifications Action = "readOwnNotifications"
	ActionReadOwnProfile       Action = "readOwnProfile"
)

var knownActions = map[Action]bool{
	ActionCreate: true, ActionCreateRequest: true, ActionRead: true, ActionUpdate: true,
	ActionDelete: true, ActionAssign: true, ActionTransitionStatus: true, ActionVerify: true,
	ActionCancel: true, ActionReopen: true, ActionArchive: true, ActionPause: true,
	ActionUploadMedia: true, ActionDeleteMedia: true, ActionComment: true,
	ActionCommentInternal: true, ActionEnablePublicLink: true, ActionDisablePublicLink: true,
	ActionApproveUser: true, ActionChangeRole: true, ActionViewRoster: true,
	ActionGenerateDocument: true, ActionExportReport: true,
	ActionUpdateOwnProfile: true, ActionChangeOwnPassword: true,
	ActionReadOwnNotifications: true, ActionReadOwnProfile: true,
}

var selfScoped = map[Action]bool{
	ActionUpdateOwnProfile:     true,
	ActionChangeOwnPassword:    true,
	ActionReadOwnNotifications: true,
	ActionReadOwnProfile:       true,
}

// managementOnly actions require the management predicate regardless of any
// creator, assignee or tenant relationship.
var managementOnly = map[Action]bool{
	ActionCreate:            true,
	ActionDelete:            true,
	ActionAssign:            true,
	ActionCancel:            true,
	ActionReopen:            true,
	ActionArchive:           true,
	ActionPause:             true,
	ActionDeleteMedia:       true,
	ActionCommentInternal:   true,
	ActionEnablePublicLink:  true,
	ActionDisablePublicLink: true,
	ActionApproveUser:       true,
	ActionChangeRole:        true,
	ActionViewRoster:        true,
	ActionGenerateDocument:  true,
	ActionExportReport:      true,
}

var creatorActions = map[Action]bool{
	ActionRead: true, ActionUpdate: true, ActionComment: true, ActionVerify: true,
}

var assigneeActions = map[Action]bool{
	ActionRead: true, ActionTransitionStatus: true, ActionUploadMedia: true, ActionComment: true,
}

var tenantActions = map[Action]bool{
	ActionRead: true, ActionComment: true, ActionCreateRequest: true,
}

// Actor is the authenticated principal
type Actor struct {
	ID   uuid.UUID
	Role models.GlobalRole
}

// ActorFor builds an Actor from a loaded user
func ActorFor(u *models.User) Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

// TargetKind describes what is being acted on
type TargetKind string

const (
	TargetRequest  TargetKind = "request"
	TargetSchedule TargetKind = "scheduledMaintenance"
	TargetUser     TargetKind = "user"
	TargetProperty TargetKind = "property"
	TargetVendor   TargetKind = "vendor"
	TargetAudit    TargetKind = "audit"
	TargetClass    TargetKind = "class"
)

// SubjectUser is the user an identity action targets
type SubjectUser struct {
	ID   uuid.UUID
	Role models.GlobalRole
}

// Target is the resource the decision is about. Zero fields mean "not applicable".
type Target struct {
	Kind       TargetKind
	PropertyID *uuid.UUID
	UnitID     *uuid.UUID
	CreatedBy  *uuid.UUID
	Assignee   *models.Assignee
	User       *SubjectUser
	NewRole    *models.GlobalRole
}

// PropertyRoles is what the resolver needs to know about the actor on one property.
type PropertyRoles struct {
	Roles       models.RoleSet
	TenantUnits []uuid.UUID
}

func (p PropertyRoles) Management() bool {
	return p.Roles.Intersects(models.ManagementRoles)
}

func (p PropertyRoles) TenantOf(unitID uuid.UUID) bool {
	for _, u := range p.TenantUnits {
		if u == unitID {
			return true
		}
	}
	return false
}

// Decision is Allow or Deny(reason)
type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision             { return Decision{Allowed: true} }
func Deny(reason string) Decision { return Decision{Reason: reason} }

// Err maps a denial to an AuthorizationError
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return common.Forbidden(d.Reason)
}

// Decide is the pure decision function. roles describes the actor on
// target.PropertyID and is ignored when the target has no property.
func Decide(actor Actor, action Action, target Target, roles PropertyRoles) Decision {
	if !knownActions[action] {
		return Deny("unknown action")
	}

	if actor.Role == models.RoleAdmin {
		return decideAdmin(actor, action, target)
	}

	if selfScoped[action] {
		if target.User != nil && target.User.ID == actor.ID {
			return Allow()
		}
		return Deny("self-scoped action on another user")
	}

	if target.PropertyID == nil {
		return Deny("action requires a property scope")
	}

	if roles.Management() {
		return Allow()
	}
	if managementOnly[action] {
		return Deny("management role required for this property")
	}

	if target.CreatedBy != nil && *target.CreatedBy == actor.ID && creatorActions[action] {
		return Allow()
	}

	if target.Assignee.IsUser(actor.ID) && assigneeActions[action] {
		return Allow()
	}

	if actor.Role == models.RoleTenant && tenantActions[action] &&
		target.UnitID != nil && roles.TenantOf(*target.UnitID) {
		return Allow()
	}

	return Deny("not permitted")
}

func decideAdmin(actor Actor, action Action, target Target) Decision {
	switch action {
	case ActionChangeRole:
		if target.User != nil && target.User.ID == actor.ID &&
			target.NewRole != nil && *target.NewRole != models.RoleAdmin {
			return Deny("admins cannot remove their own admin role")
		}
	case ActionDelete:
		if target.Kind == TargetUser && target.User != nil && target.User.ID != actor.ID {
			switch target.User.Role {
			case models.RoleAdmin, models.RoleLandlord, models.RolePropertyManager:
				return Deny("admins cannot delete another admin, landlord or property manager")
			}
		}
	}
	return Allow()
}

// RoleSource loads the active roles a user holds on a property
type RoleSource interface {
	RolesFor(ctx context.Context, userID, propertyID uuid.UUID) (PropertyRoles, error)
}

// Resolver wraps Decide with the single PropertyUser read it needs.
type Resolver struct {
	source RoleSource
	logger *logrus.Logger
}

func NewResolver(source RoleSource, logger *logrus.Logger) *Resolver {
	return &Resolver{source: source, logger: logger}
}

// Decide never fails: a role lookup error becomes a denial.
func (r *Resolver) Decide(ctx context.Context, actor Actor, action Action, target Target) Decision {
	var roles PropertyRoles
	if actor.Role != models.RoleAdmin && !selfScoped[action] && target.PropertyID != nil {
		loaded, err := r.source.RolesFor(ctx, actor.ID, *target.PropertyID)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"actor_id":    actor.ID,
				"property_id": *target.PropertyID,
				"action":      action,
			}).WithError(err).Warn("authz: role lookup failed, denying")
			return Deny("unable to resolve property roles")
		}
		roles = loaded
	}
	decision := Decide(actor, action, target, roles)
	if !decision.Allowed {
		r.logger.WithFields(logrus.Fields{
			"actor_id": actor.ID,
			"action":   action,
			"target":   target.Kind,
			"reason":   decision.Reason,
		}).Debug("authz: denied")
	}
	return decision
}

// Require is Decide returning an error for denials
func (r *Resolver) Require(ctx context.Context, actor Actor, action Action, target Target) error {
	return r.Decide(ctx, actor, action, target).Err()
}

// Manages reports the management predicate for (actor, property).
func (r *Resolver) Manages(ctx context.Context, actor Actor, propertyID uuid.UUID) bool {
	if actor.Role == models.RoleAdmin {
		return true
	}
	roles, err := r.source.RolesFor(ctx, actor.ID, propertyID)
	if err != nil {
		return false
	}
	return roles.Management()
}

// RolesFor exposes the underlying lookup for list scoping
func (r *Resolver) RolesFor(ctx context.Context, actor Actor, propertyID uuid.UUID) (PropertyRoles, error) {
	return r.source.RolesFor(ctx, actor.ID, propertyID)
}
