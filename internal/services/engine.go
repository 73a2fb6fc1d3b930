package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"fixit/internal/authz"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxVersionAttempts bounds the retries of a write that lost an optimistic race.
const maxVersionAttempts = 3

// EngineDeps is the collaborator set shared by the request and schedule engines.
type EngineDeps struct {
	Store    repositories.Store
	Authz    *authz.Resolver
	Roles    *RoleLoader
	Audit    AuditLogsService
	Notifier Dispatcher
	Media    MediaRegistry
	Links    *PublicLinks
	Logger   *logrus.Logger
	Clock    func() time.Time
	Location *time.Location
	// FrontendURL prefixes the links carried by notifications.
	FrontendURL string
}

func (d *EngineDeps) now() time.Time {
	if d.Clock != nil {
		return d.Clock().UTC()
	}
	return time.Now().UTC()
}

func (d *EngineDeps) location() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.UTC
}

func (d *EngineDeps) appLink(kind models.ContextKind, id uuid.UUID) string {
	base := strings.TrimRight(d.FrontendURL, "/")
	if kind == models.ContextSchedule {
		return base + "/scheduled-maintenance/" + id.String()
	}
	return base + "/requests/" + id.String()
}

// mutate runs fn in one transaction and retries it when a versioned update
// lost a race. fn must be safe to run more than once.
func (d *EngineDeps) mutate(ctx context.Context, fn func(ctx context.Context, repos *repositories.Repositories) error) error {
	for attempt := 1; ; attempt++ {
		err := d.Audit.WithinTx(ctx, d.Store, fn)
		if !errors.Is(err, repositories.ErrVersionConflict) {
			return err
		}
		if attempt == maxVersionAttempts {
			return common.Conflict("the resource was modified concurrently, please retry", err)
		}
		d.Logger.WithField("attempt", attempt).Debug("version conflict, retrying transaction")
	}
}

// actorName resolves the display name recorded on history rows and comments.
func actorName(ctx context.Context, repos *repositories.Repositories, actorID uuid.UUID) (*models.User, string, error) {
	user, err := repos.Users.GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, "", common.Unauthenticated("actor no longer exists")
		}
		return nil, "", err
	}
	return user, user.DisplayName(), nil
}

// change builds a history row for actor at now.
func change(actorID *uuid.UUID, name string, at time.Time, notes string) models.StatusChange {
	return models.StatusChange{
		ChangedAt:     at,
		ChangedBy:     actorID,
		ChangedByName: name,
		Notes:         notes,
	}
}

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }

func timePtr(t time.Time) *time.Time { return &t }

// pageOffset converts a 1-based page into an offset.
func pageOffset(page, limit int) int {
	page, limit = common.ValidatePaginationParams(page, limit)
	return (page - 1) * limit
}
