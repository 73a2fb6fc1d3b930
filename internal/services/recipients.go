package services

import (
	"context"
	"errors"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
)

// managementRecipients lists the active landlords, managers and admin-access
// holders of a property, skipping exclude.
func managementRecipients(ctx context.Context, repos *repositories.Repositories, propertyID uuid.UUID, exclude *uuid.UUID) ([]Recipient, error) {
	rows, err := repos.PropertyUsers.ListByProperty(ctx, propertyID, true)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, pu := range rows {
		if !pu.Roles.Intersects(models.ManagementRoles) || seen[pu.UserID] {
			continue
		}
		if exclude != nil && pu.UserID == *exclude {
			continue
		}
		seen[pu.UserID] = true
		ids = append(ids, pu.UserID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	users, err := repos.Users.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Recipient, 0, len(users))
	for _, u := range users {
		if u.Status != models.StatusActive {
			continue
		}
		out = append(out, UserRecipient(u))
	}
	return out, nil
}

// userRecipient returns nil for missing or inactive users.
func userRecipient(ctx context.Context, repos *repositories.Repositories, id uuid.UUID) (*Recipient, error) {
	u, err := repos.Users.GetByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.Status != models.StatusActive {
		return nil, nil
	}
	r := UserRecipient(u)
	return &r, nil
}

func assigneeRecipient(ctx context.Context, repos *repositories.Repositories, a *models.Assignee) (*Recipient, error) {
	if a == nil {
		return nil, nil
	}
	if a.Kind == models.AssigneeUser {
		return userRecipient(ctx, repos, a.ID)
	}
	v, err := repos.Vendors.GetByID(ctx, a.ID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !v.IsActive {
		return nil, nil
	}
	r := VendorRecipient(v)
	return &r, nil
}

// noticeSet accumulates notices inside a transaction for dispatch after commit.
type noticeSet struct {
	sender  *uuid.UUID
	related *models.ResourceRef
	link    string
	items   []Notice
}

func newNoticeSet(sender *uuid.UUID, related *models.ResourceRef, link string) *noticeSet {
	return &noticeSet{sender: sender, related: related, link: link}
}

func (n *noticeSet) add(to *Recipient, kind models.NotificationKind, message string) {
	if to == nil {
		return
	}
	if n.sender != nil && to.UserID != nil && *to.UserID == *n.sender {
		return
	}
	n.items = append(n.items, Notice{
		To:      *to,
		Kind:    kind,
		Message: message,
		Link:    n.link,
		Related: n.related,
		Sender:  n.sender,
	})
}

func (n *noticeSet) addAll(to []Recipient, kind models.NotificationKind, message string) {
	for i := range to {
		n.add(&to[i], kind, message)
	}
}

// addUser resolves id and adds it; unresolvable users are skipped.
func (n *noticeSet) addUser(ctx context.Context, repos *repositories.Repositories, id uuid.UUID, kind models.NotificationKind, message string) error {
	r, err := userRecipient(ctx, repos, id)
	if err != nil {
		return err
	}
	n.add(r, kind, message)
	return nil
}

func (n *noticeSet) addAssignee(ctx context.Context, repos *repositories.Repositories, a *models.Assignee, kind models.NotificationKind, message string) error {
	r, err := assigneeRecipient(ctx, repos, a)
	if err != nil {
		return err
	}
	n.add(r, kind, message)
	return nil
}

func (n *noticeSet) addManagement(ctx context.Context, repos *repositories.Repositories, propertyID uuid.UUID, kind models.NotificationKind, message string) error {
	rs, err := managementRecipients(ctx, repos, propertyID, n.sender)
	if err != nil {
		return err
	}
	n.addAll(rs, kind, message)
	return nil
}

func (n *noticeSet) reset() { n.items = nil }

func (d *EngineDeps) dispatch(ctx context.Context, n *noticeSet) {
	if n == nil || len(n.items) == 0 || d.Notifier == nil {
		return
	}
	d.Notifier.Dispatch(ctx, n.items...)
}
