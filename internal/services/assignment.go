package services

import (
	"context"
	"errors"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
)

// AssignInput is the wire shape of an assign call. A nil Assignee unassigns.
type AssignInput struct {
	Assignee *uuid.UUID `json:"assignee"`
	Kind     string     `json:"kind"`
	Notes    string     `json:"notes"`
}

// Target converts the input into the tagged variant.
func (in AssignInput) Target() (*models.Assignee, error) {
	if in.Assignee == nil {
		if in.Kind != "" {
			return nil, common.Validation("assignee is required when kind is set", common.FieldError{Field: "assignee", Reason: "required"})
		}
		return nil, nil
	}
	kind := in.Kind
	if kind == "" {
		kind = string(models.AssigneeUser)
	}
	a, err := models.ParseAssignee(&kind, in.Assignee)
	if err != nil {
		return nil, common.Validation(err.Error(), common.FieldError{Field: "kind", Reason: "must be User or Vendor"})
	}
	return a, nil
}

// resolveAssignee checks that a can take work on propertyID and returns its
// display name.
func resolveAssignee(ctx context.Context, repos *repositories.Repositories, a *models.Assignee, propertyID uuid.UUID) (string, error) {
	switch a.Kind {
	case models.AssigneeUser:
		u, err := repos.Users.GetByID(ctx, a.ID)
		if errors.Is(err, common.ErrNotFound) {
			return "", common.Validation("assignee does not exist", common.FieldError{Field: "assignee", Reason: "unknown user"})
		}
		if err != nil {
			return "", err
		}
		if u.Status != models.StatusActive || u.IsExternal {
			return "", common.Validation("assignee is not an active user", common.FieldError{Field: "assignee", Reason: "inactive"})
		}
		return u.DisplayName(), nil
	case models.AssigneeVendor:
		v, err := repos.Vendors.GetByID(ctx, a.ID)
		if errors.Is(err, common.ErrNotFound) {
			return "", common.Validation("assignee does not exist", common.FieldError{Field: "assignee", Reason: "unknown vendor"})
		}
		if err != nil {
			return "", err
		}
		if !v.IsActive {
			return "", common.Validation("vendor is inactive", common.FieldError{Field: "assignee", Reason: "inactive"})
		}
		if len(v.PropertyIDs) > 0 && !v.ServesProperty(propertyID) {
			return "", common.Validation("vendor does not serve this property", common.FieldError{Field: "assignee", Reason: "wrong property"})
		}
		return v.Name, nil
	}
	return "", common.Validation("unknown assignee kind", common.FieldError{Field: "kind", Reason: string(a.Kind)})
}
