package models

import (
	"fmt"

	"github.com/google/uuid"
)

// AssigneeKind tags the Assignee variant
type AssigneeKind string

const (
	AssigneeUser   AssigneeKind = "User"
	AssigneeVendor AssigneeKind = "Vendor"
)

func (k AssigneeKind) Valid() bool { return k == AssigneeUser || k == AssigneeVendor }

// Assignee is either a platform user or a vendor. A nil *Assignee means unassigned.
type Assignee struct {
	Kind AssigneeKind `json:"kind"`
	ID   uuid.UUID    `json:"id"`
}

func UserAssignee(id uuid.UUID) *Assignee   { return &Assignee{Kind: AssigneeUser, ID: id} }
func VendorAssignee(id uuid.UUID) *Assignee { return &Assignee{Kind: AssigneeVendor, ID: id} }

// ParseAssignee builds an assignee from its persisted or transported columns.
func ParseAssignee(kind *string, id *uuid.UUID) (*Assignee, error) {
	if kind == nil && id == nil {
		return nil, nil
	}
	if kind == nil || id == nil {
		return nil, fmt.Errorf("assignee kind and id must be set together")
	}
	k := AssigneeKind(*kind)
	if !k.Valid() {
		return nil, fmt.Errorf("unknown assignee kind %q", *kind)
	}
	return &Assignee{Kind: k, ID: *id}, nil
}

func (a *Assignee) IsUser(id uuid.UUID) bool {
	return a != nil && a.Kind == AssigneeUser && a.ID == id
}

// Columns splits the variant into nullable kind and id columns
func (a *Assignee) Columns() (*string, *uuid.UUID) {
	if a == nil {
		return nil, nil
	}
	kind := string(a.Kind)
	id := a.ID
	return &kind, &id
}

func (a *Assignee) Clone() *Assignee {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func (a *Assignee) Equal(o *Assignee) bool {
	if a == nil || o == nil {
		return a == nil && o == nil
	}
	return *a == *o
}
