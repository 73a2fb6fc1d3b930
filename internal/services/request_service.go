package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fixit/internal/authz"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type CreateRequestInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Priority    models.Priority `json:"priority"`
	PropertyID  uuid.UUID       `json:"property"`
	UnitID      *uuid.UUID      `json:"unit"`
}

func (in *CreateRequestInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	in.Description = strings.TrimSpace(in.Description)
	if err := common.ValidateRequiredString(in.Title, "title", 200); err != nil {
		return err
	}
	if err := common.ValidateRequiredString(in.Category, "category", 100); err != nil {
		return err
	}
	if len(in.Description) > 5000 {
		return common.Validation("description cannot exceed 5000 characters", common.FieldError{Field: "description", Reason: "too long"})
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		return common.Validation("invalid priority", common.FieldError{Field: "priority", Reason: "must be low, medium, high or urgent"})
	}
	if in.PropertyID == uuid.Nil {
		return common.Validation("property is required", common.FieldError{Field: "property", Reason: "required"})
	}
	return nil
}

type UpdateRequestInput struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Priority    *models.Priority `json:"priority"`
}

func (in *UpdateRequestInput) validate() error {
	if in.Title != nil {
		if err := common.ValidateRequiredString(*in.Title, "title", 200); err != nil {
			return err
		}
		*in.Title = strings.TrimSpace(*in.Title)
	}
	if in.Category != nil {
		if err := common.ValidateRequiredString(*in.Category, "category", 100); err != nil {
			return err
		}
		*in.Category = strings.TrimSpace(*in.Category)
	}
	if err := common.ValidateOptionalString(in.Description, "description", 5000); err != nil {
		return err
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return common.Validation("invalid priority", common.FieldError{Field: "priority", Reason: "must be low, medium, high or urgent"})
	}
	return nil
}

// RequestQuery is the list filter as received from a caller.
type RequestQuery struct {
	PropertyID    *uuid.UUID
	Status        *models.RequestStatus
	Priority      *models.Priority
	Category      string
	Assignee      *models.Assignee
	GeneratedFrom *uuid.UUID
	Page          int
	Limit         int
}

// RequestDetail is a request with the logs and attachments the caller may see.
type RequestDetail struct {
	*models.Request
	Comments    []*models.Comment `json:"comments"`
	Attachments []*models.Media   `json:"attachments"`
}

type RequestService interface {
	ListRequests(ctx context.Context, actor authz.Actor, q RequestQuery) ([]*models.Request, int, error)
	GetRequest(ctx context.Context, actor authz.Actor, id uuid.UUID) (*RequestDetail, error)
	CreateRequest(ctx context.Context, actor authz.Actor, in CreateRequestInput, files []FileInput) (*models.Request, error)
	UpdateRequest(ctx context.Context, actor authz.Actor, id uuid.UUID, in UpdateRequestInput) (*models.Request, error)
	DeleteRequest(ctx context.Context, actor authz.Actor, id uuid.UUID) error
	AssignRequest(ctx context.Context, actor authz.Actor, id uuid.UUID, in AssignInput) (*models.Request, error)
	TransitionRequest(ctx context.Context, actor authz.Actor, id uuid.UUID, in TransitionInput) (*models.Request, error)
	SubmitFeedback(ctx context.Context, actor authz.Actor, id uuid.UUID, in FeedbackInput) (*models.Request, error)
}

type requestService struct {
	*EngineDeps
}

func NewRequestService(deps *EngineDeps) RequestService {
	return &requestService{EngineDeps: deps}
}

func requestTarget(r *models.Request) authz.Target {
	return (&entity{request: r}).target()
}

func (s *requestService) ListRequests(ctx context.Context, actor authz.Actor, q RequestQuery) ([]*models.Request, int, error) {
	page, limit := common.ValidatePaginationParams(q.Page, q.Limit)
	vis, err := s.Roles.Visibility(ctx, actor)
	if err != nil {
		return nil, 0, err
	}
	filters := models.RequestFilters{
		Status:        q.Status,
		Priority:      q.Priority,
		Category:      strings.TrimSpace(q.Category),
		Assignee:      q.Assignee,
		GeneratedFrom: q.GeneratedFrom,
		VisibleTo:     vis,
		Limit:         limit,
		Offset:        (page - 1) * limit,
	}
	if q.PropertyID != nil {
		filters.PropertyIDs = []uuid.UUID{*q.PropertyID}
	}
	return s.Store.Repos().Requests.List(ctx, filters)
}

func (s *requestService) GetRequest(ctx context.Context, actor authz.Actor, id uuid.UUID) (*RequestDetail, error) {
	repos := s.Store.Repos()
	r, err := repos.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Authz.Require(ctx, actor, authz.ActionRead, requestTarget(r)); err != nil {
		return nil, err
	}
	comments, err := repos.Comments.ListByContext(ctx, models.ContextRequest, id, s.Authz.Manages(ctx, actor, r.PropertyID))
	if err != nil {
		return nil, err
	}
	media, err := repos.Media.ListByOwner(ctx, models.ContextRequest, id)
	if err != nil {
		return nil, err
	}
	s.Media.Resolve(ctx, media)
	return &RequestDetail{Request: r, Comments: comments, Attachments: media}, nil
}

// checkLocation verifies the property exists and the unit belongs to it.
func checkLocation(ctx context.Context, repos *repositories.Repositories, propertyID uuid.UUID, unitID *uuid.UUID) error {
	if _, err := repos.Properties.GetProperty(ctx, propertyID); err != nil {
		return err
	}
	if unitID == nil {
		return nil
	}
	unit, err := repos.Properties.GetUnit(ctx, *unitID)
	if errors.Is(err, common.ErrNotFound) {
		return common.Validation("unit does not exist", common.FieldError{Field: "unit", Reason: "unknown unit"})
	}
	if err != nil {
		return err
	}
	if unit.PropertyID != propertyID {
		return common.Validation("unit does not belong to the property", common.FieldError{Field: "unit", Reason: "wrong property"})
	}
	return nil
}

// requesterRow picks the PropertyUser row a new request is filed under,
// preferring the one on the request's unit.
func requesterRow(ctx context.Context, repos *repositories.Repositories, userID, propertyID uuid.UUID, unitID *uuid.UUID) (*uuid.UUID, error) {
	rows, err := repos.PropertyUsers.ListActive(ctx, userID, propertyID)
	if err != nil {
		return nil, err
	}
	var picked *uuid.UUID
	for _, pu := range rows {
		if unitID != nil && pu.UnitID != nil && *pu.UnitID == *unitID {
			return uuidPtr(pu.ID), nil
		}
		if picked == nil {
			picked = uuidPtr(pu.ID)
		}
	}
	return picked, nil
}

func (s *requestService) CreateRequest(ctx context.Context, actor authz.Actor, in CreateRequestInput, files []FileInput) (*models.Request, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	repos := s.Store.Repos()
	if err := checkLocation(ctx, repos, in.PropertyID, in.UnitID); err != nil {
		return nil, err
	}
	target := authz.Target{Kind: authz.TargetRequest, PropertyID: &in.PropertyID, UnitID: in.UnitID}
	if err := s.Authz.Require(ctx, actor, authz.ActionCreateRequest, target); err != nil {
		return nil, err
	}

	handles, err := uploadAll(ctx, s.Media, files, "requests")
	if err != nil {
		return nil, err
	}

	var created *models.Request
	var notices *noticeSet
	err = s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		now := s.now()
		puID, err := requesterRow(ctx, repos, actor.ID, in.PropertyID, in.UnitID)
		if err != nil {
			return err
		}
		r := &models.Request{
			ID:                    uuid.New(),
			Title:                 in.Title,
			Description:           in.Description,
			Category:              in.Category,
			Priority:              in.Priority,
			Status:                models.RequestNew,
			PropertyID:            in.PropertyID,
			UnitID:                in.UnitID,
			CreatedBy:             actor.ID,
			CreatedByPropertyUser: puID,
			MediaIDs:              []uuid.UUID{},
			StatusHistory:         []models.StatusChange{},
			IsActive:              true,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := repos.Requests.Create(ctx, r); err != nil {
			return err
		}
		for _, h := range handles {
			m, err := s.Media.Attach(ctx, repos, h, models.ContextRequest, r.ID, &actor.ID, false)
			if err != nil {
				return err
			}
			r.MediaIDs = append(r.MediaIDs, m.ID)
		}
		if len(handles) > 0 {
			if err := repos.Requests.Update(ctx, r); err != nil {
				return err
			}
		}

		entry := auditEntry(models.AuditCreate, &actor.ID, models.ResourceRequest, r.ID,
			fmt.Sprintf("Request %q created", r.Title))
		entry.NewValue = r.AuditView()
		entry.Metadata["mediaCount"] = len(handles)
		s.Audit.Record(ctx, repos, entry)

		notices = newNoticeSet(&actor.ID, &models.ResourceRef{Kind: models.ResourceRequest, ID: r.ID}, s.appLink(models.ContextRequest, r.ID))
		if err := notices.addManagement(ctx, repos, r.PropertyID, models.NotifyRequestCreated,
			fmt.Sprintf("New maintenance request: %q", r.Title)); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		releaseAll(ctx, s.Media, handleIDs(handles))
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"request_id":  created.ID,
		"property_id": created.PropertyID,
		"media":       len(handles),
	}).Info("maintenance request created")
	s.dispatch(ctx, notices)
	return created, nil
}

func (s *requestService) UpdateRequest(ctx context.Context, actor authz.Actor, id uuid.UUID, in UpdateRequestInput) (*models.Request, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var updated *models.Request
	err := s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		r, err := repos.Requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionUpdate, requestTarget(r)); err != nil {
			return err
		}
		if r.Status.Silent() {
			return common.StateError(fmt.Sprintf("a %s request can no longer be edited", r.Status))
		}
		before := r.AuditView()
		if in.Title != nil {
			r.Title = *in.Title
		}
		if in.Description != nil {
			r.Description = *in.Description
		}
		if in.Category != nil {
			r.Category = *in.Category
		}
		if in.Priority != nil {
			r.Priority = *in.Priority
		}
		r.UpdatedAt = s.now()
		if err := repos.Requests.Update(ctx, r); err != nil {
			return err
		}
		entry := auditEntry(models.AuditUpdate, &actor.ID, models.ResourceRequest, r.ID,
			fmt.Sprintf("Request %q updated", r.Title))
		entry.OldValue = before
		entry.NewValue = r.AuditView()
		s.Audit.Record(ctx, repos, entry)
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *requestService) DeleteRequest(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	var removed []*models.Media
	err := s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		r, err := repos.Requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionDelete, requestTarget(r)); err != nil {
			return err
		}
		removed, err = cascadeDelete(ctx, repos, models.ContextRequest, id)
		if err != nil {
			return err
		}
		if err := repos.Requests.Delete(ctx, id); err != nil {
			return err
		}
		entry := auditEntry(models.AuditDelete, &actor.ID, models.ResourceRequest, id,
			fmt.Sprintf("Request %q deleted", r.Title))
		entry.OldValue = r.AuditView()
		entry.Metadata["mediaCount"] = len(removed)
		s.Audit.Record(ctx, repos, entry)
		return nil
	})
	if err != nil {
		return err
	}
	releaseAll(ctx, s.Media, mediaIDs(removed))
	return nil
}

// cascadeDelete removes the rows that hang off an entity and returns the
// media whose blobs should be released after commit.
func cascadeDelete(ctx context.Context, repos *repositories.Repositories, kind models.ContextKind, id uuid.UUID) ([]*models.Media, error) {
	removed, err := repos.Media.DeleteByOwner(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if _, err := repos.Comments.DeleteByContext(ctx, kind, id); err != nil {
		return nil, err
	}
	resource := models.ResourceRequest
	if kind == models.ContextSchedule {
		resource = models.ResourceSchedule
	}
	if _, err := repos.Notifications.DeleteByResource(ctx, resource, id); err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *requestService) AssignRequest(ctx context.Context, actor authz.Actor, id uuid.UUID, in AssignInput) (*models.Request, error) {
	assignee, err := in.Target()
	if err != nil {
		return nil, err
	}
	var updated *models.Request
	var notices *noticeSet
	err = s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		r, err := repos.Requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionAssign, requestTarget(r)); err != nil {
			return err
		}
		if r.Status != models.RequestNew && r.Status != models.RequestAssigned {
			return common.StateError(fmt.Sprintf("cannot change the assignee of a request that is %s", r.Status))
		}
		updated = r
		notices = nil
		if r.AssignedTo.Equal(assignee) {
			return nil
		}
		_, name, err := actorName(ctx, repos, actor.ID)
		if err != nil {
			return err
		}
		now := s.now()
		before := r.AuditView()
		notes := strings.TrimSpace(in.Notes)
		action := models.AuditAssign

		if assignee == nil {
			if notes == "" {
				notes = "Unassigned"
			}
			r.AssignedTo, r.AssignedBy, r.AssignedAt = nil, nil, nil
			r.AppendHistory(models.RequestNew, change(&actor.ID, name, now, notes))
			action = models.AuditUnassign
		} else {
			assigneeName, err := resolveAssignee(ctx, repos, assignee, r.PropertyID)
			if err != nil {
				return err
			}
			if notes == "" {
				notes = "Assigned to " + assigneeName
			}
			r.AssignedTo = assignee
			r.AssignedBy = uuidPtr(actor.ID)
			r.AssignedAt = timePtr(now)
			r.AppendHistory(models.RequestAssigned, change(&actor.ID, name, now, notes))
		}
		r.UpdatedAt = now
		if err := repos.Requests.Update(ctx, r); err != nil {
			return err
		}

		entry := auditEntry(action, &actor.ID, models.ResourceRequest, r.ID, notes)
		entry.OldValue = before
		entry.NewValue = r.AuditView()
		s.Audit.Record(ctx, repos, entry)

		notices = newNoticeSet(&actor.ID, &models.ResourceRef{Kind: models.ResourceRequest, ID: r.ID}, s.appLink(models.ContextRequest, r.ID))
		return notices.addAssignee(ctx, repos, assignee, models.NotifyRequestAssigned,
			fmt.Sprintf("You have been assigned %q", r.Title))
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notices)
	return updated, nil
}

func (s *requestService) TransitionRequest(ctx context.Context, actor authz.Actor, id uuid.UUID, in TransitionInput) (*models.Request, error) {
	t, ok := requestTransitions[in.Event]
	if !ok {
		return nil, common.Validation(fmt.Sprintf("unknown request event %q", in.Event),
			common.FieldError{Field: "event", Reason: "unknown event"})
	}
	var updated *models.Request
	var notices *noticeSet
	err := s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		r, err := repos.Requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, t.action, requestTarget(r)); err != nil {
			return err
		}
		_, name, err := actorName(ctx, repos, actor.ID)
		if err != nil {
			return err
		}
		var fb *FeedbackInput
		if in.Feedback != nil {
			copied := *in.Feedback
			fb = &copied
		}
		notices, err = s.transitionRequest(ctx, repos, r, in.Event, transitionActor{ID: actor.ID, Name: name}, in.Notes, fb)
		if err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"request_id": id,
		"event":      in.Event,
		"status":     updated.Status,
	}).Info("request transitioned")
	s.dispatch(ctx, notices)
	return updated, nil
}

// SubmitFeedback attaches feedback to a request already in verified.
func (s *requestService) SubmitFeedback(ctx context.Context, actor authz.Actor, id uuid.UUID, in FeedbackInput) (*models.Request, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var updated *models.Request
	err := s.mutate(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		r, err := repos.Requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Authz.Require(ctx, actor, authz.ActionVerify, requestTarget(r)); err != nil {
			return err
		}
		if r.Status != models.RequestVerified {
			return common.StateError("feedback can only be given on a verified request")
		}
		if r.Feedback != nil {
			return common.Conflict("feedback has already been submitted", nil)
		}
		now := s.now()
		before := r.AuditView()
		r.Feedback = &models.Feedback{Rating: in.Rating, Comment: in.Comment, SubmittedBy: actor.ID, SubmittedAt: now}
		r.UpdatedAt = now
		if r.AssignedTo != nil && r.AssignedTo.Kind == models.AssigneeVendor {
			v, err := repos.Vendors.GetByID(ctx, r.AssignedTo.ID)
			if err != nil {
				return err
			}
			v.RecordRating(in.Rating)
			v.UpdatedAt = now
			if err := repos.Vendors.Update(ctx, v); err != nil {
				return err
			}
		}
		if err := repos.Requests.Update(ctx, r); err != nil {
			return err
		}
		entry := auditEntry(models.AuditFeedback, &actor.ID, models.ResourceRequest, r.ID,
			fmt.Sprintf("Feedback of %d submitted for %q", in.Rating, r.Title))
		entry.OldValue = before
		entry.NewValue = r.AuditView()
		entry.Metadata["rating"] = in.Rating
		s.Audit.Record(ctx, repos, entry)
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
