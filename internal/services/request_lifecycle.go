package services

import (
	"context"
	"fmt"
	"strings"

	"fixit/internal/authz"
	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
)

// RequestEvent names an edge of the request state machine.
type RequestEvent string

const (
	RequestBegin   RequestEvent = "begin"
	RequestPause   RequestEvent = "pause"
	RequestResume  RequestEvent = "resume"
	RequestFinish  RequestEvent = "finish"
	RequestVerify  RequestEvent = "verify"
	RequestCancel  RequestEvent = "cancel"
	RequestReopen  RequestEvent = "reopen"
	RequestArchive RequestEvent = "archive"
)

type requestTransition struct {
	from   []models.RequestStatus
	to     models.RequestStatus
	action authz.Action
	audit  models.AuditAction
}

var requestTransitions = map[RequestEvent]requestTransition{
	RequestBegin: {
		from: []models.RequestStatus{models.RequestAssigned}, to: models.RequestInProgress,
		action: authz.ActionTransitionStatus, audit: models.AuditStart,
	},
	RequestPause: {
		from: []models.RequestStatus{models.RequestAssigned, models.RequestInProgress}, to: models.RequestOnHold,
		action: authz.ActionTransitionStatus, audit: models.AuditPause,
	},
	RequestResume: {
		from: []models.RequestStatus{models.RequestOnHold}, to: models.RequestInProgress,
		action: authz.ActionTransitionStatus, audit: models.AuditResume,
	},
	RequestFinish: {
		from: []models.RequestStatus{models.RequestInProgress}, to: models.RequestCompleted,
		action: authz.ActionTransitionStatus, audit: models.AuditComplete,
	},
	RequestVerify: {
		from: []models.RequestStatus{models.RequestCompleted}, to: models.RequestVerified,
		action: authz.ActionVerify, audit: models.AuditVerify,
	},
	RequestCancel: {
		from: []models.RequestStatus{models.RequestNew, models.RequestAssigned, models.RequestInProgress, models.RequestOnHold},
		to:   models.RequestCanceled, action: authz.ActionCancel, audit: models.AuditCancel,
	},
	RequestReopen: {
		from: []models.RequestStatus{models.RequestCompleted, models.RequestVerified}, to: models.RequestNew,
		action: authz.ActionReopen, audit: models.AuditReopen,
	},
	RequestArchive: {
		from: []models.RequestStatus{models.RequestVerified}, to: models.RequestArchived,
		action: authz.ActionArchive, audit: models.AuditArchive,
	},
}

// ParseRequestEvent validates an event name from the wire.
func ParseRequestEvent(s string) (RequestEvent, error) {
	e := RequestEvent(strings.TrimSpace(s))
	if _, ok := requestTransitions[e]; !ok {
		return "", common.Validation(fmt.Sprintf("unknown request event %q", s),
			common.FieldError{Field: "event", Reason: "unknown event"})
	}
	return e, nil
}

// publicRequestEvents maps a status asked for through a public link onto the
// events that reach it from current. Only inProgress and completed can be
// asked for; completing work that was never started passes through
// inProgress so each step keeps its own history row.
func publicRequestEvents(current models.RequestStatus, target string) ([]RequestEvent, error) {
	switch models.RequestStatus(target) {
	case models.RequestInProgress:
		if current == models.RequestOnHold {
			return []RequestEvent{RequestResume}, nil
		}
		return []RequestEvent{RequestBegin}, nil
	case models.RequestCompleted:
		switch current {
		case models.RequestAssigned:
			return []RequestEvent{RequestBegin, RequestFinish}, nil
		case models.RequestOnHold:
			return []RequestEvent{RequestResume, RequestFinish}, nil
		}
		return []RequestEvent{RequestFinish}, nil
	}
	return nil, common.StateError(fmt.Sprintf("status %q cannot be set through a public link", target))
}

type FeedbackInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (f *FeedbackInput) validate() error {
	if f.Rating < 1 || f.Rating > 5 {
		return common.Validation("rating must be between 1 and 5", common.FieldError{Field: "feedback.rating", Reason: "out of range"})
	}
	f.Comment = strings.TrimSpace(f.Comment)
	if len(f.Comment) > 2000 {
		return common.Validation("feedback comment is too long", common.FieldError{Field: "feedback.comment", Reason: "too long"})
	}
	return nil
}

// TransitionInput is one requested state change.
type TransitionInput struct {
	Event    RequestEvent   `json:"event"`
	Notes    string         `json:"notes"`
	Feedback *FeedbackInput `json:"feedback,omitempty"`
}

func statusIn(s models.RequestStatus, set []models.RequestStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// applyRequestEvent moves r along event and appends the history row. It only
// touches r; persistence and side effects belong to the caller.
func applyRequestEvent(r *models.Request, event RequestEvent, ch models.StatusChange, feedback *models.Feedback) error {
	t, ok := requestTransitions[event]
	if !ok {
		return common.Validation(fmt.Sprintf("unknown request event %q", event))
	}
	if !statusIn(r.Status, t.from) {
		return common.StateError(fmt.Sprintf("cannot %s a request that is %s", event, r.Status))
	}
	if feedback != nil && event != RequestVerify {
		return common.Validation("feedback can only be given when verifying",
			common.FieldError{Field: "feedback", Reason: "not allowed for " + string(event)})
	}

	switch event {
	case RequestFinish:
		if r.ResolvedAt == nil {
			at := ch.ChangedAt
			r.ResolvedAt = &at
		}
	case RequestVerify:
		if feedback != nil {
			r.Feedback = feedback
		}
	case RequestReopen:
		reason := strings.TrimSpace(ch.Notes)
		if reason == "" {
			return common.Validation("a reason is required to reopen", common.FieldError{Field: "notes", Reason: "required"})
		}
		ch.Notes = "Reopened: " + reason
		r.ResolvedAt = nil
		r.Feedback = nil
		r.AssignedTo = nil
		r.AssignedBy = nil
		r.AssignedAt = nil
	}
	r.AppendHistory(t.to, ch)
	return nil
}

// transitionActor is who a transition is attributed to. External is the phone
// number of a public-link holder.
type transitionActor struct {
	ID       uuid.UUID
	Name     string
	External *string
}

// transitionRequest applies event to r inside repos' transaction, writes the
// audit row and collects the notices. Authorization is the caller's job.
func (d *EngineDeps) transitionRequest(ctx context.Context, repos *repositories.Repositories, r *models.Request, event RequestEvent, by transitionActor, notes string, fb *FeedbackInput) (*noticeSet, error) {
	now := d.now()
	before := r.AuditView()
	from := r.Status
	previousAssignee := r.AssignedTo.Clone()

	var feedback *models.Feedback
	if fb != nil {
		if err := fb.validate(); err != nil {
			return nil, err
		}
		feedback = &models.Feedback{Rating: fb.Rating, Comment: fb.Comment, SubmittedBy: by.ID, SubmittedAt: now}
	}

	actorID := by.ID
	if err := applyRequestEvent(r, event, change(&actorID, by.Name, now, strings.TrimSpace(notes)), feedback); err != nil {
		return nil, err
	}
	r.UpdatedAt = now

	if event == RequestVerify && r.AssignedTo != nil && r.AssignedTo.Kind == models.AssigneeVendor {
		if err := d.recordVendorJob(ctx, repos, r.AssignedTo.ID, feedback); err != nil {
			return nil, err
		}
	}
	if err := repos.Requests.Update(ctx, r); err != nil {
		return nil, err
	}

	t := requestTransitions[event]
	entry := auditEntry(t.audit, &actorID, models.ResourceRequest, r.ID,
		fmt.Sprintf("Request %q moved from %s to %s", r.Title, from, r.Status))
	entry.OldValue = before
	entry.NewValue = r.AuditView()
	entry.Metadata["event"] = string(event)
	entry.Metadata["from"] = string(from)
	entry.Metadata["to"] = string(r.Status)
	entry.ExternalUserIdentifier = by.External
	d.Audit.Record(ctx, repos, entry)

	notices := newNoticeSet(&actorID, &models.ResourceRef{Kind: models.ResourceRequest, ID: r.ID}, d.appLink(models.ContextRequest, r.ID))
	var err error
	switch event {
	case RequestBegin, RequestResume:
		err = notices.addUser(ctx, repos, r.CreatedBy, models.NotifyRequestStarted,
			fmt.Sprintf("Work has started on %q", r.Title))
	case RequestPause:
		err = notices.addUser(ctx, repos, r.CreatedBy, models.NotifyRequestOnHold,
			fmt.Sprintf("%q is on hold", r.Title))
	case RequestFinish:
		msg := fmt.Sprintf("%q has been completed", r.Title)
		if err = notices.addUser(ctx, repos, r.CreatedBy, models.NotifyRequestCompleted, msg); err == nil {
			err = notices.addManagement(ctx, repos, r.PropertyID, models.NotifyRequestCompleted, msg)
		}
	case RequestVerify:
		err = notices.addAssignee(ctx, repos, r.AssignedTo, models.NotifyRequestVerified,
			fmt.Sprintf("%q was verified", r.Title))
	case RequestReopen:
		msg := fmt.Sprintf("%q was reopened", r.Title)
		if err = notices.addAssignee(ctx, repos, previousAssignee, models.NotifyRequestReopened, msg); err == nil {
			err = notices.addUser(ctx, repos, r.CreatedBy, models.NotifyRequestReopened, msg)
		}
	case RequestCancel:
		msg := fmt.Sprintf("%q was canceled", r.Title)
		if err = notices.addAssignee(ctx, repos, r.AssignedTo, models.NotifyRequestCanceled, msg); err == nil {
			err = notices.addUser(ctx, repos, r.CreatedBy, models.NotifyRequestCanceled, msg)
		}
	}
	if err != nil {
		return nil, err
	}
	return notices, nil
}

func (d *EngineDeps) recordVendorJob(ctx context.Context, repos *repositories.Repositories, vendorID uuid.UUID, feedback *models.Feedback) error {
	v, err := repos.Vendors.GetByID(ctx, vendorID)
	if err != nil {
		return err
	}
	var rating *int
	if feedback != nil {
		rating = &feedback.Rating
	}
	v.RecordJob(rating)
	v.UpdatedAt = d.now()
	return repos.Vendors.Update(ctx, v)
}
