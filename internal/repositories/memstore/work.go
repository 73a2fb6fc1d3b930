package memstore

import (
	"context"
	"sort"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
)

type requestRepo struct{ s *Store }

func (r *requestRepo) checkUnique(req *models.Request) error {
	for id, other := range r.s.state.requests {
		if id == req.ID {
			continue
		}
		if req.PublicLink.TokenHash != nil && other.PublicLink.TokenHash != nil &&
			*req.PublicLink.TokenHash == *other.PublicLink.TokenHash {
			return uniqueViolation("request", "requests_public_token_key")
		}
		if req.GeneratedFrom != nil && req.GeneratedForDueDate != nil &&
			other.GeneratedFrom != nil && other.GeneratedForDueDate != nil &&
			*req.GeneratedFrom == *other.GeneratedFrom && req.GeneratedForDueDate.Equal(*other.GeneratedForDueDate) {
			return uniqueViolation("request", repositories.MaterialisationConstraint)
		}
	}
	return nil
}

func (r *requestRepo) Create(ctx context.Context, req *models.Request) error {
	defer r.s.lock(ctx)()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if _, ok := r.s.state.requests[req.ID]; ok {
		return uniqueViolation("request", "requests_pkey")
	}
	if err := r.checkUnique(req); err != nil {
		return err
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now()
	}
	req.UpdatedAt = req.CreatedAt
	req.Version = 1
	r.s.state.requests[req.ID] = req.Clone()
	r.s.state.track(req.ID)
	return nil
}

func (r *requestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	defer r.s.lock(ctx)()
	req, ok := r.s.state.requests[id]
	if !ok {
		return nil, common.NotFound("request")
	}
	return req.Clone(), nil
}

func (r *requestRepo) GetByPublicTokenHash(ctx context.Context, hash string) (*models.Request, error) {
	defer r.s.lock(ctx)()
	for _, req := range r.s.state.requests {
		if req.PublicLink.MatchesHash(hash) {
			return req.Clone(), nil
		}
	}
	return nil, common.NotFound("request")
}

func (r *requestRepo) Update(ctx context.Context, req *models.Request) error {
	defer r.s.lock(ctx)()
	existing, ok := r.s.state.requests[req.ID]
	if !ok || existing.Version != req.Version {
		return repositories.ErrVersionConflict
	}
	if err := r.checkUnique(req); err != nil {
		return err
	}
	req.Version++
	req.UpdatedAt = now()
	stored := req.Clone()
	// immutable columns
	stored.PropertyID = existing.PropertyID
	stored.CreatedBy = existing.CreatedBy
	stored.CreatedByPropertyUser = existing.CreatedByPropertyUser
	stored.GeneratedFrom = existing.GeneratedFrom
	stored.GeneratedForDueDate = existing.GeneratedForDueDate
	stored.CreatedAt = existing.CreatedAt
	r.s.state.requests[req.ID] = stored
	return nil
}

func (r *requestRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.state.requests[id]; !ok {
		return common.NotFound("request")
	}
	delete(r.s.state.requests, id)
	prefix := id.String() + "/"
	for k := range r.s.state.reminders {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(r.s.state.reminders, k)
		}
	}
	return nil
}

func visibleRequest(req *models.Request, v *models.RequestVisibility) bool {
	if containsID(v.ManagedProperties, req.PropertyID) || req.CreatedBy == v.UserID || req.AssignedTo.IsUser(v.UserID) {
		return true
	}
	return req.UnitID != nil && containsID(v.TenantUnits, *req.UnitID)
}

func (r *requestRepo) List(ctx context.Context, filters models.RequestFilters) ([]*models.Request, int, error) {
	defer r.s.lock(ctx)()
	var out []*models.Request
	for _, req := range r.s.state.requests {
		switch {
		case filters.PropertyIDs != nil && !containsID(filters.PropertyIDs, req.PropertyID),
			filters.Status != nil && req.Status != *filters.Status,
			filters.Priority != nil && req.Priority != *filters.Priority,
			filters.Category != "" && req.Category != filters.Category,
			filters.CreatedBy != nil && req.CreatedBy != *filters.CreatedBy,
			filters.Assignee != nil && !filters.Assignee.Equal(req.AssignedTo),
			filters.GeneratedFrom != nil && (req.GeneratedFrom == nil || *req.GeneratedFrom != *filters.GeneratedFrom),
			filters.VisibleTo != nil && !visibleRequest(req, filters.VisibleTo):
			continue
		}
		out = append(out, req.Clone())
	}
	sortRows(r.s.state, out, func(req *models.Request) (time.Time, uuid.UUID) { return req.CreatedAt, req.ID }, true)
	return page(out, filters.Limit, filters.Offset), len(out), nil
}

func (r *requestRepo) FindOpenGenerated(ctx context.Context, scheduleID uuid.UUID) (*models.Request, error) {
	defer r.s.lock(ctx)()
	var open []*models.Request
	for _, req := range r.s.state.requests {
		if req.GeneratedFrom != nil && *req.GeneratedFrom == scheduleID && !req.Status.Closed() {
			open = append(open, req)
		}
	}
	if len(open) == 0 {
		return nil, nil
	}
	sortRows(r.s.state, open, func(req *models.Request) (time.Time, uuid.UUID) { return req.CreatedAt, req.ID }, true)
	return open[0].Clone(), nil
}

func (r *requestRepo) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Request, error) {
	defer r.s.lock(ctx)()
	var out []*models.Request
	for _, req := range r.s.state.requests {
		if (req.Status == models.RequestNew || req.Status == models.RequestAssigned) && req.CreatedAt.Before(createdBefore) {
			out = append(out, req.Clone())
		}
	}
	sortRows(r.s.state, out, func(req *models.Request) (time.Time, uuid.UUID) { return req.CreatedAt, req.ID }, false)
	return page(out, limit, 0), nil
}

func (r *requestRepo) MarkReminded(ctx context.Context, requestID uuid.UUID, sweepDay time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	if _, ok := r.s.state.requests[requestID]; !ok {
		return false, common.NotFound("request")
	}
	key := requestID.String() + "/" + sweepDay.Format("2006-01-02")
	if _, ok := r.s.state.reminders[key]; ok {
		return false, nil
	}
	r.s.state.reminders[key] = struct{}{}
	return true, nil
}

func (r *requestRepo) Summary(ctx context.Context, propertyID uuid.UUID) (*models.RequestSummary, error) {
	defer r.s.lock(ctx)()
	summary := &models.RequestSummary{
		PropertyID: propertyID,
		ByStatus:   map[string]int{},
		ByPriority: map[string]int{},
	}
	var hours float64
	var resolved int
	for _, req := range r.s.state.requests {
		if req.PropertyID != propertyID {
			continue
		}
		summary.Total++
		summary.ByStatus[string(req.Status)]++
		summary.ByPriority[string(req.Priority)]++
		if req.ResolvedAt != nil {
			hours += req.ResolvedAt.Sub(req.CreatedAt).Hours()
			resolved++
		}
	}
	if resolved > 0 {
		mean := hours / float64(resolved)
		summary.MeanResolutionHours = &mean
	}
	return summary, nil
}

type scheduleRepo struct{ s *Store }

func (r *scheduleRepo) checkUnique(s *models.ScheduledMaintenance) error {
	if s.PublicLink.TokenHash == nil {
		return nil
	}
	for id, other := range r.s.state.schedules {
		if id != s.ID && other.PublicLink.TokenHash != nil && *other.PublicLink.TokenHash == *s.PublicLink.TokenHash {
			return uniqueViolation("scheduled maintenance", "scheduled_public_token_key")
		}
	}
	return nil
}

func (r *scheduleRepo) Create(ctx context.Context, s *models.ScheduledMaintenance) error {
	defer r.s.lock(ctx)()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if _, ok := r.s.state.schedules[s.ID]; ok {
		return uniqueViolation("scheduled maintenance", "scheduled_maintenance_pkey")
	}
	if err := r.checkUnique(s); err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now()
	}
	s.UpdatedAt = s.CreatedAt
	s.Version = 1
	r.s.state.schedules[s.ID] = s.Clone()
	r.s.state.track(s.ID)
	return nil
}

func (r *scheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ScheduledMaintenance, error) {
	defer r.s.lock(ctx)()
	s, ok := r.s.state.schedules[id]
	if !ok {
		return nil, common.NotFound("scheduled maintenance")
	}
	return s.Clone(), nil
}

func (r *scheduleRepo) GetByPublicTokenHash(ctx context.Context, hash string) (*models.ScheduledMaintenance, error) {
	defer r.s.lock(ctx)()
	for _, s := range r.s.state.schedules {
		if s.PublicLink.MatchesHash(hash) {
			return s.Clone(), nil
		}
	}
	return nil, common.NotFound("scheduled maintenance")
}

func (r *scheduleRepo) Update(ctx context.Context, s *models.ScheduledMaintenance) error {
	defer r.s.lock(ctx)()
	existing, ok := r.s.state.schedules[s.ID]
	if !ok || existing.Version != s.Version {
		return repositories.ErrVersionConflict
	}
	if err := r.checkUnique(s); err != nil {
		return err
	}
	s.Version++
	s.UpdatedAt = now()
	stored := s.Clone()
	stored.PropertyID = existing.PropertyID
	stored.CreatedBy = existing.CreatedBy
	stored.CreatedAt = existing.CreatedAt
	r.s.state.schedules[s.ID] = stored
	return nil
}

func (r *scheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.state.schedules[id]; !ok {
		return common.NotFound("scheduled maintenance")
	}
	delete(r.s.state.schedules, id)
	for _, req := range r.s.state.requests {
		if req.GeneratedFrom != nil && *req.GeneratedFrom == id {
			req.GeneratedFrom = nil
		}
	}
	return nil
}

func (r *scheduleRepo) List(ctx context.Context, filters models.ScheduleFilters) ([]*models.ScheduledMaintenance, int, error) {
	defer r.s.lock(ctx)()
	var out []*models.ScheduledMaintenance
	for _, s := range r.s.state.schedules {
		switch {
		case filters.PropertyIDs != nil && !containsID(filters.PropertyIDs, s.PropertyID),
			filters.Status != nil && s.Status != *filters.Status,
			filters.Assignee != nil && !filters.Assignee.Equal(s.AssignedTo):
			continue
		}
		if v := filters.VisibleTo; v != nil &&
			!containsID(v.ManagedProperties, s.PropertyID) && s.CreatedBy != v.UserID && !s.AssignedTo.IsUser(v.UserID) {
			continue
		}
		out = append(out, s.Clone())
	}
	sortRows(r.s.state, out, func(s *models.ScheduledMaintenance) (time.Time, uuid.UUID) { return s.CreatedAt, s.ID }, true)
	// next due first, undated last
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].NextDueDate, out[j].NextDueDate
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return a.Before(*b)
	})
	return page(out, filters.Limit, filters.Offset), len(out), nil
}

func (r *scheduleRepo) ListDue(ctx context.Context, t time.Time, limit int) ([]*models.ScheduledMaintenance, error) {
	defer r.s.lock(ctx)()
	var out []*models.ScheduledMaintenance
	for _, s := range r.s.state.schedules {
		if s.Status == models.ScheduleScheduled && s.NextDueDate != nil && !s.NextDueDate.After(t) {
			out = append(out, s.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NextDueDate.Equal(*out[j].NextDueDate) {
			return r.s.state.seq[out[i].ID] < r.s.state.seq[out[j].ID]
		}
		return out[i].NextDueDate.Before(*out[j].NextDueDate)
	})
	return page(out, limit, 0), nil
}
