package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fixit/internal/common"
	"fixit/internal/middleware"
	"fixit/internal/models"
	"fixit/internal/services"

	"github.com/labstack/echo/v4"
)

// ScheduleHandlers serves scheduled maintenance.
type ScheduleHandlers struct {
	scheduleService services.ScheduleService
}

func NewScheduleHandlers(scheduleService services.ScheduleService) *ScheduleHandlers {
	return &ScheduleHandlers{scheduleService: scheduleService}
}

func (h *ScheduleHandlers) ListSchedules(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	p := pagination(c)
	q := services.ScheduleQuery{Page: p.Page, Limit: p.Limit}
	if q.PropertyID, err = optionalUUIDQuery(c, "property"); err != nil {
		return err
	}
	if q.Assignee, err = assigneeQuery(c); err != nil {
		return err
	}
	if s := strings.TrimSpace(c.QueryParam("status")); s != "" {
		status := models.ScheduleStatus(s)
		q.Status = &status
	}
	schedules, total, err := h.scheduleService.ListSchedules(c.Request().Context(), actor, q)
	if err != nil {
		return err
	}
	return common.SendPage(c, http.StatusOK, schedules, len(schedules), total, p.Page, p.Limit)
}

func (h *ScheduleHandlers) GetSchedule(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	detail, err := h.scheduleService.GetSchedule(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", detail)
}

// CreateSchedule
// @Summary Create scheduled maintenance
// @Tags scheduled-maintenance
// @Security BearerAuth
// @Accept json,mpfd
// @Produce json
// @Param body body services.CreateScheduleInput true "Schedule"
// @Success 201 {object} common.Response
// @Failure 400 {object} common.ErrorResponse
// @Router /scheduled-maintenance [post]
func (h *ScheduleHandlers) CreateSchedule(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	var (
		req   services.CreateScheduleInput
		files []services.FileInput
	)
	if isMultipart(c) {
		if req, err = createScheduleForm(c); err != nil {
			return err
		}
		if files, err = formFiles(c, "media"); err != nil {
			return err
		}
	} else if err := bind(c, &req); err != nil {
		return err
	}
	schedule, err := h.scheduleService.CreateSchedule(c.Request().Context(), actor, req, files)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "Scheduled maintenance created", schedule)
}

// createScheduleForm reads the multipart variant; frequency travels as a JSON string.
func createScheduleForm(c echo.Context) (services.CreateScheduleInput, error) {
	in := services.CreateScheduleInput{
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		Category:    c.FormValue("category"),
		Priority:    models.Priority(c.FormValue("priority")),
	}
	var err error
	if in.PropertyID, err = common.ValidateUUID(c.FormValue("property"), "property"); err != nil {
		return in, err
	}
	if in.UnitID, err = optionalUUIDForm(c, "unit"); err != nil {
		return in, err
	}
	if in.ScheduledDate, err = parseFormDate(c.FormValue("scheduledDate"), "scheduledDate"); err != nil {
		return in, err
	}
	if raw := c.FormValue("recurring"); raw != "" {
		if in.Recurring, err = strconv.ParseBool(raw); err != nil {
			return in, common.Validation("recurring must be true or false", common.FieldError{Field: "recurring", Reason: "invalid boolean"})
		}
	}
	if raw := c.FormValue("frequency"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Frequency); err != nil {
			return in, common.Validation("frequency is malformed", common.FieldError{Field: "frequency", Reason: "invalid json"})
		}
	}
	return in, nil
}

func parseFormDate(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, common.Validation(field+" is required", common.FieldError{Field: field, Reason: "required"})
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, common.Validation(field+" is not a valid date", common.FieldError{Field: field, Reason: "invalid date"})
	}
	return t, nil
}

func (h *ScheduleHandlers) UpdateSchedule(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req services.UpdateScheduleInput
	if err := bind(c, &req); err != nil {
		return err
	}
	schedule, err := h.scheduleService.UpdateSchedule(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Scheduled maintenance updated", schedule)
}

// DeleteSchedule removes the schedule; requests it generated are kept
func (h *ScheduleHandlers) DeleteSchedule(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.scheduleService.DeleteSchedule(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Scheduled maintenance deleted", nil)
}

func (h *ScheduleHandlers) AssignSchedule(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req services.AssignInput
	if err := bind(c, &req); err != nil {
		return err
	}
	schedule, err := h.scheduleService.AssignSchedule(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Scheduled maintenance assigned", schedule)
}

func (h *ScheduleHandlers) TransitionSchedule(c echo.Context) error {
	var req services.ScheduleTransitionInput
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.transition(c, req)
}

// Pause and Resume are shorthands for the matching transition events.
func (h *ScheduleHandlers) Pause(c echo.Context) error {
	return h.transition(c, services.ScheduleTransitionInput{Event: services.SchedulePause, Notes: c.QueryParam("notes")})
}

func (h *ScheduleHandlers) Resume(c echo.Context) error {
	return h.transition(c, services.ScheduleTransitionInput{Event: services.ScheduleResume, Notes: c.QueryParam("notes")})
}

func (h *ScheduleHandlers) transition(c echo.Context, in services.ScheduleTransitionInput) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	schedule, err := h.scheduleService.TransitionSchedule(c.Request().Context(), actor, id, in)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Scheduled maintenance updated", schedule)
}

// CreateRequestFromSchedule materialises the current due date now
// @Summary Create a request from a schedule
// @Tags scheduled-maintenance
// @Security BearerAuth
// @Produce json
// @Param id path string true "Schedule id"
// @Success 201 {object} common.Response
// @Failure 409 {object} common.ErrorResponse
// @Router /scheduled-maintenance/{id}/create-request [post]
func (h *ScheduleHandlers) CreateRequestFromSchedule(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	request, err := h.scheduleService.CreateRequestFromSchedule(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "Request created from schedule", request)
}
