package handlers

import (
	"net/http"
	"strings"

	"fixit/internal/common"
	"fixit/internal/middleware"
	"fixit/internal/models"
	"fixit/internal/services"

	"github.com/labstack/echo/v4"
)

// RequestHandlers serves maintenance requests.
type RequestHandlers struct {
	requestService services.RequestService
	reportService  services.ReportService
}

func NewRequestHandlers(requestService services.RequestService, reportService services.ReportService) *RequestHandlers {
	return &RequestHandlers{requestService: requestService, reportService: reportService}
}

// ListRequests
// @Summary List requests visible to the caller
// @Tags requests
// @Security BearerAuth
// @Produce json
// @Param property query string false "Property id"
// @Param status query string false "Status"
// @Param priority query string false "Priority"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} common.Response
// @Router /requests [get]
func (h *RequestHandlers) ListRequests(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	p := pagination(c)
	q := services.RequestQuery{
		Category: strings.TrimSpace(c.QueryParam("category")),
		Page:     p.Page,
		Limit:    p.Limit,
	}
	if q.PropertyID, err = optionalUUIDQuery(c, "property"); err != nil {
		return err
	}
	if q.GeneratedFrom, err = optionalUUIDQuery(c, "generatedFrom"); err != nil {
		return err
	}
	if q.Assignee, err = assigneeQuery(c); err != nil {
		return err
	}
	if s := strings.TrimSpace(c.QueryParam("status")); s != "" {
		status := models.RequestStatus(s)
		q.Status = &status
	}
	if s := strings.TrimSpace(c.QueryParam("priority")); s != "" {
		priority := models.Priority(s)
		q.Priority = &priority
	}
	requests, total, err := h.requestService.ListRequests(c.Request().Context(), actor, q)
	if err != nil {
		return err
	}
	return common.SendPage(c, http.StatusOK, requests, len(requests), total, p.Page, p.Limit)
}

func assigneeQuery(c echo.Context) (*models.Assignee, error) {
	id, err := optionalUUIDQuery(c, "assignee")
	if err != nil || id == nil {
		return nil, err
	}
	kind := c.QueryParam("assigneeKind")
	if kind == "" {
		kind = string(models.AssigneeUser)
	}
	a, err := models.ParseAssignee(&kind, id)
	if err != nil {
		return nil, common.Validation("assigneeKind must be User or Vendor", common.FieldError{Field: "assigneeKind", Reason: "invalid"})
	}
	return a, nil
}

func (h *RequestHandlers) GetRequest(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	detail, err := h.requestService.GetRequest(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", detail)
}

// CreateRequest accepts JSON or a multipart form with optional media files
// @Summary Create a request
// @Tags requests
// @Security BearerAuth
// @Accept json,mpfd
// @Produce json
// @Param body body services.CreateRequestInput true "Request"
// @Success 201 {object} common.Response
// @Failure 400 {object} common.ErrorResponse
// @Failure 403 {object} common.ErrorResponse
// @Router /requests [post]
func (h *RequestHandlers) CreateRequest(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	var (
		req   services.CreateRequestInput
		files []services.FileInput
	)
	if isMultipart(c) {
		if req, err = createRequestForm(c); err != nil {
			return err
		}
		if files, err = formFiles(c, "media"); err != nil {
			return err
		}
	} else if err := bind(c, &req); err != nil {
		return err
	}
	request, err := h.requestService.CreateRequest(c.Request().Context(), actor, req, files)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "Request created", request)
}

func createRequestForm(c echo.Context) (services.CreateRequestInput, error) {
	in := services.CreateRequestInput{
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		Category:    c.FormValue("category"),
		Priority:    models.Priority(c.FormValue("priority")),
	}
	propertyID, err := common.ValidateUUID(c.FormValue("property"), "property")
	if err != nil {
		return in, err
	}
	in.PropertyID = propertyID
	in.UnitID, err = optionalUUIDForm(c, "unit")
	return in, err
}

func (h *RequestHandlers) UpdateRequest(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req services.UpdateRequestInput
	if err := bind(c, &req); err != nil {
		return err
	}
	request, err := h.requestService.UpdateRequest(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Request updated", request)
}

// DeleteRequest removes the request with its comments, media and notifications
// @Summary Delete a request
// @Tags requests
// @Security BearerAuth
// @Param id path string true "Request id"
// @Success 200 {object} common.Response
// @Failure 403 {object} common.ErrorResponse
// @Router /requests/{id} [delete]
func (h *RequestHandlers) DeleteRequest(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requestService.DeleteRequest(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Request deleted", nil)
}

// AssignRequest assigns a user or vendor; a null assignee unassigns
// @Summary Assign a request
// @Tags requests
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Request id"
// @Param body body services.AssignInput true "Assignee"
// @Success 200 {object} common.Response
// @Failure 422 {object} common.ErrorResponse
// @Router /requests/{id}/assign [post]
func (h *RequestHandlers) AssignRequest(c echo.Context) error {
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
	request, err := h.requestService.AssignRequest(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Request assigned", request)
}

// TransitionRequest applies a state machine event
// @Summary Transition a request
// @Tags requests
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Request id"
// @Param body body services.TransitionInput true "Event"
// @Success 200 {object} common.Response
// @Failure 422 {object} common.ErrorResponse
// @Router /requests/{id}/transition [post]
func (h *RequestHandlers) TransitionRequest(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req services.TransitionInput
	if err := bind(c, &req); err != nil {
		return err
	}
	request, err := h.requestService.TransitionRequest(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Request updated", request)
}

func (h *RequestHandlers) SubmitFeedback(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req services.FeedbackInput
	if err := bind(c, &req); err != nil {
		return err
	}
	request, err := h.requestService.SubmitFeedback(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Feedback recorded", request)
}

// WorkOrder renders the request as a PDF and returns its URL
// @Summary Generate a work order
// @Tags requests
// @Security BearerAuth
// @Produce json
// @Param id path string true "Request id"
// @Success 201 {object} common.Response
// @Router /requests/{id}/work-order [post]
func (h *RequestHandlers) WorkOrder(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	doc, err := h.reportService.WorkOrderPDF(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "Work order generated", doc)
}
