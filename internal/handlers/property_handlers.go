package handlers

import (
	"net/http"

	"fixit/internal/common"
	"fixit/internal/middleware"
	"fixit/internal/services"

	"github.com/labstack/echo/v4"
)

// PropertyHandlers serves properties, their units and memberships.
type PropertyHandlers struct {
	propertyService services.PropertyService
}

func NewPropertyHandlers(propertyService services.PropertyService) *PropertyHandlers {
	return &PropertyHandlers{propertyService: propertyService}
}

// CreateProperty
// @Summary Create a property
// @Tags properties
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body services.PropertyInput true "Property"
// @Success 201 {object} common.Response
// @Failure 403 {object} common.ErrorResponse
// @Router /properties [post]
func (h *PropertyHandlers) CreateProperty(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	var req services.PropertyInput
	if err := bind(c, &req); err != nil {
		return err
	}
	property, err := h.propertyService.CreateProperty(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "Property created", property)
}

func (h *PropertyHandlers) ListProperties(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	p := pagination(c)
	properties, total, err := h.propertyService.ListProperties(c.Request().Context(), actor, p.Page, p.Limit)
	if err != nil {
		return err
	}
	return common.SendPage(c, http.StatusOK, properties, len(properties), total, p.Page, p.Limit)
}

func (h *PropertyHandlers) GetProperty(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	property, err := h.propertyService.GetProperty(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", property)
}

func (h *PropertyHandlers) CreateUnit(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req services.UnitInput
	if err := bind(c, &req); err != nil {
		return err
	}
	unit, err := h.propertyService.CreateUnit(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "Unit created", unit)
}

func (h *PropertyHandlers) ListUnits(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	units, err := h.propertyService.ListUnits(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", units)
}

// AddPropertyUser grants roles on the property to an existing user
func (h *PropertyHandlers) AddPropertyUser(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req services.PropertyUserInput
	if err := bind(c, &req); err != nil {
		return err
	}
	pu, err := h.propertyService.AddPropertyUser(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "Member added", pu)
}

func (h *PropertyHandlers) DeactivatePropertyUser(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	memberID, err := pathID(c, "memberId")
	if err != nil {
		return err
	}
	if err := h.propertyService.DeactivatePropertyUser(c.Request().Context(), actor, id, memberID); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Member deactivated", nil)
}

// Roster lists members; ?all=true includes ended memberships
func (h *PropertyHandlers) Roster(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	entries, err := h.propertyService.Roster(c.Request().Context(), actor, id, c.QueryParam("all") != "true")
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", entries)
}
