package handlers

import (
	"net/http"
	"strings"

	"fixit/internal/common"
	"fixit/internal/middleware"
	"fixit/internal/models"
	"fixit/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// VendorHandlers serves the vendor directory
type VendorHandlers struct {
	vendorService services.VendorService
}

func NewVendorHandlers(vendorService services.VendorService) *VendorHandlers {
	return &VendorHandlers{vendorService: vendorService}
}

// ListVendors
// @Summary List vendors
// @Tags vendors
// @Security BearerAuth
// @Produce json
// @Param property query string false "Property id"
// @Param service query string false "Service offered"
// @Success 200 {object} common.Response
// @Router /vendors [get]
func (h *VendorHandlers) ListVendors(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	p := pagination(c)
	filters := models.VendorFilters{
		Service:    strings.TrimSpace(c.QueryParam("service")),
		ActiveOnly: c.QueryParam("active") == "true",
		Limit:      p.Limit,
		Offset:     p.offset(),
	}
	propertyID, err := optionalUUIDQuery(c, "property")
	if err != nil {
		return err
	}
	if propertyID != nil {
		filters.PropertyIDs = []uuid.UUID{*propertyID}
	}
	vendors, total, err := h.vendorService.List(c.Request().Context(), actor, filters)
	if err != nil {
		return err
	}
	return common.SendPage(c, http.StatusOK, vendors, len(vendors), total, p.Page, p.Limit)
}

func (h *VendorHandlers) GetVendor(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	vendor, err := h.vendorService.GetByID(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", vendor)
}

func (h *VendorHandlers) CreateVendor(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	var req services.VendorInput
	if err := bind(c, &req); err != nil {
		return err
	}
	vendor, err := h.vendorService.Create(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "Vendor created", vendor)
}

func (h *VendorHandlers) UpdateVendor(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req services.VendorInput
	if err := bind(c, &req); err != nil {
		return err
	}
	vendor, err := h.vendorService.Update(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Vendor updated", vendor)
}

func (h *VendorHandlers) DeleteVendor(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.vendorService.Delete(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Vendor deleted", nil)
}
