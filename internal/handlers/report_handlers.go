package handlers

import (
	"net/http"

	"fixit/internal/common"
	"fixit/internal/middleware"
	"fixit/internal/services"

	"github.com/labstack/echo/v4"
)

// ReportHandlers serves management reports
type ReportHandlers struct {
	reportService services.ReportService
}

func NewReportHandlers(reportService services.ReportService) *ReportHandlers {
	return &ReportHandlers{reportService: reportService}
}

// RequestSummary counts a property's requests by status and priority
// @Summary Request summary
// @Tags reports
// @Security BearerAuth
// @Produce json
// @Param id path string true "Property id"
// @Success 200 {object} common.Response
// @Failure 403 {object} common.ErrorResponse
// @Router /reports/properties/{id}/requests [get]
func (h *ReportHandlers) RequestSummary(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	summary, err := h.reportService.RequestSummary(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", summary)
}
