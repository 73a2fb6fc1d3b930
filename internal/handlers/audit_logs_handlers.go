package handlers

import (
	"net/http"
	"strings"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/services"

	"github.com/labstack/echo/v4"
)

// AuditLogsHandlers handles audit log queries. Routes are admin-only.
type AuditLogsHandlers struct {
	auditLogsService services.AuditLogsService
}

func NewAuditLogsHandlers(auditLogsService services.AuditLogsService) *AuditLogsHandlers {
	return &AuditLogsHandlers{auditLogsService: auditLogsService}
}

// ListAuditLogs retrieves audit logs with filtering and pagination
// @Summary List audit logs
// @Tags audit
// @Security BearerAuth
// @Produce json
// @Param resource query string false "Resource kind"
// @Param resourceId query string false "Resource id"
// @Param actor query string false "Actor user id"
// @Param action query string false "Action"
// @Param from query string false "RFC3339 start"
// @Param to query string false "RFC3339 end"
// @Success 200 {object} common.Response
// @Failure 403 {object} common.ErrorResponse
// @Router /audit-logs [get]
func (h *AuditLogsHandlers) ListAuditLogs(c echo.Context) error {
	p := pagination(c)
	filters := &models.AuditLogFilters{Limit: p.Limit, Offset: p.offset()}

	var err error
	if resource := strings.TrimSpace(c.QueryParam("resource")); resource != "" {
		filters.ResourceKind = &resource
	}
	if filters.ResourceID, err = optionalUUIDQuery(c, "resourceId"); err != nil {
		return err
	}
	if filters.ActorID, err = optionalUUIDQuery(c, "actor"); err != nil {
		return err
	}
	if action := strings.TrimSpace(c.QueryParam("action")); action != "" {
		a := models.AuditAction(action)
		filters.Action = &a
	}
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		s := models.AuditStatus(status)
		filters.Status = &s
	}
	if filters.StartDate, err = timeQuery(c, "from"); err != nil {
		return err
	}
	if filters.EndDate, err = timeQuery(c, "to"); err != nil {
		return err
	}

	logs, total, err := h.auditLogsService.ListAuditLogs(c.Request().Context(), filters)
	if err != nil {
		return err
	}
	return common.SendPage(c, http.StatusOK, logs, len(logs), total, p.Page, p.Limit)
}

func timeQuery(c echo.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, common.Validation(name+" must be an RFC3339 timestamp", common.FieldError{Field: name, Reason: "invalid time"})
	}
	return &t, nil
}

// GetAuditLog retrieves a specific audit log entry
func (h *AuditLogsHandlers) GetAuditLog(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	entry, err := h.auditLogsService.GetAuditLog(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", entry)
}

// GetEntityHistory retrieves the audit trail of one resource, oldest first
func (h *AuditLogsHandlers) GetEntityHistory(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	logs, err := h.auditLogsService.GetEntityHistory(c.Request().Context(), c.Param("resource"), id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", logs)
}
