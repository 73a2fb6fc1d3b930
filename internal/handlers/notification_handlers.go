package handlers

import (
	"net/http"

	"fixit/internal/common"
	"fixit/internal/middleware"
	"fixit/internal/models"
	"fixit/internal/services"

	"github.com/labstack/echo/v4"
)

// NotificationHandlers serves the caller's in-app inbox
type NotificationHandlers struct {
	notificationSvc services.NotificationService
}

func NewNotificationHandlers(notificationSvc services.NotificationService) *NotificationHandlers {
	return &NotificationHandlers{notificationSvc: notificationSvc}
}

// ListNotifications
// @Summary List own notifications
// @Tags notifications
// @Security BearerAuth
// @Produce json
// @Param unread query bool false "Only unread"
// @Success 200 {object} common.Response
// @Router /notifications [get]
func (h *NotificationHandlers) ListNotifications(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	p := pagination(c)
	filters := models.NotificationFilters{
		UnreadOnly: c.QueryParam("unread") == "true",
		Limit:      p.Limit,
		Offset:     p.offset(),
	}
	notifications, total, err := h.notificationSvc.ListNotifications(c.Request().Context(), actor, filters)
	if err != nil {
		return err
	}
	return common.SendPage(c, http.StatusOK, notifications, len(notifications), total, p.Page, p.Limit)
}

func (h *NotificationHandlers) MarkRead(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.notificationSvc.MarkRead(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Notification marked as read", nil)
}

func (h *NotificationHandlers) MarkAllRead(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	updated, err := h.notificationSvc.MarkAllRead(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Notifications marked as read", map[string]int64{"updated": updated})
}
