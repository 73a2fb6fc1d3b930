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

// UserHandlers serves the self profile and the admin user directory.
type UserHandlers struct {
	userService services.UserService
}

func NewUserHandlers(userService services.UserService) *UserHandlers {
	return &UserHandlers{userService: userService}
}

type ChangeRoleRequest struct {
	Role string `json:"role"`
}

// GetProfile returns the authenticated user
// @Summary Current user
// @Tags users
// @Security BearerAuth
// @Produce json
// @Success 200 {object} common.Response
// @Router /users/me [get]
func (h *UserHandlers) GetProfile(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	user, err := h.userService.GetProfile(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", user)
}

// UpdateProfile
// @Summary Update current user
// @Tags users
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body services.ProfileInput true "Profile fields"
// @Success 200 {object} common.Response
// @Failure 400 {object} common.ErrorResponse
// @Router /users/me [put]
func (h *UserHandlers) UpdateProfile(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	var req services.ProfileInput
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.userService.UpdateProfile(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Profile updated", user)
}

func (h *UserHandlers) ListUsers(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	p := pagination(c)
	filters := models.UserFilters{
		Search: common.SanitizeSearchQuery(c.QueryParam("search")),
		Limit:  p.Limit,
		Offset: p.offset(),
	}
	if role := strings.TrimSpace(c.QueryParam("role")); role != "" {
		r := models.GlobalRole(role)
		filters.Role = &r
	}
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		s := models.RegistrationStatus(status)
		filters.Status = &s
	}
	users, total, err := h.userService.ListUsers(c.Request().Context(), actor, filters)
	if err != nil {
		return err
	}
	return common.SendPage(c, http.StatusOK, users, len(users), total, p.Page, p.Limit)
}

func (h *UserHandlers) GetUser(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	user, err := h.userService.GetUser(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", user)
}

// CreateUser invites a user who becomes active on approval
func (h *UserHandlers) CreateUser(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	var req services.CreateUserInput
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.userService.CreateUser(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "User created", user)
}

func (h *UserHandlers) UpdateUser(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req services.ProfileInput
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.userService.UpdateUser(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "User updated", user)
}

// DeleteUser deactivates the account; rows are kept for history
func (h *UserHandlers) DeleteUser(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.userService.DeactivateUser(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "User deactivated", nil)
}

// ApproveUser
// @Summary Approve a pending user
// @Tags users
// @Security BearerAuth
// @Produce json
// @Param id path string true "User id"
// @Success 200 {object} common.Response
// @Failure 403 {object} common.ErrorResponse
// @Failure 422 {object} common.ErrorResponse
// @Router /users/{id}/approve [post]
func (h *UserHandlers) ApproveUser(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	user, err := h.userService.ApproveUser(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "User approved", user)
}

func (h *UserHandlers) ChangeRole(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req ChangeRoleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.userService.ChangeRole(c.Request().Context(), actor, id, req.Role)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Role changed", user)
}
