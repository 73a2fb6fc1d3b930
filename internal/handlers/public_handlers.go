package handlers

import (
	"errors"
	"net/http"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/services"

	"github.com/labstack/echo/v4"
)

// errPublicLink is the only answer a bad, unknown, disabled or expired
// token ever gets.
var errPublicLink = common.NotFound("resource")

// PublicHandlers serves the unauthenticated public-link routes.
type PublicHandlers struct {
	kind    models.ContextKind
	gateway services.PublicGateway
}

func NewPublicHandlers(kind models.ContextKind, gateway services.PublicGateway) *PublicHandlers {
	return &PublicHandlers{kind: kind, gateway: gateway}
}

func publicError(err error) error {
	if errors.Is(err, common.ErrNotFound) {
		return errPublicLink
	}
	return err
}

// View returns the redacted projection behind a public link
// @Summary View via public link
// @Tags public
// @Produce json
// @Param token path string true "Public token"
// @Success 200 {object} common.Response
// @Failure 404 {object} common.ErrorResponse
// @Router /public/requests/{token} [get]
func (h *PublicHandlers) View(c echo.Context) error {
	view, err := h.gateway.View(c.Request().Context(), h.kind, c.Param("token"))
	if err != nil {
		return publicError(err)
	}
	return common.SendSuccess(c, http.StatusOK, "", view)
}

// Update posts a comment or a restricted status change under a name and phone
// @Summary Update via public link
// @Tags public
// @Accept json
// @Produce json
// @Param token path string true "Public token"
// @Param body body services.PublicUpdateInput true "Update"
// @Success 200 {object} common.Response
// @Failure 400 {object} common.ErrorResponse
// @Failure 404 {object} common.ErrorResponse
// @Router /public/requests/{token} [post]
func (h *PublicHandlers) Update(c echo.Context) error {
	var req services.PublicUpdateInput
	if err := bind(c, &req); err != nil {
		return err
	}
	view, err := h.gateway.Update(c.Request().Context(), h.kind, c.Param("token"), req)
	if err != nil {
		return publicError(err)
	}
	return common.SendSuccess(c, http.StatusOK, "Update recorded", view)
}
