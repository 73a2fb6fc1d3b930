package handlers

import (
	"net/http"
	"strings"
	"time"

	"fixit/internal/common"
	"fixit/internal/middleware"
	"fixit/internal/models"
	"fixit/internal/services"

	"github.com/labstack/echo/v4"
)

// ThreadHandlers serves the comment, media and public-link sub-resources
// shared by requests and scheduled maintenance. One instance per kind.
type ThreadHandlers struct {
	kind     models.ContextKind
	comments services.CommentService
	media    services.AttachmentService
	links    services.PublicLinkService
}

func NewThreadHandlers(kind models.ContextKind, comments services.CommentService, media services.AttachmentService,
	links services.PublicLinkService) *ThreadHandlers {
	return &ThreadHandlers{kind: kind, comments: comments, media: media, links: links}
}

type EnablePublicLinkRequest struct {
	// ExpiresIn is a Go duration such as "72h"; empty uses the default.
	ExpiresIn string `json:"expiresIn"`
}

func (h *ThreadHandlers) AddComment(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req services.CommentInput
	if err := bind(c, &req); err != nil {
		return err
	}
	comment, err := h.comments.AddComment(c.Request().Context(), actor, h.kind, id, req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "Comment added", comment)
}

func (h *ThreadHandlers) ListComments(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	comments, err := h.comments.ListComments(c.Request().Context(), actor, h.kind, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", comments)
}

// UploadMedia
// @Summary Attach media
// @Tags media
// @Security BearerAuth
// @Accept mpfd
// @Produce json
// @Param id path string true "Owner id"
// @Param media formData file true "Files"
// @Success 201 {object} common.Response
// @Failure 400 {object} common.ErrorResponse
// @Router /requests/{id}/media [post]
func (h *ThreadHandlers) UploadMedia(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	files, err := formFiles(c, "media")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return common.Validation("at least one file is required", common.FieldError{Field: "media", Reason: "required"})
	}
	media, err := h.media.UploadMedia(c.Request().Context(), actor, h.kind, id, files)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "Media uploaded", media)
}

func (h *ThreadHandlers) ListMedia(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	media, err := h.media.ListMedia(c.Request().Context(), actor, h.kind, id)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "", media)
}

func (h *ThreadHandlers) DeleteMedia(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	mediaID, err := pathID(c, "mediaId")
	if err != nil {
		return err
	}
	if err := h.media.DeleteMedia(c.Request().Context(), actor, h.kind, id, mediaID); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Media deleted", nil)
}

// EnablePublicLink mints a fresh token; the plaintext is only ever returned here
// @Summary Enable the public link
// @Tags public-link
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Owner id"
// @Param body body EnablePublicLinkRequest false "Lifetime"
// @Success 200 {object} common.Response
// @Router /requests/{id}/public-link [post]
func (h *ThreadHandlers) EnablePublicLink(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req EnablePublicLinkRequest
	if c.Request().ContentLength != 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	var ttl *time.Duration
	if raw := strings.TrimSpace(req.ExpiresIn); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return common.Validation("expiresIn must be a positive duration", common.FieldError{Field: "expiresIn", Reason: "invalid duration"})
		}
		ttl = &d
	}
	grant, err := h.links.EnablePublicLink(c.Request().Context(), actor, h.kind, id, ttl)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Public link enabled", grant)
}

func (h *ThreadHandlers) DisablePublicLink(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.links.DisablePublicLink(c.Request().Context(), actor, h.kind, id); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Public link disabled", nil)
}
