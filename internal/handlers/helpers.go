package handlers

import (
	"bytes"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"fixit/internal/common"
	"fixit/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	return common.ValidateUUID(c.Param(name), name)
}

// bind decodes the request body, reporting malformed input as a validation error.
func bind(c echo.Context, dst interface{}) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return common.Validation("request body is malformed", common.FieldError{Field: "body", Reason: "invalid json"})
	}
	return nil
}

type pageParams struct {
	Page  int
	Limit int
}

func (p pageParams) offset() int { return (p.Page - 1) * p.Limit }

func pagination(c echo.Context) pageParams {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	page, limit = common.ValidatePaginationParams(page, limit)
	return pageParams{Page: page, Limit: limit}
}

func optionalUUIDQuery(c echo.Context, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	id, err := common.ValidateUUID(raw, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func isMultipart(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// formFiles reads every uploaded part under field into memory so the
// multipart temp files can be released before the service runs.
func formFiles(c echo.Context, field string) ([]services.FileInput, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, common.Validation("multipart form is malformed", common.FieldError{Field: field, Reason: "invalid multipart"})
	}
	headers := form.File[field]
	files := make([]services.FileInput, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, common.Validation("failed to read upload", common.FieldError{Field: field, Reason: "unreadable file"})
		}
		files = append(files, services.FileInput{Filename: fh.Filename, Reader: bytes.NewReader(data)})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func optionalUUIDForm(c echo.Context, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(c.FormValue(name))
	if raw == "" {
		return nil, nil
	}
	id, err := common.ValidateUUID(raw, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
