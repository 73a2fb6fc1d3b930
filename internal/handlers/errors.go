package handlers

import (
	"errors"
	"net/http"

	"fixit/internal/common"
	"fixit/internal/middleware"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// HTTPErrorHandler renders every failure as the error envelope. Server-side
// failures are logged with the correlation id and answered generically.
func HTTPErrorHandler(logger *logrus.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		body := common.ErrorResponse{CorrelationID: middleware.CorrelationID(c)}
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &httpErr) && !isAppError(err):
			body.Status = httpErr.Code
			body.Kind = kindForStatus(httpErr.Code)
			body.Message = http.StatusText(httpErr.Code)
			if msg, ok := httpErr.Message.(string); ok && httpErr.Code < http.StatusInternalServerError {
				body.Message = msg
			}
		default:
			appErr := common.AsAppError(err)
			body.Status = appErr.HTTPStatus()
			body.Kind = appErr.Kind
			body.Message = appErr.Message
			body.Errors = appErr.Fields
		}

		if body.Status >= http.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"request_id": body.CorrelationID,
				"method":     c.Request().Method,
				"path":       c.Path(),
			}).Error("request failed")
			if body.Kind == common.KindExternalDependency {
				body.Message = "a dependent service is unavailable, please retry"
			} else {
				body.Message = "internal server error"
			}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(body.Status)
		} else {
			werr = c.JSON(body.Status, body)
		}
		if werr != nil {
			logger.WithError(werr).Warn("failed to write error response")
		}
	}
}

func isAppError(err error) bool {
	var appErr *common.AppError
	return errors.As(err, &appErr)
}

func kindForStatus(status int) common.ErrorKind {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return common.KindValidation
	case http.StatusUnauthorized:
		return common.KindAuthentication
	case http.StatusForbidden:
		return common.KindAuthorization
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return common.KindNotFound
	case http.StatusConflict:
		return common.KindConflict
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return common.KindExternalDependency
	}
	if status >= http.StatusInternalServerError {
		return common.KindInternal
	}
	return common.KindValidation
}
