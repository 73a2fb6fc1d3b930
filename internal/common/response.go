package common

import (
	"github.com/labstack/echo/v4"
)

// Response is the success envelope shared by every route.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Count   *int        `json:"count,omitempty"`
	Total   *int        `json:"total,omitempty"`
	Page    *int        `json:"page,omitempty"`
	Limit   *int        `json:"limit,omitempty"`
	Pages   *int        `json:"pages,omitempty"`
}

// ErrorResponse is the failure envelope
type ErrorResponse struct {
	Success       bool         `json:"success"`
	Status        int          `json:"status"`
	Kind          ErrorKind    `json:"kind"`
	Message       string       `json:"message"`
	Errors        []FieldError `json:"errors,omitempty"`
	CorrelationID string       `json:"correlationId,omitempty"`
}

// SendSuccess writes a success envelope
func SendSuccess(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, Response{Success: true, Message: message, Data: data})
}

// SendPage writes a paged list envelope
func SendPage(c echo.Context, status int, data interface{}, count, total, page, limit int) error {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return c.JSON(status, Response{
		Success: true,
		Data:    data,
		Count:   &count,
		Total:   &total,
		Page:    &page,
		Limit:   &limit,
		Pages:   &pages,
	})
}
