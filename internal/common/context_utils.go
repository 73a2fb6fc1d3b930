package common

import (
	"context"
	"fmt"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	UserIDKey        contextKey = "user_id"
	ClientIPKey      contextKey = "client_ip"
	UserAgentKey     contextKey = "user_agent"
	CorrelationIDKey contextKey = "correlation_id"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-]{5,19}$`)

// ValidateUUID parses a path or body identifier.
func ValidateUUID(idStr string, fieldName string) (uuid.UUID, error) {
	idStr = strings.TrimSpace(idStr)
	if idStr == "" {
		return uuid.Nil, Validation(fieldName+" is required", FieldError{Field: fieldName, Reason: "required"})
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, Validation(fieldName+" is not a valid id", FieldError{Field: fieldName, Reason: "invalid uuid"})
	}
	return id, nil
}

// ValidateRequiredString validates required string fields
func ValidateRequiredString(value, fieldName string, maxLength int) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return Validation(fieldName+" is required", FieldError{Field: fieldName, Reason: "required"})
	}
	if maxLength > 0 && len(value) > maxLength {
		return Validation(fmt.Sprintf("%s cannot exceed %d characters", fieldName, maxLength),
			FieldError{Field: fieldName, Reason: "too long"})
	}
	return nil
}

// ValidateOptionalString validates optional string fields and trims them in place
func ValidateOptionalString(value *string, fieldName string, maxLength int) error {
	if value != nil {
		*value = strings.TrimSpace(*value)
		if len(*value) > maxLength {
			return Validation(fmt.Sprintf("%s cannot exceed %d characters", fieldName, maxLength),
				FieldError{Field: fieldName, Reason: "too long"})
		}
	}
	return nil
}

// ValidateEmail checks the address parses and returns it case-folded.
func ValidateEmail(email, fieldName string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", Validation(fieldName+" is required", FieldError{Field: fieldName, Reason: "required"})
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", Validation(fieldName+" is not a valid email address", FieldError{Field: fieldName, Reason: "invalid email"})
	}
	return email, nil
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidatePhone accepts international numbers with optional spaces and dashes.
func ValidatePhone(phone, fieldName string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", Validation(fieldName+" is required", FieldError{Field: fieldName, Reason: "required"})
	}
	if !phonePattern.MatchString(phone) {
		return "", Validation(fieldName+" is not a valid phone number", FieldError{Field: fieldName, Reason: "invalid phone"})
	}
	return phone, nil
}

// DigitsOnly strips everything except 0-9
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SafeString safely handles string pointer operations
func SafeString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns nil for empty strings
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}

// RequestMeta is the transport metadata recorded on audit rows.
type RequestMeta struct {
	IPAddress     string
	UserAgent     string
	CorrelationID string
}

// WithRequestMeta stores client metadata on the context
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	ctx = context.WithValue(ctx, ClientIPKey, meta.IPAddress)
	ctx = context.WithValue(ctx, UserAgentKey, meta.UserAgent)
	return context.WithValue(ctx, CorrelationIDKey, meta.CorrelationID)
}

// RequestMetaFromContext returns whatever metadata the middleware recorded
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	var meta RequestMeta
	meta.IPAddress, _ = ctx.Value(ClientIPKey).(string)
	meta.UserAgent, _ = ctx.Value(UserAgentKey).(string)
	meta.CorrelationID, _ = ctx.Value(CorrelationIDKey).(string)
	return meta
}

// SanitizeHTMLElement escapes HTML characters to prevent XSS attacks
func SanitizeHTMLElement(input string) string {
	return html.EscapeString(input)
}

// SanitizeSearchQuery strips LIKE wildcards from user-supplied search text
func SanitizeSearchQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	query = strings.ReplaceAll(query, "%", "")
	query = strings.ReplaceAll(query, "_", "")
	if len(query) > 100 {
		query = query[:100]
	}
	return strings.TrimSpace(query)
}

// ValidatePaginationParams normalises page and limit query values
func ValidatePaginationParams(page, limit int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

// ValidateDateRange validates date ranges to prevent abuse
func ValidateDateRange(startDate, endDate time.Time) error {
	if endDate.Before(startDate) {
		return Validation("end date cannot be before start date", FieldError{Field: "to", Reason: "before from"})
	}
	if endDate.Sub(startDate) > time.Hour*24*365*10 {
		return Validation("date range cannot exceed 10 years", FieldError{Field: "to", Reason: "range too large"})
	}
	return nil
}
