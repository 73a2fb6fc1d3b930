package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction is the typed set of audited actions
type AuditAction string

const (
	AuditCreate              AuditAction = "CREATE"
	AuditUpdate              AuditAction = "UPDATE"
	AuditDelete              AuditAction = "DELETE"
	AuditAssign              AuditAction = "ASSIGN"
	AuditUnassign            AuditAction = "UNASSIGN"
	AuditStart               AuditAction = "START"
	AuditPause               AuditAction = "PAUSE"
	AuditResume              AuditAction = "RESUME"
	AuditComplete            AuditAction = "COMPLETE"
	AuditVerify              AuditAction = "VERIFY"
	AuditCancel              AuditAction = "CANCEL"
	AuditReopen              AuditAction = "REOPEN"
	AuditArchive             AuditAction = "ARCHIVE"
	AuditFeedback            AuditAction = "FEEDBACK"
	AuditComment             AuditAction = "COMMENT"
	AuditMediaUpload         AuditAction = "MEDIA_UPLOAD"
	AuditMediaDelete         AuditAction = "MEDIA_DELETE"
	AuditPublicLinkEnable    AuditAction = "PUBLIC_LINK_ENABLE"
	AuditPublicLinkDisable   AuditAction = "PUBLIC_LINK_DISABLE"
	AuditMaterialise         AuditAction = "MATERIALISE"
	AuditMaterialiseSkipped  AuditAction = "MATERIALISE_SKIPPED"
	AuditRegister            AuditAction = "REGISTER"
	AuditLogin               AuditAction = "LOGIN"
	AuditLoginFailed         AuditAction = "LOGIN_FAILED"
	AuditEmailVerify         AuditAction = "EMAIL_VERIFY"
	AuditPasswordChange      AuditAction = "PASSWORD_CHANGE"
	AuditPasswordReset       AuditAction = "PASSWORD_RESET"
	AuditApproveUser         AuditAction = "APPROVE_USER"
	AuditRoleChange          AuditAction = "ROLE_CHANGE"
	AuditNotificationFailure AuditAction = "NOTIFICATION_FAILURE"
	AuditDocumentGenerate    AuditAction = "DOCUMENT_GENERATE"
	AuditReportExport        AuditAction = "REPORT_EXPORT"
)

type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailure AuditStatus = "failure"
)

// Resource kinds recorded on audit rows
const (
	ResourceRequest      = "request"
	ResourceSchedule     = "scheduledMaintenance"
	ResourceUser         = "user"
	ResourceProperty     = "property"
	ResourceUnit         = "unit"
	ResourcePropertyUser = "propertyUser"
	ResourceVendor       = "vendor"
	ResourceNotification = "notification"
	ResourceMedia        = "media"
)

// AuditLog is one append-only activity record
type AuditLog struct {
	ID                     uuid.UUID   `json:"id" db:"id"`
	Action                 AuditAction `json:"action" db:"action"`
	ActorID                *uuid.UUID  `json:"actor,omitempty" db:"actor_id"`
	ResourceKind           *string     `json:"resourceKind,omitempty" db:"resource_kind"`
	ResourceID             *uuid.UUID  `json:"resourceId,omitempty" db:"resource_id"`
	OldValue               JSONB       `json:"oldValue,omitempty" db:"old_value"`
	NewValue               JSONB       `json:"newValue,omitempty" db:"new_value"`
	IPAddress              *string     `json:"ipAddress,omitempty" db:"ip_address"`
	UserAgent              *string     `json:"userAgent,omitempty" db:"user_agent"`
	ExternalUserIdentifier *string     `json:"externalUserIdentifier,omitempty" db:"external_user_identifier"`
	Metadata               JSONB       `json:"metadata" db:"metadata"`
	Status                 AuditStatus `json:"status" db:"status"`
	ErrorMessage           *string     `json:"errorMessage,omitempty" db:"error_message"`
	Description            string      `json:"description" db:"description"`
	CreatedAt              time.Time   `json:"createdAt" db:"created_at"`
}

// AuditLogFilters represents filters for querying audit logs
type AuditLogFilters struct {
	ResourceKind *string      `json:"resourceKind"`
	ResourceID   *uuid.UUID   `json:"resourceId"`
	Action       *AuditAction `json:"action"`
	ActorID      *uuid.UUID   `json:"actor"`
	Status       *AuditStatus `json:"status"`
	StartDate    *time.Time   `json:"startDate"`
	EndDate      *time.Time   `json:"endDate"`
	Limit        int          `json:"limit"`
	Offset       int          `json:"offset"`
}
