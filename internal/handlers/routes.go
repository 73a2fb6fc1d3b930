package handlers

import (
	_ "fixit/docs"
	"fixit/internal/middleware"
	"fixit/internal/models"

	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"
)

// Handlers bundles every route group.
type Handlers struct {
	Auth            *AuthHandlers
	Users           *UserHandlers
	Properties      *PropertyHandlers
	Requests        *RequestHandlers
	RequestThreads  *ThreadHandlers
	Schedules       *ScheduleHandlers
	ScheduleThreads *ThreadHandlers
	PublicRequests  *PublicHandlers
	PublicSchedules *PublicHandlers
	Vendors         *VendorHandlers
	Notifications   *NotificationHandlers
	Reports         *ReportHandlers
	AuditLogs       *AuditLogsHandlers
	Health          *HealthHandlers
}

// RouteMiddleware carries the middleware the routes need from the caller.
type RouteMiddleware struct {
	// Authenticate runs in order on every protected route.
	Authenticate []echo.MiddlewareFunc
	// AuthLimit guards the credential endpoints, PublicLimit the public-link ones.
	AuthLimit   echo.MiddlewareFunc
	PublicLimit echo.MiddlewareFunc
	Swagger     bool
}

func passthrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// RegisterRoutes mounts the API under /api plus the health and docs routes.
func RegisterRoutes(e *echo.Echo, h *Handlers, mw RouteMiddleware) {
	if mw.AuthLimit == nil {
		mw.AuthLimit = passthrough
	}
	if mw.PublicLimit == nil {
		mw.PublicLimit = passthrough
	}

	e.GET("/health", h.Health.HealthCheck)
	e.GET("/health/ready", h.Health.ReadinessCheck)
	if mw.Swagger {
		e.GET("/swagger/*", echoSwagger.WrapHandler)
	}

	api := e.Group("/api")

	auth := api.Group("/auth", mw.AuthLimit)
	auth.POST("/register", h.Auth.Register)
	auth.POST("/verify-email", h.Auth.VerifyEmail)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/google-login", h.Auth.GoogleLogin)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/logout", h.Auth.Logout)
	auth.POST("/forgot-password", h.Auth.ForgotPassword)
	auth.POST("/reset-password", h.Auth.ResetPassword)

	public := api.Group("/public", mw.PublicLimit)
	public.GET("/requests/:token", h.PublicRequests.View)
	public.POST("/requests/:token", h.PublicRequests.Update)
	public.GET("/scheduled/:token", h.PublicSchedules.View)
	public.POST("/scheduled/:token", h.PublicSchedules.Update)

	protected := api.Group("", mw.Authenticate...)
	protected.POST("/auth/change-password", h.Auth.ChangePassword)

	users := protected.Group("/users")
	users.GET("/me", h.Users.GetProfile)
	users.PUT("/me", h.Users.UpdateProfile)
	users.GET("", h.Users.ListUsers)
	users.POST("", h.Users.CreateUser)
	users.GET("/:id", h.Users.GetUser)
	users.PUT("/:id", h.Users.UpdateUser)
	users.DELETE("/:id", h.Users.DeleteUser)
	users.POST("/:id/approve", h.Users.ApproveUser)
	users.PUT("/:id/role", h.Users.ChangeRole)

	properties := protected.Group("/properties")
	properties.GET("", h.Properties.ListProperties)
	properties.POST("", h.Properties.CreateProperty)
	properties.GET("/:id", h.Properties.GetProperty)
	properties.GET("/:id/units", h.Properties.ListUnits)
	properties.POST("/:id/units", h.Properties.CreateUnit)
	properties.GET("/:id/users", h.Properties.Roster)
	properties.POST("/:id/users", h.Properties.AddPropertyUser)
	properties.DELETE("/:id/users/:memberId", h.Properties.DeactivatePropertyUser)

	requests := protected.Group("/requests")
	requests.GET("", h.Requests.ListRequests)
	requests.POST("", h.Requests.CreateRequest)
	requests.GET("/:id", h.Requests.GetRequest)
	requests.PUT("/:id", h.Requests.UpdateRequest)
	requests.DELETE("/:id", h.Requests.DeleteRequest)
	requests.POST("/:id/assign", h.Requests.AssignRequest)
	requests.POST("/:id/transition", h.Requests.TransitionRequest)
	requests.POST("/:id/feedback", h.Requests.SubmitFeedback)
	requests.POST("/:id/work-order", h.Requests.WorkOrder)
	threadRoutes(requests, h.RequestThreads)

	schedules := protected.Group("/scheduled-maintenance")
	schedules.GET("", h.Schedules.ListSchedules)
	schedules.POST("", h.Schedules.CreateSchedule)
	schedules.GET("/:id", h.Schedules.GetSchedule)
	schedules.PUT("/:id", h.Schedules.UpdateSchedule)
	schedules.DELETE("/:id", h.Schedules.DeleteSchedule)
	schedules.POST("/:id/assign", h.Schedules.AssignSchedule)
	schedules.POST("/:id/transition", h.Schedules.TransitionSchedule)
	schedules.POST("/:id/pause", h.Schedules.Pause)
	schedules.POST("/:id/resume", h.Schedules.Resume)
	schedules.POST("/:id/create-request", h.Schedules.CreateRequestFromSchedule)
	threadRoutes(schedules, h.ScheduleThreads)

	vendors := protected.Group("/vendors")
	vendors.GET("", h.Vendors.ListVendors)
	vendors.POST("", h.Vendors.CreateVendor)
	vendors.GET("/:id", h.Vendors.GetVendor)
	vendors.PUT("/:id", h.Vendors.UpdateVendor)
	vendors.DELETE("/:id", h.Vendors.DeleteVendor)

	notifications := protected.Group("/notifications")
	notifications.GET("", h.Notifications.ListNotifications)
	notifications.PUT("/read-all", h.Notifications.MarkAllRead)
	notifications.PUT("/:id/read", h.Notifications.MarkRead)

	protected.GET("/reports/properties/:id/requests", h.Reports.RequestSummary)

	audit := protected.Group("/audit-logs", middleware.RequireRole(models.RoleAdmin))
	audit.GET("", h.AuditLogs.ListAuditLogs)
	audit.GET("/:id", h.AuditLogs.GetAuditLog)
	audit.GET("/resources/:resource/:id", h.AuditLogs.GetEntityHistory)
}

func threadRoutes(g *echo.Group, h *ThreadHandlers) {
	g.GET("/:id/comments", h.ListComments)
	g.POST("/:id/comments", h.AddComment)
	g.GET("/:id/media", h.ListMedia)
	g.POST("/:id/media", h.UploadMedia)
	g.DELETE("/:id/media/:mediaId", h.DeleteMedia)
	g.POST("/:id/public-link", h.EnablePublicLink)
	g.DELETE("/:id/public-link", h.DisablePublicLink)
}
