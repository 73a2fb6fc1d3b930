package handlers

import (
	"net/http"

	"fixit/internal/common"
	"fixit/internal/middleware"
	"fixit/internal/services"

	"github.com/labstack/echo/v4"
)

// AuthHandlers handles the credential flows. None of the bodies they read
// are ever logged.
type AuthHandlers struct {
	authService services.AuthService
}

func NewAuthHandlers(authService services.AuthService) *AuthHandlers {
	return &AuthHandlers{authService: authService}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// Register creates an account awaiting email verification
// @Summary Register
// @Tags auth
// @Accept json
// @Produce json
// @Param body body services.RegisterInput true "Registration"
// @Success 201 {object} common.Response
// @Failure 400 {object} common.ErrorResponse
// @Failure 409 {object} common.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandlers) Register(c echo.Context) error {
	var req services.RegisterInput
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.authService.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusCreated, "Registration received, check your email to verify the address", user)
}

// VerifyEmail consumes a verification token
// @Summary Verify email
// @Tags auth
// @Accept json
// @Produce json
// @Param body body TokenRequest true "Verification token"
// @Success 200 {object} common.Response
// @Failure 400 {object} common.ErrorResponse
// @Router /auth/verify-email [post]
func (h *AuthHandlers) VerifyEmail(c echo.Context) error {
	var req TokenRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Token == "" {
		req.Token = c.QueryParam("token")
	}
	user, err := h.authService.VerifyEmail(c.Request().Context(), req.Token)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Email verified", user)
}

// Login exchanges credentials for a token pair
// @Summary Login
// @Tags auth
// @Accept json
// @Produce json
// @Param body body LoginRequest true "Credentials"
// @Success 200 {object} common.Response
// @Failure 401 {object} common.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	tokens, err := h.authService.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Login successful", tokens)
}

// GoogleLogin signs in with a Google ID token
// @Summary Google login
// @Tags auth
// @Accept json
// @Produce json
// @Param body body services.GoogleLoginInput true "Google ID token"
// @Success 200 {object} common.Response
// @Failure 401 {object} common.ErrorResponse
// @Failure 404 {object} common.ErrorResponse
// @Router /auth/google-login [post]
func (h *AuthHandlers) GoogleLogin(c echo.Context) error {
	var req services.GoogleLoginInput
	if err := bind(c, &req); err != nil {
		return err
	}
	tokens, err := h.authService.GoogleLogin(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Login successful", tokens)
}

// Refresh rotates the refresh token
// @Summary Refresh session
// @Tags auth
// @Accept json
// @Produce json
// @Param body body RefreshRequest true "Refresh token"
// @Success 200 {object} common.Response
// @Failure 401 {object} common.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandlers) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	tokens, err := h.authService.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Token refreshed", tokens)
}

// Logout revokes the presented refresh token
// @Summary Logout
// @Tags auth
// @Accept json
// @Param body body RefreshRequest true "Refresh token"
// @Success 200 {object} common.Response
// @Router /auth/logout [post]
func (h *AuthHandlers) Logout(c echo.Context) error {
	var req RefreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.authService.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Logged out", nil)
}

// ForgotPassword always answers 200 so addresses cannot be probed
// @Summary Forgot password
// @Tags auth
// @Accept json
// @Param body body ForgotPasswordRequest true "Email"
// @Success 200 {object} common.Response
// @Router /auth/forgot-password [post]
func (h *AuthHandlers) ForgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.authService.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "If the account exists, a reset link has been sent", nil)
}

// ResetPassword sets a new password from a reset token
// @Summary Reset password
// @Tags auth
// @Accept json
// @Param body body ResetPasswordRequest true "Reset token and password"
// @Success 200 {object} common.Response
// @Failure 400 {object} common.ErrorResponse
// @Router /auth/reset-password [post]
func (h *AuthHandlers) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.authService.ResetPassword(c.Request().Context(), req.Token, req.Password); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Password has been reset", nil)
}

// ChangePassword
// @Summary Change password
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Param body body ChangePasswordRequest true "Old and new password"
// @Success 200 {object} common.Response
// @Failure 401 {object} common.ErrorResponse
// @Router /auth/change-password [post]
func (h *AuthHandlers) ChangePassword(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}
	var req ChangePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.authService.ChangePassword(c.Request().Context(), actor, req.OldPassword, req.NewPassword); err != nil {
		return err
	}
	return common.SendSuccess(c, http.StatusOK, "Password changed", nil)
}
