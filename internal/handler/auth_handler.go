package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ipimonitor/ipi-api/internal/middleware"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/recovery"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/service"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService  *service.AuthService
	secureCookie bool
}

func NewAuthHandler(authService *service.AuthService, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		secureCookie: secureCookie,
	}
}

// RecoveryResponse is the outcome of a reset-link handshake.
// Token is set when the handshake opened a new session.
type RecoveryResponse struct {
	recovery.Result
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"`
}

func (h *AuthHandler) setCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.CookieName, token, maxAge, "/", "", h.secureCookie, true)
}

func (h *AuthHandler) clearCookie(c *gin.Context) {
	h.setCookie(c, "", -1)
}

// signInStatus keeps validation failures at 400; everything the auth backend rejects is 401
func signInStatus(err error) int {
	if status := statusFor(err); status == http.StatusBadRequest {
		return status
	}
	return http.StatusUnauthorized
}

// Login godoc
// @Summary Sign in with email and password
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.LoginRequest true "Login request"
// @Success 200 {object} model.LoginResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		c.JSON(signInStatus(err), model.ErrorResponse{Error: remote.Message(err)})
		return
	}

	h.setCookie(c, resp.Token, resp.ExpiresIn)
	c.JSON(http.StatusOK, resp)
}

// Signup godoc
// @Summary Create an account
// @Description Answers 202 when the identity exists but its profile row is still pending
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.SignupRequest true "Signup request"
// @Success 201 {object} model.SignupResponse
// @Success 202 {object} model.SignupResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /auth/signup [post]
func (h *AuthHandler) Signup(c *gin.Context) {
	var req model.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	resp, err := h.authService.Signup(c.Request.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError && errors.As(err, new(*remote.Error)) {
			status = http.StatusBadRequest
		}
		c.JSON(status, model.ErrorResponse{Error: remote.Message(err)})
		return
	}

	if resp.Token != "" {
		h.setCookie(c, resp.Token, resp.ExpiresIn)
	}
	status := http.StatusCreated
	if resp.ProfileStatus == model.ProfileStatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

// ForgotPassword godoc
// @Summary Mail a password reset link
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.ForgotPasswordRequest true "Email"
// @Success 200 {object} model.SuccessResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req model.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	if err := h.authService.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Password reset email sent. Please check your inbox."})
}

// Recovery godoc
// @Summary Establish a session from a password reset link
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.RecoveryRequest true "Reset link as received"
// @Success 200 {object} RecoveryResponse
// @Failure 401 {object} RecoveryResponse
// @Router /auth/recovery [post]
func (h *AuthHandler) Recovery(c *gin.Context) {
	var req model.RecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	h.recover(c, req.URL)
}

func (h *AuthHandler) recover(c *gin.Context, rawURL string) {
	res, issued := h.authService.Recover(c.Request.Context(), middleware.State(c), rawURL)
	resp := RecoveryResponse{Result: res}
	if issued != nil {
		resp.Token, resp.ExpiresIn = issued.Token, issued.ExpiresIn
		h.setCookie(c, issued.Token, issued.ExpiresIn)
	}

	if res.State != recovery.Established {
		c.JSON(http.StatusUnauthorized, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout godoc
// @Summary End the session everywhere
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SuccessResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Authentication required"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims); err != nil {
		respondError(c, err)
		return
	}

	h.clearCookie(c)
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Logged out successfully"})
}

// ChangePassword godoc
// @Summary Set a new password for the signed-in user
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.ChangePasswordRequest true "New password"
// @Success 200 {object} model.SuccessResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /auth/password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req model.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), middleware.State(c), req); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError && errors.As(err, new(*remote.Error)) {
			status = http.StatusBadRequest
		}
		c.JSON(status, model.ErrorResponse{Error: remote.Message(err)})
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Password updated successfully"})
}

// Session godoc
// @Summary Report the auth state of the session
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SessionResponse
// @Router /auth/session [get]
func (h *AuthHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.authService.Session(middleware.State(c)))
}

// GetProfile godoc
// @Summary Get the signed-in user's profile
// @Tags Profile
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.UserResponse
// @Router /profile [get]
func (h *AuthHandler) GetProfile(c *gin.Context) {
	state, _, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.authService.Session(state).User)
}

// UpdateProfile godoc
// @Summary Change the profile names
// @Tags Profile
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.UpdateProfileRequest true "Names"
// @Success 200 {object} model.UserResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /profile [patch]
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req model.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	if req.FirstName == nil && req.LastName == nil {
		respondError(c, service.ErrNothingToUpdate)
		return
	}

	resp, err := h.authService.UpdateProfile(c.Request.Context(), middleware.State(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
