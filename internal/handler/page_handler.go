package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ipimonitor/ipi-api/internal/controller"
	"github.com/ipimonitor/ipi-api/internal/middleware"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/recovery"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/service"
)

// Page names and landing paths
const (
	PageLogin             = "login"
	PageCreateAccount     = "create-account"
	PageResetPassword     = "reset-password"
	PageChangePassword    = "change-password"
	PageDashboard         = "dashboard"
	PageDeviceInformation = "device-information"
	PageChart             = "chart"
	PageNotFound          = "not-found"
	PageLogout            = "logout"

	afterLoginPath  = "/device-information"
	afterSignupPath = "/dashboard"
)

// PageView is the view model of a page route
type PageView struct {
	Page     string              `json:"page"`
	User     *model.UserResponse `json:"user,omitempty"`
	From     string              `json:"from,omitempty"`
	Redirect string              `json:"redirect,omitempty"`
	Message  string              `json:"message,omitempty"`
	Error    string              `json:"error,omitempty"`
	Data     interface{}         `json:"data,omitempty"`
}

// PageHandler serves the dashboard's page routes as JSON view models
type PageHandler struct {
	auth               *AuthHandler
	authService        *service.AuthService
	deviceService      *service.DeviceService
	measurementService *service.MeasurementService
}

func NewPageHandler(
	auth *AuthHandler,
	authService *service.AuthService,
	deviceService *service.DeviceService,
	measurementService *service.MeasurementService,
) *PageHandler {
	return &PageHandler{
		auth:               auth,
		authService:        authService,
		deviceService:      deviceService,
		measurementService: measurementService,
	}
}

// localPath keeps post-login redirects on this site
func localPath(from, fallback string) string {
	if !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") {
		return fallback
	}
	return from
}

func (h *PageHandler) user(c *gin.Context) *model.UserResponse {
	return h.authService.Session(middleware.State(c)).User
}

func (h *PageHandler) fail(c *gin.Context, page string, err error) {
	c.JSON(statusFor(err), PageView{Page: page, User: h.user(c), Error: remote.Message(err)})
}

// ==================== Public pages ====================

// Login shows the sign-in page, or sends a signed-in user where they were headed
func (h *PageHandler) Login(c *gin.Context) {
	from := localPath(c.Query("from"), afterLoginPath)
	if middleware.State(c) != nil {
		c.Redirect(http.StatusFound, from)
		return
	}
	c.JSON(http.StatusOK, PageView{Page: PageLogin, From: from})
}

func (h *PageHandler) SubmitLogin(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		c.JSON(signInStatus(err), PageView{Page: PageLogin, Error: remote.Message(err)})
		return
	}

	h.auth.setCookie(c, resp.Token, resp.ExpiresIn)
	c.JSON(http.StatusOK, PageView{
		Page:     PageLogin,
		User:     &resp.User,
		Redirect: localPath(c.Query("from"), afterLoginPath),
	})
}

func (h *PageHandler) CreateAccount(c *gin.Context) {
	if middleware.State(c) != nil {
		c.Redirect(http.StatusFound, localPath(c.Query("from"), afterSignupPath))
		return
	}
	c.JSON(http.StatusOK, PageView{Page: PageCreateAccount})
}

// SubmitCreateAccount creates the account and sends the user to sign in
func (h *PageHandler) SubmitCreateAccount(c *gin.Context) {
	var req model.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	resp, err := h.authService.Signup(c.Request.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		c.JSON(status, PageView{Page: PageCreateAccount, Error: remote.Message(err)})
		return
	}

	view := PageView{Page: PageCreateAccount, User: &resp.User, Message: resp.Message, Redirect: middleware.LoginPath}
	if resp.Token != "" {
		h.auth.setCookie(c, resp.Token, resp.ExpiresIn)
		view.Redirect = afterSignupPath
	}
	status := http.StatusCreated
	if resp.ProfileStatus == model.ProfileStatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, view)
}

func (h *PageHandler) ResetPassword(c *gin.Context) {
	c.JSON(http.StatusOK, PageView{Page: PageResetPassword, User: h.user(c)})
}

func (h *PageHandler) SubmitResetPassword(c *gin.Context) {
	var req model.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	if err := h.authService.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.fail(c, PageResetPassword, err)
		return
	}
	c.JSON(http.StatusOK, PageView{
		Page:     PageResetPassword,
		Message:  "Password reset email sent. Please check your inbox.",
		Redirect: middleware.LoginPath,
	})
}

// ChangePassword starts in the checking state: the reset tokens live in the
// URL fragment, which only the browser can hand to the handshake.
func (h *PageHandler) ChangePassword(c *gin.Context) {
	c.JSON(http.StatusOK, PageView{
		Page: PageChangePassword,
		User: h.user(c),
		Data: recovery.Result{State: recovery.Checking},
	})
}

func (h *PageHandler) Handshake(c *gin.Context) {
	var req model.RecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	h.auth.recover(c, req.URL)
}

func (h *PageHandler) SubmitChangePassword(c *gin.Context) {
	var req model.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), middleware.State(c), req); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		c.JSON(status, PageView{Page: PageChangePassword, Error: remote.Message(err)})
		return
	}
	c.JSON(http.StatusOK, PageView{
		Page:     PageChangePassword,
		Message:  "Password updated successfully",
		Redirect: middleware.LoginPath,
	})
}

// ConfirmLogout shows the sign-out page; signing out itself is a POST
func (h *PageHandler) ConfirmLogout(c *gin.Context) {
	c.JSON(http.StatusOK, PageView{Page: PageLogout, User: h.user(c)})
}

// Logout ends the session named by the token, live or not, and always
// lands on the login page
func (h *PageHandler) Logout(c *gin.Context) {
	if claims := middleware.Claims(c); claims != nil {
		if err := h.authService.Logout(c.Request.Context(), claims); err != nil {
			h.fail(c, PageLogin, err)
			return
		}
	}
	h.auth.clearCookie(c)
	c.Redirect(http.StatusFound, middleware.LoginPath)
}

// NotFound is the catch-all page
func (h *PageHandler) NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, PageView{Page: PageNotFound, Error: "Page not found", Redirect: "/"})
}

// ==================== Protected pages ====================

func (h *PageHandler) devicesPage(c *gin.Context, page string) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}

	if id := c.Query("device"); id != "" {
		if _, err := h.deviceService.Select(c.Request.Context(), state, profile.UserID, id); err != nil {
			h.fail(c, page, err)
			return
		}
	}

	s := h.deviceService.List(c.Request.Context(), state, profile.UserID)
	if s.Status != controller.StatusSuccess {
		h.fail(c, page, stateError(s))
		return
	}
	c.JSON(http.StatusOK, PageView{Page: page, User: h.user(c), Data: s.Data})
}

// Dashboard lists the devices with the restored selection
func (h *PageHandler) Dashboard(c *gin.Context) {
	h.devicesPage(c, PageDashboard)
}

// DeviceInformation shows the selected device; ?device= selects first
func (h *PageHandler) DeviceInformation(c *gin.Context) {
	h.devicesPage(c, PageDeviceInformation)
}

// Chart charts ?device= or the selected device
func (h *PageHandler) Chart(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var q model.ChartQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		invalidRequest(c, err)
		return
	}

	deviceID := c.Query("device")
	if deviceID == "" {
		selected, err := h.deviceService.Selection(c.Request.Context(), state, profile.UserID)
		if err != nil {
			h.fail(c, PageChart, err)
			return
		}
		if selected == nil {
			c.JSON(http.StatusOK, PageView{Page: PageChart, User: h.user(c), Message: "Select a device to see its chart"})
			return
		}
		deviceID = selected.DeviceID
	}

	s, err := h.measurementService.Chart(c.Request.Context(), state.Client(), profile.UserID, deviceID, q)
	if err != nil {
		h.fail(c, PageChart, err)
		return
	}
	if s.Status != controller.StatusSuccess {
		h.fail(c, PageChart, stateError(s))
		return
	}
	c.JSON(http.StatusOK, PageView{Page: PageChart, User: h.user(c), Data: s.Data})
}
