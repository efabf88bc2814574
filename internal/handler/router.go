package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ipimonitor/ipi-api/internal/middleware"
)

// Routes holds every handler mounted on the router
type Routes struct {
	Auth          *middleware.Authenticator
	AuthHandler   *AuthHandler
	Pages         *PageHandler
	Devices       *DeviceHandler
	Measurements  *MeasurementHandler
	Notifications *NotificationHandler
	WS            *WSHandler
	Version       string
}

// Register mounts the page routes, the REST API and the live view on router
func (r Routes) Register(router *gin.Engine) {
	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "ipi-api",
			"time":    time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": r.Version})
	})

	// ==================== Page Routes ====================
	public := router.Group("")
	public.Use(r.Auth.Optional())
	{
		public.GET("/", r.Pages.Login)
		public.GET("/login", r.Pages.Login)
		public.POST("/login", r.Pages.SubmitLogin)
		public.GET("/create-account", r.Pages.CreateAccount)
		public.POST("/create-account", r.Pages.SubmitCreateAccount)
		public.GET("/reset-password", r.Pages.ResetPassword)
		public.POST("/reset-password", r.Pages.SubmitResetPassword)
		public.GET("/change-password", r.Pages.ChangePassword)
		public.POST("/change-password/handshake", r.Pages.Handshake)
		public.GET("/logout", r.Pages.ConfirmLogout)
	}
	router.POST("/change-password", r.Auth.RequireAPI(), r.Pages.SubmitChangePassword)
	// Logout only needs the token; the backend session may be gone already
	router.POST("/logout", r.Auth.OptionalToken(), r.Pages.Logout)

	pages := router.Group("")
	pages.Use(r.Auth.RequirePage())
	{
		pages.GET("/dashboard", r.Pages.Dashboard)
		pages.GET("/device-information", r.Pages.DeviceInformation)
		pages.GET("/chart", r.Pages.Chart)
	}

	router.NoRoute(r.Pages.NotFound)

	// ==================== API Routes ====================
	api := router.Group("/api/v1")
	{
		// Auth routes (public)
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", r.AuthHandler.Login)
			authGroup.POST("/signup", r.AuthHandler.Signup)
			authGroup.POST("/forgot-password", r.AuthHandler.ForgotPassword)
			authGroup.POST("/recovery", r.Auth.Optional(), r.AuthHandler.Recovery)
			authGroup.POST("/logout", r.Auth.RequireToken(), r.AuthHandler.Logout)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(r.Auth.RequireAPI())
		{
			// Auth
			protected.POST("/auth/password", r.AuthHandler.ChangePassword)
			protected.GET("/auth/session", r.AuthHandler.Session)
			protected.GET("/profile", r.AuthHandler.GetProfile)
			protected.PATCH("/profile", r.AuthHandler.UpdateProfile)

			// Devices
			protected.GET("/devices", r.Devices.ListDevices)
			protected.POST("/devices", r.Devices.CreateDevice)
			protected.GET("/devices/:id", r.Devices.GetDevice)
			protected.PATCH("/devices/:id", r.Devices.UpdateDevice)
			protected.DELETE("/devices/:id", r.Devices.DeleteDevice)
			protected.PUT("/devices/:id/thresholds", r.Devices.UpdateThresholds)
			protected.PUT("/devices/:id/battery", r.Devices.UpdateBattery)
			protected.POST("/devices/:id/polled", r.Devices.TouchPolled)

			// Selection
			protected.GET("/selection", r.Devices.GetSelection)
			protected.PUT("/selection", r.Devices.Select)

			// Measurements
			protected.GET("/devices/:id/chart", r.Measurements.Chart)
			protected.GET("/devices/:id/measurements", r.Measurements.ListMeasurements)
			protected.POST("/devices/:id/measurements", r.Measurements.InsertMeasurements)
			protected.GET("/devices/:id/measurements/latest", r.Measurements.LatestMeasurement)
			protected.POST("/devices/:id/measurements/sample", r.Measurements.SampleMeasurements)
			protected.GET("/devices/:id/measurements/export", r.Measurements.ExportMeasurements)
			protected.GET("/measurements/recent", r.Measurements.RecentMeasurements)
			protected.DELETE("/measurements", r.Measurements.PurgeMeasurements)

			// Notifications
			protected.POST("/notifications/tokens", r.Notifications.RegisterToken)
			protected.DELETE("/notifications/tokens", r.Notifications.RemoveToken)
		}
	}

	// WebSocket endpoint (auth via session cookie)
	if r.WS != nil {
		router.GET("/ws/live", r.Auth.RequireAPI(), r.WS.HandleWebSocket)
	}
}
