package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ipimonitor/ipi-api/internal/controller"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/service"
)

// DeviceHandler handles device and selection endpoints
type DeviceHandler struct {
	authService   *service.AuthService
	deviceService *service.DeviceService
}

func NewDeviceHandler(authService *service.AuthService, deviceService *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{
		authService:   authService,
		deviceService: deviceService,
	}
}

// stateError turns a controller error state into an error for respondError
func stateError[T any](s controller.State[T]) error {
	if err := s.Err(); err != nil {
		return err
	}
	return errors.New(s.Error)
}

// ListDevices godoc
// @Summary List the user's devices with the restored selection
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Success 200 {object} controller.DevicesView
// @Router /devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}

	s := h.deviceService.List(c.Request.Context(), state, profile.UserID)
	if s.Status != controller.StatusSuccess {
		respondError(c, stateError(s))
		return
	}
	c.JSON(http.StatusOK, s.Data)
}

// CreateDevice godoc
// @Summary Register a device
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.CreateDeviceRequest true "Device"
// @Success 201 {object} model.Device
// @Failure 400 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Router /devices [post]
func (h *DeviceHandler) CreateDevice(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var req model.CreateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	device, err := h.deviceService.Create(c.Request.Context(), state.Client(), profile.UserID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, device)
}

// GetDevice godoc
// @Summary Get one device
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Success 200 {object} model.Device
// @Failure 404 {object} model.ErrorResponse
// @Router /devices/{id} [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}

	device, err := h.deviceService.Get(c.Request.Context(), state.Client(), c.Param("id"), profile.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// UpdateDevice godoc
// @Summary Rename a device or change its interval or unit
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Param body body model.UpdateDeviceRequest true "Fields to change"
// @Success 200 {object} model.Device
// @Failure 400 {object} model.ErrorResponse
// @Router /devices/{id} [patch]
func (h *DeviceHandler) UpdateDevice(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var req model.UpdateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	device, err := h.deviceService.Update(c.Request.Context(), state.Client(), c.Param("id"), profile.UserID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// DeleteDevice godoc
// @Summary Delete a device
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Success 200 {object} model.SuccessResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /devices/{id} [delete]
func (h *DeviceHandler) DeleteDevice(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}

	if err := h.deviceService.Delete(c.Request.Context(), state, c.Param("id"), profile.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Device deleted"})
}

// UpdateThresholds godoc
// @Summary Change alert thresholds; omitted fields keep their value
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Param body body model.DeviceThresholds true "Thresholds"
// @Success 200 {object} model.Device
// @Failure 400 {object} model.ErrorResponse
// @Router /devices/{id}/thresholds [put]
func (h *DeviceHandler) UpdateThresholds(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var req model.DeviceThresholds
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	device, err := h.deviceService.UpdateThresholds(c.Request.Context(), state.Client(), c.Param("id"), profile.UserID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// UpdateBattery godoc
// @Summary Report a battery level
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Param body body model.BatteryRequest true "Level 0-100"
// @Success 200 {object} model.Device
// @Failure 400 {object} model.ErrorResponse
// @Router /devices/{id}/battery [put]
func (h *DeviceHandler) UpdateBattery(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var req model.BatteryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	device, err := h.deviceService.UpdateBattery(c.Request.Context(), state.Client(), c.Param("id"), profile.UserID, *req.Level)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// TouchPolled godoc
// @Summary Stamp the device as polled now
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Success 200 {object} model.Device
// @Router /devices/{id}/polled [post]
func (h *DeviceHandler) TouchPolled(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}

	device, err := h.deviceService.TouchPolled(c.Request.Context(), state.Client(), c.Param("id"), profile.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// GetSelection godoc
// @Summary Get the selected device
// @Tags Selection
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SelectionResponse
// @Router /selection [get]
func (h *DeviceHandler) GetSelection(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}

	device, err := h.deviceService.Selection(c.Request.Context(), state, profile.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SelectionResponse{Selected: device})
}

// Select godoc
// @Summary Select a device
// @Tags Selection
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.SelectDeviceRequest true "Device"
// @Success 200 {object} model.SelectionResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /selection [put]
func (h *DeviceHandler) Select(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var req model.SelectDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	device, err := h.deviceService.Select(c.Request.Context(), state, profile.UserID, req.DeviceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SelectionResponse{Selected: device})
}
