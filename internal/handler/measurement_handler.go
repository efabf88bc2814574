package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ipimonitor/ipi-api/internal/controller"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/service"
)

// MeasurementHandler handles chart, reading and export endpoints
type MeasurementHandler struct {
	authService        *service.AuthService
	measurementService *service.MeasurementService
	exportService      *service.ExportService
}

func NewMeasurementHandler(
	authService *service.AuthService,
	measurementService *service.MeasurementService,
	exportService *service.ExportService,
) *MeasurementHandler {
	return &MeasurementHandler{
		authService:        authService,
		measurementService: measurementService,
		exportService:      exportService,
	}
}

type recentQuery struct {
	Hours int `form:"hours" binding:"omitempty,min=1,max=168"`
}

type retentionQuery struct {
	OlderThanDays int `form:"older_than_days"`
}

// Chart godoc
// @Summary Aggregated chart of a device
// @Description Without start and end the latest readings are charted. Dates without a time mean UTC midnight.
// @Tags Measurements
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Param start query string false "RFC3339 timestamp or YYYY-MM-DD"
// @Param end query string false "RFC3339 timestamp or YYYY-MM-DD"
// @Param limit query int false "Latest readings without a range (default 100)"
// @Param show query string false "Comma-separated series: temperature,humidity,dewPoint"
// @Success 200 {object} controller.ChartView
// @Failure 400 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /devices/{id}/chart [get]
func (h *MeasurementHandler) Chart(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var q model.ChartQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		invalidRequest(c, err)
		return
	}

	s, err := h.measurementService.Chart(c.Request.Context(), state.Client(), profile.UserID, c.Param("id"), q)
	if err != nil {
		respondError(c, err)
		return
	}
	if s.Status != controller.StatusSuccess {
		respondError(c, stateError(s))
		return
	}
	c.JSON(http.StatusOK, s.Data)
}

// ListMeasurements godoc
// @Summary Readings of a device, oldest first
// @Tags Measurements
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Param start query string false "RFC3339 timestamp or YYYY-MM-DD"
// @Param end query string false "RFC3339 timestamp or YYYY-MM-DD"
// @Param limit query int false "Latest readings without a range (default 100)"
// @Success 200 {array} model.Measurement
// @Router /devices/{id}/measurements [get]
func (h *MeasurementHandler) ListMeasurements(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var q model.ChartQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		invalidRequest(c, err)
		return
	}

	rows, err := h.measurementService.List(c.Request.Context(), state.Client(), profile.UserID, c.Param("id"), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// LatestMeasurement godoc
// @Summary Most recent reading of a device
// @Tags Measurements
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Success 200 {object} model.Measurement
// @Failure 404 {object} model.ErrorResponse
// @Router /devices/{id}/measurements/latest [get]
func (h *MeasurementHandler) LatestMeasurement(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}

	m, err := h.measurementService.Latest(c.Request.Context(), state.Client(), profile.UserID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// InsertMeasurements godoc
// @Summary Store one reading or an array of readings
// @Description Readings are checked against the device thresholds; breaches are mailed and pushed in the background
// @Tags Measurements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Param body body []model.MeasurementInput true "Reading(s)"
// @Success 201 {object} model.InsertResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /devices/{id}/measurements [post]
func (h *MeasurementHandler) InsertMeasurements(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var batch model.MeasurementBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		invalidRequest(c, err)
		return
	}

	resp, err := h.measurementService.Insert(c.Request.Context(), state.Client(), profile.UserID, c.Param("id"), batch, service.RecipientOf(state))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// SampleMeasurements godoc
// @Summary Fill a device with generated readings over the last 24 hours
// @Tags Measurements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Param body body model.SampleRequest false "Count (default 50)"
// @Success 201 {object} model.InsertResponse
// @Router /devices/{id}/measurements/sample [post]
func (h *MeasurementHandler) SampleMeasurements(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var req model.SampleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, err)
			return
		}
	}

	resp, err := h.measurementService.Sample(c.Request.Context(), state.Client(), profile.UserID, c.Param("id"), req.Count, service.RecipientOf(state))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ExportMeasurements godoc
// @Summary Export the chart of a device as CSV
// @Description With object storage configured the CSV is uploaded and a presigned URL is returned; otherwise the file is sent directly
// @Tags Measurements
// @Produce json
// @Produce text/csv
// @Security BearerAuth
// @Param id path string true "Device ID"
// @Param start query string false "RFC3339 timestamp or YYYY-MM-DD"
// @Param end query string false "RFC3339 timestamp or YYYY-MM-DD"
// @Param limit query int false "Latest readings without a range (default 100)"
// @Success 200 {object} model.ExportResponse
// @Router /devices/{id}/measurements/export [get]
func (h *MeasurementHandler) ExportMeasurements(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var q model.ChartQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		invalidRequest(c, err)
		return
	}

	export, err := h.exportService.Export(c.Request.Context(), state.Client(), profile.UserID, c.Param("id"), q)
	if err != nil {
		respondError(c, err)
		return
	}

	if export.URL != "" {
		c.JSON(http.StatusOK, model.ExportResponse{URL: export.URL, Key: export.Key, ExpiresAt: export.ExpiresAt})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Name))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", export.Data)
}

// RecentMeasurements godoc
// @Summary Readings of all the user's devices over the last hours
// @Tags Measurements
// @Produce json
// @Security BearerAuth
// @Param hours query int false "Window in hours (default 24)"
// @Success 200 {object} controller.MeasurementsView
// @Router /measurements/recent [get]
func (h *MeasurementHandler) RecentMeasurements(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var q recentQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		invalidRequest(c, err)
		return
	}

	s := h.measurementService.Recent(c.Request.Context(), state.Client(), profile.UserID, q.Hours)
	if s.Status != controller.StatusSuccess {
		respondError(c, stateError(s))
		return
	}
	c.JSON(http.StatusOK, s.Data)
}

// PurgeMeasurements godoc
// @Summary Delete the user's readings older than a number of days
// @Tags Measurements
// @Produce json
// @Security BearerAuth
// @Param older_than_days query int false "Days to keep (default from configuration)"
// @Success 200 {object} model.RetentionResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /measurements [delete]
func (h *MeasurementHandler) PurgeMeasurements(c *gin.Context) {
	state, profile, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var q retentionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		invalidRequest(c, err)
		return
	}

	cutoff, err := h.measurementService.Retention(c.Request.Context(), state.Client(), profile.UserID, q.OlderThanDays)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.RetentionResponse{Cutoff: cutoff})
}
