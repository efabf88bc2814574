package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ipimonitor/ipi-api/internal/middleware"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/repository"
)

// NotificationHandler registers the browser's push tokens for threshold alerts
type NotificationHandler struct {
	tokens *repository.PushTokenRepository
}

func NewNotificationHandler(tokens *repository.PushTokenRepository) *NotificationHandler {
	return &NotificationHandler{tokens: tokens}
}

func bindToken(c *gin.Context) (string, bool) {
	var req model.PushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return "", false
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Token is required"})
		return "", false
	}
	return token, true
}

// RegisterToken godoc
// @Summary Register an FCM token for alerts
// @Tags Notifications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.PushTokenRequest true "FCM registration token"
// @Success 201 {object} model.SuccessResponse
// @Router /notifications/tokens [post]
func (h *NotificationHandler) RegisterToken(c *gin.Context) {
	token, ok := bindToken(c)
	if !ok {
		return
	}

	if err := h.tokens.Add(c.Request.Context(), c.GetString(middleware.KeyAuthUser), token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model.SuccessResponse{Message: "Token registered"})
}

// RemoveToken godoc
// @Summary Stop sending alerts to an FCM token
// @Tags Notifications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.PushTokenRequest true "FCM registration token"
// @Success 200 {object} model.SuccessResponse
// @Router /notifications/tokens [delete]
func (h *NotificationHandler) RemoveToken(c *gin.Context) {
	token, ok := bindToken(c)
	if !ok {
		return
	}

	if err := h.tokens.Remove(c.Request.Context(), c.GetString(middleware.KeyAuthUser), token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Token removed"})
}
