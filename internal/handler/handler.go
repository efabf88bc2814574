package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ipimonitor/ipi-api/internal/middleware"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/recovery"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/selection"
	"github.com/ipimonitor/ipi-api/internal/service"
	"github.com/ipimonitor/ipi-api/internal/session"
)

// Errors a user can fix by changing the request
var badRequest = []error{
	service.ErrLoginFieldsMissing,
	service.ErrEmailMissing,
	service.ErrFirstNameMissing,
	service.ErrLastNameMissing,
	service.ErrSignupEmailMissing,
	service.ErrPasswordMissing,
	service.ErrInvalidUnit,
	service.ErrInvalidThresholds,
	service.ErrNothingToUpdate,
	service.ErrInvalidBound,
	service.ErrIncompleteRange,
	service.ErrRangeOrder,
	service.ErrNoMeasurements,
	service.ErrInvalidRetention,
	recovery.ErrMissingFields,
	recovery.ErrPasswordMismatch,
	recovery.ErrWeakPassword,
}

// statusFor maps a service or backend error to its HTTP status
func statusFor(err error) int {
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	switch {
	case errors.Is(err, remote.ErrNotFound), errors.Is(err, selection.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, remote.ErrNoSession):
		return http.StatusUnauthorized
	case remote.IsUniqueViolation(err):
		return http.StatusConflict
	}

	var re *remote.Error
	if errors.As(err, &re) && re.Status >= 400 && re.Status < 500 {
		return re.Status
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), model.ErrorResponse{Error: remote.Message(err)})
}

func invalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
}

// currentUser returns the session of the request with its app_user row.
// It answers the request itself and returns ok=false when either is missing.
func currentUser(c *gin.Context, authService *service.AuthService) (*session.State, *model.AppUser, bool) {
	state := middleware.State(c)
	if state == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Authentication required"})
		return nil, nil, false
	}
	profile, err := authService.EnsureProfile(c.Request.Context(), state)
	if err != nil {
		respondError(c, err)
		return nil, nil, false
	}
	return state, profile, true
}
