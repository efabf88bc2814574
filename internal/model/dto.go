package model

import (
	"encoding/json"
	"time"
)

// ========== Auth DTOs ==========

// Credential fields carry no binding tags: the handlers answer missing
// fields with the same messages the password policy uses.

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	FirstName       string `json:"first_name" binding:"max=100"`
	LastName        string `json:"last_name" binding:"max=100"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// RecoveryRequest carries the reset link exactly as the browser received it, fragment included
type RecoveryRequest struct {
	URL string `json:"url" binding:"required"`
}

type ChangePasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type UserResponse struct {
	AuthUser    string `json:"auth_user"`
	Email       string `json:"email"`
	UserID      int64  `json:"user_id,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresIn int          `json:"expires_in"` // seconds
	User      UserResponse `json:"user"`
}

// Profile reconciliation outcomes reported at sign-up
const (
	ProfileStatusCreated = "created"
	ProfileStatusPending = "pending"
)

type SignupResponse struct {
	Token         string       `json:"token,omitempty"`
	ExpiresIn     int          `json:"expires_in,omitempty"`
	User          UserResponse `json:"user"`
	ProfileStatus string       `json:"profile_status"`
	// ConfirmationRequired is set when the identity must confirm its email before signing in
	ConfirmationRequired bool   `json:"confirmation_required"`
	Message              string `json:"message,omitempty"`
}

type SessionResponse struct {
	Authenticated bool          `json:"authenticated"`
	Loading       bool          `json:"loading"`
	User          *UserResponse `json:"user,omitempty"`
}

type UpdateProfileRequest struct {
	FirstName *string `json:"first_name" binding:"omitempty,max=100"`
	LastName  *string `json:"last_name" binding:"omitempty,max=100"`
}

// ========== Device DTOs ==========

type CreateDeviceRequest struct {
	DeviceID        string  `json:"device_id" binding:"required,max=64"`
	DeviceName      string  `json:"device_name" binding:"required,max=100"`
	UserDeviceName  *string `json:"user_device_name" binding:"omitempty,max=100"`
	Interval        int     `json:"device_interval" binding:"omitempty,min=1"`
	TemperatureUnit string  `json:"device_temperature_unit"`
	DeviceThresholds
}

type UpdateDeviceRequest struct {
	DeviceName      *string `json:"device_name" binding:"omitempty,max=100"`
	UserDeviceName  *string `json:"user_device_name" binding:"omitempty,max=100"`
	Interval        *int    `json:"device_interval" binding:"omitempty,min=1"`
	TemperatureUnit *string `json:"device_temperature_unit"`
}

type BatteryRequest struct {
	Level *float64 `json:"level" binding:"required,gte=0,lte=100"`
}

type SelectDeviceRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

type SelectionResponse struct {
	Selected *Device `json:"selected"`
}

// ========== Measurement DTOs ==========

// MeasurementInput is one reading posted by a device or the UI.
// A missing time means now; a missing unit means the device's unit.
type MeasurementInput struct {
	DateTime        *time.Time `json:"measurement_date_time"`
	Temperature     *float64   `json:"measurement_temperature" binding:"required"`
	Humidity        *float64   `json:"measurement_humidity" binding:"omitempty,gte=0,lte=100"`
	DewPoint        *float64   `json:"measurement_dew_point"`
	TemperatureUnit string     `json:"device_temperature_unit"`
}

// MeasurementBatch accepts either a single reading or an array of readings
type MeasurementBatch []MeasurementInput

func (b *MeasurementBatch) UnmarshalJSON(data []byte) error {
	var many []MeasurementInput
	if err := json.Unmarshal(data, &many); err == nil {
		*b = many
		return nil
	}
	var one MeasurementInput
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*b = MeasurementBatch{one}
	return nil
}

type ChartQuery struct {
	Start string `form:"start"`
	End   string `form:"end"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=5000"`
	Show  string `form:"show"`
}

type SampleRequest struct {
	Count int `json:"count" binding:"omitempty,min=1,max=1000"`
}

type InsertResponse struct {
	Measurements []Measurement `json:"measurements"`
	Alerts       []Alert       `json:"alerts"`
}

type RetentionResponse struct {
	Cutoff time.Time `json:"cutoff"`
}

type ExportResponse struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ========== Notification DTOs ==========

type PushTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// Alert is one threshold breach of a reading
type Alert struct {
	DeviceID  string    `json:"device_id"`
	Metric    string    `json:"metric"`
	Bound     string    `json:"bound"` // "low" or "high"
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Unit      string    `json:"unit,omitempty"`
	At        time.Time `json:"at"`
}

// ========== WebSocket Event DTOs ==========

type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Server to browser event types
const (
	WSEventState   = "state"
	WSEventError   = "error"
	WSEventRevoked = "session_revoked"
)

// Live view screens
const (
	ScreenDevices      = "devices"
	ScreenChart        = "chart"
	ScreenMeasurements = "measurements"
)

// WSCommand is a browser to server message on the live view
type WSCommand struct {
	Type     string     `json:"type"` // "watch", "unwatch", "range", "toggle", "select", "refresh"
	Screen   string     `json:"screen"`
	DeviceID string     `json:"device_id,omitempty"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	Hours    int        `json:"hours,omitempty"`
	Series   string     `json:"series,omitempty"`
	Visible  bool       `json:"visible,omitempty"`
	Show     string     `json:"show,omitempty"`
}

// WSCommand types
const (
	WSCommandWatch   = "watch"
	WSCommandUnwatch = "unwatch"
	WSCommandRange   = "range"
	WSCommandToggle  = "toggle"
	WSCommandSelect  = "select"
	WSCommandRefresh = "refresh"
)

type ScreenState struct {
	Screen string      `json:"screen"`
	State  interface{} `json:"state"`
}

// ========== Common ==========

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
