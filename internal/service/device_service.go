package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/ipimonitor/ipi-api/internal/controller"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/repository"
	"github.com/ipimonitor/ipi-api/internal/selection"
	"github.com/ipimonitor/ipi-api/internal/session"
)

const defaultInterval = 15 // minutes

var (
	ErrInvalidUnit       = errors.New("temperature unit must be Celsius or Fahrenheit")
	ErrInvalidThresholds = errors.New("low thresholds must not exceed high thresholds")
	ErrNothingToUpdate   = errors.New("no fields to update")
)

// DeviceService handles device business logic
type DeviceService struct {
	selections selection.Store
}

func NewDeviceService(selections selection.Store) *DeviceService {
	return &DeviceService{selections: selections}
}

// List loads the device screen once: the user's devices and the restored selection
func (s *DeviceService) List(ctx context.Context, state *session.State, userID int64) controller.State[controller.DevicesView] {
	dc := controller.NewDevicesController(ctx, state.Client(), state.Selection(s.selections))
	defer dc.Stop()
	return dc.Load(controller.DevicesFilter{UserID: userID})
}

func (s *DeviceService) Get(ctx context.Context, client remote.DataClient, deviceID string, userID int64) (*model.Device, error) {
	return repository.NewDeviceRepository(client).FindByID(ctx, deviceID, userID)
}

func parseUnit(raw string) (model.TemperatureUnit, error) {
	if strings.TrimSpace(raw) == "" {
		return model.Celsius, nil
	}
	unit, err := model.ParseTemperatureUnit(raw)
	if err != nil {
		return "", ErrInvalidUnit
	}
	return unit, nil
}

func validThresholds(d model.Device) bool {
	return d.LowTemperatureThreshold <= d.HighTemperatureThreshold &&
		d.LowHumidityThreshold <= d.HighHumidityThreshold &&
		d.LowDewPoint <= d.HighDewPoint
}

// Create registers a device for userID
func (s *DeviceService) Create(ctx context.Context, client remote.DataClient, userID int64, req model.CreateDeviceRequest) (*model.Device, error) {
	unit, err := parseUnit(req.TemperatureUnit)
	if err != nil {
		return nil, err
	}

	var candidate model.Device
	req.DeviceThresholds.Apply(&candidate)
	if !validThresholds(candidate) {
		return nil, ErrInvalidThresholds
	}

	interval := req.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	now := time.Now().UTC()
	return repository.NewDeviceRepository(client).Create(ctx, model.DeviceInsert{
		DeviceID:                 strings.TrimSpace(req.DeviceID),
		UserID:                   userID,
		DeviceName:               strings.TrimSpace(req.DeviceName),
		UserDeviceName:           req.UserDeviceName,
		Interval:                 interval,
		TemperatureUnit:          unit,
		Battery:                  100,
		LowTemperatureThreshold:  candidate.LowTemperatureThreshold,
		HighTemperatureThreshold: candidate.HighTemperatureThreshold,
		LowHumidityThreshold:     candidate.LowHumidityThreshold,
		HighHumidityThreshold:    candidate.HighHumidityThreshold,
		LowDewPoint:              candidate.LowDewPoint,
		HighDewPoint:             candidate.HighDewPoint,
		LastPolled:               now,
		LastUploaded:             now,
	})
}

// Update renames a device or changes its interval or unit
func (s *DeviceService) Update(ctx context.Context, client remote.DataClient, deviceID string, userID int64, req model.UpdateDeviceRequest) (*model.Device, error) {
	patch := map[string]interface{}{}
	if req.DeviceName != nil {
		patch["device_name"] = strings.TrimSpace(*req.DeviceName)
	}
	if req.UserDeviceName != nil {
		patch["user_device_name"] = strings.TrimSpace(*req.UserDeviceName)
	}
	if req.Interval != nil {
		patch["device_interval"] = *req.Interval
	}
	if req.TemperatureUnit != nil {
		unit, err := parseUnit(*req.TemperatureUnit)
		if err != nil {
			return nil, err
		}
		patch["device_temperature_unit"] = unit
	}
	if len(patch) == 0 {
		return nil, ErrNothingToUpdate
	}
	return repository.NewDeviceRepository(client).Update(ctx, deviceID, userID, patch)
}

// UpdateThresholds changes the given thresholds; the result must keep every low at or below its high
func (s *DeviceService) UpdateThresholds(ctx context.Context, client remote.DataClient, deviceID string, userID int64, t model.DeviceThresholds) (*model.Device, error) {
	repo := repository.NewDeviceRepository(client)
	current, err := repo.FindByID(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}
	merged := *current
	t.Apply(&merged)
	if !validThresholds(merged) {
		return nil, ErrInvalidThresholds
	}
	if len(t.Patch()) == 0 {
		return current, nil
	}
	return repo.UpdateThresholds(ctx, deviceID, userID, t)
}

func (s *DeviceService) UpdateBattery(ctx context.Context, client remote.DataClient, deviceID string, userID int64, level float64) (*model.Device, error) {
	return repository.NewDeviceRepository(client).UpdateBattery(ctx, deviceID, userID, level)
}

func (s *DeviceService) TouchPolled(ctx context.Context, client remote.DataClient, deviceID string, userID int64) (*model.Device, error) {
	return repository.NewDeviceRepository(client).TouchPolled(ctx, deviceID, userID)
}

// Delete removes a device and forgets it as the selection
func (s *DeviceService) Delete(ctx context.Context, state *session.State, deviceID string, userID int64) error {
	repo := repository.NewDeviceRepository(state.Client())
	if _, err := repo.FindByID(ctx, deviceID, userID); err != nil {
		return err
	}
	if err := repo.Delete(ctx, deviceID, userID); err != nil {
		return err
	}

	sel := state.Selection(s.selections)
	if stored, err := s.selections.Load(ctx, state.User().ID); err == nil && stored == deviceID {
		if err := sel.Clear(ctx); err != nil {
			log.Printf("⚠️  Failed to clear selection of deleted device %s: %v", deviceID, err)
		}
	}
	return nil
}

// Selection restores the selected device against the current device list
func (s *DeviceService) Selection(ctx context.Context, state *session.State, userID int64) (*model.Device, error) {
	devices, err := repository.NewDeviceRepository(state.Client()).ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return state.Selection(s.selections).Restore(ctx, devices)
}

// Select makes deviceID the selected device
func (s *DeviceService) Select(ctx context.Context, state *session.State, userID int64, deviceID string) (*model.Device, error) {
	devices, err := repository.NewDeviceRepository(state.Client()).ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return state.Selection(s.selections).Select(ctx, devices, deviceID)
}
