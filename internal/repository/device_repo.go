package repository

import (
	"context"
	"time"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
)

// DeviceRepository handles device rows. Every query is scoped to the owning user.
type DeviceRepository struct {
	client remote.DataClient
	now    func() time.Time
}

func NewDeviceRepository(client remote.DataClient) *DeviceRepository {
	return &DeviceRepository{client: client, now: time.Now}
}

func (r *DeviceRepository) owned(deviceID string, userID int64) remote.Query {
	return remote.From(model.TableDevice).Eq("device_id", deviceID).Eq("user_id", userID)
}

// ListByUser returns the user's devices, most recently uploaded first
func (r *DeviceRepository) ListByUser(ctx context.Context, userID int64) ([]model.Device, error) {
	var devices []model.Device
	q := remote.From(model.TableDevice).
		Eq("user_id", userID).
		OrderBy("device_last_uploaded", false)
	if err := r.client.Query(ctx, q, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// FindByID finds one of the user's devices
func (r *DeviceRepository) FindByID(ctx context.Context, deviceID string, userID int64) (*model.Device, error) {
	var devices []model.Device
	if err := r.client.Query(ctx, r.owned(deviceID, userID).WithLimit(1), &devices); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, remote.ErrNotFound
	}
	return &devices[0], nil
}

// Create registers a device
func (r *DeviceRepository) Create(ctx context.Context, in model.DeviceInsert) (*model.Device, error) {
	var devices []model.Device
	if err := r.client.Insert(ctx, model.TableDevice, []model.DeviceInsert{in}, &devices); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, remote.ErrNotFound
	}
	return &devices[0], nil
}

// Update applies a column patch to one device
func (r *DeviceRepository) Update(ctx context.Context, deviceID string, userID int64, patch map[string]interface{}) (*model.Device, error) {
	var devices []model.Device
	if err := r.client.Update(ctx, r.owned(deviceID, userID), patch, &devices); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, remote.ErrNotFound
	}
	return &devices[0], nil
}

// UpdateThresholds changes the alert thresholds that are set in t
func (r *DeviceRepository) UpdateThresholds(ctx context.Context, deviceID string, userID int64, t model.DeviceThresholds) (*model.Device, error) {
	return r.Update(ctx, deviceID, userID, t.Patch())
}

// UpdateBattery records a battery level together with the upload time
func (r *DeviceRepository) UpdateBattery(ctx context.Context, deviceID string, userID int64, level float64) (*model.Device, error) {
	return r.Update(ctx, deviceID, userID, map[string]interface{}{
		"device_battery":       level,
		"device_last_uploaded": r.now().UTC(),
	})
}

// TouchPolled stamps the last poll time
func (r *DeviceRepository) TouchPolled(ctx context.Context, deviceID string, userID int64) (*model.Device, error) {
	return r.Update(ctx, deviceID, userID, map[string]interface{}{
		"device_last_polled": r.now().UTC(),
	})
}

// Delete removes one device
func (r *DeviceRepository) Delete(ctx context.Context, deviceID string, userID int64) error {
	return r.client.Delete(ctx, r.owned(deviceID, userID))
}
