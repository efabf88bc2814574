package repository

import (
	"context"
	"time"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
)

const measurementTime = "measurement_date_time"

// MeasurementRepository handles measurement_data rows
type MeasurementRepository struct {
	client remote.DataClient
}

func NewMeasurementRepository(client remote.DataClient) *MeasurementRepository {
	return &MeasurementRepository{client: client}
}

func forDevice(deviceID string, userID int64) remote.Query {
	return remote.From(model.TableMeasurement).Eq("device_id", deviceID).Eq("user_id", userID)
}

// ListLatest returns up to limit readings, newest first
func (r *MeasurementRepository) ListLatest(ctx context.Context, deviceID string, userID int64, limit int) ([]model.Measurement, error) {
	var rows []model.Measurement
	q := forDevice(deviceID, userID).OrderBy(measurementTime, false).WithLimit(limit)
	if err := r.client.Query(ctx, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListRange returns readings with start <= time <= end, oldest first
func (r *MeasurementRepository) ListRange(ctx context.Context, deviceID string, userID int64, start, end time.Time) ([]model.Measurement, error) {
	var rows []model.Measurement
	q := forDevice(deviceID, userID).
		Gte(measurementTime, start).
		Lte(measurementTime, end).
		OrderBy(measurementTime, true)
	if err := r.client.Query(ctx, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Latest returns the newest reading of a device
func (r *MeasurementRepository) Latest(ctx context.Context, deviceID string, userID int64) (*model.Measurement, error) {
	rows, err := r.ListLatest(ctx, deviceID, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, remote.ErrNotFound
	}
	return &rows[0], nil
}

// Recent returns all of the user's readings since the given time, newest first
func (r *MeasurementRepository) Recent(ctx context.Context, userID int64, since time.Time) ([]model.Measurement, error) {
	var rows []model.Measurement
	q := remote.From(model.TableMeasurement).
		Eq("user_id", userID).
		Gte(measurementTime, since).
		OrderBy(measurementTime, false)
	if err := r.client.Query(ctx, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert appends readings and returns the stored rows
func (r *MeasurementRepository) Insert(ctx context.Context, in []model.MeasurementInsert) ([]model.Measurement, error) {
	if len(in) == 0 {
		return nil, nil
	}
	var rows []model.Measurement
	if err := r.client.Insert(ctx, model.TableMeasurement, in, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteOlderThan removes the user's readings taken before cutoff
func (r *MeasurementRepository) DeleteOlderThan(ctx context.Context, userID int64, cutoff time.Time) error {
	q := remote.From(model.TableMeasurement).Eq("user_id", userID).Lt(measurementTime, cutoff)
	return r.client.Delete(ctx, q)
}
