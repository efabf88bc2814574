package model

import "time"

// Measurement is one timestamped reading from a device.
// Humidity and dew point are nil when the device did not report them.
type Measurement struct {
	MeasurementSK   int64           `json:"measurement_sk" gorm:"column:measurement_sk;primaryKey;autoIncrement"`
	UserID          int64           `json:"user_id" gorm:"column:user_id;not null;index"`
	DeviceID        string          `json:"device_id" gorm:"column:device_id;size:64;not null;index:idx_measurement_device_time"`
	DateTime        time.Time       `json:"measurement_date_time" gorm:"column:measurement_date_time;not null;index:idx_measurement_device_time"`
	Temperature     float64         `json:"measurement_temperature" gorm:"column:measurement_temperature"`
	Humidity        *float64        `json:"measurement_humidity" gorm:"column:measurement_humidity"`
	DewPoint        *float64        `json:"measurement_dew_point" gorm:"column:measurement_dew_point"`
	TemperatureUnit TemperatureUnit `json:"device_temperature_unit" gorm:"column:device_temperature_unit;size:16"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (Measurement) TableName() string { return TableMeasurement }

// InUnit returns a copy with temperature and dew point expressed in unit
func (m Measurement) InUnit(unit TemperatureUnit) Measurement {
	out := m
	out.Temperature = m.TemperatureUnit.Convert(m.Temperature, unit)
	if m.DewPoint != nil {
		dp := m.TemperatureUnit.Convert(*m.DewPoint, unit)
		out.DewPoint = &dp
	}
	if unit != "" {
		out.TemperatureUnit = unit
	}
	return out
}

// MeasurementInsert is the payload for appending a reading
type MeasurementInsert struct {
	UserID          int64           `json:"user_id"`
	DeviceID        string          `json:"device_id"`
	DateTime        time.Time       `json:"measurement_date_time"`
	Temperature     float64         `json:"measurement_temperature"`
	Humidity        *float64        `json:"measurement_humidity"`
	DewPoint        *float64        `json:"measurement_dew_point"`
	TemperatureUnit TemperatureUnit `json:"device_temperature_unit"`
}
