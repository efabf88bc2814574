package model

import (
	"time"
)

// Device is a registered sensor unit owned by an AppUser.
// Column names follow the hosted schema, including its "threshhold" spelling.
type Device struct {
	DeviceID                 string          `json:"device_id" gorm:"column:device_id;primaryKey;size:64"`
	UserID                   int64           `json:"user_id" gorm:"column:user_id;not null;index"`
	DeviceName               string          `json:"device_name" gorm:"column:device_name;size:100;not null"`
	UserDeviceName           *string         `json:"user_device_name" gorm:"column:user_device_name;size:100"`
	Interval                 int             `json:"device_interval" gorm:"column:device_interval"`
	TemperatureUnit          TemperatureUnit `json:"device_temperature_unit" gorm:"column:device_temperature_unit;size:16"`
	Battery                  float64         `json:"device_battery" gorm:"column:device_battery"`
	LowTemperatureThreshold  float64         `json:"device_low_temperature_threshhold" gorm:"column:device_low_temperature_threshhold"`
	HighTemperatureThreshold float64         `json:"device_high_temperature_threshhold" gorm:"column:device_high_temperature_threshhold"`
	LowHumidityThreshold     float64         `json:"device_low_humidity_threshhold" gorm:"column:device_low_humidity_threshhold"`
	HighHumidityThreshold    float64         `json:"device_high_humidity_threshhold" gorm:"column:device_high_humidity_threshhold"`
	LowDewPoint              float64         `json:"device_low_dew_point" gorm:"column:device_low_dew_point"`
	HighDewPoint             float64         `json:"device_high_dew_point" gorm:"column:device_high_dew_point"`
	LastPolled               time.Time       `json:"device_last_polled" gorm:"column:device_last_polled"`
	LastUploaded             time.Time       `json:"device_last_uploaded" gorm:"column:device_last_uploaded;index"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

func (Device) TableName() string { return TableDevice }

// Label prefers the user's override name
func (d Device) Label() string {
	if d.UserDeviceName != nil && *d.UserDeviceName != "" {
		return *d.UserDeviceName
	}
	return d.DeviceName
}

// DeviceInsert is the payload for registering a device
type DeviceInsert struct {
	DeviceID                 string          `json:"device_id"`
	UserID                   int64           `json:"user_id"`
	DeviceName               string          `json:"device_name"`
	UserDeviceName           *string         `json:"user_device_name,omitempty"`
	Interval                 int             `json:"device_interval"`
	TemperatureUnit          TemperatureUnit `json:"device_temperature_unit"`
	Battery                  float64         `json:"device_battery"`
	LowTemperatureThreshold  float64         `json:"device_low_temperature_threshhold"`
	HighTemperatureThreshold float64         `json:"device_high_temperature_threshhold"`
	LowHumidityThreshold     float64         `json:"device_low_humidity_threshhold"`
	HighHumidityThreshold    float64         `json:"device_high_humidity_threshhold"`
	LowDewPoint              float64         `json:"device_low_dew_point"`
	HighDewPoint             float64         `json:"device_high_dew_point"`
	LastPolled               time.Time       `json:"device_last_polled"`
	LastUploaded             time.Time       `json:"device_last_uploaded"`
}

// DeviceThresholds is a partial threshold update; nil fields are left unchanged
type DeviceThresholds struct {
	LowTemperature  *float64 `json:"low_temperature"`
	HighTemperature *float64 `json:"high_temperature"`
	LowHumidity     *float64 `json:"low_humidity"`
	HighHumidity    *float64 `json:"high_humidity"`
	LowDewPoint     *float64 `json:"low_dew_point"`
	HighDewPoint    *float64 `json:"high_dew_point"`
}

// Patch returns the column patch for the set fields
func (t DeviceThresholds) Patch() map[string]interface{} {
	patch := map[string]interface{}{}
	set := func(col string, v *float64) {
		if v != nil {
			patch[col] = *v
		}
	}
	set("device_low_temperature_threshhold", t.LowTemperature)
	set("device_high_temperature_threshhold", t.HighTemperature)
	set("device_low_humidity_threshhold", t.LowHumidity)
	set("device_high_humidity_threshhold", t.HighHumidity)
	set("device_low_dew_point", t.LowDewPoint)
	set("device_high_dew_point", t.HighDewPoint)
	return patch
}

// Apply copies the set thresholds onto d
func (t DeviceThresholds) Apply(d *Device) {
	if t.LowTemperature != nil {
		d.LowTemperatureThreshold = *t.LowTemperature
	}
	if t.HighTemperature != nil {
		d.HighTemperatureThreshold = *t.HighTemperature
	}
	if t.LowHumidity != nil {
		d.LowHumidityThreshold = *t.LowHumidity
	}
	if t.HighHumidity != nil {
		d.HighHumidityThreshold = *t.HighHumidity
	}
	if t.LowDewPoint != nil {
		d.LowDewPoint = *t.LowDewPoint
	}
	if t.HighDewPoint != nil {
		d.HighDewPoint = *t.HighDewPoint
	}
}
