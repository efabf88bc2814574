package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemperatureUnit(t *testing.T) {
	for in, want := range map[string]TemperatureUnit{
		"C": Celsius, "celsius": Celsius, " Fahrenheit ": Fahrenheit, "f": Fahrenheit,
	} {
		got, err := ParseTemperatureUnit(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTemperatureUnit("Kelvin")
	assert.Error(t, err)
}

func TestUnknownUnitDoesNotFailList(t *testing.T) {
	var devices []Device
	err := json.Unmarshal([]byte(`[
		{"device_id":"AA:01","device_temperature_unit":"F"},
		{"device_id":"AA:02","device_temperature_unit":"Kelvin"},
		{"device_id":"AA:03","device_temperature_unit":"Celsius"}
	]`), &devices)

	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, Fahrenheit, devices[0].TemperatureUnit)
	assert.Equal(t, TemperatureUnit(""), devices[1].TemperatureUnit)
	assert.Equal(t, Celsius, devices[2].TemperatureUnit)

	// An unset unit passes values through unconverted
	assert.Equal(t, 21.5, devices[1].TemperatureUnit.Convert(21.5, Fahrenheit))
}

func TestUnitJSONRejectsNonStrings(t *testing.T) {
	var u TemperatureUnit
	assert.Error(t, json.Unmarshal([]byte(`42`), &u))
}

func TestUnitScan(t *testing.T) {
	var u TemperatureUnit

	require.NoError(t, u.Scan([]byte("C")))
	assert.Equal(t, Celsius, u)
	require.NoError(t, u.Scan("Rankine"))
	assert.Equal(t, TemperatureUnit(""), u)
	require.NoError(t, u.Scan(nil))
	assert.Equal(t, TemperatureUnit(""), u)
	assert.Error(t, u.Scan(3.5))
}

func TestConvert(t *testing.T) {
	assert.InDelta(t, 68.0, Celsius.Convert(20, Fahrenheit), 1e-9)
	assert.InDelta(t, 20.0, Fahrenheit.Convert(68, Celsius), 1e-9)
	assert.Equal(t, 20.0, Celsius.Convert(20, Celsius))
	assert.Equal(t, "°F", Fahrenheit.Symbol())
}
