package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// TemperatureUnit is the canonical unit a device reports in.
// Stored and serialized as "Celsius" or "Fahrenheit".
type TemperatureUnit string

const (
	Celsius    TemperatureUnit = "Celsius"
	Fahrenheit TemperatureUnit = "Fahrenheit"
)

// ParseTemperatureUnit accepts the short and long spellings found in device rows.
func ParseTemperatureUnit(s string) (TemperatureUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "celsius":
		return Celsius, nil
	case "f", "fahrenheit":
		return Fahrenheit, nil
	}
	return "", fmt.Errorf("unknown temperature unit %q", s)
}

// Symbol returns the short display form ("°C" / "°F").
func (u TemperatureUnit) Symbol() string {
	if u == Fahrenheit {
		return "°F"
	}
	return "°C"
}

// Convert converts v from u to the target unit. An unset source or target
// means the value is already in the caller's unit and is returned as is.
func (u TemperatureUnit) Convert(v float64, to TemperatureUnit) float64 {
	if u == "" || to == "" || u == to {
		return v
	}
	if u == Celsius && to == Fahrenheit {
		return v*9/5 + 32
	}
	return (v - 32) * 5 / 9
}

func (u TemperatureUnit) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(u))
}

// lenient parses a stored unit. A spelling nobody recognizes leaves the unit
// unset, so one odd row is shown unconverted instead of failing its whole list.
func lenient(s string) TemperatureUnit {
	if s == "" {
		return ""
	}
	parsed, err := ParseTemperatureUnit(s)
	if err != nil {
		log.Printf("⚠️  %v, showing values unconverted", err)
		return ""
	}
	return parsed
}

func (u *TemperatureUnit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*u = lenient(s)
	return nil
}

// Scan implements sql.Scanner so legacy "C" rows normalize on read.
func (u *TemperatureUnit) Scan(value interface{}) error {
	var s string
	switch v := value.(type) {
	case nil:
		*u = ""
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into TemperatureUnit", value)
	}
	*u = lenient(s)
	return nil
}

// Value implements driver.Valuer.
func (u TemperatureUnit) Value() (driver.Value, error) {
	return string(u), nil
}
