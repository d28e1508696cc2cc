package model

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors.
var (
	ErrMissingDeviceID  = errors.New("missing device id")
	ErrMissingTimestamp = errors.New("missing recorded timestamp")
)

// Reading is a single air-quality measurement reported by one device.
//
// The field set (and the wire spelling, including "temperature_celcius")
// matches the device firmware's reporting format and must not be changed
// without a firmware-side migration.
type Reading struct {
	// DeviceID identifies the reporting device. Opaque, case-sensitive.
	DeviceID string `json:"device_id"`

	// RecordedAt is when the device took the measurement.
	// Serialized as RFC 3339 UTC text on every wire surface.
	RecordedAt time.Time `json:"recorded_at"`

	// CarbonMonoxidePPM is the CO concentration in parts per million.
	CarbonMonoxidePPM float64 `json:"carbon_monoxide_ppm"`

	// TemperatureCelsius is the ambient temperature in degrees Celsius.
	TemperatureCelsius float64 `json:"temperature_celcius"`

	// Particulate matter concentrations in µg/m³ by particle size.
	PM1  float64 `json:"pm1_ug_m3"`
	PM25 float64 `json:"pm2_5_ug_m3"`
	PM4  float64 `json:"pm4_ug_m3"`
	PM10 float64 `json:"pm10_ug_m3"`
}

// Validate checks that the reading carries the identifying fields the
// store requires. Sensor values are not range-checked; devices report
// whatever they measure.
func (r *Reading) Validate() error {
	if r.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if r.RecordedAt.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}

// Normalize returns a copy of the reading with the timestamp converted to
// UTC and truncated to microsecond precision, matching what Postgres
// stores. Normalizing before insert keeps the value an observer receives
// from the live path byte-identical to one fetched from history.
func (r Reading) Normalize() Reading {
	r.RecordedAt = r.RecordedAt.UTC().Truncate(time.Microsecond)
	return r
}

// String returns a compact human-readable description for logs.
func (r Reading) String() string {
	return fmt.Sprintf("%s@%s co=%.2fppm temp=%.1f°C pm2.5=%.1fµg/m³",
		r.DeviceID, r.RecordedAt.UTC().Format(time.RFC3339), r.CarbonMonoxidePPM, r.TemperatureCelsius, r.PM25)
}
