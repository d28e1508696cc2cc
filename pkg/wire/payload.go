package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/airmesh/airmesh-go/pkg/model"
)

// ErrEmptyPayload is returned when an ingest payload carries no bytes.
var ErrEmptyPayload = errors.New("empty ingest payload")

// encMode is the CBOR encoder mode for ingest payloads.
// Deterministic encoding, RFC 3339 timestamps.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for ingest payloads.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient decoding for forward compatibility with newer firmware.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// ReadingPayload is the measurement body a device publishes. The device
// identifier is carried by the MQTT topic, not the payload.
type ReadingPayload struct {
	RecordedAt         time.Time `cbor:"recorded_at" json:"recorded_at"`
	CarbonMonoxidePPM  float64   `cbor:"carbon_monoxide_ppm" json:"carbon_monoxide_ppm"`
	TemperatureCelsius float64   `cbor:"temperature_celcius" json:"temperature_celcius"`
	PM1                float64   `cbor:"pm1_ug_m3" json:"pm1_ug_m3"`
	PM25               float64   `cbor:"pm2_5_ug_m3" json:"pm2_5_ug_m3"`
	PM4                float64   `cbor:"pm4_ug_m3" json:"pm4_ug_m3"`
	PM10               float64   `cbor:"pm10_ug_m3" json:"pm10_ug_m3"`
}

// Reading combines the payload with the device id from the topic.
func (p ReadingPayload) Reading(deviceID string) model.Reading {
	return model.Reading{
		DeviceID:           deviceID,
		RecordedAt:         p.RecordedAt,
		CarbonMonoxidePPM:  p.CarbonMonoxidePPM,
		TemperatureCelsius: p.TemperatureCelsius,
		PM1:                p.PM1,
		PM25:               p.PM25,
		PM4:                p.PM4,
		PM10:               p.PM10,
	}
}

// PayloadFromReading extracts the publishable measurement body.
func PayloadFromReading(r model.Reading) ReadingPayload {
	return ReadingPayload{
		RecordedAt:         r.RecordedAt,
		CarbonMonoxidePPM:  r.CarbonMonoxidePPM,
		TemperatureCelsius: r.TemperatureCelsius,
		PM1:                r.PM1,
		PM25:               r.PM25,
		PM4:                r.PM4,
		PM10:               r.PM10,
	}
}

// EncodePayloadCBOR encodes an ingest payload as CBOR.
func EncodePayloadCBOR(p ReadingPayload) ([]byte, error) {
	return encMode.Marshal(p)
}

// EncodePayloadJSON encodes an ingest payload as JSON.
func EncodePayloadJSON(p ReadingPayload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload decodes an ingest payload. JSON payloads start with '{'
// (CBOR maps never do); everything else is treated as CBOR.
func DecodePayload(data []byte) (ReadingPayload, error) {
	var p ReadingPayload
	if len(data) == 0 {
		return p, ErrEmptyPayload
	}

	if data[0] == '{' {
		if err := json.Unmarshal(data, &p); err != nil {
			return ReadingPayload{}, fmt.Errorf("decode JSON payload: %w", err)
		}
		return p, nil
	}

	if err := decMode.Unmarshal(data, &p); err != nil {
		return ReadingPayload{}, fmt.Errorf("decode CBOR payload: %w", err)
	}
	return p, nil
}
