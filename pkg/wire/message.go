package wire

import (
	"encoding/json"
	"fmt"

	"github.com/airmesh/airmesh-go/pkg/model"
)

// Observer message types.
const (
	// TypeSnapshot is the initial historical window, sent once per
	// connection before any live update.
	TypeSnapshot = "snapshot"

	// TypeUpdate is a single live reading.
	TypeUpdate = "update"
)

// Message is a decoded observer message. Exactly one of Reading and
// Readings is populated, according to Type.
type Message struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"device_id"`
	Reading  *model.Reading  `json:"reading,omitempty"`
	Readings []model.Reading `json:"readings,omitempty"`
}

// snapshotMessage keeps the readings list present (possibly empty) in the
// encoded form, so observers can distinguish "no history" from a missing
// field.
type snapshotMessage struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"device_id"`
	Readings []model.Reading `json:"readings"`
}

type updateMessage struct {
	Type     string        `json:"type"`
	DeviceID string        `json:"device_id"`
	Reading  model.Reading `json:"reading"`
}

// EncodeSnapshot encodes the initial snapshot for an observer. Readings
// are expected oldest-first; a nil slice encodes as an empty list.
func EncodeSnapshot(deviceID string, readings []model.Reading) ([]byte, error) {
	if readings == nil {
		readings = []model.Reading{}
	}
	data, err := json.Marshal(snapshotMessage{
		Type:     TypeSnapshot,
		DeviceID: deviceID,
		Readings: readings,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// EncodeUpdate encodes a single live reading for an observer.
func EncodeUpdate(reading model.Reading) ([]byte, error) {
	data, err := json.Marshal(updateMessage{
		Type:     TypeUpdate,
		DeviceID: reading.DeviceID,
		Reading:  reading,
	})
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return data, nil
}

// DecodeMessage decodes an observer message. Used by observer clients and
// tests; the server only encodes.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode observer message: %w", err)
	}
	switch msg.Type {
	case TypeSnapshot, TypeUpdate:
		return msg, nil
	default:
		return Message{}, fmt.Errorf("unknown observer message type %q", msg.Type)
	}
}
