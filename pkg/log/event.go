package log

import (
	"time"
)

// Subsystem identifies which part of the service emitted an event.
type Subsystem uint8

const (
	// SubsystemRegistry is the subscription registry.
	SubsystemRegistry Subsystem = 0
	// SubsystemDispatch is the fan-out dispatcher.
	SubsystemDispatch Subsystem = 1
	// SubsystemSession is the observer connection lifecycle.
	SubsystemSession Subsystem = 2
	// SubsystemNotifier is the change notification adapter.
	SubsystemNotifier Subsystem = 3
	// SubsystemStore is the reading store.
	SubsystemStore Subsystem = 4
	// SubsystemIngest is the MQTT ingest bridge.
	SubsystemIngest Subsystem = 5
	// SubsystemAPI is the HTTP surface.
	SubsystemAPI Subsystem = 6
)

// String returns the subsystem name.
func (s Subsystem) String() string {
	switch s {
	case SubsystemRegistry:
		return "REGISTRY"
	case SubsystemDispatch:
		return "DISPATCH"
	case SubsystemSession:
		return "SESSION"
	case SubsystemNotifier:
		return "NOTIFIER"
	case SubsystemStore:
		return "STORE"
	case SubsystemIngest:
		return "INGEST"
	case SubsystemAPI:
		return "API"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryState indicates a lifecycle or state change.
	CategoryState Category = 0
	// CategoryDelivery indicates a fan-out delivery action.
	CategoryDelivery Category = 1
	// CategoryError indicates a failure.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryDelivery:
		return "DELIVERY"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is a single structured service event.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time

	// Subsystem that emitted the event.
	Subsystem Subsystem

	// Category classifies the event.
	Category Category

	// Message is a short fixed description, e.g. "observer registered".
	Message string

	// ConnectionID identifies the observer connection, when relevant.
	ConnectionID string

	// DeviceID identifies the device stream, when relevant.
	DeviceID string

	// Err carries the failure for CategoryError events.
	Err error
}

// NewEvent creates an event stamped with the current time.
func NewEvent(sub Subsystem, cat Category, msg string) Event {
	return Event{
		Timestamp: time.Now(),
		Subsystem: sub,
		Category:  cat,
		Message:   msg,
	}
}

// WithConn returns a copy of the event carrying a connection id.
func (e Event) WithConn(connID string) Event {
	e.ConnectionID = connID
	return e
}

// WithDevice returns a copy of the event carrying a device id.
func (e Event) WithDevice(deviceID string) Event {
	e.DeviceID = deviceID
	return e
}

// WithError returns a copy of the event carrying an error.
func (e Event) WithError(err error) Event {
	e.Err = err
	return e
}
